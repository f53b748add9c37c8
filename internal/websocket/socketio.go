package websocket

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bhandras/livecount/internal/logger"
	"github.com/bhandras/livecount/internal/protocol/wire"
	socket "github.com/zishang520/socket.io/clients/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"
)

// connectPollInterval is how often Connect checks the socket state while
// waiting for the handshake.
const connectPollInterval = 50 * time.Millisecond

// SocketIOClient is a Channel over Socket.IO.
type SocketIOClient struct {
	endpoint      string
	applicationID string
	tokens        TokenSource

	mu         sync.RWMutex
	socket     *socket.Socket
	handler    Handler
	connected  bool
	connectErr error
	closed     bool
	dropErr    error

	done     chan struct{}
	doneOnce sync.Once
	// inflight counts handler calls so Close can wait for them.
	inflight sync.WaitGroup
}

// NewSocketIOClient creates an unconnected Socket.IO channel.
func NewSocketIOClient(opts Options) *SocketIOClient {
	return &SocketIOClient{
		endpoint:      strings.TrimRight(opts.Endpoint, "/"),
		applicationID: opts.ApplicationID,
		tokens:        opts.Tokens,
		done:          make(chan struct{}),
	}
}

// AddCallback implements Channel.
func (c *SocketIOClient) AddCallback(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("nil handler")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handler != nil {
		return ErrCallbackRegistered
	}
	c.handler = handler
	return nil
}

// Connect implements Channel. It returns once the handshake completes, the
// server rejects it, or ctx is done.
func (c *SocketIOClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.socket != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	logger.Debugf("Connecting to Socket.IO: %s (path: %s)", c.endpoint, wire.SocketIOPath)

	opts := socket.DefaultOptions()
	opts.SetPath(wire.SocketIOPath)
	opts.SetTransports(types.NewSet(socket.Polling, socket.WebSocket))
	// A dropped connection ends the event sequence.
	opts.SetReconnection(false)
	opts.SetAuth(map[string]any{
		"token":         token(c.tokens),
		"applicationId": c.applicationID,
	})

	sock, err := socket.Connect(c.endpoint, opts)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	sock.On(types.EventName("connect"), func(args ...any) {
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		logger.Debugf("Socket.IO connected! ID: %s", sock.Id())
	})

	sock.On(types.EventName("disconnect"), func(args ...any) {
		reason := ""
		if len(args) > 0 {
			if r, ok := args[0].(string); ok {
				reason = r
			}
		}

		c.mu.Lock()
		c.connected = false
		requested := c.closed
		if !requested {
			c.closed = true
			c.dropErr = fmt.Errorf("connection lost: %s", reason)
		}
		c.mu.Unlock()
		c.finish()

		if !requested {
			logger.Warnf("Socket.IO disconnected, real-time updates stopped: %s", reason)
		}
	})

	sock.On(types.EventName("connect_error"), func(args ...any) {
		err := fmt.Errorf("connect error")
		if len(args) > 0 {
			err = fmt.Errorf("connect error: %v", args[0])
		}
		c.mu.Lock()
		c.connectErr = err
		c.mu.Unlock()
	})

	sock.On(types.EventName(wire.SocketIOEventNode), func(args ...any) {
		if len(args) == 0 {
			return
		}
		ev, err := decodeNodeEvent(args[0])
		if err != nil {
			logger.Warnf("Socket.IO event decode error: %v (type=%T)", err, args[0])
			return
		}
		c.deliver(ev)
	})

	c.mu.Lock()
	c.socket = sock
	c.mu.Unlock()

	ticker := time.NewTicker(connectPollInterval)
	defer ticker.Stop()
	for {
		if c.IsConnected() {
			return nil
		}
		c.mu.RLock()
		connectErr := c.connectErr
		c.mu.RUnlock()
		if connectErr != nil {
			return fmt.Errorf("failed to connect: %w", connectErr)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to connect: %w", ctx.Err())
		case <-c.done:
			if err := c.Err(); err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			return ErrClosed
		case <-ticker.C:
		}
	}
}

func (c *SocketIOClient) deliver(ev wire.NodeEvent) {
	c.mu.RLock()
	handler := c.handler
	if c.closed || handler == nil {
		c.mu.RUnlock()
		return
	}
	c.inflight.Add(1)
	c.mu.RUnlock()
	defer c.inflight.Done()
	handler(ev)
}

// Subscribe implements Channel. The server acknowledges with
// {"result": {...}} or {"error": "..."}.
func (c *SocketIOClient) Subscribe(ctx context.Context, contextIDs []string) error {
	if contextIDs == nil {
		contextIDs = []string{}
	}
	c.mu.RLock()
	sock := c.socket
	closed := c.closed
	c.mu.RUnlock()
	if sock == nil || closed {
		return ErrNotConnected
	}

	resultCh := make(chan map[string]any, 1)
	errCh := make(chan error, 1)
	sock.Emit(wire.SocketIOEventSubscribe, map[string]any{"contextIds": contextIDs}, func(args []any, err error) {
		if err != nil {
			errCh <- err
			return
		}
		if len(args) > 0 {
			if payload, ok := args[0].(map[string]any); ok {
				resultCh <- payload
				return
			}
		}
		resultCh <- nil
	})

	select {
	case res := <-resultCh:
		if msg, ok := res["error"].(string); ok && msg != "" {
			return fmt.Errorf("subscribe rejected: %s", msg)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("subscribe: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsConnected reports whether the handshake has completed.
func (c *SocketIOClient) IsConnected() bool {
	c.mu.RLock()
	sock := c.socket
	connected := c.connected
	c.mu.RUnlock()

	if connected {
		return true
	}
	return sock != nil && sock.Connected()
}

// Close implements Channel.
func (c *SocketIOClient) Close() error {
	c.mu.Lock()
	sock := c.socket
	c.socket = nil
	c.closed = true
	c.connected = false
	c.mu.Unlock()

	if sock != nil {
		sock.Disconnect()
	}
	c.finish()
	c.inflight.Wait()
	return nil
}

// Done implements Channel.
func (c *SocketIOClient) Done() <-chan struct{} {
	return c.done
}

// Err implements Channel.
func (c *SocketIOClient) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dropErr
}

func (c *SocketIOClient) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

func decodeNodeEvent(payload any) (wire.NodeEvent, error) {
	var ev wire.NodeEvent
	if err := decodeAny(payload, &ev); err != nil {
		return wire.NodeEvent{}, err
	}
	return ev, nil
}
