package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bhandras/livecount/internal/logger"
	"github.com/bhandras/livecount/internal/protocol/wire"
	gorillaws "github.com/gorilla/websocket"
)

const (
	// wsPath is the node subscription endpoint.
	wsPath = "/ws"
	// writeTimeout bounds a single frame write.
	writeTimeout = 10 * time.Second
	// pingPeriod is how often the client pings an idle connection.
	pingPeriod = 30 * time.Second
	// handshakeTimeout bounds the WebSocket upgrade.
	handshakeTimeout = 10 * time.Second
)

// Client is a Channel over a plain WebSocket connection.
type Client struct {
	endpoint string
	tokens   TokenSource
	dialer   *gorillaws.Dialer

	mu      sync.Mutex
	conn    *gorillaws.Conn
	handler Handler
	nextID  uint64
	pending map[uint64]chan wire.WSResponse
	closed  bool
	dropErr error

	writeMu   sync.Mutex
	done      chan struct{}
	readDone  chan struct{}
	closeOnce sync.Once
	connOnce  sync.Once
	closeErr  error
}

// NewClient creates an unconnected WebSocket channel.
func NewClient(opts Options) *Client {
	return &Client{
		endpoint: opts.Endpoint,
		tokens:   opts.Tokens,
		dialer: &gorillaws.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		pending:  make(map[uint64]chan wire.WSResponse),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
}

// AddCallback implements Channel.
func (c *Client) AddCallback(handler Handler) error {
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

// Connect implements Channel.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	target, err := wsURL(c.endpoint, wsPath)
	if err != nil {
		return err
	}
	header := http.Header{}
	if tok := token(c.tokens); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}

	logger.Debugf("Connecting to %s", target)
	conn, resp, err := c.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect: %w (status %s)", err, resp.Status)
		}
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.pingLoop(conn)
	logger.Debugf("WebSocket connected: %s", target)
	return nil
}

// Subscribe implements Channel.
func (c *Client) Subscribe(ctx context.Context, contextIDs []string) error {
	return c.request(ctx, wire.WSMethodSubscribe, contextIDs)
}

// Unsubscribe withdraws interest in the given contexts.
func (c *Client) Unsubscribe(ctx context.Context, contextIDs []string) error {
	return c.request(ctx, wire.WSMethodUnsubscribe, contextIDs)
}

func (c *Client) request(ctx context.Context, method string, contextIDs []string) error {
	if contextIDs == nil {
		contextIDs = []string{}
	}

	c.mu.Lock()
	conn := c.conn
	if conn == nil || c.closed {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.nextID++
	id := c.nextID
	reply := make(chan wire.WSResponse, 1)
	c.pending[id] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	req := wire.WSRequest{
		ID:     id,
		Method: method,
		Params: wire.SubscribeParams{ContextIDs: contextIDs},
	}
	if err := c.writeJSON(conn, req); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	select {
	case resp := <-reply:
		if resp.Error != nil {
			return fmt.Errorf("%s rejected: %s", method, resp.Error.Message)
		}
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) writeJSON(conn *gorillaws.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

func (c *Client) readLoop(conn *gorillaws.Conn) {
	defer close(c.readDone)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				logger.Warnf("WebSocket read failed, real-time updates stopped: %v", err)
				c.drop(fmt.Errorf("connection lost: %w", err))
			}
			c.shutdown()
			return
		}
		logger.Tracef("WebSocket frame: %s", string(data))

		var frame wire.WSResponse
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Warnf("WebSocket frame decode error: %v", err)
			continue
		}
		if frame.ID != nil {
			c.mu.Lock()
			reply := c.pending[*frame.ID]
			c.mu.Unlock()
			if reply != nil {
				reply <- frame
			}
			continue
		}

		var ev wire.NodeEvent
		if err := json.Unmarshal(frame.Result, &ev); err != nil {
			logger.Warnf("WebSocket event decode error: %v", err)
			continue
		}

		c.mu.Lock()
		handler := c.handler
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		if handler == nil {
			logger.Tracef("Dropping event for %s: no callback registered", ev.ContextID)
			continue
		}
		handler(ev)
	}
}

func (c *Client) pingLoop(conn *gorillaws.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(gorillaws.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				logger.Debugf("WebSocket ping failed: %v", err)
				return
			}
		}
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// drop records the cause of an unrequested disconnect and shuts down.
func (c *Client) drop(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.dropErr = err
		c.mu.Unlock()
		close(c.done)
	})
}

// Done implements Channel.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err implements Channel.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropErr
}

// shutdown marks the client closed and releases waiters.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
}

// Close implements Channel.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	c.shutdown()

	if conn == nil {
		return nil
	}
	c.connOnce.Do(func() {
		c.writeMu.Lock()
		_ = conn.WriteControl(
			gorillaws.CloseMessage,
			gorillaws.FormatCloseMessage(gorillaws.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		c.closeErr = conn.Close()
		<-c.readDone
	})
	return c.closeErr
}
