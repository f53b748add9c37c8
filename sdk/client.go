// Package sdk embeds a live counter in another Go program.
package sdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bhandras/livecount/internal/counter"
	"github.com/bhandras/livecount/internal/rpc"
	"github.com/bhandras/livecount/internal/session"
	"github.com/bhandras/livecount/internal/websocket"
)

const (
	// defaultHTTPTimeout is the per-request timeout of the RPC client.
	defaultHTTPTimeout = 15 * time.Second
	// defaultDispatcherQueueSize is the listener queue size.
	defaultDispatcherQueueSize = 256
)

// ErrNotStarted is returned by calls made before Start.
var ErrNotStarted = errors.New("client not started")

// Listener receives counter updates. Callbacks are delivered one at a time,
// in order, on a dedicated goroutine.
type Listener interface {
	// OnValue is called whenever the counter changes.
	OnValue(count int64)
	// OnError delivers user-visible call failures.
	OnError(message string)
	// OnConnected is called once the event subscription is live.
	OnConnected()
	// OnDisconnected is called when the event subscription fails.
	OnDisconnected(reason string)
}

// Config identifies the node, the context and the user.
type Config struct {
	Endpoint          string
	ApplicationID     string
	ContextID         string
	AccessToken       string
	RefreshToken      string
	ExecutorPublicKey string
	// Transport is "ws" (default) or "socketio".
	Transport string
	// GateEvents skips the event subscription without valid credentials.
	GateEvents bool
}

// Client is a counter kept in sync with the node.
type Client struct {
	cfg Config

	mu         sync.Mutex
	listener   Listener
	guard      *session.Guard
	reconciler *counter.Reconciler

	callbacks *dispatcher
}

// NewClient creates a client. Nothing is contacted until Start.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:       cfg,
		callbacks: newDispatcher(defaultDispatcherQueueSize),
	}
}

// SetListener registers the listener. Pass nil to stop receiving callbacks.
func (c *Client) SetListener(listener Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = listener
}

// Start validates the configuration, opens the event subscription and reads
// the initial value. Invalid credentials are reported as an error wrapping
// session.ErrMissingCredentials.
func (c *Client) Start(ctx context.Context) error {
	transport, err := websocket.ParseTransport(c.cfg.Transport)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.reconciler != nil {
		c.mu.Unlock()
		return fmt.Errorf("client already started")
	}
	creds := session.Credentials{
		Endpoint:          c.cfg.Endpoint,
		ApplicationID:     c.cfg.ApplicationID,
		AccessToken:       c.cfg.AccessToken,
		RefreshToken:      c.cfg.RefreshToken,
		ExecutorPublicKey: c.cfg.ExecutorPublicKey,
	}
	guard := session.NewGuard(creds)
	creds = guard.Credentials()

	api := rpc.NewClient(rpc.Config{
		Endpoint:          creds.Endpoint,
		ContextID:         c.cfg.ContextID,
		ExecutorPublicKey: creds.ExecutorPublicKey,
		Tokens:            guard,
		HTTPClient:        &http.Client{Timeout: defaultHTTPTimeout},
	})
	channel, err := websocket.New(transport, websocket.Options{
		Endpoint:      creds.Endpoint,
		ApplicationID: creds.ApplicationID,
		Tokens:        guard,
	})
	if err != nil {
		c.mu.Unlock()
		return err
	}

	r := counter.New(api, channel, counter.Options{
		GateEventsOnCredentials: c.cfg.GateEvents,
		Listener:                listenerBridge{c: c},
	})
	c.guard = guard
	c.reconciler = r
	c.mu.Unlock()

	return r.Activate(ctx, creds, c.cfg.ContextID)
}

// Increment adds amount to the counter and re-reads it.
func (c *Client) Increment(ctx context.Context, amount int64) error {
	r, err := c.started()
	if err != nil {
		return err
	}
	return r.Increment(ctx, amount)
}

// Reset sets the counter to zero and re-reads it.
func (c *Client) Reset(ctx context.Context) error {
	r, err := c.started()
	if err != nil {
		return err
	}
	return r.Reset(ctx)
}

// Refresh re-reads the counter.
func (c *Client) Refresh(ctx context.Context) error {
	r, err := c.started()
	if err != nil {
		return err
	}
	return r.Refresh(ctx)
}

// Value returns the current count. known is false before the first read.
func (c *Client) Value() (count int64, known bool) {
	r, err := c.started()
	if err != nil {
		return 0, false
	}
	v := r.Value()
	return v.Count, v.Known
}

// Tokens returns the current token pair, which changes after a refresh.
func (c *Client) Tokens() (accessToken, refreshToken string) {
	c.mu.Lock()
	guard := c.guard
	c.mu.Unlock()
	if guard == nil {
		return c.cfg.AccessToken, c.cfg.RefreshToken
	}
	creds := guard.Credentials()
	return creds.AccessToken, creds.RefreshToken
}

// Close tears down the subscription. Queued callbacks are delivered before
// Close returns.
func (c *Client) Close() error {
	c.mu.Lock()
	r := c.reconciler
	c.mu.Unlock()

	var err error
	if r != nil {
		err = r.Close()
	}
	c.callbacks.close()
	return err
}

func (c *Client) started() (*counter.Reconciler, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reconciler == nil {
		return nil, ErrNotStarted
	}
	return c.reconciler, nil
}

func (c *Client) emit(fn func(Listener)) {
	c.callbacks.do(func() {
		c.mu.Lock()
		l := c.listener
		c.mu.Unlock()
		if l != nil {
			fn(l)
		}
	})
}

// listenerBridge moves reconciler callbacks off the actor loop.
type listenerBridge struct {
	c *Client
}

func (b listenerBridge) OnValue(v counter.Value) {
	if !v.Known {
		return
	}
	b.c.emit(func(l Listener) { l.OnValue(v.Count) })
}

func (b listenerBridge) OnNotification(message string) {
	b.c.emit(func(l Listener) { l.OnError(message) })
}

func (b listenerBridge) OnChannel(connected bool, err error) {
	if connected {
		b.c.emit(func(l Listener) { l.OnConnected() })
		return
	}
	reason := "disconnected"
	if err != nil {
		reason = err.Error()
	}
	b.c.emit(func(l Listener) { l.OnDisconnected(reason) })
}
