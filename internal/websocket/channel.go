// Package websocket implements the push channel that delivers node change
// events to the counter client.
//
// Two transports satisfy Channel: a plain WebSocket client speaking the
// node's subscribe protocol on /ws, and a Socket.IO client.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bhandras/livecount/internal/protocol/wire"
)

// Transport selects a Channel implementation.
type Transport string

const (
	// TransportWebSocket is the plain WebSocket transport (default).
	TransportWebSocket Transport = "ws"
	// TransportSocketIO is the Socket.IO transport.
	TransportSocketIO Transport = "socketio"
)

// ParseTransport validates a transport name. Empty selects the default.
func ParseTransport(raw string) (Transport, error) {
	switch Transport(strings.ToLower(strings.TrimSpace(raw))) {
	case "", TransportWebSocket:
		return TransportWebSocket, nil
	case TransportSocketIO:
		return TransportSocketIO, nil
	default:
		return "", fmt.Errorf("invalid transport %q (expected ws or socketio)", raw)
	}
}

var (
	// ErrCallbackRegistered is returned by AddCallback when a handler is
	// already registered.
	ErrCallbackRegistered = errors.New("event callback already registered")
	// ErrNotConnected is returned when a request is made before Connect or
	// after Close.
	ErrNotConnected = errors.New("not connected")
	// ErrClosed is returned by requests interrupted by Close.
	ErrClosed = errors.New("channel closed")
)

// Handler consumes one change event.
type Handler func(ev wire.NodeEvent)

// Channel is a subscription to node change events.
//
// The sequence of events is unbounded and not restartable: once the
// connection drops, no further events are delivered.
type Channel interface {
	// Connect establishes the persistent connection.
	Connect(ctx context.Context) error
	// Subscribe registers interest in the given contexts. An empty id is
	// sent as is; it matches no context.
	Subscribe(ctx context.Context, contextIDs []string) error
	// AddCallback registers the single event handler. Events are delivered
	// in arrival order from one goroutine.
	AddCallback(handler Handler) error
	// Close tears the connection down. It must not be called from inside the
	// handler. After Close returns, the handler is not invoked again.
	Close() error
	// Done is closed once the connection has ended, through Close or because
	// the node dropped it.
	Done() <-chan struct{}
	// Err reports why the connection ended. It is nil while the connection
	// is live and after a requested Close.
	Err() error
}

// TokenSource provides the bearer token used when connecting.
type TokenSource interface {
	AccessToken() string
}

// Options configures a Channel.
type Options struct {
	// Endpoint is the node base URL (http or https).
	Endpoint string
	// ApplicationID is sent in the Socket.IO handshake.
	ApplicationID string
	// Tokens supplies the bearer token. May be nil.
	Tokens TokenSource
}

// New returns a Channel for the given transport.
func New(transport Transport, opts Options) (Channel, error) {
	switch transport {
	case "", TransportWebSocket:
		return NewClient(opts), nil
	case TransportSocketIO:
		return NewSocketIOClient(opts), nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", transport)
	}
}

// wsURL converts an http(s) endpoint into the ws(s) URL of path.
func wsURL(endpoint, path string) (string, error) {
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}

// decodeAny converts a loosely typed payload (as produced by Socket.IO) into
// out via a JSON round trip.
func decodeAny(input any, out any) error {
	raw, err := json.Marshal(input)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func token(src TokenSource) string {
	if src == nil {
		return ""
	}
	return src.AccessToken()
}
