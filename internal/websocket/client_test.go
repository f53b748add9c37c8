package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bhandras/livecount/internal/protocol/wire"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) AccessToken() string { return string(s) }

// fakeNode accepts one /ws connection, acknowledges subscribe requests and
// pushes whatever is sent on push.
type fakeNode struct {
	srv        *httptest.Server
	push       chan wire.NodeEvent
	subscribed chan []string
	authHeader chan string
	hangUp     chan struct{}
	reject     string
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	n := &fakeNode{
		push:       make(chan wire.NodeEvent, 16),
		subscribed: make(chan []string, 4),
		authHeader: make(chan string, 1),
		hangUp:     make(chan struct{}),
	}
	upgrader := gorillaws.Upgrader{}
	n.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != wsPath {
			http.NotFound(w, r)
			return
		}
		n.authHeader <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var writeMu sync.Mutex
		done := make(chan struct{})
		defer close(done)
		go func() {
			for {
				select {
				case <-done:
					return
				case <-n.hangUp:
					_ = conn.Close()
					return
				case ev := <-n.push:
					raw, _ := json.Marshal(ev)
					writeMu.Lock()
					_ = conn.WriteJSON(wire.WSResponse{Result: raw})
					writeMu.Unlock()
				}
			}
		}()

		for {
			var req wire.WSRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			id := req.ID
			resp := wire.WSResponse{ID: &id}
			if n.reject != "" {
				resp.Error = &wire.WSError{Type: "SubscribeError", Message: n.reject}
			} else {
				raw, _ := json.Marshal(req.Params)
				resp.Result = raw
				if req.Method == wire.WSMethodSubscribe {
					n.subscribed <- req.Params.ContextIDs
				}
			}
			writeMu.Lock()
			_ = conn.WriteJSON(resp)
			writeMu.Unlock()
		}
	}))
	t.Cleanup(n.srv.Close)
	return n
}

func counterEvent(t *testing.T, value string) wire.NodeEvent {
	t.Helper()
	ev, err := wire.NewExecutionEvent("ctx", "CountChanged", []byte(value))
	require.NoError(t, err)
	return ev
}

func TestClient_DeliversEventsInOrder(t *testing.T) {
	t.Parallel()

	node := newFakeNode(t)
	c := NewClient(Options{Endpoint: node.srv.URL, Tokens: staticToken("tok")})

	var mu sync.Mutex
	var got []string
	require.NoError(t, c.AddCallback(func(ev wire.NodeEvent) {
		codes, _ := ev.Events()[0].CharCodes()
		mu.Lock()
		got = append(got, string(rune(codes[0])))
		mu.Unlock()
	}))
	require.ErrorIs(t, c.AddCallback(func(wire.NodeEvent) {}), ErrCallbackRegistered)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	defer c.Close()
	require.Equal(t, "Bearer tok", <-node.authHeader)

	require.NoError(t, c.Subscribe(ctx, []string{"ctx"}))
	require.Equal(t, []string{"ctx"}, <-node.subscribed)

	for _, v := range []string{"1", "2", "3", "4"} {
		node.push <- counterEvent(t, v)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 4
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	require.Equal(t, []string{"1", "2", "3", "4"}, got)
	mu.Unlock()
}

func TestClient_EmptyContextIDIsTolerated(t *testing.T) {
	t.Parallel()

	node := newFakeNode(t)
	c := NewClient(Options{Endpoint: node.srv.URL})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	defer c.Close()

	require.NoError(t, c.Subscribe(ctx, []string{""}))
	require.Equal(t, []string{""}, <-node.subscribed)
	require.NoError(t, c.Unsubscribe(ctx, nil))
}

func TestClient_SubscribeRejected(t *testing.T) {
	t.Parallel()

	node := newFakeNode(t)
	node.reject = "unknown context"
	c := NewClient(Options{Endpoint: node.srv.URL})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	defer c.Close()

	err := c.Subscribe(ctx, []string{"ctx"})
	require.ErrorContains(t, err, "unknown context")
}

func TestClient_CloseStopsDelivery(t *testing.T) {
	t.Parallel()

	node := newFakeNode(t)
	c := NewClient(Options{Endpoint: node.srv.URL})

	var mu sync.Mutex
	count := 0
	require.NoError(t, c.AddCallback(func(wire.NodeEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Subscribe(ctx, []string{"ctx"}))

	node.push <- counterEvent(t, "1")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case <-c.Done():
		t.Fatal("done before close")
	default:
	}
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	<-c.Done()
	require.NoError(t, c.Err())

	node.push <- counterEvent(t, "2")
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	require.Equal(t, 1, count)
	mu.Unlock()

	require.ErrorIs(t, c.Subscribe(ctx, []string{"ctx"}), ErrNotConnected)
	require.ErrorIs(t, c.Connect(ctx), ErrClosed)
}

func TestClient_NodeHangUp(t *testing.T) {
	t.Parallel()

	node := newFakeNode(t)
	c := NewClient(Options{Endpoint: node.srv.URL})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Subscribe(ctx, []string{"ctx"}))

	close(node.hangUp)
	select {
	case <-c.Done():
	case <-ctx.Done():
		t.Fatal("connection end not reported")
	}
	require.Error(t, c.Err())
	require.ErrorIs(t, c.Subscribe(ctx, []string{"ctx"}), ErrNotConnected)
}

func TestClient_ConnectFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(Options{Endpoint: url})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.Error(t, c.Connect(ctx))
	require.ErrorIs(t, c.Subscribe(ctx, []string{"ctx"}), ErrNotConnected)
	require.NoError(t, c.Close())
}
