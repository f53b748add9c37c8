package sdk

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bhandras/livecount/internal/node"
	"github.com/bhandras/livecount/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	mu        sync.Mutex
	values    []int64
	errors    []string
	connected int
}

func (l *recordingListener) OnValue(count int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values = append(l.values, count)
}

func (l *recordingListener) OnError(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, message)
}

func (l *recordingListener) OnConnected() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected++
}

func (l *recordingListener) OnDisconnected(string) {}

func (l *recordingListener) last() (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.values) == 0 {
		return 0, false
	}
	return l.values[len(l.values)-1], true
}

func startNode(t *testing.T) (string, func(string) (string, string)) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := node.OpenStore(filepath.Join(t.TempDir(), "node.db"))
	require.NoError(t, err)
	n, err := node.New(&node.Config{
		Secret:         "sdk-test",
		AllowedOrigins: []string{"*"},
		AccessTTL:      time.Hour,
		RefreshTTL:     time.Hour,
	}, store)
	require.NoError(t, err)

	srv := httptest.NewServer(n.Handler())
	t.Cleanup(func() {
		n.Close()
		srv.Close()
		_ = store.Close()
	})

	issue := func(appID string) (string, string) {
		pair, err := n.IssueToken(appID)
		require.NoError(t, err)
		return pair.AccessToken, pair.RefreshToken
	}
	return srv.URL, issue
}

func TestClient_SyncsWithNode(t *testing.T) {
	t.Parallel()

	endpoint, issue := startNode(t)
	access, refresh := issue("app")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	l := &recordingListener{}
	c := NewClient(Config{
		Endpoint:      endpoint,
		ApplicationID: "app",
		ContextID:     "ctx",
		AccessToken:   access,
		RefreshToken:  refresh,
	})
	c.SetListener(l)
	require.NoError(t, c.Start(ctx))
	defer c.Close()

	count, known := c.Value()
	require.True(t, known)
	require.Equal(t, int64(0), count)

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.connected == 1
	}, 5*time.Second, 10*time.Millisecond)

	// A second client in the same context drives the first one through
	// pushed events only.
	other := NewClient(Config{
		Endpoint:      endpoint,
		ApplicationID: "app",
		ContextID:     "ctx",
		AccessToken:   access,
		RefreshToken:  refresh,
		GateEvents:    true,
	})
	require.NoError(t, other.Start(ctx))
	defer other.Close()
	require.NoError(t, other.Increment(ctx, 7))

	require.Eventually(t, func() bool {
		v, ok := l.last()
		return ok && v == 7
	}, 5*time.Second, 10*time.Millisecond)
	count, _ = c.Value()
	require.Equal(t, int64(7), count)

	require.NoError(t, c.Reset(ctx))
	count, known = c.Value()
	require.True(t, known)
	require.Equal(t, int64(0), count)

	require.Error(t, c.Increment(ctx, -1))
	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.errors) == 1
	}, 5*time.Second, 10*time.Millisecond)

	gotAccess, gotRefresh := c.Tokens()
	require.Equal(t, access, gotAccess)
	require.Equal(t, refresh, gotRefresh)
}

func TestClient_MissingCredentials(t *testing.T) {
	t.Parallel()

	endpoint, _ := startNode(t)
	c := NewClient(Config{Endpoint: endpoint, ContextID: "ctx"})
	defer c.Close()

	ctx := context.Background()
	err := c.Start(ctx)
	require.ErrorIs(t, err, session.ErrMissingCredentials)

	require.ErrorIs(t, c.Increment(ctx, 1), session.ErrMissingCredentials)
	require.ErrorIs(t, c.Refresh(ctx), session.ErrMissingCredentials)
	_, known := c.Value()
	require.False(t, known)
}

func TestClient_NotStarted(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{})
	require.ErrorIs(t, c.Increment(context.Background(), 1), ErrNotStarted)
	require.ErrorIs(t, c.Reset(context.Background()), ErrNotStarted)
	_, known := c.Value()
	require.False(t, known)
	require.NoError(t, c.Close())
}

func TestClient_InvalidTransport(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{Transport: "carrier-pigeon"})
	defer c.Close()
	require.Error(t, c.Start(context.Background()))
}
