package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bhandras/livecount/internal/protocol/wire"
	"github.com/stretchr/testify/require"
)

func TestGuardRefresh_UpdatesTokens(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, refreshPath, r.URL.Path)

		var req wire.RefreshTokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "refresh", req.RefreshToken)

		_ = json.NewEncoder(w).Encode(wire.RefreshTokenResponse{
			Data: wire.TokenPair{AccessToken: "access-2", RefreshToken: "refresh-2"},
		})
	}))
	defer srv.Close()

	creds := validCredentials()
	creds.Endpoint = srv.URL + "/"
	g := NewGuard(creds)

	token, err := g.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-2", token)
	require.Equal(t, "access-2", g.AccessToken())
	require.Equal(t, "refresh-2", g.Credentials().RefreshToken)
	require.EqualValues(t, 1, calls.Load())
}

func TestGuardRefresh_SharesInFlightRequest(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		_ = json.NewEncoder(w).Encode(wire.RefreshTokenResponse{
			Data: wire.TokenPair{AccessToken: "shared", RefreshToken: "r"},
		})
	}))
	defer srv.Close()

	creds := validCredentials()
	creds.Endpoint = srv.URL
	g := NewGuard(creds)

	var wg sync.WaitGroup
	tokens := make([]string, 4)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := g.Refresh(context.Background())
			if err == nil {
				tokens[i] = tok
			}
		}(i)
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, calls.Load())
	for _, tok := range tokens {
		// Late arrivals that missed the in-flight window are throttled and
		// leave their slot empty.
		if tok != "" {
			require.Equal(t, "shared", tok)
		}
	}
}

func TestGuardRefresh_RejectedAndThrottled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(wire.ErrorResponse{Error: "refresh token expired"})
	}))
	defer srv.Close()

	creds := validCredentials()
	creds.Endpoint = srv.URL
	g := NewGuard(creds)

	_, err := g.Refresh(context.Background())
	require.ErrorContains(t, err, "refresh token expired")
	require.Equal(t, "access", g.AccessToken())

	_, err = g.Refresh(context.Background())
	require.ErrorIs(t, err, ErrRefreshThrottled)
}
