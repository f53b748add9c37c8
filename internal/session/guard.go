package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bhandras/livecount/internal/logger"
	"github.com/bhandras/livecount/internal/protocol/wire"
)

const (
	// refreshPath is the node endpoint that exchanges a token pair.
	refreshPath = "/admin-api/refresh-jwt-token"
	// minRefreshInterval rate-limits refresh attempts after failures.
	minRefreshInterval = 5 * time.Second
	// defaultRefreshTimeout bounds a single refresh request.
	defaultRefreshTimeout = 10 * time.Second
)

// ErrRefreshThrottled is returned when a refresh was attempted too recently.
var ErrRefreshThrottled = errors.New("token refresh throttled")

// Guard owns the live credentials and serializes token refreshes.
type Guard struct {
	httpClient *http.Client
	now        func() time.Time

	mu            sync.Mutex
	creds         Credentials
	lastRefreshAt time.Time
	refreshing    chan struct{}
	refreshErr    error
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithHTTPClient overrides the client used for refresh requests.
func WithHTTPClient(c *http.Client) GuardOption {
	return func(g *Guard) { g.httpClient = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// NewGuard returns a Guard holding creds.
func NewGuard(creds Credentials, opts ...GuardOption) *Guard {
	creds.Endpoint = strings.TrimRight(creds.Endpoint, "/")
	g := &Guard{
		httpClient: &http.Client{Timeout: defaultRefreshTimeout},
		now:        time.Now,
		creds:      creds,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Credentials returns a snapshot of the current credentials.
func (g *Guard) Credentials() Credentials {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.creds
}

// AccessToken returns the current access token.
func (g *Guard) AccessToken() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.creds.AccessToken
}

// Check validates the credentials.
func (g *Guard) Check() error {
	return g.Credentials().Validate()
}

// Refresh exchanges the current token pair for a new one and returns the new
// access token. Concurrent callers share a single in-flight request.
func (g *Guard) Refresh(ctx context.Context) (string, error) {
	g.mu.Lock()
	if wait := g.refreshing; wait != nil {
		g.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.creds.AccessToken, g.refreshErr
	}
	if !g.lastRefreshAt.IsZero() && g.now().Sub(g.lastRefreshAt) < minRefreshInterval {
		g.mu.Unlock()
		return "", ErrRefreshThrottled
	}
	done := make(chan struct{})
	g.refreshing = done
	g.lastRefreshAt = g.now()
	creds := g.creds
	g.mu.Unlock()

	pair, err := g.requestRefresh(ctx, creds)

	g.mu.Lock()
	if err == nil {
		g.creds.AccessToken = pair.AccessToken
		g.creds.RefreshToken = pair.RefreshToken
	}
	g.refreshErr = err
	g.refreshing = nil
	token := g.creds.AccessToken
	g.mu.Unlock()
	close(done)

	if err != nil {
		logger.Warnf("Token refresh failed: %v", err)
		return "", err
	}
	logger.Debugf("Access token refreshed")
	return token, nil
}

func (g *Guard) requestRefresh(ctx context.Context, creds Credentials) (wire.TokenPair, error) {
	if creds.Endpoint == "" {
		return wire.TokenPair{}, fmt.Errorf("%w: endpoint", ErrMissingCredentials)
	}
	if creds.RefreshToken == "" {
		return wire.TokenPair{}, fmt.Errorf("%w: refresh token", ErrMissingCredentials)
	}

	body, err := json.Marshal(wire.RefreshTokenRequest{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
	})
	if err != nil {
		return wire.TokenPair{}, fmt.Errorf("marshal refresh request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, creds.Endpoint+refreshPath, bytes.NewReader(body))
	if err != nil {
		return wire.TokenPair{}, fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return wire.TokenPair{}, fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return wire.TokenPair{}, fmt.Errorf("read refresh response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp wire.ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return wire.TokenPair{}, fmt.Errorf("refresh rejected: %s", errResp.Error)
		}
		return wire.TokenPair{}, fmt.Errorf("refresh rejected: %s", resp.Status)
	}

	var out wire.RefreshTokenResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return wire.TokenPair{}, fmt.Errorf("parse refresh response: %w", err)
	}
	if out.Data.AccessToken == "" {
		return wire.TokenPair{}, fmt.Errorf("refresh response missing access token")
	}
	return out.Data, nil
}
