// Package session supplies and validates the credentials the counter client
// needs, and refreshes the access token when the node rejects it.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingCredentials is returned when a required credential is absent.
// It is a terminal precondition failure: callers must not retry.
var ErrMissingCredentials = errors.New("missing credentials")

// Credentials are the opaque values issued by the node when a user logs in.
type Credentials struct {
	// Endpoint is the node base URL, e.g. http://localhost:2428.
	Endpoint string
	// ApplicationID identifies the installed application on the node.
	ApplicationID string
	// AccessToken authenticates requests.
	AccessToken string
	// RefreshToken obtains a new access token.
	RefreshToken string
	// ExecutorPublicKey identifies the caller inside a context. Optional.
	ExecutorPublicKey string
}

// Validate reports which required fields are missing, wrapped in
// ErrMissingCredentials.
func (c Credentials) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Endpoint) == "" {
		missing = append(missing, "endpoint")
	}
	if strings.TrimSpace(c.ApplicationID) == "" {
		missing = append(missing, "application id")
	}
	if strings.TrimSpace(c.AccessToken) == "" {
		missing = append(missing, "access token")
	}
	if strings.TrimSpace(c.RefreshToken) == "" {
		missing = append(missing, "refresh token")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}

// Valid is shorthand for Validate() == nil.
func (c Credentials) Valid() bool {
	return c.Validate() == nil
}

// TokenExpiresAt returns the exp claim of a JWT without verifying its
// signature. The node stays authoritative; this only drives proactive
// refresh.
func TokenExpiresAt(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// IsExpiringSoon reports whether a token is expired or expires within
// window. Tokens without a readable exp claim are treated as not expiring.
func IsExpiringSoon(token string, window time.Duration, now time.Time) (bool, error) {
	if strings.TrimSpace(token) == "" {
		return true, fmt.Errorf("token is empty")
	}
	exp, ok := TokenExpiresAt(token)
	if !ok {
		return false, nil
	}
	return exp.Sub(now) <= window, nil
}
