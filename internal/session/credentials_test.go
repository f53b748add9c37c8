package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func validCredentials() Credentials {
	return Credentials{
		Endpoint:      "http://node.local",
		ApplicationID: "app-1",
		AccessToken:   "access",
		RefreshToken:  "refresh",
	}
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: "user"}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

func TestValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, validCredentials().Validate())
	require.True(t, validCredentials().Valid())

	creds := validCredentials()
	creds.AccessToken = ""
	creds.Endpoint = "  "
	err := creds.Validate()
	require.ErrorIs(t, err, ErrMissingCredentials)
	require.Contains(t, err.Error(), "endpoint")
	require.Contains(t, err.Error(), "access token")
	require.NotContains(t, err.Error(), "refresh token")

	require.ErrorIs(t, Credentials{}.Validate(), ErrMissingCredentials)
}

func TestTokenExpiresAt(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	got, ok := TokenExpiresAt(signedToken(t, exp))
	require.True(t, ok)
	require.True(t, got.Equal(exp))

	_, ok = TokenExpiresAt(signedToken(t, time.Time{}))
	require.False(t, ok)

	_, ok = TokenExpiresAt("not-a-jwt")
	require.False(t, ok)
}

func TestIsExpiringSoon(t *testing.T) {
	t.Parallel()

	now := time.Now()
	soon, err := IsExpiringSoon(signedToken(t, now.Add(30*time.Second)), time.Minute, now)
	require.NoError(t, err)
	require.True(t, soon)

	soon, err = IsExpiringSoon(signedToken(t, now.Add(time.Hour)), time.Minute, now)
	require.NoError(t, err)
	require.False(t, soon)

	soon, err = IsExpiringSoon("opaque", time.Minute, now)
	require.NoError(t, err)
	require.False(t, soon)

	_, err = IsExpiringSoon("", time.Minute, now)
	require.Error(t, err)
}
