package node

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/bhandras/livecount/internal/protocol/wire"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenIssuer = "livecount-node"
	kindAccess  = "access"
	kindRefresh = "refresh"
)

// ErrTokenKind is returned when a refresh token is used as an access token or
// the reverse.
var ErrTokenKind = errors.New("wrong token kind")

// TokenClaims is the JWT payload.
type TokenClaims struct {
	ApplicationID string `json:"app"`
	Kind          string `json:"kind"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies EdDSA tokens derived from the node secret.
type TokenManager struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenManager derives the signing key from secret.
func NewTokenManager(secret string, accessTTL, refreshTTL time.Duration) (*TokenManager, error) {
	if secret == "" {
		return nil, fmt.Errorf("token secret is required")
	}
	seed := sha256.Sum256([]byte(secret))
	privateKey := ed25519.NewKeyFromSeed(seed[:])

	return &TokenManager{
		privateKey: privateKey,
		publicKey:  privateKey.Public().(ed25519.PublicKey),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

// Issue creates a token pair for a new user of applicationID.
func (m *TokenManager) Issue(applicationID string) (wire.TokenPair, error) {
	return m.issue(uuid.NewString(), applicationID)
}

func (m *TokenManager) issue(subject, applicationID string) (wire.TokenPair, error) {
	access, err := m.sign(subject, applicationID, kindAccess, m.accessTTL)
	if err != nil {
		return wire.TokenPair{}, err
	}
	refresh, err := m.sign(subject, applicationID, kindRefresh, m.refreshTTL)
	if err != nil {
		return wire.TokenPair{}, err
	}
	return wire.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (m *TokenManager) sign(subject, applicationID, kind string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := TokenClaims{
		ApplicationID: applicationID,
		Kind:          kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    tokenIssuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(m.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyAccess verifies an access token.
func (m *TokenManager) VerifyAccess(tokenString string) (*TokenClaims, error) {
	return m.verify(tokenString, kindAccess, true)
}

// Refresh exchanges a token pair for a new one. The access token may be
// expired but must carry a valid signature and the refresh token's subject.
func (m *TokenManager) Refresh(accessToken, refreshToken string) (wire.TokenPair, error) {
	refresh, err := m.verify(refreshToken, kindRefresh, true)
	if err != nil {
		return wire.TokenPair{}, fmt.Errorf("refresh token: %w", err)
	}
	access, err := m.verify(accessToken, kindAccess, false)
	if err != nil {
		return wire.TokenPair{}, fmt.Errorf("access token: %w", err)
	}
	if access.Subject != refresh.Subject {
		return wire.TokenPair{}, fmt.Errorf("token pair mismatch")
	}
	return m.issue(refresh.Subject, refresh.ApplicationID)
}

func (m *TokenManager) verify(tokenString, kind string, validate bool) (*TokenClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(m.now),
	}
	if !validate {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		return m.publicKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Kind != kind {
		return nil, ErrTokenKind
	}
	return claims, nil
}
