package node

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	defaultPort         = 2428
	defaultAccessTTL    = time.Hour
	defaultRefreshTTL   = 30 * 24 * time.Hour
	defaultDatabasePath = "./livecount.db"
)

// Config holds development node configuration.
type Config struct {
	// Addr is the listen address.
	Addr         string
	DatabasePath string
	// Secret seeds the token signing key.
	Secret         string
	Debug          bool
	AllowedOrigins []string
	// AccessTTL and RefreshTTL bound issued tokens.
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Overrides optionally overrides values from environment variables.
//
// A nil pointer means "use the environment/default value".
type Overrides struct {
	Addr         *string
	DatabasePath *string
	Secret       *string
	Debug        *bool
	AccessTTL    *time.Duration
}

// Load loads node configuration from environment variables and applies any
// explicit overrides.
func Load(overrides Overrides) (*Config, error) {
	port := defaultPort
	if portStr := os.Getenv("PORT"); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", portStr, err)
		}
		port = p
	}
	addr := fmt.Sprintf(":%d", port)
	if overrides.Addr != nil {
		addr = *overrides.Addr
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = defaultDatabasePath
	}
	if overrides.DatabasePath != nil {
		dbPath = *overrides.DatabasePath
	}

	secret := os.Getenv("LIVECOUNT_NODE_SECRET")
	if overrides.Secret != nil {
		secret = *overrides.Secret
	}
	if secret == "" {
		return nil, fmt.Errorf("LIVECOUNT_NODE_SECRET environment variable is required")
	}

	debug := false
	if debugStr := os.Getenv("DEBUG"); debugStr == "true" || debugStr == "1" {
		debug = true
	}
	if overrides.Debug != nil {
		debug = *overrides.Debug
	}

	accessTTL := defaultAccessTTL
	if overrides.AccessTTL != nil {
		accessTTL = *overrides.AccessTTL
	}

	return &Config{
		Addr:           addr,
		DatabasePath:   dbPath,
		Secret:         secret,
		Debug:          debug,
		AllowedOrigins: []string{"*"},
		AccessTTL:      accessTTL,
		RefreshTTL:     defaultRefreshTTL,
	}, nil
}
