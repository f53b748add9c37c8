package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_PATH", "")
	t.Setenv("DEBUG", "")
	t.Setenv("LIVECOUNT_NODE_SECRET", "")

	_, err := Load(Overrides{})
	require.Error(t, err)

	t.Setenv("LIVECOUNT_NODE_SECRET", "s3cret")
	cfg, err := Load(Overrides{})
	require.NoError(t, err)
	require.Equal(t, ":2428", cfg.Addr)
	require.Equal(t, defaultDatabasePath, cfg.DatabasePath)
	require.False(t, cfg.Debug)
	require.Equal(t, time.Hour, cfg.AccessTTL)

	t.Setenv("PORT", "9000")
	t.Setenv("DEBUG", "1")
	cfg, err = Load(Overrides{})
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Addr)
	require.True(t, cfg.Debug)

	addr := "127.0.0.1:0"
	db := "/tmp/x.db"
	debug := false
	ttl := time.Second
	cfg, err = Load(Overrides{Addr: &addr, DatabasePath: &db, Debug: &debug, AccessTTL: &ttl})
	require.NoError(t, err)
	require.Equal(t, addr, cfg.Addr)
	require.Equal(t, db, cfg.DatabasePath)
	require.False(t, cfg.Debug)
	require.Equal(t, ttl, cfg.AccessTTL)

	t.Setenv("PORT", "eighty")
	_, err = Load(Overrides{})
	require.Error(t, err)
}
