package node

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// migrations are applied in order and recorded in schema_migrations.
var migrations = []struct {
	version string
	sql     string
}{
	{
		version: "001_counters",
		sql: `
			CREATE TABLE IF NOT EXISTS counters (
				context_id TEXT PRIMARY KEY,
				value INTEGER NOT NULL DEFAULT 0,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			)
		`,
	},
}

// Store persists one counter per context.
type Store struct {
	db *sql.DB
}

// OpenStore opens the SQLite database and runs migrations.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check migration %s: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := db.Exec(m.sql); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", m.version, err)
		}
		if _, err := db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.version, err)
		}
	}
	return nil
}

// Get returns the counter of a context. Unknown contexts read as 0.
func (s *Store) Get(ctx context.Context, contextID string) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, "SELECT value FROM counters WHERE context_id = ?", contextID).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter: %w", err)
	}
	return value, nil
}

// Add adds delta to the counter and returns the new value.
func (s *Store) Add(ctx context.Context, contextID string, delta int64) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO counters (context_id, value) VALUES (?, ?)
		ON CONFLICT(context_id) DO UPDATE SET
			value = value + excluded.value,
			updated_at = CURRENT_TIMESTAMP
		RETURNING value
	`, contextID, delta).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("failed to update counter: %w", err)
	}
	return value, nil
}

// Reset sets the counter to 0.
func (s *Store) Reset(ctx context.Context, contextID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO counters (context_id, value) VALUES (?, 0)
		ON CONFLICT(context_id) DO UPDATE SET
			value = 0,
			updated_at = CURRENT_TIMESTAMP
	`, contextID)
	if err != nil {
		return fmt.Errorf("failed to reset counter: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
