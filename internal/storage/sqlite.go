//go:build !mips64 && !mips64le && !ppc64 && !s390x

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO required)
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_kv_updated_at ON kv(updated_at);
`

// pruneEvery is the number of writes between expiry sweeps.
const pruneEvery = 100

// SQLiteStore implements Store using SQLite with WAL mode.
type SQLiteStore struct {
	db      *sql.DB
	ttl     time.Duration
	pruneMu sync.Mutex
	writes  int
	logger  *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path. Keys not
// written for longer than ttl are pruned; ttl <= 0 keeps everything.
func NewSQLiteStore(path string, ttl time.Duration, logger *slog.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite works best with single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	s := &SQLiteStore{
		db:     db,
		ttl:    ttl,
		logger: logger,
	}
	s.prune()
	return s, nil
}

// Get returns the value stored under key.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

// Set upserts value under key.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	s.maybePrune()
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) maybePrune() {
	s.pruneMu.Lock()
	s.writes++
	due := s.writes%pruneEvery == 0
	s.pruneMu.Unlock()

	if due {
		s.prune()
	}
}

// prune drops keys older than the TTL.
func (s *SQLiteStore) prune() {
	if s.ttl <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.ttl).UnixMilli()
	res, err := s.db.Exec(`DELETE FROM kv WHERE updated_at < ?`, cutoff)
	if err != nil {
		s.logger.Warn("failed to prune expired sessions", "err", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Debug("pruned expired sessions", "rows", n)
	}
}
