//go:build mips64 || mips64le || ppc64 || s390x

package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

var errSQLiteUnavailable = errors.New("SQLite storage not available")

// SQLiteStore is a stub for platforms the pure Go driver does not support.
type SQLiteStore struct{}

// NewSQLiteStore returns an error on unsupported platforms.
func NewSQLiteStore(path string, ttl time.Duration, logger *slog.Logger) (*SQLiteStore, error) {
	return nil, errors.New("SQLite storage is not supported on this platform, use memory or redis storage instead")
}

func (s *SQLiteStore) Get(context.Context, string) ([]byte, error) { return nil, errSQLiteUnavailable }
func (s *SQLiteStore) Set(context.Context, string, []byte) error   { return errSQLiteUnavailable }
func (s *SQLiteStore) Delete(context.Context, string) error        { return errSQLiteUnavailable }
func (s *SQLiteStore) Close() error                                { return nil }
