// Package store persists tokens, pools, positions, pool price samples, and
// ledger entries in PostgreSQL. All unbounded integers travel as decimal
// strings and live in NUMERIC(78,0) columns.
package store

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

// Store is the pgx-backed persistence layer.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New wraps an existing connection pool.
func New(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Connect dials PostgreSQL and verifies the connection.
func Connect(ctx context.Context, connString string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return New(pool, logger), nil
}

// EnsureSchema creates missing tables and indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("schema bootstrap failed: %w", err)
	}
	s.logger.Debug("database schema ensured")
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
