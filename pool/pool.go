// Package pool provides the bounded connection pool used for metadata
// lookups and change decoding. The dedicated replication connection is
// owned separately by the replication package and never drawn from this
// pool.
package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Pool wraps a pgxpool.Pool sized from configuration.
type Pool struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Open connects to dsn and sizes the pool to maxConns, pinging before
// returning so callers fail fast on bad connection parameters.
func Open(ctx context.Context, dsn string, maxConns int32, logger zerolog.Logger) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnLifetime = 30 * time.Minute

	pgxPool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pgxPool.Ping(ctx); err != nil {
		pgxPool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{
		Pool:   pgxPool,
		logger: logger.With().Str("component", "pool").Logger(),
	}, nil
}

// Acquire borrows a connection for the duration of fn and releases it
// afterward regardless of the returned error.
func (p *Pool) Acquire(ctx context.Context, fn func(conn *pgxpool.Conn) error) error {
	conn, err := p.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()
	return fn(conn)
}

// Close closes every connection in the pool.
func (p *Pool) Close() {
	p.Pool.Close()
}
