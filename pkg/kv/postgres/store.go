// Package postgres is a kv.Store backed by a single PostgreSQL table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/stormcast/stormcast-backend/pkg/kv"
)

// Store keeps values in kv_entries. Expired rows are invisible to reads and
// removed by a background sweep.
type Store struct {
	pool *pgxpool.Pool

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// Options configures New.
type Options struct {
	DSN           string
	MaxConns      int32
	SweepInterval time.Duration
	// SkipMigrate leaves schema management to cmd/migrate.
	SkipMigrate bool
}

// New connects, applies migrations and starts the expiry sweep.
func New(ctx context.Context, opts Options) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrapConnectionError(fmt.Errorf("postgres: ping: %w", err))
	}

	if !opts.SkipMigrate {
		db := stdlib.OpenDBFromPool(pool)
		err := Migrate(ctx, db)
		db.Close()
		if err != nil {
			pool.Close()
			return nil, err
		}
	}

	s := &Store{
		pool:      pool,
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	if opts.SweepInterval > 0 {
		go s.sweep(opts.SweepInterval)
	} else {
		close(s.sweepDone)
	}
	return s, nil
}

// IsConnectionError reports errors that should trigger failover. Errors the
// server answered with are not connection errors.
func IsConnectionError(err error) bool {
	if err == nil || errors.Is(err, pgx.ErrNoRows) || errors.Is(err, context.Canceled) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	return pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded)
}

func wrapConnectionError(err error) error {
	if IsConnectionError(err) {
		return fmt.Errorf("%w: %v", kv.ErrBackendUnavailable, err)
	}
	return err
}

func (s *Store) sweep(interval time.Duration) {
	defer close(s.sweepDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			_, _ = s.pool.Exec(ctx, `DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= NOW()`)
			cancel()
		case <-s.sweepStop:
			return
		}
	}
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error {
	var expiresAt *time.Time
	if d := kv.TTLOf(ttl); d > 0 {
		t := time.Now().Add(d)
		expiresAt = &t
	}

	const query = `
		INSERT INTO kv_entries (key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO UPDATE SET
			value      = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, key, value, expiresAt); err != nil {
		return wrapConnectionError(fmt.Errorf("postgres: set %s: %w", key, err))
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	const query = `
		SELECT value FROM kv_entries
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())`

	var value []byte
	if err := s.pool.QueryRow(ctx, query, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, kv.ErrNotFound
		}
		return nil, wrapConnectionError(fmt.Errorf("postgres: get %s: %w", key, err))
	}
	return value, nil
}

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	const query = `
		WITH deleted AS (
			DELETE FROM kv_entries WHERE key = ANY($1) RETURNING expires_at
		)
		SELECT COUNT(*) FROM deleted WHERE expires_at IS NULL OR expires_at > NOW()`

	var n int64
	if err := s.pool.QueryRow(ctx, query, keys).Scan(&n); err != nil {
		return 0, wrapConnectionError(fmt.Errorf("postgres: del: %w", err))
	}
	return n, nil
}

func (s *Store) Exists(ctx context.Context, keys ...string) (int64, error) {
	const query = `
		SELECT COUNT(*) FROM kv_entries
		WHERE key = ANY($1) AND (expires_at IS NULL OR expires_at > NOW())`

	var n int64
	if err := s.pool.QueryRow(ctx, query, keys).Scan(&n); err != nil {
		return 0, wrapConnectionError(fmt.Errorf("postgres: exists: %w", err))
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return wrapConnectionError(s.pool.Ping(ctx))
}

func (s *Store) Close() error {
	select {
	case <-s.sweepStop:
	default:
		close(s.sweepStop)
	}
	<-s.sweepDone
	s.pool.Close()
	return nil
}
