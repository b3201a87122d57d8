package cache

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

// PostgresConfig holds connection settings for the optional L3 remote
// cache store.
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// PostgresLayer is an optional L3 remote cache backend, one row per key
// in a single table: open, configure pool limits, ping with a bounded
// timeout before returning.
type PostgresLayer struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresLayer opens a pooled connection and ensures the cache table
// exists.
func NewPostgresLayer(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*PostgresLayer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 2
	}
	lifetime := cfg.MaxLifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	const createTable = `
		CREATE TABLE IF NOT EXISTS nullvoid_cache (
			key        TEXT PRIMARY KEY,
			value      BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			ttl_nanos  BIGINT NOT NULL,
			hits       BIGINT NOT NULL DEFAULT 0
		)`
	if _, err := db.ExecContext(ctx, createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache table: %w", err)
	}

	logger.Info("L3 postgres cache connected")
	return &PostgresLayer{db: db, logger: logger.With("component", "cache-l3-postgres")}, nil
}

func (p *PostgresLayer) Name() string { return "l3-postgres" }

func (p *PostgresLayer) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var createdAt time.Time
	var ttlNanos int64

	row := p.db.QueryRowContext(ctx,
		`SELECT value, created_at, ttl_nanos FROM nullvoid_cache WHERE key = $1`, key)
	if err := row.Scan(&value, &createdAt, &ttlNanos); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("query cache entry: %w", err)
	}

	entry := Entry{CreatedAt: createdAt, TTL: time.Duration(ttlNanos)}
	if entry.Expired(time.Now()) {
		_, _ = p.db.ExecContext(ctx, `DELETE FROM nullvoid_cache WHERE key = $1`, key)
		return nil, false, nil
	}

	_, _ = p.db.ExecContext(ctx, `UPDATE nullvoid_cache SET hits = hits + 1 WHERE key = $1`, key)
	return value, true, nil
}

func (p *PostgresLayer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if value == nil {
		_, err := p.db.ExecContext(ctx, `DELETE FROM nullvoid_cache WHERE key = $1`, key)
		return err
	}

	const upsert = `
		INSERT INTO nullvoid_cache (key, value, created_at, ttl_nanos, hits)
		VALUES ($1, $2, $3, $4, 0)
		ON CONFLICT (key) DO UPDATE SET value = $2, created_at = $3, ttl_nanos = $4`
	_, err := p.db.ExecContext(ctx, upsert, key, value, time.Now(), int64(ttl))
	return err
}

// Close releases the underlying connection pool.
func (p *PostgresLayer) Close() error {
	return p.db.Close()
}
