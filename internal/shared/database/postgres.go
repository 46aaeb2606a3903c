package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres wraps a PostgreSQL connection pool
type Postgres struct {
	Pool *pgxpool.Pool
}

// NewPostgres creates a new PostgreSQL connection pool
func NewPostgres(connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	// Run records are small; a handful of connections covers API and worker.
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &Postgres{Pool: pool}, nil
}

// schema is applied idempotently at startup.
const schema = `
CREATE TABLE IF NOT EXISTS assembly_runs (
	id            TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	stage         TEXT NOT NULL DEFAULT 'init',
	percent       DOUBLE PRECISION NOT NULL DEFAULT 0,
	scene_count   INTEGER NOT NULL,
	request       JSONB NOT NULL,
	output_key    TEXT,
	duration      DOUBLE PRECISION,
	music_source  TEXT,
	warnings      JSONB,
	error_message TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS assembly_runs_created_at_idx ON assembly_runs (created_at DESC);
`

// EnsureSchema creates the run tables when they do not exist yet
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.Pool.Exec(ctx, schema)
	return err
}

// Close closes the connection pool
func (p *Postgres) Close() {
	p.Pool.Close()
}

// HealthCheck performs a health check on the database
func (p *Postgres) HealthCheck(ctx context.Context) error {
	return p.Pool.Ping(ctx)
}
