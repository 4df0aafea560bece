package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a Store backed by the account's hosted PostgreSQL database, so
// that quota consumption is shared across devices on the same account.
//
// Writes are last-writer-wins per month. Two devices deciding concurrently
// can each observe the old list and both approve a session; that race is an
// accepted approximation (the quota is abuse-resistance, not billing).
type Postgres struct {
	pool *pgxpool.Pool
}

// Compile-time interface assertion.
var _ Store = (*Postgres)(nil)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS premium_sessions (
	month       TEXT PRIMARY KEY,
	session_ids TEXT[] NOT NULL DEFAULT '{}',
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// NewPostgres connects to the database at dsn and ensures the quota table
// exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("quota: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("quota: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("quota: migrate: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Load returns the session ids stored for monthKey, most recent first.
func (p *Postgres) Load(ctx context.Context, monthKey string) ([]string, error) {
	var ids []string
	err := p.pool.QueryRow(ctx,
		`SELECT session_ids FROM premium_sessions WHERE month = $1`,
		monthKey).Scan(&ids)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("quota: load %s: %w", monthKey, err)
	}
	return ids, nil
}

// Save upserts the stored list for monthKey.
func (p *Postgres) Save(ctx context.Context, monthKey string, ids []string) error {
	ids = Truncate(ids)
	_, err := p.pool.Exec(ctx,
		`INSERT INTO premium_sessions (month, session_ids, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (month) DO UPDATE
		 SET session_ids = EXCLUDED.session_ids, updated_at = now()`,
		monthKey, ids)
	if err != nil {
		return fmt.Errorf("quota: save %s: %w", monthKey, err)
	}
	return nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
