package cache

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vmihailenco/msgpack/v5"
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS http_cache (
	key TEXT PRIMARY KEY,
	value BYTEA NOT NULL,
	stored_at TIMESTAMPTZ NOT NULL
)`

// PostgresBackend stores envelopes in the http_cache table
type PostgresBackend struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPostgresBackend creates the table if needed. The caller owns the pool.
func NewPostgresBackend(ctx context.Context, pool *pgxpool.Pool) (*PostgresBackend, error) {
	pb := &PostgresBackend{pool: pool, timeout: DefaultQueryTimeout}

	qctx, cancel := context.WithTimeout(ctx, pb.timeout)
	defer cancel()
	if _, err := pool.Exec(qctx, createTableSQL); err != nil {
		return nil, err
	}
	return pb, nil
}

// Get implements Backend
func (p *PostgresBackend) Get(ctx context.Context, key string) (*Envelope, error) {
	qctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var data []byte
	err := p.pool.QueryRow(qctx, `SELECT value FROM http_cache WHERE key = $1`, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Put implements Backend
func (p *PostgresBackend) Put(ctx context.Context, key string, env *Envelope) error {
	data, err := msgpack.Marshal(env)
	if err != nil {
		return err
	}
	qctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err = p.pool.Exec(qctx,
		`INSERT INTO http_cache (key, value, stored_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, stored_at = excluded.stored_at`,
		key, data, env.StoredAt,
	)
	return err
}

// Clear implements Backend
func (p *PostgresBackend) Clear(ctx context.Context) error {
	qctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	_, err := p.pool.Exec(qctx, `DELETE FROM http_cache`)
	return err
}

var _ Backend = (*PostgresBackend)(nil)
