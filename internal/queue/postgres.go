package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgx used by PostgresStore.
// Satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	createClientStateSQL = `CREATE TABLE IF NOT EXISTS client_state (
	namespace  TEXT PRIMARY KEY,
	payload    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

	loadClientStateSQL = `SELECT payload FROM client_state WHERE namespace = $1`

	saveClientStateSQL = `INSERT INTO client_state (namespace, payload, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (namespace) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`
)

// PostgresStore keeps each namespace as one JSONB row. Useful when several
// terminals of the same outlet share a database and the queue must outlive
// the machine it was written on.
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore wraps db. Call EnsureSchema once at startup.
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the client_state table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createClientStateSQL); err != nil {
		return fmt.Errorf("create client_state: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, namespace string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRow(ctx, loadClientStateSQL, namespace).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load client_state %s: %w", namespace, err)
	}
	return payload, nil
}

func (s *PostgresStore) Save(ctx context.Context, namespace string, data []byte) error {
	if _, err := s.db.Exec(ctx, saveClientStateSQL, namespace, string(data)); err != nil {
		return fmt.Errorf("save client_state %s: %w", namespace, err)
	}
	return nil
}
