package queue

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// --- Mock implementations ---

type mockRow struct {
	payload []byte
	err     error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*[]byte)) = r.payload
	return nil
}

type mockDB struct {
	execFn     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return m.execFn(ctx, sql, args...)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return m.queryRowFn(ctx, sql, args...)
}

func TestPostgresStore_LoadMissingNamespace(t *testing.T) {
	store := NewPostgresStore(&mockDB{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRow{err: pgx.ErrNoRows}
		},
	})

	data, err := store.Load(context.Background(), "ns")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if data != nil {
		t.Fatalf("expected nil data, got %q", data)
	}
}

func TestPostgresStore_LoadReturnsPayload(t *testing.T) {
	store := NewPostgresStore(&mockDB{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			if args[0] != "ns" {
				t.Errorf("namespace arg: got %v", args[0])
			}
			return &mockRow{payload: []byte(`[]`)}
		},
	})

	data, err := store.Load(context.Background(), "ns")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(data) != "[]" {
		t.Fatalf("got %q", data)
	}
}

func TestPostgresStore_SaveUpserts(t *testing.T) {
	var gotSQL string
	var gotArgs []any
	store := NewPostgresStore(&mockDB{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			gotSQL, gotArgs = sql, args
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		},
	})

	if err := store.Save(context.Background(), "ns", []byte(`[{"id":"x"}]`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.Contains(gotSQL, "ON CONFLICT (namespace) DO UPDATE") {
		t.Errorf("expected upsert, got %s", gotSQL)
	}
	if gotArgs[0] != "ns" || gotArgs[1] != `[{"id":"x"}]` {
		t.Errorf("args: got %v", gotArgs)
	}
}

func TestPostgresStore_SaveError(t *testing.T) {
	store := NewPostgresStore(&mockDB{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, errors.New("connection reset")
		},
	})

	if err := store.Save(context.Background(), "ns", []byte(`[]`)); err == nil {
		t.Fatal("expected error")
	}
}
