package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresBindingStore struct {
	pool *pgxpool.Pool
}

func NewPostgresBindingStore(ctx context.Context, databaseURL string) (*PostgresBindingStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initBindingSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresBindingStore{pool: pool}, nil
}

func initBindingSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS task_bindings (
			task_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			thread_id INTEGER NOT NULL DEFAULT 0,
			response_id INTEGER NOT NULL DEFAULT 0,
			previous_task_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_task_bindings_response ON task_bindings (response_id);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init task binding schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresBindingStore) Save(ctx context.Context, b Binding) error {
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO task_bindings (task_id, kind, thread_id, response_id, previous_task_id, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (task_id) DO UPDATE SET
			kind=EXCLUDED.kind,
			thread_id=EXCLUDED.thread_id,
			response_id=EXCLUDED.response_id,
			previous_task_id=EXCLUDED.previous_task_id,
			updated_at=EXCLUDED.updated_at`,
		b.TaskID, string(b.Kind), b.ThreadID, b.ResponseID, b.PreviousTaskID, b.CreatedAt, now,
	)
	if err != nil {
		return fmt.Errorf("upsert task binding: %w", err)
	}
	return nil
}

func (s *PostgresBindingStore) Get(ctx context.Context, taskID string) (Binding, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT task_id, kind, thread_id, response_id, previous_task_id, created_at, updated_at
		   FROM task_bindings WHERE task_id=$1`,
		taskID,
	)
	var (
		b    Binding
		kind string
	)
	if err := row.Scan(&b.TaskID, &kind, &b.ThreadID, &b.ResponseID, &b.PreviousTaskID, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return Binding{}, ErrBindingNotFound
		}
		return Binding{}, fmt.Errorf("get task binding: %w", err)
	}
	b.Kind = Kind(kind)
	return b, nil
}

func (s *PostgresBindingStore) Close() error {
	s.pool.Close()
	return nil
}
