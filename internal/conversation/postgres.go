package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lucamorandi/genbi/internal/task"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initConversationSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initConversationSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			id SERIAL PRIMARY KEY,
			project_id INTEGER NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			questions JSONB NOT NULL DEFAULT '[]',
			questions_status TEXT NOT NULL DEFAULT '',
			questions_error TEXT NOT NULL DEFAULT '',
			questions_task_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_threads_project_created ON threads (project_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS thread_responses (
			id SERIAL PRIMARY KEY,
			thread_id INTEGER NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
			question TEXT NOT NULL,
			sql_text TEXT NOT NULL DEFAULT '',
			asking_task_id TEXT NOT NULL DEFAULT '',
			asking_status TEXT NOT NULL DEFAULT '',
			asking_error TEXT NOT NULL DEFAULT '',
			breakdown_detail JSONB NULL,
			answer_detail JSONB NULL,
			chart_detail JSONB NULL,
			adjustment JSONB NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_thread_responses_thread ON thread_responses (thread_id, id);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init conversation schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateThread(ctx context.Context, t Thread) (Thread, error) {
	now := time.Now().UTC()
	questions, err := json.Marshal(emptyIfNil(t.Questions))
	if err != nil {
		return Thread{}, fmt.Errorf("marshal questions: %w", err)
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO threads (project_id, summary, questions, questions_status, questions_error, questions_task_id, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		t.ProjectID, t.Summary, questions, string(t.QuestionsStatus), t.QuestionsError, t.QuestionsTaskID, now, now,
	)
	if err := row.Scan(&t.ID); err != nil {
		return Thread{}, fmt.Errorf("insert thread: %w", err)
	}
	t.CreatedAt = now
	t.UpdatedAt = now
	return t, nil
}

func (s *PostgresStore) FindThread(ctx context.Context, id int) (Thread, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, project_id, summary, questions, questions_status, questions_error, questions_task_id, created_at, updated_at
		   FROM threads WHERE id=$1`, id)
	t, err := scanThread(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Thread{}, ErrThreadNotFound
		}
		return Thread{}, fmt.Errorf("get thread: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ListThreadsByProject(ctx context.Context, projectID int) ([]Thread, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, summary, questions, questions_status, questions_error, questions_task_id, created_at, updated_at
		   FROM threads WHERE project_id=$1 ORDER BY created_at DESC, id DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	out := make([]Thread, 0, 8)
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thread rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateThread(ctx context.Context, id int, patch ThreadPatch) (Thread, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Thread{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT id, project_id, summary, questions, questions_status, questions_error, questions_task_id, created_at, updated_at
		   FROM threads WHERE id=$1 FOR UPDATE`, id)
	t, err := scanThread(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Thread{}, ErrThreadNotFound
		}
		return Thread{}, fmt.Errorf("lock thread: %w", err)
	}

	if patch.Summary != nil {
		t.Summary = *patch.Summary
	}
	if patch.Questions != nil {
		t.Questions = append([]string(nil), patch.Questions...)
	}
	if patch.QuestionsStatus != nil {
		t.QuestionsStatus = *patch.QuestionsStatus
	}
	if patch.QuestionsError != nil {
		t.QuestionsError = *patch.QuestionsError
	}
	if patch.QuestionsTaskID != nil {
		t.QuestionsTaskID = *patch.QuestionsTaskID
	}
	t.UpdatedAt = time.Now().UTC()

	questions, err := json.Marshal(emptyIfNil(t.Questions))
	if err != nil {
		return Thread{}, fmt.Errorf("marshal questions: %w", err)
	}
	_, err = tx.Exec(ctx,
		`UPDATE threads SET summary=$2, questions=$3, questions_status=$4, questions_error=$5, questions_task_id=$6, updated_at=$7
		  WHERE id=$1`,
		t.ID, t.Summary, questions, string(t.QuestionsStatus), t.QuestionsError, t.QuestionsTaskID, t.UpdatedAt,
	)
	if err != nil {
		return Thread{}, fmt.Errorf("update thread: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Thread{}, fmt.Errorf("commit tx: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) DeleteThread(ctx context.Context, id int) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM threads WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrThreadNotFound
	}
	return nil
}

func (s *PostgresStore) CreateResponse(ctx context.Context, r ThreadResponse) (ThreadResponse, error) {
	now := time.Now().UTC()
	breakdown, answer, chart, adjustment, err := marshalDetails(r)
	if err != nil {
		return ThreadResponse{}, err
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO thread_responses (
			thread_id, question, sql_text, asking_task_id, asking_status, asking_error,
			breakdown_detail, answer_detail, chart_detail, adjustment, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		r.ThreadID, r.Question, r.SQL, r.AskingTaskID, string(r.AskingStatus), r.AskingError,
		breakdown, answer, chart, adjustment, now, now,
	)
	if err := row.Scan(&r.ID); err != nil {
		return ThreadResponse{}, fmt.Errorf("insert thread response: %w", err)
	}
	r.CreatedAt = now
	r.UpdatedAt = now
	return r, nil
}

func (s *PostgresStore) FindResponse(ctx context.Context, id int) (ThreadResponse, error) {
	row := s.pool.QueryRow(ctx, selectResponse+` WHERE id=$1`, id)
	r, err := scanResponse(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ThreadResponse{}, ErrResponseNotFound
		}
		return ThreadResponse{}, fmt.Errorf("get thread response: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListResponsesByThread(ctx context.Context, threadID int) ([]ThreadResponse, error) {
	rows, err := s.pool.Query(ctx, selectResponse+` WHERE thread_id=$1 ORDER BY id ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list thread responses: %w", err)
	}
	defer rows.Close()

	out := make([]ThreadResponse, 0, 8)
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread response row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thread response rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateResponse(ctx context.Context, id int, patch ResponsePatch) (ThreadResponse, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ThreadResponse{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, selectResponse+` WHERE id=$1 FOR UPDATE`, id)
	r, err := scanResponse(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ThreadResponse{}, ErrResponseNotFound
		}
		return ThreadResponse{}, fmt.Errorf("lock thread response: %w", err)
	}

	applyResponsePatch(&r, patch)
	r.UpdatedAt = time.Now().UTC()

	breakdown, answer, chart, adjustment, err := marshalDetails(r)
	if err != nil {
		return ThreadResponse{}, err
	}
	_, err = tx.Exec(ctx,
		`UPDATE thread_responses SET
			sql_text=$2, asking_task_id=$3, asking_status=$4, asking_error=$5,
			breakdown_detail=$6, answer_detail=$7, chart_detail=$8, adjustment=$9, updated_at=$10
		  WHERE id=$1`,
		r.ID, r.SQL, r.AskingTaskID, string(r.AskingStatus), r.AskingError,
		breakdown, answer, chart, adjustment, r.UpdatedAt,
	)
	if err != nil {
		return ThreadResponse{}, fmt.Errorf("update thread response: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return ThreadResponse{}, fmt.Errorf("commit tx: %w", err)
	}
	return r, nil
}

const selectResponse = `SELECT id, thread_id, question, sql_text, asking_task_id, asking_status, asking_error,
	breakdown_detail, answer_detail, chart_detail, adjustment, created_at, updated_at
  FROM thread_responses`

func scanThread(row pgx.Row) (Thread, error) {
	var (
		t         Thread
		questions []byte
		status    string
	)
	if err := row.Scan(&t.ID, &t.ProjectID, &t.Summary, &questions, &status, &t.QuestionsError, &t.QuestionsTaskID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Thread{}, err
	}
	t.QuestionsStatus = task.Status(status)
	if len(questions) > 0 {
		if err := json.Unmarshal(questions, &t.Questions); err != nil {
			return Thread{}, fmt.Errorf("unmarshal questions: %w", err)
		}
	}
	return t, nil
}

func scanResponse(row pgx.Row) (ThreadResponse, error) {
	var (
		r          ThreadResponse
		status     string
		breakdown  []byte
		answer     []byte
		chart      []byte
		adjustment []byte
	)
	if err := row.Scan(&r.ID, &r.ThreadID, &r.Question, &r.SQL, &r.AskingTaskID, &status, &r.AskingError,
		&breakdown, &answer, &chart, &adjustment, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return ThreadResponse{}, err
	}
	r.AskingStatus = task.Status(status)
	if len(breakdown) > 0 {
		r.BreakdownDetail = &BreakdownDetail{}
		if err := json.Unmarshal(breakdown, r.BreakdownDetail); err != nil {
			return ThreadResponse{}, fmt.Errorf("unmarshal breakdown detail: %w", err)
		}
	}
	if len(answer) > 0 {
		r.AnswerDetail = &AnswerDetail{}
		if err := json.Unmarshal(answer, r.AnswerDetail); err != nil {
			return ThreadResponse{}, fmt.Errorf("unmarshal answer detail: %w", err)
		}
	}
	if len(chart) > 0 {
		r.ChartDetail = &ChartDetail{}
		if err := json.Unmarshal(chart, r.ChartDetail); err != nil {
			return ThreadResponse{}, fmt.Errorf("unmarshal chart detail: %w", err)
		}
	}
	if len(adjustment) > 0 {
		r.Adjustment = &Adjustment{}
		if err := json.Unmarshal(adjustment, r.Adjustment); err != nil {
			return ThreadResponse{}, fmt.Errorf("unmarshal adjustment: %w", err)
		}
	}
	return r, nil
}

func marshalDetails(r ThreadResponse) (breakdown, answer, chart, adjustment []byte, err error) {
	if r.BreakdownDetail != nil {
		if breakdown, err = json.Marshal(r.BreakdownDetail); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal breakdown detail: %w", err)
		}
	}
	if r.AnswerDetail != nil {
		if answer, err = json.Marshal(r.AnswerDetail); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal answer detail: %w", err)
		}
	}
	if r.ChartDetail != nil {
		if chart, err = json.Marshal(r.ChartDetail); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal chart detail: %w", err)
		}
	}
	if r.Adjustment != nil {
		if adjustment, err = json.Marshal(r.Adjustment); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal adjustment: %w", err)
		}
	}
	return breakdown, answer, chart, adjustment, nil
}

func emptyIfNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
