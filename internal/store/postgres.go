// Package store — PostgreSQL Store implementation backed by a pgx pool.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/voicepilot/voicepilot/pkg/models"
)

// PostgresStore implements Store on PostgreSQL. The plan, step results,
// current step and pending approval id travel together in the plan_json
// blob; status, error and timestamps are first-class columns.
type PostgresStore struct {
	pool *pgxpool.Pool

	*signalRegistry
}

// NewPostgresStore connects a pgx pool and creates the schema if absent.
func NewPostgresStore(ctx context.Context, connURL string, minConns, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	if minConns > 0 {
		cfg.MinConns = int32(minConns)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool, signalRegistry: newSignalRegistry()}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Msg("postgres store initialized")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS tasks (
			id         TEXT PRIMARY KEY,
			goal       TEXT NOT NULL DEFAULT '',
			plan_json  JSONB NOT NULL DEFAULT '{}',
			status     TEXT NOT NULL,
			error      TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks (created_at DESC);

		CREATE TABLE IF NOT EXISTS approvals (
			id          TEXT PRIMARY KEY,
			task_id     TEXT NOT NULL,
			step_index  INT NOT NULL,
			ok_prompt   TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL DEFAULT 'pending',
			created_at  TIMESTAMPTZ NOT NULL,
			resolved_at TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_approvals_task ON approvals (task_id);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// taskBlob is the persisted shape of the plan_json column.
type taskBlob struct {
	Plan              *models.Plan        `json:"plan"`
	Results           []models.StepResult `json:"results"`
	CurrentStep       int                 `json:"current_step"`
	PendingApprovalID *string             `json:"pending_approval_id"`
	Reply             *string             `json:"reply,omitempty"`
}

// ── Tasks ────────────────────────────────────────────────────

func (s *PostgresStore) SaveTask(ctx context.Context, task *models.Task) error {
	task.UpdatedAt = time.Now().UTC()

	blob, err := json.Marshal(taskBlob{
		Plan:              task.Plan,
		Results:           task.Results,
		CurrentStep:       task.CurrentStep,
		PendingApprovalID: task.PendingApprovalID,
		Reply:             task.Reply,
	})
	if err != nil {
		return fmt.Errorf("marshal plan_json: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tasks (id, goal, plan_json, status, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			goal       = EXCLUDED.goal,
			plan_json  = EXCLUDED.plan_json,
			status     = EXCLUDED.status,
			error      = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at`,
		task.ID, task.Goal, blob, statusToDB(task.Status), task.Error,
		task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, goal, plan_json, status, error, created_at, updated_at
		FROM tasks WHERE id = $1`, id)

	task, err := scanTask(row)
	if err == pgx.ErrNoRows {
		return nil, &ErrNotFound{Entity: "task", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context) ([]models.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, goal, plan_json, status, error, created_at, updated_at
		FROM tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		t        models.Task
		rawBlob  []byte
		dbStatus string
	)
	if err := row.Scan(&t.ID, &t.Goal, &rawBlob, &dbStatus, &t.Error, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}

	var blob taskBlob
	if len(rawBlob) > 0 {
		if err := json.Unmarshal(rawBlob, &blob); err != nil {
			return nil, fmt.Errorf("unmarshal plan_json: %w", err)
		}
	}

	t.Status = statusFromDB(dbStatus)
	t.Plan = blob.Plan
	t.Results = blob.Results
	t.CurrentStep = blob.CurrentStep
	t.PendingApprovalID = blob.PendingApprovalID
	t.Reply = blob.Reply
	return &t, nil
}

// ── Approvals ────────────────────────────────────────────────

func (s *PostgresStore) SaveApproval(ctx context.Context, approval *models.Approval) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO approvals (id, task_id, step_index, ok_prompt, status, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		approval.ID, approval.TaskID, approval.StepIndex, approval.OKPrompt,
		approvalStatus(approval), approval.CreatedAt, approval.ResolvedAt)
	if err != nil {
		return fmt.Errorf("save approval: %w", err)
	}

	s.ensure(approval.ID)
	return nil
}

func approvalStatus(a *models.Approval) string {
	if a.Approved {
		return dbApprovalApproved
	}
	return dbApprovalPending
}

func (s *PostgresStore) GetApproval(ctx context.Context, id string) (*models.Approval, error) {
	var (
		a        models.Approval
		dbStatus string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, task_id, step_index, ok_prompt, status, created_at, resolved_at
		FROM approvals WHERE id = $1`, id).
		Scan(&a.ID, &a.TaskID, &a.StepIndex, &a.OKPrompt, &dbStatus, &a.CreatedAt, &a.ResolvedAt)
	if err == pgx.ErrNoRows {
		return nil, &ErrNotFound{Entity: "approval", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get approval: %w", err)
	}
	a.Approved = dbStatus == dbApprovalApproved
	return &a, nil
}

func (s *PostgresStore) ResolveApproval(ctx context.Context, id string) (bool, error) {
	// The WHERE status guard makes resolution atomic: only one caller
	// ever sees RowsAffected == 1, so the signal fires exactly once.
	tag, err := s.pool.Exec(ctx, `
		UPDATE approvals SET status = $2, resolved_at = $3
		WHERE id = $1 AND status = $4`,
		id, dbApprovalApproved, time.Now().UTC(), dbApprovalPending)
	if err != nil {
		return false, fmt.Errorf("resolve approval: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if sig := s.get(id); sig != nil {
		sig.Fire()
	}
	return true, nil
}

func (s *PostgresStore) Signal(approvalID string) *Signal {
	return s.get(approvalID)
}

// ── Lifecycle ────────────────────────────────────────────────

func (s *PostgresStore) SweepInterrupted(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET
			status     = $1,
			error      = $2,
			plan_json  = plan_json - 'pending_approval_id',
			updated_at = $3
		WHERE status = $4 OR status = $5`,
		dbStatusFailed, "interrupted by restart", time.Now().UTC(),
		dbStatusRunning, dbStatusWaitingApproval)
	if err != nil {
		return 0, fmt.Errorf("sweep interrupted tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
