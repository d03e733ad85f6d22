package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/nvoss/dynaflow/pkg/schema"
)

// LibSQLStore implements Store on a local libSQL database file.
// The pool is capped at a single connection because libSQL serializes writers;
// WAL mode keeps readers from blocking behind them.
type LibSQLStore struct {
	db   *sql.DB
	path string
}

// NewLibSQLStore opens (creating if needed) the database at path.
func NewLibSQLStore(path string) (*LibSQLStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "create database directory: %v", err).WithCause(err)
		}
	}

	db, err := sql.Open("libsql", "file:"+path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "open database: %v", err).WithCause(err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, schema.NewErrorf(schema.ErrCodeStore, "%s: %v", pragma, err).WithCause(err)
		}
	}

	return &LibSQLStore{db: db, path: path}, nil
}

// Migrate applies pending schema migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	if err := runMigrations(ctx, s.db); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "migrate: %v", err).WithCause(err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *LibSQLStore) Close() error {
	return s.db.Close()
}

// SaveExecution inserts or replaces an execution record.
func (s *LibSQLStore) SaveExecution(ctx context.Context, exec *schema.WorkflowExecution) error {
	if exec == nil || exec.ExecutionID == "" {
		return schema.NewError(schema.ErrCodeValidation, "execution requires an execution_id")
	}

	results, err := json.Marshal(exec.StepResults)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "marshal step_results: %v", err).WithCause(err)
	}

	var completed any
	if exec.CompletedAt != nil {
		completed = exec.CompletedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO executions
			(execution_id, workflow_id, status, started_at, completed_at, step_results, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		exec.ExecutionID,
		exec.WorkflowID,
		string(exec.Status),
		exec.StartedAt.UTC().Format(time.RFC3339Nano),
		completed,
		string(results),
		exec.Error,
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "save execution: %v", err).WithCause(err)
	}
	return nil
}

// GetExecution loads an execution by ID.
func (s *LibSQLStore) GetExecution(ctx context.Context, executionID string) (*schema.WorkflowExecution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT execution_id, workflow_id, status, started_at, completed_at, step_results, error
		FROM executions WHERE execution_id = ?`, executionID)

	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "execution not found: %s", executionID)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "get execution: %v", err).WithCause(err)
	}
	return exec, nil
}

// ListExecutions returns the most recent executions, newest first.
func (s *LibSQLStore) ListExecutions(ctx context.Context, limit int) ([]*schema.WorkflowExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, workflow_id, status, started_at, completed_at, step_results, error
		FROM executions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list executions: %v", err).WithCause(err)
	}
	defer rows.Close()

	var execs []*schema.WorkflowExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "scan execution: %v", err).WithCause(err)
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list executions: %v", err).WithCause(err)
	}
	return execs, nil
}

// SavePlan stores a plan, assigning a workflow_id when the plan has none, and
// returns the ID.
func (s *LibSQLStore) SavePlan(ctx context.Context, plan *schema.WorkflowPlan) (string, error) {
	if plan == nil || plan.Name == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "plan requires a name")
	}

	id := plan.WorkflowID
	if id == "" {
		id = uuid.NewString()
	}
	stored := *plan
	stored.WorkflowID = id

	definition, err := json.Marshal(&stored)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeStore, "marshal plan: %v", err).WithCause(err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plans (workflow_id, name, description, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			definition = excluded.definition,
			updated_at = excluded.updated_at`,
		id, stored.Name, stored.Description, string(definition), now, now)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeStore, "save plan: %v", err).WithCause(err)
	}
	return id, nil
}

// GetPlan loads a plan by workflow_id.
func (s *LibSQLStore) GetPlan(ctx context.Context, workflowID string) (*schema.WorkflowPlan, error) {
	var definition string
	err := s.db.QueryRowContext(ctx,
		`SELECT definition FROM plans WHERE workflow_id = ?`, workflowID).Scan(&definition)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "plan not found: %s", workflowID)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "get plan: %v", err).WithCause(err)
	}

	var plan schema.WorkflowPlan
	if err := json.Unmarshal([]byte(definition), &plan); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "unmarshal plan %s: %v", workflowID, err).WithCause(err)
	}
	return &plan, nil
}

// ListPlans returns stored plans, most recently updated first.
func (s *LibSQLStore) ListPlans(ctx context.Context, limit int) ([]*schema.WorkflowPlan, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT definition FROM plans ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list plans: %v", err).WithCause(err)
	}
	defer rows.Close()

	var plans []*schema.WorkflowPlan
	for rows.Next() {
		var definition string
		if err := rows.Scan(&definition); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "scan plan: %v", err).WithCause(err)
		}
		var plan schema.WorkflowPlan
		if err := json.Unmarshal([]byte(definition), &plan); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "unmarshal plan: %v", err).WithCause(err)
		}
		plans = append(plans, &plan)
	}
	if err := rows.Err(); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list plans: %v", err).WithCause(err)
	}
	return plans, nil
}

// DeletePlan removes a plan and its schedules.
func (s *LibSQLStore) DeletePlan(ctx context.Context, workflowID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM plans WHERE workflow_id = ?`, workflowID)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "delete plan: %v", err).WithCause(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return schema.NewErrorf(schema.ErrCodeNotFound, "plan not found: %s", workflowID)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE workflow_id = ?`, workflowID); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "delete plan schedules: %v", err).WithCause(err)
	}
	return nil
}

// CreateSchedule stores a schedule, assigning an ID when absent.
func (s *LibSQLStore) CreateSchedule(ctx context.Context, sched *schema.Schedule) error {
	if sched == nil || sched.WorkflowID == "" || sched.CronExpression == "" {
		return schema.NewError(schema.ErrCodeValidation, "schedule requires workflow_id and cron_expression")
	}
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	if sched.CreatedAt.IsZero() {
		sched.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules
			(id, workflow_id, cron_expression, mode, enabled, last_run_at, next_run_at, last_run_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sched.ID,
		sched.WorkflowID,
		sched.CronExpression,
		string(sched.Mode),
		boolToInt(sched.Enabled),
		timePtrToString(sched.LastRunAt),
		timePtrToString(sched.NextRunAt),
		sched.LastRunStatus,
		sched.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return schema.NewErrorf(schema.ErrCodeConflict, "schedule already exists: %s", sched.ID)
		}
		return schema.NewErrorf(schema.ErrCodeStore, "create schedule: %v", err).WithCause(err)
	}
	return nil
}

// GetSchedule loads a schedule by ID.
func (s *LibSQLStore) GetSchedule(ctx context.Context, id string) (*schema.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, cron_expression, mode, enabled, last_run_at, next_run_at, last_run_status, created_at
		FROM schedules WHERE id = ?`, id)

	sched, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "schedule not found: %s", id)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "get schedule: %v", err).WithCause(err)
	}
	return sched, nil
}

// UpdateSchedule applies the non-nil fields of update to a schedule.
func (s *LibSQLStore) UpdateSchedule(ctx context.Context, id string, update ScheduleUpdate) error {
	var sets []string
	var args []any
	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolToInt(*update.Enabled))
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, update.LastRunAt.UTC().Format(time.RFC3339Nano))
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, update.NextRunAt.UTC().Format(time.RFC3339Nano))
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE schedules SET %s WHERE id = ?`, strings.Join(sets, ", ")), args...)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "update schedule: %v", err).WithCause(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return schema.NewErrorf(schema.ErrCodeNotFound, "schedule not found: %s", id)
	}
	return nil
}

// ListSchedules returns schedules matching the filter, oldest first.
func (s *LibSQLStore) ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*schema.Schedule, error) {
	query := `
		SELECT id, workflow_id, cron_expression, mode, enabled, last_run_at, next_run_at, last_run_status, created_at
		FROM schedules`
	var args []any
	if filter.Enabled != nil {
		query += ` WHERE enabled = ?`
		args = append(args, boolToInt(*filter.Enabled))
	}
	query += ` ORDER BY created_at ASC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list schedules: %v", err).WithCause(err)
	}
	defer rows.Close()

	var scheds []*schema.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "scan schedule: %v", err).WithCause(err)
		}
		scheds = append(scheds, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list schedules: %v", err).WithCause(err)
	}
	return scheds, nil
}

// DeleteSchedule removes a schedule.
func (s *LibSQLStore) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "delete schedule: %v", err).WithCause(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return schema.NewErrorf(schema.ErrCodeNotFound, "schedule not found: %s", id)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*schema.WorkflowExecution, error) {
	var (
		exec      schema.WorkflowExecution
		status    string
		started   string
		completed sql.NullString
		results   sql.NullString
	)
	if err := row.Scan(&exec.ExecutionID, &exec.WorkflowID, &status, &started, &completed, &results, &exec.Error); err != nil {
		return nil, err
	}
	exec.Status = schema.ExecutionStatus(status)

	t, err := time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	exec.StartedAt = t

	if completed.Valid && completed.String != "" {
		ct, err := time.Parse(time.RFC3339Nano, completed.String)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		exec.CompletedAt = &ct
	}
	if results.Valid && results.String != "" && results.String != "null" {
		if err := json.Unmarshal([]byte(results.String), &exec.StepResults); err != nil {
			return nil, fmt.Errorf("unmarshal step_results: %w", err)
		}
	}
	return &exec, nil
}

func scanSchedule(row scanner) (*schema.Schedule, error) {
	var (
		sched   schema.Schedule
		mode    string
		enabled int
		lastRun sql.NullString
		nextRun sql.NullString
		created string
	)
	if err := row.Scan(&sched.ID, &sched.WorkflowID, &sched.CronExpression, &mode, &enabled,
		&lastRun, &nextRun, &sched.LastRunStatus, &created); err != nil {
		return nil, err
	}
	sched.Mode = schema.RunMode(mode)
	sched.Enabled = enabled != 0

	if lastRun.Valid && lastRun.String != "" {
		t, err := time.Parse(time.RFC3339Nano, lastRun.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_run_at: %w", err)
		}
		sched.LastRunAt = &t
	}
	if nextRun.Valid && nextRun.String != "" {
		t, err := time.Parse(time.RFC3339Nano, nextRun.String)
		if err != nil {
			return nil, fmt.Errorf("parse next_run_at: %w", err)
		}
		sched.NextRunAt = &t
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	sched.CreatedAt = t
	return &sched, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timePtrToString(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
