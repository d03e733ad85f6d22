// Package store persists plans, execution records and schedules. The core
// executor never touches the store; the surrounding application saves what it
// wants kept.
package store

import (
	"context"
	"time"

	"github.com/nvoss/dynaflow/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Executions
	SaveExecution(ctx context.Context, exec *schema.WorkflowExecution) error
	GetExecution(ctx context.Context, executionID string) (*schema.WorkflowExecution, error)
	ListExecutions(ctx context.Context, limit int) ([]*schema.WorkflowExecution, error)

	// Plans
	SavePlan(ctx context.Context, plan *schema.WorkflowPlan) (string, error)
	GetPlan(ctx context.Context, workflowID string) (*schema.WorkflowPlan, error)
	ListPlans(ctx context.Context, limit int) ([]*schema.WorkflowPlan, error)
	DeletePlan(ctx context.Context, workflowID string) error

	// Schedules
	CreateSchedule(ctx context.Context, sched *schema.Schedule) error
	GetSchedule(ctx context.Context, id string) (*schema.Schedule, error)
	UpdateSchedule(ctx context.Context, id string, update ScheduleUpdate) error
	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*schema.Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// ScheduleUpdate specifies mutable fields of a schedule.
type ScheduleUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduleFilter specifies criteria for listing schedules.
type ScheduleFilter struct {
	Enabled *bool `json:"enabled,omitempty"`
	Limit   int   `json:"limit,omitempty"`
}
