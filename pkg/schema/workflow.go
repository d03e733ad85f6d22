package schema

import "time"

// WorkflowPlan is the declarative, JSON-serializable description of a workflow.
// Plans are produced by an external planner or loaded from the store; a plan is
// treated as immutable once execution starts.
type WorkflowPlan struct {
	WorkflowID  string       `json:"workflow_id,omitempty"` // assigned by the store; empty for ad-hoc plans
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Steps       []ActionStep `json:"steps"`
	Mode        RunMode      `json:"mode,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
}

// ActionStep is one unit of work in a plan.
type ActionStep struct {
	StepID      string         `json:"step_id"`
	StepType    StepType       `json:"step_type"`
	Description string         `json:"description,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	DependsOn   []string       `json:"depends_on,omitempty"` // empty means "after the previous step in list order"
	PluginName  string         `json:"plugin_name,omitempty"`
}

// StepType enumerates the kinds of steps in a plan.
type StepType string

const (
	StepTypeHTTPRequest StepType = "http_request"
	StepTypeTransform   StepType = "transform"
	StepTypeCondition   StepType = "condition"
	StepTypeLoop        StepType = "loop"
	StepTypeWait        StepType = "wait"
	StepTypePlugin      StepType = "plugin"
	StepTypeCustom      StepType = "custom"
)

// RunMode selects between real side effects and canned dry-run results.
type RunMode string

const (
	ModeReal RunMode = "real"
	ModeMock RunMode = "mock"
)

// ExecutionStatus is the lifecycle state of a WorkflowExecution.
// Running is the only non-terminal state.
type ExecutionStatus string

const (
	StatusRunning ExecutionStatus = "running"
	StatusSuccess ExecutionStatus = "success"
	StatusFailed  ExecutionStatus = "failed"
)

// WorkflowIDAdHoc is the workflow_id recorded for plans that were never persisted.
const WorkflowIDAdHoc = "adhoc"

// WorkflowExecution is the record of one run of a plan.
// For a terminal execution exactly one of these holds:
// Status == StatusSuccess and Error == "", or Status == StatusFailed and Error != "".
type WorkflowExecution struct {
	ExecutionID string          `json:"execution_id"`
	WorkflowID  string          `json:"workflow_id"`
	Status      ExecutionStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	StepResults map[string]any  `json:"step_results,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Schedule is a cron-triggered recurring run of a stored plan.
type Schedule struct {
	ID             string     `json:"id"`
	WorkflowID     string     `json:"workflow_id"`
	CronExpression string     `json:"cron_expression"`
	Mode           RunMode    `json:"mode,omitempty"`
	Enabled        bool       `json:"enabled"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus  string     `json:"last_run_status,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
