package history

import (
	"context"
	"time"

	"github.com/enrolld/enrolld/pkg/engine"
)

// Run is the persisted record of a provisioning run.
type Run struct {
	ID          string          `json:"id"`
	Action      string          `json:"action"`
	Admin       string          `json:"admin"`
	UserID      int             `json:"user_id"`
	State       engine.RunState `json:"state"`
	ErrorCode   *string         `json:"error_code,omitempty"`
	Error       *string         `json:"error,omitempty"`
	FailedTask  *string         `json:"failed_task,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// TaskEvent is one entry in a run's task log.
type TaskEvent struct {
	ID         int64      `json:"id"`
	RunID      string     `json:"run_id"`
	TaskID     string     `json:"task_id"`
	Stage      string     `json:"stage"`
	Succeeded  bool       `json:"succeeded"`
	Error      *string    `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Store persists provisioning run history.
type Store interface {
	// Init opens the underlying database.
	Init(ctx context.Context) error
	// Migrate brings the schema up to date.
	Migrate(ctx context.Context) error
	// Close releases the database.
	Close() error

	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	FinishRun(ctx context.Context, id string, state engine.RunState, failure *engine.ProvisionError) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)

	AppendTaskEvent(ctx context.Context, ev *TaskEvent) error
	ListTaskEvents(ctx context.Context, runID string) ([]*TaskEvent, error)

	HealthCheck(ctx context.Context) error
}
