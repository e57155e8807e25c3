package engine

import (
	"context"
)

// Result is the two-case completion outcome of a task: success when Err is
// nil, failure otherwise.
type Result struct {
	Err *ProvisionError
}

// Success is the successful task outcome.
func Success() Result {
	return Result{}
}

// Failure wraps a task failure into a Result.
func Failure(err *ProvisionError) Result {
	return Result{Err: err}
}

// ReportFunc delivers a task's completion outcome to the controller.
// The controller guarantees that only the first invocation is observed;
// later calls are ignored.
type ReportFunc func(Result)

// Task is one unit of provisioning work. Run is invoked at most once per
// controller run and must eventually call report with exactly one Result,
// regardless of any concurrency the task spawns internally. Constructing a
// Task must have no side effects: the controller may shut down before
// reaching it.
type Task interface {
	// ID returns a stable identifier for logs and the run history.
	ID() string

	// Stage returns the progress stage emitted when the task starts.
	Stage() Stage

	// Run performs the work for the given user and reports the outcome.
	// The context is cancelled when the hosting component shuts down.
	Run(ctx context.Context, userID int, report ReportFunc)
}

// Cancelable is an optional capability: tasks that can meaningfully react
// to cancellation implement it and perform their own idempotent
// rollback-or-skip. Tasks without it run to completion and are never
// interrupted.
type Cancelable interface {
	Cancel()
}
