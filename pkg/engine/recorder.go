package engine

import (
	"context"
	"time"
)

// Recorder observes the lifecycle of a run for metrics, tracing and the
// run history store. Implementations must not block the worker loop for
// long and must tolerate being called from the controller's worker
// goroutine.
type Recorder interface {
	RunStarted(ctx context.Context, runID string, req *ProvisioningRequest)
	TaskStarted(ctx context.Context, runID string, task Task)
	TaskFinished(ctx context.Context, runID string, task Task, took time.Duration, failure *ProvisionError)
	RunFinished(ctx context.Context, runID string, state RunState, took time.Duration, failure *ProvisionError)
}

type nopRecorder struct{}

func (nopRecorder) RunStarted(context.Context, string, *ProvisioningRequest) {}
func (nopRecorder) TaskStarted(context.Context, string, Task)                {}
func (nopRecorder) TaskFinished(context.Context, string, Task, time.Duration, *ProvisionError) {
}
func (nopRecorder) RunFinished(context.Context, string, RunState, time.Duration, *ProvisionError) {
}

// NopRecorder is a Recorder that discards everything.
func NopRecorder() Recorder {
	return nopRecorder{}
}

// MultiRecorder fans out to several recorders in order.
func MultiRecorder(recorders ...Recorder) Recorder {
	return multiRecorder(recorders)
}

type multiRecorder []Recorder

func (m multiRecorder) RunStarted(ctx context.Context, runID string, req *ProvisioningRequest) {
	for _, r := range m {
		r.RunStarted(ctx, runID, req)
	}
}

func (m multiRecorder) TaskStarted(ctx context.Context, runID string, task Task) {
	for _, r := range m {
		r.TaskStarted(ctx, runID, task)
	}
}

func (m multiRecorder) TaskFinished(ctx context.Context, runID string, task Task, took time.Duration, failure *ProvisionError) {
	for _, r := range m {
		r.TaskFinished(ctx, runID, task, took, failure)
	}
}

func (m multiRecorder) RunFinished(ctx context.Context, runID string, state RunState, took time.Duration, failure *ProvisionError) {
	for _, r := range m {
		r.RunFinished(ctx, runID, state, took, failure)
	}
}
