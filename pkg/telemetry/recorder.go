package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/enrolld/enrolld/pkg/engine"
)

// Recorder adapts Metrics and Tracer to the engine's run observer. The
// controller drives a run single-threaded, so span bookkeeping needs no
// locking.
type Recorder struct {
	metrics *Metrics
	tracer  *Tracer

	runSpans  map[string]trace.Span
	runCtxs   map[string]context.Context
	taskSpans map[string]trace.Span
	actions   map[string]string
}

// NewRecorder creates a telemetry recorder.
func NewRecorder(metrics *Metrics, tracer *Tracer) *Recorder {
	return &Recorder{
		metrics:   metrics,
		tracer:    tracer,
		runSpans:  make(map[string]trace.Span),
		runCtxs:   make(map[string]context.Context),
		taskSpans: make(map[string]trace.Span),
		actions:   make(map[string]string),
	}
}

// RunStarted implements engine.Recorder.
func (r *Recorder) RunStarted(ctx context.Context, runID string, req *engine.ProvisioningRequest) {
	action := string(req.Action)
	r.actions[runID] = action
	r.metrics.RecordRunStarted(action)
	if r.tracer != nil {
		runCtx, span := r.tracer.StartRunSpan(ctx, runID, action)
		r.runSpans[runID] = span
		r.runCtxs[runID] = runCtx
	}
}

// TaskStarted implements engine.Recorder.
func (r *Recorder) TaskStarted(_ context.Context, runID string, task engine.Task) {
	if r.tracer == nil {
		return
	}
	parent, ok := r.runCtxs[runID]
	if !ok {
		parent = context.Background()
	}
	_, span := r.tracer.StartTaskSpan(parent, task.ID(), string(task.Stage()))
	r.taskSpans[runID+"/"+task.ID()] = span
}

// TaskFinished implements engine.Recorder.
func (r *Recorder) TaskFinished(_ context.Context, runID string, task engine.Task, took time.Duration, failure *engine.ProvisionError) {
	status := "succeeded"
	if failure != nil {
		status = "failed"
	}
	r.metrics.RecordTaskExecution(string(task.Stage()), status, took)

	key := runID + "/" + task.ID()
	if span, ok := r.taskSpans[key]; ok {
		delete(r.taskSpans, key)
		if failure != nil {
			span.SetAttributes(AttrErrorCode.String(string(failure.Code)))
			RecordError(span, failure)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}
}

// RunFinished implements engine.Recorder.
func (r *Recorder) RunFinished(_ context.Context, runID string, state engine.RunState, took time.Duration, failure *engine.ProvisionError) {
	action := r.actions[runID]
	delete(r.actions, runID)
	r.metrics.RecordRunCompleted(action, string(state), took)
	if failure != nil {
		r.metrics.RecordError(string(failure.Code))
	}

	if span, ok := r.runSpans[runID]; ok {
		delete(r.runSpans, runID)
		delete(r.runCtxs, runID)
		span.SetAttributes(AttrRunState.String(string(state)))
		if failure != nil {
			RecordError(span, failure)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}
}
