package history

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/enrolld/enrolld/pkg/engine"
)

// Recorder writes run lifecycle events into a history Store. Store errors
// are logged and dropped: history is an audit trail and must never fail a
// run.
type Recorder struct {
	store  Store
	userID int
	logger zerolog.Logger

	// started maps run ID to task start time so TaskFinished can record
	// the full interval. The controller drives a run single-threaded, so
	// a plain map keyed by run and task is enough.
	started map[string]time.Time
}

// NewRecorder creates a history recorder backed by store.
func NewRecorder(store Store, userID int, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:   store,
		userID:  userID,
		logger:  logger.With().Str("component", "history").Logger(),
		started: make(map[string]time.Time),
	}
}

// RunStarted implements engine.Recorder.
func (r *Recorder) RunStarted(ctx context.Context, runID string, req *engine.ProvisioningRequest) {
	now := time.Now()
	err := r.store.CreateRun(ctx, &Run{
		ID:        runID,
		Action:    string(req.Action),
		Admin:     req.AdminComponent.String(),
		UserID:    r.userID,
		State:     engine.RunStateRunning,
		StartedAt: now,
		CreatedAt: now,
	})
	if err != nil {
		r.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to record run start")
	}
}

// TaskStarted implements engine.Recorder.
func (r *Recorder) TaskStarted(_ context.Context, runID string, task engine.Task) {
	r.started[runID+"/"+task.ID()] = time.Now()
}

// TaskFinished implements engine.Recorder.
func (r *Recorder) TaskFinished(ctx context.Context, runID string, task engine.Task, took time.Duration, failure *engine.ProvisionError) {
	key := runID + "/" + task.ID()
	startedAt, ok := r.started[key]
	if !ok {
		startedAt = time.Now().Add(-took)
	}
	delete(r.started, key)
	finishedAt := startedAt.Add(took)

	ev := &TaskEvent{
		RunID:      runID,
		TaskID:     task.ID(),
		Stage:      string(task.Stage()),
		Succeeded:  failure == nil,
		StartedAt:  startedAt,
		FinishedAt: &finishedAt,
	}
	if failure != nil {
		msg := failure.Error()
		ev.Error = &msg
	}
	if err := r.store.AppendTaskEvent(ctx, ev); err != nil {
		r.logger.Error().Err(err).Str("run_id", runID).Str("task", task.ID()).
			Msg("Failed to record task event")
	}
}

// RunFinished implements engine.Recorder.
func (r *Recorder) RunFinished(ctx context.Context, runID string, state engine.RunState, _ time.Duration, failure *engine.ProvisionError) {
	if err := r.store.FinishRun(ctx, runID, state, failure); err != nil {
		r.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to record run finish")
	}
}
