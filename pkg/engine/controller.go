package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Callbacks receives the signals of one provisioning run. All methods are
// invoked on the controller's dispatcher loop. Exactly one of Complete,
// Error or Cancelled is invoked per run; Progress may be invoked any
// number of times before that.
type Callbacks interface {
	// Progress reports that the task for the given stage has started.
	Progress(stage Stage)

	// Error reports the terminal failure of the run.
	Error(code ErrorCode, factoryResetRequired bool)

	// Cancelled reports that the run ended due to cancellation.
	Cancelled()

	// Complete reports that every task finished successfully.
	Complete()
}

// ControllerConfig carries the collaborators of a Controller.
type ControllerConfig struct {
	// Request is the immutable request driving this run.
	Request *ProvisioningRequest

	// UserID is the user the tasks run for.
	UserID int

	// Tasks is the ordered task list. The order encodes real dependency
	// order; the controller never reorders or parallelizes it.
	Tasks []Task

	// Callbacks receives progress and terminal signals.
	Callbacks Callbacks

	// Dispatcher is the loop callbacks are delivered on. Required.
	Dispatcher *Dispatcher

	// Recorder observes the run, defaults to NopRecorder.
	Recorder Recorder

	// Logger, defaults to a disabled logger.
	Logger zerolog.Logger
}

// Controller drives one provisioning run: it owns the ordered task list,
// executes it strictly sequentially on a dedicated worker goroutine,
// aggregates progress and the first failure, and exposes cooperative
// cancellation. Exactly one Controller exists per run and it is discarded
// when the hosting component is destroyed.
type Controller struct {
	runID  string
	req    *ProvisioningRequest
	userID int
	tasks  []Task
	cb     Callbacks
	disp   *Dispatcher
	rec    Recorder
	logger zerolog.Logger

	mu          sync.Mutex
	state       RunState
	initialized bool
	started     bool
	index       int
	current     Task
	lastStage   Stage
	cancelAsked bool
	startedAt   time.Time
}

// NewController builds a controller for one run. The task list is fixed at
// construction; flow selection happens before this point.
func NewController(cfg ControllerConfig) *Controller {
	rec := cfg.Recorder
	if rec == nil {
		rec = NopRecorder()
	}
	runID := uuid.New().String()
	return &Controller{
		runID:  runID,
		req:    cfg.Request,
		userID: cfg.UserID,
		tasks:  cfg.Tasks,
		cb:     cfg.Callbacks,
		disp:   cfg.Dispatcher,
		rec:    rec,
		logger: cfg.Logger.With().Str("run_id", runID).Logger(),
		state:  RunStateNotStarted,
		index:  -1,
	}
}

// RunID returns the identifier of this run.
func (c *Controller) RunID() string {
	return c.runID
}

// State returns the current run state.
func (c *Controller) State() RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Initialize validates preconditions and prepares the task list. It must
// be called before Start.
func (c *Controller) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tasks) == 0 {
		return ErrNoTasks
	}
	if c.req == nil {
		return ErrNotInitialized
	}
	if err := c.req.Validate(); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

// Start begins executing the task list from index 0 on a dedicated worker
// goroutine. Starting an already started controller is a caller error.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.state = RunStateRunning
	c.startedAt = time.Now()
	c.mu.Unlock()

	c.logger.Info().
		Str("action", string(c.req.Action)).
		Int("tasks", len(c.tasks)).
		Int("user_id", c.userID).
		Msg("Starting provisioning run")
	c.rec.RunStarted(ctx, c.runID, c.req)

	go c.run(ctx)
	return nil
}

// Cancel requests cooperative cancellation: no further task begins after
// the current one returns, and the current task is asked to stop only if
// it declared the Cancelable capability. Safe to call at any time.
func (c *Controller) Cancel() {
	c.mu.Lock()
	if c.state.IsTerminal() || c.cancelAsked {
		c.mu.Unlock()
		return
	}
	c.cancelAsked = true
	current := c.current
	c.mu.Unlock()

	c.logger.Info().Msg("Cancellation requested")
	if cancelable, ok := current.(Cancelable); ok {
		cancelable.Cancel()
	}
}

// UpdateStatus re-emits the last known progress without re-running any
// work. A caller that reattached after losing a progress notification uses
// it to resynchronize.
func (c *Controller) UpdateStatus() {
	c.mu.Lock()
	stage := c.lastStage
	c.mu.Unlock()
	if stage == "" {
		return
	}
	c.emitProgress(stage)
}

// run is the worker loop. It executes tasks strictly in list order,
// suspending between tasks until the current task's result arrives.
func (c *Controller) run(ctx context.Context) {
	for i, t := range c.tasks {
		if c.cancelPending() {
			c.finishCancelled(ctx)
			return
		}

		c.mu.Lock()
		c.index = i
		c.current = t
		c.lastStage = t.Stage()
		c.mu.Unlock()

		c.logger.Info().Str("task", t.ID()).Int("index", i).Msg("Starting task")
		c.emitProgress(t.Stage())
		c.rec.TaskStarted(ctx, c.runID, t)

		start := time.Now()
		res := c.await(ctx, t)
		took := time.Since(start)
		c.rec.TaskFinished(ctx, c.runID, t, took, res.Err)

		c.mu.Lock()
		c.current = nil
		c.mu.Unlock()

		// Cancellation observed at the task boundary wins over the task's
		// own outcome: the current task was allowed to finish, nothing
		// after it starts.
		if c.cancelPending() {
			c.finishCancelled(ctx)
			return
		}
		if res.Err != nil {
			failure := res.Err.WithTask(t.ID())
			c.logger.Error().Err(failure).Str("task", t.ID()).Msg("Task failed")
			c.finishError(ctx, failure)
			return
		}
		c.logger.Debug().Str("task", t.ID()).Dur("took", took).Msg("Task completed")
	}
	c.finishComplete(ctx)
}

// await runs one task and blocks until its first reported result. Reports
// past the first are ignored, preserving the report-exactly-once contract
// even against misbehaving tasks.
func (c *Controller) await(ctx context.Context, t Task) Result {
	results := make(chan Result, 1)
	var once sync.Once
	report := func(r Result) {
		once.Do(func() { results <- r })
	}

	go t.Run(ctx, c.userID, report)

	select {
	case r := <-results:
		return r
	case <-ctx.Done():
		// Hosting component is shutting down: arm cancellation and keep
		// waiting for the running task, which is never interrupted.
		c.Cancel()
		return <-results
	}
}

// finish transitions to a terminal state exactly once. The boolean result
// reports whether this call performed the transition.
func (c *Controller) finish(state RunState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.IsTerminal() {
		return false
	}
	c.state = state
	return true
}

func (c *Controller) finishComplete(ctx context.Context) {
	if !c.finish(RunStateSucceeded) {
		return
	}
	took := time.Since(c.startedAt)
	c.logger.Info().Dur("took", took).Msg("Provisioning run succeeded")
	c.rec.RunFinished(ctx, c.runID, RunStateSucceeded, took, nil)
	c.post(func() { c.cb.Complete() })
}

func (c *Controller) finishError(ctx context.Context, failure *ProvisionError) {
	if !c.finish(RunStateFailed) {
		return
	}
	took := time.Since(c.startedAt)
	c.rec.RunFinished(ctx, c.runID, RunStateFailed, took, failure)
	code := failure.Code
	reset := failure.FactoryReset
	c.post(func() { c.cb.Error(code, reset) })
}

func (c *Controller) finishCancelled(ctx context.Context) {
	if !c.finish(RunStateCancelled) {
		return
	}
	took := time.Since(c.startedAt)
	c.logger.Info().Dur("took", took).Msg("Provisioning run cancelled")
	c.rec.RunFinished(ctx, c.runID, RunStateCancelled, took, nil)
	c.post(func() { c.cb.Cancelled() })
}

func (c *Controller) emitProgress(stage Stage) {
	c.post(func() { c.cb.Progress(stage) })
}

func (c *Controller) cancelPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelAsked
}

// post delivers a callback on the dispatcher loop.
func (c *Controller) post(f func()) {
	if c.cb == nil {
		return
	}
	if c.disp == nil {
		f()
		return
	}
	c.disp.Post(func(context.Context) { f() })
}
