// Package service hosts provisioning runs. A Service owns the dispatcher
// loop, at most one run controller at a time, the delegation decision at
// intake, the encryption reboot detour and the admin success notification.
// It is the single long-lived component everything else hangs off.
package service

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/enrolld/enrolld/pkg/delegation"
	"github.com/enrolld/enrolld/pkg/device"
	"github.com/enrolld/enrolld/pkg/engine"
	"github.com/enrolld/enrolld/pkg/notify"
	"github.com/enrolld/enrolld/pkg/resume"
	"github.com/enrolld/enrolld/pkg/tasks"
)

// Service errors.
var (
	// ErrRunInProgress is returned by Start while a run is active.
	ErrRunInProgress = errors.New("service: a provisioning run is already in progress")

	// ErrNoRun is returned by operations that need an active run.
	ErrNoRun = errors.New("service: no provisioning run")
)

// EventKind classifies a service event.
type EventKind string

// Event kinds delivered to subscribers.
const (
	EventProgress      EventKind = "progress"
	EventSucceeded     EventKind = "succeeded"
	EventFailed        EventKind = "failed"
	EventCancelled     EventKind = "cancelled"
	EventRebootPending EventKind = "reboot_pending"
	EventDelegated     EventKind = "delegated"
)

// Event is one service notification fanned out to subscribers. Events are
// delivered on the dispatcher loop, in order.
type Event struct {
	Kind         EventKind          `json:"kind"`
	RunID        string             `json:"run_id,omitempty"`
	Stage        engine.Stage       `json:"stage,omitempty"`
	Code         engine.ErrorCode   `json:"code,omitempty"`
	FactoryReset bool               `json:"factory_reset,omitempty"`
	Outcome      delegation.Outcome `json:"outcome,omitempty"`
}

// Subscriber receives service events.
type Subscriber func(Event)

// Status is a point-in-time snapshot of the service.
type Status struct {
	RunID          string           `json:"run_id,omitempty"`
	State          engine.RunState  `json:"state"`
	Action         engine.Action    `json:"action,omitempty"`
	Stage          engine.Stage     `json:"stage,omitempty"`
	Code           engine.ErrorCode `json:"code,omitempty"`
	FactoryReset   bool             `json:"factory_reset,omitempty"`
	AwaitingReboot bool             `json:"awaiting_reboot,omitempty"`
}

// StartResult describes how a Start request was handled.
type StartResult struct {
	// RunID is set when a local run was started.
	RunID string `json:"run_id,omitempty"`

	// Outcome is the delegation decision made at intake.
	Outcome delegation.Outcome `json:"outcome"`

	// Launch carries the updater launch descriptor when Outcome is
	// delegate_to_updater.
	Launch *delegation.Launch `json:"launch,omitempty"`

	// AwaitingReboot reports that the request was persisted for the
	// encryption reboot instead of running now.
	AwaitingReboot bool `json:"awaiting_reboot,omitempty"`
}

// Config carries the collaborators of a Service.
type Config struct {
	Device     device.Facade
	Dispatcher *engine.Dispatcher
	Resume     *resume.Controller

	// Decider is optional; without it every request runs locally.
	Decider *delegation.Decider

	// Notifier receives the acknowledged success notification for
	// profile flows. Defaults to notify.Nop.
	Notifier notify.AdminNotifier

	// Recorder observes runs, defaults to engine.NopRecorder.
	Recorder engine.Recorder

	// UserID is the calling user provisioning runs as.
	UserID int

	Logger zerolog.Logger
}

// Service hosts at most one provisioning run at a time.
type Service struct {
	dev      device.Facade
	disp     *engine.Dispatcher
	resume   *resume.Controller
	decider  *delegation.Decider
	notifier notify.AdminNotifier
	rec      engine.Recorder
	userID   int
	logger   zerolog.Logger

	mu             sync.Mutex
	starting       bool
	ctrl           *engine.Controller
	req            *engine.ProvisioningRequest
	profile        *tasks.ProfileHandle
	runID          string
	state          engine.RunState
	stage          engine.Stage
	code           engine.ErrorCode
	factoryReset   bool
	awaitingReboot bool
	subs           []Subscriber
}

// New creates a Service.
func New(cfg Config) *Service {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	rec := cfg.Recorder
	if rec == nil {
		rec = engine.NopRecorder()
	}
	return &Service{
		dev:      cfg.Device,
		disp:     cfg.Dispatcher,
		resume:   cfg.Resume,
		decider:  cfg.Decider,
		notifier: notifier,
		rec:      rec,
		userID:   cfg.UserID,
		logger:   cfg.Logger.With().Str("component", "service").Logger(),
		state:    engine.RunStateNotStarted,
	}
}

// SetDecider replaces the delegation decider. Used when a config reload
// changes the role holder setup; takes effect for the next Start.
func (s *Service) SetDecider(d *delegation.Decider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decider = d
}

// Subscribe registers a subscriber for service events.
func (s *Service) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, sub)
}

// Start handles a provisioning request. The decision order is fixed:
// delegation first, then the encryption detour, then the local run. Only
// one run may be active at a time.
func (s *Service) Start(ctx context.Context, req *engine.ProvisioningRequest) (*StartResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// Check and reserve in one critical section: a second Start racing
	// through here must lose before any side effect happens.
	s.mu.Lock()
	if s.starting || (s.ctrl != nil && !s.state.IsTerminal()) {
		s.mu.Unlock()
		return nil, ErrRunInProgress
	}
	s.starting = true
	decider := s.decider
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
	}()

	if decider != nil {
		outcome := decider.Decide(req)
		if outcome != delegation.OutcomeRunLocally {
			return s.delegate(decider, req, outcome)
		}
	}

	required, err := s.dev.Status.EncryptionRequired(ctx)
	if err != nil {
		return nil, err
	}
	encrypted, err := s.dev.Status.Encrypted(ctx)
	if err != nil {
		return nil, err
	}
	if required && !encrypted {
		return s.deferForEncryption(ctx, req)
	}

	return s.startLocal(ctx, req)
}

func (s *Service) delegate(decider *delegation.Decider, req *engine.ProvisioningRequest, outcome delegation.Outcome) (*StartResult, error) {
	res := &StartResult{Outcome: outcome}
	if outcome == delegation.OutcomeDelegateToUpdater {
		launch, err := decider.UpdaterLaunch(req)
		if err != nil {
			return nil, err
		}
		res.Launch = &launch
	}
	s.logger.Info().Str("outcome", string(outcome)).Msg("Delegating provisioning")
	s.fanOut(Event{Kind: EventDelegated, Outcome: outcome})
	return res, nil
}

// deferForEncryption persists the request and leaves the run for the
// post-reboot resume path.
func (s *Service) deferForEncryption(ctx context.Context, req *engine.ProvisioningRequest) (*StartResult, error) {
	if err := s.resume.SetReminder(ctx, req); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.awaitingReboot = true
	s.req = req
	s.mu.Unlock()

	s.logger.Info().Str("action", string(req.Action)).
		Msg("Encryption required, provisioning deferred until after reboot")
	s.fanOut(Event{Kind: EventRebootPending})
	return &StartResult{Outcome: delegation.OutcomeRunLocally, AwaitingReboot: true}, nil
}

func (s *Service) startLocal(ctx context.Context, req *engine.ProvisioningRequest) (*StartResult, error) {
	flow, profile, err := tasks.ForRequest(req, s.dev, s.logger)
	if err != nil {
		return nil, err
	}

	ctrl := engine.NewController(engine.ControllerConfig{
		Request:    req,
		UserID:     s.userID,
		Tasks:      flow,
		Callbacks:  (*serviceCallbacks)(s),
		Dispatcher: s.disp,
		Recorder:   s.rec,
		Logger:     s.logger,
	})
	if err := ctrl.Initialize(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.ctrl = ctrl
	s.req = req
	s.profile = profile
	s.runID = ctrl.RunID()
	s.state = engine.RunStateRunning
	s.stage = ""
	s.code = ""
	s.factoryReset = false
	s.awaitingReboot = false
	s.mu.Unlock()

	// The run must outlive the caller, which is typically an HTTP request
	// whose context dies as soon as the response is written. Only an
	// explicit Cancel ends a healthy run.
	if err := ctrl.Start(context.WithoutCancel(ctx)); err != nil {
		s.mu.Lock()
		s.ctrl = nil
		s.state = engine.RunStateNotStarted
		s.mu.Unlock()
		return nil, err
	}

	return &StartResult{RunID: ctrl.RunID(), Outcome: delegation.OutcomeRunLocally}, nil
}

// Cancel requests cancellation of the active run, or clears a pending
// encryption reminder when no run is active.
func (s *Service) Cancel(ctx context.Context) error {
	s.mu.Lock()
	ctrl := s.ctrl
	awaiting := s.awaitingReboot
	s.mu.Unlock()

	if awaiting {
		if err := s.resume.CancelReminder(ctx); err != nil {
			return err
		}
		s.mu.Lock()
		s.awaitingReboot = false
		s.req = nil
		s.mu.Unlock()
		s.fanOut(Event{Kind: EventCancelled})
		return nil
	}

	if ctrl == nil {
		return ErrNoRun
	}
	ctrl.Cancel()
	return nil
}

// Status returns a snapshot of the service state.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		RunID:          s.runID,
		State:          s.state,
		Action:         s.action(),
		Stage:          s.stage,
		Code:           s.code,
		FactoryReset:   s.factoryReset,
		AwaitingReboot: s.awaitingReboot,
	}
}

// action requires s.mu held.
func (s *Service) action() engine.Action {
	if s.req == nil {
		return ""
	}
	return s.req.Action
}

// UpdateStatus re-emits the last progress of the active run.
func (s *Service) UpdateStatus() error {
	s.mu.Lock()
	ctrl := s.ctrl
	s.mu.Unlock()
	if ctrl == nil {
		return ErrNoRun
	}
	ctrl.UpdateStatus()
	return nil
}

// Resume is the startup hook: invoked once on the dispatcher loop after
// boot, it restarts a run left behind by the encryption reboot.
func (s *Service) Resume(ctx context.Context) {
	s.disp.Sync(func(ctx context.Context) {
		err := s.resume.ResumeVia(ctx, resume.LauncherFunc(func(_ context.Context, req *engine.ProvisioningRequest) error {
			// Relaunch outside the dispatcher context so callbacks are
			// posted, not run inline.
			_, err := s.Start(context.Background(), req)
			return err
		}))
		if err != nil {
			s.logger.Error().Err(err).Msg("Resume failed")
		}
	})
}

// fanOut delivers an event to all subscribers on the dispatcher loop.
func (s *Service) fanOut(ev Event) {
	s.mu.Lock()
	ev.RunID = s.runID
	subs := make([]Subscriber, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	s.disp.Post(func(context.Context) {
		for _, sub := range subs {
			sub(ev)
		}
	})
}

// serviceCallbacks receives the controller's signals on the dispatcher
// loop. It is the Service under a different method set.
type serviceCallbacks Service

func (c *serviceCallbacks) svc() *Service { return (*Service)(c) }

// Progress implements engine.Callbacks.
func (c *serviceCallbacks) Progress(stage engine.Stage) {
	s := c.svc()
	s.mu.Lock()
	s.stage = stage
	s.mu.Unlock()
	s.fanOut(Event{Kind: EventProgress, Stage: stage})
}

// Complete implements engine.Callbacks. For profile flows the admin is
// notified before the success event goes out; provisioning counts as done
// only after the notification is acknowledged or has definitively failed.
func (c *serviceCallbacks) Complete() {
	s := c.svc()
	s.mu.Lock()
	s.state = engine.RunStateSucceeded
	req := s.req
	profile := s.profile
	s.ctrl = nil
	s.mu.Unlock()

	if req != nil && req.Action.IsProfileOwner() && profile != nil {
		if userID, ok := profile.Get(); ok {
			if err := s.notifier.NotifyProfileProvisioned(context.Background(), req, userID); err != nil {
				s.logger.Error().Err(err).Msg("Admin notification not acknowledged")
			}
		}
	}

	s.fanOut(Event{Kind: EventSucceeded})
}

// Error implements engine.Callbacks.
func (c *serviceCallbacks) Error(code engine.ErrorCode, factoryResetRequired bool) {
	s := c.svc()
	s.mu.Lock()
	s.state = engine.RunStateFailed
	s.code = code
	s.factoryReset = factoryResetRequired
	s.ctrl = nil
	s.mu.Unlock()
	s.fanOut(Event{Kind: EventFailed, Code: code, FactoryReset: factoryResetRequired})
}

// Cancelled implements engine.Callbacks.
func (c *serviceCallbacks) Cancelled() {
	s := c.svc()
	s.mu.Lock()
	s.state = engine.RunStateCancelled
	s.ctrl = nil
	s.mu.Unlock()
	s.fanOut(Event{Kind: EventCancelled})
}
