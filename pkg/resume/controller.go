// Package resume manages everything related to the encryption reboot: a
// reminder persists the in-flight request to the single resume slot and
// arms a dormant trigger; after the reboot the startup hook calls Resume,
// which reloads the request and restarts or re-notifies about the run.
package resume

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/enrolld/enrolld/pkg/device"
	"github.com/enrolld/enrolld/pkg/engine"
	"github.com/enrolld/enrolld/pkg/resume/storage"
)

// Launcher restarts a provisioning run from a reloaded request.
type Launcher interface {
	Launch(ctx context.Context, req *engine.ProvisioningRequest) error
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(ctx context.Context, req *engine.ProvisioningRequest) error

// Launch implements Launcher.
func (f LauncherFunc) Launch(ctx context.Context, req *engine.ProvisioningRequest) error {
	return f(ctx, req)
}

// Notifier shows the low-priority resume notification used for profile
// owner flows on a device whose setup already completed, where an
// immediate relaunch is not time critical.
type Notifier interface {
	ShowResumeNotification(ctx context.Context, req *engine.ProvisioningRequest) error
}

// Controller owns the resume slot and the trigger component.
type Controller struct {
	store     storage.Store
	packages  device.Packages
	status    device.Status
	launcher  Launcher
	notifier  Notifier
	component string
	userID    int
	logger    zerolog.Logger

	// resumed is the in-memory at-most-once latch. Resume is restricted
	// to the dispatcher loop, so a plain bool is sufficient; a process
	// restart resets it and re-enables one resume attempt.
	resumed bool
}

// Config carries the collaborators of a resume Controller.
type Config struct {
	Store    storage.Store
	Packages device.Packages
	Status   device.Status
	Launcher Launcher
	Notifier Notifier

	// Component is the dormant trigger component armed for flows inside
	// initial device setup.
	Component string

	// UserID is the user the trigger component is toggled for.
	UserID int

	Logger zerolog.Logger
}

// NewController creates a resume controller.
func NewController(cfg Config) *Controller {
	return &Controller{
		store:     cfg.Store,
		packages:  cfg.Packages,
		status:    cfg.Status,
		launcher:  cfg.Launcher,
		notifier:  cfg.Notifier,
		component: cfg.Component,
		userID:    cfg.UserID,
		logger:    cfg.Logger.With().Str("component", "resume").Logger(),
	}
}

// SetReminder persists the request into the resume slot and, for flows
// inside initial device setup, arms the dormant trigger component. The
// request is serialized before the trigger is armed: a crash between the
// two steps must never leave an armed trigger with no data to resume.
func (c *Controller) SetReminder(ctx context.Context, req *engine.ProvisioningRequest) error {
	c.logger.Info().Str("action", string(req.Action)).Msg("Setting provisioning reminder")
	data, err := req.Encode()
	if err != nil {
		return err
	}
	if err := c.store.SaveRequest(ctx, data); err != nil {
		return err
	}

	setupDone, err := c.status.UserSetupCompleted(ctx)
	if err != nil {
		return err
	}
	// Showing the resume notification after setup is less time critical,
	// so the trigger is only armed for flows inside initial setup.
	if !setupDone {
		c.logger.Info().Str("trigger", c.component).Msg("Arming resume trigger")
		if err := c.store.SetArmed(ctx, true); err != nil {
			return err
		}
		if err := c.packages.SetComponentEnabled(ctx, c.userID, c.component, true); err != nil {
			return err
		}
		// Force the enable state onto disk before returning.
		if err := c.packages.FlushRestrictions(ctx, c.userID); err != nil {
			return err
		}
	}
	return nil
}

// CancelReminder clears the resume slot and disarms the trigger. Safe to
// call when nothing is pending.
func (c *Controller) CancelReminder(ctx context.Context) error {
	c.logger.Info().Msg("Cancelling provisioning reminder")
	return c.consume(ctx)
}

// consume empties the slot: record deleted, armed flag cleared, trigger
// component disabled.
func (c *Controller) consume(ctx context.Context) error {
	if err := c.store.DeleteRequest(ctx); err != nil {
		return err
	}
	if err := c.store.SetArmed(ctx, false); err != nil {
		return err
	}
	return c.packages.SetComponentEnabled(ctx, c.userID, c.component, false)
}

// Resume restarts provisioning after the encryption reboot using the
// configured launcher. Once a persisted request is found and decoded the
// slot is consumed: record deleted, trigger disarmed. Only this attempt
// acts on it; later process lifetimes find an empty slot.
//
// It must be invoked on the dispatcher loop; any other context is a
// programmer error and fails fast with ErrOffDispatcher. All other
// problems (no record, decode failure, device unexpectedly not encrypted)
// are dead ends handled here: they are logged and never propagated.
func (c *Controller) Resume(ctx context.Context) error {
	return c.ResumeVia(ctx, c.launcher)
}

// ResumeVia is the resume-with-transition variant: it behaves like Resume
// but delivers the reloaded request through the supplied launcher.
func (c *Controller) ResumeVia(ctx context.Context, launcher Launcher) error {
	if !engine.OnDispatcher(ctx) {
		return engine.ErrOffDispatcher
	}
	if c.resumed {
		// The trigger can fire more than once (duplicate deliveries after
		// boot); only the first invocation per process lifetime resumes.
		return nil
	}

	data, found, err := c.store.LoadRequest(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to read the resume slot")
		return nil
	}
	if !found {
		return nil
	}
	req, err := engine.DecodeRequest(data)
	if err != nil {
		c.logger.Error().Err(err).Msg("Persisted request is unreadable, not resuming")
		return nil
	}
	c.resumed = true
	c.logger.Info().Str("action", string(req.Action)).Msg("Resuming provisioning after encryption")

	// The armed flag recorded at reminder time decides the routing below;
	// read it before the slot is consumed.
	armed, err := c.store.Armed(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Could not read the resume trigger state")
		armed = false
	}

	// The record is consumed exactly once. A later restart, with its
	// fresh in-memory latch, must never find it again and re-run tasks
	// that already executed.
	if err := c.consume(ctx); err != nil {
		c.logger.Error().Err(err).Msg("Failed to clear the resume slot")
	}

	encrypted, err := c.status.Encrypted(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Could not determine encryption state")
		return nil
	}
	if !encrypted {
		// Retrying an inconsistent encryption state is unsafe.
		c.logger.Error().Str("action", string(req.Action)).
			Msg("Device is not encrypted after the encryption reboot, not resuming")
		return nil
	}

	switch {
	case req.Action.IsProfileOwner():
		// Armed means the reminder was set inside initial setup, where an
		// immediate relaunch is expected. Otherwise a notification is
		// enough and the user restarts the flow at their own pace.
		if !armed {
			if err := c.notifier.ShowResumeNotification(ctx, req); err != nil {
				c.logger.Error().Err(err).Msg("Failed to show resume notification")
			}
			return nil
		}
		c.launch(ctx, launcher, req)
	case req.Action.IsDeviceOwner():
		c.launch(ctx, launcher, req)
	default:
		c.logger.Error().Str("action", string(req.Action)).
			Msg("Unknown action loaded from the resume slot")
	}
	return nil
}

func (c *Controller) launch(ctx context.Context, launcher Launcher, req *engine.ProvisioningRequest) {
	if err := launcher.Launch(ctx, req); err != nil {
		c.logger.Error().Err(err).Msg("Failed to relaunch provisioning")
	}
}
