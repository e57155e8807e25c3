package tasks

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/enrolld/enrolld/pkg/device"
	"github.com/enrolld/enrolld/pkg/engine"
)

var errMissingProfile = errors.New("no managed profile was created before this task")

// SetProfileOwner makes the admin component the profile owner of the
// managed profile. Fatal on failure: ownership is the point of no return
// for the profile flow.
type SetProfileOwner struct {
	policy device.Policy
	admin  engine.ComponentName
	handle *ProfileHandle
	logger zerolog.Logger
}

// NewSetProfileOwner creates the task.
func NewSetProfileOwner(policy device.Policy, admin engine.ComponentName, handle *ProfileHandle, logger zerolog.Logger) *SetProfileOwner {
	return &SetProfileOwner{
		policy: policy,
		admin:  admin,
		handle: handle,
		logger: logger.With().Str("task", "set-profile-owner").Logger(),
	}
}

func (t *SetProfileOwner) ID() string {
	return "set-profile-owner"
}

func (t *SetProfileOwner) Stage() engine.Stage {
	return engine.StageSetOwner
}

func (t *SetProfileOwner) Run(ctx context.Context, _ int, report engine.ReportFunc) {
	profileID, created := t.handle.Get()
	if !created {
		report(engine.Failure(engine.NewFatalTaskError(engine.ErrCodeSetOwner, errMissingProfile)))
		return
	}
	if err := t.policy.SetProfileOwner(ctx, profileID, t.admin.String()); err != nil {
		report(engine.Failure(engine.NewFatalTaskError(engine.ErrCodeSetOwner, err)))
		return
	}
	t.logger.Info().
		Str("admin", t.admin.String()).
		Int("profile_user_id", profileID).
		Msg("Profile owner set")
	report(engine.Success())
}

// SetDeviceOwner makes the admin component the device owner. Fatal on
// failure.
type SetDeviceOwner struct {
	policy device.Policy
	admin  engine.ComponentName
	logger zerolog.Logger
}

// NewSetDeviceOwner creates the task.
func NewSetDeviceOwner(policy device.Policy, admin engine.ComponentName, logger zerolog.Logger) *SetDeviceOwner {
	return &SetDeviceOwner{
		policy: policy,
		admin:  admin,
		logger: logger.With().Str("task", "set-device-owner").Logger(),
	}
}

func (t *SetDeviceOwner) ID() string {
	return "set-device-owner"
}

func (t *SetDeviceOwner) Stage() engine.Stage {
	return engine.StageSetOwner
}

func (t *SetDeviceOwner) Run(ctx context.Context, _ int, report engine.ReportFunc) {
	if err := t.policy.SetDeviceOwner(ctx, t.admin.String()); err != nil {
		report(engine.Failure(engine.NewFatalTaskError(engine.ErrCodeSetOwner, err)))
		return
	}
	t.logger.Info().Str("admin", t.admin.String()).Msg("Device owner set")
	report(engine.Success())
}
