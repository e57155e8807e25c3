package tasks

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/enrolld/enrolld/pkg/device"
	"github.com/enrolld/enrolld/pkg/engine"
)

// CreateManagedProfile creates the managed work profile. A failure here is
// fatal: a half-created profile cannot be retried and requires a factory
// reset. The task is cancellation-aware and removes a profile it already
// created when asked to cancel.
type CreateManagedProfile struct {
	users  device.Users
	handle *ProfileHandle
	name   string
	logger zerolog.Logger

	mu        sync.Mutex
	cancelled bool
}

// NewCreateManagedProfile creates the task. The handle receives the new
// profile's user ID for the downstream tasks.
func NewCreateManagedProfile(users device.Users, handle *ProfileHandle, logger zerolog.Logger) *CreateManagedProfile {
	return &CreateManagedProfile{
		users:  users,
		handle: handle,
		name:   "managed profile",
		logger: logger.With().Str("task", "create-managed-profile").Logger(),
	}
}

func (t *CreateManagedProfile) ID() string {
	return "create-managed-profile"
}

func (t *CreateManagedProfile) Stage() engine.Stage {
	return engine.StageProfileCreation
}

func (t *CreateManagedProfile) Run(ctx context.Context, userID int, report engine.ReportFunc) {
	profileID, err := t.users.CreateManagedProfile(ctx, userID, t.name)
	if err != nil {
		report(engine.Failure(engine.NewFatalTaskError(engine.ErrCodeProfileCreation, err)))
		return
	}
	t.handle.Set(profileID)
	t.logger.Info().Int("profile_user_id", profileID).Msg("Managed profile created")

	t.mu.Lock()
	cancelled := t.cancelled
	t.mu.Unlock()
	if cancelled {
		t.rollback(ctx)
	}
	report(engine.Success())
}

// Cancel implements engine.Cancelable: an already created profile is
// removed so a cancelled run leaves no partial profile behind. Idempotent.
func (t *CreateManagedProfile) Cancel() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	t.mu.Unlock()
	t.rollback(context.Background())
}

func (t *CreateManagedProfile) rollback(ctx context.Context) {
	profileID, created := t.handle.Get()
	if !created {
		return
	}
	if err := t.users.RemoveUser(ctx, profileID); err != nil {
		t.logger.Error().Err(err).Int("profile_user_id", profileID).
			Msg("Failed to remove profile during rollback")
		return
	}
	t.handle.Clear()
	t.logger.Info().Int("profile_user_id", profileID).Msg("Profile removed after cancellation")
}
