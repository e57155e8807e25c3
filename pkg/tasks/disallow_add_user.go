package tasks

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/enrolld/enrolld/pkg/device"
	"github.com/enrolld/enrolld/pkg/engine"
)

// DisallowAddUser sets the add-user restriction on every user of the
// device. On headless system user mode the restriction is skipped
// entirely: the system user must stay able to manage users.
type DisallowAddUser struct {
	users  device.Users
	status device.Status
	logger zerolog.Logger
}

// NewDisallowAddUser creates the task.
func NewDisallowAddUser(users device.Users, status device.Status, logger zerolog.Logger) *DisallowAddUser {
	return &DisallowAddUser{
		users:  users,
		status: status,
		logger: logger.With().Str("task", "disallow-add-user").Logger(),
	}
}

func (t *DisallowAddUser) ID() string {
	return "disallow-add-user"
}

func (t *DisallowAddUser) Stage() engine.Stage {
	return engine.StageRestrictions
}

func (t *DisallowAddUser) Run(ctx context.Context, userID int, report engine.ReportFunc) {
	headless, err := t.status.HeadlessSystemUser(ctx)
	if err != nil {
		report(engine.Failure(engine.NewTaskError(engine.ErrCodeUserRestriction, err)))
		return
	}
	if headless {
		if userID != device.SystemUserID {
			// Should not happen; log rather than fail the run.
			t.logger.Error().Int("user_id", userID).
				Msg("Not running as the system user on headless system user mode")
		}
		t.logger.Info().Msg("Skipping add-user restriction on headless system user mode")
		report(engine.Success())
		return
	}

	users, err := t.users.List(ctx)
	if err != nil {
		report(engine.Failure(engine.NewTaskError(engine.ErrCodeUserRestriction, err)))
		return
	}
	for _, u := range users {
		has, err := t.users.HasRestriction(ctx, u.ID, device.RestrictionAddUser)
		if err != nil {
			report(engine.Failure(engine.NewTaskError(engine.ErrCodeUserRestriction, err)))
			return
		}
		if has {
			continue
		}
		if err := t.users.SetRestriction(ctx, u.ID, device.RestrictionAddUser, true); err != nil {
			report(engine.Failure(engine.NewTaskError(engine.ErrCodeUserRestriction, err)))
			return
		}
		t.logger.Info().Int("user_id", u.ID).Msg("Add-user restriction set")
	}
	report(engine.Success())
}
