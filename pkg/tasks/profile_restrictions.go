package tasks

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/enrolld/enrolld/pkg/device"
	"github.com/enrolld/enrolld/pkg/engine"
)

// baselineProfileRestrictions are applied to every freshly created managed
// profile before ownership is handed to the admin.
var baselineProfileRestrictions = []string{
	device.RestrictionAddUser,
	device.RestrictionUnknownSources,
}

// SetProfileRestrictions applies the baseline restrictions to the new
// managed profile and flushes them to disk. The flush is the write
// barrier: once it returns, the restrictions survive an immediate reboot.
type SetProfileRestrictions struct {
	users    device.Users
	packages device.Packages
	profile  *ProfileHandle
	logger   zerolog.Logger
}

// NewSetProfileRestrictions creates the task.
func NewSetProfileRestrictions(users device.Users, packages device.Packages, profile *ProfileHandle, logger zerolog.Logger) *SetProfileRestrictions {
	return &SetProfileRestrictions{
		users:    users,
		packages: packages,
		profile:  profile,
		logger:   logger.With().Str("task", "set-profile-restrictions").Logger(),
	}
}

func (t *SetProfileRestrictions) ID() string {
	return "set-profile-restrictions"
}

func (t *SetProfileRestrictions) Stage() engine.Stage {
	return engine.StageRestrictions
}

func (t *SetProfileRestrictions) Run(ctx context.Context, _ int, report engine.ReportFunc) {
	profileID, ok := t.profile.Get()
	if !ok {
		report(engine.Failure(engine.NewTaskError(engine.ErrCodeUserRestriction, errMissingProfile)))
		return
	}

	for _, restriction := range baselineProfileRestrictions {
		if err := t.users.SetRestriction(ctx, profileID, restriction, true); err != nil {
			report(engine.Failure(engine.NewTaskError(engine.ErrCodeUserRestriction, err)))
			return
		}
	}
	if err := t.packages.FlushRestrictions(ctx, profileID); err != nil {
		report(engine.Failure(engine.NewTaskError(engine.ErrCodeUserRestriction, err)))
		return
	}

	t.logger.Info().Int("profile_user_id", profileID).
		Strs("restrictions", baselineProfileRestrictions).
		Msg("Profile restrictions applied")
	report(engine.Success())
}
