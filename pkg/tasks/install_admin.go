package tasks

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/enrolld/enrolld/pkg/device"
	"github.com/enrolld/enrolld/pkg/engine"
)

// InstallAdminPackage installs the admin application for the target user.
// When a profile handle is supplied the install targets the created
// profile instead of the run's user. An already installed package is a
// success; a failed install is non-fatal and retryable.
type InstallAdminPackage struct {
	packages device.Packages
	pkg      string
	profile  *ProfileHandle // nil for device owner flows
	logger   zerolog.Logger
}

// NewInstallAdminPackage creates the task. profile may be nil.
func NewInstallAdminPackage(packages device.Packages, pkg string, profile *ProfileHandle, logger zerolog.Logger) *InstallAdminPackage {
	return &InstallAdminPackage{
		packages: packages,
		pkg:      pkg,
		profile:  profile,
		logger:   logger.With().Str("task", "install-admin-package").Logger(),
	}
}

func (t *InstallAdminPackage) ID() string {
	return "install-admin-package"
}

func (t *InstallAdminPackage) Stage() engine.Stage {
	return engine.StagePackageInstall
}

func (t *InstallAdminPackage) Run(ctx context.Context, userID int, report engine.ReportFunc) {
	target := userID
	if t.profile != nil {
		profileID, created := t.profile.Get()
		if !created {
			report(engine.Failure(engine.NewTaskError(engine.ErrCodePackageInstall,
				errMissingProfile)))
			return
		}
		target = profileID
	}

	installed, err := t.packages.Installed(ctx, t.pkg)
	if err != nil {
		report(engine.Failure(engine.NewTaskError(engine.ErrCodePackageInstall, err)))
		return
	}
	if installed {
		t.logger.Debug().Str("package", t.pkg).Msg("Admin package already installed")
		report(engine.Success())
		return
	}
	if err := t.packages.Install(ctx, target, t.pkg); err != nil {
		report(engine.Failure(engine.NewTaskError(engine.ErrCodePackageInstall, err)))
		return
	}
	t.logger.Info().Str("package", t.pkg).Int("user_id", target).Msg("Admin package installed")
	report(engine.Success())
}
