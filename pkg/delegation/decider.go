// Package delegation decides whether a provisioning run is orchestrated
// locally or handed off to the device management role holder, an external
// and separately updatable component.
package delegation

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/enrolld/enrolld/pkg/engine"
)

// Outcome is the result of the delegation decision.
type Outcome string

const (
	// OutcomeRunLocally executes the task list in this process.
	OutcomeRunLocally Outcome = "run_locally"

	// OutcomeDelegateToUpdater hands provisioning off to the role holder
	// updater component.
	OutcomeDelegateToUpdater Outcome = "delegate_to_updater"

	// OutcomePlatformDownload lets the platform download the role holder
	// first, then delegates to it.
	OutcomePlatformDownload Outcome = "platform_download_then_delegate"
)

// ErrNoUpdaterPackage is returned by UpdaterLaunch when no updater package
// is configured. Constructing a delegated launch without one is a
// programmer error.
var ErrNoUpdaterPackage = errors.New("delegation: role holder updater package name is empty")

// FeatureFlags answers whether provisioning may be delegated to the role
// holder. Implementations must be synchronous and side-effect free.
type FeatureFlags interface {
	CanDelegateToRoleHolder() bool
}

// Packages answers package presence questions. Implementations must be
// synchronous and side-effect free.
type Packages interface {
	Installed(pkg string) bool
}

// Decider is the pure delegation decision. It holds only configuration and
// the two query collaborators; Decide has no side effects beyond logging.
type Decider struct {
	holderPkg  string
	updaterPkg string
	flags      FeatureFlags
	packages   Packages
	logger     zerolog.Logger
}

// NewDecider creates a Decider. Either package name may be empty, which
// forces local execution.
func NewDecider(holderPkg, updaterPkg string, flags FeatureFlags, packages Packages, logger zerolog.Logger) *Decider {
	return &Decider{
		holderPkg:  holderPkg,
		updaterPkg: updaterPkg,
		flags:      flags,
		packages:   packages,
		logger:     logger.With().Str("component", "delegation").Logger(),
	}
}

// delegable reports whether the action is in the allowed set for role
// holder delegation. Plain device owner provisioning always runs locally.
func delegable(action engine.Action) bool {
	return action == engine.ActionManagedProfile || action == engine.ActionTrustedSource
}

// Decide returns the delegation outcome for the request. The rule order is
// observable behavior and must not change: a request with download info
// but a disabled feature flag falls through to local execution rather than
// erroring.
func (d *Decider) Decide(req *engine.ProvisioningRequest) Outcome {
	if !delegable(req.Action) {
		d.logger.Info().
			Str("action", string(req.Action)).
			Msg("Running locally: action not eligible for role holder delegation")
		return OutcomeRunLocally
	}
	if d.shouldPlatformDownload(req) {
		d.logger.Info().Msg("Platform will download the role holder, then delegate")
		return OutcomePlatformDownload
	}
	if !d.flags.CanDelegateToRoleHolder() {
		d.logger.Info().Msg("Running locally: role holder feature flag is off")
		return OutcomeRunLocally
	}
	if d.holderPkg == "" {
		d.logger.Info().Msg("Running locally: role holder package name is empty")
		return OutcomeRunLocally
	}
	if d.updaterPkg == "" {
		d.logger.Info().Msg("Running locally: role holder updater package name is empty")
		return OutcomeRunLocally
	}
	if !d.packages.Installed(d.updaterPkg) {
		d.logger.Info().
			Str("package", d.updaterPkg).
			Msg("Running locally: role holder updater is not installed")
		return OutcomeRunLocally
	}
	return OutcomeDelegateToUpdater
}

// shouldPlatformDownload reports whether the platform downloads the role
// holder instead of going through the updater.
func (d *Decider) shouldPlatformDownload(req *engine.ProvisioningRequest) bool {
	if req.Action != engine.ActionTrustedSource {
		return false
	}
	if req.RoleHolderDownload == nil {
		return false
	}
	if !d.flags.CanDelegateToRoleHolder() {
		return false
	}
	return d.holderPkg != ""
}

// Launch describes how to start the delegated component.
type Launch struct {
	// Package is the component the launch targets.
	Package string `json:"package"`

	// Action is the request being handed over.
	Action engine.Action `json:"action"`
}

// UpdaterLaunch constructs the launch descriptor for the role holder
// updater. It fails fast when no updater package is configured.
func (d *Decider) UpdaterLaunch(req *engine.ProvisioningRequest) (Launch, error) {
	if d.updaterPkg == "" {
		return Launch{}, ErrNoUpdaterPackage
	}
	return Launch{Package: d.updaterPkg, Action: req.Action}, nil
}

// String implements fmt.Stringer for log readability.
func (o Outcome) String() string {
	return string(o)
}

// Validate checks if the outcome is one of the three known values.
func (o Outcome) Validate() error {
	switch o {
	case OutcomeRunLocally, OutcomeDelegateToUpdater, OutcomePlatformDownload:
		return nil
	default:
		return fmt.Errorf("invalid delegation outcome: %s", o)
	}
}
