package engine

import (
	"encoding/json"
	"fmt"
)

// RunState represents the state of a provisioning run.
type RunState string

const (
	// RunStateNotStarted indicates the controller has been built but Start
	// has not been called.
	RunStateNotStarted RunState = "not_started"

	// RunStateRunning indicates the task list is executing.
	RunStateRunning RunState = "running"

	// RunStateSucceeded indicates all tasks completed successfully.
	RunStateSucceeded RunState = "succeeded"

	// RunStateFailed indicates a task failed and execution stopped.
	RunStateFailed RunState = "failed"

	// RunStateCancelled indicates the run was cancelled before completing.
	RunStateCancelled RunState = "cancelled"
)

// IsTerminal returns true if the run state is final.
func (s RunState) IsTerminal() bool {
	return s == RunStateSucceeded || s == RunStateFailed || s == RunStateCancelled
}

// Validate checks if the run state is valid.
func (s RunState) Validate() error {
	switch s {
	case RunStateNotStarted, RunStateRunning, RunStateSucceeded,
		RunStateFailed, RunStateCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run state: %s", s)
	}
}

// Action identifies the kind of provisioning being requested.
type Action string

const (
	// ActionManagedDevice provisions the whole device into a managed state
	// (device owner flow).
	ActionManagedDevice Action = "provision-managed-device"

	// ActionManagedProfile provisions a managed work profile for the
	// current user (profile owner flow).
	ActionManagedProfile Action = "provision-managed-profile"

	// ActionTrustedSource provisions a managed device from a trusted
	// source, optionally downloading the role holder first.
	ActionTrustedSource Action = "provision-trusted-source"
)

// IsDeviceOwner returns true for actions that run the device owner flow.
func (a Action) IsDeviceOwner() bool {
	return a == ActionManagedDevice || a == ActionTrustedSource
}

// IsProfileOwner returns true for actions that run the profile owner flow.
func (a Action) IsProfileOwner() bool {
	return a == ActionManagedProfile
}

// Validate checks if the action is a known provisioning action.
func (a Action) Validate() error {
	switch a {
	case ActionManagedDevice, ActionManagedProfile, ActionTrustedSource:
		return nil
	default:
		return fmt.Errorf("invalid provisioning action: %s", a)
	}
}

// Stage identifies the progress stage a task represents. Stages are stable
// identifiers the UI layer maps to user-visible progress text.
type Stage string

const (
	StageRestrictions    Stage = "stage_restrictions"
	StageProfileCreation Stage = "stage_profile_creation"
	StagePackageInstall  Stage = "stage_package_install"
	StageSetOwner        Stage = "stage_set_owner"
	StageAdminNotify     Stage = "stage_admin_notify"
)

// SignalKind discriminates the signals emitted by a controller.
type SignalKind string

const (
	// SignalProgress is a non-terminal per-task-boundary progress update.
	SignalProgress SignalKind = "progress"

	// SignalSuccess is the terminal signal of a fully completed run.
	SignalSuccess SignalKind = "success"

	// SignalError is the terminal signal of a failed run.
	SignalError SignalKind = "error"

	// SignalCancelled is the terminal signal of a cancelled run.
	SignalCancelled SignalKind = "cancelled"
)

// IsTerminal returns true for the three terminal signal kinds.
func (k SignalKind) IsTerminal() bool {
	return k == SignalSuccess || k == SignalError || k == SignalCancelled
}

// Signal is a progress or terminal notification emitted by a controller.
type Signal struct {
	Kind SignalKind `json:"kind"`

	// RunID identifies the run the signal belongs to.
	RunID string `json:"run_id"`

	// Stage is set for progress signals.
	Stage Stage `json:"stage,omitempty"`

	// ErrorCode and FactoryReset are set for error signals.
	ErrorCode    ErrorCode `json:"error_code,omitempty"`
	FactoryReset bool      `json:"factory_reset,omitempty"`
}

// MarshalJSON implements type-safe enum serialization.
func (s RunState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements enum deserialization with validation.
func (s *RunState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunState(str)
	return s.Validate()
}
