package engine

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a user-visible provisioning failure for the UI layer.
type ErrorCode string

// User-visible error codes surfaced through the terminal error signal.
const (
	ErrCodeGeneral          ErrorCode = "ERROR_GENERAL"
	ErrCodeProfileCreation  ErrorCode = "ERROR_PROFILE_CREATION"
	ErrCodePackageInstall   ErrorCode = "ERROR_PACKAGE_INSTALL"
	ErrCodeSetOwner         ErrorCode = "ERROR_SET_OWNER"
	ErrCodeUserRestriction  ErrorCode = "ERROR_USER_RESTRICTION"
	ErrCodeAdminNotify      ErrorCode = "ERROR_ADMIN_NOTIFY"
	ErrCodePreconditions    ErrorCode = "ERROR_PRECONDITIONS"
)

// Programmer errors and invariant violations. These fail fast at the call
// site and are never converted into terminal run signals.
var (
	// ErrNotInitialized is returned by Start when Initialize was not called.
	ErrNotInitialized = errors.New("engine: controller not initialized")

	// ErrAlreadyStarted is returned by Start on a controller whose run has
	// already begun.
	ErrAlreadyStarted = errors.New("engine: controller already started")

	// ErrNoTasks is returned by Initialize when the task list is empty.
	ErrNoTasks = errors.New("engine: task list is empty")

	// ErrOffDispatcher is returned when an operation restricted to the
	// dispatcher run loop is invoked from any other goroutine.
	ErrOffDispatcher = errors.New("engine: must be called on the dispatcher loop")
)

// ProvisionError is a task failure carrying the user-visible error code and
// whether the device must be factory reset to recover. A fatal failure
// (FactoryReset true) means an irreversible step partially completed, e.g.
// a half-created managed profile.
type ProvisionError struct {
	// Code is the user-visible error identifier.
	Code ErrorCode

	// FactoryReset reports whether recovery requires a factory reset
	// rather than a retry.
	FactoryReset bool

	// Task is the ID of the task that failed, if known.
	Task string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ProvisionError) Error() string {
	reset := "retryable"
	if e.FactoryReset {
		reset = "factory reset required"
	}
	if e.Task != "" {
		return fmt.Sprintf("[%s] task %s failed (%s): %v", e.Code, e.Task, reset, e.Err)
	}
	return fmt.Sprintf("[%s] provisioning failed (%s): %v", e.Code, reset, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// NewTaskError creates a non-fatal task failure.
func NewTaskError(code ErrorCode, err error) *ProvisionError {
	return &ProvisionError{Code: code, Err: err}
}

// NewFatalTaskError creates a fatal task failure that requires a factory
// reset.
func NewFatalTaskError(code ErrorCode, err error) *ProvisionError {
	return &ProvisionError{Code: code, FactoryReset: true, Err: err}
}

// WithTask attaches the failing task ID.
func (e *ProvisionError) WithTask(taskID string) *ProvisionError {
	e.Task = taskID
	return e
}

// AsProvisionError extracts a ProvisionError from an error chain. Errors
// that are not ProvisionErrors are wrapped as non-fatal general failures so
// that every task failure surfaces with a code.
func AsProvisionError(err error) *ProvisionError {
	if err == nil {
		return nil
	}
	var pe *ProvisionError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProvisionError{Code: ErrCodeGeneral, Err: err}
}

// IsFatal reports whether err carries a factory-reset-required failure.
func IsFatal(err error) bool {
	var pe *ProvisionError
	if errors.As(err, &pe) {
		return pe.FactoryReset
	}
	return false
}
