// Package device defines the boundary between the provisioning engine and
// the platform it manages. Tasks and the resume path depend only on these
// narrow interfaces; the real OS bindings live with the integrator.
package device

import "context"

// SystemUserID is the ID of the system user.
const SystemUserID = 0

// RestrictionAddUser blocks creation of additional users on the device.
const RestrictionAddUser = "no_add_user"

// RestrictionUnknownSources blocks sideloading packages from unknown
// sources inside a managed profile.
const RestrictionUnknownSources = "no_install_unknown_sources"

// User describes one user known to the device.
type User struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Users manages device users and their restrictions.
type Users interface {
	// List returns all users on the device.
	List(ctx context.Context) ([]User, error)

	// HasRestriction reports whether the restriction is set for the user.
	HasRestriction(ctx context.Context, userID int, restriction string) (bool, error)

	// SetRestriction sets or clears a restriction for the user.
	SetRestriction(ctx context.Context, userID int, restriction string, enabled bool) error

	// CreateManagedProfile creates a managed profile under the parent user
	// and returns the new profile's user ID.
	CreateManagedProfile(ctx context.Context, parentUserID int, name string) (int, error)

	// RemoveUser deletes a user or profile. Used to roll back a cancelled
	// profile creation; removing an unknown user is not an error.
	RemoveUser(ctx context.Context, userID int) error
}

// Packages manages package installation and component state.
type Packages interface {
	// Installed reports whether the package is present.
	Installed(ctx context.Context, pkg string) (bool, error)

	// Install installs the package for the user.
	Install(ctx context.Context, userID int, pkg string) error

	// SetComponentEnabled toggles a dormant component at the OS level.
	SetComponentEnabled(ctx context.Context, userID int, component string, enabled bool) error

	// FlushRestrictions durably flushes package restriction state to disk.
	// It is the write barrier the resume path relies on: once it returns,
	// component enable state survives an immediate reboot.
	FlushRestrictions(ctx context.Context, userID int) error
}

// Policy assigns device and profile ownership to the admin component.
type Policy interface {
	// SetProfileOwner makes admin the profile owner of the user.
	SetProfileOwner(ctx context.Context, userID int, admin string) error

	// SetDeviceOwner makes admin the device owner.
	SetDeviceOwner(ctx context.Context, admin string) error
}

// Status exposes read-only device state the orchestration consults.
type Status interface {
	// Encrypted reports whether the device storage is encrypted.
	Encrypted(ctx context.Context) (bool, error)

	// EncryptionRequired reports whether provisioning must first reboot
	// into encryption before tasks can run.
	EncryptionRequired(ctx context.Context) (bool, error)

	// UserSetupCompleted reports whether initial device setup finished.
	UserSetupCompleted(ctx context.Context) (bool, error)

	// HeadlessSystemUser reports whether the device runs in headless
	// system user mode.
	HeadlessSystemUser(ctx context.Context) (bool, error)
}

// Facade bundles the four device interfaces for wiring convenience.
type Facade struct {
	Users    Users
	Packages Packages
	Policy   Policy
	Status   Status
}
