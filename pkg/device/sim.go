package device

import (
	"context"
	"fmt"
	"sync"
)

// Sim is an in-memory simulated device implementing all four boundary
// interfaces. It backs tests and the development wiring of the daemon.
type Sim struct {
	mu sync.Mutex

	users        map[int]User
	restrictions map[int]map[string]bool
	nextUserID   int

	installed  map[string]bool
	components map[string]bool
	flushes    int

	profileOwners map[int]string
	deviceOwner   string

	encrypted          bool
	encryptionRequired bool
	setupCompleted     bool
	headless           bool
}

// SimOption mutates the initial state of a Sim.
type SimOption func(*Sim)

// WithEncrypted sets the initial encryption state.
func WithEncrypted(v bool) SimOption {
	return func(s *Sim) { s.encrypted = v }
}

// WithEncryptionRequired marks the device as needing an encryption reboot.
func WithEncryptionRequired(v bool) SimOption {
	return func(s *Sim) { s.encryptionRequired = v }
}

// WithSetupCompleted sets the initial setup-completion flag.
func WithSetupCompleted(v bool) SimOption {
	return func(s *Sim) { s.setupCompleted = v }
}

// WithHeadlessSystemUser enables headless system user mode.
func WithHeadlessSystemUser(v bool) SimOption {
	return func(s *Sim) { s.headless = v }
}

// WithInstalledPackage pre-installs a package.
func WithInstalledPackage(pkg string) SimOption {
	return func(s *Sim) { s.installed[pkg] = true }
}

// NewSim creates a simulated device with a single system user.
func NewSim(opts ...SimOption) *Sim {
	s := &Sim{
		users:         map[int]User{SystemUserID: {ID: SystemUserID, Name: "system"}},
		restrictions:  map[int]map[string]bool{},
		nextUserID:    10,
		installed:     map[string]bool{},
		components:    map[string]bool{},
		profileOwners: map[int]string{},
		encrypted:     true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Facade returns the Sim wired as a device facade.
func (s *Sim) Facade() Facade {
	return Facade{Users: s, Packages: s, Policy: s, Status: s}
}

func (s *Sim) List(_ context.Context) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	return out, nil
}

func (s *Sim) HasRestriction(_ context.Context, userID int, restriction string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restrictions[userID][restriction], nil
}

func (s *Sim) SetRestriction(_ context.Context, userID int, restriction string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return fmt.Errorf("unknown user %d", userID)
	}
	if s.restrictions[userID] == nil {
		s.restrictions[userID] = map[string]bool{}
	}
	s.restrictions[userID][restriction] = enabled
	return nil
}

func (s *Sim) CreateManagedProfile(_ context.Context, parentUserID int, name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[parentUserID]; !ok {
		return 0, fmt.Errorf("unknown parent user %d", parentUserID)
	}
	id := s.nextUserID
	s.nextUserID++
	s.users[id] = User{ID: id, Name: name}
	return id, nil
}

func (s *Sim) RemoveUser(_ context.Context, userID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
	delete(s.restrictions, userID)
	delete(s.profileOwners, userID)
	return nil
}

func (s *Sim) Installed(_ context.Context, pkg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.installed[pkg], nil
}

func (s *Sim) Install(_ context.Context, _ int, pkg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.installed[pkg] = true
	return nil
}

func (s *Sim) SetComponentEnabled(_ context.Context, _ int, component string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.components[component] = enabled
	return nil
}

func (s *Sim) FlushRestrictions(_ context.Context, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

// FlushCount reports how many flush barriers were issued. Test helper.
func (s *Sim) FlushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

// ComponentEnabled reports a component's enable state. Test helper.
func (s *Sim) ComponentEnabled(component string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.components[component]
}

func (s *Sim) SetProfileOwner(_ context.Context, userID int, admin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return fmt.Errorf("unknown user %d", userID)
	}
	s.profileOwners[userID] = admin
	return nil
}

func (s *Sim) SetDeviceOwner(_ context.Context, admin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deviceOwner != "" && s.deviceOwner != admin {
		return fmt.Errorf("device owner already set to %s", s.deviceOwner)
	}
	s.deviceOwner = admin
	return nil
}

// ProfileOwner returns the admin owning the user's profile. Test helper.
func (s *Sim) ProfileOwner(userID int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profileOwners[userID]
}

// DeviceOwner returns the current device owner. Test helper.
func (s *Sim) DeviceOwner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceOwner
}

func (s *Sim) Encrypted(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encrypted, nil
}

func (s *Sim) EncryptionRequired(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encryptionRequired, nil
}

func (s *Sim) UserSetupCompleted(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setupCompleted, nil
}

func (s *Sim) HeadlessSystemUser(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headless, nil
}

// SetSetupCompleted marks initial device setup as finished (or not).
func (s *Sim) SetSetupCompleted(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setupCompleted = v
}

// SetEncrypted flips the encryption state, simulating the encryption
// reboot having happened (or failed to).
func (s *Sim) SetEncrypted(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encrypted = v
	if v {
		s.encryptionRequired = false
	}
}
