// Package tasks contains the concrete provisioning steps composed into the
// device owner and profile owner flows. Each task honors the engine
// contract: Run is invoked at most once, reports exactly one result, and
// construction alone has no side effects.
package tasks

import (
	"sync"
)

// ProfileHandle carries the user ID of a managed profile from the task
// that creates it to the tasks that configure it. It is the only state
// shared between tasks, and only via explicit constructor arguments.
type ProfileHandle struct {
	mu      sync.Mutex
	userID  int
	created bool
}

// Set records the created profile.
func (h *ProfileHandle) Set(userID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.userID = userID
	h.created = true
}

// Get returns the profile user ID and whether a profile was created.
func (h *ProfileHandle) Get() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.userID, h.created
}

// Clear forgets the profile after a rollback.
func (h *ProfileHandle) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.created = false
}
