package climate

import (
	"sync"
	"time"
)

// Entity is anything whose state is driven by Updates.
//
// Apply is the single mutation entry point for received data. It returns
// true when the update was applied and false when it was discarded as
// older than the current state. Discarding is not an error.
type Entity interface {
	ID() string
	Apply(u Update) bool
	LastApplied() time.Time
	Initialized() bool
	Data() map[string]any
}

// Device is an Entity that belongs to an installation and web server and
// accepts parameter commands.
type Device interface {
	Entity
	Kind() Kind
	InstallationID() string
	WebServerID() string
	Name() string
	Available() bool

	// SetParam updates local state after a command has been sent to the
	// cloud. The next full update confirms or replaces the value.
	SetParam(param string, value any) error
}

// record is the reconciliation core shared by every entity.
//
// The lock serialises Apply, SetParam and state reads for one entity only.
type record struct {
	mu          sync.RWMutex
	lastApplied time.Time
	initialized bool
}

// apply runs decode with the lock held if u is not older than the last
// applied update. The newer check happens under the lock so two
// concurrent updates for the same entity cannot both pass against a
// stale timestamp.
func (r *record) apply(u Update, decode func(data map[string]any)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !u.Newer(r.lastApplied) {
		return false
	}

	decode(u.Data())
	r.lastApplied = u.CreatedAt
	if u.Origin.IsFull() {
		r.initialized = true
	}
	return true
}

// LastApplied returns the capture time of the last accepted update.
func (r *record) LastApplied() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastApplied
}

// Initialized reports whether at least one full update has been applied.
func (r *record) Initialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized
}
