// Package presence tracks which identities currently hold a live realtime
// connection. It is a cache of who is reachable, never a source of truth.
package presence

import (
	"sort"
	"sync"
	"time"
)

// Entry is one connected identity. Handle is the opaque connection the
// realtime layer routes to; it must be comparable.
type Entry struct {
	UserID   string    `json:"user_id"`
	Handle   any       `json:"-"`
	JoinedAt time.Time `json:"joined_at"`
}

// Tracker is the presence contract the realtime hub depends on.
type Tracker interface {
	// Join records userID on handle, replacing any earlier entry.
	Join(userID string, handle any) Entry
	// Leave removes userID. Leaving an absent identity is a no-op.
	Leave(userID string) bool
	// Release removes userID only while it is still bound to handle.
	Release(userID string, handle any) bool
	Lookup(userID string) (Entry, bool)
	Snapshot() []Entry
	Clear()
}

// Registry is the in-process Tracker.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

var _ Tracker = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

func (r *Registry) Join(userID string, handle any) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := Entry{UserID: userID, Handle: handle, JoinedAt: r.now()}
	r.entries[userID] = e
	return e
}

func (r *Registry) Leave(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[userID]; !ok {
		return false
	}
	delete(r.entries, userID)
	return true
}

func (r *Registry) Release(userID string, handle any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok || e.Handle != handle {
		return false
	}
	delete(r.entries, userID)
	return true
}

func (r *Registry) Lookup(userID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[userID]
	return e, ok
}

// Snapshot returns a copy of the registry ordered by join time, then identity.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Clear drops every entry. Called at shutdown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.entries)
}
