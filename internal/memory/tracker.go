package memory

import (
	"sync"
)

// Releasable represents any resource that can be released to free memory
// or disk space.
type Releasable interface {
	Release()
}

// Tracker collects intermediate resources (buckets, sorted runs, spill
// tables) so they can be released together on every exit path.
//
// The recommended pattern is:
//
//	tracker := memory.NewTracker()
//	defer tracker.ReleaseAll()
type Tracker struct {
	resources []Releasable
	mu        sync.Mutex
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{resources: make([]Releasable, 0)}
}

// Track adds a resource to be released by ReleaseAll
func (t *Tracker) Track(resource Releasable) {
	if resource == nil {
		return
	}
	t.mu.Lock()
	t.resources = append(t.resources, resource)
	t.mu.Unlock()
}

// Untrack hands ownership of a resource back to the caller. It reports
// whether the resource was tracked.
func (t *Tracker) Untrack(resource Releasable) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, r := range t.resources {
		if r == resource {
			t.resources = append(t.resources[:i], t.resources[i+1:]...)
			return true
		}
	}
	return false
}

// Count returns the number of tracked resources
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.resources)
}

// ReleaseAll releases tracked resources in reverse order and clears the list
func (t *Tracker) ReleaseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.resources) - 1; i >= 0; i-- {
		if t.resources[i] != nil {
			t.resources[i].Release()
		}
	}
	t.resources = t.resources[:0]
}
