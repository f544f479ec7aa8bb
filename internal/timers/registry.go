// Package timers holds the process-local table of pending one-shot timers.
//
// Every entry is claimed exactly once: either by its own timer callback (the
// task fires) or by Disarm (the task is cancelled). Both claim under the
// registry lock, so a cancellation racing an in-flight fire observes exactly
// one outcome. Callbacks run outside the lock.
package timers

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrDuplicateTask = errors.New("task already armed")

type entry struct {
	timer   *time.Timer
	claimed bool
}

type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

func New() *Registry {
	return &Registry{entries: make(map[string]*entry), now: time.Now}
}

// Arm schedules fn to run at fireAt. A fireAt that already passed fires
// immediately.
func (r *Registry) Arm(id string, fireAt time.Time, fn func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; ok {
		return ErrDuplicateTask
	}

	delay := fireAt.Sub(r.now())
	if delay < 0 {
		delay = 0
	}

	e := &entry{}
	// The callback blocks on r.mu until Arm returns, so e.timer is set
	// before anyone can claim the entry.
	e.timer = time.AfterFunc(delay, func() {
		if r.claim(id, e) {
			fn()
		}
	})
	r.entries[id] = e
	return nil
}

func (r *Registry) claim(id string, e *entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.entries[id]
	if !ok || cur != e || e.claimed {
		return false
	}
	e.claimed = true
	return true
}

// Disarm cancels the pending fire for id. It returns false when the timer
// already started firing or id is unknown.
func (r *Registry) Disarm(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.claimed {
		return false
	}
	e.claimed = true
	e.timer.Stop()
	delete(r.entries, id)
	return true
}

// Remove drops the entry for id. A callback that is already running is not
// affected.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// Len returns the number of entries, including fired ones not yet removed.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// IDs returns the ids of all entries in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// StopAll disarms every pending timer and returns how many were stopped.
// Entries whose callback already started are left for their owner to remove.
func (r *Registry) StopAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.entries {
		if e.claimed {
			continue
		}
		e.claimed = true
		e.timer.Stop()
		delete(r.entries, id)
		n++
	}
	return n
}
