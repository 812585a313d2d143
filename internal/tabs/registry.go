// Package tabs tracks per-tab relay readiness. Records are advisory and
// process-lifetime scoped; delivery retries re-derive anything lost on
// restart.
package tabs

import (
	"context"
	"sync"
	"time"
)

// DefaultReadyTimeout bounds how long a caller waits for a readiness signal.
const DefaultReadyTimeout = 5 * time.Second

type record struct {
	ready   bool
	readyCh chan struct{} // closed when the relay announces readiness
}

// Registry maps tab IDs to readiness records. At most one record per tab.
type Registry struct {
	mu   sync.Mutex
	tabs map[string]*record
}

func NewRegistry() *Registry {
	return &Registry{tabs: make(map[string]*record)}
}

func (r *Registry) get(tabID string) *record {
	rec, ok := r.tabs[tabID]
	if !ok {
		rec = &record{readyCh: make(chan struct{})}
		r.tabs[tabID] = rec
	}
	return rec
}

// MarkReady records that the tab's relay has announced readiness.
// Idempotent; repeated announcements for the same load are harmless.
func (r *Registry) MarkReady(tabID string) {
	if tabID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.get(tabID)
	if rec.ready {
		return
	}
	rec.ready = true
	close(rec.readyCh)
}

// Ready reports whether the tab's relay has announced readiness.
func (r *Registry) Ready(tabID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.tabs[tabID]
	return ok && rec.ready
}

// Remove deletes the tab's record. Called when the tab closes; in-flight
// waiters simply time out against the closed tab.
func (r *Registry) Remove(tabID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tabs, tabID)
}

// Count returns the number of tracked tabs.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tabs)
}

// WaitReady blocks until the tab's relay is ready, the timeout elapses or
// ctx is done, whichever comes first. Returns true only on readiness.
func (r *Registry) WaitReady(ctx context.Context, tabID string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}

	r.mu.Lock()
	rec := r.get(tabID)
	if rec.ready {
		r.mu.Unlock()
		return true
	}
	ch := rec.readyCh
	r.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
