// Package sentinel guards decoded pixel buffers. Submissions may contain
// personal photographs, so raw pixels must not outlive their analysis: every
// buffer admitted to the engine is zeroed exactly once, on every exit path,
// before the request's terminal state is published.
package sentinel

import (
	"sync"
)

// Guard owns one sensitive buffer. Wipe zeroes it and drops the reference;
// after that Bytes returns nil. Wipe is idempotent and safe to call from
// multiple goroutines, but callers must not read the buffer concurrently
// with Wipe. The engine orders scorer shutdown before the wipe.
type Guard struct {
	mu      sync.Mutex
	buf     []byte
	wiped   bool
	id      string
	tracker *Tracker
}

// Protect wraps a buffer in an untracked guard. id ties audit records to a
// request.
func Protect(id string, buf []byte) *Guard {
	return &Guard{id: id, buf: buf}
}

// ID returns the request identifier this guard was registered under.
func (g *Guard) ID() string {
	return g.id
}

// Bytes returns the protected buffer, or nil once wiped.
func (g *Guard) Bytes() []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.buf
}

// Wipe zeroes every byte of the buffer and releases it. The first call does
// the work; later calls are no-ops.
func (g *Guard) Wipe() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.wiped {
		return
	}
	for i := range g.buf {
		g.buf[i] = 0
	}
	g.buf = nil
	g.wiped = true
	if g.tracker != nil {
		g.tracker.markWiped(g.id)
	}
}

// Wiped reports whether the buffer has been zeroed.
func (g *Guard) Wiped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.wiped
}

// Tracker audits guard lifecycles. Outstanding should read zero whenever
// the engine is idle; a persistent nonzero count means some path leaked a
// buffer unwiped.
type Tracker struct {
	mu        sync.Mutex
	active    map[string]struct{}
	protected uint64
	wiped     uint64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{active: make(map[string]struct{})}
}

// Protect wraps a buffer in a guard registered with this tracker.
func (t *Tracker) Protect(id string, buf []byte) *Guard {
	t.mu.Lock()
	t.active[id] = struct{}{}
	t.protected++
	t.mu.Unlock()
	return &Guard{id: id, buf: buf, tracker: t}
}

func (t *Tracker) markWiped(id string) {
	t.mu.Lock()
	if _, ok := t.active[id]; ok {
		delete(t.active, id)
		t.wiped++
	}
	t.mu.Unlock()
}

// Outstanding returns the number of guards not yet wiped.
func (t *Tracker) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// Stats returns lifetime protect and wipe counts.
func (t *Tracker) Stats() (protected, wiped uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.protected, t.wiped
}
