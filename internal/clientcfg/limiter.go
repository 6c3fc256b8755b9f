package clientcfg

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// Limiter enforces per-client concurrent request caps. Acquisition is
// non-blocking; a client at its cap is shed, not queued.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*clientSlot
}

type clientSlot struct {
	cap int64
	sem *semaphore.Weighted
}

// NewLimiter creates an empty limiter.
func NewLimiter() *Limiter {
	return &Limiter{
		clients: make(map[string]*clientSlot),
	}
}

// Acquire claims one slot for the client under the given cap. It returns a
// release closure and true on success, or nil and false when the client is
// already at its cap. A cap of zero or less means unlimited.
//
// The release closure captures the semaphore it acquired from, so in-flight
// requests stay balanced even if the cap changes underneath them.
func (l *Limiter) Acquire(clientID string, cap int64) (func(), bool) {
	if cap <= 0 {
		return func() {}, true
	}

	l.mu.Lock()
	slot, ok := l.clients[clientID]
	if !ok || slot.cap != cap {
		slot = &clientSlot{cap: cap, sem: semaphore.NewWeighted(cap)}
		l.clients[clientID] = slot
	}
	l.mu.Unlock()

	sem := slot.sem
	if !sem.TryAcquire(1) {
		return nil, false
	}
	return func() { sem.Release(1) }, true
}
