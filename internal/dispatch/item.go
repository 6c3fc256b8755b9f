// Package dispatch schedules analysis work onto a fixed pool of workers fed
// by a bounded three-tier priority queue. Admission, claiming, and retry
// bookkeeping are the only mutations, and all of them happen under the
// queue's lock, so no two workers can claim the same item and attempt
// counts never race.
package dispatch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/verilens/detection-engine/pkg/models"
)

// State tracks an item through the scheduler.
type State int32

const (
	StateQueued State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateDeadLettered
)

// String returns the log spelling of a state.
func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateDeadLettered:
		return "dead_lettered"
	default:
		return "unknown"
	}
}

// Item is one unit of scheduled work. Run carries the request's full
// pipeline; the scheduler only cares whether it returns nil, a retriable
// error, or a terminal one.
type Item struct {
	ID         string
	ClientID   string
	Priority   models.Priority
	EnqueuedAt time.Time
	Run        func(ctx context.Context) error

	// Attempts counts executions so far. Written only by the claiming
	// worker before Run; claims are serialized per item, so reads inside
	// Run never race.
	Attempts int

	state atomic.Int32
	retry *backoff.ExponentialBackOff
}

// State returns the item's current lifecycle state.
func (it *Item) State() State {
	return State(it.state.Load())
}

func (it *Item) setState(s State) {
	it.state.Store(int32(s))
}

// nextRetryDelay returns the backoff delay before the next attempt,
// growing exponentially per item.
func (it *Item) nextRetryDelay(initial, max time.Duration) time.Duration {
	if it.retry == nil {
		it.retry = backoff.NewExponentialBackOff()
		it.retry.InitialInterval = initial
		it.retry.MaxInterval = max
		it.retry.MaxElapsedTime = 0 // attempts are capped by the scheduler
		it.retry.Reset()
	}
	return it.retry.NextBackOff()
}
