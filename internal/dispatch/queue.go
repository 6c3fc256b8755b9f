package dispatch

import (
	"fmt"
	"sync"
	"time"

	apperrors "github.com/verilens/detection-engine/internal/errors"
	"github.com/verilens/detection-engine/pkg/models"
)

// tierCount mirrors the three priority tiers.
const tierCount = 3

// priorityQueue is a bounded three-tier FIFO. Claiming prefers the highest
// effective tier; a queued item's effective tier rises one step for every
// aging threshold it has waited, so low-priority work cannot starve under a
// steady high-priority stream.
type priorityQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond

	tiers  [tierCount][]*Item
	size   int
	bound  int
	aging  time.Duration
	closed bool
}

func newPriorityQueue(bound int, aging time.Duration) *priorityQueue {
	q := &priorityQueue{bound: bound, aging: aging}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// admit appends the item to its tier, or rejects it when the queue is at
// its bound. Rejection is immediate: admission never blocks.
func (q *priorityQueue) admit(item *Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return apperrors.NewInternal("dispatch queue is shut down", nil)
	}
	if q.size >= q.bound {
		return apperrors.NewOverloaded(
			fmt.Sprintf("dispatch queue is full (%d items)", q.size), q.retryAfterLocked())
	}
	q.enqueueLocked(item)
	return nil
}

// readmit re-enqueues a retrying item. The item already passed admission
// once; bouncing it at the bound now would lose it, so the bound does not
// apply.
func (q *priorityQueue) readmit(item *Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return apperrors.NewInternal("dispatch queue is shut down", nil)
	}
	q.enqueueLocked(item)
	return nil
}

func (q *priorityQueue) enqueueLocked(item *Item) {
	item.setState(StateQueued)
	tier := int(item.Priority)
	if tier < 0 || tier >= tierCount {
		tier = int(models.PriorityNormal)
	}
	q.tiers[tier] = append(q.tiers[tier], item)
	q.size++
	q.notEmpty.Signal()
}

// retryAfterLocked estimates when a slot should free up. Coarse by design:
// the hint only needs to stop clients from hammering a full queue.
func (q *priorityQueue) retryAfterLocked() time.Duration {
	return time.Second
}

// claim blocks until an item is available or the queue closes. Among the
// three tier heads it picks the one with the highest effective tier,
// breaking ties by enqueue time. Only heads compete: within a tier order
// stays FIFO.
func (q *priorityQueue) claim() (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.size == 0 && q.closed {
		return nil, false
	}

	now := time.Now()
	bestTier := -1
	bestEffective := -1
	var bestAt time.Time

	for tier := 0; tier < tierCount; tier++ {
		if len(q.tiers[tier]) == 0 {
			continue
		}
		head := q.tiers[tier][0]
		effective := q.effectiveTierLocked(tier, head, now)
		if effective > bestEffective ||
			(effective == bestEffective && head.EnqueuedAt.Before(bestAt)) {
			bestTier = tier
			bestEffective = effective
			bestAt = head.EnqueuedAt
		}
	}

	item := q.tiers[bestTier][0]
	q.tiers[bestTier][0] = nil
	q.tiers[bestTier] = q.tiers[bestTier][1:]
	q.size--
	item.setState(StateRunning)
	return item, true
}

// effectiveTierLocked promotes a waiting item one tier per elapsed aging
// threshold, capped at the top tier.
func (q *priorityQueue) effectiveTierLocked(base int, item *Item, now time.Time) int {
	if q.aging <= 0 {
		return base
	}
	promoted := base + int(now.Sub(item.EnqueuedAt)/q.aging)
	if promoted > tierCount-1 {
		promoted = tierCount - 1
	}
	return promoted
}

// depths reports queue depth per tier, keyed by wire spelling.
func (q *priorityQueue) depths() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return map[string]int{
		models.PriorityLow.String():    len(q.tiers[models.PriorityLow]),
		models.PriorityNormal.String(): len(q.tiers[models.PriorityNormal]),
		models.PriorityHigh.String():   len(q.tiers[models.PriorityHigh]),
	}
}

// close rejects future admissions and wakes blocked claimers. Items still
// queued remain claimable so shutdown can drain.
func (q *priorityQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
}
