package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/verilens/detection-engine/internal/errors"
	"github.com/verilens/detection-engine/internal/logger"
	"github.com/verilens/detection-engine/pkg/models"
)

// Config sizes the scheduler.
type Config struct {
	Workers        int
	QueueBound     int
	MaxRetries     int
	AgingThreshold time.Duration

	// Retry backoff tuning. Zero values take the defaults below.
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration

	// DeadLetterBuffer caps the dead-letter channel. Zero takes the
	// default.
	DeadLetterBuffer int
}

const (
	defaultRetryInitialInterval = 100 * time.Millisecond
	defaultRetryMaxInterval     = 2 * time.Second
	defaultDeadLetterBuffer     = 128
)

// Stats is a point-in-time snapshot of scheduler counters.
type Stats struct {
	TotalSubmitted   int64
	TotalCompleted   int64
	TotalFailed      int64
	TotalDeadLetters int64
	TotalRetries     int64
	ActiveWorkers    int32
	QueueDepths      map[string]int
}

// DeadLetter records an item that exhausted its retries. The record holds
// identifiers and the final error only, never request content.
type DeadLetter struct {
	ID       string
	ClientID string
	Priority models.Priority
	Attempts int
	LastErr  string
	At       time.Time
}

// StateListener observes item lifecycle transitions. Admission is reported
// as a Queued-to-Queued transition. Calls come synchronously from submit,
// worker, and retry-timer goroutines: implementations must be fast,
// non-blocking, and safe for concurrent use.
type StateListener interface {
	StateChanged(item *Item, from, to State)
}

// Scheduler owns the worker pool and the priority queue.
type Scheduler struct {
	cfg      Config
	queue    *priorityQueue
	dead     chan DeadLetter
	listener StateListener

	startOnce sync.Once
	stopOnce  sync.Once
	workersWG sync.WaitGroup
	retriesWG sync.WaitGroup

	submitted   atomic.Int64
	completed   atomic.Int64
	failed      atomic.Int64
	deadLetters atomic.Int64
	retries     atomic.Int64
	active      atomic.Int32
}

// New creates a scheduler. Start must be called before Submit.
func New(cfg Config) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueBound <= 0 {
		cfg.QueueBound = cfg.Workers * 2
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = defaultRetryInitialInterval
	}
	if cfg.RetryMaxInterval <= 0 {
		cfg.RetryMaxInterval = defaultRetryMaxInterval
	}
	if cfg.DeadLetterBuffer <= 0 {
		cfg.DeadLetterBuffer = defaultDeadLetterBuffer
	}
	return &Scheduler{
		cfg:   cfg,
		queue: newPriorityQueue(cfg.QueueBound, cfg.AgingThreshold),
		dead:  make(chan DeadLetter, cfg.DeadLetterBuffer),
	}
}

// SetListener registers the lifecycle observer. Call before Start.
func (s *Scheduler) SetListener(l StateListener) {
	s.listener = l
}

// Start launches the worker pool. Idempotent.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		for i := 0; i < s.cfg.Workers; i++ {
			s.workersWG.Add(1)
			go s.worker()
		}
		logger.WithFields(map[string]interface{}{
			"workers":     s.cfg.Workers,
			"queue_bound": s.cfg.QueueBound,
		}).Info("Dispatch scheduler started")
	})
}

// Submit admits an item to the queue. When the queue is at its bound the
// call returns Overloaded immediately; it never blocks the caller.
func (s *Scheduler) Submit(item *Item) error {
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}
	if err := s.queue.admit(item); err != nil {
		return err
	}
	s.submitted.Add(1)
	s.notifyState(item, StateQueued, StateQueued)
	return nil
}

// DeadLetters exposes the dead-letter channel for operator drains.
func (s *Scheduler) DeadLetters() <-chan DeadLetter {
	return s.dead
}

// Stats returns a snapshot of the scheduler's counters and queue depths.
func (s *Scheduler) Stats() Stats {
	return Stats{
		TotalSubmitted:   s.submitted.Load(),
		TotalCompleted:   s.completed.Load(),
		TotalFailed:      s.failed.Load(),
		TotalDeadLetters: s.deadLetters.Load(),
		TotalRetries:     s.retries.Load(),
		ActiveWorkers:    s.active.Load(),
		QueueDepths:      s.queue.depths(),
	}
}

// Stop closes admission, drains queued work, and waits for workers and
// pending retries, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.queue.close()

		done := make(chan struct{})
		go func() {
			s.retriesWG.Wait()
			s.workersWG.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}

func (s *Scheduler) worker() {
	defer s.workersWG.Done()
	for {
		item, ok := s.queue.claim()
		if !ok {
			return
		}
		s.runItem(item)
	}
}

// runItem executes one claimed item and settles its next state: done,
// retry with backoff, failed, or dead-lettered.
func (s *Scheduler) runItem(item *Item) {
	s.active.Add(1)
	defer s.active.Add(-1)

	s.notifyState(item, StateQueued, StateRunning)
	item.Attempts++

	err := item.Run(context.Background())
	if err == nil {
		item.setState(StateCompleted)
		s.completed.Add(1)
		s.notifyState(item, StateRunning, StateCompleted)
		return
	}

	if apperrors.IsRetriable(err) && item.Attempts <= s.cfg.MaxRetries {
		s.scheduleRetry(item, err)
		return
	}

	if apperrors.IsRetriable(err) {
		s.deadLetter(item, err)
		return
	}

	item.setState(StateFailed)
	s.failed.Add(1)
	s.notifyState(item, StateRunning, StateFailed)
}

// scheduleRetry re-enqueues the item after its backoff delay. The retry
// keeps the original enqueue time so aging keeps counting across attempts.
func (s *Scheduler) scheduleRetry(item *Item, cause error) {
	delay := item.nextRetryDelay(s.cfg.RetryInitialInterval, s.cfg.RetryMaxInterval)
	s.retries.Add(1)
	logger.WithFields(map[string]interface{}{
		"request_id": item.ID,
		"attempt":    item.Attempts,
		"delay":      delay.String(),
	}).Warn("Retrying analysis after transient failure")

	s.retriesWG.Add(1)
	time.AfterFunc(delay, func() {
		defer s.retriesWG.Done()
		if err := s.queue.readmit(item); err != nil {
			// Shutdown beat the retry; record it rather than lose it.
			s.deadLetter(item, cause)
			return
		}
		s.notifyState(item, StateRunning, StateQueued)
	})
}

// deadLetter records an item whose retries are exhausted. The channel send
// is non-blocking: audit records are best effort, terminal responses to
// clients are not affected.
func (s *Scheduler) deadLetter(item *Item, cause error) {
	item.setState(StateDeadLettered)
	s.deadLetters.Add(1)
	s.notifyState(item, StateRunning, StateDeadLettered)

	record := DeadLetter{
		ID:       item.ID,
		ClientID: item.ClientID,
		Priority: item.Priority,
		Attempts: item.Attempts,
		LastErr:  cause.Error(),
		At:       time.Now(),
	}
	select {
	case s.dead <- record:
	default:
		logger.WithField("request_id", item.ID).
			Warn("Dead-letter channel full; dropping audit record")
	}
}

func (s *Scheduler) notifyState(item *Item, from, to State) {
	if s.listener != nil {
		s.listener.StateChanged(item, from, to)
	}
}
