// Package engine is the detection dispatch facade. It admits analysis
// requests, routes them through the bounded priority scheduler, fans each
// one out across the model ensemble, and settles a verdict inside the
// end-to-end budget. Image buffers are guarded from admission to terminal
// state and zeroed on every exit path.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/verilens/detection-engine/internal/adapter"
	"github.com/verilens/detection-engine/internal/clientcfg"
	"github.com/verilens/detection-engine/internal/config"
	"github.com/verilens/detection-engine/internal/dispatch"
	"github.com/verilens/detection-engine/internal/ensemble"
	apperrors "github.com/verilens/detection-engine/internal/errors"
	"github.com/verilens/detection-engine/internal/logger"
	"github.com/verilens/detection-engine/internal/metrics"
	"github.com/verilens/detection-engine/internal/observer"
	"github.com/verilens/detection-engine/internal/preprocess"
	"github.com/verilens/detection-engine/internal/sentinel"
	"github.com/verilens/detection-engine/pkg/models"
	"github.com/verilens/detection-engine/pkg/validation"
)

// DetectionEngine defines the interface for submitting images for analysis
type DetectionEngine interface {
	// Submit runs one request through the full pipeline and blocks until a
	// verdict, a terminal error, or the end-to-end budget expires
	Submit(ctx context.Context, req *models.AnalysisRequest) (*models.AnalysisResult, error)

	// Stats returns a snapshot of scheduler and buffer state
	Stats() Stats
}

// Stats is a point-in-time engine snapshot for health and debug surfaces.
type Stats struct {
	Scheduler          dispatch.Stats
	BuffersOutstanding int
	Workers            int
	Models             []string
	Weights            ensemble.Table
}

type submitResult struct {
	result *models.AnalysisResult
	err    error
}

// flight is the engine-side record of one in-flight request. It owns the
// buffer guard, the client cap slot, and the waiter's result channel until
// the request settles.
type flight struct {
	guard    *sentinel.Guard
	release  func()
	cancel   context.CancelFunc
	resultCh chan submitResult
}

// Engine implements DetectionEngine on top of the dispatch scheduler.
type Engine struct {
	cfg       *config.Config
	registry  *adapter.Registry
	weights   *ensemble.WeightProvider
	clients   clientcfg.Provider
	limiter   *clientcfg.Limiter
	publisher observer.Subject
	scheduler *dispatch.Scheduler
	tracker   *sentinel.Tracker
	pre       *preprocess.Preprocessor
	validator *validation.SubmissionValidator
	hint      adapter.ContentHint
	bridge    *observer.DispatchBridge

	mu       sync.Mutex
	inflight map[string]*flight
}

// New creates an engine wired to the given collaborators. The engine owns
// its scheduler; call Start before submitting and Stop to drain.
func New(
	cfg *config.Config,
	registry *adapter.Registry,
	weights *ensemble.WeightProvider,
	clients clientcfg.Provider,
	publisher observer.Subject,
) *Engine {
	limits := validation.DefaultSubmissionLimits()
	limits.MaxBytes = cfg.MaxImageBytes
	limits.LargeImageBytes = cfg.LargeImageBytes

	e := &Engine{
		cfg:       cfg,
		registry:  registry,
		weights:   weights,
		clients:   clients,
		limiter:   clientcfg.NewLimiter(),
		publisher: publisher,
		tracker:   sentinel.NewTracker(),
		pre:       preprocess.New(limits),
		validator: validation.NewSubmissionValidatorWithLimits(limits),
		hint:      adapter.NewContentHint(),
		bridge:    observer.NewDispatchBridge(publisher),
		inflight:  make(map[string]*flight),
	}

	e.scheduler = dispatch.New(dispatch.Config{
		Workers:        cfg.Workers,
		QueueBound:     cfg.QueueBound,
		MaxRetries:     cfg.MaxRetries,
		AgingThreshold: cfg.AgingThreshold,
	})
	e.scheduler.SetListener(e)
	return e
}

// Start launches the worker pool.
func (e *Engine) Start() {
	e.scheduler.Start()
}

// Stop drains the scheduler and releases the weight watcher, bounded by ctx.
func (e *Engine) Stop(ctx context.Context) error {
	err := e.scheduler.Stop(ctx)
	if closeErr := e.weights.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// DeadLetters exposes the scheduler's dead-letter channel for operator
// drains.
func (e *Engine) DeadLetters() <-chan dispatch.DeadLetter {
	return e.scheduler.DeadLetters()
}

// Stats returns a snapshot of scheduler counters, buffer accounting, and the
// live ensemble configuration.
func (e *Engine) Stats() Stats {
	return Stats{
		Scheduler:          e.scheduler.Stats(),
		BuffersOutstanding: e.tracker.Outstanding(),
		Workers:            e.cfg.Workers,
		Models:             e.registry.Names(),
		Weights:            e.weights.Current(),
	}
}

// Submit admits one request and blocks until it settles. The image buffer is
// guarded from this point on and is zeroed before any terminal outcome is
// delivered, including rejections at admission.
//
// Admission is non-blocking: a full queue or an exhausted client cap returns
// Overloaded immediately. The end-to-end budget covers queue wait, retries,
// and model time; when it expires the caller gets a timeout and the in-flight
// attempt is cancelled.
func (e *Engine) Submit(ctx context.Context, req *models.AnalysisRequest) (*models.AnalysisResult, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = time.Now()
	}
	req.ByteSize = int64(len(req.Image))

	guard := e.tracker.Protect(req.ID, req.Image)
	e.publishBufferGauge()

	format, err := e.validateSubmission(req)
	if err != nil {
		e.wipeGuard(guard)
		return nil, err
	}
	req.Format = format

	clientCfg := e.lookupClientConfig(ctx, req.ClientID)

	release, ok := e.limiter.Acquire(req.ClientID, int64(clientCfg.ConcurrentCap))
	if !ok {
		e.wipeGuard(guard)
		e.publishShed(req, "client_cap")
		return nil, apperrors.NewOverloaded("client concurrency cap reached", time.Second)
	}

	threshold := e.resolveThreshold(req.Options.ConfidenceThreshold, clientCfg.ConfidenceThreshold)

	// The budget is detached from the caller's context: queue wait and model
	// time count against it, and a dropped caller does not cancel work that
	// is already claimed.
	budgetCtx, cancel := context.WithTimeout(context.Background(), e.cfg.RequestBudget)

	resultCh := make(chan submitResult, 1)
	e.trackFlight(req.ID, &flight{
		guard:    guard,
		release:  release,
		cancel:   cancel,
		resultCh: resultCh,
	})

	item := &dispatch.Item{
		ID:       req.ID,
		ClientID: req.ClientID,
		Priority: req.Options.Priority,
	}
	item.Run = func(_ context.Context) error {
		return e.runAttempt(budgetCtx, req, item, guard, threshold, resultCh)
	}

	if err := e.scheduler.Submit(item); err != nil {
		e.settle(req.ID)
		if apperrors.IsCode(err, apperrors.CodeOverloaded) {
			e.publishShed(req, "queue_full")
		}
		return nil, err
	}

	select {
	case r := <-resultCh:
		return r.result, r.err
	case <-budgetCtx.Done():
		return nil, apperrors.NewTimeout("analysis budget exceeded", budgetCtx.Err())
	case <-ctx.Done():
		return nil, apperrors.NewTimeout("request cancelled before completion", ctx.Err())
	}
}

// runAttempt executes one scheduler attempt. Retriable failures with budget
// and attempts remaining leave the buffer intact for the next attempt; every
// terminal path wipes it before the waiter hears the outcome.
func (e *Engine) runAttempt(
	budgetCtx context.Context,
	req *models.AnalysisRequest,
	item *dispatch.Item,
	guard *sentinel.Guard,
	threshold float64,
	resultCh chan submitResult,
) error {
	claimedAt := time.Now()
	result, err := e.analyze(budgetCtx, req, item, guard, threshold, claimedAt)
	if err == nil {
		e.settle(req.ID)
		e.publishCompleted(req, result)
		deliver(resultCh, submitResult{result: result})
		return nil
	}

	terminal := !apperrors.IsRetriable(err) ||
		item.Attempts > e.cfg.MaxRetries ||
		budgetCtx.Err() != nil
	if terminal {
		e.settle(req.ID)
		e.publishFailed(req, err)
		deliver(resultCh, submitResult{err: err})
	}
	return err
}

// StateChanged implements dispatch.StateListener. Terminal transitions are
// the backstop for flight cleanup: the run path settles first in the normal
// case, and dead letters raised outside the run path (a retry beaten by
// shutdown) settle here so no buffer or cap slot leaks.
func (e *Engine) StateChanged(item *dispatch.Item, from, to dispatch.State) {
	switch to {
	case dispatch.StateCompleted, dispatch.StateFailed:
		e.settle(item.ID)
	case dispatch.StateDeadLettered:
		if f := e.settle(item.ID); f != nil {
			deliver(f.resultCh, submitResult{
				err: apperrors.NewAllModelsUnavailable("request dead-lettered after repeated failures", nil),
			})
		}
	}
	e.bridge.StateChanged(item, from, to)
}

// trackFlight registers an in-flight request.
func (e *Engine) trackFlight(id string, f *flight) {
	e.mu.Lock()
	e.inflight[id] = f
	e.mu.Unlock()
}

// settle pops the flight record and releases everything it owns: the buffer
// is wiped, the client cap slot freed, the budget timer stopped. Exactly one
// caller wins; later callers see nil.
func (e *Engine) settle(id string) *flight {
	e.mu.Lock()
	f, ok := e.inflight[id]
	if ok {
		delete(e.inflight, id)
	}
	e.mu.Unlock()

	if !ok {
		return nil
	}
	e.wipeGuard(f.guard)
	f.release()
	f.cancel()
	return f
}

func (e *Engine) wipeGuard(g *sentinel.Guard) {
	g.Wipe()
	e.publishBufferGauge()
}

func (e *Engine) publishBufferGauge() {
	metrics.BuffersOutstanding.Set(float64(e.tracker.Outstanding()))
}

// validateSubmission runs the admission checks that need no decoding.
func (e *Engine) validateSubmission(req *models.AnalysisRequest) (string, error) {
	if err := e.validator.ValidateFormat(req.Format); err != nil {
		return "", err
	}
	if err := e.validator.ValidateSize(req.ByteSize); err != nil {
		return "", err
	}
	return validation.NormalizeFormat(req.Format), nil
}

// lookupClientConfig resolves the caller's limits. A provider outage
// degrades to defaults: configuration lookups must never take analysis
// offline.
func (e *Engine) lookupClientConfig(ctx context.Context, clientID string) *models.ClientConfig {
	cfg, err := e.clients.GetClientConfig(ctx, clientID)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"client_id": clientID,
			"error":     err.Error(),
		}).Warn("Client config lookup failed, using defaults")
		return clientcfg.DefaultConfig(clientID)
	}
	return cfg
}

// resolveThreshold picks the classification boundary: request override, then
// client override, then the engine default.
func (e *Engine) resolveThreshold(requested, clientDefault float64) float64 {
	if requested > 0 {
		return requested
	}
	if clientDefault > 0 {
		return clientDefault
	}
	return e.cfg.DefaultThreshold
}

// deliver hands the terminal outcome to the waiter without ever blocking a
// worker. The channel holds one slot and exactly one terminal outcome is
// sent per request; a waiter that already gave up simply never reads it.
func deliver(ch chan submitResult, r submitResult) {
	select {
	case ch <- r:
	default:
	}
}

func (e *Engine) publishShed(req *models.AnalysisRequest, reason string) {
	e.publisher.NotifyObservers(context.Background(), observer.AnalysisEvent{
		EventType: observer.RequestShed,
		Timestamp: time.Now(),
		RequestID: req.ID,
		ClientID:  req.ClientID,
		Priority:  req.Options.Priority.String(),
		ErrorCode: reason,
	})
}

func (e *Engine) publishCompleted(req *models.AnalysisRequest, result *models.AnalysisResult) {
	e.publisher.NotifyObservers(context.Background(), observer.AnalysisEvent{
		EventType:      observer.RequestCompleted,
		Timestamp:      time.Now(),
		RequestID:      req.ID,
		ClientID:       req.ClientID,
		Priority:       req.Options.Priority.String(),
		Classification: result.Classification,
		Confidence:     result.Confidence,
		Elapsed:        time.Since(req.SubmittedAt),
	})
}

func (e *Engine) publishFailed(req *models.AnalysisRequest, err error) {
	e.publisher.NotifyObservers(context.Background(), observer.AnalysisEvent{
		EventType:    observer.RequestFailed,
		Timestamp:    time.Now(),
		RequestID:    req.ID,
		ClientID:     req.ClientID,
		Priority:     req.Options.Priority.String(),
		Elapsed:      time.Since(req.SubmittedAt),
		ErrorCode:    string(apperrors.CodeOf(err)),
		ErrorMessage: err.Error(),
	})
}

func (e *Engine) publishFallback(req *models.AnalysisRequest) {
	e.publisher.NotifyObservers(context.Background(), observer.AnalysisEvent{
		EventType: observer.FallbackTriggered,
		Timestamp: time.Now(),
		RequestID: req.ID,
		ClientID:  req.ClientID,
	})
}
