package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/verilens/detection-engine/internal/logger"
	"github.com/verilens/detection-engine/pkg/models"
)

// AnalysisEvent represents one request lifecycle event. Events carry
// identifiers and verdict data only; image content never enters an event.
type AnalysisEvent struct {
	EventType      EventType     `json:"event_type"`
	Timestamp      time.Time     `json:"timestamp"`
	RequestID      string        `json:"request_id"`
	ClientID       string        `json:"client_id"`
	Priority       string        `json:"priority,omitempty"`
	Classification models.Label  `json:"classification,omitempty"`
	Confidence     float64       `json:"confidence,omitempty"`
	Elapsed        time.Duration `json:"elapsed,omitempty"`
	Attempts       int           `json:"attempts,omitempty"`
	ErrorCode      string        `json:"error_code,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
}

// EventType represents the type of lifecycle event
type EventType string

const (
	// RequestQueued when a request passes admission
	RequestQueued EventType = "request_queued"
	// RequestStarted when a worker claims a request
	RequestStarted EventType = "request_started"
	// RequestCompleted when analysis finishes with a verdict
	RequestCompleted EventType = "request_completed"
	// RequestFailed when analysis fails terminally
	RequestFailed EventType = "request_failed"
	// RequestRetried when a retriable failure re-queues the request
	RequestRetried EventType = "request_retried"
	// RequestDeadLettered when a request exhausts its retries
	RequestDeadLettered EventType = "request_dead_lettered"
	// RequestShed when admission or a client cap rejects a request
	RequestShed EventType = "request_shed"
	// FallbackTriggered when the backup model is invoked on failover
	FallbackTriggered EventType = "fallback_triggered"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event AnalysisEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event AnalysisEvent)
}

// LoggingObserver logs lifecycle events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(log *logrus.Logger) Observer {
	if log == nil {
		log = logger.Logger
	}
	return &LoggingObserver{
		logger: log,
	}
}

// OnEvent handles lifecycle events by logging them
func (o *LoggingObserver) OnEvent(_ context.Context, event AnalysisEvent) {
	fields := logrus.Fields{
		"event_type": event.EventType,
		"request_id": event.RequestID,
		"client_id":  event.ClientID,
	}
	if event.Priority != "" {
		fields["priority"] = event.Priority
	}
	if event.Attempts > 0 {
		fields["attempts"] = event.Attempts
	}
	if event.Elapsed > 0 {
		fields["elapsed_ms"] = event.Elapsed.Milliseconds()
	}
	if event.ErrorCode != "" {
		fields["error_code"] = event.ErrorCode
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}

	switch event.EventType {
	case RequestQueued:
		o.logger.WithFields(fields).Debug("Request queued")
	case RequestStarted:
		o.logger.WithFields(fields).Debug("Request started")
	case RequestCompleted:
		fields["classification"] = event.Classification
		fields["confidence"] = event.Confidence
		o.logger.WithFields(fields).Info("Request completed")
	case RequestFailed:
		o.logger.WithFields(fields).Error("Request failed")
	case RequestRetried:
		o.logger.WithFields(fields).Warn("Request retried")
	case RequestDeadLettered:
		o.logger.WithFields(fields).Error("Request dead-lettered")
	case RequestShed:
		o.logger.WithFields(fields).Warn("Request shed")
	case FallbackTriggered:
		o.logger.WithFields(fields).Warn("Fallback model triggered")
	default:
		o.logger.WithFields(fields).Info("Lifecycle event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// FatalAlertObserver raises an alert when terminal failures cluster. It
// counts failed and dead-lettered events inside a sliding window and fires
// once the count reaches the threshold, then resets so a sustained outage
// alerts repeatedly rather than once per event.
type FatalAlertObserver struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	failures  []time.Time
	fired     int64
}

// NewFatalAlertObserver creates an alert observer with the given threshold
// and window.
func NewFatalAlertObserver(threshold int, window time.Duration) *FatalAlertObserver {
	return &FatalAlertObserver{
		threshold: threshold,
		window:    window,
	}
}

// OnEvent counts terminal failures and fires when they cluster
func (o *FatalAlertObserver) OnEvent(_ context.Context, event AnalysisEvent) {
	if event.EventType != RequestFailed && event.EventType != RequestDeadLettered {
		return
	}

	now := event.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	cutoff := now.Add(-o.window)
	kept := o.failures[:0]
	for _, t := range o.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	o.failures = append(kept, now)

	if len(o.failures) >= o.threshold {
		o.fired++
		logger.WithFields(logrus.Fields{
			"failures":  len(o.failures),
			"window":    o.window.String(),
			"client_id": event.ClientID,
		}).Error("Failure rate alert: terminal failures clustered inside window")
		o.failures = o.failures[:0]
	}
}

// GetObserverName returns the observer name
func (o *FatalAlertObserver) GetObserverName() string {
	return "fatal_alert_observer"
}

// Fired returns how many times the alert has fired.
func (o *FatalAlertObserver) Fired() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fired
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers notifies all observers of an event. Observers run
// concurrently; a panicking observer is logged and never takes down the
// engine.
func (p *EventPublisher) NotifyObservers(ctx context.Context, event AnalysisEvent) {
	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, observer := range observers {
		go func(obs Observer) {
			defer func() {
				if r := recover(); r != nil {
					logger.WithFields(logrus.Fields{
						"observer": obs.GetObserverName(),
						"panic":    r,
					}).Error("Observer panicked while handling event")
				}
			}()
			obs.OnEvent(ctx, event)
		}(observer)
	}
}
