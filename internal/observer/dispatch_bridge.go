package observer

import (
	"context"
	"time"

	"github.com/verilens/detection-engine/internal/dispatch"
	"github.com/verilens/detection-engine/internal/metrics"
)

// DispatchBridge translates scheduler state transitions into lifecycle
// events and keeps the queue depth gauge current. Verdict-bearing events
// (completed, failed, fallback) are published by the engine, which knows the
// outcome; the bridge covers only the transitions the scheduler owns.
type DispatchBridge struct {
	publisher Subject
}

// NewDispatchBridge creates a bridge that publishes through the given
// publisher.
func NewDispatchBridge(publisher Subject) *DispatchBridge {
	return &DispatchBridge{publisher: publisher}
}

// StateChanged implements dispatch.StateListener.
func (b *DispatchBridge) StateChanged(item *dispatch.Item, from, to dispatch.State) {
	tier := item.Priority.String()

	var eventType EventType
	switch {
	case from == dispatch.StateQueued && to == dispatch.StateQueued:
		// Admission.
		metrics.QueueDepth.WithLabelValues(tier).Inc()
		eventType = RequestQueued
	case from == dispatch.StateQueued && to == dispatch.StateRunning:
		metrics.QueueDepth.WithLabelValues(tier).Dec()
		eventType = RequestStarted
	case from == dispatch.StateRunning && to == dispatch.StateQueued:
		// Retry re-queue.
		metrics.QueueDepth.WithLabelValues(tier).Inc()
		eventType = RequestRetried
	case to == dispatch.StateDeadLettered:
		eventType = RequestDeadLettered
	default:
		// Completed and failed transitions are reported by the engine
		// with classification and error detail attached.
		return
	}

	b.publisher.NotifyObservers(context.Background(), AnalysisEvent{
		EventType: eventType,
		Timestamp: time.Now(),
		RequestID: item.ID,
		ClientID:  item.ClientID,
		Priority:  tier,
		Attempts:  item.Attempts,
	})
}
