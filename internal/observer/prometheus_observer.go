package observer

import (
	"context"

	"github.com/verilens/detection-engine/internal/metrics"
)

// PrometheusObserver publishes lifecycle events to the Prometheus registry
type PrometheusObserver struct{}

// NewPrometheusObserver creates a new Prometheus observer
func NewPrometheusObserver() Observer {
	return &PrometheusObserver{}
}

// OnEvent handles lifecycle events by updating metrics
func (o *PrometheusObserver) OnEvent(_ context.Context, event AnalysisEvent) {
	switch event.EventType {
	case RequestCompleted:
		metrics.AnalysesTotal.WithLabelValues(string(event.Classification), "completed").Inc()
		metrics.RequestDuration.WithLabelValues("completed").Observe(event.Elapsed.Seconds())
	case RequestFailed:
		metrics.AnalysesTotal.WithLabelValues("none", "failed").Inc()
		metrics.RequestDuration.WithLabelValues("failed").Observe(event.Elapsed.Seconds())
	case RequestRetried:
		metrics.RetriesTotal.Inc()
	case RequestDeadLettered:
		metrics.DeadLettersTotal.Inc()
	case RequestShed:
		reason := event.ErrorCode
		if reason == "" {
			reason = "unknown"
		}
		metrics.SheddedTotal.WithLabelValues(reason).Inc()
	case FallbackTriggered:
		metrics.FallbacksTotal.Inc()
	}
}

// GetObserverName returns the observer name
func (o *PrometheusObserver) GetObserverName() string {
	return "prometheus_observer"
}
