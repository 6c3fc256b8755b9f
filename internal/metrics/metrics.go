package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AnalysesTotal counts finished analyses by classification and outcome
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_analyses_total",
			Help: "Finished analyses by classification and outcome",
		},
		[]string{"classification", "outcome"},
	)

	// RequestDuration tracks end-to-end analysis time
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "detection_request_seconds",
			Help:    "End-to-end analysis time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// AdapterInvocations counts adapter calls by model and result
	AdapterInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_adapter_invocations_total",
			Help: "Adapter invocations by model and result",
		},
		[]string{"model", "result"},
	)

	// AdapterLatency tracks per-adapter wall time
	AdapterLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "detection_adapter_seconds",
			Help:    "Adapter invocation time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	// QueueDepth tracks queued items per priority tier
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "detection_queue_depth",
			Help: "Queued items by priority tier",
		},
		[]string{"tier"},
	)

	// SheddedTotal counts rejected submissions by reason
	SheddedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_shedded_total",
			Help: "Rejected submissions by reason",
		},
		[]string{"reason"},
	)

	// RetriesTotal counts re-queued attempts
	RetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detection_retries_total",
			Help: "Re-queued attempts after retriable failures",
		},
	)

	// DeadLettersTotal counts requests that exhausted their retries
	DeadLettersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detection_dead_letters_total",
			Help: "Requests parked after exhausting retries",
		},
	)

	// FallbacksTotal counts backup-model failovers
	FallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detection_fallbacks_total",
			Help: "Backup model invocations triggered by primary-path failures",
		},
	)

	// BuffersOutstanding tracks image buffers guarded but not yet wiped
	BuffersOutstanding = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "detection_buffers_outstanding",
			Help: "Image buffers currently held and not yet zeroed",
		},
	)
)

// SetQueueDepths publishes a queue depth snapshot keyed by tier name.
func SetQueueDepths(depths map[string]int) {
	for tier, depth := range depths {
		QueueDepth.WithLabelValues(tier).Set(float64(depth))
	}
}
