package models

import "time"

// Label is a classification verdict. Adapters emit only the two definite
// labels; Uncertain exists solely as a final classification.
type Label string

const (
	LabelAIGenerated Label = "AI-Generated"
	LabelAuthentic   Label = "Authentic"
	LabelUncertain   Label = "Uncertain"
)

// Priority orders requests inside the dispatch queue. Higher values are
// claimed first; ordering within a tier is FIFO.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// String returns the wire spelling of the priority tier.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// ParsePriority maps a wire spelling back to a Priority. Unknown values
// default to normal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

// AnalysisRequest carries one image through the engine. The Image buffer is
// owned exclusively by the request from submission until the engine wipes it;
// callers must not retain or reuse the slice after Submit returns.
type AnalysisRequest struct {
	ID          string
	ClientID    string
	Image       []byte
	Format      string
	ByteSize    int64
	Width       int
	Height      int
	Options     AnalysisOptions
	SubmittedAt time.Time
}

// ModelOutcome is the immutable record of one adapter invocation.
type ModelOutcome struct {
	Model      string        `json:"model"`
	Version    string        `json:"version"`
	Label      Label         `json:"label,omitempty"`
	Confidence float64       `json:"confidence"`
	ElapsedMS  int64         `json:"elapsed_ms"`
	OK         bool          `json:"ok"`
	Failure    string        `json:"failure,omitempty"`
	Elapsed    time.Duration `json:"-"`
}

// ProcessingMetadata reports request timing and failover state. Field names
// are part of the downstream JSON contract.
type ProcessingMetadata struct {
	TotalTimeMS       int64 `json:"total_time_ms"`
	QueueTimeMS       int64 `json:"queue_time_ms"`
	FallbackTriggered bool  `json:"fallback_triggered"`
}

// FeatureSummary aggregates per-request counts. It never carries image
// content or pixel-derived features.
type FeatureSummary struct {
	ModelsInvoked   int    `json:"models_invoked"`
	ModelsSucceeded int    `json:"models_succeeded"`
	ModelsFailed    int    `json:"models_failed"`
	Retries         int    `json:"retries"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	Format          string `json:"format"`
	Downsampled     bool   `json:"downsampled"`
}

// AnalysisResult is the engine's verdict for one request. The JSON field
// names are bit-stable for downstream serialization and must not change.
type AnalysisResult struct {
	AnalysisID     string             `json:"analysis_id"`
	Classification Label              `json:"classification"`
	Confidence     float64            `json:"confidence_score"`
	ModelResults   []ModelOutcome     `json:"model_results"`
	Features       FeatureSummary     `json:"feature_summary"`
	Metadata       ProcessingMetadata `json:"processing_metadata"`
}

// ClientConfig is the read-only per-client snapshot consumed by the engine.
// It is produced and mutated only by the external configuration service.
type ClientConfig struct {
	ClientID            string   `json:"client_id"`
	RequestsPerMinute   int      `json:"requests_per_minute"`
	RequestsPerDay      int      `json:"requests_per_day"`
	ConcurrentCap       int      `json:"concurrent_cap"`
	PreferredModels     []string `json:"preferred_models,omitempty"`
	ConfidenceThreshold float64  `json:"confidence_threshold,omitempty"`
}
