package models

// AnalyzeRequest is the HTTP request body for POST /v1/analyze. Exactly one
// of ImageBase64 or ImageURL must be set.
type AnalyzeRequest struct {
	ImageBase64 string          `json:"image_base64,omitempty"`
	ImageURL    string          `json:"image_url,omitempty"`
	Format      string          `json:"format" binding:"required"`
	Options     *AnalyzeOptions `json:"options,omitempty"`
}

// AnalyzeOptions is the wire form of AnalysisOptions.
type AnalyzeOptions struct {
	Priority            string   `json:"priority,omitempty"`
	Models              []string `json:"models,omitempty"`
	ConfidenceThreshold float64  `json:"confidence_threshold,omitempty"`
}

// ToAnalysisOptions converts the wire options into engine options.
func (o *AnalyzeOptions) ToAnalysisOptions() AnalysisOptions {
	if o == nil {
		return DefaultOptions()
	}
	opts := DefaultOptions()
	opts.Priority = ParsePriority(o.Priority)
	opts.Models = o.Models
	opts.ConfidenceThreshold = o.ConfidenceThreshold
	return opts
}

// ErrorResponse is the stable JSON error shape. ErrorCode values come from
// the engine error taxonomy and never change meaning.
type ErrorResponse struct {
	ErrorCode    string `json:"error_code"`
	Message      string `json:"message"`
	Retriable    bool   `json:"retriable"`
	RetryAfterMS int64  `json:"retry_after_ms,omitempty"`
}

// HealthResponse reports liveness plus coarse queue state.
type HealthResponse struct {
	Status     string         `json:"status"`
	Version    string         `json:"version"`
	Time       string         `json:"time"`
	QueueDepth map[string]int `json:"queue_depth"`
	Workers    int            `json:"workers"`
}
