package models

// AnalysisOptions configures how one request moves through the engine.
type AnalysisOptions struct {
	// Priority tier for queue ordering.
	Priority Priority

	// Models restricts the ensemble to the named adapters. Empty means the
	// engine's default selection (primary, plus food when content hints at
	// food imagery).
	Models []string

	// ConfidenceThreshold overrides the classification boundary for this
	// request. Zero means "use the client override, else the engine default".
	ConfidenceThreshold float64

	// SkipContentHint disables the food-imagery pre-classification pass.
	SkipContentHint bool
}

// DefaultOptions returns the options applied when a request supplies none.
func DefaultOptions() AnalysisOptions {
	return AnalysisOptions{
		Priority: PriorityNormal,
	}
}

// HighPriorityOptions returns options for latency-sensitive callers.
func HighPriorityOptions() AnalysisOptions {
	opts := DefaultOptions()
	opts.Priority = PriorityHigh
	return opts
}

// BulkOptions returns options for batch backfill traffic that should yield
// to interactive requests.
func BulkOptions() AnalysisOptions {
	opts := DefaultOptions()
	opts.Priority = PriorityLow
	opts.SkipContentHint = true
	return opts
}

// WithModels restricts the ensemble to the named adapters.
func (opts AnalysisOptions) WithModels(names ...string) AnalysisOptions {
	opts.Models = names
	return opts
}

// WithThreshold sets a per-request classification boundary.
func (opts AnalysisOptions) WithThreshold(threshold float64) AnalysisOptions {
	opts.ConfidenceThreshold = threshold
	return opts
}

// WithPriority sets the queue tier.
func (opts AnalysisOptions) WithPriority(p Priority) AnalysisOptions {
	opts.Priority = p
	return opts
}
