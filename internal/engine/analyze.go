package engine

import (
	"context"
	"sync"
	"time"

	"github.com/verilens/detection-engine/internal/adapter"
	"github.com/verilens/detection-engine/internal/dispatch"
	"github.com/verilens/detection-engine/internal/ensemble"
	apperrors "github.com/verilens/detection-engine/internal/errors"
	"github.com/verilens/detection-engine/internal/metrics"
	"github.com/verilens/detection-engine/internal/sentinel"
	"github.com/verilens/detection-engine/pkg/models"
)

// analyze runs one full pipeline pass: decode, feature extraction, ensemble
// fan-out, failover, aggregation, classification. The decoded pixel plane is
// guarded like the raw buffer and zeroed before return on every path; no
// scorer goroutine outlives this function.
func (e *Engine) analyze(
	ctx context.Context,
	req *models.AnalysisRequest,
	item *dispatch.Item,
	guard *sentinel.Guard,
	threshold float64,
	claimedAt time.Time,
) (*models.AnalysisResult, error) {
	if ctx.Err() != nil {
		return nil, apperrors.NewTimeout("analysis budget exhausted while queued", ctx.Err())
	}

	data := guard.Bytes()
	if data == nil {
		return nil, apperrors.NewInternal("image buffer already wiped", nil)
	}

	pre, err := e.pre.Process(ctx, data, req.Format)
	if err != nil {
		return nil, err
	}
	req.Width, req.Height = pre.Width, pre.Height

	pixelGuard := e.tracker.Protect(req.ID+"/pixels", pre.Pixels.Pix)
	e.publishBufferGauge()
	defer e.wipeGuard(pixelGuard)

	features, err := adapter.ExtractFeatures(ctx, pre.Pixels)
	if err != nil {
		return nil, apperrors.NewTimeout("analysis budget exhausted during feature extraction", err)
	}

	foodLikely := false
	if !req.Options.SkipContentHint {
		foodLikely = e.hint.LooksLikeFood(pre.Pixels)
	}

	plan, err := e.registry.Plan(req.Options.Models, foodLikely)
	if err != nil {
		return nil, err
	}

	input := &adapter.Input{
		Pixels:   pre.Pixels,
		Width:    pre.Width,
		Height:   pre.Height,
		Format:   pre.Format,
		Features: features,
	}

	outcomes := e.fanOut(ctx, plan, input)

	fallback := false
	if backup := e.registry.Backup(); backup != nil &&
		succeeded(outcomes) == 0 && !adapter.ContainsBackup(plan) {
		fallback = true
		e.publishFallback(req)
		backupOutcome := backup.Invoke(ctx, input)
		e.recordOutcome(backupOutcome)
		outcomes = append(outcomes, backupOutcome)
	}

	agg, err := ensemble.Aggregate(outcomes, e.weights.Current())
	if err != nil {
		return nil, err
	}

	verdict := ensemble.Classify(agg, threshold, len(plan))

	return &models.AnalysisResult{
		AnalysisID:     req.ID,
		Classification: verdict.Classification,
		Confidence:     verdict.Confidence,
		ModelResults:   outcomes,
		Features: models.FeatureSummary{
			ModelsInvoked:   len(outcomes),
			ModelsSucceeded: agg.Succeeded,
			ModelsFailed:    agg.Failed,
			Retries:         item.Attempts - 1,
			Width:           pre.Width,
			Height:          pre.Height,
			Format:          pre.Format,
			Downsampled:     pre.Downsampled,
		},
		Metadata: models.ProcessingMetadata{
			TotalTimeMS:       time.Since(req.SubmittedAt).Milliseconds(),
			QueueTimeMS:       claimedAt.Sub(item.EnqueuedAt).Milliseconds(),
			FallbackTriggered: fallback,
		},
	}, nil
}

// fanOut invokes every planned adapter concurrently and waits for all of
// them. Outcomes land at their plan index, so result order is stable. Each
// invocation carries its own timeout inside Invoke; the wait here is bounded
// by the slowest adapter, never the budget alone.
func (e *Engine) fanOut(ctx context.Context, plan []*adapter.Guarded, input *adapter.Input) []models.ModelOutcome {
	outcomes := make([]models.ModelOutcome, len(plan))

	var wg sync.WaitGroup
	for i, guarded := range plan {
		wg.Add(1)
		go func(i int, guarded *adapter.Guarded) {
			defer wg.Done()
			outcomes[i] = guarded.Invoke(ctx, input)
		}(i, guarded)
	}
	wg.Wait()

	for _, outcome := range outcomes {
		e.recordOutcome(outcome)
	}
	return outcomes
}

func (e *Engine) recordOutcome(outcome models.ModelOutcome) {
	result := "ok"
	if !outcome.OK {
		result = "failed"
	}
	metrics.AdapterInvocations.WithLabelValues(outcome.Model, result).Inc()
	metrics.AdapterLatency.WithLabelValues(outcome.Model).Observe(outcome.Elapsed.Seconds())
}

func succeeded(outcomes []models.ModelOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.OK {
			n++
		}
	}
	return n
}
