// Package adapter wraps detection models behind one uniform contract. Each
// model scores a normalized image for AI-generation likelihood; the guarded
// wrapper adds the per-invocation timeout and circuit breaking the ensemble
// relies on, converting every failure into a failure outcome instead of an
// error.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/sony/gobreaker"

	"github.com/verilens/detection-engine/pkg/models"
)

// Role tags what part an adapter plays in the ensemble.
type Role string

const (
	RolePrimary    Role = "primary"
	RoleSpecialist Role = "specialist"
	RoleBackup     Role = "backup"
)

// ModelInfo identifies a model variant.
type ModelInfo struct {
	Name    string
	Version string
	Role    Role
}

// Input is the normalized image a scorer reads. Features is computed once
// per request and shared read-only across the fan-out.
type Input struct {
	Pixels   *image.NRGBA
	Width    int
	Height   int
	Format   string
	Features *FeatureVector
}

// RawScore is a model's AI-likelihood estimate on the [0,100] scale.
type RawScore struct {
	Confidence float64
}

// Scorer is the raw model contract. Implementations must be deterministic
// for identical input and must honor ctx cancellation.
type Scorer interface {
	Info() ModelInfo
	Score(ctx context.Context, input *Input) (RawScore, error)
}

// Guarded wraps a Scorer with a per-invocation timeout and a circuit
// breaker. Invoke never returns an error: timeouts, scorer failures, and an
// open breaker all become failure outcomes so the ensemble can proceed with
// partial results.
type Guarded struct {
	scorer  Scorer
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewGuarded wraps a scorer. The breaker trips after three consecutive
// failures and probes again after 30 seconds.
func NewGuarded(scorer Scorer, timeout time.Duration) *Guarded {
	return &Guarded{
		scorer:  scorer,
		timeout: timeout,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        scorer.Info().Name,
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

// Info returns the wrapped model's identity.
func (g *Guarded) Info() ModelInfo {
	return g.scorer.Info()
}

// Invoke runs the model once against the input. The outcome always carries
// the model identity and elapsed time; Label is set only on success, from
// the model's own confidence (>= 50 reads as AI-generated).
func (g *Guarded) Invoke(ctx context.Context, input *Input) models.ModelOutcome {
	info := g.scorer.Info()
	outcome := models.ModelOutcome{
		Model:   info.Name,
		Version: info.Version,
	}

	start := time.Now()
	scoreCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	result, err := g.breaker.Execute(func() (interface{}, error) {
		raw, scoreErr := g.scorer.Score(scoreCtx, input)
		if scoreErr != nil {
			return nil, scoreErr
		}
		return raw, nil
	})

	outcome.Elapsed = time.Since(start)
	outcome.ElapsedMS = outcome.Elapsed.Milliseconds()

	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			outcome.Failure = fmt.Sprintf("model %s circuit open", info.Name)
		case errors.Is(err, context.DeadlineExceeded):
			outcome.Failure = fmt.Sprintf("model %s timed out after %s", info.Name, g.timeout)
		case errors.Is(err, context.Canceled):
			outcome.Failure = fmt.Sprintf("model %s cancelled", info.Name)
		default:
			outcome.Failure = err.Error()
		}
		return outcome
	}

	raw := result.(RawScore)
	outcome.OK = true
	outcome.Confidence = clampConfidence(raw.Confidence)
	if outcome.Confidence >= 50 {
		outcome.Label = models.LabelAIGenerated
	} else {
		outcome.Label = models.LabelAuthentic
	}
	return outcome
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
