package adapter

import (
	"context"
	"errors"
	"math"
)

// primaryScorer is the general-purpose frequency-domain detector. Generated
// images leave two fingerprints it keys on: residual high-frequency energy
// well below what camera sensors produce, and that energy spread unnaturally
// evenly across the frame.
type primaryScorer struct{}

// NewPrimary creates the primary detector.
func NewPrimary() Scorer {
	return &primaryScorer{}
}

func (p *primaryScorer) Info() ModelInfo {
	return ModelInfo{Name: "primary-detector", Version: "2.3.0", Role: RolePrimary}
}

func (p *primaryScorer) Score(ctx context.Context, input *Input) (RawScore, error) {
	if err := ctx.Err(); err != nil {
		return RawScore{}, err
	}
	fv := input.Features
	if fv == nil {
		return RawScore{}, errors.New("feature vector not extracted")
	}

	// Smoothness: sensor noise keeps Laplacian variance high; diffusion
	// output sits far below it.
	smooth := 1 - logistic((fv.LaplacianVar-220)/110)

	// Uniformity: coefficient of variation of per-strip Laplacian energy.
	// Natural scenes vary strongly strip to strip.
	cv := math.Sqrt(fv.LaplacianSpread) / (fv.LaplacianVar + 1e-6)
	uniform := 1 - logistic((cv-0.4)/0.15)

	// Saturation push: generators overdrive color.
	satExtreme := logistic((fv.AvgSaturation - 0.55) / 0.08)

	conf := 100 * (0.50*smooth + 0.32*uniform + 0.18*satExtreme)
	return RawScore{Confidence: conf}, nil
}

// logistic is the standard sigmoid, used to map unbounded feature values
// onto [0,1].
func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
