package ensemble

import (
	"math"

	"gonum.org/v1/gonum/stat"

	apperrors "github.com/verilens/detection-engine/internal/errors"
	"github.com/verilens/detection-engine/pkg/models"
)

// Aggregation is the fused ensemble verdict before thresholding.
type Aggregation struct {
	// Score is the weight-weighted mean confidence of successful
	// outcomes, rounded to one decimal.
	Score float64

	// Lean is the weight-weighted majority of raw labels among
	// successful outcomes. An exact weight tie leans nowhere and is
	// recorded as Uncertain.
	Lean models.Label

	Succeeded int
	Failed    int
}

// Aggregate fuses model outcomes under the given weight table. It is a
// pure function: identical outcomes and weights always produce the same
// aggregation. When no outcome succeeded it returns AllModelsUnavailable;
// failover belongs to the caller, which may retry with a backup outcome
// appended.
func Aggregate(outcomes []models.ModelOutcome, weights Table) (Aggregation, error) {
	var (
		confidences []float64
		voteWeights []float64
		aiWeight    float64
		authWeight  float64
		failed      int
	)

	for _, outcome := range outcomes {
		if !outcome.OK {
			failed++
			continue
		}
		w := weights.weightFor(outcome.Model)
		confidences = append(confidences, outcome.Confidence)
		voteWeights = append(voteWeights, w)
		switch outcome.Label {
		case models.LabelAIGenerated:
			aiWeight += w
		case models.LabelAuthentic:
			authWeight += w
		}
	}

	if len(confidences) == 0 {
		return Aggregation{Failed: failed}, apperrors.NewAllModelsUnavailable(
			"every model in the ensemble failed or timed out", nil)
	}

	agg := Aggregation{
		Score:     math.Round(stat.Mean(confidences, voteWeights)*10) / 10,
		Succeeded: len(confidences),
		Failed:    failed,
	}

	switch {
	case aiWeight > authWeight:
		agg.Lean = models.LabelAIGenerated
	case authWeight > aiWeight:
		agg.Lean = models.LabelAuthentic
	default:
		agg.Lean = models.LabelUncertain
	}
	return agg, nil
}
