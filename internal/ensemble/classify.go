package ensemble

import (
	"github.com/verilens/detection-engine/pkg/models"
)

// Verdict is the engine's final answer for one request.
type Verdict struct {
	Classification models.Label
	Confidence     float64
}

// Classify applies the confidence threshold to an aggregation. planned is
// the size of the fan-out plan: when two or more models were planned but
// fewer than two delivered, the verdict degrades to Uncertain no matter the
// score, so a single surviving model cannot pose as ensemble consensus. A
// deliberately single-model plan classifies normally.
//
// The threshold itself is exact: a score equal to it follows the lean, a
// score any amount below it is Uncertain.
func Classify(agg Aggregation, threshold float64, planned int) Verdict {
	verdict := Verdict{
		Classification: models.LabelUncertain,
		Confidence:     agg.Score,
	}

	if planned >= 2 && agg.Succeeded < 2 {
		return verdict
	}
	if agg.Score < threshold {
		return verdict
	}
	if agg.Lean == models.LabelUncertain {
		return verdict
	}

	verdict.Classification = agg.Lean
	return verdict
}
