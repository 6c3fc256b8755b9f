package adapter

import (
	"context"
	"errors"
	"math"
)

// backupScorer is the previous-generation detector kept for availability.
// It reads only two cheap global signals, so it answers fast and rarely
// fails, at the cost of accuracy. Confidences are quantized to steps of
// five, matching the coarse bins the old model family emitted.
type backupScorer struct{}

// NewBackup creates the backup detector.
func NewBackup() Scorer {
	return &backupScorer{}
}

func (b *backupScorer) Info() ModelInfo {
	return ModelInfo{Name: "backup-detector", Version: "0.9.1", Role: RoleBackup}
}

func (b *backupScorer) Score(ctx context.Context, input *Input) (RawScore, error) {
	if err := ctx.Err(); err != nil {
		return RawScore{}, err
	}
	fv := input.Features
	if fv == nil {
		return RawScore{}, errors.New("feature vector not extracted")
	}

	// Edge-sparse frames and near-equal channel means both point at
	// synthetic origin.
	maxC := math.Max(fv.ChannelMeans[0], math.Max(fv.ChannelMeans[1], fv.ChannelMeans[2]))
	minC := math.Min(fv.ChannelMeans[0], math.Min(fv.ChannelMeans[1], fv.ChannelMeans[2]))
	imbalance := maxC - minC

	conf := 50 + 300*(0.10-fv.EdgeDensity) + 180*(0.06-imbalance)

	conf = math.Round(conf/5) * 5
	if conf < 5 {
		conf = 5
	}
	if conf > 95 {
		conf = 95
	}
	return RawScore{Confidence: conf}, nil
}
