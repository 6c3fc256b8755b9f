package adapter

import (
	"context"
	"image"
	"image/color"
	"math"
	"testing"
)

func scoreImage(t *testing.T, s Scorer, img *image.NRGBA) RawScore {
	t.Helper()
	fv, err := ExtractFeatures(context.Background(), img)
	if err != nil {
		t.Fatalf("ExtractFeatures() error = %v", err)
	}
	raw, err := s.Score(context.Background(), &Input{
		Pixels:   img,
		Width:    fv.Width,
		Height:   fv.Height,
		Features: fv,
	})
	if err != nil {
		t.Fatalf("%s Score() error = %v", s.Info().Name, err)
	}
	return raw
}

func TestScorersProduceBoundedDeterministicScores(t *testing.T) {
	images := map[string]*image.NRGBA{
		"flat":  createFlatImage(128, 128, color.NRGBA{200, 160, 90, 255}),
		"noisy": createNoisyImage(128, 128),
	}
	scorers := []Scorer{NewPrimary(), NewFoodSpecialist(), NewBackup()}

	for imgName, img := range images {
		for _, s := range scorers {
			first := scoreImage(t, s, img)
			if first.Confidence < 0 || first.Confidence > 100 {
				t.Errorf("%s on %s: confidence %f out of [0,100]", s.Info().Name, imgName, first.Confidence)
			}
			again := scoreImage(t, s, img)
			if again.Confidence != first.Confidence {
				t.Errorf("%s on %s: nondeterministic (%f vs %f)",
					s.Info().Name, imgName, first.Confidence, again.Confidence)
			}
		}
	}
}

func TestPrimaryScoresFlatAboveNoisy(t *testing.T) {
	primary := NewPrimary()

	flat := scoreImage(t, primary, createFlatImage(128, 128, color.NRGBA{180, 180, 180, 255}))
	noisy := scoreImage(t, primary, createNoisyImage(128, 128))

	if flat.Confidence <= noisy.Confidence {
		t.Errorf("flat (%f) should read more synthetic than noisy (%f)", flat.Confidence, noisy.Confidence)
	}
}

func TestBackupQuantizesToFives(t *testing.T) {
	backup := NewBackup()

	for name, img := range map[string]*image.NRGBA{
		"flat":  createFlatImage(96, 96, color.NRGBA{120, 100, 90, 255}),
		"noisy": createNoisyImage(96, 96),
	} {
		raw := scoreImage(t, backup, img)
		if math.Mod(raw.Confidence, 5) != 0 {
			t.Errorf("%s: confidence %f is not a multiple of 5", name, raw.Confidence)
		}
		if raw.Confidence < 5 || raw.Confidence > 95 {
			t.Errorf("%s: confidence %f outside backup's [5,95] band", name, raw.Confidence)
		}
	}
}

func TestScorersRequireFeatures(t *testing.T) {
	for _, s := range []Scorer{NewPrimary(), NewFoodSpecialist(), NewBackup()} {
		if _, err := s.Score(context.Background(), &Input{}); err == nil {
			t.Errorf("%s: expected error without feature vector", s.Info().Name)
		}
	}
}

func TestScorerIdentities(t *testing.T) {
	tests := []struct {
		scorer Scorer
		name   string
		role   Role
	}{
		{NewPrimary(), "primary-detector", RolePrimary},
		{NewFoodSpecialist(), "food-detector", RoleSpecialist},
		{NewBackup(), "backup-detector", RoleBackup},
	}

	for _, tt := range tests {
		info := tt.scorer.Info()
		if info.Name != tt.name || info.Role != tt.role {
			t.Errorf("Info() = %+v, want name %s role %s", info, tt.name, tt.role)
		}
		if info.Version == "" {
			t.Errorf("%s: empty version", tt.name)
		}
	}
}
