package adapter

import (
	"context"
	"errors"
	"image"
)

// foodScorer specializes in plated-food imagery, where general detectors
// underperform: real food photography is already saturated, glossy, and
// shallow in depth of field, which reads as synthetic to a frequency-domain
// model. This scorer separates genuine specular highlights from the
// impossibly clean gloss generators paint.
type foodScorer struct{}

// NewFoodSpecialist creates the food-specialized detector.
func NewFoodSpecialist() Scorer {
	return &foodScorer{}
}

func (f *foodScorer) Info() ModelInfo {
	return ModelInfo{Name: "food-detector", Version: "1.8.0", Role: RoleSpecialist}
}

// foodSampleGrid is the sampling resolution for the gloss pass.
const foodSampleGrid = 48

func (f *foodScorer) Score(ctx context.Context, input *Input) (RawScore, error) {
	if err := ctx.Err(); err != nil {
		return RawScore{}, err
	}
	fv := input.Features
	if fv == nil {
		return RawScore{}, errors.New("feature vector not extracted")
	}

	warmRatio, glossRatio := sampleFoodSignals(input.Pixels)

	// Rendered gloss covers a far larger fraction of the frame than real
	// specular highlights do.
	glossSignal := logistic((glossRatio - 0.08) / 0.03)

	// Hyper-saturated warm palette beyond what plating and lighting reach.
	overSat := logistic((fv.AvgSaturation - 0.50) / 0.07)

	// Texture floor: crumb, char, and garnish keep local variance up.
	smooth := 1 - logistic((fv.LaplacianVar-260)/130)

	conf := 100 * (0.40*smooth + 0.35*glossSignal + 0.25*overSat)

	// Off-domain input gives the specialist little to key on; pull the
	// verdict toward neutral rather than pretend certainty.
	if warmRatio < 0.2 {
		conf = 50 + (conf-50)*0.6
	}
	return RawScore{Confidence: conf}, nil
}

// sampleFoodSignals samples a fixed grid for the two specialist signals:
// warm saturated tones and specular-gloss pixels (very bright, low
// saturation).
func sampleFoodSignals(img *image.NRGBA) (warmRatio, glossRatio float64) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < foodSampleGrid || height < foodSampleGrid {
		return 0, 0
	}

	stepX := width / foodSampleGrid
	stepY := height / foodSampleGrid

	warm, gloss, sampled := 0, 0, 0
	for gy := 0; gy < foodSampleGrid; gy++ {
		for gx := 0; gx < foodSampleGrid; gx++ {
			x := bounds.Min.X + gx*stepX + stepX/2
			y := bounds.Min.Y + gy*stepY + stepY/2
			off := img.PixOffset(x, y)

			rf := float64(img.Pix[off]) / 255.0
			gf := float64(img.Pix[off+1]) / 255.0
			bf := float64(img.Pix[off+2]) / 255.0

			hue, sat, val := rgbToHSV(rf, gf, bf)
			sampled++
			if hue >= 10 && hue <= 70 && sat >= 0.25 && val >= 0.2 {
				warm++
			}
			if val >= 0.92 && sat <= 0.35 {
				gloss++
			}
		}
	}
	if sampled == 0 {
		return 0, 0
	}
	return float64(warm) / float64(sampled), float64(gloss) / float64(sampled)
}
