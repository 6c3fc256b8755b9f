package adapter

import (
	"context"
	"image"
	"image/color"
	"testing"
)

// createFlatImage creates a uniform test image
func createFlatImage(width, height int, fill color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, fill)
		}
	}
	return img
}

// createNoisyImage creates a deterministic high-frequency test image
func createNoisyImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := uint8((x*31 + y*17 + x*y*13) % 251)
			img.SetNRGBA(x, y, color.NRGBA{v, uint8(255 - v), uint8((int(v) * 3) % 255), 255})
		}
	}
	return img
}

func TestExtractFeaturesFlatImage(t *testing.T) {
	img := createFlatImage(128, 96, color.NRGBA{128, 128, 128, 255})

	fv, err := ExtractFeatures(context.Background(), img)
	if err != nil {
		t.Fatalf("ExtractFeatures() error = %v", err)
	}

	if fv.Width != 128 || fv.Height != 96 {
		t.Errorf("dimensions = %dx%d, want 128x96", fv.Width, fv.Height)
	}
	if fv.AvgLuminance < 0.45 || fv.AvgLuminance > 0.55 {
		t.Errorf("AvgLuminance = %f, want ~0.5 for mid gray", fv.AvgLuminance)
	}
	if fv.AvgSaturation != 0 {
		t.Errorf("AvgSaturation = %f, want 0 for gray", fv.AvgSaturation)
	}
	if fv.LaplacianVar != 0 {
		t.Errorf("LaplacianVar = %f, want 0 for flat image", fv.LaplacianVar)
	}
	if fv.EdgeDensity != 0 {
		t.Errorf("EdgeDensity = %f, want 0 for flat image", fv.EdgeDensity)
	}
}

func TestExtractFeaturesNoisyVsFlat(t *testing.T) {
	flat, err := ExtractFeatures(context.Background(), createFlatImage(128, 128, color.NRGBA{90, 120, 200, 255}))
	if err != nil {
		t.Fatalf("flat: %v", err)
	}
	noisy, err := ExtractFeatures(context.Background(), createNoisyImage(128, 128))
	if err != nil {
		t.Fatalf("noisy: %v", err)
	}

	if noisy.LaplacianVar <= flat.LaplacianVar {
		t.Errorf("noisy LaplacianVar (%f) should exceed flat (%f)", noisy.LaplacianVar, flat.LaplacianVar)
	}
	if noisy.EdgeDensity <= flat.EdgeDensity {
		t.Errorf("noisy EdgeDensity (%f) should exceed flat (%f)", noisy.EdgeDensity, flat.EdgeDensity)
	}
}

func TestExtractFeaturesRanges(t *testing.T) {
	fv, err := ExtractFeatures(context.Background(), createNoisyImage(200, 150))
	if err != nil {
		t.Fatalf("ExtractFeatures() error = %v", err)
	}

	if fv.AvgLuminance < 0 || fv.AvgLuminance > 1 {
		t.Errorf("AvgLuminance = %f, want [0,1]", fv.AvgLuminance)
	}
	if fv.AvgSaturation < 0 || fv.AvgSaturation > 1 {
		t.Errorf("AvgSaturation = %f, want [0,1]", fv.AvgSaturation)
	}
	if fv.EdgeDensity < 0 || fv.EdgeDensity > 1 {
		t.Errorf("EdgeDensity = %f, want [0,1]", fv.EdgeDensity)
	}
	for i, c := range fv.ChannelMeans {
		if c < 0 || c > 1 {
			t.Errorf("ChannelMeans[%d] = %f, want [0,1]", i, c)
		}
	}
	if fv.LaplacianVar < 0 || fv.LaplacianSpread < 0 || fv.SaturationVar < 0 {
		t.Error("variance features must be non-negative")
	}
}

func TestExtractFeaturesDeterministic(t *testing.T) {
	img := createNoisyImage(160, 120)

	first, err := ExtractFeatures(context.Background(), img)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := ExtractFeatures(context.Background(), img)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if *again != *first {
			t.Fatalf("run %d: features differ:\n%+v\nvs\n%+v", i, again, first)
		}
	}
}

func TestExtractFeaturesTinyImage(t *testing.T) {
	fv, err := ExtractFeatures(context.Background(), createFlatImage(3, 3, color.NRGBA{10, 20, 30, 255}))
	if err != nil {
		t.Fatalf("ExtractFeatures() error = %v", err)
	}
	if fv.Width != 3 || fv.Height != 3 {
		t.Errorf("dimensions = %dx%d, want 3x3", fv.Width, fv.Height)
	}
}

func TestExtractFeaturesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Tall image so the per-row cancellation checks actually run.
	if _, err := ExtractFeatures(ctx, createNoisyImage(32, 512)); err == nil {
		t.Error("expected error from cancelled context")
	}
}
