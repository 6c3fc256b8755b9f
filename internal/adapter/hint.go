package adapter

import (
	"image"
	"math"
)

// ContentHint is a lightweight pre-classification pass that decides whether
// the food-specialized model should join the fan-out. It samples a fixed
// grid rather than scanning every pixel, so the cost stays flat regardless
// of image size.
type ContentHint interface {
	LooksLikeFood(img *image.NRGBA) bool
}

type foodHint struct{}

// NewContentHint creates the default food-content hint.
func NewContentHint() ContentHint {
	return &foodHint{}
}

// hintGrid is the sampling resolution per axis. 32x32 positions are enough
// to catch a dominant subject without a full pass.
const hintGrid = 32

// LooksLikeFood samples the image on a fixed grid and reports whether warm,
// saturated tones dominate the way plated-food photography does.
func (h *foodHint) LooksLikeFood(img *image.NRGBA) bool {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < hintGrid || height < hintGrid {
		return false
	}

	stepX := width / hintGrid
	stepY := height / hintGrid

	warm := 0
	sampled := 0
	for gy := 0; gy < hintGrid; gy++ {
		for gx := 0; gx < hintGrid; gx++ {
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
		}
	}
	if sampled == 0 {
		return false
	}
	return float64(warm)/float64(sampled) >= 0.35
}

// rgbToHSV converts normalized RGB to HSV with hue in degrees.
func rgbToHSV(r, g, b float64) (h, s, v float64) {
	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	delta := max - min

	v = max

	if max == 0 {
		s = 0
	} else {
		s = delta / max
	}

	if delta == 0 {
		h = 0
	} else if max == r {
		h = 60 * (((g - b) / delta) + 0)
	} else if max == g {
		h = 60 * (((b - r) / delta) + 2)
	} else {
		h = 60 * (((r - g) / delta) + 4)
	}

	if h < 0 {
		h += 360
	}

	return h, s, v
}
