package preprocess

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"

	apperrors "github.com/verilens/detection-engine/internal/errors"
	"github.com/verilens/detection-engine/pkg/validation"
)

// Result is a decoded, normalized submission ready for scoring. Pixels is
// always NRGBA so downstream code reads one layout regardless of container.
// The caller owns Pixels.Pix and is responsible for wiping it.
type Result struct {
	Pixels      *image.NRGBA
	Width       int
	Height      int
	Format      string
	ByteSize    int64
	Downsampled bool
}

// Preprocessor validates, decodes, and normalizes raw submissions.
type Preprocessor struct {
	validator *validation.SubmissionValidator
}

// New creates a preprocessor with the given limits.
func New(limits validation.SubmissionLimits) *Preprocessor {
	return &Preprocessor{
		validator: validation.NewSubmissionValidatorWithLimits(limits),
	}
}

// Process turns raw bytes into a Result. The declared format must match the
// sniffed container: a mismatch is rejected before any decoder touches the
// payload. Images above the large-image threshold are downsampled with a
// fixed kernel and scale rule, so the same input always yields the same
// pixels.
func (p *Preprocessor) Process(ctx context.Context, data []byte, declaredFormat string) (*Result, error) {
	byteSize := int64(len(data))
	if err := p.validator.ValidateSize(byteSize); err != nil {
		return nil, err
	}
	if err := p.validator.ValidateFormat(declaredFormat); err != nil {
		return nil, err
	}
	declared := validation.NormalizeFormat(declaredFormat)

	sniffed := SniffFormat(data)
	if sniffed == "" {
		return nil, apperrors.NewCorruptImage("payload does not begin with a recognized image signature", nil)
	}
	if sniffed != declared {
		return nil, apperrors.NewUnsupportedFormat(
			fmt.Sprintf("declared format %q but payload is %s", declaredFormat, sniffed), nil)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := decode(sniffed, data)
	if err != nil {
		return nil, apperrors.NewCorruptImage(fmt.Sprintf("failed to decode %s payload", sniffed), err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if err := p.validator.ValidateDimensions(width, height); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{
		Format:   sniffed,
		ByteSize: byteSize,
	}

	if p.validator.IsLarge(byteSize) {
		if scaled, ok := p.downsample(img); ok {
			result.Pixels = scaled
			result.Downsampled = true
		}
	}
	if result.Pixels == nil {
		result.Pixels = toNRGBA(img)
	}
	result.Width = result.Pixels.Bounds().Dx()
	result.Height = result.Pixels.Bounds().Dy()
	return result, nil
}

// decode dispatches to the container-specific decoder. The sniffed format
// picks the decoder, never the client's declaration.
func decode(format string, data []byte) (image.Image, error) {
	r := bytes.NewReader(data)
	switch format {
	case "jpeg":
		return jpeg.Decode(r)
	case "png":
		return png.Decode(r)
	case "webp":
		return webp.Decode(r)
	case "tiff":
		return tiff.Decode(r)
	default:
		return nil, fmt.Errorf("no decoder for format %q", format)
	}
}

// downsample scales the image so its in-memory NRGBA footprint fits the
// large-image threshold. CatmullRom keeps the high-frequency detail the
// scorers depend on; box or bilinear kernels would smooth away exactly the
// artifacts being measured. Returns false when the decoded image already
// fits the pixel budget.
func (p *Preprocessor) downsample(img image.Image) (*image.NRGBA, bool) {
	bounds := img.Bounds()
	actual := bounds.Dx() * bounds.Dy()
	budget := int(p.validator.Limits().LargeImageBytes / 4) // NRGBA is 4 bytes per pixel
	if budget <= 0 || actual <= budget {
		return nil, false
	}

	scale := math.Sqrt(float64(budget) / float64(actual))
	newW := int(float64(bounds.Dx()) * scale)
	newH := int(float64(bounds.Dy()) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewNRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	return dst, true
}

// toNRGBA normalizes any decoded image to NRGBA without resampling.
func toNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok {
		return nrgba
	}
	bounds := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
	return dst
}
