package validation

import (
	"fmt"
	"strings"

	apperrors "github.com/verilens/detection-engine/internal/errors"
)

// SubmissionLimits defines configurable limits for incoming submissions.
type SubmissionLimits struct {
	// Byte limits
	MaxBytes        int64
	LargeImageBytes int64

	// Dimension limits
	MinWidth  int
	MinHeight int
	MaxPixels int

	// Accepted container formats, lowercase
	AllowedFormats []string
}

// DefaultSubmissionLimits returns the limits the engine ships with.
func DefaultSubmissionLimits() SubmissionLimits {
	return SubmissionLimits{
		MaxBytes:        32 * 1024 * 1024,
		LargeImageBytes: 10 * 1024 * 1024,
		MinWidth:        16,
		MinHeight:       16,
		MaxPixels:       64_000_000, // guards decoders against pixel bombs
		AllowedFormats:  []string{"jpeg", "png", "webp", "tiff"},
	}
}

// SubmissionValidator checks submissions against byte, dimension, and
// format limits before any decoding work is spent on them.
type SubmissionValidator struct {
	limits SubmissionLimits
}

// NewSubmissionValidator creates a validator with default limits.
func NewSubmissionValidator() *SubmissionValidator {
	return &SubmissionValidator{limits: DefaultSubmissionLimits()}
}

// NewSubmissionValidatorWithLimits creates a validator with custom limits.
func NewSubmissionValidatorWithLimits(limits SubmissionLimits) *SubmissionValidator {
	return &SubmissionValidator{limits: limits}
}

// Limits returns the active limits.
func (v *SubmissionValidator) Limits() SubmissionLimits {
	return v.limits
}

// NormalizeFormat canonicalizes a declared format label. "jpg" and "jpeg"
// are the same container; everything is lowercased.
func NormalizeFormat(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	if f == "jpg" {
		return "jpeg"
	}
	return f
}

// ValidateFormat checks the declared format against the allowed set.
func (v *SubmissionValidator) ValidateFormat(format string) error {
	f := NormalizeFormat(format)
	if f == "" {
		return apperrors.NewInvalidRequest("image format is required", nil)
	}
	for _, allowed := range v.limits.AllowedFormats {
		if f == allowed {
			return nil
		}
	}
	return apperrors.NewUnsupportedFormat(
		fmt.Sprintf("format %q is not supported (accepted: %s)", format, strings.Join(v.limits.AllowedFormats, ", ")), nil)
}

// ValidateSize checks the raw byte size against the hard cap. The
// large-image threshold is separate and only triggers downsampling.
func (v *SubmissionValidator) ValidateSize(byteSize int64) error {
	if byteSize <= 0 {
		return apperrors.NewInvalidRequest("image payload is empty", nil)
	}
	if byteSize > v.limits.MaxBytes {
		return apperrors.NewSizeExceeded(
			fmt.Sprintf("image is %d bytes, above the %d byte cap", byteSize, v.limits.MaxBytes), nil)
	}
	return nil
}

// ValidateDimensions checks decoded pixel dimensions.
func (v *SubmissionValidator) ValidateDimensions(width, height int) error {
	if width < v.limits.MinWidth || height < v.limits.MinHeight {
		return apperrors.NewCorruptImage(
			fmt.Sprintf("image dimensions %dx%d are below the %dx%d minimum",
				width, height, v.limits.MinWidth, v.limits.MinHeight), nil)
	}
	if v.limits.MaxPixels > 0 && width*height > v.limits.MaxPixels {
		return apperrors.NewSizeExceeded(
			fmt.Sprintf("image has %d pixels, above the %d pixel cap", width*height, v.limits.MaxPixels), nil)
	}
	return nil
}

// IsLarge reports whether a submission crosses the downsampling threshold.
func (v *SubmissionValidator) IsLarge(byteSize int64) bool {
	return byteSize > v.limits.LargeImageBytes
}
