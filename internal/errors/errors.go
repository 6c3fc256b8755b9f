package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code identifies an error category on the wire. Codes are stable: external
// collaborators key retry and alerting logic off them.
type Code string

const (
	CodeInvalidRequest       Code = "invalid_request"
	CodeUnsupportedFormat    Code = "unsupported_format"
	CodeCorruptImage         Code = "corrupt_image"
	CodeSizeExceeded         Code = "size_exceeded"
	CodeOverloaded           Code = "overloaded"
	CodeTimeout              Code = "timeout"
	CodeAllModelsUnavailable Code = "all_models_unavailable"
	CodeInternal             Code = "internal"
)

// EngineError is a structured engine failure with a stable code, an HTTP
// status for the transport boundary, and a retriable hint for callers.
type EngineError struct {
	Code       Code          `json:"code"`
	Message    string        `json:"message"`
	StatusCode int           `json:"status_code"`
	Retriable  bool          `json:"retriable"`
	RetryAfter time.Duration `json:"-"`
	Cause      error         `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// NewInvalidRequest reports a submission rejected before decoding: missing
// image payload, malformed base64, or an unacceptable source URL.
func NewInvalidRequest(message string, cause error) *EngineError {
	return &EngineError{
		Code:       CodeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Cause:      cause,
	}
}

// NewUnsupportedFormat reports a declared format that is not supported or
// does not match the image bytes.
func NewUnsupportedFormat(message string, cause error) *EngineError {
	return &EngineError{
		Code:       CodeUnsupportedFormat,
		Message:    message,
		StatusCode: http.StatusUnsupportedMediaType,
		Cause:      cause,
	}
}

// NewCorruptImage reports bytes that failed to decode as the declared format.
func NewCorruptImage(message string, cause error) *EngineError {
	return &EngineError{
		Code:       CodeCorruptImage,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
		Cause:      cause,
	}
}

// NewSizeExceeded reports an image over the hard byte cap, before any
// downsampling is considered.
func NewSizeExceeded(message string, cause error) *EngineError {
	return &EngineError{
		Code:       CodeSizeExceeded,
		Message:    message,
		StatusCode: http.StatusRequestEntityTooLarge,
		Cause:      cause,
	}
}

// NewOverloaded reports shed load. The retryAfter hint tells the caller when
// capacity is expected back; it is advisory, not a reservation.
func NewOverloaded(message string, retryAfter time.Duration) *EngineError {
	return &EngineError{
		Code:       CodeOverloaded,
		Message:    message,
		StatusCode: http.StatusTooManyRequests,
		Retriable:  true,
		RetryAfter: retryAfter,
	}
}

// NewTimeout reports an exhausted end-to-end budget. Terminal for the
// request; the caller may submit a fresh one.
func NewTimeout(message string, cause error) *EngineError {
	return &EngineError{
		Code:       CodeTimeout,
		Message:    message,
		StatusCode: http.StatusGatewayTimeout,
		Cause:      cause,
	}
}

// NewAllModelsUnavailable reports an ensemble in which every adapter,
// including the backup, failed. Transient by definition.
func NewAllModelsUnavailable(message string, cause error) *EngineError {
	return &EngineError{
		Code:       CodeAllModelsUnavailable,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
		Retriable:  true,
		Cause:      cause,
	}
}

// NewInternal reports an invariant violation. Aborts only the one request.
func NewInternal(message string, cause error) *EngineError {
	return &EngineError{
		Code:       CodeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// CodeOf extracts the stable code from an error chain. Unknown errors map
// to CodeInternal.
func CodeOf(err error) Code {
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr.Code
	}
	return CodeInternal
}

// StatusOf extracts the HTTP status from an error chain.
func StatusOf(err error) int {
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetriable reports whether the caller may usefully retry.
func IsRetriable(err error) bool {
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr.Retriable
	}
	return false
}

// RetryAfterOf returns the suggested wait before retrying, zero if none.
func RetryAfterOf(err error) time.Duration {
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr.RetryAfter
	}
	return 0
}

// MessageOf extracts the human-readable message without the code prefix or
// cause chain. Unknown errors return their full Error text.
func MessageOf(err error) string {
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr.Message
	}
	return err.Error()
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code Code) bool {
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr.Code == code
	}
	return false
}
