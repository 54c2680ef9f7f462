package common

import (
	"context"
	"errors"
	"fmt"
)

// Error codes surfaced to callers.
const (
	CodeUnsupportedFormat    = "UNSUPPORTED_FORMAT"
	CodePayloadTooLarge      = "PAYLOAD_TOO_LARGE"
	CodeTypeMismatch         = "TYPE_MISMATCH"
	CodeExtractionFailed     = "EXTRACTION_FAILED"
	CodeOCRFailed            = "OCR_FAILED"
	CodeCompletionFailed     = "COMPLETION_FAILED"
	CodeInvalidModelResponse = "INVALID_MODEL_RESPONSE"
	CodeQuotaExceeded        = "QUOTA_EXCEEDED"
	CodeNotFound             = "NOT_FOUND"
	CodeInvalidInput         = "INVALID_INPUT"
	CodeConfig               = "CONFIG_ERROR"
	CodeInternal             = "INTERNAL_ERROR"
)

// Common application errors
var (
	ErrUnsupportedFormat    = errors.New("unsupported format")
	ErrPayloadTooLarge      = errors.New("payload too large")
	ErrTypeMismatch         = errors.New("declared type does not match content")
	ErrExtractionFailed     = errors.New("extraction failed")
	ErrOCRFailed            = errors.New("ocr failed")
	ErrCompletionFailed     = errors.New("completion failed")
	ErrInvalidModelResponse = errors.New("invalid model response")
	ErrQuotaExceeded        = errors.New("quota exceeded")
	ErrNotFound             = errors.New("resource not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInternal             = errors.New("internal error")
)

var sentinelByCode = map[string]error{
	CodeUnsupportedFormat:    ErrUnsupportedFormat,
	CodePayloadTooLarge:      ErrPayloadTooLarge,
	CodeTypeMismatch:         ErrTypeMismatch,
	CodeExtractionFailed:     ErrExtractionFailed,
	CodeOCRFailed:            ErrOCRFailed,
	CodeCompletionFailed:     ErrCompletionFailed,
	CodeInvalidModelResponse: ErrInvalidModelResponse,
	CodeQuotaExceeded:        ErrQuotaExceeded,
	CodeNotFound:             ErrNotFound,
	CodeInvalidInput:         ErrInvalidInput,
	CodeConfig:               ErrInvalidInput,
	CodeInternal:             ErrInternal,
}

// SentinelFor returns the sentinel error for a code, or nil.
func SentinelFor(code string) error {
	return sentinelByCode[code]
}

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
	// Timeout marks failures caused by a stage deadline.
	Timeout bool
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel registered for the error's code.
func (e *AppError) Is(target error) bool {
	s, ok := sentinelByCode[e.Code]
	return ok && s == target
}

func (e *AppError) ErrorCode() string { return e.Code }

func (e *AppError) IsTimeout() bool { return e.Timeout }

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewTimeoutError builds an AppError tagged as deadline-caused.
func NewTimeoutError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Timeout: true,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

type coder interface {
	ErrorCode() string
}

type timeouter interface {
	IsTimeout() bool
}

// CodeOf returns the outermost error code in err's chain, or CodeInternal.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var c coder
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return CodeInternal
}

// IsTimeout reports whether any error in the chain is tagged as a timeout
// or is context.DeadlineExceeded.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if t, ok := e.(timeouter); ok && t.IsTimeout() {
			return true
		}
	}
	return false
}
