package domain

import (
	"errors"
	"fmt"
)

type ErrCode string

const (
	CodeValidation ErrCode = "validation_error"
	CodeNotFound   ErrCode = "not_found"
	CodeInternal   ErrCode = "internal_error"
	CodeRateLimit  ErrCode = "rate_limited"
)

type AppError struct {
	Code    ErrCode
	Message string
	Meta    map[string]string
}

func (e *AppError) Error() string {
	if len(e.Meta) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Meta)
}

func ErrValidation(msg string) error { return &AppError{Code: CodeValidation, Message: msg} }
func ErrValidationMeta(msg string, meta map[string]string) error {
	return &AppError{Code: CodeValidation, Message: msg, Meta: meta}
}

var (
	ErrCacheMiss = errors.New("cache miss")

	ErrSegmentNotFound        = errors.New("segment not found")
	ErrSegmentExpired         = errors.New("segment expired")
	ErrSegmentTooThin         = errors.New("segment below minimum item count")
	ErrSegmentVersionMismatch = errors.New("segment algorithm version mismatch")
	ErrSegmentCorrupt         = errors.New("segment payload corrupt")

	// ErrEnqueueSuppressed means a presort task for the same user is already
	// pending within the guard window.
	ErrEnqueueSuppressed = errors.New("presort enqueue suppressed")
)

// IsSegmentMiss reports whether err is one of the segment cache-miss
// conditions rather than a store failure.
func IsSegmentMiss(err error) bool {
	return errors.Is(err, ErrSegmentNotFound) ||
		errors.Is(err, ErrSegmentExpired) ||
		errors.Is(err, ErrSegmentTooThin) ||
		errors.Is(err, ErrSegmentVersionMismatch) ||
		errors.Is(err, ErrSegmentCorrupt)
}
