package models

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated        = errors.New("not authenticated")
	ErrNotFound               = errors.New("not found")
	ErrInsufficientCredits    = errors.New("insufficient credits, buy more credits to continue")
	ErrUnconfigured           = errors.New("package is not configured for checkout")
	ErrConflict               = errors.New("conflict")
	ErrValidation             = errors.New("validation failed")
	ErrReconciliationRequired = errors.New("purchase recorded but credits not applied")
)

type FailureKind string

const (
	FailureAuth      FailureKind = "auth"
	FailureSafety    FailureKind = "safety"
	FailureRateLimit FailureKind = "rate_limit"
	FailureTransient FailureKind = "transient"
	FailureUnknown   FailureKind = "unknown"
)

// ExternalError wraps a failure of a third-party service. Kind is a best-effort
// hint derived at the adapter boundary.
type ExternalError struct {
	Service string
	Kind    FailureKind
	Err     error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("%s %s error: %v", e.Service, e.Kind, e.Err)
}

func (e *ExternalError) Unwrap() error {
	return e.Err
}

// UserMessage is a human readable description safe to show to end users.
func (e *ExternalError) UserMessage() string {
	switch e.Kind {
	case FailureAuth:
		return "The image service rejected our credentials. Please try again later."
	case FailureSafety:
		return "The request was blocked by safety filters. Please try a different prompt."
	case FailureRateLimit:
		return "The image service is busy. Please wait a moment and try again."
	case FailureTransient:
		return "The image service is temporarily unavailable. Please try again."
	default:
		return "Failed to generate infographic. Please try again."
	}
}

// Validationf returns an error wrapping ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
