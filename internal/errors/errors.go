// Package errors holds the error taxonomy of the metrics engine.
//
// Three categories exist:
//   - validation errors, raised synchronously by define/record calls
//   - configuration errors, raised when a feature is switched off
//   - storage errors, raised by flush, query and retention I/O
//
// Every concrete error wraps one sentinel below, so callers match with
// errors.Is and branch on category with IsValidation, IsConfiguration and
// IsStorage.
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Validation errors
	ErrMetricNameOrTypeRequired = errors.New("metric name and type are required")
	ErrInvalidMetricType        = errors.New("invalid metric type")
	ErrDimensionNameRequired    = errors.New("dimension name is required")
	ErrMetricNotDefined         = errors.New("metric not defined")
	ErrInvalidValueType         = errors.New("metric value must be numeric")
	ErrDimensionNotDefined      = errors.New("dimension not defined")
	ErrInvalidDimensionValue    = errors.New("invalid dimension value")

	// Configuration errors
	ErrRealTimeDisabled = errors.New("real-time analysis is disabled")
	ErrInvalidConfig    = errors.New("invalid configuration")

	// Storage errors
	ErrStorage = errors.New("storage error")

	// Lifecycle errors
	ErrServiceStopped = errors.New("service stopped")
	ErrServiceRunning = errors.New("service already running")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// IsValidation returns true if err is a schema or record validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMetricNameOrTypeRequired) ||
		errors.Is(err, ErrInvalidMetricType) ||
		errors.Is(err, ErrDimensionNameRequired) ||
		errors.Is(err, ErrMetricNotDefined) ||
		errors.Is(err, ErrInvalidValueType) ||
		errors.Is(err, ErrDimensionNotDefined) ||
		errors.Is(err, ErrInvalidDimensionValue)
}

// IsConfiguration returns true if err stems from engine configuration.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrRealTimeDisabled) ||
		errors.Is(err, ErrInvalidConfig)
}

// IsStorage returns true if err is a (possibly transient) storage I/O error.
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewValidation attaches detail to a validation sentinel.
func NewValidation(sentinel error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// NewStorage marks err as a storage failure of op.
// The result matches both ErrStorage and err.
func NewStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
