// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
	"time"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrFutureTimestamp = errors.New("timestamp cannot be in the future")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")
	ErrAlreadyResolved = errors.New("already resolved")
	ErrExpired         = errors.New("expired")

	// Data sufficiency errors (soft: degrade, never abort a batch)
	ErrInsufficientData = errors.New("insufficient data")
	ErrLowDataQuality   = errors.New("data quality below floor")

	// External service errors
	ErrUpstream           = errors.New("upstream read failed")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "prediction", "intervention", "accuracy"
	Op      string // Operation that failed, e.g., "Create", "Resolve"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// RateLimitError is returned when on-demand regeneration exceeds the daily
// quota. It carries the moment the quota resets so callers can surface a
// retry-after hint. Scheduled background runs are exempt and never see it.
type RateLimitError struct {
	LearnerID string
	Limit     int
	ResetAt   time.Time
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("regeneration limit of %d/day reached for learner %s, resets at %s",
		e.Limit, e.LearnerID, e.ResetAt.Format(time.RFC3339))
}

// Is makes RateLimitError match ErrRateLimited with errors.Is().
func (e *RateLimitError) Is(target error) bool {
	return errors.Is(ErrRateLimited, target)
}

// RetryAfter returns the duration until the quota resets. Never negative.
func (e *RateLimitError) RetryAfter(now time.Time) time.Duration {
	d := e.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Prediction domain errors
var (
	ErrPredictionNotFound  = NewDomainError("prediction", "Find", ErrNotFound, "prediction not found")
	ErrPredictionResolved  = NewDomainError("prediction", "Resolve", ErrAlreadyResolved, "prediction already has an outcome")
	ErrInvalidLearnerID    = NewDomainError("prediction", "Validate", ErrInvalidID, "invalid learner ID")
	ErrInvalidObjectiveID  = NewDomainError("prediction", "Validate", ErrInvalidID, "invalid objective ID")
	ErrUnknownObjective    = NewDomainError("prediction", "Validate", ErrValidation, "unknown objective ID")
	ErrInvalidHorizon      = NewDomainError("prediction", "Validate", ErrValueOutOfRange, "days ahead must be between 1 and 30")
	ErrInvalidFeedbackType = NewDomainError("prediction", "Validate", ErrInvalidInput, "invalid feedback type")
)

// Intervention domain errors
var (
	ErrInterventionNotFound = NewDomainError("intervention", "Find", ErrNotFound, "intervention not found")
	ErrInterventionFinal    = NewDomainError("intervention", "Transition", ErrStateTransition, "intervention already applied or dismissed")
	ErrInvalidPriority      = NewDomainError("intervention", "Validate", ErrValueOutOfRange, "priority must be between 1 and 10")
)

// Accuracy domain errors
var (
	ErrEmptyLedger     = NewDomainError("accuracy", "Report", ErrInsufficientData, "no resolved predictions in window")
	ErrInvalidWindow   = NewDomainError("accuracy", "Validate", ErrInvalidInput, "invalid report window")
	ErrOutcomeRecorded = NewDomainError("accuracy", "RecordOutcome", ErrAlreadyResolved, "outcome already recorded")
	ErrHoldoutTooSmall = NewDomainError("accuracy", "Train", ErrInsufficientData, "not enough examples for a holdout split")
	ErrFitDiverged     = NewDomainError("accuracy", "Train", ErrInvalidState, "training did not converge to usable coefficients")
)

// Feature extraction errors
var (
	ErrFeatureOutOfRange = NewDomainError("features", "Validate", ErrValueOutOfRange, "feature value outside [0,1]")
	ErrProfileUnreadable = NewDomainError("features", "Extract", ErrUpstream, "behavioral profile could not be read")
)
