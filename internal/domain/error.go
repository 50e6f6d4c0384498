package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrTrialNotEligible     = errors.New("user is not eligible for a trial")
	ErrRateLimited          = errors.New("too many requests")
)

// Payment error taxonomy. Callers match with errors.Is.
var (
	// ErrInvalidRequest: bad input, no side effect, not retryable until corrected.
	ErrInvalidRequest = errors.New("invalid payment request")
	// ErrGatewayUnavailable: transient; only the initiation step may be retried.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrDeclined: rail-reported refusal, terminal.
	ErrDeclined = errors.New("payment declined")
	// ErrConflict: idempotency token reused with different parameters.
	ErrConflict = errors.New("idempotency token reused with different parameters")
	// ErrExpired: async rail timed out awaiting confirmation.
	ErrExpired = errors.New("payment confirmation window expired")
	// ErrInProgress: another submission with the same token is still talking
	// to the rail. Retry later with the same token.
	ErrInProgress = errors.New("payment with this idempotency token is in progress")
)

// FieldError names the request field that failed validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid %s", e.Field)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrInvalidRequest }

// InvalidField is shorthand for &FieldError{...}.
func InvalidField(field, reason string) error {
	return &FieldError{Field: field, Reason: reason}
}
