/*
errors.go - Error types for tariff operations

ERROR CATEGORIES:
  1. Validation errors - Bad request data, inactive plan/service
  2. Not found - Unknown plan or service id
  3. Conflicts - Duplicate combination, plan still referenced,
     idempotency token held by another run
  4. Bulk errors - No eligible targets (expected), transaction failure

TRANSACTION FAILURES:
  TransactionError.Error() is always "bulk operation failed". The cause is
  kept for errors.Is / errors.As and for the logger, never for the caller's
  response body.

SEE ALSO:
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package tariff

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation marks request data the operation refuses outright.
	ErrValidation = errors.New("validation failed")

	// ErrPlanNotFound is returned when a referenced plan doesn't exist.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrServiceNotFound is returned when a referenced service doesn't exist.
	ErrServiceNotFound = errors.New("service not found")

	// ErrPlanInactive is returned when a referenced plan is not active.
	ErrPlanInactive = errors.New("plan is not active")

	// ErrServiceInactive is returned when a referenced service is inactive or deleted.
	ErrServiceInactive = errors.New("service is not active")

	// ErrDuplicateCombination is returned when the service + plan pair
	// is already combined.
	ErrDuplicateCombination = errors.New("combination already exists")

	// ErrNoEligibleTargets is returned by bulk provisioning when there is
	// nothing to provision.
	ErrNoEligibleTargets = errors.New("no eligible targets")

	// ErrBulkOperationFailed is the generic signal for a rolled back bulk write.
	ErrBulkOperationFailed = errors.New("bulk operation failed")

	// ErrIdempotencyInFlight is returned when another run holds the token.
	ErrIdempotencyInFlight = errors.New("idempotency key is in use by another request")

	// ErrPlanInUse is returned when deleting a plan that tariffs reference.
	ErrPlanInUse = errors.New("plan is referenced by tariffs")

	// ErrClaimLost is returned by IdempotencyStore.SetCachedCount when the
	// token is no longer held by the given owner.
	ErrClaimLost = errors.New("idempotency claim taken over by another run")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
	Err    error // optional cause, e.g. ErrPlanInactive
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Err}
}

// Code is the machine-readable reason returned to API clients.
func (e *ValidationError) Code() string {
	switch {
	case errors.Is(e.Err, ErrPlanInactive):
		return "plan_inactive"
	case errors.Is(e.Err, ErrServiceInactive):
		return "service_inactive"
	default:
		return "validation_failed"
	}
}

// TransactionError wraps the cause of a rolled back bulk write.
type TransactionError struct {
	Cause error
}

func (e *TransactionError) Error() string {
	return ErrBulkOperationFailed.Error()
}

func (e *TransactionError) Unwrap() []error {
	return []error{ErrBulkOperationFailed, e.Cause}
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrServiceNotFound)
}

// IsConflict returns true if the request clashes with existing state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateCombination) ||
		errors.Is(err, ErrPlanInUse) ||
		errors.Is(err, ErrIdempotencyInFlight)
}
