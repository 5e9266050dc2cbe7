/*
errors.go - Error types for the coverage calculation core

ERROR CATEGORIES:
  1. Validation errors - Amounts or percentages the core refuses outright
  2. Layer errors - One layer could not be computed; the waterfall skips it
  3. Adjustment errors - A custom setting could not be used; the amount is
     left unadjusted

Only validation errors ever reach the caller as a returned error. Layer and
adjustment errors are recovered locally and reported in the result
(WaterfallResult.Skipped, Adjustment.Err) and to the logger.

SEE ALSO:
  - layer.go: Produces LayerError
  - adjustment.go: Produces SettingError
*/
package coverage

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned for negative service amounts or balances.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidPercentage is returned for percentages outside [0, 100].
	ErrInvalidPercentage = errors.New("percentage must be between 0 and 100")

	// ErrLayerComputation marks a single layer that was skipped.
	ErrLayerComputation = errors.New("layer computation failed")

	// ErrAdjustmentFailed marks adjustment settings that could not be applied.
	ErrAdjustmentFailed = errors.New("adjustment failed")

	// ErrOutOfRange is returned when a setting value is outside its allowed range.
	ErrOutOfRange = errors.New("value out of range")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// AmountError describes a rejected input amount.
type AmountError struct {
	Field string
	Value string
	Err   error
}

func (e *AmountError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Field, e.Value, e.Err)
}

func (e *AmountError) Unwrap() error {
	if e.Err == nil {
		return ErrInvalidAmount
	}
	return e.Err
}

// LayerError describes why one coverage layer could not be computed.
type LayerError struct {
	InsuranceID string
	Reason      string
	Err         error
}

func (e *LayerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("layer %q: %s: %v", e.InsuranceID, e.Reason, e.Err)
	}
	return fmt.Sprintf("layer %q: %s", e.InsuranceID, e.Reason)
}

// Unwrap exposes both the layer sentinel and the underlying cause.
func (e *LayerError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrLayerComputation}
	}
	return []error{ErrLayerComputation, e.Err}
}

// SettingError describes an adjustment setting that could not be converted
// or is outside its allowed range.
type SettingError struct {
	Key   string
	Value any
	Err   error
}

func (e *SettingError) Error() string {
	return fmt.Sprintf("setting %s=%v: %v", e.Key, e.Value, e.Err)
}

func (e *SettingError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true if the error is a rejected input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) || errors.Is(err, ErrInvalidPercentage)
}
