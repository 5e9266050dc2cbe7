/*
adjustment.go - Per-layer coverage modifiers

PURPOSE:
  Some insurers modify their computed coverage: a contractual multiplier,
  a negotiated discount, or a penalty for claims filed late. The Adjuster
  applies these to one layer's coverage amount.

RECOGNISED SETTINGS (AdjustmentSettings):
  Multiplier       amount *= multiplier
  DiscountPercent  amount *= (1 - discount/100), discount in [0, 100]
  TimeLimitHours   if now - evaluationTime > limit hours, amount *= 0.5

  Missing settings are no-ops. When several are present they apply in the
  fixed order multiplier -> discount -> time decay, each on the previous
  step's output.

FAILURE MODE:
  The Adjuster never fails its caller. Malformed or out-of-range settings
  leave the base amount unmodified; the result carries Fallback=true and the
  cause, and the failure is logged at Warn.

SEE ALSO:
  - layer.go: Calls the Adjuster after cap and floor
  - factory/layers.go: Converts raw setting maps into AdjustmentSettings
*/
package coverage

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Adjustment step names, in application order.
const (
	StepMultiplier = "multiplier"
	StepDiscount   = "discount"
	StepTimeDecay  = "time_decay"
)

var timeDecayFactor = decimal.RequireFromString("0.5")

// =============================================================================
// SETTINGS - Closed set of recognised options
// =============================================================================

// AdjustmentSettings lists the adjustment options a layer may carry.
// A nil field means the option is not configured.
type AdjustmentSettings struct {
	Multiplier      *decimal.Decimal
	DiscountPercent *decimal.Decimal
	TimeLimitHours  *int

	// Malformed is set at the boundary when a raw value could not be
	// converted. The Adjuster then falls back to the unadjusted amount.
	Malformed error
}

// IsZero reports whether no option is configured.
func (s AdjustmentSettings) IsZero() bool {
	return s.Multiplier == nil && s.DiscountPercent == nil && s.TimeLimitHours == nil && s.Malformed == nil
}

// Validate checks the configured options against their allowed ranges.
func (s AdjustmentSettings) Validate() error {
	if s.Malformed != nil {
		return s.Malformed
	}
	if s.DiscountPercent != nil {
		d := *s.DiscountPercent
		if d.IsNegative() || d.GreaterThan(hundred) {
			return &SettingError{Key: "discountPercent", Value: d.String(), Err: ErrOutOfRange}
		}
	}
	if s.TimeLimitHours != nil && *s.TimeLimitHours < 0 {
		return &SettingError{Key: "timeLimitHours", Value: *s.TimeLimitHours, Err: ErrOutOfRange}
	}
	return nil
}

// =============================================================================
// ADJUSTMENT RESULT
// =============================================================================

// Adjustment is the outcome of applying settings to a base amount.
type Adjustment struct {
	Base   decimal.Decimal
	Amount decimal.Decimal
	Steps  []string // steps that changed the amount, in order

	// Fallback is true when the settings could not be used and Amount == Base.
	Fallback bool
	Err      error
}

// =============================================================================
// ADJUSTER
// =============================================================================

// Adjuster applies AdjustmentSettings. It is stateless apart from its clock
// and logger and may be shared between goroutines.
type Adjuster struct {
	now    func() time.Time
	logger *zap.Logger
}

// NewAdjuster creates an Adjuster. A nil logger uses zap.L(); a nil clock
// uses time.Now.
func NewAdjuster(logger *zap.Logger, now func() time.Time) *Adjuster {
	if logger == nil {
		logger = zap.L()
	}
	if now == nil {
		now = time.Now
	}
	return &Adjuster{now: now, logger: logger}
}

// Adjust applies settings to baseAmount. evaluationTime is the moment the
// service was rendered; it only matters for the time-decay option.
func (a *Adjuster) Adjust(baseAmount decimal.Decimal, settings AdjustmentSettings, evaluationTime time.Time) Adjustment {
	return a.adjust(baseAmount, settings, evaluationTime)
}

func (a *Adjuster) adjust(base decimal.Decimal, s AdjustmentSettings, evaluationTime time.Time, fields ...zap.Field) Adjustment {
	if err := s.Validate(); err != nil {
		wrapped := fmt.Errorf("%w: %w", ErrAdjustmentFailed, err)
		a.logger.Warn("coverage adjustment ignored",
			append(fields,
				zap.String("base_amount", base.String()),
				zap.Error(err),
			)...,
		)
		return Adjustment{Base: base, Amount: base, Fallback: true, Err: wrapped}
	}

	amount := base
	var steps []string

	if s.Multiplier != nil {
		amount = amount.Mul(*s.Multiplier)
		steps = append(steps, StepMultiplier)
	}
	if s.DiscountPercent != nil {
		amount = amount.Mul(one.Sub(Percent(*s.DiscountPercent)))
		steps = append(steps, StepDiscount)
	}
	if s.TimeLimitHours != nil && a.expired(evaluationTime, *s.TimeLimitHours) {
		amount = amount.Mul(timeDecayFactor)
		steps = append(steps, StepTimeDecay)
	}

	return Adjustment{Base: base, Amount: amount, Steps: steps}
}

// expired reports whether more than limit hours have passed since at.
// A zero evaluation time carries no age, so it never decays.
func (a *Adjuster) expired(at time.Time, limitHours int) bool {
	if at.IsZero() {
		return false
	}
	return a.now().Sub(at).Hours() > float64(limitHours)
}

// IsAdjustmentFailure returns true if err came from unusable settings.
func IsAdjustmentFailure(err error) bool {
	return errors.Is(err, ErrAdjustmentFailed)
}
