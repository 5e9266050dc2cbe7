/*
layer.go - Single coverage layer computation

PURPOSE:
  Computes how much one insurance layer pays, given what is still owed
  when that layer is reached.

ALGORITHM (fixed order):
  1. raw = remaining * percentage/100, or remaining when percentage is 0
  2. cap:   raw = min(raw, MaxAmount)
  3. floor: raw = max(raw, MinAmount)
  4. adjustment settings, then rounding to the currency scale
     -> CalculatedCoverage
  5. ActualCoverage = min(CalculatedCoverage, remaining), never below 0
  6. IsApplied = CalculatedCoverage > 0 && remaining > 0

FLOOR VS CAP:
  The floor is applied after the cap, so a layer with MinAmount > MaxAmount
  pays its floor. That is a configuration mistake the engine does not
  correct; it is logged at Warn and otherwise computed as written.

SEE ALSO:
  - waterfall.go: Calls Compute once per layer in priority order
  - adjustment.go: Step 4
*/
package coverage

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LayerCalculator computes one layer's contribution.
type LayerCalculator struct {
	adjuster *Adjuster
	scale    int32
	logger   *zap.Logger
}

// NewLayerCalculator creates a calculator rounding to scale decimal places.
func NewLayerCalculator(adjuster *Adjuster, scale int32, logger *zap.Logger) *LayerCalculator {
	if logger == nil {
		logger = zap.L()
	}
	if adjuster == nil {
		adjuster = NewAdjuster(logger, nil)
	}
	return &LayerCalculator{adjuster: adjuster, scale: scale, logger: logger}
}

// Compute runs the layer against the remaining balance. A returned error is
// always a *LayerError and means the layer must be skipped.
func (c *LayerCalculator) Compute(layer CoverageLayer, remaining decimal.Decimal, evaluationTime time.Time) (LayerResult, error) {
	if err := c.validate(layer, remaining); err != nil {
		return LayerResult{}, err
	}

	// 1. Percentage of what is still owed, or all of it in flat mode
	raw := remaining
	if !layer.IsFlat() {
		raw = remaining.Mul(Percent(layer.Percentage))
	}

	// 2. Cap
	if layer.MaxAmount != nil && raw.GreaterThan(*layer.MaxAmount) {
		raw = *layer.MaxAmount
	}

	// 3. Floor (wins over the cap when both conflict)
	if layer.MinAmount != nil && raw.LessThan(*layer.MinAmount) {
		raw = *layer.MinAmount
	}

	// 4. Adjustments
	result := LayerResult{
		InsuranceID:     layer.InsuranceID,
		Priority:        layer.Priority,
		RemainingBefore: remaining,
	}
	calculated := raw
	if layer.CustomSettings != nil && !layer.CustomSettings.IsZero() {
		adj := c.adjuster.adjust(raw, *layer.CustomSettings, evaluationTime,
			zap.String("insurance_id", layer.InsuranceID),
			zap.Int("priority", layer.Priority),
		)
		result.Adjustment = &adj
		calculated = adj.Amount
	}
	calculated = calculated.Round(c.scale)

	// 5. Clamp to what is owed; a negative result never adds to the balance
	actual := decimal.Min(calculated, remaining)
	if actual.IsNegative() {
		actual = decimal.Zero
	}

	result.CalculatedCoverage = calculated
	result.ActualCoverage = actual
	result.RemainingAfter = remaining.Sub(actual)

	// 6.
	result.IsApplied = calculated.IsPositive() && remaining.IsPositive()

	return result, nil
}

func (c *LayerCalculator) validate(layer CoverageLayer, remaining decimal.Decimal) error {
	if layer.InsuranceID == "" {
		return &LayerError{Reason: "missing insurance id"}
	}
	if layer.Percentage.IsNegative() || layer.Percentage.GreaterThan(hundred) {
		return &LayerError{InsuranceID: layer.InsuranceID, Reason: "percentage " + layer.Percentage.String(), Err: ErrInvalidPercentage}
	}
	if layer.MinAmount != nil && layer.MinAmount.IsNegative() {
		return &LayerError{InsuranceID: layer.InsuranceID, Reason: "negative floor", Err: ErrInvalidAmount}
	}
	if layer.MaxAmount != nil && layer.MaxAmount.IsNegative() {
		return &LayerError{InsuranceID: layer.InsuranceID, Reason: "negative cap", Err: ErrInvalidAmount}
	}
	if remaining.IsNegative() {
		return &LayerError{InsuranceID: layer.InsuranceID, Reason: "negative remaining balance", Err: ErrInvalidAmount}
	}
	if layer.MinAmount != nil && layer.MaxAmount != nil && layer.MinAmount.GreaterThan(*layer.MaxAmount) {
		c.logger.Warn("coverage layer floor exceeds cap, floor applies",
			zap.String("insurance_id", layer.InsuranceID),
			zap.String("min_amount", layer.MinAmount.String()),
			zap.String("max_amount", layer.MaxAmount.String()),
		)
	}
	return nil
}
