/*
Package coverage provides the insurance coverage calculation core.

PURPOSE:
  Splits a single billable amount across prioritized insurance layers
  (primary plus any number of supplementary plans) without losing money.
  Every layer consumes what is still owed after the layers before it,
  so the sum of coverage can never exceed the billed amount.

KEY CONCEPTS IN THIS FILE (types.go):
  - CoverageLayer: One insurer's rule (priority, percentage, floor, cap, adjustments)
  - LayerResult: What one layer contributed and what was left afterwards
  - LayerFailure: A layer that could not be computed and was skipped
  - WaterfallResult: Aggregate over all layers for one service amount

DESIGN PRINCIPLES:
  1. Precision: All money is decimal.Decimal, never float64
  2. Determinism: Stable priority order, fixed rounding scale
  3. Isolation: A broken layer is skipped, never aborts the waterfall
  4. Purity: No shared state; safe for concurrent callers without locks

USAGE:
  engine := coverage.NewEngine(coverage.WithLogger(logger))
  result, err := engine.Compute(amount, layers, serviceDate, nil)
  fmt.Println(result.TotalCoverage, result.FinalPatientShare)

SEE ALSO:
  - adjustment.go: Multiplier / discount / time-decay modifiers
  - layer.go: Single-layer computation
  - waterfall.go: Ordered multi-layer orchestration
  - combination.go: Primary + supplementary stacking with deductible
*/
package coverage

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultScale is the number of decimal places coverage amounts are rounded to.
const DefaultScale int32 = 2

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Percent converts a 0-100 percentage into a fraction.
func Percent(p decimal.Decimal) decimal.Decimal {
	return p.Div(hundred)
}

// =============================================================================
// COVERAGE LAYER - Input, one per insurance covering the service
// =============================================================================

// CoverageLayer is one insurer's coverage rule for a service.
//
// Percentage zero means "cover the full remaining amount" (flat mode).
// MinAmount and MaxAmount are optional; the engine does not check that
// MinAmount <= MaxAmount (see LayerCalculator for precedence).
type CoverageLayer struct {
	InsuranceID string
	Priority    int // lower = evaluated earlier; ties keep input order

	Percentage decimal.Decimal // 0..100
	MinAmount  *decimal.Decimal
	MaxAmount  *decimal.Decimal

	// CustomSettings overrides any global adjustment entry for this layer.
	CustomSettings *AdjustmentSettings
}

// IsFlat reports whether the layer covers the full remaining amount.
func (l CoverageLayer) IsFlat() bool {
	return !l.Percentage.IsPositive()
}

// =============================================================================
// LAYER RESULT - Output, one per processed layer
// =============================================================================

// LayerResult describes what a single layer contributed.
type LayerResult struct {
	InsuranceID string
	Priority    int

	RemainingBefore decimal.Decimal

	// CalculatedCoverage is the amount after percentage, cap, floor and
	// adjustment, before clamping to the remaining balance.
	CalculatedCoverage decimal.Decimal

	// ActualCoverage is min(CalculatedCoverage, RemainingBefore), never negative.
	ActualCoverage decimal.Decimal

	RemainingAfter decimal.Decimal

	// IsApplied is true iff CalculatedCoverage > 0 and RemainingBefore > 0.
	IsApplied bool

	// Adjustment is nil when the layer had no adjustment settings.
	Adjustment *Adjustment
}

// LayerFailure records a layer that was skipped because it could not be computed.
type LayerFailure struct {
	InsuranceID string
	Priority    int
	Position    int // index in the original input slice
	Reason      string
	Err         error
}

// =============================================================================
// WATERFALL RESULT - Aggregate
// =============================================================================

// WaterfallResult is the outcome of running all layers over one service amount.
//
// INVARIANTS:
//   - TotalCoverage <= ServiceAmount
//   - FinalPatientShare = ServiceAmount - TotalCoverage >= 0
//   - LayerResults are in evaluation order
type WaterfallResult struct {
	ServiceAmount      decimal.Decimal
	TotalCoverage      decimal.Decimal
	FinalPatientShare  decimal.Decimal
	CoveragePercentage decimal.Decimal
	EvaluationTime     time.Time

	LayerResults []LayerResult
	Skipped      []LayerFailure
}

// AppliedLayers returns the number of layers that contributed coverage.
func (r *WaterfallResult) AppliedLayers() int {
	n := 0
	for _, lr := range r.LayerResults {
		if lr.IsApplied {
			n++
		}
	}
	return n
}

// CoveragePercentage returns total/amount*100, or zero for a zero amount.
func CoveragePercentage(total, amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	return total.Div(amount).Mul(hundred)
}
