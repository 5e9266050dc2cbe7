/*
waterfall.go - Ordered multi-layer coverage

PURPOSE:
  Runs every coverage layer for one service amount in priority order.
  Each layer sees only the balance left by the layers before it, so
  coverage can be stacked without ever double-counting.

ALGORITHM:
  1. Stable sort layers by Priority (ties keep input order)
  2. remaining = serviceAmount
  3. For each layer while remaining > 0:
       compute the layer; on success subtract ActualCoverage from remaining;
       on failure record a LayerFailure and move on with remaining unchanged
  4. FinalPatientShare = remaining

  Once remaining reaches zero the loop stops; later layers are neither
  evaluated nor reported.

GLOBAL ADJUSTMENTS:
  Compute accepts adjustment settings keyed by insurance id. A layer's own
  CustomSettings take precedence over the global entry.

CONCURRENCY:
  Engine holds no mutable state. One Engine may serve any number of
  goroutines.

EXAMPLE:
  amount 1,000,000
  layer 1: 70%, cap 500,000  -> raw 700,000, capped 500,000, remaining 500,000
  layer 2: 100%              -> 500,000, remaining 0
  total 1,000,000, patient 0, coverage 100%

SEE ALSO:
  - layer.go: Per-layer math
  - combination.go: Two-layer deductible variant
*/
package coverage

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// OPTIONS
// =============================================================================

type options struct {
	logger *zap.Logger
	now    func() time.Time
	scale  int32
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the logger used for skipped layers and failed adjustments.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock sets the clock used by time-decay adjustments.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithScale sets the number of decimal places coverage is rounded to.
func WithScale(scale int32) Option {
	return func(o *options) { o.scale = scale }
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine orchestrates a waterfall over ordered coverage layers.
type Engine struct {
	calculator *LayerCalculator
	logger     *zap.Logger
	scale      int32
}

// NewEngine creates an Engine.
func NewEngine(opts ...Option) *Engine {
	o := options{scale: DefaultScale}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.L()
	}
	adjuster := NewAdjuster(o.logger, o.now)
	return &Engine{
		calculator: NewLayerCalculator(adjuster, o.scale, o.logger),
		logger:     o.logger,
		scale:      o.scale,
	}
}

// Scale returns the rounding scale used for coverage amounts.
func (e *Engine) Scale() int32 { return e.scale }

// Calculator returns the engine's layer calculator.
func (e *Engine) Calculator() *LayerCalculator { return e.calculator }

// Compute runs the waterfall. The only returned error is a rejected
// serviceAmount; per-layer problems are reported in WaterfallResult.Skipped.
func (e *Engine) Compute(
	serviceAmount decimal.Decimal,
	layers []CoverageLayer,
	evaluationTime time.Time,
	global map[string]AdjustmentSettings,
) (*WaterfallResult, error) {
	if serviceAmount.IsNegative() {
		return nil, &AmountError{Field: "service_amount", Value: serviceAmount.String(), Err: ErrInvalidAmount}
	}

	ordered := sortLayers(layers)

	result := &WaterfallResult{
		ServiceAmount:  serviceAmount,
		EvaluationTime: evaluationTime,
		LayerResults:   make([]LayerResult, 0, len(ordered)),
	}

	remaining := serviceAmount
	total := decimal.Zero

	for _, pl := range ordered {
		if !remaining.IsPositive() {
			break
		}

		layer := pl.layer
		if layer.CustomSettings == nil {
			if s, ok := global[layer.InsuranceID]; ok {
				layer.CustomSettings = &s
			}
		}

		lr, err := e.computeIsolated(layer, remaining, evaluationTime)
		if err != nil {
			failure := LayerFailure{
				InsuranceID: layer.InsuranceID,
				Priority:    layer.Priority,
				Position:    pl.position,
				Reason:      err.Error(),
				Err:         err,
			}
			result.Skipped = append(result.Skipped, failure)
			e.logger.Warn("coverage layer skipped",
				zap.String("insurance_id", layer.InsuranceID),
				zap.Int("priority", layer.Priority),
				zap.Int("position", pl.position),
				zap.Error(err),
			)
			continue
		}

		result.LayerResults = append(result.LayerResults, lr)
		total = total.Add(lr.ActualCoverage)
		remaining = remaining.Sub(lr.ActualCoverage)
	}

	result.TotalCoverage = total
	result.FinalPatientShare = remaining
	result.CoveragePercentage = CoveragePercentage(total, serviceAmount)

	return result, nil
}

// computeIsolated keeps a panic in one layer from taking down the waterfall.
func (e *Engine) computeIsolated(layer CoverageLayer, remaining decimal.Decimal, at time.Time) (lr LayerResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &LayerError{InsuranceID: layer.InsuranceID, Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return e.calculator.Compute(layer, remaining, at)
}

type positionedLayer struct {
	layer    CoverageLayer
	position int
}

func sortLayers(layers []CoverageLayer) []positionedLayer {
	ordered := make([]positionedLayer, len(layers))
	for i, l := range layers {
		ordered[i] = positionedLayer{layer: l, position: i}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].layer.Priority < ordered[j].layer.Priority
	})
	return ordered
}
