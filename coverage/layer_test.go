package coverage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/coverage-engine/coverage"
)

func newTestCalculator() *coverage.LayerCalculator {
	return coverage.NewLayerCalculator(coverage.NewAdjuster(zap.NewNop(), fixedClock), coverage.DefaultScale, zap.NewNop())
}

func TestLayer_PercentageOfRemaining(t *testing.T) {
	calc := newTestCalculator()

	got, err := calc.Compute(layer("ins-a", 1, "70"), dec("1000"), testNow)

	require.NoError(t, err)
	assertDec(t, "700", got.CalculatedCoverage)
	assertDec(t, "700", got.ActualCoverage)
	assertDec(t, "300", got.RemainingAfter)
	assert.True(t, got.IsApplied)
	assert.Nil(t, got.Adjustment)
}

func TestLayer_FlatModeCoversFullRemaining(t *testing.T) {
	calc := newTestCalculator()

	got, err := calc.Compute(layer("ins-a", 1, "0"), dec("420.50"), testNow)

	require.NoError(t, err)
	assertDec(t, "420.50", got.CalculatedCoverage)
	assertDec(t, "0", got.RemainingAfter)
}

func TestLayer_CapAndFloor(t *testing.T) {
	calc := newTestCalculator()

	tests := []struct {
		name       string
		min, max   string
		remaining  string
		calculated string
		actual     string
	}{
		{name: "cap limits", max: "500", remaining: "1000", calculated: "500", actual: "500"},
		{name: "floor raises", min: "800", remaining: "1000", calculated: "800", actual: "800"},
		{name: "floor above remaining is clamped", min: "800", remaining: "600", calculated: "800", actual: "600"},
		{name: "within bounds untouched", min: "100", max: "900", remaining: "1000", calculated: "700", actual: "700"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := layer("ins-a", 1, "70")
			if tt.min != "" {
				l.MinAmount = decPtr(tt.min)
			}
			if tt.max != "" {
				l.MaxAmount = decPtr(tt.max)
			}

			got, err := calc.Compute(l, dec(tt.remaining), testNow)

			require.NoError(t, err)
			assertDec(t, tt.calculated, got.CalculatedCoverage)
			assertDec(t, tt.actual, got.ActualCoverage)
		})
	}
}

func TestLayer_FloorAboveCap_FloorWins(t *testing.T) {
	// GIVEN: min 600 > max 400 (configuration mistake)
	// WHEN: 70% of 1000 = 700
	// THEN: cap to 400, then floor to 600; a warning is logged

	core, logs := observer.New(zap.WarnLevel)
	calc := coverage.NewLayerCalculator(nil, coverage.DefaultScale, zap.New(core))

	l := layer("ins-a", 1, "70")
	l.MinAmount = decPtr("600")
	l.MaxAmount = decPtr("400")

	got, err := calc.Compute(l, dec("1000"), testNow)

	require.NoError(t, err)
	assertDec(t, "600", got.CalculatedCoverage)
	assertDec(t, "600", got.ActualCoverage)
	assert.Equal(t, 1, logs.FilterMessage("coverage layer floor exceeds cap, floor applies").Len())
}

func TestLayer_AdjustmentApplied(t *testing.T) {
	calc := newTestCalculator()

	l := layer("ins-a", 1, "50")
	l.CustomSettings = &coverage.AdjustmentSettings{DiscountPercent: decPtr("10")}

	got, err := calc.Compute(l, dec("1000"), testNow)

	require.NoError(t, err)
	assertDec(t, "450", got.CalculatedCoverage)
	require.NotNil(t, got.Adjustment)
	assertDec(t, "500", got.Adjustment.Base)
}

func TestLayer_NegativeMultiplierClampsToZero(t *testing.T) {
	// GIVEN: A pathological negative multiplier
	// THEN: Calculated coverage is negative but actual coverage is 0
	//       and the balance is untouched

	calc := newTestCalculator()
	l := layer("ins-a", 1, "50")
	l.CustomSettings = &coverage.AdjustmentSettings{Multiplier: decPtr("-2")}

	got, err := calc.Compute(l, dec("1000"), testNow)

	require.NoError(t, err)
	assertDec(t, "-1000", got.CalculatedCoverage)
	assertDec(t, "0", got.ActualCoverage)
	assertDec(t, "1000", got.RemainingAfter)
	assert.False(t, got.IsApplied)
}

func TestLayer_RoundsToCurrencyScale(t *testing.T) {
	calc := newTestCalculator()

	got, err := calc.Compute(layer("ins-a", 1, "33.333"), dec("100"), testNow)

	require.NoError(t, err)
	assertDec(t, "33.33", got.CalculatedCoverage)
}

func TestLayer_ZeroRemainingIsNotApplied(t *testing.T) {
	calc := newTestCalculator()

	got, err := calc.Compute(layer("ins-a", 1, "0"), dec("0"), testNow)

	require.NoError(t, err)
	assert.False(t, got.IsApplied)
	assertDec(t, "0", got.ActualCoverage)
}

func TestLayer_InvalidInputsFail(t *testing.T) {
	calc := newTestCalculator()

	tests := []struct {
		name      string
		layer     coverage.CoverageLayer
		remaining string
		wantIs    error
	}{
		{name: "percentage above 100", layer: layer("ins-a", 1, "120"), remaining: "100", wantIs: coverage.ErrInvalidPercentage},
		{name: "negative percentage", layer: layer("ins-a", 1, "-5"), remaining: "100", wantIs: coverage.ErrInvalidPercentage},
		{name: "negative cap", layer: coverage.CoverageLayer{InsuranceID: "ins-a", MaxAmount: decPtr("-1")}, remaining: "100", wantIs: coverage.ErrInvalidAmount},
		{name: "negative floor", layer: coverage.CoverageLayer{InsuranceID: "ins-a", MinAmount: decPtr("-1")}, remaining: "100", wantIs: coverage.ErrInvalidAmount},
		{name: "negative remaining", layer: layer("ins-a", 1, "50"), remaining: "-1", wantIs: coverage.ErrInvalidAmount},
		{name: "missing insurance id", layer: layer("", 1, "50"), remaining: "100", wantIs: coverage.ErrLayerComputation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := calc.Compute(tt.layer, dec(tt.remaining), testNow)
			require.Error(t, err)
			assert.ErrorIs(t, err, coverage.ErrLayerComputation)
			assert.ErrorIs(t, err, tt.wantIs)

			var layerErr *coverage.LayerError
			assert.ErrorAs(t, err, &layerErr)
		})
	}
}
