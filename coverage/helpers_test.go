package coverage_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/warp/coverage-engine/coverage"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func intPtr(i int) *int {
	return &i
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

var testNow = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func newTestEngine() *coverage.Engine {
	return coverage.NewEngine(
		coverage.WithLogger(zap.NewNop()),
		coverage.WithClock(fixedClock),
	)
}

func layer(id string, priority int, pct string) coverage.CoverageLayer {
	return coverage.CoverageLayer{InsuranceID: id, Priority: priority, Percentage: dec(pct)}
}
