package tariff_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/coverage-engine/tariff"
	"github.com/warp/coverage-engine/tariff/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testNow = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

// seedRepo creates:
//   - plans "primary" (deductible 50,000, 80%) and "supp" (50%, max 30,000),
//     "inactive" (not active)
//   - services "mri" (200,000), "xray" (1,000), "retired" (deleted),
//     "paused" (inactive)
func seedRepo(t *testing.T) *store.Memory {
	t.Helper()
	ctx := context.Background()
	repo := store.NewMemory()

	plans := []tariff.Plan{
		{ID: "primary", Name: "Primary", Deductible: dec("50000"), CoveragePercent: dec("80"), IsActive: true},
		{ID: "supp", Name: "Supplementary", CoveragePercent: dec("50"), MaxPayment: decPtr("30000"), IsActive: true},
		{ID: "inactive", Name: "Old plan", CoveragePercent: dec("10"), IsActive: false},
	}
	for _, p := range plans {
		_, err := repo.CreatePlan(ctx, p)
		require.NoError(t, err)
	}

	services := []tariff.Service{
		{ID: "mri", Name: "MRI", Price: dec("200000"), IsActive: true},
		{ID: "xray", Name: "X-Ray", Price: dec("1000"), IsActive: true},
		{ID: "retired", Name: "Retired", Price: dec("10"), IsActive: true},
		{ID: "paused", Name: "Paused", Price: dec("10"), IsActive: false},
	}
	for _, s := range services {
		_, err := repo.CreateService(ctx, s)
		require.NoError(t, err)
	}
	require.NoError(t, repo.DeleteService(ctx, "retired", testNow))

	return repo
}

func testOptions() []tariff.Option {
	return []tariff.Option{tariff.WithLogger(zap.NewNop()), tariff.WithClock(fixedClock)}
}
