package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/coverage-engine/tariff"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

var testNow = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	maxPay := dec("30000")
	_, err := s.CreatePlan(ctx, tariff.Plan{ID: "primary", Name: "Primary", Deductible: dec("50000"), CoveragePercent: dec("80"), IsActive: true, CreatedAt: testNow})
	require.NoError(t, err)
	_, err = s.CreatePlan(ctx, tariff.Plan{ID: "supp", Name: "Supp", Deductible: dec("0"), CoveragePercent: dec("50"), MaxPayment: &maxPay, IsActive: true, CreatedAt: testNow})
	require.NoError(t, err)
	for _, svc := range []tariff.Service{
		{ID: "mri", Name: "MRI", Price: dec("200000"), IsActive: true, CreatedAt: testNow},
		{ID: "xray", Name: "X-Ray", Price: dec("1000.50"), IsActive: true, CreatedAt: testNow},
		{ID: "paused", Name: "Paused", Price: dec("1"), IsActive: false, CreatedAt: testNow},
	} {
		_, err := s.CreateService(ctx, svc)
		require.NoError(t, err)
	}
}

// =============================================================================
// PLANS AND SERVICES
// =============================================================================

func TestStore_PlanRoundTrip(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	p, err := s.GetPlan(ctx, "supp")
	require.NoError(t, err)
	assert.Equal(t, "Supp", p.Name)
	assert.True(t, dec("50").Equal(p.CoveragePercent))
	require.NotNil(t, p.MaxPayment)
	assert.True(t, dec("30000").Equal(*p.MaxPayment))
	assert.True(t, p.IsActive)
	assert.True(t, testNow.Equal(p.CreatedAt))

	primary, err := s.GetPlan(ctx, "primary")
	require.NoError(t, err)
	assert.Nil(t, primary.MaxPayment)

	_, err = s.GetPlan(ctx, "missing")
	assert.ErrorIs(t, err, tariff.ErrPlanNotFound)

	plans, err := s.ListPlans(ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 2)
}

func TestStore_ServiceSoftDelete(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	active, err := s.ListActiveServices(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	require.NoError(t, s.DeleteService(ctx, "xray", testNow))

	active, err = s.ListActiveServices(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "mri", active[0].ID)

	svc, err := s.GetService(ctx, "xray")
	require.NoError(t, err)
	require.NotNil(t, svc.DeletedAt)
	assert.True(t, testNow.Equal(*svc.DeletedAt))
	assert.True(t, dec("1000.50").Equal(svc.Price))

	all, err := s.ListServices(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	assert.ErrorIs(t, s.DeleteService(ctx, "nope", testNow), tariff.ErrServiceNotFound)
}

// =============================================================================
// TARIFFS
// =============================================================================

func TestStore_TariffRoundTrip(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()
	validTo := testNow.AddDate(1, 0, 0)

	saved, err := s.AddTariff(ctx, tariff.Tariff{
		ServiceID:     "mri",
		PlanID:        "supp",
		PrimaryPlanID: "primary",
		TotalPrice:    dec("200000"),
		PatientShare:  dec("50000"),
		InsurerShare:  dec("150000"),
		CoverageType:  tariff.CoverageSupplementary,
		Priority:      2,
		IsActive:      true,
		ValidFrom:     testNow,
		ValidTo:       &validTo,
		CreatedAt:     testNow,
		CreatedBy:     "alice",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	got, err := s.ListTariffs(ctx, tariff.TariffFilter{ServiceID: "mri"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	tr := got[0]
	assert.Equal(t, saved.ID, tr.ID)
	assert.Equal(t, "primary", tr.PrimaryPlanID)
	assert.Equal(t, tariff.CoverageSupplementary, tr.CoverageType)
	assert.True(t, dec("150000").Equal(tr.InsurerShare))
	assert.True(t, dec("50000").Equal(tr.PatientShare))
	assert.True(t, testNow.Equal(tr.ValidFrom))
	require.NotNil(t, tr.ValidTo)
	assert.True(t, validTo.Equal(*tr.ValidTo))
	assert.Equal(t, "alice", tr.CreatedBy)

	dup, err := s.IsDuplicateCombination(ctx, "mri", "primary", "supp")
	require.NoError(t, err)
	assert.True(t, dup)

	_, err = s.AddTariff(ctx, tariff.Tariff{ServiceID: "mri", PlanID: "supp", PrimaryPlanID: "primary", CoverageType: tariff.CoverageSupplementary, ValidFrom: testNow, CreatedAt: testNow, CreatedBy: "bob"})
	assert.ErrorIs(t, err, tariff.ErrDuplicateCombination)
}

func TestStore_PlainTariffsAreNotUniqueConstrained(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	plain := tariff.Tariff{ServiceID: "mri", PlanID: "primary", CoverageType: tariff.CoveragePrimary, ValidFrom: testNow, CreatedAt: testNow, CreatedBy: "x"}

	_, err := s.AddTariff(ctx, plain)
	require.NoError(t, err)
	_, err = s.AddTariff(ctx, plain)
	require.NoError(t, err)

	all, err := s.ListTariffs(ctx, tariff.TariffFilter{PlanID: "primary"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_DeletePlanBlockedWhileReferenced(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()
	_, err := s.AddTariff(ctx, tariff.Tariff{ServiceID: "mri", PlanID: "supp", PrimaryPlanID: "primary", CoverageType: tariff.CoverageSupplementary, ValidFrom: testNow, CreatedAt: testNow, CreatedBy: "x"})
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeletePlan(ctx, "primary"), tariff.ErrPlanInUse)
	assert.ErrorIs(t, s.DeletePlan(ctx, "missing"), tariff.ErrPlanNotFound)
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

func TestStore_WithinTxCommits(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context, w tariff.TariffWriter) error {
		services, err := w.ListActiveServices(ctx)
		if err != nil {
			return err
		}
		batch := make([]tariff.Tariff, 0, len(services))
		for _, svc := range services {
			batch = append(batch, tariff.Tariff{ServiceID: svc.ID, PlanID: "primary", TotalPrice: svc.Price, InsurerShare: svc.Price, PatientShare: decimal.Zero, CoverageType: tariff.CoveragePrimary, Priority: 1, ValidFrom: testNow, CreatedAt: testNow, CreatedBy: "system"})
		}
		return w.AddTariffs(ctx, batch)
	})

	require.NoError(t, err)
	all, err := s.ListTariffs(ctx, tariff.TariffFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_WithinTxRollsBack(t *testing.T) {
	// GIVEN: A unit of work that writes, then fails
	// THEN: Nothing it wrote survives

	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(ctx context.Context, w tariff.TariffWriter) error {
		require.NoError(t, w.AddTariffs(ctx, []tariff.Tariff{
			{ServiceID: "mri", PlanID: "primary", CoverageType: tariff.CoveragePrimary, ValidFrom: testNow, CreatedAt: testNow, CreatedBy: "x"},
		}))
		return boom
	})

	assert.ErrorIs(t, err, boom)
	all, err := s.ListTariffs(ctx, tariff.TariffFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStore_WithinTxDuplicateInBatchRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	combo := tariff.Tariff{ServiceID: "mri", PlanID: "supp", PrimaryPlanID: "primary", CoverageType: tariff.CoverageSupplementary, ValidFrom: testNow, CreatedAt: testNow, CreatedBy: "x"}

	err := s.WithinTx(ctx, func(ctx context.Context, w tariff.TariffWriter) error {
		return w.AddTariffs(ctx, []tariff.Tariff{combo, combo})
	})

	assert.ErrorIs(t, err, tariff.ErrDuplicateCombination)
	all, _ := s.ListTariffs(ctx, tariff.TariffFilter{})
	assert.Empty(t, all)
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestStore_ClaimLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t0 := testNow

	c, err := s.Claim(ctx, "tok", "run-a", t0, t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, tariff.ClaimAcquired, c.State)
	assert.Equal(t, "run-a", c.Owner)

	c, err = s.Claim(ctx, "tok", "run-b", t0.Add(time.Minute), t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, tariff.ClaimInFlight, c.State)
	assert.Equal(t, "run-a", c.Owner)

	// Stale: the cutoff is after the claim time
	c, err = s.Claim(ctx, "tok", "run-b", t0.Add(2*time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, tariff.ClaimAcquired, c.State)

	assert.ErrorIs(t, s.SetCachedCount(ctx, "tok", "run-a", 11, t0), tariff.ErrClaimLost)
	require.NoError(t, s.SetCachedCount(ctx, "tok", "run-b", 12, t0.Add(2*time.Hour)))

	c, err = s.Claim(ctx, "tok", "run-c", t0.Add(5*time.Hour), t0.Add(4*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, tariff.ClaimCompleted, c.State)
	assert.Equal(t, 12, c.Count)

	count, ok, err := s.CachedCount(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 12, count)

	// Completed tokens survive Release and purge
	require.NoError(t, s.Release(ctx, "tok", "run-b"))
	n, err := s.PurgeStaleClaims(ctx, t0.Add(10*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	_, ok, _ = s.CachedCount(ctx, "tok")
	assert.True(t, ok)
}

func TestStore_StaleOwnerCannotReleaseTakenOverClaim(t *testing.T) {
	// GIVEN: Run A's claim went stale and run B took the token over
	// WHEN: A fails late and releases its claim
	// THEN: B still holds the token and a third run is turned away
	s := newTestStore(t)
	ctx := context.Background()
	ttl := 15 * time.Minute
	t0 := testNow

	_, err := s.Claim(ctx, "tok", "run-a", t0, t0.Add(-ttl))
	require.NoError(t, err)
	later := t0.Add(2 * ttl)
	c, err := s.Claim(ctx, "tok", "run-b", later, later.Add(-ttl))
	require.NoError(t, err)
	require.Equal(t, tariff.ClaimAcquired, c.State)

	require.NoError(t, s.Release(ctx, "tok", "run-a"))

	c, err = s.Claim(ctx, "tok", "run-c", later.Add(time.Second), later.Add(time.Second-ttl))
	require.NoError(t, err)
	assert.Equal(t, tariff.ClaimInFlight, c.State)
	assert.Equal(t, "run-b", c.Owner)
}

func TestStore_ReleaseAndPurge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t0 := testNow
	stale := t0.Add(-time.Hour)

	_, err := s.Claim(ctx, "a", "run-a", t0, stale)
	require.NoError(t, err)
	_, err = s.Claim(ctx, "b", "run-b", t0, stale)
	require.NoError(t, err)

	require.NoError(t, s.Release(ctx, "a", "run-a"))
	c, err := s.Claim(ctx, "a", "run-a2", t0, stale)
	require.NoError(t, err)
	assert.Equal(t, tariff.ClaimAcquired, c.State)

	n, err := s.PurgeStaleClaims(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

// =============================================================================
// BULK PROVISIONING END TO END
// =============================================================================

func TestStore_BulkProvisioningReplay(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()
	bp := tariff.NewBulkProvisioner(s, tariff.WithLogger(zap.NewNop()))
	req := tariff.BulkRequest{PlanID: "primary", TotalPrice: dec("100"), PatientShare: dec("20"), InsurerShare: dec("80"), IsActive: true}

	first, err := bp.Provision(ctx, req, "tok-e2e")
	require.NoError(t, err)
	assert.Equal(t, 2, first.Count)

	again, err := bp.Provision(ctx, req, "tok-e2e")
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, 2, again.Count)

	all, err := s.ListTariffs(ctx, tariff.TariffFilter{PlanID: "primary"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_Reset(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.Reset(ctx))

	plans, err := s.ListPlans(ctx)
	require.NoError(t, err)
	assert.Empty(t, plans)
	services, err := s.ListServices(ctx)
	require.NoError(t, err)
	assert.Empty(t, services)
}

func TestStore_MigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}
