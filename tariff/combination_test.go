package tariff_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/coverage-engine/tariff"
)

func mriCombination() tariff.CombinationRequest {
	return tariff.CombinationRequest{ServiceID: "mri", PrimaryPlanID: "primary", SupplementaryPlanID: "supp"}
}

func TestCombination_CreatePersistsSupplementaryTariff(t *testing.T) {
	// GIVEN: MRI at 200,000, primary (50,000 deductible, 80%), supp (50%, max 30,000)
	// WHEN: Creating the combination as "alice"
	// THEN: One supplementary tariff: insurer 150,000, patient 50,000

	repo := seedRepo(t)
	svc := tariff.NewCombinationService(repo, testOptions()...)
	ctx := tariff.WithActor(context.Background(), "alice")

	saved, result, err := svc.Create(ctx, mriCombination())

	require.NoError(t, err)
	assertDec(t, "120000", result.PrimaryCoverage)
	assertDec(t, "30000", result.SupplementaryCoverage)
	assertDec(t, "50000", result.FinalPatientShare)

	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, "mri", saved.ServiceID)
	assert.Equal(t, "supp", saved.PlanID)
	assert.Equal(t, "primary", saved.PrimaryPlanID)
	assert.Equal(t, tariff.CoverageSupplementary, saved.CoverageType)
	assert.Equal(t, tariff.PrioritySupplementary, saved.Priority)
	assertDec(t, "200000", saved.TotalPrice)
	assertDec(t, "150000", saved.InsurerShare)
	assertDec(t, "50000", saved.PatientShare)
	assert.True(t, saved.IsActive)
	assert.Equal(t, testNow, saved.CreatedAt)
	assert.Equal(t, testNow, saved.ValidFrom)
	assert.Equal(t, "alice", saved.CreatedBy)

	all, err := repo.ListTariffs(context.Background(), tariff.TariffFilter{ServiceID: "mri"})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCombination_DuplicateRejectedBeforeWrite(t *testing.T) {
	repo := seedRepo(t)
	svc := tariff.NewCombinationService(repo, testOptions()...)
	ctx := context.Background()

	_, _, err := svc.Create(ctx, mriCombination())
	require.NoError(t, err)

	_, _, err = svc.Create(ctx, mriCombination())

	assert.ErrorIs(t, err, tariff.ErrDuplicateCombination)
	assert.True(t, tariff.IsConflict(err))
	all, _ := repo.ListTariffs(ctx, tariff.TariffFilter{})
	assert.Len(t, all, 1)
}

func TestCombination_OverridesSupplementaryTerms(t *testing.T) {
	repo := seedRepo(t)
	svc := tariff.NewCombinationService(repo, testOptions()...)

	req := mriCombination()
	req.SupplementaryCoveragePercent = decPtr("25")
	req.SupplementaryMaxPayment = decPtr("100000")

	quote, err := svc.Quote(context.Background(), req)

	require.NoError(t, err)
	// 25% of 80,000 = 20,000, under the overridden cap
	assertDec(t, "20000", quote.Result.SupplementaryCoverage)
	assertDec(t, "60000", quote.Result.FinalPatientShare)
	assert.False(t, quote.Result.SupplementaryCapped)
}

func TestCombination_QuoteDoesNotPersist(t *testing.T) {
	repo := seedRepo(t)
	svc := tariff.NewCombinationService(repo, testOptions()...)

	quote, err := svc.Quote(context.Background(), mriCombination())

	require.NoError(t, err)
	assert.Equal(t, "mri", quote.Service.ID)
	assertDec(t, "150000", quote.Result.InsurerShare())
	all, _ := repo.ListTariffs(context.Background(), tariff.TariffFilter{})
	assert.Empty(t, all)
}

func TestCombination_ValidationFailures(t *testing.T) {
	repo := seedRepo(t)
	svc := tariff.NewCombinationService(repo, testOptions()...)
	past := testNow.Add(-time.Hour)

	tests := []struct {
		name     string
		req      tariff.CombinationRequest
		wantIs   error
		notFound bool
	}{
		{name: "missing service id", req: tariff.CombinationRequest{PrimaryPlanID: "primary", SupplementaryPlanID: "supp"}, wantIs: tariff.ErrValidation},
		{name: "same plan twice", req: tariff.CombinationRequest{ServiceID: "mri", PrimaryPlanID: "supp", SupplementaryPlanID: "supp"}, wantIs: tariff.ErrValidation},
		{name: "unknown service", req: tariff.CombinationRequest{ServiceID: "nope", PrimaryPlanID: "primary", SupplementaryPlanID: "supp"}, wantIs: tariff.ErrServiceNotFound, notFound: true},
		{name: "unknown plan", req: tariff.CombinationRequest{ServiceID: "mri", PrimaryPlanID: "primary", SupplementaryPlanID: "nope"}, wantIs: tariff.ErrPlanNotFound, notFound: true},
		{name: "inactive plan", req: tariff.CombinationRequest{ServiceID: "mri", PrimaryPlanID: "inactive", SupplementaryPlanID: "supp"}, wantIs: tariff.ErrPlanInactive},
		{name: "deleted service", req: tariff.CombinationRequest{ServiceID: "retired", PrimaryPlanID: "primary", SupplementaryPlanID: "supp"}, wantIs: tariff.ErrServiceInactive},
		{name: "inactive service", req: tariff.CombinationRequest{ServiceID: "paused", PrimaryPlanID: "primary", SupplementaryPlanID: "supp"}, wantIs: tariff.ErrServiceInactive},
		{name: "override percent out of range", req: tariff.CombinationRequest{ServiceID: "mri", PrimaryPlanID: "primary", SupplementaryPlanID: "supp", SupplementaryCoveragePercent: decPtr("150")}, wantIs: tariff.ErrValidation},
		{name: "validity window inverted", req: tariff.CombinationRequest{ServiceID: "mri", PrimaryPlanID: "primary", SupplementaryPlanID: "supp", ValidTo: &past}, wantIs: tariff.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Create(context.Background(), tt.req)

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantIs)
			assert.Equal(t, tt.notFound, tariff.IsNotFound(err))
			assert.Equal(t, !tt.notFound, tariff.IsClientError(err))
		})
	}

	all, _ := repo.ListTariffs(context.Background(), tariff.TariffFilter{})
	assert.Empty(t, all)
}

func TestValidationError_Code(t *testing.T) {
	assert.Equal(t, "plan_inactive", (&tariff.ValidationError{Err: tariff.ErrPlanInactive}).Code())
	assert.Equal(t, "service_inactive", (&tariff.ValidationError{Err: tariff.ErrServiceInactive}).Code())
	assert.Equal(t, "validation_failed", (&tariff.ValidationError{Field: "x"}).Code())
}
