package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/coverage-engine/tariff"
)

var (
	planCols    = []string{"id", "name", "deductible", "coverage_percent", "max_payment", "is_active", "created_at"}
	serviceCols = []string{"id", "name", "price", "is_active", "deleted_at", "created_at"}
	tariffCols  = []string{
		"id", "service_id", "plan_id", "primary_plan_id", "total_price", "patient_share", "insurer_share",
		"coverage_type", "priority", "is_active", "valid_from", "valid_to", "created_at", "created_by",
	}
	serializable = pgx.TxOptions{IsoLevel: pgx.Serializable}
)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewWithPool(mock)
}

func strPtr(s string) *string { return &s }

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

// =============================================================================
// Plans and services
// =============================================================================

func TestGetPlan_Success(t *testing.T) {
	mock, s := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT .+ FROM plans WHERE id").
		WithArgs("supp").
		WillReturnRows(pgxmock.NewRows(planCols).
			AddRow("supp", "Supplementary", "0", "50", strPtr("30000.00"), true, now))

	p, err := s.GetPlan(context.Background(), "supp")

	require.NoError(t, err)
	assert.Equal(t, "Supplementary", p.Name)
	assert.True(t, p.CoveragePercent.Equal(decimal.NewFromInt(50)))
	require.NotNil(t, p.MaxPayment)
	assert.True(t, p.MaxPayment.Equal(decimal.NewFromInt(30000)))
	assert.Equal(t, now, p.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPlan_NullMaxPayment(t *testing.T) {
	mock, s := newMock(t)

	mock.ExpectQuery("SELECT .+ FROM plans WHERE id").
		WithArgs("primary").
		WillReturnRows(pgxmock.NewRows(planCols).
			AddRow("primary", "Primary", "50000", "80", nil, true, time.Now()))

	p, err := s.GetPlan(context.Background(), "primary")

	require.NoError(t, err)
	assert.Nil(t, p.MaxPayment)
	assert.True(t, p.Deductible.Equal(decimal.NewFromInt(50000)))
}

func TestGetPlan_NotFound(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectQuery("SELECT .+ FROM plans WHERE id").
		WithArgs("nope").
		WillReturnRows(pgxmock.NewRows(planCols))

	_, err := s.GetPlan(context.Background(), "nope")

	assert.ErrorIs(t, err, tariff.ErrPlanNotFound)
}

func TestGetPlan_QueryError(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectQuery("SELECT .+ FROM plans WHERE id").
		WithArgs("p").
		WillReturnError(errors.New("connection refused"))

	_, err := s.GetPlan(context.Background(), "p")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: get plan p")
	assert.NotErrorIs(t, err, tariff.ErrPlanNotFound)
}

func TestCreatePlan_Upserts(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectExec("INSERT INTO plans").
		WithArgs("p1", "Primary", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), true, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	p, err := s.CreatePlan(context.Background(), tariff.Plan{
		ID: "p1", Name: "Primary", Deductible: decimal.NewFromInt(100), CoveragePercent: decimal.NewFromInt(80), IsActive: true,
	})

	require.NoError(t, err)
	assert.False(t, p.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletePlan(t *testing.T) {
	t.Run("deleted", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectExec("DELETE FROM plans").WithArgs("p").
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		assert.NoError(t, s.DeletePlan(context.Background(), "p"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("in use", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectExec("DELETE FROM plans").WithArgs("p").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mock.ExpectQuery("SELECT EXISTS").WithArgs("p").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

		assert.ErrorIs(t, s.DeletePlan(context.Background(), "p"), tariff.ErrPlanInUse)
	})

	t.Run("unknown", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectExec("DELETE FROM plans").WithArgs("p").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mock.ExpectQuery("SELECT EXISTS").WithArgs("p").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

		assert.ErrorIs(t, s.DeletePlan(context.Background(), "p"), tariff.ErrPlanNotFound)
	})
}

func TestListActiveServices(t *testing.T) {
	mock, s := newMock(t)
	now := time.Now()
	mock.ExpectQuery("SELECT .+ FROM services WHERE is_active AND deleted_at IS NULL").
		WillReturnRows(pgxmock.NewRows(serviceCols).
			AddRow("mri", "MRI", "200000", true, nil, now).
			AddRow("xray", "X-Ray", "1000.50", true, nil, now))

	services, err := s.ListActiveServices(context.Background())

	require.NoError(t, err)
	require.Len(t, services, 2)
	assert.Equal(t, "mri", services[0].ID)
	assert.True(t, services[1].Price.Equal(decimal.RequireFromString("1000.5")))
	assert.Nil(t, services[0].DeletedAt)
}

func TestGetService_SoftDeleted(t *testing.T) {
	mock, s := newMock(t)
	deleted := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM services WHERE id").
		WithArgs("retired").
		WillReturnRows(pgxmock.NewRows(serviceCols).
			AddRow("retired", "Retired", "10", true, &deleted, deleted))

	svc, err := s.GetService(context.Background(), "retired")

	require.NoError(t, err)
	require.NotNil(t, svc.DeletedAt)
	assert.False(t, svc.Eligible())
}

func TestDeleteService_NotFound(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectExec("UPDATE services SET deleted_at").
		WithArgs("nope", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.DeleteService(context.Background(), "nope", time.Now())

	assert.ErrorIs(t, err, tariff.ErrServiceNotFound)
}

// =============================================================================
// Tariffs
// =============================================================================

func TestAddTariff_UniqueViolationIsDuplicate(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectExec("INSERT INTO tariffs").
		WithArgs(anyArgs(14)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_unique_combination"})

	_, err := s.AddTariff(context.Background(), tariff.Tariff{ServiceID: "s", PlanID: "supp", PrimaryPlanID: "prim"})

	assert.ErrorIs(t, err, tariff.ErrDuplicateCombination)
}

func TestAddTariff_AssignsID(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectExec("INSERT INTO tariffs").
		WithArgs(anyArgs(14)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	saved, err := s.AddTariff(context.Background(), tariff.Tariff{ServiceID: "s", PlanID: "p"})

	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListTariffs_Filters(t *testing.T) {
	mock, s := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM tariffs WHERE plan_id = .+ AND service_id = .+ ORDER BY").
		WithArgs("supp", "mri").
		WillReturnRows(pgxmock.NewRows(tariffCols).
			AddRow("t1", "mri", "supp", strPtr("prim"), "200000", "120000", "30000",
				"supplementary", int32(2), true, now, nil, now, "alice"))

	got, err := s.ListTariffs(context.Background(), tariff.TariffFilter{PlanID: "supp", ServiceID: "mri"})

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "prim", got[0].PrimaryPlanID)
	assert.Equal(t, tariff.CoverageSupplementary, got[0].CoverageType)
	assert.Equal(t, 2, got[0].Priority)
	assert.True(t, got[0].InsurerShare.Equal(decimal.NewFromInt(30000)))
	assert.Nil(t, got[0].ValidTo)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsDuplicateCombination(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("mri", "supp", "prim").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	dup, err := s.IsDuplicateCombination(context.Background(), "mri", "prim", "supp")

	require.NoError(t, err)
	assert.True(t, dup)
}

func TestNumeric_IsExact(t *testing.T) {
	n := numeric(decimal.RequireFromString("1234.5678"))

	assert.True(t, n.Valid)
	assert.Equal(t, int32(-4), n.Exp)
	assert.Equal(t, "12345678", n.Int.String())
	assert.False(t, nullNumeric(nil).Valid)
}

// =============================================================================
// Unit of work
// =============================================================================

func TestWithinTx_CommitsCopyBatch(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectBeginTx(serializable)
	mock.ExpectCopyFrom(pgx.Identifier{"tariffs"}, tariffCols).WillReturnResult(2)
	mock.ExpectCommit()

	err := s.WithinTx(context.Background(), func(ctx context.Context, w tariff.TariffWriter) error {
		return w.AddTariffs(ctx, []tariff.Tariff{{ServiceID: "a", PlanID: "p"}, {ServiceID: "b", PlanID: "p"}})
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectBeginTx(serializable)
	mock.ExpectCopyFrom(pgx.Identifier{"tariffs"}, tariffCols).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(ctx context.Context, w tariff.TariffWriter) error {
		return w.AddTariffs(ctx, []tariff.Tariff{{ServiceID: "a", PlanID: "supp", PrimaryPlanID: "prim"}})
	})

	assert.ErrorIs(t, err, tariff.ErrDuplicateCombination)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_ShortCopyFails(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectBeginTx(serializable)
	mock.ExpectCopyFrom(pgx.Identifier{"tariffs"}, tariffCols).WillReturnResult(1)
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(ctx context.Context, w tariff.TariffWriter) error {
		return w.AddTariffs(ctx, []tariff.Tariff{{ServiceID: "a", PlanID: "p"}, {ServiceID: "b", PlanID: "p"}})
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "copied 1 of 2")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_RetriesSerializationFailure(t *testing.T) {
	// GIVEN: The first attempt loses a serialization race
	// WHEN: WithinTx runs
	// THEN: The unit of work is retried in a fresh transaction and commits

	mock, s := newMock(t)
	mock.ExpectBeginTx(serializable)
	mock.ExpectRollback()
	mock.ExpectBeginTx(serializable)
	mock.ExpectCommit()

	attempts := 0
	err := s.WithinTx(context.Background(), func(ctx context.Context, w tariff.TariffWriter) error {
		attempts++
		if attempts == 1 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_GivesUpAfterRetries(t *testing.T) {
	mock, s := newMock(t)
	for i := 0; i < 3; i++ {
		mock.ExpectBeginTx(serializable)
		mock.ExpectRollback()
	}

	err := s.WithinTx(context.Background(), func(ctx context.Context, w tariff.TariffWriter) error {
		return &pgconn.PgError{Code: "40001"}
	})

	assert.Equal(t, codeSerializationFailure, pgCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_CancelledBeforeCommit(t *testing.T) {
	mock, s := newMock(t)
	ctx, cancel := context.WithCancel(context.Background())
	mock.ExpectBeginTx(serializable)
	mock.ExpectRollback()

	err := s.WithinTx(ctx, func(ctx context.Context, w tariff.TariffWriter) error {
		cancel()
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =============================================================================
// Idempotency
// =============================================================================

func TestClaim(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	stale := at.Add(-time.Hour)
	ownerCols := []string{"owner", "completed", "result_count"}

	t.Run("acquired", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectExec("INSERT INTO idempotency_keys").
			WithArgs("tok", "run-a", at, stale).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		c, err := s.Claim(context.Background(), "tok", "run-a", at, stale)

		require.NoError(t, err)
		assert.Equal(t, tariff.ClaimAcquired, c.State)
		assert.Equal(t, "run-a", c.Owner)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("completed", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectExec("INSERT INTO idempotency_keys").
			WithArgs("tok", "run-a", at, stale).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mock.ExpectQuery("SELECT owner, completed").WithArgs("tok").
			WillReturnRows(pgxmock.NewRows(ownerCols).AddRow("run-z", true, 42))

		c, err := s.Claim(context.Background(), "tok", "run-a", at, stale)

		require.NoError(t, err)
		assert.Equal(t, tariff.ClaimCompleted, c.State)
		assert.Equal(t, 42, c.Count)
	})

	t.Run("in flight", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectExec("INSERT INTO idempotency_keys").
			WithArgs("tok", "run-a", at, stale).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mock.ExpectQuery("SELECT owner, completed").WithArgs("tok").
			WillReturnRows(pgxmock.NewRows(ownerCols).AddRow("run-b", false, 0))

		c, err := s.Claim(context.Background(), "tok", "run-a", at, stale)

		require.NoError(t, err)
		assert.Equal(t, tariff.ClaimInFlight, c.State)
		assert.Equal(t, "run-b", c.Owner)
	})
}

func TestSetCachedCount_OwnerMustMatch(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock, s := newMock(t)
	mock.ExpectExec("INSERT INTO idempotency_keys").
		WithArgs("tok", "run-b", 5, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO idempotency_keys").
		WithArgs("tok", "run-a", 3, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, s.SetCachedCount(context.Background(), "tok", "run-b", 5, at))
	assert.ErrorIs(t, s.SetCachedCount(context.Background(), "tok", "run-a", 3, at), tariff.ErrClaimLost)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelease_ScopedToOwner(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectExec("DELETE FROM idempotency_keys WHERE token = \\$1 AND owner = \\$2").
		WithArgs("tok", "run-a").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, s.Release(context.Background(), "tok", "run-a"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedCount(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectQuery("SELECT COALESCE").WithArgs("done").
		WillReturnRows(pgxmock.NewRows([]string{"result_count"}).AddRow(3))
	mock.ExpectQuery("SELECT COALESCE").WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"result_count"}))

	n, ok, err := s.CachedCount(context.Background(), "done")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok, err = s.CachedCount(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPurgeStaleClaims(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectExec("DELETE FROM idempotency_keys WHERE NOT completed").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := s.PurgeStaleClaims(context.Background(), time.Now())

	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

// =============================================================================
// End to end through the provisioner
// =============================================================================

func TestBulkProvisioner_OverPostgres(t *testing.T) {
	// GIVEN: An active plan and two eligible services
	// WHEN: A bulk request runs with a fresh token
	// THEN: Claim, plan lookup, one serializable COPY, commit, then the result is cached

	mock, s := newMock(t)
	now := time.Now().UTC()

	mock.ExpectExec("INSERT INTO idempotency_keys").
		WithArgs("tok-1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT .+ FROM plans WHERE id").WithArgs("primary").
		WillReturnRows(pgxmock.NewRows(planCols).
			AddRow("primary", "Primary", "0", "80", nil, true, now))
	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery("SELECT .+ FROM services WHERE is_active").
		WillReturnRows(pgxmock.NewRows(serviceCols).
			AddRow("mri", "MRI", "200000", true, nil, now).
			AddRow("xray", "X-Ray", "1000", true, nil, now))
	mock.ExpectCopyFrom(pgx.Identifier{"tariffs"}, tariffCols).WillReturnResult(2)
	mock.ExpectCommit()
	mock.ExpectExec("INSERT INTO idempotency_keys").WithArgs("tok-1", pgxmock.AnyArg(), 2, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	p := tariff.NewBulkProvisioner(s, tariff.WithLogger(zap.NewNop()))
	res, err := p.Provision(context.Background(), tariff.BulkRequest{
		PlanID:       "primary",
		TotalPrice:   decimal.NewFromInt(100),
		PatientShare: decimal.NewFromInt(20),
		InsurerShare: decimal.NewFromInt(80),
	}, "tok-1")

	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	assert.False(t, res.Replayed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
