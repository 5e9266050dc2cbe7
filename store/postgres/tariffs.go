package postgres

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/warp/coverage-engine/tariff"
)

// =============================================================================
// TARIFFS (tariff.TariffStore)
// =============================================================================

var tariffColumns = []string{
	"id", "service_id", "plan_id", "primary_plan_id", "total_price", "patient_share", "insurer_share",
	"coverage_type", "priority", "is_active", "valid_from", "valid_to", "created_at", "created_by",
}

const tariffSelect = `SELECT id, service_id, plan_id, primary_plan_id,
	total_price::text, patient_share::text, insurer_share::text,
	coverage_type, priority, is_active, valid_from, valid_to, created_at, created_by
	FROM tariffs`

const insertTariff = `INSERT INTO tariffs (id, service_id, plan_id, primary_plan_id, total_price, patient_share, insurer_share,
	coverage_type, priority, is_active, valid_from, valid_to, created_at, created_by)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

func (s *Store) AddTariff(ctx context.Context, t tariff.Tariff) (*tariff.Tariff, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, err := s.pool.Exec(ctx, insertTariff, tariffRow(t)...); err != nil {
		if pgCode(err) == codeUniqueViolation {
			return nil, tariff.ErrDuplicateCombination
		}
		return nil, eris.Wrapf(err, "postgres: insert tariff %s", t.ID)
	}
	return &t, nil
}

func tariffRow(t tariff.Tariff) []any {
	return []any{
		t.ID,
		t.ServiceID,
		t.PlanID,
		nullText(t.PrimaryPlanID),
		numeric(t.TotalPrice),
		numeric(t.PatientShare),
		numeric(t.InsurerShare),
		string(t.CoverageType),
		int32(t.Priority),
		t.IsActive,
		t.ValidFrom.UTC(),
		t.ValidTo,
		t.CreatedAt.UTC(),
		t.CreatedBy,
	}
}

func (s *Store) IsDuplicateCombination(ctx context.Context, serviceID, primaryPlanID, supplementaryPlanID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM tariffs WHERE service_id = $1 AND plan_id = $2 AND primary_plan_id = $3)",
		serviceID, supplementaryPlanID, primaryPlanID,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrap(err, "postgres: check combination")
	}
	return exists, nil
}

func (s *Store) ListTariffs(ctx context.Context, f tariff.TariffFilter) ([]tariff.Tariff, error) {
	var (
		conds []string
		args  []any
	)
	if f.PlanID != "" {
		args = append(args, f.PlanID)
		conds = append(conds, "plan_id = $"+strconv.Itoa(len(args)))
	}
	if f.ServiceID != "" {
		args = append(args, f.ServiceID)
		conds = append(conds, "service_id = $"+strconv.Itoa(len(args)))
	}

	query := tariffSelect
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at, service_id, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tariffs")
	}
	defer rows.Close()

	var tariffs []tariff.Tariff
	for rows.Next() {
		t, err := scanTariff(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan tariff")
		}
		tariffs = append(tariffs, t)
	}
	return tariffs, rows.Err()
}

func scanTariff(row pgx.Row) (tariff.Tariff, error) {
	var (
		t                                 tariff.Tariff
		primaryPlanID                     *string
		totalPrice, patientShare, insurer string
		coverageType                      string
		priority                          int32
	)
	err := row.Scan(
		&t.ID, &t.ServiceID, &t.PlanID, &primaryPlanID,
		&totalPrice, &patientShare, &insurer,
		&coverageType, &priority, &t.IsActive,
		&t.ValidFrom, &t.ValidTo, &t.CreatedAt, &t.CreatedBy,
	)
	if err != nil {
		return t, err
	}
	if primaryPlanID != nil {
		t.PrimaryPlanID = *primaryPlanID
	}
	t.CoverageType = tariff.CoverageType(coverageType)
	t.Priority = int(priority)

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{{&t.TotalPrice, totalPrice}, {&t.PatientShare, patientShare}, {&t.InsurerShare, insurer}} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return t, err
		}
	}
	return t, nil
}

// =============================================================================
// UNIT OF WORK (tariff.UnitOfWork)
// =============================================================================

// WithinTx runs fn in a SERIALIZABLE transaction, retrying on
// serialization failures. fn may therefore run more than once; it must not
// have side effects outside the TariffWriter.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, w tariff.TariffWriter) error) error {
	var err error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err = s.withinTxOnce(ctx, fn)
		if pgCode(err) != codeSerializationFailure || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (s *Store) withinTxOnce(ctx context.Context, fn func(ctx context.Context, w tariff.TariffWriter) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return eris.Wrap(err, "postgres: begin unit of work")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(ctx, &txWriter{tx: tx}); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit unit of work")
	}
	return nil
}

type txWriter struct {
	tx pgx.Tx
}

func (w *txWriter) ListActiveServices(ctx context.Context) ([]tariff.Service, error) {
	return queryServices(ctx, w.tx, activeServicesQuery)
}

// AddTariffs streams the batch with COPY.
func (w *txWriter) AddTariffs(ctx context.Context, tariffs []tariff.Tariff) error {
	rows := make([][]any, 0, len(tariffs))
	for _, t := range tariffs {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		rows = append(rows, tariffRow(t))
	}

	n, err := w.tx.CopyFrom(ctx, pgx.Identifier{"tariffs"}, tariffColumns, pgx.CopyFromRows(rows))
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return tariff.ErrDuplicateCombination
		}
		return eris.Wrap(err, "postgres: copy tariffs")
	}
	if int(n) != len(rows) {
		return eris.Errorf("postgres: copied %d of %d tariffs", n, len(rows))
	}
	return nil
}
