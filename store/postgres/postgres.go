/*
Package postgres provides a PostgreSQL-backed tariff.Repository.

PURPOSE:
  Same contract as store/sqlite, for multi-node deployments where several
  API processes share one database.

UNIT OF WORK:
  WithinTx runs at SERIALIZABLE isolation, so two bulk runs that read the
  same set of eligible services cannot both commit. A serialization
  failure (SQLSTATE 40001) is retried a few times before it is surfaced.

BATCH WRITES:
  Bulk batches are written with COPY (pgx CopyFrom) inside the unit of
  work; the partial unique index on supplementary tariffs still applies.

STORAGE FORMATS:
  Money and percentages are NUMERIC. They are written as pgtype.Numeric
  built from the decimal's coefficient and exponent (exact), and read back
  as ::text and parsed, so no float ever touches an amount.

TESTING:
  The Store depends on the Pool interface rather than *pgxpool.Pool so
  tests can substitute pgxmock.

SEE ALSO:
  - tariff/store.go: Interface definitions
  - store/sqlite/sqlite.go: SQLite implementation
*/
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/warp/coverage-engine/tariff"
)

// Pool is the subset of *pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Close()
}

// Store implements tariff.Repository using PostgreSQL.
type Store struct {
	pool       Pool
	maxRetries int
}

// New connects to databaseURL. maxConns <= 0 keeps the pgxpool default.
func New(ctx context.Context, databaseURL string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse database url")
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return NewWithPool(pool), nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool Pool) *Store {
	return &Store{pool: pool, maxRetries: 3}
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS plans (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	deductible       NUMERIC NOT NULL,
	coverage_percent NUMERIC NOT NULL,
	max_payment      NUMERIC,
	is_active        BOOLEAN NOT NULL DEFAULT TRUE,
	created_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS services (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	price      NUMERIC NOT NULL,
	is_active  BOOLEAN NOT NULL DEFAULT TRUE,
	deleted_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_services_eligible
	ON services(id) WHERE is_active AND deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS tariffs (
	id              TEXT PRIMARY KEY,
	service_id      TEXT NOT NULL,
	plan_id         TEXT NOT NULL,
	primary_plan_id TEXT,
	total_price     NUMERIC NOT NULL,
	patient_share   NUMERIC NOT NULL,
	insurer_share   NUMERIC NOT NULL,
	coverage_type   TEXT NOT NULL,
	priority        INTEGER NOT NULL,
	is_active       BOOLEAN NOT NULL DEFAULT TRUE,
	valid_from      TIMESTAMPTZ NOT NULL,
	valid_to        TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL,
	created_by      TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_combination
	ON tariffs(service_id, plan_id, primary_plan_id)
	WHERE primary_plan_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_tariffs_plan ON tariffs(plan_id);
CREATE INDEX IF NOT EXISTS idx_tariffs_primary_plan ON tariffs(primary_plan_id) WHERE primary_plan_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_tariffs_service ON tariffs(service_id);

CREATE TABLE IF NOT EXISTS idempotency_keys (
	token        TEXT PRIMARY KEY,
	owner        TEXT NOT NULL,
	completed    BOOLEAN NOT NULL DEFAULT FALSE,
	result_count INTEGER,
	claimed_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);
`

// Migrate creates the schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return eris.Wrap(err, "postgres: migrate schema")
	}
	return nil
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "TRUNCATE tariffs, idempotency_keys, services, plans"); err != nil {
		return eris.Wrap(err, "postgres: reset")
	}
	return nil
}

// =============================================================================
// PLANS (tariff.PlanStore)
// =============================================================================

const planSelect = `SELECT id, name, deductible::text, coverage_percent::text, max_payment::text, is_active, created_at FROM plans`

func (s *Store) GetPlan(ctx context.Context, id string) (*tariff.Plan, error) {
	p, err := scanPlan(s.pool.QueryRow(ctx, planSelect+" WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, tariff.ErrPlanNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get plan %s", id)
	}
	return &p, nil
}

func (s *Store) ListPlans(ctx context.Context) ([]tariff.Plan, error) {
	rows, err := s.pool.Query(ctx, planSelect+" ORDER BY id")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list plans")
	}
	defer rows.Close()

	var plans []tariff.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan plan")
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func (s *Store) CreatePlan(ctx context.Context, p tariff.Plan) (*tariff.Plan, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.CreatedAt = p.CreatedAt.UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO plans (id, name, deductible, coverage_percent, max_payment, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			deductible = EXCLUDED.deductible,
			coverage_percent = EXCLUDED.coverage_percent,
			max_payment = EXCLUDED.max_payment,
			is_active = EXCLUDED.is_active`,
		p.ID, p.Name, numeric(p.Deductible), numeric(p.CoveragePercent), nullNumeric(p.MaxPayment), p.IsActive, p.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: save plan %s", p.ID)
	}
	return &p, nil
}

func (s *Store) DeletePlan(ctx context.Context, id string) error {
	// The reference check and the delete are one statement, so a tariff
	// inserted concurrently cannot slip in between.
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM plans
		WHERE id = $1
		  AND NOT EXISTS (SELECT 1 FROM tariffs WHERE plan_id = $1 OR primary_plan_id = $1)`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete plan %s", id)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM plans WHERE id = $1)", id).Scan(&exists); err != nil {
		return eris.Wrapf(err, "postgres: check plan %s", id)
	}
	if exists {
		return tariff.ErrPlanInUse
	}
	return tariff.ErrPlanNotFound
}

func scanPlan(row pgx.Row) (tariff.Plan, error) {
	var (
		p                           tariff.Plan
		deductible, coveragePercent string
		maxPayment                  *string
	)
	if err := row.Scan(&p.ID, &p.Name, &deductible, &coveragePercent, &maxPayment, &p.IsActive, &p.CreatedAt); err != nil {
		return p, err
	}
	var err error
	if p.Deductible, err = decimal.NewFromString(deductible); err != nil {
		return p, err
	}
	if p.CoveragePercent, err = decimal.NewFromString(coveragePercent); err != nil {
		return p, err
	}
	if p.MaxPayment, err = parseNullDecimal(maxPayment); err != nil {
		return p, err
	}
	return p, nil
}

// =============================================================================
// SERVICES (tariff.ServiceStore)
// =============================================================================

const serviceSelect = `SELECT id, name, price::text, is_active, deleted_at, created_at FROM services`

func (s *Store) GetService(ctx context.Context, id string) (*tariff.Service, error) {
	svc, err := scanService(s.pool.QueryRow(ctx, serviceSelect+" WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, tariff.ErrServiceNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get service %s", id)
	}
	return &svc, nil
}

func (s *Store) ListServices(ctx context.Context) ([]tariff.Service, error) {
	return queryServices(ctx, s.pool, serviceSelect+" ORDER BY id")
}

func (s *Store) ListActiveServices(ctx context.Context) ([]tariff.Service, error) {
	return queryServices(ctx, s.pool, activeServicesQuery)
}

const activeServicesQuery = serviceSelect + " WHERE is_active AND deleted_at IS NULL ORDER BY id"

func (s *Store) CreateService(ctx context.Context, svc tariff.Service) (*tariff.Service, error) {
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	if svc.CreatedAt.IsZero() {
		svc.CreatedAt = time.Now()
	}
	svc.CreatedAt = svc.CreatedAt.UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO services (id, name, price, is_active, deleted_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			is_active = EXCLUDED.is_active,
			deleted_at = EXCLUDED.deleted_at`,
		svc.ID, svc.Name, numeric(svc.Price), svc.IsActive, svc.DeletedAt, svc.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: save service %s", svc.ID)
	}
	return &svc, nil
}

func (s *Store) DeleteService(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE services SET deleted_at = COALESCE(deleted_at, $2) WHERE id = $1", id, at.UTC())
	if err != nil {
		return eris.Wrapf(err, "postgres: delete service %s", id)
	}
	if tag.RowsAffected() == 0 {
		return tariff.ErrServiceNotFound
	}
	return nil
}

// querier is satisfied by Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryServices(ctx context.Context, q querier, query string, args ...any) ([]tariff.Service, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query services")
	}
	defer rows.Close()

	var services []tariff.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan service")
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

func scanService(row pgx.Row) (tariff.Service, error) {
	var (
		svc   tariff.Service
		price string
	)
	if err := row.Scan(&svc.ID, &svc.Name, &price, &svc.IsActive, &svc.DeletedAt, &svc.CreatedAt); err != nil {
		return svc, err
	}
	var err error
	svc.Price, err = decimal.NewFromString(price)
	return svc, err
}

// Helper functions

// numeric converts d exactly: value = coefficient * 10^exponent.
func numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func nullNumeric(d *decimal.Decimal) pgtype.Numeric {
	if d == nil {
		return pgtype.Numeric{}
	}
	return numeric(*d)
}

func parseNullDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
)

var _ tariff.Repository = (*Store)(nil)
