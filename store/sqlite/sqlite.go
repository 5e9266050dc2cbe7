/*
Package sqlite provides a SQLite-backed tariff.Repository.

PURPOSE:
  Persists plans, services, tariffs and idempotency records in a single
  SQLite file. Used for local runs and single-node deployments; the same
  contract is implemented for PostgreSQL in store/postgres.

KEY TABLES:
  plans:            Insurance plans
  services:         Billable services (soft-deleted via deleted_at)
  tariffs:          Price splits per service and plan
  idempotency_keys: Bulk provisioning tokens (pending or completed)

INDEXES:
  - idx_unique_combination: One supplementary tariff per
    (service, plan, primary plan); plain tariffs are not constrained
  - idx_tariffs_plan, idx_tariffs_service: Listing filters
  - idx_services_eligible: Bulk provisioning target scan

STORAGE FORMATS:
  Decimals are TEXT (exact, via decimal.Decimal's Valuer/Scanner).
  Times are fixed-width UTC strings so that string comparison orders them.

UNIT OF WORK:
  The DSN sets _txlock=immediate, so every transaction starts with
  BEGIN IMMEDIATE and holds the write lock from its first statement.
  Two bulk runs can therefore never interleave.

CONCURRENCY:
  Uses sync.RWMutex on top of SQLite locking so that writers queue in
  process instead of failing with SQLITE_BUSY.

USAGE:
  store, err := sqlite.New("./coverage.db")
  if err != nil {
      return err
  }
  defer store.Close()

SEE ALSO:
  - tariff/store.go: Interface definitions
  - tariff/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/warp/coverage-engine/tariff"
)

// timeLayout is fixed width so TEXT comparison matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements tariff.Repository using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path and
// migrates the schema. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open database")
	}
	if dbPath == ":memory:" || strings.HasPrefix(dbPath, "file::memory:") {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the database schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		deductible TEXT NOT NULL,
		coverage_percent TEXT NOT NULL,
		max_payment TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS services (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		deleted_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_services_eligible
		ON services(id) WHERE is_active = 1 AND deleted_at IS NULL;

	CREATE TABLE IF NOT EXISTS tariffs (
		id TEXT PRIMARY KEY,
		service_id TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		primary_plan_id TEXT,
		total_price TEXT NOT NULL,
		patient_share TEXT NOT NULL,
		insurer_share TEXT NOT NULL,
		coverage_type TEXT NOT NULL,
		priority INTEGER NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		valid_from TEXT NOT NULL,
		valid_to TEXT,
		created_at TEXT NOT NULL,
		created_by TEXT NOT NULL
	);

	-- A service can be stacked on the same primary + supplementary pair once
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_combination
		ON tariffs(service_id, plan_id, primary_plan_id)
		WHERE primary_plan_id IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_tariffs_plan
		ON tariffs(plan_id);
	CREATE INDEX IF NOT EXISTS idx_tariffs_primary_plan
		ON tariffs(primary_plan_id) WHERE primary_plan_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_tariffs_service
		ON tariffs(service_id);

	CREATE TABLE IF NOT EXISTS idempotency_keys (
		token TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		result_count INTEGER,
		claimed_at TEXT NOT NULL,
		completed_at TEXT
	);
	`

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return eris.Wrap(err, "sqlite: migrate schema")
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// PLANS (tariff.PlanStore)
// =============================================================================

const planColumns = "id, name, deductible, coverage_percent, max_payment, is_active, created_at"

func (s *Store) GetPlan(ctx context.Context, id string) (*tariff.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+planColumns+" FROM plans WHERE id = ?", id)
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tariff.ErrPlanNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get plan %s", id)
	}
	return &p, nil
}

func (s *Store) ListPlans(ctx context.Context) ([]tariff.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+planColumns+" FROM plans ORDER BY id")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list plans")
	}
	defer rows.Close()

	var plans []tariff.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan plan")
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func (s *Store) CreatePlan(ctx context.Context, p tariff.Plan) (*tariff.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.CreatedAt = p.CreatedAt.UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plans (`+planColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			deductible = excluded.deductible,
			coverage_percent = excluded.coverage_percent,
			max_payment = excluded.max_payment,
			is_active = excluded.is_active
	`,
		p.ID, p.Name, p.Deductible, p.CoveragePercent, nullDecimal(p.MaxPayment), p.IsActive, formatTime(p.CreatedAt),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: save plan %s", p.ID)
	}
	return &p, nil
}

func (s *Store) DeletePlan(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var refs int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM tariffs WHERE plan_id = ? OR primary_plan_id = ?", id, id,
	).Scan(&refs)
	if err != nil {
		return eris.Wrapf(err, "sqlite: count tariffs for plan %s", id)
	}
	if refs > 0 {
		return tariff.ErrPlanInUse
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM plans WHERE id = ?", id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete plan %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tariff.ErrPlanNotFound
	}
	return nil
}

func scanPlan(row interface{ Scan(...any) error }) (tariff.Plan, error) {
	var (
		p          tariff.Plan
		maxPayment decimal.NullDecimal
		createdAt  string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Deductible, &p.CoveragePercent, &maxPayment, &p.IsActive, &createdAt); err != nil {
		return p, err
	}
	if maxPayment.Valid {
		p.MaxPayment = &maxPayment.Decimal
	}
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

// =============================================================================
// SERVICES (tariff.ServiceStore)
// =============================================================================

const serviceColumns = "id, name, price, is_active, deleted_at, created_at"

func (s *Store) GetService(ctx context.Context, id string) (*tariff.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+serviceColumns+" FROM services WHERE id = ?", id)
	svc, err := scanService(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tariff.ErrServiceNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get service %s", id)
	}
	return &svc, nil
}

func (s *Store) ListServices(ctx context.Context) ([]tariff.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryServices(ctx, s.db, "SELECT "+serviceColumns+" FROM services ORDER BY id")
}

func (s *Store) CreateService(ctx context.Context, svc tariff.Service) (*tariff.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	if svc.CreatedAt.IsZero() {
		svc.CreatedAt = time.Now()
	}
	svc.CreatedAt = svc.CreatedAt.UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO services (`+serviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			price = excluded.price,
			is_active = excluded.is_active,
			deleted_at = excluded.deleted_at
	`,
		svc.ID, svc.Name, svc.Price, svc.IsActive, nullTime(svc.DeletedAt), formatTime(svc.CreatedAt),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: save service %s", svc.ID)
	}
	return &svc, nil
}

func (s *Store) DeleteService(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE services SET deleted_at = COALESCE(deleted_at, ?) WHERE id = ?",
		formatTime(at), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete service %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tariff.ErrServiceNotFound
	}
	return nil
}

func (s *Store) ListActiveServices(ctx context.Context) ([]tariff.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listActiveServices(ctx, s.db)
}

func listActiveServices(ctx context.Context, q querier) ([]tariff.Service, error) {
	return queryServices(ctx, q,
		"SELECT "+serviceColumns+" FROM services WHERE is_active = 1 AND deleted_at IS NULL ORDER BY id")
}

func queryServices(ctx context.Context, q querier, query string, args ...any) ([]tariff.Service, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query services")
	}
	defer rows.Close()

	var services []tariff.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan service")
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

func scanService(row interface{ Scan(...any) error }) (tariff.Service, error) {
	var (
		svc       tariff.Service
		deletedAt sql.NullString
		createdAt string
	)
	if err := row.Scan(&svc.ID, &svc.Name, &svc.Price, &svc.IsActive, &deletedAt, &createdAt); err != nil {
		return svc, err
	}
	svc.DeletedAt = parseNullTime(deletedAt)
	svc.CreatedAt = parseTime(createdAt)
	return svc, nil
}

// =============================================================================
// TARIFFS (tariff.TariffStore)
// =============================================================================

const tariffColumns = `id, service_id, plan_id, primary_plan_id, total_price, patient_share, insurer_share,
	coverage_type, priority, is_active, valid_from, valid_to, created_at, created_by`

const insertTariff = `INSERT INTO tariffs (` + tariffColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *Store) AddTariff(ctx context.Context, t tariff.Tariff) (*tariff.Tariff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved, err := addTariff(ctx, s.db, t)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

func addTariff(ctx context.Context, db interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, t tariff.Tariff) (tariff.Tariff, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := db.ExecContext(ctx, insertTariff, tariffArgs(t)...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return tariff.Tariff{}, tariff.ErrDuplicateCombination
		}
		return tariff.Tariff{}, eris.Wrapf(err, "sqlite: insert tariff %s", t.ID)
	}
	return t, nil
}

func tariffArgs(t tariff.Tariff) []any {
	return []any{
		t.ID,
		t.ServiceID,
		t.PlanID,
		nullString(t.PrimaryPlanID),
		t.TotalPrice,
		t.PatientShare,
		t.InsurerShare,
		string(t.CoverageType),
		t.Priority,
		t.IsActive,
		formatTime(t.ValidFrom),
		nullTime(t.ValidTo),
		formatTime(t.CreatedAt),
		t.CreatedBy,
	}
}

func (s *Store) IsDuplicateCombination(ctx context.Context, serviceID, primaryPlanID, supplementaryPlanID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM tariffs WHERE service_id = ? AND plan_id = ? AND primary_plan_id = ?",
		serviceID, supplementaryPlanID, primaryPlanID,
	).Scan(&count)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: check combination")
	}
	return count > 0, nil
}

func (s *Store) ListTariffs(ctx context.Context, f tariff.TariffFilter) ([]tariff.Tariff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + tariffColumns + " FROM tariffs WHERE 1 = 1"
	var args []any
	if f.PlanID != "" {
		query += " AND plan_id = ?"
		args = append(args, f.PlanID)
	}
	if f.ServiceID != "" {
		query += " AND service_id = ?"
		args = append(args, f.ServiceID)
	}
	query += " ORDER BY created_at ASC, service_id ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tariffs")
	}
	defer rows.Close()

	var tariffs []tariff.Tariff
	for rows.Next() {
		t, err := scanTariff(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan tariff")
		}
		tariffs = append(tariffs, t)
	}
	return tariffs, rows.Err()
}

func scanTariff(rows *sql.Rows) (tariff.Tariff, error) {
	var (
		t             tariff.Tariff
		primaryPlanID sql.NullString
		coverageType  string
		validFrom     string
		validTo       sql.NullString
		createdAt     string
	)
	err := rows.Scan(
		&t.ID, &t.ServiceID, &t.PlanID, &primaryPlanID,
		&t.TotalPrice, &t.PatientShare, &t.InsurerShare,
		&coverageType, &t.Priority, &t.IsActive,
		&validFrom, &validTo, &createdAt, &t.CreatedBy,
	)
	if err != nil {
		return t, err
	}
	t.PrimaryPlanID = primaryPlanID.String
	t.CoverageType = tariff.CoverageType(coverageType)
	t.ValidFrom = parseTime(validFrom)
	t.ValidTo = parseNullTime(validTo)
	t.CreatedAt = parseTime(createdAt)
	return t, nil
}

// =============================================================================
// UNIT OF WORK (tariff.UnitOfWork)
// =============================================================================

// WithinTx executes fn within a BEGIN IMMEDIATE transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, w tariff.TariffWriter) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin unit of work")
	}
	defer sqlTx.Rollback()

	if err := fn(ctx, &txWriter{tx: sqlTx}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit unit of work")
	}
	return nil
}

type txWriter struct {
	tx *sql.Tx
}

func (w *txWriter) ListActiveServices(ctx context.Context) ([]tariff.Service, error) {
	return listActiveServices(ctx, w.tx)
}

// AddTariffs inserts the batch through one prepared statement.
func (w *txWriter) AddTariffs(ctx context.Context, tariffs []tariff.Tariff) error {
	stmt, err := w.tx.PrepareContext(ctx, insertTariff)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare tariff insert")
	}
	defer stmt.Close()

	for _, t := range tariffs {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if _, err := stmt.ExecContext(ctx, tariffArgs(t)...); err != nil {
			if isUniqueConstraintError(err) {
				return tariff.ErrDuplicateCombination
			}
			return eris.Wrapf(err, "sqlite: insert tariff for service %s", t.ServiceID)
		}
	}
	return nil
}

// =============================================================================
// IDEMPOTENCY (tariff.IdempotencyStore)
// =============================================================================

func (s *Store) CachedCount(ctx context.Context, token string) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT result_count FROM idempotency_keys WHERE token = ? AND completed = 1", token,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrap(err, "sqlite: read idempotency key")
	}
	return int(count.Int64), true, nil
}

// Claim inserts a pending record, or takes over a stale pending one,
// in a single upsert. A no-op upsert means the token is completed or
// claimed by someone else.
func (s *Store) Claim(ctx context.Context, token, owner string, at, staleBefore time.Time) (tariff.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (token, owner, completed, claimed_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT(token) DO UPDATE SET
			owner = excluded.owner,
			claimed_at = excluded.claimed_at
		WHERE idempotency_keys.completed = 0 AND idempotency_keys.claimed_at < ?
	`, token, owner, formatTime(at), formatTime(staleBefore))
	if err != nil {
		return tariff.Claim{}, eris.Wrap(err, "sqlite: claim idempotency key")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return tariff.Claim{State: tariff.ClaimAcquired, Owner: owner}, nil
	}

	var (
		holder    string
		completed bool
		count     sql.NullInt64
	)
	err = s.db.QueryRowContext(ctx,
		"SELECT owner, completed, result_count FROM idempotency_keys WHERE token = ?", token,
	).Scan(&holder, &completed, &count)
	if err != nil {
		return tariff.Claim{}, eris.Wrap(err, "sqlite: read idempotency key")
	}
	if completed {
		return tariff.Claim{State: tariff.ClaimCompleted, Count: int(count.Int64)}, nil
	}
	return tariff.Claim{State: tariff.ClaimInFlight, Owner: holder}, nil
}

// SetCachedCount completes owner's pending claim, or records the count
// outright when the claim was purged meanwhile.
func (s *Store) SetCachedCount(ctx context.Context, token, owner string, count int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := formatTime(at)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (token, owner, completed, result_count, claimed_at, completed_at)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			completed = 1,
			result_count = excluded.result_count,
			completed_at = excluded.completed_at
		WHERE idempotency_keys.completed = 0 AND idempotency_keys.owner = excluded.owner
	`, token, owner, count, now, now)
	if err != nil {
		return eris.Wrap(err, "sqlite: store idempotency result")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tariff.ErrClaimLost
	}
	return nil
}

func (s *Store) Release(ctx context.Context, token, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM idempotency_keys WHERE token = ? AND owner = ? AND completed = 0", token, owner)
	if err != nil {
		return eris.Wrap(err, "sqlite: release idempotency key")
	}
	return nil
}

func (s *Store) PurgeStaleClaims(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM idempotency_keys WHERE completed = 0 AND claimed_at < ?", formatTime(before))
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: purge stale claims")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"tariffs", "idempotency_keys", "services", "plans"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return eris.Wrapf(err, "sqlite: reset %s", table)
		}
	}
	return nil
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

var _ tariff.Repository = (*Store)(nil)
