/*
store.go - Persistence contracts for plans, services, tariffs and
idempotency records

KEY INTERFACES:
  PlanStore, ServiceStore: Lookups and thin CRUD
  TariffStore:             Single tariff writes, duplicate check, listing
  UnitOfWork:              Atomic multi-row writes (bulk provisioning)
  IdempotencyStore:        Claim-if-absent tokens with cached outcomes
  Repository:              Everything above, one backend

UNIT OF WORK:
  WithinTx runs fn against a TariffWriter bound to one transaction. If fn
  returns an error (or ctx is cancelled before commit) nothing fn wrote
  survives. Implementations isolate the unit of work from concurrent
  writers: SERIALIZABLE on postgres, BEGIN IMMEDIATE on SQLite, the store
  mutex in memory.

IDEMPOTENCY:
  Claim atomically inserts a pending record for a token unless one exists.
  A pending record older than staleBefore is taken over (its owner is
  assumed dead). SetCachedCount completes the record; Release drops a
  pending one so the token can be retried.

IMPLEMENTATIONS:
  - tariff/store/memory.go: In-memory for tests and dev
  - store/sqlite/sqlite.go: SQLite
  - store/postgres/postgres.go: PostgreSQL
*/
package tariff

import (
	"context"
	"time"
)

// PlanStore reads and writes plans.
type PlanStore interface {
	// GetPlan returns ErrPlanNotFound for unknown ids.
	GetPlan(ctx context.Context, id string) (*Plan, error)
	ListPlans(ctx context.Context) ([]Plan, error)
	CreatePlan(ctx context.Context, p Plan) (*Plan, error)

	// DeletePlan returns ErrPlanInUse while any tariff references the plan.
	DeletePlan(ctx context.Context, id string) error
}

// ServiceStore reads and writes services.
type ServiceStore interface {
	// GetService returns ErrServiceNotFound for unknown ids. Soft-deleted
	// services are still returned.
	GetService(ctx context.Context, id string) (*Service, error)
	ListServices(ctx context.Context) ([]Service, error)
	CreateService(ctx context.Context, s Service) (*Service, error)

	// DeleteService soft-deletes the service.
	DeleteService(ctx context.Context, id string, at time.Time) error
}

// TariffWriter is the view of the store inside a unit of work.
type TariffWriter interface {
	// ListActiveServices returns services that are active and not deleted.
	ListActiveServices(ctx context.Context) ([]Service, error)

	// AddTariffs writes all tariffs as one batch.
	AddTariffs(ctx context.Context, tariffs []Tariff) error
}

// TariffStore handles tariff persistence outside of bulk runs.
type TariffStore interface {
	ListActiveServices(ctx context.Context) ([]Service, error)

	// AddTariff persists t, assigning an id when t.ID is empty.
	// Returns ErrDuplicateCombination if the combination already exists.
	AddTariff(ctx context.Context, t Tariff) (*Tariff, error)

	IsDuplicateCombination(ctx context.Context, serviceID, primaryPlanID, supplementaryPlanID string) (bool, error)
	ListTariffs(ctx context.Context, f TariffFilter) ([]Tariff, error)
}

// UnitOfWork runs fn atomically.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, w TariffWriter) error) error
}

// IdempotencyStore keeps bulk outcomes keyed by caller-supplied tokens.
//
// A pending claim belongs to the owner that acquired it. SetCachedCount and
// Release only act on a claim still held by that owner, so a run whose claim
// went stale and was taken over cannot complete or drop the new holder's claim.
// Times are supplied by the caller so staleness is judged on one clock.
type IdempotencyStore interface {
	CachedCount(ctx context.Context, token string) (count int, ok bool, err error)

	// Claim takes the token for owner at time at. A pending claim made
	// before staleBefore can be taken over.
	Claim(ctx context.Context, token, owner string, at, staleBefore time.Time) (Claim, error)

	// SetCachedCount completes owner's claim with count. It records the
	// count when no claim exists and returns ErrClaimLost when another
	// owner holds the token or it is already completed.
	SetCachedCount(ctx context.Context, token, owner string, count int, at time.Time) error

	// Release drops owner's pending claim. Claims held by anyone else are
	// left alone.
	Release(ctx context.Context, token, owner string) error

	// PurgeStaleClaims removes pending claims created before the cutoff
	// and returns how many were removed.
	PurgeStaleClaims(ctx context.Context, before time.Time) (int, error)
}

// Repository is a complete backend.
type Repository interface {
	PlanStore
	ServiceStore
	TariffStore
	UnitOfWork
	IdempotencyStore

	// Reset removes all data. Used by demo scenarios.
	Reset(ctx context.Context) error
	Close() error
}
