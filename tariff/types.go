/*
Package tariff holds the persisted side of coverage: insurance plans,
billable services and the tariffs that price a service under a plan.

KEY CONCEPTS:
  - Plan: an insurance product (deductible, coverage percent, optional
    per-service maximum payment). Only active plans can be priced.
  - Service: a billable item with a list price. Services are soft-deleted;
    a deleted or inactive service is not eligible for new tariffs.
  - Tariff: the price split (patient share + insurer share) for one
    service under one plan. Supplementary tariffs also reference the
    primary plan they stack on top of.

OPERATIONS:
  - CombinationService: primary + supplementary stacking -> one tariff
  - BulkProvisioner: one tariff per eligible service, atomic, idempotent

SEE ALSO:
  - coverage/: The calculation core used by both operations
  - store.go: Persistence contracts
  - tariff/store/memory.go, store/sqlite, store/postgres: Implementations
*/
package tariff

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// COVERAGE TYPE
// =============================================================================

// CoverageType tags a tariff as priced by a primary plan alone or by a
// supplementary plan stacked on a primary one.
type CoverageType string

const (
	CoveragePrimary       CoverageType = "primary"
	CoverageSupplementary CoverageType = "supplementary"
)

// Valid reports whether t is a known coverage type.
func (t CoverageType) Valid() bool {
	return t == CoveragePrimary || t == CoverageSupplementary
}

// Default priorities used when a caller does not set one.
const (
	PriorityPrimary       = 1
	PrioritySupplementary = 2
)

// SystemActor is the acting identity when none is attached to the context.
const SystemActor = "system"

// =============================================================================
// RECORDS
// =============================================================================

// Plan is an insurance plan.
type Plan struct {
	ID              string
	Name            string
	Deductible      decimal.Decimal
	CoveragePercent decimal.Decimal
	MaxPayment      *decimal.Decimal // nil = no per-service cap
	IsActive        bool
	CreatedAt       time.Time
}

// Service is a billable item.
type Service struct {
	ID        string
	Name      string
	Price     decimal.Decimal
	IsActive  bool
	DeletedAt *time.Time
	CreatedAt time.Time
}

// Eligible reports whether new tariffs may be created for the service.
func (s Service) Eligible() bool {
	return s.IsActive && s.DeletedAt == nil
}

// Tariff is the persisted price split of a service under a plan.
//
// INVARIANT: PatientShare + InsurerShare == TotalPrice
type Tariff struct {
	ID            string
	ServiceID     string
	PlanID        string
	PrimaryPlanID string // set on supplementary tariffs only
	TotalPrice    decimal.Decimal
	PatientShare  decimal.Decimal
	InsurerShare  decimal.Decimal
	CoverageType  CoverageType
	Priority      int
	IsActive      bool
	ValidFrom     time.Time
	ValidTo       *time.Time // nil = open-ended
	CreatedAt     time.Time
	CreatedBy     string
}

// TariffFilter narrows ListTariffs. Empty fields match everything.
type TariffFilter struct {
	PlanID    string
	ServiceID string
}

// Matches reports whether t passes the filter.
func (f TariffFilter) Matches(t Tariff) bool {
	if f.PlanID != "" && t.PlanID != f.PlanID {
		return false
	}
	if f.ServiceID != "" && t.ServiceID != f.ServiceID {
		return false
	}
	return true
}

// =============================================================================
// IDEMPOTENCY CLAIMS
// =============================================================================

// ClaimState is the outcome of trying to claim an idempotency token.
type ClaimState int

const (
	// ClaimAcquired: the caller owns the token and must either store a
	// count or release it.
	ClaimAcquired ClaimState = iota

	// ClaimCompleted: a previous run finished; Claim.Count holds its result.
	ClaimCompleted

	// ClaimInFlight: another run holds a fresh claim on the token.
	ClaimInFlight
)

func (s ClaimState) String() string {
	switch s {
	case ClaimAcquired:
		return "acquired"
	case ClaimCompleted:
		return "completed"
	case ClaimInFlight:
		return "in_flight"
	default:
		return "unknown"
	}
}

// Claim is returned by IdempotencyStore.Claim.
type Claim struct {
	State ClaimState
	Count int

	// Owner is the holder of the token when State is ClaimAcquired or
	// ClaimInFlight. Empty for completed claims.
	Owner string
}
