/*
bulk.go - One tariff per eligible service, atomically and at most once

PURPOSE:
  Rolls out a plan's price split to every active service in one go.
  Retries with the same idempotency token never create a second batch.

STATE MACHINE:
  Idle -> Claim token
    -> Completed  : return the cached count (Replayed = true)
    -> InFlight   : ErrIdempotencyInFlight
    -> Acquired   : unit of work
         list eligible services -> none: ErrNoEligibleTargets
         build batch -> AddTariffs -> commit
           -> ok   : cache count, return it
           -> fail : rolled back, claim released, TransactionError

  Without a token the claim step is skipped.

GUARANTEES:
  - All tariffs of a run are written together or not at all.
  - The claim is taken before any work, so two concurrent calls with the
    same fresh token cannot both run.
  - The count is cached only after commit. If the process dies in between
    the claim stays pending; once it is older than the claim TTL the token
    can run once more.
  - Each run claims under its own owner id (the batch id). A run whose
    claim was taken over can neither release nor complete the new claim.
  - Cancelling ctx before commit rolls back and releases the claim.

SEE ALSO:
  - store.go: UnitOfWork, IdempotencyStore
  - api/scheduler.go: ClaimSweeper purges stale pending claims
*/
package tariff

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BulkRequest holds the fields shared by every tariff in a run.
type BulkRequest struct {
	PlanID       string
	TotalPrice   decimal.Decimal
	PatientShare decimal.Decimal
	InsurerShare decimal.Decimal
	CoverageType CoverageType // empty = primary
	Priority     int          // 0 = default for the coverage type
	IsActive     bool
	ValidFrom    time.Time // zero = now
	ValidTo      *time.Time
}

// BulkResult is the outcome of a run.
type BulkResult struct {
	Count int

	// Replayed is true when Count came from an earlier run with the same token.
	Replayed bool

	// BatchID identifies a fresh run in logs. Empty when Replayed.
	BatchID string
}

// BulkStore is what BulkProvisioner needs from a backend.
type BulkStore interface {
	PlanStore
	UnitOfWork
	IdempotencyStore
}

// BulkProvisioner creates tariffs for all eligible services.
type BulkProvisioner struct {
	store    BulkStore
	logger   *zap.Logger
	now      func() time.Time
	claimTTL time.Duration
}

func NewBulkProvisioner(store BulkStore, opts ...Option) *BulkProvisioner {
	o := buildOptions(opts)
	return &BulkProvisioner{store: store, logger: o.logger, now: o.now, claimTTL: o.claimTTL}
}

// Provision runs the bulk operation. token may be empty.
func (b *BulkProvisioner) Provision(ctx context.Context, req BulkRequest, token string) (result BulkResult, err error) {
	if err := validateBulk(&req); err != nil {
		return BulkResult{}, err
	}

	log := b.logger.With(zap.String("plan_id", req.PlanID), zap.String("idempotency_key", token))

	batchID := uuid.NewString()

	if token != "" {
		claimedAt := b.now().UTC()
		claim, claimErr := b.store.Claim(ctx, token, batchID, claimedAt, claimedAt.Add(-b.claimTTL))
		if claimErr != nil {
			return BulkResult{}, claimErr
		}
		switch claim.State {
		case ClaimCompleted:
			log.Info("bulk provisioning replayed", zap.Int("count", claim.Count))
			return BulkResult{Count: claim.Count, Replayed: true}, nil
		case ClaimInFlight:
			return BulkResult{}, ErrIdempotencyInFlight
		}

		defer func() {
			if err == nil {
				return
			}
			if relErr := b.store.Release(context.WithoutCancel(ctx), token, batchID); relErr != nil {
				log.Error("release idempotency claim", zap.Error(relErr))
			}
		}()
	}

	plan, err := b.store.GetPlan(ctx, req.PlanID)
	if err != nil {
		return BulkResult{}, err
	}
	if !plan.IsActive {
		return BulkResult{}, &ValidationError{Field: "plan_id", Reason: "plan " + plan.ID + " is not active", Err: ErrPlanInactive}
	}

	now := b.now().UTC()
	if req.ValidFrom.IsZero() {
		req.ValidFrom = now
		if req.ValidTo != nil && !req.ValidTo.After(req.ValidFrom) {
			return BulkResult{}, invalid("valid_to", "must be after valid_from")
		}
	}
	actor := ActorFrom(ctx)
	log = log.With(zap.String("batch_id", batchID), zap.String("actor", actor))

	count := 0
	err = b.store.WithinTx(ctx, func(ctx context.Context, w TariffWriter) error {
		services, err := w.ListActiveServices(ctx)
		if err != nil {
			return err
		}
		if len(services) == 0 {
			return ErrNoEligibleTargets
		}

		batch := make([]Tariff, 0, len(services))
		for _, svc := range services {
			batch = append(batch, Tariff{
				ID:           uuid.NewString(),
				ServiceID:    svc.ID,
				PlanID:       req.PlanID,
				TotalPrice:   req.TotalPrice,
				PatientShare: req.PatientShare,
				InsurerShare: req.InsurerShare,
				CoverageType: req.CoverageType,
				Priority:     req.Priority,
				IsActive:     req.IsActive,
				ValidFrom:    req.ValidFrom,
				ValidTo:      req.ValidTo,
				CreatedAt:    now,
				CreatedBy:    actor,
			})
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.AddTariffs(ctx, batch); err != nil {
			return err
		}
		count = len(batch)
		return nil
	})
	if errors.Is(err, ErrNoEligibleTargets) {
		log.Info("bulk provisioning found no eligible services")
		return BulkResult{}, ErrNoEligibleTargets
	}
	if err != nil {
		log.Error("bulk provisioning rolled back", zap.Error(err))
		return BulkResult{}, &TransactionError{Cause: err}
	}

	if token != "" {
		// Past the commit point: cancellation no longer applies.
		cacheErr := b.store.SetCachedCount(context.WithoutCancel(ctx), token, batchID, count, b.now().UTC())
		switch {
		case errors.Is(cacheErr, ErrClaimLost):
			log.Warn("idempotency claim was taken over before caching", zap.Int("count", count))
		case cacheErr != nil:
			log.Error("cache bulk result", zap.Int("count", count), zap.Error(cacheErr))
		}
	}

	log.Info("bulk provisioning committed", zap.Int("count", count))
	return BulkResult{Count: count, BatchID: batchID}, nil
}

func validateBulk(req *BulkRequest) error {
	if req.PlanID == "" {
		return invalid("plan_id", "required")
	}
	if !req.TotalPrice.IsPositive() {
		return invalid("total_price", "must be positive")
	}
	if req.PatientShare.IsNegative() {
		return invalid("patient_share", "must not be negative")
	}
	if req.InsurerShare.IsNegative() {
		return invalid("insurer_share", "must not be negative")
	}
	if !req.PatientShare.Add(req.InsurerShare).Equal(req.TotalPrice) {
		return invalid("total_price", "must equal patient_share + insurer_share")
	}
	if !req.ValidFrom.IsZero() && req.ValidTo != nil && !req.ValidTo.After(req.ValidFrom) {
		return invalid("valid_to", "must be after valid_from")
	}

	if req.CoverageType == "" {
		req.CoverageType = CoveragePrimary
	}
	if !req.CoverageType.Valid() {
		return invalid("coverage_type", "must be primary or supplementary")
	}
	if req.Priority < 0 {
		return invalid("priority", "must not be negative")
	}
	if req.Priority == 0 {
		req.Priority = PriorityPrimary
		if req.CoverageType == CoverageSupplementary {
			req.Priority = PrioritySupplementary
		}
	}
	return nil
}
