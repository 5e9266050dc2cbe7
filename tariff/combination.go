/*
combination.go - Supplementary tariffs stacked on a primary plan

PURPOSE:
  Prices one service for a patient holding a primary plan and a
  supplementary plan, and persists the result as a single supplementary
  tariff.

FLOW (Create):
  1. Resolve the service and both plans; all must exist and be active
  2. Reject the pair if it is already combined for this service
  3. coverage.ResolveCombination on the service price
  4. Persist: TotalPrice = price, InsurerShare = primary + supplement,
     PatientShare = what is left, PrimaryPlanID set, Priority 2

  Quote runs steps 1 and 3 only and writes nothing.

DEFAULTS:
  The supplementary percent and maximum payment come from the
  supplementary plan unless the request overrides them.

SEE ALSO:
  - coverage/combination.go: The arithmetic
  - bulk.go: The other write path
*/
package tariff

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/coverage-engine/coverage"
)

// CombinationRequest asks for a supplementary tariff.
type CombinationRequest struct {
	ServiceID           string
	PrimaryPlanID       string
	SupplementaryPlanID string

	// Overrides for the supplementary plan's own terms.
	SupplementaryCoveragePercent *decimal.Decimal
	SupplementaryMaxPayment      *decimal.Decimal

	ValidFrom time.Time // zero = now
	ValidTo   *time.Time
}

// CombinationQuote is a computed but unsaved combination.
type CombinationQuote struct {
	Service       Service
	Primary       Plan
	Supplementary Plan
	Result        coverage.CombinationResult
}

// CombinationStore is what CombinationService needs from a backend.
type CombinationStore interface {
	PlanStore
	ServiceStore
	TariffStore
}

// CombinationService validates, prices and persists combinations.
type CombinationService struct {
	store  CombinationStore
	logger *zap.Logger
	now    func() time.Time
	scale  int32
}

func NewCombinationService(store CombinationStore, opts ...Option) *CombinationService {
	o := buildOptions(opts)
	return &CombinationService{store: store, logger: o.logger, now: o.now, scale: o.scale}
}

// Quote validates the request and computes the split without persisting.
func (s *CombinationService) Quote(ctx context.Context, req CombinationRequest) (*CombinationQuote, error) {
	if err := validateCombinationIDs(req); err != nil {
		return nil, err
	}

	svc, err := s.store.GetService(ctx, req.ServiceID)
	if err != nil {
		return nil, err
	}
	if !svc.Eligible() {
		return nil, &ValidationError{Field: "service_id", Reason: "service is inactive or deleted", Err: ErrServiceInactive}
	}
	if !svc.Price.IsPositive() {
		return nil, invalid("service_price", "must be positive")
	}

	primary, err := s.activePlan(ctx, "primary_plan_id", req.PrimaryPlanID)
	if err != nil {
		return nil, err
	}
	supplementary, err := s.activePlan(ctx, "supplementary_plan_id", req.SupplementaryPlanID)
	if err != nil {
		return nil, err
	}

	terms := coverage.SupplementaryTerms{
		CoveragePercent: supplementary.CoveragePercent,
		MaxPayment:      supplementary.MaxPayment,
	}
	if req.SupplementaryCoveragePercent != nil {
		terms.CoveragePercent = *req.SupplementaryCoveragePercent
	}
	if req.SupplementaryMaxPayment != nil {
		terms.MaxPayment = req.SupplementaryMaxPayment
	}

	result, err := coverage.ResolveCombination(
		svc.Price,
		coverage.PrimaryTerms{Deductible: primary.Deductible, CoveragePercent: primary.CoveragePercent},
		terms,
		s.scale,
	)
	if err != nil {
		var amountErr *coverage.AmountError
		if errors.As(err, &amountErr) {
			return nil, &ValidationError{Field: amountErr.Field, Reason: amountErr.Unwrap().Error(), Err: err}
		}
		return nil, err
	}

	return &CombinationQuote{Service: *svc, Primary: *primary, Supplementary: *supplementary, Result: result}, nil
}

// Create persists the combination as a supplementary tariff.
func (s *CombinationService) Create(ctx context.Context, req CombinationRequest) (*Tariff, *coverage.CombinationResult, error) {
	now := s.now().UTC()
	validFrom := req.ValidFrom
	if validFrom.IsZero() {
		validFrom = now
	}
	if req.ValidTo != nil && !req.ValidTo.After(validFrom) {
		return nil, nil, invalid("valid_to", "must be after valid_from")
	}

	quote, err := s.Quote(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	dup, err := s.store.IsDuplicateCombination(ctx, req.ServiceID, req.PrimaryPlanID, req.SupplementaryPlanID)
	if err != nil {
		return nil, nil, err
	}
	if dup {
		return nil, nil, ErrDuplicateCombination
	}

	r := quote.Result
	saved, err := s.store.AddTariff(ctx, Tariff{
		ID:            uuid.NewString(),
		ServiceID:     req.ServiceID,
		PlanID:        req.SupplementaryPlanID,
		PrimaryPlanID: req.PrimaryPlanID,
		TotalPrice:    r.ServiceAmount,
		PatientShare:  r.FinalPatientShare,
		InsurerShare:  r.InsurerShare(),
		CoverageType:  CoverageSupplementary,
		Priority:      PrioritySupplementary,
		IsActive:      true,
		ValidFrom:     validFrom,
		ValidTo:       req.ValidTo,
		CreatedAt:     now,
		CreatedBy:     ActorFrom(ctx),
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("combination tariff created",
		zap.String("tariff_id", saved.ID),
		zap.String("service_id", saved.ServiceID),
		zap.String("primary_plan_id", req.PrimaryPlanID),
		zap.String("supplementary_plan_id", req.SupplementaryPlanID),
		zap.Stringer("insurer_share", saved.InsurerShare),
		zap.Stringer("patient_share", saved.PatientShare),
		zap.String("actor", saved.CreatedBy),
	)
	return saved, &r, nil
}

func (s *CombinationService) activePlan(ctx context.Context, field, id string) (*Plan, error) {
	p, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, &ValidationError{Field: field, Reason: "plan " + id + " is not active", Err: ErrPlanInactive}
	}
	return p, nil
}

func validateCombinationIDs(req CombinationRequest) error {
	switch {
	case req.ServiceID == "":
		return invalid("service_id", "required")
	case req.PrimaryPlanID == "":
		return invalid("primary_plan_id", "required")
	case req.SupplementaryPlanID == "":
		return invalid("supplementary_plan_id", "required")
	case req.PrimaryPlanID == req.SupplementaryPlanID:
		return invalid("supplementary_plan_id", "must differ from primary_plan_id")
	}
	return nil
}
