/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  domain records in tariff/ and coverage/.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts are decimal.Decimal on both sides. They encode as JSON strings
  ("1250.50") and decode from either strings or numbers.

VALIDATION:
  Validation is done by the domain services, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/layers.go: LayerSpec, reused for waterfall requests
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/coverage-engine/coverage"
	"github.com/warp/coverage-engine/factory"
	"github.com/warp/coverage-engine/tariff"
)

var hundred = decimal.NewFromInt(100)

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// WATERFALL
// =============================================================================

// WaterfallRequest computes coverage for one amount. Layers and
// global_settings follow the factory document schema.
type WaterfallRequest struct {
	ServiceAmount  decimal.Decimal `json:"service_amount"`
	EvaluationTime *time.Time      `json:"evaluation_time,omitempty"`
	factory.LayerSet
}

// WaterfallDTO is the result of a waterfall computation.
type WaterfallDTO struct {
	ServiceAmount      decimal.Decimal   `json:"service_amount"`
	TotalCoverage      decimal.Decimal   `json:"total_coverage"`
	FinalPatientShare  decimal.Decimal   `json:"final_patient_share"`
	CoveragePercentage decimal.Decimal   `json:"coverage_percentage"`
	AppliedLayers      int               `json:"applied_layers"`
	EvaluationTime     string            `json:"evaluation_time"`
	Layers             []LayerResultDTO  `json:"layers"`
	Skipped            []LayerFailureDTO `json:"skipped"`
}

// LayerResultDTO is one processed layer.
type LayerResultDTO struct {
	InsuranceID        string          `json:"insurance_id"`
	Priority           int             `json:"priority"`
	RemainingBefore    decimal.Decimal `json:"remaining_before"`
	CalculatedCoverage decimal.Decimal `json:"calculated_coverage"`
	ActualCoverage     decimal.Decimal `json:"actual_coverage"`
	RemainingAfter     decimal.Decimal `json:"remaining_after"`
	IsApplied          bool            `json:"is_applied"`
	Adjustment         *AdjustmentDTO  `json:"adjustment,omitempty"`
}

// AdjustmentDTO describes what the adjuster did to a layer.
type AdjustmentDTO struct {
	Base     decimal.Decimal `json:"base"`
	Amount   decimal.Decimal `json:"amount"`
	Steps    []string        `json:"steps"`
	Fallback bool            `json:"fallback"`
	Error    string          `json:"error,omitempty"`
}

// LayerFailureDTO is a skipped layer.
type LayerFailureDTO struct {
	InsuranceID string `json:"insurance_id"`
	Priority    int    `json:"priority"`
	Position    int    `json:"position"`
	Reason      string `json:"reason"`
}

// NewWaterfallDTO converts an engine result for JSON output.
func NewWaterfallDTO(r *coverage.WaterfallResult) WaterfallDTO {
	dto := WaterfallDTO{
		ServiceAmount:      r.ServiceAmount,
		TotalCoverage:      r.TotalCoverage,
		FinalPatientShare:  r.FinalPatientShare,
		CoveragePercentage: r.CoveragePercentage,
		AppliedLayers:      r.AppliedLayers(),
		Layers:             make([]LayerResultDTO, 0, len(r.LayerResults)),
		Skipped:            make([]LayerFailureDTO, 0, len(r.Skipped)),
	}
	if !r.EvaluationTime.IsZero() {
		dto.EvaluationTime = r.EvaluationTime.UTC().Format(time.RFC3339)
	}
	for _, lr := range r.LayerResults {
		l := LayerResultDTO{
			InsuranceID:        lr.InsuranceID,
			Priority:           lr.Priority,
			RemainingBefore:    lr.RemainingBefore,
			CalculatedCoverage: lr.CalculatedCoverage,
			ActualCoverage:     lr.ActualCoverage,
			RemainingAfter:     lr.RemainingAfter,
			IsApplied:          lr.IsApplied,
		}
		if a := lr.Adjustment; a != nil {
			l.Adjustment = &AdjustmentDTO{Base: a.Base, Amount: a.Amount, Steps: a.Steps, Fallback: a.Fallback}
			if l.Adjustment.Steps == nil {
				l.Adjustment.Steps = []string{}
			}
			if a.Err != nil {
				l.Adjustment.Error = a.Err.Error()
			}
		}
		dto.Layers = append(dto.Layers, l)
	}
	for _, f := range r.Skipped {
		dto.Skipped = append(dto.Skipped, LayerFailureDTO{
			InsuranceID: f.InsuranceID,
			Priority:    f.Priority,
			Position:    f.Position,
			Reason:      f.Reason,
		})
	}
	return dto
}

// =============================================================================
// COMBINATIONS
// =============================================================================

// CombinationRequestBody asks for a primary + supplementary split.
type CombinationRequestBody struct {
	ServiceID                    string           `json:"service_id"`
	PrimaryPlanID                string           `json:"primary_plan_id"`
	SupplementaryPlanID          string           `json:"supplementary_plan_id"`
	SupplementaryCoveragePercent *decimal.Decimal `json:"supplementary_coverage_percent,omitempty"`
	SupplementaryMaxPayment      *decimal.Decimal `json:"supplementary_max_payment,omitempty"`
	ValidFrom                    *time.Time       `json:"valid_from,omitempty"`
	ValidTo                      *time.Time       `json:"valid_to,omitempty"`
}

func (b CombinationRequestBody) toDomain() tariff.CombinationRequest {
	req := tariff.CombinationRequest{
		ServiceID:                    b.ServiceID,
		PrimaryPlanID:                b.PrimaryPlanID,
		SupplementaryPlanID:          b.SupplementaryPlanID,
		SupplementaryCoveragePercent: b.SupplementaryCoveragePercent,
		SupplementaryMaxPayment:      b.SupplementaryMaxPayment,
		ValidTo:                      b.ValidTo,
	}
	if b.ValidFrom != nil {
		req.ValidFrom = *b.ValidFrom
	}
	return req
}

// CombinationResultDTO is the split of a service amount.
type CombinationResultDTO struct {
	ServiceAmount         decimal.Decimal `json:"service_amount"`
	CoverableAmount       decimal.Decimal `json:"coverable_amount"`
	PrimaryCoverage       decimal.Decimal `json:"primary_coverage"`
	PostPrimaryRemainder  decimal.Decimal `json:"post_primary_remainder"`
	SupplementaryCoverage decimal.Decimal `json:"supplementary_coverage"`
	FinalPatientShare     decimal.Decimal `json:"final_patient_share"`
	InsurerShare          decimal.Decimal `json:"insurer_share"`
	SupplementaryCapped   bool            `json:"supplementary_capped"`
}

func toCombinationResultDTO(r coverage.CombinationResult) CombinationResultDTO {
	return CombinationResultDTO{
		ServiceAmount:         r.ServiceAmount,
		CoverableAmount:       r.CoverableAmount,
		PrimaryCoverage:       r.PrimaryCoverage,
		PostPrimaryRemainder:  r.PostPrimaryRemainder,
		SupplementaryCoverage: r.SupplementaryCoverage,
		FinalPatientShare:     r.FinalPatientShare,
		InsurerShare:          r.InsurerShare(),
		SupplementaryCapped:   r.SupplementaryCapped,
	}
}

// CombinationDTO is returned by quote and create.
type CombinationDTO struct {
	ServiceID           string               `json:"service_id"`
	PrimaryPlanID       string               `json:"primary_plan_id"`
	SupplementaryPlanID string               `json:"supplementary_plan_id"`
	Result              CombinationResultDTO `json:"result"`
	Tariff              *TariffDTO           `json:"tariff,omitempty"`
}

// =============================================================================
// BULK PROVISIONING
// =============================================================================

// BulkRequestBody creates one tariff per eligible service for a plan.
type BulkRequestBody struct {
	PlanID       string          `json:"plan_id"`
	TotalPrice   decimal.Decimal `json:"total_price"`
	PatientShare decimal.Decimal `json:"patient_share"`
	InsurerShare decimal.Decimal `json:"insurer_share"`
	CoverageType string          `json:"coverage_type,omitempty"`
	Priority     int             `json:"priority,omitempty"`
	IsActive     *bool           `json:"is_active,omitempty"` // default true
	ValidFrom    *time.Time      `json:"valid_from,omitempty"`
	ValidTo      *time.Time      `json:"valid_to,omitempty"`
}

func (b BulkRequestBody) toDomain() tariff.BulkRequest {
	req := tariff.BulkRequest{
		PlanID:       b.PlanID,
		TotalPrice:   b.TotalPrice,
		PatientShare: b.PatientShare,
		InsurerShare: b.InsurerShare,
		CoverageType: tariff.CoverageType(b.CoverageType),
		Priority:     b.Priority,
		IsActive:     b.IsActive == nil || *b.IsActive,
		ValidTo:      b.ValidTo,
	}
	if b.ValidFrom != nil {
		req.ValidFrom = *b.ValidFrom
	}
	return req
}

// BulkResponseDTO reports a bulk run.
type BulkResponseDTO struct {
	Count    int    `json:"count"`
	Replayed bool   `json:"replayed"`
	BatchID  string `json:"batch_id,omitempty"`
}

// =============================================================================
// TARIFFS, PLANS, SERVICES
// =============================================================================

// TariffDTO represents a tariff in API responses.
type TariffDTO struct {
	ID            string          `json:"id"`
	ServiceID     string          `json:"service_id"`
	PlanID        string          `json:"plan_id"`
	PrimaryPlanID string          `json:"primary_plan_id,omitempty"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	PatientShare  decimal.Decimal `json:"patient_share"`
	InsurerShare  decimal.Decimal `json:"insurer_share"`
	CoverageType  string          `json:"coverage_type"`
	Priority      int             `json:"priority"`
	IsActive      bool            `json:"is_active"`
	ValidFrom     string          `json:"valid_from"`
	ValidTo       *string         `json:"valid_to,omitempty"`
	CreatedAt     string          `json:"created_at"`
	CreatedBy     string          `json:"created_by"`
}

func toTariffDTO(t tariff.Tariff) TariffDTO {
	return TariffDTO{
		ID:            t.ID,
		ServiceID:     t.ServiceID,
		PlanID:        t.PlanID,
		PrimaryPlanID: t.PrimaryPlanID,
		TotalPrice:    t.TotalPrice,
		PatientShare:  t.PatientShare,
		InsurerShare:  t.InsurerShare,
		CoverageType:  string(t.CoverageType),
		Priority:      t.Priority,
		IsActive:      t.IsActive,
		ValidFrom:     formatTime(t.ValidFrom),
		ValidTo:       formatOptionalTime(t.ValidTo),
		CreatedAt:     formatTime(t.CreatedAt),
		CreatedBy:     t.CreatedBy,
	}
}

// PlanDTO represents an insurance plan.
type PlanDTO struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Deductible      decimal.Decimal  `json:"deductible"`
	CoveragePercent decimal.Decimal  `json:"coverage_percent"`
	MaxPayment      *decimal.Decimal `json:"max_payment,omitempty"`
	IsActive        bool             `json:"is_active"`
	CreatedAt       string           `json:"created_at,omitempty"`
}

// CreatePlanRequest is the request to create or replace a plan.
type CreatePlanRequest struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Deductible      decimal.Decimal  `json:"deductible"`
	CoveragePercent decimal.Decimal  `json:"coverage_percent"`
	MaxPayment      *decimal.Decimal `json:"max_payment,omitempty"`
	IsActive        *bool            `json:"is_active,omitempty"` // default true
}

func toPlanDTO(p tariff.Plan) PlanDTO {
	return PlanDTO{
		ID:              p.ID,
		Name:            p.Name,
		Deductible:      p.Deductible,
		CoveragePercent: p.CoveragePercent,
		MaxPayment:      p.MaxPayment,
		IsActive:        p.IsActive,
		CreatedAt:       formatTime(p.CreatedAt),
	}
}

// ServiceDTO represents a billable medical service.
type ServiceDTO struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	IsActive  bool            `json:"is_active"`
	DeletedAt *string         `json:"deleted_at,omitempty"`
	CreatedAt string          `json:"created_at,omitempty"`
}

// CreateServiceRequest is the request to create or replace a service.
type CreateServiceRequest struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	IsActive *bool           `json:"is_active,omitempty"` // default true
}

func toServiceDTO(s tariff.Service) ServiceDTO {
	return ServiceDTO{
		ID:        s.ID,
		Name:      s.Name,
		Price:     s.Price,
		IsActive:  s.IsActive,
		DeletedAt: formatOptionalTime(s.DeletedAt),
		CreatedAt: formatTime(s.CreatedAt),
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
