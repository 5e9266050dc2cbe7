/*
handlers.go - HTTP API handlers for the coverage engine

PURPOSE:
  Exposes the coverage core and the tariff operations via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to
  coverage.Engine, tariff.CombinationService and tariff.BulkProvisioner.

ENDPOINTS:
  Calculation:
    POST   /api/waterfall              Compute a waterfall (no persistence)
    POST   /api/combinations/quote     Quote a primary + supplementary split
    POST   /api/combinations           Create a supplementary tariff

  Tariffs:
    POST   /api/tariffs/bulk           Bulk provisioning (Idempotency-Key)
    GET    /api/tariffs                List, filtered by plan_id / service_id
    GET    /api/tariffs/export.xlsx    Spreadsheet export

  Plans and services:
    GET/POST    /api/plans, /api/services
    GET/DELETE  /api/plans/{id}, /api/services/{id}

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Repo: Any tariff.Repository (memory, sqlite, postgres)
  - Engine: Waterfall calculation
  - Combinations, Bulk: Tariff-producing operations
  - Exporter: Spreadsheet rendering

ERROR HANDLING:
  Domain errors are mapped in writeDomainError:
  - 400: Validation errors (body carries "code")
  - 404: Plan or service not found
  - 409: Duplicate combination, plan in use, idempotency key in flight
  - 422: No eligible targets for bulk provisioning
  - 500: Bulk transaction failure ({"error":"bulk operation failed"} only)
         and anything unexpected

SECURITY NOTE:
  No authentication. X-Actor-ID is trusted as given and only recorded.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/coverage-engine/coverage"
	"github.com/warp/coverage-engine/export"
	"github.com/warp/coverage-engine/tariff"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Repo         tariff.Repository
	Engine       *coverage.Engine
	Combinations *tariff.CombinationService
	Bulk         *tariff.BulkProvisioner
	Exporter     *export.Exporter

	logger *zap.Logger
	now    func() time.Time

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// HandlerOptions configures NewHandler. Zero values fall back to defaults,
// except Scale, where zero is a valid currency scale.
type HandlerOptions struct {
	Logger   *zap.Logger
	Clock    func() time.Time
	Scale    int32
	ClaimTTL time.Duration
}

// NewHandler wires the domain services over repo.
func NewHandler(repo tariff.Repository, o HandlerOptions) *Handler {
	if o.Logger == nil {
		o.Logger = zap.L()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.ClaimTTL <= 0 {
		o.ClaimTTL = tariff.DefaultClaimTTL
	}

	opts := []tariff.Option{
		tariff.WithLogger(o.Logger),
		tariff.WithClock(o.Clock),
		tariff.WithScale(o.Scale),
		tariff.WithClaimTTL(o.ClaimTTL),
	}
	return &Handler{
		Repo: repo,
		Engine: coverage.NewEngine(
			coverage.WithLogger(o.Logger),
			coverage.WithClock(o.Clock),
			coverage.WithScale(o.Scale),
		),
		Combinations: tariff.NewCombinationService(repo, opts...),
		Bulk:         tariff.NewBulkProvisioner(repo, opts...),
		Exporter:     export.NewExporter(repo, o.Scale),
		logger:       o.Logger,
		now:          o.Clock,
	}
}

// Health reports liveness.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// WATERFALL
// =============================================================================

// ComputeWaterfall runs the coverage waterfall over the posted layers.
// POST /api/waterfall
func (h *Handler) ComputeWaterfall(w http.ResponseWriter, r *http.Request) {
	var req WaterfallRequest
	if !decodeBody(w, r, &req) {
		return
	}

	at := h.now()
	if req.EvaluationTime != nil {
		at = *req.EvaluationTime
	}

	layers, global := req.Build()
	result, err := h.Engine.Compute(req.ServiceAmount, layers, at, global)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, NewWaterfallDTO(result))
}

// =============================================================================
// COMBINATIONS
// =============================================================================

// QuoteCombination computes a primary + supplementary split without saving it.
// POST /api/combinations/quote
func (h *Handler) QuoteCombination(w http.ResponseWriter, r *http.Request) {
	var req CombinationRequestBody
	if !decodeBody(w, r, &req) {
		return
	}

	quote, err := h.Combinations.Quote(r.Context(), req.toDomain())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CombinationDTO{
		ServiceID:           quote.Service.ID,
		PrimaryPlanID:       quote.Primary.ID,
		SupplementaryPlanID: quote.Supplementary.ID,
		Result:              toCombinationResultDTO(quote.Result),
	})
}

// CreateCombination persists a supplementary tariff.
// POST /api/combinations
func (h *Handler) CreateCombination(w http.ResponseWriter, r *http.Request) {
	var req CombinationRequestBody
	if !decodeBody(w, r, &req) {
		return
	}

	saved, result, err := h.Combinations.Create(r.Context(), req.toDomain())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dto := toTariffDTO(*saved)
	writeJSON(w, http.StatusCreated, CombinationDTO{
		ServiceID:           saved.ServiceID,
		PrimaryPlanID:       saved.PrimaryPlanID,
		SupplementaryPlanID: saved.PlanID,
		Result:              toCombinationResultDTO(*result),
		Tariff:              &dto,
	})
}

// =============================================================================
// TARIFFS
// =============================================================================

// BulkProvision creates one tariff per eligible service. A repeated
// Idempotency-Key returns the first run's count with 200 instead of 201.
// POST /api/tariffs/bulk
func (h *Handler) BulkProvision(w http.ResponseWriter, r *http.Request) {
	var req BulkRequestBody
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.Bulk.Provision(r.Context(), req.toDomain(), r.Header.Get(HeaderIdempotencyKey))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, BulkResponseDTO{Count: result.Count, Replayed: result.Replayed, BatchID: result.BatchID})
}

// ListTariffs returns tariffs, optionally filtered.
// GET /api/tariffs?plan_id=...&service_id=...
func (h *Handler) ListTariffs(w http.ResponseWriter, r *http.Request) {
	tariffs, err := h.Repo.ListTariffs(r.Context(), tariffFilter(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]TariffDTO, len(tariffs))
	for i, t := range tariffs {
		dtos[i] = toTariffDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ExportTariffs streams the tariff schedule as a workbook.
// GET /api/tariffs/export.xlsx
func (h *Handler) ExportTariffs(w http.ResponseWriter, r *http.Request) {
	file, err := h.Exporter.Build(r.Context(), tariffFilter(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="tariffs.xlsx"`)
	w.WriteHeader(http.StatusOK)
	if err := file.Write(w); err != nil {
		// Headers are gone; all we can do is log.
		h.logger.Error("write tariff export", zap.Error(err))
	}
}

func tariffFilter(r *http.Request) tariff.TariffFilter {
	q := r.URL.Query()
	return tariff.TariffFilter{PlanID: q.Get("plan_id"), ServiceID: q.Get("service_id")}
}

// =============================================================================
// PLANS
// =============================================================================

// ListPlans returns all plans.
// GET /api/plans
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.Repo.ListPlans(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]PlanDTO, len(plans))
	for i, p := range plans {
		dtos[i] = toPlanDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPlan returns a single plan.
// GET /api/plans/{id}
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	p, err := h.Repo.GetPlan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTO(*p))
}

// CreatePlan creates or replaces a plan.
// POST /api/plans
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req CreatePlanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validatePlan(req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	saved, err := h.Repo.CreatePlan(r.Context(), tariff.Plan{
		ID:              req.ID,
		Name:            req.Name,
		Deductible:      req.Deductible,
		CoveragePercent: req.CoveragePercent,
		MaxPayment:      req.MaxPayment,
		IsActive:        req.IsActive == nil || *req.IsActive,
		CreatedAt:       h.now().UTC(),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPlanDTO(*saved))
}

func validatePlan(req CreatePlanRequest) error {
	switch {
	case req.Name == "":
		return &tariff.ValidationError{Field: "name", Reason: "required"}
	case req.Deductible.IsNegative():
		return &tariff.ValidationError{Field: "deductible", Reason: "must not be negative"}
	case req.CoveragePercent.IsNegative() || req.CoveragePercent.GreaterThan(hundred):
		return &tariff.ValidationError{Field: "coverage_percent", Reason: "must be between 0 and 100"}
	case req.MaxPayment != nil && req.MaxPayment.IsNegative():
		return &tariff.ValidationError{Field: "max_payment", Reason: "must not be negative"}
	}
	return nil
}

// DeletePlan removes a plan no tariff references.
// DELETE /api/plans/{id}
func (h *Handler) DeletePlan(w http.ResponseWriter, r *http.Request) {
	if err := h.Repo.DeletePlan(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SERVICES
// =============================================================================

// ListServices returns all services, soft-deleted ones included.
// GET /api/services
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.Repo.ListServices(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]ServiceDTO, len(services))
	for i, s := range services {
		dtos[i] = toServiceDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetService returns a single service.
// GET /api/services/{id}
func (h *Handler) GetService(w http.ResponseWriter, r *http.Request) {
	s, err := h.Repo.GetService(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toServiceDTO(*s))
}

// CreateService creates or replaces a service.
// POST /api/services
func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	var req CreateServiceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		h.writeDomainError(w, r, &tariff.ValidationError{Field: "name", Reason: "required"})
		return
	}
	if req.Price.IsNegative() {
		h.writeDomainError(w, r, &tariff.ValidationError{Field: "price", Reason: "must not be negative"})
		return
	}

	saved, err := h.Repo.CreateService(r.Context(), tariff.Service{
		ID:        req.ID,
		Name:      req.Name,
		Price:     req.Price,
		IsActive:  req.IsActive == nil || *req.IsActive,
		CreatedAt: h.now().UTC(),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toServiceDTO(*saved))
}

// DeleteService soft-deletes a service.
// DELETE /api/services/{id}
func (h *Handler) DeleteService(w http.ResponseWriter, r *http.Request) {
	if err := h.Repo.DeleteService(r.Context(), chi.URLParam(r, "id"), h.now().UTC()); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "invalid_body",
			Details: err.Error(),
		})
		return false
	}
	return true
}

// writeDomainError maps domain errors to status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var txErr *tariff.TransactionError
	var ve *tariff.ValidationError

	switch {
	case errors.As(err, &txErr):
		// Cause already logged by the provisioner; never echoed.
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: txErr.Error()})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ve.Error(), Code: ve.Code(), Field: ve.Field})
	case coverage.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "validation_failed"})
	case tariff.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, tariff.ErrNoEligibleTargets):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: "no_eligible_targets"})
	case tariff.IsConflict(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: conflictCode(err)})
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

func conflictCode(err error) string {
	switch {
	case errors.Is(err, tariff.ErrDuplicateCombination):
		return "duplicate_combination"
	case errors.Is(err, tariff.ErrPlanInUse):
		return "plan_in_use"
	default:
		return "idempotency_in_flight"
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
