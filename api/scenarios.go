/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the repository with realistic
	plans, services and tariffs so that the API can be explored without
	hand-entering data.

AVAILABLE SCENARIOS:

	clinic-catalog:    Plans and services only, including an inactive plan,
	                   an inactive service and a soft-deleted service
	stacked-coverage:  Catalog + supplementary tariffs for MRI and X-ray
	bulk-schedule:     Catalog + one primary tariff per eligible service

HOW SCENARIOS WORK:
 1. Reset repository (clear all data)
 2. Create plans and services
 3. Run the same domain operations the API exposes (combinations, bulk)

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "stacked-coverage"}

NOTE:

	Scenarios reset the repository. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler dependencies
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/coverage-engine/tariff"
)

// ScenarioActor is recorded as CreatedBy on scenario tariffs.
const ScenarioActor = "scenario-loader"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "clinic-catalog",
		Name:        "Clinic Catalog",
		Description: "Primary and top-up plans with a small service catalog",
	},
	{
		ID:          "stacked-coverage",
		Name:        "Stacked Coverage",
		Description: "Top-up plan stacked on primary care for MRI and X-ray",
	},
	{
		ID:          "bulk-schedule",
		Name:        "Bulk Schedule",
		Description: "Flat primary tariff provisioned for every eligible service",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "clinic-catalog":
		load = h.loadCatalog
	case "stacked-coverage":
		load = h.loadStackedCoverage
	case "bulk-schedule":
		load = h.loadBulkSchedule
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := tariff.WithActor(r.Context(), ScenarioActor)

	// Reset first
	if err := h.Repo.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Repo.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadCatalog(ctx context.Context) error {
	topUpCap := decimal.NewFromInt(300)
	now := h.now().UTC()

	plans := []tariff.Plan{
		{ID: "basic-care", Name: "Basic Care", Deductible: decimal.NewFromInt(500), CoveragePercent: decimal.NewFromInt(80), IsActive: true},
		{ID: "top-up", Name: "Top-Up", CoveragePercent: decimal.NewFromInt(50), MaxPayment: &topUpCap, IsActive: true},
		{ID: "legacy", Name: "Legacy Plan", CoveragePercent: decimal.NewFromInt(60), IsActive: false},
	}
	for _, p := range plans {
		p.CreatedAt = now
		if _, err := h.Repo.CreatePlan(ctx, p); err != nil {
			return err
		}
	}

	services := []tariff.Service{
		{ID: "consultation", Name: "General Consultation", Price: decimal.NewFromInt(120), IsActive: true},
		{ID: "mri", Name: "MRI Scan", Price: decimal.NewFromInt(2000), IsActive: true},
		{ID: "xray", Name: "X-Ray", Price: decimal.NewFromInt(250), IsActive: true},
		{ID: "acupuncture", Name: "Acupuncture", Price: decimal.NewFromInt(90), IsActive: false},
		{ID: "homeopathy", Name: "Homeopathy", Price: decimal.NewFromInt(60), IsActive: true},
	}
	for _, s := range services {
		s.CreatedAt = now
		if _, err := h.Repo.CreateService(ctx, s); err != nil {
			return err
		}
	}
	return h.Repo.DeleteService(ctx, "homeopathy", now)
}

func (h *Handler) loadStackedCoverage(ctx context.Context) error {
	if err := h.loadCatalog(ctx); err != nil {
		return err
	}
	for _, serviceID := range []string{"mri", "xray"} {
		_, _, err := h.Combinations.Create(ctx, tariff.CombinationRequest{
			ServiceID:           serviceID,
			PrimaryPlanID:       "basic-care",
			SupplementaryPlanID: "top-up",
		})
		if err != nil {
			return fmt.Errorf("combination for %s: %w", serviceID, err)
		}
	}
	return nil
}

func (h *Handler) loadBulkSchedule(ctx context.Context) error {
	if err := h.loadCatalog(ctx); err != nil {
		return err
	}
	_, err := h.Bulk.Provision(ctx, tariff.BulkRequest{
		PlanID:       "basic-care",
		TotalPrice:   decimal.NewFromInt(100),
		InsurerShare: decimal.NewFromInt(80),
		PatientShare: decimal.NewFromInt(20),
		CoverageType: tariff.CoveragePrimary,
		IsActive:     true,
	}, "")
	return err
}
