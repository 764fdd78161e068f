/*
scenarios.go - Demo scenario loader for testing and demonstrations

PURPOSE:

	Populates the database with realistic data for demos: a couple of
	clients with sites, a small material catalog, and work orders spread
	across the lifecycle so every screen has something to show.

WHAT GETS SEEDED:

	demo-day:
	  - 2 clients, 3 sites
	  - 4 catalog materials
	  - A DRAFT work order with an empty v1
	  - A BUDGETED work order with a priced v1
	  - An IN_PROGRESS work order on budget v2, with recorded spend
	  - A DIRECT_EXECUTION order already executing, no budget

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "demo-day"}

NOTE:

	Seeding does not reset the database; loading twice creates duplicate
	demo rows (except ticket-linked orders, which conflict). Only use in
	development/demo environments.

SEE ALSO:
  - server.go: Route registration
  - handlers.go: Error helpers
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fieldworks/obra-engine/obra"
)

// newID mints identifiers for registry rows created over the API.
func newID() string {
	return uuid.NewString()
}

// =============================================================================
// SCENARIO LOADING
// =============================================================================

type loadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req loadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	switch req.ScenarioID {
	case "", "demo-day":
		if err := h.loadDemoDayScenario(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario: "+req.ScenarioID, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": "demo-day"})
}

// =============================================================================
// DEMO-DAY SCENARIO
// =============================================================================

func (h *Handler) loadDemoDayScenario(ctx context.Context) error {
	// ---- Registries ----------------------------------------------------

	acme := obra.Client{ID: newID(), Name: "Acme Property Group", TaxID: "B-82014577", Email: "facilities@acme-pg.example"}
	harbor := obra.Client{ID: newID(), Name: "Harbor Logistics", TaxID: "B-61220904", Email: "ops@harborlog.example"}
	for _, c := range []obra.Client{acme, harbor} {
		if err := h.Store.SaveClient(ctx, c); err != nil {
			return fmt.Errorf("seeding client %s: %w", c.Name, err)
		}
	}

	hq := obra.Site{ID: newID(), ClientID: acme.ID, Name: "Acme HQ Tower", Address: "12 Gran Via"}
	mall := obra.Site{ID: newID(), ClientID: acme.ID, Name: "Northgate Mall", Address: "4 Ring Road"}
	depot := obra.Site{ID: newID(), ClientID: harbor.ID, Name: "Dock 7 Depot", Address: "Pier 7"}
	for _, s := range []obra.Site{hq, mall, depot} {
		if err := h.Store.SaveSite(ctx, s); err != nil {
			return fmt.Errorf("seeding site %s: %w", s.Name, err)
		}
	}

	pipe := obra.Material{ID: newID(), Code: "MAT-PVC-50", Name: "PVC pipe 50mm", Unit: "m",
		UnitCost: obra.MustMoney("2.10"), UnitPrice: obra.MustMoney("3.50")}
	cable := obra.Material{ID: newID(), Code: "MAT-CU-2.5", Name: "Copper cable 2.5mm", Unit: "m",
		UnitCost: obra.MustMoney("0.62"), UnitPrice: obra.MustMoney("1.10")}
	paint := obra.Material{ID: newID(), Code: "MAT-PAINT-W", Name: "Interior paint, white", Unit: "l",
		UnitCost: obra.MustMoney("4.80"), UnitPrice: obra.MustMoney("7.90")}
	filter := obra.Material{ID: newID(), Code: "MAT-HVAC-F", Name: "HVAC filter G4", Unit: "ud",
		UnitCost: obra.MustMoney("11.30"), UnitPrice: obra.MustMoney("18.00")}
	for _, m := range []obra.Material{pipe, cable, paint, filter} {
		if err := h.Store.SaveMaterial(ctx, m); err != nil {
			return fmt.Errorf("seeding material %s: %w", m.Code, err)
		}
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)

	// ---- DRAFT with empty v1 -------------------------------------------

	_, err := h.Service.CreateWorkOrder(ctx, obra.NewWorkOrder{
		Kind:         obra.KindMajorWork,
		Mode:         obra.ModeWithBudget,
		Title:        "Lobby renovation, phase 1",
		Description:  "Replace flooring and repaint the main lobby.",
		RequestDate:  today,
		ClientID:     acme.ID,
		SiteID:       hq.ID,
		PaymentTerms: "30 days net",
		ValidityDays: 30,
		CreatedBy:    "demo-seeder",
	})
	if err != nil {
		return fmt.Errorf("seeding draft order: %w", err)
	}

	// ---- BUDGETED with a priced v1 -------------------------------------

	budgeted, err := h.Service.CreateWorkOrder(ctx, obra.NewWorkOrder{
		Kind:         obra.KindMinorService,
		Mode:         obra.ModeWithBudget,
		Title:        "HVAC filter replacement, floors 1-4",
		RequestDate:  today,
		ClientID:     acme.ID,
		SiteID:       mall.ID,
		PaymentTerms: "15 days net",
		ValidityDays: 15,
		CreatedBy:    "demo-seeder",
	})
	if err != nil {
		return fmt.Errorf("seeding budgeted order: %w", err)
	}
	v1, err := h.Service.Versions.GetCurrentOrCreate(ctx, budgeted.ID)
	if err != nil {
		return err
	}
	if _, err := h.Service.Items.AddItem(ctx, v1.ID, obra.NewItem{
		Kind: obra.ItemMaterial, Description: "HVAC filter G4",
		Quantity: obra.MustMoney("16").Value, Unit: "ud", MaterialRef: filter.ID,
	}); err != nil {
		return err
	}
	if _, err := h.Service.Items.AddItem(ctx, v1.ID, obra.NewItem{
		Kind: obra.ItemLabor, Description: "Technician hours",
		Quantity: obra.MustMoney("8").Value, Unit: "h",
		UnitCost: obra.MustMoney("18.00"), UnitPrice: obra.MustMoney("32.00"),
	}); err != nil {
		return err
	}
	if _, err := h.Service.RequestTransition(ctx, budgeted.ID, obra.StatusBudgeted, "demo-seeder", "budget ready"); err != nil {
		return err
	}

	// ---- IN_PROGRESS on v2, with spend ---------------------------------

	running, err := h.Service.CreateWorkOrder(ctx, obra.NewWorkOrder{
		Kind:         obra.KindMajorWork,
		Mode:         obra.ModeWithBudget,
		Title:        "Dock 7 rewiring",
		Description:  "Replace degraded wiring runs in the depot office block.",
		RequestDate:  today.AddDate(0, 0, -20),
		ClientID:     harbor.ID,
		SiteID:       depot.ID,
		TicketID:     "TCK-4821",
		PaymentTerms: "60 days net",
		ValidityDays: 45,
		CreatedBy:    "demo-seeder",
	})
	if err != nil {
		return fmt.Errorf("seeding in-progress order: %w", err)
	}
	rv1, err := h.Service.Versions.GetCurrentOrCreate(ctx, running.ID)
	if err != nil {
		return err
	}
	if _, err := h.Service.Items.AddItem(ctx, rv1.ID, obra.NewItem{
		Kind: obra.ItemMaterial, Description: "Copper cable 2.5mm",
		Quantity: obra.MustMoney("240").Value, Unit: "m", MaterialRef: cable.ID,
	}); err != nil {
		return err
	}
	if _, err := h.Service.Items.AddItem(ctx, rv1.ID, obra.NewItem{
		Kind: obra.ItemLabor, Description: "Electrician hours",
		Quantity: obra.MustMoney("40").Value, Unit: "h",
		UnitCost: obra.MustMoney("21.00"), UnitPrice: obra.MustMoney("38.00"),
	}); err != nil {
		return err
	}
	// Client asked for extra capacity; v2 supersedes v1.
	rv2, _, err := h.Service.Versions.CreateNextVersion(ctx, running.ID, "Added spare circuit per client request")
	if err != nil {
		return err
	}
	if _, err := h.Service.Items.AddItem(ctx, rv2.ID, obra.NewItem{
		Kind: obra.ItemMaterial, Description: "PVC conduit 50mm",
		Quantity: obra.MustMoney("60").Value, Unit: "m", MaterialRef: pipe.ID,
	}); err != nil {
		return err
	}
	if _, err := h.Service.Versions.SwitchCurrent(ctx, running.ID, rv2.ID); err != nil {
		return err
	}
	for _, target := range []obra.Status{obra.StatusBudgeted, obra.StatusApproved, obra.StatusInProgress} {
		if _, err := h.Service.RequestTransition(ctx, running.ID, target, "demo-seeder", ""); err != nil {
			return err
		}
	}
	if _, err := h.Service.RecordExpense(ctx, running.ID, obra.MustMoney("412.75"), "demo-seeder", "cable drums, first delivery"); err != nil {
		return err
	}

	// ---- DIRECT_EXECUTION already running ------------------------------

	direct, err := h.Service.CreateWorkOrder(ctx, obra.NewWorkOrder{
		Kind:        obra.KindMinorService,
		Mode:        obra.ModeDirectExecution,
		Title:       "Emergency leak repair, dock office",
		RequestDate: today.AddDate(0, 0, -2),
		ClientID:    harbor.ID,
		SiteID:      depot.ID,
		CreatedBy:   "demo-seeder",
	})
	if err != nil {
		return fmt.Errorf("seeding direct-execution order: %w", err)
	}
	if _, err := h.Service.RequestTransition(ctx, direct.ID, obra.StatusInProgress, "demo-seeder", "dispatched on call-out"); err != nil {
		return err
	}
	if _, err := h.Service.RecordExpense(ctx, direct.ID, obra.MustMoney("86.40"), "demo-seeder", "sealant and fittings"); err != nil {
		return err
	}

	return nil
}
