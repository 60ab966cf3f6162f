/*
scenarios.go - Demo scenario loaders

PURPOSE:
  Seeds the database with sample portfolios so a fresh deployment can
  exercise multi-lot FIFO splits and the holding-period boundary without
  hand-entering trades. Loading a scenario resets the database first.
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/meridian/capgains-engine/engine"
)

type scenario struct {
	ID          string
	Name        string
	Description string
	Load        func(ctx context.Context, h *Handler) error
}

var scenarios = []scenario{
	{
		ID:          "fifo-basics",
		Name:        "FIFO basics",
		Description: "Two lots, one disposal that splits across them oldest-first",
		Load:        loadFIFOBasics,
	},
	{
		ID:          "holding-periods",
		Name:        "Holding periods",
		Description: "Lots held across the 365-day boundary, mixed short and long gains",
		Load:        loadHoldingPeriods,
	},
}

// ListScenarios handles GET /api/scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, 0, len(scenarios))
	for _, s := range scenarios {
		dtos = append(dtos, ScenarioDTO{ID: s.ID, Name: s.Name, Description: s.Description})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LoadScenario handles POST /api/scenarios/load.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	for _, s := range scenarios {
		if s.ID != req.ID {
			continue
		}
		if err := h.Store.Reset(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
			return
		}
		if err := s.Load(r.Context(), h); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
			return
		}
		h.currentScenario = s.ID
		writeJSON(w, http.StatusOK, map[string]any{"loaded": s.ID})
		return
	}

	writeError(w, http.StatusNotFound, "Unknown scenario", nil)
}

func loadFIFOBasics(ctx context.Context, h *Handler) error {
	const inst = engine.InstrumentID("ACME")

	buys := []struct {
		date  engine.TradeDate
		qty   float64
		price float64
	}{
		{engine.NewTradeDate(2024, time.January, 1), 10, 100},
		{engine.NewTradeDate(2024, time.March, 1), 10, 120},
	}
	for _, b := range buys {
		if _, err := h.Orchestrator.RecordAcquisition(ctx, inst,
			engine.NewQuantity(b.qty), engine.NewMoney(b.price), b.date); err != nil {
			return err
		}
	}

	_, err := h.Orchestrator.RecordDisposal(ctx, inst,
		engine.NewQuantity(12), engine.NewMoney(150), engine.NewTradeDate(2024, time.June, 1))
	return err
}

func loadHoldingPeriods(ctx context.Context, h *Handler) error {
	const inst = engine.InstrumentID("GLOBEX")

	buys := []struct {
		date  engine.TradeDate
		qty   float64
		price float64
	}{
		{engine.NewTradeDate(2023, time.February, 15), 50, 40},
		{engine.NewTradeDate(2024, time.November, 1), 50, 55},
	}
	for _, b := range buys {
		if _, err := h.Orchestrator.RecordAcquisition(ctx, inst,
			engine.NewQuantity(b.qty), engine.NewMoney(b.price), b.date); err != nil {
			return err
		}
	}

	// Consumes the whole 2023 lot (long) and part of the 2024 lot (short).
	_, err := h.Orchestrator.RecordDisposal(ctx, inst,
		engine.NewQuantity(70), engine.NewMoney(60), engine.NewTradeDate(2025, time.March, 10))
	return err
}
