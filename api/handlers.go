/*
handlers.go - HTTP API handlers for the capital-gains engine

PURPOSE:
  Exposes the lot-matching engine via REST. Handles HTTP request/response
  and JSON serialization, delegates every business decision to the engine.

ENDPOINTS:
  Trades:
    POST   /api/instruments/{id}/acquisitions  Record a buy
    POST   /api/instruments/{id}/disposals     Record a sell (FIFO match)
    GET    /api/instruments/{id}/lots          Available lots
    GET    /api/instruments/{id}/gains         Realized gains
    POST   /api/trades/{id}/edits              Validate and commit an edit
    DELETE /api/trades/{id}                    Delete an unmatched trade
    GET    /api/trades/{id}/history            Audit history

  Tax:
    GET    /api/tax/estimate?year=&instrument= Fiscal-year estimate

  Scenarios:
    GET    /api/scenarios                      List demo scenarios
    POST   /api/scenarios/load                 Load a demo scenario

ERROR HANDLING:
  Engine errors map to HTTP status:
  - 400: InvalidArgument, EditRejected (body carries rule + bound)
  - 404: NotFound
  - 409: InsufficientInventory (body carries shortfall)
  - 500: PersistenceFailure

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/meridian/capgains-engine/engine"
	"github.com/meridian/capgains-engine/factory"
	"github.com/meridian/capgains-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        *sqlite.Store
	Orchestrator *engine.Orchestrator
	Validator    *engine.EditValidator
	Ledger       *engine.LotLedger
	Audit        *engine.AuditLogger
	Profile      *factory.TaxProfile

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler with the given store and tax profile.
func NewHandler(store *sqlite.Store, profile *factory.TaxProfile) *Handler {
	return &Handler{
		Store:        store,
		Orchestrator: engine.NewOrchestrator(store),
		Validator:    engine.NewEditValidator(store),
		Ledger:       engine.NewLotLedger(store),
		Audit:        engine.NewAuditLogger(store),
		Profile:      profile,
	}
}

// =============================================================================
// TRADE HANDLERS
// =============================================================================

// RecordAcquisition handles POST /api/instruments/{id}/acquisitions.
func (h *Handler) RecordAcquisition(w http.ResponseWriter, r *http.Request) {
	instrumentID := engine.InstrumentID(chi.URLParam(r, "id"))

	var req RecordTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, err := engine.ParseTradeDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	quantity, err := engine.ParseQuantity(req.Quantity)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	unitPrice, err := engine.ParseMoney(req.UnitPrice)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	trade, err := h.Orchestrator.RecordAcquisition(r.Context(), instrumentID, quantity, unitPrice, date)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, tradeDTO(*trade))
}

// RecordDisposal handles POST /api/instruments/{id}/disposals.
func (h *Handler) RecordDisposal(w http.ResponseWriter, r *http.Request) {
	instrumentID := engine.InstrumentID(chi.URLParam(r, "id"))

	var req RecordTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, err := engine.ParseTradeDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	quantity, err := engine.ParseQuantity(req.Quantity)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	unitPrice, err := engine.ParseMoney(req.UnitPrice)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	result, err := h.Orchestrator.RecordDisposal(r.Context(), instrumentID, quantity, unitPrice, date)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, DisposalResultDTO{
		Disposal:      tradeDTO(result.Disposal),
		RealizedGains: gainDTOs(result.RealizedGains),
		TotalCost:     result.TotalCost.String(),
		TotalProceeds: result.TotalProceeds.String(),
		TotalGain:     result.TotalGain.String(),
	})
}

// GetLots handles GET /api/instruments/{id}/lots.
func (h *Handler) GetLots(w http.ResponseWriter, r *http.Request) {
	instrumentID := engine.InstrumentID(chi.URLParam(r, "id"))

	lots, err := h.Ledger.AvailableLots(r.Context(), instrumentID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	dtos := make([]LotDTO, 0, len(lots))
	for _, lot := range lots {
		dtos = append(dtos, LotDTO{
			AcquisitionID: string(lot.AcquisitionID),
			Date:          lot.Date.String(),
			UnitPrice:     lot.UnitPrice.String(),
			Available:     lot.Available.String(),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetGains handles GET /api/instruments/{id}/gains.
func (h *Handler) GetGains(w http.ResponseWriter, r *http.Request) {
	instrumentID := engine.InstrumentID(chi.URLParam(r, "id"))

	gains, err := h.Store.GainsByInstrument(r.Context(), instrumentID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gainDTOs(gains))
}

// EditTrade handles POST /api/trades/{id}/edits.
func (h *Handler) EditTrade(w http.ResponseWriter, r *http.Request) {
	tradeID := engine.TradeID(chi.URLParam(r, "id"))

	var req EditTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	edit := engine.EditRequest{TradeID: tradeID}
	if req.InstrumentID != nil {
		id := engine.InstrumentID(*req.InstrumentID)
		edit.NewInstrumentID = &id
	}
	if req.Side != nil {
		side := engine.TradeSide(*req.Side)
		edit.NewSide = &side
	}
	if req.Date != nil {
		date, err := engine.ParseTradeDate(*req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		edit.NewDate = &date
	}
	if req.Quantity != nil {
		qty, err := engine.ParseQuantity(*req.Quantity)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		edit.NewQuantity = &qty
	}
	if req.UnitPrice != nil {
		price, err := engine.ParseMoney(*req.UnitPrice)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		edit.NewUnitPrice = &price
	}

	decision, err := h.Validator.Apply(r.Context(), edit)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, EditResultDTO{
		State:  string(decision.State),
		Before: tradeDTO(decision.Before),
		After:  tradeDTO(decision.After),
	})
}

// DeleteTrade handles DELETE /api/trades/{id}.
func (h *Handler) DeleteTrade(w http.ResponseWriter, r *http.Request) {
	tradeID := engine.TradeID(chi.URLParam(r, "id"))

	if err := h.Orchestrator.DeleteTrade(r.Context(), tradeID); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": string(tradeID)})
}

// GetHistory handles GET /api/trades/{id}/history.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	tradeID := engine.TradeID(chi.URLParam(r, "id"))

	entries, err := h.Audit.GetHistory(r.Context(), tradeID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	dtos := make([]AuditEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, AuditEntryDTO{
			Timestamp: e.Timestamp.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
			FieldName: e.FieldName,
			OldValue:  e.OldValue,
			NewValue:  e.NewValue,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// TAX HANDLERS
// =============================================================================

// TaxEstimate handles GET /api/tax/estimate?year=&instrument=.
func (h *Handler) TaxEstimate(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil || year < 1900 || year > 9999 {
		writeError(w, http.StatusBadRequest, "Invalid or missing year", err)
		return
	}
	instrumentID := engine.InstrumentID(r.URL.Query().Get("instrument"))

	from, to := h.Profile.FiscalYear(year)
	est, gains, err := h.Orchestrator.TaxReport(r.Context(), instrumentID, from, to, h.Profile.Rates())
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TaxReportDTO{
		Year:          year,
		PeriodStart:   from.String(),
		PeriodEnd:     to.String(),
		ShortGains:    est.ShortGains.String(),
		LongGains:     est.LongGains.String(),
		ShortTax:      est.ShortTax.String(),
		LongTax:       est.LongTax.String(),
		ExemptionUsed: est.ExemptionUsed.String(),
		RealizedGains: gainDTOs(gains),
	})
}

// Reset handles POST /api/reset. Dev only.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}

// =============================================================================
// HELPERS
// =============================================================================

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

// writeEngineError maps engine error kinds to HTTP statuses and surfaces
// structured detail (rule, bound, shortfall) to the caller.
func writeEngineError(w http.ResponseWriter, err error) {
	var rejected *engine.EditRejectedError
	if errors.As(err, &rejected) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Edit rejected",
			Details: rejected.Message,
			Rule:    string(rejected.Rule),
			Bound:   rejected.Bound,
		})
		return
	}

	var insufficient *engine.InsufficientInventoryError
	if errors.As(err, &insufficient) {
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:     "Insufficient inventory",
			Details:   insufficient.Error(),
			Shortfall: insufficient.Shortfall.String(),
		})
		return
	}

	switch {
	case engine.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
