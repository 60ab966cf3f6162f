/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the internal domain
  model from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Handlers parse and the engine validates. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/meridian/capgains-engine/engine"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// TradeDTO represents an acquisition or disposal in API responses.
type TradeDTO struct {
	ID           string `json:"id"`
	InstrumentID string `json:"instrument_id"`
	Side         string `json:"side"`
	Date         string `json:"date"`
	Quantity     string `json:"quantity"`
	UnitPrice    string `json:"unit_price"`
}

// RecordTradeRequest is the body for recording an acquisition or disposal.
type RecordTradeRequest struct {
	Date      string `json:"date"`
	Quantity  string `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

// LotDTO is one available lot.
type LotDTO struct {
	AcquisitionID string `json:"acquisition_id"`
	Date          string `json:"date"`
	UnitPrice     string `json:"unit_price"`
	Available     string `json:"available"`
}

// RealizedGainDTO is one acquisition-disposal pairing.
type RealizedGainDTO struct {
	ID                string `json:"id"`
	AcquisitionID     string `json:"acquisition_id"`
	DisposalID        string `json:"disposal_id"`
	Quantity          string `json:"quantity"`
	UnitCostBasis     string `json:"unit_cost_basis"`
	UnitProceeds      string `json:"unit_proceeds"`
	HoldingPeriodDays int    `json:"holding_period_days"`
	Bucket            string `json:"bucket"`
	GainAmount        string `json:"gain_amount"`
}

// DisposalResultDTO reports a committed disposal.
type DisposalResultDTO struct {
	Disposal      TradeDTO          `json:"disposal"`
	RealizedGains []RealizedGainDTO `json:"realized_gains"`
	TotalCost     string            `json:"total_cost"`
	TotalProceeds string            `json:"total_proceeds"`
	TotalGain     string            `json:"total_gain"`
}

// EditTradeRequest proposes changes to a recorded trade. Omitted fields
// are left unchanged.
type EditTradeRequest struct {
	InstrumentID *string `json:"instrument_id,omitempty"`
	Side         *string `json:"side,omitempty"`
	Date         *string `json:"date,omitempty"`
	Quantity     *string `json:"quantity,omitempty"`
	UnitPrice    *string `json:"unit_price,omitempty"`
}

// EditResultDTO reports an accepted edit.
type EditResultDTO struct {
	State  string   `json:"state"`
	Before TradeDTO `json:"before"`
	After  TradeDTO `json:"after"`
}

// AuditEntryDTO is one field-level change from one accepted edit.
type AuditEntryDTO struct {
	Timestamp string `json:"timestamp"`
	FieldName string `json:"field_name"`
	OldValue  string `json:"old_value"`
	NewValue  string `json:"new_value"`
}

// TaxReportDTO is the fiscal-year estimate.
type TaxReportDTO struct {
	Year          int               `json:"year"`
	PeriodStart   string            `json:"period_start"`
	PeriodEnd     string            `json:"period_end"`
	ShortGains    string            `json:"short_gains"`
	LongGains     string            `json:"long_gains"`
	ShortTax      string            `json:"short_tax"`
	LongTax       string            `json:"long_tax"`
	ExemptionUsed string            `json:"exemption_used"`
	RealizedGains []RealizedGainDTO `json:"realized_gains"`
}

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario.
type LoadScenarioRequest struct {
	ID string `json:"id"`
}

// ErrorResponse is the error body. Rule and Bound are set for edit
// rejections, Shortfall for insufficient inventory.
type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Rule      string `json:"rule,omitempty"`
	Bound     string `json:"bound,omitempty"`
	Shortfall string `json:"shortfall,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func tradeDTO(t engine.Trade) TradeDTO {
	return TradeDTO{
		ID:           string(t.ID),
		InstrumentID: string(t.InstrumentID),
		Side:         string(t.Side),
		Date:         t.Date.String(),
		Quantity:     t.Quantity.String(),
		UnitPrice:    t.UnitPrice.String(),
	}
}

func gainDTO(g engine.RealizedGain) RealizedGainDTO {
	return RealizedGainDTO{
		ID:                g.ID,
		AcquisitionID:     string(g.AcquisitionID),
		DisposalID:        string(g.DisposalID),
		Quantity:          g.Quantity.String(),
		UnitCostBasis:     g.UnitCostBasis.String(),
		UnitProceeds:      g.UnitProceeds.String(),
		HoldingPeriodDays: g.HoldingPeriodDays,
		Bucket:            string(g.Bucket),
		GainAmount:        g.GainAmount.String(),
	}
}

func gainDTOs(gains []engine.RealizedGain) []RealizedGainDTO {
	dtos := make([]RealizedGainDTO, 0, len(gains))
	for _, g := range gains {
		dtos = append(dtos, gainDTO(g))
	}
	return dtos
}
