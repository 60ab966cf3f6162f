/*
orchestrator.go - Transactional recording of trades

PURPOSE:
  Records acquisitions and disposals against the backing store. A disposal
  is the full engine pass: fetch lots, match FIFO, classify each matched
  slice, persist the disposal row and its realized-gain rows as one atomic
  unit. If any step fails, the caller observes no change at all.

  Lot availability is never written: it updates implicitly because it is
  derived from realized-gain rows.

CONCURRENCY:
  Single-writer-per-ledger semantics. Callers serialize concurrent disposals
  for the same instrument (e.g. a per-instrument lock) before invoking this.
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Orchestrator is the explicit handle for ledger-wide mutations. It holds
// the storage collaborator, so independent ledgers (per test, per account)
// share no global state.
type Orchestrator struct {
	store TxStore

	now   func() time.Time
	newID func() string
}

func NewOrchestrator(store TxStore) *Orchestrator {
	return &Orchestrator{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// RecordAcquisition inserts a buy. No matching occurs; the new lot simply
// becomes available to future disposals.
func (o *Orchestrator) RecordAcquisition(ctx context.Context, instrumentID InstrumentID, quantity Quantity, unitPrice Money, date TradeDate) (*Trade, error) {
	if err := validateTradeInput(instrumentID, quantity, unitPrice, date); err != nil {
		return nil, err
	}

	trade := &Trade{
		ID:           TradeID(o.newID()),
		InstrumentID: instrumentID,
		Side:         SideBuy,
		Date:         date,
		Quantity:     quantity,
		UnitPrice:    unitPrice,
		CreatedAt:    o.now(),
	}
	if err := o.store.InsertTrade(ctx, trade); err != nil {
		return nil, err
	}
	return trade, nil
}

// RecordDisposal runs the complete disposal pass atomically: match the
// quantity FIFO against available lots, classify every matched slice, and
// persist the disposal with its realized gains. Fails with
// ErrInsufficientInventory (carrying the shortfall), ErrInvalidArgument, or
// a persistence error; on failure no partial state is visible.
func (o *Orchestrator) RecordDisposal(ctx context.Context, instrumentID InstrumentID, quantity Quantity, unitPrice Money, date TradeDate) (*DisposalResult, error) {
	if err := validateTradeInput(instrumentID, quantity, unitPrice, date); err != nil {
		return nil, err
	}

	var result *DisposalResult
	err := o.store.WithTx(ctx, func(s Store) error {
		lots, err := NewLotLedger(s).AvailableLots(ctx, instrumentID)
		if err != nil {
			return err
		}

		match, err := Match(lots, quantity, date, unitPrice)
		if err != nil {
			return err
		}

		disposal := &Trade{
			ID:           TradeID(o.newID()),
			InstrumentID: instrumentID,
			Side:         SideSell,
			Date:         date,
			Quantity:     quantity,
			UnitPrice:    unitPrice,
			CreatedAt:    o.now(),
		}
		if err := s.InsertTrade(ctx, disposal); err != nil {
			return err
		}

		gains := make([]RealizedGain, 0, len(match.MatchedLots))
		for _, ml := range match.MatchedLots {
			gains = append(gains, RealizedGain{
				ID:                o.newID(),
				AcquisitionID:     ml.AcquisitionID,
				DisposalID:        disposal.ID,
				InstrumentID:      instrumentID,
				Quantity:          ml.Quantity,
				UnitCostBasis:     ml.UnitCostBasis,
				UnitProceeds:      ml.UnitProceeds,
				HoldingPeriodDays: ml.HoldingPeriodDays,
				Bucket:            Classify(ml.HoldingPeriodDays),
				GainAmount:        ml.Gain,
				CreatedAt:         disposal.CreatedAt,
			})
		}
		if err := s.InsertRealizedGains(ctx, gains); err != nil {
			return err
		}

		result = &DisposalResult{
			Disposal:      *disposal,
			RealizedGains: gains,
			TotalCost:     match.TotalCost,
			TotalProceeds: match.TotalProceeds,
			TotalGain:     match.TotalGain,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteTrade removes a trade that participates in no realized gain, along
// with its audit history. A matched trade is never deleted.
func (o *Orchestrator) DeleteTrade(ctx context.Context, id TradeID) error {
	return o.store.WithTx(ctx, func(s Store) error {
		trade, err := s.GetTrade(ctx, id)
		if err != nil {
			return err
		}

		var gains []RealizedGain
		if trade.IsAcquisition() {
			gains, err = s.GainsByAcquisition(ctx, id)
		} else {
			gains, err = s.GainsByDisposal(ctx, id)
		}
		if err != nil {
			return err
		}
		if len(gains) > 0 {
			return &EditRejectedError{
				TradeID: id,
				Rule:    RuleDeleteMatched,
				Bound:   fmt.Sprintf("%d", len(gains)),
				Message: fmt.Sprintf("trade participates in %d realized gains and cannot be deleted", len(gains)),
			}
		}

		if err := s.DeleteAuditHistory(ctx, id); err != nil {
			return err
		}
		return s.DeleteTrade(ctx, id)
	})
}

// TaxReport aggregates realized gains whose disposal date falls in
// [from, to] and estimates the bucketed liability. The long-term exemption
// applies once to the period aggregate, never per disposal.
func (o *Orchestrator) TaxReport(ctx context.Context, instrumentID InstrumentID, from, to TradeDate, rates TaxRates) (*TaxEstimate, []RealizedGain, error) {
	if to.Before(from) {
		return nil, nil, &InvalidArgumentError{Field: "period", Reason: "end before start"}
	}
	gains, err := o.store.GainsInRange(ctx, instrumentID, from, to)
	if err != nil {
		return nil, nil, err
	}
	est := EstimateTax(gains, ZeroMoney(), rates)
	return &est, gains, nil
}

func validateTradeInput(instrumentID InstrumentID, quantity Quantity, unitPrice Money, date TradeDate) error {
	if instrumentID == "" {
		return &InvalidArgumentError{Field: "instrumentId", Reason: "must not be empty"}
	}
	if !quantity.IsPositive() {
		return &InvalidArgumentError{Field: "quantity", Reason: "must be positive"}
	}
	if !unitPrice.IsPositive() {
		return &InvalidArgumentError{Field: "unitPrice", Reason: "must be positive"}
	}
	if date.IsZero() {
		return &InvalidArgumentError{Field: "date", Reason: "must be set"}
	}
	return nil
}
