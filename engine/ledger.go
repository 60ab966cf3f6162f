/*
ledger.go - Lot Ledger: derived view over acquisitions

PURPOSE:
  Read-only view answering "which lots are still available, and in what
  order". Availability is derived by subtracting matched quantities from
  acquisition quantities on every call.

CRITICAL INVARIANTS:
  1. available >= 0 for every acquisition, always
  2. Ordering is date ascending, then insertion sequence - same-day lots
     keep their stable secondary order and are never re-ordered by price
  3. No side effects: the ledger never writes

WHY DERIVED, NOT CACHED?
  A cached "consumed" counter goes stale the moment an upstream edit is
  accepted. Recomputing from realized-gain rows makes that class of bug
  impossible; if performance ever requires a cache it must be invalidated
  inside the same transaction as the write it depends on.
*/
package engine

import (
	"context"
	"sort"
)

// LotLedger exposes available acquisition lots. It is an explicit handle
// holding the storage collaborator, so independent ledgers (per test, per
// account) need no shared global state.
type LotLedger struct {
	store Store
}

func NewLotLedger(store Store) *LotLedger {
	return &LotLedger{store: store}
}

// AvailableLots returns the open lots for an instrument, oldest first,
// excluding fully consumed lots. Fails with ErrNotFound if the instrument
// has no acquisitions at all.
func (l *LotLedger) AvailableLots(ctx context.Context, instrumentID InstrumentID) ([]Lot, error) {
	trades, err := l.store.TradesByInstrument(ctx, instrumentID)
	if err != nil {
		return nil, err
	}

	consumed, err := l.consumedByAcquisition(ctx, instrumentID)
	if err != nil {
		return nil, err
	}

	var lots []Lot
	seen := false
	for _, t := range trades {
		if !t.IsAcquisition() {
			continue
		}
		seen = true
		available := t.Quantity.Sub(consumed[t.ID])
		if available.IsZero() || available.IsNegative() {
			continue
		}
		lots = append(lots, Lot{
			AcquisitionID: t.ID,
			Date:          t.Date,
			UnitPrice:     t.UnitPrice,
			Available:     available,
			Seq:           t.Seq,
		})
	}
	if !seen {
		return nil, &InvalidInstrumentError{InstrumentID: instrumentID}
	}

	sort.SliceStable(lots, func(i, j int) bool {
		if !lots[i].Date.Equal(lots[j].Date) {
			return lots[i].Date.Before(lots[j].Date)
		}
		return lots[i].Seq < lots[j].Seq
	})
	return lots, nil
}

// LotsBefore returns the open lots dated strictly before a date, excluding
// one trade from the result. Availability is derived from realized gains the
// same way AvailableLots derives it; nothing qualifying yields an empty
// slice, not an error.
func (l *LotLedger) LotsBefore(ctx context.Context, instrumentID InstrumentID, before TradeDate, exclude TradeID) ([]Lot, error) {
	trades, err := l.store.TradesByInstrument(ctx, instrumentID)
	if err != nil {
		return nil, err
	}

	consumed, err := l.consumedByAcquisition(ctx, instrumentID)
	if err != nil {
		return nil, err
	}

	var lots []Lot
	for _, t := range trades {
		if !t.IsAcquisition() || t.ID == exclude || !t.Date.Before(before) {
			continue
		}
		available := t.Quantity.Sub(consumed[t.ID])
		if available.IsZero() || available.IsNegative() {
			continue
		}
		lots = append(lots, Lot{
			AcquisitionID: t.ID,
			Date:          t.Date,
			UnitPrice:     t.UnitPrice,
			Available:     available,
			Seq:           t.Seq,
		})
	}

	sort.SliceStable(lots, func(i, j int) bool {
		if !lots[i].Date.Equal(lots[j].Date) {
			return lots[i].Date.Before(lots[j].Date)
		}
		return lots[i].Seq < lots[j].Seq
	})
	return lots, nil
}

// AvailableBefore sums the availability of LotsBefore. The edit validator
// uses this to decide whether an acquisition may flip to a disposal dated at
// that point: the check and the subsequent match read the same lot set.
func (l *LotLedger) AvailableBefore(ctx context.Context, instrumentID InstrumentID, before TradeDate, exclude TradeID) (Quantity, error) {
	lots, err := l.LotsBefore(ctx, instrumentID, before, exclude)
	if err != nil {
		return Quantity{}, err
	}

	total := NewQuantityFromInt(0)
	for _, lot := range lots {
		total = total.Add(lot.Available)
	}
	return total, nil
}

// MatchedQuantity returns the total quantity already drawn from an
// acquisition across all realized gains.
func (l *LotLedger) MatchedQuantity(ctx context.Context, acquisitionID TradeID) (Quantity, error) {
	gains, err := l.store.GainsByAcquisition(ctx, acquisitionID)
	if err != nil {
		return Quantity{}, err
	}
	total := NewQuantityFromInt(0)
	for _, g := range gains {
		total = total.Add(g.Quantity)
	}
	return total, nil
}

func (l *LotLedger) consumedByAcquisition(ctx context.Context, instrumentID InstrumentID) (map[TradeID]Quantity, error) {
	gains, err := l.store.GainsByInstrument(ctx, instrumentID)
	if err != nil {
		return nil, err
	}
	consumed := make(map[TradeID]Quantity, len(gains))
	for _, g := range gains {
		consumed[g.AcquisitionID] = consumed[g.AcquisitionID].Add(g.Quantity)
	}
	return consumed, nil
}

// InvalidInstrumentError reports an instrument with no acquisitions.
type InvalidInstrumentError struct {
	InstrumentID InstrumentID
}

func (e *InvalidInstrumentError) Error() string {
	return "no acquisitions recorded for instrument " + string(e.InstrumentID)
}

func (e *InvalidInstrumentError) Unwrap() error { return ErrNotFound }
