/*
validator.go - Edit validation state machine

PURPOSE:
  Guards already-recorded matches against retroactive edits. A proposed edit
  moves PROPOSED -> ACCEPTED or PROPOSED -> REJECTED, terminal either way.
  Rules run in a fixed order and the first failure wins; every rejection
  carries the violated rule and the numeric bound, never a bare boolean.

RULE ORDER:
  1. Quantity reduction on an acquisition below its matched sum
  2. Acquisition date moved past a consuming disposal's date
  3. Disposal date moved before a consumed acquisition's date
  4. Acquisition -> disposal flip (matched lots, then prior inventory)
  5. Disposal -> acquisition flip while matches exist
  6. Instrument change while matches exist

COMMIT:
  On ACCEPTED, the field update, the re-derivation of every dependent
  realized gain, and the audit entries are one atomic transaction. A flip to
  sell additionally runs the full disposal pass inside that transaction, so
  the flipped trade carries realized gains like any other disposal.
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EditRequest is a proposed modification to an existing trade. Nil fields are
// left unchanged.
type EditRequest struct {
	TradeID         TradeID
	NewInstrumentID *InstrumentID
	NewSide         *TradeSide
	NewDate         *TradeDate
	NewQuantity     *Quantity
	NewUnitPrice    *Money
}

// EditState is the terminal outcome of validation.
type EditState string

const (
	EditProposed EditState = "PROPOSED"
	EditAccepted EditState = "ACCEPTED"
	EditRejected EditState = "REJECTED"
)

// EditDecision is the result of validating one edit request.
type EditDecision struct {
	State     EditState
	Before    Trade
	After     Trade
	Rejection *EditRejectedError
}

// EditValidator validates and commits edits to recorded trades.
type EditValidator struct {
	store  TxStore
	ledger *LotLedger
	audit  *AuditLogger

	now   func() time.Time
	newID func() string
}

func NewEditValidator(store TxStore) *EditValidator {
	return &EditValidator{
		store:  store,
		ledger: NewLotLedger(store),
		audit:  NewAuditLogger(store),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// Propose evaluates an edit against the recorded matches without writing
// anything. The returned decision is terminal: ACCEPTED or REJECTED.
func (v *EditValidator) Propose(ctx context.Context, req EditRequest) (*EditDecision, error) {
	before, err := v.store.GetTrade(ctx, req.TradeID)
	if err != nil {
		return nil, err
	}

	after, err := applyEdit(*before, req)
	if err != nil {
		return nil, err
	}

	decision := &EditDecision{State: EditProposed, Before: *before, After: after}

	rejection, err := v.evaluate(ctx, *before, after)
	if err != nil {
		return nil, err
	}
	if rejection != nil {
		decision.State = EditRejected
		decision.Rejection = rejection
		return decision, nil
	}

	decision.State = EditAccepted
	return decision, nil
}

// Commit persists an accepted decision: the trade update, the re-derivation
// of every dependent realized gain, and the audit entries, all-or-nothing.
// An acquisition flipped to a disposal is matched FIFO against the lots
// dated before it in the same transaction; gains referencing a disposal must
// sum to its quantity, and a disposal without gain rows would also be
// invisible to the derived lot availability.
func (v *EditValidator) Commit(ctx context.Context, decision *EditDecision) error {
	if decision.State != EditAccepted {
		if decision.Rejection != nil {
			return decision.Rejection
		}
		return &InvalidArgumentError{Field: "decision", Reason: "is not accepted"}
	}

	at := v.now()
	return v.store.WithTx(ctx, func(s Store) error {
		if err := s.UpdateTrade(ctx, decision.After); err != nil {
			return err
		}
		if err := v.recomputeGains(ctx, s, decision.Before, decision.After); err != nil {
			return err
		}
		if decision.Before.IsAcquisition() && !decision.After.IsAcquisition() {
			if err := v.matchFlippedDisposal(ctx, s, decision.After, at); err != nil {
				return err
			}
		}
		return NewAuditLogger(s).LogEdit(ctx, decision.Before, decision.After, at)
	})
}

// Apply is Propose followed by Commit. A rejected proposal is returned with
// its decision so the caller can surface the rule and bound.
func (v *EditValidator) Apply(ctx context.Context, req EditRequest) (*EditDecision, error) {
	decision, err := v.Propose(ctx, req)
	if err != nil {
		return nil, err
	}
	if decision.State == EditRejected {
		return decision, decision.Rejection
	}
	if err := v.Commit(ctx, decision); err != nil {
		return nil, err
	}
	return decision, nil
}

// =============================================================================
// RULE EVALUATION
// =============================================================================

func (v *EditValidator) evaluate(ctx context.Context, before, after Trade) (*EditRejectedError, error) {
	// Rule 1: quantity reduction on an acquisition below its matched sum.
	if before.IsAcquisition() && after.IsAcquisition() && !after.Quantity.Equal(before.Quantity) {
		matched, err := v.ledger.MatchedQuantity(ctx, before.ID)
		if err != nil {
			return nil, err
		}
		if after.Quantity.LessThan(matched) {
			return &EditRejectedError{
				TradeID: before.ID,
				Rule:    RuleQuantityBelowMatched,
				Bound:   matched.String(),
				Message: fmt.Sprintf("quantity %v is below matched quantity %v; minimum permitted is %v",
					after.Quantity, matched, matched),
			}, nil
		}
	}

	dateChanged := !after.Date.Equal(before.Date)

	// Rule 2: acquisition date moved past a consuming disposal's date.
	if before.IsAcquisition() && dateChanged {
		gains, err := v.store.GainsByAcquisition(ctx, before.ID)
		if err != nil {
			return nil, err
		}
		for _, g := range gains {
			disposal, err := v.store.GetTrade(ctx, g.DisposalID)
			if err != nil {
				return nil, err
			}
			if disposal.Date.Before(after.Date) {
				return &EditRejectedError{
					TradeID: before.ID,
					Rule:    RuleAcquisitionDateAfterDisposal,
					Bound:   disposal.Date.String(),
					Message: fmt.Sprintf("date %v is after consuming disposal %s dated %v",
						after.Date, disposal.ID, disposal.Date),
				}, nil
			}
		}
	}

	// Rule 3: disposal date moved before a consumed acquisition's date.
	if !before.IsAcquisition() && dateChanged {
		gains, err := v.store.GainsByDisposal(ctx, before.ID)
		if err != nil {
			return nil, err
		}
		for _, g := range gains {
			acquisition, err := v.store.GetTrade(ctx, g.AcquisitionID)
			if err != nil {
				return nil, err
			}
			if acquisition.Date.After(after.Date) {
				return &EditRejectedError{
					TradeID: before.ID,
					Rule:    RuleDisposalDateBeforeAcquisition,
					Bound:   acquisition.Date.String(),
					Message: fmt.Sprintf("date %v is before consumed acquisition %s dated %v",
						after.Date, acquisition.ID, acquisition.Date),
				}, nil
			}
		}
	}

	// Rule 4: acquisition -> disposal flip.
	if before.IsAcquisition() && !after.IsAcquisition() {
		gains, err := v.store.GainsByAcquisition(ctx, before.ID)
		if err != nil {
			return nil, err
		}
		if len(gains) > 0 {
			return &EditRejectedError{
				TradeID: before.ID,
				Rule:    RuleFlipMatchedAcquisition,
				Bound:   fmt.Sprintf("%d", len(gains)),
				Message: fmt.Sprintf("acquisition feeds %d realized gains and cannot become a disposal", len(gains)),
			}, nil
		}
		available, err := v.ledger.AvailableBefore(ctx, after.InstrumentID, after.Date, before.ID)
		if err != nil {
			return nil, err
		}
		if available.LessThan(after.Quantity) {
			return &EditRejectedError{
				TradeID: before.ID,
				Rule:    RuleFlipInsufficientInventory,
				Bound:   available.String(),
				Message: fmt.Sprintf("inventory before %v is %v, need %v",
					after.Date, available, after.Quantity),
			}, nil
		}
	}

	// Rule 5: disposal -> acquisition flip while matched.
	if !before.IsAcquisition() && after.IsAcquisition() {
		gains, err := v.store.GainsByDisposal(ctx, before.ID)
		if err != nil {
			return nil, err
		}
		if len(gains) > 0 {
			return &EditRejectedError{
				TradeID: before.ID,
				Rule:    RuleFlipMatchedDisposal,
				Bound:   fmt.Sprintf("%d", len(gains)),
				Message: fmt.Sprintf("disposal participates in %d realized gains and can never silently become an acquisition", len(gains)),
			}, nil
		}
	}

	// Rule 6: instrument change while matched. Stated for disposals, applied
	// to both sides: a matched acquisition stranded on a different instrument
	// breaks inventory conservation the same way.
	if after.InstrumentID != before.InstrumentID {
		var gains []RealizedGain
		var err error
		if before.IsAcquisition() {
			gains, err = v.store.GainsByAcquisition(ctx, before.ID)
		} else {
			gains, err = v.store.GainsByDisposal(ctx, before.ID)
		}
		if err != nil {
			return nil, err
		}
		if len(gains) > 0 {
			return &EditRejectedError{
				TradeID: before.ID,
				Rule:    RuleInstrumentChangeMatched,
				Bound:   fmt.Sprintf("%d", len(gains)),
				Message: fmt.Sprintf("instrument change invalidates %d recorded matches", len(gains)),
			}, nil
		}
	}

	return nil, nil
}

// =============================================================================
// RE-DERIVATION
// =============================================================================

// recomputeGains re-derives every realized gain whose holding period, bucket,
// cost basis, or proceeds depends on a changed field.
func (v *EditValidator) recomputeGains(ctx context.Context, s Store, before, after Trade) error {
	dateChanged := !after.Date.Equal(before.Date)
	priceChanged := !after.UnitPrice.Equal(before.UnitPrice)
	if !dateChanged && !priceChanged {
		return nil
	}

	if after.IsAcquisition() {
		gains, err := s.GainsByAcquisition(ctx, after.ID)
		if err != nil {
			return err
		}
		for _, g := range gains {
			disposal, err := s.GetTrade(ctx, g.DisposalID)
			if err != nil {
				return err
			}
			g.UnitCostBasis = after.UnitPrice
			g.HoldingPeriodDays = DaysBetween(after.Date, disposal.Date)
			g.Bucket = Classify(g.HoldingPeriodDays)
			g.GainAmount = g.Proceeds().Sub(g.Cost())
			if err := s.UpdateRealizedGain(ctx, g); err != nil {
				return err
			}
		}
		return nil
	}

	gains, err := s.GainsByDisposal(ctx, after.ID)
	if err != nil {
		return err
	}
	for _, g := range gains {
		acquisition, err := s.GetTrade(ctx, g.AcquisitionID)
		if err != nil {
			return err
		}
		g.UnitProceeds = after.UnitPrice
		g.HoldingPeriodDays = DaysBetween(acquisition.Date, after.Date)
		g.Bucket = Classify(g.HoldingPeriodDays)
		g.GainAmount = g.Proceeds().Sub(g.Cost())
		if err := s.UpdateRealizedGain(ctx, g); err != nil {
			return err
		}
	}
	return nil
}

// matchFlippedDisposal runs the disposal pass for an acquisition that has
// just become a disposal: consume the open lots dated before it, oldest
// first, and record the realized gains. Rule 4 pre-checked availability over
// the same lot set, so a shortfall here means the store changed underneath
// the decision; Match rejects it and the transaction rolls back.
func (v *EditValidator) matchFlippedDisposal(ctx context.Context, s Store, disposal Trade, at time.Time) error {
	lots, err := NewLotLedger(s).LotsBefore(ctx, disposal.InstrumentID, disposal.Date, disposal.ID)
	if err != nil {
		return err
	}

	match, err := Match(lots, disposal.Quantity, disposal.Date, disposal.UnitPrice)
	if err != nil {
		return err
	}

	gains := make([]RealizedGain, 0, len(match.MatchedLots))
	for _, ml := range match.MatchedLots {
		gains = append(gains, RealizedGain{
			ID:                v.newID(),
			AcquisitionID:     ml.AcquisitionID,
			DisposalID:        disposal.ID,
			InstrumentID:      disposal.InstrumentID,
			Quantity:          ml.Quantity,
			UnitCostBasis:     ml.UnitCostBasis,
			UnitProceeds:      ml.UnitProceeds,
			HoldingPeriodDays: ml.HoldingPeriodDays,
			Bucket:            Classify(ml.HoldingPeriodDays),
			GainAmount:        ml.Gain,
			CreatedAt:         at,
		})
	}
	return s.InsertRealizedGains(ctx, gains)
}

// =============================================================================
// REQUEST APPLICATION
// =============================================================================

func applyEdit(before Trade, req EditRequest) (Trade, error) {
	after := before
	if req.NewInstrumentID != nil {
		if *req.NewInstrumentID == "" {
			return Trade{}, &InvalidArgumentError{Field: "instrumentId", Reason: "must not be empty"}
		}
		after.InstrumentID = *req.NewInstrumentID
	}
	if req.NewSide != nil {
		if *req.NewSide != SideBuy && *req.NewSide != SideSell {
			return Trade{}, &InvalidArgumentError{Field: "side", Reason: "must be buy or sell"}
		}
		after.Side = *req.NewSide
	}
	if req.NewDate != nil {
		if req.NewDate.IsZero() {
			return Trade{}, &InvalidArgumentError{Field: "date", Reason: "must be set"}
		}
		after.Date = *req.NewDate
	}
	if req.NewQuantity != nil {
		if !req.NewQuantity.IsPositive() {
			return Trade{}, &InvalidArgumentError{Field: "quantity", Reason: "must be positive"}
		}
		after.Quantity = *req.NewQuantity
	}
	if req.NewUnitPrice != nil {
		if !req.NewUnitPrice.IsPositive() {
			return Trade{}, &InvalidArgumentError{Field: "unitPrice", Reason: "must be positive"}
		}
		after.UnitPrice = *req.NewUnitPrice
	}
	return after, nil
}
