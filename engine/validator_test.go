package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meridian/capgains-engine/engine"
	"github.com/meridian/capgains-engine/engine/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type editFixture struct {
	orch  *engine.Orchestrator
	valid *engine.EditValidator
	store *store.TxMemory
}

func newEditFixture() *editFixture {
	mem := store.NewTxMemory()
	return &editFixture{
		orch:  engine.NewOrchestrator(mem),
		valid: engine.NewEditValidator(mem),
		store: mem,
	}
}

func expectRejection(t *testing.T, err error, rule engine.EditRule) *engine.EditRejectedError {
	t.Helper()
	var rejected *engine.EditRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected EditRejectedError, got %v", err)
	}
	if rejected.Rule != rule {
		t.Fatalf("expected rule %s, got %s", rule, rejected.Rule)
	}
	if !errors.Is(err, engine.ErrEditRejected) {
		t.Error("rejection should unwrap to ErrEditRejected")
	}
	return rejected
}

// =============================================================================
// QUANTITY RULE
// =============================================================================

func TestEdit_QuantityBelowMatched_Rejected(t *testing.T) {
	// GIVEN: an acquisition of 10 with 6 already matched
	// WHEN: editing the quantity to 5
	// THEN: rejected, with the matched sum 6 as the bound

	f := newEditFixture()
	ctx := context.Background()
	acq := mustBuy(t, f.orch, "ACME", date(2024, time.January, 1), 10, 100)
	mustSell(t, f.orch, "ACME", date(2024, time.February, 1), 6, 150)

	newQty := qty(5)
	_, err := f.valid.Apply(ctx, engine.EditRequest{TradeID: acq.ID, NewQuantity: &newQty})

	rejected := expectRejection(t, err, engine.RuleQuantityBelowMatched)
	if rejected.Bound != "6" {
		t.Errorf("expected bound 6, got %q", rejected.Bound)
	}
}

func TestEdit_QuantityAtOrAboveMatched_Accepted(t *testing.T) {
	// GIVEN: an acquisition of 10 with 6 already matched
	// WHEN: editing the quantity to exactly 6, then to 7
	// THEN: both succeed

	f := newEditFixture()
	ctx := context.Background()
	acq := mustBuy(t, f.orch, "ACME", date(2024, time.January, 1), 10, 100)
	mustSell(t, f.orch, "ACME", date(2024, time.February, 1), 6, 150)

	for _, n := range []float64{6, 7} {
		newQty := qty(n)
		decision, err := f.valid.Apply(ctx, engine.EditRequest{TradeID: acq.ID, NewQuantity: &newQty})
		if err != nil {
			t.Fatalf("edit to quantity %v should succeed, got %v", n, err)
		}
		if decision.State != engine.EditAccepted {
			t.Errorf("edit to quantity %v: state %s, want ACCEPTED", n, decision.State)
		}
	}

	trade, err := f.store.GetTrade(ctx, acq.ID)
	if err != nil {
		t.Fatalf("GetTrade failed: %v", err)
	}
	if !trade.Quantity.Equal(qty(7)) {
		t.Errorf("persisted quantity %v, want 7", trade.Quantity)
	}
}

// =============================================================================
// DATE RULES
// =============================================================================

func TestEdit_AcquisitionDatePastDisposal_Rejected(t *testing.T) {
	// GIVEN: an acquisition dated Jan 1 matched against a disposal dated Feb 1
	// WHEN: moving the acquisition date after Feb 1
	// THEN: rejected, with the disposal date as the bound

	f := newEditFixture()
	acq := mustBuy(t, f.orch, "ACME", date(2024, time.January, 1), 10, 100)
	mustSell(t, f.orch, "ACME", date(2024, time.February, 1), 6, 150)

	newDate := date(2024, time.March, 1)
	_, err := f.valid.Apply(context.Background(), engine.EditRequest{TradeID: acq.ID, NewDate: &newDate})

	rejected := expectRejection(t, err, engine.RuleAcquisitionDateAfterDisposal)
	if rejected.Bound != "2024-02-01" {
		t.Errorf("expected bound 2024-02-01, got %q", rejected.Bound)
	}
}

func TestEdit_DisposalDateBeforeAcquisition_Rejected(t *testing.T) {
	f := newEditFixture()
	mustBuy(t, f.orch, "ACME", date(2024, time.January, 15), 10, 100)
	result := mustSell(t, f.orch, "ACME", date(2024, time.February, 1), 6, 150)

	newDate := date(2024, time.January, 10)
	_, err := f.valid.Apply(context.Background(), engine.EditRequest{TradeID: result.Disposal.ID, NewDate: &newDate})

	expectRejection(t, err, engine.RuleDisposalDateBeforeAcquisition)
}

func TestEdit_DateMoveWithinBounds_RederivesGains(t *testing.T) {
	// GIVEN: a long-term match (Jan 2023 buy, Mar 2024 sell)
	// WHEN: the acquisition date moves to Jan 2024, still before the disposal
	// THEN: the edit is accepted and the gain reclassifies from LONG to SHORT

	f := newEditFixture()
	ctx := context.Background()
	acq := mustBuy(t, f.orch, "ACME", date(2023, time.January, 10), 10, 100)
	mustSell(t, f.orch, "ACME", date(2024, time.March, 1), 6, 150)

	gains, _ := f.store.GainsByAcquisition(ctx, acq.ID)
	if len(gains) != 1 || gains[0].Bucket != engine.BucketLong {
		t.Fatalf("precondition: expected one long-term gain, got %+v", gains)
	}

	newDate := date(2024, time.January, 10)
	if _, err := f.valid.Apply(ctx, engine.EditRequest{TradeID: acq.ID, NewDate: &newDate}); err != nil {
		t.Fatalf("date edit should succeed, got %v", err)
	}

	gains, _ = f.store.GainsByAcquisition(ctx, acq.ID)
	if len(gains) != 1 {
		t.Fatalf("expected 1 gain after edit, got %d", len(gains))
	}
	if gains[0].Bucket != engine.BucketShort {
		t.Errorf("expected reclassification to SHORT, got %s", gains[0].Bucket)
	}
	if got, want := gains[0].HoldingPeriodDays, 51; got != want {
		t.Errorf("holding period %d days, want %d", got, want)
	}
}

// =============================================================================
// SIDE FLIP RULES
// =============================================================================

func TestEdit_FlipMatchedAcquisition_Rejected(t *testing.T) {
	f := newEditFixture()
	acq := mustBuy(t, f.orch, "ACME", date(2024, time.January, 1), 10, 100)
	mustSell(t, f.orch, "ACME", date(2024, time.February, 1), 6, 150)

	sell := engine.SideSell
	_, err := f.valid.Apply(context.Background(), engine.EditRequest{TradeID: acq.ID, NewSide: &sell})

	expectRejection(t, err, engine.RuleFlipMatchedAcquisition)
}

func TestEdit_FlipBuyToSell_RequiresPriorInventory(t *testing.T) {
	// GIVEN: an unmatched acquisition and no other inventory before its date
	// WHEN: flipping it to a disposal
	// THEN: rejected - the flipped trade would oversell

	f := newEditFixture()
	acq := mustBuy(t, f.orch, "ACME", date(2024, time.January, 1), 10, 100)

	sell := engine.SideSell
	_, err := f.valid.Apply(context.Background(), engine.EditRequest{TradeID: acq.ID, NewSide: &sell})

	rejected := expectRejection(t, err, engine.RuleFlipInsufficientInventory)
	if rejected.Bound != "0" {
		t.Errorf("expected bound 0 (no prior inventory), got %q", rejected.Bound)
	}
}

func TestEdit_FlipBuyToSell_WithPriorInventory_Accepted(t *testing.T) {
	// GIVEN: 20 units acquired before an unmatched acquisition of 10
	// WHEN: flipping the later buy to a sell
	// THEN: accepted, and the flipped disposal is matched like any other:
	//       its realized gains sum to 10, drawn from the prior lot

	f := newEditFixture()
	ctx := context.Background()
	prior := mustBuy(t, f.orch, "ACME", date(2023, time.December, 1), 20, 90)
	acq := mustBuy(t, f.orch, "ACME", date(2024, time.January, 1), 10, 100)

	sell := engine.SideSell
	decision, err := f.valid.Apply(ctx, engine.EditRequest{TradeID: acq.ID, NewSide: &sell})
	if err != nil {
		t.Fatalf("flip should succeed with prior inventory, got %v", err)
	}
	if decision.State != engine.EditAccepted {
		t.Errorf("state %s, want ACCEPTED", decision.State)
	}

	trade, _ := f.store.GetTrade(ctx, acq.ID)
	if trade.Side != engine.SideSell {
		t.Errorf("persisted side %s, want sell", trade.Side)
	}

	gains, err := f.store.GainsByDisposal(ctx, acq.ID)
	if err != nil {
		t.Fatalf("GainsByDisposal failed: %v", err)
	}
	total := engine.NewQuantityFromInt(0)
	for _, g := range gains {
		if g.AcquisitionID != prior.ID {
			t.Errorf("gain drawn from %s, want %s", g.AcquisitionID, prior.ID)
		}
		total = total.Add(g.Quantity)
	}
	if !total.Equal(qty(10)) {
		t.Errorf("flipped disposal gains sum to %v, want 10", total)
	}
}

func TestEdit_FlipBuyToSell_ConsumesInventory(t *testing.T) {
	// GIVEN: lots of 10 (Jan) and 10 (Feb), the Feb lot flipped to a sell
	// WHEN: disposing another 10 afterwards
	// THEN: rejected - the flip already consumed the Jan lot, so the
	//       instrument cannot be over-disposed

	f := newEditFixture()
	ctx := context.Background()
	mustBuy(t, f.orch, "ACME", date(2024, time.January, 1), 10, 100)
	feb := mustBuy(t, f.orch, "ACME", date(2024, time.February, 1), 10, 120)

	sell := engine.SideSell
	if _, err := f.valid.Apply(ctx, engine.EditRequest{TradeID: feb.ID, NewSide: &sell}); err != nil {
		t.Fatalf("flip should succeed, got %v", err)
	}

	_, err := f.orch.RecordDisposal(ctx, "ACME", qty(10), money(150), date(2024, time.March, 1))
	if !errors.Is(err, engine.ErrInsufficientInventory) {
		t.Fatalf("expected ErrInsufficientInventory after flip consumed the inventory, got %v", err)
	}
}

func TestEdit_FlipMatchedDisposal_Rejected(t *testing.T) {
	f := newEditFixture()
	mustBuy(t, f.orch, "ACME", date(2024, time.January, 1), 10, 100)
	result := mustSell(t, f.orch, "ACME", date(2024, time.February, 1), 6, 150)

	buy := engine.SideBuy
	_, err := f.valid.Apply(context.Background(), engine.EditRequest{TradeID: result.Disposal.ID, NewSide: &buy})

	expectRejection(t, err, engine.RuleFlipMatchedDisposal)
}

// =============================================================================
// INSTRUMENT RULE
// =============================================================================

func TestEdit_InstrumentChangeWhileMatched_Rejected(t *testing.T) {
	f := newEditFixture()
	mustBuy(t, f.orch, "ACME", date(2024, time.January, 1), 10, 100)
	result := mustSell(t, f.orch, "ACME", date(2024, time.February, 1), 6, 150)

	other := engine.InstrumentID("GLOBEX")
	_, err := f.valid.Apply(context.Background(), engine.EditRequest{TradeID: result.Disposal.ID, NewInstrumentID: &other})

	expectRejection(t, err, engine.RuleInstrumentChangeMatched)
}

func TestEdit_InstrumentChangeUnmatched_Accepted(t *testing.T) {
	f := newEditFixture()
	ctx := context.Background()
	acq := mustBuy(t, f.orch, "ACME", date(2024, time.January, 1), 10, 100)

	other := engine.InstrumentID("GLOBEX")
	if _, err := f.valid.Apply(ctx, engine.EditRequest{TradeID: acq.ID, NewInstrumentID: &other}); err != nil {
		t.Fatalf("instrument change on unmatched trade should succeed, got %v", err)
	}

	trade, _ := f.store.GetTrade(ctx, acq.ID)
	if trade.InstrumentID != "GLOBEX" {
		t.Errorf("persisted instrument %s, want GLOBEX", trade.InstrumentID)
	}
}

// =============================================================================
// PRICE RE-DERIVATION & ATOMIC COMMIT
// =============================================================================

func TestEdit_PriceChange_RederivesGainAmount(t *testing.T) {
	// GIVEN: a match of 6 units bought at 100, sold at 150 (gain 300)
	// WHEN: the acquisition price is edited to 80
	// THEN: the gain re-derives to (150-80)*6 = 420

	f := newEditFixture()
	ctx := context.Background()
	acq := mustBuy(t, f.orch, "ACME", date(2024, time.January, 1), 10, 100)
	mustSell(t, f.orch, "ACME", date(2024, time.February, 1), 6, 150)

	newPrice := money(80)
	if _, err := f.valid.Apply(ctx, engine.EditRequest{TradeID: acq.ID, NewUnitPrice: &newPrice}); err != nil {
		t.Fatalf("price edit should succeed, got %v", err)
	}

	gains, _ := f.store.GainsByAcquisition(ctx, acq.ID)
	if len(gains) != 1 {
		t.Fatalf("expected 1 gain, got %d", len(gains))
	}
	if !gains[0].UnitCostBasis.Equal(money(80)) {
		t.Errorf("cost basis %v, want 80", gains[0].UnitCostBasis)
	}
	if !gains[0].GainAmount.Equal(money(420)) {
		t.Errorf("gain %v, want 420", gains[0].GainAmount)
	}
}

func TestEdit_AcceptedEdit_WritesAuditEntries(t *testing.T) {
	// GIVEN: an accepted edit changing quantity and price together
	// THEN: one audit entry per changed field, none for unchanged fields

	f := newEditFixture()
	ctx := context.Background()
	acq := mustBuy(t, f.orch, "ACME", date(2024, time.January, 1), 10, 100)

	newQty, newPrice := qty(8), money(95)
	if _, err := f.valid.Apply(ctx, engine.EditRequest{TradeID: acq.ID, NewQuantity: &newQty, NewUnitPrice: &newPrice}); err != nil {
		t.Fatalf("edit failed: %v", err)
	}

	history, err := f.store.AuditHistory(ctx, acq.ID)
	if err != nil {
		t.Fatalf("AuditHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(history))
	}
	fields := map[string]bool{}
	for _, e := range history {
		fields[e.FieldName] = true
	}
	if !fields[engine.FieldQuantity] || !fields[engine.FieldUnitPrice] {
		t.Errorf("expected quantity and unitPrice entries, got %v", fields)
	}
}

func TestEdit_RejectedEdit_LeavesNoTrace(t *testing.T) {
	// GIVEN: a rejected edit
	// THEN: the trade, its gains, and its history are all untouched

	f := newEditFixture()
	ctx := context.Background()
	acq := mustBuy(t, f.orch, "ACME", date(2024, time.January, 1), 10, 100)
	mustSell(t, f.orch, "ACME", date(2024, time.February, 1), 6, 150)

	newQty := qty(5)
	if _, err := f.valid.Apply(ctx, engine.EditRequest{TradeID: acq.ID, NewQuantity: &newQty}); err == nil {
		t.Fatal("expected rejection")
	}

	trade, _ := f.store.GetTrade(ctx, acq.ID)
	if !trade.Quantity.Equal(qty(10)) {
		t.Errorf("quantity changed to %v after rejection, want 10", trade.Quantity)
	}
	history, _ := f.store.AuditHistory(ctx, acq.ID)
	if len(history) != 0 {
		t.Errorf("expected no audit entries after rejection, got %d", len(history))
	}
}

func TestEdit_UnknownTrade_NotFound(t *testing.T) {
	f := newEditFixture()

	newQty := qty(5)
	_, err := f.valid.Apply(context.Background(), engine.EditRequest{TradeID: "missing", NewQuantity: &newQty})
	if !engine.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}
}
