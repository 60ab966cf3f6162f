package engine_test

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/meridian/capgains-engine/engine"
	"github.com/meridian/capgains-engine/engine/store"
)

// =============================================================================
// DIFFING
// =============================================================================

func TestDiffTrades_OneDiffPerChangedField(t *testing.T) {
	before := engine.Trade{
		ID:           "t1",
		InstrumentID: "ACME",
		Side:         engine.SideBuy,
		Date:         date(2024, time.January, 1),
		Quantity:     qty(10),
		UnitPrice:    money(100),
	}
	after := before
	after.Quantity = qty(8)
	after.UnitPrice = money(95)

	diffs := engine.DiffTrades(before, after)

	want := []engine.FieldDiff{
		{FieldName: engine.FieldQuantity, OldValue: "10", NewValue: "8"},
		{FieldName: engine.FieldUnitPrice, OldValue: "100", NewValue: "95"},
	}
	if !reflect.DeepEqual(diffs, want) {
		t.Errorf("diffs = %+v, want %+v", diffs, want)
	}
}

func TestDiffTrades_NoChange_NoDiffs(t *testing.T) {
	trade := engine.Trade{
		ID:           "t1",
		InstrumentID: "ACME",
		Side:         engine.SideBuy,
		Date:         date(2024, time.January, 1),
		Quantity:     qty(10),
		UnitPrice:    money(100),
	}

	if diffs := engine.DiffTrades(trade, trade); len(diffs) != 0 {
		t.Errorf("expected no diffs for identical trades, got %+v", diffs)
	}
}

func TestDiffTrades_EpsilonAbsorbsRepresentationNoise(t *testing.T) {
	// GIVEN: a quantity differing by far less than the comparison epsilon
	// THEN: no diff is reported

	before := engine.Trade{Quantity: qty(10), UnitPrice: money(100)}
	after := before
	after.Quantity = engine.NewQuantity(10.0000000000001)

	if diffs := engine.DiffTrades(before, after); len(diffs) != 0 {
		t.Errorf("expected sub-epsilon difference to be ignored, got %+v", diffs)
	}
}

// =============================================================================
// LOGGING & HISTORY
// =============================================================================

func TestLogEdit_NoOpEditWritesNothing(t *testing.T) {
	mem := store.NewTxMemory()
	logger := engine.NewAuditLogger(mem)
	ctx := context.Background()

	trade := engine.Trade{ID: "t1", InstrumentID: "ACME", Side: engine.SideBuy,
		Date: date(2024, time.January, 1), Quantity: qty(10), UnitPrice: money(100)}

	if err := logger.LogEdit(ctx, trade, trade, time.Now()); err != nil {
		t.Fatalf("LogEdit failed: %v", err)
	}

	history, err := logger.GetHistory(ctx, trade.ID)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("no-op edit wrote %d entries, want 0", len(history))
	}
}

func TestGetHistory_OrderedAndStable(t *testing.T) {
	// GIVEN: two edits logged at successive timestamps
	// THEN: history returns them oldest first, and a repeated read returns
	//       the identical sequence

	mem := store.NewTxMemory()
	logger := engine.NewAuditLogger(mem)
	ctx := context.Background()

	v1 := engine.Trade{ID: "t1", InstrumentID: "ACME", Side: engine.SideBuy,
		Date: date(2024, time.January, 1), Quantity: qty(10), UnitPrice: money(100)}
	v2 := v1
	v2.Quantity = qty(8)
	v3 := v2
	v3.UnitPrice = money(95)

	t0 := time.Date(2024, time.June, 1, 10, 0, 0, 0, time.UTC)
	if err := logger.LogEdit(ctx, v1, v2, t0); err != nil {
		t.Fatalf("first LogEdit failed: %v", err)
	}
	if err := logger.LogEdit(ctx, v2, v3, t0.Add(time.Minute)); err != nil {
		t.Fatalf("second LogEdit failed: %v", err)
	}

	history, err := logger.GetHistory(ctx, v1.ID)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(history))
	}
	if history[0].FieldName != engine.FieldQuantity || history[1].FieldName != engine.FieldUnitPrice {
		t.Errorf("entries out of order: %s then %s", history[0].FieldName, history[1].FieldName)
	}
	if !history[0].Timestamp.Before(history[1].Timestamp) {
		t.Error("history not ordered by timestamp ascending")
	}

	again, err := logger.GetHistory(ctx, v1.ID)
	if err != nil {
		t.Fatalf("repeated GetHistory failed: %v", err)
	}
	if !reflect.DeepEqual(history, again) {
		t.Error("repeated read returned a different sequence")
	}
}
