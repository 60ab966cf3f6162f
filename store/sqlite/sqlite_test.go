package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/capgains-engine/engine"
	"github.com/meridian/capgains-engine/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testTrade(id, instrument string, side engine.TradeSide, d engine.TradeDate, quantity, price float64) *engine.Trade {
	return &engine.Trade{
		ID:           engine.TradeID(id),
		InstrumentID: engine.InstrumentID(instrument),
		Side:         side,
		Date:         d,
		Quantity:     engine.NewQuantity(quantity),
		UnitPrice:    engine.NewMoney(price),
		CreatedAt:    time.Now().UTC(),
	}
}

func testGain(id, acq, disp, instrument string, quantity float64, days int, bucket engine.Bucket) engine.RealizedGain {
	return engine.RealizedGain{
		ID:                id,
		AcquisitionID:     engine.TradeID(acq),
		DisposalID:        engine.TradeID(disp),
		InstrumentID:      engine.InstrumentID(instrument),
		Quantity:          engine.NewQuantity(quantity),
		UnitCostBasis:     engine.NewMoney(100),
		UnitProceeds:      engine.NewMoney(150),
		HoldingPeriodDays: days,
		Bucket:            bucket,
		GainAmount:        engine.NewMoney(50).MulQuantity(engine.NewQuantity(quantity)),
		CreatedAt:         time.Now().UTC(),
	}
}

// =============================================================================
// TRADES
// =============================================================================

func TestTradeRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	trade := testTrade("t1", "ACME", engine.SideBuy, engine.NewTradeDate(2024, time.January, 1), 10.5, 100.25)
	require.NoError(t, s.InsertTrade(ctx, trade))
	assert.Greater(t, trade.Seq, int64(0), "insert should assign a sequence")

	got, err := s.GetTrade(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, trade.ID, got.ID)
	assert.Equal(t, trade.InstrumentID, got.InstrumentID)
	assert.Equal(t, engine.SideBuy, got.Side)
	assert.True(t, got.Date.Equal(trade.Date))
	assert.True(t, got.Quantity.Equal(trade.Quantity), "quantity should survive as exact decimal text")
	assert.True(t, got.UnitPrice.Equal(trade.UnitPrice))
	assert.Equal(t, trade.Seq, got.Seq)
}

func TestGetTrade_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetTrade(context.Background(), "missing")
	assert.True(t, errors.Is(err, engine.ErrNotFound))
}

func TestTradesByInstrument_OrderedByDateThenInsertion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Inserted out of date order; two trades share a date.
	require.NoError(t, s.InsertTrade(ctx, testTrade("mar", "ACME", engine.SideBuy, engine.NewTradeDate(2024, time.March, 1), 5, 120)))
	require.NoError(t, s.InsertTrade(ctx, testTrade("jan-a", "ACME", engine.SideBuy, engine.NewTradeDate(2024, time.January, 1), 5, 200)))
	require.NoError(t, s.InsertTrade(ctx, testTrade("jan-b", "ACME", engine.SideBuy, engine.NewTradeDate(2024, time.January, 1), 5, 50)))
	require.NoError(t, s.InsertTrade(ctx, testTrade("other", "GLOBEX", engine.SideBuy, engine.NewTradeDate(2024, time.January, 1), 5, 50)))

	trades, err := s.TradesByInstrument(ctx, "ACME")
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, engine.TradeID("jan-a"), trades[0].ID)
	assert.Equal(t, engine.TradeID("jan-b"), trades[1].ID)
	assert.Equal(t, engine.TradeID("mar"), trades[2].ID)
}

func TestUpdateTrade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	trade := testTrade("t1", "ACME", engine.SideBuy, engine.NewTradeDate(2024, time.January, 1), 10, 100)
	require.NoError(t, s.InsertTrade(ctx, trade))

	trade.Quantity = engine.NewQuantity(8)
	trade.UnitPrice = engine.NewMoney(95)
	require.NoError(t, s.UpdateTrade(ctx, *trade))

	got, err := s.GetTrade(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, got.Quantity.Equal(engine.NewQuantity(8)))
	assert.True(t, got.UnitPrice.Equal(engine.NewMoney(95)))

	missing := *trade
	missing.ID = "missing"
	assert.True(t, errors.Is(s.UpdateTrade(ctx, missing), engine.ErrNotFound))
}

func TestDeleteTrade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertTrade(ctx, testTrade("t1", "ACME", engine.SideBuy, engine.NewTradeDate(2024, time.January, 1), 10, 100)))
	require.NoError(t, s.DeleteTrade(ctx, "t1"))

	_, err := s.GetTrade(ctx, "t1")
	assert.True(t, errors.Is(err, engine.ErrNotFound))
	assert.True(t, errors.Is(s.DeleteTrade(ctx, "t1"), engine.ErrNotFound))
}

func TestGetTrade_CorruptedQuantity_SurfacesError(t *testing.T) {
	// A row whose quantity does not parse must fail the read, not load with
	// a silent zero quantity.
	path := filepath.Join(t.TempDir(), "capgains.db")
	s, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.Exec(`INSERT INTO trades (id, instrument_id, side, trade_date, quantity, unit_price, created_at)
		VALUES ('bad', 'ACME', 'buy', '2024-01-01', 'garbage', '100', '2024-01-01T00:00:00Z')`)
	require.NoError(t, err)

	_, err = s.GetTrade(context.Background(), "bad")
	assert.True(t, errors.Is(err, engine.ErrPersistenceFailure), "got %v", err)
}

// =============================================================================
// REALIZED GAINS
// =============================================================================

func seedMatchedPair(t *testing.T, s *sqlite.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.InsertTrade(ctx, testTrade("acq", "ACME", engine.SideBuy, engine.NewTradeDate(2024, time.January, 1), 10, 100)))
	require.NoError(t, s.InsertTrade(ctx, testTrade("disp", "ACME", engine.SideSell, engine.NewTradeDate(2024, time.June, 1), 4, 150)))
	require.NoError(t, s.InsertRealizedGains(ctx, []engine.RealizedGain{
		testGain("g1", "acq", "disp", "ACME", 4, 152, engine.BucketShort),
	}))
}

func TestRealizedGainRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMatchedPair(t, s)

	byAcq, err := s.GainsByAcquisition(ctx, "acq")
	require.NoError(t, err)
	require.Len(t, byAcq, 1)
	g := byAcq[0]
	assert.Equal(t, "g1", g.ID)
	assert.Equal(t, engine.BucketShort, g.Bucket)
	assert.Equal(t, 152, g.HoldingPeriodDays)
	assert.True(t, g.Quantity.Equal(engine.NewQuantity(4)))
	assert.True(t, g.GainAmount.Equal(engine.NewMoney(200)))

	byDisp, err := s.GainsByDisposal(ctx, "disp")
	require.NoError(t, err)
	assert.Len(t, byDisp, 1)

	byInst, err := s.GainsByInstrument(ctx, "ACME")
	require.NoError(t, err)
	assert.Len(t, byInst, 1)
}

func TestUpdateRealizedGain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMatchedPair(t, s)

	gains, err := s.GainsByAcquisition(ctx, "acq")
	require.NoError(t, err)
	g := gains[0]
	g.HoldingPeriodDays = 400
	g.Bucket = engine.BucketLong
	require.NoError(t, s.UpdateRealizedGain(ctx, g))

	gains, err = s.GainsByAcquisition(ctx, "acq")
	require.NoError(t, err)
	assert.Equal(t, engine.BucketLong, gains[0].Bucket)
	assert.Equal(t, 400, gains[0].HoldingPeriodDays)
}

func TestGainsInRange_FiltersByDisposalDate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertTrade(ctx, testTrade("acq", "ACME", engine.SideBuy, engine.NewTradeDate(2023, time.January, 1), 100, 100)))
	require.NoError(t, s.InsertTrade(ctx, testTrade("d-in", "ACME", engine.SideSell, engine.NewTradeDate(2024, time.June, 1), 4, 150)))
	require.NoError(t, s.InsertTrade(ctx, testTrade("d-out", "ACME", engine.SideSell, engine.NewTradeDate(2025, time.June, 1), 3, 150)))
	require.NoError(t, s.InsertRealizedGains(ctx, []engine.RealizedGain{
		testGain("g-in", "acq", "d-in", "ACME", 4, 517, engine.BucketLong),
		testGain("g-out", "acq", "d-out", "ACME", 3, 882, engine.BucketLong),
	}))

	gains, err := s.GainsInRange(ctx, "ACME", engine.NewTradeDate(2024, time.January, 1), engine.NewTradeDate(2024, time.December, 31))
	require.NoError(t, err)
	require.Len(t, gains, 1)
	assert.Equal(t, "g-in", gains[0].ID)

	// Empty instrument filters nothing out.
	all, err := s.GainsInRange(ctx, "", engine.NewTradeDate(2024, time.January, 1), engine.NewTradeDate(2025, time.December, 31))
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// =============================================================================
// AUDIT ENTRIES
// =============================================================================

func TestAuditHistory_OrderedAndDeletable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2024, time.June, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.AppendAudit(ctx, engine.AuditEntry{
		ID: "a2", RecordID: "t1", Timestamp: t0.Add(time.Minute),
		FieldName: engine.FieldUnitPrice, OldValue: "100", NewValue: "95",
	}))
	require.NoError(t, s.AppendAudit(ctx, engine.AuditEntry{
		ID: "a1", RecordID: "t1", Timestamp: t0,
		FieldName: engine.FieldQuantity, OldValue: "10", NewValue: "8",
	}))

	history, err := s.AuditHistory(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "a1", history[0].ID, "history orders by timestamp, not insertion")
	assert.Equal(t, "a2", history[1].ID)

	require.NoError(t, s.DeleteAuditHistory(ctx, "t1"))
	history, err = s.AuditHistory(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx engine.Store) error {
		if err := tx.InsertTrade(ctx, testTrade("t1", "ACME", engine.SideBuy, engine.NewTradeDate(2024, time.January, 1), 10, 100)); err != nil {
			return err
		}
		if err := tx.InsertRealizedGains(ctx, []engine.RealizedGain{
			testGain("g1", "t1", "t1", "ACME", 4, 10, engine.BucketShort),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetTrade(ctx, "t1")
	assert.True(t, errors.Is(err, engine.ErrNotFound), "rolled-back insert should not be visible")
	gains, err := s.GainsByInstrument(ctx, "ACME")
	require.NoError(t, err)
	assert.Empty(t, gains)
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx engine.Store) error {
		return tx.InsertTrade(ctx, testTrade("t1", "ACME", engine.SideBuy, engine.NewTradeDate(2024, time.January, 1), 10, 100))
	})
	require.NoError(t, err)

	got, err := s.GetTrade(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, engine.TradeID("t1"), got.ID)
}

func TestReset_ClearsAllTables(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMatchedPair(t, s)

	require.NoError(t, s.Reset(ctx))

	_, err := s.GetTrade(ctx, "acq")
	assert.True(t, errors.Is(err, engine.ErrNotFound))
	gains, err := s.GainsByInstrument(ctx, "ACME")
	require.NoError(t, err)
	assert.Empty(t, gains)
}
