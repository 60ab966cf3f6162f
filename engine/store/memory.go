// Package store provides engine.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/meridian/capgains-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu     sync.RWMutex
	trades map[engine.TradeID]engine.Trade
	gains  map[string]engine.RealizedGain
	audits map[engine.TradeID][]engine.AuditEntry
	seq    int64
}

func NewMemory() *Memory {
	return &Memory{
		trades: make(map[engine.TradeID]engine.Trade),
		gains:  make(map[string]engine.RealizedGain),
		audits: make(map[engine.TradeID][]engine.AuditEntry),
	}
}

func (m *Memory) InsertTrade(_ context.Context, t *engine.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertTradeLocked(t)
}

func (m *Memory) insertTradeLocked(t *engine.Trade) error {
	m.seq++
	t.Seq = m.seq
	m.trades[t.ID] = *t
	return nil
}

func (m *Memory) GetTrade(_ context.Context, id engine.TradeID) (*engine.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTradeLocked(id)
}

func (m *Memory) getTradeLocked(id engine.TradeID) (*engine.Trade, error) {
	t, ok := m.trades[id]
	if !ok {
		return nil, engine.ErrNotFound
	}
	return &t, nil
}

func (m *Memory) TradesByInstrument(_ context.Context, instrumentID engine.InstrumentID) ([]engine.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tradesByInstrumentLocked(instrumentID)
}

func (m *Memory) tradesByInstrumentLocked(instrumentID engine.InstrumentID) ([]engine.Trade, error) {
	var trades []engine.Trade
	for _, t := range m.trades {
		if t.InstrumentID == instrumentID {
			trades = append(trades, t)
		}
	}
	sort.SliceStable(trades, func(i, j int) bool {
		if !trades[i].Date.Equal(trades[j].Date) {
			return trades[i].Date.Before(trades[j].Date)
		}
		return trades[i].Seq < trades[j].Seq
	})
	return trades, nil
}

func (m *Memory) UpdateTrade(_ context.Context, t engine.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateTradeLocked(t)
}

func (m *Memory) updateTradeLocked(t engine.Trade) error {
	if _, ok := m.trades[t.ID]; !ok {
		return engine.ErrNotFound
	}
	m.trades[t.ID] = t
	return nil
}

func (m *Memory) DeleteTrade(_ context.Context, id engine.TradeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteTradeLocked(id)
}

func (m *Memory) deleteTradeLocked(id engine.TradeID) error {
	if _, ok := m.trades[id]; !ok {
		return engine.ErrNotFound
	}
	delete(m.trades, id)
	return nil
}

func (m *Memory) InsertRealizedGains(_ context.Context, gains []engine.RealizedGain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertGainsLocked(gains)
}

func (m *Memory) insertGainsLocked(gains []engine.RealizedGain) error {
	for _, g := range gains {
		m.gains[g.ID] = g
	}
	return nil
}

func (m *Memory) UpdateRealizedGain(_ context.Context, g engine.RealizedGain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateGainLocked(g)
}

func (m *Memory) updateGainLocked(g engine.RealizedGain) error {
	if _, ok := m.gains[g.ID]; !ok {
		return engine.ErrNotFound
	}
	m.gains[g.ID] = g
	return nil
}

func (m *Memory) GainsByDisposal(_ context.Context, disposalID engine.TradeID) ([]engine.RealizedGain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gainsLocked(func(g engine.RealizedGain) bool { return g.DisposalID == disposalID })
}

func (m *Memory) GainsByAcquisition(_ context.Context, acquisitionID engine.TradeID) ([]engine.RealizedGain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gainsLocked(func(g engine.RealizedGain) bool { return g.AcquisitionID == acquisitionID })
}

func (m *Memory) GainsByInstrument(_ context.Context, instrumentID engine.InstrumentID) ([]engine.RealizedGain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gainsLocked(func(g engine.RealizedGain) bool { return g.InstrumentID == instrumentID })
}

func (m *Memory) GainsInRange(_ context.Context, instrumentID engine.InstrumentID, from, to engine.TradeDate) ([]engine.RealizedGain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gainsInRangeLocked(instrumentID, from, to)
}

func (m *Memory) gainsInRangeLocked(instrumentID engine.InstrumentID, from, to engine.TradeDate) ([]engine.RealizedGain, error) {
	return m.gainsLocked(func(g engine.RealizedGain) bool {
		if instrumentID != "" && g.InstrumentID != instrumentID {
			return false
		}
		disposal, ok := m.trades[g.DisposalID]
		if !ok {
			return false
		}
		return !disposal.Date.Before(from) && !disposal.Date.After(to)
	})
}

func (m *Memory) gainsLocked(keep func(engine.RealizedGain) bool) ([]engine.RealizedGain, error) {
	var gains []engine.RealizedGain
	for _, g := range m.gains {
		if keep(g) {
			gains = append(gains, g)
		}
	}
	sort.SliceStable(gains, func(i, j int) bool { return gains[i].ID < gains[j].ID })
	return gains, nil
}

func (m *Memory) AppendAudit(_ context.Context, e engine.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendAuditLocked(e)
}

func (m *Memory) appendAuditLocked(e engine.AuditEntry) error {
	m.audits[e.RecordID] = append(m.audits[e.RecordID], e)
	return nil
}

func (m *Memory) AuditHistory(_ context.Context, recordID engine.TradeID) ([]engine.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.auditHistoryLocked(recordID)
}

func (m *Memory) auditHistoryLocked(recordID engine.TradeID) ([]engine.AuditEntry, error) {
	entries := append([]engine.AuditEntry{}, m.audits[recordID]...)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Timestamp.Before(entries[j].Timestamp) })
	return entries, nil
}

func (m *Memory) DeleteAuditHistory(_ context.Context, recordID engine.TradeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.audits, recordID)
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support, simulated with a
// snapshot + rollback on error.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

func (tm *TxMemory) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	trades map[engine.TradeID]engine.Trade
	gains  map[string]engine.RealizedGain
	audits map[engine.TradeID][]engine.AuditEntry
	seq    int64
}

func (tm *TxMemory) snapshot() memorySnapshot {
	trades := make(map[engine.TradeID]engine.Trade, len(tm.trades))
	for k, v := range tm.trades {
		trades[k] = v
	}
	gains := make(map[string]engine.RealizedGain, len(tm.gains))
	for k, v := range tm.gains {
		gains[k] = v
	}
	audits := make(map[engine.TradeID][]engine.AuditEntry, len(tm.audits))
	for k, v := range tm.audits {
		audits[k] = append([]engine.AuditEntry{}, v...)
	}
	return memorySnapshot{trades: trades, gains: gains, audits: audits, seq: tm.seq}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.trades = s.trades
	tm.gains = s.gains
	tm.audits = s.audits
	tm.seq = s.seq
}

// txMemoryView operates on the parent while its lock is held by WithTx.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) InsertTrade(_ context.Context, t *engine.Trade) error {
	return tv.parent.insertTradeLocked(t)
}

func (tv *txMemoryView) GetTrade(_ context.Context, id engine.TradeID) (*engine.Trade, error) {
	return tv.parent.getTradeLocked(id)
}

func (tv *txMemoryView) TradesByInstrument(_ context.Context, instrumentID engine.InstrumentID) ([]engine.Trade, error) {
	return tv.parent.tradesByInstrumentLocked(instrumentID)
}

func (tv *txMemoryView) UpdateTrade(_ context.Context, t engine.Trade) error {
	return tv.parent.updateTradeLocked(t)
}

func (tv *txMemoryView) DeleteTrade(_ context.Context, id engine.TradeID) error {
	return tv.parent.deleteTradeLocked(id)
}

func (tv *txMemoryView) InsertRealizedGains(_ context.Context, gains []engine.RealizedGain) error {
	return tv.parent.insertGainsLocked(gains)
}

func (tv *txMemoryView) UpdateRealizedGain(_ context.Context, g engine.RealizedGain) error {
	return tv.parent.updateGainLocked(g)
}

func (tv *txMemoryView) GainsByDisposal(_ context.Context, disposalID engine.TradeID) ([]engine.RealizedGain, error) {
	return tv.parent.gainsLocked(func(g engine.RealizedGain) bool { return g.DisposalID == disposalID })
}

func (tv *txMemoryView) GainsByAcquisition(_ context.Context, acquisitionID engine.TradeID) ([]engine.RealizedGain, error) {
	return tv.parent.gainsLocked(func(g engine.RealizedGain) bool { return g.AcquisitionID == acquisitionID })
}

func (tv *txMemoryView) GainsByInstrument(_ context.Context, instrumentID engine.InstrumentID) ([]engine.RealizedGain, error) {
	return tv.parent.gainsLocked(func(g engine.RealizedGain) bool { return g.InstrumentID == instrumentID })
}

func (tv *txMemoryView) GainsInRange(_ context.Context, instrumentID engine.InstrumentID, from, to engine.TradeDate) ([]engine.RealizedGain, error) {
	return tv.parent.gainsInRangeLocked(instrumentID, from, to)
}

func (tv *txMemoryView) AppendAudit(_ context.Context, e engine.AuditEntry) error {
	return tv.parent.appendAuditLocked(e)
}

func (tv *txMemoryView) AuditHistory(_ context.Context, recordID engine.TradeID) ([]engine.AuditEntry, error) {
	return tv.parent.auditHistoryLocked(recordID)
}

func (tv *txMemoryView) DeleteAuditHistory(_ context.Context, recordID engine.TradeID) error {
	delete(tv.parent.audits, recordID)
	return nil
}
