/*
store.go - Persistence interface between the engine and the backing store

PURPOSE:
  Defines the logical read/write operations the engine issues against a
  durable relational store. The engine never manages its own durability;
  implementations live in store/sqlite (production) and engine/store
  (in-memory, tests).

ATOMICITY CONTRACT:
  Every mutating engine operation runs inside WithTx. Either every derived
  write (trade row, realized-gain rows, audit rows) lands, or none does.
  A caller-abandoned transaction must leave no partial effect.

DERIVED STATE:
  Available lot quantities are never stored. They are recomputed from
  realized-gain rows on every read, so an accepted edit can never leave a
  stale cached sum behind.

SEE ALSO:
  - store/sqlite/sqlite.go: production implementation
  - engine/store/memory.go: in-memory implementation
*/
package engine

import "context"

// =============================================================================
// STORE - logical reads and writes
// =============================================================================

// Store is the storage collaborator contract. Ordering guarantees:
// TradesByInstrument and trade-scoped gain queries return rows ordered by
// date ascending, then insertion sequence ascending.
type Store interface {
	// InsertTrade persists a trade and assigns its insertion sequence.
	InsertTrade(ctx context.Context, t *Trade) error

	// GetTrade returns a trade by ID, or ErrNotFound.
	GetTrade(ctx context.Context, id TradeID) (*Trade, error)

	// TradesByInstrument returns all trades for an instrument,
	// ordered by date then sequence.
	TradesByInstrument(ctx context.Context, instrumentID InstrumentID) ([]Trade, error)

	// UpdateTrade overwrites the mutable fields of an existing trade.
	// Only the edit validator's commit path may call this.
	UpdateTrade(ctx context.Context, t Trade) error

	// DeleteTrade removes a trade. Callers must have verified the trade
	// participates in no realized gain.
	DeleteTrade(ctx context.Context, id TradeID) error

	// InsertRealizedGains persists gain rows for a committed disposal.
	InsertRealizedGains(ctx context.Context, gains []RealizedGain) error

	// UpdateRealizedGain overwrites a re-derived gain row.
	UpdateRealizedGain(ctx context.Context, g RealizedGain) error

	// GainsByDisposal returns the gain rows consuming lots for a disposal.
	GainsByDisposal(ctx context.Context, disposalID TradeID) ([]RealizedGain, error)

	// GainsByAcquisition returns the gain rows drawing from an acquisition.
	GainsByAcquisition(ctx context.Context, acquisitionID TradeID) ([]RealizedGain, error)

	// GainsByInstrument returns all gain rows for an instrument.
	GainsByInstrument(ctx context.Context, instrumentID InstrumentID) ([]RealizedGain, error)

	// GainsInRange returns gain rows whose disposal date falls in [from, to].
	// instrumentID narrows the query when non-empty.
	GainsInRange(ctx context.Context, instrumentID InstrumentID, from, to TradeDate) ([]RealizedGain, error)

	// AppendAudit appends one audit entry. Append-only.
	AppendAudit(ctx context.Context, e AuditEntry) error

	// AuditHistory returns entries for a record, timestamp ascending.
	AuditHistory(ctx context.Context, recordID TradeID) ([]AuditEntry, error)

	// DeleteAuditHistory removes a record's history. Permitted only when the
	// record itself is deleted.
	DeleteAuditHistory(ctx context.Context, recordID TradeID) error
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore adds all-or-nothing execution. If fn returns an error the
// transaction is rolled back; otherwise it is committed.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
