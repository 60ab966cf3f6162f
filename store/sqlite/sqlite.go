/*
Package sqlite provides the SQLite-backed implementation of the engine's
storage interfaces.

PURPOSE:
  Implements engine.Store and engine.TxStore over SQLite. The same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  trades:          Acquisitions and disposals (side column)
  realized_gains:  One row per acquisition-disposal pairing
  audit_entries:   Field-level before/after values for accepted edits

DERIVED STATE:
  No available-quantity column exists anywhere. Availability is always
  computed from realized_gains at read time, so an accepted edit can never
  leave a stale cached sum behind.

ATOMICITY:
  WithTx wraps a database transaction; every mutating engine operation runs
  inside one. Either every derived write lands, or none does.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): multiple readers don't
  block, single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/capgains.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - engine/store.go: interface definitions
  - engine/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/meridian/capgains-engine/engine"
)

const tsLayout = time.RFC3339Nano

// Store implements engine.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		instrument_id TEXT NOT NULL,
		side TEXT NOT NULL CHECK (side IN ('buy', 'sell')),
		trade_date TEXT NOT NULL,
		quantity TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Hot path: lot ordering for FIFO (date, then insertion order via rowid)
	CREATE INDEX IF NOT EXISTS idx_trades_instrument_date
		ON trades(instrument_id, trade_date);
	CREATE INDEX IF NOT EXISTS idx_trades_side
		ON trades(side);

	CREATE TABLE IF NOT EXISTS realized_gains (
		id TEXT PRIMARY KEY,
		acquisition_id TEXT NOT NULL REFERENCES trades(id),
		disposal_id TEXT NOT NULL REFERENCES trades(id),
		instrument_id TEXT NOT NULL,
		quantity TEXT NOT NULL,
		unit_cost_basis TEXT NOT NULL,
		unit_proceeds TEXT NOT NULL,
		holding_period_days INTEGER NOT NULL,
		bucket TEXT NOT NULL CHECK (bucket IN ('SHORT', 'LONG')),
		gain_amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_gains_acquisition
		ON realized_gains(acquisition_id);
	CREATE INDEX IF NOT EXISTS idx_gains_disposal
		ON realized_gains(disposal_id);
	CREATE INDEX IF NOT EXISTS idx_gains_instrument
		ON realized_gains(instrument_id);

	CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		record_id TEXT NOT NULL,
		ts TEXT NOT NULL,
		field_name TEXT NOT NULL,
		old_value TEXT NOT NULL,
		new_value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_record_ts
		ON audit_entries(record_id, ts);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so the same query helpers
// serve direct calls and transactional views.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRADES (engine.Store interface)
// =============================================================================

func (s *Store) InsertTrade(ctx context.Context, t *engine.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertTrade(ctx, s.db, t)
}

func insertTrade(ctx context.Context, db dbtx, t *engine.Trade) error {
	res, err := db.ExecContext(ctx, `
		INSERT INTO trades (id, instrument_id, side, trade_date, quantity, unit_price, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.InstrumentID,
		t.Side,
		t.Date.String(),
		t.Quantity.String(),
		t.UnitPrice.String(),
		t.CreatedAt.UTC().Format(tsLayout),
	)
	if err != nil {
		return &engine.PersistenceError{Op: "insert trade", Cause: err}
	}

	// rowid is the insertion sequence, the stable secondary FIFO key.
	seq, err := res.LastInsertId()
	if err != nil {
		return &engine.PersistenceError{Op: "insert trade", Cause: err}
	}
	t.Seq = seq
	return nil
}

func (s *Store) GetTrade(ctx context.Context, id engine.TradeID) (*engine.Trade, error) {
	return getTrade(ctx, s.db, id)
}

func getTrade(ctx context.Context, db dbtx, id engine.TradeID) (*engine.Trade, error) {
	row := db.QueryRowContext(ctx, `
		SELECT rowid, id, instrument_id, side, trade_date, quantity, unit_price, created_at
		FROM trades WHERE id = ?`, id)

	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, &engine.PersistenceError{Op: "get trade", Cause: err}
	}
	return t, nil
}

func (s *Store) TradesByInstrument(ctx context.Context, instrumentID engine.InstrumentID) ([]engine.Trade, error) {
	return tradesByInstrument(ctx, s.db, instrumentID)
}

func tradesByInstrument(ctx context.Context, db dbtx, instrumentID engine.InstrumentID) ([]engine.Trade, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT rowid, id, instrument_id, side, trade_date, quantity, unit_price, created_at
		FROM trades
		WHERE instrument_id = ?
		ORDER BY trade_date ASC, rowid ASC`, instrumentID)
	if err != nil {
		return nil, &engine.PersistenceError{Op: "list trades", Cause: err}
	}
	defer rows.Close()

	var trades []engine.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, &engine.PersistenceError{Op: "scan trade", Cause: err}
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}

func (s *Store) UpdateTrade(ctx context.Context, t engine.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateTrade(ctx, s.db, t)
}

func updateTrade(ctx context.Context, db dbtx, t engine.Trade) error {
	res, err := db.ExecContext(ctx, `
		UPDATE trades
		SET instrument_id = ?, side = ?, trade_date = ?, quantity = ?, unit_price = ?
		WHERE id = ?`,
		t.InstrumentID, t.Side, t.Date.String(), t.Quantity.String(), t.UnitPrice.String(), t.ID,
	)
	if err != nil {
		return &engine.PersistenceError{Op: "update trade", Cause: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &engine.PersistenceError{Op: "update trade", Cause: err}
	}
	if n == 0 {
		return engine.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteTrade(ctx context.Context, id engine.TradeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteTrade(ctx, s.db, id)
}

func deleteTrade(ctx context.Context, db dbtx, id engine.TradeID) error {
	res, err := db.ExecContext(ctx, `DELETE FROM trades WHERE id = ?`, id)
	if err != nil {
		return &engine.PersistenceError{Op: "delete trade", Cause: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &engine.PersistenceError{Op: "delete trade", Cause: err}
	}
	if n == 0 {
		return engine.ErrNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTrade(row scannable) (*engine.Trade, error) {
	var (
		t         engine.Trade
		tradeDate string
		quantity  string
		unitPrice string
		createdAt string
	)
	if err := row.Scan(&t.Seq, &t.ID, &t.InstrumentID, &t.Side, &tradeDate, &quantity, &unitPrice, &createdAt); err != nil {
		return nil, err
	}

	date, err := engine.ParseTradeDate(tradeDate)
	if err != nil {
		return nil, &engine.PersistenceError{Op: "scan trade", Cause: err}
	}
	t.Date = date
	if t.Quantity, err = engine.ParseQuantity(quantity); err != nil {
		return nil, &engine.PersistenceError{Op: "scan trade", Cause: err}
	}
	if t.UnitPrice, err = engine.ParseMoney(unitPrice); err != nil {
		return nil, &engine.PersistenceError{Op: "scan trade", Cause: err}
	}
	if t.CreatedAt, err = time.Parse(tsLayout, createdAt); err != nil {
		return nil, &engine.PersistenceError{Op: "scan trade", Cause: err}
	}
	return &t, nil
}

// =============================================================================
// REALIZED GAINS
// =============================================================================

const gainColumns = `id, acquisition_id, disposal_id, instrument_id, quantity,
	unit_cost_basis, unit_proceeds, holding_period_days, bucket, gain_amount, created_at`

func (s *Store) InsertRealizedGains(ctx context.Context, gains []engine.RealizedGain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertRealizedGains(ctx, s.db, gains)
}

func insertRealizedGains(ctx context.Context, db dbtx, gains []engine.RealizedGain) error {
	for _, g := range gains {
		_, err := db.ExecContext(ctx, `
			INSERT INTO realized_gains (`+gainColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			g.ID, g.AcquisitionID, g.DisposalID, g.InstrumentID,
			g.Quantity.String(), g.UnitCostBasis.String(), g.UnitProceeds.String(),
			g.HoldingPeriodDays, g.Bucket, g.GainAmount.String(),
			g.CreatedAt.UTC().Format(tsLayout),
		)
		if err != nil {
			return &engine.PersistenceError{Op: "insert realized gain", Cause: err}
		}
	}
	return nil
}

func (s *Store) UpdateRealizedGain(ctx context.Context, g engine.RealizedGain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateRealizedGain(ctx, s.db, g)
}

func updateRealizedGain(ctx context.Context, db dbtx, g engine.RealizedGain) error {
	res, err := db.ExecContext(ctx, `
		UPDATE realized_gains
		SET quantity = ?, unit_cost_basis = ?, unit_proceeds = ?,
		    holding_period_days = ?, bucket = ?, gain_amount = ?
		WHERE id = ?`,
		g.Quantity.String(), g.UnitCostBasis.String(), g.UnitProceeds.String(),
		g.HoldingPeriodDays, g.Bucket, g.GainAmount.String(), g.ID,
	)
	if err != nil {
		return &engine.PersistenceError{Op: "update realized gain", Cause: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &engine.PersistenceError{Op: "update realized gain", Cause: err}
	}
	if n == 0 {
		return engine.ErrNotFound
	}
	return nil
}

func (s *Store) GainsByDisposal(ctx context.Context, disposalID engine.TradeID) ([]engine.RealizedGain, error) {
	return queryGains(ctx, s.db, `
		SELECT `+gainColumns+` FROM realized_gains WHERE disposal_id = ? ORDER BY rowid ASC`, disposalID)
}

func (s *Store) GainsByAcquisition(ctx context.Context, acquisitionID engine.TradeID) ([]engine.RealizedGain, error) {
	return queryGains(ctx, s.db, `
		SELECT `+gainColumns+` FROM realized_gains WHERE acquisition_id = ? ORDER BY rowid ASC`, acquisitionID)
}

func (s *Store) GainsByInstrument(ctx context.Context, instrumentID engine.InstrumentID) ([]engine.RealizedGain, error) {
	return queryGains(ctx, s.db, `
		SELECT `+gainColumns+` FROM realized_gains WHERE instrument_id = ? ORDER BY rowid ASC`, instrumentID)
}

func (s *Store) GainsInRange(ctx context.Context, instrumentID engine.InstrumentID, from, to engine.TradeDate) ([]engine.RealizedGain, error) {
	return gainsInRange(ctx, s.db, instrumentID, from, to)
}

func gainsInRange(ctx context.Context, db dbtx, instrumentID engine.InstrumentID, from, to engine.TradeDate) ([]engine.RealizedGain, error) {
	query := `
		SELECT g.id, g.acquisition_id, g.disposal_id, g.instrument_id, g.quantity,
		       g.unit_cost_basis, g.unit_proceeds, g.holding_period_days, g.bucket,
		       g.gain_amount, g.created_at
		FROM realized_gains g
		JOIN trades d ON d.id = g.disposal_id
		WHERE d.trade_date >= ? AND d.trade_date <= ?`
	args := []any{from.String(), to.String()}
	if instrumentID != "" {
		query += ` AND g.instrument_id = ?`
		args = append(args, instrumentID)
	}
	query += ` ORDER BY d.trade_date ASC, g.rowid ASC`
	return queryGains(ctx, db, query, args...)
}

func queryGains(ctx context.Context, db dbtx, query string, args ...any) ([]engine.RealizedGain, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &engine.PersistenceError{Op: "query realized gains", Cause: err}
	}
	defer rows.Close()

	var gains []engine.RealizedGain
	for rows.Next() {
		var (
			g             engine.RealizedGain
			quantity      string
			unitCostBasis string
			unitProceeds  string
			gainAmount    string
			createdAt     string
		)
		if err := rows.Scan(&g.ID, &g.AcquisitionID, &g.DisposalID, &g.InstrumentID,
			&quantity, &unitCostBasis, &unitProceeds, &g.HoldingPeriodDays, &g.Bucket,
			&gainAmount, &createdAt); err != nil {
			return nil, &engine.PersistenceError{Op: "scan realized gain", Cause: err}
		}
		if g.Quantity, err = engine.ParseQuantity(quantity); err != nil {
			return nil, &engine.PersistenceError{Op: "scan realized gain", Cause: err}
		}
		if g.UnitCostBasis, err = engine.ParseMoney(unitCostBasis); err != nil {
			return nil, &engine.PersistenceError{Op: "scan realized gain", Cause: err}
		}
		if g.UnitProceeds, err = engine.ParseMoney(unitProceeds); err != nil {
			return nil, &engine.PersistenceError{Op: "scan realized gain", Cause: err}
		}
		if g.GainAmount, err = engine.ParseMoney(gainAmount); err != nil {
			return nil, &engine.PersistenceError{Op: "scan realized gain", Cause: err}
		}
		if g.CreatedAt, err = time.Parse(tsLayout, createdAt); err != nil {
			return nil, &engine.PersistenceError{Op: "scan realized gain", Cause: err}
		}
		gains = append(gains, g)
	}
	return gains, rows.Err()
}

// =============================================================================
// AUDIT ENTRIES
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, e engine.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAudit(ctx, s.db, e)
}

func appendAudit(ctx context.Context, db dbtx, e engine.AuditEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO audit_entries (id, record_id, ts, field_name, old_value, new_value)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.RecordID, e.Timestamp.UTC().Format(tsLayout), e.FieldName, e.OldValue, e.NewValue,
	)
	if err != nil {
		return &engine.PersistenceError{Op: "append audit entry", Cause: err}
	}
	return nil
}

func (s *Store) AuditHistory(ctx context.Context, recordID engine.TradeID) ([]engine.AuditEntry, error) {
	return auditHistory(ctx, s.db, recordID)
}

func auditHistory(ctx context.Context, db dbtx, recordID engine.TradeID) ([]engine.AuditEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, record_id, ts, field_name, old_value, new_value
		FROM audit_entries
		WHERE record_id = ?
		ORDER BY ts ASC, rowid ASC`, recordID)
	if err != nil {
		return nil, &engine.PersistenceError{Op: "query audit entries", Cause: err}
	}
	defer rows.Close()

	var entries []engine.AuditEntry
	for rows.Next() {
		var (
			e  engine.AuditEntry
			ts string
		)
		if err := rows.Scan(&e.ID, &e.RecordID, &ts, &e.FieldName, &e.OldValue, &e.NewValue); err != nil {
			return nil, &engine.PersistenceError{Op: "scan audit entry", Cause: err}
		}
		e.Timestamp, _ = time.Parse(tsLayout, ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) DeleteAuditHistory(ctx context.Context, recordID engine.TradeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteAuditHistory(ctx, s.db, recordID)
}

func deleteAuditHistory(ctx context.Context, db dbtx, recordID engine.TradeID) error {
	_, err := db.ExecContext(ctx, `DELETE FROM audit_entries WHERE record_id = ?`, recordID)
	if err != nil {
		return &engine.PersistenceError{Op: "delete audit history", Cause: err}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (engine.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. A returned error rolls
// the transaction back; the caller observes no partial effect.
func (s *Store) WithTx(ctx context.Context, fn func(store engine.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &engine.PersistenceError{Op: "begin transaction", Cause: err}
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return &engine.PersistenceError{Op: "commit transaction", Cause: err}
	}
	return nil
}

// txStore routes every operation through the open *sql.Tx. It never touches
// the parent mutex, which WithTx already holds.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) InsertTrade(ctx context.Context, t *engine.Trade) error {
	return insertTrade(ctx, ts.tx, t)
}

func (ts *txStore) GetTrade(ctx context.Context, id engine.TradeID) (*engine.Trade, error) {
	return getTrade(ctx, ts.tx, id)
}

func (ts *txStore) TradesByInstrument(ctx context.Context, instrumentID engine.InstrumentID) ([]engine.Trade, error) {
	return tradesByInstrument(ctx, ts.tx, instrumentID)
}

func (ts *txStore) UpdateTrade(ctx context.Context, t engine.Trade) error {
	return updateTrade(ctx, ts.tx, t)
}

func (ts *txStore) DeleteTrade(ctx context.Context, id engine.TradeID) error {
	return deleteTrade(ctx, ts.tx, id)
}

func (ts *txStore) InsertRealizedGains(ctx context.Context, gains []engine.RealizedGain) error {
	return insertRealizedGains(ctx, ts.tx, gains)
}

func (ts *txStore) UpdateRealizedGain(ctx context.Context, g engine.RealizedGain) error {
	return updateRealizedGain(ctx, ts.tx, g)
}

func (ts *txStore) GainsByDisposal(ctx context.Context, disposalID engine.TradeID) ([]engine.RealizedGain, error) {
	return queryGains(ctx, ts.tx, `
		SELECT `+gainColumns+` FROM realized_gains WHERE disposal_id = ? ORDER BY rowid ASC`, disposalID)
}

func (ts *txStore) GainsByAcquisition(ctx context.Context, acquisitionID engine.TradeID) ([]engine.RealizedGain, error) {
	return queryGains(ctx, ts.tx, `
		SELECT `+gainColumns+` FROM realized_gains WHERE acquisition_id = ? ORDER BY rowid ASC`, acquisitionID)
}

func (ts *txStore) GainsByInstrument(ctx context.Context, instrumentID engine.InstrumentID) ([]engine.RealizedGain, error) {
	return queryGains(ctx, ts.tx, `
		SELECT `+gainColumns+` FROM realized_gains WHERE instrument_id = ? ORDER BY rowid ASC`, instrumentID)
}

func (ts *txStore) GainsInRange(ctx context.Context, instrumentID engine.InstrumentID, from, to engine.TradeDate) ([]engine.RealizedGain, error) {
	return gainsInRange(ctx, ts.tx, instrumentID, from, to)
}

func (ts *txStore) AppendAudit(ctx context.Context, e engine.AuditEntry) error {
	return appendAudit(ctx, ts.tx, e)
}

func (ts *txStore) AuditHistory(ctx context.Context, recordID engine.TradeID) ([]engine.AuditEntry, error) {
	return auditHistory(ctx, ts.tx, recordID)
}

func (ts *txStore) DeleteAuditHistory(ctx context.Context, recordID engine.TradeID) error {
	return deleteAuditHistory(ctx, ts.tx, recordID)
}

// Reset clears all data. Dev/demo use only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"realized_gains", "audit_entries", "trades"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return &engine.PersistenceError{Op: "reset " + table, Cause: err}
		}
	}
	return nil
}
