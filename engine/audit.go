/*
audit.go - Field-level audit log for accepted edits

PURPOSE:
  Records before/after values for every field an accepted edit changed, one
  entry per changed field, append-only. History is permanent; it is deleted
  only when the record itself is deleted.

COMPARISON:
  Numeric fields compare through a small epsilon. That tolerance absorbs
  floating-point representation noise on inputs, it is not a business
  tolerance.
*/
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// auditEpsilon tolerates representation noise on numeric fields.
var auditEpsilon = decimal.New(1, -9) // 1e-9

// AuditEntry is one changed field from one accepted edit.
type AuditEntry struct {
	ID        string
	RecordID  TradeID
	Timestamp time.Time
	FieldName string
	OldValue  string
	NewValue  string
}

// Tracked field names, stable across schema changes.
const (
	FieldInstrument = "instrument_id"
	FieldSide       = "side"
	FieldDate       = "date"
	FieldQuantity   = "quantity"
	FieldUnitPrice  = "unit_price"
)

// AuditLogger writes and reads field-level edit history.
type AuditLogger struct {
	store Store
}

func NewAuditLogger(store Store) *AuditLogger {
	return &AuditLogger{store: store}
}

// LogEdit compares the tracked fields of before and after and appends one
// entry per difference. Writes nothing when nothing differs.
func (a *AuditLogger) LogEdit(ctx context.Context, before, after Trade, at time.Time) error {
	for _, d := range DiffTrades(before, after) {
		entry := AuditEntry{
			ID:        uuid.NewString(),
			RecordID:  before.ID,
			Timestamp: at,
			FieldName: d.FieldName,
			OldValue:  d.OldValue,
			NewValue:  d.NewValue,
		}
		if err := a.store.AppendAudit(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// GetHistory returns the entries for a record ordered by timestamp ascending.
// Pure read: calling it twice with no intervening edit returns identical
// sequences.
func (a *AuditLogger) GetHistory(ctx context.Context, recordID TradeID) ([]AuditEntry, error) {
	return a.store.AuditHistory(ctx, recordID)
}

// FieldDiff is one tracked-field difference between two trade versions.
type FieldDiff struct {
	FieldName string
	OldValue  string
	NewValue  string
}

// DiffTrades returns the tracked fields whose values differ, in a fixed
// field order.
func DiffTrades(before, after Trade) []FieldDiff {
	var diffs []FieldDiff

	if before.InstrumentID != after.InstrumentID {
		diffs = append(diffs, FieldDiff{FieldInstrument, string(before.InstrumentID), string(after.InstrumentID)})
	}
	if before.Side != after.Side {
		diffs = append(diffs, FieldDiff{FieldSide, string(before.Side), string(after.Side)})
	}
	if !before.Date.Equal(after.Date) {
		diffs = append(diffs, FieldDiff{FieldDate, before.Date.String(), after.Date.String()})
	}
	if !decimalEqual(before.Quantity.Decimal(), after.Quantity.Decimal()) {
		diffs = append(diffs, FieldDiff{FieldQuantity, before.Quantity.String(), after.Quantity.String()})
	}
	if !decimalEqual(before.UnitPrice.Decimal(), after.UnitPrice.Decimal()) {
		diffs = append(diffs, FieldDiff{FieldUnitPrice, before.UnitPrice.String(), after.UnitPrice.String()})
	}

	return diffs
}

func decimalEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(auditEpsilon)
}
