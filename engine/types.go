/*
Package engine provides the FIFO lot-matching and capital-gains core.

PURPOSE:
  This package contains the domain types and algorithms for tracking
  ownership lots of a tradable instrument: which acquisitions a disposal
  consumes, in what order, and with what tax consequence.

KEY CONCEPTS IN THIS FILE (types.go):
  - Quantity/Money: decimal-backed value types (no float64 in business math)
  - Trade: a stored acquisition (buy) or disposal (sell)
  - Lot: the unconsumed portion of an acquisition, derived on demand
  - RealizedGain: the immutable record of one acquisition-disposal pairing
  - TradeDate: calendar-day time point used for holding periods

DESIGN PRINCIPLES:
  1. Derived state: lot availability is always recomputed from RealizedGains,
     never cached in a mutable field
  2. Precision: decimal.Decimal throughout, never floating point
  3. Immutability: RealizedGains are only ever replaced wholesale by a
     re-derivation inside the same transaction that changes their inputs
  4. Type safety: TradeID/InstrumentID are distinct types

SEE ALSO:
  - ledger.go: lot availability derivation
  - matcher.go: FIFO consumption
  - classifier.go: holding-period buckets and tax estimation
  - validator.go: edit rules protecting recorded matches
*/
package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// QUANTITY & MONEY - decimal-backed value types
// =============================================================================

// Quantity is an instrument amount. Trades may hold fractional quantities.
type Quantity struct {
	value decimal.Decimal
}

func NewQuantity(v float64) Quantity          { return Quantity{value: decimal.NewFromFloat(v)} }
func NewQuantityFromInt(v int64) Quantity     { return Quantity{value: decimal.NewFromInt(v)} }
func QuantityFromDecimal(d decimal.Decimal) Quantity { return Quantity{value: d} }

// ParseQuantity parses a decimal string. Malformed input is an
// InvalidArgumentError, never a silent zero.
func ParseQuantity(s string) (Quantity, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Quantity{}, &InvalidArgumentError{Field: "quantity", Reason: fmt.Sprintf("malformed decimal %q", s)}
	}
	return Quantity{value: d}, nil
}

func (q Quantity) Decimal() decimal.Decimal   { return q.value }
func (q Quantity) Add(o Quantity) Quantity    { return Quantity{value: q.value.Add(o.value)} }
func (q Quantity) Sub(o Quantity) Quantity    { return Quantity{value: q.value.Sub(o.value)} }
func (q Quantity) IsZero() bool               { return q.value.IsZero() }
func (q Quantity) IsNegative() bool           { return q.value.IsNegative() }
func (q Quantity) IsPositive() bool           { return q.value.IsPositive() }
func (q Quantity) LessThan(o Quantity) bool   { return q.value.LessThan(o.value) }
func (q Quantity) GreaterThan(o Quantity) bool { return q.value.GreaterThan(o.value) }
func (q Quantity) Equal(o Quantity) bool      { return q.value.Equal(o.value) }
func (q Quantity) String() string             { return q.value.String() }

// Min returns the smaller of two quantities.
func (q Quantity) Min(o Quantity) Quantity {
	if q.LessThan(o) {
		return q
	}
	return o
}

// Money is a currency amount. The engine is single-currency; conversion is an
// external collaborator's concern.
type Money struct {
	value decimal.Decimal
}

func NewMoney(v float64) Money                 { return Money{value: decimal.NewFromFloat(v)} }
func MoneyFromDecimal(d decimal.Decimal) Money { return Money{value: d} }

// ParseMoney parses a decimal string. Malformed input is an
// InvalidArgumentError, never a silent zero.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, &InvalidArgumentError{Field: "amount", Reason: fmt.Sprintf("malformed decimal %q", s)}
	}
	return Money{value: d}, nil
}

func (m Money) Decimal() decimal.Decimal  { return m.value }
func (m Money) Add(o Money) Money         { return Money{value: m.value.Add(o.value)} }
func (m Money) Sub(o Money) Money         { return Money{value: m.value.Sub(o.value)} }
func (m Money) MulQuantity(q Quantity) Money { return Money{value: m.value.Mul(q.value)} }
func (m Money) MulRate(r decimal.Decimal) Money { return Money{value: m.value.Mul(r)} }
func (m Money) IsZero() bool              { return m.value.IsZero() }
func (m Money) IsNegative() bool          { return m.value.IsNegative() }
func (m Money) IsPositive() bool          { return m.value.IsPositive() }
func (m Money) LessThan(o Money) bool     { return m.value.LessThan(o.value) }
func (m Money) GreaterThan(o Money) bool  { return m.value.GreaterThan(o.value) }
func (m Money) Equal(o Money) bool        { return m.value.Equal(o.value) }
func (m Money) String() string            { return m.value.String() }

// ZeroMoney is the additive identity.
func ZeroMoney() Money { return Money{value: decimal.Zero} }

// =============================================================================
// TRADE DATE - day-granular time point
// =============================================================================

// TradeDate is a calendar day in UTC. Holding periods are calendar-day
// differences, so sub-day precision is deliberately absent.
type TradeDate struct {
	t time.Time
}

func NewTradeDate(year int, month time.Month, day int) TradeDate {
	return TradeDate{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func DateFromTime(t time.Time) TradeDate {
	u := t.UTC()
	return TradeDate{t: time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)}
}

// ParseTradeDate parses a 2006-01-02 date string.
func ParseTradeDate(s string) (TradeDate, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return TradeDate{}, err
	}
	return DateFromTime(t), nil
}

func (d TradeDate) Time() time.Time           { return d.t }
func (d TradeDate) Before(o TradeDate) bool   { return d.t.Before(o.t) }
func (d TradeDate) After(o TradeDate) bool    { return d.t.After(o.t) }
func (d TradeDate) Equal(o TradeDate) bool    { return d.t.Equal(o.t) }
func (d TradeDate) IsZero() bool              { return d.t.IsZero() }
func (d TradeDate) Year() int                 { return d.t.Year() }
func (d TradeDate) Month() time.Month         { return d.t.Month() }
func (d TradeDate) String() string            { return d.t.Format("2006-01-02") }

// DaysBetween returns the calendar-day difference from -> to.
func DaysBetween(from, to TradeDate) int {
	return int(to.t.Sub(from.t).Hours() / 24)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TradeID string
type InstrumentID string

// =============================================================================
// TRADE - stored acquisition or disposal
// =============================================================================

type TradeSide string

const (
	SideBuy  TradeSide = "buy"  // Acquisition: adds inventory
	SideSell TradeSide = "sell" // Disposal: consumes inventory oldest-first
)

// Trade is a recorded acquisition or disposal. Identity fields are immutable;
// the mutable fields (Side, Date, Quantity, UnitPrice, InstrumentID) change
// only through an edit that passes validation.
//
// Seq is the insertion order within the ledger and is the stable secondary
// sort key for same-day lots. It is assigned by the store and never edited.
type Trade struct {
	ID           TradeID
	InstrumentID InstrumentID
	Side         TradeSide
	Date         TradeDate
	Quantity     Quantity
	UnitPrice    Money
	Seq          int64
	CreatedAt    time.Time
}

// IsAcquisition reports whether the trade adds inventory.
func (t Trade) IsAcquisition() bool { return t.Side == SideBuy }

// =============================================================================
// LOT - derived available portion of an acquisition
// =============================================================================

// Lot is the unconsumed portion of a single acquisition, available to satisfy
// future disposals. Lots are derived on demand and never stored.
type Lot struct {
	AcquisitionID TradeID
	Date          TradeDate
	UnitPrice     Money
	Available     Quantity
	Seq           int64
}

// =============================================================================
// REALIZED GAIN - one acquisition-disposal pairing
// =============================================================================

// Bucket is the holding-period classification of a realized gain.
type Bucket string

const (
	BucketShort Bucket = "SHORT" // held 365 days or fewer
	BucketLong  Bucket = "LONG"  // held strictly more than 365 days
)

// RealizedGain records the consumption of part of one acquisition by one
// disposal. Rows referencing a disposal always sum to exactly the disposal's
// quantity.
type RealizedGain struct {
	ID                string
	AcquisitionID     TradeID
	DisposalID        TradeID
	InstrumentID      InstrumentID
	Quantity          Quantity
	UnitCostBasis     Money
	UnitProceeds      Money
	HoldingPeriodDays int
	Bucket            Bucket
	GainAmount        Money
	CreatedAt         time.Time
}

// Cost returns the total cost basis of the pairing.
func (g RealizedGain) Cost() Money { return g.UnitCostBasis.MulQuantity(g.Quantity) }

// Proceeds returns the total proceeds of the pairing.
func (g RealizedGain) Proceeds() Money { return g.UnitProceeds.MulQuantity(g.Quantity) }

// =============================================================================
// MATCH RESULT - output of the FIFO matcher
// =============================================================================

// MatchedLot is one slice of a disposal matched against one lot.
type MatchedLot struct {
	AcquisitionID     TradeID
	Quantity          Quantity
	UnitCostBasis     Money
	UnitProceeds      Money
	Cost              Money
	Proceeds          Money
	HoldingPeriodDays int
	Gain              Money
}

// MatchResult is the complete FIFO consumption of one disposal.
type MatchResult struct {
	MatchedLots   []MatchedLot
	TotalCost     Money
	TotalProceeds Money
	TotalGain     Money
}

// =============================================================================
// DISPOSAL RESULT - returned by the orchestrator
// =============================================================================

// DisposalResult reports a committed disposal. It is the explicit
// "portfolio changed" signal: callers that need to react to mutations consume
// this return value rather than subscribing to an ambient event.
type DisposalResult struct {
	Disposal      Trade
	RealizedGains []RealizedGain
	TotalCost     Money
	TotalProceeds Money
	TotalGain     Money
}
