/*
Package factory provides JSON to Go tax-profile conversion.

PURPOSE:
  Converts JSON tax-profile definitions into engine.TaxRates plus the fiscal
  calendar. Rates and thresholds are deployment configuration, not code - a
  regime change is a config change.

JSON SCHEMA:
  {
    "id": "default",
    "name": "Two-bucket capital gains",
    "short_rate": "0.20",
    "long_rate": "0.10",
    "long_exemption_threshold": "100000",
    "fiscal_year_start_month": 1
  }

USAGE:
  factory := NewTaxProfileFactory()
  profile, err := factory.Parse(jsonString)
  est := engine.EstimateTax(gains, prior, profile.Rates())

SEE ALSO:
  - engine/classifier.go: TaxRates and EstimateTax
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/meridian/capgains-engine/engine"
	"github.com/shopspring/decimal"
)

// TaxProfileJSON is the JSON representation of a tax profile.
type TaxProfileJSON struct {
	ID                     string `json:"id"`
	Name                   string `json:"name"`
	ShortRate              string `json:"short_rate"`
	LongRate               string `json:"long_rate"`
	LongExemptionThreshold string `json:"long_exemption_threshold"`
	FiscalYearStartMonth   int    `json:"fiscal_year_start_month"`
}

// TaxProfile is a validated, parsed profile.
type TaxProfile struct {
	ID                   string
	Name                 string
	ShortRate            decimal.Decimal
	LongRate             decimal.Decimal
	LongExemption        engine.Money
	FiscalYearStartMonth time.Month
}

// Rates converts the profile into the engine's rate schedule.
func (p *TaxProfile) Rates() engine.TaxRates {
	return engine.TaxRates{
		ShortRate:              p.ShortRate,
		LongRate:               p.LongRate,
		LongExemptionThreshold: p.LongExemption,
	}
}

// FiscalYear returns the [start, end] dates of the fiscal year labelled by
// its starting calendar year.
func (p *TaxProfile) FiscalYear(year int) (engine.TradeDate, engine.TradeDate) {
	start := engine.NewTradeDate(year, p.FiscalYearStartMonth, 1)
	end := engine.DateFromTime(start.Time().AddDate(1, 0, -1))
	return start, end
}

// TaxProfileFactory parses and validates tax profiles.
type TaxProfileFactory struct{}

func NewTaxProfileFactory() *TaxProfileFactory {
	return &TaxProfileFactory{}
}

// Parse converts a JSON string into a TaxProfile, applying defaults.
func (f *TaxProfileFactory) Parse(jsonStr string) (*TaxProfile, error) {
	var raw TaxProfileJSON
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, fmt.Errorf("invalid tax profile JSON: %w", err)
	}
	return f.build(raw)
}

func (f *TaxProfileFactory) build(raw TaxProfileJSON) (*TaxProfile, error) {
	if raw.ID == "" {
		raw.ID = "default"
	}
	if raw.FiscalYearStartMonth == 0 {
		raw.FiscalYearStartMonth = 1
	}
	if raw.FiscalYearStartMonth < 1 || raw.FiscalYearStartMonth > 12 {
		return nil, fmt.Errorf("fiscal_year_start_month %d out of range", raw.FiscalYearStartMonth)
	}

	shortRate, err := parseRate("short_rate", raw.ShortRate)
	if err != nil {
		return nil, err
	}
	longRate, err := parseRate("long_rate", raw.LongRate)
	if err != nil {
		return nil, err
	}

	exemption := decimal.Zero
	if raw.LongExemptionThreshold != "" {
		exemption, err = decimal.NewFromString(raw.LongExemptionThreshold)
		if err != nil {
			return nil, fmt.Errorf("invalid long_exemption_threshold %q: %w", raw.LongExemptionThreshold, err)
		}
		if exemption.IsNegative() {
			return nil, fmt.Errorf("long_exemption_threshold must not be negative")
		}
	}

	return &TaxProfile{
		ID:                   raw.ID,
		Name:                 raw.Name,
		ShortRate:            shortRate,
		LongRate:             longRate,
		LongExemption:        engine.MoneyFromDecimal(exemption),
		FiscalYearStartMonth: time.Month(raw.FiscalYearStartMonth),
	}, nil
}

func parseRate(field, value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	rate, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Decimal{}, fmt.Errorf("%s must be in [0, 1]", field)
	}
	return rate, nil
}

// DefaultProfileJSON is the built-in profile used when no -taxprofile flag
// is given: 20% short, 10% long, 100000 exemption, calendar fiscal year.
func DefaultProfileJSON() string {
	return `{
		"id": "default",
		"name": "Two-bucket capital gains",
		"short_rate": "0.20",
		"long_rate": "0.10",
		"long_exemption_threshold": "100000",
		"fiscal_year_start_month": 1
	}`
}
