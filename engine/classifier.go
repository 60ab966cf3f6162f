/*
classifier.go - Holding-period buckets and tax estimation

PURPOSE:
  Classification is a single threshold: strictly more than 365 calendar days
  is long-term, everything else short-term. No rounding, no calendar-month
  logic.

  Tax estimation separates two granularities on purpose: classification
  happens per lot, exemption consumption happens once per aggregation period
  (e.g. a fiscal year). Long-term gains are pooled with the period's prior
  long-term gains before the exemption threshold applies.
*/
package engine

import "github.com/shopspring/decimal"

// LongTermThresholdDays is the strict holding-period boundary: a lot held
// exactly this many days is still short-term.
const LongTermThresholdDays = 365

// Classify assigns the holding-period bucket.
func Classify(holdingPeriodDays int) Bucket {
	if holdingPeriodDays > LongTermThresholdDays {
		return BucketLong
	}
	return BucketShort
}

// TaxRates is the deployment-configured rate schedule.
type TaxRates struct {
	ShortRate              decimal.Decimal
	LongRate               decimal.Decimal
	LongExemptionThreshold Money
}

// TaxEstimate is the bucketed liability for a set of realized gains.
type TaxEstimate struct {
	ShortGains    Money
	LongGains     Money
	ShortTax      Money
	LongTax       Money
	ExemptionUsed Money
}

// EstimateTax computes bucketed tax for realized gains. Short-term gains are
// taxed at ShortRate; a loss contributes zero tax, never a negative tax.
// Long-term gains are pooled with priorLongTermGains for the same period and
// only the pooled portion above the exemption threshold is taxed at LongRate.
func EstimateTax(gains []RealizedGain, priorLongTermGains Money, rates TaxRates) TaxEstimate {
	est := TaxEstimate{
		ShortGains:    ZeroMoney(),
		LongGains:     ZeroMoney(),
		ShortTax:      ZeroMoney(),
		LongTax:       ZeroMoney(),
		ExemptionUsed: ZeroMoney(),
	}

	shortTaxable := ZeroMoney()
	for _, g := range gains {
		switch g.Bucket {
		case BucketShort:
			est.ShortGains = est.ShortGains.Add(g.GainAmount)
			if g.GainAmount.IsPositive() {
				shortTaxable = shortTaxable.Add(g.GainAmount)
			}
		case BucketLong:
			est.LongGains = est.LongGains.Add(g.GainAmount)
		}
	}

	est.ShortTax = shortTaxable.MulRate(rates.ShortRate)

	// Exemption applies to the period pool, not to any single gain.
	pooled := est.LongGains.Add(priorLongTermGains)
	if pooled.IsPositive() {
		taxable := pooled.Sub(rates.LongExemptionThreshold)
		if taxable.IsPositive() {
			est.LongTax = taxable.MulRate(rates.LongRate)
			est.ExemptionUsed = rates.LongExemptionThreshold
		} else {
			est.ExemptionUsed = pooled
		}
	}

	return est
}
