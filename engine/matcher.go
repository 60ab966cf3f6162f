/*
matcher.go - FIFO consumption of lots by a disposal

PURPOSE:
  Pure function: walk the ledger-ordered lots, consume oldest first, emit
  one matched-lot record per consumed slice. No I/O, no side effects; the
  caller supplies already-fetched lots and an already-resolved price.

EDGE CASES:
  - Total available < disposal quantity: InsufficientInventoryError with the
    shortfall, nothing partial returned
  - Non-positive quantity or price: InvalidArgumentError
  - Same-day lots: consumed in the stable order given by the ledger,
    never re-ordered by price
*/
package engine

// Match consumes lots oldest-first to satisfy a disposal, producing per-lot
// cost, proceeds, holding period, and gain. The lots slice must already be in
// ledger order (date ascending, then insertion sequence).
func Match(lots []Lot, disposalQty Quantity, disposalDate TradeDate, disposalUnitPrice Money) (*MatchResult, error) {
	if !disposalQty.IsPositive() {
		return nil, &InvalidArgumentError{Field: "quantity", Reason: "must be positive"}
	}
	if !disposalUnitPrice.IsPositive() {
		return nil, &InvalidArgumentError{Field: "unitPrice", Reason: "must be positive"}
	}
	if disposalDate.IsZero() {
		return nil, &InvalidArgumentError{Field: "date", Reason: "must be set"}
	}

	// Check total availability up front so failure commits nothing.
	available := NewQuantityFromInt(0)
	for _, lot := range lots {
		available = available.Add(lot.Available)
	}
	if available.LessThan(disposalQty) {
		return nil, &InsufficientInventoryError{
			Requested: disposalQty,
			Available: available,
			Shortfall: disposalQty.Sub(available),
		}
	}

	result := &MatchResult{
		TotalCost:     ZeroMoney(),
		TotalProceeds: ZeroMoney(),
		TotalGain:     ZeroMoney(),
	}

	remaining := disposalQty
	for _, lot := range lots {
		if remaining.IsZero() {
			break
		}

		take := remaining.Min(lot.Available)
		cost := lot.UnitPrice.MulQuantity(take)
		proceeds := disposalUnitPrice.MulQuantity(take)

		result.MatchedLots = append(result.MatchedLots, MatchedLot{
			AcquisitionID:     lot.AcquisitionID,
			Quantity:          take,
			UnitCostBasis:     lot.UnitPrice,
			UnitProceeds:      disposalUnitPrice,
			Cost:              cost,
			Proceeds:          proceeds,
			HoldingPeriodDays: DaysBetween(lot.Date, disposalDate),
			Gain:              proceeds.Sub(cost),
		})

		result.TotalCost = result.TotalCost.Add(cost)
		result.TotalProceeds = result.TotalProceeds.Add(proceeds)
		remaining = remaining.Sub(take)
	}

	result.TotalGain = result.TotalProceeds.Sub(result.TotalCost)
	return result, nil
}
