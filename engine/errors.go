/*
errors.go - Centralized error types for the engine

PURPOSE:
  All engine error kinds in one place. Callers match with errors.Is/As;
  nothing in this core returns a zero value standing in for an error.

ERROR CATEGORIES:
  1. Argument errors    - malformed quantity/price/date
  2. Inventory errors   - disposal exceeds available lots
  3. Edit rejections    - a validation rule fired, with the violated bound
  4. Lookup errors      - unknown trade/instrument
  5. Persistence errors - storage collaborator failures, cause attached

SEE ALSO:
  - matcher.go: returns InsufficientInventoryError
  - validator.go: returns EditRejectedError
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidArgument is returned for malformed quantities, prices, or dates.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInsufficientInventory is returned when a disposal exceeds the total
	// available quantity across all lots. No partial match is ever committed.
	ErrInsufficientInventory = errors.New("insufficient inventory")

	// ErrEditRejected is returned when a proposed edit violates a validation
	// rule. The wrapping EditRejectedError names the rule and the bound.
	ErrEditRejected = errors.New("edit rejected")

	// ErrNotFound is returned for unknown trades or instruments with no
	// acquisitions.
	ErrNotFound = errors.New("not found")

	// ErrPersistenceFailure wraps storage collaborator errors. The opaque
	// cause is attached; the caller decides on retry.
	ErrPersistenceFailure = errors.New("persistence failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidArgumentError reports which input was malformed and why.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument: %s %s", e.Field, e.Reason)
}

func (e *InvalidArgumentError) Unwrap() error { return ErrInvalidArgument }

// InsufficientInventoryError carries the shortfall so the caller can reduce
// the disposal or add prior acquisitions.
type InsufficientInventoryError struct {
	InstrumentID InstrumentID
	Requested    Quantity
	Available    Quantity
	Shortfall    Quantity
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for %s: requested %v, available %v, shortfall %v",
		e.InstrumentID, e.Requested, e.Available, e.Shortfall)
}

func (e *InsufficientInventoryError) Unwrap() error { return ErrInsufficientInventory }

// EditRule identifies which validation rule rejected an edit.
type EditRule string

const (
	RuleQuantityBelowMatched          EditRule = "quantity_below_matched"
	RuleAcquisitionDateAfterDisposal  EditRule = "acquisition_date_after_disposal"
	RuleDisposalDateBeforeAcquisition EditRule = "disposal_date_before_acquisition"
	RuleFlipInsufficientInventory     EditRule = "flip_insufficient_inventory"
	RuleFlipMatchedAcquisition        EditRule = "flip_matched_acquisition"
	RuleFlipMatchedDisposal           EditRule = "flip_matched_disposal"
	RuleInstrumentChangeMatched       EditRule = "instrument_change_matched"
	RuleDeleteMatched                 EditRule = "delete_matched"
)

// EditRejectedError identifies the violated rule and the numeric bound that
// was exceeded, never a bare boolean.
type EditRejectedError struct {
	TradeID TradeID
	Rule    EditRule
	Bound   string // violated bound, e.g. minimum permitted quantity or limiting date
	Message string
}

func (e *EditRejectedError) Error() string {
	return fmt.Sprintf("edit rejected for %s (%s): %s", e.TradeID, e.Rule, e.Message)
}

func (e *EditRejectedError) Unwrap() error { return ErrEditRejected }

// PersistenceError attaches the opaque storage cause.
type PersistenceError struct {
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return ErrPersistenceFailure }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the request can simply be corrected and
// resubmitted.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrEditRejected)
}

// IsBusinessError reports whether the failure is recoverable by changing the
// business facts (reduce quantity, add prior acquisitions).
func IsBusinessError(err error) bool {
	return errors.Is(err, ErrInsufficientInventory)
}

// IsNotFound reports whether the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
