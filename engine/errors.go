/*
errors.go - Centralized error types for the reconciliation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch with errors.Is / errors.As; nothing here is logged and
  swallowed internally.

ERROR CATEGORIES:
  1. Input incompleteness   - missing dip/meter data, never defaulted
  2. Arithmetic/invariant   - insufficient inventory, negative volumes
  3. Workflow violations    - illegal transitions, duplicate reconciliations
  4. Configuration gaps     - no active price for a period

USAGE:
  if errors.Is(err, engine.ErrInsufficientInventory) {
      var short *engine.InsufficientInventoryError
      errors.As(err, &short)
      ...
  }
*/
package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidQuantity is returned when a volume or unit cost is zero or
	// negative where a positive value is required.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrInsufficientInventory is returned when a consume request exceeds
	// the total remaining volume across a tank's layers. This is reported,
	// never silently truncated: it signals a reconciliation problem
	// upstream (meters reported more dispensed than was delivered).
	ErrInsufficientInventory = errors.New("insufficient inventory")

	// ErrNoCostData is returned when a cost figure is requested for a tank
	// with no remaining layers, or over a period whose cost basis is
	// inconsistent. Callers must treat this as missing data, not zero cost.
	ErrNoCostData = errors.New("no cost data")

	// ErrIncompleteInput is returned when a dip or meter reading required
	// for reconciliation is missing. The record is not created; there is
	// no silent defaulting.
	ErrIncompleteInput = errors.New("incomplete input data")

	// ErrDuplicateReconciliation is returned when a tank-day already has a
	// live (non-voided) reconciliation record.
	ErrDuplicateReconciliation = errors.New("tank-day already reconciled")

	// ErrRecordVoided is returned when an operation targets a voided
	// reconciliation record.
	ErrRecordVoided = errors.New("reconciliation record is voided")

	// ErrInvalidTransition is returned for illegal alert state changes,
	// e.g. resolving an alert that was never investigated.
	ErrInvalidTransition = errors.New("invalid alert transition")

	// ErrMissingResolution is returned when resolving an alert without
	// non-empty resolution notes.
	ErrMissingResolution = errors.New("resolution notes required")

	// ErrNoPriceForPeriod is returned when no selling price is active for
	// a day in the requested period. Pricing gaps are surfaced, never
	// covered by a zero or previous price.
	ErrNoPriceForPeriod = errors.New("no active price for period")

	// ErrInvalidPeriod is returned when a period ends before it starts.
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// Not-found sentinels.
	ErrTankNotFound    = errors.New("tank not found")
	ErrLayerNotFound   = errors.New("cost layer not found")
	ErrRecordNotFound  = errors.New("reconciliation record not found")
	ErrAlertNotFound   = errors.New("alert not found")
	ErrReadingNotFound = errors.New("reading not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientInventoryError details a consume request that exceeded the
// tank's remaining layer volume.
type InsufficientInventoryError struct {
	TankID    TankID
	Requested decimal.Decimal
	Available decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory in tank %s: requested %s, available %s, short %s",
		e.TankID, e.Requested, e.Available, e.Shortfall)
}

func (e *InsufficientInventoryError) Unwrap() error { return ErrInsufficientInventory }

// IncompleteInputError lists the readings missing for a tank-day.
type IncompleteInputError struct {
	TankID  TankID
	Day     Day
	Missing []string
}

func (e *IncompleteInputError) Error() string {
	return fmt.Sprintf("incomplete input for tank %s on %s: missing %s",
		e.TankID, e.Day, strings.Join(e.Missing, ", "))
}

func (e *IncompleteInputError) Unwrap() error { return ErrIncompleteInput }

// InvalidTransitionError details an illegal alert state change.
type InvalidTransitionError struct {
	AlertID AlertID
	From    AlertStatus
	Action  AlertAction
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("alert %s: action %q not allowed from status %q", e.AlertID, e.Action, e.From)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// NoPriceError identifies the exact pricing gap.
type NoPriceError struct {
	StationID StationID
	Fuel      FuelType
	Day       Day
}

func (e *NoPriceError) Error() string {
	return fmt.Sprintf("no active price for %s at station %s on %s", e.Fuel, e.StationID, e.Day)
}

func (e *NoPriceError) Unwrap() error { return ErrNoPriceForPeriod }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTankNotFound) ||
		errors.Is(err, ErrLayerNotFound) ||
		errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrAlertNotFound) ||
		errors.Is(err, ErrReadingNotFound)
}

// IsConflict returns true if the error indicates a state conflict the
// caller may resolve (409 at the HTTP boundary).
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateReconciliation) ||
		errors.Is(err, ErrRecordVoided)
}

// IsClientError returns true if the error is due to invalid caller input
// or a workflow violation, as opposed to an internal failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrIncompleteInput) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrMissingResolution) ||
		errors.Is(err, ErrNoPriceForPeriod) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInsufficientInventory) ||
		errors.Is(err, ErrNoCostData)
}
