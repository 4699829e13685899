/*
Package engine provides the inventory-costed reconciliation core for a
multi-station fuel back office.

PURPOSE:
  This package contains the domain types and algorithms for tracking fuel
  cost on a First-In-First-Out basis per tank, reconciling physical dip
  measurements against metered dispensed volume, classifying the resulting
  variance into alerts, and computing gross margin from the FIFO cost basis.

KEY CONCEPTS IN THIS FILE (types.go):
  - Tank:                 Physical tank holding one fuel type
  - CostLayer:            A FIFO batch of fuel created by a delivery
  - DipReading:           Physical gauge measurement (source of truth)
  - MeterReading:         Cumulative dispensed counter from a pump meter
  - DeliveryEvent:        The act that creates a new CostLayer
  - ReconciliationRecord: Computed daily balance for one tank
  - VarianceAlert:        Workflow object tracking a loss/gain investigation
  - LayerConsumption:     FIFO cost attribution for one reconciliation

DESIGN PRINCIPLES:
  1. Precision:    All volumes and money use decimal.Decimal, never float
  2. Immutability: Layers are append-only; alerts keep a transition history
  3. Type Safety:  Strong typing for IDs prevents mixing tank/record/alert IDs
  4. Auditability: Every cost movement is traceable to layer and record

SEE ALSO:
  - ledger.go:    FIFO cost layer operations
  - reconcile.go: Tank-day reconciliation
  - classify.go:  Variance severity classification
  - alert.go:     Investigation state machine
  - margin.go:    COGS and gross margin
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// DecimalPlaces is the fixed-point precision used for every volume and
// monetary value. Four fractional digits avoid cumulative rounding drift
// across thousands of partial-layer consumptions.
const DecimalPlaces = 4

func round(d decimal.Decimal) decimal.Decimal { return d.Round(DecimalPlaces) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type StationID string
type TankID string
type MeterID string
type LayerID string
type RecordID string
type AlertID string

// =============================================================================
// FUEL & TANK
// =============================================================================

type FuelType string

const (
	FuelPetrol   FuelType = "petrol"
	FuelDiesel   FuelType = "diesel"
	FuelKerosene FuelType = "kerosene"
)

// Tank is a physical storage tank holding a single fuel type.
// Invariant: CurrentVolume is always within [0, Capacity].
type Tank struct {
	ID            TankID
	StationID     StationID
	Fuel          FuelType
	Capacity      decimal.Decimal
	CurrentVolume decimal.Decimal // last dip-derived volume
	CreatedAt     time.Time
}

// =============================================================================
// COST LAYER - FIFO unit of delivered fuel
// =============================================================================

// CostLayer is a cost-tracked batch of fuel created by a delivery and
// consumed oldest-first.
//
// INVARIANTS:
//   - 0 <= RemainingVolume <= OriginalVolume
//   - Sequence is monotonic per tank in delivery order and never reordered
//   - OriginalVolume, UnitCost, Sequence are immutable once created;
//     only RemainingVolume changes, via Consume and Restore
type CostLayer struct {
	ID              LayerID
	TankID          TankID
	Sequence        int64
	OriginalVolume  decimal.Decimal
	RemainingVolume decimal.Decimal
	UnitCost        decimal.Decimal
	ReceivedAt      time.Time
	CreatedAt       time.Time
}

// =============================================================================
// READINGS - Physical and metered observations
// =============================================================================

// ReadingPosition anchors a reading to the start or end of a tank-day.
type ReadingPosition string

const (
	PositionOpening ReadingPosition = "opening"
	PositionClosing ReadingPosition = "closing"
)

// DipReading is a physical gauge measurement of tank volume. It is the
// source of physical truth for reconciliation.
type DipReading struct {
	TankID      TankID
	Day         Day
	Position    ReadingPosition
	Volume      decimal.Decimal
	Temperature *decimal.Decimal // optional, degrees C
	WaterCut    *decimal.Decimal // optional, liters of water detected
	TakenAt     time.Time
}

// MeterReading is a cumulative dispensed-volume counter from one pump
// meter. Sales volume for a day is the closing-opening delta, with reset
// detection: a decreasing counter means rollover/replacement, never
// negative sales.
type MeterReading struct {
	MeterID  MeterID
	TankID   TankID
	Day      Day
	Position ReadingPosition
	Counter  decimal.Decimal
	TakenAt  time.Time
}

// DeliveryEvent records fuel received into a tank. Appending a delivery
// creates exactly one CostLayer; LayerID links the two.
type DeliveryEvent struct {
	ID         string
	TankID     TankID
	Volume     decimal.Decimal
	UnitCost   decimal.Decimal
	ReceivedAt time.Time
	LayerID    LayerID
}

// =============================================================================
// RECONCILIATION RECORD - Daily balance for one tank
// =============================================================================

// ReconciliationRecord links dips, meters, and deliveries for one tank-day.
// Immutable after creation except for the alert back-reference and the
// voided marker.
type ReconciliationRecord struct {
	ID     RecordID
	TankID TankID
	Day    Day

	OpeningVolume   decimal.Decimal
	ClosingVolume   decimal.Decimal // actual closing dip
	DeliveredVolume decimal.Decimal
	DispensedVolume decimal.Decimal
	ExpectedClosing decimal.Decimal // opening + delivered - dispensed
	VarianceLiters  decimal.Decimal // actual - expected

	// VariancePercent is nil when ExpectedClosing is zero; the division
	// is undefined, not an error.
	VariancePercent *decimal.Decimal

	// MeterReset flags that at least one meter counter decreased during
	// the day and the post-reset portion was used.
	MeterReset bool

	// CostDataInconsistent flags that metered dispensed volume exceeded
	// remaining layer inventory, so no cost basis was pinned for the day.
	CostDataInconsistent bool

	AlertID   AlertID // back-reference only, empty when no alert
	Voided    bool
	VoidedAt  *time.Time
	CreatedAt time.Time
}

// LayerConsumption is the FIFO cost attribution produced when a
// reconciliation pins the cost basis for a day's sales. It doubles as the
// COGS source for margin calculation and the reversal log for Void.
type LayerConsumption struct {
	RecordID RecordID
	LayerID  LayerID
	TankID   TankID
	Sequence int64
	Volume   decimal.Decimal
	UnitCost decimal.Decimal
	Cost     decimal.Decimal // Volume * UnitCost, rounded
}

// =============================================================================
// VARIANCE ALERT - Investigation workflow object
// =============================================================================

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

type AlertStatus string

const (
	StatusOpen          AlertStatus = "open"
	StatusInvestigating AlertStatus = "investigating"
	StatusResolved      AlertStatus = "resolved"
)

type AlertAction string

const (
	ActionCreate             AlertAction = "create"
	ActionBeginInvestigation AlertAction = "begin_investigation"
	ActionResolve            AlertAction = "resolve"
	ActionReopen             AlertAction = "reopen"
)

// VarianceAlert is created (at most once) for a reconciliation record whose
// variance breaches the configured thresholds. Severity is fixed at
// creation time; reopening does not reclassify.
type VarianceAlert struct {
	ID       AlertID
	RecordID RecordID
	TankID   TankID
	Severity Severity
	Status   AlertStatus

	// Resolution fields; cleared on reopen, preserved in History.
	ResolutionNotes string
	ResolvedBy      string
	ResolvedAt      *time.Time

	// History is the append-only audit trail of every transition,
	// including creation. Never overwritten in place.
	History []AlertTransition

	CreatedAt time.Time
}

// AlertTransition is one entry in an alert's audit trail.
type AlertTransition struct {
	From   AlertStatus // empty for the creation entry
	To     AlertStatus
	Action AlertAction
	Actor  string
	Notes  string
	At     time.Time
}

// =============================================================================
// PRICING & REPORTING OUTPUTS
// =============================================================================

// PriceRecord is the externally supplied selling price, read-only to the
// engine. EffectiveTo nil means open-ended.
type PriceRecord struct {
	StationID     StationID
	Fuel          FuelType
	PricePerLiter decimal.Decimal
	EffectiveFrom Day
	EffectiveTo   *Day
}

// Covers reports whether the price is active on the given day.
func (p PriceRecord) Covers(day Day) bool {
	if day.Before(p.EffectiveFrom) {
		return false
	}
	return p.EffectiveTo == nil || !day.After(*p.EffectiveTo)
}

// MarginReport is the per-fuel profit figure for a period, computed from
// the FIFO cost basis against the active selling price.
type MarginReport struct {
	StationID       StationID
	TankID          TankID // empty for station-level aggregation
	Fuel            FuelType
	Period          Period
	DispensedVolume decimal.Decimal
	Revenue         decimal.Decimal
	COGS            decimal.Decimal
	GrossProfit     decimal.Decimal
	MarginPercent   *decimal.Decimal // nil when revenue is zero
}

// CostSnapshot is the current FIFO cost state of a tank.
type CostSnapshot struct {
	TankID         TankID
	AverageCost    *decimal.Decimal // nil when no layers remain (missing data, not zero)
	TotalRemaining decimal.Decimal
	Layers         []CostLayer // layers with remaining volume, FIFO order
}
