/*
store.go - Persistence interfaces for the reconciliation engine

PURPOSE:
  Defines the interface between the domain logic and the database. The
  engine performs no I/O of its own; readings, layers, records, and alerts
  flow through these interfaces. Different implementations can use SQLite
  or in-memory storage.

KEY INTERFACES:
  TankStore:           Tank registry
  LayerStore:          FIFO cost layers (append-only except RemainingVolume)
  ReadingStore:        Dip/meter readings and delivery events
  ReconciliationStore: Daily records and their layer consumptions
  AlertStore:          Variance alerts with append-only transition history
  Store:               All of the above, for single-backend wiring

MUTABILITY CONTRACT:
  - Cost layers: Sequence, OriginalVolume, UnitCost are immutable; only
    RemainingVolume changes, through SetLayerRemaining.
  - Reconciliation records: immutable after creation except the alert
    back-reference and the voided marker.
  - Layer consumptions: append-only; voiding a record restores layer
    volumes but keeps the consumption rows as audit.
  - Alert transitions: append-only. Never updated, never deleted.

NOT-FOUND SEMANTICS:
  Getters return the package's not-found sentinels (ErrTankNotFound,
  ErrRecordNotFound, ...) rather than (nil, nil), so callers branch with
  errors.Is.

IMPLEMENTATIONS:
  - store/sqlite:       Production SQLite
  - engine/store:       In-memory for testing/dev

SEE ALSO:
  - ledger.go:    Uses LayerStore
  - reconcile.go: Uses ReadingStore + ReconciliationStore
  - alert.go:     Uses AlertStore
*/
package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TANK STORE
// =============================================================================

type TankStore interface {
	SaveTank(ctx context.Context, tank Tank) error
	Tank(ctx context.Context, id TankID) (*Tank, error)
	Tanks(ctx context.Context) ([]Tank, error)
	TanksByStation(ctx context.Context, stationID StationID) ([]Tank, error)

	// UpdateTankVolume sets the dip-derived current volume.
	UpdateTankVolume(ctx context.Context, id TankID, volume decimal.Decimal) error
}

// =============================================================================
// LAYER STORE
// =============================================================================

type LayerStore interface {
	// AppendLayer persists a new cost layer. Layers are append-only.
	AppendLayer(ctx context.Context, layer CostLayer) error

	// Layers returns all layers for a tank ordered by Sequence ascending,
	// including exhausted ones.
	Layers(ctx context.Context, tankID TankID) ([]CostLayer, error)

	// SetLayerRemaining updates the only mutable layer field.
	SetLayerRemaining(ctx context.Context, id LayerID, remaining decimal.Decimal) error

	// NextLayerSequence returns the next monotonic sequence number for a tank.
	NextLayerSequence(ctx context.Context, tankID TankID) (int64, error)
}

// =============================================================================
// READING STORE
// =============================================================================

type ReadingStore interface {
	// SaveDipReading upserts the reading for (tank, day, position);
	// a re-recorded dip is a correction of the same observation slot.
	SaveDipReading(ctx context.Context, reading DipReading) error
	DipReading(ctx context.Context, tankID TankID, day Day, pos ReadingPosition) (*DipReading, error)

	// SaveMeterReading upserts the reading for (meter, day, position).
	SaveMeterReading(ctx context.Context, reading MeterReading) error

	// MeterReadings returns all meter readings for a tank-day, both
	// positions, every meter.
	MeterReadings(ctx context.Context, tankID TankID, day Day) ([]MeterReading, error)

	SaveDelivery(ctx context.Context, event DeliveryEvent) error
	Deliveries(ctx context.Context, tankID TankID, day Day) ([]DeliveryEvent, error)
}

// =============================================================================
// RECONCILIATION STORE
// =============================================================================

type ReconciliationStore interface {
	SaveRecord(ctx context.Context, record ReconciliationRecord) error
	Record(ctx context.Context, id RecordID) (*ReconciliationRecord, error)

	// LiveRecord returns the non-voided record for a tank-day, or
	// ErrRecordNotFound.
	LiveRecord(ctx context.Context, tankID TankID, day Day) (*ReconciliationRecord, error)

	// RecordsInPeriod returns non-voided records ordered by day.
	RecordsInPeriod(ctx context.Context, tankID TankID, period Period) ([]ReconciliationRecord, error)

	MarkRecordVoided(ctx context.Context, id RecordID, at time.Time) error
	SetRecordAlert(ctx context.Context, id RecordID, alertID AlertID) error

	// SaveConsumptions persists the FIFO attribution for a record atomically.
	SaveConsumptions(ctx context.Context, consumptions []LayerConsumption) error
	Consumptions(ctx context.Context, recordID RecordID) ([]LayerConsumption, error)
}

// =============================================================================
// ALERT STORE
// =============================================================================

type AlertStore interface {
	SaveAlert(ctx context.Context, alert VarianceAlert) error

	// UpdateAlertState persists status and resolution fields. Severity,
	// RecordID, and CreatedAt never change after creation.
	UpdateAlertState(ctx context.Context, alert VarianceAlert) error

	// Alert returns the alert with its full transition history.
	Alert(ctx context.Context, id AlertID) (*VarianceAlert, error)
	AlertForRecord(ctx context.Context, recordID RecordID) (*VarianceAlert, error)
	AlertsByStatus(ctx context.Context, status AlertStatus) ([]VarianceAlert, error)

	// AppendTransition adds one entry to the alert's audit trail.
	AppendTransition(ctx context.Context, id AlertID, tr AlertTransition) error
}

// =============================================================================
// PRICE STORE
// =============================================================================

type PriceStore interface {
	SavePrice(ctx context.Context, price PriceRecord) error

	// ActivePrice returns the price covering the day, or a *NoPriceError.
	// When effective ranges overlap, the latest EffectiveFrom wins.
	ActivePrice(ctx context.Context, stationID StationID, fuel FuelType, day Day) (*PriceRecord, error)
}

// =============================================================================
// COMPOSED STORE
// =============================================================================

// Store is the full persistence surface the engine Service wires against.
type Store interface {
	TankStore
	LayerStore
	ReadingStore
	ReconciliationStore
	AlertStore
	PriceStore
}
