/*
service.go - Public facade with per-tank write serialization

PURPOSE:
  Service is the API the host application consumes. It wires the ledger,
  reconciler, classifier, workflow, and margin calculator over one Store
  and enforces the concurrency model:

  - No cross-tank shared mutable state: different tanks reconcile freely
    in parallel.
  - Within a tank, AppendDelivery / Reconcile / Void are strictly
    serialized by a per-tank mutex - concurrent consumes would race on
    layer remaining-volume and break the FIFO invariant.
  - Reads go straight to the store, which provides consistent snapshots.

  The engine performs no network I/O and no retries; every failure is a
  typed error for the caller to act on.
*/
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service is the engine's public API surface.
type Service struct {
	store      Store
	ledger     *CostLedger
	reconciler *Reconciler
	classifier *Classifier
	workflow   *AlertWorkflow
	margin     *MarginCalculator

	tankLocks sync.Map // TankID -> *sync.Mutex
}

func NewService(store Store, thresholds Thresholds) *Service {
	ledger := NewCostLedger(store)
	return &Service{
		store:      store,
		ledger:     ledger,
		reconciler: &Reconciler{Store: store, Ledger: ledger},
		classifier: NewClassifier(store, thresholds),
		workflow:   NewAlertWorkflow(store),
		margin:     NewMarginCalculator(store),
	}
}

// lockTank serializes writers of one tank's layer queue and records.
func (s *Service) lockTank(id TankID) func() {
	v, _ := s.tankLocks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func (s *Service) Reconcile(ctx context.Context, tankID TankID, day Day) (*ReconciliationRecord, error) {
	defer s.lockTank(tankID)()
	return s.reconciler.Reconcile(ctx, tankID, day)
}

func (s *Service) VoidReconciliation(ctx context.Context, recordID RecordID) error {
	record, err := s.store.Record(ctx, recordID)
	if err != nil {
		return err
	}
	defer s.lockTank(record.TankID)()
	return s.reconciler.Void(ctx, recordID)
}

func (s *Service) Record(ctx context.Context, recordID RecordID) (*ReconciliationRecord, error) {
	return s.store.Record(ctx, recordID)
}

func (s *Service) RecordsInPeriod(ctx context.Context, tankID TankID, period Period) ([]ReconciliationRecord, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	return s.store.RecordsInPeriod(ctx, tankID, period)
}

// Consumptions returns the FIFO cost attribution pinned by a record.
func (s *Service) Consumptions(ctx context.Context, recordID RecordID) ([]LayerConsumption, error) {
	if _, err := s.store.Record(ctx, recordID); err != nil {
		return nil, err
	}
	return s.store.Consumptions(ctx, recordID)
}

// =============================================================================
// ALERTS
// =============================================================================

func (s *Service) ClassifyAndAlert(ctx context.Context, recordID RecordID) (*VarianceAlert, error) {
	return s.classifier.ClassifyAndAlert(ctx, recordID)
}

func (s *Service) TransitionAlert(ctx context.Context, alertID AlertID, action AlertAction, actor, notes string) (*VarianceAlert, error) {
	return s.workflow.Transition(ctx, alertID, action, actor, notes)
}

func (s *Service) Alert(ctx context.Context, alertID AlertID) (*VarianceAlert, error) {
	return s.store.Alert(ctx, alertID)
}

func (s *Service) AlertsByStatus(ctx context.Context, status AlertStatus) ([]VarianceAlert, error) {
	return s.store.AlertsByStatus(ctx, status)
}

// =============================================================================
// COST & MARGIN
// =============================================================================

func (s *Service) AppendDelivery(ctx context.Context, tankID TankID, volume, unitCost decimal.Decimal, receivedAt time.Time) (*CostLayer, error) {
	defer s.lockTank(tankID)()

	if _, err := s.store.Tank(ctx, tankID); err != nil {
		return nil, err
	}
	layer, err := s.ledger.AppendDelivery(ctx, tankID, volume, unitCost, receivedAt)
	if err != nil {
		return nil, err
	}

	event := DeliveryEvent{
		ID:         uuid.NewString(),
		TankID:     tankID,
		Volume:     layer.OriginalVolume,
		UnitCost:   layer.UnitCost,
		ReceivedAt: receivedAt,
		LayerID:    layer.ID,
	}
	if err := s.store.SaveDelivery(ctx, event); err != nil {
		return nil, err
	}
	return layer, nil
}

func (s *Service) TankCostSnapshot(ctx context.Context, tankID TankID) (*CostSnapshot, error) {
	if _, err := s.store.Tank(ctx, tankID); err != nil {
		return nil, err
	}
	return s.ledger.Snapshot(ctx, tankID)
}

func (s *Service) ComputeMargin(ctx context.Context, tankID TankID, period Period) (*MarginReport, error) {
	return s.margin.TankMargin(ctx, tankID, period)
}

func (s *Service) ComputeStationMargin(ctx context.Context, stationID StationID, period Period) ([]MarginReport, error) {
	return s.margin.StationMargin(ctx, stationID, period)
}

// =============================================================================
// INGESTION - readings, prices, tank registry
// =============================================================================

func (s *Service) RecordDipReading(ctx context.Context, reading DipReading) error {
	tank, err := s.store.Tank(ctx, reading.TankID)
	if err != nil {
		return err
	}
	// A dip below zero or above physical capacity is corrupted input.
	if reading.Volume.IsNegative() || reading.Volume.GreaterThan(tank.Capacity) {
		return ErrInvalidQuantity
	}
	return s.store.SaveDipReading(ctx, reading)
}

func (s *Service) RecordMeterReading(ctx context.Context, reading MeterReading) error {
	if _, err := s.store.Tank(ctx, reading.TankID); err != nil {
		return err
	}
	if reading.Counter.IsNegative() {
		return ErrInvalidQuantity
	}
	return s.store.SaveMeterReading(ctx, reading)
}

func (s *Service) SavePrice(ctx context.Context, price PriceRecord) error {
	if !price.PricePerLiter.IsPositive() {
		return ErrInvalidQuantity
	}
	if price.EffectiveTo != nil && price.EffectiveTo.Before(price.EffectiveFrom) {
		return ErrInvalidPeriod
	}
	return s.store.SavePrice(ctx, price)
}

func (s *Service) SaveTank(ctx context.Context, tank Tank) error {
	if !tank.Capacity.IsPositive() {
		return ErrInvalidQuantity
	}
	if tank.CreatedAt.IsZero() {
		tank.CreatedAt = time.Now().UTC()
	}
	return s.store.SaveTank(ctx, tank)
}

func (s *Service) Tank(ctx context.Context, id TankID) (*Tank, error) { return s.store.Tank(ctx, id) }
func (s *Service) Tanks(ctx context.Context) ([]Tank, error)          { return s.store.Tanks(ctx) }
