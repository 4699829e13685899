// Package store provides an in-memory engine.Store implementation
// (for testing/dev).
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fuelops/recon-engine/engine"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	tanks         map[engine.TankID]engine.Tank
	layers        map[engine.TankID][]engine.CostLayer // sorted by sequence
	dips          map[dipKey]engine.DipReading
	meters        map[meterKey]engine.MeterReading
	deliveries    map[engine.TankID][]engine.DeliveryEvent
	records       map[engine.RecordID]engine.ReconciliationRecord
	recordsByTank map[engine.TankID][]engine.RecordID
	consumptions  map[engine.RecordID][]engine.LayerConsumption
	alerts        map[engine.AlertID]engine.VarianceAlert
	alertByRecord map[engine.RecordID]engine.AlertID
	transitions   map[engine.AlertID][]engine.AlertTransition
	prices        []engine.PriceRecord
}

type dipKey struct {
	Tank     engine.TankID
	Day      string
	Position engine.ReadingPosition
}

type meterKey struct {
	Meter    engine.MeterID
	Day      string
	Position engine.ReadingPosition
}

func NewMemory() *Memory {
	return &Memory{
		tanks:         make(map[engine.TankID]engine.Tank),
		layers:        make(map[engine.TankID][]engine.CostLayer),
		dips:          make(map[dipKey]engine.DipReading),
		meters:        make(map[meterKey]engine.MeterReading),
		deliveries:    make(map[engine.TankID][]engine.DeliveryEvent),
		records:       make(map[engine.RecordID]engine.ReconciliationRecord),
		recordsByTank: make(map[engine.TankID][]engine.RecordID),
		consumptions:  make(map[engine.RecordID][]engine.LayerConsumption),
		alerts:        make(map[engine.AlertID]engine.VarianceAlert),
		alertByRecord: make(map[engine.RecordID]engine.AlertID),
		transitions:   make(map[engine.AlertID][]engine.AlertTransition),
	}
}

// =============================================================================
// TANK STORE
// =============================================================================

func (m *Memory) SaveTank(_ context.Context, tank engine.Tank) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tanks[tank.ID] = tank
	return nil
}

func (m *Memory) Tank(_ context.Context, id engine.TankID) (*engine.Tank, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tank, ok := m.tanks[id]
	if !ok {
		return nil, engine.ErrTankNotFound
	}
	return &tank, nil
}

func (m *Memory) Tanks(_ context.Context) ([]engine.Tank, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]engine.Tank, 0, len(m.tanks))
	for _, t := range m.tanks {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) TanksByStation(_ context.Context, stationID engine.StationID) ([]engine.Tank, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []engine.Tank
	for _, t := range m.tanks {
		if t.StationID == stationID {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) UpdateTankVolume(_ context.Context, id engine.TankID, volume decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tank, ok := m.tanks[id]
	if !ok {
		return engine.ErrTankNotFound
	}
	tank.CurrentVolume = volume
	m.tanks[id] = tank
	return nil
}

// =============================================================================
// LAYER STORE
// =============================================================================

func (m *Memory) AppendLayer(_ context.Context, layer engine.CostLayer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.layers[layer.TankID] = append(m.layers[layer.TankID], layer)
	return nil
}

func (m *Memory) Layers(_ context.Context, tankID engine.TankID) ([]engine.CostLayer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]engine.CostLayer, len(m.layers[tankID]))
	copy(result, m.layers[tankID])
	return result, nil
}

func (m *Memory) SetLayerRemaining(_ context.Context, id engine.LayerID, remaining decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for tankID, layers := range m.layers {
		for i := range layers {
			if layers[i].ID == id {
				layers[i].RemainingVolume = remaining
				m.layers[tankID] = layers
				return nil
			}
		}
	}
	return engine.ErrLayerNotFound
}

func (m *Memory) NextLayerSequence(_ context.Context, tankID engine.TankID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	layers := m.layers[tankID]
	if len(layers) == 0 {
		return 1, nil
	}
	return layers[len(layers)-1].Sequence + 1, nil
}

// =============================================================================
// READING STORE
// =============================================================================

func (m *Memory) SaveDipReading(_ context.Context, reading engine.DipReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dips[dipKey{reading.TankID, reading.Day.String(), reading.Position}] = reading
	return nil
}

func (m *Memory) DipReading(_ context.Context, tankID engine.TankID, day engine.Day, pos engine.ReadingPosition) (*engine.DipReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reading, ok := m.dips[dipKey{tankID, day.String(), pos}]
	if !ok {
		return nil, engine.ErrReadingNotFound
	}
	return &reading, nil
}

func (m *Memory) SaveMeterReading(_ context.Context, reading engine.MeterReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meters[meterKey{reading.MeterID, reading.Day.String(), reading.Position}] = reading
	return nil
}

func (m *Memory) MeterReadings(_ context.Context, tankID engine.TankID, day engine.Day) ([]engine.MeterReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []engine.MeterReading
	for _, r := range m.meters {
		if r.TankID == tankID && r.Day.Equal(day) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].MeterID != result[j].MeterID {
			return result[i].MeterID < result[j].MeterID
		}
		return result[i].Position < result[j].Position
	})
	return result, nil
}

func (m *Memory) SaveDelivery(_ context.Context, event engine.DeliveryEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries[event.TankID] = append(m.deliveries[event.TankID], event)
	return nil
}

func (m *Memory) Deliveries(_ context.Context, tankID engine.TankID, day engine.Day) ([]engine.DeliveryEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []engine.DeliveryEvent
	for _, d := range m.deliveries[tankID] {
		if engine.DayOf(d.ReceivedAt).Equal(day) {
			result = append(result, d)
		}
	}
	return result, nil
}

// =============================================================================
// RECONCILIATION STORE
// =============================================================================

func (m *Memory) SaveRecord(_ context.Context, record engine.ReconciliationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.ID] = record
	m.recordsByTank[record.TankID] = append(m.recordsByTank[record.TankID], record.ID)
	return nil
}

func (m *Memory) Record(_ context.Context, id engine.RecordID) (*engine.ReconciliationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[id]
	if !ok {
		return nil, engine.ErrRecordNotFound
	}
	return &record, nil
}

func (m *Memory) LiveRecord(_ context.Context, tankID engine.TankID, day engine.Day) (*engine.ReconciliationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.recordsByTank[tankID] {
		record := m.records[id]
		if record.Day.Equal(day) && !record.Voided {
			return &record, nil
		}
	}
	return nil, engine.ErrRecordNotFound
}

func (m *Memory) RecordsInPeriod(_ context.Context, tankID engine.TankID, period engine.Period) ([]engine.ReconciliationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []engine.ReconciliationRecord
	for _, id := range m.recordsByTank[tankID] {
		record := m.records[id]
		if !record.Voided && period.Contains(record.Day) {
			result = append(result, record)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Day.Before(result[j].Day) })
	return result, nil
}

func (m *Memory) MarkRecordVoided(_ context.Context, id engine.RecordID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return engine.ErrRecordNotFound
	}
	record.Voided = true
	record.VoidedAt = &at
	m.records[id] = record
	return nil
}

func (m *Memory) SetRecordAlert(_ context.Context, id engine.RecordID, alertID engine.AlertID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return engine.ErrRecordNotFound
	}
	record.AlertID = alertID
	m.records[id] = record
	return nil
}

func (m *Memory) SaveConsumptions(_ context.Context, consumptions []engine.LayerConsumption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range consumptions {
		m.consumptions[c.RecordID] = append(m.consumptions[c.RecordID], c)
	}
	return nil
}

func (m *Memory) Consumptions(_ context.Context, recordID engine.RecordID) ([]engine.LayerConsumption, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]engine.LayerConsumption, len(m.consumptions[recordID]))
	copy(result, m.consumptions[recordID])
	return result, nil
}

// =============================================================================
// ALERT STORE
// =============================================================================

func (m *Memory) SaveAlert(_ context.Context, alert engine.VarianceAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert.History = nil // history lives in the transitions log
	m.alerts[alert.ID] = alert
	m.alertByRecord[alert.RecordID] = alert.ID
	return nil
}

func (m *Memory) UpdateAlertState(_ context.Context, alert engine.VarianceAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.alerts[alert.ID]
	if !ok {
		return engine.ErrAlertNotFound
	}
	stored.Status = alert.Status
	stored.ResolutionNotes = alert.ResolutionNotes
	stored.ResolvedBy = alert.ResolvedBy
	stored.ResolvedAt = alert.ResolvedAt
	m.alerts[alert.ID] = stored
	return nil
}

func (m *Memory) Alert(_ context.Context, id engine.AlertID) (*engine.VarianceAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	alert, ok := m.alerts[id]
	if !ok {
		return nil, engine.ErrAlertNotFound
	}
	alert.History = make([]engine.AlertTransition, len(m.transitions[id]))
	copy(alert.History, m.transitions[id])
	return &alert, nil
}

func (m *Memory) AlertForRecord(ctx context.Context, recordID engine.RecordID) (*engine.VarianceAlert, error) {
	m.mu.RLock()
	id, ok := m.alertByRecord[recordID]
	m.mu.RUnlock()
	if !ok {
		return nil, engine.ErrAlertNotFound
	}
	return m.Alert(ctx, id)
}

func (m *Memory) AlertsByStatus(_ context.Context, status engine.AlertStatus) ([]engine.VarianceAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []engine.VarianceAlert
	for id, alert := range m.alerts {
		if alert.Status != status {
			continue
		}
		alert.History = make([]engine.AlertTransition, len(m.transitions[id]))
		copy(alert.History, m.transitions[id])
		result = append(result, alert)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) AppendTransition(_ context.Context, id engine.AlertID, tr engine.AlertTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[id]; !ok {
		return engine.ErrAlertNotFound
	}
	m.transitions[id] = append(m.transitions[id], tr)
	return nil
}

// =============================================================================
// PRICE STORE
// =============================================================================

func (m *Memory) SavePrice(_ context.Context, price engine.PriceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices = append(m.prices, price)
	return nil
}

func (m *Memory) ActivePrice(_ context.Context, stationID engine.StationID, fuel engine.FuelType, day engine.Day) (*engine.PriceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *engine.PriceRecord
	for i := range m.prices {
		p := m.prices[i]
		if p.StationID != stationID || p.Fuel != fuel || !p.Covers(day) {
			continue
		}
		if best == nil || p.EffectiveFrom.After(best.EffectiveFrom) {
			best = &p
		}
	}
	if best == nil {
		return nil, &engine.NoPriceError{StationID: stationID, Fuel: fuel, Day: day}
	}
	return best, nil
}
