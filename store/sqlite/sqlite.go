/*
Package sqlite provides a SQLite-backed implementation of the engine
storage interfaces.

PURPOSE:
  Implements engine.Store (tanks, cost layers, readings, reconciliation
  records, alerts, prices) using SQLite. The same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

MUTABILITY ENFORCEMENT:
  - cost_layers:        INSERT plus a single-column UPDATE of
                        remaining_volume; sequence/cost/volume never change
  - layer_consumptions: INSERT only
  - alert_transitions:  INSERT only - the audit trail is an append log,
                        never a mutable row
  - reconciliation_records: immutable except alert_id and voided markers

KEY INDEXES:
  idx_records_live_day: unique partial index guaranteeing at most one
  non-voided record per tank-day - the DuplicateReconciliation invariant
  enforced at the storage layer as well as in the engine.

CONCURRENCY:
  sync.RWMutex on top of WAL mode: multiple readers, single writer,
  matching the engine's single-writer-per-tank discipline.

USAGE:
  store, err := sqlite.New("./data/recon.db")
  if err != nil { ... }
  defer store.Close()
  svc := engine.NewService(store, engine.DefaultThresholds())

SEE ALSO:
  - engine/store.go:        Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/fuelops/recon-engine/engine"
)

// Store implements engine.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and matches
	// the store's single-writer locking.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tanks (
		id TEXT PRIMARY KEY,
		station_id TEXT NOT NULL,
		fuel TEXT NOT NULL,
		capacity TEXT NOT NULL,
		current_volume TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tanks_station ON tanks(station_id);

	-- Cost layers: append-only except remaining_volume
	CREATE TABLE IF NOT EXISTS cost_layers (
		id TEXT PRIMARY KEY,
		tank_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		original_volume TEXT NOT NULL,
		remaining_volume TEXT NOT NULL,
		unit_cost TEXT NOT NULL,
		received_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(tank_id, sequence)
	);

	CREATE INDEX IF NOT EXISTS idx_layers_tank_seq ON cost_layers(tank_id, sequence);

	CREATE TABLE IF NOT EXISTS dip_readings (
		tank_id TEXT NOT NULL,
		day TEXT NOT NULL,
		position TEXT NOT NULL,
		volume TEXT NOT NULL,
		temperature TEXT,
		water_cut TEXT,
		taken_at TEXT NOT NULL,
		PRIMARY KEY (tank_id, day, position)
	);

	CREATE TABLE IF NOT EXISTS meter_readings (
		meter_id TEXT NOT NULL,
		tank_id TEXT NOT NULL,
		day TEXT NOT NULL,
		position TEXT NOT NULL,
		counter TEXT NOT NULL,
		taken_at TEXT NOT NULL,
		PRIMARY KEY (meter_id, day, position)
	);

	CREATE INDEX IF NOT EXISTS idx_meter_readings_tank_day ON meter_readings(tank_id, day);

	CREATE TABLE IF NOT EXISTS deliveries (
		id TEXT PRIMARY KEY,
		tank_id TEXT NOT NULL,
		volume TEXT NOT NULL,
		unit_cost TEXT NOT NULL,
		received_at TEXT NOT NULL,
		layer_id TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deliveries_tank_day ON deliveries(tank_id, received_at);

	CREATE TABLE IF NOT EXISTS reconciliation_records (
		id TEXT PRIMARY KEY,
		tank_id TEXT NOT NULL,
		day TEXT NOT NULL,
		opening_volume TEXT NOT NULL,
		closing_volume TEXT NOT NULL,
		delivered_volume TEXT NOT NULL,
		dispensed_volume TEXT NOT NULL,
		expected_closing TEXT NOT NULL,
		variance_liters TEXT NOT NULL,
		variance_percent TEXT,
		meter_reset INTEGER NOT NULL DEFAULT 0,
		cost_inconsistent INTEGER NOT NULL DEFAULT 0,
		alert_id TEXT,
		voided INTEGER NOT NULL DEFAULT 0,
		voided_at TEXT,
		created_at TEXT NOT NULL
	);

	-- At most one live record per tank-day.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_records_live_day
		ON reconciliation_records(tank_id, day) WHERE voided = 0;
	CREATE INDEX IF NOT EXISTS idx_records_tank_day
		ON reconciliation_records(tank_id, day);

	-- FIFO cost attribution: append-only
	CREATE TABLE IF NOT EXISTS layer_consumptions (
		record_id TEXT NOT NULL,
		layer_id TEXT NOT NULL,
		tank_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		volume TEXT NOT NULL,
		unit_cost TEXT NOT NULL,
		cost TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_consumptions_record ON layer_consumptions(record_id);

	CREATE TABLE IF NOT EXISTS variance_alerts (
		id TEXT PRIMARY KEY,
		record_id TEXT NOT NULL UNIQUE,
		tank_id TEXT NOT NULL,
		severity TEXT NOT NULL,
		status TEXT NOT NULL,
		resolution_notes TEXT,
		resolved_by TEXT,
		resolved_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_status ON variance_alerts(status);

	-- Append-only transition history
	CREATE TABLE IF NOT EXISTS alert_transitions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		alert_id TEXT NOT NULL,
		from_status TEXT,
		to_status TEXT NOT NULL,
		action TEXT NOT NULL,
		actor TEXT NOT NULL,
		notes TEXT,
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transitions_alert ON alert_transitions(alert_id, seq);

	CREATE TABLE IF NOT EXISTS price_records (
		station_id TEXT NOT NULL,
		fuel TEXT NOT NULL,
		price_per_liter TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		effective_to TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_prices_lookup ON price_records(station_id, fuel, effective_from);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TANK STORE
// =============================================================================

func (s *Store) SaveTank(ctx context.Context, tank engine.Tank) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tanks (id, station_id, fuel, capacity, current_volume, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			station_id = excluded.station_id,
			fuel = excluded.fuel,
			capacity = excluded.capacity,
			current_volume = excluded.current_volume`,
		tank.ID, tank.StationID, tank.Fuel,
		tank.Capacity.String(), tank.CurrentVolume.String(),
		tank.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) Tank(ctx context.Context, id engine.TankID) (*engine.Tank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, station_id, fuel, capacity, current_volume, created_at
		FROM tanks WHERE id = ?`, id)
	tank, err := scanTank(row)
	if err == sql.ErrNoRows {
		return nil, engine.ErrTankNotFound
	}
	if err != nil {
		return nil, err
	}
	return tank, nil
}

func (s *Store) Tanks(ctx context.Context) ([]engine.Tank, error) {
	return s.queryTanks(ctx, `
		SELECT id, station_id, fuel, capacity, current_volume, created_at
		FROM tanks ORDER BY id`)
}

func (s *Store) TanksByStation(ctx context.Context, stationID engine.StationID) ([]engine.Tank, error) {
	return s.queryTanks(ctx, `
		SELECT id, station_id, fuel, capacity, current_volume, created_at
		FROM tanks WHERE station_id = ? ORDER BY id`, stationID)
}

func (s *Store) UpdateTankVolume(ctx context.Context, id engine.TankID, volume decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE tanks SET current_volume = ? WHERE id = ?`, volume.String(), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return engine.ErrTankNotFound
	}
	return nil
}

func (s *Store) queryTanks(ctx context.Context, query string, args ...any) ([]engine.Tank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tanks []engine.Tank
	for rows.Next() {
		tank, err := scanTank(rows)
		if err != nil {
			return nil, err
		}
		tanks = append(tanks, *tank)
	}
	return tanks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTank(row rowScanner) (*engine.Tank, error) {
	var (
		tank                         engine.Tank
		capacity, current, createdAt string
	)
	if err := row.Scan(&tank.ID, &tank.StationID, &tank.Fuel, &capacity, &current, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if tank.Capacity, err = decimal.NewFromString(capacity); err != nil {
		return nil, err
	}
	if tank.CurrentVolume, err = decimal.NewFromString(current); err != nil {
		return nil, err
	}
	tank.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &tank, nil
}

// =============================================================================
// LAYER STORE
// =============================================================================

func (s *Store) AppendLayer(ctx context.Context, layer engine.CostLayer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cost_layers
		(id, tank_id, sequence, original_volume, remaining_volume, unit_cost, received_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		layer.ID, layer.TankID, layer.Sequence,
		layer.OriginalVolume.String(), layer.RemainingVolume.String(), layer.UnitCost.String(),
		layer.ReceivedAt.UTC().Format(time.RFC3339),
		layer.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append layer: %w", err)
	}
	return nil
}

func (s *Store) Layers(ctx context.Context, tankID engine.TankID) ([]engine.CostLayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tank_id, sequence, original_volume, remaining_volume, unit_cost, received_at, created_at
		FROM cost_layers WHERE tank_id = ? ORDER BY sequence ASC`, tankID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var layers []engine.CostLayer
	for rows.Next() {
		var (
			layer                                 engine.CostLayer
			original, remaining, cost, recv, crea string
		)
		if err := rows.Scan(&layer.ID, &layer.TankID, &layer.Sequence, &original, &remaining, &cost, &recv, &crea); err != nil {
			return nil, err
		}
		if layer.OriginalVolume, err = decimal.NewFromString(original); err != nil {
			return nil, err
		}
		if layer.RemainingVolume, err = decimal.NewFromString(remaining); err != nil {
			return nil, err
		}
		if layer.UnitCost, err = decimal.NewFromString(cost); err != nil {
			return nil, err
		}
		layer.ReceivedAt, _ = time.Parse(time.RFC3339, recv)
		layer.CreatedAt, _ = time.Parse(time.RFC3339, crea)
		layers = append(layers, layer)
	}
	return layers, rows.Err()
}

func (s *Store) SetLayerRemaining(ctx context.Context, id engine.LayerID, remaining decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE cost_layers SET remaining_volume = ? WHERE id = ?`, remaining.String(), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return engine.ErrLayerNotFound
	}
	return nil
}

func (s *Store) NextLayerSequence(ctx context.Context, tankID engine.TankID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM cost_layers WHERE tank_id = ?`, tankID).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max.Int64 + 1, nil
}

// =============================================================================
// READING STORE
// =============================================================================

func (s *Store) SaveDipReading(ctx context.Context, reading engine.DipReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO dip_readings
		(tank_id, day, position, volume, temperature, water_cut, taken_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		reading.TankID, reading.Day.String(), reading.Position,
		reading.Volume.String(),
		nullDecimal(reading.Temperature), nullDecimal(reading.WaterCut),
		reading.TakenAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) DipReading(ctx context.Context, tankID engine.TankID, day engine.Day, pos engine.ReadingPosition) (*engine.DipReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		reading                 engine.DipReading
		dayStr, volume, takenAt string
		temperature, waterCut   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT tank_id, day, position, volume, temperature, water_cut, taken_at
		FROM dip_readings WHERE tank_id = ? AND day = ? AND position = ?`,
		tankID, day.String(), pos,
	).Scan(&reading.TankID, &dayStr, &reading.Position, &volume, &temperature, &waterCut, &takenAt)
	if err == sql.ErrNoRows {
		return nil, engine.ErrReadingNotFound
	}
	if err != nil {
		return nil, err
	}

	if reading.Day, err = engine.ParseDay(dayStr); err != nil {
		return nil, err
	}
	if reading.Volume, err = decimal.NewFromString(volume); err != nil {
		return nil, err
	}
	reading.Temperature = parseNullDecimal(temperature)
	reading.WaterCut = parseNullDecimal(waterCut)
	reading.TakenAt, _ = time.Parse(time.RFC3339, takenAt)
	return &reading, nil
}

func (s *Store) SaveMeterReading(ctx context.Context, reading engine.MeterReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO meter_readings
		(meter_id, tank_id, day, position, counter, taken_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		reading.MeterID, reading.TankID, reading.Day.String(), reading.Position,
		reading.Counter.String(),
		reading.TakenAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) MeterReadings(ctx context.Context, tankID engine.TankID, day engine.Day) ([]engine.MeterReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT meter_id, tank_id, day, position, counter, taken_at
		FROM meter_readings WHERE tank_id = ? AND day = ?
		ORDER BY meter_id, position`, tankID, day.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []engine.MeterReading
	for rows.Next() {
		var (
			reading                  engine.MeterReading
			dayStr, counter, takenAt string
		)
		if err := rows.Scan(&reading.MeterID, &reading.TankID, &dayStr, &reading.Position, &counter, &takenAt); err != nil {
			return nil, err
		}
		if reading.Day, err = engine.ParseDay(dayStr); err != nil {
			return nil, err
		}
		if reading.Counter, err = decimal.NewFromString(counter); err != nil {
			return nil, err
		}
		reading.TakenAt, _ = time.Parse(time.RFC3339, takenAt)
		readings = append(readings, reading)
	}
	return readings, rows.Err()
}

func (s *Store) SaveDelivery(ctx context.Context, event engine.DeliveryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deliveries (id, tank_id, volume, unit_cost, received_at, layer_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.TankID, event.Volume.String(), event.UnitCost.String(),
		event.ReceivedAt.UTC().Format(time.RFC3339), event.LayerID,
	)
	return err
}

func (s *Store) Deliveries(ctx context.Context, tankID engine.TankID, day engine.Day) ([]engine.DeliveryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// received_at is RFC3339 UTC, so a calendar day is a lexicographic range.
	from := day.Time().Format(time.RFC3339)
	to := day.Next().Time().Format(time.RFC3339)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tank_id, volume, unit_cost, received_at, layer_id
		FROM deliveries
		WHERE tank_id = ? AND received_at >= ? AND received_at < ?
		ORDER BY received_at ASC`, tankID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []engine.DeliveryEvent
	for rows.Next() {
		var (
			event                    engine.DeliveryEvent
			volume, cost, receivedAt string
		)
		if err := rows.Scan(&event.ID, &event.TankID, &volume, &cost, &receivedAt, &event.LayerID); err != nil {
			return nil, err
		}
		if event.Volume, err = decimal.NewFromString(volume); err != nil {
			return nil, err
		}
		if event.UnitCost, err = decimal.NewFromString(cost); err != nil {
			return nil, err
		}
		event.ReceivedAt, _ = time.Parse(time.RFC3339, receivedAt)
		events = append(events, event)
	}
	return events, rows.Err()
}

// =============================================================================
// RECONCILIATION STORE
// =============================================================================

func (s *Store) SaveRecord(ctx context.Context, record engine.ReconciliationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var variancePct sql.NullString
	if record.VariancePercent != nil {
		variancePct = sql.NullString{String: record.VariancePercent.String(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_records
		(id, tank_id, day, opening_volume, closing_volume, delivered_volume, dispensed_volume,
		 expected_closing, variance_liters, variance_percent, meter_reset, cost_inconsistent,
		 alert_id, voided, voided_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?)`,
		record.ID, record.TankID, record.Day.String(),
		record.OpeningVolume.String(), record.ClosingVolume.String(),
		record.DeliveredVolume.String(), record.DispensedVolume.String(),
		record.ExpectedClosing.String(), record.VarianceLiters.String(),
		variancePct, boolToInt(record.MeterReset), boolToInt(record.CostDataInconsistent),
		nullString(string(record.AlertID)),
		record.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return engine.ErrDuplicateReconciliation
		}
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

func (s *Store) Record(ctx context.Context, id engine.RecordID) (*engine.ReconciliationRecord, error) {
	records, err := s.queryRecords(ctx, recordSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, engine.ErrRecordNotFound
	}
	return &records[0], nil
}

func (s *Store) LiveRecord(ctx context.Context, tankID engine.TankID, day engine.Day) (*engine.ReconciliationRecord, error) {
	records, err := s.queryRecords(ctx,
		recordSelect+` WHERE tank_id = ? AND day = ? AND voided = 0`, tankID, day.String())
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, engine.ErrRecordNotFound
	}
	return &records[0], nil
}

func (s *Store) RecordsInPeriod(ctx context.Context, tankID engine.TankID, period engine.Period) ([]engine.ReconciliationRecord, error) {
	return s.queryRecords(ctx,
		recordSelect+` WHERE tank_id = ? AND day >= ? AND day <= ? AND voided = 0 ORDER BY day ASC`,
		tankID, period.Start.String(), period.End.String())
}

func (s *Store) MarkRecordVoided(ctx context.Context, id engine.RecordID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE reconciliation_records SET voided = 1, voided_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return engine.ErrRecordNotFound
	}
	return nil
}

func (s *Store) SetRecordAlert(ctx context.Context, id engine.RecordID, alertID engine.AlertID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE reconciliation_records SET alert_id = ? WHERE id = ?`, alertID, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return engine.ErrRecordNotFound
	}
	return nil
}

func (s *Store) SaveConsumptions(ctx context.Context, consumptions []engine.LayerConsumption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer sqlTx.Rollback()

	for _, c := range consumptions {
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO layer_consumptions (record_id, layer_id, tank_id, sequence, volume, unit_cost, cost)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.RecordID, c.LayerID, c.TankID, c.Sequence,
			c.Volume.String(), c.UnitCost.String(), c.Cost.String())
		if err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

func (s *Store) Consumptions(ctx context.Context, recordID engine.RecordID) ([]engine.LayerConsumption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, layer_id, tank_id, sequence, volume, unit_cost, cost
		FROM layer_consumptions WHERE record_id = ? ORDER BY sequence ASC`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var consumptions []engine.LayerConsumption
	for rows.Next() {
		var (
			c                      engine.LayerConsumption
			volume, unitCost, cost string
		)
		if err := rows.Scan(&c.RecordID, &c.LayerID, &c.TankID, &c.Sequence, &volume, &unitCost, &cost); err != nil {
			return nil, err
		}
		if c.Volume, err = decimal.NewFromString(volume); err != nil {
			return nil, err
		}
		if c.UnitCost, err = decimal.NewFromString(unitCost); err != nil {
			return nil, err
		}
		if c.Cost, err = decimal.NewFromString(cost); err != nil {
			return nil, err
		}
		consumptions = append(consumptions, c)
	}
	return consumptions, rows.Err()
}

const recordSelect = `
	SELECT id, tank_id, day, opening_volume, closing_volume, delivered_volume, dispensed_volume,
	       expected_closing, variance_liters, variance_percent, meter_reset, cost_inconsistent,
	       alert_id, voided, voided_at, created_at
	FROM reconciliation_records`

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]engine.ReconciliationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []engine.ReconciliationRecord
	for rows.Next() {
		var (
			record                               engine.ReconciliationRecord
			dayStr, createdAt                    string
			opening, closing, delivered          string
			dispensed, expected, variance        string
			variancePct, alertID, voidedAt       sql.NullString
			meterReset, costInconsistent, voided int
		)
		if err := rows.Scan(&record.ID, &record.TankID, &dayStr,
			&opening, &closing, &delivered, &dispensed, &expected, &variance,
			&variancePct, &meterReset, &costInconsistent,
			&alertID, &voided, &voidedAt, &createdAt); err != nil {
			return nil, err
		}

		if record.Day, err = engine.ParseDay(dayStr); err != nil {
			return nil, err
		}
		if record.OpeningVolume, err = decimal.NewFromString(opening); err != nil {
			return nil, err
		}
		if record.ClosingVolume, err = decimal.NewFromString(closing); err != nil {
			return nil, err
		}
		if record.DeliveredVolume, err = decimal.NewFromString(delivered); err != nil {
			return nil, err
		}
		if record.DispensedVolume, err = decimal.NewFromString(dispensed); err != nil {
			return nil, err
		}
		if record.ExpectedClosing, err = decimal.NewFromString(expected); err != nil {
			return nil, err
		}
		if record.VarianceLiters, err = decimal.NewFromString(variance); err != nil {
			return nil, err
		}
		if variancePct.Valid {
			pct, err := decimal.NewFromString(variancePct.String)
			if err != nil {
				return nil, err
			}
			record.VariancePercent = &pct
		}
		record.MeterReset = meterReset == 1
		record.CostDataInconsistent = costInconsistent == 1
		record.AlertID = engine.AlertID(alertID.String)
		record.Voided = voided == 1
		if voidedAt.Valid {
			t, _ := time.Parse(time.RFC3339, voidedAt.String)
			record.VoidedAt = &t
		}
		record.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		records = append(records, record)
	}
	return records, rows.Err()
}

// =============================================================================
// ALERT STORE
// =============================================================================

func (s *Store) SaveAlert(ctx context.Context, alert engine.VarianceAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO variance_alerts
		(id, record_id, tank_id, severity, status, resolution_notes, resolved_by, resolved_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.RecordID, alert.TankID, alert.Severity, alert.Status,
		nullString(alert.ResolutionNotes), nullString(alert.ResolvedBy),
		nullTime(alert.ResolvedAt),
		alert.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

func (s *Store) UpdateAlertState(ctx context.Context, alert engine.VarianceAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE variance_alerts
		SET status = ?, resolution_notes = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ?`,
		alert.Status, nullString(alert.ResolutionNotes), nullString(alert.ResolvedBy),
		nullTime(alert.ResolvedAt), alert.ID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return engine.ErrAlertNotFound
	}
	return nil
}

func (s *Store) Alert(ctx context.Context, id engine.AlertID) (*engine.VarianceAlert, error) {
	alerts, err := s.queryAlerts(ctx, alertSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(alerts) == 0 {
		return nil, engine.ErrAlertNotFound
	}
	return &alerts[0], nil
}

func (s *Store) AlertForRecord(ctx context.Context, recordID engine.RecordID) (*engine.VarianceAlert, error) {
	alerts, err := s.queryAlerts(ctx, alertSelect+` WHERE record_id = ?`, recordID)
	if err != nil {
		return nil, err
	}
	if len(alerts) == 0 {
		return nil, engine.ErrAlertNotFound
	}
	return &alerts[0], nil
}

func (s *Store) AlertsByStatus(ctx context.Context, status engine.AlertStatus) ([]engine.VarianceAlert, error) {
	return s.queryAlerts(ctx, alertSelect+` WHERE status = ? ORDER BY created_at ASC`, status)
}

func (s *Store) AppendTransition(ctx context.Context, id engine.AlertID, tr engine.AlertTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_transitions (alert_id, from_status, to_status, action, actor, notes, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, nullString(string(tr.From)), tr.To, tr.Action, tr.Actor,
		nullString(tr.Notes), tr.At.UTC().Format(time.RFC3339))
	return err
}

const alertSelect = `
	SELECT id, record_id, tank_id, severity, status, resolution_notes, resolved_by, resolved_at, created_at
	FROM variance_alerts`

func (s *Store) queryAlerts(ctx context.Context, query string, args ...any) ([]engine.VarianceAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []engine.VarianceAlert
	for rows.Next() {
		var (
			alert                         engine.VarianceAlert
			notes, resolvedBy, resolvedAt sql.NullString
			createdAt                     string
		)
		if err := rows.Scan(&alert.ID, &alert.RecordID, &alert.TankID, &alert.Severity, &alert.Status,
			&notes, &resolvedBy, &resolvedAt, &createdAt); err != nil {
			return nil, err
		}
		alert.ResolutionNotes = notes.String
		alert.ResolvedBy = resolvedBy.String
		if resolvedAt.Valid {
			t, _ := time.Parse(time.RFC3339, resolvedAt.String)
			alert.ResolvedAt = &t
		}
		alert.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range alerts {
		history, err := s.loadTransitions(ctx, alerts[i].ID)
		if err != nil {
			return nil, err
		}
		alerts[i].History = history
	}
	return alerts, nil
}

func (s *Store) loadTransitions(ctx context.Context, id engine.AlertID) ([]engine.AlertTransition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_status, to_status, action, actor, notes, at
		FROM alert_transitions WHERE alert_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []engine.AlertTransition
	for rows.Next() {
		var (
			tr          engine.AlertTransition
			from, notes sql.NullString
			at          string
		)
		if err := rows.Scan(&from, &tr.To, &tr.Action, &tr.Actor, &notes, &at); err != nil {
			return nil, err
		}
		tr.From = engine.AlertStatus(from.String)
		tr.Notes = notes.String
		tr.At, _ = time.Parse(time.RFC3339, at)
		history = append(history, tr)
	}
	return history, rows.Err()
}

// =============================================================================
// PRICE STORE
// =============================================================================

func (s *Store) SavePrice(ctx context.Context, price engine.PriceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var effectiveTo sql.NullString
	if price.EffectiveTo != nil {
		effectiveTo = sql.NullString{String: price.EffectiveTo.String(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO price_records (station_id, fuel, price_per_liter, effective_from, effective_to)
		VALUES (?, ?, ?, ?, ?)`,
		price.StationID, price.Fuel, price.PricePerLiter.String(),
		price.EffectiveFrom.String(), effectiveTo)
	return err
}

func (s *Store) ActivePrice(ctx context.Context, stationID engine.StationID, fuel engine.FuelType, day engine.Day) (*engine.PriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		price    engine.PriceRecord
		perLiter string
		from     string
		to       sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT station_id, fuel, price_per_liter, effective_from, effective_to
		FROM price_records
		WHERE station_id = ? AND fuel = ? AND effective_from <= ?
		  AND (effective_to IS NULL OR effective_to >= ?)
		ORDER BY effective_from DESC LIMIT 1`,
		stationID, fuel, day.String(), day.String(),
	).Scan(&price.StationID, &price.Fuel, &perLiter, &from, &to)
	if err == sql.ErrNoRows {
		return nil, &engine.NoPriceError{StationID: stationID, Fuel: fuel, Day: day}
	}
	if err != nil {
		return nil, err
	}

	if price.PricePerLiter, err = decimal.NewFromString(perLiter); err != nil {
		return nil, err
	}
	if price.EffectiveFrom, err = engine.ParseDay(from); err != nil {
		return nil, err
	}
	if to.Valid {
		d, err := engine.ParseDay(to.String)
		if err != nil {
			return nil, err
		}
		price.EffectiveTo = &d
	}
	return &price, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) *decimal.Decimal {
	if !s.Valid {
		return nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil
	}
	return &d
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
