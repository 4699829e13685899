/*
ledger.go - Per-tank FIFO cost layer ledger

PURPOSE:
  The CostLedger maintains the ordered queue of delivery cost layers for
  each tank and answers "what did the next N liters cost". Every delivery
  appends a layer; every reconciled tank-day consumes layers oldest-first.

CRITICAL INVARIANTS:
  1. FIFO ORDER: layers are consumed strictly in sequence order; a newer
     layer is never touched while an older one has volume remaining.
  2. CONSERVATION: the sum of RemainingVolume across a tank's layers always
     equals deliveries minus cumulative consumption.
  3. APPEND-ONLY: sequence order is never reordered or mutated; only
     RemainingVolume moves, and only through Consume and Restore.
  4. NO TRUNCATION: over-consumption fails with InsufficientInventory
     instead of silently clamping - it signals upstream data corruption.

CORRECTIONS:
  Consumption is reversed by Restore (the void path), which adds the exact
  consumed volumes back to the exact layers they came from. The consumption
  rows themselves remain in storage as audit.

SEE ALSO:
  - reconcile.go: The only caller of Consume/Restore
  - margin.go:    Reads consumption rows for COGS
*/
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CostLedger walks and mutates a tank's FIFO cost layers through a
// LayerStore. It holds no state of its own; callers are responsible for
// serializing writes per tank (see Service).
type CostLedger struct {
	Store LayerStore
}

func NewCostLedger(store LayerStore) *CostLedger {
	return &CostLedger{Store: store}
}

// =============================================================================
// APPEND
// =============================================================================

// AppendDelivery creates a new cost layer with the tank's next sequence
// number. Volume and unit cost must both be positive.
func (l *CostLedger) AppendDelivery(ctx context.Context, tankID TankID, volume, unitCost decimal.Decimal, receivedAt time.Time) (*CostLayer, error) {
	if !volume.IsPositive() || !unitCost.IsPositive() {
		return nil, ErrInvalidQuantity
	}

	seq, err := l.Store.NextLayerSequence(ctx, tankID)
	if err != nil {
		return nil, err
	}

	layer := CostLayer{
		ID:              LayerID(uuid.NewString()),
		TankID:          tankID,
		Sequence:        seq,
		OriginalVolume:  round(volume),
		RemainingVolume: round(volume),
		UnitCost:        round(unitCost),
		ReceivedAt:      receivedAt,
		CreatedAt:       time.Now().UTC(),
	}

	if err := l.Store.AppendLayer(ctx, layer); err != nil {
		return nil, err
	}
	return &layer, nil
}

// =============================================================================
// CONSUME
// =============================================================================

// Consume takes the requested volume from the tank's layers oldest-first,
// splitting across layers as needed, and returns the per-layer attribution.
// RecordID on the returned consumptions is left empty for the caller to fill.
//
// Fails with *InsufficientInventoryError (wrapping ErrInsufficientInventory)
// when total remaining volume is less than requested; in that case no layer
// is modified.
func (l *CostLedger) Consume(ctx context.Context, tankID TankID, volume decimal.Decimal) ([]LayerConsumption, error) {
	if !volume.IsPositive() {
		return nil, ErrInvalidQuantity
	}

	layers, err := l.Store.Layers(ctx, tankID)
	if err != nil {
		return nil, err
	}

	available := decimal.Zero
	for _, layer := range layers {
		available = available.Add(layer.RemainingVolume)
	}
	if available.LessThan(volume) {
		return nil, &InsufficientInventoryError{
			TankID:    tankID,
			Requested: volume,
			Available: available,
			Shortfall: volume.Sub(available),
		}
	}

	var consumptions []LayerConsumption
	remaining := volume
	for _, layer := range layers {
		if remaining.IsZero() {
			break
		}
		if !layer.RemainingVolume.IsPositive() {
			continue
		}

		take := decimal.Min(layer.RemainingVolume, remaining)
		newRemaining := round(layer.RemainingVolume.Sub(take))
		if err := l.Store.SetLayerRemaining(ctx, layer.ID, newRemaining); err != nil {
			return nil, err
		}

		consumptions = append(consumptions, LayerConsumption{
			LayerID:  layer.ID,
			TankID:   tankID,
			Sequence: layer.Sequence,
			Volume:   round(take),
			UnitCost: layer.UnitCost,
			Cost:     round(take.Mul(layer.UnitCost)),
		})
		remaining = remaining.Sub(take)
	}

	return consumptions, nil
}

// Restore adds previously consumed volumes back to their layers. This is
// the compensating action behind void_reconciliation; it walks the
// consumption list in reverse so layer state rewinds in the exact order it
// was unwound.
func (l *CostLedger) Restore(ctx context.Context, tankID TankID, consumptions []LayerConsumption) error {
	layers, err := l.Store.Layers(ctx, tankID)
	if err != nil {
		return err
	}
	byID := make(map[LayerID]CostLayer, len(layers))
	for _, layer := range layers {
		byID[layer.ID] = layer
	}

	for i := len(consumptions) - 1; i >= 0; i-- {
		c := consumptions[i]
		layer, ok := byID[c.LayerID]
		if !ok {
			return ErrLayerNotFound
		}
		restored := round(layer.RemainingVolume.Add(c.Volume))
		if restored.GreaterThan(layer.OriginalVolume) {
			// Restoring more than was originally delivered means the
			// consumption rows no longer match the layer: corruption.
			return ErrInvalidQuantity
		}
		if err := l.Store.SetLayerRemaining(ctx, c.LayerID, restored); err != nil {
			return err
		}
		layer.RemainingVolume = restored
		byID[c.LayerID] = layer
	}
	return nil
}

// =============================================================================
// COST QUERIES
// =============================================================================

// AverageCost returns the weighted average unit cost over all layers with
// remaining volume. Returns ErrNoCostData when nothing remains; callers
// must treat that as missing data, never as zero cost.
func (l *CostLedger) AverageCost(ctx context.Context, tankID TankID) (decimal.Decimal, error) {
	layers, err := l.Store.Layers(ctx, tankID)
	if err != nil {
		return decimal.Zero, err
	}

	totalVolume := decimal.Zero
	totalCost := decimal.Zero
	for _, layer := range layers {
		if !layer.RemainingVolume.IsPositive() {
			continue
		}
		totalVolume = totalVolume.Add(layer.RemainingVolume)
		totalCost = totalCost.Add(layer.RemainingVolume.Mul(layer.UnitCost))
	}

	if totalVolume.IsZero() {
		return decimal.Zero, ErrNoCostData
	}
	return round(totalCost.Div(totalVolume)), nil
}

// TotalRemaining returns the tank's book inventory: the sum of remaining
// volume across all layers.
func (l *CostLedger) TotalRemaining(ctx context.Context, tankID TankID) (decimal.Decimal, error) {
	layers, err := l.Store.Layers(ctx, tankID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, layer := range layers {
		total = total.Add(layer.RemainingVolume)
	}
	return total, nil
}

// Snapshot returns the tank's current FIFO cost state: live layers in
// order, book inventory, and weighted average cost (nil when no data).
func (l *CostLedger) Snapshot(ctx context.Context, tankID TankID) (*CostSnapshot, error) {
	layers, err := l.Store.Layers(ctx, tankID)
	if err != nil {
		return nil, err
	}

	snap := &CostSnapshot{TankID: tankID, TotalRemaining: decimal.Zero}
	totalCost := decimal.Zero
	for _, layer := range layers {
		if !layer.RemainingVolume.IsPositive() {
			continue
		}
		snap.Layers = append(snap.Layers, layer)
		snap.TotalRemaining = snap.TotalRemaining.Add(layer.RemainingVolume)
		totalCost = totalCost.Add(layer.RemainingVolume.Mul(layer.UnitCost))
	}

	if snap.TotalRemaining.IsPositive() {
		avg := round(totalCost.Div(snap.TotalRemaining))
		snap.AverageCost = &avg
	}
	return snap, nil
}
