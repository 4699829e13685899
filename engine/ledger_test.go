/*
ledger_test.go - FIFO cost layer ledger tests

COVERS:
  - Oldest-first consumption with layer splitting
  - Volume conservation across consume/restore
  - Insufficient inventory is reported, never truncated
  - Weighted average cost and missing-data semantics
*/
package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuelops/recon-engine/engine"
	"github.com/fuelops/recon-engine/engine/store"
)

func newLedger() (*engine.CostLedger, *store.Memory) {
	mem := store.NewMemory()
	return engine.NewCostLedger(mem), mem
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestAppendDeliveryCreatesSequencedLayers(t *testing.T) {
	ledger, _ := newLedger()
	ctx := context.Background()
	tankID := engine.TankID("tank-1")

	// GIVEN two deliveries in order
	first, err := ledger.AppendDelivery(ctx, tankID, d("5000"), d("520"), time.Now())
	require.NoError(t, err)
	second, err := ledger.AppendDelivery(ctx, tankID, d("3000"), d("540"), time.Now())
	require.NoError(t, err)

	// THEN sequences are monotonic and remaining equals original
	assert.Equal(t, int64(1), first.Sequence)
	assert.Equal(t, int64(2), second.Sequence)
	assert.True(t, first.RemainingVolume.Equal(first.OriginalVolume))
}

func TestAppendDeliveryRejectsNonPositiveInput(t *testing.T) {
	ledger, _ := newLedger()
	ctx := context.Background()
	tankID := engine.TankID("tank-1")

	_, err := ledger.AppendDelivery(ctx, tankID, d("0"), d("500"), time.Now())
	assert.ErrorIs(t, err, engine.ErrInvalidQuantity)

	_, err = ledger.AppendDelivery(ctx, tankID, d("100"), d("-1"), time.Now())
	assert.ErrorIs(t, err, engine.ErrInvalidQuantity)
}

func TestConsumeSplitsAcrossLayersOldestFirst(t *testing.T) {
	ledger, mem := newLedger()
	ctx := context.Background()
	tankID := engine.TankID("tank-1")

	// GIVEN a 50L layer at 500 and a 100L layer at 520
	_, err := ledger.AppendDelivery(ctx, tankID, d("50"), d("500"), time.Now())
	require.NoError(t, err)
	_, err = ledger.AppendDelivery(ctx, tankID, d("100"), d("520"), time.Now())
	require.NoError(t, err)

	// WHEN consuming 70L
	consumptions, err := ledger.Consume(ctx, tankID, d("70"))
	require.NoError(t, err)

	// THEN the older layer is drained first and the newer one is split
	require.Len(t, consumptions, 2)
	assert.True(t, consumptions[0].Volume.Equal(d("50")))
	assert.True(t, consumptions[0].Cost.Equal(d("25000")))
	assert.True(t, consumptions[1].Volume.Equal(d("20")))
	assert.True(t, consumptions[1].Cost.Equal(d("10400")))

	layers, err := mem.Layers(ctx, tankID)
	require.NoError(t, err)
	assert.True(t, layers[0].RemainingVolume.IsZero())
	assert.True(t, layers[1].RemainingVolume.Equal(d("80")))
}

func TestConsumeNeverTouchesNewerLayerWhileOlderHasVolume(t *testing.T) {
	ledger, mem := newLedger()
	ctx := context.Background()
	tankID := engine.TankID("tank-1")

	_, err := ledger.AppendDelivery(ctx, tankID, d("100"), d("500"), time.Now())
	require.NoError(t, err)
	_, err = ledger.AppendDelivery(ctx, tankID, d("100"), d("600"), time.Now())
	require.NoError(t, err)

	// WHEN consuming less than the oldest layer holds
	consumptions, err := ledger.Consume(ctx, tankID, d("60"))
	require.NoError(t, err)

	require.Len(t, consumptions, 1)
	assert.Equal(t, int64(1), consumptions[0].Sequence)

	layers, err := mem.Layers(ctx, tankID)
	require.NoError(t, err)
	assert.True(t, layers[1].RemainingVolume.Equal(d("100")), "newer layer must be untouched")
}

func TestConsumeInsufficientInventoryLeavesLayersUnmodified(t *testing.T) {
	ledger, mem := newLedger()
	ctx := context.Background()
	tankID := engine.TankID("tank-1")

	_, err := ledger.AppendDelivery(ctx, tankID, d("100"), d("500"), time.Now())
	require.NoError(t, err)

	// WHEN consuming more than the tank holds
	_, err = ledger.Consume(ctx, tankID, d("150"))

	// THEN the error names the shortfall and nothing was consumed
	require.ErrorIs(t, err, engine.ErrInsufficientInventory)
	var short *engine.InsufficientInventoryError
	require.ErrorAs(t, err, &short)
	assert.True(t, short.Requested.Equal(d("150")))
	assert.True(t, short.Available.Equal(d("100")))
	assert.True(t, short.Shortfall.Equal(d("50")))

	layers, err := mem.Layers(ctx, tankID)
	require.NoError(t, err)
	assert.True(t, layers[0].RemainingVolume.Equal(d("100")))
}

func TestVolumeConservation(t *testing.T) {
	ledger, _ := newLedger()
	ctx := context.Background()
	tankID := engine.TankID("tank-1")

	// GIVEN three deliveries totalling 6000L
	for _, vol := range []string{"1000", "2500", "2500"} {
		_, err := ledger.AppendDelivery(ctx, tankID, d(vol), d("500"), time.Now())
		require.NoError(t, err)
	}

	// WHEN consuming in several bites
	consumed := decimal.Zero
	for _, vol := range []string{"800", "1700", "900.5"} {
		consumptions, err := ledger.Consume(ctx, tankID, d(vol))
		require.NoError(t, err)
		for _, c := range consumptions {
			consumed = consumed.Add(c.Volume)
		}
	}

	// THEN remaining = delivered - consumed, exactly
	remaining, err := ledger.TotalRemaining(ctx, tankID)
	require.NoError(t, err)
	assert.True(t, remaining.Equal(d("6000").Sub(consumed)),
		"remaining %s, consumed %s", remaining, consumed)
}

func TestRestoreRewindsConsumption(t *testing.T) {
	ledger, mem := newLedger()
	ctx := context.Background()
	tankID := engine.TankID("tank-1")

	_, err := ledger.AppendDelivery(ctx, tankID, d("50"), d("500"), time.Now())
	require.NoError(t, err)
	_, err = ledger.AppendDelivery(ctx, tankID, d("100"), d("520"), time.Now())
	require.NoError(t, err)

	consumptions, err := ledger.Consume(ctx, tankID, d("70"))
	require.NoError(t, err)

	// WHEN restoring the full consumption
	require.NoError(t, ledger.Restore(ctx, tankID, consumptions))

	// THEN every layer is back at its original volume
	layers, err := mem.Layers(ctx, tankID)
	require.NoError(t, err)
	for _, layer := range layers {
		assert.True(t, layer.RemainingVolume.Equal(layer.OriginalVolume))
	}
}

func TestRestoreRejectsOverfill(t *testing.T) {
	ledger, _ := newLedger()
	ctx := context.Background()
	tankID := engine.TankID("tank-1")

	layer, err := ledger.AppendDelivery(ctx, tankID, d("100"), d("500"), time.Now())
	require.NoError(t, err)

	// Restoring volume that was never consumed would exceed the layer.
	err = ledger.Restore(ctx, tankID, []engine.LayerConsumption{{
		LayerID:  layer.ID,
		TankID:   tankID,
		Sequence: layer.Sequence,
		Volume:   d("10"),
	}})
	assert.ErrorIs(t, err, engine.ErrInvalidQuantity)
}

func TestAverageCostIsVolumeWeighted(t *testing.T) {
	ledger, _ := newLedger()
	ctx := context.Background()
	tankID := engine.TankID("tank-1")

	_, err := ledger.AppendDelivery(ctx, tankID, d("100"), d("500"), time.Now())
	require.NoError(t, err)
	_, err = ledger.AppendDelivery(ctx, tankID, d("300"), d("600"), time.Now())
	require.NoError(t, err)

	avg, err := ledger.AverageCost(ctx, tankID)
	require.NoError(t, err)
	// (100*500 + 300*600) / 400 = 575
	assert.True(t, avg.Equal(d("575")), "got %s", avg)
}

func TestAverageCostWithNoLayersIsMissingData(t *testing.T) {
	ledger, _ := newLedger()
	ctx := context.Background()

	_, err := ledger.AverageCost(ctx, engine.TankID("empty-tank"))
	assert.ErrorIs(t, err, engine.ErrNoCostData)
}

func TestSnapshotSkipsDrainedLayers(t *testing.T) {
	ledger, _ := newLedger()
	ctx := context.Background()
	tankID := engine.TankID("tank-1")

	_, err := ledger.AppendDelivery(ctx, tankID, d("50"), d("500"), time.Now())
	require.NoError(t, err)
	_, err = ledger.AppendDelivery(ctx, tankID, d("100"), d("520"), time.Now())
	require.NoError(t, err)
	_, err = ledger.Consume(ctx, tankID, d("50"))
	require.NoError(t, err)

	snap, err := ledger.Snapshot(ctx, tankID)
	require.NoError(t, err)

	require.Len(t, snap.Layers, 1)
	assert.True(t, snap.TotalRemaining.Equal(d("100")))
	require.NotNil(t, snap.AverageCost)
	assert.True(t, snap.AverageCost.Equal(d("520")))
}

func TestSnapshotOfEmptyTankHasNilAverage(t *testing.T) {
	ledger, _ := newLedger()
	ctx := context.Background()

	snap, err := ledger.Snapshot(ctx, engine.TankID("empty-tank"))
	require.NoError(t, err)
	assert.Nil(t, snap.AverageCost)
	assert.True(t, snap.TotalRemaining.IsZero())
}
