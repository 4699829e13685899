/*
margin_test.go - COGS and gross margin tests

COVERS:
  - Revenue/COGS/gross profit from pinned FIFO consumptions
  - Pricing gaps failing loudly
  - Cost-inconsistent periods failing with missing cost data
  - Zero-revenue periods yielding nil margin, not division errors
  - Station aggregation merging tanks per fuel
*/
package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuelops/recon-engine/engine"
)

// reconcileSoldDay sets up a clean day for the tank: opening 2000L from a
// single layer at the given unit cost, 300L dispensed, zero variance.
func reconcileSoldDay(t *testing.T, svc *engine.Service, tankID engine.TankID, day engine.Day, unitCost string) *engine.ReconciliationRecord {
	t.Helper()
	ctx := context.Background()

	mustSaveTank(t, svc, tankID)
	_, err := svc.AppendDelivery(ctx, tankID, d("2000"), d(unitCost),
		day.Prev().Time().Add(9*time.Hour))
	require.NoError(t, err)

	mustDip(t, svc, tankID, day, engine.PositionOpening, "2000")
	mustDip(t, svc, tankID, day, engine.PositionClosing, "1700")
	mustMeter(t, svc, tankID, "meter-1", day, engine.PositionOpening, "0")
	mustMeter(t, svc, tankID, "meter-1", day, engine.PositionClosing, "300")

	record, err := svc.Reconcile(ctx, tankID, day)
	require.NoError(t, err)
	return record
}

func savePrice(t *testing.T, svc *engine.Service, price string, from engine.Day) {
	t.Helper()
	err := svc.SavePrice(context.Background(), engine.PriceRecord{
		StationID:     "station-1",
		Fuel:          engine.FuelPetrol,
		PricePerLiter: d(price),
		EffectiveFrom: from,
	})
	require.NoError(t, err)
}

func TestTankMarginFromPinnedCostBasis(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	tankID := engine.TankID("tank-1")
	day := engine.NewDay(2024, time.March, 15)

	// GIVEN 300L sold at 5000/L from a layer costing 4000/L
	savePrice(t, svc, "5000", day.AddDays(-30))
	reconcileSoldDay(t, svc, tankID, day, "4000")

	report, err := svc.ComputeMargin(ctx, tankID, engine.SingleDay(day))
	require.NoError(t, err)

	assert.True(t, report.DispensedVolume.Equal(d("300")))
	assert.True(t, report.Revenue.Equal(d("1500000")), "revenue %s", report.Revenue)
	assert.True(t, report.COGS.Equal(d("1200000")), "cogs %s", report.COGS)
	assert.True(t, report.GrossProfit.Equal(d("300000")))
	require.NotNil(t, report.MarginPercent)
	assert.True(t, report.MarginPercent.Equal(d("20")), "margin %s", report.MarginPercent)
}

func TestMarginFailsOnPricingGap(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	tankID := engine.TankID("tank-1")
	day := engine.NewDay(2024, time.March, 15)

	// GIVEN a reconciled day but no price on record
	reconcileSoldDay(t, svc, tankID, day, "4000")

	_, err := svc.ComputeMargin(ctx, tankID, engine.SingleDay(day))
	require.ErrorIs(t, err, engine.ErrNoPriceForPeriod)

	var gap *engine.NoPriceError
	require.ErrorAs(t, err, &gap)
	assert.Equal(t, engine.StationID("station-1"), gap.StationID)
	assert.True(t, gap.Day.Equal(day))
}

func TestMarginFailsOnCostInconsistentPeriod(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	tankID := engine.TankID("tank-1")
	day := engine.NewDay(2024, time.March, 15)

	savePrice(t, svc, "5000", day.AddDays(-30))

	// GIVEN a day reconciled with no layers to consume from
	mustSaveTank(t, svc, tankID)
	mustDip(t, svc, tankID, day, engine.PositionOpening, "1000")
	mustDip(t, svc, tankID, day, engine.PositionClosing, "700")
	mustMeter(t, svc, tankID, "meter-1", day, engine.PositionOpening, "0")
	mustMeter(t, svc, tankID, "meter-1", day, engine.PositionClosing, "300")
	record, err := svc.Reconcile(ctx, tankID, day)
	require.NoError(t, err)
	require.True(t, record.CostDataInconsistent)

	_, err = svc.ComputeMargin(ctx, tankID, engine.SingleDay(day))
	assert.ErrorIs(t, err, engine.ErrNoCostData)
}

func TestMarginEmptyPeriodIsZeroWithNilPercent(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	tankID := engine.TankID("tank-1")

	mustSaveTank(t, svc, tankID)

	period := engine.MonthOf(engine.NewDay(2024, time.January, 1))
	report, err := svc.ComputeMargin(ctx, tankID, period)
	require.NoError(t, err)

	assert.True(t, report.Revenue.IsZero())
	assert.True(t, report.COGS.IsZero())
	assert.True(t, report.GrossProfit.IsZero())
	assert.Nil(t, report.MarginPercent, "no revenue means margin is undefined")
}

func TestMarginRejectsInvertedPeriod(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	tankID := engine.TankID("tank-1")
	mustSaveTank(t, svc, tankID)

	period := engine.Period{
		Start: engine.NewDay(2024, time.March, 20),
		End:   engine.NewDay(2024, time.March, 15),
	}
	_, err := svc.ComputeMargin(ctx, tankID, period)
	assert.ErrorIs(t, err, engine.ErrInvalidPeriod)
}

func TestStationMarginMergesTanksPerFuel(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	day := engine.NewDay(2024, time.March, 15)

	savePrice(t, svc, "5000", day.AddDays(-30))

	// GIVEN two petrol tanks at the station, each selling 300L
	reconcileSoldDay(t, svc, engine.TankID("tank-1"), day, "4000")
	reconcileSoldDay(t, svc, engine.TankID("tank-2"), day, "4200")

	reports, err := svc.ComputeStationMargin(ctx, "station-1", engine.SingleDay(day))
	require.NoError(t, err)

	require.Len(t, reports, 1, "same fuel merges into one report")
	report := reports[0]
	assert.Equal(t, engine.FuelPetrol, report.Fuel)
	assert.Empty(t, report.TankID)
	assert.True(t, report.DispensedVolume.Equal(d("600")))
	assert.True(t, report.Revenue.Equal(d("3000000")))
	// 300*4000 + 300*4200
	assert.True(t, report.COGS.Equal(d("2460000")), "cogs %s", report.COGS)
	assert.True(t, report.GrossProfit.Equal(d("540000")))
}
