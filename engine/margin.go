/*
margin.go - COGS and gross margin from the FIFO cost basis

PURPOSE:
  Computes per-fuel profit for a tank or station over a period:

      cogs         = sum of layer costs consumed by the period's records
      revenue      = sum over days of dispensed_volume * active price
      gross_profit = revenue - cogs
      margin_pct   = gross_profit / revenue   (nil when revenue is zero)

  The cost side comes from the LayerConsumption rows pinned at
  reconciliation time, so margin always reflects the FIFO layers that were
  actually drawn down - never a recomputed approximation.

STRICTNESS:
  - A day without an active selling price fails with NoPriceError; pricing
    gaps must be visible, never covered by zero or a previous price.
  - A period containing a CostDataInconsistent record fails with
    ErrNoCostData: its COGS is unknowable until the day is voided and
    re-reconciled with corrected inputs.
  - A period with no reconciled days yields a zero report with nil margin:
    "no data yet" is distinct from an error.
*/
package engine

import (
	"context"

	"github.com/shopspring/decimal"
)

// MarginCalculator aggregates reconciled days into margin reports.
type MarginCalculator struct {
	Store Store
}

func NewMarginCalculator(store Store) *MarginCalculator {
	return &MarginCalculator{Store: store}
}

// TankMargin computes the margin report for one tank over a period.
func (m *MarginCalculator) TankMargin(ctx context.Context, tankID TankID, period Period) (*MarginReport, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	tank, err := m.Store.Tank(ctx, tankID)
	if err != nil {
		return nil, err
	}

	records, err := m.Store.RecordsInPeriod(ctx, tankID, period)
	if err != nil {
		return nil, err
	}

	report := &MarginReport{
		StationID:       tank.StationID,
		TankID:          tank.ID,
		Fuel:            tank.Fuel,
		Period:          period,
		DispensedVolume: decimal.Zero,
		Revenue:         decimal.Zero,
		COGS:            decimal.Zero,
		GrossProfit:     decimal.Zero,
	}

	for _, record := range records {
		if record.CostDataInconsistent {
			return nil, ErrNoCostData
		}

		price, err := m.Store.ActivePrice(ctx, tank.StationID, tank.Fuel, record.Day)
		if err != nil {
			return nil, err
		}

		consumptions, err := m.Store.Consumptions(ctx, record.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range consumptions {
			report.COGS = report.COGS.Add(c.Cost)
		}

		report.DispensedVolume = report.DispensedVolume.Add(record.DispensedVolume)
		report.Revenue = report.Revenue.Add(round(record.DispensedVolume.Mul(price.PricePerLiter)))
	}

	finishReport(report)
	return report, nil
}

// StationMargin computes one report per fuel type across a station's
// tanks. Tanks holding the same fuel are merged into a single report with
// an empty TankID.
func (m *MarginCalculator) StationMargin(ctx context.Context, stationID StationID, period Period) ([]MarginReport, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	tanks, err := m.Store.TanksByStation(ctx, stationID)
	if err != nil {
		return nil, err
	}

	byFuel := make(map[FuelType]*MarginReport)
	var order []FuelType
	for _, tank := range tanks {
		tr, err := m.TankMargin(ctx, tank.ID, period)
		if err != nil {
			return nil, err
		}

		agg, ok := byFuel[tank.Fuel]
		if !ok {
			agg = &MarginReport{
				StationID:       stationID,
				Fuel:            tank.Fuel,
				Period:          period,
				DispensedVolume: decimal.Zero,
				Revenue:         decimal.Zero,
				COGS:            decimal.Zero,
				GrossProfit:     decimal.Zero,
			}
			byFuel[tank.Fuel] = agg
			order = append(order, tank.Fuel)
		}
		agg.DispensedVolume = agg.DispensedVolume.Add(tr.DispensedVolume)
		agg.Revenue = agg.Revenue.Add(tr.Revenue)
		agg.COGS = agg.COGS.Add(tr.COGS)
	}

	reports := make([]MarginReport, 0, len(order))
	for _, fuel := range order {
		finishReport(byFuel[fuel])
		reports = append(reports, *byFuel[fuel])
	}
	return reports, nil
}

func finishReport(r *MarginReport) {
	r.GrossProfit = r.Revenue.Sub(r.COGS)
	if r.Revenue.IsPositive() {
		pct := round(r.GrossProfit.Div(r.Revenue).Mul(decimal.NewFromInt(100)))
		r.MarginPercent = &pct
	}
}
