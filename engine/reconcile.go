/*
reconcile.go - Tank-day reconciliation

PURPOSE:
  Produces one ReconciliationRecord per tank per reporting day by balancing
  physical dip measurements against metered dispensed volume and delivered
  volume:

      expected_closing = opening + delivered - dispensed
      variance_liters  = actual_closing_dip - expected_closing
      variance_pct     = variance_liters / expected_closing
                         (nil when expected_closing is zero)

  On success the reconciliation pins the day's FIFO cost basis by consuming
  the dispensed volume from the tank's cost layers - exactly once per
  tank-day. Recomputing a day is rejected unless the prior record is voided
  first; Void reverses the layer consumption so a corrected re-run never
  double-counts cost.

INPUT RULES:
  - Opening volume: explicit opening dip, else the prior day's closing dip.
    A voided record is never used as a fallback.
  - Closing dip is always required.
  - Every meter that reported for the day needs both an opening and a
    closing counter. A decreasing counter is a rollover/replacement: the
    post-reset portion (the closing counter) is used and the record is
    flagged MeterReset, never treated as negative sales.
  - Missing inputs fail with IncompleteInputError. No silent defaulting.

COST INCONSISTENCY:
  If the meters report more dispensed volume than the layers hold,
  the ledger refuses to consume (never truncates). The day is still
  reconciled, flagged CostDataInconsistent with no cost basis pinned,
  so the physical variance remains visible to investigators.

SEE ALSO:
  - ledger.go:   Consume/Restore
  - classify.go: Turns the record into an alert
*/
package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reconciler computes and voids tank-day reconciliation records.
type Reconciler struct {
	Store  Store
	Ledger *CostLedger
}

func NewReconciler(store Store) *Reconciler {
	return &Reconciler{Store: store, Ledger: NewCostLedger(store)}
}

// =============================================================================
// RECONCILE
// =============================================================================

// Reconcile produces the record for one tank-day. Fails with
// ErrDuplicateReconciliation when a live record already exists for the day.
func (r *Reconciler) Reconcile(ctx context.Context, tankID TankID, day Day) (*ReconciliationRecord, error) {
	tank, err := r.Store.Tank(ctx, tankID)
	if err != nil {
		return nil, err
	}

	if _, err := r.Store.LiveRecord(ctx, tankID, day); err == nil {
		return nil, ErrDuplicateReconciliation
	} else if !errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}

	opening, missing, err := r.openingVolume(ctx, tankID, day)
	if err != nil {
		return nil, err
	}

	closingDip, err := r.Store.DipReading(ctx, tankID, day, PositionClosing)
	if errors.Is(err, ErrReadingNotFound) {
		missing = append(missing, "closing dip")
	} else if err != nil {
		return nil, err
	}

	dispensed, meterReset, meterMissing, err := r.dispensedVolume(ctx, tankID, day)
	if err != nil {
		return nil, err
	}
	missing = append(missing, meterMissing...)

	if len(missing) > 0 {
		return nil, &IncompleteInputError{TankID: tankID, Day: day, Missing: missing}
	}

	deliveries, err := r.Store.Deliveries(ctx, tankID, day)
	if err != nil {
		return nil, err
	}
	delivered := decimal.Zero
	for _, d := range deliveries {
		delivered = delivered.Add(d.Volume)
	}

	expected := round(opening.Add(delivered).Sub(dispensed))
	variance := round(closingDip.Volume.Sub(expected))

	var variancePct *decimal.Decimal
	if !expected.IsZero() {
		pct := round(variance.Div(expected).Mul(decimal.NewFromInt(100)))
		variancePct = &pct
	}

	record := ReconciliationRecord{
		ID:              RecordID(uuid.NewString()),
		TankID:          tankID,
		Day:             day,
		OpeningVolume:   round(opening),
		ClosingVolume:   round(closingDip.Volume),
		DeliveredVolume: round(delivered),
		DispensedVolume: round(dispensed),
		ExpectedClosing: expected,
		VarianceLiters:  variance,
		VariancePercent: variancePct,
		MeterReset:      meterReset,
		CreatedAt:       time.Now().UTC(),
	}

	// Pin the day's cost basis. An inventory shortfall is surfaced as a
	// data-integrity flag on the record, not an aborted day.
	if dispensed.IsPositive() {
		consumptions, err := r.Ledger.Consume(ctx, tankID, dispensed)
		if errors.Is(err, ErrInsufficientInventory) {
			record.CostDataInconsistent = true
		} else if err != nil {
			return nil, err
		} else {
			for i := range consumptions {
				consumptions[i].RecordID = record.ID
			}
			if err := r.Store.SaveConsumptions(ctx, consumptions); err != nil {
				return nil, err
			}
		}
	}

	if err := r.Store.SaveRecord(ctx, record); err != nil {
		return nil, err
	}
	if err := r.Store.UpdateTankVolume(ctx, tank.ID, record.ClosingVolume); err != nil {
		return nil, err
	}
	return &record, nil
}

// openingVolume resolves the day's opening dip, falling back to the prior
// day's closing reading when no explicit opening reading exists.
func (r *Reconciler) openingVolume(ctx context.Context, tankID TankID, day Day) (decimal.Decimal, []string, error) {
	dip, err := r.Store.DipReading(ctx, tankID, day, PositionOpening)
	if err == nil {
		return dip.Volume, nil, nil
	}
	if !errors.Is(err, ErrReadingNotFound) {
		return decimal.Zero, nil, err
	}

	prior, err := r.Store.DipReading(ctx, tankID, day.Prev(), PositionClosing)
	if err == nil {
		return prior.Volume, nil, nil
	}
	if !errors.Is(err, ErrReadingNotFound) {
		return decimal.Zero, nil, err
	}
	return decimal.Zero, []string{"opening dip"}, nil
}

// dispensedVolume sums per-meter counter deltas for the day, applying
// rollover detection.
func (r *Reconciler) dispensedVolume(ctx context.Context, tankID TankID, day Day) (decimal.Decimal, bool, []string, error) {
	readings, err := r.Store.MeterReadings(ctx, tankID, day)
	if err != nil {
		return decimal.Zero, false, nil, err
	}
	if len(readings) == 0 {
		return decimal.Zero, false, []string{"meter readings"}, nil
	}

	type pair struct {
		opening *MeterReading
		closing *MeterReading
	}
	meters := make(map[MeterID]*pair)
	for i := range readings {
		reading := readings[i]
		p, ok := meters[reading.MeterID]
		if !ok {
			p = &pair{}
			meters[reading.MeterID] = p
		}
		switch reading.Position {
		case PositionOpening:
			p.opening = &reading
		case PositionClosing:
			p.closing = &reading
		}
	}

	// Deterministic iteration so missing-input messages are stable.
	ids := make([]MeterID, 0, len(meters))
	for id := range meters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	dispensed := decimal.Zero
	reset := false
	var missing []string
	for _, id := range ids {
		p := meters[id]
		if p.opening == nil {
			missing = append(missing, "opening meter reading for "+string(id))
			continue
		}
		if p.closing == nil {
			missing = append(missing, "closing meter reading for "+string(id))
			continue
		}

		delta := p.closing.Counter.Sub(p.opening.Counter)
		if delta.IsNegative() {
			// Counter went backwards: new meter started at zero during
			// the day. Only the post-reset portion is observable.
			dispensed = dispensed.Add(p.closing.Counter)
			reset = true
			continue
		}
		dispensed = dispensed.Add(delta)
	}
	return dispensed, reset, missing, nil
}

// =============================================================================
// VOID
// =============================================================================

// Void reverses the layer consumption performed by a reconciliation and
// marks the record voided, making a corrected re-run of the day possible
// without double-counting cost. The consumption rows remain as audit.
func (r *Reconciler) Void(ctx context.Context, recordID RecordID) error {
	record, err := r.Store.Record(ctx, recordID)
	if err != nil {
		return err
	}
	if record.Voided {
		return ErrRecordVoided
	}

	consumptions, err := r.Store.Consumptions(ctx, recordID)
	if err != nil {
		return err
	}
	if len(consumptions) > 0 {
		if err := r.Ledger.Restore(ctx, record.TankID, consumptions); err != nil {
			return err
		}
	}
	return r.Store.MarkRecordVoided(ctx, recordID, time.Now().UTC())
}
