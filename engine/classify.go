/*
classify.go - Variance severity classification

PURPOSE:
  Turns a ReconciliationRecord into at most one VarianceAlert. Severity is
  decided from the absolute variance percentage, with absolute liters as a
  tie-breaker so a large leak in a high-volume tank cannot hide behind a
  small percentage.

  Thresholds are configuration inputs, not code. Defaults:

      >= 5% or >= 200L  critical
      >= 3%             high
      >= 1.5%           medium
      >= 0.5%           low
      below             no alert

  Classification is idempotent: re-running it on a record that already has
  an alert returns the existing alert, never a duplicate. Severity is fixed
  at creation time; reopened alerts are not reclassified against current
  thresholds.
*/
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// THRESHOLDS
// =============================================================================

// Thresholds holds the variance classification boundaries. Percent values
// compare against |variance_pct|, CriticalLiters against |variance_liters|.
type Thresholds struct {
	CriticalPercent decimal.Decimal
	CriticalLiters  decimal.Decimal
	HighPercent     decimal.Decimal
	MediumPercent   decimal.Decimal
	LowPercent      decimal.Decimal
}

// DefaultThresholds returns the documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CriticalPercent: decimal.NewFromInt(5),
		CriticalLiters:  decimal.NewFromInt(200),
		HighPercent:     decimal.NewFromInt(3),
		MediumPercent:   decimal.RequireFromString("1.5"),
		LowPercent:      decimal.RequireFromString("0.5"),
	}
}

// Classify maps a variance to a severity. The second return is false when
// the variance is below every threshold and no alert should exist.
//
// A nil percentage (zero expected volume) is classified on liters alone:
// only the critical magnitude check can fire.
func (t Thresholds) Classify(pct *decimal.Decimal, liters decimal.Decimal) (Severity, bool) {
	absLiters := liters.Abs()
	if pct == nil {
		if absLiters.GreaterThanOrEqual(t.CriticalLiters) {
			return SeverityCritical, true
		}
		return "", false
	}

	absPct := pct.Abs()
	switch {
	case absPct.GreaterThanOrEqual(t.CriticalPercent) || absLiters.GreaterThanOrEqual(t.CriticalLiters):
		return SeverityCritical, true
	case absPct.GreaterThanOrEqual(t.HighPercent):
		return SeverityHigh, true
	case absPct.GreaterThanOrEqual(t.MediumPercent):
		return SeverityMedium, true
	case absPct.GreaterThanOrEqual(t.LowPercent):
		return SeverityLow, true
	default:
		return "", false
	}
}

// =============================================================================
// CLASSIFIER
// =============================================================================

// Classifier creates alerts for breaching reconciliation records.
type Classifier struct {
	Store      Store
	Thresholds Thresholds
}

func NewClassifier(store Store, thresholds Thresholds) *Classifier {
	return &Classifier{Store: store, Thresholds: thresholds}
}

// ClassifyAndAlert creates the alert for a breaching record, or returns
// (nil, nil) when the variance is below every threshold. Idempotent:
// an existing alert for the record is returned as-is.
func (c *Classifier) ClassifyAndAlert(ctx context.Context, recordID RecordID) (*VarianceAlert, error) {
	record, err := c.Store.Record(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if record.Voided {
		return nil, ErrRecordVoided
	}

	existing, err := c.Store.AlertForRecord(ctx, recordID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrAlertNotFound) {
		return nil, err
	}

	severity, breach := c.Thresholds.Classify(record.VariancePercent, record.VarianceLiters)
	if !breach {
		return nil, nil
	}

	now := time.Now().UTC()
	alert := VarianceAlert{
		ID:        AlertID(uuid.NewString()),
		RecordID:  record.ID,
		TankID:    record.TankID,
		Severity:  severity,
		Status:    StatusOpen,
		CreatedAt: now,
	}
	created := AlertTransition{
		To:     StatusOpen,
		Action: ActionCreate,
		Actor:  "system",
		At:     now,
	}

	if err := c.Store.SaveAlert(ctx, alert); err != nil {
		return nil, err
	}
	if err := c.Store.AppendTransition(ctx, alert.ID, created); err != nil {
		return nil, err
	}
	if err := c.Store.SetRecordAlert(ctx, record.ID, alert.ID); err != nil {
		return nil, err
	}

	alert.History = []AlertTransition{created}
	return &alert, nil
}
