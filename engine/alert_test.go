/*
alert_test.go - Variance classification and investigation workflow tests

COVERS:
  - Severity thresholds, including the absolute-liters critical override
  - Idempotent alert creation
  - The OPEN -> INVESTIGATING -> RESOLVED lifecycle and its guards
  - Reopen preserving resolution notes in history
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
)

func pct(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func TestClassifySeverityBands(t *testing.T) {
	thresholds := engine.DefaultThresholds()

	cases := []struct {
		name     string
		pct      *decimal.Decimal
		liters   string
		severity engine.Severity
		breach   bool
	}{
		{"below all thresholds", pct("0.4"), "-10", "", false},
		{"low band", pct("-0.6"), "-12", engine.SeverityLow, true},
		{"medium band", pct("2"), "40", engine.SeverityMedium, true},
		{"high band", pct("-4.1667"), "-50", engine.SeverityHigh, true},
		{"critical by percent", pct("-5.2"), "-80", engine.SeverityCritical, true},
		{"critical by liters despite small percent", pct("1"), "-250", engine.SeverityCritical, true},
		{"nil percent below liters threshold", nil, "150", "", false},
		{"nil percent above liters threshold", nil, "-220", engine.SeverityCritical, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			severity, breach := thresholds.Classify(tc.pct, decimal.RequireFromString(tc.liters))
			assert.Equal(t, tc.breach, breach)
			assert.Equal(t, tc.severity, severity)
		})
	}
}

// reconcileWithVariance builds a tank-day whose variance is -50L on an
// expected 1200L closing (-4.1667%), a high-severity breach.
func reconcileWithVariance(t *testing.T, svc *engine.Service) *engine.ReconciliationRecord {
	t.Helper()
	ctx := context.Background()
	tankID := engine.TankID("tank-1")
	day := engine.NewDay(2024, time.March, 15)

	mustSaveTank(t, svc, tankID)
	mustDip(t, svc, tankID, day, engine.PositionOpening, "1000")
	mustDip(t, svc, tankID, day, engine.PositionClosing, "1150")
	mustMeter(t, svc, tankID, "meter-1", day, engine.PositionOpening, "0")
	mustMeter(t, svc, tankID, "meter-1", day, engine.PositionClosing, "300")
	_, err := svc.AppendDelivery(ctx, tankID, d("500"), d("550"),
		time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	record, err := svc.Reconcile(ctx, tankID, day)
	require.NoError(t, err)
	return record
}

func TestClassifyAndAlertCreatesOpenAlert(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	record := reconcileWithVariance(t, svc)

	alert, err := svc.ClassifyAndAlert(ctx, record.ID)
	require.NoError(t, err)
	require.NotNil(t, alert)

	assert.Equal(t, engine.SeverityHigh, alert.Severity)
	assert.Equal(t, engine.StatusOpen, alert.Status)
	assert.Equal(t, record.ID, alert.RecordID)

	// The creation entry is the first line of the audit trail.
	require.Len(t, alert.History, 1)
	assert.Equal(t, engine.ActionCreate, alert.History[0].Action)
	assert.Equal(t, engine.StatusOpen, alert.History[0].To)

	// The record carries the back-reference.
	reloaded, err := svc.Record(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.ID, reloaded.AlertID)
}

func TestClassifyAndAlertIsIdempotent(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	record := reconcileWithVariance(t, svc)

	first, err := svc.ClassifyAndAlert(ctx, record.ID)
	require.NoError(t, err)
	second, err := svc.ClassifyAndAlert(ctx, record.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "re-classification must return the existing alert")
}

func TestClassifyBelowThresholdCreatesNothing(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	tankID := engine.TankID("tank-2")
	day := engine.NewDay(2024, time.March, 15)

	mustSaveTank(t, svc, tankID)
	// Variance of 1L on 1200L expected: 0.0833%, below every band.
	mustDip(t, svc, tankID, day, engine.PositionOpening, "1000")
	mustDip(t, svc, tankID, day, engine.PositionClosing, "1201")
	mustMeter(t, svc, tankID, "meter-1", day, engine.PositionOpening, "0")
	mustMeter(t, svc, tankID, "meter-1", day, engine.PositionClosing, "300")
	_, err := svc.AppendDelivery(ctx, tankID, d("500"), d("550"),
		time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	record, err := svc.Reconcile(ctx, tankID, day)
	require.NoError(t, err)

	alert, err := svc.ClassifyAndAlert(ctx, record.ID)
	require.NoError(t, err)
	assert.Nil(t, alert)
}

func TestTransitionLifecycle(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	record := reconcileWithVariance(t, svc)
	alert, err := svc.ClassifyAndAlert(ctx, record.ID)
	require.NoError(t, err)

	// OPEN -> INVESTIGATING
	alert, err = svc.TransitionAlert(ctx, alert.ID, engine.ActionBeginInvestigation, "ops.kemi", "")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusInvestigating, alert.Status)

	// INVESTIGATING -> RESOLVED with notes
	alert, err = svc.TransitionAlert(ctx, alert.ID, engine.ActionResolve, "ops.kemi", "calibration drift on meter-1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusResolved, alert.Status)
	assert.Equal(t, "calibration drift on meter-1", alert.ResolutionNotes)
	assert.Equal(t, "ops.kemi", alert.ResolvedBy)
	require.NotNil(t, alert.ResolvedAt)

	// Full trail: create, begin, resolve
	require.Len(t, alert.History, 3)
}

func TestResolveWithoutInvestigationIsRejected(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	record := reconcileWithVariance(t, svc)
	alert, err := svc.ClassifyAndAlert(ctx, record.ID)
	require.NoError(t, err)

	_, err = svc.TransitionAlert(ctx, alert.ID, engine.ActionResolve, "ops.kemi", "done")
	require.ErrorIs(t, err, engine.ErrInvalidTransition)

	var invalid *engine.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, engine.StatusOpen, invalid.From)
}

func TestResolveRequiresNotes(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	record := reconcileWithVariance(t, svc)
	alert, err := svc.ClassifyAndAlert(ctx, record.ID)
	require.NoError(t, err)

	_, err = svc.TransitionAlert(ctx, alert.ID, engine.ActionBeginInvestigation, "ops.kemi", "")
	require.NoError(t, err)

	_, err = svc.TransitionAlert(ctx, alert.ID, engine.ActionResolve, "ops.kemi", "   ")
	assert.ErrorIs(t, err, engine.ErrMissingResolution)
}

func TestReopenClearsResolutionButKeepsHistory(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	record := reconcileWithVariance(t, svc)
	alert, err := svc.ClassifyAndAlert(ctx, record.ID)
	require.NoError(t, err)

	_, err = svc.TransitionAlert(ctx, alert.ID, engine.ActionBeginInvestigation, "ops.kemi", "")
	require.NoError(t, err)
	_, err = svc.TransitionAlert(ctx, alert.ID, engine.ActionResolve, "ops.kemi", "suspected leak sealed")
	require.NoError(t, err)

	// WHEN reopening
	alert, err = svc.TransitionAlert(ctx, alert.ID, engine.ActionReopen, "audit.bot", "")
	require.NoError(t, err)

	// THEN live resolution fields are cleared
	assert.Equal(t, engine.StatusOpen, alert.Status)
	assert.Empty(t, alert.ResolutionNotes)
	assert.Empty(t, alert.ResolvedBy)
	assert.Nil(t, alert.ResolvedAt)

	// AND severity is unchanged; reopening does not reclassify
	assert.Equal(t, engine.SeverityHigh, alert.Severity)

	// AND the old resolution notes survive in the reopen history entry
	require.Len(t, alert.History, 4)
	reopen := alert.History[3]
	assert.Equal(t, engine.ActionReopen, reopen.Action)
	assert.Equal(t, "suspected leak sealed", reopen.Notes)
}

func TestClassifyVoidedRecordRejected(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	record := reconcileWithVariance(t, svc)

	require.NoError(t, svc.VoidReconciliation(ctx, record.ID))

	_, err := svc.ClassifyAndAlert(ctx, record.ID)
	assert.ErrorIs(t, err, engine.ErrRecordVoided)
}
