/*
alert.go - Investigation state machine

PURPOSE:
  Enforces the variance alert lifecycle:

          create (breach)
   [none] ----------------> OPEN
                              | begin_investigation
                              v
                       INVESTIGATING --resolve(notes)--> RESOLVED
                              ^                              |
                              +------------ reopen ----------+

  Rules:
  - OPEN -> INVESTIGATING: allowed any time, records actor and timestamp.
  - INVESTIGATING -> RESOLVED: requires non-empty resolution notes.
  - RESOLVED -> OPEN (reopen): clears resolver fields; the prior resolution
    notes are preserved in history, never deleted.
  - OPEN -> RESOLVED directly: disallowed. An investigation must happen.

  Every transition is appended to the alert's immutable history. Nothing
  is overwritten in place.
*/
package engine

import (
	"context"
	"strings"
	"time"
)

// AlertWorkflow applies lifecycle actions to variance alerts.
type AlertWorkflow struct {
	Store AlertStore
}

func NewAlertWorkflow(store AlertStore) *AlertWorkflow {
	return &AlertWorkflow{Store: store}
}

// Transition applies one action to an alert and returns the updated alert
// with its full history. Illegal combinations fail with
// *InvalidTransitionError; resolving without notes fails with
// ErrMissingResolution.
func (w *AlertWorkflow) Transition(ctx context.Context, alertID AlertID, action AlertAction, actor, notes string) (*VarianceAlert, error) {
	alert, err := w.Store.Alert(ctx, alertID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tr := AlertTransition{
		From:   alert.Status,
		Action: action,
		Actor:  actor,
		Notes:  notes,
		At:     now,
	}

	switch {
	case action == ActionBeginInvestigation && alert.Status == StatusOpen:
		alert.Status = StatusInvestigating

	case action == ActionResolve && alert.Status == StatusInvestigating:
		if strings.TrimSpace(notes) == "" {
			return nil, ErrMissingResolution
		}
		alert.Status = StatusResolved
		alert.ResolutionNotes = notes
		alert.ResolvedBy = actor
		alert.ResolvedAt = &now

	case action == ActionReopen && alert.Status == StatusResolved:
		// The resolution being reopened stays in history; the transition
		// entry carries its notes so nothing is lost when the live fields
		// are cleared.
		tr.Notes = alert.ResolutionNotes
		alert.Status = StatusOpen
		alert.ResolutionNotes = ""
		alert.ResolvedBy = ""
		alert.ResolvedAt = nil

	default:
		return nil, &InvalidTransitionError{AlertID: alertID, From: alert.Status, Action: action}
	}

	tr.To = alert.Status
	if err := w.Store.UpdateAlertState(ctx, *alert); err != nil {
		return nil, err
	}
	if err := w.Store.AppendTransition(ctx, alertID, tr); err != nil {
		return nil, err
	}

	return w.Store.Alert(ctx, alertID)
}
