/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

NUMERIC FIELDS:
  All volumes and money are serialized as decimal strings ("1234.5678"),
  never JSON numbers. Clients that need arithmetic must parse them with a
  decimal library; float64 round-tripping would corrupt the cost basis.

DATE FIELDS:
  Calendar days are "YYYY-MM-DD"; instants are RFC3339.

SEE ALSO:
  - handlers.go: Uses these types
  - engine/types.go: Domain model these map from
*/
package api

import (
	"time"

	"github.com/fuelops/recon-engine/engine"
)

// =============================================================================
// TANKS & LAYERS
// =============================================================================

// TankDTO represents a tank in API responses.
type TankDTO struct {
	ID            string `json:"id"`
	StationID     string `json:"station_id"`
	Fuel          string `json:"fuel"`
	Capacity      string `json:"capacity"`
	CurrentVolume string `json:"current_volume"`
	CreatedAt     string `json:"created_at,omitempty"`
}

// CreateTankRequest is the request to register a tank.
type CreateTankRequest struct {
	ID            string `json:"id"`
	StationID     string `json:"station_id"`
	Fuel          string `json:"fuel"`
	Capacity      string `json:"capacity"`
	CurrentVolume string `json:"current_volume,omitempty"`
}

// LayerDTO represents one FIFO cost layer.
type LayerDTO struct {
	ID              string `json:"id"`
	TankID          string `json:"tank_id"`
	Sequence        int64  `json:"sequence"`
	OriginalVolume  string `json:"original_volume"`
	RemainingVolume string `json:"remaining_volume"`
	UnitCost        string `json:"unit_cost"`
	ReceivedAt      string `json:"received_at"`
}

// CostSnapshotDTO is the current FIFO cost state of a tank.
type CostSnapshotDTO struct {
	TankID         string     `json:"tank_id"`
	AverageCost    *string    `json:"average_cost"` // null when no layers remain
	TotalRemaining string     `json:"total_remaining"`
	Layers         []LayerDTO `json:"layers"`
}

// CreateDeliveryRequest is the request to record a fuel delivery.
type CreateDeliveryRequest struct {
	Volume     string `json:"volume"`
	UnitCost   string `json:"unit_cost"`
	ReceivedAt string `json:"received_at"` // RFC3339
}

// =============================================================================
// READINGS
// =============================================================================

// CreateDipRequest is the request to record a dip reading.
type CreateDipRequest struct {
	Day         string  `json:"day"`      // YYYY-MM-DD
	Position    string  `json:"position"` // opening | closing
	Volume      string  `json:"volume"`
	Temperature *string `json:"temperature,omitempty"`
	WaterCut    *string `json:"water_cut,omitempty"`
	TakenAt     string  `json:"taken_at,omitempty"` // RFC3339, defaults to now
}

// CreateMeterRequest is the request to record a meter counter reading.
type CreateMeterRequest struct {
	MeterID  string `json:"meter_id"`
	Day      string `json:"day"`
	Position string `json:"position"`
	Counter  string `json:"counter"`
	TakenAt  string `json:"taken_at,omitempty"`
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// ReconcileRequest identifies the tank-day to reconcile.
type ReconcileRequest struct {
	Day string `json:"day"`
}

// RecordDTO represents a reconciliation record in API responses.
type RecordDTO struct {
	ID                   string  `json:"id"`
	TankID               string  `json:"tank_id"`
	Day                  string  `json:"day"`
	OpeningVolume        string  `json:"opening_volume"`
	ClosingVolume        string  `json:"closing_volume"`
	DeliveredVolume      string  `json:"delivered_volume"`
	DispensedVolume      string  `json:"dispensed_volume"`
	ExpectedClosing      string  `json:"expected_closing"`
	VarianceLiters       string  `json:"variance_liters"`
	VariancePercent      *string `json:"variance_percent"` // null when expected closing is zero
	MeterReset           bool    `json:"meter_reset"`
	CostDataInconsistent bool    `json:"cost_data_inconsistent"`
	AlertID              string  `json:"alert_id,omitempty"`
	Voided               bool    `json:"voided"`
	VoidedAt             *string `json:"voided_at,omitempty"`
	CreatedAt            string  `json:"created_at,omitempty"`
}

// ConsumptionDTO is one FIFO cost attribution line for a record.
type ConsumptionDTO struct {
	LayerID  string `json:"layer_id"`
	Sequence int64  `json:"sequence"`
	Volume   string `json:"volume"`
	UnitCost string `json:"unit_cost"`
	Cost     string `json:"cost"`
}

// =============================================================================
// ALERTS
// =============================================================================

// AlertDTO represents a variance alert with its transition history.
type AlertDTO struct {
	ID              string          `json:"id"`
	RecordID        string          `json:"record_id"`
	TankID          string          `json:"tank_id"`
	Severity        string          `json:"severity"`
	Status          string          `json:"status"`
	ResolutionNotes string          `json:"resolution_notes,omitempty"`
	ResolvedBy      string          `json:"resolved_by,omitempty"`
	ResolvedAt      *string         `json:"resolved_at,omitempty"`
	History         []TransitionDTO `json:"history"`
	CreatedAt       string          `json:"created_at,omitempty"`
}

// TransitionDTO is one entry in an alert's audit trail.
type TransitionDTO struct {
	From   string `json:"from,omitempty"`
	To     string `json:"to"`
	Action string `json:"action"`
	Actor  string `json:"actor"`
	Notes  string `json:"notes,omitempty"`
	At     string `json:"at"`
}

// TransitionRequest applies a lifecycle action to an alert.
type TransitionRequest struct {
	Action string `json:"action"` // begin_investigation | resolve | reopen
	Actor  string `json:"actor"`
	Notes  string `json:"notes,omitempty"`
}

// =============================================================================
// PRICING & MARGIN
// =============================================================================

// CreatePriceRequest sets the selling price for a station's fuel.
type CreatePriceRequest struct {
	StationID     string  `json:"station_id"`
	Fuel          string  `json:"fuel"`
	PricePerLiter string  `json:"price_per_liter"`
	EffectiveFrom string  `json:"effective_from"`
	EffectiveTo   *string `json:"effective_to,omitempty"`
}

// MarginReportDTO is the per-fuel profit figure for a period.
type MarginReportDTO struct {
	StationID       string  `json:"station_id"`
	TankID          string  `json:"tank_id,omitempty"`
	Fuel            string  `json:"fuel"`
	PeriodStart     string  `json:"period_start"`
	PeriodEnd       string  `json:"period_end"`
	DispensedVolume string  `json:"dispensed_volume"`
	Revenue         string  `json:"revenue"`
	COGS            string  `json:"cogs"`
	GrossProfit     string  `json:"gross_profit"`
	MarginPercent   *string `json:"margin_percent"` // null when revenue is zero
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toTankDTO(t engine.Tank) TankDTO {
	return TankDTO{
		ID:            string(t.ID),
		StationID:     string(t.StationID),
		Fuel:          string(t.Fuel),
		Capacity:      t.Capacity.String(),
		CurrentVolume: t.CurrentVolume.String(),
		CreatedAt:     t.CreatedAt.Format(time.RFC3339),
	}
}

func toLayerDTO(l engine.CostLayer) LayerDTO {
	return LayerDTO{
		ID:              string(l.ID),
		TankID:          string(l.TankID),
		Sequence:        l.Sequence,
		OriginalVolume:  l.OriginalVolume.String(),
		RemainingVolume: l.RemainingVolume.String(),
		UnitCost:        l.UnitCost.String(),
		ReceivedAt:      l.ReceivedAt.Format(time.RFC3339),
	}
}

func toSnapshotDTO(s *engine.CostSnapshot) CostSnapshotDTO {
	dto := CostSnapshotDTO{
		TankID:         string(s.TankID),
		TotalRemaining: s.TotalRemaining.String(),
		Layers:         make([]LayerDTO, len(s.Layers)),
	}
	if s.AverageCost != nil {
		v := s.AverageCost.String()
		dto.AverageCost = &v
	}
	for i, l := range s.Layers {
		dto.Layers[i] = toLayerDTO(l)
	}
	return dto
}

func toRecordDTO(r *engine.ReconciliationRecord) RecordDTO {
	dto := RecordDTO{
		ID:                   string(r.ID),
		TankID:               string(r.TankID),
		Day:                  r.Day.String(),
		OpeningVolume:        r.OpeningVolume.String(),
		ClosingVolume:        r.ClosingVolume.String(),
		DeliveredVolume:      r.DeliveredVolume.String(),
		DispensedVolume:      r.DispensedVolume.String(),
		ExpectedClosing:      r.ExpectedClosing.String(),
		VarianceLiters:       r.VarianceLiters.String(),
		MeterReset:           r.MeterReset,
		CostDataInconsistent: r.CostDataInconsistent,
		AlertID:              string(r.AlertID),
		Voided:               r.Voided,
		CreatedAt:            r.CreatedAt.Format(time.RFC3339),
	}
	if r.VariancePercent != nil {
		v := r.VariancePercent.String()
		dto.VariancePercent = &v
	}
	if r.VoidedAt != nil {
		v := r.VoidedAt.Format(time.RFC3339)
		dto.VoidedAt = &v
	}
	return dto
}

func toAlertDTO(a *engine.VarianceAlert) AlertDTO {
	dto := AlertDTO{
		ID:              string(a.ID),
		RecordID:        string(a.RecordID),
		TankID:          string(a.TankID),
		Severity:        string(a.Severity),
		Status:          string(a.Status),
		ResolutionNotes: a.ResolutionNotes,
		ResolvedBy:      a.ResolvedBy,
		History:         make([]TransitionDTO, len(a.History)),
		CreatedAt:       a.CreatedAt.Format(time.RFC3339),
	}
	if a.ResolvedAt != nil {
		v := a.ResolvedAt.Format(time.RFC3339)
		dto.ResolvedAt = &v
	}
	for i, tr := range a.History {
		dto.History[i] = TransitionDTO{
			From:   string(tr.From),
			To:     string(tr.To),
			Action: string(tr.Action),
			Actor:  tr.Actor,
			Notes:  tr.Notes,
			At:     tr.At.Format(time.RFC3339),
		}
	}
	return dto
}

func toMarginDTO(r engine.MarginReport) MarginReportDTO {
	dto := MarginReportDTO{
		StationID:       string(r.StationID),
		TankID:          string(r.TankID),
		Fuel:            string(r.Fuel),
		PeriodStart:     r.Period.Start.String(),
		PeriodEnd:       r.Period.End.String(),
		DispensedVolume: r.DispensedVolume.String(),
		Revenue:         r.Revenue.String(),
		COGS:            r.COGS.String(),
		GrossProfit:     r.GrossProfit.String(),
	}
	if r.MarginPercent != nil {
		v := r.MarginPercent.String()
		dto.MarginPercent = &v
	}
	return dto
}
