/*
handlers.go - HTTP API handlers for the fuel reconciliation engine

PURPOSE:
  Exposes the reconciliation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Tanks:
    GET    /api/tanks                      List all tanks
    POST   /api/tanks                      Register tank
    GET    /api/tanks/{id}                 Get tank details
    GET    /api/tanks/{id}/cost            FIFO cost snapshot

  Ingestion:
    POST   /api/tanks/{id}/dips            Record dip reading
    POST   /api/tanks/{id}/meters          Record meter reading
    POST   /api/tanks/{id}/deliveries      Record delivery (creates layer)

  Reconciliation:
    POST   /api/tanks/{id}/reconcile       Reconcile a tank-day
    GET    /api/tanks/{id}/records         Records in a period
    GET    /api/records/{id}               Get record
    GET    /api/records/{id}/consumptions  FIFO cost attribution
    POST   /api/records/{id}/void          Void record, restore layers
    POST   /api/records/{id}/classify      Classify variance into an alert

  Alerts:
    GET    /api/alerts?status=open         List alerts by status
    GET    /api/alerts/{id}                Get alert with history
    POST   /api/alerts/{id}/transition     Apply lifecycle action

  Pricing & margin:
    POST   /api/prices                     Set selling price
    GET    /api/tanks/{id}/margin          Tank margin for a period
    GET    /api/stations/{id}/margin       Station margin per fuel

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, incomplete input, workflow violations
  - 404: Entity not found
  - 409: Conflict (duplicate reconciliation, voided record)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fuelops/recon-engine/engine"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *engine.Service
}

// NewHandler creates a new handler backed by the given service.
func NewHandler(service *engine.Service) *Handler {
	return &Handler{Service: service}
}

// =============================================================================
// TANK HANDLERS
// =============================================================================

// ListTanks returns all tanks.
func (h *Handler) ListTanks(w http.ResponseWriter, r *http.Request) {
	tanks, err := h.Service.Tanks(r.Context())
	if err != nil {
		writeEngineError(w, "Failed to list tanks", err)
		return
	}

	dtos := make([]TankDTO, len(tanks))
	for i, t := range tanks {
		dtos[i] = toTankDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetTank returns a single tank.
func (h *Handler) GetTank(w http.ResponseWriter, r *http.Request) {
	id := engine.TankID(chi.URLParam(r, "id"))

	tank, err := h.Service.Tank(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to get tank", err)
		return
	}
	writeJSON(w, http.StatusOK, toTankDTO(*tank))
}

// CreateTank registers a new tank.
func (h *Handler) CreateTank(w http.ResponseWriter, r *http.Request) {
	var req CreateTankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	capacity, err := decimal.NewFromString(req.Capacity)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid capacity", err)
		return
	}
	current := decimal.Zero
	if req.CurrentVolume != "" {
		if current, err = decimal.NewFromString(req.CurrentVolume); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid current_volume", err)
			return
		}
	}

	tank := engine.Tank{
		ID:            engine.TankID(req.ID),
		StationID:     engine.StationID(req.StationID),
		Fuel:          engine.FuelType(req.Fuel),
		Capacity:      capacity,
		CurrentVolume: current,
	}
	if err := h.Service.SaveTank(r.Context(), tank); err != nil {
		writeEngineError(w, "Failed to create tank", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTankDTO(tank))
}

// GetCostSnapshot returns the tank's current FIFO cost state.
func (h *Handler) GetCostSnapshot(w http.ResponseWriter, r *http.Request) {
	id := engine.TankID(chi.URLParam(r, "id"))

	snapshot, err := h.Service.TankCostSnapshot(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to get cost snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotDTO(snapshot))
}

// =============================================================================
// INGESTION HANDLERS
// =============================================================================

// CreateDip records a dip reading for a tank-day.
func (h *Handler) CreateDip(w http.ResponseWriter, r *http.Request) {
	tankID := engine.TankID(chi.URLParam(r, "id"))

	var req CreateDipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	day, err := engine.ParseDay(req.Day)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid day format (use YYYY-MM-DD)", err)
		return
	}
	volume, err := decimal.NewFromString(req.Volume)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid volume", err)
		return
	}
	position := engine.ReadingPosition(req.Position)
	if position != engine.PositionOpening && position != engine.PositionClosing {
		writeError(w, http.StatusBadRequest, "Invalid position (use opening or closing)", nil)
		return
	}

	reading := engine.DipReading{
		TankID:   tankID,
		Day:      day,
		Position: position,
		Volume:   volume,
		TakenAt:  parseTimeOrNow(req.TakenAt),
	}
	if req.Temperature != nil {
		t, err := decimal.NewFromString(*req.Temperature)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid temperature", err)
			return
		}
		reading.Temperature = &t
	}
	if req.WaterCut != nil {
		wc, err := decimal.NewFromString(*req.WaterCut)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid water_cut", err)
			return
		}
		reading.WaterCut = &wc
	}

	if err := h.Service.RecordDipReading(r.Context(), reading); err != nil {
		writeEngineError(w, "Failed to record dip reading", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

// CreateMeter records a pump meter counter reading.
func (h *Handler) CreateMeter(w http.ResponseWriter, r *http.Request) {
	tankID := engine.TankID(chi.URLParam(r, "id"))

	var req CreateMeterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	day, err := engine.ParseDay(req.Day)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid day format (use YYYY-MM-DD)", err)
		return
	}
	counter, err := decimal.NewFromString(req.Counter)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid counter", err)
		return
	}
	position := engine.ReadingPosition(req.Position)
	if position != engine.PositionOpening && position != engine.PositionClosing {
		writeError(w, http.StatusBadRequest, "Invalid position (use opening or closing)", nil)
		return
	}

	reading := engine.MeterReading{
		MeterID:  engine.MeterID(req.MeterID),
		TankID:   tankID,
		Day:      day,
		Position: position,
		Counter:  counter,
		TakenAt:  parseTimeOrNow(req.TakenAt),
	}
	if err := h.Service.RecordMeterReading(r.Context(), reading); err != nil {
		writeEngineError(w, "Failed to record meter reading", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

// CreateDelivery records a fuel delivery and creates its cost layer.
func (h *Handler) CreateDelivery(w http.ResponseWriter, r *http.Request) {
	tankID := engine.TankID(chi.URLParam(r, "id"))

	var req CreateDeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	volume, err := decimal.NewFromString(req.Volume)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid volume", err)
		return
	}
	unitCost, err := decimal.NewFromString(req.UnitCost)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid unit_cost", err)
		return
	}
	receivedAt, err := time.Parse(time.RFC3339, req.ReceivedAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid received_at (use RFC3339)", err)
		return
	}

	layer, err := h.Service.AppendDelivery(r.Context(), tankID, volume, unitCost, receivedAt)
	if err != nil {
		writeEngineError(w, "Failed to record delivery", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLayerDTO(*layer))
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// Reconcile runs reconciliation for a tank-day.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	tankID := engine.TankID(chi.URLParam(r, "id"))

	var req ReconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	day, err := engine.ParseDay(req.Day)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid day format (use YYYY-MM-DD)", err)
		return
	}

	record, err := h.Service.Reconcile(r.Context(), tankID, day)
	if err != nil {
		writeEngineError(w, "Reconciliation failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecordDTO(record))
}

// ListRecords returns a tank's live records in a period.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	tankID := engine.TankID(chi.URLParam(r, "id"))

	period, err := periodFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period (use from/to YYYY-MM-DD)", err)
		return
	}

	records, err := h.Service.RecordsInPeriod(r.Context(), tankID, period)
	if err != nil {
		writeEngineError(w, "Failed to list records", err)
		return
	}

	dtos := make([]RecordDTO, len(records))
	for i := range records {
		dtos[i] = toRecordDTO(&records[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRecord returns a single reconciliation record.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id := engine.RecordID(chi.URLParam(r, "id"))

	record, err := h.Service.Record(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to get record", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(record))
}

// GetConsumptions returns the FIFO cost attribution for a record.
func (h *Handler) GetConsumptions(w http.ResponseWriter, r *http.Request) {
	id := engine.RecordID(chi.URLParam(r, "id"))

	consumptions, err := h.Service.Consumptions(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to get consumptions", err)
		return
	}

	dtos := make([]ConsumptionDTO, len(consumptions))
	for i, c := range consumptions {
		dtos[i] = ConsumptionDTO{
			LayerID:  string(c.LayerID),
			Sequence: c.Sequence,
			Volume:   c.Volume.String(),
			UnitCost: c.UnitCost.String(),
			Cost:     c.Cost.String(),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// VoidRecord voids a reconciliation record and restores its layers.
func (h *Handler) VoidRecord(w http.ResponseWriter, r *http.Request) {
	id := engine.RecordID(chi.URLParam(r, "id"))

	if err := h.Service.VoidReconciliation(r.Context(), id); err != nil {
		writeEngineError(w, "Failed to void record", err)
		return
	}

	record, err := h.Service.Record(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to reload record", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(record))
}

// ClassifyRecord classifies a record's variance and creates the alert.
func (h *Handler) ClassifyRecord(w http.ResponseWriter, r *http.Request) {
	id := engine.RecordID(chi.URLParam(r, "id"))

	alert, err := h.Service.ClassifyAndAlert(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Classification failed", err)
		return
	}
	if alert == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "no_breach"})
		return
	}
	writeJSON(w, http.StatusCreated, toAlertDTO(alert))
}

// =============================================================================
// ALERT HANDLERS
// =============================================================================

// ListAlerts returns alerts filtered by status.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	status := engine.AlertStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = engine.StatusOpen
	}

	alerts, err := h.Service.AlertsByStatus(r.Context(), status)
	if err != nil {
		writeEngineError(w, "Failed to list alerts", err)
		return
	}

	dtos := make([]AlertDTO, len(alerts))
	for i := range alerts {
		dtos[i] = toAlertDTO(&alerts[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAlert returns a single alert with its full history.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	id := engine.AlertID(chi.URLParam(r, "id"))

	alert, err := h.Service.Alert(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to get alert", err)
		return
	}
	writeJSON(w, http.StatusOK, toAlertDTO(alert))
}

// TransitionAlert applies a lifecycle action to an alert.
func (h *Handler) TransitionAlert(w http.ResponseWriter, r *http.Request) {
	id := engine.AlertID(chi.URLParam(r, "id"))

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Actor == "" {
		writeError(w, http.StatusBadRequest, "actor is required", nil)
		return
	}

	alert, err := h.Service.TransitionAlert(r.Context(), id, engine.AlertAction(req.Action), req.Actor, req.Notes)
	if err != nil {
		writeEngineError(w, "Transition failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toAlertDTO(alert))
}

// =============================================================================
// PRICING & MARGIN HANDLERS
// =============================================================================

// CreatePrice sets the selling price for a station's fuel.
func (h *Handler) CreatePrice(w http.ResponseWriter, r *http.Request) {
	var req CreatePriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	price, err := decimal.NewFromString(req.PricePerLiter)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid price_per_liter", err)
		return
	}
	from, err := engine.ParseDay(req.EffectiveFrom)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_from (use YYYY-MM-DD)", err)
		return
	}

	record := engine.PriceRecord{
		StationID:     engine.StationID(req.StationID),
		Fuel:          engine.FuelType(req.Fuel),
		PricePerLiter: price,
		EffectiveFrom: from,
	}
	if req.EffectiveTo != nil {
		to, err := engine.ParseDay(*req.EffectiveTo)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid effective_to (use YYYY-MM-DD)", err)
			return
		}
		record.EffectiveTo = &to
	}

	if err := h.Service.SavePrice(r.Context(), record); err != nil {
		writeEngineError(w, "Failed to save price", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "saved"})
}

// GetTankMargin computes the margin report for one tank over a period.
func (h *Handler) GetTankMargin(w http.ResponseWriter, r *http.Request) {
	tankID := engine.TankID(chi.URLParam(r, "id"))

	period, err := periodFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period (use from/to YYYY-MM-DD)", err)
		return
	}

	report, err := h.Service.ComputeMargin(r.Context(), tankID, period)
	if err != nil {
		writeEngineError(w, "Margin calculation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toMarginDTO(*report))
}

// GetStationMargin computes per-fuel margin reports for a station.
func (h *Handler) GetStationMargin(w http.ResponseWriter, r *http.Request) {
	stationID := engine.StationID(chi.URLParam(r, "id"))

	period, err := periodFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period (use from/to YYYY-MM-DD)", err)
		return
	}

	reports, err := h.Service.ComputeStationMargin(r.Context(), stationID, period)
	if err != nil {
		writeEngineError(w, "Margin calculation failed", err)
		return
	}

	dtos := make([]MarginReportDTO, len(reports))
	for i, report := range reports {
		dtos[i] = toMarginDTO(report)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func periodFromQuery(r *http.Request) (engine.Period, error) {
	from, err := engine.ParseDay(r.URL.Query().Get("from"))
	if err != nil {
		return engine.Period{}, err
	}
	to, err := engine.ParseDay(r.URL.Query().Get("to"))
	if err != nil {
		return engine.Period{}, err
	}
	return engine.Period{Start: from, End: to}, nil
}

func parseTimeOrNow(value string) time.Time {
	if value == "" {
		return time.Now().UTC()
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps domain errors onto HTTP status codes.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	switch {
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case engine.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case engine.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
