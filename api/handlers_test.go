/*
handlers_test.go - End-to-end HTTP API tests

PURPOSE:
  Drives the full stack (router -> handlers -> service -> sqlite) through
  real HTTP requests against an in-memory database: the ingestion ->
  reconcile -> classify -> investigate -> margin flow, plus the error
  status mapping.
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuelops/recon-engine/engine"
	"github.com/fuelops/recon-engine/store/sqlite"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	service := engine.NewService(store, engine.DefaultThresholds())
	return NewRouter(NewHandler(service))
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), "body: %s", rec.Body.String())
	return out
}

func seedTankDay(t *testing.T, router http.Handler) {
	t.Helper()

	rec := do(t, router, http.MethodPost, "/api/tanks", CreateTankRequest{
		ID:        "tank-1",
		StationID: "station-1",
		Fuel:      "petrol",
		Capacity:  "20000",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	for _, dip := range []CreateDipRequest{
		{Day: "2024-03-15", Position: "opening", Volume: "1000"},
		{Day: "2024-03-15", Position: "closing", Volume: "1150"},
	} {
		rec = do(t, router, http.MethodPost, "/api/tanks/tank-1/dips", dip)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	for _, meter := range []CreateMeterRequest{
		{MeterID: "meter-1", Day: "2024-03-15", Position: "opening", Counter: "40000"},
		{MeterID: "meter-1", Day: "2024-03-15", Position: "closing", Counter: "40300"},
	} {
		rec = do(t, router, http.MethodPost, "/api/tanks/tank-1/meters", meter)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodPost, "/api/tanks/tank-1/deliveries", CreateDeliveryRequest{
		Volume:     "500",
		UnitCost:   "550",
		ReceivedAt: "2024-03-15T10:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestFullReconciliationFlow(t *testing.T) {
	router := newTestRouter(t)
	seedTankDay(t, router)

	// WHEN reconciling the day
	rec := do(t, router, http.MethodPost, "/api/tanks/tank-1/reconcile", ReconcileRequest{Day: "2024-03-15"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	record := decode[RecordDTO](t, rec)

	assert.Equal(t, "1200", record.ExpectedClosing)
	assert.Equal(t, "-50", record.VarianceLiters)
	require.NotNil(t, record.VariancePercent)
	assert.Equal(t, "-4.1667", *record.VariancePercent)

	// A second run of the same day conflicts
	rec = do(t, router, http.MethodPost, "/api/tanks/tank-1/reconcile", ReconcileRequest{Day: "2024-03-15"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Classification yields a high-severity open alert
	rec = do(t, router, http.MethodPost, fmt.Sprintf("/api/records/%s/classify", record.ID), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	alert := decode[AlertDTO](t, rec)
	assert.Equal(t, "high", alert.Severity)
	assert.Equal(t, "open", alert.Status)

	// Resolving before investigating is a client error
	rec = do(t, router, http.MethodPost, fmt.Sprintf("/api/alerts/%s/transition", alert.ID), TransitionRequest{
		Action: "resolve", Actor: "ops.kemi", Notes: "done",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Investigate, then resolve with notes
	rec = do(t, router, http.MethodPost, fmt.Sprintf("/api/alerts/%s/transition", alert.ID), TransitionRequest{
		Action: "begin_investigation", Actor: "ops.kemi",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodPost, fmt.Sprintf("/api/alerts/%s/transition", alert.ID), TransitionRequest{
		Action: "resolve", Actor: "ops.kemi", Notes: "meter calibration drift",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resolved := decode[AlertDTO](t, rec)
	assert.Equal(t, "resolved", resolved.Status)
	assert.Len(t, resolved.History, 3)

	// The FIFO attribution is queryable
	rec = do(t, router, http.MethodGet, fmt.Sprintf("/api/records/%s/consumptions", record.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	consumptions := decode[[]ConsumptionDTO](t, rec)
	require.Len(t, consumptions, 1)
	assert.Equal(t, "300", consumptions[0].Volume)
	assert.Equal(t, "165000", consumptions[0].Cost)
}

func TestMarginEndpoint(t *testing.T) {
	router := newTestRouter(t)
	seedTankDay(t, router)

	rec := do(t, router, http.MethodPost, "/api/prices", CreatePriceRequest{
		StationID:     "station-1",
		Fuel:          "petrol",
		PricePerLiter: "700",
		EffectiveFrom: "2024-03-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/api/tanks/tank-1/reconcile", ReconcileRequest{Day: "2024-03-15"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/tanks/tank-1/margin?from=2024-03-15&to=2024-03-15", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[MarginReportDTO](t, rec)

	// 300L at 700 selling vs 550 cost
	assert.Equal(t, "210000", report.Revenue)
	assert.Equal(t, "165000", report.COGS)
	assert.Equal(t, "45000", report.GrossProfit)
	require.NotNil(t, report.MarginPercent)
	assert.Equal(t, "21.4286", *report.MarginPercent)

	// Station aggregation returns the same single-fuel figures
	rec = do(t, router, http.MethodGet, "/api/stations/station-1/margin?from=2024-03-15&to=2024-03-15", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reports := decode[[]MarginReportDTO](t, rec)
	require.Len(t, reports, 1)
	assert.Equal(t, "210000", reports[0].Revenue)
}

func TestVoidEndpointRestoresInventory(t *testing.T) {
	router := newTestRouter(t)
	seedTankDay(t, router)

	rec := do(t, router, http.MethodPost, "/api/tanks/tank-1/reconcile", ReconcileRequest{Day: "2024-03-15"})
	require.Equal(t, http.StatusCreated, rec.Code)
	record := decode[RecordDTO](t, rec)

	rec = do(t, router, http.MethodPost, fmt.Sprintf("/api/records/%s/void", record.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	voided := decode[RecordDTO](t, rec)
	assert.True(t, voided.Voided)

	// Layer volume is back to the full delivery
	rec = do(t, router, http.MethodGet, "/api/tanks/tank-1/cost", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snapshot := decode[CostSnapshotDTO](t, rec)
	assert.Equal(t, "500", snapshot.TotalRemaining)

	// Voiding again conflicts
	rec = do(t, router, http.MethodPost, fmt.Sprintf("/api/records/%s/void", record.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// The day can be reconciled again
	rec = do(t, router, http.MethodPost, "/api/tanks/tank-1/reconcile", ReconcileRequest{Day: "2024-03-15"})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestErrorStatusMapping(t *testing.T) {
	router := newTestRouter(t)

	// Unknown tank -> 404
	rec := do(t, router, http.MethodGet, "/api/tanks/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Reconciling without any data -> 404 on the tank first
	rec = do(t, router, http.MethodPost, "/api/tanks/nope/reconcile", ReconcileRequest{Day: "2024-03-15"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Incomplete input -> 400
	rec = do(t, router, http.MethodPost, "/api/tanks", CreateTankRequest{
		ID: "tank-1", StationID: "station-1", Fuel: "petrol", Capacity: "20000",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = do(t, router, http.MethodPost, "/api/tanks/tank-1/reconcile", ReconcileRequest{Day: "2024-03-15"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Dip beyond capacity -> 400
	rec = do(t, router, http.MethodPost, "/api/tanks/tank-1/dips", CreateDipRequest{
		Day: "2024-03-15", Position: "opening", Volume: "25000",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Malformed day -> 400
	rec = do(t, router, http.MethodPost, "/api/tanks/tank-1/reconcile", ReconcileRequest{Day: "15/03/2024"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
