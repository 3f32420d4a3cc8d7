/*
handlers_test.go - Unit tests for API handlers

Tests for:
- Ledger, payment, outstanding and diagnostics endpoints
- Error mapping (400/404/409/503)
- Stale fallback surfaced over HTTP
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/patient-ledger/ledger"
	"github.com/warp/patient-ledger/ledger/store"
	"github.com/warp/patient-ledger/metrics"
)

func newTestServer(t *testing.T) (http.Handler, *Handler) {
	h := setupTestHandler(t)
	loadScenario(t, h, "partial-payment")
	return NewRouter(h, metrics.NewCollector("test"), nil), h
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
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// =============================================================================
// LEDGER
// =============================================================================

func TestGetLedger_Success(t *testing.T) {
	router, _ := newTestServer(t)

	rec := do(t, router, http.MethodGet, "/api/patients/P1/ledger", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	l := decode[LedgerDTO](t, rec)
	assert.Equal(t, "5000.00", l.TotalAmount)
	assert.Equal(t, "2000.00", l.TotalPaid)
	assert.Equal(t, "3000.00", l.DueAmount)
	assert.Equal(t, "PartiallyPaid", l.Status)
	assert.Equal(t, "registration", l.TotalSource)
	require.Len(t, l.Payments, 1)
	assert.Equal(t, []string{"pay-p1-1"}, l.Payments[0].SourceIDs)
}

func TestGetLedger_UnknownPatient_404(t *testing.T) {
	router, _ := newTestServer(t)
	rec := do(t, router, http.MethodGet, "/api/patients/P404/ledger", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTimeline(t *testing.T) {
	router, _ := newTestServer(t)

	rec := do(t, router, http.MethodGet, "/api/patients/P1/timeline", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]TimelineEventDTO](t, rec)
	require.Len(t, events, 5)
	assert.Equal(t, "admission", events[0].Kind)
	assert.Equal(t, "payment", events[4].Kind)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestRecordPayment_SettlesLedger(t *testing.T) {
	router, _ := newTestServer(t)

	rec := do(t, router, http.MethodPost, "/api/patients/P1/payments", map[string]any{
		"amount": "3000", "method": "cash",
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	l := decode[LedgerDTO](t, rec)
	assert.Equal(t, "0.00", l.DueAmount)
	assert.Equal(t, "FullyPaid", l.Status)
	assert.Len(t, l.Payments, 2)
}

func TestRecordPayment_AcceptsOverpayment(t *testing.T) {
	router, _ := newTestServer(t)

	rec := do(t, router, http.MethodPost, "/api/patients/P1/payments", map[string]any{
		"amount": 6500, "method": "card", "date": "2024-03-20",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "-3500.00", decode[LedgerDTO](t, rec).DueAmount)
}

func TestRecordPayment_BadInput_400(t *testing.T) {
	router, _ := newTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{"zero amount", map[string]any{"amount": "0", "method": "cash"}},
		{"negative amount", map[string]any{"amount": "-10", "method": "cash"}},
		{"missing method", map[string]any{"amount": "10"}},
		{"bad date", map[string]any{"amount": "10", "method": "cash", "date": "someday"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/api/patients/P1/payments", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	rec := do(t, router, http.MethodGet, "/api/patients/P1/ledger", nil)
	assert.Len(t, decode[LedgerDTO](t, rec).Payments, 1, "rejected payments are not stored")
}

func TestRecordPayment_MalformedJSON_400(t *testing.T) {
	router, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/patients/P1/payments", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordPayment_UnknownPatient_404(t *testing.T) {
	router, _ := newTestServer(t)
	rec := do(t, router, http.MethodPost, "/api/patients/nobody/payments", map[string]any{"amount": "10", "method": "cash"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordPayment_SamePaymentTwice_409(t *testing.T) {
	// GIVEN: The partial-payment scenario with due 3000 and a fixed clock
	// WHEN: Posting the same 1000 cash payment for 2024-03-05 twice
	// THEN: 201 then 409, and due drops by 1000 only once

	router, _ := newTestServer(t)
	body := map[string]any{"amount": "1000", "method": "cash", "date": "2024-03-05"}

	rec := do(t, router, http.MethodPost, "/api/patients/P1/payments", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "2000.00", decode[LedgerDTO](t, rec).DueAmount)

	rec = do(t, router, http.MethodPost, "/api/patients/P1/payments", body)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/patients/P1/ledger", nil)
	l := decode[LedgerDTO](t, rec)
	assert.Equal(t, "2000.00", l.DueAmount)
	assert.Len(t, l.Payments, 2)
}

// =============================================================================
// PATIENTS AND RECORDS
// =============================================================================

func TestCreatePatient_AssignsID(t *testing.T) {
	router, _ := newTestServer(t)

	rec := do(t, router, http.MethodPost, "/api/patients", map[string]any{
		"name": "Nikhil Rao", "phone": "555-7777", "total_amount": "1200",
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decode[PatientDTO](t, rec)
	assert.NotEmpty(t, p.ID)
	require.NotNil(t, p.TotalAmount)
	assert.Equal(t, "1200.00", *p.TotalAmount)

	rec = do(t, router, http.MethodGet, "/api/patients/"+p.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreatePatient_MissingName_400(t *testing.T) {
	router, _ := newTestServer(t)
	rec := do(t, router, http.MethodPost, "/api/patients", map[string]any{"phone": "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRecord_ThenLedgerReflectsIt(t *testing.T) {
	// GIVEN: P1 owes 3000
	// WHEN: The appointment workflow posts a paid appointment by phone only
	// THEN: The ledger picks it up through the phone tier

	router, _ := newTestServer(t)

	rec := do(t, router, http.MethodPost, "/api/records", map[string]any{
		"kind": "appointment", "source_id": "appt-9", "patient_phone": "919876543210",
		"amount": "500", "date": "2024-03-08", "status": "paid", "method": "card",
		"doctor_name": "Dr. Rao", "department": "Pulmonology",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/patients/P1/ledger", nil)
	l := decode[LedgerDTO](t, rec)
	assert.Equal(t, "2500.00", l.DueAmount)
	require.Len(t, l.Payments, 2)
	assert.Equal(t, "appointment", l.Payments[0].Origin)
	assert.Equal(t, "Consultation - Dr. Rao (Pulmonology)", l.Payments[0].Description)
}

func TestCreateRecord_DuplicateSourceID_409(t *testing.T) {
	router, _ := newTestServer(t)

	rec := do(t, router, http.MethodPost, "/api/records", map[string]any{
		"kind": "payment", "source_id": "pay-p1-1", "patient_id": "P1", "amount": "2000",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateRecord_UnknownKind_400(t *testing.T) {
	router, _ := newTestServer(t)
	rec := do(t, router, http.MethodPost, "/api/records", map[string]any{
		"kind": "refund", "source_id": "r1", "patient_id": "P1", "amount": "1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// REPORTS
// =============================================================================

func TestListOutstanding(t *testing.T) {
	router, _ := newTestServer(t)

	rec := do(t, router, http.MethodGet, "/api/outstanding", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode[[]OutstandingDTO](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, "P1", rows[0].PatientID)
	assert.Equal(t, "3000.00", rows[0].DueAmount)
}

func TestGetDiagnostics(t *testing.T) {
	h := setupTestHandler(t)
	loadScenario(t, h, "name-only-records")
	router := NewRouter(h, nil, nil)

	rec := do(t, router, http.MethodGet, "/api/diagnostics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	d := decode[DiagnosticsDTO](t, rec)
	require.Len(t, d.Ambiguous, 1)
	assert.Equal(t, "pay-a1", d.Ambiguous[0].SourceID)
	assert.Equal(t, "name", d.Ambiguous[0].Tier)
	assert.Equal(t, []string{"P2", "P3"}, d.Ambiguous[0].Candidates)
	require.Len(t, d.Unmatched, 1)
	assert.Equal(t, "pay-x1", d.Unmatched[0].SourceID)
}

// =============================================================================
// COLLABORATOR FAILURE
// =============================================================================

func TestStoreDown_StaleLedgerThen503(t *testing.T) {
	mem := store.NewMemory()
	flaky := store.NewFlaky(mem)
	svc := ledger.NewService(flaky, zerolog.Nop())
	svc.RequireMethod = true
	h := NewHandler(svc, flaky, zerolog.Nop())
	loadScenario(t, h, "partial-payment")
	router := NewRouter(h, nil, nil)

	rec := do(t, router, http.MethodGet, "/api/patients/P1/ledger", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	flaky.SetDown(errors.New("connection refused"))

	rec = do(t, router, http.MethodGet, "/api/patients/P1/ledger", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	l := decode[LedgerDTO](t, rec)
	assert.True(t, l.Stale)
	assert.Equal(t, "3000.00", l.DueAmount)

	rec = do(t, router, http.MethodGet, "/api/outstanding", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/patients/P1/payments", map[string]any{"amount": "10", "method": "cash"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// =============================================================================
// SCENARIOS / METRICS
// =============================================================================

func TestScenarioEndpoints(t *testing.T) {
	router, _ := newTestServer(t)

	rec := do(t, router, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "partial-payment", decode[ScenarioDTO](t, rec).ID)

	rec = do(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, router, http.MethodGet, "/api/patients", nil)
	assert.Empty(t, decode[[]PatientDTO](t, rec))
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestServer(t)
	_ = do(t, router, http.MethodGet, "/api/patients/P1/ledger", nil)

	rec := do(t, router, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_http_requests_total{method="GET",route="/api/patients/{id}/ledger",status="200"} 1`)
}

func TestRecovery_PanicBecomes500(t *testing.T) {
	mw := Recovery(zerolog.Nop())
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(context.Background()))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
