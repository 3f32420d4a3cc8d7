/*
handlers.go - HTTP API handlers for the patient ledger engine

PURPOSE:
  Exposes the ledger engine to the presentation layer. Handles HTTP
  request/response and JSON, and delegates to ledger.Service. Nothing here
  computes money.

ENDPOINTS:
  Patients:
    GET    /api/patients                  List patients
    POST   /api/patients                  Register patient
    GET    /api/patients/{id}             Get patient
    GET    /api/patients/{id}/ledger      Ledger (recomputed)
    GET    /api/patients/{id}/timeline    Merged timeline
    POST   /api/patients/{id}/payments    Record payment, returns new ledger

  Records:
    POST   /api/records                   Ingest a raw record of any kind

  Reports:
    GET    /api/outstanding               Patients with due > 0
    GET    /api/diagnostics               Unmatched, ambiguous, duplicate records

ERROR HANDLING:
  - 400: validation errors, invalid input
  - 404: unknown patient
  - 409: duplicate source id, or a payment the ledger already counts
  - 503: record store unavailable
  - 500: anything else, including invariant violations

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/patient-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service  *ledger.Service
	Source   ledger.Source
	Registry ledger.Registry
	Logger   zerolog.Logger

	mu              sync.RWMutex
	currentScenario string
}

// NewHandler wires a handler over a store that is both the engine's source
// and the registration/ingestion target.
func NewHandler(svc *ledger.Service, store ledger.Store, logger zerolog.Logger) *Handler {
	return &Handler{
		Service:  svc,
		Source:   store,
		Registry: store,
		Logger:   logger,
	}
}

// =============================================================================
// PATIENT HANDLERS
// =============================================================================

func (h *Handler) ListPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := h.Source.ListPatients(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Failed to list patients", err)
		return
	}

	dtos := make([]PatientDTO, len(patients))
	for i, p := range patients {
		dtos[i] = toPatientDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetPatient(w http.ResponseWriter, r *http.Request) {
	id := ledger.PatientID(chi.URLParam(r, "id"))

	patients, err := h.Source.ListPatients(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Failed to get patient", err)
		return
	}
	for _, p := range patients {
		if p.ID == id {
			writeJSON(w, http.StatusOK, toPatientDTO(p))
			return
		}
	}
	writeError(w, http.StatusNotFound, "Patient not found", nil)
}

func (h *Handler) CreatePatient(w http.ResponseWriter, r *http.Request) {
	var req CreatePatientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	if req.TotalAmount != nil && req.TotalAmount.IsNegative() {
		writeError(w, http.StatusBadRequest, "total_amount must not be negative", nil)
		return
	}

	p := req.toPatient()
	if p.ID == "" {
		p.ID = ledger.PatientID(uuid.NewString())
	}
	if err := h.Registry.SavePatient(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to register patient", err)
		return
	}
	h.Logger.Info().Str("patient_id", string(p.ID)).Msg("patient registered")
	writeJSON(w, http.StatusCreated, toPatientDTO(p))
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	id := ledger.PatientID(chi.URLParam(r, "id"))

	l, err := h.Service.GetLedger(r.Context(), id)
	if err != nil {
		writeServiceError(w, "Failed to compute ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerDTO(l))
}

func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	id := ledger.PatientID(chi.URLParam(r, "id"))

	events, err := h.Service.GetTimeline(r.Context(), id)
	if err != nil {
		writeServiceError(w, "Failed to build timeline", err)
		return
	}

	dtos := make([]TimelineEventDTO, len(events))
	for i, e := range events {
		dtos[i] = TimelineEventDTO{
			Kind:        string(e.Kind),
			Date:        formatDate(e.Date),
			Description: e.Description,
			Doctor:      e.Doctor,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RecordPayment appends a payment. Rejecting payments above the current due
// is a client-side policy; the engine accepts overpayment.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	id := ledger.PatientID(chi.URLParam(r, "id"))

	var req RecordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in := ledger.PaymentInput{
		Amount:      req.Amount,
		Method:      req.Method,
		Description: req.Description,
		Reference:   req.Reference,
	}
	if req.Date != "" {
		in.Date = ledger.ParseDate(req.Date)
		if in.Date.IsZero() {
			writeError(w, http.StatusBadRequest, "Invalid date", nil)
			return
		}
	}

	l, err := h.Service.RecordPayment(r.Context(), id, in)
	if err != nil {
		writeServiceError(w, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLedgerDTO(l))
}

func (h *Handler) ListOutstanding(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Service.GetAllOutstanding(r.Context())
	if err != nil {
		writeServiceError(w, "Failed to compute outstanding dues", err)
		return
	}

	dtos := make([]OutstandingDTO, len(rows))
	for i, o := range rows {
		dtos[i] = OutstandingDTO{
			PatientID:   string(o.PatientID),
			PatientName: o.PatientName,
			DueAmount:   money(o.DueAmount),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetDiagnostics(w http.ResponseWriter, r *http.Request) {
	d, err := h.Service.Diagnostics(r.Context())
	if err != nil {
		writeServiceError(w, "Failed to compute diagnostics", err)
		return
	}

	dto := DiagnosticsDTO{
		Unmatched:  make([]RecordDTO, len(d.Unmatched)),
		Ambiguous:  make([]AmbiguousDTO, len(d.Ambiguous)),
		Duplicates: make([]DuplicateDTO, len(d.Duplicates)),
	}
	for i, rec := range d.Unmatched {
		dto.Unmatched[i] = toRecordDTO(rec)
	}
	for i, a := range d.Ambiguous {
		ids := make([]string, len(a.Candidates))
		for j, c := range a.Candidates {
			ids[j] = string(c)
		}
		dto.Ambiguous[i] = AmbiguousDTO{Kind: string(a.Kind), SourceID: a.SourceID, Tier: a.Tier.String(), Candidates: ids}
	}
	for i, dup := range d.Duplicates {
		dto.Duplicates[i] = DuplicateDTO{Dropped: toRecordDTO(dup.Dropped), KeptID: dup.KeptID, Key: dup.Key}
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// RECORD INGESTION
// =============================================================================

// CreateRecord ingests one raw record as an upstream workflow would.
func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var req RecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rec := req.toRecord(h.Service.Now())
	if req.Date != "" && rec.Date.IsZero() {
		writeError(w, http.StatusBadRequest, "Invalid date", nil)
		return
	}
	if err := h.Registry.AddRecord(r.Context(), rec); err != nil {
		writeServiceError(w, "Failed to store record", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecordDTO(rec))
}

// =============================================================================
// HELPERS
// =============================================================================

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

// writeServiceError maps engine errors to HTTP status codes.
func writeServiceError(w http.ResponseWriter, message string, err error) {
	switch {
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case ledger.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case ledger.IsUnavailable(err):
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
