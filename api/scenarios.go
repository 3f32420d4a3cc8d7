/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Pre-built data sets that exercise the matching and deduplication paths.
  Each scenario resets the store, registers patients and writes raw records
  the way the upstream workflows would.

AVAILABLE SCENARIOS:
  partial-payment:   Total 5000, one payment of 2000, clinical history
  shared-name:       Two patients named alike; records keyed by id only
  duplicate-entry:   One payment entered through two workflows
  name-only-records: Records carrying only a name or phone, one ambiguous

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "partial-payment"}

NOTE:
  Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Record ingestion used by the loaders
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/patient-ledger/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "partial-payment",
		Name:        "Partial Payment",
		Description: "Registered total of 5000 with one 2000 payment; due 3000",
	},
	{
		ID:          "shared-name",
		Name:        "Shared Name",
		Description: "Two patients with the same name; id-keyed records never cross over",
	},
	{
		ID:          "duplicate-entry",
		Name:        "Duplicate Entry",
		Description: "A payment recorded both directly and through an appointment",
	},
	{
		ID:          "name-only-records",
		Name:        "Name-Only Records",
		Description: "Records identified by name or phone only, including one ambiguous record",
	},
}

// Scenarios returns the available scenario definitions.
func Scenarios() []ScenarioDTO {
	return append([]ScenarioDTO(nil), scenarios...)
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Load(r.Context(), req.ScenarioID); err != nil {
		if errors.Is(err, errUnknownScenario) {
			writeError(w, http.StatusBadRequest, "Unknown scenario", err)
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears every patient and record.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Registry.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.setCurrent("")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

var errUnknownScenario = errors.New("unknown scenario")

// Load resets the store and loads the named scenario. Used by the HTTP
// handler and by the seed command.
func (h *Handler) Load(ctx context.Context, id string) error {
	loaders := map[string]func(context.Context) error{
		"partial-payment":   h.loadPartialPaymentScenario,
		"shared-name":       h.loadSharedNameScenario,
		"duplicate-entry":   h.loadDuplicateEntryScenario,
		"name-only-records": h.loadNameOnlyScenario,
	}
	load, ok := loaders[id]
	if !ok {
		return fmt.Errorf("%w: %q", errUnknownScenario, id)
	}

	if err := h.Registry.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	h.setCurrent("")

	if err := load(ctx); err != nil {
		return err
	}
	h.setCurrent(id)
	h.Logger.Info().Str("scenario", id).Msg("scenario loaded")
	return nil
}

func (h *Handler) setCurrent(id string) {
	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadPartialPaymentScenario(ctx context.Context) error {
	p1 := ledger.Patient{
		ID:              "P1",
		Name:            "Asha Verma",
		Phone:           "+91 98765 43210",
		AdmissionDate:   "2024-03-01",
		AttendingDoctor: "Dr. Rao",
		PaymentDetails:  &ledger.PaymentDetails{TotalAmount: decimal.NewFromInt(5000)},
		Medications: []ledger.Medication{
			{Name: "Amoxicillin", Dosage: "500mg", StartDate: "2024-03-02", PrescribedBy: "Dr. Rao"},
		},
	}
	if err := h.Registry.SavePatient(ctx, p1); err != nil {
		return err
	}

	records := []ledger.RawRecord{
		{
			Kind:      ledger.KindInvoice,
			SourceID:  "inv-p1-1",
			PatientID: "P1",
			Amount:    decimal.NewFromInt(3000),
			Date:      day(2024, 3, 1),
			Category:  ledger.CategoryRoom,
			Status:    ledger.StatusDue,
		},
		{
			Kind:      ledger.KindInvoice,
			SourceID:  "inv-p1-2",
			PatientID: "P1",
			Amount:    decimal.NewFromInt(2000),
			Date:      day(2024, 3, 3),
			Category:  ledger.CategoryTest,
			Status:    ledger.StatusDue,
		},
		{
			Kind:      ledger.KindPayment,
			SourceID:  "pay-p1-1",
			PatientID: "P1",
			Amount:    decimal.NewFromInt(2000),
			Date:      day(2024, 3, 4),
			Method:    "card",
			Status:    ledger.StatusPaid,
		},
	}
	if err := h.addRecords(ctx, records); err != nil {
		return err
	}

	if err := h.Registry.AddMedicalRecord(ctx, "P1", ledger.MedicalRecord{
		ID: "mh-p1-1", Date: "2024-03-01", Diagnosis: "Pneumonia", Treatment: "IV antibiotics", Doctor: "Dr. Rao",
	}); err != nil {
		return err
	}
	return h.Registry.AddReport(ctx, "P1", ledger.Report{
		ID: "rep-p1-1", Date: "2024-03-03", TestName: "Chest X-ray", Result: "Clearing", Doctor: "Dr. Iyer",
	})
}

func (h *Handler) loadSharedNameScenario(ctx context.Context) error {
	patients := []ledger.Patient{
		{ID: "P1", Name: "Ravi Kumar", Phone: "555-0101", AdmissionDate: "2024-05-10", AttendingDoctor: "Dr. Shah"},
		{ID: "P2", Name: "Ravi Kumar", Phone: "555-0202", AdmissionDate: "2024-05-12", AttendingDoctor: "Dr. Shah"},
	}
	for _, p := range patients {
		if err := h.Registry.SavePatient(ctx, p); err != nil {
			return err
		}
	}

	return h.addRecords(ctx, []ledger.RawRecord{
		{Kind: ledger.KindRoomCharge, SourceID: "room-p1", PatientID: "P1", PatientName: "Ravi Kumar", Date: day(2024, 5, 10),
			Room: &ledger.RoomDetail{RoomNumber: "204", DailyRate: decimal.NewFromInt(800), Days: 3}},
		{Kind: ledger.KindRoomCharge, SourceID: "room-p2", PatientID: "P2", PatientName: "Ravi Kumar", Date: day(2024, 5, 12),
			Room: &ledger.RoomDetail{RoomNumber: "311", DailyRate: decimal.NewFromInt(1200), Days: 2}},
		{Kind: ledger.KindPayment, SourceID: "pay-p1", PatientID: "P1", PatientName: "Ravi Kumar",
			Amount: decimal.NewFromInt(1000), Date: day(2024, 5, 11), Method: "cash", Status: ledger.StatusPaid},
		{Kind: ledger.KindPayment, SourceID: "pay-p2", PatientID: "P2", PatientName: "Ravi Kumar",
			Amount: decimal.NewFromInt(2400), Date: day(2024, 5, 14), Method: "upi", Status: ledger.StatusPaid},
	})
}

func (h *Handler) loadDuplicateEntryScenario(ctx context.Context) error {
	p := ledger.Patient{
		ID: "P1", Name: "Meera Nair", Phone: "555-0303",
		AdmissionDate: "2024-07-01", AttendingDoctor: "Dr. Menon",
		PaymentDetails: &ledger.PaymentDetails{TotalAmount: decimal.NewFromInt(4000)},
	}
	if err := h.Registry.SavePatient(ctx, p); err != nil {
		return err
	}

	paidAt := day(2024, 7, 2)
	return h.addRecords(ctx, []ledger.RawRecord{
		// Entered at the front desk.
		{Kind: ledger.KindPayment, SourceID: "appt-771", PatientID: "P1", Amount: decimal.NewFromInt(1500),
			Date: paidAt, Method: "card", Status: ledger.StatusPaid, Reference: "appt-771"},
		// Same consultation, marked paid by the appointment workflow.
		{Kind: ledger.KindAppointment, SourceID: "appt-771", PatientID: "P1", Amount: decimal.NewFromInt(1500),
			Date: paidAt, Method: "card", Status: ledger.StatusPaid,
			Appointment: &ledger.AppointmentDetail{DoctorName: "Dr. Menon", Department: "Cardiology", Service: "Consultation"}},
		// Re-keyed by hand with a new id; same patient, amount, date and method.
		{Kind: ledger.KindPayment, SourceID: "pay-manual-9", PatientID: "P1", Amount: decimal.NewFromInt(1000),
			Date: day(2024, 7, 5), Method: "cash", Status: ledger.StatusPaid},
		{Kind: ledger.KindPayment, SourceID: "pay-manual-10", PatientID: "P1", Amount: decimal.NewFromInt(1000),
			Date: day(2024, 7, 5), Method: "cash", Status: ledger.StatusPaid},
	})
}

func (h *Handler) loadNameOnlyScenario(ctx context.Context) error {
	patients := []ledger.Patient{
		{ID: "P1", Name: "Kavya Reddy", Phone: "(555) 010-4444", AdmissionDate: "2024-09-01", AttendingDoctor: "Dr. Das"},
		{ID: "P2", Name: "Arjun Singh", Phone: "555-020-5555", AdmissionDate: "2024-09-02", AttendingDoctor: "Dr. Das"},
		{ID: "P3", Name: "Arjun Singh", Phone: "555-030-6666", AdmissionDate: "2024-09-03", AttendingDoctor: "Dr. Bose"},
	}
	for _, p := range patients {
		if err := h.Registry.SavePatient(ctx, p); err != nil {
			return err
		}
	}

	return h.addRecords(ctx, []ledger.RawRecord{
		{Kind: ledger.KindInvoice, SourceID: "inv-k1", PatientName: "Kavya Reddy", Amount: decimal.NewFromInt(2500),
			Date: day(2024, 9, 1), Category: ledger.CategoryMedication},
		{Kind: ledger.KindPayment, SourceID: "pay-k1", PatientPhone: "5550104444", Amount: decimal.NewFromInt(500),
			Date: day(2024, 9, 2), Method: "upi", Status: ledger.StatusPaid},
		// Two patients share this name and there is no id or phone: excluded.
		{Kind: ledger.KindPayment, SourceID: "pay-a1", PatientName: "Arjun Singh", Amount: decimal.NewFromInt(700),
			Date: day(2024, 9, 4), Method: "cash", Status: ledger.StatusPaid},
		{Kind: ledger.KindInvoice, SourceID: "inv-a2", ContactNumber: "555 020 5555", Amount: decimal.NewFromInt(1800),
			Date: day(2024, 9, 2), Category: ledger.CategoryConsultation},
		// Matches nobody.
		{Kind: ledger.KindPayment, SourceID: "pay-x1", PatientName: "Walk-in", Amount: decimal.NewFromInt(100),
			Date: day(2024, 9, 5), Method: "cash", Status: ledger.StatusPaid},
	})
}

func (h *Handler) addRecords(ctx context.Context, records []ledger.RawRecord) error {
	for _, rec := range records {
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = rec.Date
		}
		if err := h.Registry.AddRecord(ctx, rec); err != nil {
			return fmt.Errorf("add %s %s: %w", rec.Kind, rec.SourceID, err)
		}
	}
	return nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 10, 0, 0, 0, time.UTC)
}
