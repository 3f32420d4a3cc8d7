/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes for the presentation layer. Amounts leave the API as fixed
  two-decimal strings so clients never round-trip money through float64.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/patient-ledger/ledger"
)

// =============================================================================
// PATIENTS
// =============================================================================

type PatientDTO struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Phone           string          `json:"phone,omitempty"`
	AdmissionDate   string          `json:"admission_date,omitempty"`
	AttendingDoctor string          `json:"attending_doctor,omitempty"`
	TotalAmount     *string         `json:"total_amount,omitempty"`
	Medications     []MedicationDTO `json:"medications,omitempty"`
}

type MedicationDTO struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage,omitempty"`
	StartDate    string `json:"start_date,omitempty"`
	PrescribedBy string `json:"prescribed_by,omitempty"`
}

type CreatePatientRequest struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Phone           string           `json:"phone"`
	AdmissionDate   string           `json:"admission_date"`
	AttendingDoctor string           `json:"attending_doctor"`
	TotalAmount     *decimal.Decimal `json:"total_amount,omitempty"`
	Medications     []MedicationDTO  `json:"medications,omitempty"`
}

func (r CreatePatientRequest) toPatient() ledger.Patient {
	p := ledger.Patient{
		ID:              ledger.PatientID(r.ID),
		Name:            r.Name,
		Phone:           r.Phone,
		AdmissionDate:   r.AdmissionDate,
		AttendingDoctor: r.AttendingDoctor,
	}
	if r.TotalAmount != nil {
		p.PaymentDetails = &ledger.PaymentDetails{TotalAmount: *r.TotalAmount}
	}
	for _, m := range r.Medications {
		p.Medications = append(p.Medications, ledger.Medication(m))
	}
	return p
}

func toPatientDTO(p ledger.Patient) PatientDTO {
	dto := PatientDTO{
		ID:              string(p.ID),
		Name:            p.Name,
		Phone:           p.Phone,
		AdmissionDate:   p.AdmissionDate,
		AttendingDoctor: p.AttendingDoctor,
	}
	if p.PaymentDetails != nil {
		dto.TotalAmount = strPtr(money(p.PaymentDetails.TotalAmount))
	}
	for _, m := range p.Medications {
		dto.Medications = append(dto.Medications, MedicationDTO(m))
	}
	return dto
}

// =============================================================================
// LEDGER
// =============================================================================

type LedgerDTO struct {
	PatientID     string           `json:"patient_id"`
	TotalAmount   string           `json:"total_amount"`
	TotalPaid     string           `json:"total_paid"`
	DueAmount     string           `json:"due_amount"`
	TotalSource   string           `json:"total_source"`
	Status        string           `json:"status"`
	Payments      []LedgerEntryDTO `json:"payments"`
	CostBreakdown CostBreakdownDTO `json:"cost_breakdown"`
	Stale         bool             `json:"stale,omitempty"`
}

type LedgerEntryDTO struct {
	ID          string   `json:"id"`
	Amount      string   `json:"amount"`
	Method      string   `json:"method,omitempty"`
	Date        string   `json:"date,omitempty"`
	Description string   `json:"description"`
	Origin      string   `json:"origin"`
	SourceIDs   []string `json:"source_ids"`
}

type CostBreakdownDTO struct {
	RoomCharges         string `json:"room_charges"`
	MedicationCharges   string `json:"medication_charges"`
	TestCharges         string `json:"test_charges"`
	ConsultationCharges string `json:"consultation_charges"`
	Miscellaneous       string `json:"miscellaneous"`
}

func toLedgerDTO(l *ledger.Ledger) LedgerDTO {
	dto := LedgerDTO{
		PatientID:   string(l.PatientID),
		TotalAmount: money(l.TotalAmount),
		TotalPaid:   money(l.TotalPaid),
		DueAmount:   money(l.DueAmount),
		TotalSource: string(l.TotalSource),
		Status:      string(l.Status),
		Payments:    make([]LedgerEntryDTO, len(l.Payments)),
		CostBreakdown: CostBreakdownDTO{
			RoomCharges:         money(l.CostBreakdown.RoomCharges),
			MedicationCharges:   money(l.CostBreakdown.MedicationCharges),
			TestCharges:         money(l.CostBreakdown.TestCharges),
			ConsultationCharges: money(l.CostBreakdown.ConsultationCharges),
			Miscellaneous:       money(l.CostBreakdown.Miscellaneous),
		},
		Stale: l.Stale,
	}
	for i, e := range l.Payments {
		dto.Payments[i] = LedgerEntryDTO{
			ID:          e.ID,
			Amount:      money(e.Amount),
			Method:      e.Method,
			Date:        formatDate(e.Date),
			Description: e.Description,
			Origin:      string(e.Origin),
			SourceIDs:   e.SourceIDs,
		}
	}
	return dto
}

type RecordPaymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method"`
	Date        string          `json:"date,omitempty"`
	Description string          `json:"description,omitempty"`
	Reference   string          `json:"reference,omitempty"`
}

type OutstandingDTO struct {
	PatientID   string `json:"patient_id"`
	PatientName string `json:"patient_name"`
	DueAmount   string `json:"due_amount"`
}

// =============================================================================
// TIMELINE
// =============================================================================

type TimelineEventDTO struct {
	Kind        string `json:"kind"`
	Date        string `json:"date,omitempty"`
	Description string `json:"description"`
	Doctor      string `json:"doctor,omitempty"`
}

// =============================================================================
// RAW RECORD INGESTION
// =============================================================================

type RecordRequest struct {
	Kind          string          `json:"kind"`
	SourceID      string          `json:"source_id"`
	PatientID     string          `json:"patient_id,omitempty"`
	PatientName   string          `json:"patient_name,omitempty"`
	PatientPhone  string          `json:"patient_phone,omitempty"`
	ContactNumber string          `json:"contact_number,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Date          string          `json:"date,omitempty"`
	Method        string          `json:"method,omitempty"`
	Description   string          `json:"description,omitempty"`
	Status        string          `json:"status,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	Category      string          `json:"category,omitempty"`
	DoctorName    string          `json:"doctor_name,omitempty"`
	Department    string          `json:"department,omitempty"`
	Service       string          `json:"service,omitempty"`
	RoomNumber    string          `json:"room_number,omitempty"`
	DailyRate     decimal.Decimal `json:"daily_rate,omitempty"`
	Days          int             `json:"days,omitempty"`
}

func (r RecordRequest) toRecord(now time.Time) ledger.RawRecord {
	rec := ledger.RawRecord{
		Kind:          ledger.RecordKind(r.Kind),
		SourceID:      r.SourceID,
		PatientID:     ledger.PatientID(r.PatientID),
		PatientName:   r.PatientName,
		PatientPhone:  r.PatientPhone,
		ContactNumber: r.ContactNumber,
		Amount:        r.Amount,
		Date:          ledger.ParseDate(r.Date),
		CreatedAt:     now,
		Method:        r.Method,
		Description:   r.Description,
		Status:        ledger.RecordStatus(r.Status),
		Reference:     r.Reference,
		Category:      ledger.Category(r.Category),
	}
	switch rec.Kind {
	case ledger.KindAppointment:
		rec.Appointment = &ledger.AppointmentDetail{DoctorName: r.DoctorName, Department: r.Department, Service: r.Service}
	case ledger.KindRoomCharge:
		rec.Room = &ledger.RoomDetail{RoomNumber: r.RoomNumber, DailyRate: r.DailyRate, Days: r.Days}
	}
	return rec
}

type RecordDTO struct {
	Kind        string `json:"kind"`
	SourceID    string `json:"source_id"`
	PatientID   string `json:"patient_id,omitempty"`
	PatientName string `json:"patient_name,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Amount      string `json:"amount"`
	Date        string `json:"date,omitempty"`
}

func toRecordDTO(r ledger.RawRecord) RecordDTO {
	return RecordDTO{
		Kind:        string(r.Kind),
		SourceID:    r.SourceID,
		PatientID:   string(r.PatientID),
		PatientName: r.PatientName,
		Phone:       r.Phone(),
		Amount:      money(r.Amount),
		Date:        formatDate(r.EffectiveDate()),
	}
}

// =============================================================================
// DIAGNOSTICS
// =============================================================================

type DiagnosticsDTO struct {
	Unmatched  []RecordDTO    `json:"unmatched"`
	Ambiguous  []AmbiguousDTO `json:"ambiguous"`
	Duplicates []DuplicateDTO `json:"duplicates"`
}

type AmbiguousDTO struct {
	Kind       string   `json:"kind"`
	SourceID   string   `json:"source_id"`
	Tier       string   `json:"tier"`
	Candidates []string `json:"candidates"`
}

type DuplicateDTO struct {
	Dropped RecordDTO `json:"dropped"`
	KeptID  string    `json:"kept_id"`
	Key     string    `json:"key"`
}

// =============================================================================
// SCENARIOS / ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// FORMATTING
// =============================================================================

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func strPtr(s string) *string { return &s }
