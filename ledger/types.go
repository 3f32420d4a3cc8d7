/*
Package ledger provides the patient financial reconciliation engine.

PURPOSE:
  Payments, appointment charges, invoices and room charges are created by
  different workflows and reference a patient through a stable ID, a free-text
  name or a phone number, sometimes none of them reliably. This package merges
  those streams into one duplicate-free ledger per patient, plus a merged
  treatment/payment timeline.

KEY CONCEPTS IN THIS FILE (types.go):
  - RawRecord: one unreconciled record of one of four kinds (tagged union)
  - Patient:   the registration record the engine reads but never writes
  - Ledger:    the derived total/paid/due summary for one patient
  - LedgerEntry: one normalized payment inside a Ledger

DESIGN PRINCIPLES:
  1. Derived, never stored: a Ledger is recomputed from the raw records on
     every read. Nothing updates a Ledger in place.
  2. Precision: amounts are decimal.Decimal, never float64.
  3. Explicit variants: RecordKind is the discriminant; code switches on it
     instead of probing optional fields.

PIPELINE:
  Source (collaborator) -> Matcher -> Dedupe -> Aggregate / BuildTimeline

SEE ALSO:
  - matcher.go:   identity matching across the whole patient set
  - dedupe.go:    transaction deduplication
  - aggregate.go: ledger computation
  - timeline.go:  timeline construction
  - service.go:   façade over a Source
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PatientID string

// =============================================================================
// RECORD KIND - Discriminant for the RawRecord union
// =============================================================================

type RecordKind string

const (
	KindPayment     RecordKind = "payment"
	KindAppointment RecordKind = "appointment"
	KindInvoice     RecordKind = "invoice"
	KindRoomCharge  RecordKind = "room_charge"
)

// Side says whether a kind of record moves money toward the hospital (payment)
// or asks for it (charge).
type Side string

const (
	SidePayment Side = "payment"
	SideCharge  Side = "charge"
)

func (k RecordKind) Side() Side {
	switch k {
	case KindInvoice, KindRoomCharge:
		return SideCharge
	default:
		return SidePayment
	}
}

func (k RecordKind) Valid() bool {
	switch k {
	case KindPayment, KindAppointment, KindInvoice, KindRoomCharge:
		return true
	}
	return false
}

// =============================================================================
// STATUS AND CATEGORY
// =============================================================================

type RecordStatus string

const (
	StatusPaid    RecordStatus = "paid"
	StatusPending RecordStatus = "pending"
	StatusDue     RecordStatus = "due"
	StatusPartial RecordStatus = "partial"
	StatusFailed  RecordStatus = "failed"
)

// Category buckets a charge in the cost breakdown.
type Category string

const (
	CategoryRoom         Category = "room"
	CategoryMedication   Category = "medication"
	CategoryTest         Category = "test"
	CategoryConsultation Category = "consultation"
	CategoryMisc         Category = "miscellaneous"
)

// =============================================================================
// RAW RECORD - Tagged union over the four source collections
// =============================================================================

// AppointmentDetail is carried only by KindAppointment records.
type AppointmentDetail struct {
	DoctorName string
	Department string
	Service    string
}

// RoomDetail is carried only by KindRoomCharge records.
type RoomDetail struct {
	RoomNumber string
	DailyRate  decimal.Decimal
	Days       int
}

// RawRecord is one unreconciled entry from an external source collection.
// At least one of PatientID, PatientName, PatientPhone/ContactNumber is set;
// none of them is reliable on its own.
type RawRecord struct {
	Kind     RecordKind
	SourceID string

	PatientID     PatientID
	PatientName   string
	PatientPhone  string
	ContactNumber string

	Amount      decimal.Decimal
	Date        time.Time
	CreatedAt   time.Time
	Method      string
	Description string
	Status      RecordStatus

	// Reference is a cross-reference to another record that describes the same
	// transaction (e.g. a payment made for an appointment).
	Reference string

	// Category is only meaningful for invoices.
	Category Category

	Appointment *AppointmentDetail
	Room        *RoomDetail

	// Set by the engine on copies. Never persisted.
	MatchedPatientID PatientID
	MatchTier        Tier
	MergedSourceIDs  []string
}

// EffectiveDate is Date, falling back to CreatedAt.
func (r RawRecord) EffectiveDate() time.Time {
	if !r.Date.IsZero() {
		return r.Date
	}
	return r.CreatedAt
}

// Phone returns the first non-empty phone-like field.
func (r RawRecord) Phone() string {
	if r.PatientPhone != "" {
		return r.PatientPhone
	}
	return r.ContactNumber
}

// ChargeAmount is the amount a charge contributes to the ledger. Room charges
// recorded without an amount are priced from their daily rate.
func (r RawRecord) ChargeAmount() decimal.Decimal {
	if r.Kind == KindRoomCharge && !r.Amount.IsPositive() && r.Room != nil && r.Room.Days > 0 {
		return r.Room.DailyRate.Mul(decimal.NewFromInt(int64(r.Room.Days)))
	}
	return r.Amount
}

// ChargeCategory returns the cost-breakdown bucket for a charge.
func (r RawRecord) ChargeCategory() Category {
	if r.Kind == KindRoomCharge {
		return CategoryRoom
	}
	switch r.Category {
	case CategoryRoom, CategoryMedication, CategoryTest, CategoryConsultation:
		return r.Category
	}
	return CategoryMisc
}

// Owner is the patient the record is attributed to, preferring the matcher's
// decision over whatever the source wrote.
func (r RawRecord) Owner() PatientID {
	if r.MatchedPatientID != "" {
		return r.MatchedPatientID
	}
	return r.PatientID
}

// Counts reports whether the record contributes to a ledger. Charges always
// do. A direct payment counts unless it failed; an appointment counts only
// once it is paid.
func (r RawRecord) Counts() bool {
	switch r.Kind {
	case KindPayment:
		return r.Status != StatusFailed
	case KindAppointment:
		return r.Status == StatusPaid
	case KindInvoice, KindRoomCharge:
		return true
	}
	return false
}

// Validate checks the shape every source collection must honor.
func (r RawRecord) Validate() error {
	if !r.Kind.Valid() {
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown record kind %q", r.Kind)}
	}
	if r.SourceID == "" {
		return &ValidationError{Field: "source_id", Message: "required"}
	}
	if r.PatientID == "" && r.PatientName == "" && r.Phone() == "" {
		return &ValidationError{Field: "patient", Message: "one of patient id, name or phone is required"}
	}
	if r.Amount.IsNegative() {
		return &ValidationError{Field: "amount", Message: "must not be negative"}
	}
	return nil
}

// =============================================================================
// PATIENT - Owned by registration; read-only here
// =============================================================================

type PaymentDetails struct {
	TotalAmount decimal.Decimal
}

type Medication struct {
	Name         string
	Dosage       string
	StartDate    string
	PrescribedBy string
}

type Patient struct {
	ID              PatientID
	Name            string
	Phone           string
	AdmissionDate   string
	AttendingDoctor string
	Medications     []Medication

	// PaymentDetails is only present when the patient was registered with an
	// upfront total.
	PaymentDetails *PaymentDetails
}

type MedicalRecord struct {
	ID        string
	Date      string
	Diagnosis string
	Treatment string
	Doctor    string
}

type Report struct {
	ID       string
	Date     string
	TestName string
	Result   string
	Doctor   string
}

// =============================================================================
// LEDGER - Derived per-patient view
// =============================================================================

type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "Pending"
	PaymentPartiallyPaid PaymentStatus = "PartiallyPaid"
	PaymentFullyPaid     PaymentStatus = "FullyPaid"
)

type Origin string

const (
	OriginDirect      Origin = "direct"
	OriginAppointment Origin = "appointment"
)

// TotalSource records where Ledger.TotalAmount came from.
type TotalSource string

const (
	TotalFromRegistration TotalSource = "registration"
	TotalFromCharges      TotalSource = "charges"
	TotalFromPayments     TotalSource = "payments"
)

type LedgerEntry struct {
	ID          string
	Amount      decimal.Decimal
	Method      string
	Date        time.Time
	Description string
	Origin      Origin

	// SourceIDs traces the entry back to every raw record collapsed into it.
	// Audit only; never used for matching.
	SourceIDs []string
}

type CostBreakdown struct {
	RoomCharges         decimal.Decimal
	MedicationCharges   decimal.Decimal
	TestCharges         decimal.Decimal
	ConsultationCharges decimal.Decimal
	Miscellaneous       decimal.Decimal
}

func (c CostBreakdown) Total() decimal.Decimal {
	return c.RoomCharges.
		Add(c.MedicationCharges).
		Add(c.TestCharges).
		Add(c.ConsultationCharges).
		Add(c.Miscellaneous)
}

func (c *CostBreakdown) add(cat Category, amount decimal.Decimal) {
	switch cat {
	case CategoryRoom:
		c.RoomCharges = c.RoomCharges.Add(amount)
	case CategoryMedication:
		c.MedicationCharges = c.MedicationCharges.Add(amount)
	case CategoryTest:
		c.TestCharges = c.TestCharges.Add(amount)
	case CategoryConsultation:
		c.ConsultationCharges = c.ConsultationCharges.Add(amount)
	default:
		c.Miscellaneous = c.Miscellaneous.Add(amount)
	}
}

// Ledger is the derived financial summary for one patient.
//
// INVARIANTS:
//   - DueAmount == TotalAmount - TotalPaid (negative means overpaid)
//   - TotalPaid == sum of Payments[i].Amount
//   - Payments sorted by Date desc, then ID asc
type Ledger struct {
	PatientID     PatientID
	TotalAmount   decimal.Decimal
	TotalPaid     decimal.Decimal
	DueAmount     decimal.Decimal
	TotalSource   TotalSource
	Status        PaymentStatus
	Payments      []LedgerEntry
	CostBreakdown CostBreakdown

	// Stale is set by the service when the collaborator was unreachable and
	// the last successfully computed ledger is returned instead.
	Stale bool
}

// Outstanding is one row of the outstanding-dues report.
type Outstanding struct {
	PatientID   PatientID
	PatientName string
	DueAmount   decimal.Decimal
}

// SumDue adds up the due amounts of a report.
func SumDue(rows []Outstanding) decimal.Decimal {
	total := decimal.Zero
	for _, o := range rows {
		total = total.Add(o.DueAmount)
	}
	return total
}
