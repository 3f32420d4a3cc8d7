/*
service.go - Ledger façade over a Source

PURPOSE:
  The one place that talks to the collaborator. Every query reads a full
  snapshot of patients and raw records, runs Matcher -> Dedupe -> Aggregate
  and returns the result. Nothing derived is written back.

OPERATIONS:
  GetLedger         ledger for one patient
  GetTimeline       merged history for one patient
  RecordPayment     append a payment, then recompute and return the ledger
  GetAllOutstanding every patient with due > 0
  Diagnostics       records no patient could claim, or several could

FAILURE POLICY:
  A failed read is an UnavailableError. GetLedger falls back to the last
  ledger it computed for that patient, marked Stale. It never returns an
  empty ledger in place of an error, because that reads as "nothing due".
  RecordPayment reads before it writes and never reads after: once the
  append succeeds the returned ledger includes it.

CONCURRENCY:
  Safe for concurrent use. Two RecordPayment calls racing on one patient both
  land; the next read sees both. There is no optimistic locking.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/patient-ledger/metrics"
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Source  Source
	Logger  zerolog.Logger
	Metrics *metrics.Collector

	// RequireMethod rejects payments without a method.
	RequireMethod bool

	// Strict panics on invariant violations. Meant for development.
	Strict bool

	// Timeout bounds each collaborator call. Zero means no bound beyond ctx.
	Timeout time.Duration

	Now func() time.Time

	mu       sync.RWMutex
	lastGood map[PatientID]Ledger
}

func NewService(src Source, logger zerolog.Logger) *Service {
	return &Service{
		Source:   src,
		Logger:   logger,
		Now:      func() time.Time { return time.Now().UTC() },
		lastGood: make(map[PatientID]Ledger),
	}
}

// PaymentInput is what a caller supplies to RecordPayment.
type PaymentInput struct {
	Amount      decimal.Decimal
	Method      string
	Date        time.Time
	Description string
	Reference   string
}

func (in PaymentInput) validate(requireMethod bool) error {
	if !in.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	if requireMethod && in.Method == "" {
		return &ValidationError{Field: "method", Message: "required"}
	}
	return nil
}

// Diagnostics lists records that did not cleanly land on one ledger.
type Diagnostics struct {
	Unmatched  []RawRecord
	Ambiguous  []*AmbiguousMatchError
	Duplicates []Duplicate
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Service) GetLedger(ctx context.Context, patientID PatientID) (*Ledger, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return s.fallback(patientID, err)
	}

	patient, ok := snap.patient(patientID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPatientNotFound, patientID)
	}

	assign := NewMatcher(snap.patients).Partition(snap.records)
	s.logAmbiguous(assign.Ambiguous, patientID)

	l, err := s.compute(patient, assign.ByPatient[patientID])
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Service) GetTimeline(ctx context.Context, patientID PatientID) ([]TimelineEvent, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	patient, ok := snap.patient(patientID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPatientNotFound, patientID)
	}

	history, err := call(ctx, s, "list_medical_history", func(ctx context.Context) ([]MedicalRecord, error) {
		return s.Source.ListMedicalHistory(ctx, patientID)
	})
	if err != nil {
		return nil, err
	}
	reports, err := call(ctx, s, "list_reports", func(ctx context.Context) ([]Report, error) {
		return s.Source.ListReports(ctx, patientID)
	})
	if err != nil {
		return nil, err
	}

	assign := NewMatcher(snap.patients).Partition(snap.records)
	l, err := s.compute(patient, assign.ByPatient[patientID])
	if err != nil {
		return nil, err
	}

	// Payments are newest first on the ledger; the timeline re-sorts anyway.
	return BuildTimeline(patient, history, reports, l.Payments...), nil
}

// RecordPayment appends a payment and returns the freshly recomputed ledger.
// Paying more than is due is allowed; the ledger shows it as negative due.
// A payment that would collapse into one already counted is rejected with a
// DuplicatePaymentError before anything is written.
func (s *Service) RecordPayment(ctx context.Context, patientID PatientID, in PaymentInput) (*Ledger, error) {
	if err := in.validate(s.RequireMethod); err != nil {
		return nil, err
	}

	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	patient, ok := snap.patient(patientID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPatientNotFound, patientID)
	}

	now := s.Now()
	rec := RawRecord{
		Kind:         KindPayment,
		PatientID:    patient.ID,
		PatientName:  patient.Name,
		PatientPhone: patient.Phone,
		Amount:       in.Amount,
		Date:         paymentDate(in.Date, now),
		CreatedAt:    now,
		Method:       in.Method,
		Description:  in.Description,
		Status:       StatusPaid,
		Reference:    in.Reference,
	}

	matched := NewMatcher(snap.patients).Partition(snap.records).ByPatient[patientID]
	if dup := wouldCollapse(matched, rec); dup != nil {
		s.Logger.Warn().
			Str("patient_id", string(patientID)).
			Str("kept", dup.KeptID).
			Str("key", dup.Key).
			Msg("payment rejected as duplicate")
		return nil, &DuplicatePaymentError{PatientID: patientID, KeptID: dup.KeptID, Key: dup.Key}
	}

	stored, err := call(ctx, s, "append_payment", func(ctx context.Context) (RawRecord, error) {
		return s.Source.AppendPayment(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	s.Metrics.PaymentRecorded()
	s.Logger.Info().
		Str("patient_id", string(patientID)).
		Str("source_id", stored.SourceID).
		Str("amount", stored.Amount.String()).
		Str("method", stored.Method).
		Msg("payment recorded")

	// Recompute from the snapshot already read plus the stored record. The
	// payment is durable at this point and no further read can hide it.
	snap.records = withPayment(snap.records, stored)
	assign := NewMatcher(snap.patients).Partition(snap.records)
	l, err := s.compute(patient, assign.ByPatient[patientID])
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetAllOutstanding returns every patient with a positive due amount, largest
// first.
func (s *Service) GetAllOutstanding(ctx context.Context) ([]Outstanding, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	assign := NewMatcher(snap.patients).Partition(snap.records)
	var out []Outstanding
	for _, p := range snap.patients {
		l, err := s.compute(p, assign.ByPatient[p.ID])
		if err != nil {
			return nil, err
		}
		if l.DueAmount.IsPositive() {
			out = append(out, Outstanding{PatientID: p.ID, PatientName: p.Name, DueAmount: l.DueAmount})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueAmount.Equal(out[j].DueAmount) {
			return out[i].DueAmount.GreaterThan(out[j].DueAmount)
		}
		return out[i].PatientID < out[j].PatientID
	})
	if out == nil {
		out = []Outstanding{}
	}
	return out, nil
}

func (s *Service) Diagnostics(ctx context.Context) (*Diagnostics, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	assign := NewMatcher(snap.patients).Partition(snap.records)
	d := &Diagnostics{Unmatched: assign.Unmatched, Ambiguous: assign.Ambiguous}

	ids := make([]string, 0, len(assign.ByPatient))
	for id := range assign.ByPatient {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	for _, id := range ids {
		_, dups := DedupeReport(assign.ByPatient[PatientID(id)])
		d.Duplicates = append(d.Duplicates, dups...)
	}

	s.Metrics.MatchOutcome(len(d.Ambiguous), len(d.Unmatched))
	for _, r := range d.Unmatched {
		s.Logger.Warn().
			Str("kind", string(r.Kind)).
			Str("source_id", r.SourceID).
			Msg("record matched no patient")
	}
	s.logAmbiguous(d.Ambiguous, "")
	return d, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

type snapshot struct {
	patients []Patient
	records  []RawRecord
}

func (s snapshot) patient(id PatientID) (Patient, bool) {
	for _, p := range s.patients {
		if p.ID == id {
			return p, true
		}
	}
	return Patient{}, false
}

// load reads patients and all four collections. Order matters: direct
// payments come first so they win deduplication.
func (s *Service) load(ctx context.Context) (snapshot, error) {
	patients, err := call(ctx, s, "list_patients", s.Source.ListPatients)
	if err != nil {
		return snapshot{}, err
	}

	lists := []struct {
		op string
		fn func(context.Context, PatientID) ([]RawRecord, error)
	}{
		{"list_payments", s.Source.ListPayments},
		{"list_appointments", s.Source.ListAppointments},
		{"list_invoices", s.Source.ListInvoices},
		{"list_room_charges", s.Source.ListRoomCharges},
	}

	var records []RawRecord
	for _, l := range lists {
		recs, err := call(ctx, s, l.op, func(ctx context.Context) ([]RawRecord, error) {
			return l.fn(ctx, "")
		})
		if err != nil {
			return snapshot{}, err
		}
		records = append(records, recs...)
	}
	return snapshot{patients: patients, records: records}, nil
}

// call runs one collaborator operation under the service timeout and wraps
// any failure as an UnavailableError.
func call[T any](ctx context.Context, s *Service, op string, fn func(context.Context) (T, error)) (T, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	v, err := fn(ctx)
	if err != nil {
		s.Metrics.CollaboratorFailed(op)
		s.Logger.Error().Err(err).Str("op", op).Msg("record store call failed")
		var zero T
		return zero, &UnavailableError{Op: op, Err: err}
	}
	return v, nil
}

// paymentDate stamps a date-only input with the clock time of recording, so
// two equal payments made on one day keep distinct dedupe tuples.
func paymentDate(d, now time.Time) time.Time {
	if d.IsZero() {
		return now
	}
	if h, m, sec := d.Clock(); h != 0 || m != 0 || sec != 0 || d.Nanosecond() != 0 {
		return d
	}
	n := now.In(d.Location())
	return time.Date(d.Year(), d.Month(), d.Day(), n.Hour(), n.Minute(), n.Second(), n.Nanosecond(), d.Location())
}

// withPayment inserts p after the last direct payment, where a fresh read
// would place it.
func withPayment(records []RawRecord, p RawRecord) []RawRecord {
	i := 0
	for i < len(records) && records[i].Kind == KindPayment {
		i++
	}
	out := make([]RawRecord, 0, len(records)+1)
	out = append(out, records[:i]...)
	out = append(out, p)
	return append(out, records[i:]...)
}

// wouldCollapse returns the duplicate a not-yet-stored payment would form
// with the patient's matched records, or nil. The pending record has no
// source id; every stored record has one.
func wouldCollapse(matched []RawRecord, pending RawRecord) *Duplicate {
	_, dups := DedupeReport(withPayment(matched, pending))
	for _, d := range dups {
		switch {
		case d.Dropped.Kind == KindPayment && d.Dropped.SourceID == "":
			return &d
		case d.KeptID == "":
			return &Duplicate{Dropped: pending, KeptID: d.Dropped.SourceID, Key: d.Key}
		}
	}
	return nil
}

func (s *Service) compute(patient Patient, matched []RawRecord) (Ledger, error) {
	deduped, dups := DedupeReport(matched)
	s.Metrics.Duplicates(len(dups))
	for _, d := range dups {
		s.Logger.Debug().
			Str("patient_id", string(patient.ID)).
			Str("dropped", d.Dropped.SourceID).
			Str("kept", d.KeptID).
			Str("key", d.Key).
			Msg("duplicate record collapsed")
	}

	l := Aggregate(patient, deduped)
	s.Metrics.LedgerComputed()
	if err := CheckInvariants(l); err != nil {
		return Ledger{}, s.violation(err)
	}

	s.remember(l)
	return l, nil
}

func (s *Service) violation(err error) error {
	s.Metrics.InvariantViolated()
	s.Logger.Error().Err(err).Msg("ledger invariant violated")
	if s.Strict {
		panic(err)
	}
	return err
}

func (s *Service) remember(l Ledger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastGood == nil {
		s.lastGood = make(map[PatientID]Ledger)
	}
	s.lastGood[l.PatientID] = cloneLedger(l)
}

func (s *Service) fallback(patientID PatientID, cause error) (*Ledger, error) {
	s.mu.RLock()
	cached, ok := s.lastGood[patientID]
	s.mu.RUnlock()

	var unavailable *UnavailableError
	if !ok || !errors.As(cause, &unavailable) {
		return nil, cause
	}

	l := cloneLedger(cached)
	l.Stale = true
	s.Logger.Warn().
		Err(cause).
		Str("patient_id", string(patientID)).
		Msg("serving last known ledger")
	return &l, nil
}

func (s *Service) logAmbiguous(errs []*AmbiguousMatchError, only PatientID) {
	for _, e := range errs {
		if only != "" && !containsID(e.Candidates, only) {
			continue
		}
		s.Logger.Warn().Err(e).Str("source_id", e.SourceID).Msg("record excluded from all ledgers")
	}
}

func containsID(ids []PatientID, id PatientID) bool {
	for _, c := range ids {
		if c == id {
			return true
		}
	}
	return false
}

func cloneLedger(l Ledger) Ledger {
	out := l
	out.Payments = make([]LedgerEntry, len(l.Payments))
	for i, e := range l.Payments {
		e.SourceIDs = append([]string(nil), e.SourceIDs...)
		out.Payments[i] = e
	}
	return out
}
