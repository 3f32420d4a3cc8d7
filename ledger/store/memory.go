// Package store provides in-memory ledger.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/warp/patient-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	patients map[ledger.PatientID]ledger.Patient
	records  map[ledger.RecordKind][]ledger.RawRecord
	history  map[ledger.PatientID][]ledger.MedicalRecord
	reports  map[ledger.PatientID][]ledger.Report

	// NewID assigns source ids to appended payments.
	NewID func() string
}

func NewMemory() *Memory {
	m := &Memory{NewID: uuid.NewString}
	m.resetLocked()
	return m
}

func (m *Memory) resetLocked() {
	m.patients = make(map[ledger.PatientID]ledger.Patient)
	m.records = make(map[ledger.RecordKind][]ledger.RawRecord)
	m.history = make(map[ledger.PatientID][]ledger.MedicalRecord)
	m.reports = make(map[ledger.PatientID][]ledger.Report)
}

// =============================================================================
// SOURCE
// =============================================================================

// ListPatients returns patients ordered by ID.
func (m *Memory) ListPatients(ctx context.Context) ([]ledger.Patient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ledger.Patient, 0, len(m.patients))
	for _, p := range m.patients {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListPayments(ctx context.Context, id ledger.PatientID) ([]ledger.RawRecord, error) {
	return m.list(ctx, ledger.KindPayment, id)
}

func (m *Memory) ListAppointments(ctx context.Context, id ledger.PatientID) ([]ledger.RawRecord, error) {
	return m.list(ctx, ledger.KindAppointment, id)
}

func (m *Memory) ListInvoices(ctx context.Context, id ledger.PatientID) ([]ledger.RawRecord, error) {
	return m.list(ctx, ledger.KindInvoice, id)
}

func (m *Memory) ListRoomCharges(ctx context.Context, id ledger.PatientID) ([]ledger.RawRecord, error) {
	return m.list(ctx, ledger.KindRoomCharge, id)
}

// list returns records in insertion order. A non-empty id filters on the
// record's own PatientID field only.
func (m *Memory) list(ctx context.Context, kind ledger.RecordKind, id ledger.PatientID) ([]ledger.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.RawRecord
	for _, r := range m.records[kind] {
		if id != "" && r.PatientID != id {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *Memory) ListMedicalHistory(ctx context.Context, id ledger.PatientID) ([]ledger.MedicalRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ledger.MedicalRecord(nil), m.history[id]...), nil
}

func (m *Memory) ListReports(ctx context.Context, id ledger.PatientID) ([]ledger.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ledger.Report(nil), m.reports[id]...), nil
}

// AppendPayment stores a payment under a fresh source id. Append-only.
func (m *Memory) AppendPayment(ctx context.Context, r ledger.RawRecord) (ledger.RawRecord, error) {
	r.Kind = ledger.KindPayment
	if r.SourceID == "" {
		r.SourceID = m.NewID()
	}
	if err := m.AddRecord(ctx, r); err != nil {
		return ledger.RawRecord{}, err
	}
	return r, nil
}

// =============================================================================
// REGISTRY
// =============================================================================

func (m *Memory) SavePatient(ctx context.Context, p ledger.Patient) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = ledger.PatientID(m.NewID())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[p.ID] = p
	return nil
}

// AddRecord appends r to its collection. Source ids are unique per
// collection.
func (m *Memory) AddRecord(ctx context.Context, r ledger.RawRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records[r.Kind] {
		if existing.SourceID == r.SourceID {
			return fmt.Errorf("%w: %s %s", ledger.ErrDuplicateSourceID, r.Kind, r.SourceID)
		}
	}
	m.records[r.Kind] = append(m.records[r.Kind], r)
	return nil
}

func (m *Memory) AddMedicalRecord(ctx context.Context, id ledger.PatientID, rec ledger.MedicalRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[id] = append(m.history[id], rec)
	return nil
}

func (m *Memory) AddReport(ctx context.Context, id ledger.PatientID, rep ledger.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[id] = append(m.reports[id], rep)
	return nil
}

func (m *Memory) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	return nil
}

// =============================================================================
// FAILING STORE - Simulates an unreachable collaborator
// =============================================================================

// Flaky wraps a Store and fails every Source call, reads and AppendPayment,
// while down. Registry writes pass through so tests can seed behind it.
type Flaky struct {
	ledger.Store

	mu   sync.RWMutex
	down error
}

func NewFlaky(inner ledger.Store) *Flaky {
	return &Flaky{Store: inner}
}

// SetDown makes every subsequent Source call fail with err. nil restores
// service.
func (f *Flaky) SetDown(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = err
}

func (f *Flaky) err() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.down
}

func (f *Flaky) ListPatients(ctx context.Context) ([]ledger.Patient, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	return f.Store.ListPatients(ctx)
}

func (f *Flaky) ListPayments(ctx context.Context, id ledger.PatientID) ([]ledger.RawRecord, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	return f.Store.ListPayments(ctx, id)
}

func (f *Flaky) ListInvoices(ctx context.Context, id ledger.PatientID) ([]ledger.RawRecord, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	return f.Store.ListInvoices(ctx, id)
}

func (f *Flaky) ListAppointments(ctx context.Context, id ledger.PatientID) ([]ledger.RawRecord, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	return f.Store.ListAppointments(ctx, id)
}

func (f *Flaky) ListRoomCharges(ctx context.Context, id ledger.PatientID) ([]ledger.RawRecord, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	return f.Store.ListRoomCharges(ctx, id)
}

func (f *Flaky) ListMedicalHistory(ctx context.Context, id ledger.PatientID) ([]ledger.MedicalRecord, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	return f.Store.ListMedicalHistory(ctx, id)
}

func (f *Flaky) ListReports(ctx context.Context, id ledger.PatientID) ([]ledger.Report, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	return f.Store.ListReports(ctx, id)
}

func (f *Flaky) AppendPayment(ctx context.Context, r ledger.RawRecord) (ledger.RawRecord, error) {
	if err := f.err(); err != nil {
		return ledger.RawRecord{}, err
	}
	return f.Store.AppendPayment(ctx, r)
}
