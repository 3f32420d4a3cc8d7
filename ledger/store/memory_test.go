package store

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/patient-ledger/ledger"
)

func rec(kind ledger.RecordKind, id string, patient ledger.PatientID) ledger.RawRecord {
	return ledger.RawRecord{Kind: kind, SourceID: id, PatientID: patient, Amount: decimal.NewFromInt(10)}
}

func TestMemory_ListFiltersOnOwnPatientIDOnly(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.AddRecord(ctx, rec(ledger.KindPayment, "a", "P1")))
	require.NoError(t, m.AddRecord(ctx, rec(ledger.KindPayment, "b", "P2")))
	require.NoError(t, m.AddRecord(ctx, ledger.RawRecord{Kind: ledger.KindPayment, SourceID: "c", PatientName: "Asha"}))

	all, err := m.ListPayments(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	p1, err := m.ListPayments(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, p1, 1)
	assert.Equal(t, "a", p1[0].SourceID)
}

func TestMemory_CollectionsAreSeparate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.AddRecord(ctx, rec(ledger.KindInvoice, "x", "P1")))
	require.NoError(t, m.AddRecord(ctx, rec(ledger.KindRoomCharge, "x", "P1")))
	require.NoError(t, m.AddRecord(ctx, rec(ledger.KindAppointment, "x", "P1")))

	inv, _ := m.ListInvoices(ctx, "")
	rooms, _ := m.ListRoomCharges(ctx, "")
	appts, _ := m.ListAppointments(ctx, "")
	pays, _ := m.ListPayments(ctx, "")

	assert.Len(t, inv, 1)
	assert.Len(t, rooms, 1)
	assert.Len(t, appts, 1)
	assert.Empty(t, pays)
}

func TestMemory_AddRecord_Validates(t *testing.T) {
	m := NewMemory()
	err := m.AddRecord(context.Background(), ledger.RawRecord{Kind: "refund", SourceID: "r"})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestMemory_AppendPayment_AssignsID(t *testing.T) {
	m := NewMemory()
	m.NewID = func() string { return "pay-fixed" }

	stored, err := m.AppendPayment(context.Background(), ledger.RawRecord{PatientID: "P1", Amount: decimal.NewFromInt(5)})

	require.NoError(t, err)
	assert.Equal(t, "pay-fixed", stored.SourceID)
	assert.Equal(t, ledger.KindPayment, stored.Kind)
}

func TestMemory_ListPatients_SortedByID(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for _, id := range []ledger.PatientID{"P3", "P1", "P2"} {
		require.NoError(t, m.SavePatient(ctx, ledger.Patient{ID: id}))
	}

	patients, err := m.ListPatients(ctx)

	require.NoError(t, err)
	require.Len(t, patients, 3)
	assert.Equal(t, ledger.PatientID("P1"), patients[0].ID)
	assert.Equal(t, ledger.PatientID("P3"), patients[2].ID)
}

func TestMemory_Reset(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.SavePatient(ctx, ledger.Patient{ID: "P1"}))
	require.NoError(t, m.AddRecord(ctx, rec(ledger.KindPayment, "a", "P1")))
	require.NoError(t, m.AddReport(ctx, "P1", ledger.Report{TestName: "CBC"}))

	require.NoError(t, m.Reset(ctx))

	patients, _ := m.ListPatients(ctx)
	pays, _ := m.ListPayments(ctx, "")
	reports, _ := m.ListReports(ctx, "P1")
	assert.Empty(t, patients)
	assert.Empty(t, pays)
	assert.Empty(t, reports)
}

func TestFlaky_SetDown(t *testing.T) {
	f := NewFlaky(NewMemory())
	ctx := context.Background()
	boom := errors.New("boom")

	f.SetDown(boom)
	_, err := f.ListPatients(ctx)
	assert.ErrorIs(t, err, boom)
	_, err = f.AppendPayment(ctx, rec(ledger.KindPayment, "a", "P1"))
	assert.ErrorIs(t, err, boom)

	f.SetDown(nil)
	_, err = f.ListPatients(ctx)
	assert.NoError(t, err)
}

func TestMemory_AddRecord_DuplicateSourceIDWithinCollection(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.AddRecord(ctx, rec(ledger.KindPayment, "a", "P1")))

	err := m.AddRecord(ctx, rec(ledger.KindPayment, "a", "P2"))

	assert.ErrorIs(t, err, ledger.ErrDuplicateSourceID)
	assert.True(t, ledger.IsConflict(err))
	assert.NoError(t, m.AddRecord(ctx, rec(ledger.KindInvoice, "a", "P1")), "other collections are independent")
}

func TestMemory_AppendPayment_DuplicateSourceID(t *testing.T) {
	m := NewMemory()
	m.NewID = func() string { return "pay-fixed" }
	ctx := context.Background()

	_, err := m.AppendPayment(ctx, ledger.RawRecord{PatientID: "P1", Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)
	_, err = m.AppendPayment(ctx, ledger.RawRecord{PatientID: "P1", Amount: decimal.NewFromInt(5)})

	assert.ErrorIs(t, err, ledger.ErrDuplicateSourceID)
	pays, _ := m.ListPayments(ctx, "")
	assert.Len(t, pays, 1)
}

func TestMemory_CanceledContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.ListPatients(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = m.ListRoomCharges(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = m.ListReports(ctx, "P1")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = m.AppendPayment(ctx, rec(ledger.KindPayment, "a", "P1"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, m.SavePatient(ctx, ledger.Patient{ID: "P1"}), context.Canceled)
}

func TestFlaky_FailsEverySourceCall(t *testing.T) {
	f := NewFlaky(NewMemory())
	ctx := context.Background()
	boom := errors.New("boom")
	f.SetDown(boom)

	var src ledger.Source = f
	calls := map[string]func() error{
		"patients":     func() error { _, err := src.ListPatients(ctx); return err },
		"payments":     func() error { _, err := src.ListPayments(ctx, ""); return err },
		"appointments": func() error { _, err := src.ListAppointments(ctx, ""); return err },
		"invoices":     func() error { _, err := src.ListInvoices(ctx, ""); return err },
		"room charges": func() error { _, err := src.ListRoomCharges(ctx, ""); return err },
		"history":      func() error { _, err := src.ListMedicalHistory(ctx, "P1"); return err },
		"reports":      func() error { _, err := src.ListReports(ctx, "P1"); return err },
		"append":       func() error { _, err := src.AppendPayment(ctx, rec(ledger.KindPayment, "a", "P1")); return err },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, call(), boom)
		})
	}
}
