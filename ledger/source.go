/*
source.go - Collaborator interfaces

PURPOSE:
  The engine owns no storage. Source is the shape of the external store it
  reads patients and raw records from, and the single write it needs:
  appending a payment.

CONTRACT:
  - List* with an empty PatientID returns the whole collection. The service
    always reads unfiltered, because name- and phone-only records would be
    invisible to an ID filter.
  - AppendPayment is single-shot: it either stores the record and returns it
    with its assigned SourceID, or fails without a partial write.
  - Implementations honor ctx cancellation and deadlines.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests and demos
  - store/sqlite/sqlite.go: SQLite

SEE ALSO:
  - service.go: the only consumer
*/
package ledger

import "context"

type Source interface {
	ListPatients(ctx context.Context) ([]Patient, error)

	ListPayments(ctx context.Context, patientID PatientID) ([]RawRecord, error)
	ListAppointments(ctx context.Context, patientID PatientID) ([]RawRecord, error)
	ListInvoices(ctx context.Context, patientID PatientID) ([]RawRecord, error)
	ListRoomCharges(ctx context.Context, patientID PatientID) ([]RawRecord, error)

	ListMedicalHistory(ctx context.Context, patientID PatientID) ([]MedicalRecord, error)
	ListReports(ctx context.Context, patientID PatientID) ([]Report, error)

	// AppendPayment stores a new payment and returns it with SourceID set.
	AppendPayment(ctx context.Context, record RawRecord) (RawRecord, error)
}

// Registry is the write side used by registration and ingestion workflows.
// The engine itself never calls it.
type Registry interface {
	SavePatient(ctx context.Context, p Patient) error
	AddRecord(ctx context.Context, r RawRecord) error
	AddMedicalRecord(ctx context.Context, patientID PatientID, rec MedicalRecord) error
	AddReport(ctx context.Context, patientID PatientID, rep Report) error
	Reset(ctx context.Context) error
}

// Store is a Source that can also be written to.
type Store interface {
	Source
	Registry
}
