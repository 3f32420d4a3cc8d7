/*
Package sqlite provides a SQLite-backed record store for the ledger engine.

PURPOSE:
  Implements ledger.Source (what the engine reads) and ledger.Registry (what
  registration and ingestion write). The engine never writes here except
  through AppendPayment.

KEY TABLES:
  patients:        registration records, with optional upfront total
  records:         all four raw record kinds, discriminated by kind
  medical_history: treatment entries per patient
  reports:         test reports per patient

APPEND-ONLY:
  records has no UPDATE or DELETE path outside Reset. A payment is corrected
  by appending another record, never by editing.

ORDERING:
  records are returned in insertion order (seq). The engine relies on that
  order for deduplication priority inside one collection.

CONCURRENCY:
  sync.RWMutex around the handle, the same as the engine's memory store.
  SQLite is opened in WAL mode.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      return err
  }
  defer store.Close()
  svc := ledger.NewService(store, logger)

SEE ALSO:
  - ledger/source.go: the interfaces implemented here
  - ledger/store/memory.go: in-memory equivalent
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/patient-ledger/ledger"
)

// Store implements ledger.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens the database at dbPath, creating the schema if needed.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS patients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT,
		admission_date TEXT,
		attending_doctor TEXT,
		total_amount TEXT,
		medications_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_patients_name ON patients(name);

	-- Raw records (append-only). One table, four collections.
	CREATE TABLE IF NOT EXISTS records (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		source_id TEXT NOT NULL,
		patient_id TEXT,
		patient_name TEXT,
		patient_phone TEXT,
		contact_number TEXT,
		amount TEXT NOT NULL,
		date TEXT,
		created_at TEXT,
		method TEXT,
		description TEXT,
		status TEXT,
		reference TEXT,
		category TEXT,
		doctor_name TEXT,
		department TEXT,
		service TEXT,
		room_number TEXT,
		daily_rate TEXT,
		days INTEGER
	);

	-- Source ids are unique within a collection, not across collections.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_records_kind_source
		ON records(kind, source_id);
	CREATE INDEX IF NOT EXISTS idx_records_kind_patient
		ON records(kind, patient_id);

	CREATE TABLE IF NOT EXISTS medical_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		patient_id TEXT NOT NULL,
		date TEXT,
		diagnosis TEXT,
		treatment TEXT,
		doctor TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_history_patient ON medical_history(patient_id);

	CREATE TABLE IF NOT EXISTS reports (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		patient_id TEXT NOT NULL,
		date TEXT,
		test_name TEXT,
		result TEXT,
		doctor TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_reports_patient ON reports(patient_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PATIENTS
// =============================================================================

func (s *Store) SavePatient(ctx context.Context, p ledger.Patient) error {
	if p.ID == "" {
		p.ID = ledger.PatientID(uuid.NewString())
	}
	meds, err := json.Marshal(p.Medications)
	if err != nil {
		return fmt.Errorf("encode medications: %w", err)
	}
	var total sql.NullString
	if p.PaymentDetails != nil {
		total = sql.NullString{String: p.PaymentDetails.TotalAmount.String(), Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO patients (id, name, phone, admission_date, attending_doctor, total_amount, medications_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			admission_date = excluded.admission_date,
			attending_doctor = excluded.attending_doctor,
			total_amount = excluded.total_amount,
			medications_json = excluded.medications_json
	`
	_, err = s.db.ExecContext(ctx, query,
		string(p.ID), p.Name, p.Phone, p.AdmissionDate, p.AttendingDoctor,
		total, string(meds),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) ListPatients(ctx context.Context) ([]ledger.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, admission_date, attending_doctor, total_amount, medications_json
		FROM patients ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patients []ledger.Patient
	for rows.Next() {
		var (
			p                             ledger.Patient
			id                            string
			phone, admitted, doctor, meds sql.NullString
			total                         sql.NullString
		)
		if err := rows.Scan(&id, &p.Name, &phone, &admitted, &doctor, &total, &meds); err != nil {
			return nil, err
		}
		p.ID = ledger.PatientID(id)
		p.Phone = phone.String
		p.AdmissionDate = admitted.String
		p.AttendingDoctor = doctor.String
		if total.Valid {
			amount, err := decimal.NewFromString(total.String)
			if err != nil {
				return nil, fmt.Errorf("patient %s: bad total_amount %q: %w", id, total.String, err)
			}
			p.PaymentDetails = &ledger.PaymentDetails{TotalAmount: amount}
		}
		if meds.Valid && meds.String != "" && meds.String != "null" {
			if err := json.Unmarshal([]byte(meds.String), &p.Medications); err != nil {
				return nil, fmt.Errorf("patient %s: decode medications: %w", id, err)
			}
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

// =============================================================================
// RAW RECORDS
// =============================================================================

func (s *Store) ListPayments(ctx context.Context, id ledger.PatientID) ([]ledger.RawRecord, error) {
	return s.listRecords(ctx, ledger.KindPayment, id)
}

func (s *Store) ListAppointments(ctx context.Context, id ledger.PatientID) ([]ledger.RawRecord, error) {
	return s.listRecords(ctx, ledger.KindAppointment, id)
}

func (s *Store) ListInvoices(ctx context.Context, id ledger.PatientID) ([]ledger.RawRecord, error) {
	return s.listRecords(ctx, ledger.KindInvoice, id)
}

func (s *Store) ListRoomCharges(ctx context.Context, id ledger.PatientID) ([]ledger.RawRecord, error) {
	return s.listRecords(ctx, ledger.KindRoomCharge, id)
}

// AppendPayment inserts a payment under a fresh source id and returns it.
func (s *Store) AppendPayment(ctx context.Context, r ledger.RawRecord) (ledger.RawRecord, error) {
	r.Kind = ledger.KindPayment
	if r.SourceID == "" {
		r.SourceID = uuid.NewString()
	}
	if err := s.AddRecord(ctx, r); err != nil {
		return ledger.RawRecord{}, err
	}
	return r, nil
}

// AddRecord appends a raw record of any kind.
func (s *Store) AddRecord(ctx context.Context, r ledger.RawRecord) error {
	if err := r.Validate(); err != nil {
		return err
	}

	var doctor, department, service, room, rate string
	var days int
	if r.Appointment != nil {
		doctor, department, service = r.Appointment.DoctorName, r.Appointment.Department, r.Appointment.Service
	}
	if r.Room != nil {
		room, rate, days = r.Room.RoomNumber, r.Room.DailyRate.String(), r.Room.Days
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (
			kind, source_id, patient_id, patient_name, patient_phone, contact_number,
			amount, date, created_at, method, description, status, reference, category,
			doctor_name, department, service, room_number, daily_rate, days
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(r.Kind), r.SourceID,
		nullString(string(r.PatientID)), nullString(r.PatientName),
		nullString(r.PatientPhone), nullString(r.ContactNumber),
		r.Amount.String(), formatTime(r.Date), formatTime(r.CreatedAt),
		nullString(r.Method), nullString(r.Description), nullString(string(r.Status)),
		nullString(r.Reference), nullString(string(r.Category)),
		nullString(doctor), nullString(department), nullString(service),
		nullString(room), nullString(rate), days,
	)
	if err != nil && isUniqueConstraintError(err) {
		return fmt.Errorf("%w: %s %s", ledger.ErrDuplicateSourceID, r.Kind, r.SourceID)
	}
	return err
}

func (s *Store) listRecords(ctx context.Context, kind ledger.RecordKind, id ledger.PatientID) ([]ledger.RawRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT kind, source_id, patient_id, patient_name, patient_phone, contact_number,
			amount, date, created_at, method, description, status, reference, category,
			doctor_name, department, service, room_number, daily_rate, days
		FROM records WHERE kind = ?`
	args := []any{string(kind)}
	if id != "" {
		query += " AND patient_id = ?"
		args = append(args, string(id))
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ledger.RawRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanRecord(rows *sql.Rows) (ledger.RawRecord, error) {
	var (
		r                                             ledger.RawRecord
		kind, amount                                  string
		patientID, name, phone, contact               sql.NullString
		date, created, method, desc, status, ref, cat sql.NullString
		doctor, dept, service, room, rate             sql.NullString
		days                                          sql.NullInt64
	)
	if err := rows.Scan(&kind, &r.SourceID, &patientID, &name, &phone, &contact,
		&amount, &date, &created, &method, &desc, &status, &ref, &cat,
		&doctor, &dept, &service, &room, &rate, &days); err != nil {
		return r, err
	}

	value, err := decimal.NewFromString(amount)
	if err != nil {
		return r, fmt.Errorf("record %s: bad amount %q: %w", r.SourceID, amount, err)
	}

	r.Kind = ledger.RecordKind(kind)
	r.PatientID = ledger.PatientID(patientID.String)
	r.PatientName = name.String
	r.PatientPhone = phone.String
	r.ContactNumber = contact.String
	r.Amount = value
	r.Date = parseTime(date.String)
	r.CreatedAt = parseTime(created.String)
	r.Method = method.String
	r.Description = desc.String
	r.Status = ledger.RecordStatus(status.String)
	r.Reference = ref.String
	r.Category = ledger.Category(cat.String)

	switch r.Kind {
	case ledger.KindAppointment:
		r.Appointment = &ledger.AppointmentDetail{
			DoctorName: doctor.String,
			Department: dept.String,
			Service:    service.String,
		}
	case ledger.KindRoomCharge:
		dailyRate := decimal.Zero
		if rate.String != "" {
			if dailyRate, err = decimal.NewFromString(rate.String); err != nil {
				return r, fmt.Errorf("record %s: bad daily_rate %q: %w", r.SourceID, rate.String, err)
			}
		}
		r.Room = &ledger.RoomDetail{RoomNumber: room.String, DailyRate: dailyRate, Days: int(days.Int64)}
	}
	return r, nil
}

// =============================================================================
// HISTORY AND REPORTS
// =============================================================================

func (s *Store) AddMedicalRecord(ctx context.Context, id ledger.PatientID, rec ledger.MedicalRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO medical_history (id, patient_id, date, diagnosis, treatment, doctor)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, string(id), rec.Date, rec.Diagnosis, rec.Treatment, rec.Doctor)
	return err
}

func (s *Store) ListMedicalHistory(ctx context.Context, id ledger.PatientID) ([]ledger.MedicalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date, diagnosis, treatment, doctor
		FROM medical_history WHERE patient_id = ? ORDER BY seq`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.MedicalRecord
	for rows.Next() {
		var rec ledger.MedicalRecord
		var date, diagnosis, treatment, doctor sql.NullString
		if err := rows.Scan(&rec.ID, &date, &diagnosis, &treatment, &doctor); err != nil {
			return nil, err
		}
		rec.Date, rec.Diagnosis, rec.Treatment, rec.Doctor = date.String, diagnosis.String, treatment.String, doctor.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) AddReport(ctx context.Context, id ledger.PatientID, rep ledger.Report) error {
	if rep.ID == "" {
		rep.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (id, patient_id, date, test_name, result, doctor)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rep.ID, string(id), rep.Date, rep.TestName, rep.Result, rep.Doctor)
	return err
}

func (s *Store) ListReports(ctx context.Context, id ledger.PatientID) ([]ledger.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date, test_name, result, doctor
		FROM reports WHERE patient_id = ? ORDER BY seq`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Report
	for rows.Next() {
		var rep ledger.Report
		var date, name, result, doctor sql.NullString
		if err := rows.Scan(&rep.ID, &date, &name, &result, &doctor); err != nil {
			return nil, err
		}
		rep.Date, rep.TestName, rep.Result, rep.Doctor = date.String, name.String, result.String, doctor.String
		out = append(out, rep)
	}
	return out, rows.Err()
}

// Reset clears all data. Development only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"records", "medical_history", "reports", "patients"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
