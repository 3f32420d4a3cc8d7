package ledger

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// TIMELINE - Merged chronological history for one patient
// =============================================================================

type EventKind string

const (
	EventAdmission  EventKind = "admission"
	EventTreatment  EventKind = "treatment"
	EventTest       EventKind = "test"
	EventMedication EventKind = "medication"
	EventPayment    EventKind = "payment"
)

// TimelineEvent is built fresh on every query and never stored.
// A zero Date means the source date was missing or unparsable.
type TimelineEvent struct {
	Kind        EventKind
	Date        time.Time
	Description string
	Doctor      string
}

// BuildTimeline merges admission, history, reports, medications and payments
// in that order, then stable-sorts by date ascending. Undated events keep
// their construction order at the end.
func BuildTimeline(patient Patient, history []MedicalRecord, reports []Report, payments ...LedgerEntry) []TimelineEvent {
	admitted := ParseDate(patient.AdmissionDate)

	events := make([]TimelineEvent, 0, 1+len(history)+len(reports)+len(patient.Medications)+len(payments))
	events = append(events, TimelineEvent{
		Kind:        EventAdmission,
		Date:        admitted,
		Description: "Admitted",
		Doctor:      patient.AttendingDoctor,
	})

	for _, h := range history {
		events = append(events, TimelineEvent{
			Kind:        EventTreatment,
			Date:        ParseDate(h.Date),
			Description: joinNonEmpty(h.Diagnosis, h.Treatment),
			Doctor:      h.Doctor,
		})
	}

	for _, r := range reports {
		desc := r.TestName
		if r.Result != "" {
			desc = fmt.Sprintf("%s: %s", r.TestName, r.Result)
		}
		events = append(events, TimelineEvent{
			Kind:        EventTest,
			Date:        ParseDate(r.Date),
			Description: desc,
			Doctor:      r.Doctor,
		})
	}

	for _, m := range patient.Medications {
		date := ParseDate(m.StartDate)
		if date.IsZero() {
			date = admitted
		}
		doctor := m.PrescribedBy
		if doctor == "" {
			doctor = patient.AttendingDoctor
		}
		events = append(events, TimelineEvent{
			Kind:        EventMedication,
			Date:        date,
			Description: joinNonEmpty(m.Name, m.Dosage),
			Doctor:      doctor,
		})
	}

	for _, p := range payments {
		events = append(events, TimelineEvent{
			Kind:        EventPayment,
			Date:        p.Date,
			Description: fmt.Sprintf("%s %s (%s)", p.Description, p.Amount.StringFixed(2), p.Method),
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i].Date, events[j].Date
		if a.IsZero() || b.IsZero() {
			return !a.IsZero() && b.IsZero()
		}
		return a.Before(b)
	})
	return events
}

func joinNonEmpty(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " - ")
}

// =============================================================================
// DATE PARSING
// =============================================================================

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

// ParseDate accepts the date shapes the source collections are known to use.
// Anything else returns the zero time.
func ParseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
