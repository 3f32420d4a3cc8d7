/*
matcher.go - Identity matching of raw records to patients

PURPOSE:
  Decides which patient, if any, a raw record belongs to. Records reference
  patients through an ID, an exact name or a phone number, and the three are
  tried in strict order.

TIERS (strict, short-circuiting):
  1. ID:    record.PatientID equals a known patient's ID. Accepted
            unconditionally; no weaker tier is consulted.
  2. Name:  exact, case-sensitive name. Only tried when the record's
            PatientID is empty or names nobody we know.
  3. Phone: digits-only comparison of the record's phone (or contact number)
            against the patient's phone.

WHY A GLOBAL INDEX:
  A record claimed by ID for patient A must be invisible to patient B even if
  B has the same name. That is only decidable against the whole patient set,
  so the Matcher resolves every record once and per-patient queries filter the
  result.

AMBIGUITY:
  If tier 2 or 3 yields more than one patient the record is excluded from all
  of them and reported as an AmbiguousMatchError. Ambiguity at tier 2 does not
  fall through to tier 3.
*/
package ledger

import (
	"sort"
	"strings"
)

type Tier int

const (
	TierNone Tier = iota
	TierID
	TierName
	TierPhone
)

func (t Tier) String() string {
	switch t {
	case TierID:
		return "id"
	case TierName:
		return "name"
	case TierPhone:
		return "phone"
	default:
		return "none"
	}
}

// Resolution is the matcher's verdict for one record.
type Resolution struct {
	PatientID PatientID
	Tier      Tier
	Ambiguous *AmbiguousMatchError
}

func (r Resolution) Matched() bool { return r.PatientID != "" }

// Assignment is the result of resolving a whole record set.
type Assignment struct {
	ByPatient map[PatientID][]RawRecord
	Unmatched []RawRecord
	Ambiguous []*AmbiguousMatchError
}

// Matcher indexes the full patient set.
type Matcher struct {
	byID    map[PatientID]struct{}
	byName  map[string][]PatientID
	byPhone map[string][]PatientID
}

func NewMatcher(patients []Patient) *Matcher {
	m := &Matcher{
		byID:    make(map[PatientID]struct{}, len(patients)),
		byName:  make(map[string][]PatientID),
		byPhone: make(map[string][]PatientID),
	}
	for _, p := range patients {
		if p.ID == "" {
			continue
		}
		m.byID[p.ID] = struct{}{}
		if p.Name != "" {
			m.byName[p.Name] = appendUnique(m.byName[p.Name], p.ID)
		}
		if phone := NormalizePhone(p.Phone); phone != "" {
			m.byPhone[phone] = appendUnique(m.byPhone[phone], p.ID)
		}
	}
	return m
}

// Resolve runs the three tiers for one record.
func (m *Matcher) Resolve(r RawRecord) Resolution {
	if r.PatientID != "" {
		if _, ok := m.byID[r.PatientID]; ok {
			return Resolution{PatientID: r.PatientID, Tier: TierID}
		}
	}

	if r.PatientName != "" {
		if res, done := m.pick(r, TierName, m.byName[r.PatientName]); done {
			return res
		}
	}

	if phone := NormalizePhone(r.Phone()); phone != "" {
		if res, done := m.pick(r, TierPhone, m.byPhone[phone]); done {
			return res
		}
	}

	return Resolution{Tier: TierNone}
}

func (m *Matcher) pick(r RawRecord, tier Tier, candidates []PatientID) (Resolution, bool) {
	switch len(candidates) {
	case 0:
		return Resolution{}, false
	case 1:
		return Resolution{PatientID: candidates[0], Tier: tier}, true
	default:
		ids := append([]PatientID(nil), candidates...)
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		return Resolution{
			Tier: tier,
			Ambiguous: &AmbiguousMatchError{
				SourceID:   r.SourceID,
				Kind:       r.Kind,
				Tier:       tier,
				Candidates: ids,
			},
		}, true
	}
}

// Match returns the records that belong to patient, stamped with the match
// decision. Input order is preserved.
func (m *Matcher) Match(patient Patient, records []RawRecord) []RawRecord {
	var out []RawRecord
	for _, r := range records {
		res := m.Resolve(r)
		if res.PatientID != patient.ID || !res.Matched() {
			continue
		}
		out = append(out, stamp(r, res))
	}
	return out
}

// Partition resolves every record once.
func (m *Matcher) Partition(records []RawRecord) Assignment {
	a := Assignment{ByPatient: make(map[PatientID][]RawRecord)}
	for _, r := range records {
		res := m.Resolve(r)
		switch {
		case res.Ambiguous != nil:
			a.Ambiguous = append(a.Ambiguous, res.Ambiguous)
		case res.Matched():
			a.ByPatient[res.PatientID] = append(a.ByPatient[res.PatientID], stamp(r, res))
		default:
			a.Unmatched = append(a.Unmatched, r)
		}
	}
	return a
}

// Match is a convenience for one-off calls. The patient set must include the
// target patient; passing only the target defeats cross-patient protection.
func Match(patients []Patient, patient Patient, records []RawRecord) []RawRecord {
	return NewMatcher(patients).Match(patient, records)
}

func stamp(r RawRecord, res Resolution) RawRecord {
	r.MatchedPatientID = res.PatientID
	r.MatchTier = res.Tier
	return r
}

// NormalizePhone strips everything but digits.
func NormalizePhone(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	for _, c := range s {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

func appendUnique(ids []PatientID, id PatientID) []PatientID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
