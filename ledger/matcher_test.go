package ledger_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/patient-ledger/ledger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func amt(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func on(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 30, 0, 0, time.UTC)
}

func payment(id string, patient ledger.PatientID, amount int64, date time.Time, method string) ledger.RawRecord {
	return ledger.RawRecord{
		Kind:      ledger.KindPayment,
		SourceID:  id,
		PatientID: patient,
		Amount:    amt(amount),
		Date:      date,
		Method:    method,
		Status:    ledger.StatusPaid,
	}
}

func invoice(id string, patient ledger.PatientID, amount int64, cat ledger.Category) ledger.RawRecord {
	return ledger.RawRecord{
		Kind:      ledger.KindInvoice,
		SourceID:  id,
		PatientID: patient,
		Amount:    amt(amount),
		Date:      on(2024, time.March, 1),
		Category:  cat,
	}
}

func sourceIDs(records []ledger.RawRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.SourceID
	}
	return out
}

var twins = []ledger.Patient{
	{ID: "P1", Name: "Ravi Kumar", Phone: "555-0101"},
	{ID: "P2", Name: "Ravi Kumar", Phone: "555-0202"},
	{ID: "P3", Name: "Kavya Reddy", Phone: "(555) 010-4444"},
}

// =============================================================================
// TIER TESTS
// =============================================================================

func TestMatcher_IDTier_ShortCircuits(t *testing.T) {
	// GIVEN: Record carries P1's id and P3's name
	// WHEN: Resolving
	// THEN: The id wins; the name is never consulted

	m := ledger.NewMatcher(twins)
	res := m.Resolve(ledger.RawRecord{Kind: ledger.KindPayment, SourceID: "r1", PatientID: "P1", PatientName: "Kavya Reddy"})

	assert.Equal(t, ledger.PatientID("P1"), res.PatientID)
	assert.Equal(t, ledger.TierID, res.Tier)
	assert.Nil(t, res.Ambiguous)
}

func TestMatcher_UnknownID_FallsThroughToName(t *testing.T) {
	m := ledger.NewMatcher(twins)
	res := m.Resolve(ledger.RawRecord{Kind: ledger.KindPayment, SourceID: "r1", PatientID: "legacy-42", PatientName: "Kavya Reddy"})

	assert.Equal(t, ledger.PatientID("P3"), res.PatientID)
	assert.Equal(t, ledger.TierName, res.Tier)
}

func TestMatcher_NameIsCaseSensitive(t *testing.T) {
	m := ledger.NewMatcher(twins)
	res := m.Resolve(ledger.RawRecord{Kind: ledger.KindPayment, SourceID: "r1", PatientName: "kavya reddy"})

	assert.False(t, res.Matched())
	assert.Equal(t, ledger.TierNone, res.Tier)
}

func TestMatcher_PhoneTier_ComparesDigitsOnly(t *testing.T) {
	// GIVEN: Patient phone "(555) 010-4444"
	// WHEN: Record has only a contact number "555.010.4444"
	// THEN: Matched on the phone tier

	m := ledger.NewMatcher(twins)
	res := m.Resolve(ledger.RawRecord{Kind: ledger.KindInvoice, SourceID: "r1", ContactNumber: "555.010.4444"})

	assert.Equal(t, ledger.PatientID("P3"), res.PatientID)
	assert.Equal(t, ledger.TierPhone, res.Tier)
}

func TestMatcher_AmbiguousName_ExcludedWithoutPhoneFallback(t *testing.T) {
	// GIVEN: Two patients named "Ravi Kumar"
	// WHEN: Record names "Ravi Kumar" and carries P1's phone
	// THEN: Ambiguous at the name tier; the phone is not used to break the tie

	m := ledger.NewMatcher(twins)
	res := m.Resolve(ledger.RawRecord{Kind: ledger.KindPayment, SourceID: "r1", PatientName: "Ravi Kumar", PatientPhone: "5550101"})

	assert.False(t, res.Matched())
	require.NotNil(t, res.Ambiguous)
	assert.Equal(t, ledger.TierName, res.Ambiguous.Tier)
	assert.Equal(t, []ledger.PatientID{"P1", "P2"}, res.Ambiguous.Candidates)
	assert.ErrorIs(t, res.Ambiguous, ledger.ErrAmbiguousMatch)
}

func TestMatcher_AmbiguousPhone(t *testing.T) {
	patients := []ledger.Patient{
		{ID: "A", Name: "Parent", Phone: "555-9999"},
		{ID: "B", Name: "Child", Phone: "5559999"},
	}
	res := ledger.NewMatcher(patients).Resolve(ledger.RawRecord{Kind: ledger.KindPayment, SourceID: "r1", PatientPhone: "555 9999"})

	require.NotNil(t, res.Ambiguous)
	assert.Equal(t, ledger.TierPhone, res.Ambiguous.Tier)
}

func TestMatcher_NoIdentifiers_Unmatched(t *testing.T) {
	res := ledger.NewMatcher(twins).Resolve(ledger.RawRecord{Kind: ledger.KindPayment, SourceID: "r1"})
	assert.False(t, res.Matched())
	assert.Nil(t, res.Ambiguous)
}

// =============================================================================
// CROSS-PATIENT ISOLATION
// =============================================================================

func TestMatch_SameNameRecordsKeyedByID_DoNotLeak(t *testing.T) {
	// GIVEN: P1 and P2 share a name; each has a payment keyed by id
	// WHEN: Matching for P2
	// THEN: Only P2's payment is returned

	records := []ledger.RawRecord{
		{Kind: ledger.KindPayment, SourceID: "pay-p1", PatientID: "P1", PatientName: "Ravi Kumar", Amount: amt(100)},
		{Kind: ledger.KindPayment, SourceID: "pay-p2", PatientID: "P2", PatientName: "Ravi Kumar", Amount: amt(200)},
	}

	got := ledger.Match(twins, twins[1], records)

	assert.Equal(t, []string{"pay-p2"}, sourceIDs(got))
	assert.Equal(t, ledger.PatientID("P2"), got[0].MatchedPatientID)
	assert.Equal(t, ledger.TierID, got[0].MatchTier)
}

func TestMatch_PreservesInputOrder(t *testing.T) {
	records := []ledger.RawRecord{
		payment("c", "P3", 1, on(2024, 1, 3), "cash"),
		payment("a", "P3", 1, on(2024, 1, 1), "cash"),
		payment("b", "P3", 1, on(2024, 1, 2), "cash"),
	}
	got := ledger.Match(twins, twins[2], records)
	assert.Equal(t, []string{"c", "a", "b"}, sourceIDs(got))
}

func TestPartition_SortsRecordsIntoBuckets(t *testing.T) {
	records := []ledger.RawRecord{
		payment("by-id", "P1", 10, on(2024, 1, 1), "cash"),
		{Kind: ledger.KindPayment, SourceID: "ambiguous", PatientName: "Ravi Kumar", Amount: amt(10)},
		{Kind: ledger.KindPayment, SourceID: "orphan", PatientName: "Nobody", Amount: amt(10)},
		{Kind: ledger.KindInvoice, SourceID: "by-phone", PatientPhone: "+1 555 010 4444", Amount: amt(10)},
	}

	a := ledger.NewMatcher(twins).Partition(records)

	assert.Equal(t, []string{"by-id"}, sourceIDs(a.ByPatient["P1"]))
	assert.Empty(t, a.ByPatient["P2"])
	require.Len(t, a.Ambiguous, 1)
	assert.Equal(t, "ambiguous", a.Ambiguous[0].SourceID)
	// "+1 555 010 4444" carries a country code, so its digits differ from
	// P3's phone.
	assert.Equal(t, []string{"orphan", "by-phone"}, sourceIDs(a.Unmatched))
	assert.Empty(t, a.ByPatient["P3"])
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"(555) 010-4444", "5550104444"},
		{"+91 98765 43210", "919876543210"},
		{"", ""},
		{"n/a", ""},
		{"٥٥٥", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ledger.NormalizePhone(tt.in))
		})
	}
}
