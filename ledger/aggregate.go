/*
aggregate.go - Ledger computation from a deduplicated record set

PURPOSE:
  Aggregate is the only way a Ledger comes into existence. It is a pure
  function: the same patient and the same records always produce the same
  Ledger. Recording a payment means appending a raw record and calling
  Aggregate again, never editing a previous Ledger.

STEPS:
  1. Partition into charges (invoices, room charges) and payments
     (direct payments that did not fail, appointment charges marked paid)
  2. TotalAmount: registration total, else sum of charges, else sum of
     payments
  3. TotalPaid: sum of payments
  4. DueAmount = TotalAmount - TotalPaid, signed. Overpayment stays negative.
  5. CostBreakdown by charge category
  6. Status: FullyPaid if due <= 0, PartiallyPaid if anything paid, else Pending

SEE ALSO:
  - dedupe.go: must run first
  - CheckInvariants below: verifies every Ledger the service hands out
*/
package ledger

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Aggregate computes the ledger for patient over records that have already
// been matched to that patient and deduplicated.
func Aggregate(patient Patient, records []RawRecord) Ledger {
	var (
		charges   = decimal.Zero
		paid      = decimal.Zero
		breakdown = CostBreakdown{}
		payments  []LedgerEntry
		hasCharge bool
	)

	for _, r := range records {
		if !r.Counts() {
			continue
		}
		switch r.Kind {
		case KindInvoice, KindRoomCharge:
			amount := r.ChargeAmount()
			charges = charges.Add(amount)
			breakdown.add(r.ChargeCategory(), amount)
			hasCharge = true
		case KindPayment:
			payments = append(payments, toEntry(r, OriginDirect))
			paid = paid.Add(r.Amount)
		case KindAppointment:
			payments = append(payments, toEntry(r, OriginAppointment))
			paid = paid.Add(r.Amount)
		}
	}

	l := Ledger{
		PatientID:     patient.ID,
		TotalPaid:     paid,
		CostBreakdown: breakdown,
		Payments:      payments,
	}

	switch {
	case patient.PaymentDetails != nil:
		l.TotalAmount = patient.PaymentDetails.TotalAmount
		l.TotalSource = TotalFromRegistration
	case hasCharge:
		l.TotalAmount = charges
		l.TotalSource = TotalFromCharges
	default:
		l.TotalAmount = paid
		l.TotalSource = TotalFromPayments
	}

	l.DueAmount = l.TotalAmount.Sub(l.TotalPaid)
	l.Status = classify(l.DueAmount, l.TotalPaid)
	sortEntries(l.Payments)
	if l.Payments == nil {
		l.Payments = []LedgerEntry{}
	}
	return l
}

func classify(due, paid decimal.Decimal) PaymentStatus {
	switch {
	case !due.IsPositive():
		return PaymentFullyPaid
	case paid.IsPositive():
		return PaymentPartiallyPaid
	default:
		return PaymentPending
	}
}

func toEntry(r RawRecord, origin Origin) LedgerEntry {
	desc := r.Description
	if desc == "" && origin == OriginAppointment && r.Appointment != nil {
		desc = fmt.Sprintf("Consultation - %s (%s)", r.Appointment.DoctorName, r.Appointment.Department)
	}
	if desc == "" {
		desc = "Payment"
	}
	ids := append([]string{r.SourceID}, r.MergedSourceIDs...)
	return LedgerEntry{
		ID:          r.SourceID,
		Amount:      r.Amount,
		Method:      r.Method,
		Date:        r.EffectiveDate(),
		Description: desc,
		Origin:      origin,
		SourceIDs:   ids,
	}
}

// sortEntries orders newest first, ties by ID ascending. Undated entries go
// last.
func sortEntries(entries []LedgerEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Date.IsZero() != b.Date.IsZero() {
			return !a.Date.IsZero()
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		return a.ID < b.ID
	})
}

// =============================================================================
// INVARIANTS
// =============================================================================

// CheckInvariants verifies the rules every Ledger must satisfy.
func CheckInvariants(l Ledger) error {
	if !l.DueAmount.Equal(l.TotalAmount.Sub(l.TotalPaid)) {
		return &InvariantError{PatientID: l.PatientID, Rule: "due",
			Detail: fmt.Sprintf("due %s != total %s - paid %s", l.DueAmount, l.TotalAmount, l.TotalPaid)}
	}

	sum := decimal.Zero
	seen := make(map[string]struct{}, len(l.Payments))
	for i, e := range l.Payments {
		sum = sum.Add(e.Amount)
		if _, dup := seen[e.ID]; dup {
			return &InvariantError{PatientID: l.PatientID, Rule: "unique",
				Detail: fmt.Sprintf("entry %s appears twice", e.ID)}
		}
		seen[e.ID] = struct{}{}

		if i == 0 {
			continue
		}
		prev := l.Payments[i-1]
		if !prev.Date.IsZero() && !e.Date.IsZero() &&
			(prev.Date.Before(e.Date) || (prev.Date.Equal(e.Date) && prev.ID > e.ID)) {
			return &InvariantError{PatientID: l.PatientID, Rule: "order",
				Detail: fmt.Sprintf("entry %s sorted before %s", prev.ID, e.ID)}
		}
	}

	if !sum.Equal(l.TotalPaid) {
		return &InvariantError{PatientID: l.PatientID, Rule: "paid",
			Detail: fmt.Sprintf("entries sum to %s, total paid %s", sum, l.TotalPaid)}
	}
	return nil
}
