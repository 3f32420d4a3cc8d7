/*
dedupe.go - Collapse records that describe the same transaction

DUPLICATE KEYS (any one shared key makes two records duplicates):
  src  identical SourceID
  ref  identical cross-reference (Reference, or the SourceID of an
       appointment charge, which is the appointment itself)
  tx   identical (patient, amount, date, method)

Keys are namespaced by Side, so a payment can never collapse a charge even if
both happen to share a source id from two different collections.

Records that do not count (failed payments, unpaid appointments) pass
through untouched and claim no keys, so a failed attempt can never absorb
the retry that succeeded.

POLICY:
  First counting record in input order wins. Callers put direct payments before
  appointment-derived records, so the direct payment survives. The losers'
  source ids are kept on the winner in MergedSourceIDs for audit.

ORDERING:
  Run after Matcher (so tx keys of different patients cannot collide) and
  before Aggregate.
*/
package ledger

import (
	"time"
)

// Duplicate pairs a dropped record with the record that absorbed it.
type Duplicate struct {
	Dropped RawRecord
	KeptID  string
	Key     string
}

// Dedupe removes duplicate records, keeping the first occurrence.
func Dedupe(records []RawRecord) []RawRecord {
	kept, _ := DedupeReport(records)
	return kept
}

// DedupeReport is Dedupe plus the list of dropped records.
func DedupeReport(records []RawRecord) ([]RawRecord, []Duplicate) {
	seen := make(map[string]int, len(records)*3)
	kept := make([]RawRecord, 0, len(records))
	var dropped []Duplicate

	for _, r := range records {
		if !r.Counts() {
			kept = append(kept, r)
			continue
		}
		keys := dedupeKeys(r)

		winner, hit, hitKey := -1, false, ""
		for _, k := range keys {
			if idx, ok := seen[k]; ok {
				winner, hit, hitKey = idx, true, k
				break
			}
		}

		if hit {
			w := &kept[winner]
			w.MergedSourceIDs = appendSourceID(w.MergedSourceIDs, w.SourceID, r.SourceID)
			for _, id := range r.MergedSourceIDs {
				w.MergedSourceIDs = appendSourceID(w.MergedSourceIDs, w.SourceID, id)
			}
			// Register the loser's other keys so a third record sharing only
			// those keys still folds into the same winner.
			for _, k := range keys {
				if _, ok := seen[k]; !ok {
					seen[k] = winner
				}
			}
			dropped = append(dropped, Duplicate{Dropped: r, KeptID: w.SourceID, Key: hitKey})
			continue
		}

		r.MergedSourceIDs = append([]string(nil), r.MergedSourceIDs...)
		kept = append(kept, r)
		for _, k := range keys {
			seen[k] = len(kept) - 1
		}
	}
	return kept, dropped
}

func dedupeKeys(r RawRecord) []string {
	side := string(r.Kind.Side()) + ":"
	keys := make([]string, 0, 3)

	if r.SourceID != "" {
		keys = append(keys, side+"src:"+r.SourceID)
	}
	if ref := crossReference(r); ref != "" {
		keys = append(keys, side+"ref:"+ref)
	}
	if d := r.EffectiveDate(); !d.IsZero() {
		keys = append(keys, side+"tx:"+string(r.Owner())+"|"+
			r.Amount.String()+"|"+
			d.UTC().Format(time.RFC3339Nano)+"|"+
			r.Method)
	}
	return keys
}

func crossReference(r RawRecord) string {
	if r.Reference != "" {
		return r.Reference
	}
	if r.Kind == KindAppointment {
		return r.SourceID
	}
	return ""
}

func appendSourceID(ids []string, self, id string) []string {
	if id == "" || id == self {
		return ids
	}
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
