/*
errors.go - Error types for the ledger engine

ERROR CATEGORIES:
  1. Validation  - malformed input to RecordPayment; nothing is written
  2. Ambiguity   - advisory; a record matched several patients and was excluded
  3. Collaborator - the external store failed; recoverable by the caller
  4. Invariant   - a computed ledger broke its own rules; a programming error
  5. Conflict    - the write would repeat a record the store or ledger holds

USAGE:
  if errors.Is(err, ledger.ErrCollaboratorUnavailable) {
      // show "unavailable", never a zero balance
  }

SEE ALSO:
  - service.go: where each category is produced
  - api/handlers.go: HTTP status mapping
*/
package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")

	// ErrAmbiguousMatch is advisory: the record is excluded from every ledger.
	ErrAmbiguousMatch = errors.New("ambiguous patient match")

	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

	ErrPatientNotFound = errors.New("patient not found")

	// ErrInvariantViolation means the engine produced an inconsistent ledger.
	ErrInvariantViolation = errors.New("ledger invariant violated")

	// ErrDuplicateSourceID is returned by stores when a collection already
	// holds a record with the same source id.
	ErrDuplicateSourceID = errors.New("duplicate source id")

	// ErrDuplicatePayment means a new payment would collapse into one the
	// ledger already counts. Nothing is written.
	ErrDuplicatePayment = errors.New("duplicate payment")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// AmbiguousMatchError describes a record that no patient claims by ID but
// several claim by name or phone.
type AmbiguousMatchError struct {
	SourceID   string
	Kind       RecordKind
	Tier       Tier
	Candidates []PatientID
}

func (e *AmbiguousMatchError) Error() string {
	ids := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		ids[i] = string(c)
	}
	return fmt.Sprintf("%s %s matches %d patients by %s: %s",
		e.Kind, e.SourceID, len(e.Candidates), e.Tier, strings.Join(ids, ", "))
}

func (e *AmbiguousMatchError) Unwrap() error { return ErrAmbiguousMatch }

// UnavailableError wraps a failed collaborator read or write.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrCollaboratorUnavailable, e.Err)
}

func (e *UnavailableError) Unwrap() []error { return []error{ErrCollaboratorUnavailable, e.Err} }

type InvariantError struct {
	PatientID PatientID
	Rule      string
	Detail    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("ledger %s: %s: %s", e.PatientID, e.Rule, e.Detail)
}

func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

// DuplicatePaymentError names the counted entry a rejected payment matches.
type DuplicatePaymentError struct {
	PatientID PatientID
	KeptID    string
	Key       string
}

func (e *DuplicatePaymentError) Error() string {
	return fmt.Sprintf("payment for %s matches entry %s (%s)", e.PatientID, e.KeptID, e.Key)
}

func (e *DuplicatePaymentError) Unwrap() error { return ErrDuplicatePayment }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrPatientNotFound)
}

func IsUnavailable(err error) bool {
	return errors.Is(err, ErrCollaboratorUnavailable)
}

// IsConflict reports a write that repeats an existing record.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateSourceID) || errors.Is(err, ErrDuplicatePayment)
}
