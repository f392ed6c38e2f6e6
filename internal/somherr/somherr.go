// Package somherr defines the small set of error kinds the search core can
// raise, so callers across package boundaries can branch on `errors.As`
// instead of matching strings.
package somherr

import "fmt"

// Kind is one of the error categories from spec.md §7.
type Kind int

const (
	// KindConfiguration: a required config field is missing or ill-typed.
	// Fatal at startup.
	KindConfiguration Kind = iota
	// KindOutOfRange: history index, frame ID or display type outside
	// their valid range. Fatal to the current request only.
	KindOutOfRange
	// KindNotReady: a SOM-backed display was requested before training
	// finished. Recovered locally (empty range), never propagated as a
	// hard failure by DisplayRouter.
	KindNotReady
	// KindExternalIO: eval-server unreachable or a submission rejected.
	KindExternalIO
	// KindInconsistentState: a rescore referenced a history index beyond
	// the current history size; the caller should reconcile.
	KindInconsistentState
	// KindCancelled: a background worker (SOM training) was cancelled.
	// Benign.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindOutOfRange:
		return "out_of_range"
	case KindNotReady:
		return "not_ready"
	case KindExternalIO:
		return "external_io"
	case KindInconsistentState:
		return "inconsistent_state"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is a typed error carrying a stable Kind plus a human-readable
// message, per spec.md §7's propagation policy.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind, recording cause for %w-chains.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}
