// Package fault defines the stable, machine-readable error kinds surfaced by
// the document lifecycle. Callers branch on the kind via KindOf or errors.As;
// the human-readable summary travels alongside it.
package fault

import (
	"errors"
	"fmt"
)

// Kind is a closed vocabulary of failure categories.
type Kind string

const (
	NotFound            Kind = "not_found"
	InvalidTransition   Kind = "invalid_transition"
	ReviewIncomplete    Kind = "review_incomplete"
	NotCancelable       Kind = "not_cancelable"
	NoActiveTask        Kind = "no_active_task"
	Conflict            Kind = "conflict"
	UpstreamUnavailable Kind = "upstream_unavailable"
	UnsupportedInput    Kind = "unsupported_input"
	Internal            Kind = "internal"
)

// Error carries a Kind plus a summary, optionally wrapping a cause.
type Error struct {
	Kind    Kind
	Summary string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Summary, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Summary)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with the given kind and summary.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Summary: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error around a cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Summary: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err, or Internal when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
