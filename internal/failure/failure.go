// Package failure classifies the errors a job can run into so that every
// caller can decide locally whether to skip, fall back, or report.
package failure

import (
	"errors"
	"fmt"
)

// Kind is the recovery class of an error.
type Kind int

const (
	// Input covers invalid element indices, malformed URLs and unsupported formats.
	// Recovered locally: the action is skipped or the value normalized.
	Input Kind = iota + 1
	// Transient covers navigation, model and browsing call failures.
	Transient
	// Parse covers unparseable model output.
	Parse
	// Persistence covers artifact write failures.
	Persistence
)

func (k Kind) String() string {
	switch k {
	case Input:
		return "input"
	case Transient:
		return "transient"
	case Parse:
		return "parse"
	case Persistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Error is an error tagged with its Kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New tags err with kind. A nil err still yields a non-nil error.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Inputf builds an Input error from a format string.
func Inputf(op, format string, args ...any) error {
	return &Error{Kind: Input, Op: op, Err: fmt.Errorf(format, args...)}
}

// Is reports whether any error in err's chain is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err, or 0 when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
