package ledger

import (
	"errors"
	"fmt"
)

// ErrorKind classifies gateway failures.
type ErrorKind string

const (
	KindTransport ErrorKind = "transport"
	KindRevert    ErrorKind = "revert"
	KindNotFound  ErrorKind = "not_found"
)

var (
	// ErrNotFound matches any Error of kind KindNotFound.
	ErrNotFound = errors.New("ledger entity not found")

	// ErrReverted matches any Error of kind KindRevert.
	ErrReverted = errors.New("ledger transaction reverted")

	// ErrTransport matches any Error of kind KindTransport.
	ErrTransport = errors.New("ledger transport failure")
)

// Error is the only error type a Gateway returns. Reason carries the
// ledger-supplied revert reason verbatim when one exists.
type Error struct {
	Kind   ErrorKind
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Reason != "" && e.Err != nil:
		return fmt.Sprintf("ledger %s %s: %s: %v", e.Op, e.Kind, e.Reason, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("ledger %s %s: %s", e.Op, e.Kind, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("ledger %s %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("ledger %s %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() []error {
	var sentinel error
	switch e.Kind {
	case KindNotFound:
		sentinel = ErrNotFound
	case KindRevert:
		sentinel = ErrReverted
	default:
		sentinel = ErrTransport
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

// Transport wraps a network or RPC failure.
func Transport(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// Reverted builds a revert error. reason may be empty when the ledger
// supplied none.
func Reverted(op, reason string) *Error {
	return &Error{Kind: KindRevert, Op: op, Reason: reason}
}

// NotFound builds a not-found error for an entity lookup.
func NotFound(kind EntityKind, key any) *Error {
	return &Error{Kind: KindNotFound, Op: string(kind), Reason: fmt.Sprintf("%v", key)}
}
