package directory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/isometry/adscan/internal/adbinary"
)

// ErrorKind classifies directory errors so callers can tell permission
// problems from connectivity problems without inspecting transport types.
type ErrorKind string

const (
	KindUnknown      ErrorKind = "unknown"
	KindConnection   ErrorKind = "connection"
	KindUnauthorized ErrorKind = "unauthorized"
	KindNotFound     ErrorKind = "not_found"
	KindProtocol     ErrorKind = "protocol"
	KindMalformed    ErrorKind = "malformed"
	KindInvalidInput ErrorKind = "invalid_input"
)

// Error is the error type returned by backends and the failover connection.
type Error struct {
	Kind    ErrorKind   // Error classification
	Op      string      // Operation that failed, e.g. "enumerate"
	Backend BackendKind // Backend that produced the error, if any
	Err     error       // Underlying error
}

func (e *Error) Error() string {
	var parts []string

	if e.Backend != "" {
		parts = append(parts, fmt.Sprintf("%s %s failed", e.Backend, e.Op))
	} else {
		parts = append(parts, fmt.Sprintf("%s failed", e.Op))
	}

	if e.Kind != "" && e.Kind != KindUnknown {
		parts = append(parts, string(e.Kind))
	}

	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind when the target carries no operation,
// so errors.Is(err, &Error{Kind: KindNotFound}) works as a kind test.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op != "" && t.Op != e.Op {
		return false
	}
	if t.Backend != "" && t.Backend != e.Backend {
		return false
	}
	return t.Kind == e.Kind
}

// NewError wraps err with a kind. A nil err yields nil.
func NewError(kind ErrorKind, backend BackendKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Backend: backend, Err: err}
}

// Errorf builds an *Error from a format string.
func Errorf(kind ErrorKind, backend BackendKind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Backend: backend, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain. Wire-data
// errors from adbinary report KindMalformed.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, adbinary.ErrMalformed) {
		return KindMalformed
	}
	return KindUnknown
}

// IsNotFound reports whether err is a not-found condition.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsUnauthorized reports whether err is an access-denied condition.
func IsUnauthorized(err error) bool {
	return KindOf(err) == KindUnauthorized
}

// callbackError marks errors returned by an enumeration callback so the
// failover connection never treats them as backend failures.
type callbackError struct {
	err error
}

func (e *callbackError) Error() string { return e.err.Error() }
func (e *callbackError) Unwrap() error { return e.err }
