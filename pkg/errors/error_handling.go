// Package errors defines the typed error taxonomy shared by the TURN
// client transport: sockdriver, qos, resolver, and turn all construct
// their failures through this package so callers can match on Kind with
// errors.As instead of parsing strings.
package errors

import (
	"errors"
	"fmt"
)

// Kind categorizes a transport failure. These are the ten kinds the TURN
// client transport distinguishes; richer taxonomies belong to the
// embedding application, not this package.
type Kind string

const (
	KindInvalid       Kind = "invalid"        // argument contract violated
	KindInvalidState  Kind = "invalid_state"  // operation invoked after session gone / before allocation
	KindBindExhausted Kind = "bind_exhausted" // port-range retries consumed
	KindConnectFailed Kind = "connect_failed" // transport-level connect failure
	KindProtocol      Kind = "protocol"       // malformed STUN/TURN
	KindAuthRequired  Kind = "auth_required"  // 401 challenge not yet answered
	KindAuthFailed    Kind = "auth_failed"    // 401/403 after retry
	KindAllocRejected Kind = "alloc_rejected" // non-2xx final Allocate response
	KindClosedByPeer  Kind = "closed_by_peer" // stream EOF
	KindTimedOut      Kind = "timed_out"      // STUN transaction timeout
)

// Error is the concrete error type returned by this module's packages.
type Error struct {
	Kind  Kind
	Op    string // the operation that failed, e.g. "sockdriver.Create"
	Cause error

	// Retryable marks errors the session may attempt to recover from by
	// resending a STUN transaction, as opposed to fatal transport errors.
	Retryable bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on Kind, the same coarse-grained identity the teacher's
// DistributedError used for its Code+Type pair.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// Builder provides the fluent construction style carried over from the
// teacher's ErrorBuilder.
type Builder struct {
	err *Error
}

// New starts building an Error for operation op of the given kind.
func New(op string, kind Kind) *Builder {
	return &Builder{err: &Error{Op: op, Kind: kind}}
}

func (b *Builder) WithCause(cause error) *Builder {
	b.err.Cause = cause
	return b
}

func (b *Builder) Retryable() *Builder {
	b.err.Retryable = true
	return b
}

func (b *Builder) Build() *Error {
	return b.err
}

// Of is shorthand for New(op, kind).WithCause(cause).Build(), the common
// case of wrapping a lower-level error with a Kind.
func Of(op string, kind Kind, cause error) *Error {
	return New(op, kind).WithCause(cause).Build()
}

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error, and reports whether one was found.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
