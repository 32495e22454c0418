// Package faults classifies pipeline failures for retry decisions.
package faults

import (
	"errors"
	"fmt"
)

// Kind categorizes a failure so the caller can decide retry vs. drop vs. alert.
type Kind string

const (
	// KindBadInput indicates a malformed or structurally unusable payload (never retried).
	KindBadInput Kind = "bad_input"

	// KindBusinessAbort indicates a policy rule said no notification should be sent (never retried).
	KindBusinessAbort Kind = "business_abort"

	// KindBadReference indicates an unresolvable reference or unsupported identifier,
	// a configuration or input defect that will never succeed on retry.
	KindBadReference Kind = "bad_reference"

	// KindTransport indicates a downstream service failure (retryable).
	KindTransport Kind = "transport"

	// KindNotImplemented indicates a known, accepted scenario gap.
	KindNotImplemented Kind = "not_implemented"

	// KindProvider indicates the outbound notification provider rejected a dispatch (retryable).
	KindProvider Kind = "provider"

	// KindProgrammer indicates missing wiring or an unreachable code path.
	KindProgrammer Kind = "programmer"

	// KindUnknown indicates an unclassified error.
	KindUnknown Kind = "unknown"
)

// Retryable reports whether the caller should re-enqueue the event for this kind.
func (k Kind) Retryable() bool {
	switch k {
	case KindTransport, KindProvider:
		return true
	default:
		return false
	}
}

// Error carries a failure kind together with the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a static message.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the classification of err, or KindUnknown when unclassified.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}
