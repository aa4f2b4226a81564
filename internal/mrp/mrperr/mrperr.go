// Package mrperr defines the error taxonomy shared across the MRP core.
//
// Every error a handler can produce classifies as one of a small number of
// kinds so that callers (the control plane, the event router, the daemon's
// top-level logger) can decide, generically, whether to surface it to an
// operator, retry, or merely count it.
package mrperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for routing/logging purposes.
type Kind uint8

const (
	// KindConfigInvalid marks a request that can never succeed as given
	// (missing ports, duplicate ring number, unknown role name). Surfaced
	// to the control-plane caller with a non-zero result code.
	KindConfigInvalid Kind = iota
	// KindTransportFailed marks a failed syscall against an external
	// collaborator (packet send, driver call, netlink send). Logged; the
	// state is not rolled back and the owning periodic timer will retry.
	KindTransportFailed
	// KindResourceExhausted marks an allocation failure while building an
	// instance. The partially built instance is torn down in reverse
	// allocation order.
	KindResourceExhausted
	// KindProtocolParse marks a malformed incoming frame. The frame is
	// counted and dropped.
	KindProtocolParse
	// KindInconsistent marks an event that refers to state the core has
	// no record of (e.g. a link-up for an unknown ifindex). Dropped
	// silently.
	KindInconsistent
)

func (k Kind) String() string {
	switch k {
	case KindConfigInvalid:
		return "config_invalid"
	case KindTransportFailed:
		return "transport_failed"
	case KindResourceExhausted:
		return "resource_exhausted"
	case KindProtocolParse:
		return "protocol_parse"
	case KindInconsistent:
		return "inconsistent"
	}
	return fmt.Sprintf("unknown(%d)", k)
}

// Error wraps an underlying cause with a Kind for classification.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Invalid, Transport, Exhausted, Parse, and Inconsistent are convenience
// constructors mirroring the taxonomy above.
func Invalid(op string, err error) *Error       { return New(KindConfigInvalid, op, err) }
func Transport(op string, err error) *Error     { return New(KindTransportFailed, op, err) }
func Exhausted(op string, err error) *Error     { return New(KindResourceExhausted, op, err) }
func Parse(op string, err error) *Error         { return New(KindProtocolParse, op, err) }
func Inconsistent(op string, err error) *Error  { return New(KindInconsistent, op, err) }
