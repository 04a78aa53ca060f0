// SPDX-License-Identifier: AGPL-3.0-only
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies failures inside the tool-calling loop.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransientNetwork is retried with backoff before being surfaced.
	KindTransientNetwork
	// KindProviderProtocol is a malformed or unexpected provider response.
	KindProviderProtocol
	// KindToolArgumentInvalid is recovered locally by reporting it to the model.
	KindToolArgumentInvalid
	// KindToolExecutionFailed means the tool ran and reported failure.
	KindToolExecutionFailed
	// KindSessionUnavailable means the tool-execution service is unreachable.
	KindSessionUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindTransientNetwork:
		return "transient_network"
	case KindProviderProtocol:
		return "provider_protocol"
	case KindToolArgumentInvalid:
		return "tool_argument_invalid"
	case KindToolExecutionFailed:
		return "tool_execution_failed"
	case KindSessionUnavailable:
		return "session_unavailable"
	default:
		return "unknown"
	}
}

// ErrSessionUnavailable is matched by every KindSessionUnavailable error.
var ErrSessionUnavailable = stderrors.New("tool session unavailable")

// Error is a classified error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrSessionUnavailable) match unavailable errors.
func (e *Error) Is(target error) bool {
	return target == ErrSessionUnavailable && e.Kind == KindSessionUnavailable
}

func newError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Transient wraps err as a retryable network failure.
func Transient(op string, err error) error { return newError(KindTransientNetwork, op, err) }

// Protocol wraps err as a provider protocol failure.
func Protocol(op string, err error) error { return newError(KindProviderProtocol, op, err) }

// ArgumentInvalid reports malformed or missing tool arguments.
func ArgumentInvalid(op string, err error) error { return newError(KindToolArgumentInvalid, op, err) }

// ExecutionFailed reports a tool-side failure.
func ExecutionFailed(op string, err error) error { return newError(KindToolExecutionFailed, op, err) }

// Unavailable reports that the tool session is not connected.
func Unavailable(op string, err error) error {
	if err == nil {
		err = ErrSessionUnavailable
	}
	return newError(KindSessionUnavailable, op, err)
}

// KindOf returns the Kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool { return KindOf(err) == KindTransientNetwork }

// IsUnavailable reports whether err means the tool session is down.
func IsUnavailable(err error) bool { return stderrors.Is(err, ErrSessionUnavailable) }
