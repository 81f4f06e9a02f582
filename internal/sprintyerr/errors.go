// Package sprintyerr defines the distinguished error kinds the orchestrator must tell apart,
// plus a small classification wrapper for agent-invocation outcomes.
package sprintyerr

import (
	"errors"
	"fmt"
)

// Kind categorizes an error for control-flow purposes (§7 of the spec).
type Kind int8

// Error kinds the core distinguishes. Order is not significant.
const (
	KindUnknown Kind = iota
	KindStateCorrupt
	KindStatusMissing
	KindRoleMismatch
	KindTimeout
	KindRateLimited
	KindConnectionError
	KindKilled
	KindAuthError
	KindPermissionError
	KindCircuitOpen
	KindMaxSprintsReached
	KindProjectComplete
	KindFinalQAExhausted
)

// String renders the kind for logs and exit-reason reporting.
func (k Kind) String() string {
	switch k {
	case KindStateCorrupt:
		return "state_corrupt"
	case KindStatusMissing:
		return "status_missing"
	case KindRoleMismatch:
		return "role_mismatch"
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindConnectionError:
		return "connection_error"
	case KindKilled:
		return "killed"
	case KindAuthError:
		return "auth_error"
	case KindPermissionError:
		return "permission_error"
	case KindCircuitOpen:
		return "circuit_open"
	case KindMaxSprintsReached:
		return "max_sprints_reached"
	case KindProjectComplete:
		return "project_complete"
	case KindFinalQAExhausted:
		return "final_qa_exhausted"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a classification.
type Error struct {
	Err  error
	Msg  string
	Kind Kind
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error of the given kind wrapping err.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the classification of err, or KindUnknown if unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Terminal reports whether a kind should stop the orchestrator loop outright
// rather than being retried or surfaced as a failed-but-continuing iteration.
func (k Kind) Terminal() bool {
	switch k {
	case KindAuthError, KindPermissionError, KindCircuitOpen,
		KindMaxSprintsReached, KindProjectComplete, KindFinalQAExhausted:
		return true
	default:
		return false
	}
}

// ExitCode maps a terminal kind to the process exit code from §6.
func (k Kind) ExitCode() int {
	switch k {
	case KindProjectComplete:
		return 20
	case KindMaxSprintsReached:
		return 21
	case KindCircuitOpen:
		return 10
	default:
		return 1
	}
}
