package model

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTransportClosed is returned by viewer transports once the peer is gone
var ErrTransportClosed = errors.New("transport closed")

// TimeoutError reports an external call that exceeded its deadline
type TimeoutError struct {
	Op    string        // Collaborator call that timed out (e.g. "search")
	After time.Duration // Deadline that was applied
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

// Is makes errors.Is(err, context.DeadlineExceeded) hold for timeouts
func (e *TimeoutError) Is(target error) bool {
	return target == context.DeadlineExceeded
}

// MalformedResponseError reports a collaborator response that failed
// structural validation
type MalformedResponseError struct {
	Op     string
	Detail string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: malformed response: %s: %v", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: malformed response: %s", e.Op, e.Detail)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// NoEvidenceError means search returned zero passages. It is terminal
// (the claim resolves to not_found), not a failure.
type NoEvidenceError struct {
	Claim string
}

func (e *NoEvidenceError) Error() string {
	return fmt.Sprintf("no evidence found for %q", e.Claim)
}

// TransportError reports a failed send to a viewer session
type TransportError struct {
	SessionID string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("session %s: send failed: %v", e.SessionID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Closed reports whether the underlying transport is gone for good
func (e *TransportError) Closed() bool {
	return errors.Is(e.Err, ErrTransportClosed)
}

// Malformed is a shorthand for building a MalformedResponseError
func Malformed(op, detail string, err error) error {
	return &MalformedResponseError{Op: op, Detail: detail, Err: err}
}

// WrapDeadline converts a context deadline into a TimeoutError and adds the
// op name to anything else
func WrapDeadline(op string, after time.Duration, err error) error {
	if err == nil {
		return nil
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, After: after}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Classify maps an error to a short failure kind used in logs and metrics
func Classify(err error) string {
	var (
		te *TimeoutError
		me *MalformedResponseError
		ne *NoEvidenceError
		tr *TransportError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &te), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &me):
		return "malformed"
	case errors.As(err, &ne):
		return "no_evidence"
	case errors.As(err, &tr), errors.Is(err, ErrTransportClosed):
		return "transport"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "service"
	}
}
