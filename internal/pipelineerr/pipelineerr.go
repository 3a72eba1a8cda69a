// Package pipelineerr classifies errors per the pipeline's fixed error
// policy: transient infra errors release a claim and retry; fatal,
// strategy-intrinsic errors terminate the row with status=FAILED.
package pipelineerr

import (
	"errors"
	"fmt"
)

// Transient wraps an infra error (DB blip, stream reconnect, venue 5xx).
// The caller must release the lease and leave status untouched.
type Transient struct {
	Op  string
	Err error
}

func (e *Transient) Error() string {
	return fmt.Sprintf("transient error in %s: %v", e.Op, e.Err)
}

func (e *Transient) Unwrap() error { return e.Err }

// NewTransient wraps err as a Transient error.
func NewTransient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Transient{Op: op, Err: err}
}

// Fatal wraps a strategy-intrinsic error (parse failure, look-ahead
// violation, shuffle failure, score below threshold). The caller must set
// status=FAILED and record an event with Phase and Reason.
type Fatal struct {
	Phase  string
	Reason string
	Err    error
}

func (e *Fatal) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fatal error in phase %s: %s: %v", e.Phase, e.Reason, e.Err)
	}
	return fmt.Sprintf("fatal error in phase %s: %s", e.Phase, e.Reason)
}

func (e *Fatal) Unwrap() error { return e.Err }

// NewFatal builds a Fatal error for the given phase and reason.
func NewFatal(phase, reason string, err error) error {
	return &Fatal{Phase: phase, Reason: reason, Err: err}
}

// IsTransient reports whether err (or something it wraps) is Transient.
func IsTransient(err error) bool {
	var t *Transient
	return errors.As(err, &t)
}

// IsFatal reports whether err (or something it wraps) is Fatal.
func IsFatal(err error) bool {
	var f *Fatal
	return errors.As(err, &f)
}

// AsFatal extracts the *Fatal from err, if any.
func AsFatal(err error) (*Fatal, bool) {
	var f *Fatal
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
