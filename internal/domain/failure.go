package domain

import (
	"context"
	"errors"
	"fmt"
)

// FailureClass tells the retry policy how a failed attempt may be treated.
type FailureClass string

const (
	FailureTransient FailureClass = "transient"
	FailurePermanent FailureClass = "permanent"
)

// HandlerError tags a handler failure with its class.
type HandlerError struct {
	Class FailureClass
	Err   error
}

func (e *HandlerError) Error() string {
	if e.Err == nil {
		return string(e.Class) + " failure"
	}
	return e.Err.Error()
}

func (e *HandlerError) Unwrap() error { return e.Err }

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &HandlerError{Class: FailureTransient, Err: err}
}

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &HandlerError{Class: FailurePermanent, Err: err}
}

// Permanentf is Permanent(fmt.Errorf(...)).
func Permanentf(format string, args ...any) error {
	return Permanent(fmt.Errorf(format, args...))
}

// Classify maps a handler error to a failure class. Timeouts, cancellations and
// untagged errors are transient; validation errors are permanent.
func Classify(err error) FailureClass {
	var he *HandlerError
	if errors.As(err, &he) {
		return he.Class
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return FailureTransient
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidArgument):
		return FailurePermanent
	}
	return FailureTransient
}
