package service

import (
	"errors"
	"fmt"
)

var (
	ErrPasteNotFound = errors.New("paste not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInternal      = errors.New("internal error")
	ErrIDGeneration  = errors.New("failed to generate unique paste id")
)

// NotFoundReason records why a read was refused. It is kept for logs and
// metrics only; callers outside the service see one not-found outcome.
type NotFoundReason string

const (
	ReasonMissing   NotFoundReason = "missing"
	ReasonExpired   NotFoundReason = "expired"
	ReasonExhausted NotFoundReason = "exhausted"
)

// ValidationError reports a rejected creation request
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NotFoundError is returned when a paste cannot be served
type NotFoundError struct {
	Reason NotFoundReason
}

func (e *NotFoundError) Error() string {
	return "paste not found (" + string(e.Reason) + ")"
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrPasteNotFound
}

// InternalError wraps a store failure or an exhausted id retry budget
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *InternalError) Is(target error) bool {
	return target == ErrInternal
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

func notFound(reason NotFoundReason) error {
	return &NotFoundError{Reason: reason}
}

func internal(op string, err error) error {
	return &InternalError{Op: op, Err: err}
}
