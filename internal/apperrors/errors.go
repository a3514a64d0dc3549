// Package apperrors classifies job orchestration failures so the gateway
// can map them to response codes with errors.Is.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrAlreadyTerminal = errors.New("already terminal")
	ErrDispatch        = errors.New("dispatch error")
	ErrTraining        = errors.New("training error")
	ErrTransport       = errors.New("transport error")
)

// Error is a classified error with a human-readable message.
type Error struct {
	Sentinel error
	Message  string
	Field    string // validation errors only
	JobID    string
	Op       string
	Cause    error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

func NotFound(jobID string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("Task %s not found", jobID),
		JobID:    jobID,
	}
}

// AlreadyTerminal reports that jobID reached state before the request.
func AlreadyTerminal(jobID string, state fmt.Stringer) error {
	return &Error{
		Sentinel: ErrAlreadyTerminal,
		Message:  fmt.Sprintf("Task %s already finished with state %s", jobID, state),
		JobID:    jobID,
	}
}

func Dispatch(op string, cause error) error {
	return &Error{
		Sentinel: ErrDispatch,
		Message:  fmt.Sprintf("failed to dispatch training job: %s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

func Training(jobID string, cause error) error {
	return &Error{
		Sentinel: ErrTraining,
		Message:  fmt.Sprintf("training job %s failed: %v", jobID, cause),
		JobID:    jobID,
		Cause:    cause,
	}
}

func Transport(op string, cause error) error {
	return &Error{
		Sentinel: ErrTransport,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}
