package apperrors

import (
	"errors"
	"net/http"
	"testing"
)

type state string

func (s state) String() string { return string(s) }

func TestNotFound(t *testing.T) {
	t.Parallel()
	err := NotFound("abc123")

	if !errors.Is(err, ErrNotFound) {
		t.Error("expected error to match ErrNotFound")
	}
	if err.Error() != "Task abc123 not found" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestAlreadyTerminal(t *testing.T) {
	t.Parallel()
	err := AlreadyTerminal("abc123", state("SUCCESS"))

	if !errors.Is(err, ErrAlreadyTerminal) {
		t.Error("expected error to match ErrAlreadyTerminal")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("already terminal must be distinguishable from not found")
	}
	if err.Error() != "Task abc123 already finished with state SUCCESS" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestDispatchKeepsCause(t *testing.T) {
	t.Parallel()
	cause := errors.New("connection refused")
	err := Dispatch("enqueue", cause)

	if !errors.Is(err, ErrDispatch) {
		t.Error("expected error to match ErrDispatch")
	}
	if !errors.Is(err, cause) {
		t.Error("expected error to match its cause")
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Op != "enqueue" {
		t.Errorf("expected op 'enqueue', got %q", appErr.Op)
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want int
	}{
		{Validation("units", "bad"), http.StatusUnprocessableEntity},
		{NotFound("x"), http.StatusNotFound},
		{AlreadyTerminal("x", state("REVOKED")), http.StatusConflict},
		{Dispatch("enqueue", errors.New("down")), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
