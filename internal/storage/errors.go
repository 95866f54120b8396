package storage

import (
	"fmt"
	"time"
)

// ErrorCode identifies a storage failure class.
type ErrorCode string

const (
	// ErrCodeSave indicates a write failed (quota, serialization, transform).
	ErrCodeSave ErrorCode = "STORAGE_SAVE_ERROR"
	// ErrCodeLoad indicates a read or parse failed; callers treat it as a miss.
	ErrCodeLoad ErrorCode = "STORAGE_LOAD_ERROR"
	// ErrCodeRemove indicates a single-key delete failed.
	ErrCodeRemove ErrorCode = "STORAGE_REMOVE_ERROR"
	// ErrCodeClear indicates a prefix-scoped clear failed.
	ErrCodeClear ErrorCode = "STORAGE_CLEAR_ERROR"
)

// Severity grades how loudly an error should surface.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Error is the structured record reported for every storage failure.
type Error struct {
	Code        ErrorCode      `json:"code"`
	Message     string         `json:"message"`
	Severity    Severity       `json:"severity"`
	Recoverable bool           `json:"recoverable"`
	Timestamp   time.Time      `json:"timestamp"`
	Context     map[string]any `json:"context,omitempty"`
	Cause       error          `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorHandler receives every reported storage error.
type ErrorHandler func(*Error)

// IsCode checks if err is a storage error with the given code.
func IsCode(err error, code ErrorCode) bool {
	if se, ok := err.(*Error); ok {
		return se.Code == code
	}
	return false
}

func newError(code ErrorCode, msg string, cause error, now time.Time, ctx map[string]any) *Error {
	e := &Error{
		Code:        code,
		Message:     msg,
		Severity:    SeverityWarning,
		Recoverable: true,
		Timestamp:   now,
		Context:     ctx,
		Cause:       cause,
	}
	switch code {
	case ErrCodeSave, ErrCodeClear:
		e.Severity = SeverityError
	}
	return e
}
