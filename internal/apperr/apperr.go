// Package apperr defines the error kinds shared by the attendance and credential
// services. Each error carries a stable reason string that handlers pass to clients.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and status mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindAllocationExhausted
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindAllocationExhausted:
		return "allocation_exhausted"
	default:
		return "internal"
	}
}

// Reasons surfaced to callers.
const (
	ReasonInvalidInput        = "invalid_input"
	ReasonSessionInvalid      = "session_invalid"
	ReasonSessionNotFound     = "session_not_found"
	ReasonStudentNotFound     = "student_not_found"
	ReasonDuplicateAttendance = "duplicate_attendance"
	ReasonCertificateNotFound = "certificate_not_found"
	ReasonNumberCollision     = "number_collision"
	ReasonAllocationExhausted = "allocation_exhausted"
)

// Error is a typed, user-facing failure.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Validation reports missing or malformed input.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Reason: ReasonInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a lookup miss.
func NotFound(reason, message string) *Error {
	return &Error{Kind: KindNotFound, Reason: reason, Message: message}
}

// Conflict reports a uniqueness clash.
func Conflict(reason, message string) *Error {
	return &Error{Kind: KindConflict, Reason: reason, Message: message}
}

// AllocationExhausted reports that numbering retries ran out.
func AllocationExhausted(message string, cause error) *Error {
	return &Error{Kind: KindAllocationExhausted, Reason: ReasonAllocationExhausted, Message: message, Err: cause}
}

// Common sentinels.
var (
	ErrSessionInvalid      = NotFound(ReasonSessionInvalid, "session is invalid or inactive")
	ErrSessionNotFound     = NotFound(ReasonSessionNotFound, "session not found")
	ErrStudentNotFound     = NotFound(ReasonStudentNotFound, "student not found")
	ErrDuplicateAttendance = Conflict(ReasonDuplicateAttendance, "attendance already recorded")
	ErrCertificateNotFound = NotFound(ReasonCertificateNotFound, "certificate not found")
)

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ReasonOf returns the reason string of err, or "" for untyped errors.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// Is reports whether err carries the given reason.
func Is(err error, reason string) bool {
	return ReasonOf(err) == reason
}
