package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a semantic classification shared across transport layers.
type ErrorCode string

const (
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeInvalid      ErrorCode = "INVALID"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeConsistency  ErrorCode = "CONSISTENCY"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeInternal     ErrorCode = "INTERNAL"
)

// Error represents a domain-level error.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches sentinel errors by code and message so wrapped copies still compare equal.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// NewError builds a domain error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with a domain classification.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain errors.
var (
	ErrJournalNotFound      = NewError(ErrCodeNotFound, "journal not found")
	ErrJournableNotFound    = NewError(ErrCodeNotFound, "journable not found")
	ErrUnknownKind          = NewError(ErrCodeInvalid, "unknown journable kind")
	ErrMalformedSnapshot    = NewError(ErrCodeInvalid, "malformed snapshot")
	ErrMissingAuthor        = NewError(ErrCodeInvalid, "missing author")
	ErrInvalidPayload       = NewError(ErrCodeInvalid, "invalid payload")
	ErrVersionConflict      = NewError(ErrCodeConflict, "journal version conflict")
	ErrConsistencyViolation = NewError(ErrCodeConsistency, "journal consistency violation")
	ErrUnauthorized         = NewError(ErrCodeUnauthorized, "unauthorized")
)

// IsDomainError helps checking error codes.
func IsDomainError(err error, code ErrorCode) bool {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Code == code
	}
	return false
}

// Malformed reports a snapshot validation failure for a single field.
func Malformed(field string, format string, args ...any) *Error {
	return WrapError(ErrCodeInvalid, ErrMalformedSnapshot.Message,
		fmt.Errorf("%s: %s", field, fmt.Sprintf(format, args...)))
}

// Inconsistent reports a fatal journal ordering problem.
func Inconsistent(format string, args ...any) *Error {
	return WrapError(ErrCodeConsistency, ErrConsistencyViolation.Message, fmt.Errorf(format, args...))
}
