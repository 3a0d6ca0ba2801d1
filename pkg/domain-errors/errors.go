// Package domainerrors defines the typed error vocabulary shared by services,
// stores, and the HTTP layer. Services translate infrastructure sentinels into
// these codes; the transport layer maps codes to HTTP statuses so no raw store
// error text ever crosses the API boundary.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of failure visible to callers.
type Code string

const (
	// CodeBadRequest marks missing or malformed input, caught before the store
	// is touched. Fields carries per-field detail.
	CodeBadRequest Code = "bad_request"

	// CodeDuplicateFamily marks a household that already exists, whether found
	// by the duplicate detector or by the fingerprint unique index during the
	// commit transaction.
	CodeDuplicateFamily Code = "duplicate_family"

	// CodeDuplicateIdentification marks an identification-number collision on
	// one of the submitted members. Fields names the offending member.
	CodeDuplicateIdentification Code = "duplicate_identification"

	// CodeInvalidReference marks a catalog foreign key that does not exist.
	// Treated as a validation failure even when discovered inside the write
	// transaction.
	CodeInvalidReference Code = "invalid_reference"

	// CodeInvalidState marks an operation against a survey in the wrong status,
	// including saves carrying a stale version.
	CodeInvalidState Code = "invalid_state"

	CodeNotFound    Code = "not_found"
	CodeUnavailable Code = "unavailable"
	CodeInternal    Code = "internal"
)

// Error is the domain error carried across layer boundaries.
type Error struct {
	Code    Code
	Message string
	// Fields maps a field path (e.g. "familyMembers[2].identificacion") to a
	// human-readable problem so validation failures stay addressable.
	Fields map[string]string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a domain error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a domain code to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// WithField returns the error with one field-level detail attached.
func (e *Error) WithField(path, problem string) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[path] = problem
	return e
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// From extracts the domain error from err, or nil when err carries none.
func From(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return nil
}

// ToHTTPStatus maps a domain code to its HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeInvalidReference:
		return http.StatusBadRequest
	case CodeDuplicateFamily, CodeDuplicateIdentification, CodeInvalidState:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
