package bundle

import (
	"errors"
	"fmt"
)

// Code categorizes bundle errors.
type Code string

const (
	// CodeValidation indicates a caller input defect. No side effects.
	CodeValidation Code = "VALIDATION"

	// CodeDuplicateActive indicates another writer already holds the active
	// slot for the identity. Never retried internally.
	CodeDuplicateActive Code = "DUPLICATE_ACTIVE_RECORD"

	// CodeTransient indicates a retryable infrastructure failure
	// (connection loss, timeout, busy database, commit conflict).
	CodeTransient Code = "STORAGE_TRANSIENT"

	// CodeFatal indicates a non-retryable storage failure
	// (permissions, schema, corruption).
	CodeFatal Code = "STORAGE_FATAL"

	// CodeChecksumMismatch indicates stored content does not match its digest.
	CodeChecksumMismatch Code = "CHECKSUM_MISMATCH"

	// CodeNotFound indicates a referenced record, config or blob is missing.
	CodeNotFound Code = "NOT_FOUND"
)

// Error is the error type returned across docseed package boundaries.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Op names the operation that failed (e.g. "blob put", "insert record").
	Op string

	// Identity identifies the affected bundle, when known.
	Identity Identity

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	switch {
	case e.Op != "" && e.Identity != "":
		return fmt.Sprintf("%s: %s: %s (identity=%s)", e.Code, e.Op, msg, e.Identity)
	case e.Op != "":
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Op, msg)
	case e.Identity != "":
		return fmt.Sprintf("%s: %s (identity=%s)", e.Code, msg, e.Identity)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// WithIdentity returns a copy of e tagged with id, unless already tagged.
func (e *Error) WithIdentity(id Identity) *Error {
	cp := *e
	if cp.Identity == "" {
		cp.Identity = id
	}
	return &cp
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return CodeOf(err) == CodeValidation }

// IsDuplicateActive reports whether err signals a lost race for the active slot.
func IsDuplicateActive(err error) bool { return CodeOf(err) == CodeDuplicateActive }

// IsTransient reports whether err is a retryable storage failure.
func IsTransient(err error) bool { return CodeOf(err) == CodeTransient }

// IsFatal reports whether err is a non-retryable storage failure.
func IsFatal(err error) bool { return CodeOf(err) == CodeFatal }

// IsChecksumMismatch reports whether err is a checksum mismatch.
func IsChecksumMismatch(err error) bool { return CodeOf(err) == CodeChecksumMismatch }

// IsNotFound reports whether err signals a missing record, config or blob.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// Validationf creates a validation error.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NewTransient wraps err as a transient storage failure of op.
func NewTransient(op string, err error) *Error {
	return &Error{Code: CodeTransient, Op: op, Err: err}
}

// NewFatal wraps err as a fatal storage failure of op.
func NewFatal(op string, err error) *Error {
	return &Error{Code: CodeFatal, Op: op, Err: err}
}

// NewDuplicateActive reports that id already has an active record owned by
// another writer.
func NewDuplicateActive(op string, id Identity, err error) *Error {
	return &Error{
		Code:     CodeDuplicateActive,
		Op:       op,
		Identity: id,
		Message:  "another writer holds the active record",
		Err:      err,
	}
}

// NewNotFound reports a missing object.
func NewNotFound(op, what string) *Error {
	return &Error{Code: CodeNotFound, Op: op, Message: what + " not found"}
}

// NewChecksumMismatch reports that content did not hash to the expected digest.
func NewChecksumMismatch(expected, actual string) *Error {
	return &Error{
		Code:    CodeChecksumMismatch,
		Message: fmt.Sprintf("expected %s, got %s", expected, actual),
	}
}
