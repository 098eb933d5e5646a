// Package errors provides the coded error taxonomy shared by the audit,
// execution and masking layers.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes. The first six are the kinds surfaced to callers of the core;
// the rest cover request validation and plumbing failures.
const (
	CodeMalformedStatement       = "MALFORMED_STATEMENT"
	CodeConnectionFailed         = "CONNECTION_FAILED"
	CodeUnsupportedQueryShape    = "UNSUPPORTED_QUERY_SHAPE"
	CodeStatementRejected        = "STATEMENT_REJECTED"
	CodeStatementExecutionFailed = "STATEMENT_EXECUTION_FAILED"
	CodeObjectExistenceConflict  = "OBJECT_EXISTENCE_CONFLICT"

	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeNotFound         = "NOT_FOUND"
	CodeDeadlineExceeded = "DEADLINE_EXCEEDED"
	CodeUnimplemented    = "UNIMPLEMENTED"
	CodeInternal         = "INTERNAL_ERROR"
)

// GateError is an error with a taxonomy code, a human readable message and
// an optional cause.
type GateError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface.
func (e *GateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *GateError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a GateError with the same code.
func (e *GateError) Is(target error) bool {
	t, ok := target.(*GateError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail returns a copy of the error carrying one more detail.
func (e *GateError) WithDetail(key string, value interface{}) *GateError {
	out := *e
	out.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		out.Details[k] = v
	}
	out.Details[key] = value
	return &out
}

// Sentinel errors, compared by code through errors.Is.
var (
	ErrMalformedStatement    = &GateError{Code: CodeMalformedStatement, Message: "malformed statement"}
	ErrConnectionFailed      = &GateError{Code: CodeConnectionFailed, Message: "database connection failed"}
	ErrUnsupportedQueryShape = &GateError{Code: CodeUnsupportedQueryShape, Message: "unsupported query shape for masking"}
	ErrStatementRejected     = &GateError{Code: CodeStatementRejected, Message: "statement rejected"}
	ErrExecutionFailed       = &GateError{Code: CodeStatementExecutionFailed, Message: "statement execution failed"}
	ErrObjectConflict        = &GateError{Code: CodeObjectExistenceConflict, Message: "object existence conflict"}
	ErrUnknownEngine         = &GateError{Code: CodeNotFound, Message: "unknown engine type"}
	ErrNotImplemented        = &GateError{Code: CodeUnimplemented, Message: "feature not implemented"}
)

// New creates a new GateError with the given code and message.
func New(code, message string) *GateError {
	return &GateError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new GateError with a formatted message.
func Newf(code, format string, args ...interface{}) *GateError {
	return &GateError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with a GateError. A nil err yields nil.
func Wrap(err error, code, message string) *GateError {
	if err == nil {
		return nil
	}
	return &GateError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code, format string, args ...interface{}) *GateError {
	if err == nil {
		return nil
	}
	return &GateError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// Malformed reports a splitting failure at a byte offset.
func Malformed(offset int, reason string) *GateError {
	return New(CodeMalformedStatement, fmt.Sprintf("%s near offset %d", reason, offset)).
		WithDetail("offset", offset)
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code string) bool {
	var gateErr *GateError
	if errors.As(err, &gateErr) {
		return gateErr.Code == code
	}
	return false
}

// IsConnection reports whether err is a connection failure.
func IsConnection(err error) bool {
	return HasCode(err, CodeConnectionFailed)
}

// IsMalformed reports whether err is a statement splitting failure.
func IsMalformed(err error) bool {
	return HasCode(err, CodeMalformedStatement)
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return HasCode(err, CodeNotFound)
}

// GetCode extracts the error code from an error.
func GetCode(err error) string {
	var gateErr *GateError
	if errors.As(err, &gateErr) {
		return gateErr.Code
	}
	return CodeInternal
}

// GetMessage extracts the error message from an error. For wrapped driver
// errors the driver text is kept since it is what a reviewer needs to see.
func GetMessage(err error) string {
	var gateErr *GateError
	if errors.As(err, &gateErr) {
		if gateErr.Cause != nil {
			return fmt.Sprintf("%s: %v", gateErr.Message, gateErr.Cause)
		}
		return gateErr.Message
	}
	return err.Error()
}

// FromDriver normalizes a raw driver error into the taxonomy. Errors that are
// already coded pass through untouched.
func FromDriver(err error, message string) error {
	if err == nil {
		return nil
	}
	var gateErr *GateError
	if errors.As(err, &gateErr) {
		return err
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "connection refused"),
		strings.Contains(errStr, "connection reset"),
		strings.Contains(errStr, "broken pipe"),
		strings.Contains(errStr, "bad connection"),
		strings.Contains(errStr, "no such host"),
		strings.Contains(errStr, "i/o timeout"),
		strings.Contains(errStr, "access denied"),
		strings.Contains(errStr, "authentication failed"):
		return Wrap(err, CodeConnectionFailed, message)
	case strings.Contains(errStr, "context deadline exceeded"):
		return Wrap(err, CodeDeadlineExceeded, message)
	default:
		return Wrap(err, CodeStatementExecutionFailed, message)
	}
}
