package jiveerr

import (
	"errors"
	"fmt"
)

// Code is one of the closed set of error kinds callers can act on.
type Code string

const (
	CodeValidation       Code = "VALIDATION_ERROR"
	CodeInvalidAction    Code = "INVALID_ACTION"
	CodeToolNotFound     Code = "TOOL_NOT_FOUND"
	CodeNotFound         Code = "NOT_FOUND"
	CodeDuplicateSlug    Code = "DUPLICATE_SLUG"
	CodeDuplicateKey     Code = "DUPLICATE_KEY"
	CodeCycleDetected    Code = "CYCLE_DETECTED"
	CodeInvalidNamespace Code = "INVALID_NAMESPACE"
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
	CodeTimeout          Code = "TIMEOUT"
	CodeInternal         Code = "INTERNAL"
)

// Error is the typed error handlers raise; the dispatcher serializes it
// into the failure envelope unchanged.
type Error struct {
	Code    Code                   `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a typed error.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a typed error keeping the cause in the chain.
func Wrap(code Code, cause error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithDetails attaches structured details and returns the error.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// As extracts a typed error from an error chain.
func As(err error) (*Error, bool) {
	var je *Error
	if errors.As(err, &je) {
		return je, true
	}
	return nil, false
}

// CodeOf returns the taxonomy code for err, mapping untyped errors to
// INTERNAL.
func CodeOf(err error) Code {
	if je, ok := As(err); ok {
		return je.Code
	}
	return CodeInternal
}

// Retryable reports whether the dispatcher may retry the operation.
func Retryable(err error) bool {
	return CodeOf(err) == CodeStoreUnavailable
}
