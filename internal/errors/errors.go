// Package errors provides unified error handling with structured error codes
// shared across the capture daemon, the overlay helper, and the UI layer.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code classifies capture errors. Terminal acquisition errors must stay
// distinguishable so the UI can tell "you said no" from "your OS doesn't
// support this" from "something else broke".
type Code int

const (
	CodeUnknown Code = iota
	CodeInternal
	CodeInvalidArgument
	CodeCancelled

	// Acquisition taxonomy, terminal for the session.
	CodePermissionDenied
	CodeNoSource
	CodeUnsupported

	// StreamEnded covers external revocation; it routes through the normal
	// teardown path, not a failure path.
	CodeStreamEnded

	// HashFailed is transient: the tick is skipped and the next one retries.
	CodeHashFailed

	// OverlayUnavailable selects the in-process selector; it is a capability
	// probe result, not a failure.
	CodeOverlayUnavailable

	CodePersistFailed
)

var codeNames = map[Code]string{
	CodeUnknown:            "UNKNOWN",
	CodeInternal:           "INTERNAL",
	CodeInvalidArgument:    "INVALID_ARGUMENT",
	CodeCancelled:          "CANCELLED",
	CodePermissionDenied:   "PERMISSION_DENIED",
	CodeNoSource:           "NO_SOURCE",
	CodeUnsupported:        "UNSUPPORTED",
	CodeStreamEnded:        "STREAM_ENDED",
	CodeHashFailed:         "HASH_FAILED",
	CodeOverlayUnavailable: "OVERLAY_UNAVAILABLE",
	CodePersistFailed:      "PERSIST_FAILED",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "UNKNOWN"
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code.String(), e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// CodeOf extracts the error code from anywhere in the chain, or CodeUnknown.
func CodeOf(err error) Code {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code anywhere in its chain.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsTerminal reports whether the error ends the capture session. Transient
// and capability-probe codes are recovered locally.
func IsTerminal(err error) bool {
	switch CodeOf(err) {
	case CodeHashFailed, CodeOverlayUnavailable:
		return false
	default:
		return true
	}
}
