// Package doryerr defines the error kinds a dory device can raise during
// construction. Runtime I/O failures never propagate as Go errors — they
// travel only as completion status codes, per the device's error handling
// design.
package doryerr

import "fmt"

// Code classifies a failure: two construction-time kinds and one runtime
// I/O kind.
type Code string

const (
	// ConfigInvalid means a construction parameter failed validation.
	ConfigInvalid Code = "ConfigInvalid"
	// Allocation means slot or buffer memory could not be obtained.
	Allocation Code = "Allocation"
	// IoFailed means a runtime I/O failure surfaced to a caller that
	// requested a blocking wait on a backend operation (backend.Device
	// implementations use this to report failures to pkg/device, which
	// never re-raises it to request submitters).
	IoFailed Code = "IoFailed"
)

// Error is the single error type dory returns from construction and from
// backend.Device implementations.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an Error with a formatted message and no wrapped cause.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error that wraps cause, preserving it for errors.Is/As.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// NewConfigInvalid is a convenience constructor for a malformed
// construction parameter.
func NewConfigInvalid(format string, args ...interface{}) *Error {
	return Newf(ConfigInvalid, format, args...)
}

// NewAllocation is a convenience constructor for a failed memory allocation
// during construction.
func NewAllocation(format string, args ...interface{}) *Error {
	return Newf(Allocation, format, args...)
}

// NewIoFailed wraps a backend I/O failure.
func NewIoFailed(message string, cause error) *Error {
	return Wrap(IoFailed, message, cause)
}
