// Package errors provides structured error handling for nebula-sync.
//
// Every error raised by the engine carries an ErrorType and a retryable flag so
// the scheduler that owns job-level retries can decide what to do without
// parsing messages.
package errors

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/hashicorp/go-multierror"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents missing or malformed configuration detected before any I/O
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfig represents configuration loading errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeConnection represents unreachable hosts and failed handshakes
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeAuthentication represents rejected credentials
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypePermission represents permission errors
	ErrorTypePermission ErrorType = "permission"
	// ErrorTypeRateLimit represents provider throttling (HTTP 429 and friends)
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeUnavailable represents 5xx responses from a provider
	ErrorTypeUnavailable ErrorType = "unavailable"
	// ErrorTypePartialStream represents a stream that was skipped after exhausting retries
	ErrorTypePartialStream ErrorType = "partial_stream"
	// ErrorTypeSchemaConflict represents a batch whose schema is incompatible with the established one
	ErrorTypeSchemaConflict ErrorType = "schema_conflict"
	// ErrorTypeTransfer represents a destination write failure
	ErrorTypeTransfer ErrorType = "transfer"
	// ErrorTypeUnknownConnector represents a connector or destination type with no factory
	ErrorTypeUnknownConnector ErrorType = "unknown_connector"
	// ErrorTypeAlreadyRunning represents a second concurrent run on the same runner
	ErrorTypeAlreadyRunning ErrorType = "already_running"
	// ErrorTypeCancelled represents a cooperative cancellation
	ErrorTypeCancelled ErrorType = "cancelled"
	// ErrorTypeNotFound represents resource not found errors
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeData represents data processing errors
	ErrorTypeData ErrorType = "data"
	// ErrorTypeQuery represents query execution errors
	ErrorTypeQuery ErrorType = "query"
	// ErrorTypeFile represents file operation errors
	ErrorTypeFile ErrorType = "file"
)

// retryableTypes lists the error types a scheduler may retry by default.
var retryableTypes = map[ErrorType]bool{
	ErrorTypeConnection:     true,
	ErrorTypeRateLimit:      true,
	ErrorTypeTimeout:        true,
	ErrorTypeUnavailable:    true,
	ErrorTypePartialStream:  true,
	ErrorTypeTransfer:       true,
	ErrorTypeAlreadyRunning: true,
}

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame

	// retryable overrides the default derived from Type when set
	retryable *bool
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithRetryable overrides the retryable flag derived from the error type.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.retryable = &retryable
	return e
}

// Retryable reports whether a scheduler may retry the failed operation.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return retryableTypes[e.Type]
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsRetryable returns true if the outermost structured error is retryable
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Retryable()
}

// IsType checks if any structured error in the chain is of the given type
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// TypeOf returns the type of the outermost structured error, or ErrorTypeInternal.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

// Is forwards to the standard library.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As forwards to the standard library.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Append collects errors into a multierror list. Nil errors are ignored.
func Append(list error, errs ...error) error {
	var merr *multierror.Error
	if list != nil {
		merr = multierror.Append(merr, list)
	}
	for _, err := range errs {
		if err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}

// Flatten returns the individual errors of a multierror list.
func Flatten(err error) []error {
	if err == nil {
		return nil
	}
	var merr *multierror.Error
	if errors.As(err, &merr) {
		return merr.WrappedErrors()
	}
	return []error{err}
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
