package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// InvalidURI indicates a document identifier that is not a file URI
	InvalidURI ErrorCode = "INVALID_URI"
	// FileNotFound indicates a file that is neither open nor on disk
	FileNotFound ErrorCode = "FILE_NOT_FOUND"
	// ContentUnavailable indicates a file that exists but could not be read
	ContentUnavailable ErrorCode = "CONTENT_UNAVAILABLE"
	// QueueFull indicates the background index queue is at capacity
	QueueFull ErrorCode = "QUEUE_FULL"
	// IndexerStopped indicates work submitted after shutdown
	IndexerStopped ErrorCode = "INDEXER_STOPPED"
	// StoreFailed indicates the persistent index store rejected an operation
	StoreFailed ErrorCode = "STORE_FAILED"
	// IndexLocked indicates another process holds the index lock
	IndexLocked ErrorCode = "INDEX_LOCKED"
	// ConfigInvalid indicates a configuration that failed validation
	ConfigInvalid ErrorCode = "CONFIG_INVALID"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// RscopeError is an error with a stable code.
type RscopeError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	cause   error
}

// NewRscopeError creates a new RscopeError
func NewRscopeError(code ErrorCode, message string, cause error) *RscopeError {
	return &RscopeError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Error implements the error interface
func (e *RscopeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *RscopeError) Unwrap() error {
	return e.cause
}

// Is matches any RscopeError with the same code.
func (e *RscopeError) Is(target error) bool {
	t, ok := target.(*RscopeError)
	return ok && t.Code == e.Code && t.Message == ""
}

// WithDetails adds details to the error
func (e *RscopeError) WithDetails(details interface{}) *RscopeError {
	e.Details = details
	return e
}

// Sentinel returns a bare error for use with errors.Is.
func Sentinel(code ErrorCode) error {
	return &RscopeError{Code: code}
}

// CodeOf extracts the code of the first RscopeError in err's chain.
func CodeOf(err error) ErrorCode {
	var re *RscopeError
	if stderrors.As(err, &re) {
		return re.Code
	}
	if err != nil {
		return InternalError
	}
	return ""
}
