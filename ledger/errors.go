package ledger

import (
	"errors"
	"fmt"
)

// BackendCode classifies a failure of an external backend.
type BackendCode uint16

const (
	// CodeUnknown is an unclassified failure.
	CodeUnknown BackendCode = iota

	// CodeUnavailable means the backend could not be reached.
	CodeUnavailable

	// CodeTimeout means the backend did not answer in time.
	CodeTimeout

	// CodeResourceExhausted means the backend is rate limiting.
	CodeResourceExhausted

	// CodeNotFound means the requested object does not exist.
	CodeNotFound

	// CodeRejected means the backend refused the request.
	CodeRejected

	// CodeSigningFailed means a signature could not be produced.
	CodeSigningFailed
)

func (c BackendCode) String() string {
	switch c {
	case CodeUnavailable:
		return "Unavailable"

	case CodeTimeout:
		return "Timeout"

	case CodeResourceExhausted:
		return "ResourceExhausted"

	case CodeNotFound:
		return "NotFound"

	case CodeRejected:
		return "Rejected"

	case CodeSigningFailed:
		return "SigningFailed"

	default:
		return "Unknown"
	}
}

// BackendError wraps a failure of the ledger backend, the chain monitor or
// an output finder.
type BackendError struct {
	// Code classifies the failure.
	Code BackendCode

	// Op is the failed operation.
	Op string

	// Err is the underlying error.
	Err error
}

// NewBackendError wraps an error. Nil errors stay nil.
func NewBackendError(code BackendCode, op string, err error) error {
	if err == nil {
		return nil
	}

	return &BackendError{
		Code: code,
		Op:   op,
		Err:  err,
	}
}

// Error returns the error message.
func (e *BackendError) Error() string {
	return fmt.Sprintf("%v failed (code %d %v): %v", e.Op, e.Code, e.Code,
		e.Err)
}

// Unwrap returns the underlying error.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// Retryable returns true if the caller may retry the operation with backoff.
func (e *BackendError) Retryable() bool {
	switch e.Code {
	case CodeUnavailable, CodeTimeout, CodeResourceExhausted:
		return true

	default:
		return false
	}
}

// IsRetryable returns true if the error is a retryable backend error.
func IsRetryable(err error) bool {
	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return backendErr.Retryable()
	}

	return false
}
