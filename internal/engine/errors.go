package engine

import (
	"errors"
	"fmt"
)

// RunError represents an error that aborted a dispatcher run.
//
// Run errors include:
//   - Task failure: a record write returned an unexpected error
//   - Source failure: the input stream could not be read
//   - Sink failure: the output stream could not be written
//
// Expected remote failures never surface as RunError; they are forwarded
// as log messages.
type RunError struct {
	// Code identifies the error category.
	Code RunErrorCode

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause.
	Err error
}

// RunErrorCode categorizes run errors.
type RunErrorCode string

const (
	// ErrCodeTaskFailed indicates a record write failed unexpectedly.
	ErrCodeTaskFailed RunErrorCode = "TASK_FAILED"

	// ErrCodeSourceFailed indicates the input stream failed.
	ErrCodeSourceFailed RunErrorCode = "SOURCE_FAILED"

	// ErrCodeSinkFailed indicates the output stream failed.
	ErrCodeSinkFailed RunErrorCode = "SINK_FAILED"
)

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *RunError) Unwrap() error {
	return e.Err
}

// IsTaskError returns true if the run aborted because a record write failed.
// Uses errors.As to handle wrapped errors.
func IsTaskError(err error) bool {
	return hasCode(err, ErrCodeTaskFailed)
}

// IsSourceError returns true if the run aborted on an input failure.
func IsSourceError(err error) bool {
	return hasCode(err, ErrCodeSourceFailed)
}

// IsSinkError returns true if the run aborted on an output failure.
func IsSinkError(err error) bool {
	return hasCode(err, ErrCodeSinkFailed)
}

func hasCode(err error, code RunErrorCode) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}
