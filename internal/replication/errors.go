package replication

import (
	"errors"
	"fmt"
)

// ErrCanceled is returned by waits that end because the replication was
// canceled.
var ErrCanceled = errors.New("replication canceled")

// ErrorCode categorizes replication errors.
type ErrorCode string

const (
	// ErrCodeFetch indicates reading the source change feed failed.
	ErrCodeFetch ErrorCode = "FETCH_FAILED"

	// ErrCodeWrite indicates a destination or metadata write failed with a
	// non-conflict error.
	ErrCodeWrite ErrorCode = "WRITE_FAILED"

	// ErrCodeCheckpoint indicates a checkpoint could not be read or written.
	ErrCodeCheckpoint ErrorCode = "CHECKPOINT_FAILED"

	// ErrCodeConflictHandler indicates the conflict handler returned an error.
	ErrCodeConflictHandler ErrorCode = "CONFLICT_HANDLER_FAILED"
)

// Error is an iteration failure reported on State.Errors. The loop that
// produced it retries after a backoff.
type Error struct {
	Code      ErrorCode
	Direction Direction
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Code, e.Direction, e.Message, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Direction, e.Message)
}

// Unwrap returns the underlying storage error.
func (e *Error) Unwrap() error { return e.Err }

func newError(code ErrorCode, direction Direction, message string, err error) *Error {
	return &Error{Code: code, Direction: direction, Message: message, Err: err}
}

// IsCheckpointError returns true if err is a checkpoint failure.
// Uses errors.As to handle wrapped errors.
func IsCheckpointError(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Code == ErrCodeCheckpoint
	}
	return false
}

// CodeOf returns the replication error code of err, or "" when err is not
// a replication error.
func CodeOf(err error) ErrorCode {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}
