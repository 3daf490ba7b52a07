package jobs

import (
	"errors"
	"fmt"
)

// Sentinel errors for pipeline operations.
// These can be checked with errors.Is().
var (
	ErrPipelineClosed    = errors.New("pipeline is closed")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// UploadError is returned when the uploader reports failure or errors out.
type UploadError struct {
	TaskID     string
	RemoteName string
	Detail     string
	Err        error
}

func (e *UploadError) Error() string {
	msg := fmt.Sprintf("upload %s (task %s) failed", e.RemoteName, e.TaskID)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// CleanupError records a local file that could not be removed.
// It is logged and journaled but never fails the task.
type CleanupError struct {
	TaskID string
	Path   string
	Role   string // "input" or "output"
	Err    error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("remove %s file %s (task %s): %v", e.Role, e.Path, e.TaskID, e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}

func invalidTransitionError(id string, from, to State) error {
	return fmt.Errorf("%w: %s -> %s: %s", ErrInvalidTransition, from, to, id)
}
