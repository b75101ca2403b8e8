package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid delivery state transition")
)

// MalformedRecordError reports an ingest line that could not be split into
// the expected positional fields.
type MalformedRecordError struct {
	Line   int
	Reason string
}

func (e *MalformedRecordError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("malformed record at line %d: %s", e.Line, e.Reason)
}

// FormatError is raised when a stored message cannot be turned into a
// template invocation.
type FormatError struct {
	MessageID string
	Field     string
	Err       error
}

func (e *FormatError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return fmt.Sprintf("format error: message %s: invalid %s", e.MessageID, e.Field)
	}
	return fmt.Sprintf("format error: message %s: invalid %s: %v", e.MessageID, e.Field, e.Err)
}

func (e *FormatError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
