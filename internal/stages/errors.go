package stages

import (
	"errors"
	"fmt"
)

// Common stage errors
var (
	// ErrNoPages is returned when the PDF page count cannot be determined.
	ErrNoPages = errors.New("cannot determine page count")

	// ErrErrorDataset is returned when a stage is fed an error dataset.
	ErrErrorDataset = errors.New("input is an error dataset")

	// ErrValidationFailed is returned by finalize in strict mode.
	ErrValidationFailed = errors.New("card validation failed")

	// ErrEmbeddingFailed is returned when the embedding backend fails.
	ErrEmbeddingFailed = errors.New("embedding failed")
)

// StageError wraps errors with the stage operation that failed.
type StageError struct {
	// Op is the operation that failed (e.g., "structural.Run").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

func (e *StageError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("stage: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("stage: %s failed: %v", e.Op, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func (e *StageError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStageError creates a new StageError.
func NewStageError(op string, err error, details string) *StageError {
	return &StageError{Op: op, Err: err, Details: details}
}

// WrapStageError wraps an error as a StageError if it isn't already one.
func WrapStageError(op string, err error, details string) error {
	if err == nil {
		return nil
	}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return err
	}
	return NewStageError(op, err, details)
}
