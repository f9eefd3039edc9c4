package dataset

import (
	"errors"
	"fmt"
	"strings"
)

// Common dataset errors
var (
	// ErrNotFound is returned when the dataset file does not exist.
	ErrNotFound = errors.New("dataset not found")

	// ErrFormat is returned when the begin/end markers or the footer are missing.
	ErrFormat = errors.New("invalid dataset format")

	// ErrManifestMismatch is returned when the footer hash does not match the body.
	ErrManifestMismatch = errors.New("manifest hash mismatch")

	// ErrValidation is returned when required-field validation fails.
	ErrValidation = errors.New("dataset validation failed")
)

// DatasetError wraps errors with the operation and file that failed.
type DatasetError struct {
	// Op is the operation that failed (e.g., "Load", "Save").
	Op string

	// Path is the dataset file involved.
	Path string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

func (e *DatasetError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("dataset: %s %s: %s: %v", e.Op, e.Path, e.Details, e.Err)
	}
	return fmt.Sprintf("dataset: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *DatasetError) Unwrap() error {
	return e.Err
}

func (e *DatasetError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewDatasetError creates a new DatasetError.
func NewDatasetError(op, path string, err error, details string) *DatasetError {
	return &DatasetError{Op: op, Path: path, Err: err, Details: details}
}

// WrapDatasetError wraps err unless it already is a DatasetError.
func WrapDatasetError(op, path string, err error, details string) error {
	if err == nil {
		return nil
	}
	var dsErr *DatasetError
	if errors.As(err, &dsErr) {
		return err
	}
	return NewDatasetError(op, path, err, details)
}

// ValidationError lists every structural problem found in a dataset.
type ValidationError struct {
	Stage    string
	Problems []string
}

func (e *ValidationError) Error() string {
	shown := e.Problems
	if len(shown) > 5 {
		shown = shown[:5]
	}
	msg := strings.Join(shown, "; ")
	if extra := len(e.Problems) - len(shown); extra > 0 {
		msg += fmt.Sprintf(" (+%d more)", extra)
	}
	if e.Stage != "" {
		return fmt.Sprintf("%s: stage %s: %s", ErrValidation, e.Stage, msg)
	}
	return fmt.Sprintf("%s: %s", ErrValidation, msg)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
