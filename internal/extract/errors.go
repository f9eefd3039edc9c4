package extract

import (
	"errors"
	"fmt"
)

// Common extraction errors
var (
	// ErrDocumentNotFound is returned when the PDF does not exist.
	ErrDocumentNotFound = errors.New("PDF file not found")

	// ErrInvalidPDF is returned when the file cannot be parsed as a PDF.
	ErrInvalidPDF = errors.New("invalid or corrupted PDF document")

	// ErrPageOutOfRange is returned for a page number outside the document.
	ErrPageOutOfRange = errors.New("page number out of range")

	// ErrNoStrategies is returned when a chain is built without strategies.
	ErrNoStrategies = errors.New("no extraction strategies configured")

	// ErrToolMissing is returned when an external OCR binary is not installed.
	ErrToolMissing = errors.New("external tool not available")

	// ErrExtractionFailed marks a page for which every strategy was exhausted.
	ErrExtractionFailed = errors.New("all extraction strategies failed")
)

// ExtractError wraps errors with the operation that failed.
type ExtractError struct {
	// Op is the operation that failed (e.g., "ExtractPage", "PageCount").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

func (e *ExtractError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("extract: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("extract: %s failed: %v", e.Op, e.Err)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

func (e *ExtractError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExtractError creates a new ExtractError.
func NewExtractError(op string, err error, details string) *ExtractError {
	return &ExtractError{Op: op, Err: err, Details: details}
}

// WrapExtractError wraps an error as an ExtractError if it isn't already one.
func WrapExtractError(op string, err error, details string) error {
	if err == nil {
		return nil
	}
	var extErr *ExtractError
	if errors.As(err, &extErr) {
		return err
	}
	return NewExtractError(op, err, details)
}
