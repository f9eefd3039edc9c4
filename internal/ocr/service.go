// Package ocr provides single-page cloud OCR backends for scanned PDFs.
//
// Two Google Cloud backends are available: Cloud Vision document text
// detection and a Document AI OCR processor. Both send the whole PDF inline
// and select one page, so a page can be recognised without rendering it
// locally.
//
// Required Environment Variables:
//   - GOOGLE_APPLICATION_CREDENTIALS: Path to service account JSON file, OR
//   - GOOGLE_CREDENTIALS: Inline JSON credentials string
//   - GOOGLE_CLOUD_PROJECT: Google Cloud project ID (Document AI only)
//   - DOCUMENT_AI_PROCESSOR_ID: OCR processor ID (Document AI only)
//
// API Limitations:
//   - Maximum inline file size: 20MB
//   - Vision processes at most 5 selected pages per synchronous request; one
//     page is always requested here
package ocr

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/option"
)

const (
	// MaxFileSizeBytes is the maximum inline file size (20MB)
	MaxFileSizeBytes = 20 * 1024 * 1024
)

// PageRecognizer recognises the text of one page of a PDF.
type PageRecognizer interface {
	// Name identifies the backend in extraction provenance.
	Name() string

	// RecognizePage returns the text of the 1-based page of pdf.
	RecognizePage(ctx context.Context, pdf []byte, page int) (*PageText, error)

	// Close releases the API client.
	Close() error
}

// PageText is the OCR result for one page.
type PageText struct {
	// Text is the page text in reading order.
	Text string `json:"text"`

	// Confidence is the mean word confidence (0.0 to 1.0).
	Confidence float64 `json:"confidence"`

	// LanguageCodes contains the detected languages on the page.
	LanguageCodes []string `json:"language_codes,omitempty"`

	// ProcessingDuration is how long the API call took.
	ProcessingDuration time.Duration `json:"processing_duration"`
}

// Credentials selects how Google clients authenticate. Inline JSON wins over
// the file; with neither, application default credentials are tried.
type Credentials struct {
	JSON string
	File string
}

func (c Credentials) options() []option.ClientOption {
	switch {
	case c.JSON != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(c.JSON))}
	case c.File != "":
		return []option.ClientOption{option.WithCredentialsFile(c.File)}
	}
	return nil
}

func validatePDF(op string, pdf []byte, page int) error {
	if len(pdf) > MaxFileSizeBytes {
		return WrapOCRError(op, ErrPDFTooLarge, fmt.Sprintf("file size: %d bytes", len(pdf)))
	}
	if len(pdf) < 4 || string(pdf[:4]) != "%PDF" {
		return WrapOCRError(op, ErrInvalidPDF, "missing PDF header")
	}
	if page < 1 {
		return WrapOCRError(op, ErrInvalidPDF, fmt.Sprintf("invalid page %d", page))
	}
	return nil
}

// meanConfidence averages scores, returning 0 for none.
func meanConfidence(scores []float32) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += float64(s)
	}
	return sum / float64(len(scores))
}
