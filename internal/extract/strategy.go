// Package extract turns PDF pages into text and tables through ordered
// fallback chains of extraction strategies.
//
// Native parsers run first. OCR engines are only invoked when the cheap
// native preview of a page is too short to be trusted. Every strategy call is
// wrapped in the retry policy; an empty result is final for that strategy,
// only failures are retried.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// MethodNone is the extraction method recorded when every strategy failed.
const MethodNone = "none"

// Kind tags an Outcome.
type Kind int

const (
	KindText Kind = iota
	KindEmpty
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindEmpty:
		return "empty"
	case KindFailed:
		return "failed"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Outcome is the tagged result of one strategy call.
type Outcome struct {
	Kind       Kind
	Text       string
	Confidence *float64
	Err        error
}

// Text returns a successful outcome. Whitespace-only text becomes Empty.
func Text(text string) Outcome {
	if isBlank(text) {
		return Empty()
	}
	return Outcome{Kind: KindText, Text: text}
}

// TextWithConfidence returns a successful OCR outcome with its mean word
// confidence in 0..1.
func TextWithConfidence(text string, confidence float64) Outcome {
	o := Text(text)
	if o.Kind == KindText {
		o.Confidence = &confidence
	}
	return o
}

// Empty means the strategy ran and found nothing.
func Empty() Outcome {
	return Outcome{Kind: KindEmpty}
}

// Failed wraps an error. The chain retries failed outcomes.
func Failed(err error) Outcome {
	return Outcome{Kind: KindFailed, Err: err}
}

// Strategy extracts the text of a single page.
type Strategy interface {
	Name() string
	// OCR reports whether the strategy is an OCR engine. OCR strategies are
	// never used for the preview.
	OCR() bool
	// Extract handles the 1-based page of doc.
	Extract(ctx context.Context, doc *Document, page int) Outcome
}

// Document is one PDF opened for extraction. Strategies cache parsed state
// on it through Resource; Close releases everything they opened.
type Document struct {
	Path string
	Name string
	Size int64

	data      []byte
	resources map[string]any
}

// OpenDocument checks that path is a readable regular file.
func OpenDocument(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, NewExtractError("OpenDocument", ErrDocumentNotFound, path)
		}
		return nil, NewExtractError("OpenDocument", err, path)
	}
	if info.IsDir() {
		return nil, NewExtractError("OpenDocument", ErrInvalidPDF, path+" is a directory")
	}
	return &Document{
		Path:      path,
		Name:      filepath.Base(path),
		Size:      info.Size(),
		resources: make(map[string]any),
	}, nil
}

// Bytes returns the file content, reading it once.
func (d *Document) Bytes() ([]byte, error) {
	if d.data == nil {
		data, err := os.ReadFile(d.Path)
		if err != nil {
			return nil, err
		}
		d.data = data
	}
	return d.data, nil
}

// Resource returns the cached value for key, creating it with open on first
// use. Failures are not cached.
func (d *Document) Resource(key string, open func() (any, error)) (any, error) {
	if d.resources == nil {
		d.resources = make(map[string]any)
	}
	if v, ok := d.resources[key]; ok {
		return v, nil
	}
	v, err := open()
	if err != nil {
		return nil, err
	}
	d.resources[key] = v
	return v, nil
}

// Close closes every cached resource that implements io.Closer.
func (d *Document) Close() error {
	var errs []error
	for key, v := range d.resources {
		if c, ok := v.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
		delete(d.resources, key)
	}
	d.data = nil
	return errors.Join(errs...)
}
