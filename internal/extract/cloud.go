package extract

import (
	"context"
	"errors"

	"archivist/internal/ocr"
)

// CloudStrategy adapts a cloud OCR backend to the chain.
type CloudStrategy struct {
	rec ocr.PageRecognizer
}

// NewCloudStrategy wraps rec. The strategy takes the backend's name.
func NewCloudStrategy(rec ocr.PageRecognizer) *CloudStrategy {
	return &CloudStrategy{rec: rec}
}

func (s *CloudStrategy) Name() string { return s.rec.Name() }
func (s *CloudStrategy) OCR() bool    { return true }

func (s *CloudStrategy) Extract(ctx context.Context, doc *Document, page int) Outcome {
	data, err := doc.Bytes()
	if err != nil {
		return Failed(WrapExtractError(s.Name()+".Extract", err, doc.Path))
	}
	res, err := s.rec.RecognizePage(ctx, data, page)
	if err != nil {
		if errors.Is(err, ocr.ErrEmptyPage) {
			return Empty()
		}
		return Failed(err)
	}
	return TextWithConfidence(res.Text, res.Confidence)
}

// Close releases the backend client.
func (s *CloudStrategy) Close() error {
	return s.rec.Close()
}
