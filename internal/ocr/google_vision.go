package ocr

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/rs/zerolog"

	"archivist/internal/logger"
)

// VisionRecognizer implements PageRecognizer using Google Cloud Vision API.
type VisionRecognizer struct {
	client *vision.ImageAnnotatorClient
	log    zerolog.Logger
}

// NewVisionRecognizer creates a Vision client from creds, falling back to
// application default credentials.
func NewVisionRecognizer(ctx context.Context, creds Credentials) (*VisionRecognizer, error) {
	const op = "NewVisionRecognizer"

	opts := creds.options()
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		if len(opts) == 0 {
			return nil, WrapOCRError(op, ErrMissingCredentials, "no credentials found in environment")
		}
		return nil, WrapOCRError(op, err, "failed to create Vision client")
	}

	return &VisionRecognizer{
		client: client,
		log:    logger.WithComponent("ocr-vision"),
	}, nil
}

func (g *VisionRecognizer) Name() string { return "vision" }

// RecognizePage runs DOCUMENT_TEXT_DETECTION on the selected page.
func (g *VisionRecognizer) RecognizePage(ctx context.Context, pdf []byte, page int) (*PageText, error) {
	const op = "vision.RecognizePage"
	startTime := time.Now()

	if err := validatePDF(op, pdf, page); err != nil {
		return nil, err
	}

	req := &visionpb.BatchAnnotateFilesRequest{
		Requests: []*visionpb.AnnotateFileRequest{
			{
				InputConfig: &visionpb.InputConfig{
					Content:  pdf,
					MimeType: "application/pdf",
				},
				Features: []*visionpb.Feature{
					{
						Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION,
					},
				},
				Pages: []int32{int32(page)},
			},
		},
	}

	resp, err := g.client.BatchAnnotateFiles(ctx, req)
	if err != nil {
		return nil, classifyAPIError(op, "Vision API", err)
	}
	if len(resp.Responses) == 0 {
		return nil, WrapOCRError(op, ErrOCRFailed, "no response from Vision API")
	}

	fileResp := resp.Responses[0]
	if fileResp.Error != nil {
		return nil, WrapOCRError(op, ErrOCRFailed, fmt.Sprintf("Vision API error: %s", fileResp.Error.Message))
	}

	result, err := VisionPageText(fileResp)
	if err != nil {
		return nil, WrapOCRError(op, err, fmt.Sprintf("page %d", page))
	}
	result.ProcessingDuration = time.Since(startTime)

	g.log.Debug().
		Int("page", page).
		Float64("confidence", result.Confidence).
		Dur("duration", result.ProcessingDuration).
		Msg("Vision page recognised")
	return result, nil
}

// VisionPageText reads the text, mean word confidence and detected languages
// from a single-page Vision response.
func VisionPageText(fileResp *visionpb.AnnotateFileResponse) (*PageText, error) {
	if len(fileResp.GetResponses()) == 0 {
		return nil, ErrEmptyPage
	}

	var text strings.Builder
	var scores []float32
	languageSet := make(map[string]bool)

	for _, resp := range fileResp.Responses {
		if resp.Error != nil {
			return nil, fmt.Errorf("%w: %s", ErrOCRFailed, resp.Error.Message)
		}
		annotation := resp.FullTextAnnotation
		if annotation == nil {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n")
		}
		text.WriteString(annotation.Text)

		for _, p := range annotation.Pages {
			for _, lang := range p.GetProperty().GetDetectedLanguages() {
				if lang.LanguageCode != "" {
					languageSet[lang.LanguageCode] = true
				}
			}
			for _, block := range p.Blocks {
				for _, paragraph := range block.Paragraphs {
					for _, word := range paragraph.Words {
						if word.Confidence > 0 {
							scores = append(scores, word.Confidence)
						}
					}
				}
			}
		}
	}

	if strings.TrimSpace(text.String()) == "" {
		return nil, ErrEmptyPage
	}

	languages := make([]string, 0, len(languageSet))
	for lang := range languageSet {
		languages = append(languages, lang)
	}
	sort.Strings(languages)

	return &PageText{
		Text:          text.String(),
		Confidence:    meanConfidence(scores),
		LanguageCodes: languages,
	}, nil
}

// Close closes the underlying Vision client.
func (g *VisionRecognizer) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
