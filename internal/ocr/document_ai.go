package ocr

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"archivist/internal/logger"
)

// DocumentAIConfig holds the Document AI processor settings.
type DocumentAIConfig struct {
	ProjectID        string
	Location         string
	ProcessorID      string
	ProcessorVersion string
	Timeout          time.Duration
}

// DocumentAIRecognizer implements PageRecognizer using a Document AI OCR processor.
type DocumentAIRecognizer struct {
	client *documentai.DocumentProcessorClient
	config DocumentAIConfig
	log    zerolog.Logger
}

// NewDocumentAIRecognizer creates a processor client for cfg.
// Requires: ProjectID and ProcessorID. Location defaults to "us".
func NewDocumentAIRecognizer(ctx context.Context, cfg DocumentAIConfig, creds Credentials) (*DocumentAIRecognizer, error) {
	const op = "NewDocumentAIRecognizer"

	if cfg.ProjectID == "" {
		return nil, WrapOCRError(op, ErrInvalidConfiguration, "GOOGLE_CLOUD_PROJECT is required")
	}
	if cfg.ProcessorID == "" {
		return nil, WrapOCRError(op, ErrInvalidConfiguration, "DOCUMENT_AI_PROCESSOR_ID is required")
	}
	if cfg.Location == "" {
		cfg.Location = "us"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	var clientOptions []option.ClientOption
	if cfg.Location != "us" {
		endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.Location)
		clientOptions = append(clientOptions, option.WithEndpoint(endpoint))
	}
	credOptions := creds.options()
	clientOptions = append(clientOptions, credOptions...)

	client, err := documentai.NewDocumentProcessorClient(ctx, clientOptions...)
	if err != nil {
		if len(credOptions) == 0 {
			return nil, WrapOCRError(op, ErrMissingCredentials, "no credentials found in environment")
		}
		return nil, WrapOCRError(op, err, fmt.Sprintf("failed to create Document AI client for location: %s", cfg.Location))
	}

	return &DocumentAIRecognizer{
		client: client,
		config: cfg,
		log:    logger.WithComponent("ocr-docai"),
	}, nil
}

func (p *DocumentAIRecognizer) Name() string { return "docai" }

// RecognizePage processes only the selected page of pdf.
func (p *DocumentAIRecognizer) RecognizePage(ctx context.Context, pdf []byte, page int) (*PageText, error) {
	const op = "docai.RecognizePage"
	startTime := time.Now()

	if err := validatePDF(op, pdf, page); err != nil {
		return nil, err
	}

	processCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	req := &documentaipb.ProcessRequest{
		Name: p.ProcessorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  pdf,
				MimeType: "application/pdf",
			},
		},
		ProcessOptions: &documentaipb.ProcessOptions{
			PageRange: &documentaipb.ProcessOptions_IndividualPageSelector_{
				IndividualPageSelector: &documentaipb.ProcessOptions_IndividualPageSelector{
					Pages: []int32{int32(page)},
				},
			},
		},
	}

	resp, err := p.client.ProcessDocument(processCtx, req)
	if err != nil {
		return nil, classifyAPIError(op, "Document AI", err)
	}

	result, err := DocumentPageText(resp.GetDocument())
	if err != nil {
		return nil, WrapOCRError(op, err, fmt.Sprintf("page %d", page))
	}
	result.ProcessingDuration = time.Since(startTime)

	p.log.Debug().
		Int("page", page).
		Float64("confidence", result.Confidence).
		Dur("duration", result.ProcessingDuration).
		Msg("Document AI page recognised")
	return result, nil
}

// ProcessorName constructs the full processor resource name.
func (p *DocumentAIRecognizer) ProcessorName() string {
	if p.config.ProcessorVersion != "" {
		return fmt.Sprintf("projects/%s/locations/%s/processors/%s/processorVersions/%s",
			p.config.ProjectID, p.config.Location, p.config.ProcessorID, p.config.ProcessorVersion)
	}
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		p.config.ProjectID, p.config.Location, p.config.ProcessorID)
}

// DocumentPageText reads the text and mean token confidence of a processed
// document.
func DocumentPageText(doc *documentaipb.Document) (*PageText, error) {
	if doc == nil || strings.TrimSpace(doc.Text) == "" {
		return nil, ErrEmptyPage
	}

	var scores []float32
	languageSet := make(map[string]bool)
	for _, page := range doc.Pages {
		for _, token := range page.Tokens {
			if c := token.GetLayout().GetConfidence(); c > 0 {
				scores = append(scores, c)
			}
		}
		for _, lang := range page.DetectedLanguages {
			if lang.LanguageCode != "" {
				languageSet[lang.LanguageCode] = true
			}
		}
	}

	var languages []string
	for lang := range languageSet {
		languages = append(languages, lang)
	}
	sort.Strings(languages)

	return &PageText{
		Text:          doc.Text,
		Confidence:    meanConfidence(scores),
		LanguageCodes: languages,
	}, nil
}

// Close closes the underlying Document AI client.
func (p *DocumentAIRecognizer) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
