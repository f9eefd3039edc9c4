package extract

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"archivist/internal/config"
	"archivist/internal/logger"
	"archivist/internal/ocr"
	"archivist/internal/retry"
)

// Extractors bundles the text and table chains built from configuration.
type Extractors struct {
	Text    *Chain
	Tables  *TableChain
	closers []io.Closer
}

// Close releases cloud OCR clients.
func (e *Extractors) Close() error {
	var errs []error
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// BuildOptions carries the process environment and test hooks.
type BuildOptions struct {
	// Env supplies cloud credentials. Nil disables cloud engines.
	Env *config.Config

	// Runner executes pdftoppm and tesseract. Nil uses os/exec and checks
	// that the binaries are installed.
	Runner Runner

	// Recognizers overrides cloud backends by engine name.
	Recognizers map[string]ocr.PageRecognizer
}

// NewExtractors assembles the chains described by cfg. Native strategies run
// in configured order followed by the OCR engines. Unknown native names are
// an error; OCR engines that cannot be set up are skipped with a warning.
func NewExtractors(ctx context.Context, cfg config.StructuralConfig, opts BuildOptions) (*Extractors, error) {
	const op = "NewExtractors"
	log := logger.WithComponent("extract")
	ex := &Extractors{}

	var strategies []Strategy
	for _, name := range cfg.Text.Native {
		s, err := nativeStrategy(name)
		if err != nil {
			return nil, NewExtractError(op, err, name)
		}
		strategies = append(strategies, s)
	}

	if cfg.Text.OCR.Enabled {
		for _, name := range cfg.Text.OCR.Engines {
			s, closer, err := ocrStrategy(ctx, name, cfg.Text.OCR, opts)
			if err != nil {
				log.Warn().Str("engine", name).Err(err).Msg("OCR engine unavailable, skipping")
				continue
			}
			strategies = append(strategies, s)
			if closer != nil {
				ex.closers = append(ex.closers, closer)
			}
		}
	}

	policy := retry.FromConfig(cfg.Retry)
	chain, err := NewChain(strategies,
		WithRetry(policy),
		WithClassifier(BlankClassifierFromConfig(cfg.Text.Blank)),
		WithMinValidChars(cfg.Text.MinValidChars),
	)
	if err != nil {
		ex.Close()
		return nil, err
	}
	ex.Text = chain

	tables := []TableStrategy{
		NewGlyphTableStrategy(cfg.Tables.RowTolerance, cfg.Tables.ColumnGap, cfg.Tables.MinCols),
	}
	ex.Tables = NewTableChain(tables, cfg.Tables, policy)

	logChain(log, chain)
	return ex, nil
}

func logChain(log zerolog.Logger, c *Chain) {
	log.Info().Str("chain", c.Describe()).Msg("Text extraction chain ready")
}

func nativeStrategy(name string) (Strategy, error) {
	switch name {
	case "pdftext":
		return NewPdftextStrategy(), nil
	case "pdfcpu":
		return NewPdfcpuStrategy(), nil
	}
	return nil, fmt.Errorf("unknown native strategy %q", name)
}

func ocrStrategy(ctx context.Context, name string, cfg config.OCRConfig, opts BuildOptions) (Strategy, io.Closer, error) {
	if rec, ok := opts.Recognizers[name]; ok {
		s := NewCloudStrategy(rec)
		return s, s, nil
	}

	switch name {
	case "tesseract":
		tc := TesseractConfig{
			Pdftoppm:  cfg.Pdftoppm,
			Tesseract: cfg.Tesseract,
			Language:  cfg.Language,
			DPI:       cfg.DPI,
			Timeout:   cfg.Timeout,
		}
		if opts.Runner == nil {
			s := NewTesseractStrategy(tc, nil)
			if err := TesseractAvailable(s.cfg); err != nil {
				return nil, nil, err
			}
			return s, nil, nil
		}
		return NewTesseractStrategy(tc, opts.Runner), nil, nil

	case "vision", "docai":
		env := opts.Env
		if env == nil || !env.HasGoogleCredentials() {
			return nil, nil, ocr.ErrMissingCredentials
		}
		creds := ocr.Credentials{JSON: env.GoogleCredentialsJSON, File: env.GoogleCredentialsFile}

		var rec ocr.PageRecognizer
		var err error
		if name == "vision" {
			rec, err = ocr.NewVisionRecognizer(ctx, creds)
		} else {
			rec, err = ocr.NewDocumentAIRecognizer(ctx, ocr.DocumentAIConfig{
				ProjectID:   env.GoogleCloudProject,
				Location:    env.GoogleCloudLocation,
				ProcessorID: env.DocumentAIProcessorID,
				Timeout:     cfg.Timeout,
			}, creds)
		}
		if err != nil {
			return nil, nil, err
		}
		s := NewCloudStrategy(rec)
		return s, s, nil
	}
	return nil, nil, fmt.Errorf("unknown OCR engine %q", name)
}
