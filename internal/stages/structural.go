package stages

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"archivist/internal/dataset"
	"archivist/internal/extract"
	"archivist/internal/logger"
)

// emptyPageChars is the length under which a page counts as empty in the
// structural audit.
const emptyPageChars = 50

// PageExtractor extracts the text of one page.
type PageExtractor interface {
	ExtractPage(ctx context.Context, doc *extract.Document, page int) (*extract.PageResult, error)
}

// TableExtractor extracts the tables of one page.
type TableExtractor interface {
	ExtractTables(ctx context.Context, doc *extract.Document, page int) ([]dataset.Table, error)
}

// StructuralStage turns a PDF into one card per page.
type StructuralStage struct {
	env    Env
	text   PageExtractor
	tables TableExtractor
	chain  []string

	// ReadMetadata reads document info and the page count.
	ReadMetadata func(doc *extract.Document) (*extract.Metadata, error)

	log zerolog.Logger
}

// NewStructuralStage creates the structural stage. tables may be nil.
func NewStructuralStage(env Env, text PageExtractor, tables TableExtractor) *StructuralStage {
	s := &StructuralStage{
		env:          env,
		text:         text,
		tables:       tables,
		ReadMetadata: extract.ReadMetadata,
		log:          logger.WithComponent("structural"),
	}
	if c, ok := text.(*extract.Chain); ok {
		s.chain = c.Names()
	}
	return s
}

// NewStructuralStageFromExtractors wires the configured extraction chains.
func NewStructuralStageFromExtractors(env Env, ex *extract.Extractors) *StructuralStage {
	var tables TableExtractor
	if ex.Tables != nil {
		tables = ex.Tables
	}
	return NewStructuralStage(env, ex.Text, tables)
}

func (s *StructuralStage) Name() string { return Structural }

// Run extracts every page of req.Input. When the document cannot be read at
// all an error dataset is written next to the regular output and the error
// is returned. Page-level failures never fail the stage.
func (s *StructuralStage) Run(ctx context.Context, req Request) (*Output, error) {
	const op = "structural.Run"
	log := s.log.With().Str("book", req.Book).Logger()

	doc, err := extract.OpenDocument(req.Input)
	if err != nil {
		return nil, s.fail(op, req, err)
	}
	defer doc.Close()

	meta, err := s.ReadMetadata(doc)
	if err != nil {
		return nil, s.fail(op, req, err)
	}
	if meta.PageCount == 0 {
		return nil, s.fail(op, req, ErrNoPages)
	}

	log.Info().
		Str("file", doc.Name).
		Int("pages", meta.PageCount).
		Strs("chain", s.chain).
		Msg("Structural extraction started")

	cards := make([]*dataset.Card, 0, meta.PageCount)
	stats := newExtractionStats()
	for page := 1; page <= meta.PageCount; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		card, err := s.extractPage(ctx, doc, page, stats)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)

		if page%25 == 0 {
			log.Info().Int("page", page).Int("pages", meta.PageCount).Msg("Extraction progress")
		}
	}

	ds := &dataset.Dataset{
		Header: s.header(req, doc, meta),
		Cards:  cards,
		Audit:  stats.audit(cards),
	}
	path, err := s.env.save(op, dataset.StageStructural, req.Book, ds)
	if err != nil {
		return nil, err
	}

	log.Info().
		Int("cards", len(cards)).
		Int("failed", stats.failed).
		Int("ocr", stats.ocrUsed).
		Int("tables", stats.tables).
		Str("path", path).
		Msg("Structural extraction finished")

	return &Output{Path: path, Metrics: stats.metrics(len(cards))}, nil
}

func (s *StructuralStage) extractPage(ctx context.Context, doc *extract.Document, page int, stats *extractionStats) (*dataset.Card, error) {
	res, err := s.text.ExtractPage(ctx, doc, page)
	if err != nil {
		return nil, err
	}

	card := &dataset.Card{
		SegmentID:        dataset.SegmentIDForPage(page),
		PageNum:          page,
		Segment:          res.Text,
		SourceFile:       doc.Name,
		ExtractionMethod: res.Method,
		OCRUsed:          res.OCRUsed,
		Error:            res.Error,
	}
	if res.OCRUsed && res.Confidence != nil {
		card.SetConfidence(*res.Confidence)
	}
	stats.add(res)

	if s.tables != nil && !res.Error {
		tables, err := s.tables.ExtractTables(ctx, doc, page)
		if err != nil {
			return nil, err
		}
		if len(tables) > 0 {
			card.HasTable = true
			card.TableCount = len(tables)
			card.Tables = tables
			stats.tables += len(tables)
		}
	}
	return card, nil
}

func (s *StructuralStage) header(req Request, doc *extract.Document, meta *extract.Metadata) dataset.Record {
	h := dataset.Record{
		"source": map[string]any{
			"title":     meta.Title,
			"author":    meta.Author,
			"file_name": doc.Name,
			"file_size": doc.Size,
			"pages":     meta.PageCount,
		},
		"book":               req.Book,
		"title":              meta.Title,
		"source_file":        doc.Name,
		"pdf_sha256":         meta.SHA256,
		"dataset_created_at": dataset.Timestamp(s.env.now()),
	}
	if len(s.chain) > 0 {
		h["extraction_chain"] = s.chain
	}
	return h
}

// fail writes the error dataset and returns the stage error. Context
// cancellation is returned as is.
func (s *StructuralStage) fail(op string, req Request, cause error) error {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return cause
	}

	name := filepath.Base(req.Input)
	ds := &dataset.Dataset{
		Header: dataset.Record{
			"book":        req.Book,
			"title":       req.Book,
			"source_file": name,
			"total_cards": 0,
			"error":       cause.Error(),
			"stage":       dataset.StageStructural,
		},
		Audit: dataset.Record{"error": cause.Error()},
	}
	path := s.env.Layout.ErrorDatasetPath(req.Book)
	if err := s.env.Store.Save(path, ds, dataset.SaveOptions{}); err != nil {
		s.log.Error().Err(err).Str("path", path).Msg("Failed to write error dataset")
	} else {
		s.log.Error().
			Str("book", req.Book).
			Err(cause).
			Str("path", path).
			Msg("Error dataset written")
	}
	return NewStageError(op, cause, req.Input)
}

type extractionStats struct {
	success    int
	failed     int
	ocrUsed    int
	confidence []float64
	methods    map[string]int
	tables     int
}

func newExtractionStats() *extractionStats {
	return &extractionStats{methods: make(map[string]int)}
}

func (st *extractionStats) add(res *extract.PageResult) {
	st.methods[res.Method]++
	if res.Error {
		st.failed++
		return
	}
	st.success++
	if res.OCRUsed {
		st.ocrUsed++
		if res.Confidence != nil {
			st.confidence = append(st.confidence, *res.Confidence)
		}
	}
}

func (st *extractionStats) avgConfidence() float64 {
	if len(st.confidence) == 0 {
		return 0
	}
	var sum float64
	for _, c := range st.confidence {
		sum += c
	}
	return dataset.Round3(sum / float64(len(st.confidence)))
}

func (st *extractionStats) audit(cards []*dataset.Card) dataset.Record {
	empty, errorPages := 0, 0
	for _, c := range cards {
		if utf8.RuneCountInString(strings.TrimSpace(c.Segment)) < emptyPageChars {
			empty++
		}
		if c.Error {
			errorPages++
		}
	}
	return dataset.Record{
		"total_cards":        len(cards),
		"success_pages":      st.success,
		"failed_pages":       st.failed,
		"empty_pages":        empty,
		"error_pages":        errorPages,
		"extraction_methods": st.methods,
		"ocr_used_count":     st.ocrUsed,
		"ocr_avg_confidence": st.avgConfidence(),
		"tables_extracted":   st.tables,
		"stage":              dataset.StageStructural,
	}
}

func (st *extractionStats) metrics(pages int) map[string]any {
	m := map[string]any{
		"pages":              pages,
		"success_pages":      st.success,
		"failed_pages":       st.failed,
		"ocr_used_count":     st.ocrUsed,
		"ocr_avg_confidence": st.avgConfidence(),
		"tables_extracted":   st.tables,
	}
	if pages > 0 {
		m["success_ratio"] = dataset.Round3(float64(st.success) / float64(pages))
		m["ocr_ratio"] = dataset.Round3(float64(st.ocrUsed) / float64(pages))
	}
	return m
}
