package stages

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"archivist/internal/config"
	"archivist/internal/dataset"
	"archivist/internal/logger"
)

var (
	finalRequired = []string{"segment_id", "segment", "page_num", "source_file"}
	finalExpected = []string{"chapter_num", "chapter_title", "section_num", "section_title",
		"l1_summary", "l2_summary", "prev_page", "next_page"}
	stringFields = []string{"l1_summary", "l2_summary", "chapter_num", "chapter_title", "section_num", "section_title"}
	boolFields   = []string{"is_duplicate"}
)

const (
	maxReportedErrors   = 10
	maxReportedWarnings = 20
)

// InvalidCard lists the problems of one card.
type InvalidCard struct {
	Index     int      `json:"index"`
	SegmentID string   `json:"segment_id"`
	Errors    []string `json:"errors"`
}

// ValidationReport is the finalize validation outcome.
type ValidationReport struct {
	Valid        bool          `json:"valid"`
	ErrorCount   int           `json:"error_count"`
	WarningCount int           `json:"warning_count"`
	Errors       []string      `json:"errors"`
	Warnings     []string      `json:"warnings"`
	InvalidCards []InvalidCard `json:"invalid_cards"`
}

// CardValidator checks final cards. In strict mode card problems are errors,
// otherwise warnings.
type CardValidator struct {
	Strict           bool
	MinSegmentLength int
	Schema           bool
}

// ValidateCard returns the problems of one card.
func (v CardValidator) ValidateCard(c *dataset.Card) []string {
	var problems []string
	for _, field := range finalRequired {
		if !c.Has(field) {
			problems = append(problems, "missing required field: "+field)
		}
	}
	if c.SegmentID == "" {
		problems = append(problems, "empty segment_id")
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(c.Segment)); n < v.MinSegmentLength {
		problems = append(problems, fmt.Sprintf("segment too short: %d chars", n))
	}
	if v.Schema {
		if err := dataset.ValidateCardSchema(c); err != nil {
			problems = append(problems, err.Error())
		}
	}
	return problems
}

// Validate checks every card, duplicate ids and expected fields.
func (v CardValidator) Validate(cards []*dataset.Card) ValidationReport {
	var errs, warnings []string
	report := ValidationReport{InvalidCards: []InvalidCard{}}

	seen := make(map[string]bool, len(cards))
	for i, c := range cards {
		problems := v.ValidateCard(c)
		if seen[c.SegmentID] {
			problems = append(problems, "duplicate segment_id: "+c.SegmentID)
		}
		seen[c.SegmentID] = true

		if len(problems) > 0 {
			for _, p := range problems {
				msg := fmt.Sprintf("card %d: %s", i, p)
				if v.Strict {
					errs = append(errs, msg)
				} else {
					warnings = append(warnings, msg)
				}
			}
			report.InvalidCards = append(report.InvalidCards, InvalidCard{Index: i, SegmentID: c.SegmentID, Errors: problems})
		}

		for _, field := range finalExpected {
			if !c.Has(field) {
				warnings = append(warnings, fmt.Sprintf("card %d: missing expected field: %s", i, field))
			}
		}
	}

	report.Valid = len(errs) == 0
	report.ErrorCount = len(errs)
	report.WarningCount = len(warnings)
	report.Errors = head(errs, maxReportedErrors)
	report.Warnings = head(warnings, maxReportedWarnings)
	return report
}

func head(s []string, n int) []string {
	if s == nil {
		return []string{}
	}
	return s[:min(n, len(s))]
}

// NormalizeCard coerces known extra fields to their expected types. Nothing
// is removed.
func NormalizeCard(c *dataset.Card) {
	for _, field := range stringFields {
		v, ok := c.Get(field)
		if !ok || v == nil {
			continue
		}
		if _, isString := v.(string); !isString {
			c.Set(field, fmt.Sprint(v))
		}
	}
	for _, field := range boolFields {
		v, ok := c.Get(field)
		if !ok {
			continue
		}
		if _, isBool := v.(bool); !isBool {
			c.Set(field, truthy(v))
		}
	}
	if !c.Has("l1_summary") {
		c.Set("l1_summary", "")
	}
	if !c.Has("l2_summary") {
		c.Set("l2_summary", "")
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	}
	return true
}

// FinalizeStage validates and normalises the extended dataset.
type FinalizeStage struct {
	env       Env
	validator CardValidator
	log       zerolog.Logger
}

func NewFinalizeStage(env Env, cfg config.FinalizeConfig) *FinalizeStage {
	return &FinalizeStage{
		env: env,
		validator: CardValidator{
			Strict:           cfg.StrictMode,
			MinSegmentLength: cfg.MinSegmentLength,
			Schema:           cfg.SchemaValidation,
		},
		log: logger.WithComponent("finalize"),
	}
}

func (s *FinalizeStage) Name() string { return Finalize }

// Run fails with ErrValidationFailed in strict mode when any card is
// invalid; nothing is written in that case.
func (s *FinalizeStage) Run(ctx context.Context, req Request) (*Output, error) {
	const op = "finalize.Run"

	ds, err := s.env.load(op, req.Input)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := s.validator.Validate(ds.Cards)
	if !report.Valid {
		s.log.Error().
			Str("book", req.Book).
			Int("errors", report.ErrorCount).
			Strs("first_errors", report.Errors).
			Msg("Validation failed in strict mode")
		return nil, NewStageError(op, ErrValidationFailed, fmt.Sprintf("%d errors", report.ErrorCount))
	}
	if report.WarningCount > 0 {
		s.log.Warn().
			Str("book", req.Book).
			Int("warnings", report.WarningCount).
			Int("invalid_cards", len(report.InvalidCards)).
			Msg("Dataset has validation warnings")
	}

	for _, c := range ds.Cards {
		NormalizeCard(c)
	}

	ds.Header["finalized_at"] = dataset.Timestamp(s.env.now())
	ds.Header["validation_passed"] = len(report.InvalidCards) == 0
	ds.Header["validation"] = map[string]any{
		"error_count":   report.ErrorCount,
		"warning_count": report.WarningCount,
	}

	validRatio := 1.0
	if len(ds.Cards) > 0 {
		validRatio = dataset.Round3(float64(len(ds.Cards)-len(report.InvalidCards)) / float64(len(ds.Cards)))
	}
	ds.Audit = dataset.Record{
		"total_cards":   len(ds.Cards),
		"validation":    report,
		"invalid_cards": len(report.InvalidCards),
		"valid_ratio":   validRatio,
		"stage":         Finalize,
	}

	path, err := s.env.save(op, dataset.StageFinal, req.Book, ds)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("book", req.Book).
		Int("cards", len(ds.Cards)).
		Int("warnings", report.WarningCount).
		Str("path", path).
		Msg("Dataset finalized")

	return &Output{Path: path, Metrics: map[string]any{
		"valid_ratio":   validRatio,
		"warning_count": report.WarningCount,
		"error_count":   report.ErrorCount,
	}}, nil
}
