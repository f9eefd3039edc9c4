package stages

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"archivist/internal/config"
	"archivist/internal/dataset"
	"archivist/internal/logger"
	"archivist/internal/summarizer"
)

// SummarizeStage adds extractive l1_summary and l2_summary fields. Pages too
// short to summarise get empty summaries so the fields are always present.
type SummarizeStage struct {
	env        Env
	engine     *summarizer.Extractive
	minText    int
	generateL2 bool
	log        zerolog.Logger
}

func NewSummarizeStage(env Env, cfg config.SummarizeConfig) *SummarizeStage {
	return &SummarizeStage{
		env:        env,
		engine:     summarizer.NewExtractive(cfg),
		minText:    cfg.MinTextLength,
		generateL2: cfg.GenerateL2,
		log:        logger.WithComponent("summarize"),
	}
}

func (s *SummarizeStage) Name() string { return Summarize }

func (s *SummarizeStage) Run(ctx context.Context, req Request) (*Output, error) {
	const op = "summarize.Run"

	ds, err := s.env.load(op, req.Input)
	if err != nil {
		return nil, err
	}

	summarized, skipped, l1Chars := 0, 0, 0
	for _, c := range ds.Cards {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if utf8.RuneCountInString(strings.TrimSpace(c.Segment)) < s.minText {
			c.Set("l1_summary", "")
			c.Set("l2_summary", "")
			skipped++
			continue
		}
		l1 := s.engine.L1(c.Segment)
		l2 := ""
		if s.generateL2 {
			l2 = s.engine.L2(c.Segment)
		}
		c.Set("l1_summary", l1)
		c.Set("l2_summary", l2)
		summarized++
		l1Chars += utf8.RuneCountInString(l1)
	}

	ds.Header["summarized_at"] = dataset.Timestamp(s.env.now())
	ds.Header["summary_engine"] = "extractive"
	ds.Header["generate_l2"] = s.generateL2

	avgL1 := 0.0
	if summarized > 0 {
		avgL1 = dataset.Round3(float64(l1Chars) / float64(summarized))
	}
	coverage := 0.0
	if len(ds.Cards) > 0 {
		coverage = dataset.Round3(float64(summarized) / float64(len(ds.Cards)))
	}
	ds.Audit = dataset.Record{
		"total_cards":      len(ds.Cards),
		"summarized_pages": summarized,
		"skipped_pages":    skipped,
		"avg_l1_length":    avgL1,
		"summary_coverage": coverage,
		"stage":            Summarize,
	}

	path, err := s.env.save(op, dataset.StageSummarized, req.Book, ds)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("book", req.Book).
		Int("summarized", summarized).
		Int("skipped", skipped).
		Str("path", path).
		Msg("Summaries generated")

	return &Output{Path: path, Metrics: map[string]any{
		"summarized_pages": summarized,
		"skipped_pages":    skipped,
		"summary_coverage": coverage,
	}}, nil
}
