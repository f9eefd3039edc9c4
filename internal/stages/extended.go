package stages

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"archivist/internal/audit"
	"archivist/internal/config"
	"archivist/internal/dataset"
	"archivist/internal/enrich"
	"archivist/internal/logger"
)

// ExtendedStage adds navigation links, duplicate markers, continuity flags
// and extended fields.
type ExtendedStage struct {
	env        Env
	cfg        config.ExtendedConfig
	dedup      *audit.Deduplicator
	continuity *audit.ContinuityAuditor
	fields     *enrich.Extractor
	log        zerolog.Logger
}

// NewExtendedStage creates the stage. lm may be nil for heuristics only.
func NewExtendedStage(env Env, cfg config.ExtendedConfig, lm enrich.LM) *ExtendedStage {
	return &ExtendedStage{
		env:        env,
		cfg:        cfg,
		dedup:      audit.NewDeduplicator(cfg.Dedup.MinLength),
		continuity: audit.NewContinuityAuditor(cfg.Continuity.OverlapThreshold),
		fields:     enrich.NewExtractor(lm),
		log:        logger.WithComponent("extended"),
	}
}

func (s *ExtendedStage) Name() string { return Extended }

func (s *ExtendedStage) Run(ctx context.Context, req Request) (*Output, error) {
	const op = "extended.Run"
	log := s.log.With().Str("book", req.Book).Logger()

	ds, err := s.env.load(op, req.Input)
	if err != nil {
		return nil, err
	}
	cards := ds.Cards

	AddNavigation(cards)

	groups := []audit.DuplicateGroup{}
	marked := 0
	if s.cfg.Dedup.Enabled {
		groups = s.dedup.Detect(cards)
		marked = s.dedup.Mark(cards, groups)
		log.Info().Int("groups", len(groups)).Int("marked", marked).Msg("Duplicates marked")
	}

	var continuity *audit.ContinuityReport
	if s.cfg.Continuity.Enabled {
		r := s.continuity.Audit(cards)
		continuity = &r
		log.Info().Int("gaps", r.GapCount).Float64("avg_overlap", r.AvgOverlap).Msg("Continuity audited")
	}

	extracted := 0
	if s.cfg.Fields.Enabled {
		for _, c := range cards {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if c.IsDuplicate() || utf8.RuneCountInString(strings.TrimSpace(c.Segment)) < s.cfg.Fields.MinLength {
				continue
			}
			c.Set("extended_fields", s.fields.Extract(ctx, c.Segment))
			extracted++
		}
		log.Info().Int("pages", extracted).Bool("lm", s.fields.UsesLM()).Msg("Extended fields extracted")
	}

	ds.Header["extended_at"] = dataset.Timestamp(s.env.now())
	ds.Header["fields_engine"] = enrich.MethodHeuristic
	if s.fields.UsesLM() {
		ds.Header["fields_engine"] = enrich.MethodLM
	}

	coverage := 0.0
	if len(cards) > 0 {
		coverage = dataset.Round3(float64(extracted) / float64(len(cards)))
	}
	ds.Audit = dataset.Record{
		"total_cards":               len(cards),
		"duplicate_groups":          groups,
		"duplicate_pages":           audit.DuplicatePages(groups),
		"extended_fields_extracted": extracted,
		"extraction_coverage":       coverage,
		"stage":                     Extended,
	}
	if continuity != nil {
		ds.Audit["continuity"] = continuity
	}

	path, err := s.env.save(op, dataset.StageExtended, req.Book, ds)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Msg("Extended dataset written")

	metrics := map[string]any{
		"duplicate_pages":     marked,
		"extraction_coverage": coverage,
	}
	if len(cards) > 0 {
		metrics["duplicate_ratio"] = dataset.Round3(float64(marked) / float64(len(cards)))
	}
	if continuity != nil {
		metrics["gap_ratio"] = dataset.Round3(continuity.GapRatio)
		metrics["avg_overlap"] = continuity.AvgOverlap
	}
	return &Output{Path: path, Metrics: metrics}, nil
}

// AddNavigation sets prev_page and next_page on every card; the ends get
// null.
func AddNavigation(cards []*dataset.Card) {
	for i, c := range cards {
		var prev, next *dataset.NavLink
		if i > 0 {
			prev = &dataset.NavLink{PageNum: cards[i-1].PageNum, SegmentID: cards[i-1].SegmentID}
		}
		if i+1 < len(cards) {
			next = &dataset.NavLink{PageNum: cards[i+1].PageNum, SegmentID: cards[i+1].SegmentID}
		}
		c.Set("prev_page", prev)
		c.Set("next_page", next)
	}
}
