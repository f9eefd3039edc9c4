package stages

import (
	"context"

	"github.com/rs/zerolog"

	"archivist/internal/config"
	"archivist/internal/dataset"
	"archivist/internal/logger"
	"archivist/internal/structure"
)

// StructureDetectStage annotates cards with chapter and section headings.
type StructureDetectStage struct {
	env      Env
	detector *structure.Detector
	log      zerolog.Logger
}

func NewStructureDetectStage(env Env, cfg config.StructureDetectConfig) *StructureDetectStage {
	return &StructureDetectStage{
		env:      env,
		detector: structure.NewDetector(cfg),
		log:      logger.WithComponent("structure_detect"),
	}
}

func (s *StructureDetectStage) Name() string { return StructureDetect }

func (s *StructureDetectStage) Run(ctx context.Context, req Request) (*Output, error) {
	const op = "structure_detect.Run"

	ds, err := s.env.load(op, req.Input)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := s.detector.Detect(ds.Cards)
	structure.Apply(ds.Cards, r)

	ds.Header["structure_detected_at"] = dataset.Timestamp(s.env.now())
	ds.Header["chapters"] = len(r.Chapters)
	ds.Header["sections"] = len(r.Sections)
	ds.Header["chapter_index"] = r.Chapters
	if r.TOC != nil {
		ds.Header["toc"] = r.TOC
	} else {
		delete(ds.Header, "toc")
	}

	coverage := structure.Coverage(ds.Cards)
	ds.Audit = dataset.Record{
		"total_cards":        len(ds.Cards),
		"chapters_detected":  len(r.Chapters),
		"sections_detected":  len(r.Sections),
		"structure_coverage": coverage,
		"toc_found":          r.TOC != nil,
		"stage":              StructureDetect,
	}

	path, err := s.env.save(op, dataset.StageStructured, req.Book, ds)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("book", req.Book).
		Int("chapters", len(r.Chapters)).
		Int("sections", len(r.Sections)).
		Bool("toc", r.TOC != nil).
		Str("path", path).
		Msg("Structure detected")

	return &Output{Path: path, Metrics: map[string]any{
		"chapters_detected":  len(r.Chapters),
		"sections_detected":  len(r.Sections),
		"structure_coverage": coverage,
	}}, nil
}
