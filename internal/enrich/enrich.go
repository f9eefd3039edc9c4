package enrich

import (
	"context"

	"github.com/rs/zerolog"

	"archivist/internal/logger"
)

// Extraction methods recorded in the extended fields.
const (
	MethodHeuristic = "heuristic"
	MethodLM        = "lm"
)

// LM returns model fields for a page.
type LM interface {
	Extract(ctx context.Context, text string) (map[string]any, error)
}

// Extractor runs the heuristics and, when an LM is configured, overlays its
// answer. LM failures fall back to the heuristics.
type Extractor struct {
	lm  LM
	log zerolog.Logger
}

// NewExtractor creates an extractor. lm may be nil.
func NewExtractor(lm LM) *Extractor {
	return &Extractor{lm: lm, log: logger.WithComponent("enrich")}
}

// UsesLM reports whether an LM backend is configured.
func (e *Extractor) UsesLM() bool {
	return e.lm != nil
}

// Extract returns the extended fields of one page.
func (e *Extractor) Extract(ctx context.Context, text string) map[string]any {
	fields := Heuristics(text)
	fields["extraction_method"] = MethodHeuristic
	if e.lm == nil {
		return fields
	}

	lmFields, err := e.lm.Extract(ctx, text)
	if err != nil {
		e.log.Warn().Err(err).Msg("LM field extraction failed, using heuristics")
		return fields
	}
	for k, v := range lmFields {
		fields[k] = v
	}
	fields["extraction_method"] = MethodLM
	return fields
}
