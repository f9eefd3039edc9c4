package stages

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"archivist/internal/chunker"
	"archivist/internal/config"
	"archivist/internal/dataset"
	"archivist/internal/logger"
)

// ChunkStage splits final cards into overlapping token windows. Each chunk
// is stored as a card whose segment_id is the chunk id and whose segment is
// the text to embed (context line plus chunk text).
type ChunkStage struct {
	env     Env
	cfg     config.ChunkConfig
	chunker *chunker.TokenChunker
	log     zerolog.Logger
}

func NewChunkStage(env Env, cfg config.ChunkConfig) *ChunkStage {
	return &ChunkStage{
		env:     env,
		cfg:     cfg,
		chunker: chunker.NewTokenChunker(cfg.ChunkSize, cfg.ChunkOverlap, cfg.MinChunkSize),
		log:     logger.WithComponent("chunk"),
	}
}

func (s *ChunkStage) Name() string { return Chunk }

func (s *ChunkStage) Run(ctx context.Context, req Request) (*Output, error) {
	const op = "chunk.Run"

	src, err := s.env.load(op, req.Input)
	if err != nil {
		return nil, err
	}

	var chunks []*dataset.Card
	for _, c := range src.Cards {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := c.Segment
		if strings.TrimSpace(text) == "" {
			text = c.String("l1_summary")
		}
		meta := chunkMetadata(c)
		prefix := ""
		if s.cfg.IncludeContext {
			prefix = chunker.TruncateTokens(BuildContext(meta), s.cfg.ContextMaxTokens)
		}
		for _, p := range s.chunker.Chunk(text) {
			id := fmt.Sprintf("%08d", len(chunks))
			full := p.Text
			if prefix != "" {
				full = prefix + "\n\n" + p.Text
			}
			card := &dataset.Card{SegmentID: id, Segment: full}
			card.Set("chunk_id", id)
			card.Set("text", p.Text)
			card.Set("tokens", p.Tokens)
			card.Set("metadata", meta)
			card.Set("context", prefix)
			chunks = append(chunks, card)
		}
	}

	header := dataset.Record{
		"source_dataset": filepath.Base(req.Input),
		"source_file":    src.Header.String("source_file"),
		"book":           req.Book,
		"title":          src.Header.String("title"),
		"total_chunks":   len(chunks),
		"chunk_size":     s.cfg.ChunkSize,
		"chunk_overlap":  s.cfg.ChunkOverlap,
		"min_chunk_size": s.cfg.MinChunkSize,
		"token_estimate": "chars/4",
	}
	if sha := src.Header.String("pdf_sha256"); sha != "" {
		header["pdf_sha256"] = sha
	}
	stats := chunkStats(chunks, len(src.Cards))
	audit := dataset.Record{"stage": Chunk}
	for k, v := range stats {
		audit[k] = v
	}

	ds := &dataset.Dataset{Header: header, Cards: chunks, Audit: audit}
	path, err := s.env.save(op, dataset.StageChunks, req.Book, ds)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("book", req.Book).
		Int("pages", len(src.Cards)).
		Int("chunks", len(chunks)).
		Str("path", path).
		Msg("Chunks written")

	return &Output{Path: path, Metrics: stats}, nil
}

func chunkMetadata(c *dataset.Card) map[string]any {
	meta := map[string]any{
		"source_file": c.SourceFile,
		"page_num":    c.PageNum,
		"segment_id":  c.SegmentID,
		"has_table":   c.HasTable,
	}
	for _, k := range []string{"chapter_num", "chapter_title", "section_num", "section_title"} {
		v, _ := c.Get(k)
		meta[k] = v
	}
	return meta
}

// BuildContext renders "Source: f | Chapter n: t | Section n: t" from chunk
// metadata, leaving out unknown parts.
func BuildContext(meta map[string]any) string {
	var parts []string
	if s, _ := meta["source_file"].(string); s != "" {
		parts = append(parts, "Source: "+s)
	}
	if t, _ := meta["chapter_title"].(string); t != "" {
		parts = append(parts, heading("Chapter", meta["chapter_num"], t))
	}
	if t, _ := meta["section_title"].(string); t != "" {
		parts = append(parts, heading("Section", meta["section_num"], t))
	}
	return strings.Join(parts, " | ")
}

func heading(kind string, num any, title string) string {
	if n, _ := num.(string); n != "" {
		return fmt.Sprintf("%s %s: %s", kind, n, title)
	}
	return kind + ": " + title
}

func chunkStats(chunks []*dataset.Card, pages int) map[string]any {
	stats := map[string]any{
		"total_chunks": len(chunks),
		"source_pages": pages,
	}
	if len(chunks) == 0 {
		stats["avg_tokens"] = 0.0
		stats["min_tokens"] = 0
		stats["max_tokens"] = 0
		stats["context_coverage"] = 0.0
		return stats
	}
	total, lo, hi, withContext := 0, -1, 0, 0
	for _, c := range chunks {
		n, _ := c.Int("tokens")
		total += n
		if lo < 0 || n < lo {
			lo = n
		}
		hi = max(hi, n)
		if c.String("context") != "" {
			withContext++
		}
	}
	stats["avg_tokens"] = dataset.Round3(float64(total) / float64(len(chunks)))
	stats["min_tokens"] = lo
	stats["max_tokens"] = hi
	stats["context_coverage"] = dataset.Round3(float64(withContext) / float64(len(chunks)))
	if pages > 0 {
		stats["chunks_per_page"] = dataset.Round3(float64(len(chunks)) / float64(pages))
	}
	return stats
}
