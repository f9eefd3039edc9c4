package stages

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"archivist/internal/dataset"
	"archivist/internal/embedding"
	"archivist/internal/index"
	"archivist/internal/logger"
)

// EmbedderFactory returns a fresh embedder for one book.
type EmbedderFactory func() (embedding.Embedder, error)

// EmbedStage vectorizes the chunks dataset into <root>/indexes/<book>.sqlite.
// Any other dataset is accepted too, in which case each card's segment is
// embedded as one entry.
type EmbedStage struct {
	env         Env
	newEmbedder EmbedderFactory
	log         zerolog.Logger
}

func NewEmbedStage(env Env, factory EmbedderFactory) *EmbedStage {
	return &EmbedStage{
		env:         env,
		newEmbedder: factory,
		log:         logger.WithComponent("embed"),
	}
}

func (s *EmbedStage) Name() string { return Embed }

func (s *EmbedStage) Run(ctx context.Context, req Request) (*Output, error) {
	const op = "embed.Run"

	src, err := s.env.load(op, req.Input)
	if err != nil {
		return nil, err
	}
	entries := indexEntries(src)
	if len(entries) == 0 {
		return nil, NewStageError(op, ErrEmbeddingFailed, "no text to embed")
	}

	emb, err := s.newEmbedder()
	if err != nil {
		return nil, WrapStageError(op, err, "embedder")
	}
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Text
	}
	if err := emb.Prepare(texts); err != nil {
		return nil, NewStageError(op, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err), emb.Name())
	}
	vectors, err := emb.Embed(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewStageError(op, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err), emb.Name())
	}
	for i := range entries {
		entries[i].Vector = vectors[i]
	}

	path := s.env.Layout.IndexPath(req.Book)
	// a rebuilt vocabulary changes the dimension, so start from an empty file
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			return nil, WrapStageError(op, err, path)
		}
	}
	ix, err := index.Open(path, index.WithMkdirAll())
	if err != nil {
		return nil, WrapStageError(op, err, path)
	}
	defer ix.Close()

	if err := ix.Upsert(ctx, entries); err != nil {
		return nil, WrapStageError(op, err, path)
	}
	dim := len(vectors[0])
	meta := map[string]string{
		"book":           req.Book,
		"source_dataset": req.Input,
		"source_stage":   src.Stage(),
		"embedder":       emb.Name(),
		"model":          emb.Model(),
		"dimension":      fmt.Sprint(dim),
		"created_at":     dataset.Timestamp(s.env.now()),
	}
	if err := ix.SetMeta(ctx, meta); err != nil {
		return nil, WrapStageError(op, err, path)
	}

	metrics := map[string]any{
		"embedded":  len(entries),
		"dimension": dim,
		"embedder":  emb.Name(),
		"model":     emb.Model(),
	}
	hits, err := ix.Search(ctx, vectors[0], 1)
	if err == nil && len(hits) > 0 {
		metrics["smoke_top_score"] = dataset.Round3(hits[0].Score)
	}

	s.log.Info().
		Str("book", req.Book).
		Int("entries", len(entries)).
		Int("dimension", dim).
		Str("embedder", emb.Name()).
		Str("path", path).
		Msg("Index written")

	return &Output{Path: path, Metrics: metrics}, nil
}

// indexEntries turns chunk cards (or plain page cards) into index entries,
// skipping cards without text.
func indexEntries(ds *dataset.Dataset) []index.Entry {
	chunks := ds.Stage() == dataset.StageChunks
	var out []index.Entry
	for _, c := range ds.Cards {
		if strings.TrimSpace(c.Segment) == "" {
			continue
		}
		e := index.Entry{
			ChunkID:    c.SegmentID,
			SourceFile: c.SourceFile,
			PageNum:    c.PageNum,
			Text:       c.Segment,
		}
		if chunks {
			meta, _ := c.Get("metadata")
			if m, ok := meta.(map[string]any); ok {
				e.Metadata = m
				if f, ok := m["source_file"].(string); ok {
					e.SourceFile = f
				}
				if n, ok := asInt(m["page_num"]); ok {
					e.PageNum = n
				}
			}
			e.Tokens, _ = c.Int("tokens")
		}
		out = append(out, e)
	}
	return out
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}
