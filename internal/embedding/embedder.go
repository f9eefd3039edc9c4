// Package embedding turns chunk text into vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"archivist/internal/config"
)

// ErrNotPrepared is returned by Embed before Prepare.
var ErrNotPrepared = errors.New("embedder not prepared")

// Embedder converts text into vectors. Implementations may need a
// preparation pass over the corpus.
type Embedder interface {
	Name() string
	Model() string
	Prepare(corpus []string) error
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// New returns the embedder selected by cfg.Backend. The openai backend needs
// apiKey.
func New(cfg config.EmbedConfig, apiKey string) (Embedder, error) {
	switch cfg.Backend {
	case "", "tfidf":
		return NewTFIDF(), nil
	case "openai":
		if apiKey == "" {
			return nil, fmt.Errorf("embedding backend openai: OPENAI_API_KEY is not set")
		}
		return NewOpenAI(apiKey, cfg.Model, cfg.BatchSize), nil
	}
	return nil, fmt.Errorf("unknown embedding backend %q", cfg.Backend)
}
