package embedding

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"archivist/internal/logger"
)

// EmbeddingsClient is the part of the go-openai client used here.
type EmbeddingsClient interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAI embeds text through the OpenAI embeddings API in batches.
type OpenAI struct {
	client    EmbeddingsClient
	model     string
	batchSize int
	dimension int
	log       zerolog.Logger
}

// NewOpenAI creates an OpenAI embedder.
func NewOpenAI(apiKey, model string, batchSize int) *OpenAI {
	return NewOpenAIWithClient(openai.NewClient(apiKey), model, batchSize)
}

// NewOpenAIWithClient creates an OpenAI embedder with an explicit client.
func NewOpenAIWithClient(client EmbeddingsClient, model string, batchSize int) *OpenAI {
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	if batchSize <= 0 {
		batchSize = 64
	}
	return &OpenAI{
		client:    client,
		model:     model,
		batchSize: batchSize,
		log:       logger.WithComponent("embed-openai"),
	}
}

func (e *OpenAI) Name() string  { return "openai" }
func (e *OpenAI) Model() string { return e.model }

// Prepare is a no-op; the dimension is learned from the first response.
func (e *OpenAI) Prepare([]string) error { return nil }

func (e *OpenAI) Dimension() int { return e.dimension }

// Embed sends texts in batches and returns vectors in input order.
func (e *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "OpenAI.Embed"

	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts[start:end],
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			return nil, fmt.Errorf("%s: batch %d-%d: %w", op, start, end, err)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("%s: got %d vectors for %d texts", op, len(resp.Data), end-start)
		}
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= end-start {
				return nil, fmt.Errorf("%s: vector index %d out of range", op, d.Index)
			}
			out[start+d.Index] = d.Embedding
			e.dimension = len(d.Embedding)
		}
		e.log.Debug().
			Int("from", start).
			Int("to", end).
			Str("model", e.model).
			Int("tokens", resp.Usage.TotalTokens).
			Msg("Embedding batch done")
	}
	return out, nil
}
