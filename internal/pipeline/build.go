package pipeline

import (
	"context"
	"sync"

	"archivist/internal/config"
	"archivist/internal/dataset"
	"archivist/internal/embedding"
	"archivist/internal/enrich"
	"archivist/internal/extract"
	"archivist/internal/stages"
)

// Build wires every stage from the environment and pipeline configuration.
// Extraction chains are created on the first structural run. The returned
// close function releases cloud clients.
func Build(env *config.Config, p *config.Pipeline, opts Options) (*Orchestrator, func() error) {
	store := dataset.NewStore()
	layout := stages.Layout{Root: env.OutputDir}
	senv := stages.Env{Store: store, Layout: layout, Validate: p.ValidateStages}
	opts.ValidateStages = opts.ValidateStages && p.ValidateStages
	opts.Batch = p.Batch

	var lm enrich.LM
	if p.Extended.Fields.UseLM && env.OpenAIAPIKey != "" {
		lm = enrich.NewOpenAIExtractor(env.OpenAIAPIKey, enrich.CompletionConfig{
			Model:   p.Extended.Fields.Model,
			Timeout: p.Extended.Fields.Timeout,
		})
	}

	structural := &lazyStructural{env: senv, cfg: p.Structural, appEnv: env}
	list := []stages.Stage{
		structural,
		stages.NewStructureDetectStage(senv, p.StructureDetect),
		stages.NewSummarizeStage(senv, p.Summarize),
		stages.NewExtendedStage(senv, p.Extended, lm),
		stages.NewFinalizeStage(senv, p.Finalize),
		stages.NewChunkStage(senv, p.Chunk),
		stages.NewEmbedStage(senv, func() (embedding.Embedder, error) {
			return embedding.New(p.Embed, env.OpenAIAPIKey)
		}),
	}
	return New(list, store, layout, NewTracker(), opts), structural.Close
}

// lazyStructural builds the extraction chains on first use so that runs
// starting after the structural stage never touch OCR setup.
type lazyStructural struct {
	env    stages.Env
	cfg    config.StructuralConfig
	appEnv *config.Config

	once  sync.Once
	ex    *extract.Extractors
	stage *stages.StructuralStage
	err   error
}

func (l *lazyStructural) Name() string { return stages.Structural }

func (l *lazyStructural) Run(ctx context.Context, req stages.Request) (*stages.Output, error) {
	l.once.Do(func() {
		l.ex, l.err = extract.NewExtractors(ctx, l.cfg, extract.BuildOptions{Env: l.appEnv})
		if l.err == nil {
			l.stage = stages.NewStructuralStageFromExtractors(l.env, l.ex)
		}
	})
	if l.err != nil {
		return nil, stages.WrapStageError("structural.Run", l.err, "build extractors")
	}
	return l.stage.Run(ctx, req)
}

func (l *lazyStructural) Close() error {
	if l.ex == nil {
		return nil
	}
	return l.ex.Close()
}
