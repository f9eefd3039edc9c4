// Package pipeline sequences the stages for one document or a directory of
// documents, classifies stage failures and keeps batch checkpoints.
package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"archivist/internal/config"
	"archivist/internal/dataset"
	"archivist/internal/logger"
	"archivist/internal/stages"
	"archivist/pkg/naming"
)

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
	StatusDryRun    = "dry_run"
)

// criticalStages stop the remaining sequence when they fail.
var criticalStages = map[string]bool{
	stages.Structural: true,
	stages.Finalize:   true,
}

// IsCritical reports whether a failure of stage stops the run.
func IsCritical(stage string) bool {
	return criticalStages[stage]
}

// StageResult is the outcome of one stage in a run.
type StageResult struct {
	Stage    string         `json:"stage"`
	Status   string         `json:"status"`
	Output   string         `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Seconds  float64        `json:"seconds"`
	Metrics  map[string]any `json:"metrics,omitempty"`
	Warnings []string       `json:"quality_warnings,omitempty"`
}

// ValidationWarning is a non-fatal validation result between stages.
type ValidationWarning struct {
	Stage    string   `json:"stage"`
	Problems int      `json:"validation_errors"`
	First    []string `json:"first_problems,omitempty"`
}

// Result is the outcome of RunSingle.
type Result struct {
	Input    string              `json:"input"`
	Book     string              `json:"book"`
	Status   string              `json:"status"`
	Planned  []string            `json:"stages_planned"`
	Stages   []StageResult       `json:"stages"`
	Errors   []*StageFailure     `json:"errors"`
	Warnings []ValidationWarning `json:"warnings"`
	// Output is the last successfully written dataset or index.
	Output string `json:"output,omitempty"`
}

// Completed lists the stages that succeeded.
func (r *Result) Completed() []string {
	var out []string
	for _, s := range r.Stages {
		if s.Status == "success" {
			out = append(out, s.Stage)
		}
	}
	return out
}

// Failed lists the stages that failed.
func (r *Result) Failed() []string {
	var out []string
	for _, f := range r.Errors {
		out = append(out, f.Stage)
	}
	return out
}

func (r *Result) hasCritical() bool {
	for _, f := range r.Errors {
		if f.Critical {
			return true
		}
	}
	return false
}

// Options configure an Orchestrator.
type Options struct {
	// ValidateStages checks each produced dataset before the next stage.
	ValidateStages bool
	// DryRun plans without executing.
	DryRun bool
	// Start and End bound the batch stage range. Empty means the full list.
	Start string
	End   string
	// Batch holds checkpoint, retry and exclusion settings.
	Batch config.BatchConfig
}

// Orchestrator runs stages in order.
type Orchestrator struct {
	stages  map[string]stages.Stage
	store   *dataset.Store
	layout  stages.Layout
	tracker *Tracker
	opts    Options
	now     func() time.Time
	log     zerolog.Logger
}

// New creates an orchestrator over the given stage implementations. tracker
// may be nil.
func New(list []stages.Stage, store *dataset.Store, layout stages.Layout, tracker *Tracker, opts Options) *Orchestrator {
	m := make(map[string]stages.Stage, len(list))
	for _, s := range list {
		m[s.Name()] = s
	}
	if opts.Start == "" {
		opts.Start = stages.Structural
	}
	if opts.End == "" {
		opts.End = stages.Embed
	}
	return &Orchestrator{
		stages:  m,
		store:   store,
		layout:  layout,
		tracker: tracker,
		opts:    opts,
		now:     time.Now,
		log:     logger.WithComponent("pipeline"),
	}
}

// Tracker returns the run tracker, possibly nil.
func (o *Orchestrator) Tracker() *Tracker { return o.tracker }

// Layout returns the output layout.
func (o *Orchestrator) Layout() stages.Layout { return o.layout }

// Sequence returns the closed stage range [start..end].
func Sequence(start, end string) ([]string, error) {
	si := slices.Index(stages.Order, start)
	ei := slices.Index(stages.Order, end)
	switch {
	case si < 0:
		return nil, &ConfigurationError{Start: start, End: end, Details: "unknown start stage"}
	case ei < 0:
		return nil, &ConfigurationError{Start: start, End: end, Details: "unknown end stage"}
	case si > ei:
		return nil, &ConfigurationError{Start: start, End: end, Details: "start stage comes after end stage"}
	}
	return slices.Clone(stages.Order[si : ei+1]), nil
}

func (o *Orchestrator) plan(start, end string) ([]string, error) {
	seq, err := Sequence(start, end)
	if err != nil {
		return nil, err
	}
	for _, name := range seq {
		if _, ok := o.stages[name]; !ok {
			return nil, &ConfigurationError{Start: start, End: end, Details: "stage " + name + " is not configured"}
		}
	}
	return seq, nil
}

// BookName derives the book name of a PDF or of a stage dataset.
func BookName(input string) string {
	base := filepath.Base(input)
	for _, suffix := range []string{".error.dataset.jsonl", ".dataset.jsonl"} {
		if strings.HasSuffix(base, suffix) {
			return strings.TrimSuffix(base, suffix)
		}
	}
	return naming.SafeBookName(input)
}

// RunSingle runs stages start..end on input, a PDF for the structural stage
// and a dataset otherwise. Critical failures stop the run; recoverable ones
// are recorded and the next stage gets the last good output. The returned
// error is only set for configuration problems and cancellation.
func (o *Orchestrator) RunSingle(ctx context.Context, input, start, end string) (*Result, error) {
	seq, err := o.plan(start, end)
	if err != nil {
		return nil, err
	}
	book := BookName(input)
	res := &Result{
		Input:    input,
		Book:     book,
		Planned:  seq,
		Stages:   []StageResult{},
		Errors:   []*StageFailure{},
		Warnings: []ValidationWarning{},
	}
	log := o.log.With().Str("book", book).Logger()

	if o.opts.DryRun {
		res.Status = StatusDryRun
		log.Info().Strs("stages", seq).Str("input", input).Msg("Dry run: stages planned")
		return res, nil
	}
	if err := o.layout.Ensure(); err != nil {
		return nil, err
	}

	log.Info().
		Str("input", input).
		Str("start", start).
		Str("end", end).
		Msg("Pipeline started")

	current := input
	for _, name := range seq {
		if err := ctx.Err(); err != nil {
			o.finish(res)
			return res, err
		}
		stage := o.stages[name]
		began := o.now()
		out, err := stage.Run(ctx, stages.Request{Input: current, Book: book})
		elapsed := o.now().Sub(began)

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				o.finish(res)
				return res, err
			}
			f := NewStageFailure(name, IsCritical(name), err)
			res.Errors = append(res.Errors, f)
			res.Stages = append(res.Stages, StageResult{
				Stage: name, Status: "failed", Error: f.Message, Seconds: elapsed.Seconds(),
			})
			if o.tracker != nil {
				o.tracker.Fail(book, name, elapsed, f)
			}
			if f.Critical {
				log.Error().Err(err).Str("stage", name).Msg("Critical stage failed, stopping pipeline")
				break
			}
			log.Warn().Err(err).Str("stage", name).Msg("Recoverable stage failed, continuing with last good output")
			continue
		}

		sr := StageResult{Stage: name, Status: "success", Output: out.Path, Seconds: elapsed.Seconds(), Metrics: out.Metrics}
		if o.tracker != nil {
			sr.Warnings = o.tracker.Track(book, name, elapsed, out.Metrics)
		}
		res.Stages = append(res.Stages, sr)
		if o.opts.ValidateStages && name != stages.Embed {
			if w := o.validate(name, out.Path); w != nil {
				res.Warnings = append(res.Warnings, *w)
				log.Warn().Str("stage", name).Int("problems", w.Problems).Msg("Validation issues")
			}
		}
		log.Info().
			Str("stage", name).
			Dur("elapsed", elapsed).
			Str("output", out.Path).
			Msg("Stage completed")

		// the embed index is not a dataset, so it never feeds another stage
		if name != stages.Embed {
			current = out.Path
		}
		res.Output = out.Path
	}

	o.finish(res)
	log.Info().
		Str("status", res.Status).
		Int("errors", len(res.Errors)).
		Int("warnings", len(res.Warnings)).
		Msg("Pipeline finished")
	return res, nil
}

// finish sets the status and flushes the tracker. A critical failure fails
// the run however many stages succeeded before it.
func (o *Orchestrator) finish(res *Result) {
	switch {
	case len(res.Errors) == 0:
		res.Status = StatusCompleted
	case res.hasCritical():
		res.Status = StatusFailed
	case len(res.Errors) < len(res.Stages):
		res.Status = StatusPartial
	default:
		res.Status = StatusFailed
	}
	if o.tracker != nil {
		if _, err := o.tracker.Flush(o.layout.QualityDir()); err != nil {
			o.log.Warn().Err(err).Msg("Failed to flush quality tracker")
		}
	}
}

// validate loads the produced dataset and checks its structure. Problems
// never fail the run.
func (o *Orchestrator) validate(stage, path string) *ValidationWarning {
	ds, err := o.store.Load(path)
	if err != nil {
		return &ValidationWarning{Stage: stage, Problems: 1, First: []string{err.Error()}}
	}
	problems := dataset.ValidateStructure(ds.Header, ds.Cards, stages.DatasetStage(stage))
	if len(problems) == 0 {
		return nil
	}
	return &ValidationWarning{Stage: stage, Problems: len(problems), First: problems[:min(5, len(problems))]}
}
