package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"archivist/internal/retry"
	"archivist/pkg/models"
)

// FileFailure is a partially processed or failed file.
type FileFailure struct {
	File   string          `json:"file"`
	Errors []*StageFailure `json:"errors,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// BatchResult is the outcome of RunBatch.
type BatchResult struct {
	RunID       string        `json:"run_id"`
	Dir         string        `json:"input_dir"`
	Pattern     string        `json:"pattern"`
	DryRun      bool          `json:"dry_run"`
	Planned     []string      `json:"stages_planned"`
	Files       []string      `json:"files"`
	Processed   []string      `json:"processed"`
	Partial     []FileFailure `json:"partial"`
	Failed      []FileFailure `json:"failed"`
	Skipped     []string      `json:"skipped"`
	Excluded    []string      `json:"excluded"`
	Interrupted bool          `json:"interrupted"`
	Checkpoint  string        `json:"checkpoint,omitempty"`

	Books []models.BookResult `json:"-"`

	summary models.BatchSummary
}

// Summary returns the report model of the batch.
func (b *BatchResult) Summary() models.BatchSummary {
	s := b.summary
	s.RunID = b.RunID
	s.InputDir = b.Dir
	s.Pattern = b.Pattern
	s.Total = len(b.Files)
	s.Completed = len(b.Processed)
	s.Partial = len(b.Partial)
	s.Failed = len(b.Failed)
	s.Skipped = len(b.Skipped)
	s.Excluded = b.Excluded
	s.Books = b.Books
	return s
}

// HasFailures reports whether any file failed.
func (b *BatchResult) HasFailures() bool {
	return len(b.Failed) > 0
}

// RunBatch runs every file in dir matching pattern, in name order, through
// the configured stage range. Files listed in the checkpoint as processed
// are skipped. A failed file is retried up to Batch.MaxRetries times; with
// continueOnError false the batch stops at the first file that still fails.
// The checkpoint is saved after each file and on cancellation, in which
// case ErrInterrupted is returned with the partial result.
func (o *Orchestrator) RunBatch(ctx context.Context, dir, pattern string, continueOnError bool) (*BatchResult, error) {
	seq, err := o.plan(o.opts.Start, o.opts.End)
	if err != nil {
		return nil, err
	}
	if pattern == "" {
		pattern = "*.pdf"
	}
	files, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, &ConfigurationError{Start: o.opts.Start, End: o.opts.End, Details: "bad pattern: " + err.Error()}
	}
	sort.Strings(files)

	res := &BatchResult{
		Dir:       dir,
		Pattern:   pattern,
		DryRun:    o.opts.DryRun,
		Planned:   seq,
		Files:     []string{},
		Processed: []string{},
		Partial:   []FileFailure{},
		Failed:    []FileFailure{},
		Skipped:   []string{},
		Excluded:  []string{},
	}
	if o.tracker != nil {
		res.RunID = o.tracker.RunID
	}

	var inputs []string
	for _, f := range files {
		name := filepath.Base(f)
		if slices.Contains(o.opts.Batch.ExcludeFiles, name) {
			res.Excluded = append(res.Excluded, name)
			continue
		}
		res.Files = append(res.Files, name)
		inputs = append(inputs, f)
	}
	if len(inputs) == 0 {
		return res, fmt.Errorf("%w: %s", ErrNoInputFiles, filepath.Join(dir, pattern))
	}

	log := o.log.With().Str("dir", dir).Str("pattern", pattern).Logger()
	if o.opts.DryRun {
		log.Info().Strs("files", res.Files).Strs("stages", seq).Msg("Dry run: files planned")
		return res, nil
	}

	cp, err := LoadCheckpoint(o.checkpointPath())
	if err != nil {
		return nil, err
	}
	res.Checkpoint = cp.Path()
	res.summary.StartedAt = o.now()

	log.Info().
		Int("files", len(inputs)).
		Int("already_processed", len(cp.ProcessedBooks)).
		Strs("stages", seq).
		Msg("Batch started")

	for i, input := range inputs {
		name := filepath.Base(input)
		if cp.Processed(name) {
			res.Skipped = append(res.Skipped, name)
			res.Books = append(res.Books, models.BookResult{Book: BookName(input), File: name, Status: models.StatusSkipped})
			log.Info().Str("file", name).Msg("Already processed, skipping")
			continue
		}
		log.Info().Str("file", name).Int("index", i+1).Int("total", len(inputs)).Msg("Processing file")

		book, runErr := o.runWithRetries(ctx, input)
		if runErr != nil && isCancel(runErr) {
			return o.interrupt(res, cp, runErr)
		}

		switch book.Status {
		case models.StatusCompleted:
			res.Processed = append(res.Processed, name)
			cp.MarkProcessed(name)
		case models.StatusPartial:
			res.Partial = append(res.Partial, FileFailure{File: name, Errors: book.failures})
			last := name
			cp.LastBook = &last
		default:
			res.Failed = append(res.Failed, FileFailure{File: name, Errors: book.failures, Error: book.Error})
			cp.MarkFailed(name, book.Error, book.Attempts)
		}
		res.Books = append(res.Books, book.BookResult)

		if err := cp.Save(o.now()); err != nil {
			log.Error().Err(err).Msg("Failed to save checkpoint")
		}

		if book.Status == models.StatusFailed && !continueOnError {
			log.Error().Str("file", name).Msg("Stopping batch on error")
			break
		}
	}

	res.summary.FinishedAt = o.now()
	log.Info().
		Int("processed", len(res.Processed)).
		Int("partial", len(res.Partial)).
		Int("failed", len(res.Failed)).
		Int("skipped", len(res.Skipped)).
		Msg("Batch finished")
	return res, nil
}

type bookRun struct {
	models.BookResult
	failures []*StageFailure
}

// runWithRetries retries a file whose run ended failed.
func (o *Orchestrator) runWithRetries(ctx context.Context, input string) (bookRun, error) {
	book := bookRun{BookResult: models.BookResult{
		Book:      BookName(input),
		File:      filepath.Base(input),
		StartedAt: o.now(),
	}}
	policy := retry.Policy{
		MaxRetries:    max(1, o.opts.Batch.MaxRetries),
		InitialDelay:  o.opts.Batch.RetryDelay,
		BackoffFactor: 1,
		MaxDelay:      o.opts.Batch.RetryDelay,
	}

	var last *Result
	err := policy.Do(ctx, func(attempt int) error {
		book.Attempts = attempt + 1
		if attempt > 0 {
			o.log.Warn().Str("file", book.File).Int("attempt", attempt+1).Msg("Retrying file")
		}
		res, err := o.RunSingle(ctx, input, o.opts.Start, o.opts.End)
		if err != nil {
			return err
		}
		last = res
		if res.Status == StatusFailed {
			return fmt.Errorf("%w: %s", ErrBookFailed, joinFailures(res.Errors))
		}
		return nil
	})

	book.FinishedAt = o.now()
	book.Duration = book.FinishedAt.Sub(book.StartedAt)
	if last != nil {
		book.StagesCompleted = last.Completed()
		book.StagesFailed = last.Failed()
		book.Warnings = len(last.Warnings)
		book.Output = last.Output
		book.failures = last.Errors
	}

	switch {
	case err == nil && last != nil && last.Status == StatusPartial:
		book.Status = models.StatusPartial
		book.Error = joinFailures(last.Errors)
	case err == nil:
		book.Status = models.StatusCompleted
	default:
		book.Status = models.StatusFailed
		if last != nil && len(last.Errors) > 0 {
			book.Error = joinFailures(last.Errors)
		} else {
			book.Error = err.Error()
		}
	}
	return book, err
}

func (o *Orchestrator) interrupt(res *BatchResult, cp *Checkpoint, cause error) (*BatchResult, error) {
	res.Interrupted = true
	res.summary.FinishedAt = o.now()
	if err := cp.Save(o.now()); err != nil {
		o.log.Error().Err(err).Msg("Failed to save checkpoint on interrupt")
	} else {
		o.log.Warn().Str("checkpoint", cp.Path()).Msg("Interrupted, checkpoint saved")
	}
	return res, fmt.Errorf("%w: %w", ErrInterrupted, cause)
}

func (o *Orchestrator) checkpointPath() string {
	p := o.opts.Batch.CheckpointFile
	if p == "" {
		p = "checkpoint.json"
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(o.layout.Root, p)
	}
	return p
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func joinFailures(fs []*StageFailure) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = f.Stage + ": " + f.Message
	}
	return strings.Join(parts, "; ")
}

// WriteScoreboard prints the batch partition.
func (b *BatchResult) WriteScoreboard(w io.Writer) {
	s := b.Summary()
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w, "                BATCH SUMMARY")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	if b.DryRun {
		fmt.Fprintf(w, "Dry run: %d files, stages %s\n", len(b.Files), strings.Join(b.Planned, " -> "))
		for _, f := range b.Files {
			fmt.Fprintf(w, "  - %s\n", f)
		}
		return
	}
	fmt.Fprintf(w, "Total files:         %d\n", s.Total)
	fmt.Fprintf(w, "Fully processed:     %d\n", s.Completed)
	fmt.Fprintf(w, "Partially processed: %d\n", s.Partial)
	fmt.Fprintf(w, "Failed:              %d\n", s.Failed)
	if s.Skipped > 0 {
		fmt.Fprintf(w, "Skipped:             %d\n", s.Skipped)
	}
	fmt.Fprintf(w, "Success rate:        %.1f%%\n", s.SuccessRate()*100)
	if len(b.Failed) > 0 {
		fmt.Fprintln(w, "\nFailed files:")
		for _, f := range b.Failed {
			fmt.Fprintf(w, "  - %s: %s\n", f.File, truncate(f.Error, 100))
		}
	}
	if len(b.Partial) > 0 {
		fmt.Fprintln(w, "\nPartially processed files:")
		for _, f := range b.Partial {
			fmt.Fprintf(w, "  - %s\n", f.File)
		}
	}
	if b.Interrupted {
		fmt.Fprintf(w, "\nInterrupted; progress saved to %s\n", b.Checkpoint)
	}
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
