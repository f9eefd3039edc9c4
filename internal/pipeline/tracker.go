package pipeline

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"archivist/internal/dataset"
	"archivist/internal/logger"
	"archivist/internal/stages"
)

// Threshold bounds one stage metric. Max thresholds are upper bounds, the
// others lower bounds.
type Threshold struct {
	Metric string
	Limit  float64
	Max    bool
}

func (t Threshold) check(v float64) (string, bool) {
	if t.Max && v > t.Limit {
		return fmt.Sprintf("%s: %.3f > %g", t.Metric, v, t.Limit), false
	}
	if !t.Max && v < t.Limit {
		return fmt.Sprintf("%s: %.3f < %g", t.Metric, v, t.Limit), false
	}
	return "", true
}

// DefaultThresholds are the quality bounds checked for every stage run.
func DefaultThresholds() map[string][]Threshold {
	return map[string][]Threshold{
		stages.Structural: {
			{Metric: "success_ratio", Limit: 0.95},
			{Metric: "ocr_ratio", Limit: 0.20, Max: true},
		},
		stages.Summarize: {
			{Metric: "summary_coverage", Limit: 0.90},
		},
		stages.Extended: {
			{Metric: "duplicate_ratio", Limit: 0.05, Max: true},
			{Metric: "gap_ratio", Limit: 0.10, Max: true},
		},
		stages.Finalize: {
			{Metric: "valid_ratio", Limit: 0.99},
		},
		stages.Chunk: {
			{Metric: "avg_tokens", Limit: 50},
			{Metric: "avg_tokens", Limit: 600, Max: true},
		},
	}
}

// StageRecord is one stage run of one book.
type StageRecord struct {
	Book       string         `json:"book"`
	Stage      string         `json:"stage"`
	Seconds    float64        `json:"seconds"`
	Status     string         `json:"status"`
	Metrics    map[string]any `json:"metrics,omitempty"`
	Violations []string       `json:"violations,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// ErrorRecord is one stage failure.
type ErrorRecord struct {
	Book      string `json:"book"`
	Stage     string `json:"stage"`
	Critical  bool   `json:"critical"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// StageSummary aggregates the records of one stage.
type StageSummary struct {
	Runs       int     `json:"runs"`
	Failures   int     `json:"failures"`
	Violations int     `json:"violations"`
	Seconds    float64 `json:"total_seconds"`
	AvgSeconds float64 `json:"avg_seconds"`
}

// Tracker accumulates stage timings, metrics and errors for one run. It is
// passed to the orchestrator explicitly and is not safe for concurrent use.
type Tracker struct {
	RunID      string
	StartedAt  time.Time
	Records    []StageRecord
	Errors     []ErrorRecord
	Thresholds map[string][]Threshold

	now func() time.Time
	log zerolog.Logger
}

// NewTracker starts a run with a fresh id.
func NewTracker() *Tracker {
	return newTracker(time.Now)
}

func newTracker(now func() time.Time) *Tracker {
	id := uuid.NewString()
	return &Tracker{
		RunID:      id,
		StartedAt:  now(),
		Thresholds: DefaultThresholds(),
		now:        now,
		log:        logger.WithRunID("tracker", id),
	}
}

// Track records a successful stage run and checks its thresholds. It
// returns the violations found.
func (t *Tracker) Track(book, stage string, d time.Duration, metrics map[string]any) []string {
	var violations []string
	for _, th := range t.Thresholds[stage] {
		v, ok := number(metrics[th.Metric])
		if !ok {
			continue
		}
		if msg, ok := th.check(v); !ok {
			violations = append(violations, msg)
		}
	}
	t.Records = append(t.Records, StageRecord{
		Book:       book,
		Stage:      stage,
		Seconds:    d.Seconds(),
		Status:     "success",
		Metrics:    metrics,
		Violations: violations,
		Timestamp:  dataset.Timestamp(t.now()),
	})
	if len(violations) > 0 {
		t.log.Warn().
			Str("book", book).
			Str("stage", stage).
			Strs("violations", violations).
			Msg("Quality thresholds not met")
	}
	return violations
}

// Fail records a failed stage run.
func (t *Tracker) Fail(book, stage string, d time.Duration, f *StageFailure) {
	ts := dataset.Timestamp(t.now())
	t.Records = append(t.Records, StageRecord{
		Book: book, Stage: stage, Seconds: d.Seconds(), Status: "failed", Timestamp: ts,
	})
	t.Errors = append(t.Errors, ErrorRecord{
		Book: book, Stage: stage, Critical: f.Critical, Error: f.Message, Timestamp: ts,
	})
}

// Summary aggregates records per stage.
func (t *Tracker) Summary() map[string]StageSummary {
	out := make(map[string]StageSummary)
	for _, r := range t.Records {
		s := out[r.Stage]
		s.Runs++
		s.Seconds += r.Seconds
		if r.Status != "success" {
			s.Failures++
		}
		s.Violations += len(r.Violations)
		out[r.Stage] = s
	}
	for k, s := range out {
		s.AvgSeconds = s.Seconds / float64(s.Runs)
		out[k] = s
	}
	return out
}

type trackerReport struct {
	RunID     string                  `json:"run_id"`
	StartedAt string                  `json:"started_at"`
	UpdatedAt string                  `json:"updated_at"`
	Stages    []string                `json:"stages"`
	Summary   map[string]StageSummary `json:"summary"`
	Records   []StageRecord           `json:"records"`
	Errors    []ErrorRecord           `json:"errors"`
}

// Flush writes <dir>/<run id>.json and returns its path.
func (t *Tracker) Flush(dir string) (string, error) {
	summary := t.Summary()
	names := make([]string, 0, len(summary))
	for k := range summary {
		names = append(names, k)
	}
	sort.Strings(names)

	report := trackerReport{
		RunID:     t.RunID,
		StartedAt: dataset.Timestamp(t.StartedAt),
		UpdatedAt: dataset.Timestamp(t.now()),
		Stages:    names,
		Summary:   summary,
		Records:   t.Records,
		Errors:    t.Errors,
	}
	if report.Records == nil {
		report.Records = []StageRecord{}
	}
	if report.Errors == nil {
		report.Errors = []ErrorRecord{}
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, t.RunID+".json")
	if err := dataset.WriteFileAtomic(path, append(data, '\n')); err != nil {
		return "", fmt.Errorf("flush tracker: %w", err)
	}
	return path, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
