package models

import "time"

// Book statuses in a batch run.
const (
	StatusCompleted = "completed" // every planned stage succeeded
	StatusPartial   = "partial"   // some recoverable stage failed
	StatusFailed    = "failed"    // a critical stage failed, or every stage did
	StatusSkipped   = "skipped"   // already in the checkpoint or excluded
)

// BookResult is the outcome of one input file.
type BookResult struct {
	// Identification
	Book string `json:"book"` // Safe book name used for output files
	File string `json:"file"` // Source file name

	// Outcome
	Status          string   `json:"status"`
	Attempts        int      `json:"attempts"`
	StagesCompleted []string `json:"stages_completed"`
	StagesFailed    []string `json:"stages_failed"`
	Error           string   `json:"error,omitempty"`
	Warnings        int      `json:"validation_warnings"`

	// Last dataset or index written
	Output string `json:"output,omitempty"`

	// Timing
	StartedAt  time.Time     `json:"start_time"`
	FinishedAt time.Time     `json:"end_time"`
	Duration   time.Duration `json:"-"`
}

// DurationSeconds is the processing time rounded to centiseconds.
func (b BookResult) DurationSeconds() float64 {
	return float64(b.Duration.Milliseconds()/10) / 100
}

// BatchSummary is what batch reports are built from.
type BatchSummary struct {
	RunID      string       `json:"run_id"`
	InputDir   string       `json:"input_dir"`
	Pattern    string       `json:"pattern"`
	StartedAt  time.Time    `json:"start_time"`
	FinishedAt time.Time    `json:"end_time"`
	Total      int          `json:"total_files"`
	Completed  int          `json:"fully_processed"`
	Partial    int          `json:"partially_processed"`
	Failed     int          `json:"failed"`
	Skipped    int          `json:"skipped"`
	Excluded   []string     `json:"excluded_books"`
	Books      []BookResult `json:"results"`
}

// SuccessRate is the share of attempted files that completed.
func (s BatchSummary) SuccessRate() float64 {
	attempted := s.Completed + s.Partial + s.Failed
	if attempted == 0 {
		return 0
	}
	return float64(s.Completed) / float64(attempted)
}
