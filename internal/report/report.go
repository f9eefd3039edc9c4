// Package report renders batch summaries as a JSON report and an XLSX
// workbook.
package report

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"archivist/internal/dataset"
	"archivist/pkg/models"
)

type bookEntry struct {
	models.BookResult
	DurationSeconds float64 `json:"duration_seconds"`
}

type batchReport struct {
	RunID       string      `json:"run_id"`
	InputDir    string      `json:"input_dir"`
	Pattern     string      `json:"pattern"`
	StartedAt   string      `json:"start_time"`
	FinishedAt  string      `json:"end_time"`
	Seconds     float64     `json:"total_seconds"`
	Total       int         `json:"total_files"`
	Completed   int         `json:"fully_processed"`
	Partial     int         `json:"partially_processed"`
	Failed      int         `json:"failed"`
	Skipped     int         `json:"skipped"`
	SuccessRate float64     `json:"success_rate"`
	Excluded    []string    `json:"excluded_books"`
	Books       []bookEntry `json:"results"`
}

// Resolve places a relative report path under the output directory.
func Resolve(outputDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(outputDir, path)
}

// WriteJSON writes the batch report to path atomically.
func WriteJSON(path string, s models.BatchSummary) error {
	r := batchReport{
		RunID:       s.RunID,
		InputDir:    s.InputDir,
		Pattern:     s.Pattern,
		StartedAt:   stamp(s.StartedAt),
		FinishedAt:  stamp(s.FinishedAt),
		Total:       s.Total,
		Completed:   s.Completed,
		Partial:     s.Partial,
		Failed:      s.Failed,
		Skipped:     s.Skipped,
		SuccessRate: s.SuccessRate(),
		Excluded:    s.Excluded,
		Books:       make([]bookEntry, 0, len(s.Books)),
	}
	if !s.StartedAt.IsZero() && !s.FinishedAt.IsZero() {
		r.Seconds = s.FinishedAt.Sub(s.StartedAt).Seconds()
	}
	if r.Excluded == nil {
		r.Excluded = []string{}
	}
	for _, b := range s.Books {
		r.Books = append(r.Books, bookEntry{BookResult: b, DurationSeconds: b.DurationSeconds()})
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := dataset.WriteFileAtomic(path, append(data, '\n')); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return dataset.Timestamp(t)
}
