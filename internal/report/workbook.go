package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"archivist/internal/logger"
	"archivist/pkg/models"
)

const (
	booksSheet   = "Books"
	summarySheet = "Summary"
)

// BookHeaders are the column titles of the Books sheet.
var BookHeaders = []string{
	"Book",
	"File",
	"Status",
	"Attempts",
	"Stages Completed",
	"Stages Failed",
	"Warnings",
	"Duration (s)",
	"Error",
	"Output",
}

// BookRow flattens a book result in BookHeaders order.
func BookRow(b models.BookResult) []any {
	return []any{
		b.Book,
		b.File,
		b.Status,
		b.Attempts,
		strings.Join(b.StagesCompleted, ", "),
		strings.Join(b.StagesFailed, ", "),
		b.Warnings,
		b.DurationSeconds(),
		truncate(b.Error, 300),
		b.Output,
	}
}

// Workbook builds the XLSX export of a batch: a Books sheet with one row
// per file and a Summary sheet with the totals.
func Workbook(s models.BatchSummary) (*excelize.File, error) {
	f := excelize.NewFile()
	// NewFile starts with Sheet1; rename it rather than leave it empty
	if err := f.SetSheetName("Sheet1", booksSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}
	idx, err := f.GetSheetIndex(booksSheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(idx)

	if err := writeRow(f, booksSheet, 1, toAny(BookHeaders)); err != nil {
		return nil, err
	}
	for i, b := range s.Books {
		if err := writeRow(f, booksSheet, i+2, BookRow(b)); err != nil {
			return nil, err
		}
	}
	if err := f.SetPanes(booksSheet, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	}); err != nil {
		return nil, err
	}
	_ = f.SetColWidth(booksSheet, "A", "B", 28)
	_ = f.SetColWidth(booksSheet, "C", "D", 12)
	_ = f.SetColWidth(booksSheet, "E", "F", 40)
	_ = f.SetColWidth(booksSheet, "G", "H", 12)
	_ = f.SetColWidth(booksSheet, "I", "I", 60)
	_ = f.SetColWidth(booksSheet, "J", "J", 60)

	summary := [][]any{
		{"Run ID", s.RunID},
		{"Input Directory", s.InputDir},
		{"Pattern", s.Pattern},
		{"Started", stamp(s.StartedAt)},
		{"Finished", stamp(s.FinishedAt)},
		{"Total Files", s.Total},
		{"Fully Processed", s.Completed},
		{"Partially Processed", s.Partial},
		{"Failed", s.Failed},
		{"Skipped", s.Skipped},
		{"Excluded", strings.Join(s.Excluded, ", ")},
		{"Success Rate", fmt.Sprintf("%.1f%%", s.SuccessRate()*100)},
	}
	for i, row := range summary {
		if err := writeRow(f, summarySheet, i+1, row); err != nil {
			return nil, err
		}
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 22)
	_ = f.SetColWidth(summarySheet, "B", "B", 48)

	return f, nil
}

// WriteWorkbook saves the batch workbook to path.
func WriteWorkbook(path string, s models.BatchSummary) error {
	log := logger.WithComponent("report")
	f, err := Workbook(s)
	if err != nil {
		return fmt.Errorf("build workbook: %w", err)
	}
	defer f.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	log.Info().Str("path", path).Int("rows", len(s.Books)).Msg("Workbook written")
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
