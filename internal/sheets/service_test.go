package sheets

import (
	"context"
	"strings"
	"testing"
	"time"

	"archivist/internal/config"
	"archivist/internal/logger"
	"archivist/pkg/models"
)

func TestExtractSpreadsheetID(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{"https://docs.google.com/spreadsheets/d/1AbC-d_E/edit#gid=0", "1AbC-d_E", false},
		{"https://docs.google.com/spreadsheets/d/xyz", "xyz", false},
		{"https://example.com/sheet", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := extractSpreadsheetID(tt.url)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("extractSpreadsheetID(%q) = %q, %v", tt.url, got, err)
		}
	}
}

func TestSummaryToValues(t *testing.T) {
	s := &Service{
		log: logger.WithComponent("sheets"),
		now: func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) },
	}
	summary := models.BatchSummary{
		RunID: "run-7",
		Books: []models.BookResult{
			{Book: "a", File: "a.pdf", Status: models.StatusCompleted, StagesCompleted: []string{"structural", "chunk"}},
			{Book: "b", File: "b.pdf", Status: models.StatusSkipped},
			{Book: "c", File: "c.pdf", Status: models.StatusFailed, Error: "structural: no pages"},
		},
	}
	values := s.summaryToValues(summary)
	if len(values) != 2 {
		t.Fatalf("rows = %d, want 2", len(values))
	}
	row := values[0]
	if len(row) != len(Headers) {
		t.Fatalf("row has %d columns, headers %d", len(row), len(Headers))
	}
	if row[4] != "structural, chunk" || row[len(row)-2] != "run-7" || row[len(row)-1] != "2024-03-01 09:30:00" {
		t.Errorf("row = %v", row)
	}
	if values[1][2] != models.StatusFailed {
		t.Errorf("second row status = %v", values[1][2])
	}
	if column != "L" {
		t.Errorf("column = %s", column)
	}
}

func TestNewSheetsServiceNoCredentials(t *testing.T) {
	_, err := NewSheetsService(context.Background(), &config.Config{
		GoogleSheetURL: "https://docs.google.com/spreadsheets/d/abc/edit",
	})
	if err == nil || !strings.Contains(err.Error(), "GOOGLE_APPLICATION_CREDENTIALS") {
		t.Errorf("err = %v", err)
	}
}
