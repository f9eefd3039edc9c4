package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"archivist/internal/config"
	"archivist/internal/dataset"
	"archivist/internal/logger"
	"archivist/internal/retry"
)

// TableStrategy finds candidate tables on one page. Each candidate is a list
// of rows of cell strings; rows may be ragged.
type TableStrategy interface {
	Name() string
	ExtractTables(ctx context.Context, doc *Document, page int) ([][][]string, error)
}

// TableChain runs table strategies with the same retry shape as the text
// chain. The first strategy that yields an accepted table wins.
type TableChain struct {
	strategies []TableStrategy
	minRows    int
	minCols    int
	retry      retry.Policy
	log        zerolog.Logger
}

// NewTableChain creates a table chain. A nil or empty strategy list yields a
// chain that never finds tables.
func NewTableChain(strategies []TableStrategy, cfg config.TableExtractionConfig, policy retry.Policy) *TableChain {
	if !cfg.Enabled {
		strategies = nil
	}
	return &TableChain{
		strategies: strategies,
		minRows:    cfg.MinRows,
		minCols:    cfg.MinCols,
		retry:      policy,
		log:        logger.WithComponent("tables"),
	}
}

// ExtractTables returns the accepted tables of the 1-based page. Strategy
// failures are logged and never abort the page.
func (t *TableChain) ExtractTables(ctx context.Context, doc *Document, page int) ([]dataset.Table, error) {
	for _, s := range t.strategies {
		var candidates [][][]string
		err := t.retry.Do(ctx, func(try int) error {
			var err error
			candidates, err = s.ExtractTables(ctx, doc, page)
			if err != nil {
				t.log.Warn().
					Str("file", doc.Name).
					Int("page", page).
					Str("strategy", s.Name()).
					Int("attempt", try+1).
					Err(err).
					Msg("Table extraction attempt failed")
			}
			return err
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			t.log.Error().
				Str("file", doc.Name).
				Int("page", page).
				Str("strategy", s.Name()).
				Err(err).
				Msg("Table extraction failed")
			continue
		}

		tables := t.accept(candidates)
		if len(tables) > 0 {
			t.log.Debug().
				Str("file", doc.Name).
				Int("page", page).
				Str("strategy", s.Name()).
				Int("tables", len(tables)).
				Msg("Tables found")
			return tables, nil
		}
	}
	return nil, nil
}

func (t *TableChain) accept(candidates [][][]string) []dataset.Table {
	var tables []dataset.Table
	for _, raw := range candidates {
		if len(raw) == 0 || len(raw) < t.minRows || len(raw[0]) < t.minCols {
			continue
		}
		tables = append(tables, BuildTable(raw, len(tables)+1))
	}
	return tables
}

// BuildTable pads raw into a rectangular grid of trimmed cells and renders it
// as markdown. index is 1-based.
func BuildTable(raw [][]string, index int) dataset.Table {
	width := 0
	for _, row := range raw {
		if len(row) > width {
			width = len(row)
		}
	}

	grid := make([][]string, len(raw))
	for i, row := range raw {
		cells := make([]string, width)
		for j, cell := range row {
			cells[j] = strings.TrimSpace(cell)
		}
		grid[i] = cells
	}

	return dataset.Table{
		TableID:  fmt.Sprintf("table_%d", index),
		Rows:     len(grid),
		Cols:     width,
		Data:     grid,
		Markdown: Markdown(grid),
	}
}

// Markdown renders a rectangular grid with its first row as header.
func Markdown(grid [][]string) string {
	if len(grid) == 0 {
		return ""
	}
	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteString("| ")
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString(" |")
	}

	writeRow(grid[0])
	b.WriteString("\n|")
	b.WriteString(strings.Repeat("---|", len(grid[0])))
	for _, row := range grid[1:] {
		b.WriteByte('\n')
		writeRow(row)
	}
	return b.String()
}
