package extract

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

const pdftextResource = "ledongthuc"

type pdftextHandle struct {
	file   *os.File
	reader *pdf.Reader
}

func (h *pdftextHandle) Close() error {
	return h.file.Close()
}

func openPdftext(doc *Document) (*pdftextHandle, error) {
	v, err := doc.Resource(pdftextResource, func() (any, error) {
		f, r, err := pdf.Open(doc.Path)
		if err != nil {
			return nil, WrapExtractError("pdftext.Open", ErrInvalidPDF, err.Error())
		}
		return &pdftextHandle{file: f, reader: r}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*pdftextHandle), nil
}

func pdftextPage(doc *Document, page int) (pdf.Page, error) {
	h, err := openPdftext(doc)
	if err != nil {
		return pdf.Page{}, err
	}
	if page < 1 || page > h.reader.NumPage() {
		return pdf.Page{}, NewExtractError("pdftext.Page", ErrPageOutOfRange, fmt.Sprintf("page %d of %d", page, h.reader.NumPage()))
	}
	return h.reader.Page(page), nil
}

// PdftextStrategy is the primary native parser, reading the page text layer
// with github.com/ledongthuc/pdf.
type PdftextStrategy struct{}

// NewPdftextStrategy creates the "pdftext" strategy.
func NewPdftextStrategy() *PdftextStrategy {
	return &PdftextStrategy{}
}

func (s *PdftextStrategy) Name() string { return "pdftext" }
func (s *PdftextStrategy) OCR() bool    { return false }

// Extract reads the plain text of the page. Parser panics on malformed
// content streams are turned into failures.
func (s *PdftextStrategy) Extract(ctx context.Context, doc *Document, page int) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Failed(NewExtractError("pdftext.Extract", ErrInvalidPDF, fmt.Sprint(r)))
		}
	}()

	p, err := pdftextPage(doc, page)
	if err != nil {
		return Failed(err)
	}
	if p.V.IsNull() {
		return Empty()
	}
	text, err := p.GetPlainText(nil)
	if err != nil {
		return Failed(WrapExtractError("pdftext.Extract", err, fmt.Sprintf("page %d", page)))
	}
	return Text(text)
}

// PdftextPageCount returns the page count seen by ledongthuc/pdf.
func PdftextPageCount(doc *Document) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewExtractError("pdftext.PageCount", ErrInvalidPDF, fmt.Sprint(r))
		}
	}()
	h, err := openPdftext(doc)
	if err != nil {
		return 0, err
	}
	return h.reader.NumPage(), nil
}

// Glyph is one positioned text run on a page.
type Glyph struct {
	S string
	X float64
	Y float64
	W float64
}

// GlyphTableStrategy detects tables from glyph positions: glyphs are grouped
// into rows by baseline, rows are split into cells at wide horizontal gaps,
// and runs of consecutive multi-cell rows become candidate tables.
type GlyphTableStrategy struct {
	RowTolerance float64
	ColumnGap    float64
	MinCols      int
}

// NewGlyphTableStrategy creates the "pdftext-layout" table strategy.
func NewGlyphTableStrategy(rowTolerance, columnGap float64, minCols int) *GlyphTableStrategy {
	return &GlyphTableStrategy{RowTolerance: rowTolerance, ColumnGap: columnGap, MinCols: minCols}
}

func (s *GlyphTableStrategy) Name() string { return "pdftext-layout" }

func (s *GlyphTableStrategy) ExtractTables(ctx context.Context, doc *Document, page int) (tables [][][]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewExtractError("tables.Extract", ErrInvalidPDF, fmt.Sprint(r))
		}
	}()

	p, err := pdftextPage(doc, page)
	if err != nil {
		return nil, err
	}
	if p.V.IsNull() {
		return nil, nil
	}

	content := p.Content()
	glyphs := make([]Glyph, 0, len(content.Text))
	for _, t := range content.Text {
		glyphs = append(glyphs, Glyph{S: t.S, X: t.X, Y: t.Y, W: t.W})
	}
	rows := GroupCells(glyphs, s.RowTolerance, s.ColumnGap)
	return DetectTables(rows, s.MinCols), nil
}

// GroupCells groups glyphs into rows top to bottom, each row split into cells
// wherever the horizontal gap between neighbours exceeds columnGap.
func GroupCells(glyphs []Glyph, rowTolerance, columnGap float64) [][]string {
	var filtered []Glyph
	for _, g := range glyphs {
		if strings.TrimSpace(g.S) != "" {
			filtered = append(filtered, g)
		}
	}
	if len(filtered) == 0 {
		return nil
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if math.Abs(filtered[i].Y-filtered[j].Y) <= rowTolerance {
			return filtered[i].X < filtered[j].X
		}
		return filtered[i].Y > filtered[j].Y
	})

	var rows [][]Glyph
	for _, g := range filtered {
		n := len(rows)
		if n > 0 && math.Abs(rows[n-1][0].Y-g.Y) <= rowTolerance {
			rows[n-1] = append(rows[n-1], g)
			continue
		}
		rows = append(rows, []Glyph{g})
	}

	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		sort.SliceStable(row, func(i, j int) bool { return row[i].X < row[j].X })

		var cells []string
		var cell strings.Builder
		end := row[0].X
		for i, g := range row {
			gap := g.X - end
			if i > 0 && gap > columnGap {
				cells = append(cells, strings.TrimSpace(cell.String()))
				cell.Reset()
			} else if i > 0 && gap > 1 && !strings.HasSuffix(cell.String(), " ") {
				cell.WriteByte(' ')
			}
			cell.WriteString(g.S)
			if e := g.X + g.W; e > end || i == 0 {
				end = e
			}
		}
		cells = append(cells, strings.TrimSpace(cell.String()))
		out = append(out, cells)
	}
	return out
}

// DetectTables returns runs of consecutive rows that have at least minCols
// cells. Single-row runs are dropped.
func DetectTables(rows [][]string, minCols int) [][][]string {
	if minCols < 2 {
		minCols = 2
	}
	var tables [][][]string
	var current [][]string
	flush := func() {
		if len(current) >= 2 {
			tables = append(tables, current)
		}
		current = nil
	}
	for _, row := range rows {
		if len(row) >= minCols {
			current = append(current, row)
			continue
		}
		flush()
	}
	flush()
	return tables
}
