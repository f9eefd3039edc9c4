package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const pdfcpuResource = "pdfcpu"

func pdfcpuContext(doc *Document) (*model.Context, error) {
	v, err := doc.Resource(pdfcpuResource, func() (_ any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = NewExtractError("pdfcpu.Read", ErrInvalidPDF, fmt.Sprint(r))
			}
		}()
		data, err := doc.Bytes()
		if err != nil {
			return nil, err
		}
		ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), model.NewDefaultConfiguration())
		if err != nil {
			return nil, WrapExtractError("pdfcpu.Read", ErrInvalidPDF, err.Error())
		}
		return ctx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Context), nil
}

// PdfcpuStrategy is the alternate native parser. It decodes text operators
// from the page content stream with github.com/pdfcpu/pdfcpu, which copes with
// files whose text layer ledongthuc/pdf cannot map.
type PdfcpuStrategy struct{}

// NewPdfcpuStrategy creates the "pdfcpu" strategy.
func NewPdfcpuStrategy() *PdfcpuStrategy {
	return &PdfcpuStrategy{}
}

func (s *PdfcpuStrategy) Name() string { return "pdfcpu" }
func (s *PdfcpuStrategy) OCR() bool    { return false }

func (s *PdfcpuStrategy) Extract(ctx context.Context, doc *Document, page int) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Failed(NewExtractError("pdfcpu.Extract", ErrInvalidPDF, fmt.Sprint(r)))
		}
	}()

	pctx, err := pdfcpuContext(doc)
	if err != nil {
		return Failed(err)
	}
	if page < 1 || page > pctx.PageCount {
		return Failed(NewExtractError("pdfcpu.Extract", ErrPageOutOfRange, fmt.Sprintf("page %d of %d", page, pctx.PageCount)))
	}

	r, err := pdfcpu.ExtractPageContent(pctx, page)
	if err != nil {
		return Failed(WrapExtractError("pdfcpu.Extract", err, fmt.Sprintf("page %d", page)))
	}
	if r == nil {
		return Empty()
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Failed(WrapExtractError("pdfcpu.Extract", err, "read content stream"))
	}
	return Text(TextFromContentStream(data))
}

var pdfStringRe = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)`)

// TextFromContentStream pulls the literal strings shown by Tj, TJ and '
// operators, breaking lines on T*, Td and TD.
func TextFromContentStream(data []byte) string {
	var sb strings.Builder
	newline := func() {
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteByte('\n')
		}
	}

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		switch {
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteString(DecodePDFString(m[1]))
			}
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			newline()
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteString(DecodePDFString(m[1]))
			}
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")), bytes.Equal(line, []byte("T*")):
			newline()
		}
	}
	return cleanStreamText(sb.String())
}

// DecodePDFString resolves the escape sequences of a PDF literal string.
func DecodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch c := raw[i]; c {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case 'b', 'f':
		case '\\', '(', ')':
			sb.WriteByte(c)
		default:
			if c < '0' || c > '7' {
				sb.WriteByte(c)
				continue
			}
			val := int(c - '0')
			for k := 0; k < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; k++ {
				i++
				val = val*8 + int(raw[i]-'0')
			}
			sb.WriteByte(byte(val))
		}
	}
	return sb.String()
}

func cleanStreamText(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Map(func(r rune) rune {
			if r == '\t' || unicode.IsPrint(r) {
				return r
			}
			return -1
		}, line)
		out = append(out, strings.TrimSpace(line))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
