package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"archivist/internal/dataset"
	"archivist/internal/extract"
	"archivist/internal/logger"
)

var ocrCmd = &cobra.Command{
	Use:   "ocr [pdf-file]",
	Short: "Run the text extraction chain on one page",
	Long: `Run the configured text extraction chain on a single page and print which
strategies were tried, what each returned and which result was accepted.

Native strategies come first; OCR engines run only when the native preview
looks like a scanned page. Cloud engines are available when
GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS is set.`,
	Example: `  # Inspect page 12
  archivist ocr book.pdf --page 12

  # Include detected tables, as JSON
  archivist ocr book.pdf --page 3 --tables --json`,
	Args: cobra.ExactArgs(1),
	RunE: runOCR,
}

// OCROutput is the --json output.
type OCROutput struct {
	File     string              `json:"file"`
	Pages    int                 `json:"pages"`
	Chain    []string            `json:"chain"`
	Result   *extract.PageResult `json:"result"`
	Tables   []dataset.Table     `json:"tables,omitempty"`
	Duration string              `json:"processing_duration"`
	Metadata *extract.Metadata   `json:"metadata,omitempty"`
}

func init() {
	rootCmd.AddCommand(ocrCmd)

	ocrCmd.Flags().IntP("page", "p", 1, "1-based page number")
	ocrCmd.Flags().Bool("tables", false, "Also run table extraction")
	ocrCmd.Flags().Bool("json", false, "Output as JSON")
	ocrCmd.Flags().Int("timeout", 300, "Processing timeout in seconds")
}

func runOCR(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("ocr")

	page, _ := cmd.Flags().GetInt("page")
	withTables, _ := cmd.Flags().GetBool("tables")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	pdfPath := args[0]

	p, err := loadPipeline()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(log)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, time.Duration(timeoutSecs)*time.Second)
	defer cancelTimeout()

	doc, err := extract.OpenDocument(pdfPath)
	if err != nil {
		return handleOCRError(err, log)
	}
	defer doc.Close()

	meta, err := extract.ReadMetadata(doc)
	if err != nil {
		return handleOCRError(err, log)
	}
	if page < 1 || page > meta.PageCount {
		return handleOCRError(fmt.Errorf("%w: page %d of %d", extract.ErrPageOutOfRange, page, meta.PageCount), log)
	}

	ex, err := extract.NewExtractors(ctx, p.Structural, extract.BuildOptions{Env: env})
	if err != nil {
		return handleOCRError(err, log)
	}
	defer func() {
		if err := ex.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close OCR clients")
		}
	}()

	log.Info().
		Str("file", pdfPath).
		Int("page", page).
		Strs("chain", ex.Text.Names()).
		Msg("Extracting page")

	began := time.Now()
	res, err := ex.Text.ExtractPage(ctx, doc, page)
	if err != nil {
		return handleOCRError(err, log)
	}
	out := OCROutput{
		File:     doc.Name,
		Pages:    meta.PageCount,
		Chain:    ex.Text.Names(),
		Result:   res,
		Metadata: meta,
	}
	if withTables {
		out.Tables, err = ex.Tables.ExtractTables(ctx, doc, page)
		if err != nil {
			log.Warn().Err(err).Msg("Table extraction failed")
		}
	}
	out.Duration = time.Since(began).Round(time.Millisecond).String()

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), out)
	}
	printPage(cmd.OutOrStdout(), out)
	return nil
}

func printPage(w io.Writer, out OCROutput) {
	res := out.Result
	fmt.Fprintf(w, "File:    %s (%d pages)\n", out.File, out.Pages)
	fmt.Fprintf(w, "Chain:   %s\n", strings.Join(out.Chain, " -> "))
	fmt.Fprintf(w, "Page:    %d\n", res.Page)
	fmt.Fprintf(w, "Verdict: %s\n", res.Verdict)
	fmt.Fprintf(w, "Method:  %s (ocr: %t)\n", res.Method, res.OCRUsed)
	if res.Confidence != nil {
		fmt.Fprintf(w, "Confidence: %.3f\n", *res.Confidence)
	}
	fmt.Fprintf(w, "Time:    %s\n\nAttempts:\n", out.Duration)
	for _, a := range res.Attempts {
		fmt.Fprintf(w, "  %-12s %-10s %5d chars", a.Strategy, a.Outcome, a.Chars)
		if a.Error != "" {
			fmt.Fprintf(w, "  %s", a.Error)
		}
		fmt.Fprintln(w)
	}
	for _, t := range out.Tables {
		fmt.Fprintf(w, "\nTable %s (%dx%d):\n%s\n", t.TableID, t.Rows, t.Cols, t.Markdown)
	}
	fmt.Fprintln(w, "\n"+strings.Repeat("-", 50))
	fmt.Fprintln(w, res.Text)
}

// handleOCRError turns extraction failures into user-facing messages.
func handleOCRError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("OCR processing failed")

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("OCR processing timed out. Try increasing --timeout")
	case errors.Is(err, context.Canceled), errors.Is(err, extract.ErrPageOutOfRange):
		return err
	case errors.Is(err, extract.ErrDocumentNotFound):
		return fmt.Errorf("file not found: %w", err)
	case errors.Is(err, extract.ErrInvalidPDF):
		return fmt.Errorf("invalid or corrupted PDF file. Please check the file integrity: %w", err)
	case errors.Is(err, extract.ErrNoStrategies):
		return fmt.Errorf("no extraction strategy could be set up. Check structural.text_extraction in the pipeline config: %w", err)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("permission denied reading the PDF: %w", err)
	default:
		return fmt.Errorf("OCR processing failed: %w", err)
	}
}
