package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"archivist/internal/config"
	"archivist/internal/logger"
	"archivist/internal/pipeline"
	"archivist/internal/report"
	"archivist/internal/sheets"
	"archivist/internal/stages"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Process every PDF in a directory with checkpointing",
	Long: `Process all files matching a pattern in a directory, in name order, one at
a time. Progress is saved to a checkpoint after each file; books already
marked processed are skipped on the next run. A file whose run fails is
retried up to batch.max_retries times.

On interrupt the checkpoint is saved and the command exits with code 130.
The batch report is written to batch.report_file. An XLSX workbook and a
Google Sheet append are optional.`,
	Example: `  # Process a library
  archivist batch --input ./books

  # Stop at the first failed book
  archivist batch --input ./books --stop-on-error

  # Only extract and finalize, write a workbook and append to GOOGLE_SHEET_URL
  archivist batch --input ./books --end finalize --workbook report.xlsx --sheets`,
	Args: cobra.NoArgs,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().StringP("input", "i", "", "Input directory [REQUIRED]")
	batchCmd.Flags().String("pattern", "*.pdf", "Glob pattern of input files")
	batchCmd.Flags().String("start", stages.Structural, "First stage")
	batchCmd.Flags().String("end", stages.Embed, "Last stage")
	batchCmd.Flags().Bool("stop-on-error", false, "Stop at the first file that fails")
	batchCmd.Flags().Bool("dry-run", false, "List files and stages without running")
	batchCmd.Flags().Bool("no-validation", false, "Skip dataset validation between stages")
	batchCmd.Flags().String("report", "", "Batch report path (default: batch.report_file)")
	batchCmd.Flags().String("workbook", "", "Write an XLSX workbook to this path")
	batchCmd.Flags().Bool("sheets", false, "Append results to GOOGLE_SHEET_URL")
	_ = batchCmd.MarkFlagRequired("input")
}

func runBatch(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("batch")

	dir, _ := cmd.Flags().GetString("input")
	pattern, _ := cmd.Flags().GetString("pattern")
	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")
	stopOnError, _ := cmd.Flags().GetBool("stop-on-error")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	noValidation, _ := cmd.Flags().GetBool("no-validation")
	reportPath, _ := cmd.Flags().GetString("report")
	workbookPath, _ := cmd.Flags().GetString("workbook")
	toSheets, _ := cmd.Flags().GetBool("sheets")

	p, err := loadPipeline()
	if err != nil {
		return err
	}
	if toSheets && env.GoogleSheetURL == "" {
		return fmt.Errorf("%w: --sheets needs GOOGLE_SHEET_URL", pipeline.ErrConfiguration)
	}

	ctx, cancel := signalContext(log)
	defer cancel()

	o, closeFn := pipeline.Build(env, p, pipeline.Options{
		ValidateStages: !noValidation,
		DryRun:         dryRun,
		Start:          start,
		End:            end,
	})
	defer func() {
		if err := closeFn(); err != nil {
			log.Warn().Err(err).Msg("Failed to release extractors")
		}
	}()

	continueOnError := p.Batch.ContinueOnError && !stopOnError
	res, runErr := o.RunBatch(ctx, dir, pattern, continueOnError)
	if res == nil || errors.Is(runErr, pipeline.ErrNoInputFiles) {
		return runErr
	}
	res.WriteScoreboard(cmd.OutOrStdout())
	if res.DryRun {
		return nil
	}

	if reportPath == "" {
		reportPath = p.Batch.ReportFile
	}
	if workbookPath == "" {
		workbookPath = p.Batch.WorkbookFile
	}
	writeReports(ctx, log, res, reportOptions{
		json:     report.Resolve(env.OutputDir, reportPath),
		workbook: report.Resolve(env.OutputDir, workbookPath),
		sheets:   toSheets,
	})

	if runErr != nil {
		return runErr
	}
	if res.HasFailures() {
		return errUnrecovered
	}
	return nil
}

type reportOptions struct {
	json     string
	workbook string
	sheets   bool
}

// writeReports never fails the batch; report errors are logged.
func writeReports(ctx context.Context, log zerolog.Logger, res *pipeline.BatchResult, opts reportOptions) {
	summary := res.Summary()

	if opts.json != "" {
		if err := report.WriteJSON(opts.json, summary); err != nil {
			log.Error().Err(err).Msg("Failed to write batch report")
		} else {
			log.Info().Str("path", opts.json).Msg("Batch report written")
		}
	}
	if opts.workbook != "" {
		if err := report.WriteWorkbook(opts.workbook, summary); err != nil {
			log.Error().Err(err).Msg("Failed to write workbook")
		}
	}
	if opts.sheets {
		// interrupted batches are reported too
		if err := appendToSheet(context.WithoutCancel(ctx), env, res); err != nil {
			log.Error().Err(err).Msg("Failed to append results to Google Sheet")
		}
	}
}

func appendToSheet(ctx context.Context, cfg *config.Config, res *pipeline.BatchResult) error {
	svc, err := sheets.NewSheetsService(ctx, cfg)
	if err != nil {
		return err
	}
	return svc.WriteBatchResults(ctx, res.Summary(), cfg.GoogleSheetWorksheet)
}
