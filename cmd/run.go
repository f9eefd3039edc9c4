package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"archivist/internal/logger"
	"archivist/internal/pipeline"
	"archivist/internal/stages"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline on one PDF or dataset",
	Long: `Run a range of stages on a single input. The structural stage reads a PDF;
every later stage reads the dataset written by the stage before it, so a run
can resume from any stage given the matching dataset.

A failure of structural or finalize stops the run. Other stage failures are
recorded and the next stage reads the last good dataset.`,
	Example: `  # Full pipeline
  archivist run --input books/ddia.pdf

  # Re-run the tail of the pipeline from an existing dataset
  archivist run --input data/datasets/final/ddia.dataset.jsonl --start chunk

  # Show the plan only
  archivist run --input books/ddia.pdf --end finalize --dry-run`,
	Args: cobra.NoArgs,
	RunE: runSingle,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("input", "i", "", "PDF file or stage dataset [REQUIRED]")
	runCmd.Flags().String("start", stages.Structural, "First stage ("+strings.Join(stages.Order, ", ")+")")
	runCmd.Flags().String("end", stages.Embed, "Last stage")
	runCmd.Flags().Bool("dry-run", false, "Print the plan without running")
	runCmd.Flags().Bool("no-validation", false, "Skip dataset validation between stages")
	runCmd.Flags().Bool("json", false, "Print the result as JSON")
	_ = runCmd.MarkFlagRequired("input")
}

func runSingle(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("run")

	input, _ := cmd.Flags().GetString("input")
	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	noValidation, _ := cmd.Flags().GetBool("no-validation")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if _, err := os.Stat(input); err != nil {
		return fmt.Errorf("input %s: %w", input, err)
	}
	p, err := loadPipeline()
	if err != nil {
		return err
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

	res, err := o.RunSingle(ctx, input, start, end)
	if res != nil {
		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
		} else {
			printResult(cmd.OutOrStdout(), res)
		}
	}
	if err != nil {
		return err
	}
	if res.Status == pipeline.StatusFailed {
		return errUnrecovered
	}
	return nil
}

func printResult(w io.Writer, res *pipeline.Result) {
	fmt.Fprintf(w, "Book:   %s\n", res.Book)
	fmt.Fprintf(w, "Input:  %s\n", res.Input)
	fmt.Fprintf(w, "Stages: %s\n", strings.Join(res.Planned, " -> "))
	if res.Status == pipeline.StatusDryRun {
		fmt.Fprintln(w, "Dry run, nothing executed")
		return
	}
	fmt.Fprintln(w)
	for _, s := range res.Stages {
		mark := "✓"
		if s.Status != "success" {
			mark = "✗"
		}
		fmt.Fprintf(w, "  %s %-16s %6.2fs", mark, s.Stage, s.Seconds)
		if s.Error != "" {
			fmt.Fprintf(w, "  %s", s.Error)
		}
		fmt.Fprintln(w)
		for _, v := range s.Warnings {
			fmt.Fprintf(w, "      quality: %s\n", v)
		}
	}
	for _, v := range res.Warnings {
		fmt.Fprintf(w, "  ! %s: %d validation problems\n", v.Stage, v.Problems)
	}
	fmt.Fprintf(w, "\nStatus: %s\n", res.Status)
	if res.Output != "" {
		fmt.Fprintf(w, "Output: %s\n", res.Output)
	}
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
