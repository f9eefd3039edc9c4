// Package cmd is the archivist command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"archivist/internal/config"
	"archivist/internal/logger"
	"archivist/internal/pipeline"
)

var version = "1.0.0"

// Exit codes.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitInterrupted = 130
)

// errUnrecovered marks a run that finished with a failure nothing recovered
// from. Its details were already printed.
var errUnrecovered = errors.New("processing failed")

var (
	env          *config.Config
	outputFlag   string
	pipelineFlag string
)

var rootCmd = &cobra.Command{
	Use:   "archivist",
	Short: "Archivist - turn PDF books into validated datasets and search indexes",
	Long: `Archivist ingests PDF books page by page and writes a canonical JSONL
dataset after every stage:

  structural -> structure_detect -> summarize -> extended -> finalize -> chunk -> embed

Text comes from native PDF extraction with an OCR fallback chain (tesseract,
Google Cloud Vision, Document AI). Every dataset carries a manifest hash that
is verified on load. Batch runs keep a checkpoint so an interrupted run
resumes where it stopped.

Environment variables are read from .env when present:
  ARCHIVIST_OUTPUT               - Output directory (default: data)
  ARCHIVIST_CONFIG               - Pipeline YAML file
  GOOGLE_APPLICATION_CREDENTIALS - Service account JSON file, OR
  GOOGLE_CREDENTIALS             - Inline service account JSON
  OPENAI_API_KEY                 - Enables LM field extraction and OpenAI embeddings`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if outputFlag != "" {
			env.OutputDir = outputFlag
		}
		if pipelineFlag != "" {
			env.PipelineFile = pipelineFlag
		}
	},
}

// Execute runs the command line with the loaded environment and returns the
// process exit code.
func Execute(cfg *config.Config) int {
	log := logger.WithComponent("cmd")
	env = cfg

	err := rootCmd.Execute()
	code := exitCode(err)
	switch {
	case err == nil:
	case errors.Is(err, errUnrecovered):
		log.Debug().Err(err).Msg("Command finished with failures")
	default:
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return code
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, pipeline.ErrInterrupted), errors.Is(err, context.Canceled):
		return ExitInterrupted
	default:
		return ExitFailure
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Warn().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, stopping after checkpoint")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func loadPipeline() (*config.Pipeline, error) {
	p, err := config.LoadPipeline(env.PipelineFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrConfiguration, err)
	}
	return p, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFlag, "output", "", "Output directory (overrides ARCHIVIST_OUTPUT)")
	rootCmd.PersistentFlags().StringVar(&pipelineFlag, "config", "", "Pipeline YAML file (overrides ARCHIVIST_CONFIG)")
}
