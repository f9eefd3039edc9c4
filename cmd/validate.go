package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"archivist/internal/dataset"
	"archivist/internal/logger"
)

var validateCmd = &cobra.Command{
	Use:   "validate [dataset.jsonl...]",
	Short: "Verify dataset files",
	Long: `Load each dataset, verify its manifest hash and card count, and check the
header and cards against the required fields of the dataset stage.`,
	Example: `  archivist validate data/datasets/final/*.dataset.jsonl
  archivist validate book.dataset.jsonl --stage final`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().String("stage", "", "Expected dataset stage (default: the header stage)")
	validateCmd.Flags().Int("max-problems", 20, "Problems printed per file")
}

func runValidate(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("validate")
	stage, _ := cmd.Flags().GetString("stage")
	maxProblems, _ := cmd.Flags().GetInt("max-problems")
	w := cmd.OutOrStdout()

	store := dataset.NewStore()
	bad := 0
	for _, path := range args {
		ds, err := store.Load(path)
		if err != nil {
			bad++
			switch {
			case errors.Is(err, dataset.ErrManifestMismatch):
				fmt.Fprintf(w, "✗ %s: manifest mismatch, the file was modified after it was written\n", path)
			case errors.Is(err, dataset.ErrFormat):
				fmt.Fprintf(w, "✗ %s: not a dataset file (%v)\n", path, err)
			default:
				fmt.Fprintf(w, "✗ %s: %v\n", path, err)
			}
			continue
		}

		want := stage
		if want == "" {
			want = ds.Stage()
		}
		problems := dataset.ValidateStructure(ds.Header, ds.Cards, want)
		problems = append(problems, ds.Warnings...)
		if len(problems) == 0 {
			fmt.Fprintf(w, "✓ %s: %s, %d cards\n", path, want, len(ds.Cards))
			continue
		}

		bad++
		fmt.Fprintf(w, "✗ %s: %d problems\n", path, len(problems))
		for i, p := range problems {
			if i == maxProblems {
				fmt.Fprintf(w, "    ... %d more\n", len(problems)-maxProblems)
				break
			}
			fmt.Fprintf(w, "    - %s\n", p)
		}
	}

	log.Info().Int("files", len(args)).Int("invalid", bad).Msg("Validation finished")
	if bad > 0 {
		return errUnrecovered
	}
	return nil
}
