package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"archivist/internal/dataset"
	"archivist/internal/logger"
)

var mergeCmd = &cobra.Command{
	Use:   "merge [dataset.jsonl...]",
	Short: "Merge datasets into one corpus file",
	Long: `Concatenate the cards of several datasets into one dataset. Cards are
renumbered sequentially; the original segment id and book are kept in
source_segment_id and source_book.`,
	Example: `  archivist merge data/datasets/final/*.dataset.jsonl -o corpus.dataset.jsonl`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runMerge,
}

func init() {
	rootCmd.AddCommand(mergeCmd)

	mergeCmd.Flags().StringP("out", "o", "", "Merged dataset path [REQUIRED]")
	_ = mergeCmd.MarkFlagRequired("out")
}

func runMerge(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("merge")
	out, _ := cmd.Flags().GetString("out")

	store := dataset.NewStore()
	var datasets []*dataset.Dataset
	for _, path := range args {
		ds, err := store.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		datasets = append(datasets, ds)
	}

	merged, err := store.Merge(datasets, out)
	if err != nil {
		return err
	}
	log.Info().Int("inputs", len(datasets)).Str("out", out).Msg("Merge finished")
	fmt.Fprintf(cmd.OutOrStdout(), "Merged %d datasets, %d cards -> %s\n", len(datasets), len(merged.Cards), out)
	return nil
}
