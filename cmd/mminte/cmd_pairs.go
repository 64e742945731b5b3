package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mminte/internal/modelio"
	"mminte/internal/tables"
)

func (c *cli) pairsCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "pairs [models-dir]",
		Short: "List every pair of models in a folder",
		Long: `Writes one line per unordered pair of model files found directly in
the folder (default paths.models_dir). The list is the input of build and run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := c.cfg.Paths.ModelsDir
			if len(args) == 1 {
				dir = args[0]
			}
			names, err := modelio.ListModels(dir)
			if err != nil {
				return err
			}
			pairs := tables.AllPairs(names)

			if output == "" {
				return tables.WritePairs(cmd.OutOrStdout(), pairs)
			}
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create pair list: %w", err)
			}
			if err := tables.WritePairs(f, pairs); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d pairs of %d models written to %s\n", len(pairs), len(names), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Pair list file (default stdout)")
	return cmd
}

// readPairs loads the pair list at path.
func readPairs(path string) ([]tables.Pair, error) {
	if path == "" {
		return nil, fmt.Errorf("--pairs is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pair list: %w", err)
	}
	defer f.Close()
	pairs, err := tables.ReadPairs(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pairs, nil
}
