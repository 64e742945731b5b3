package main

import (
	"github.com/spf13/cobra"
)

func (c *cli) runCmd() *cobra.Command {
	var pairsPath, dietPath string
	cmd := &cobra.Command{
		Use:   "run --pairs <file>",
		Short: "Build, grow and classify in one pass",
		Long: `Runs the whole pipeline for every pair: the community model is
assembled and written to the blob store, evaluated, and classified. Growth
rows are appended to the growth table and the interaction table is
rewritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, err := readPairs(pairsPath)
			if err != nil {
				return err
			}
			d, err := c.evalDiet(dietPath)
			if err != nil {
				return err
			}
			a, err := c.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			var out outputs
			defer out.Close()
			if err := out.openGrowth(c.cfg.Paths.GrowthTable); err != nil {
				return err
			}
			if err := out.openInteractions(c.cfg.Paths.InteractionTable, false); err != nil {
				return err
			}

			sum, err := a.pipeline(d, nil).Run(cmd.Context(), "", pairs, out.growth, out.interactions)
			return a.report(cmd.OutOrStdout(), sum, err)
		},
	}
	cmd.Flags().StringVar(&pairsPath, "pairs", "", "Pair list file (see `mminte pairs`)")
	cmd.Flags().StringVar(&dietPath, "diet", "", "Diet applied before solving (default diet.path)")
	return cmd
}
