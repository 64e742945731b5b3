package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mminte/internal/tables"
)

func (c *cli) classifyCmd() *cobra.Command {
	var input, output string
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Label each community from its growth rates",
		Long: `Reads the growth table and writes the interaction table: the growth
rates, the relative change of each species, and the interaction type.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" {
				input = c.cfg.Paths.GrowthTable
			}
			if output == "" {
				output = c.cfg.Paths.InteractionTable
			}
			f, err := os.Open(input)
			if err != nil {
				return fmt.Errorf("open growth table: %w", err)
			}
			recs, err := tables.ReadGrowth(f)
			f.Close()
			if err != nil {
				return fmt.Errorf("%s: %w", input, err)
			}

			a, err := c.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			var out outputs
			defer out.Close()
			if err := out.openInteractions(output, false); err != nil {
				return err
			}
			sum, err := a.pipeline(nil, nil).Classify(cmd.Context(), "", recs, out.interactions)
			return a.report(cmd.OutOrStdout(), sum, err)
		},
	}
	cmd.Flags().StringVarP(&input, "growth", "g", "", "Growth table (default paths.growth_table)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Interaction table (default paths.interaction_table)")
	return cmd
}
