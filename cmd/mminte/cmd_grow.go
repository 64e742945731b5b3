package main

import (
	"github.com/spf13/cobra"
)

func (c *cli) growCmd() *cobra.Command {
	var dietPath, output string
	cmd := &cobra.Command{
		Use:   "grow [community-key...]",
		Short: "Evaluate the growth rates of community models",
		Long: `Solves each community model three times (full, without species A,
without species B) and appends one row per community to the growth table.
Without arguments every model in the blob store is evaluated. The diet
(--diet, else diet.path) is applied to all three scenarios.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := c.evalDiet(dietPath)
			if err != nil {
				return err
			}
			a, err := c.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()
			p := a.pipeline(d, nil)

			keys := args
			if len(keys) == 0 {
				if keys, err = p.CommunityKeys(cmd.Context()); err != nil {
					return err
				}
			}

			var out outputs
			defer out.Close()
			if output == "" {
				output = c.cfg.Paths.GrowthTable
			}
			if err := out.openGrowth(output); err != nil {
				return err
			}

			sum, err := p.Grow(cmd.Context(), "", keys, out.growth)
			return a.report(cmd.OutOrStdout(), sum, err)
		},
	}
	cmd.Flags().StringVar(&dietPath, "diet", "", "Diet applied before solving (default diet.path)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Growth table (default paths.growth_table)")
	return cmd
}
