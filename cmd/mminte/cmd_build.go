package main

import (
	"github.com/spf13/cobra"
)

func (c *cli) buildCmd() *cobra.Command {
	var pairsPath, dietPath string
	cmd := &cobra.Command{
		Use:   "build --pairs <file>",
		Short: "Assemble the community model of each pair",
		Long: `Assembles one two-species community model per pair and writes it as
SBML to the blob store (paths.community_dir with the fs driver). With --diet
the uptake bounds of the diet are baked into the written models.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, err := readPairs(pairsPath)
			if err != nil {
				return err
			}
			d, err := c.loadDiet(dietPath)
			if err != nil {
				return err
			}
			a, err := c.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			sum, _, err := a.pipeline(nil, d).Build(cmd.Context(), "", pairs)
			return a.report(cmd.OutOrStdout(), sum, err)
		},
	}
	cmd.Flags().StringVar(&pairsPath, "pairs", "", "Pair list file (see `mminte pairs`)")
	cmd.Flags().StringVar(&dietPath, "diet", "", "Diet baked into the community models")
	return cmd
}
