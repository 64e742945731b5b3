package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"mminte/cmd/mminte/ui"
	"mminte/internal/diet"
	"mminte/internal/modelio"
	"mminte/internal/pipeline"
)

type dietedModel struct {
	name   string
	report diet.Report
}

func (c *cli) dietCmd() *cobra.Command {
	var dietPath string
	var species bool
	cmd := &cobra.Command{
		Use:   "diet <in-dir> <out-dir> --diet <file>",
		Short: "Write diet-adjusted copies of models",
		Long: `Applies a diet to every model file in <in-dir> and writes the result
under the same name to <out-dir>. MATLAB files are written as SBML. Use
--species when the diet names shared-compartment exchanges ("EX_x[u]") and
the models are single species.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			inDir, outDir := args[0], args[1]
			if dietPath == "" {
				return fmt.Errorf("--diet is required")
			}
			d, err := c.loadDiet(dietPath)
			if err != nil {
				return err
			}
			if species {
				sd := d.ForSpecies()
				d = &sd
			}
			names, err := modelio.ListModels(inDir)
			if err != nil {
				return err
			}

			obs := pipeline.NewZapObserver(c.logger)
			task := func(_ context.Context, name string) pipeline.Result[dietedModel] {
				rep, err := applyDietFile(filepath.Join(inDir, name), filepath.Join(outDir, outputName(name)), *d, obs)
				return pipeline.Result[dietedModel]{Subject: name, Value: dietedModel{name: name, report: rep}, Err: err}
			}

			styles := ui.DefaultStyles()
			table := ui.NewCountTable("Diet "+d.Name, "Model", "Applied", "Skipped")
			var failed []string
			err = pipeline.Run(cmd.Context(), c.cfg.Workers, names, task, func(r pipeline.Result[dietedModel]) error {
				if r.Err != nil {
					obs.EvaluationFailed(r.Subject, r.Err)
					failed = append(failed, fmt.Sprintf("  %s: %v", r.Subject, r.Err))
					return nil
				}
				table.Add(r.Value.name, r.Value.report.Applied, r.Value.report.Skipped)
				return nil
			})

			out := cmd.OutOrStdout()
			fmt.Fprint(out, table.View(styles))
			fmt.Fprintf(out, "%d models written to %s\n", table.Len(), outDir)
			if len(failed) > 0 {
				fmt.Fprintln(out, styles.Error.Render(fmt.Sprintf("%d skipped", len(failed))))
				fmt.Fprintln(out, strings.Join(failed, "\n"))
			}
			return err
		},
	}
	cmd.Flags().StringVar(&dietPath, "diet", "", "Diet file (<exchange-reaction-id>\\t<magnitude> per line)")
	cmd.Flags().BoolVar(&species, "species", false, `Strip the shared suffix "[u]" from diet reaction ids`)
	return cmd
}

func applyDietFile(in, out string, d diet.Diet, obs pipeline.Observer) (diet.Report, error) {
	m, err := modelio.Load(in)
	if err != nil {
		return diet.Report{}, err
	}
	adjusted, rep, err := diet.Apply(m, d)
	if err != nil {
		return rep, err
	}
	obs.DietApplied(m.ID(), rep)
	if err := modelio.Save(out, adjusted); err != nil {
		return rep, fmt.Errorf("save %s: %w", out, err)
	}
	return rep, nil
}

// outputName keeps the file name unless its format cannot be written.
func outputName(name string) string {
	if f, err := modelio.DetectFormat(name); err == nil && f == modelio.FormatMAT {
		return strings.TrimSuffix(name, filepath.Ext(name)) + ".sbml"
	}
	return name
}
