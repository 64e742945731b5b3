package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mminte/internal/blob"
	"mminte/internal/logging"
	"mminte/internal/pipeline"
)

func (c *cli) watchCmd() *cobra.Command {
	var dietPath string
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Evaluate community models as they appear",
		Long: `Watches the community directory of the fs blob driver and evaluates
and classifies each new model file once it has been quiet for the debounce
period. Rows are appended to both tables. Stops on interrupt.`,
		Args: cobra.NoArgs,
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
			fs, ok := a.blob.(*blob.Filesystem)
			if !ok {
				return fmt.Errorf("watch needs the fs blob driver, configured %q", a.blob.Driver())
			}

			var out outputs
			defer out.Close()
			if err := out.openGrowth(c.cfg.Paths.GrowthTable); err != nil {
				return err
			}
			if err := out.openInteractions(c.cfg.Paths.InteractionTable, true); err != nil {
				return err
			}

			w := pipeline.NewWatcher(a.pipeline(d, nil), fs.Root(), out.growth, out.interactions, c.logger.Get(logging.CategoryWatch))
			w.SetDebounce(debounce)

			err = w.Watch(cmd.Context())
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			st := w.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "%d runs: %d evaluated, %d skipped\n", st.Runs, st.Evaluated, st.Failed)
			if path := c.cfg.Metrics.Textfile; path != "" {
				if werr := a.metrics.WriteTextfile(path); werr != nil {
					c.logger.Base().Warn("metrics export failed", zap.Error(werr))
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&dietPath, "diet", "", "Diet applied before solving (default diet.path)")
	cmd.Flags().DurationVar(&debounce, "debounce", pipeline.DefaultDebounce, "Quiet period before a new file is evaluated")
	return cmd
}
