package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mminte/internal/config"
	"mminte/internal/logging"
)

// cli holds the state shared by every command of one invocation.
type cli struct {
	// Global flags
	verbose    bool
	configPath string
	envFile    string
	workers    int

	cfg    *config.Config
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "mminte",
		Short: "Predict pairwise interactions between microbial species",
		Long: `mminte builds two-species community models from single-species
metabolic models, computes the growth of each species with and without its
partner by flux balance analysis, and classifies the interaction.

Pipeline:
  pairs     list every pair of models in a folder
  build     assemble the community model of each pair
  grow      evaluate the growth rates of community models
  classify  label each community from its growth rates
  run       build, grow and classify in one pass`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable verbose logging")
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "mminte.yaml", "Config file (missing file means defaults)")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "Environment file loaded before the config")
	root.PersistentFlags().IntVarP(&c.workers, "workers", "j", 0, "Parallel tasks (default from config)")

	root.AddCommand(
		c.pairsCmd(),
		c.buildCmd(),
		c.dietCmd(),
		c.growCmd(),
		c.classifyCmd(),
		c.runCmd(),
		c.watchCmd(),
		c.serveCmd(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(c.envFile); err != nil {
		return err
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = c.workers
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger, err := logging.New(cfg.Logging, c.verbose)
	if err != nil {
		return err
	}
	c.cfg, c.logger = cfg, logger
	logger.Get(logging.CategoryBoot).Debug("config loaded",
		zap.String("config", c.configPath),
		zap.Int("workers", cfg.Workers),
		zap.String("blob", cfg.Blob.Driver),
		zap.String("store", cfg.Store.Driver))
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
