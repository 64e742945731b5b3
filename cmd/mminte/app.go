package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"mminte/cmd/mminte/ui"
	"mminte/internal/blob"
	"mminte/internal/diet"
	"mminte/internal/growth"
	"mminte/internal/interaction"
	"mminte/internal/logging"
	"mminte/internal/metrics"
	"mminte/internal/pipeline"
	"mminte/internal/solver"
	"mminte/internal/store"
)

// app is the wired backend of a batch command.
type app struct {
	cli     *cli
	blob    blob.Store
	store   store.Store
	solver  solver.Solver
	metrics *metrics.Metrics
}

// open connects the blob and result stores named in the config.
func (c *cli) open(ctx context.Context, withRuntimeMetrics bool) (*app, error) {
	defer logging.StartTimer(c.logger.Get(logging.CategoryBoot), "open backends").StopWithThreshold(5 * time.Second)
	sv, err := solver.New(c.cfg.Solver.Method, c.cfg.Solver.Tolerance)
	if err != nil {
		return nil, err
	}
	bs, err := blob.Open(ctx, c.cfg.BlobOptions())
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	st, err := store.Open(ctx, c.cfg.StoreOptions(), c.logger.Get(logging.CategoryStore))
	if err != nil {
		return nil, fmt.Errorf("open result store: %w", err)
	}
	return &app{cli: c, blob: bs, store: st, solver: sv, metrics: metrics.New(withRuntimeMetrics)}, nil
}

func (a *app) Close() error { return a.store.Close() }

// evalDiet reads the diet applied at evaluation time: path, or the
// configured diet when path is empty.
func (c *cli) evalDiet(path string) (*diet.Diet, error) {
	if path == "" {
		path = c.cfg.Diet.Path
	}
	return c.loadDiet(path)
}

// loadDiet reads the diet at path. No path means no diet.
func (c *cli) loadDiet(path string) (*diet.Diet, error) {
	if path == "" {
		return nil, nil
	}
	d, err := diet.Load(path)
	if err != nil {
		return nil, err
	}
	logger := c.logger.Get(logging.CategoryDiet)
	logger.Info("diet loaded", zap.String("diet", d.Name), zap.Int("entries", len(d.Entries)))
	if len(d.Ignored) > 0 {
		logger.Warn("diet lines skipped", zap.String("diet", d.Name), zap.Ints("lines", d.Ignored))
	}
	return &d, nil
}

// pipeline wires a pipeline. evalDiet is applied at evaluation time,
// buildDiet is baked into the community model files.
func (a *app) pipeline(evalDiet, buildDiet *diet.Diet) *pipeline.Pipeline {
	cfg := a.cli.cfg
	ev := growth.NewEvaluator(a.solver)
	ev.Cutoff = cfg.Solver.GrowthCutoff
	ev.Diet = evalDiet
	return &pipeline.Pipeline{
		Blob:      a.blob,
		Store:     a.store,
		Evaluator: ev,
		Classifier: interaction.Classifier{
			Threshold: cfg.Classify.Threshold,
			Epsilon:   cfg.Classify.ZeroEpsilon,
		},
		BuildDiet: buildDiet,
		ModelsDir: cfg.Paths.ModelsDir,
		Workers:   cfg.Workers,
		Observer: pipeline.Observers{
			pipeline.NewZapObserver(a.cli.logger),
			a.metrics.Observer(),
		},
	}
}

// report prints the summary, counts the run and exports the metrics
// textfile when one is configured. It returns runErr.
func (a *app) report(w io.Writer, sum pipeline.Summary, runErr error) error {
	a.metrics.RunFinished(sum, runErr)
	if sum.RunID != "" {
		fmt.Fprint(w, ui.Summary(sum, ui.DefaultStyles()))
	}
	if path := a.cli.cfg.Metrics.Textfile; path != "" {
		if err := a.metrics.WriteTextfile(path); err != nil {
			a.cli.logger.Base().Warn("metrics export failed", zap.Error(err))
		}
	}
	return runErr
}
