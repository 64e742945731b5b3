// Package logging builds the zap loggers used across mminte. Each
// subsystem logs under its own category, a zap named logger that can be
// switched off in configuration.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mminte/internal/config"
)

// Category represents a log category/system.
type Category string

const (
	CategoryBoot        Category = "boot"        // startup, config
	CategoryAssembly    Category = "assembly"    // community model building
	CategoryDiet        Category = "diet"        // diet application
	CategorySolver      Category = "solver"      // FBA solves
	CategoryGrowth      Category = "growth"      // knockout growth evaluation
	CategoryInteraction Category = "interaction" // classification
	CategoryStore       Category = "store"       // result persistence
	CategoryAPI         Category = "api"         // HTTP service
	CategoryWatch       Category = "watch"       // community directory watcher
)

// Logger hands out category loggers over one zap core.
type Logger struct {
	base *zap.Logger
	cfg  config.LoggingConfig
}

// New builds a logger from cfg. verbose forces debug level.
func New(cfg config.LoggingConfig, verbose bool) (*Logger, error) {
	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.DisableStacktrace = true
	}

	level := cfg.Level
	if level == "warning" {
		level = "warn"
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)

	zc.OutputPaths = []string{"stderr"}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		zc.OutputPaths = append(zc.OutputPaths, cfg.File)
	}

	base, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return &Logger{base: base, cfg: cfg}, nil
}

// Wrap adapts an existing zap logger, enabling every category.
func Wrap(base *zap.Logger) *Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return &Logger{base: base}
}

// Nop returns a logger that discards everything.
func Nop() *Logger { return Wrap(nil) }

// Base returns the uncategorized logger.
func (l *Logger) Base() *zap.Logger { return l.base }

// Get returns the logger of a category, or a no-op logger when the
// category is disabled.
func (l *Logger) Get(c Category) *zap.Logger {
	if !l.cfg.IsCategoryEnabled(string(c)) {
		return zap.NewNop()
	}
	return l.base.Named(string(c))
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error { return l.base.Sync() }

// Timer helps measure operation duration.
type Timer struct {
	logger *zap.Logger
	op     string
	start  time.Time
}

// StartTimer begins timing an operation.
func StartTimer(logger *zap.Logger, operation string) *Timer {
	return &Timer{logger: logger, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.logger.Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	return elapsed
}

// StopWithThreshold logs a warning if the duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		t.logger.Warn(t.op+" slow", zap.Duration("elapsed", elapsed), zap.Duration("threshold", threshold))
	} else {
		t.logger.Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	}
	return elapsed
}
