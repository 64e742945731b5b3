// Package store persists batch runs and their results: growth records,
// interaction records and per-task failures. SQLite is the default
// backend; Postgres serves shared deployments.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mminte/internal/growth"
	"mminte/internal/interaction"
)

// Driver names a backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverNone     Driver = "none"
)

// ErrNotFound is returned for an unknown run id.
var ErrNotFound = errors.New("store: not found")

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is one batch execution.
type Run struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	Error      string     `json:"error,omitempty"`
}

// Failure is a task that was skipped during a run.
type Failure struct {
	Stage   string    `json:"stage"`
	Subject string    `json:"subject"`
	Error   string    `json:"error"`
	At      time.Time `json:"at"`
}

// Store is implemented by every backend. Writes for a run may arrive
// from concurrent tasks.
type Store interface {
	CreateRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, id string, status RunStatus, succeeded, failed int, runErr string) error
	GetRun(ctx context.Context, id string) (Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// AddGrowth and AddInteraction replace an earlier record of the same
	// community within the run.
	AddGrowth(ctx context.Context, runID string, rec growth.Record) error
	AddInteraction(ctx context.Context, runID string, rec interaction.Record) error
	AddFailure(ctx context.Context, runID string, f Failure) error

	Growth(ctx context.Context, runID string) ([]growth.Record, error)
	Interactions(ctx context.Context, runID string) ([]interaction.Record, error)
	Failures(ctx context.Context, runID string) ([]Failure, error)

	Close() error
}

// Config selects a backend.
type Config struct {
	Driver Driver
	Path   string // sqlite database file
	DSN    string // postgres connection string
}

// Open returns the backend named by cfg.Driver. An empty driver means sqlite.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case "", DriverSQLite:
		return NewSQLite(cfg.Path, logger)
	case DriverPostgres:
		return NewPostgres(ctx, cfg.DSN, logger)
	case DriverNone:
		return Discard{}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Discard accepts every write and holds nothing.
type Discard struct{}

func (Discard) CreateRun(context.Context, Run) error { return nil }

func (Discard) FinishRun(context.Context, string, RunStatus, int, int, string) error { return nil }

func (Discard) GetRun(_ context.Context, id string) (Run, error) {
	return Run{}, fmt.Errorf("%w: run %s", ErrNotFound, id)
}

func (Discard) ListRuns(context.Context, int) ([]Run, error) { return nil, nil }

func (Discard) AddGrowth(context.Context, string, growth.Record) error { return nil }

func (Discard) AddInteraction(context.Context, string, interaction.Record) error { return nil }

func (Discard) AddFailure(context.Context, string, Failure) error { return nil }

func (Discard) Growth(context.Context, string) ([]growth.Record, error) { return nil, nil }

func (Discard) Interactions(context.Context, string) ([]interaction.Record, error) { return nil, nil }

func (Discard) Failures(context.Context, string) ([]Failure, error) { return nil, nil }

func (Discard) Close() error { return nil }
