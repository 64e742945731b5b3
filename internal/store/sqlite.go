package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"mminte/internal/growth"
	"mminte/internal/interaction"
)

// sqliteMigrations[i] upgrades a database from user_version i to i+1.
var sqliteMigrations = []string{
	`
	CREATE TABLE runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE growth_records (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		community_id TEXT NOT NULL,
		species_a TEXT NOT NULL,
		species_b TEXT NOT NULL,
		objective_a TEXT NOT NULL,
		objective_b TEXT NOT NULL,
		full_a REAL NOT NULL,
		full_b REAL NOT NULL,
		solo_a REAL NOT NULL,
		solo_b REAL NOT NULL,
		PRIMARY KEY (run_id, community_id)
	);
	CREATE TABLE interaction_records (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		community_id TEXT NOT NULL,
		species_a TEXT NOT NULL,
		species_b TEXT NOT NULL,
		full_a REAL NOT NULL,
		full_b REAL NOT NULL,
		solo_a REAL NOT NULL,
		solo_b REAL NOT NULL,
		pct_a REAL NOT NULL,
		pct_b REAL NOT NULL,
		interaction TEXT NOT NULL,
		PRIMARY KEY (run_id, community_id)
	);
	CREATE TABLE task_failures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		stage TEXT NOT NULL,
		subject TEXT NOT NULL,
		error TEXT NOT NULL,
		at TEXT NOT NULL
	);
	CREATE INDEX idx_runs_started ON runs(started_at);
	CREATE INDEX idx_failures_run ON task_failures(run_id);
	`,
}

// SQLite is the default Store, a single database file.
type SQLite struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLite opens (creating if needed) the database at path and brings its
// schema up to date. An empty path opens a private in-memory database.
func NewSQLite(path string, logger *zap.Logger) (*SQLite, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dsn := path
	if path == "" {
		dsn = ":memory:"
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	// One connection serializes writers and keeps an in-memory database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logger.Debug("sqlite pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	s := &SQLite{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("sqlite store ready", zap.String("path", dsn))
	return s, nil
}

func (s *SQLite) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for v := version; v < len(sqliteMigrations); v++ {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(sqliteMigrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate schema to v%d: %w", v+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("set schema version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		s.logger.Info("store schema migrated", zap.Int("version", v+1))
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) CreateRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Kind, string(run.Status), formatTime(run.StartedAt))
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

func (s *SQLite) FinishRun(ctx context.Context, id string, status RunStatus, succeeded, failed int, runErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, succeeded = ?, failed = ?, error = ? WHERE id = ?`,
		string(status), formatTime(time.Now()), succeeded, failed, runErr, id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	return nil
}

const sqliteRunColumns = `id, kind, status, started_at, finished_at, succeeded, failed, error`

func (s *SQLite) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteRunColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanSQLiteRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	return run, err
}

func (s *SQLite) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		run, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row rowScanner) (Run, error) {
	var (
		run      Run
		status   string
		started  string
		finished sql.NullString
	)
	if err := row.Scan(&run.ID, &run.Kind, &status, &started, &finished, &run.Succeeded, &run.Failed, &run.Error); err != nil {
		return Run{}, err
	}
	run.Status = RunStatus(status)
	var err error
	if run.StartedAt, err = parseTime(started); err != nil {
		return Run{}, err
	}
	if finished.Valid {
		t, err := parseTime(finished.String)
		if err != nil {
			return Run{}, err
		}
		run.FinishedAt = &t
	}
	return run, nil
}

func (s *SQLite) AddGrowth(ctx context.Context, runID string, r growth.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO growth_records
			(run_id, community_id, species_a, species_b, objective_a, objective_b, full_a, full_b, solo_a, solo_b)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, community_id) DO UPDATE SET
			species_a = excluded.species_a, species_b = excluded.species_b,
			objective_a = excluded.objective_a, objective_b = excluded.objective_b,
			full_a = excluded.full_a, full_b = excluded.full_b,
			solo_a = excluded.solo_a, solo_b = excluded.solo_b`,
		runID, r.CommunityID, r.SpeciesA, r.SpeciesB, r.ObjectiveA, r.ObjectiveB, r.FullA, r.FullB, r.SoloA, r.SoloB)
	if err != nil {
		return fmt.Errorf("add growth %s: %w", r.CommunityID, err)
	}
	return nil
}

func (s *SQLite) AddInteraction(ctx context.Context, runID string, r interaction.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interaction_records
			(run_id, community_id, species_a, species_b, full_a, full_b, solo_a, solo_b, pct_a, pct_b, interaction)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, community_id) DO UPDATE SET
			species_a = excluded.species_a, species_b = excluded.species_b,
			full_a = excluded.full_a, full_b = excluded.full_b,
			solo_a = excluded.solo_a, solo_b = excluded.solo_b,
			pct_a = excluded.pct_a, pct_b = excluded.pct_b,
			interaction = excluded.interaction`,
		runID, r.CommunityID, r.SpeciesA, r.SpeciesB, r.FullA, r.FullB, r.SoloA, r.SoloB,
		r.PercentChangeA, r.PercentChangeB, r.Type.String())
	if err != nil {
		return fmt.Errorf("add interaction %s: %w", r.CommunityID, err)
	}
	return nil
}

func (s *SQLite) AddFailure(ctx context.Context, runID string, f Failure) error {
	if f.At.IsZero() {
		f.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_failures (run_id, stage, subject, error, at) VALUES (?, ?, ?, ?, ?)`,
		runID, f.Stage, f.Subject, f.Error, formatTime(f.At))
	if err != nil {
		return fmt.Errorf("add failure %s: %w", f.Subject, err)
	}
	return nil
}

func (s *SQLite) Growth(ctx context.Context, runID string) ([]growth.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT community_id, species_a, species_b, objective_a, objective_b, full_a, full_b, solo_a, solo_b
		FROM growth_records WHERE run_id = ? ORDER BY community_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query growth: %w", err)
	}
	defer rows.Close()
	var out []growth.Record
	for rows.Next() {
		var r growth.Record
		if err := rows.Scan(&r.CommunityID, &r.SpeciesA, &r.SpeciesB, &r.ObjectiveA, &r.ObjectiveB,
			&r.FullA, &r.FullB, &r.SoloA, &r.SoloB); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) Interactions(ctx context.Context, runID string) ([]interaction.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT community_id, species_a, species_b, full_a, full_b, solo_a, solo_b, pct_a, pct_b, interaction
		FROM interaction_records WHERE run_id = ? ORDER BY community_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	defer rows.Close()
	var out []interaction.Record
	for rows.Next() {
		r, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanInteraction(row rowScanner) (interaction.Record, error) {
	var (
		r   interaction.Record
		typ string
	)
	if err := row.Scan(&r.CommunityID, &r.SpeciesA, &r.SpeciesB, &r.FullA, &r.FullB, &r.SoloA, &r.SoloB,
		&r.PercentChangeA, &r.PercentChangeB, &typ); err != nil {
		return interaction.Record{}, err
	}
	t, err := interaction.ParseType(typ)
	if err != nil {
		return interaction.Record{}, err
	}
	r.Type = t
	return r, nil
}

func (s *SQLite) Failures(ctx context.Context, runID string) ([]Failure, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, subject, error, at FROM task_failures WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()
	var out []Failure
	for rows.Next() {
		var (
			f  Failure
			at string
		)
		if err := rows.Scan(&f.Stage, &f.Subject, &f.Error, &at); err != nil {
			return nil, err
		}
		if f.At, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// timeLayout has a fixed width so stored timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}
