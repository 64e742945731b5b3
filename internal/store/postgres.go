package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"mminte/internal/growth"
	"mminte/internal/interaction"
)

const postgresSchema = `
create table if not exists runs (
	id text primary key,
	kind text not null,
	status text not null,
	started_at timestamptz not null,
	finished_at timestamptz,
	succeeded integer not null default 0,
	failed integer not null default 0,
	error text not null default ''
);
create table if not exists growth_records (
	run_id text not null references runs(id) on delete cascade,
	community_id text not null,
	species_a text not null,
	species_b text not null,
	objective_a text not null,
	objective_b text not null,
	full_a double precision not null,
	full_b double precision not null,
	solo_a double precision not null,
	solo_b double precision not null,
	primary key (run_id, community_id)
);
create table if not exists interaction_records (
	run_id text not null references runs(id) on delete cascade,
	community_id text not null,
	species_a text not null,
	species_b text not null,
	full_a double precision not null,
	full_b double precision not null,
	solo_a double precision not null,
	solo_b double precision not null,
	pct_a double precision not null,
	pct_b double precision not null,
	interaction text not null,
	primary key (run_id, community_id)
);
create table if not exists task_failures (
	id bigserial primary key,
	run_id text not null references runs(id) on delete cascade,
	stage text not null,
	subject text not null,
	error text not null,
	at timestamptz not null default now()
);
create index if not exists idx_runs_started on runs(started_at);
create index if not exists idx_failures_run on task_failures(run_id);
`

// Postgres is a Store on a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres connects to dsn, pings it and creates missing tables.
func NewPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	logger.Debug("postgres store ready", zap.Int32("max_conns", cfg.MaxConns))
	return &Postgres{pool: pool, logger: logger}, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) CreateRun(ctx context.Context, run Run) error {
	const q = `insert into runs (id, kind, status, started_at) values ($1, $2, $3, $4)`
	if _, err := p.pool.Exec(ctx, q, run.ID, run.Kind, string(run.Status), run.StartedAt.UTC()); err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

func (p *Postgres) FinishRun(ctx context.Context, id string, status RunStatus, succeeded, failed int, runErr string) error {
	const q = `
update runs
set status = $2, finished_at = now(), succeeded = $3, failed = $4, error = $5
where id = $1`
	ct, err := p.pool.Exec(ctx, q, id, string(status), succeeded, failed, runErr)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	return nil
}

const postgresRunColumns = `id, kind, status, started_at, finished_at, succeeded, failed, error`

func (p *Postgres) GetRun(ctx context.Context, id string) (Run, error) {
	row := p.pool.QueryRow(ctx, `select `+postgresRunColumns+` from runs where id = $1`, id)
	run, err := scanPostgresRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	return run, err
}

func (p *Postgres) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, `select `+postgresRunColumns+` from runs order by started_at desc limit $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		run, err := scanPostgresRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanPostgresRun(row pgx.Row) (Run, error) {
	var (
		run    Run
		status string
	)
	if err := row.Scan(&run.ID, &run.Kind, &status, &run.StartedAt, &run.FinishedAt,
		&run.Succeeded, &run.Failed, &run.Error); err != nil {
		return Run{}, err
	}
	run.Status = RunStatus(status)
	return run, nil
}

func (p *Postgres) AddGrowth(ctx context.Context, runID string, r growth.Record) error {
	const q = `
insert into growth_records
	(run_id, community_id, species_a, species_b, objective_a, objective_b, full_a, full_b, solo_a, solo_b)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
on conflict (run_id, community_id) do update set
	species_a = excluded.species_a, species_b = excluded.species_b,
	objective_a = excluded.objective_a, objective_b = excluded.objective_b,
	full_a = excluded.full_a, full_b = excluded.full_b,
	solo_a = excluded.solo_a, solo_b = excluded.solo_b`
	_, err := p.pool.Exec(ctx, q, runID, r.CommunityID, r.SpeciesA, r.SpeciesB, r.ObjectiveA, r.ObjectiveB,
		r.FullA, r.FullB, r.SoloA, r.SoloB)
	if err != nil {
		return fmt.Errorf("add growth %s: %w", r.CommunityID, err)
	}
	return nil
}

func (p *Postgres) AddInteraction(ctx context.Context, runID string, r interaction.Record) error {
	const q = `
insert into interaction_records
	(run_id, community_id, species_a, species_b, full_a, full_b, solo_a, solo_b, pct_a, pct_b, interaction)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
on conflict (run_id, community_id) do update set
	species_a = excluded.species_a, species_b = excluded.species_b,
	full_a = excluded.full_a, full_b = excluded.full_b,
	solo_a = excluded.solo_a, solo_b = excluded.solo_b,
	pct_a = excluded.pct_a, pct_b = excluded.pct_b,
	interaction = excluded.interaction`
	_, err := p.pool.Exec(ctx, q, runID, r.CommunityID, r.SpeciesA, r.SpeciesB, r.FullA, r.FullB, r.SoloA, r.SoloB,
		r.PercentChangeA, r.PercentChangeB, r.Type.String())
	if err != nil {
		return fmt.Errorf("add interaction %s: %w", r.CommunityID, err)
	}
	return nil
}

func (p *Postgres) AddFailure(ctx context.Context, runID string, f Failure) error {
	if f.At.IsZero() {
		f.At = time.Now()
	}
	const q = `insert into task_failures (run_id, stage, subject, error, at) values ($1, $2, $3, $4, $5)`
	if _, err := p.pool.Exec(ctx, q, runID, f.Stage, f.Subject, f.Error, f.At.UTC()); err != nil {
		return fmt.Errorf("add failure %s: %w", f.Subject, err)
	}
	return nil
}

func (p *Postgres) Growth(ctx context.Context, runID string) ([]growth.Record, error) {
	const q = `
select community_id, species_a, species_b, objective_a, objective_b, full_a, full_b, solo_a, solo_b
from growth_records
where run_id = $1
order by community_id`
	rows, err := p.pool.Query(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("query growth: %w", err)
	}
	defer rows.Close()
	out := make([]growth.Record, 0, 16)
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

func (p *Postgres) Interactions(ctx context.Context, runID string) ([]interaction.Record, error) {
	const q = `
select community_id, species_a, species_b, full_a, full_b, solo_a, solo_b, pct_a, pct_b, interaction
from interaction_records
where run_id = $1
order by community_id`
	rows, err := p.pool.Query(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	defer rows.Close()
	out := make([]interaction.Record, 0, 16)
	for rows.Next() {
		r, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) Failures(ctx context.Context, runID string) ([]Failure, error) {
	const q = `select stage, subject, error, at from task_failures where run_id = $1 order by id`
	rows, err := p.pool.Query(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()
	var out []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.Stage, &f.Subject, &f.Error, &f.At); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
