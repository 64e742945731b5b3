// Package pipeline runs the batch stages over many species pairs: building
// community models, evaluating their growth and classifying interactions.
// Tasks run on a bounded worker pool; their results reach a single
// collector that owns every output sink, the result store and the run
// summary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"mminte/internal/blob"
	"mminte/internal/diet"
	"mminte/internal/growth"
	"mminte/internal/interaction"
	"mminte/internal/modelio"
	"mminte/internal/store"
	"mminte/internal/tables"
)

// Stage names a pipeline stage. It doubles as the run kind in the store.
type Stage string

const (
	StageBuild    Stage = "build"
	StageGrow     Stage = "grow"
	StageClassify Stage = "classify"
	StageRun      Stage = "run"
	StageEvaluate Stage = "evaluate"
)

// Sink receives output records in completion order. Write is only ever
// called from the collector goroutine. *tables.Writer satisfies it.
type Sink[T any] interface {
	Write(T) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc[T any] func(T) error

func (f SinkFunc[T]) Write(v T) error { return f(v) }

// Discard is a sink that drops every record.
func Discard[T any]() Sink[T] {
	return SinkFunc[T](func(T) error { return nil })
}

// TaskError is a task that was skipped. It never aborts the batch.
type TaskError struct {
	Stage   Stage
	Subject string
	Err     error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Subject, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Summary describes a finished batch.
type Summary struct {
	RunID     string
	Kind      Stage
	Succeeded int
	Failed    int
	Tally     interaction.Tally
	Errors    []*TaskError
	Took      time.Duration
}

// Built is a community model persisted by the build stage.
type Built struct {
	Pair        tables.Pair
	CommunityID string
	Key         string
}

// Pipeline wires the stages to their collaborators. Blob and Evaluator are
// required; the rest fall back to no-op or default behaviour.
type Pipeline struct {
	Blob       blob.Store
	Store      store.Store
	Evaluator  *growth.Evaluator
	Classifier interaction.Classifier

	// BuildDiet, when set, is applied to every community model before it is
	// persisted, so the files carry diet-adjusted bounds.
	BuildDiet *diet.Diet

	// ModelsDir resolves relative species file names in pairs.
	ModelsDir string
	Workers   int
	Observer  Observer
}

func (p *Pipeline) observer() Observer {
	if p.Observer == nil {
		return NopObserver{}
	}
	return p.Observer
}

func (p *Pipeline) store() store.Store {
	if p.Store == nil {
		return store.Discard{}
	}
	return p.Store
}

func (p *Pipeline) classifier() interaction.Classifier {
	if p.Classifier.Threshold == 0 {
		return interaction.NewClassifier()
	}
	return p.Classifier
}

// evaluator returns a copy of the configured evaluator reporting to the
// pipeline observer.
func (p *Pipeline) evaluator() (*growth.Evaluator, error) {
	if p.Evaluator == nil {
		return nil, errors.New("pipeline: no evaluator configured")
	}
	ev := *p.Evaluator
	ev.Observer = p.observer()
	return &ev, nil
}

func (p *Pipeline) modelPath(name string) string {
	if p.ModelsDir == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(p.ModelsDir, name)
}

// CommunityKeys lists the model files in the blob store, sorted.
func (p *Pipeline) CommunityKeys(ctx context.Context) ([]string, error) {
	infos, err := p.Blob.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list community models: %w", err)
	}
	var keys []string
	for _, info := range infos {
		if modelio.IsModelFile(info.Key) {
			keys = append(keys, info.Key)
		}
	}
	return keys, nil
}

// batch tracks one run: its store row and its summary. Only the collector
// goroutine touches it.
type batch struct {
	p     *Pipeline
	sum   Summary
	start time.Time
}

func (p *Pipeline) begin(ctx context.Context, runID string, kind Stage) (*batch, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	b := &batch{p: p, sum: Summary{RunID: runID, Kind: kind}, start: time.Now()}
	err := p.store().CreateRun(ctx, store.Run{
		ID:        runID,
		Kind:      string(kind),
		Status:    store.RunRunning,
		StartedAt: b.start.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return b, nil
}

func (b *batch) succeeded() { b.sum.Succeeded++ }

func (b *batch) failed(ctx context.Context, te *TaskError) error {
	b.sum.Failed++
	b.sum.Errors = append(b.sum.Errors, te)
	err := b.p.store().AddFailure(ctx, b.sum.RunID, store.Failure{
		Stage:   string(te.Stage),
		Subject: te.Subject,
		Error:   te.Err.Error(),
		At:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// classified records an interaction in the tally, the observer, the store
// and the sink.
func (b *batch) classified(ctx context.Context, rec interaction.Record, sink Sink[interaction.Record]) error {
	b.sum.Tally.Add(rec.Type)
	if rec.Type == interaction.Undetermined {
		b.p.observer().Undetermined(rec)
	} else {
		b.p.observer().Classified(rec)
	}
	if err := b.p.store().AddInteraction(ctx, b.sum.RunID, rec); err != nil {
		return fmt.Errorf("store interaction: %w", err)
	}
	if err := sink.Write(rec); err != nil {
		return fmt.Errorf("write interaction: %w", err)
	}
	return nil
}

func (b *batch) grew(ctx context.Context, rec growth.Record, took time.Duration, sink Sink[growth.Record]) error {
	b.p.observer().GrowthEvaluated(rec, took)
	if err := b.p.store().AddGrowth(ctx, b.sum.RunID, rec); err != nil {
		return fmt.Errorf("store growth: %w", err)
	}
	if err := sink.Write(rec); err != nil {
		return fmt.Errorf("write growth: %w", err)
	}
	return nil
}

// end closes the run in the store. A cancelled ctx still gets its run
// marked failed.
func (b *batch) end(ctx context.Context, runErr error) (Summary, error) {
	b.sum.Took = time.Since(b.start)
	status, msg := store.RunCompleted, ""
	if runErr != nil {
		status, msg = store.RunFailed, runErr.Error()
	}
	err := b.p.store().FinishRun(context.WithoutCancel(ctx), b.sum.RunID, status, b.sum.Succeeded, b.sum.Failed, msg)
	if runErr != nil {
		return b.sum, runErr
	}
	if err != nil {
		return b.sum, fmt.Errorf("finish run: %w", err)
	}
	return b.sum, nil
}

func asTaskError(stage Stage, subject string, err error) *TaskError {
	var te *TaskError
	if errors.As(err, &te) {
		return te
	}
	return &TaskError{Stage: stage, Subject: subject, Err: err}
}

// Build assembles and persists the community model of every pair.
func (p *Pipeline) Build(ctx context.Context, runID string, pairs []tables.Pair) (Summary, []Built, error) {
	b, err := p.begin(ctx, runID, StageBuild)
	if err != nil {
		return Summary{}, nil, err
	}
	obs := p.observer()
	var built []Built
	err = Run(ctx, p.Workers, pairs, p.buildTask, func(r Result[Built]) error {
		if r.Err != nil {
			te := asTaskError(StageBuild, r.Subject, r.Err)
			return b.failed(ctx, te)
		}
		obs.CommunityBuilt(r.Value.Pair, r.Value.CommunityID, r.Value.Key, r.Took)
		built = append(built, r.Value)
		b.succeeded()
		return nil
	})
	sum, err := b.end(ctx, err)
	return sum, built, err
}

func (p *Pipeline) buildTask(ctx context.Context, pair tables.Pair) Result[Built] {
	m, err := p.assemble(pair)
	if err == nil {
		var key string
		key, err = p.persist(ctx, m)
		if err == nil {
			return Result[Built]{Subject: pair.String(), Value: Built{Pair: pair, CommunityID: m.ID(), Key: key}}
		}
	}
	p.observer().PairFailed(pair, err)
	return Result[Built]{Subject: pair.String(), Err: &TaskError{Stage: StageBuild, Subject: pair.String(), Err: err}}
}

// Grow evaluates the community models stored under keys and writes one
// growth record per success.
func (p *Pipeline) Grow(ctx context.Context, runID string, keys []string, sink Sink[growth.Record]) (Summary, error) {
	ev, err := p.evaluator()
	if err != nil {
		return Summary{}, err
	}
	b, err := p.begin(ctx, runID, StageGrow)
	if err != nil {
		return Summary{}, err
	}
	task := func(ctx context.Context, key string) Result[growth.Record] {
		rec, err := p.evaluateKey(ctx, ev, key)
		return Result[growth.Record]{Subject: key, Value: rec, Err: err}
	}
	err = Run(ctx, p.Workers, keys, task, func(r Result[growth.Record]) error {
		if r.Err != nil {
			return b.failed(ctx, asTaskError(StageGrow, r.Subject, r.Err))
		}
		if err := b.grew(ctx, r.Value, r.Took, sink); err != nil {
			return err
		}
		b.succeeded()
		return nil
	})
	return b.end(ctx, err)
}

// Classify classifies growth records in order.
func (p *Pipeline) Classify(ctx context.Context, runID string, recs []growth.Record, sink Sink[interaction.Record]) (Summary, error) {
	b, err := p.begin(ctx, runID, StageClassify)
	if err != nil {
		return Summary{}, err
	}
	c := p.classifier()
	for _, g := range recs {
		if err = ctx.Err(); err != nil {
			break
		}
		if err = b.classified(ctx, c.FromGrowth(g), sink); err != nil {
			break
		}
		b.succeeded()
	}
	return b.end(ctx, err)
}

type evaluated struct {
	built  Built
	growth growth.Record
}

// Run builds, persists, evaluates and classifies every pair. Each pair is
// one task; a pair that fails at any step is skipped.
func (p *Pipeline) Run(ctx context.Context, runID string, pairs []tables.Pair, growthSink Sink[growth.Record], interactionSink Sink[interaction.Record]) (Summary, error) {
	ev, err := p.evaluator()
	if err != nil {
		return Summary{}, err
	}
	b, err := p.begin(ctx, runID, StageRun)
	if err != nil {
		return Summary{}, err
	}
	obs := p.observer()
	c := p.classifier()

	task := func(ctx context.Context, pair tables.Pair) Result[evaluated] {
		start := time.Now()
		r := p.buildTask(ctx, pair)
		if r.Err != nil {
			return Result[evaluated]{Subject: r.Subject, Err: r.Err}
		}
		obs.CommunityBuilt(pair, r.Value.CommunityID, r.Value.Key, time.Since(start))

		rec, err := p.evaluateKey(ctx, ev, r.Value.Key)
		if err != nil {
			return Result[evaluated]{Subject: r.Value.Key, Err: err}
		}
		return Result[evaluated]{Subject: r.Value.Key, Value: evaluated{built: r.Value, growth: rec}}
	}
	err = Run(ctx, p.Workers, pairs, task, func(r Result[evaluated]) error {
		if r.Err != nil {
			return b.failed(ctx, asTaskError(StageRun, r.Subject, r.Err))
		}
		if err := b.grew(ctx, r.Value.growth, r.Took, growthSink); err != nil {
			return err
		}
		if err := b.classified(ctx, c.FromGrowth(r.Value.growth), interactionSink); err != nil {
			return err
		}
		b.succeeded()
		return nil
	})
	return b.end(ctx, err)
}

// Evaluate evaluates and classifies the community models stored under
// keys, one task per key.
func (p *Pipeline) Evaluate(ctx context.Context, runID string, keys []string, growthSink Sink[growth.Record], interactionSink Sink[interaction.Record]) (Summary, error) {
	ev, err := p.evaluator()
	if err != nil {
		return Summary{}, err
	}
	b, err := p.begin(ctx, runID, StageEvaluate)
	if err != nil {
		return Summary{}, err
	}
	c := p.classifier()
	task := func(ctx context.Context, key string) Result[growth.Record] {
		rec, err := p.evaluateKey(ctx, ev, key)
		return Result[growth.Record]{Subject: key, Value: rec, Err: err}
	}
	err = Run(ctx, p.Workers, keys, task, func(r Result[growth.Record]) error {
		if r.Err != nil {
			return b.failed(ctx, asTaskError(StageGrow, r.Subject, r.Err))
		}
		if err := b.grew(ctx, r.Value, r.Took, growthSink); err != nil {
			return err
		}
		if err := b.classified(ctx, c.FromGrowth(r.Value), interactionSink); err != nil {
			return err
		}
		b.succeeded()
		return nil
	})
	return b.end(ctx, err)
}
