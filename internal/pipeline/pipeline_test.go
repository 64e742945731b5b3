package pipeline

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mminte/internal/blob"
	"mminte/internal/diet"
	"mminte/internal/growth"
	"mminte/internal/interaction"
	"mminte/internal/model"
	"mminte/internal/modelio"
	"mminte/internal/solver"
	"mminte/internal/store"
	"mminte/internal/tables"
)

// species builds a model that grows on one nutrient.
func species(t *testing.T, id, nutrient string, withObjective bool) *model.Model {
	t.Helper()
	ext := nutrient + "_e"
	obj := 0.0
	if withObjective {
		obj = 1
	}
	m, err := model.NewBuilder(id).
		AddMetabolite(model.Metabolite{ID: ext, Compartment: "e"}).
		AddMetabolite(model.Metabolite{ID: "atp_c", Compartment: "c"}).
		AddReaction(model.Reaction{ID: "EX_" + ext, LowerBound: -10, UpperBound: 1000, Stoichiometry: map[string]float64{ext: -1}}).
		AddReaction(model.Reaction{ID: "USE_" + nutrient, UpperBound: 1000, Stoichiometry: map[string]float64{ext: -1, "atp_c": 1}}).
		AddReaction(model.Reaction{ID: "BIOMASS", UpperBound: 1000, ObjectiveCoefficient: obj, Stoichiometry: map[string]float64{"atp_c": -1}}).
		Build()
	require.NoError(t, err)
	return m
}

// modelsDir writes sa and sb (both growing) and sc (no objective).
func modelsDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, modelio.Save(filepath.Join(dir, "sa.json"), species(t, "sa", "glc", true)))
	require.NoError(t, modelio.Save(filepath.Join(dir, "sb.json"), species(t, "sb", "o2", true)))
	require.NoError(t, modelio.Save(filepath.Join(dir, "sc.json"), species(t, "sc", "nh4", false)))
	return dir
}

// fixedSolver reports full growth (1.2, 0.8) and solo growth 1.0 for both
// species, which classifies as parasitism.
func fixedSolver() solver.Solver {
	return solver.Func(func(_ context.Context, m *model.Model) (solver.Solution, error) {
		hasA, hasB := m.HasReaction("modelA_BIOMASS"), m.HasReaction("modelB_BIOMASS")
		fluxes := map[string]float64{}
		switch {
		case hasA && hasB:
			fluxes["modelA_BIOMASS"], fluxes["modelB_BIOMASS"] = 1.2, 0.8
		case hasA:
			fluxes["modelA_BIOMASS"] = 1.0
		case hasB:
			fluxes["modelB_BIOMASS"] = 1.0
		}
		return solver.Solution{Status: solver.StatusOptimal, Fluxes: fluxes}, nil
	})
}

type recorder struct {
	NopObserver
	mu           sync.Mutex
	started      int
	pairFailed   []string
	built        []string
	evaluated    []string
	evalFailed   []string
	classified   []interaction.Type
	undetermined int
	diets        []diet.Report
	scenarios    int
}

func (r *recorder) PairStarted(tables.Pair) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *recorder) PairFailed(p tables.Pair, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairFailed = append(r.pairFailed, p.String())
}

func (r *recorder) CommunityBuilt(_ tables.Pair, id, _ string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.built = append(r.built, id)
}

func (r *recorder) GrowthEvaluated(rec growth.Record, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluated = append(r.evaluated, rec.CommunityID)
}

func (r *recorder) EvaluationFailed(key string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evalFailed = append(r.evalFailed, key)
}

func (r *recorder) Classified(rec interaction.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classified = append(r.classified, rec.Type)
}

func (r *recorder) Undetermined(interaction.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.undetermined++
}

func (r *recorder) DietApplied(_ string, rep diet.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diets = append(r.diets, rep)
}

func (r *recorder) ScenarioSolved(string, growth.ScenarioResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scenarios++
}

// collect is a sink that keeps records in memory.
type collect[T any] struct {
	mu   sync.Mutex
	recs []T
}

func (c *collect[T]) Write(v T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, v)
	return nil
}

func (c *collect[T]) snapshot() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.recs...)
}

func newPipeline(t *testing.T, obs Observer) (*Pipeline, *blob.Memory, *store.SQLite) {
	t.Helper()
	st, err := store.NewSQLite("", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	mem := blob.NewMemory()
	return &Pipeline{
		Blob:       mem,
		Store:      st,
		Evaluator:  growth.NewEvaluator(fixedSolver()),
		Classifier: interaction.NewClassifier(),
		ModelsDir:  modelsDir(t),
		Workers:    3,
		Observer:   obs,
	}, mem, st
}

func taskStages(errs []*TaskError) map[string]Stage {
	out := map[string]Stage{}
	for _, e := range errs {
		out[e.Subject] = e.Stage
	}
	return out
}

func TestPipelineRun(t *testing.T) {
	obs := &recorder{}
	p, mem, st := newPipeline(t, obs)
	ctx := context.Background()

	pairs := []tables.Pair{{A: "sa.json", B: "sb.json"}, {A: "sa.json", B: "sc.json"}, {A: "sa.json", B: "missing.json"}}
	var growthRecs collect[growth.Record]
	var interactions collect[interaction.Record]

	sum, err := p.Run(ctx, "run-1", pairs, &growthRecs, &interactions)
	require.NoError(t, err)
	assert.Equal(t, "run-1", sum.RunID)
	assert.Equal(t, StageRun, sum.Kind)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, 1, sum.Tally.Count(interaction.Parasitism))
	assert.Equal(t, map[string]Stage{
		"sa.json/missing.json": StageBuild,
		"communitysaXsc.sbml":  StageGrow,
	}, taskStages(sum.Errors))

	var le *modelio.LoadError
	var se *growth.StructuralError
	for _, e := range sum.Errors {
		if e.Stage == StageBuild {
			assert.ErrorAs(t, e, &le)
		} else {
			assert.ErrorAs(t, e, &se)
		}
	}

	g := growthRecs.snapshot()
	require.Len(t, g, 1)
	assert.Equal(t, "saXsb", g[0].CommunityID)
	assert.Equal(t, 1.2, g[0].FullA)
	assert.Equal(t, 1.0, g[0].SoloB)
	ix := interactions.snapshot()
	require.Len(t, ix, 1)
	assert.Equal(t, interaction.Parasitism, ix[0].Type)

	info, err := mem.Head(ctx, "communitysaXsb.sbml")
	require.NoError(t, err)
	assert.Equal(t, ContentTypeSBML, info.ContentType)
	assert.Equal(t, "sa", info.Metadata[MetaSpeciesA])
	assert.Equal(t, "sb", info.Metadata[MetaSpeciesB])

	run, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, store.RunCompleted, run.Status)
	assert.Equal(t, 1, run.Succeeded)
	assert.Equal(t, 2, run.Failed)
	failures, err := st.Failures(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, failures, 2)
	stored, err := st.Interactions(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, interaction.Parasitism, stored[0].Type)

	assert.Equal(t, 3, obs.started)
	assert.Equal(t, []string{"sa.json/missing.json"}, obs.pairFailed)
	assert.ElementsMatch(t, []string{"saXsb", "saXsc"}, obs.built)
	assert.Equal(t, []string{"communitysaXsc.sbml"}, obs.evalFailed)
	assert.Equal(t, []interaction.Type{interaction.Parasitism}, obs.classified)
	assert.Equal(t, 3, obs.scenarios)
}

func TestPipelineStagesSeparately(t *testing.T) {
	obs := &recorder{}
	p, _, _ := newPipeline(t, obs)
	p.BuildDiet = &diet.Diet{Name: "test", Entries: []diet.Entry{{ReactionID: "EX_absent", Magnitude: 5}}}
	ctx := context.Background()

	sum, built, err := p.Build(ctx, "", []tables.Pair{{A: "sa.json", B: "sb.json"}, {A: "sb.json", B: "sc.json"}})
	require.NoError(t, err)
	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, 2, sum.Succeeded)
	require.Len(t, built, 2)
	require.Len(t, obs.diets, 2)
	assert.Equal(t, diet.Report{Applied: 0, Skipped: 1}, obs.diets[0])

	keys, err := p.CommunityKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"communitysaXsb.sbml", "communitysbXsc.sbml"}, keys)

	var growthRecs collect[growth.Record]
	sum, err = p.Grow(ctx, "", keys, &growthRecs)
	require.NoError(t, err)
	assert.Equal(t, StageGrow, sum.Kind)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)

	var interactions collect[interaction.Record]
	sum, err = p.Classify(ctx, "", growthRecs.snapshot(), &interactions)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 1, sum.Tally.Count(interaction.Parasitism))
	assert.Len(t, interactions.snapshot(), 1)
}

func TestClassifyFlagsUndetermined(t *testing.T) {
	obs := &recorder{}
	p := &Pipeline{Observer: obs}
	recs := []growth.Record{
		{CommunityID: "aXb", FullA: 1, SoloA: 1, FullB: 1, SoloB: 1},
		{CommunityID: "xXy", FullA: math.NaN(), SoloA: 1, FullB: 1, SoloB: 1},
	}
	var interactions collect[interaction.Record]
	sum, err := p.Classify(context.Background(), "", recs, &interactions)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 1, sum.Tally.Count(interaction.Neutralism))
	assert.Equal(t, 1, sum.Tally.Count(interaction.Undetermined))
	assert.Equal(t, 1, obs.undetermined)
	assert.Equal(t, []interaction.Type{interaction.Neutralism}, obs.classified)
	assert.Len(t, interactions.snapshot(), 2)
}

func TestPipelineSinkErrorFailsRun(t *testing.T) {
	p, _, st := newPipeline(t, nil)
	ctx := context.Background()
	boom := errors.New("disk full")

	_, err := p.Run(ctx, "run-sink", []tables.Pair{{A: "sa.json", B: "sb.json"}},
		SinkFunc[growth.Record](func(growth.Record) error { return boom }), Discard[interaction.Record]())
	require.ErrorIs(t, err, boom)

	run, err := st.GetRun(ctx, "run-sink")
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, run.Status)
	assert.Contains(t, run.Error, "disk full")
}

func TestPipelineRunSurvivesSolverPanic(t *testing.T) {
	p, _, st := newPipeline(t, nil)
	p.Evaluator = growth.NewEvaluator(solver.Func(func(context.Context, *model.Model) (solver.Solution, error) {
		panic("corrupt basis")
	}))
	ctx := context.Background()

	pair := tables.Pair{A: "sa.json", B: "sb.json"}
	sum, err := p.Run(ctx, "run-panic", []tables.Pair{pair}, Discard[growth.Record](), Discard[interaction.Record]())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Succeeded)
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, StageRun, sum.Errors[0].Stage)
	assert.Equal(t, pair.String(), sum.Errors[0].Subject)
	var pe *PanicError
	assert.ErrorAs(t, sum.Errors[0], &pe)

	run, err := st.GetRun(ctx, "run-panic")
	require.NoError(t, err)
	assert.Equal(t, store.RunCompleted, run.Status)
}

func TestPipelineRequiresEvaluator(t *testing.T) {
	p := &Pipeline{Blob: blob.NewMemory()}
	_, err := p.Grow(context.Background(), "", nil, Discard[growth.Record]())
	assert.ErrorContains(t, err, "no evaluator")
}

func TestWatcherEvaluatesNewCommunities(t *testing.T) {
	root := t.TempDir()
	fsStore, err := blob.NewFilesystem(root)
	require.NoError(t, err)

	p := &Pipeline{
		Blob:      fsStore,
		Evaluator: growth.NewEvaluator(fixedSolver()),
		ModelsDir: modelsDir(t),
		Workers:   2,
	}
	var growthRecs collect[growth.Record]
	var interactions collect[interaction.Record]
	w := NewWatcher(p, root, &growthRecs, &interactions, zap.NewNop())
	w.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	// Rebuild until the watcher has registered the directory and picked the
	// file up.
	require.Eventually(t, func() bool {
		if _, _, err := p.Build(ctx, "", []tables.Pair{{A: "sa.json", B: "sb.json"}}); err != nil {
			return false
		}
		return len(interactions.snapshot()) > 0
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	ids := map[string]bool{}
	for _, r := range growthRecs.snapshot() {
		ids[r.CommunityID] = true
	}
	assert.Equal(t, map[string]bool{"saXsb": true}, ids)
	stats := w.Stats()
	assert.Positive(t, stats.Runs)
	assert.Zero(t, stats.Failed)

	types := make([]string, 0)
	for _, r := range interactions.snapshot() {
		types = append(types, r.Type.String())
	}
	sort.Strings(types)
	assert.Equal(t, "Parasitism", types[0])
}
