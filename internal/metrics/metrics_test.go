package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mminte/internal/diet"
	"mminte/internal/growth"
	"mminte/internal/interaction"
	"mminte/internal/pipeline"
	"mminte/internal/tables"
)

func TestObserverCounts(t *testing.T) {
	m := New(false)
	obs := m.Observer()
	pair := tables.Pair{A: "a.xml", B: "b.xml"}

	obs.CommunityBuilt(pair, "aXb", "communityaXb.sbml", 20*time.Millisecond)
	obs.PairFailed(pair, errors.New("missing"))
	obs.DietApplied("aXb", diet.Report{Applied: 3, Skipped: 2})
	obs.ScenarioSolved("aXb", growth.ScenarioResult{Scenario: growth.ScenarioFull})
	obs.ScenarioSolved("aXb", growth.ScenarioResult{Scenario: growth.ScenarioMinusA})
	obs.GrowthEvaluated(growth.Record{CommunityID: "aXb"}, time.Second)
	obs.EvaluationFailed("communitycXd.sbml", errors.New("infeasible"))
	obs.Classified(interaction.Record{Type: interaction.Mutualism})
	obs.Classified(interaction.Record{Type: interaction.Mutualism})
	obs.Undetermined(interaction.Record{Type: interaction.Undetermined})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Tasks.WithLabelValues("build", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Tasks.WithLabelValues("build", OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Tasks.WithLabelValues("grow", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Tasks.WithLabelValues("grow", OutcomeFailed)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DietEntries.WithLabelValues("applied")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DietEntries.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Solves.WithLabelValues("minusA")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Interactions.WithLabelValues("Mutualism")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Interactions.WithLabelValues("Undetermined")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.TaskDuration))
}

func TestRunFinished(t *testing.T) {
	m := New(false)
	m.RunFinished(pipeline.Summary{Kind: pipeline.StageRun}, nil)
	m.RunFinished(pipeline.Summary{Kind: pipeline.StageRun}, errors.New("sink"))
	m.RunFinished(pipeline.Summary{Kind: pipeline.StageRun}, nil)

	expected := `
# HELP mminte_runs_total Finished batch runs by kind and status.
# TYPE mminte_runs_total counter
mminte_runs_total{kind="run",status="completed"} 2
mminte_runs_total{kind="run",status="failed"} 1
`
	require.NoError(t, testutil.CollectAndCompare(m.Runs, strings.NewReader(expected), "mminte_runs_total"))
}

func TestHandlerAndTextfile(t *testing.T) {
	m := New(true)
	m.Observer().Classified(interaction.Record{Type: interaction.Neutralism})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `mminte_interactions_total{type="Neutralism"} 1`)
	assert.Contains(t, body, "go_goroutines")

	path := filepath.Join(t.TempDir(), "textfile", "mminte.prom")
	require.NoError(t, New(false).WriteTextfile(path))
	m2 := New(false)
	m2.Observer().Classified(interaction.Record{Type: interaction.Competition})
	require.NoError(t, m2.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `mminte_interactions_total{type="Competition"} 1`)
}
