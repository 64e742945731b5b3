// Package metrics exposes pipeline activity as Prometheus collectors.
package metrics

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mminte/internal/diet"
	"mminte/internal/growth"
	"mminte/internal/interaction"
	"mminte/internal/pipeline"
	"mminte/internal/tables"
)

const namespace = "mminte"

// Task outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	Tasks        *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec
	Interactions *prometheus.CounterVec
	Solves       *prometheus.CounterVec
	DietEntries  *prometheus.CounterVec
	Runs         *prometheus.CounterVec
}

// New registers the collectors. withRuntime adds the Go and process
// collectors, which a long-running server wants and a textfile does not.
func New(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Pipeline tasks by stage and outcome.",
		}, []string{"stage", "outcome"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of successful pipeline tasks.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"stage"}),
		Interactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interactions_total",
			Help:      "Classified interactions by type.",
		}, []string{"type"}),
		Solves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solves_total",
			Help:      "Successful FBA solves by knockout scenario.",
		}, []string{"scenario"}),
		DietEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diet_entries_total",
			Help:      "Diet entries applied to or skipped for community models.",
		}, []string{"result"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished batch runs by kind and status.",
		}, []string{"kind", "status"}),
	}
	reg.MustRegister(m.Tasks, m.TaskDuration, m.Interactions, m.Solves, m.DietEntries, m.Runs)
	if withRuntime {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// WriteTextfile writes the registry in text format for the node exporter
// textfile collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// RunFinished counts a finished batch.
func (m *Metrics) RunFinished(sum pipeline.Summary, err error) {
	status := "completed"
	if err != nil {
		status = "failed"
	}
	m.Runs.WithLabelValues(string(sum.Kind), status).Inc()
}

// Observer returns a pipeline observer feeding m.
func (m *Metrics) Observer() pipeline.Observer { return observer{m} }

type observer struct{ m *Metrics }

func (o observer) DietApplied(_ string, rep diet.Report) {
	o.m.DietEntries.WithLabelValues("applied").Add(float64(rep.Applied))
	o.m.DietEntries.WithLabelValues("skipped").Add(float64(rep.Skipped))
}

func (o observer) ScenarioSolved(_ string, res growth.ScenarioResult) {
	o.m.Solves.WithLabelValues(res.Scenario.String()).Inc()
}

func (o observer) PairStarted(tables.Pair) {}

func (o observer) PairFailed(tables.Pair, error) {
	o.m.Tasks.WithLabelValues(string(pipeline.StageBuild), OutcomeFailed).Inc()
}

func (o observer) CommunityBuilt(_ tables.Pair, _, _ string, took time.Duration) {
	o.m.Tasks.WithLabelValues(string(pipeline.StageBuild), OutcomeOK).Inc()
	o.m.TaskDuration.WithLabelValues(string(pipeline.StageBuild)).Observe(took.Seconds())
}

func (o observer) GrowthEvaluated(_ growth.Record, took time.Duration) {
	o.m.Tasks.WithLabelValues(string(pipeline.StageGrow), OutcomeOK).Inc()
	o.m.TaskDuration.WithLabelValues(string(pipeline.StageGrow)).Observe(took.Seconds())
}

func (o observer) EvaluationFailed(string, error) {
	o.m.Tasks.WithLabelValues(string(pipeline.StageGrow), OutcomeFailed).Inc()
}

func (o observer) Classified(rec interaction.Record) {
	o.m.Interactions.WithLabelValues(rec.Type.String()).Inc()
}

func (o observer) Undetermined(rec interaction.Record) {
	o.m.Interactions.WithLabelValues(rec.Type.String()).Inc()
}
