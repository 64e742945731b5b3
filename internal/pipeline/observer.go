package pipeline

import (
	"time"

	"go.uber.org/zap"

	"mminte/internal/diet"
	"mminte/internal/growth"
	"mminte/internal/interaction"
	"mminte/internal/logging"
	"mminte/internal/tables"
)

// Observer receives pipeline events. Events arrive from concurrent tasks,
// so implementations must be safe for concurrent use.
type Observer interface {
	growth.Observer

	PairStarted(p tables.Pair)
	PairFailed(p tables.Pair, err error)
	CommunityBuilt(p tables.Pair, communityID, key string, took time.Duration)
	GrowthEvaluated(rec growth.Record, took time.Duration)
	EvaluationFailed(key string, err error)
	Classified(rec interaction.Record)
	Undetermined(rec interaction.Record)
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) DietApplied(string, diet.Report)                           {}
func (NopObserver) ScenarioSolved(string, growth.ScenarioResult)              {}
func (NopObserver) PairStarted(tables.Pair)                                   {}
func (NopObserver) PairFailed(tables.Pair, error)                             {}
func (NopObserver) CommunityBuilt(tables.Pair, string, string, time.Duration) {}
func (NopObserver) GrowthEvaluated(growth.Record, time.Duration)              {}
func (NopObserver) EvaluationFailed(string, error)                            {}
func (NopObserver) Classified(interaction.Record)                             {}
func (NopObserver) Undetermined(interaction.Record)                           {}

// Observers fans every event out to each member in order.
type Observers []Observer

func (os Observers) DietApplied(id string, rep diet.Report) {
	for _, o := range os {
		o.DietApplied(id, rep)
	}
}

func (os Observers) ScenarioSolved(id string, res growth.ScenarioResult) {
	for _, o := range os {
		o.ScenarioSolved(id, res)
	}
}

func (os Observers) PairStarted(p tables.Pair) {
	for _, o := range os {
		o.PairStarted(p)
	}
}

func (os Observers) PairFailed(p tables.Pair, err error) {
	for _, o := range os {
		o.PairFailed(p, err)
	}
}

func (os Observers) CommunityBuilt(p tables.Pair, id, key string, took time.Duration) {
	for _, o := range os {
		o.CommunityBuilt(p, id, key, took)
	}
}

func (os Observers) GrowthEvaluated(rec growth.Record, took time.Duration) {
	for _, o := range os {
		o.GrowthEvaluated(rec, took)
	}
}

func (os Observers) EvaluationFailed(key string, err error) {
	for _, o := range os {
		o.EvaluationFailed(key, err)
	}
}

func (os Observers) Classified(rec interaction.Record) {
	for _, o := range os {
		o.Classified(rec)
	}
}

func (os Observers) Undetermined(rec interaction.Record) {
	for _, o := range os {
		o.Undetermined(rec)
	}
}

// ZapObserver logs events, each under its logging category.
type ZapObserver struct {
	assembly    *zap.Logger
	diet        *zap.Logger
	solver      *zap.Logger
	growth      *zap.Logger
	interaction *zap.Logger
}

// NewZapObserver returns an observer writing to l.
func NewZapObserver(l *logging.Logger) *ZapObserver {
	return &ZapObserver{
		assembly:    l.Get(logging.CategoryAssembly),
		diet:        l.Get(logging.CategoryDiet),
		solver:      l.Get(logging.CategorySolver),
		growth:      l.Get(logging.CategoryGrowth),
		interaction: l.Get(logging.CategoryInteraction),
	}
}

func (z *ZapObserver) DietApplied(id string, rep diet.Report) {
	z.diet.Debug("diet applied", zap.String("community", id),
		zap.Int("applied", rep.Applied), zap.Int("skipped", rep.Skipped))
}

func (z *ZapObserver) ScenarioSolved(id string, res growth.ScenarioResult) {
	z.solver.Debug("scenario solved", zap.String("community", id),
		zap.Stringer("scenario", res.Scenario), zap.Float64("objective", res.Objective))
}

func (z *ZapObserver) PairStarted(p tables.Pair) {
	z.assembly.Debug("pair started", zap.Stringer("pair", p))
}

func (z *ZapObserver) PairFailed(p tables.Pair, err error) {
	z.assembly.Warn("pair skipped", zap.Stringer("pair", p), zap.Error(err))
}

func (z *ZapObserver) CommunityBuilt(p tables.Pair, id, key string, took time.Duration) {
	z.assembly.Info("community built", zap.Stringer("pair", p), zap.String("community", id),
		zap.String("file", key), zap.Duration("took", took))
}

func (z *ZapObserver) GrowthEvaluated(rec growth.Record, took time.Duration) {
	z.growth.Info("growth evaluated", zap.String("community", rec.CommunityID),
		zap.Float64("full_a", rec.FullA), zap.Float64("full_b", rec.FullB),
		zap.Float64("solo_a", rec.SoloA), zap.Float64("solo_b", rec.SoloB),
		zap.Duration("took", took))
}

func (z *ZapObserver) EvaluationFailed(key string, err error) {
	z.growth.Warn("community skipped", zap.String("file", key), zap.Error(err))
}

func (z *ZapObserver) Classified(rec interaction.Record) {
	z.interaction.Debug("classified", zap.String("community", rec.CommunityID),
		zap.Stringer("interaction", rec.Type))
}

func (z *ZapObserver) Undetermined(rec interaction.Record) {
	z.interaction.Warn("interaction undetermined, check growth rates",
		zap.String("community", rec.CommunityID),
		zap.Float64("pct_a", rec.PercentChangeA), zap.Float64("pct_b", rec.PercentChangeB))
}
