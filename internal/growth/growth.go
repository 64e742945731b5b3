// Package growth evaluates a community model under three scenarios (full
// community, species A knocked out, species B knocked out) and reports the
// growth rate of each species.
package growth

import (
	"context"
	"errors"
	"fmt"

	"mminte/internal/community"
	"mminte/internal/diet"
	"mminte/internal/model"
	"mminte/internal/solver"
)

// DefaultCutoff is the growth rate below which a value is reported as zero.
const DefaultCutoff = 1e-6

// Scenario is one of the three solves of a community model.
type Scenario int

const (
	ScenarioFull Scenario = iota
	ScenarioMinusA
	ScenarioMinusB
)

func (s Scenario) String() string {
	switch s {
	case ScenarioFull:
		return "full"
	case ScenarioMinusA:
		return "minusA"
	case ScenarioMinusB:
		return "minusB"
	default:
		return fmt.Sprintf("Scenario(%d)", int(s))
	}
}

// knockedOut returns the species removed in the scenario.
func (s Scenario) knockedOut() (Species, bool) {
	switch s {
	case ScenarioMinusA:
		return SpeciesA, true
	case ScenarioMinusB:
		return SpeciesB, true
	default:
		return 0, false
	}
}

// StructuralError means a community model does not have the shape the
// evaluator needs.
type StructuralError struct {
	Community string
	Reason    string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("community %s: %s", e.Community, e.Reason)
}

// InfeasibleError means the solver found no optimum for one scenario.
type InfeasibleError struct {
	Community string
	Scenario  Scenario
	Status    solver.Status
	Err       error
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf("community %s: %s scenario is %s: %v", e.Community, e.Scenario, e.Status, e.Err)
}

func (e *InfeasibleError) Unwrap() error { return e.Err }

// Growth is a species' objective flux in one scenario. Known is false when
// the species has no objective reaction in that scenario; such a rate is
// undefined, which is different from a computed rate of zero.
type Growth struct {
	Rate  float64
	Known bool
}

// ScenarioResult is the outcome of one solve.
type ScenarioResult struct {
	Scenario  Scenario
	Objective float64
	A, B      Growth
}

// Of returns the growth of s.
func (r ScenarioResult) Of(s Species) Growth {
	if s == SpeciesA {
		return r.A
	}
	return r.B
}

// Record is the growth-rate record of one community model. Solo rates are
// read from the scenario where the partner was knocked out. All rates are
// clamped.
type Record struct {
	CommunityID string
	SpeciesA    string
	SpeciesB    string
	ObjectiveA  string
	ObjectiveB  string
	FullA       float64
	FullB       float64
	SoloA       float64
	SoloB       float64
}

// Clamp returns 0 for any value below cutoff (negative values included)
// and v otherwise.
func Clamp(v, cutoff float64) float64 {
	if v < cutoff {
		return 0
	}
	return v
}

// Observer receives evaluator events.
type Observer interface {
	DietApplied(communityID string, rep diet.Report)
	ScenarioSolved(communityID string, res ScenarioResult)
}

type nopObserver struct{}

func (nopObserver) DietApplied(string, diet.Report)       {}
func (nopObserver) ScenarioSolved(string, ScenarioResult) {}

// Evaluator runs the knockout scenarios. An Evaluator holds no per-call
// state and may be shared by concurrent tasks if its Solver allows it.
type Evaluator struct {
	Solver   solver.Solver
	Diet     *diet.Diet
	Cutoff   float64
	Observer Observer
}

// NewEvaluator returns an evaluator with the default cutoff and no diet.
func NewEvaluator(s solver.Solver) *Evaluator {
	return &Evaluator{Solver: s, Cutoff: DefaultCutoff}
}

func (e *Evaluator) observer() Observer {
	if e.Observer == nil {
		return nopObserver{}
	}
	return e.Observer
}

// Evaluate solves the full, minus-A and minus-B variants of m and returns
// the clamped growth record. Any failed solve fails the whole model.
func (e *Evaluator) Evaluate(ctx context.Context, m *model.Model) (Record, error) {
	if e.Solver == nil {
		return Record{}, errors.New("growth: evaluator has no solver")
	}
	obs := e.observer()

	objs, err := ResolveObjectives(m)
	if err != nil {
		return Record{}, err
	}
	speciesA, speciesB, ok := community.Members(m)
	if !ok {
		return Record{}, &StructuralError{Community: m.ID(), Reason: "model does not name its two species"}
	}

	full := m
	if e.Diet != nil {
		var rep diet.Report
		full, rep, err = diet.Apply(m, *e.Diet)
		if err != nil {
			return Record{}, fmt.Errorf("community %s: %w", m.ID(), err)
		}
		obs.DietApplied(m.ID(), rep)
	}

	var results [3]ScenarioResult
	for _, sc := range []Scenario{ScenarioFull, ScenarioMinusA, ScenarioMinusB} {
		variant := full
		if s, ok := sc.knockedOut(); ok {
			if variant, err = Knockout(full, s); err != nil {
				return Record{}, err
			}
		}
		res, err := e.solve(ctx, m.ID(), sc, variant, objs)
		if err != nil {
			return Record{}, err
		}
		obs.ScenarioSolved(m.ID(), res)
		results[sc] = res
	}

	cutoff := e.Cutoff
	return Record{
		CommunityID: m.ID(),
		SpeciesA:    speciesA,
		SpeciesB:    speciesB,
		ObjectiveA:  objs.A,
		ObjectiveB:  objs.B,
		FullA:       Clamp(results[ScenarioFull].A.Rate, cutoff),
		FullB:       Clamp(results[ScenarioFull].B.Rate, cutoff),
		SoloA:       Clamp(results[ScenarioMinusB].A.Rate, cutoff),
		SoloB:       Clamp(results[ScenarioMinusA].B.Rate, cutoff),
	}, nil
}

func (e *Evaluator) solve(ctx context.Context, communityID string, sc Scenario, m *model.Model, objs Objectives) (ScenarioResult, error) {
	sol, err := e.Solver.Optimize(ctx, m)
	if err == nil && sol.Status != solver.StatusOptimal {
		err = fmt.Errorf("solver returned status %s", sol.Status)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ScenarioResult{}, ctxErr
		}
		return ScenarioResult{}, &InfeasibleError{Community: communityID, Scenario: sc, Status: sol.Status, Err: err}
	}

	res := ScenarioResult{Scenario: sc, Objective: sol.ObjectiveValue}
	removed, hasRemoved := sc.knockedOut()
	for _, s := range []Species{SpeciesA, SpeciesB} {
		if hasRemoved && s == removed {
			continue
		}
		id := objs.Of(s)
		v, ok := sol.Flux(id)
		if !ok {
			return ScenarioResult{}, &StructuralError{
				Community: communityID,
				Reason:    fmt.Sprintf("%s solution has no flux for objective %s", sc, id),
			}
		}
		g := Growth{Rate: v, Known: true}
		if s == SpeciesA {
			res.A = g
		} else {
			res.B = g
		}
	}
	return res, nil
}

// Knockout returns a copy of m without any reaction of species s.
// Metabolites are kept.
func Knockout(m *model.Model, s Species) (*model.Model, error) {
	b := m.ToBuilder()
	tag := s.Tag()
	b.RemoveReactions(func(r model.Reaction) bool { return tag.OwnsReaction(r.ID) })
	out, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("knock out species %s of %s: %w", s, m.ID(), err)
	}
	return out, nil
}
