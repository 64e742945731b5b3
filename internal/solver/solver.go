// Package solver defines the flux balance analysis capability consumed by
// the growth evaluator, plus two simplex backends: a sparse revised simplex
// for genome-scale models and a dense one built on gonum.
package solver

import (
	"context"
	"errors"
	"fmt"

	"mminte/internal/model"
)

// Status reports the outcome of an optimization.
type Status int

const (
	StatusOptimal Status = iota
	StatusInfeasible
	StatusUnbounded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	default:
		return "failed"
	}
}

var (
	// ErrInfeasible means no flux vector satisfies the model constraints.
	ErrInfeasible = errors.New("solver: model is infeasible")
	// ErrUnbounded means the objective can grow without limit.
	ErrUnbounded = errors.New("solver: objective is unbounded")
	// ErrNoObjective means the model has no objective reaction.
	ErrNoObjective = errors.New("solver: model has no objective")
)

// Solution is the result of maximizing a model's objective.
type Solution struct {
	Status         Status
	ObjectiveValue float64
	Fluxes         map[string]float64
}

// Flux returns the flux of a reaction and whether the reaction was part of
// the solved model.
func (s Solution) Flux(reactionID string) (float64, bool) {
	v, ok := s.Fluxes[reactionID]
	return v, ok
}

// Solver maximizes the sum of objective-weighted fluxes of a model subject
// to steady state (S·v = 0) and the reaction bounds. Implementations must
// be safe for concurrent use; each call owns its own problem state.
//
// A non-optimal outcome is reported both in Solution.Status and as an
// error wrapping ErrInfeasible or ErrUnbounded.
type Solver interface {
	Optimize(ctx context.Context, m *model.Model) (Solution, error)
}

// Func adapts a function to the Solver interface.
type Func func(ctx context.Context, m *model.Model) (Solution, error)

// Optimize implements Solver.
func (f Func) Optimize(ctx context.Context, m *model.Model) (Solution, error) {
	return f(ctx, m)
}

// Backend names accepted by New.
const (
	MethodRevised = "revised"
	MethodDense   = "dense"
)

// New returns the backend registered under method. An empty method selects
// the revised simplex.
func New(method string, tol float64) (Solver, error) {
	switch method {
	case "", MethodRevised:
		return NewRevised(tol), nil
	case MethodDense:
		return NewSimplex(tol), nil
	default:
		return nil, fmt.Errorf("solver: unknown method %q", method)
	}
}
