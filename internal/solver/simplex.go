package solver

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"mminte/internal/model"
)

// DefaultTolerance is the simplex tolerance used when none is configured.
const DefaultTolerance = 1e-10

// Simplex solves FBA problems with gonum's dense simplex implementation.
// It refactors a dense basis every pivot, so it only suits small models;
// Revised is the default for genome-scale communities.
//
// Each reaction is shifted onto a non-negative column before the solve:
//
//	v = lb + y        finite lb
//	v = ub - y        lb = -inf, finite ub
//	v = y⁺ - y⁻       free
//
// so lower bounds need no rows. Only a finite upper bound on a shifted
// column adds a row y + s = ub - lb. Mass balance rows keep only a linearly
// independent subset, since lp.Simplex needs a full-rank equality block.
type Simplex struct {
	Tolerance float64
}

// NewSimplex returns a Simplex solver with the given tolerance.
func NewSimplex(tol float64) *Simplex {
	if tol <= 0 {
		tol = DefaultTolerance
	}
	return &Simplex{Tolerance: tol}
}

// Optimize implements Solver.
func (s *Simplex) Optimize(ctx context.Context, m *model.Model) (Solution, error) {
	if err := ctx.Err(); err != nil {
		return Solution{Status: StatusFailed}, err
	}
	tol := s.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}

	p, err := newProblem(m)
	if err != nil {
		return Solution{Status: StatusFailed}, err
	}
	if p.unbounded {
		return Solution{Status: StatusUnbounded}, fmt.Errorf("%s: %w", m.ID(), ErrUnbounded)
	}

	var x []float64
	if p.a != nil {
		_, x, err = lp.Simplex(p.c, p.a, p.b, tol, nil)
		x = p.expand(x)
	} else {
		x, err = p.solveUnconstrained()
	}
	switch {
	case errors.Is(err, lp.ErrInfeasible):
		return Solution{Status: StatusInfeasible}, fmt.Errorf("%s: %w", m.ID(), ErrInfeasible)
	case errors.Is(err, lp.ErrUnbounded):
		return Solution{Status: StatusUnbounded}, fmt.Errorf("%s: %w", m.ID(), ErrUnbounded)
	case err != nil:
		return Solution{Status: StatusFailed}, fmt.Errorf("%s: simplex: %w", m.ID(), err)
	}

	fluxes := make(map[string]float64, len(p.cols)+len(p.fixed))
	obj := 0.0
	for _, c := range p.cols {
		v := c.shift + c.scale*x[c.y]
		if c.neg >= 0 {
			v -= x[c.neg]
		}
		fluxes[c.r.ID] = v
		obj += c.r.ObjectiveCoefficient * v
	}
	for id, v := range p.fixed {
		fluxes[id] = v
	}
	obj += p.fixedObj
	// Dropped balance rows are combinations of kept ones; a shifted right
	// hand side can still make them inconsistent.
	for _, row := range p.dropped {
		res := 0.0
		for id, coef := range row {
			res += coef * fluxes[id]
		}
		if math.Abs(res) > 1e-6 {
			return Solution{Status: StatusInfeasible}, fmt.Errorf("%s: %w", m.ID(), ErrInfeasible)
		}
	}
	return Solution{Status: StatusOptimal, ObjectiveValue: obj, Fluxes: fluxes}, nil
}

// column maps a reaction onto LP columns: v = shift + scale·x[y] - x[neg].
type column struct {
	r     model.Reaction
	y     int
	neg   int // -1 unless the reaction is free
	shift float64
	scale float64
}

// problem is the standard-form LP min cᵀx s.t. A·x = b, x ≥ 0.
type problem struct {
	cols      []column
	fixed     map[string]float64 // reactions without stoichiometry, solved directly
	fixedObj  float64
	dropped   []map[string]float64
	c         []float64
	a         *mat.Dense // nil when no row survives
	b         []float64
	keep      []int // columns of a, by index into the full variable list
	width     int
	unbounded bool
}

func newProblem(m *model.Model) (*problem, error) {
	if len(m.Objective()) == 0 {
		return nil, fmt.Errorf("%s: %w", m.ID(), ErrNoObjective)
	}

	p := &problem{fixed: map[string]float64{}}
	nvars := 0
	var boundRows []int // column index of each finite upper bound row
	var boundRHS []float64
	for _, r := range m.Reactions() {
		lb, ub := r.LowerBound, r.UpperBound
		if lb > ub {
			return nil, fmt.Errorf("%s: reaction %s has lower bound above upper bound: %w", m.ID(), r.ID, ErrInfeasible)
		}
		if len(r.Stoichiometry) == 0 {
			v, ok := bestOnBounds(r)
			p.unbounded = p.unbounded || !ok
			p.fixed[r.ID] = v
			p.fixedObj += r.ObjectiveCoefficient * v
			continue
		}
		c := column{r: r, y: nvars, neg: -1, scale: 1}
		nvars++
		switch {
		case !math.IsInf(lb, -1):
			c.shift = lb
			p.c = append(p.c, -r.ObjectiveCoefficient)
			if !math.IsInf(ub, 1) {
				boundRows = append(boundRows, c.y)
				boundRHS = append(boundRHS, ub-lb)
			}
		case !math.IsInf(ub, 1):
			c.shift, c.scale = ub, -1
			p.c = append(p.c, r.ObjectiveCoefficient)
		default:
			c.neg = nvars
			nvars++
			p.c = append(p.c, -r.ObjectiveCoefficient, r.ObjectiveCoefficient)
		}
		p.cols = append(p.cols, c)
	}
	// One slack column per upper bound row.
	for range boundRows {
		p.c = append(p.c, 0)
	}
	width := len(p.c)

	var rows [][]float64
	var rhs []float64
	balance, sums := balanceRows(m, p.cols, nvars)
	indep := independentRows(balance, 1e-9)
	kept := 0
	for i, row := range balance {
		if kept < len(indep) && indep[kept] == i {
			kept++
			full := make([]float64, width)
			copy(full, row)
			rows = append(rows, full)
			rhs = append(rhs, sums[i].rhs)
			continue
		}
		p.dropped = append(p.dropped, sums[i].coefs)
	}
	for k, y := range boundRows {
		full := make([]float64, width)
		full[y] = 1
		full[nvars+k] = 1
		rows = append(rows, full)
		rhs = append(rhs, boundRHS[k])
	}
	p.width = width
	if len(rows) == 0 {
		return p, nil
	}
	// lp.Simplex rejects all-zero columns. Such a variable sits at zero
	// unless its cost improves without limit.
	used := make([]bool, width)
	for _, row := range rows {
		for k, v := range row {
			if v != 0 {
				used[k] = true
			}
		}
	}
	for k, u := range used {
		switch {
		case u:
			p.keep = append(p.keep, k)
		case p.c[k] < 0:
			p.unbounded = true
		}
	}
	if len(p.keep) < width {
		c := make([]float64, len(p.keep))
		for n, k := range p.keep {
			c[n] = p.c[k]
		}
		p.c = c
		for i, row := range rows {
			compact := make([]float64, len(p.keep))
			for n, k := range p.keep {
				compact[n] = row[k]
			}
			rows[i] = compact
		}
		width = len(p.keep)
	}
	// lp.Simplex expects b ≥ 0.
	for i := range rows {
		if rhs[i] < 0 {
			rhs[i] = -rhs[i]
			for k := range rows[i] {
				rows[i][k] = -rows[i][k]
			}
		}
	}
	p.a = denseFromRows(rows, width)
	p.b = rhs
	return p, nil
}

// expand maps a solution over the kept columns back onto every variable.
func (p *problem) expand(x []float64) []float64 {
	if x == nil {
		return nil
	}
	full := make([]float64, p.width)
	for n, k := range p.keep {
		full[k] = x[n]
	}
	return full
}

// solveUnconstrained handles a problem with no rows: every column sits at
// zero unless its cost improves without limit.
func (p *problem) solveUnconstrained() ([]float64, error) {
	for _, c := range p.c {
		if c < 0 {
			return nil, lp.ErrUnbounded
		}
	}
	return make([]float64, len(p.c)), nil
}

// bestOnBounds picks the optimal flux of a reaction that touches no
// metabolite. ok is false when the objective grows without limit.
func bestOnBounds(r model.Reaction) (float64, bool) {
	var v float64
	switch c := r.ObjectiveCoefficient; {
	case c > 0:
		v = r.UpperBound
	case c < 0:
		v = r.LowerBound
	default:
		v = math.Max(r.LowerBound, math.Min(0, r.UpperBound))
	}
	if math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

type balanceSum struct {
	rhs   float64
	coefs map[string]float64
}

// balanceRows returns one row per metabolite over the LP columns, with the
// right hand side moved over by the column shifts.
func balanceRows(m *model.Model, cols []column, nvars int) ([][]float64, []balanceSum) {
	index := make(map[string]int)
	var rows [][]float64
	var sums []balanceSum
	for _, met := range m.Metabolites() {
		for _, c := range cols {
			coef := c.r.Stoichiometry[met.ID]
			if coef == 0 {
				continue
			}
			i, ok := index[met.ID]
			if !ok {
				i = len(rows)
				index[met.ID] = i
				rows = append(rows, make([]float64, nvars))
				sums = append(sums, balanceSum{coefs: map[string]float64{}})
			}
			rows[i][c.y] = coef * c.scale
			if c.neg >= 0 {
				rows[i][c.neg] = -coef
			}
			sums[i].rhs -= coef * c.shift
			sums[i].coefs[c.r.ID] = coef
		}
	}
	return rows, sums
}

// independentRows returns the indices of a maximal linearly independent
// subset of rows, in order. It runs an incremental elimination where every
// accepted row is stored reduced against its predecessors.
func independentRows(rows [][]float64, tol float64) []int {
	type basisVec struct {
		v     []float64
		pivot int
	}
	var basis []basisVec
	var kept []int
	for i, row := range rows {
		r := append([]float64(nil), row...)
		scale := 0.0
		for _, x := range r {
			scale = math.Max(scale, math.Abs(x))
		}
		if scale == 0 {
			continue
		}
		for _, b := range basis {
			f := r[b.pivot]
			if f == 0 {
				continue
			}
			for k := range r {
				r[k] -= f * b.v[k]
			}
		}
		pivot, best := -1, 0.0
		for k, x := range r {
			if math.Abs(x) > best {
				pivot, best = k, math.Abs(x)
			}
		}
		if pivot < 0 || best <= tol*scale {
			continue
		}
		inv := 1 / r[pivot]
		for k := range r {
			r[k] *= inv
		}
		basis = append(basis, basisVec{v: r, pivot: pivot})
		kept = append(kept, i)
	}
	return kept
}

func denseFromRows(rows [][]float64, n int) *mat.Dense {
	data := make([]float64, 0, len(rows)*n)
	for _, r := range rows {
		data = append(data, r...)
	}
	return mat.NewDense(len(rows), n, data)
}
