package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"mminte/internal/model"
)

const (
	feasTol       = 1e-9
	pivotTol      = 1e-9
	phaseOneTol   = 1e-7
	reinvertGap   = 64
	refreshEvery  = 32
	blandAfter    = 50
	cancelEvery   = 64
	minIterations = 1000
)

// errIterationLimit is returned when the pivot budget runs out.
var errIterationLimit = errors.New("solver: iteration limit reached")

// Revised solves FBA problems with a bounded-variable revised simplex over
// the sparse stoichiometric matrix.
//
// Reaction bounds never become constraint rows: they are enforced by the
// ratio test, so the basis has one row per metabolite that survives
// presolve. The basis inverse is kept in product form (an eta file on top
// of the artificial starting basis) and rebuilt every few dozen pivots.
type Revised struct {
	Tolerance float64 // reduced cost tolerance
	// MaxIterations caps pivots per phase. Zero sizes it from the problem.
	MaxIterations int
}

// NewRevised returns a Revised solver with the given tolerance.
func NewRevised(tol float64) *Revised {
	if tol <= 0 {
		tol = DefaultTolerance
	}
	return &Revised{Tolerance: tol}
}

// Optimize implements Solver.
func (s *Revised) Optimize(ctx context.Context, m *model.Model) (Solution, error) {
	if err := ctx.Err(); err != nil {
		return Solution{Status: StatusFailed}, err
	}
	if len(m.Objective()) == 0 {
		return Solution{Status: StatusFailed}, fmt.Errorf("%s: %w", m.ID(), ErrNoObjective)
	}
	p, err := newSparseLP(m)
	if errors.Is(err, ErrInfeasible) {
		return Solution{Status: StatusInfeasible}, err
	}
	if err != nil {
		return Solution{Status: StatusFailed}, err
	}

	tol := s.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}
	limit := s.MaxIterations
	if limit <= 0 {
		limit = 20*(p.n+p.m) + minIterations
	}
	st := newTableau(p, tol)

	if st.infeasibility() > feasTol {
		cost := make([]float64, p.n+p.m)
		for i := 0; i < p.m; i++ {
			cost[p.n+i] = -1
		}
		if err := st.run(ctx, cost, limit); err != nil {
			return Solution{Status: StatusFailed}, fmt.Errorf("%s: phase one: %w", m.ID(), err)
		}
		if st.infeasibility() > phaseOneTol {
			return Solution{Status: StatusInfeasible}, fmt.Errorf("%s: %w", m.ID(), ErrInfeasible)
		}
	}
	st.pinArtificials()

	cost := make([]float64, p.n+p.m)
	copy(cost, p.cost)
	if err := st.run(ctx, cost, limit); err != nil {
		if errors.Is(err, ErrUnbounded) {
			return Solution{Status: StatusUnbounded}, fmt.Errorf("%s: %w", m.ID(), err)
		}
		return Solution{Status: StatusFailed}, fmt.Errorf("%s: %w", m.ID(), err)
	}

	fluxes := make(map[string]float64, len(p.ids)+len(p.fixed))
	obj := 0.0
	for j, id := range p.ids {
		fluxes[id] = st.x[j]
		obj += p.cost[j] * st.x[j]
	}
	for _, id := range p.fixed {
		fluxes[id] = 0
	}
	return Solution{Status: StatusOptimal, ObjectiveValue: obj, Fluxes: fluxes}, nil
}

// sparseLP is max cᵀv s.t. A·v = 0, lower ≤ v ≤ upper, stored column-wise.
// The tableau adds one artificial unit column per row after the n reaction
// columns.
type sparseLP struct {
	n, m         int
	ids          []string
	fixed        []string // pinned to zero by presolve
	cost         []float64
	lower, upper []float64
	colStart     []int
	rowIdx       []int
	vals         []float64
}

func (p *sparseLP) column(j int) ([]int, []float64) {
	a, b := p.colStart[j], p.colStart[j+1]
	return p.rowIdx[a:b], p.vals[a:b]
}

// newSparseLP builds the LP for m. A metabolite touched by exactly one live
// reaction forces that reaction to zero flux; such pairs are removed
// repeatedly before the simplex starts.
func newSparseLP(m *model.Model) (*sparseLP, error) {
	type entry struct {
		row int
		val float64
	}
	rxns := m.Reactions()
	rowOf := make(map[string]int)
	cols := make([][]entry, len(rxns))
	for j, r := range rxns {
		if r.LowerBound > r.UpperBound {
			return nil, fmt.Errorf("%s: reaction %s has lower bound above upper bound: %w", m.ID(), r.ID, ErrInfeasible)
		}
		mets := make([]string, 0, len(r.Stoichiometry))
		for id, v := range r.Stoichiometry {
			if v != 0 {
				mets = append(mets, id)
			}
		}
		sort.Strings(mets)
		for _, id := range mets {
			i, ok := rowOf[id]
			if !ok {
				i = len(rowOf)
				rowOf[id] = i
			}
			cols[j] = append(cols[j], entry{i, r.Stoichiometry[id]})
		}
	}

	rowCols := make([][]int, len(rowOf))
	for j, c := range cols {
		for _, e := range c {
			rowCols[e.row] = append(rowCols[e.row], j)
		}
	}
	live := make([]bool, len(rxns))
	for j := range live {
		live[j] = true
	}
	count := make([]int, len(rowOf))
	var queue []int
	for i, cs := range rowCols {
		count[i] = len(cs)
		if count[i] == 1 {
			queue = append(queue, i)
		}
	}
	for len(queue) > 0 {
		i := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if count[i] != 1 {
			continue
		}
		j := -1
		for _, c := range rowCols[i] {
			if live[c] {
				j = c
				break
			}
		}
		if r := rxns[j]; r.LowerBound > 0 || r.UpperBound < 0 {
			return nil, fmt.Errorf("%s: reaction %s cannot carry zero flux: %w", m.ID(), r.ID, ErrInfeasible)
		}
		live[j] = false
		for _, e := range cols[j] {
			count[e.row]--
			if count[e.row] == 1 {
				queue = append(queue, e.row)
			}
		}
	}

	rowMap := make([]int, len(rowOf))
	p := &sparseLP{}
	for i := range rowMap {
		rowMap[i] = -1
		if count[i] > 0 {
			rowMap[i] = p.m
			p.m++
		}
	}
	for j, r := range rxns {
		if !live[j] {
			p.fixed = append(p.fixed, r.ID)
			continue
		}
		p.ids = append(p.ids, r.ID)
		p.cost = append(p.cost, r.ObjectiveCoefficient)
		p.lower = append(p.lower, r.LowerBound)
		p.upper = append(p.upper, r.UpperBound)
		p.colStart = append(p.colStart, len(p.rowIdx))
		for _, e := range cols[j] {
			p.rowIdx = append(p.rowIdx, rowMap[e.row])
			p.vals = append(p.vals, e.val)
		}
	}
	p.colStart = append(p.colStart, len(p.rowIdx))
	p.n = len(p.ids)
	return p, nil
}

// eta is one product-form factor: the column w = B⁻¹a of the entering
// variable, pivoted on row.
type eta struct {
	row int
	piv float64
	idx []int
	val []float64
}

// tableau is the working state of the revised simplex.
type tableau struct {
	p            *sparseLP
	optTol       float64
	lower, upper []float64
	x            []float64
	sign         []float64 // artificial column sign per row
	head         []int     // basic variable per row
	pos          []int     // row of a basic variable, -1 otherwise
	etas         []eta
	lastInvert   int
	work         []float64
}

func newTableau(p *sparseLP, optTol float64) *tableau {
	total := p.n + p.m
	t := &tableau{
		p:      p,
		optTol: optTol,
		lower:  make([]float64, total),
		upper:  make([]float64, total),
		x:      make([]float64, total),
		sign:   make([]float64, p.m),
		head:   make([]int, p.m),
		pos:    make([]int, total),
		work:   make([]float64, p.m),
	}
	copy(t.lower, p.lower)
	copy(t.upper, p.upper)
	residual := make([]float64, p.m)
	for j := 0; j < p.n; j++ {
		t.pos[j] = -1
		t.x[j] = math.Max(t.lower[j], math.Min(0, t.upper[j]))
		if t.x[j] == 0 {
			continue
		}
		rows, vals := p.column(j)
		for k, i := range rows {
			residual[i] -= vals[k] * t.x[j]
		}
	}
	for i := 0; i < p.m; i++ {
		a := p.n + i
		t.sign[i] = 1
		if residual[i] < 0 {
			t.sign[i] = -1
		}
		t.upper[a] = math.Inf(1)
		t.x[a] = math.Abs(residual[i])
		t.head[i] = a
		t.pos[a] = i
	}
	return t
}

// scatter writes column j into dense w.
func (t *tableau) scatter(j int, w []float64) {
	for i := range w {
		w[i] = 0
	}
	if j >= t.p.n {
		i := j - t.p.n
		w[i] = t.sign[i]
		return
	}
	rows, vals := t.p.column(j)
	for k, i := range rows {
		w[i] = vals[k]
	}
}

func (t *tableau) dot(y []float64, j int) float64 {
	if j >= t.p.n {
		i := j - t.p.n
		return y[i] * t.sign[i]
	}
	rows, vals := t.p.column(j)
	s := 0.0
	for k, i := range rows {
		s += y[i] * vals[k]
	}
	return s
}

// ftran overwrites z with B⁻¹z.
func (t *tableau) ftran(z []float64) {
	for i := range z {
		z[i] *= t.sign[i]
	}
	for _, e := range t.etas {
		zr := z[e.row]
		if zr == 0 {
			continue
		}
		zr /= e.piv
		z[e.row] = zr
		for k, i := range e.idx {
			z[i] -= e.val[k] * zr
		}
	}
}

// btran overwrites v with vᵀB⁻¹.
func (t *tableau) btran(v []float64) {
	for k := len(t.etas) - 1; k >= 0; k-- {
		e := t.etas[k]
		s := v[e.row]
		for n, i := range e.idx {
			s -= v[i] * e.val[n]
		}
		v[e.row] = s / e.piv
	}
	for i := range v {
		v[i] *= t.sign[i]
	}
}

func (t *tableau) pushEta(w []float64, r int) {
	e := eta{row: r, piv: w[r]}
	for i, v := range w {
		if i != r && v != 0 {
			e.idx = append(e.idx, i)
			e.val = append(e.val, v)
		}
	}
	t.etas = append(t.etas, e)
}

func (t *tableau) infeasibility() float64 {
	s := 0.0
	for i := 0; i < t.p.m; i++ {
		s += t.x[t.p.n+i]
	}
	return s
}

// pinArtificials fixes every artificial at zero for phase two.
func (t *tableau) pinArtificials() {
	for i := 0; i < t.p.m; i++ {
		a := t.p.n + i
		t.upper[a] = 0
		if t.pos[a] < 0 {
			t.x[a] = 0
		}
	}
	t.refresh()
}

// refresh recomputes the basic values from the nonbasic ones.
func (t *tableau) refresh() {
	rhs := t.work
	for i := range rhs {
		rhs[i] = 0
	}
	for j, r := range t.pos {
		if r >= 0 || t.x[j] == 0 {
			continue
		}
		if j >= t.p.n {
			i := j - t.p.n
			rhs[i] -= t.sign[i] * t.x[j]
			continue
		}
		rows, vals := t.p.column(j)
		for k, i := range rows {
			rhs[i] -= vals[k] * t.x[j]
		}
	}
	t.ftran(rhs)
	for i, j := range t.head {
		t.x[j] = rhs[i]
	}
}

// reinvert rebuilds the eta file from the artificial basis by pivoting the
// basic reaction columns back in. Columns go in row-singleton order: a row
// covered by a single remaining column takes that column, which keeps each
// eta as sparse as its column on triangular stretches of the basis. A
// column that has become dependent stays nonbasic at its current value.
func (t *tableau) reinvert() {
	var basic []int
	for _, j := range t.head {
		if j < t.p.n {
			basic = append(basic, j)
		}
		t.pos[j] = -1
	}
	t.etas = t.etas[:0]
	for i := range t.head {
		a := t.p.n + i
		t.head[i] = a
		t.pos[a] = i
	}

	count := make([]int, t.p.m)
	rowCols := make([][]int, t.p.m)
	for k, j := range basic {
		rows, _ := t.p.column(j)
		for _, i := range rows {
			count[i]++
			rowCols[i] = append(rowCols[i], k)
		}
	}
	var queue []int
	for i, c := range count {
		if c == 1 {
			queue = append(queue, i)
		}
	}
	done := make([]bool, len(basic))
	w := make([]float64, t.p.m)
	next := 0
	for left := len(basic); left > 0; left-- {
		k, r := -1, -1
		for k < 0 && len(queue) > 0 {
			i := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			if count[i] != 1 || t.head[i] < t.p.n {
				continue
			}
			for _, c := range rowCols[i] {
				if !done[c] {
					k, r = c, i
					break
				}
			}
		}
		if k < 0 {
			for done[next] {
				next++
			}
			k = next
		}
		done[k] = true
		j := basic[k]
		rows, _ := t.p.column(j)
		for _, i := range rows {
			count[i]--
			if count[i] == 1 {
				queue = append(queue, i)
			}
		}

		t.scatter(j, w)
		t.ftran(w)
		if r < 0 || math.Abs(w[r]) <= pivotTol {
			r = -1
			best := pivotTol
			for i, v := range w {
				if t.head[i] >= t.p.n && math.Abs(v) > best {
					r, best = i, math.Abs(v)
				}
			}
		}
		if r < 0 {
			continue
		}
		t.pos[t.head[r]] = -1
		t.head[r] = j
		t.pos[j] = r
		t.pushEta(w, r)
	}
	t.lastInvert = len(t.etas)
	t.refresh()
}

// run maximizes costᵀx from the current basis.
func (t *tableau) run(ctx context.Context, cost []float64, limit int) error {
	m := t.p.m
	total := t.p.n + m
	y := make([]float64, m)
	w := make([]float64, m)
	degenerate := 0
	for iter := 0; ; iter++ {
		if iter >= limit {
			return errIterationLimit
		}
		if iter%cancelEvery == cancelEvery-1 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		switch {
		case len(t.etas) > t.lastInvert+reinvertGap:
			t.reinvert()
		case iter%refreshEvery == refreshEvery-1:
			t.refresh()
		}
		// Long degenerate runs are normal while pinned artificials leave the
		// basis; only a run longer than that falls back to Bland's rule.
		bland := degenerate > blandAfter+2*m

		for i, j := range t.head {
			y[i] = cost[j]
		}
		t.btran(y)

		q, dir, best := -1, 0.0, 0.0
		for j := 0; j < total; j++ {
			if t.pos[j] >= 0 {
				continue
			}
			d := cost[j] - t.dot(y, j)
			var score, sgn float64
			switch {
			case d > t.optTol && t.x[j] < t.upper[j]-feasTol:
				score, sgn = d, 1
			case d < -t.optTol && t.x[j] > t.lower[j]+feasTol:
				score, sgn = -d, -1
			default:
				continue
			}
			if bland {
				q, dir = j, sgn
				break
			}
			if score > best {
				q, dir, best = j, sgn, score
			}
		}
		if q < 0 {
			return nil
		}

		t.scatter(q, w)
		t.ftran(w)

		// Harris two-pass ratio test.
		limitT := math.Inf(1)
		for i, wi := range w {
			if math.Abs(wi) <= pivotTol {
				continue
			}
			if lim, ok := t.rowLimit(i, -dir*wi, feasTol); ok && lim < limitT {
				limitT = lim
			}
		}
		r, step, pick := -1, math.Inf(1), 0.0
		if !math.IsInf(limitT, 1) {
			for i, wi := range w {
				if math.Abs(wi) <= pivotTol {
					continue
				}
				lim, ok := t.rowLimit(i, -dir*wi, 0)
				if !ok || lim > limitT {
					continue
				}
				better := math.Abs(wi) > pick
				if bland {
					better = r < 0 || t.head[i] < t.head[r]
				}
				if better {
					r, step, pick = i, math.Max(lim, 0), math.Abs(wi)
				}
			}
		}

		span := t.upper[q] - t.x[q]
		if dir < 0 {
			span = t.x[q] - t.lower[q]
		}
		if r < 0 && math.IsInf(span, 1) {
			return ErrUnbounded
		}
		flip := r < 0 || span <= step
		if flip {
			step = span
		}

		for i, wi := range w {
			if wi != 0 {
				t.x[t.head[i]] -= dir * step * wi
			}
		}
		if step > feasTol {
			degenerate = 0
		} else {
			degenerate++
		}
		if flip {
			if dir > 0 {
				t.x[q] = t.upper[q]
			} else {
				t.x[q] = t.lower[q]
			}
			continue
		}
		t.x[q] += dir * step

		leaving := t.head[r]
		if -dir*w[r] < 0 {
			t.x[leaving] = t.lower[leaving]
		} else {
			t.x[leaving] = t.upper[leaving]
		}
		t.pos[leaving] = -1
		t.head[r] = q
		t.pos[q] = r
		t.pushEta(w, r)
	}
}

// rowLimit returns how far the entering variable may move before the basic
// variable of row i, changing at rate delta, reaches a bound.
func (t *tableau) rowLimit(i int, delta, slack float64) (float64, bool) {
	b := t.head[i]
	switch {
	case delta < 0 && !math.IsInf(t.lower[b], -1):
		return (t.x[b] - t.lower[b] + slack) / -delta, true
	case delta > 0 && !math.IsInf(t.upper[b], 1):
		return (t.upper[b] - t.x[b] + slack) / delta, true
	}
	return 0, false
}
