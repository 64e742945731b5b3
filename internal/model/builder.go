package model

import (
	"errors"
	"fmt"
	"math"
)

// ValidationError describes why a Builder refused to produce a Model.
type ValidationError struct {
	ModelID  string
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("model %s: %s", e.ModelID, e.Problems[0])
	}
	return fmt.Sprintf("model %s: %d problems, first: %s", e.ModelID, len(e.Problems), e.Problems[0])
}

// ErrNotFound is returned by builder edits that name an unknown id.
var ErrNotFound = errors.New("model: id not found")

// Builder accumulates reactions and metabolites and produces an immutable
// Model. Builders are not safe for concurrent use.
type Builder struct {
	id          string
	name        string
	reactions   []Reaction
	metabolites []Metabolite
	rxnIndex    map[string]int
	metIndex    map[string]int
	attrs       map[string]string
	problems    []string
}

// NewBuilder returns an empty builder for a model with the given id.
func NewBuilder(id string) *Builder {
	return &Builder{
		id:       id,
		rxnIndex: make(map[string]int),
		metIndex: make(map[string]int),
		attrs:    make(map[string]string),
	}
}

// SetID replaces the model id.
func (b *Builder) SetID(id string) *Builder {
	b.id = id
	return b
}

// ID returns the model id the builder will produce.
func (b *Builder) ID() string { return b.id }

// SetName sets the human readable name.
func (b *Builder) SetName(name string) *Builder {
	b.name = name
	return b
}

// SetAttr sets a model attribute.
func (b *Builder) SetAttr(key, value string) *Builder {
	b.attrs[key] = value
	return b
}

// AddMetabolite appends a metabolite. A duplicate id is recorded as a
// problem and reported by Build.
func (b *Builder) AddMetabolite(m Metabolite) *Builder {
	if m.ID == "" {
		b.problems = append(b.problems, "metabolite with empty id")
		return b
	}
	if _, dup := b.metIndex[m.ID]; dup {
		b.problems = append(b.problems, fmt.Sprintf("duplicate metabolite %q", m.ID))
		return b
	}
	b.metIndex[m.ID] = len(b.metabolites)
	b.metabolites = append(b.metabolites, m)
	return b
}

// EnsureMetabolite adds a metabolite unless one with the same id exists.
func (b *Builder) EnsureMetabolite(m Metabolite) *Builder {
	if _, ok := b.metIndex[m.ID]; ok {
		return b
	}
	return b.AddMetabolite(m)
}

// AddReaction appends a deep copy of the reaction.
func (b *Builder) AddReaction(r Reaction) *Builder {
	if r.ID == "" {
		b.problems = append(b.problems, "reaction with empty id")
		return b
	}
	if _, dup := b.rxnIndex[r.ID]; dup {
		b.problems = append(b.problems, fmt.Sprintf("duplicate reaction %q", r.ID))
		return b
	}
	b.rxnIndex[r.ID] = len(b.reactions)
	b.reactions = append(b.reactions, r.Clone())
	return b
}

// HasReaction reports whether the builder holds the reaction id.
func (b *Builder) HasReaction(id string) bool {
	_, ok := b.rxnIndex[id]
	return ok
}

// UpdateReaction applies fn to the stored reaction. The reaction id must
// not be changed by fn.
func (b *Builder) UpdateReaction(id string, fn func(*Reaction)) error {
	i, ok := b.rxnIndex[id]
	if !ok {
		return fmt.Errorf("%w: reaction %s", ErrNotFound, id)
	}
	r := b.reactions[i]
	fn(&r)
	if r.ID != id {
		return fmt.Errorf("reaction %s: id cannot change during update", id)
	}
	b.reactions[i] = r
	return nil
}

// SetLowerBound sets the lower bound of a reaction.
func (b *Builder) SetLowerBound(id string, v float64) error {
	return b.UpdateReaction(id, func(r *Reaction) { r.LowerBound = v })
}

// RemoveReactions drops every reaction matching pred and returns how many
// were removed. Metabolites are kept, as in a reaction knockout.
func (b *Builder) RemoveReactions(pred func(Reaction) bool) int {
	kept := b.reactions[:0]
	removed := 0
	for _, r := range b.reactions {
		if pred(r) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	b.reactions = kept
	b.rxnIndex = make(map[string]int, len(kept))
	for i, r := range kept {
		b.rxnIndex[r.ID] = i
	}
	return removed
}

// Build validates the accumulated content and returns the Model.
func (b *Builder) Build() (*Model, error) {
	problems := append([]string(nil), b.problems...)
	for _, r := range b.reactions {
		if math.IsNaN(r.LowerBound) || math.IsNaN(r.UpperBound) {
			problems = append(problems, fmt.Sprintf("reaction %s has NaN bound", r.ID))
		} else if r.LowerBound > r.UpperBound {
			problems = append(problems, fmt.Sprintf("reaction %s lower bound %g exceeds upper bound %g", r.ID, r.LowerBound, r.UpperBound))
		}
		for met := range r.Stoichiometry {
			if _, ok := b.metIndex[met]; !ok {
				problems = append(problems, fmt.Sprintf("reaction %s references unknown metabolite %s", r.ID, met))
			}
		}
	}
	if len(problems) > 0 {
		return nil, &ValidationError{ModelID: b.id, Problems: problems}
	}

	m := &Model{
		id:          b.id,
		name:        b.name,
		reactions:   make([]Reaction, len(b.reactions)),
		metabolites: make([]Metabolite, len(b.metabolites)),
		rxnIndex:    make(map[string]int, len(b.reactions)),
		metIndex:    make(map[string]int, len(b.metabolites)),
		attrs:       make(map[string]string, len(b.attrs)),
	}
	for i, r := range b.reactions {
		m.reactions[i] = r.Clone()
		m.rxnIndex[r.ID] = i
	}
	copy(m.metabolites, b.metabolites)
	for i, met := range b.metabolites {
		m.metIndex[met.ID] = i
	}
	for k, v := range b.attrs {
		m.attrs[k] = v
	}
	return m, nil
}

// MustBuild is Build for fixtures and tests; it panics on error.
func (b *Builder) MustBuild() *Model {
	m, err := b.Build()
	if err != nil {
		panic(err)
	}
	return m
}
