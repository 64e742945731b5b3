// Package model holds immutable metabolic model values.
//
// A Model is built once through a Builder and never changes afterwards.
// Every transform in this module (renaming, merging, knockouts, diets)
// returns a new Model; callers can share a *Model between goroutines
// without locking.
package model

import (
	"fmt"
	"sort"
)

// DefaultFluxLimit is the magnitude used for open reaction bounds.
const DefaultFluxLimit = 1000.0

// Metabolite is a chemical species of a model. Only ID matters to the
// community algorithms; the remaining fields are passed through codecs.
type Metabolite struct {
	ID          string
	Name        string
	Compartment string
	Formula     string
}

// Reaction is a flux-carrying reaction with bounds and stoichiometry.
// Stoichiometry maps metabolite id to a signed coefficient: negative for
// consumed metabolites, positive for produced ones.
type Reaction struct {
	ID                   string
	Name                 string
	LowerBound           float64
	UpperBound           float64
	Stoichiometry        map[string]float64
	ObjectiveCoefficient float64
}

// Clone returns a deep copy of the reaction.
func (r Reaction) Clone() Reaction {
	out := r
	out.Stoichiometry = make(map[string]float64, len(r.Stoichiometry))
	for id, c := range r.Stoichiometry {
		out.Stoichiometry[id] = c
	}
	return out
}

// MetaboliteIDs returns the ids of the reaction's metabolites in sorted order.
func (r Reaction) MetaboliteIDs() []string {
	ids := make([]string, 0, len(r.Stoichiometry))
	for id := range r.Stoichiometry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Model is an immutable metabolic model.
type Model struct {
	id          string
	name        string
	reactions   []Reaction
	metabolites []Metabolite
	rxnIndex    map[string]int
	metIndex    map[string]int
	attrs       map[string]string
}

// ID returns the model identifier.
func (m *Model) ID() string { return m.id }

// Name returns the human readable model name.
func (m *Model) Name() string { return m.name }

// NumReactions returns the reaction count.
func (m *Model) NumReactions() int { return len(m.reactions) }

// NumMetabolites returns the metabolite count.
func (m *Model) NumMetabolites() int { return len(m.metabolites) }

// Reactions returns copies of all reactions in model order.
func (m *Model) Reactions() []Reaction {
	out := make([]Reaction, len(m.reactions))
	for i, r := range m.reactions {
		out[i] = r.Clone()
	}
	return out
}

// Metabolites returns all metabolites in model order.
func (m *Model) Metabolites() []Metabolite {
	out := make([]Metabolite, len(m.metabolites))
	copy(out, m.metabolites)
	return out
}

// Reaction looks up a reaction by id.
func (m *Model) Reaction(id string) (Reaction, bool) {
	i, ok := m.rxnIndex[id]
	if !ok {
		return Reaction{}, false
	}
	return m.reactions[i].Clone(), true
}

// HasReaction reports whether a reaction with the id exists.
func (m *Model) HasReaction(id string) bool {
	_, ok := m.rxnIndex[id]
	return ok
}

// Metabolite looks up a metabolite by id.
func (m *Model) Metabolite(id string) (Metabolite, bool) {
	i, ok := m.metIndex[id]
	if !ok {
		return Metabolite{}, false
	}
	return m.metabolites[i], true
}

// HasMetabolite reports whether a metabolite with the id exists.
func (m *Model) HasMetabolite(id string) bool {
	_, ok := m.metIndex[id]
	return ok
}

// Objective returns the ids of reactions with a non-zero objective
// coefficient, in model order.
func (m *Model) Objective() []string {
	var ids []string
	for _, r := range m.reactions {
		if r.ObjectiveCoefficient != 0 {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// Attr returns a model attribute. Attributes carry codec-level metadata
// such as community membership.
func (m *Model) Attr(key string) (string, bool) {
	v, ok := m.attrs[key]
	return v, ok
}

// Attrs returns a copy of all model attributes.
func (m *Model) Attrs() map[string]string {
	out := make(map[string]string, len(m.attrs))
	for k, v := range m.attrs {
		out[k] = v
	}
	return out
}

// ToBuilder returns a builder seeded with a deep copy of the model.
func (m *Model) ToBuilder() *Builder {
	b := NewBuilder(m.id)
	b.name = m.name
	for k, v := range m.attrs {
		b.attrs[k] = v
	}
	for _, met := range m.metabolites {
		b.AddMetabolite(met)
	}
	for _, r := range m.reactions {
		b.AddReaction(r)
	}
	return b
}

// String implements fmt.Stringer.
func (m *Model) String() string {
	return fmt.Sprintf("%s (%d reactions, %d metabolites)", m.id, len(m.reactions), len(m.metabolites))
}
