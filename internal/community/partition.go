package community

import (
	"fmt"
	"strings"

	"mminte/internal/model"
)

// Tag identifies one of the two species of a community.
type Tag string

const (
	TagA Tag = "A"
	TagB Tag = "B"
)

// ReactionPrefix is the prefix carried by every reaction of the tagged species.
func (t Tag) ReactionPrefix() string { return "model" + string(t) + "_" }

// MetabolitePrefix is the prefix carried by every metabolite of the tagged species.
func (t Tag) MetabolitePrefix() string { return "model_" + string(t) + "_" }

// ReactionID renames a species reaction id.
func (t Tag) ReactionID(id string) string { return t.ReactionPrefix() + id }

// MetaboliteID renames a species metabolite id.
func (t Tag) MetaboliteID(id string) string { return t.MetabolitePrefix() + id }

// OwnsReaction reports whether a community reaction id belongs to the tag.
func (t Tag) OwnsReaction(id string) bool { return strings.HasPrefix(id, t.ReactionPrefix()) }

// Partition returns a copy of m with every reaction renamed to
// model<TAG>_<id> and every metabolite renamed to model_<TAG>_<id>.
// Stoichiometry is rewritten to the new metabolite ids; bounds and
// objective coefficients are unchanged.
func Partition(m *model.Model, tag Tag) (*model.Model, error) {
	if tag != TagA && tag != TagB {
		return nil, fmt.Errorf("unknown species tag %q", tag)
	}
	b := model.NewBuilder(m.ID()).SetName(m.Name())
	for _, met := range m.Metabolites() {
		met.ID = tag.MetaboliteID(met.ID)
		b.AddMetabolite(met)
	}
	for _, r := range m.Reactions() {
		b.AddReaction(renameReaction(r, tag))
	}
	out, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("partition %s as %s: %w", m.ID(), tag, err)
	}
	return out, nil
}

func renameReaction(r model.Reaction, tag Tag) model.Reaction {
	stoich := make(map[string]float64, len(r.Stoichiometry))
	for met, c := range r.Stoichiometry {
		stoich[tag.MetaboliteID(met)] = c
	}
	r.ID = tag.ReactionID(r.ID)
	r.Stoichiometry = stoich
	return r
}
