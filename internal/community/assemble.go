package community

import (
	"fmt"
	"strings"

	"mminte/internal/model"
)

// Separator joins the two species ids into the community id.
const Separator = "X"

// Model attributes recording community membership. Codecs persist them so
// the species ids survive a round trip through a file.
const (
	AttrSpeciesA = "community_species_a"
	AttrSpeciesB = "community_species_b"
)

// ID returns the community identifier for two species ids.
func ID(speciesA, speciesB string) string {
	return speciesA + Separator + speciesB
}

// FileName returns the persisted file name of a community model.
func FileName(communityID string) string {
	return "community" + communityID + ".sbml"
}

// Members returns the species ids of a community model. Models without
// membership attributes fall back to splitting the id on the first
// separator.
func Members(m *model.Model) (speciesA, speciesB string, ok bool) {
	a, okA := m.Attr(AttrSpeciesA)
	b, okB := m.Attr(AttrSpeciesB)
	if okA && okB {
		return a, b, true
	}
	parts := strings.SplitN(m.ID(), Separator, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Assemble merges two species models into a community model.
//
// The result holds the partitioned reactions and metabolites of a, then
// those of b, then the forward shared fragment. Each species exchange
// reaction additionally produces its shared metabolite and is opened to
// [-1000, 1000] so the species exchanges through the shared pool. Objective
// coefficients are carried over untouched.
func Assemble(a, b *model.Model) (*model.Model, error) {
	if a.ID() == b.ID() {
		return nil, fmt.Errorf("assemble: both species have id %q", a.ID())
	}
	merged := ReconcileExchanges(a, b)
	forward, reverse, err := SharedFragments(merged)
	if err != nil {
		return nil, err
	}

	id := ID(a.ID(), b.ID())
	cb := model.NewBuilder(id).
		SetName(fmt.Sprintf("Community of %s and %s", a.ID(), b.ID())).
		SetAttr(AttrSpeciesA, a.ID()).
		SetAttr(AttrSpeciesB, b.ID())

	for _, sp := range []struct {
		m   *model.Model
		tag Tag
	}{{a, TagA}, {b, TagB}} {
		part, err := Partition(sp.m, sp.tag)
		if err != nil {
			return nil, err
		}
		for _, met := range part.Metabolites() {
			cb.AddMetabolite(met)
		}
		for _, r := range part.Reactions() {
			cb.AddReaction(r)
		}
		if err := linkExchanges(cb, sp.m, sp.tag, reverse); err != nil {
			return nil, fmt.Errorf("assemble %s: %w", id, err)
		}
	}

	for _, met := range forward.Metabolites() {
		cb.AddMetabolite(met)
	}
	for _, r := range forward.Reactions() {
		cb.AddReaction(r)
	}

	out, err := cb.Build()
	if err != nil {
		return nil, fmt.Errorf("assemble %s: %w", id, err)
	}
	return out, nil
}

// linkExchanges attaches the reverse fragment metabolite to every exchange
// reaction of the species that has a counterpart in the shared compartment.
func linkExchanges(cb *model.Builder, species *model.Model, tag Tag, reverse *model.Model) error {
	for _, exID := range ExchangeIDs(species) {
		shared, ok := reverse.Reaction(SharedReactionID(exID))
		if !ok {
			continue
		}
		err := cb.UpdateReaction(tag.ReactionID(exID), func(r *model.Reaction) {
			for met, c := range shared.Stoichiometry {
				r.Stoichiometry[met] += c
			}
			r.LowerBound = -model.DefaultFluxLimit
			r.UpperBound = model.DefaultFluxLimit
		})
		if err != nil {
			return err
		}
	}
	return nil
}
