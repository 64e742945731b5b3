package growth

import (
	"fmt"

	"mminte/internal/community"
	"mminte/internal/model"
)

// Species is one side of a two-species community.
type Species int

const (
	SpeciesA Species = iota
	SpeciesB
)

func (s Species) String() string {
	if s == SpeciesA {
		return "A"
	}
	return "B"
}

// Tag returns the namespace tag used for the species' reactions.
func (s Species) Tag() community.Tag {
	if s == SpeciesA {
		return community.TagA
	}
	return community.TagB
}

// Other returns the partner species.
func (s Species) Other() Species {
	if s == SpeciesA {
		return SpeciesB
	}
	return SpeciesA
}

// SpeciesOf resolves the owner of a community reaction id by its prefix.
func SpeciesOf(reactionID string) (Species, bool) {
	a := community.TagA.OwnsReaction(reactionID)
	b := community.TagB.OwnsReaction(reactionID)
	switch {
	case a && !b:
		return SpeciesA, true
	case b && !a:
		return SpeciesB, true
	default:
		return 0, false
	}
}

// Objectives holds the objective reaction of each species, resolved once
// per community model.
type Objectives struct {
	A string
	B string
}

// Of returns the objective reaction of s.
func (o Objectives) Of(s Species) string {
	if s == SpeciesA {
		return o.A
	}
	return o.B
}

// ResolveObjectives maps the two objective reactions of a community model
// to their species. Anything other than exactly one objective per species
// is a *StructuralError.
func ResolveObjectives(m *model.Model) (Objectives, error) {
	ids := m.Objective()
	if len(ids) != 2 {
		return Objectives{}, &StructuralError{
			Community: m.ID(),
			Reason:    fmt.Sprintf("objective has %d reactions, want 2", len(ids)),
		}
	}
	var o Objectives
	for _, id := range ids {
		s, ok := SpeciesOf(id)
		if !ok {
			return Objectives{}, &StructuralError{
				Community: m.ID(),
				Reason:    fmt.Sprintf("objective reaction %s belongs to neither species", id),
			}
		}
		if s == SpeciesA {
			if o.A != "" {
				return Objectives{}, &StructuralError{Community: m.ID(), Reason: "both objective reactions belong to species A"}
			}
			o.A = id
		} else {
			if o.B != "" {
				return Objectives{}, &StructuralError{Community: m.ID(), Reason: "both objective reactions belong to species B"}
			}
			o.B = id
		}
	}
	return o, nil
}
