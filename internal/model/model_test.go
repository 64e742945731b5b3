package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallModel(t *testing.T) *Model {
	t.Helper()
	m, err := NewBuilder("ecoli").
		AddMetabolite(Metabolite{ID: "glc_e", Compartment: "e"}).
		AddMetabolite(Metabolite{ID: "glc_c", Compartment: "c"}).
		AddReaction(Reaction{ID: "EX_glc_e", LowerBound: -10, UpperBound: 1000, Stoichiometry: map[string]float64{"glc_e": -1}}).
		AddReaction(Reaction{ID: "GLCt", LowerBound: 0, UpperBound: 1000, Stoichiometry: map[string]float64{"glc_e": -1, "glc_c": 1}}).
		AddReaction(Reaction{ID: "BIOMASS", LowerBound: 0, UpperBound: 1000, Stoichiometry: map[string]float64{"glc_c": -1}, ObjectiveCoefficient: 1}).
		Build()
	require.NoError(t, err)
	return m
}

func TestBuild(t *testing.T) {
	m := smallModel(t)
	assert.Equal(t, "ecoli", m.ID())
	assert.Equal(t, 3, m.NumReactions())
	assert.Equal(t, 2, m.NumMetabolites())
	assert.Equal(t, []string{"BIOMASS"}, m.Objective())

	r, ok := m.Reaction("GLCt")
	require.True(t, ok)
	assert.Equal(t, []string{"glc_c", "glc_e"}, r.MetaboliteIDs())
	assert.False(t, m.HasReaction("missing"))
}

func TestBuildRejectsInvalidContent(t *testing.T) {
	_, err := NewBuilder("bad").
		AddMetabolite(Metabolite{ID: "a"}).
		AddMetabolite(Metabolite{ID: "a"}).
		AddReaction(Reaction{ID: "R1", LowerBound: 5, UpperBound: 1, Stoichiometry: map[string]float64{"a": -1}}).
		AddReaction(Reaction{ID: "R2", UpperBound: 1, Stoichiometry: map[string]float64{"ghost": 1}}).
		Build()
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Problems, 3)
}

func TestModelIsImmutable(t *testing.T) {
	m := smallModel(t)

	r, _ := m.Reaction("GLCt")
	r.Stoichiometry["glc_c"] = 99
	r.LowerBound = -1000

	again, _ := m.Reaction("GLCt")
	assert.Equal(t, 1.0, again.Stoichiometry["glc_c"])
	assert.Equal(t, 0.0, again.LowerBound)

	rs := m.Reactions()
	rs[0].Stoichiometry["glc_e"] = 42
	first, _ := m.Reaction("EX_glc_e")
	assert.Equal(t, -1.0, first.Stoichiometry["glc_e"])
}

func TestToBuilderProducesIndependentCopy(t *testing.T) {
	m := smallModel(t)

	b := m.ToBuilder()
	require.NoError(t, b.SetLowerBound("EX_glc_e", -2))
	removed := b.RemoveReactions(func(r Reaction) bool { return r.ID == "GLCt" })
	assert.Equal(t, 1, removed)
	derived, err := b.Build()
	require.NoError(t, err)

	assert.Equal(t, 2, derived.NumReactions())
	assert.Equal(t, 2, derived.NumMetabolites())
	ex, _ := derived.Reaction("EX_glc_e")
	assert.Equal(t, -2.0, ex.LowerBound)

	orig, _ := m.Reaction("EX_glc_e")
	assert.Equal(t, -10.0, orig.LowerBound)
	assert.True(t, m.HasReaction("GLCt"))
}

func TestUpdateReactionUnknownID(t *testing.T) {
	b := NewBuilder("x")
	err := b.SetLowerBound("nope", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAttrs(t *testing.T) {
	m := NewBuilder("AXB").SetAttr("species_a", "A").MustBuild()
	v, ok := m.Attr("species_a")
	assert.True(t, ok)
	assert.Equal(t, "A", v)

	attrs := m.Attrs()
	attrs["species_a"] = "changed"
	v, _ = m.Attr("species_a")
	assert.Equal(t, "A", v)
}
