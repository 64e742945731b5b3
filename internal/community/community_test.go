package community

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mminte/internal/model"
)

// speciesModel builds a toy species: one exchange per nutrient, a shared
// internal metabolite "atp" and a biomass reaction.
func speciesModel(t *testing.T, id string, nutrients ...string) *model.Model {
	t.Helper()
	b := model.NewBuilder(id).AddMetabolite(model.Metabolite{ID: "atp_c"})
	for _, n := range nutrients {
		ext := n + "_e"
		b.AddMetabolite(model.Metabolite{ID: ext, Compartment: "e"})
		b.AddReaction(model.Reaction{
			ID: "EX_" + ext, LowerBound: -10, UpperBound: 1000,
			Stoichiometry: map[string]float64{ext: -1},
		})
		b.AddReaction(model.Reaction{
			ID: "USE_" + n, UpperBound: 1000,
			Stoichiometry: map[string]float64{ext: -1, "atp_c": 1},
		})
	}
	b.AddReaction(model.Reaction{
		ID: "BIOMASS", UpperBound: 1000, ObjectiveCoefficient: 1,
		Stoichiometry: map[string]float64{"atp_c": -1},
	})
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

func TestReconcileExchangesIsUnion(t *testing.T) {
	a := speciesModel(t, "sa", "glc", "o2")
	b := speciesModel(t, "sb", "o2", "nh4")

	got := ReconcileExchanges(a, b)
	want := []string{"EX_glc_e[u]", "EX_nh4_e[u]", "EX_o2_e[u]"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("union mismatch (-want +got):\n%s", diff)
	}
	assert.Less(t, len(got), len(ExchangeIDs(a))+len(ExchangeIDs(b)))
}

func TestReconcileExchangesDisjoint(t *testing.T) {
	a := speciesModel(t, "sa", "glc", "o2")
	b := speciesModel(t, "sb", "nh4", "so4", "pi")

	got := ReconcileExchanges(a, b)
	assert.Len(t, got, len(ExchangeIDs(a))+len(ExchangeIDs(b)))

	forward, _, err := SharedFragments(got)
	require.NoError(t, err)
	assert.Equal(t, 5, forward.NumReactions())
	assert.Equal(t, 5, forward.NumMetabolites())
}

func TestReconcileExchangesDeterministic(t *testing.T) {
	a := speciesModel(t, "sa", "zn", "glc", "o2")
	b := speciesModel(t, "sb", "nh4", "ca")
	first := ReconcileExchanges(a, b)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, ReconcileExchanges(a, b))
	}
}

func TestSharedFragmentsMirror(t *testing.T) {
	forward, reverse, err := SharedFragments([]string{"EX_glc_e[u]"})
	require.NoError(t, err)

	f, ok := forward.Reaction("EX_glc_e[u]")
	require.True(t, ok)
	r, ok := reverse.Reaction("EX_glc_e[u]")
	require.True(t, ok)

	assert.Equal(t, map[string]float64{"glc_e[u]": -1}, f.Stoichiometry)
	assert.Equal(t, map[string]float64{"glc_e[u]": 1}, r.Stoichiometry)
	assert.Equal(t, -1000.0, f.LowerBound)
	assert.Equal(t, 1000.0, f.UpperBound)
	assert.Equal(t, f.LowerBound, r.LowerBound)
	assert.Equal(t, f.UpperBound, r.UpperBound)
	assert.Zero(t, f.ObjectiveCoefficient)
}

func TestPartitionIsTotalAndInjective(t *testing.T) {
	m := speciesModel(t, "sa", "glc", "o2")
	p, err := Partition(m, TagA)
	require.NoError(t, err)

	assert.Equal(t, m.NumReactions(), p.NumReactions())
	assert.Equal(t, m.NumMetabolites(), p.NumMetabolites())
	for _, r := range p.Reactions() {
		assert.True(t, strings.HasPrefix(r.ID, "modelA_"), r.ID)
		for met := range r.Stoichiometry {
			assert.True(t, strings.HasPrefix(met, "model_A_"), met)
		}
	}
	for _, met := range p.Metabolites() {
		assert.True(t, strings.HasPrefix(met.ID, "model_A_"), met.ID)
	}
	for _, r := range m.Reactions() {
		assert.False(t, p.HasReaction(r.ID), "original id %s survived", r.ID)
	}

	bio, ok := p.Reaction("modelA_BIOMASS")
	require.True(t, ok)
	assert.Equal(t, 1.0, bio.ObjectiveCoefficient)
}

func TestPartitionRejectsUnknownTag(t *testing.T) {
	_, err := Partition(speciesModel(t, "sa", "glc"), Tag("C"))
	assert.Error(t, err)
}

func TestAssembleCounts(t *testing.T) {
	a := speciesModel(t, "sa", "glc", "o2")
	b := speciesModel(t, "sb", "o2", "nh4")
	shared := ReconcileExchanges(a, b)

	c, err := Assemble(a, b)
	require.NoError(t, err)

	assert.Equal(t, "saXsb", c.ID())
	assert.Equal(t, a.NumReactions()+b.NumReactions()+len(shared), c.NumReactions())
	assert.Equal(t, a.NumMetabolites()+b.NumMetabolites()+len(shared), c.NumMetabolites())
	assert.ElementsMatch(t, []string{"modelA_BIOMASS", "modelB_BIOMASS"}, c.Objective())

	sa, sb, ok := Members(c)
	require.True(t, ok)
	assert.Equal(t, "sa", sa)
	assert.Equal(t, "sb", sb)
}

func TestAssembleLinksExchangesToSharedPool(t *testing.T) {
	a := speciesModel(t, "sa", "glc")
	b := speciesModel(t, "sb", "glc")

	c, err := Assemble(a, b)
	require.NoError(t, err)

	ex, ok := c.Reaction("modelB_EX_glc_e")
	require.True(t, ok)
	assert.Equal(t, map[string]float64{"model_B_glc_e": -1, "glc_e[u]": 1}, ex.Stoichiometry)
	assert.Equal(t, -1000.0, ex.LowerBound)
	assert.Equal(t, 1000.0, ex.UpperBound)

	shared, ok := c.Reaction("EX_glc_e[u]")
	require.True(t, ok)
	assert.Equal(t, map[string]float64{"glc_e[u]": -1}, shared.Stoichiometry)

	// Internal reactions keep their bounds.
	use, ok := c.Reaction("modelA_USE_glc")
	require.True(t, ok)
	assert.Equal(t, 0.0, use.LowerBound)

	// Inputs are left untouched.
	orig, _ := a.Reaction("EX_glc_e")
	assert.Equal(t, -10.0, orig.LowerBound)
	assert.Len(t, orig.Stoichiometry, 1)
}

func TestAssembleEveryReactionHasOneOrigin(t *testing.T) {
	c, err := Assemble(speciesModel(t, "sa", "glc", "o2"), speciesModel(t, "sb", "o2"))
	require.NoError(t, err)
	for _, r := range c.Reactions() {
		origins := 0
		if TagA.OwnsReaction(r.ID) {
			origins++
		}
		if TagB.OwnsReaction(r.ID) {
			origins++
		}
		if strings.HasSuffix(r.ID, SharedSuffix) && IsExchange(r.ID) {
			origins++
		}
		assert.Equal(t, 1, origins, r.ID)
	}
}

func TestAssembleRejectsSameSpecies(t *testing.T) {
	a := speciesModel(t, "sa", "glc")
	_, err := Assemble(a, a)
	assert.Error(t, err)
}

func TestMembersFallsBackToID(t *testing.T) {
	m := model.NewBuilder("EcoliXBsub").MustBuild()
	a, b, ok := Members(m)
	require.True(t, ok)
	assert.Equal(t, "Ecoli", a)
	assert.Equal(t, "Bsub", b)

	_, _, ok = Members(model.NewBuilder("nosplit").MustBuild())
	assert.False(t, ok)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "communitysaXsb.sbml", FileName(ID("sa", "sb")))
}
