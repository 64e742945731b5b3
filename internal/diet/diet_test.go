package diet

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mminte/internal/model"
)

func sharedModel(t *testing.T) *model.Model {
	t.Helper()
	return model.NewBuilder("AXB").
		AddMetabolite(model.Metabolite{ID: "glc_e[u]"}).
		AddMetabolite(model.Metabolite{ID: "o2_e[u]"}).
		AddReaction(model.Reaction{ID: "EX_glc_e[u]", LowerBound: -1000, UpperBound: 1000, Stoichiometry: map[string]float64{"glc_e[u]": -1}}).
		AddReaction(model.Reaction{ID: "EX_o2_e[u]", LowerBound: -1000, UpperBound: 1000, Stoichiometry: map[string]float64{"o2_e[u]": -1}}).
		MustBuild()
}

func TestParse(t *testing.T) {
	in := "# complete medium\nEX_glc_e[u]\t10\n\nEX_o2_e[u]\t20.5\r\nEX_zn2_e[u]\t0\n"
	d, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{ReactionID: "EX_glc_e[u]", Magnitude: 10},
		{ReactionID: "EX_o2_e[u]", Magnitude: 20.5},
		{ReactionID: "EX_zn2_e[u]", Magnitude: 0},
	}, d.Entries)
}

func TestParseSkipsMalformedLines(t *testing.T) {
	in := "reaction\tmagnitude\nEX_glc_e[u]\t10\nEX_o2_e[u]\n\t4\nEX_zn2_e[u]\tlots\nEX_nh4_e[u]\tNaN\nEX_fe2_e[u]\t1e-3\n"
	d, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{ReactionID: "EX_glc_e[u]", Magnitude: 10},
		{ReactionID: "EX_fe2_e[u]", Magnitude: 1e-3},
	}, d.Entries)
	assert.Equal(t, []int{1, 3, 4, 5, 6}, d.Ignored)
}

func TestParseRejectsNegativeMagnitude(t *testing.T) {
	_, err := Parse(strings.NewReader("EX_glc_e[u]\t10\nEX_o2_e[u]\t-5\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestApply(t *testing.T) {
	m := sharedModel(t)
	d := Diet{Name: "test", Entries: []Entry{
		{ReactionID: "EX_glc_e[u]", Magnitude: 10},
		{ReactionID: "EX_absent[u]", Magnitude: 3},
	}}

	out, rep, err := Apply(m, d)
	require.NoError(t, err)
	assert.Equal(t, Report{Applied: 1, Skipped: 1}, rep)

	glc, _ := out.Reaction("EX_glc_e[u]")
	assert.Equal(t, -10.0, glc.LowerBound)
	assert.Equal(t, 1000.0, glc.UpperBound)
	o2, _ := out.Reaction("EX_o2_e[u]")
	assert.Equal(t, -1000.0, o2.LowerBound)

	orig, _ := m.Reaction("EX_glc_e[u]")
	assert.Equal(t, -1000.0, orig.LowerBound, "input model must not change")
}

func TestApplyIsIdempotent(t *testing.T) {
	d := Diet{Entries: []Entry{{ReactionID: "EX_glc_e[u]", Magnitude: 7}, {ReactionID: "EX_o2_e[u]", Magnitude: 0}}}
	once, _, err := Apply(sharedModel(t), d)
	require.NoError(t, err)
	twice, _, err := Apply(once, d)
	require.NoError(t, err)

	assert.Equal(t, once.Reactions(), twice.Reactions())
}

func TestForSpecies(t *testing.T) {
	d := Diet{Name: "x", Entries: []Entry{{ReactionID: "EX_glc_e[u]", Magnitude: 1}, {ReactionID: "EX_o2_e", Magnitude: 2}}}
	s := d.ForSpecies()
	assert.Equal(t, "EX_glc_e", s.Entries[0].ReactionID)
	assert.Equal(t, "EX_o2_e", s.Entries[1].ReactionID)
	assert.Equal(t, "EX_glc_e[u]", d.Entries[0].ReactionID)
}

func TestLoadNamesDietAfterFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Variant1.txt")
	require.NoError(t, os.WriteFile(path, []byte("EX_glc_e[u]\t10\n"), 0644))
	d, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Variant1", d.Name)
	assert.Len(t, d.Entries, 1)
}
