package modelio

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mminte/internal/model"
)

func communityFixture(t *testing.T) *model.Model {
	t.Helper()
	m, err := model.NewBuilder("saXsb").
		SetName("sa and sb").
		SetAttr("community_species_a", "sa").
		SetAttr("community_species_b", "sb").
		AddMetabolite(model.Metabolite{ID: "glc_e[u]", Compartment: "u"}).
		AddMetabolite(model.Metabolite{ID: "model_A_glc_e", Name: "D-Glucose", Compartment: "e", Formula: "C6H12O6"}).
		AddMetabolite(model.Metabolite{ID: "model_A_atp_c", Compartment: "c"}).
		AddReaction(model.Reaction{ID: "EX_glc_e[u]", LowerBound: -10, UpperBound: 1000,
			Stoichiometry: map[string]float64{"glc_e[u]": -1}}).
		AddReaction(model.Reaction{ID: "modelA_EX_glc_e", Name: "glucose exchange", LowerBound: -1000, UpperBound: 1000,
			Stoichiometry: map[string]float64{"model_A_glc_e": -1, "glc_e[u]": 1}}).
		AddReaction(model.Reaction{ID: "modelA_USE", LowerBound: 5.5, UpperBound: math.Inf(1),
			Stoichiometry: map[string]float64{"model_A_glc_e": -1, "model_A_atp_c": 2.5}}).
		AddReaction(model.Reaction{ID: "modelA_BIOMASS", UpperBound: 1000, ObjectiveCoefficient: 1,
			Stoichiometry: map[string]float64{"model_A_atp_c": -1}}).
		Build()
	require.NoError(t, err)
	return m
}

func assertSameModel(t *testing.T, want, got *model.Model) {
	t.Helper()
	assert.Equal(t, want.ID(), got.ID())
	if diff := cmp.Diff(want.Reactions(), got.Reactions()); diff != "" {
		t.Errorf("reactions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.Metabolites(), got.Metabolites()); diff != "" {
		t.Errorf("metabolites mismatch (-want +got):\n%s", diff)
	}
}

func TestEscapeID(t *testing.T) {
	assert.Equal(t, "R_EX_glc__91__u__93__", reactionSID("EX_glc[u]"))
	assert.Equal(t, "EX_glc[u]", reactionFromSID("R_EX_glc__91__u__93__"))
	assert.Equal(t, "glc-D[e]", metaboliteFromSID(metaboliteSID("glc-D[e]")))
	assert.Equal(t, "glc__D_e", metaboliteFromSID("M_glc__D_e"))
}

func TestSBMLRoundTrip(t *testing.T) {
	m := communityFixture(t)
	data, err := Marshal(m, FormatSBML)
	require.NoError(t, err)
	assert.Contains(t, string(data), `fbc:lowerFluxBound`)
	assert.Contains(t, string(data), `R_EX_glc_e__91__u__93__`)

	got, err := Decode(bytes.NewReader(data), FormatSBML)
	require.NoError(t, err)
	assertSameModel(t, m, got)
	assert.Equal(t, "sa and sb", got.Name())
	assert.Equal(t, m.Attrs(), got.Attrs())
}

const level2Doc = `<?xml version="1.0" encoding="UTF-8"?>
<sbml xmlns="http://www.sbml.org/sbml/level2/version4" level="2" version="4">
  <model id="Ecoli_core" name="E. coli core">
    <listOfCompartments>
      <compartment id="C_c"/>
      <compartment id="C_e"/>
    </listOfCompartments>
    <listOfSpecies>
      <species id="M_glc__D_e" name="glucose" compartment="C_e" boundaryCondition="false"/>
      <species id="M_glc__D_b" compartment="C_e" boundaryCondition="true"/>
      <species id="M_atp_c" compartment="C_c"/>
    </listOfSpecies>
    <listOfReactions>
      <reaction id="R_EX_glc__D_e" reversible="true">
        <listOfReactants><speciesReference species="M_glc__D_e" stoichiometry="1"/></listOfReactants>
        <listOfProducts><speciesReference species="M_glc__D_b"/></listOfProducts>
        <kineticLaw>
          <listOfParameters>
            <parameter id="LOWER_BOUND" value="-10"/>
            <parameter id="UPPER_BOUND" value="999999"/>
            <parameter id="OBJECTIVE_COEFFICIENT" value="0"/>
          </listOfParameters>
        </kineticLaw>
      </reaction>
      <reaction id="R_GLCATP" reversible="false">
        <listOfReactants><speciesReference species="M_glc__D_e"/></listOfReactants>
        <listOfProducts><speciesReference species="M_atp_c" stoichiometry="2"/></listOfProducts>
      </reaction>
      <reaction id="R_BIOMASS">
        <listOfReactants><speciesReference species="M_atp_c" stoichiometry="10"/></listOfReactants>
        <kineticLaw>
          <listOfParameters>
            <parameter id="LOWER_BOUND" value="0"/>
            <parameter id="UPPER_BOUND" value="1000"/>
            <parameter id="OBJECTIVE_COEFFICIENT" value="1"/>
          </listOfParameters>
        </kineticLaw>
      </reaction>
    </listOfReactions>
  </model>
</sbml>`

func TestSBMLLevel2KineticLaw(t *testing.T) {
	m, err := Decode(strings.NewReader(level2Doc), FormatSBML)
	require.NoError(t, err)

	assert.Equal(t, "Ecoli_core", m.ID())
	assert.Equal(t, 2, m.NumMetabolites(), "boundary species are dropped")

	ex, ok := m.Reaction("EX_glc__D_e")
	require.True(t, ok)
	assert.Equal(t, map[string]float64{"glc__D_e": -1}, ex.Stoichiometry)
	assert.Equal(t, -10.0, ex.LowerBound)
	assert.Equal(t, 999999.0, ex.UpperBound)

	use, _ := m.Reaction("GLCATP")
	assert.Equal(t, 0.0, use.LowerBound)
	assert.Equal(t, 1000.0, use.UpperBound)
	assert.Equal(t, 2.0, use.Stoichiometry["atp_c"])

	assert.Equal(t, []string{"BIOMASS"}, m.Objective())
}

func TestSBMLUnknownBoundParameter(t *testing.T) {
	doc := `<sbml xmlns="http://www.sbml.org/sbml/level3/version1/core" xmlns:fbc="http://www.sbml.org/sbml/level3/version1/fbc/version2" level="3" version="1">
  <model id="bad">
    <listOfReactions>
      <reaction id="R_X" fbc:lowerFluxBound="nope" fbc:upperFluxBound="nope"/>
    </listOfReactions>
  </model>
</sbml>`
	_, err := Decode(strings.NewReader(doc), FormatSBML)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestJSONRoundTrip(t *testing.T) {
	m := communityFixture(t)
	// JSON has no infinity; swap the infinite bound for a finite one.
	b := m.ToBuilder()
	require.NoError(t, b.UpdateReaction("modelA_USE", func(r *model.Reaction) { r.UpperBound = 500 }))
	m = b.MustBuild()

	data, err := Marshal(m, FormatJSON)
	require.NoError(t, err)
	got, err := Decode(bytes.NewReader(data), FormatJSON)
	require.NoError(t, err)
	assertSameModel(t, m, got)
	assert.Equal(t, m.Attrs(), got.Attrs())
}

func TestJSONDefaultsBounds(t *testing.T) {
	doc := `{"id":"tiny","metabolites":[{"id":"a_c"}],"reactions":[{"id":"R1","metabolites":{"a_c":-1}}]}`
	m, err := Decode(strings.NewReader(doc), FormatJSON)
	require.NoError(t, err)
	r, _ := m.Reaction("R1")
	assert.Equal(t, -1000.0, r.LowerBound)
	assert.Equal(t, 1000.0, r.UpperBound)
}

func TestLoadUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	_, err := Load(path)
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, path, le.Path)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.xml")
	require.NoError(t, os.WriteFile(path, []byte("<sbml><model"), 0644))

	_, err := Load(path)
	var le *LoadError
	assert.True(t, errors.As(err, &le))
}

func TestLoadNamesModelAfterFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Bsub.json")
	doc := `{"id":"","metabolites":[],"reactions":[]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Bsub", m.ID())
}

func TestSaveAndLoad(t *testing.T) {
	m := communityFixture(t)
	path := filepath.Join(t.TempDir(), "nested", "communitysaXsb.sbml")
	require.NoError(t, Save(path, m))

	got, err := Load(path)
	require.NoError(t, err)
	assertSameModel(t, m, got)
}

func TestEncodeMATUnsupported(t *testing.T) {
	_, err := Marshal(communityFixture(t), FormatMAT)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestIsModelFile(t *testing.T) {
	assert.True(t, IsModelFile("a.SBML"))
	assert.True(t, IsModelFile("a.xml"))
	assert.True(t, IsModelFile("a.json"))
	assert.True(t, IsModelFile("a.mat"))
	assert.False(t, IsModelFile("a.csv"))
	assert.False(t, IsModelFile("noext"))
}

func TestListModels(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.xml", "a.json", "notes.txt", "c.mat"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.xml"), 0755))

	got, err := ListModels(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json", "b.xml", "c.mat"}, got)

	_, err = ListModels(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
