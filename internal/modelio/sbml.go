package modelio

import (
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"mminte/internal/model"
)

const (
	sbmlCoreNS  = "http://www.sbml.org/sbml/level3/version1/core"
	sbmlFBCNS   = "http://www.sbml.org/sbml/level3/version1/fbc/version2"
	attrsNS     = "urn:mminte:attributes"
	defaultComp = "c"
	objectiveID = "obj"

	// COBRA Level 2 files carry bounds as kinetic law parameters.
	kineticLower     = "LOWER_BOUND"
	kineticUpper     = "UPPER_BOUND"
	kineticObjective = "OBJECTIVE_COEFFICIENT"
)

// Decoding structs use bare local names so that both Level 2 documents and
// Level 3 documents with the fbc package match regardless of prefix.

type sbmlDoc struct {
	XMLName xml.Name  `xml:"sbml"`
	Level   int       `xml:"level,attr"`
	Model   sbmlModel `xml:"model"`
}

type sbmlModel struct {
	ID         string          `xml:"id,attr"`
	Name       string          `xml:"name,attr"`
	Attrs      []sbmlAttr      `xml:"annotation>attributes>attribute"`
	Species    []sbmlSpecies   `xml:"listOfSpecies>species"`
	Parameters []sbmlParameter `xml:"listOfParameters>parameter"`
	Reactions  []sbmlReaction  `xml:"listOfReactions>reaction"`
	Objectives *sbmlObjectives `xml:"listOfObjectives"`
}

type sbmlAttr struct {
	Key   string `xml:"key,attr"`
	Value string `xml:"value,attr"`
}

type sbmlSpecies struct {
	ID          string `xml:"id,attr"`
	Name        string `xml:"name,attr"`
	Compartment string `xml:"compartment,attr"`
	Boundary    string `xml:"boundaryCondition,attr"`
	Formula     string `xml:"chemicalFormula,attr"`
}

type sbmlParameter struct {
	ID    string `xml:"id,attr"`
	Value string `xml:"value,attr"`
}

type sbmlReaction struct {
	ID         string           `xml:"id,attr"`
	Name       string           `xml:"name,attr"`
	Reversible string           `xml:"reversible,attr"`
	Lower      string           `xml:"lowerFluxBound,attr"`
	Upper      string           `xml:"upperFluxBound,attr"`
	Reactants  []sbmlSpeciesRef `xml:"listOfReactants>speciesReference"`
	Products   []sbmlSpeciesRef `xml:"listOfProducts>speciesReference"`
	KineticLaw *sbmlKineticLaw  `xml:"kineticLaw"`
}

type sbmlSpeciesRef struct {
	Species       string `xml:"species,attr"`
	Stoichiometry string `xml:"stoichiometry,attr"`
}

type sbmlKineticLaw struct {
	Parameters []sbmlParameter `xml:"listOfParameters>parameter"`
	Local      []sbmlParameter `xml:"listOfLocalParameters>localParameter"`
}

type sbmlObjectives struct {
	Active     string          `xml:"activeObjective,attr"`
	Objectives []sbmlObjective `xml:"objective"`
}

type sbmlObjective struct {
	ID   string              `xml:"id,attr"`
	Type string              `xml:"type,attr"`
	Flux []sbmlFluxObjective `xml:"listOfFluxObjectives>fluxObjective"`
}

type sbmlFluxObjective struct {
	Reaction    string `xml:"reaction,attr"`
	Coefficient string `xml:"coefficient,attr"`
}

func readSBML(r io.Reader) (*model.Builder, error) {
	var doc sbmlDoc
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse sbml: %w", err)
	}
	sm := doc.Model

	params := make(map[string]float64, len(sm.Parameters))
	for _, p := range sm.Parameters {
		v, err := parseFloat(p.Value)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", p.ID, err)
		}
		params[p.ID] = v
	}

	b := model.NewBuilder(unescapeID(sm.ID)).SetName(sm.Name)
	for _, a := range sm.Attrs {
		b.SetAttr(a.Key, a.Value)
	}

	boundary := make(map[string]bool)
	for _, s := range sm.Species {
		if s.Boundary == "true" {
			boundary[s.ID] = true
			continue
		}
		b.AddMetabolite(model.Metabolite{
			ID:          metaboliteFromSID(s.ID),
			Name:        s.Name,
			Compartment: s.Compartment,
			Formula:     s.Formula,
		})
	}

	for _, sr := range sm.Reactions {
		r, err := sbmlToReaction(sr, params, boundary)
		if err != nil {
			return nil, err
		}
		b.AddReaction(r)
	}

	if obj := sm.Objectives.active(); obj != nil {
		sign := 1.0
		if strings.EqualFold(obj.Type, "minimize") {
			sign = -1
		}
		for _, fo := range obj.Flux {
			c, err := parseFloat(fo.Coefficient)
			if err != nil {
				return nil, fmt.Errorf("objective %s: %w", fo.Reaction, err)
			}
			id := reactionFromSID(fo.Reaction)
			if err := b.UpdateReaction(id, func(r *model.Reaction) { r.ObjectiveCoefficient = sign * c }); err != nil {
				return nil, fmt.Errorf("objective: %w", err)
			}
		}
	}
	return b, nil
}

func (o *sbmlObjectives) active() *sbmlObjective {
	if o == nil || len(o.Objectives) == 0 {
		return nil
	}
	for i := range o.Objectives {
		if o.Objectives[i].ID == o.Active {
			return &o.Objectives[i]
		}
	}
	return &o.Objectives[0]
}

func sbmlToReaction(sr sbmlReaction, params map[string]float64, boundary map[string]bool) (model.Reaction, error) {
	id := reactionFromSID(sr.ID)
	r := model.Reaction{
		ID:            id,
		Name:          sr.Name,
		LowerBound:    -model.DefaultFluxLimit,
		UpperBound:    model.DefaultFluxLimit,
		Stoichiometry: make(map[string]float64),
	}
	if sr.Reversible == "false" {
		r.LowerBound = 0
	}

	add := func(refs []sbmlSpeciesRef, sign float64) error {
		for _, ref := range refs {
			if boundary[ref.Species] {
				continue
			}
			coef := 1.0
			if ref.Stoichiometry != "" {
				v, err := parseFloat(ref.Stoichiometry)
				if err != nil {
					return fmt.Errorf("reaction %s: stoichiometry of %s: %w", id, ref.Species, err)
				}
				coef = v
			}
			met := metaboliteFromSID(ref.Species)
			r.Stoichiometry[met] += sign * coef
			if r.Stoichiometry[met] == 0 {
				delete(r.Stoichiometry, met)
			}
		}
		return nil
	}
	if err := add(sr.Reactants, -1); err != nil {
		return r, err
	}
	if err := add(sr.Products, 1); err != nil {
		return r, err
	}

	if sr.Lower != "" || sr.Upper != "" {
		for _, ref := range []struct {
			param string
			dst   *float64
		}{{sr.Lower, &r.LowerBound}, {sr.Upper, &r.UpperBound}} {
			if ref.param == "" {
				continue
			}
			v, ok := params[ref.param]
			if !ok {
				return r, fmt.Errorf("reaction %s: unknown bound parameter %q", id, ref.param)
			}
			*ref.dst = v
		}
		return r, nil
	}

	if sr.KineticLaw != nil {
		for _, p := range append(sr.KineticLaw.Parameters, sr.KineticLaw.Local...) {
			v, err := parseFloat(p.Value)
			if err != nil {
				return r, fmt.Errorf("reaction %s: parameter %s: %w", id, p.ID, err)
			}
			switch p.ID {
			case kineticLower:
				r.LowerBound = v
			case kineticUpper:
				r.UpperBound = v
			case kineticObjective:
				r.ObjectiveCoefficient = v
			}
		}
	}
	return r, nil
}

// Encoding structs spell out namespace prefixes literally; encoding/xml
// does not emit prefixed names on its own.

type sbmlOut struct {
	XMLName     xml.Name     `xml:"sbml"`
	Xmlns       string       `xml:"xmlns,attr"`
	XmlnsFBC    string       `xml:"xmlns:fbc,attr"`
	Level       int          `xml:"level,attr"`
	Version     int          `xml:"version,attr"`
	FBCRequired bool         `xml:"fbc:required,attr"`
	Model       sbmlModelOut `xml:"model"`
}

type sbmlModelOut struct {
	ID           string           `xml:"id,attr"`
	Name         string           `xml:"name,attr,omitempty"`
	Strict       bool             `xml:"fbc:strict,attr"`
	Annotation   *annotationOut   `xml:"annotation,omitempty"`
	Compartments []compartmentOut `xml:"listOfCompartments>compartment"`
	Species      []speciesOut     `xml:"listOfSpecies>species"`
	Parameters   []parameterOut   `xml:"listOfParameters>parameter"`
	Reactions    []reactionOut    `xml:"listOfReactions>reaction"`
	Objectives   objectivesOut    `xml:"fbc:listOfObjectives"`
}

type annotationOut struct {
	Attributes attributesOut `xml:"mminte:attributes"`
}

type attributesOut struct {
	Xmlns string     `xml:"xmlns:mminte,attr"`
	Items []sbmlAttr `xml:"mminte:attribute"`
}

type compartmentOut struct {
	ID       string `xml:"id,attr"`
	Constant bool   `xml:"constant,attr"`
}

type speciesOut struct {
	ID                    string `xml:"id,attr"`
	Name                  string `xml:"name,attr,omitempty"`
	Compartment           string `xml:"compartment,attr"`
	HasOnlySubstanceUnits bool   `xml:"hasOnlySubstanceUnits,attr"`
	BoundaryCondition     bool   `xml:"boundaryCondition,attr"`
	Constant              bool   `xml:"constant,attr"`
	Formula               string `xml:"fbc:chemicalFormula,attr,omitempty"`
}

type parameterOut struct {
	ID       string `xml:"id,attr"`
	Value    string `xml:"value,attr"`
	Constant bool   `xml:"constant,attr"`
}

type reactionOut struct {
	ID         string       `xml:"id,attr"`
	Name       string       `xml:"name,attr,omitempty"`
	Reversible bool         `xml:"reversible,attr"`
	Fast       bool         `xml:"fast,attr"`
	Lower      string       `xml:"fbc:lowerFluxBound,attr"`
	Upper      string       `xml:"fbc:upperFluxBound,attr"`
	Reactants  []speciesRef `xml:"listOfReactants>speciesReference"`
	Products   []speciesRef `xml:"listOfProducts>speciesReference"`
}

type speciesRef struct {
	Species       string `xml:"species,attr"`
	Stoichiometry string `xml:"stoichiometry,attr"`
	Constant      bool   `xml:"constant,attr"`
}

type objectivesOut struct {
	Active     string         `xml:"fbc:activeObjective,attr"`
	Objectives []objectiveOut `xml:"fbc:objective"`
}

type objectiveOut struct {
	ID   string       `xml:"fbc:id,attr"`
	Type string       `xml:"fbc:type,attr"`
	Flux []fluxObjOut `xml:"fbc:listOfFluxObjectives>fbc:fluxObjective"`
}

type fluxObjOut struct {
	Reaction    string `xml:"fbc:reaction,attr"`
	Coefficient string `xml:"fbc:coefficient,attr"`
}

// boundParams names reaction bound parameters, sharing one parameter per
// common value.
type boundParams struct {
	out  []parameterOut
	seen map[string]bool
}

func (p *boundParams) ref(reactionSID, side string, v float64) string {
	var id string
	switch {
	case v == -model.DefaultFluxLimit:
		id = "cobra_default_lb"
	case v == model.DefaultFluxLimit:
		id = "cobra_default_ub"
	case v == 0:
		id = "cobra_0_bound"
	case math.IsInf(v, -1):
		id = "minus_inf"
	case math.IsInf(v, 1):
		id = "plus_inf"
	default:
		id = reactionSID + "_" + side
	}
	if !p.seen[id] {
		p.seen[id] = true
		p.out = append(p.out, parameterOut{ID: id, Value: formatFloat(v), Constant: true})
	}
	return id
}

func writeSBML(w io.Writer, m *model.Model) error {
	doc := sbmlOut{
		Xmlns:    sbmlCoreNS,
		XmlnsFBC: sbmlFBCNS,
		Level:    3,
		Version:  1,
		Model: sbmlModelOut{
			ID:         escapeID(m.ID()),
			Name:       m.Name(),
			Strict:     true,
			Objectives: objectivesOut{Active: objectiveID},
		},
	}

	if attrs := m.Attrs(); len(attrs) > 0 {
		ann := &annotationOut{Attributes: attributesOut{Xmlns: attrsNS}}
		for _, k := range sortedKeys(attrs) {
			ann.Attributes.Items = append(ann.Attributes.Items, sbmlAttr{Key: k, Value: attrs[k]})
		}
		doc.Model.Annotation = ann
	}

	seenComp := make(map[string]bool)
	for _, met := range m.Metabolites() {
		comp := met.Compartment
		if comp == "" {
			comp = defaultComp
		}
		if !seenComp[comp] {
			seenComp[comp] = true
			doc.Model.Compartments = append(doc.Model.Compartments, compartmentOut{ID: comp, Constant: true})
		}
		doc.Model.Species = append(doc.Model.Species, speciesOut{
			ID:          metaboliteSID(met.ID),
			Name:        met.Name,
			Compartment: comp,
			Formula:     met.Formula,
		})
	}

	params := &boundParams{seen: make(map[string]bool)}
	obj := objectiveOut{ID: objectiveID, Type: "maximize"}
	for _, r := range m.Reactions() {
		sid := reactionSID(r.ID)
		ro := reactionOut{
			ID:         sid,
			Name:       r.Name,
			Reversible: r.LowerBound < 0,
			Lower:      params.ref(sid, "lower_bound", r.LowerBound),
			Upper:      params.ref(sid, "upper_bound", r.UpperBound),
		}
		for _, met := range r.MetaboliteIDs() {
			c := r.Stoichiometry[met]
			ref := speciesRef{Species: metaboliteSID(met), Stoichiometry: formatFloat(math.Abs(c)), Constant: true}
			if c < 0 {
				ro.Reactants = append(ro.Reactants, ref)
			} else {
				ro.Products = append(ro.Products, ref)
			}
		}
		doc.Model.Reactions = append(doc.Model.Reactions, ro)
		if r.ObjectiveCoefficient != 0 {
			obj.Flux = append(obj.Flux, fluxObjOut{Reaction: sid, Coefficient: formatFloat(r.ObjectiveCoefficient)})
		}
	}
	doc.Model.Parameters = params.out
	doc.Model.Objectives.Objectives = []objectiveOut{obj}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("write sbml %s: %w", m.ID(), err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "INF"
	case math.IsInf(v, -1):
		return "-INF"
	default:
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
}
