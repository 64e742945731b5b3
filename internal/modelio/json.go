package modelio

import (
	"encoding/json"
	"fmt"
	"io"

	"mminte/internal/model"
)

// jsonModel is the cobra JSON layout.
type jsonModel struct {
	ID          string            `json:"id"`
	Name        string            `json:"name,omitempty"`
	Metabolites []jsonMetabolite  `json:"metabolites"`
	Reactions   []jsonReaction    `json:"reactions"`
	Genes       []json.RawMessage `json:"genes"`
	Notes       map[string]string `json:"notes,omitempty"`
	Version     string            `json:"version,omitempty"`
}

type jsonMetabolite struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Compartment string `json:"compartment,omitempty"`
	Formula     string `json:"formula,omitempty"`
}

type jsonReaction struct {
	ID                   string             `json:"id"`
	Name                 string             `json:"name,omitempty"`
	Metabolites          map[string]float64 `json:"metabolites"`
	LowerBound           *float64           `json:"lower_bound"`
	UpperBound           *float64           `json:"upper_bound"`
	ObjectiveCoefficient float64            `json:"objective_coefficient,omitempty"`
	GeneReactionRule     string             `json:"gene_reaction_rule"`
}

func readJSON(r io.Reader) (*model.Builder, error) {
	var jm jsonModel
	if err := json.NewDecoder(r).Decode(&jm); err != nil {
		return nil, fmt.Errorf("parse json model: %w", err)
	}

	b := model.NewBuilder(jm.ID).SetName(jm.Name)
	for k, v := range jm.Notes {
		b.SetAttr(k, v)
	}
	for _, m := range jm.Metabolites {
		b.AddMetabolite(model.Metabolite{ID: m.ID, Name: m.Name, Compartment: m.Compartment, Formula: m.Formula})
	}
	for _, jr := range jm.Reactions {
		r := model.Reaction{
			ID:                   jr.ID,
			Name:                 jr.Name,
			LowerBound:           -model.DefaultFluxLimit,
			UpperBound:           model.DefaultFluxLimit,
			Stoichiometry:        jr.Metabolites,
			ObjectiveCoefficient: jr.ObjectiveCoefficient,
		}
		if jr.LowerBound != nil {
			r.LowerBound = *jr.LowerBound
		}
		if jr.UpperBound != nil {
			r.UpperBound = *jr.UpperBound
		}
		b.AddReaction(r)
	}
	return b, nil
}

func writeJSON(w io.Writer, m *model.Model) error {
	jm := jsonModel{
		ID:      m.ID(),
		Name:    m.Name(),
		Genes:   []json.RawMessage{},
		Version: "1",
	}
	if attrs := m.Attrs(); len(attrs) > 0 {
		jm.Notes = attrs
	}
	for _, met := range m.Metabolites() {
		jm.Metabolites = append(jm.Metabolites, jsonMetabolite{
			ID: met.ID, Name: met.Name, Compartment: met.Compartment, Formula: met.Formula,
		})
	}
	for _, r := range m.Reactions() {
		lb, ub := r.LowerBound, r.UpperBound
		jm.Reactions = append(jm.Reactions, jsonReaction{
			ID:                   r.ID,
			Name:                 r.Name,
			Metabolites:          r.Stoichiometry,
			LowerBound:           &lb,
			UpperBound:           &ub,
			ObjectiveCoefficient: r.ObjectiveCoefficient,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(jm); err != nil {
		return fmt.Errorf("write json model %s: %w", m.ID(), err)
	}
	return nil
}
