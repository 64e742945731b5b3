// Package community assembles two species models into one community model
// that shares a synthetic extracellular compartment.
//
// The steps are pure functions over immutable models:
//
//	ReconcileExchanges -> SharedFragments -> Partition (per species) -> Assemble
//
// Assemble chains all of them.
package community

import (
	"fmt"
	"sort"
	"strings"

	"mminte/internal/model"
)

const (
	// BoundaryPrefix marks exchange reactions.
	BoundaryPrefix = "EX_"
	// SharedSuffix marks reactions and metabolites of the shared compartment.
	SharedSuffix = "[u]"
)

// IsExchange reports whether a reaction id names a boundary reaction.
func IsExchange(id string) bool {
	return strings.HasPrefix(id, BoundaryPrefix)
}

// ExchangeIDs returns the boundary reaction ids of a model in model order.
func ExchangeIDs(m *model.Model) []string {
	var ids []string
	for _, r := range m.Reactions() {
		if IsExchange(r.ID) {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// SharedReactionID maps a species exchange id to its shared compartment id.
func SharedReactionID(exchangeID string) string {
	return exchangeID + SharedSuffix
}

// SharedMetaboliteID derives the shared metabolite of a shared reaction by
// stripping the boundary marker. Both fragments use this, so a reaction id
// always maps to the same metabolite.
func SharedMetaboliteID(sharedReactionID string) string {
	return strings.TrimPrefix(sharedReactionID, BoundaryPrefix)
}

// ReconcileExchanges returns the union of the boundary reactions of a and b,
// each carrying the shared suffix. An exchange present in both models
// appears once. The result is sorted.
func ReconcileExchanges(a, b *model.Model) []string {
	seen := make(map[string]struct{})
	for _, m := range []*model.Model{a, b} {
		for _, id := range ExchangeIDs(m) {
			seen[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, SharedReactionID(id))
	}
	sort.Strings(out)
	return out
}

// SharedFragments builds the two mirror fragments for the merged exchange
// ids. The forward fragment consumes each shared metabolite and becomes the
// shared compartment; the reverse fragment produces it and only supplies
// the metabolite attached to species-level exchanges.
func SharedFragments(ids []string) (forward, reverse *model.Model, err error) {
	fb := model.NewBuilder("shared_exchange")
	rb := model.NewBuilder("shared_exchange_reverse")
	for _, id := range ids {
		met := model.Metabolite{ID: SharedMetaboliteID(id), Compartment: "u"}
		fb.AddMetabolite(met)
		rb.AddMetabolite(met)
		fb.AddReaction(sharedReaction(id, met.ID, -1))
		rb.AddReaction(sharedReaction(id, met.ID, 1))
	}
	if forward, err = fb.Build(); err != nil {
		return nil, nil, fmt.Errorf("forward shared fragment: %w", err)
	}
	if reverse, err = rb.Build(); err != nil {
		return nil, nil, fmt.Errorf("reverse shared fragment: %w", err)
	}
	return forward, reverse, nil
}

func sharedReaction(id, metID string, coef float64) model.Reaction {
	return model.Reaction{
		ID:            id,
		LowerBound:    -model.DefaultFluxLimit,
		UpperBound:    model.DefaultFluxLimit,
		Stoichiometry: map[string]float64{metID: coef},
	}
}
