// Package interaction turns community growth records into percent-change
// scores and an ecological interaction label.
package interaction

import (
	"fmt"

	"mminte/internal/growth"
)

// Defaults for the classifier.
const (
	DefaultThreshold = 0.1
	// DefaultEpsilon replaces a zero solo growth rate in the denominator.
	DefaultEpsilon = 1e-25
)

// Type is the predicted interaction between two species.
type Type int

const (
	Mutualism Type = iota
	Parasitism
	Commensalism
	Competition
	Amensalism
	Neutralism
	Undetermined
)

var typeNames = [...]string{
	Mutualism:    "Mutualism",
	Parasitism:   "Parasitism",
	Commensalism: "Commensalism",
	Competition:  "Competition",
	Amensalism:   "Amensalism",
	Neutralism:   "Neutralism",
	Undetermined: "Undetermined",
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// Types lists every Type in table order.
func Types() []Type {
	return []Type{Mutualism, Parasitism, Commensalism, Competition, Amensalism, Neutralism, Undetermined}
}

// ParseType is the inverse of Type.String.
func ParseType(s string) (Type, error) {
	for _, t := range Types() {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown interaction type %q", s)
}

// PercentChange is the relative change of a species' growth in community
// versus alone. A solo rate of exactly zero divides by epsilon instead,
// which yields a huge value carrying the sign of full.
func PercentChange(full, solo, epsilon float64) float64 {
	if solo != 0 {
		return (full - solo) / solo
	}
	return (full - solo) / epsilon
}

type band int

const (
	bandHigh band = iota
	bandLow
	bandMid
	bandNone
)

// Classifier maps percent changes to interaction types.
type Classifier struct {
	Threshold float64
	Epsilon   float64
}

// NewClassifier returns a classifier with the default threshold and epsilon.
func NewClassifier() Classifier {
	return Classifier{Threshold: DefaultThreshold, Epsilon: DefaultEpsilon}
}

func (c Classifier) band(p float64) band {
	switch {
	case p > c.Threshold:
		return bandHigh
	case p < -c.Threshold:
		return bandLow
	case p >= -c.Threshold && p <= c.Threshold:
		return bandMid
	default:
		// NaN
		return bandNone
	}
}

// Classify returns the interaction for a pair of percent changes. Each
// value falls in exactly one of three bands: above the threshold, below
// its negation, or in between (bounds included). Undetermined is returned
// only when a value is NaN.
func (c Classifier) Classify(pctA, pctB float64) Type {
	a, b := c.band(pctA), c.band(pctB)
	switch {
	case a == bandHigh && b == bandHigh:
		return Mutualism
	case a == bandHigh && b == bandLow, a == bandLow && b == bandHigh:
		return Parasitism
	case a == bandHigh && b == bandMid, a == bandMid && b == bandHigh:
		return Commensalism
	case a == bandLow && b == bandLow:
		return Competition
	case a == bandLow && b == bandMid, a == bandMid && b == bandLow:
		return Amensalism
	case a == bandMid && b == bandMid:
		return Neutralism
	default:
		return Undetermined
	}
}

// Record is a growth record with its percent changes and interaction.
type Record struct {
	growth.Record
	PercentChangeA float64
	PercentChangeB float64
	Type           Type
}

// FromGrowth classifies one growth record.
func (c Classifier) FromGrowth(g growth.Record) Record {
	pa := PercentChange(g.FullA, g.SoloA, c.Epsilon)
	pb := PercentChange(g.FullB, g.SoloB, c.Epsilon)
	return Record{Record: g, PercentChangeA: pa, PercentChangeB: pb, Type: c.Classify(pa, pb)}
}

// Tally counts interactions per type.
type Tally struct {
	counts [len(typeNames)]int
}

// Add counts one interaction.
func (t *Tally) Add(typ Type) {
	if typ >= 0 && int(typ) < len(t.counts) {
		t.counts[typ]++
	}
}

// Count returns the number of interactions of a type.
func (t *Tally) Count(typ Type) int {
	if typ < 0 || int(typ) >= len(t.counts) {
		return 0
	}
	return t.counts[typ]
}

// Total returns the number of counted interactions.
func (t *Tally) Total() int {
	n := 0
	for _, c := range t.counts {
		n += c
	}
	return n
}

// Map returns the counts keyed by type name, for serialization.
func (t *Tally) Map() map[string]int {
	out := make(map[string]int, len(t.counts))
	for _, typ := range Types() {
		out[typ.String()] = t.counts[typ]
	}
	return out
}
