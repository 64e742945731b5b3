// Package diet parses nutrient-availability profiles and applies them to
// the uptake bounds of exchange reactions.
package diet

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"mminte/internal/community"
	"mminte/internal/model"
)

// Entry is one diet line: the maximum uptake rate of an exchange reaction.
type Entry struct {
	ReactionID string
	Magnitude  float64
}

// Diet is an ordered list of entries.
type Diet struct {
	Name    string
	Entries []Entry
	// Ignored holds the line numbers Parse skipped as malformed.
	Ignored []int
}

// Report summarises one application of a diet to a model.
type Report struct {
	Applied int
	Skipped int
}

// Parse reads a tab-separated diet: "<exchange-reaction-id>\t<magnitude>".
// Blank lines and lines starting with '#' are ignored. A line without a
// reaction id or without a numeric magnitude, such as a column header, is
// skipped and its number recorded in Ignored. A negative magnitude is an
// error naming the line.
func Parse(r io.Reader) (Diet, error) {
	var d Diet
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" || strings.HasPrefix(strings.TrimSpace(text), "#") {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) < 2 || strings.TrimSpace(fields[0]) == "" {
			d.Ignored = append(d.Ignored, line)
			continue
		}
		id := strings.TrimSpace(fields[0])
		mag, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil || math.IsNaN(mag) {
			d.Ignored = append(d.Ignored, line)
			continue
		}
		if mag < 0 {
			return Diet{}, fmt.Errorf("diet line %d: magnitude %g is negative", line, mag)
		}
		d.Entries = append(d.Entries, Entry{ReactionID: id, Magnitude: mag})
	}
	if err := sc.Err(); err != nil {
		return Diet{}, fmt.Errorf("read diet: %w", err)
	}
	return d, nil
}

// Load parses a diet file. The diet is named after the file.
func Load(path string) (Diet, error) {
	f, err := os.Open(path)
	if err != nil {
		return Diet{}, fmt.Errorf("open diet: %w", err)
	}
	defer f.Close()

	d, err := Parse(f)
	if err != nil {
		return Diet{}, fmt.Errorf("%s: %w", path, err)
	}
	d.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return d, nil
}

// ForSpecies rewrites shared-compartment entries ("EX_x[u]") to species
// exchange ids ("EX_x") so a community diet can be applied to a single
// species model.
func (d Diet) ForSpecies() Diet {
	out := Diet{Name: d.Name, Entries: make([]Entry, len(d.Entries))}
	for i, e := range d.Entries {
		e.ReactionID = strings.TrimSuffix(e.ReactionID, community.SharedSuffix)
		out.Entries[i] = e
	}
	return out
}

// Apply returns a copy of m where every reaction named by the diet has its
// lower bound set to the negated magnitude. Entries naming reactions that
// do not exist are skipped. Applying the same diet twice gives the same
// bounds as applying it once.
func Apply(m *model.Model, d Diet) (*model.Model, Report, error) {
	var rep Report
	b := m.ToBuilder()
	for _, e := range d.Entries {
		if !m.HasReaction(e.ReactionID) {
			rep.Skipped++
			continue
		}
		if err := b.SetLowerBound(e.ReactionID, -e.Magnitude); err != nil {
			return nil, rep, err
		}
		rep.Applied++
	}
	out, err := b.Build()
	if err != nil {
		return nil, rep, fmt.Errorf("apply diet %s to %s: %w", d.Name, m.ID(), err)
	}
	return out, rep, nil
}
