// Package tables reads and writes the tab-separated files exchanged with
// users: the growth-rate table, the interaction table and pair lists.
package tables

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"mminte/internal/growth"
	"mminte/internal/interaction"
)

// Table headers.
var (
	GrowthHeader = []string{
		"ModelName", "ObjFunctionSpeciesA", "ObjFunctionSpeciesB",
		"GRSpeciesAFull", "GRSpeciesBFull", "GRASolo", "GRBSolo",
	}
	InteractionHeader = []string{
		"Model", "GenomeIDSpeciesA", "GenomeIDSpeciesB",
		"GRSpeciesAFull", "GRSpeciesBFull", "GRASolo", "GRBSolo",
		"PercentChangeRawA", "PercentChangeRawB", "TypeOfInteraction",
	}
)

// Writer writes one row per value to a tab-separated table. Every Write
// is flushed so that a row is either fully on disk or absent.
type Writer[T any] struct {
	cw     *csv.Writer
	format func(T) []string
}

func newWriter[T any](w io.Writer, format func(T) []string) *Writer[T] {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	return &Writer[T]{cw: cw, format: format}
}

// WriteHeader writes a header row.
func (w *Writer[T]) WriteHeader(header []string) error {
	return w.writeRow(header)
}

// Write appends one row.
func (w *Writer[T]) Write(v T) error {
	return w.writeRow(w.format(v))
}

func (w *Writer[T]) writeRow(row []string) error {
	if err := w.cw.Write(row); err != nil {
		return err
	}
	w.cw.Flush()
	return w.cw.Error()
}

// NewGrowthWriter returns a writer of growth-table rows.
func NewGrowthWriter(w io.Writer) *Writer[growth.Record] {
	return newWriter(w, growthRow)
}

// NewInteractionWriter returns a writer of interaction-table rows.
func NewInteractionWriter(w io.Writer) *Writer[interaction.Record] {
	return newWriter(w, interactionRow)
}

func growthRow(r growth.Record) []string {
	return []string{
		r.CommunityID, r.SpeciesA, r.SpeciesB,
		formatFloat(r.FullA), formatFloat(r.FullB), formatFloat(r.SoloA), formatFloat(r.SoloB),
	}
}

func interactionRow(r interaction.Record) []string {
	return append(growthRow(r.Record),
		formatFloat(r.PercentChangeA), formatFloat(r.PercentChangeB), r.Type.String())
}

// OpenAppend opens a table file for appending, creating it and its
// directory when needed. The header is written only to an empty file.
func OpenAppend(path string, header []string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create table dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat table: %w", err)
	}
	if info.Size() == 0 {
		if err := writeHeaderLine(f, header); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

// Create truncates or creates a table file and writes its header.
func Create(path string, header []string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create table dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}
	if err := writeHeaderLine(f, header); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func writeHeaderLine(w io.Writer, header []string) error {
	_, err := io.WriteString(w, strings.Join(header, "\t")+"\n")
	if err != nil {
		return fmt.Errorf("write table header: %w", err)
	}
	return nil
}

// ReadGrowth parses a growth table. Header rows are skipped wherever they
// appear, since appended tables may hold several.
func ReadGrowth(r io.Reader) ([]growth.Record, error) {
	var out []growth.Record
	err := readRows(r, len(GrowthHeader), GrowthHeader[0], func(line int, row []string) error {
		rec, err := parseGrowthRow(row)
		if err != nil {
			return fmt.Errorf("growth table line %d: %w", line, err)
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// ReadInteractions parses an interaction table.
func ReadInteractions(r io.Reader) ([]interaction.Record, error) {
	var out []interaction.Record
	err := readRows(r, len(InteractionHeader), InteractionHeader[0], func(line int, row []string) error {
		g, err := parseGrowthRow(row[:len(GrowthHeader)])
		if err != nil {
			return fmt.Errorf("interaction table line %d: %w", line, err)
		}
		pcts, err := parseFloats(row[7:9])
		if err != nil {
			return fmt.Errorf("interaction table line %d: %w", line, err)
		}
		typ, err := interaction.ParseType(row[9])
		if err != nil {
			return fmt.Errorf("interaction table line %d: %w", line, err)
		}
		out = append(out, interaction.Record{Record: g, PercentChangeA: pcts[0], PercentChangeB: pcts[1], Type: typ})
		return nil
	})
	return out, err
}

func readRows(r io.Reader, width int, headerFirst string, fn func(line int, row []string) error) error {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	line := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		line++
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		for i := range row {
			row[i] = strings.TrimSpace(row[i])
		}
		if len(row) == 0 || (len(row) == 1 && row[0] == "") || row[0] == headerFirst {
			continue
		}
		if len(row) != width {
			return fmt.Errorf("line %d: %d columns, want %d", line, len(row), width)
		}
		if err := fn(line, row); err != nil {
			return err
		}
	}
}

func parseGrowthRow(row []string) (growth.Record, error) {
	vals, err := parseFloats(row[3:7])
	if err != nil {
		return growth.Record{}, err
	}
	return growth.Record{
		CommunityID: row[0],
		SpeciesA:    row[1],
		SpeciesB:    row[2],
		FullA:       vals[0],
		FullB:       vals[1],
		SoloA:       vals[2],
		SoloB:       vals[3],
	}, nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", f)
		}
		out[i] = v
	}
	return out, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
