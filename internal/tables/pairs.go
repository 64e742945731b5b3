package tables

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Pair names the two species model files of one community.
type Pair struct {
	A string
	B string
}

func (p Pair) String() string { return p.A + "/" + p.B }

// ReadPairs parses a pair list: one pair of whitespace-separated file names
// per line. Single quotes are stripped, blank lines and '#' comments are
// ignored.
func ReadPairs(r io.Reader) ([]Pair, error) {
	var out []Pair
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(strings.ReplaceAll(sc.Text(), "'", ""))
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, fmt.Errorf("pair list line %d: want 2 file names, got %d", line, len(fields))
		}
		out = append(out, Pair{A: fields[0], B: fields[1]})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read pair list: %w", err)
	}
	return out, nil
}

// WritePairs writes pairs in the format ReadPairs accepts.
func WritePairs(w io.Writer, pairs []Pair) error {
	bw := bufio.NewWriter(w)
	for _, p := range pairs {
		if _, err := fmt.Fprintf(bw, "%s\t%s\n", p.A, p.B); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// AllPairs returns every unordered pair of distinct names, in input order.
func AllPairs(names []string) []Pair {
	var out []Pair
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			out = append(out, Pair{A: names[i], B: names[j]})
		}
	}
	return out
}
