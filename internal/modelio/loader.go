// Package modelio reads and writes metabolic models in the formats found in
// the wild: SBML, cobra JSON and MATLAB .mat files.
package modelio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mminte/internal/model"
)

// Format identifies an on-disk model encoding.
type Format int

const (
	FormatSBML Format = iota + 1
	FormatJSON
	FormatMAT
)

func (f Format) String() string {
	switch f {
	case FormatSBML:
		return "sbml"
	case FormatJSON:
		return "json"
	case FormatMAT:
		return "mat"
	default:
		return "unknown"
	}
}

// ErrUnsupportedFormat is returned for a file extension no codec handles,
// or for an operation the codec does not support (writing .mat).
var ErrUnsupportedFormat = errors.New("modelio: unsupported model format")

// LoadError reports a model file that could not be read or decoded.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load model %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// DetectFormat selects a codec from the file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml", ".sbml":
		return FormatSBML, nil
	case ".json":
		return FormatJSON, nil
	case ".mat":
		return FormatMAT, nil
	default:
		return 0, fmt.Errorf("%q: %w", filepath.Ext(path), ErrUnsupportedFormat)
	}
}

// IsModelFile reports whether path has an extension Load understands.
func IsModelFile(path string) bool {
	_, err := DetectFormat(path)
	return err == nil
}

// Load reads a model file, choosing the codec by extension. Every failure is
// a *LoadError. A model without an identifier is named after its file.
func Load(path string) (*model.Model, error) {
	f, err := DetectFormat(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return LoadBytes(path, data, f)
}

// LoadBytes decodes data that was read from path (or from a blob keyed by
// path). Errors are *LoadError.
func LoadBytes(path string, data []byte, f Format) (*model.Model, error) {
	m, err := decode(bytes.NewReader(data), f, baseName(path))
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return m, nil
}

// Decode reads a model in the given format.
func Decode(r io.Reader, f Format) (*model.Model, error) {
	return decode(r, f, "")
}

func decode(r io.Reader, f Format, fallbackID string) (*model.Model, error) {
	var (
		b   *model.Builder
		err error
	)
	switch f {
	case FormatSBML:
		b, err = readSBML(r)
	case FormatJSON:
		b, err = readJSON(r)
	case FormatMAT:
		b, err = readMAT(r)
	default:
		return nil, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, err
	}
	if fallbackID != "" && b.ID() == "" {
		b.SetID(fallbackID)
	}
	return b.Build()
}

// Encode writes m in the given format. Only SBML and JSON can be written.
func Encode(w io.Writer, m *model.Model, f Format) error {
	switch f {
	case FormatSBML:
		return writeSBML(w, m)
	case FormatJSON:
		return writeJSON(w, m)
	default:
		return fmt.Errorf("encode %s: %w", f, ErrUnsupportedFormat)
	}
}

// Marshal encodes m into memory.
func Marshal(m *model.Model, f Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, m, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes m to path, creating the parent directory when needed.
func Save(path string, m *model.Model) error {
	f, err := DetectFormat(path)
	if err != nil {
		return err
	}
	data, err := Marshal(m, f)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// ListModels returns the names of the model files directly inside dir,
// sorted. Subdirectories and files of other types are ignored.
func ListModels(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && IsModelFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
