package modelio

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"unicode/utf16"

	"mminte/internal/model"
)

// MAT-file Level 5 data types.
const (
	miINT8       = 1
	miUINT8      = 2
	miINT16      = 3
	miUINT16     = 4
	miINT32      = 5
	miUINT32     = 6
	miSINGLE     = 7
	miDOUBLE     = 9
	miINT64      = 12
	miUINT64     = 13
	miMATRIX     = 14
	miCOMPRESSED = 15
	miUTF8       = 16
	miUTF16      = 17
	miUTF32      = 18
)

// MAT-file Level 5 array classes.
const (
	mxCELL   = 1
	mxSTRUCT = 2
	mxCHAR   = 4
	mxSPARSE = 5
	mxDOUBLE = 6
	mxUINT64 = 15

	matHeaderLen = 128
)

var errMATShort = errors.New("mat: truncated data element")

// matArray is a decoded miMATRIX element. Only the parts a COBRA model
// struct uses are kept.
type matArray struct {
	name   string
	class  int
	dims   []int
	real   []float64
	text   []rune
	ir, jc []int
	cells  []*matArray
	fields []string
	values [][]*matArray // struct elements, then fields
}

func (a *matArray) numel() int {
	if len(a.dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range a.dims {
		n *= d
	}
	return n
}

func (a *matArray) field(name string) *matArray {
	if a == nil || a.class != mxSTRUCT || len(a.values) == 0 {
		return nil
	}
	for i, f := range a.fields {
		if f == name {
			return a.values[0][i]
		}
	}
	return nil
}

// strings flattens a cell array of char rows, or the rows of a char
// matrix, into Go strings.
func (a *matArray) strings() []string {
	if a == nil {
		return nil
	}
	switch a.class {
	case mxCELL:
		out := make([]string, 0, len(a.cells))
		for _, c := range a.cells {
			out = append(out, c.str())
		}
		return out
	case mxCHAR:
		rows := 1
		if len(a.dims) > 0 {
			rows = a.dims[0]
		}
		if rows <= 1 {
			return []string{a.str()}
		}
		cols := len(a.text) / rows
		out := make([]string, rows)
		for i := 0; i < rows; i++ {
			row := make([]rune, 0, cols)
			for j := 0; j < cols; j++ {
				row = append(row, a.text[i+j*rows])
			}
			out[i] = strings.TrimRight(string(row), " \x00")
		}
		return out
	}
	return nil
}

func (a *matArray) str() string {
	if a == nil {
		return ""
	}
	if a.class == mxCELL {
		if len(a.cells) == 0 {
			return ""
		}
		return a.cells[0].str()
	}
	return strings.TrimRight(string(a.text), "\x00")
}

type matDecoder struct {
	order binary.ByteOrder
}

func readMAT(r io.Reader) (*model.Builder, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read mat: %w", err)
	}
	if len(data) < matHeaderLen {
		return nil, errors.New("mat: file shorter than header")
	}
	if bytes.HasPrefix(data, []byte("MATLAB 7.3")) {
		return nil, fmt.Errorf("mat: v7.3 (HDF5) files: %w", ErrUnsupportedFormat)
	}
	d := &matDecoder{}
	switch string(data[126:128]) {
	case "IM":
		d.order = binary.LittleEndian
	case "MI":
		d.order = binary.BigEndian
	default:
		return nil, errors.New("mat: bad endian indicator")
	}

	vars, err := d.elements(data[matHeaderLen:])
	if err != nil {
		return nil, err
	}
	for _, v := range vars {
		if v.class == mxSTRUCT && v.field("rxns") != nil && v.field("mets") != nil && v.field("S") != nil {
			return matToBuilder(v)
		}
	}
	return nil, errors.New("mat: no struct variable with rxns, mets and S")
}

func (d *matDecoder) elements(buf []byte) ([]*matArray, error) {
	var out []*matArray
	for len(buf) >= 8 {
		typ, body, rest, err := d.element(buf)
		if err != nil {
			return nil, err
		}
		switch typ {
		case miMATRIX:
			a, err := d.matrix(body)
			if err != nil {
				return nil, err
			}
			out = append(out, a)
		case miCOMPRESSED:
			zr, err := zlib.NewReader(bytes.NewReader(body))
			if err != nil {
				return nil, fmt.Errorf("mat: compressed element: %w", err)
			}
			inflated, err := io.ReadAll(zr)
			zr.Close()
			if err != nil {
				return nil, fmt.Errorf("mat: compressed element: %w", err)
			}
			inner, err := d.elements(inflated)
			if err != nil {
				return nil, err
			}
			out = append(out, inner...)
		}
		buf = rest
	}
	return out, nil
}

// element splits one data element off buf, handling the small element
// format (type and size packed into the first word).
func (d *matDecoder) element(buf []byte) (typ uint32, body, rest []byte, err error) {
	if len(buf) < 8 {
		return 0, nil, nil, errMATShort
	}
	first := d.order.Uint32(buf[0:4])
	if n := first >> 16; n != 0 {
		if n > 4 {
			return 0, nil, nil, errMATShort
		}
		return first & 0xffff, buf[4 : 4+n], buf[8:], nil
	}
	n := int(d.order.Uint32(buf[4:8]))
	if 8+n > len(buf) {
		return 0, nil, nil, errMATShort
	}
	end := 8 + n
	if first != miCOMPRESSED {
		end = 8 + (n+7)&^7
		if end > len(buf) {
			end = len(buf)
		}
	}
	return first, buf[8 : 8+n], buf[end:], nil
}

func (d *matDecoder) matrix(body []byte) (*matArray, error) {
	a := &matArray{}
	if len(body) == 0 {
		return a, nil
	}

	typ, flags, body, err := d.element(body)
	if err != nil {
		return nil, err
	}
	if typ != miUINT32 || len(flags) < 4 {
		return nil, errors.New("mat: bad array flags")
	}
	fw := d.order.Uint32(flags[0:4])
	a.class = int(fw & 0xff)

	typ, dims, body, err := d.element(body)
	if err != nil {
		return nil, err
	}
	for _, v := range d.numbers(typ, dims) {
		if v < 0 {
			return nil, fmt.Errorf("mat: negative dimension %g", v)
		}
		a.dims = append(a.dims, int(v))
	}

	_, name, body, err := d.element(body)
	if err != nil {
		return nil, err
	}
	a.name = string(name)

	switch {
	case a.class == mxCELL:
		for i := 0; i < a.numel(); i++ {
			typ, cb, rest, err := d.element(body)
			if err != nil {
				return nil, err
			}
			if typ != miMATRIX {
				return nil, fmt.Errorf("mat: cell %s holds element type %d", a.name, typ)
			}
			c, err := d.matrix(cb)
			if err != nil {
				return nil, err
			}
			a.cells = append(a.cells, c)
			body = rest
		}

	case a.class == mxSTRUCT:
		typ, fl, rest, err := d.element(body)
		if err != nil {
			return nil, err
		}
		lens := d.numbers(typ, fl)
		if len(lens) != 1 || lens[0] <= 0 {
			return nil, errors.New("mat: bad struct field name length")
		}
		width := int(lens[0])
		_, names, rest, err := d.element(rest)
		if err != nil {
			return nil, err
		}
		for i := 0; i+width <= len(names); i += width {
			a.fields = append(a.fields, strings.TrimRight(string(names[i:i+width]), "\x00"))
		}
		if len(a.fields) == 0 {
			break
		}
		body = rest
		for e := 0; e < a.numel(); e++ {
			vals := make([]*matArray, len(a.fields))
			for f := range a.fields {
				_, fb, rest, err := d.element(body)
				if err != nil {
					return nil, err
				}
				if vals[f], err = d.matrix(fb); err != nil {
					return nil, err
				}
				body = rest
			}
			a.values = append(a.values, vals)
		}

	case a.class == mxCHAR:
		typ, cb, _, err := d.element(body)
		if err != nil {
			return nil, err
		}
		a.text = d.runes(typ, cb)

	case a.class == mxSPARSE:
		typ, ir, rest, err := d.element(body)
		if err != nil {
			return nil, err
		}
		a.ir = toInts(d.numbers(typ, ir))
		typ, jc, rest, err := d.element(rest)
		if err != nil {
			return nil, err
		}
		a.jc = toInts(d.numbers(typ, jc))
		typ, pr, _, err := d.element(rest)
		if err != nil {
			return nil, err
		}
		a.real = d.numbers(typ, pr)

	case a.class >= mxDOUBLE && a.class <= mxUINT64:
		typ, pr, _, err := d.element(body)
		if err != nil {
			return nil, err
		}
		// Imaginary parts, if any, carry no meaning for bounds or stoichiometry.
		a.real = d.numbers(typ, pr)
	}
	return a, nil
}

// numbers converts a numeric data element to float64 values.
func (d *matDecoder) numbers(typ uint32, b []byte) []float64 {
	var size int
	switch typ {
	case miINT8, miUINT8:
		size = 1
	case miINT16, miUINT16:
		size = 2
	case miINT32, miUINT32, miSINGLE:
		size = 4
	case miDOUBLE, miINT64, miUINT64:
		size = 8
	default:
		return nil
	}
	out := make([]float64, 0, len(b)/size)
	for i := 0; i+size <= len(b); i += size {
		p := b[i : i+size]
		var v float64
		switch typ {
		case miINT8:
			v = float64(int8(p[0]))
		case miUINT8:
			v = float64(p[0])
		case miINT16:
			v = float64(int16(d.order.Uint16(p)))
		case miUINT16:
			v = float64(d.order.Uint16(p))
		case miINT32:
			v = float64(int32(d.order.Uint32(p)))
		case miUINT32:
			v = float64(d.order.Uint32(p))
		case miSINGLE:
			v = float64(math.Float32frombits(d.order.Uint32(p)))
		case miDOUBLE:
			v = math.Float64frombits(d.order.Uint64(p))
		case miINT64:
			v = float64(int64(d.order.Uint64(p)))
		case miUINT64:
			v = float64(d.order.Uint64(p))
		}
		out = append(out, v)
	}
	return out
}

func (d *matDecoder) runes(typ uint32, b []byte) []rune {
	switch typ {
	case miUTF8, miINT8, miUINT8:
		return []rune(string(b))
	case miUTF16, miUINT16:
		units := make([]uint16, 0, len(b)/2)
		for i := 0; i+2 <= len(b); i += 2 {
			units = append(units, d.order.Uint16(b[i:i+2]))
		}
		return utf16.Decode(units)
	default:
		nums := d.numbers(typ, b)
		out := make([]rune, len(nums))
		for i, v := range nums {
			out[i] = rune(v)
		}
		return out
	}
}

func toInts(vs []float64) []int {
	out := make([]int, len(vs))
	for i, v := range vs {
		out[i] = int(v)
	}
	return out
}

// matToBuilder maps a COBRA model struct to a model builder.
// checkSparse validates the compressed column layout of S against its
// shape: jc starts at 0 and never decreases, and every stored entry has a
// row index inside the matrix.
func checkSparse(s *matArray, rows, cols int) error {
	if len(s.jc) != cols+1 {
		return errors.New("mat: sparse S column index has wrong length")
	}
	if s.jc[0] != 0 {
		return fmt.Errorf("mat: sparse S column index starts at %d", s.jc[0])
	}
	for j := 0; j < cols; j++ {
		if s.jc[j+1] < s.jc[j] {
			return fmt.Errorf("mat: sparse S column index decreases at column %d", j)
		}
	}
	nnz := s.jc[cols]
	if nnz > len(s.ir) || nnz > len(s.real) {
		return fmt.Errorf("mat: sparse S claims %d entries but holds %d row indices and %d values", nnz, len(s.ir), len(s.real))
	}
	for _, i := range s.ir[:nnz] {
		if i < 0 || i >= rows {
			return fmt.Errorf("mat: sparse S row index %d outside [0, %d)", i, rows)
		}
	}
	return nil
}

func matToBuilder(v *matArray) (*model.Builder, error) {
	rxns := v.field("rxns").strings()
	mets := v.field("mets").strings()
	nr, nm := len(rxns), len(mets)

	vector := func(name string, def float64) ([]float64, error) {
		f := v.field(name)
		if f == nil || f.numel() == 0 {
			out := make([]float64, nr)
			for i := range out {
				out[i] = def
			}
			return out, nil
		}
		if len(f.real) != nr {
			return nil, fmt.Errorf("mat: %s has %d values for %d reactions", name, len(f.real), nr)
		}
		return f.real, nil
	}
	lb, err := vector("lb", -model.DefaultFluxLimit)
	if err != nil {
		return nil, err
	}
	ub, err := vector("ub", model.DefaultFluxLimit)
	if err != nil {
		return nil, err
	}
	c, err := vector("c", 0)
	if err != nil {
		return nil, err
	}

	stoich := make([]map[string]float64, nr)
	for j := range stoich {
		stoich[j] = make(map[string]float64)
	}
	s := v.field("S")
	if len(s.dims) != 2 || s.dims[0] != nm || s.dims[1] != nr {
		return nil, fmt.Errorf("mat: S is %v, want [%d %d]", s.dims, nm, nr)
	}
	if s.class == mxSPARSE {
		if err := checkSparse(s, nm, nr); err != nil {
			return nil, err
		}
		for j := 0; j < nr; j++ {
			for k := s.jc[j]; k < s.jc[j+1]; k++ {
				if x := s.real[k]; x != 0 {
					stoich[j][mets[s.ir[k]]] = x
				}
			}
		}
	} else {
		if len(s.real) != nm*nr {
			return nil, errors.New("mat: dense S has wrong size")
		}
		for j := 0; j < nr; j++ {
			for i := 0; i < nm; i++ {
				if x := s.real[i+j*nm]; x != 0 {
					stoich[j][mets[i]] = x
				}
			}
		}
	}

	id, name := v.name, ""
	if desc := v.field("description"); desc != nil {
		if ds := desc.strings(); len(ds) > 0 && ds[0] != "" {
			id = ds[0]
			if len(ds) > 1 {
				name = ds[1]
			}
		}
	}

	metNames := v.field("metNames").strings()
	formulas := v.field("metFormulas").strings()
	rxnNames := v.field("rxnNames").strings()

	b := model.NewBuilder(id).SetName(name)
	for i, met := range mets {
		m := model.Metabolite{ID: met, Compartment: compartmentSuffix(met)}
		if i < len(metNames) {
			m.Name = metNames[i]
		}
		if i < len(formulas) {
			m.Formula = formulas[i]
		}
		b.AddMetabolite(m)
	}
	for j, rxn := range rxns {
		r := model.Reaction{
			ID:                   rxn,
			LowerBound:           lb[j],
			UpperBound:           ub[j],
			Stoichiometry:        stoich[j],
			ObjectiveCoefficient: c[j],
		}
		if j < len(rxnNames) {
			r.Name = rxnNames[j]
		}
		b.AddReaction(r)
	}
	return b, nil
}

// compartmentSuffix returns "e" for "glc[e]".
func compartmentSuffix(id string) string {
	if !strings.HasSuffix(id, "]") {
		return ""
	}
	i := strings.LastIndex(id, "[")
	if i < 0 {
		return ""
	}
	return id[i+1 : len(id)-1]
}
