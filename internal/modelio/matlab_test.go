package modelio

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"strings"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The helpers below write just enough of the MAT v5 format to exercise the
// reader: little endian, one struct variable.

func matElem(typ uint32, data []byte) []byte {
	var b bytes.Buffer
	_ = binary.Write(&b, binary.LittleEndian, typ)
	_ = binary.Write(&b, binary.LittleEndian, uint32(len(data)))
	b.Write(data)
	for b.Len()%8 != 0 {
		b.WriteByte(0)
	}
	return b.Bytes()
}

func matSmallElem(typ uint32, data []byte) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b, uint32(len(data))<<16|typ)
	copy(b[4:], data)
	return b
}

func matInt32s(vs ...int32) []byte {
	var b bytes.Buffer
	_ = binary.Write(&b, binary.LittleEndian, vs)
	return b.Bytes()
}

func matFloat64s(vs ...float64) []byte {
	var b bytes.Buffer
	_ = binary.Write(&b, binary.LittleEndian, vs)
	return b.Bytes()
}

func matMatrix(class uint32, dims []int32, name string, parts ...[]byte) []byte {
	flags := make([]byte, 8)
	binary.LittleEndian.PutUint32(flags, class)
	body := append([]byte{}, matElem(miUINT32, flags)...)
	body = append(body, matElem(miINT32, matInt32s(dims...))...)
	if len(name) <= 4 {
		body = append(body, matSmallElem(miINT8, []byte(name))...)
	} else {
		body = append(body, matElem(miINT8, []byte(name))...)
	}
	for _, p := range parts {
		body = append(body, p...)
	}
	return matElem(miMATRIX, body)
}

func matChar(s string) []byte {
	units := utf16.Encode([]rune(s))
	var b bytes.Buffer
	_ = binary.Write(&b, binary.LittleEndian, units)
	return matMatrix(mxCHAR, []int32{1, int32(len(units))}, "", matElem(miUINT16, b.Bytes()))
}

func matCell(strs ...string) []byte {
	var parts [][]byte
	for _, s := range strs {
		parts = append(parts, matChar(s))
	}
	return matMatrix(mxCELL, []int32{int32(len(strs)), 1}, "", parts...)
}

func matDouble(vs ...float64) []byte {
	return matMatrix(mxDOUBLE, []int32{int32(len(vs)), 1}, "", matElem(miDOUBLE, matFloat64s(vs...)))
}

func matSparse(rows, cols int32, ir, jc []int32, pr []float64) []byte {
	return matMatrix(mxSPARSE, []int32{rows, cols}, "",
		matElem(miINT32, matInt32s(ir...)),
		matElem(miINT32, matInt32s(jc...)),
		matElem(miDOUBLE, matFloat64s(pr...)))
}

func matStruct(name string, fields []string, values [][]byte) []byte {
	const width = 32
	names := make([]byte, width*len(fields))
	for i, f := range fields {
		copy(names[i*width:], f)
	}
	parts := [][]byte{matSmallElem(miINT32, matInt32s(width)), matElem(miINT8, names)}
	parts = append(parts, values...)
	return matMatrix(mxSTRUCT, []int32{1, 1}, name, parts...)
}

func matFile(elements ...[]byte) []byte {
	header := make([]byte, 128)
	copy(header, strings.Repeat(" ", 116))
	copy(header, "MATLAB 5.0 MAT-file, written by tests")
	binary.LittleEndian.PutUint16(header[124:], 0x0100)
	header[126], header[127] = 'I', 'M'
	out := header
	for _, e := range elements {
		out = append(out, e...)
	}
	return out
}

func cobraStruct() []byte {
	// S is 2 mets x 3 rxns:
	//   EX_glc: glc[e] -1
	//   USE:    glc[e] -1, atp[c] +1
	//   BIO:    atp[c] -1
	return matStruct("model",
		[]string{"rxns", "mets", "S", "lb", "ub", "c", "rxnNames", "description"},
		[][]byte{
			matCell("EX_glc(e)", "USE", "BIO"),
			matCell("glc[e]", "atp[c]"),
			matSparse(2, 3, []int32{0, 0, 1, 1}, []int32{0, 1, 3, 4}, []float64{-1, -1, 1, -1}),
			matDouble(-10, 0, 0),
			matDouble(1000, 1000, 1000),
			matDouble(0, 0, 1),
			matCell("glucose exchange", "", "biomass"),
			matChar("iToy"),
		})
}

func TestReadMAT(t *testing.T) {
	m, err := Decode(bytes.NewReader(matFile(cobraStruct())), FormatMAT)
	require.NoError(t, err)

	assert.Equal(t, "iToy", m.ID())
	assert.Equal(t, 3, m.NumReactions())
	assert.Equal(t, 2, m.NumMetabolites())

	ex, ok := m.Reaction("EX_glc(e)")
	require.True(t, ok)
	assert.Equal(t, "glucose exchange", ex.Name)
	assert.Equal(t, -10.0, ex.LowerBound)
	assert.Equal(t, map[string]float64{"glc[e]": -1}, ex.Stoichiometry)

	use, _ := m.Reaction("USE")
	assert.Equal(t, map[string]float64{"glc[e]": -1, "atp[c]": 1}, use.Stoichiometry)

	met, ok := m.Metabolite("glc[e]")
	require.True(t, ok)
	assert.Equal(t, "e", met.Compartment)

	assert.Equal(t, []string{"BIO"}, m.Objective())
}

func TestReadMATCompressed(t *testing.T) {
	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	_, err := zw.Write(cobraStruct())
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var elem bytes.Buffer
	_ = binary.Write(&elem, binary.LittleEndian, uint32(miCOMPRESSED))
	_ = binary.Write(&elem, binary.LittleEndian, uint32(z.Len()))
	elem.Write(z.Bytes())

	m, err := Decode(bytes.NewReader(matFile(elem.Bytes())), FormatMAT)
	require.NoError(t, err)
	assert.Equal(t, 3, m.NumReactions())
}

func TestReadMATDenseS(t *testing.T) {
	s := matMatrix(mxDOUBLE, []int32{2, 3}, "", matElem(miDOUBLE, matFloat64s(-1, 0, -1, 1, 0, -1)))
	v := matStruct("toy",
		[]string{"rxns", "mets", "S", "c"},
		[][]byte{matCell("EX", "USE", "BIO"), matCell("a", "b"), s, matDouble(0, 0, 1)})

	m, err := Decode(bytes.NewReader(matFile(v)), FormatMAT)
	require.NoError(t, err)
	assert.Equal(t, "toy", m.ID(), "variable name is the fallback id")

	use, _ := m.Reaction("USE")
	assert.Equal(t, map[string]float64{"a": -1, "b": 1}, use.Stoichiometry)
	bio, _ := m.Reaction("BIO")
	assert.Equal(t, -1000.0, bio.LowerBound, "missing lb defaults")
}

func TestReadMATRejectsCorruptSparse(t *testing.T) {
	cases := []struct {
		name string
		ir   []int32
		jc   []int32
		want string
	}{
		{"negative row", []int32{0, -1, 1, 1}, []int32{0, 1, 3, 4}, "row index -1"},
		{"row past end", []int32{0, 0, 7, 1}, []int32{0, 1, 3, 4}, "row index 7"},
		{"negative start", []int32{0, 0, 1, 1}, []int32{-2, 1, 3, 4}, "starts at -2"},
		{"decreasing", []int32{0, 0, 1, 1}, []int32{0, 3, 1, 4}, "decreases at column 1"},
		{"overlong", []int32{0, 0, 1, 1}, []int32{0, 1, 3, 9}, "claims 9 entries"},
		{"short index", []int32{0, 0, 1, 1}, []int32{0, 1, 3}, "wrong length"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := matStruct("model",
				[]string{"rxns", "mets", "S"},
				[][]byte{
					matCell("EX_glc(e)", "USE", "BIO"),
					matCell("glc[e]", "atp[c]"),
					matSparse(2, 3, tc.ir, tc.jc, []float64{-1, -1, 1, -1}),
				})
			var err error
			require.NotPanics(t, func() {
				_, err = Decode(bytes.NewReader(matFile(v)), FormatMAT)
			})
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestReadMATRejectsOtherVariables(t *testing.T) {
	_, err := Decode(bytes.NewReader(matFile(matMatrix(mxDOUBLE, []int32{1, 1}, "x", matElem(miDOUBLE, matFloat64s(1))))), FormatMAT)
	assert.Error(t, err)

	_, err = Decode(bytes.NewReader([]byte("short")), FormatMAT)
	assert.Error(t, err)
}
