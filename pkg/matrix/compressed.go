package matrix

import (
	"fmt"
	"log/slog"
	"sort"
)

// Orientation selects how the compressed arrays are laid out.
type Orientation int

const (
	ColumnMajor Orientation = iota // column pointers, row indices
	RowMajor                       // row pointers, column indices
)

func (o Orientation) String() string {
	if o == RowMajor {
		return "row-major"
	}
	return "column-major"
}

// SymbolicStatus tells a factorizer whether the pattern changed since the
// last factorization. Several factorizers may share one matrix, so each
// one asks through StatusSince with the generation it last saw.
type SymbolicStatus int

const (
	NewSymbolic SymbolicStatus = iota
	SameSymbolic
)

// CompressedMatrix accumulates (row, col, value) contributions into a
// symbolic pattern and exposes compressed pointer/index/value arrays after
// Finalize. Values are stored by slot; once compressed a slot is also the
// position in the compressed arrays.
type CompressedMatrix struct {
	size      int
	orient    Orientation
	isComplex bool
	logger    *slog.Logger

	pattern []map[int]int // outer -> inner -> slot
	nslots  int
	real    []float64
	imag    []float64

	compressed bool
	status     SymbolicStatus
	generation uint64
	outOfBand  int

	ptr []int
	idx []int
}

func New(size int, orient Orientation, isComplex bool, logger *slog.Logger) *CompressedMatrix {
	if size <= 0 {
		panic(fmt.Sprintf("matrix: invalid size %d", size))
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &CompressedMatrix{
		size:      size,
		orient:    orient,
		isComplex: isComplex,
		logger:    logger.With(slog.String("component", "matrix")),
		pattern:   make([]map[int]int, size),
		status:    NewSymbolic,
	}
	for i := range m.pattern {
		m.pattern[i] = make(map[int]int)
	}
	return m
}

func (m *CompressedMatrix) Size() int                  { return m.size }
func (m *CompressedMatrix) Orientation() Orientation   { return m.orient }
func (m *CompressedMatrix) IsComplex() bool            { return m.isComplex }
func (m *CompressedMatrix) IsCompressed() bool         { return m.compressed }
func (m *CompressedMatrix) Status() SymbolicStatus     { return m.status }
func (m *CompressedMatrix) OutOfPatternCount() int     { return m.outOfBand }
func (m *CompressedMatrix) NNZ() int                   { return m.nslots }
func (m *CompressedMatrix) SetStatus(s SymbolicStatus) { m.status = s }

// Generation counts pattern changes. It grows whenever a new slot is added
// and never repeats for the same matrix.
func (m *CompressedMatrix) Generation() uint64 { return m.generation }

// StatusSince reports NewSymbolic when the pattern changed after gen was
// observed.
func (m *CompressedMatrix) StatusSince(gen uint64) SymbolicStatus {
	if gen != m.generation {
		return NewSymbolic
	}
	return SameSymbolic
}

func (m *CompressedMatrix) key(row, col int) (int, int) {
	if row < 0 || row >= m.size || col < 0 || col >= m.size {
		panic(fmt.Sprintf("matrix: entry (%d,%d) outside %dx%d", row, col, m.size, m.size))
	}
	if m.orient == RowMajor {
		return row, col
	}
	return col, row
}

func (m *CompressedMatrix) slot(row, col int) int {
	outer, inner := m.key(row, col)
	if s, ok := m.pattern[outer][inner]; ok {
		return s
	}

	if m.compressed {
		m.outOfBand++
		m.compressed = false
		m.logger.Warn("entry outside compressed pattern, recompressing",
			slog.Int("row", row),
			slog.Int("col", col),
			slog.Int("nnz", m.nslots),
		)
	}
	m.status = NewSymbolic
	m.generation++

	s := m.nslots
	m.pattern[outer][inner] = s
	m.nslots++
	m.real = append(m.real, 0)
	m.imag = append(m.imag, 0)
	return s
}

// AddEntry accumulates into the real part. A zero value is ignored.
func (m *CompressedMatrix) AddEntry(row, col int, value float64) {
	if value == 0 {
		return
	}
	m.real[m.slot(row, col)] += value
}

// AddImagEntry accumulates into the imaginary part. A zero value is ignored.
func (m *CompressedMatrix) AddImagEntry(row, col int, value float64) {
	if value == 0 {
		return
	}
	m.imag[m.slot(row, col)] += value
}

func (m *CompressedMatrix) AddComplexEntry(row, col int, value complex128) {
	m.AddEntry(row, col, real(value))
	m.AddImagEntry(row, col, imag(value))
}

// ClearMatrix zeroes values, keeping the pattern and compressed state.
func (m *CompressedMatrix) ClearMatrix() {
	for i := range m.real {
		m.real[i] = 0
		m.imag[i] = 0
	}
	m.outOfBand = 0
}

// Finalize builds the compressed arrays sorted by inner index.
func (m *CompressedMatrix) Finalize() {
	if m.nslots == 0 {
		panic("matrix: finalize called on an empty pattern")
	}
	if m.compressed {
		return
	}

	ptr := make([]int, m.size+1)
	idx := make([]int, 0, m.nslots)
	re := make([]float64, m.nslots)
	im := make([]float64, m.nslots)

	inner := make([]int, 0)
	for outer, slots := range m.pattern {
		inner = inner[:0]
		for i := range slots {
			inner = append(inner, i)
		}
		sort.Ints(inner)

		for _, i := range inner {
			old := slots[i]
			pos := len(idx)
			re[pos] = m.real[old]
			im[pos] = m.imag[old]
			slots[i] = pos
			idx = append(idx, i)
		}
		ptr[outer+1] = len(idx)
	}

	m.ptr, m.idx = ptr, idx
	m.real, m.imag = re, im
	m.compressed = true
}

func (m *CompressedMatrix) mustCompressed() {
	if !m.compressed {
		panic("matrix: compressed arrays requested before Finalize")
	}
}

// Pointers returns the outer pointer array of length Size()+1.
func (m *CompressedMatrix) Pointers() []int {
	m.mustCompressed()
	return m.ptr
}

// Indices returns the inner index array.
func (m *CompressedMatrix) Indices() []int {
	m.mustCompressed()
	return m.idx
}

func (m *CompressedMatrix) Real() []float64 {
	m.mustCompressed()
	return m.real
}

func (m *CompressedMatrix) Imag() []float64 {
	m.mustCompressed()
	return m.imag
}

// Each visits every stored entry in compressed order.
func (m *CompressedMatrix) Each(fn func(pos, row, col int, re, im float64)) {
	m.mustCompressed()
	for outer := 0; outer < m.size; outer++ {
		for p := m.ptr[outer]; p < m.ptr[outer+1]; p++ {
			row, col := m.idx[p], outer
			if m.orient == RowMajor {
				row, col = outer, m.idx[p]
			}
			fn(p, row, col, m.real[p], m.imag[p])
		}
	}
}

// Value returns the accumulated real and imaginary parts at (row, col).
func (m *CompressedMatrix) Value(row, col int) (float64, float64) {
	outer, inner := m.key(row, col)
	s, ok := m.pattern[outer][inner]
	if !ok {
		return 0, 0
	}
	return m.real[s], m.imag[s]
}

// Multiply computes y = A x.
func (m *CompressedMatrix) Multiply(x, y []float64) {
	m.multiply(x, y, false)
}

// TransposeMultiply computes y = A^T x.
func (m *CompressedMatrix) TransposeMultiply(x, y []float64) {
	m.multiply(x, y, true)
}

func (m *CompressedMatrix) multiply(x, y []float64, transpose bool) {
	m.mustCompressed()
	for i := range y[:m.size] {
		y[i] = 0
	}
	// Row-major storage read as its transpose is a column-scaled product.
	scatter := (m.orient == ColumnMajor) != transpose
	for outer := 0; outer < m.size; outer++ {
		if scatter {
			xo := x[outer]
			if xo == 0 {
				continue
			}
			for p := m.ptr[outer]; p < m.ptr[outer+1]; p++ {
				y[m.idx[p]] += m.real[p] * xo
			}
			continue
		}
		var sum float64
		for p := m.ptr[outer]; p < m.ptr[outer+1]; p++ {
			sum += m.real[p] * x[m.idx[p]]
		}
		y[outer] = sum
	}
}

// MultiplyComplex computes y = A x, or y = A^T x when transpose is set.
// The transpose is not conjugated.
func (m *CompressedMatrix) MultiplyComplex(x, y []complex128, transpose bool) {
	m.mustCompressed()
	for i := range y[:m.size] {
		y[i] = 0
	}
	scatter := (m.orient == ColumnMajor) != transpose
	for outer := 0; outer < m.size; outer++ {
		for p := m.ptr[outer]; p < m.ptr[outer+1]; p++ {
			a := complex(m.real[p], m.imag[p])
			if scatter {
				y[m.idx[p]] += a * x[outer]
			} else {
				y[outer] += a * x[m.idx[p]]
			}
		}
	}
}
