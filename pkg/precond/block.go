package precond

import (
	"log/slog"
	"math/cmplx"

	"github.com/edp1096/toy-devsim/pkg/matrix"
)

// blockLU drops weak couplings between equation blocks and factors what
// remains with a nested direct factorizer. Rows or columns outside every
// block (contact, interface and circuit coupling) are always kept.
type blockLU struct {
	logger *slog.Logger

	blocks  []Range
	drop    float64
	nested  Preconditioner
	blockOf []int
	diag    []float64

	filtered   *matrix.CompressedMatrix
	source     *matrix.CompressedMatrix
	generation uint64
	dropped    int
	err        error
}

func newBlockLU(blocks []Range, drop float64, nested Preconditioner, logger *slog.Logger) *blockLU {
	return &blockLU{
		logger: logger,
		blocks: append([]Range(nil), blocks...),
		drop:   drop,
		nested: nested,
	}
}

func (b *blockLU) Name() string                    { return Block.String() + "/" + b.nested.Name() }
func (b *blockLU) Orientation() matrix.Orientation { return b.nested.Orientation() }
func (b *blockLU) SetTransposed(t bool)            { b.nested.SetTransposed(t) }
func (b *blockLU) Err() error                      { return b.err }

// Dropped returns the number of entries dropped by the last factorization.
func (b *blockLU) Dropped() int { return b.dropped }

func (b *blockLU) index(size int) {
	if len(b.blockOf) == size {
		return
	}
	b.blockOf = make([]int, size)
	for i := range b.blockOf {
		b.blockOf[i] = -1
	}
	for k, r := range b.blocks {
		for i := max(r.Begin, 0); i < min(r.End, size); i++ {
			b.blockOf[i] = k
		}
	}
	b.diag = make([]float64, size)
}

func (b *blockLU) LUFactor(m *matrix.CompressedMatrix) bool {
	b.err = nil
	n := m.Size()
	b.index(n)

	for i := range b.diag {
		b.diag[i] = 0
	}
	m.Each(func(_, row, col int, re, im float64) {
		if row == col {
			b.diag[row] = cmplx.Abs(complex(re, im))
		}
	})

	if b.filtered == nil || b.source != m || m.StatusSince(b.generation) == matrix.NewSymbolic || b.filtered.Size() != n || b.filtered.IsComplex() != m.IsComplex() {
		b.filtered = matrix.New(n, b.nested.Orientation(), m.IsComplex(), b.logger)
		b.source, b.generation = m, m.Generation()
	} else {
		b.filtered.ClearMatrix()
	}

	b.dropped = 0
	m.Each(func(_, row, col int, re, im float64) {
		br, bc := b.blockOf[row], b.blockOf[col]
		keep := br < 0 || bc < 0 || br == bc || cmplx.Abs(complex(re, im)) >= b.drop*b.diag[row]
		if !keep {
			b.dropped++
			return
		}
		b.filtered.AddEntry(row, col, re)
		b.filtered.AddImagEntry(row, col, im)
	})
	b.filtered.Finalize()
	m.SetStatus(matrix.SameSymbolic)

	if !b.nested.LUFactor(b.filtered) {
		b.err = b.nested.Err()
		return false
	}
	return true
}

func (b *blockLU) LUSolve(x, rhs []float64) error {
	return b.nested.LUSolve(x, rhs)
}

func (b *blockLU) LUSolveComplex(x, rhs []complex128) error {
	return b.nested.LUSolveComplex(x, rhs)
}
