package precond

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/edp1096/sparse"

	"github.com/edp1096/toy-devsim/internal/fpe"
	"github.com/edp1096/toy-devsim/pkg/matrix"
)

// nativeLU wraps the Markowitz sparse LU. Element pointers are cached per
// compressed position when the pattern is new; they stay valid across
// reordering, so a same-pattern refactor only reloads values.
type nativeLU struct {
	logger *slog.Logger

	matrix    *sparse.Matrix
	size      int
	isComplex bool
	elements  []*sparse.Element

	// pattern the elements were mapped from
	source     *matrix.CompressedMatrix
	generation uint64

	rhs  []float64 // 1-based
	irhs []float64

	factored   bool
	transposed bool
	err        error
}

func newNativeLU(logger *slog.Logger) *nativeLU {
	return &nativeLU{logger: logger}
}

func (n *nativeLU) Name() string                    { return Native.String() }
func (n *nativeLU) Orientation() matrix.Orientation { return matrix.RowMajor }
func (n *nativeLU) SetTransposed(t bool)            { n.transposed = t }
func (n *nativeLU) Err() error                      { return n.err }

func (n *nativeLU) setup(m *matrix.CompressedMatrix) error {
	if n.matrix != nil {
		n.matrix.Destroy()
		n.matrix = nil
	}

	config := &sparse.Configuration{
		Real:                    true,
		Complex:                 m.IsComplex(),
		SeparatedComplexVectors: true,
		Expandable:              false,
		Translate:               false,
		ModifiedNodal:           true,
		TiesMultiplier:          5,
		PrinterWidth:            140,
		Annotate:                0,
	}

	mat, err := sparse.Create(int64(m.Size()), config)
	if err != nil {
		return fmt.Errorf("creating sparse matrix: %v", err)
	}

	n.matrix = mat
	n.size = m.Size()
	n.isComplex = m.IsComplex()
	n.elements = make([]*sparse.Element, m.NNZ())
	n.rhs = make([]float64, n.size+1)
	n.irhs = make([]float64, n.size+1)

	var missing error
	m.Each(func(pos, row, col int, _, _ float64) {
		e := mat.GetElement(int64(row+1), int64(col+1))
		if e == nil && missing == nil {
			missing = fmt.Errorf("no element for (%d,%d)", row, col)
		}
		n.elements[pos] = e
	})
	return missing
}

func (n *nativeLU) load(m *matrix.CompressedMatrix) {
	n.matrix.Clear()
	re, im := m.Real(), m.Imag()
	for pos, e := range n.elements {
		e.Real += re[pos]
		if n.isComplex {
			e.Imag += im[pos]
		}
	}
}

func (n *nativeLU) fail(err error) bool {
	n.factored = false
	n.err = factorError(n.Name(), err)
	n.logger.Debug("factorization failed", slog.String("error", err.Error()))
	return false
}

func (n *nativeLU) LUFactor(m *matrix.CompressedMatrix) bool {
	n.factored = false
	n.err = nil

	rebuilt := false
	if n.matrix == nil || n.source != m || m.StatusSince(n.generation) == matrix.NewSymbolic || m.Size() != n.size || m.IsComplex() != n.isComplex {
		n.source = nil
		if err := n.setup(m); err != nil {
			return n.fail(err)
		}
		n.source, n.generation = m, m.Generation()
		rebuilt = true
	}

	n.load(m)
	err := n.matrix.Factor()
	if err != nil && !rebuilt {
		// Pivots chosen for the previous values no longer work.
		n.logger.Warn("same-pattern refactor failed, reordering", slog.String("error", err.Error()))
		n.load(m)
		n.matrix.NeedsOrdering = true
		err = n.matrix.Factor()
	}
	if err != nil {
		return n.fail(err)
	}

	for i := 1; i <= n.size; i++ {
		d := n.matrix.Diags[i]
		if d == nil {
			return n.fail(fmt.Errorf("missing pivot at step %d", i))
		}
		if math.IsNaN(d.Real) || math.IsInf(d.Real, 0) || math.IsNaN(d.Imag) || math.IsInf(d.Imag, 0) {
			return n.fail(&fpe.Error{Phase: fpe.Factor, Index: i - 1, Value: fmt.Sprint(d.Real)})
		}
	}

	m.SetStatus(matrix.SameSymbolic)
	n.factored = true
	return true
}

func (n *nativeLU) LUSolve(x, b []float64) error {
	if !n.factored {
		return ErrNotFactored
	}
	if n.isComplex {
		return errors.New("precond: real solve on a complex factorization")
	}

	copy(n.rhs[1:], b[:n.size])

	var sol []float64
	var err error
	if n.transposed {
		sol, err = n.matrix.SolveTransposed(n.rhs)
	} else {
		sol, err = n.matrix.Solve(n.rhs)
	}
	if err != nil {
		return fmt.Errorf("native solve: %v", err)
	}

	copy(x[:n.size], sol[1:])
	return nil
}

func (n *nativeLU) LUSolveComplex(x, b []complex128) error {
	if !n.factored {
		return ErrNotFactored
	}
	if !n.isComplex {
		return errors.New("precond: complex solve on a real factorization")
	}

	for i := 0; i < n.size; i++ {
		n.rhs[i+1] = real(b[i])
		n.irhs[i+1] = imag(b[i])
	}

	var re, im []float64
	var err error
	if n.transposed {
		re, im, err = n.matrix.SolveComplexTransposed(n.rhs, n.irhs)
	} else {
		re, im, err = n.matrix.SolveComplex(n.rhs, n.irhs)
	}
	if err != nil {
		return fmt.Errorf("native complex solve: %v", err)
	}

	for i := 0; i < n.size; i++ {
		x[i] = complex(re[i+1], im[i+1])
	}
	return nil
}
