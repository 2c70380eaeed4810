package precond

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/edp1096/toy-devsim/pkg/matrix"
)

// maxCondition marks a factorization as ill-conditioned.
const maxCondition = 1e16

// denseWarnSize is the dense dimension above which a factorization logs
// its memory cost.
const denseWarnSize = 2000

// vendorLU feeds the compressed-column arrays into a dense LAPACK-style
// LU. Complex systems use the real block form [Ar -Ai; Ai Ar].
//
// Storage and work are dense: an n-equation system holds n*n float64
// values, 4*n*n when complex, and factors in O(n^3) regardless of the
// sparsity. Use it for small systems or as a cross-check of the native
// back-end.
type vendorLU struct {
	logger   *slog.Logger
	warnSize int

	size      int
	isComplex bool
	work      *mat.Dense
	lu        *mat.LU

	factored   bool
	transposed bool
	err        error
}

func newVendorLU(logger *slog.Logger) *vendorLU {
	return &vendorLU{logger: logger, warnSize: denseWarnSize}
}

func (v *vendorLU) Name() string                    { return Vendor.String() }
func (v *vendorLU) Orientation() matrix.Orientation { return matrix.ColumnMajor }
func (v *vendorLU) SetTransposed(t bool)            { v.transposed = t }
func (v *vendorLU) Err() error                      { return v.err }

func (v *vendorLU) LUFactor(m *matrix.CompressedMatrix) (ok bool) {
	v.factored = false
	v.err = nil

	// Every failing exit drops the factorization exactly once.
	defer func() {
		if !ok {
			v.lu = nil
			v.logger.Debug("factorization failed", slog.String("error", v.err.Error()))
		}
	}()

	if m.Orientation() != matrix.ColumnMajor {
		v.err = factorError(v.Name(), ErrOrientation)
		return false
	}

	n := m.Size()
	dim := n
	if m.IsComplex() {
		dim = 2 * n
	}
	if v.work == nil || v.size != n || v.isComplex != m.IsComplex() {
		if dim > v.warnSize {
			v.logger.Warn("dense factorization of a large system",
				slog.Int("dimension", dim),
				slog.Int("bytes", dim*dim*8),
			)
		}
		v.work = mat.NewDense(dim, dim, nil)
		v.size = n
		v.isComplex = m.IsComplex()
	} else {
		v.work.Zero()
	}

	ptr, idx, re, im := m.Pointers(), m.Indices(), m.Real(), m.Imag()
	for col := 0; col < n; col++ {
		for p := ptr[col]; p < ptr[col+1]; p++ {
			row := idx[p]
			v.work.Set(row, col, re[p])
			if v.isComplex {
				v.work.Set(row+n, col+n, re[p])
				v.work.Set(row, col+n, -im[p])
				v.work.Set(row+n, col, im[p])
			}
		}
	}

	lu := &mat.LU{}
	lu.Factorize(v.work)
	cond := lu.Cond()
	if math.IsNaN(cond) || math.IsInf(cond, 0) || cond > maxCondition {
		v.err = factorError(v.Name(), fmt.Errorf("condition number %g", cond))
		return false
	}

	v.lu = lu
	m.SetStatus(matrix.SameSymbolic)
	v.factored = true
	return true
}

func (v *vendorLU) solve(rhs []float64) ([]float64, error) {
	b := mat.NewVecDense(len(rhs), rhs)
	var x mat.VecDense
	if err := v.lu.SolveVecTo(&x, v.transposed, b); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("vendor solve: %v", err)
		}
		v.logger.Warn("solution may be inaccurate", slog.Float64("condition", float64(cond)))
	}
	return x.RawVector().Data, nil
}

func (v *vendorLU) LUSolve(x, b []float64) error {
	if !v.factored {
		return ErrNotFactored
	}
	if v.isComplex {
		return errors.New("precond: real solve on a complex factorization")
	}

	rhs := make([]float64, v.size)
	copy(rhs, b)
	sol, err := v.solve(rhs)
	if err != nil {
		return err
	}
	copy(x, sol)
	return nil
}

// LUSolveComplex solves A x = b, or A^T x = b when transposed. The block
// form transposed is the embedding of A^H, so the transposed case solves
// for conj(x) from conj(b).
func (v *vendorLU) LUSolveComplex(x, b []complex128) error {
	if !v.factored {
		return ErrNotFactored
	}
	if !v.isComplex {
		return errors.New("precond: complex solve on a real factorization")
	}

	n := v.size
	sign := 1.0
	if v.transposed {
		sign = -1
	}

	rhs := make([]float64, 2*n)
	for i := 0; i < n; i++ {
		rhs[i] = real(b[i])
		rhs[i+n] = sign * imag(b[i])
	}
	sol, err := v.solve(rhs)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		x[i] = complex(sol[i], sign*sol[i+n])
	}
	return nil
}
