package precond

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/edp1096/toy-devsim/pkg/matrix"
)

type ExternalOp int

const (
	OpFactor ExternalOp = iota
	OpSolve
)

func (o ExternalOp) String() string {
	if o == OpSolve {
		return "solve"
	}
	return "factor"
}

// ExternalRequest carries plain arrays across the callback boundary. The
// matrix is in compressed-column form and is only set for OpFactor.
type ExternalRequest struct {
	Op        ExternalOp
	Size      int
	ColPtr    []int
	RowIdx    []int
	Real      []float64
	Imag      []float64
	RHS       []float64
	RHSImag   []float64
	Complex   bool
	Transpose bool
}

type ExternalResponse struct {
	OK      bool
	Message string
	X       []float64
	XImag   []float64
}

// ExternalSolver is a user supplied factorizer. It must keep its own
// factorization between an OpFactor and subsequent OpSolve requests.
type ExternalSolver func(ExternalRequest) ExternalResponse

type externalLU struct {
	logger   *slog.Logger
	callback ExternalSolver

	size      int
	isComplex bool

	factored   bool
	transposed bool
	err        error
}

func newExternalLU(callback ExternalSolver, logger *slog.Logger) *externalLU {
	return &externalLU{callback: callback, logger: logger}
}

func (e *externalLU) Name() string                    { return External.String() }
func (e *externalLU) Orientation() matrix.Orientation { return matrix.ColumnMajor }
func (e *externalLU) SetTransposed(t bool)            { e.transposed = t }
func (e *externalLU) Err() error                      { return e.err }

func (e *externalLU) LUFactor(m *matrix.CompressedMatrix) bool {
	e.factored = false
	e.err = nil

	if m.Orientation() != matrix.ColumnMajor {
		e.err = factorError(e.Name(), ErrOrientation)
		return false
	}

	req := ExternalRequest{
		Op:      OpFactor,
		Size:    m.Size(),
		ColPtr:  append([]int(nil), m.Pointers()...),
		RowIdx:  append([]int(nil), m.Indices()...),
		Real:    append([]float64(nil), m.Real()...),
		Complex: m.IsComplex(),
	}
	if m.IsComplex() {
		req.Imag = append([]float64(nil), m.Imag()...)
	}

	resp := e.callback(req)
	if !resp.OK {
		e.err = factorError(e.Name(), errors.New(resp.Message))
		e.logger.Debug("external factorization failed", slog.String("message", resp.Message))
		return false
	}
	if resp.Message != "" {
		e.logger.Info("external solver", slog.String("message", resp.Message))
	}

	e.size = m.Size()
	e.isComplex = m.IsComplex()
	e.factored = true
	m.SetStatus(matrix.SameSymbolic)
	return true
}

func (e *externalLU) call(req ExternalRequest) (ExternalResponse, error) {
	req.Op = OpSolve
	req.Size = e.size
	req.Complex = e.isComplex
	req.Transpose = e.transposed

	resp := e.callback(req)
	if !resp.OK {
		return resp, fmt.Errorf("external solve: %s", resp.Message)
	}
	if len(resp.X) != e.size || (e.isComplex && len(resp.XImag) != e.size) {
		return resp, fmt.Errorf("external solve: returned %d values, want %d", len(resp.X), e.size)
	}
	return resp, nil
}

func (e *externalLU) LUSolve(x, b []float64) error {
	if !e.factored {
		return ErrNotFactored
	}
	if e.isComplex {
		return errors.New("precond: real solve on a complex factorization")
	}

	resp, err := e.call(ExternalRequest{RHS: append([]float64(nil), b[:e.size]...)})
	if err != nil {
		return err
	}
	copy(x, resp.X)
	return nil
}

func (e *externalLU) LUSolveComplex(x, b []complex128) error {
	if !e.factored {
		return ErrNotFactored
	}
	if !e.isComplex {
		return errors.New("precond: complex solve on a real factorization")
	}

	re := make([]float64, e.size)
	im := make([]float64, e.size)
	for i := range re {
		re[i], im[i] = real(b[i]), imag(b[i])
	}

	resp, err := e.call(ExternalRequest{RHS: re, RHSImag: im})
	if err != nil {
		return err
	}
	for i := range re {
		x[i] = complex(resp.X[i], resp.XImag[i])
	}
	return nil
}
