package solver

import (
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/floats"

	"github.com/edp1096/toy-devsim/internal/fpe"
	"github.com/edp1096/toy-devsim/pkg/matrix"
	"github.com/edp1096/toy-devsim/pkg/precond"
)

// DirectSolver factors once and back-substitutes once per call.
type DirectSolver struct {
	logger *slog.Logger
	guard  fpe.Guard
	stats  Stats
}

func (d *DirectSolver) Kind() Kind   { return Direct }
func (d *DirectSolver) Stats() Stats { return d.stats }

// factor reports pivot overflow through the back-end error.
func (d *DirectSolver) factor(m *matrix.CompressedMatrix, p precond.Preconditioner) error {
	if !p.LUFactor(m) {
		return p.Err()
	}
	return nil
}

func (d *DirectSolver) Solve(m *matrix.CompressedMatrix, p precond.Preconditioner, x, b []float64) error {
	d.stats = Stats{}
	if err := d.factor(m, p); err != nil {
		return err
	}

	d.guard.Begin(fpe.Solve)
	if err := p.LUSolve(x, b); err != nil {
		d.guard.Check()
		return fmt.Errorf("direct solve: %w", err)
	}
	if err := d.guard.Check(x); err != nil {
		return err
	}

	r := make([]float64, len(b))
	m.Multiply(x, r)
	floats.Sub(r, b)
	d.stats = Stats{Iterations: 1, Residual: relative(floats.Norm(r, 2), floats.Norm(b, 2))}
	d.logger.Debug("direct solve", slog.String("factorizer", p.Name()), slog.Float64("residual", d.stats.Residual))
	return nil
}

func (d *DirectSolver) complexSolve(m *matrix.CompressedMatrix, p precond.Preconditioner, x, b []complex128, transposed bool) error {
	d.stats = Stats{}
	if err := d.factor(m, p); err != nil {
		return err
	}

	p.SetTransposed(transposed)
	defer p.SetTransposed(false)

	d.guard.Begin(fpe.Solve)
	if err := p.LUSolveComplex(x, b); err != nil {
		d.guard.Check()
		return fmt.Errorf("direct complex solve: %w", err)
	}
	if err := d.guard.CheckComplex(x); err != nil {
		return err
	}

	r := make([]complex128, len(b))
	m.MultiplyComplex(x, r, transposed)
	for i := range r {
		r[i] -= b[i]
	}
	d.stats = Stats{Iterations: 1, Residual: relative(norm(r), norm(b))}
	return nil
}

func (d *DirectSolver) ACSolve(m *matrix.CompressedMatrix, p precond.Preconditioner, x, b []complex128) error {
	return d.complexSolve(m, p, x, b, false)
}

func (d *DirectSolver) NoiseSolve(m *matrix.CompressedMatrix, p precond.Preconditioner, x, b []complex128) error {
	return d.complexSolve(m, p, x, b, true)
}

func relative(r, b float64) float64 {
	if b == 0 {
		return r
	}
	return r / b
}
