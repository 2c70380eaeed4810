package solver

import (
	"fmt"
	"log/slog"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/floats"

	"github.com/edp1096/toy-devsim/internal/fpe"
	"github.com/edp1096/toy-devsim/pkg/matrix"
	"github.com/edp1096/toy-devsim/pkg/precond"
)

type scalar interface {
	float64 | complex128
}

// GMRES is restarted GMRES with left preconditioning, so the residual is
// measured in the preconditioned norm.
type GMRES struct {
	opts   Options
	logger *slog.Logger
	guard  fpe.Guard
	stats  Stats
}

func (g *GMRES) Kind() Kind   { return Iterative }
func (g *GMRES) Stats() Stats { return g.stats }

func (g *GMRES) Solve(m *matrix.CompressedMatrix, p precond.Preconditioner, x, b []float64) error {
	g.stats = Stats{}
	if !p.LUFactor(m) {
		return p.Err()
	}

	n := m.Size()
	tmp := make([]float64, n)
	op := func(dst, src []float64) error {
		m.Multiply(src, tmp)
		return p.LUSolve(dst, tmp)
	}

	pb := make([]float64, n)
	g.guard.Begin(fpe.Solve)
	if err := p.LUSolve(pb, b); err != nil {
		g.guard.Check()
		return fmt.Errorf("preconditioning rhs: %w", err)
	}
	if err := g.guard.Check(pb); err != nil {
		return err
	}

	for i := range x[:n] {
		x[i] = 0
	}
	stats, err := gmres(op, pb, x, g.opts)
	g.stats = stats
	if err == nil {
		g.guard.Begin(fpe.Solve)
		err = g.guard.Check(x)
	}

	g.logger.Debug("gmres",
		slog.Int("iterations", stats.Iterations),
		slog.Float64("residual", stats.Residual),
		slog.String("preconditioner", p.Name()),
	)
	if err != nil {
		g.logger.Warn("gmres failed",
			slog.Int("iterations", stats.Iterations),
			slog.Float64("residual", stats.Residual),
			slog.String("error", err.Error()),
		)
	}
	return err
}

func (g *GMRES) ACSolve(*matrix.CompressedMatrix, precond.Preconditioner, []complex128, []complex128) error {
	g.logger.Error("AC solve is not implemented for the iterative solver")
	return fmt.Errorf("%w: AC with iterative solver", ErrUnsupported)
}

func (g *GMRES) NoiseSolve(*matrix.CompressedMatrix, precond.Preconditioner, []complex128, []complex128) error {
	g.logger.Error("noise solve is not implemented for the iterative solver")
	return fmt.Errorf("%w: noise with iterative solver", ErrUnsupported)
}

// gmres solves op(x) = rhs starting from x.
func gmres[T scalar](op func(dst, src []T) error, rhs, x []T, o Options) (Stats, error) {
	n := len(rhs)
	restart := min(o.Restart, n)

	bnorm := norm(rhs)
	if bnorm == 0 {
		for i := range x {
			x[i] = 0
		}
		return Stats{}, nil
	}

	v := make([][]T, restart+1)
	for i := range v {
		v[i] = make([]T, n)
	}
	h := make([][]T, restart+1)
	for i := range h {
		h[i] = make([]T, restart)
	}
	cs := make([]float64, restart)
	sn := make([]T, restart)
	s := make([]T, restart+1)
	w := make([]T, n)
	y := make([]T, restart)

	var stats Stats
	for stats.Iterations < o.MaxIterations {
		if err := op(w, x); err != nil {
			return stats, err
		}
		for i := range w {
			w[i] = rhs[i] - w[i]
		}
		beta := norm(w)
		stats.Residual = beta / bnorm
		if stats.Residual <= o.Tolerance {
			return stats, nil
		}

		scaleTo(v[0], w, 1/beta)
		for i := range s {
			s[i] = 0
		}
		s[0] = fromReal[T](beta)

		k := 0
		for j := 0; j < restart && stats.Iterations < o.MaxIterations; j++ {
			stats.Iterations++
			if err := op(w, v[j]); err != nil {
				return stats, err
			}

			// Modified Gram-Schmidt.
			for i := 0; i <= j; i++ {
				hij := dot(v[i], w)
				h[i][j] = hij
				for l := range w {
					w[l] -= hij * v[i][l]
				}
			}
			hn := norm(w)
			h[j+1][j] = fromReal[T](hn)
			if hn != 0 {
				scaleTo(v[j+1], w, 1/hn)
			}

			for i := 0; i < j; i++ {
				h[i][j], h[i+1][j] = rotate(cs[i], sn[i], h[i][j], h[i+1][j])
			}
			c, sj, r := givens(h[j][j], h[j+1][j])
			cs[j], sn[j] = c, sj
			h[j][j], h[j+1][j] = r, 0
			s[j], s[j+1] = rotate(c, sj, s[j], 0)

			k = j + 1
			stats.Residual = abs(s[j+1]) / bnorm
			if stats.Residual <= o.Tolerance || hn == 0 {
				break
			}
		}

		// Back substitution on the k x k triangle.
		for i := k - 1; i >= 0; i-- {
			sum := s[i]
			for l := i + 1; l < k; l++ {
				sum -= h[i][l] * y[l]
			}
			if abs(h[i][i]) == 0 {
				return stats, fmt.Errorf("%w: breakdown at column %d", ErrNotConverged, i)
			}
			y[i] = sum / h[i][i]
		}
		for i := 0; i < k; i++ {
			for l := range x {
				x[l] += y[i] * v[i][l]
			}
		}

		if stats.Residual <= o.Tolerance {
			return stats, nil
		}
	}
	return stats, fmt.Errorf("%w: residual %g after %d iterations", ErrNotConverged, stats.Residual, stats.Iterations)
}

// givens returns c, s and r with
//
//	[ c        s ] [a]   [r]
//	[-conj(s)  c ] [b] = [0]
//
// for real and complex arithmetic alike.
func givens[T scalar](a, b T) (float64, T, T) {
	aa, ab := abs(a), abs(b)
	if ab == 0 {
		return 1, 0, a
	}
	if aa == 0 {
		return 0, conj(b) / fromReal[T](ab), fromReal[T](ab)
	}
	rho := math.Hypot(aa, ab)
	phase := a / fromReal[T](aa)
	return aa / rho, phase * conj(b) / fromReal[T](rho), phase * fromReal[T](rho)
}

func rotate[T scalar](c float64, s, a, b T) (T, T) {
	ct := fromReal[T](c)
	return ct*a + s*b, -conj(s)*a + ct*b
}

func conj[T scalar](v T) T {
	if z, ok := any(v).(complex128); ok {
		return any(cmplx.Conj(z)).(T)
	}
	return v
}

func abs[T scalar](v T) float64 {
	switch z := any(v).(type) {
	case float64:
		return math.Abs(z)
	case complex128:
		return cmplx.Abs(z)
	}
	return 0
}

func fromReal[T scalar](f float64) T {
	var zero T
	if _, ok := any(zero).(complex128); ok {
		return any(complex(f, 0)).(T)
	}
	return any(f).(T)
}

func norm[T scalar](v []T) float64 {
	if r, ok := any(v).([]float64); ok {
		return floats.Norm(r, 2)
	}
	var sum float64
	for _, z := range v {
		a := abs(z)
		sum += a * a
	}
	return math.Sqrt(sum)
}

// dot returns sum conj(a_i) b_i.
func dot[T scalar](a, b []T) T {
	if ra, ok := any(a).([]float64); ok {
		return any(floats.Dot(ra, any(b).([]float64))).(T)
	}
	var sum T
	for i := range a {
		sum += conj(a[i]) * b[i]
	}
	return sum
}

func scaleTo[T scalar](dst, src []T, f float64) {
	ft := fromReal[T](f)
	for i := range src {
		dst[i] = src[i] * ft
	}
}
