// Package solver solves the linearized Newton system, either directly with
// a factorization or iteratively with restarted GMRES.
package solver

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/edp1096/toy-devsim/pkg/matrix"
	"github.com/edp1096/toy-devsim/pkg/precond"
)

var (
	ErrUnsupported  = errors.New("solver: unsupported")
	ErrNotConverged = errors.New("solver: iterative solve did not converge")
	ErrUnknownKind  = errors.New("solver: unknown linear solver")
)

type Kind int

const (
	Direct Kind = iota
	Iterative
)

func (k Kind) String() string {
	if k == Iterative {
		return "iterative"
	}
	return "direct"
}

func ParseKind(s string) (Kind, error) {
	switch s {
	case "direct", "":
		return Direct, nil
	case "iterative", "gmres":
		return Iterative, nil
	}
	return Direct, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Stats describes the last solve.
type Stats struct {
	Iterations int
	Residual   float64
}

type Options struct {
	Restart       int
	MaxIterations int
	Tolerance     float64
	Logger        *slog.Logger
}

func DefaultOptions() Options {
	return Options{Restart: 30, MaxIterations: 100, Tolerance: 1e-8}
}

type LinearSolver interface {
	Solve(m *matrix.CompressedMatrix, p precond.Preconditioner, x, b []float64) error
	ACSolve(m *matrix.CompressedMatrix, p precond.Preconditioner, x, b []complex128) error
	// NoiseSolve solves the transposed system.
	NoiseSolve(m *matrix.CompressedMatrix, p precond.Preconditioner, x, b []complex128) error
	Kind() Kind
	Stats() Stats
}

func New(kind Kind, opts Options) (LinearSolver, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Logger = opts.Logger.With(slog.String("component", "solver"))

	switch kind {
	case Direct:
		return &DirectSolver{logger: opts.Logger}, nil
	case Iterative:
		if opts.Restart <= 0 || opts.MaxIterations <= 0 || !(opts.Tolerance > 0) {
			return nil, fmt.Errorf("solver: invalid GMRES options restart=%d max=%d tol=%g",
				opts.Restart, opts.MaxIterations, opts.Tolerance)
		}
		return &GMRES{opts: opts, logger: opts.Logger}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(kind))
}

// Preconditioner builds the factorizer a solver of kind needs: the direct
// back-end itself, or the block preconditioner wrapping it.
func Preconditioner(kind Kind, direct precond.Kind, opts precond.Options) (precond.Preconditioner, error) {
	if kind == Iterative {
		opts.Nested = direct
		return precond.New(precond.Block, opts)
	}
	return precond.New(direct, opts)
}
