// Package precond holds the factorization back-ends used by the linear
// solver: direct LU factorizers and the block preconditioner built on top
// of them for the iterative path.
package precond

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/edp1096/toy-devsim/pkg/matrix"
)

var (
	ErrFactorFailed    = errors.New("precond: factorization failed")
	ErrNotFactored     = errors.New("precond: solve requested before a successful factorization")
	ErrUnknownKind     = errors.New("precond: unknown preconditioner")
	ErrMissingCallback = errors.New("precond: external solver selected without a callback")
	ErrOrientation     = errors.New("precond: matrix orientation does not match back-end")
)

type Kind int

const (
	Native Kind = iota
	Vendor
	External
	Block
)

func (k Kind) String() string {
	switch k {
	case Native:
		return "native"
	case Vendor:
		return "vendor"
	case External:
		return "external"
	case Block:
		return "block"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind resolves a direct solver name.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "native", "":
		return Native, nil
	case "vendor", "mkl", "superlu":
		return Vendor, nil
	case "external", "python":
		return External, nil
	case "block":
		return Block, nil
	}
	return Native, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Preconditioner factors a compressed matrix and back-substitutes with the
// last successful factorization.
type Preconditioner interface {
	// LUFactor returns false on singular or ill-conditioned input; the
	// reason is available from Err.
	LUFactor(m *matrix.CompressedMatrix) bool
	LUSolve(x, b []float64) error
	LUSolveComplex(x, b []complex128) error
	// SetTransposed selects solves with the transposed (not conjugated)
	// factorization.
	SetTransposed(transposed bool)
	Orientation() matrix.Orientation
	Err() error
	Name() string
}

// Range is a half-open equation range [Begin, End).
type Range struct {
	Begin int
	End   int
}

type Options struct {
	Logger   *slog.Logger
	Callback ExternalSolver

	// Block preconditioner only.
	Blocks        []Range
	DropTolerance float64
	Nested        Kind
}

// New builds the back-end for kind.
func New(kind Kind, opts Options) (Preconditioner, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "precond"))

	switch kind {
	case Native:
		return newNativeLU(logger), nil
	case Vendor:
		return newVendorLU(logger), nil
	case External:
		if opts.Callback == nil {
			return nil, ErrMissingCallback
		}
		return newExternalLU(opts.Callback, logger), nil
	case Block:
		if opts.Nested == Block {
			return nil, fmt.Errorf("%w: block preconditioner cannot nest itself", ErrUnknownKind)
		}
		nested, err := New(opts.Nested, Options{Logger: opts.Logger, Callback: opts.Callback})
		if err != nil {
			return nil, fmt.Errorf("nested factorizer: %w", err)
		}
		return newBlockLU(opts.Blocks, opts.DropTolerance, nested, logger), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(kind))
}

func factorError(name string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrFactorFailed, name, err)
}
