// Package fpe detects floating-point exceptions explicitly. Go does not
// trap on NaN or Inf, so every phase that may produce one is bracketed by
// Begin and Check.
package fpe

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
)

var ErrFloatingPoint = errors.New("fpe: floating point exception")

type Phase int

const (
	Idle Phase = iota
	Assemble
	Factor
	Solve
	Update
)

func (p Phase) String() string {
	switch p {
	case Assemble:
		return "assemble"
	case Factor:
		return "factor"
	case Solve:
		return "solve"
	case Update:
		return "update"
	default:
		return "idle"
	}
}

// Error reports the phase and first offending index.
type Error struct {
	Phase Phase
	Index int
	Value string
}

func (e *Error) Error() string {
	return fmt.Sprintf("fpe: %s produced %s at index %d", e.Phase, e.Value, e.Index)
}

func (e *Error) Unwrap() error { return ErrFloatingPoint }

// Guard tracks which phase a detected exception belongs to.
type Guard struct {
	phase Phase
	count int
}

// Begin clears any pending state and enters phase p.
func (g *Guard) Begin(p Phase) {
	g.phase = p
}

// Phase returns the phase entered by the last Begin.
func (g *Guard) Phase() Phase { return g.phase }

// Count returns the number of exceptions detected since construction.
func (g *Guard) Count() int { return g.count }

// Check scans the vectors produced by the current phase and leaves the
// guard idle.
func (g *Guard) Check(vals ...[]float64) error {
	phase := g.phase
	g.phase = Idle
	for _, v := range vals {
		for i, x := range v {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				g.count++
				return &Error{Phase: phase, Index: i, Value: fmt.Sprint(x)}
			}
		}
	}
	return nil
}

func (g *Guard) CheckComplex(vals ...[]complex128) error {
	phase := g.phase
	g.phase = Idle
	for _, v := range vals {
		for i, x := range v {
			if cmplx.IsNaN(x) || cmplx.IsInf(x) {
				g.count++
				return &Error{Phase: phase, Index: i, Value: fmt.Sprint(x)}
			}
		}
	}
	return nil
}
