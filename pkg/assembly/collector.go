package assembly

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/edp1096/toy-devsim/pkg/matrix"
)

var (
	ErrUserEquation = errors.New("assembly: malformed user equation")
	ErrRowRange     = errors.New("assembly: row outside equation range")
)

// Assembler emits contributions for the load described by the loader.
type Assembler interface {
	Assemble(l *Loader) error
}

// CircuitAssembler assembles with local node numbers starting at Offset.
type CircuitAssembler interface {
	Assembler
	Offset() int
}

// ACSource emits small-signal excitation as a DC residual.
type ACSource interface {
	AssembleAC(l *Loader) error
}

// UserEquation returns flat lists: rhs as [row, value, ...] and matrix as
// [row, col, value, ...]. Rows are global and not permuted.
type UserEquation func(what WhatToLoad, mode TimeMode) (rhs []float64, mat []float64, err error)

// Load selects the pass and how contributions are scaled.
type Load struct {
	What  WhatToLoad
	Mode  TimeMode
	Time  float64
	Scale float64
	// Imag puts matrix entries into the imaginary part.
	Imag bool
	// Raw stores the residual itself instead of its negation.
	Raw bool
}

type namedEquation struct {
	name string
	fn   UserEquation
}

type Collector struct {
	logger *slog.Logger

	bulk       []Assembler
	contacts   []Assembler
	interfaces []Assembler
	circuit    CircuitAssembler
	user       []namedEquation

	size   int
	perm   PermutationMap
	loader *Loader
}

func NewCollector(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		logger: logger.With(slog.String("component", "assembly")),
		perm:   PermutationMap{},
		loader: newLoader(RHS, DC, 0, nil),
	}
}

func (c *Collector) AddBulk(a Assembler)           { c.bulk = append(c.bulk, a) }
func (c *Collector) AddContact(a Assembler)        { c.contacts = append(c.contacts, a) }
func (c *Collector) AddInterface(a Assembler)      { c.interfaces = append(c.interfaces, a) }
func (c *Collector) SetCircuit(a CircuitAssembler) { c.circuit = a }

func (c *Collector) AddUserEquation(name string, fn UserEquation) {
	c.user = append(c.user, namedEquation{name, fn})
}

func (c *Collector) Permutation() PermutationMap { return c.perm }

// BuildPermutation rebuilds the permutation map for an equation range of
// the given size. Contacts claim rows before interfaces; the first claim
// on a row wins except that elimination overrides a redirect.
func (c *Collector) BuildPermutation(size int) (PermutationMap, error) {
	c.size = size
	perm := PermutationMap{}
	l := newLoader(PermutationsOnly, DC, 0, perm)

	for _, group := range [][]Assembler{c.contacts, c.interfaces} {
		for _, src := range group {
			l.reset(0)
			if err := src.Assemble(l); err != nil {
				return nil, fmt.Errorf("permutation pass: %w", err)
			}
			for _, cl := range l.claims {
				if cl.row < 0 || cl.row >= size || (!cl.entry.Eliminated && (cl.entry.Row < 0 || cl.entry.Row >= size)) {
					return nil, fmt.Errorf("%w: claim %d -> %d of %d", ErrRowRange, cl.row, cl.entry.Row, size)
				}
				prev, ok := perm[cl.row]
				switch {
				case !ok:
					perm[cl.row] = cl.entry
				case cl.entry.Eliminated && !prev.Eliminated:
					perm[cl.row] = cl.entry
				case prev != cl.entry:
					c.logger.Debug("row already claimed", slog.Int("row", cl.row))
				}
			}
		}
	}
	if err := perm.resolve(); err != nil {
		return nil, err
	}

	c.perm = perm
	return perm, nil
}

func (c *Collector) sources() []Assembler {
	out := make([]Assembler, 0, len(c.bulk)+len(c.contacts)+len(c.interfaces))
	out = append(out, c.bulk...)
	out = append(out, c.contacts...)
	out = append(out, c.interfaces...)
	return out
}

// Assemble adds every source's contributions for ld into m and rhs. Either
// target may be nil when the load does not touch it.
func (c *Collector) Assemble(m *matrix.CompressedMatrix, rhs []float64, ld Load) error {
	if ld.What == PermutationsOnly {
		_, err := c.BuildPermutation(c.size)
		return err
	}

	l := c.loader
	l.what, l.mode, l.time, l.perm = ld.What, ld.Mode, ld.Time, c.perm

	for _, src := range c.sources() {
		l.reset(0)
		if err := src.Assemble(l); err != nil {
			return err
		}
		c.flush(l, m, rhs, ld)
	}

	if c.circuit != nil {
		l.reset(c.circuit.Offset())
		if err := c.circuit.Assemble(l); err != nil {
			return fmt.Errorf("circuit: %w", err)
		}
		c.flush(l, m, rhs, ld)
	}

	for _, ue := range c.user {
		l.reset(0)
		if err := c.userEquation(l, ue); err != nil {
			return err
		}
		c.flush(l, m, rhs, ld)
	}
	return nil
}

// AssembleAC adds the small-signal excitation of every ACSource to rhs
// and irhs. irhs may be nil.
func (c *Collector) AssembleAC(rhs, irhs []float64, scale float64) error {
	l := c.loader
	l.what, l.mode, l.time, l.perm = RHS, DC, 0, c.perm
	ld := Load{What: RHS, Scale: scale}

	for _, src := range c.sources() {
		if ac, ok := src.(ACSource); ok {
			l.reset(0)
			if err := ac.AssembleAC(l); err != nil {
				return err
			}
			c.flush(l, nil, rhs, ld)
			c.flushImag(l, irhs, ld)
		}
	}
	if ac, ok := c.circuit.(ACSource); ok {
		l.reset(c.circuit.Offset())
		if err := ac.AssembleAC(l); err != nil {
			return fmt.Errorf("circuit: %w", err)
		}
		c.flush(l, nil, rhs, ld)
		c.flushImag(l, irhs, ld)
	}
	return nil
}

func (c *Collector) flushImag(l *Loader, irhs []float64, ld Load) {
	if irhs == nil {
		return
	}
	for _, r := range l.irhs {
		irhs[r.Row] += ResidualSign * ld.Scale * r.Value
	}
}

func (c *Collector) flush(l *Loader, m *matrix.CompressedMatrix, rhs []float64, ld Load) {
	if m != nil {
		for _, t := range l.matrix {
			if ld.Imag {
				m.AddImagEntry(t.Row, t.Col, ld.Scale*t.Value)
			} else {
				m.AddEntry(t.Row, t.Col, ld.Scale*t.Value)
			}
		}
	}
	if rhs != nil {
		sign := ResidualSign
		if ld.Raw {
			sign = 1
		}
		for _, r := range l.rhs {
			rhs[r.Row] += sign * ld.Scale * r.Value
		}
	}
}

func (c *Collector) userEquation(l *Loader, ue namedEquation) error {
	rhs, mat, err := ue.fn(l.what, l.mode)
	if err != nil {
		return fmt.Errorf("user equation %q: %w", ue.name, err)
	}
	if len(rhs)%2 != 0 || len(mat)%3 != 0 {
		return fmt.Errorf("%w: %q returned %d rhs and %d matrix values", ErrUserEquation, ue.name, len(rhs), len(mat))
	}

	row := func(v float64) (int, error) {
		r := int(v)
		if float64(r) != v || r < 0 || (c.size > 0 && r >= c.size) {
			return 0, fmt.Errorf("%w: %q has row %g", ErrUserEquation, ue.name, v)
		}
		return r, nil
	}

	for i := 0; i < len(rhs); i += 2 {
		r, err := row(rhs[i])
		if err != nil {
			return err
		}
		l.AddRHS(r, rhs[i+1])
	}
	for i := 0; i < len(mat); i += 3 {
		r, err := row(mat[i])
		if err != nil {
			return err
		}
		col, err := row(mat[i+1])
		if err != nil {
			return err
		}
		l.AddMatrix(r, col, mat[i+2])
	}
	return nil
}
