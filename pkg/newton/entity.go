package newton

import (
	"github.com/edp1096/toy-devsim/pkg/precond"
	"github.com/edp1096/toy-devsim/pkg/solution"
)

// Entity is a device or the circuit as seen by the driver.
type Entity interface {
	Name() string
	// NumberEquations assigns rows starting at base and returns the count.
	NumberEquations(base int) int
	// Equations returns live views of the entity's unknowns.
	Equations() []solution.Equation
	Backup(suffix string)
	Restore(suffix string)
	SaveComplex(realName, imagName string, x []complex128)
}

// Circuit is the lumped-element entity. It is numbered after all devices.
type Circuit interface {
	Entity
	// Row returns the global row of a circuit node.
	Row(node string) (int, bool)
}

// Span records the rows owned by one entity.
type Span struct {
	Name  string
	Base  int
	Count int
	Min   int
	Max   int
}

// Layout is the equation numbering of one solve: devices first, circuit
// last.
type Layout struct {
	Spans []Span
	Size  int
}

func (d *Driver) number() Layout {
	var l Layout
	base := 0
	for _, e := range d.entities() {
		n := e.NumberEquations(base)
		s := Span{Name: e.Name(), Base: base, Count: n, Min: -1, Max: -1}
		if n > 0 {
			s.Min, s.Max = base, base+n-1
		}
		l.Spans = append(l.Spans, s)
		base += n
	}
	l.Size = base
	return l
}

// blocks returns one range per device equation. Circuit rows belong to no
// block.
func (d *Driver) blocks() []precond.Range {
	var out []precond.Range
	for _, e := range d.devices {
		for _, eq := range e.Equations() {
			lo, hi := eq.Span()
			if lo < 0 {
				continue
			}
			out = append(out, precond.Range{Begin: lo, End: hi + 1})
		}
	}
	return out
}

func (d *Driver) entities() []Entity {
	out := append([]Entity(nil), d.devices...)
	if d.circuit != nil {
		out = append(out, d.circuit)
	}
	return out
}
