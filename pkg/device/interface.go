package device

import (
	"github.com/edp1096/toy-devsim/pkg/assembly"
)

// Interface joins the boundary nodes of two regions. The second region's
// bulk row is redirected onto the first so flux is conserved, and the
// freed row enforces continuity of the variable.
type Interface struct {
	name string
	r0   *Region
	n0   int
	r1   *Region
	n1   int
}

func (i *Interface) Name() string { return i.name }

func (i *Interface) Assemble(l *assembly.Loader) error {
	row0, row1 := i.r0.Row(i.n0), i.r1.Row(i.n1)

	if l.What() == assembly.PermutationsOnly {
		l.Redirect(row1, row0)
		return nil
	}
	if l.Mode() != assembly.DC {
		return nil
	}

	v0, v1 := i.r0.Values()[i.n0], i.r1.Values()[i.n1]
	l.AddRHS(row1, v1-v0)
	l.AddMatrix(row1, row1, 1)
	l.AddMatrix(row1, row0, -1)
	return nil
}
