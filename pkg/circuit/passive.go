package circuit

import (
	"github.com/edp1096/toy-devsim/internal/consts"
	"github.com/edp1096/toy-devsim/pkg/assembly"
)

type Resistor struct {
	BaseElement
	Tc1  float64
	Tc2  float64
	Tnom float64
}

func NewResistor(name string, nodeNames []string, value float64) *Resistor {
	return &Resistor{
		BaseElement: newBase(name, nodeNames, value),
		Tnom:        consts.REFTEMP,
	}
}

func (r *Resistor) GetType() string { return "R" }

func (r *Resistor) conductance(temp float64) float64 {
	dt := temp - r.Tnom
	return 1.0 / (r.Value * (1.0 + r.Tc1*dt + r.Tc2*dt*dt))
}

// Current returns the current from the first to the second node.
func (r *Resistor) Current(x []float64, temp float64) float64 {
	st := state{x: x}
	return r.conductance(temp) * (st.v(r.Nodes[0]) - st.v(r.Nodes[1]))
}

func (r *Resistor) load(s stamp, st *state) {
	if st.mode != assembly.DC {
		return
	}
	n1, n2 := r.Nodes[0], r.Nodes[1]
	g := r.conductance(st.temp)
	s.flow(n1, n2, g*(st.v(n1)-st.v(n2)))
	s.conductance(n1, n2, g)
}

// Capacitor is open in DC except for a gmin leak across its terminals.
type Capacitor struct {
	BaseElement
}

func NewCapacitor(name string, nodeNames []string, value float64) *Capacitor {
	return &Capacitor{BaseElement: newBase(name, nodeNames, value)}
}

func (c *Capacitor) GetType() string { return "C" }

func (c *Capacitor) load(s stamp, st *state) {
	n1, n2 := c.Nodes[0], c.Nodes[1]
	vd := st.v(n1) - st.v(n2)

	switch st.mode {
	case assembly.DC:
		gmin := max(st.gmin, 1e-12)
		s.flow(n1, n2, gmin*vd)
		s.conductance(n1, n2, gmin)
	case assembly.Time:
		s.flow(n1, n2, c.Value*vd)
		s.conductance(n1, n2, c.Value)
	}
}

// Inductor carries its current as a branch unknown; the branch equation is
// v1 - v2 - d(L*i)/dt = 0.
type Inductor struct {
	BaseElement
	branchIdx int
}

func NewInductor(name string, nodeNames []string, value float64) *Inductor {
	return &Inductor{BaseElement: newBase(name, nodeNames, value), branchIdx: -1}
}

func (l *Inductor) GetType() string { return "L" }

func (l *Inductor) BranchIndex() int       { return l.branchIdx }
func (l *Inductor) SetBranchIndex(idx int) { l.branchIdx = idx }

func (l *Inductor) load(s stamp, st *state) {
	n1, n2 := l.Nodes[0], l.Nodes[1]
	b := l.branchIdx
	i := st.v(b)

	switch st.mode {
	case assembly.DC:
		s.flow(n1, n2, i)
		s.mat(n1, b, 1)
		s.mat(n2, b, -1)
		s.rhs(b, st.v(n1)-st.v(n2))
		s.mat(b, n1, 1)
		s.mat(b, n2, -1)
	case assembly.Time:
		s.rhs(b, -l.Value*i)
		s.mat(b, b, -l.Value)
	}
}
