package circuit

import (
	"fmt"
	"math"

	"github.com/edp1096/toy-devsim/pkg/assembly"
)

// Mutual couples the branch equations of two inductors through
// M = k*sqrt(L1*L2). It has no terminals of its own.
type Mutual struct {
	BaseElement
	Inductors [2]string

	ind [2]*Inductor
}

func NewMutual(name, l1, l2 string, k float64) *Mutual {
	return &Mutual{
		BaseElement: BaseElement{Name: name, Value: k},
		Inductors:   [2]string{l1, l2},
	}
}

func (m *Mutual) GetType() string { return "K" }

// Inductance returns M for the resolved pair.
func (m *Mutual) Inductance() float64 {
	return m.Value * math.Sqrt(m.ind[0].Value*m.ind[1].Value)
}

func (m *Mutual) resolve(byName map[string]Element) error {
	if m.Value <= 0 || m.Value > 1 {
		return fmt.Errorf("%w: %s coupling %g outside (0, 1]", ErrInvalidElement, m.Name, m.Value)
	}
	if m.Inductors[0] == m.Inductors[1] {
		return fmt.Errorf("%w: %s couples %s to itself", ErrInvalidElement, m.Name, m.Inductors[0])
	}
	for k, name := range m.Inductors {
		l, ok := byName[name].(*Inductor)
		if !ok {
			return fmt.Errorf("%w: %s references %s, not an inductor", ErrUnknownElement, m.Name, name)
		}
		m.ind[k] = l
	}
	return nil
}

// The flux of each branch gains M times the other branch current.
func (m *Mutual) load(s stamp, st *state) {
	if st.mode != assembly.Time {
		return
	}
	mi := m.Inductance()
	b1, b2 := m.ind[0].branchIdx, m.ind[1].branchIdx
	s.rhs(b1, -mi*st.v(b2))
	s.mat(b1, b2, -mi)
	s.rhs(b2, -mi*st.v(b1))
	s.mat(b2, b1, -mi)
}
