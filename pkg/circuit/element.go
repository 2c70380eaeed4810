package circuit

import (
	"github.com/edp1096/toy-devsim/pkg/assembly"
)

// Element is a lumped two-terminal circuit element. Node indices are local
// to the circuit; ground is -1.
type Element interface {
	GetName() string
	GetType() string
	GetNodeNames() []string
	GetNodes() []int
	GetValue() float64
	SetNodes(nodes []int)
	load(s stamp, st *state)
}

// BranchElement owns an extra current unknown.
type BranchElement interface {
	Element
	BranchIndex() int
	SetBranchIndex(idx int)
}

// ACElement contributes small-signal excitation.
type ACElement interface {
	Element
	loadAC(s stamp)
}

// NonLinear elements ask for log damping on their terminals.
type NonLinear interface {
	Element
	NonLinear() bool
}

// Source is an independent source whose DC value can be swept.
type Source interface {
	Element
	SetValue(value float64)
}

type BaseElement struct {
	Name      string
	Nodes     []int
	Value     float64
	NodeNames []string
}

func (e *BaseElement) GetName() string        { return e.Name }
func (e *BaseElement) GetNodes() []int        { return e.Nodes }
func (e *BaseElement) GetNodeNames() []string { return e.NodeNames }
func (e *BaseElement) GetValue() float64      { return e.Value }
func (e *BaseElement) SetNodes(nodes []int)   { e.Nodes = nodes }

func newBase(name string, nodeNames []string, value float64) BaseElement {
	return BaseElement{
		Name:      name,
		Nodes:     make([]int, len(nodeNames)),
		NodeNames: nodeNames,
		Value:     value,
	}
}

// state is the view an element loads from.
type state struct {
	x    []float64
	time float64
	mode assembly.TimeMode
	gmin float64
	temp float64
}

func (s *state) v(n int) float64 {
	if n < 0 {
		return 0
	}
	return s.x[n]
}

// stamp writes residual entries, skipping ground.
type stamp struct {
	l *assembly.Loader
}

func (s stamp) rhs(n int, v float64) {
	if n >= 0 {
		s.l.AddRHS(n, v)
	}
}

func (s stamp) mat(r, c int, v float64) {
	if r >= 0 && c >= 0 {
		s.l.AddMatrix(r, c, v)
	}
}

// flow adds i leaving node a and entering node b.
func (s stamp) flow(a, b int, i float64) {
	s.rhs(a, i)
	s.rhs(b, -i)
}

func (s stamp) conductance(a, b int, g float64) {
	s.mat(a, a, g)
	s.mat(a, b, -g)
	s.mat(b, a, -g)
	s.mat(b, b, g)
}

// excite adds a phased small-signal residual to row n.
func (s stamp) excite(n int, re, im float64) {
	if n >= 0 {
		s.l.AddRHS(n, re)
		s.l.AddImagRHS(n, im)
	}
}
