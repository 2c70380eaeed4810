// Package circuit is the lumped-element collaborator of the solver core.
// It keeps named nodes and branch currents, assembles modified nodal
// residuals with local numbering, and stores its own solutions.
package circuit

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/edp1096/toy-devsim/pkg/assembly"
	"github.com/edp1096/toy-devsim/pkg/solution"
)

var (
	ErrDuplicateElement = errors.New("circuit: duplicate element")
	ErrInvalidElement   = errors.New("circuit: invalid element")
	ErrUnknownNode      = errors.New("circuit: unknown node")
	ErrUnknownElement   = errors.New("circuit: unknown element")
)

func isGround(node string) bool {
	return node == "0" || strings.EqualFold(node, "gnd")
}

type Circuit struct {
	name   string
	logger *slog.Logger

	nodeMap   map[string]int
	nodeNames []string
	branchMap map[string]int
	elements  []Element
	byName    map[string]Element
	policies  map[string]solution.Policy
	unknowns  map[string]int
	dirty     bool

	store *solution.Store
	base  int

	gmin       float64
	stepGmin   float64
	temp       float64
	nonlinears map[int]bool
}

func New(name string, logger *slog.Logger) *Circuit {
	if logger == nil {
		logger = slog.Default()
	}
	return &Circuit{
		name:       name,
		logger:     logger.With(slog.String("component", "circuit")),
		nodeMap:    make(map[string]int),
		branchMap:  make(map[string]int),
		byName:     make(map[string]Element),
		policies:   make(map[string]solution.Policy),
		nonlinears: make(map[int]bool),
		store:      solution.NewStore(0),
		gmin:       1e-12,
		temp:       300.15,
	}
}

func (c *Circuit) Name() string { return c.name }

// Add registers an element and its nodes.
func (c *Circuit) Add(e Element) error {
	name := e.GetName()
	if _, ok := c.byName[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateElement, name)
	}
	if m, ok := e.(*Mutual); ok {
		if err := m.resolve(c.byName); err != nil {
			return err
		}
		c.elements = append(c.elements, e)
		c.byName[name] = e
		return nil
	}
	if len(e.GetNodeNames()) != 2 {
		return fmt.Errorf("%w: %s requires exactly 2 nodes", ErrInvalidElement, name)
	}
	if e.GetType() == "R" && e.GetValue() == 0 {
		return fmt.Errorf("%w: %s has zero resistance", ErrInvalidElement, name)
	}

	for _, n := range e.GetNodeNames() {
		if isGround(n) {
			continue
		}
		if _, ok := c.nodeMap[n]; !ok {
			c.nodeMap[n] = len(c.nodeNames)
			c.nodeNames = append(c.nodeNames, n)
		}
	}
	c.elements = append(c.elements, e)
	c.byName[name] = e
	c.dirty = true
	return nil
}

func (c *Circuit) Element(name string) (Element, bool) {
	e, ok := c.byName[name]
	return e, ok
}

func (c *Circuit) Elements() []Element { return c.elements }
func (c *Circuit) Nodes() []string     { return c.nodeNames }

// Size is the number of unknowns: nodes, then branch currents.
func (c *Circuit) Size() int {
	c.index()
	return len(c.nodeNames) + len(c.branchMap)
}

func (c *Circuit) SetGmin(g float64)        { c.gmin = g }
func (c *Circuit) SetTemperature(t float64) { c.temp = t }

// SetStepGmin adds a conductance from every node to ground in DC loads.
// Operating point gmin stepping lowers it to zero.
func (c *Circuit) SetStepGmin(g float64) { c.stepGmin = g }

// SetPolicy overrides the damping policy of a node.
func (c *Circuit) SetPolicy(node string, p solution.Policy) error {
	if _, ok := c.nodeMap[node]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, node)
	}
	c.policies[node] = p
	return nil
}

// index assigns local indices: nodes in order of appearance, then one
// branch per V and L element.
func (c *Circuit) index() {
	if !c.dirty {
		return
	}
	old, oldIdx := c.store, c.unknowns

	clear(c.branchMap)
	clear(c.nonlinears)
	next := len(c.nodeNames)
	for _, e := range c.elements {
		nodes := []int{-1, -1}
		for k, n := range e.GetNodeNames() {
			if !isGround(n) {
				nodes[k] = c.nodeMap[n]
			}
		}
		e.SetNodes(nodes)

		if b, ok := e.(BranchElement); ok {
			b.SetBranchIndex(next)
			c.branchMap[e.GetName()] = next
			next++
		}
		if nl, ok := e.(NonLinear); ok && nl.NonLinear() {
			for _, n := range nodes {
				if n >= 0 {
					c.nonlinears[n] = true
				}
			}
		}
	}
	c.dirty = false
	c.unknowns = c.unknownIndex()

	c.store = solution.NewStore(next)
	if prev, ok := old.Lookup(solution.Current); ok {
		cur := c.store.Get(solution.Current)
		for name, k := range c.unknowns {
			if j, ok := oldIdx[name]; ok {
				cur[k] = prev[j]
			}
		}
	}
}

func (c *Circuit) unknownIndex() map[string]int {
	out := make(map[string]int, len(c.nodeMap)+len(c.branchMap))
	for n, k := range c.nodeMap {
		out["V("+n+")"] = k
	}
	for b, k := range c.branchMap {
		out["I("+b+")"] = k
	}
	return out
}

// NumberEquations places the circuit unknowns at base.
func (c *Circuit) NumberEquations(base int) int {
	c.index()
	c.base = base
	return c.store.Size()
}

func (c *Circuit) Offset() int { return c.base }

// Row returns the global row of a node after numbering.
func (c *Circuit) Row(node string) (int, bool) {
	c.index()
	k, ok := c.nodeMap[node]
	if !ok {
		return -1, false
	}
	return c.base + k, true
}

// Equations returns one view per unknown so each node carries its own
// damping policy.
func (c *Circuit) Equations() []solution.Equation {
	c.index()
	x := c.store.Get(solution.Current)
	eqs := make([]solution.Equation, 0, len(x))
	for k, n := range c.nodeNames {
		p, ok := c.policies[n]
		if !ok && c.nonlinears[k] {
			p = solution.LogDamp
		}
		eqs = append(eqs, solution.Equation{Name: "V(" + n + ")", Rows: []int{c.base + k}, Values: x[k : k+1], Policy: p})
	}
	for _, e := range c.elements {
		if b, ok := e.(BranchElement); ok {
			k := b.BranchIndex()
			eqs = append(eqs, solution.Equation{Name: "I(" + e.GetName() + ")", Rows: []int{c.base + k}, Values: x[k : k+1]})
		}
	}
	return eqs
}

func (c *Circuit) Backup(suffix string)  { c.store.Backup(suffix) }
func (c *Circuit) Restore(suffix string) { c.store.Restore(suffix) }

func (c *Circuit) SaveComplex(realName, imagName string, x []complex128) {
	re, im := c.store.Get(realName), c.store.Get(imagName)
	for k := range re {
		re[k] = real(x[c.base+k])
		im[k] = imag(x[c.base+k])
	}
}

func (c *Circuit) Store() *solution.Store {
	c.index()
	return c.store
}

func (c *Circuit) Assemble(l *assembly.Loader) error {
	if l.What() == assembly.PermutationsOnly {
		return nil
	}
	c.index()
	st := &state{
		x:    c.store.Get(solution.Current),
		time: l.Time(),
		mode: l.Mode(),
		gmin: c.gmin,
		temp: c.temp,
	}
	s := stamp{l}
	for _, e := range c.elements {
		e.load(s, st)
	}
	if st.mode == assembly.DC && c.stepGmin > 0 {
		for k := range c.nodeNames {
			s.rhs(k, c.stepGmin*st.x[k])
			s.mat(k, k, c.stepGmin)
		}
	}
	return nil
}

func (c *Circuit) AssembleAC(l *assembly.Loader) error {
	c.index()
	s := stamp{l}
	for _, e := range c.elements {
		if ac, ok := e.(ACElement); ok {
			ac.loadAC(s)
		}
	}
	return nil
}

// Voltage returns a node voltage from the named solution; ground is 0.
func (c *Circuit) Voltage(name, node string) (float64, error) {
	if isGround(node) {
		return 0, nil
	}
	c.index()
	k, ok := c.nodeMap[node]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownNode, node)
	}
	return c.store.Get(name)[k], nil
}

// SetVoltage sets the starting value of a node.
func (c *Circuit) SetVoltage(node string, v float64) error {
	c.index()
	k, ok := c.nodeMap[node]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, node)
	}
	c.store.Get(solution.Current)[k] = v
	return nil
}

// Solution returns node voltages, source and inductor currents and
// resistor currents of the current solution.
func (c *Circuit) Solution() map[string]float64 {
	c.index()
	x := c.store.Get(solution.Current)
	out := make(map[string]float64)
	for n, k := range c.nodeMap {
		out[fmt.Sprintf("V(%s)", n)] = x[k]
	}
	for _, e := range c.elements {
		switch el := e.(type) {
		case *VoltageSource:
			out[fmt.Sprintf("I(%s)", el.Name)] = -x[el.branchIdx]
		case *Inductor:
			out[fmt.Sprintf("I(%s)", el.Name)] = x[el.branchIdx]
		case *Resistor:
			out[fmt.Sprintf("I(%s)", el.Name)] = el.Current(x, c.temp)
		}
	}
	return out
}

// ComplexSolution returns node values of a pair of stored real and
// imaginary solutions, such as the AC or noise results.
func (c *Circuit) ComplexSolution(realName, imagName string) map[string]complex128 {
	c.index()
	re, im := c.store.Get(realName), c.store.Get(imagName)
	out := make(map[string]complex128)
	for n, k := range c.nodeMap {
		out[fmt.Sprintf("V(%s)", n)] = complex(re[k], im[k])
	}
	for b, k := range c.branchMap {
		out[fmt.Sprintf("I(%s)", b)] = complex(re[k], im[k])
	}
	return out
}

// Sources returns the independent sources by name.
func (c *Circuit) Sources() map[string]Source {
	out := make(map[string]Source)
	for _, e := range c.elements {
		if s, ok := e.(Source); ok {
			out[e.GetName()] = s
		}
	}
	return out
}

// Breakpoints collects the waveform corners of all sources below stop.
func (c *Circuit) Breakpoints(stop float64) []float64 {
	var out []float64
	for _, e := range c.elements {
		switch el := e.(type) {
		case *VoltageSource:
			out = append(out, el.Waveform.Breakpoints(stop)...)
		case *CurrentSource:
			out = append(out, el.Waveform.Breakpoints(stop)...)
		}
	}
	return out
}
