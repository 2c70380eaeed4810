package device

import (
	"fmt"

	"github.com/edp1096/toy-devsim/pkg/assembly"
	"github.com/edp1096/toy-devsim/pkg/solution"
)

// End selects a boundary node of a region.
type End int

const (
	First End = iota
	Last
)

// CircuitNodes resolves circuit nodes a contact can attach to.
type CircuitNodes interface {
	Row(node string) (int, bool)
	Voltage(name, node string) (float64, error)
}

// Contact fixes the boundary node of a region. A biased contact
// eliminates the bulk row and replaces it with v = bias. A contact on a
// circuit node redirects the bulk row into the node's KCL row and ties the
// boundary potential to the node voltage.
type Contact struct {
	name   string
	region *Region
	node   int
	bias   float64

	circuit     CircuitNodes
	circuitNode string
}

func (c *Contact) Name() string      { return c.name }
func (c *Contact) Region() *Region   { return c.region }
func (c *Contact) Bias() float64     { return c.bias }
func (c *Contact) SetBias(v float64) { c.bias = v }

// CircuitNode returns the attached circuit node, if any.
func (c *Contact) CircuitNode() (string, bool) {
	return c.circuitNode, c.circuit != nil
}

// Current returns the flux leaving the contact into the region.
func (c *Contact) Current() float64 {
	r := c.region
	if c.node == 0 {
		return r.EdgeFlux(0, 1)
	}
	return r.EdgeFlux(r.Nodes-1, r.Nodes-2)
}

func (c *Contact) Assemble(l *assembly.Loader) error {
	row := c.region.Row(c.node)

	if l.What() == assembly.PermutationsOnly {
		if c.circuit == nil {
			l.Eliminate(row)
			return nil
		}
		target, ok := c.circuit.Row(c.circuitNode)
		if !ok {
			// Ground has no row; the contact then acts as a zero bias.
			if _, err := c.circuit.Voltage(solution.Current, c.circuitNode); err != nil {
				return fmt.Errorf("%w: contact %s on %q", ErrUnknownNode, c.name, c.circuitNode)
			}
			l.Eliminate(row)
			return nil
		}
		l.Redirect(row, target)
		return nil
	}
	if l.Mode() != assembly.DC {
		return nil
	}

	v := c.region.Values()[c.node]
	if c.circuit == nil {
		l.AddRHS(row, v-c.bias)
		l.AddMatrix(row, row, 1)
		return nil
	}

	vc, err := c.circuit.Voltage(solution.Current, c.circuitNode)
	if err != nil {
		return err
	}
	l.AddRHS(row, v-vc)
	l.AddMatrix(row, row, 1)
	if target, ok := c.circuit.Row(c.circuitNode); ok {
		l.AddMatrix(row, target, -1)
	}
	return nil
}
