package circuit

import (
	"math"

	"github.com/edp1096/toy-devsim/internal/consts"
	"github.com/edp1096/toy-devsim/pkg/solution"
)

// NoiseSource is a white current noise generator between two nodes with
// one-sided power spectral density PSD in A^2/Hz.
type NoiseSource struct {
	Name  string
	Nodes [2]string
	PSD   float64
}

// NoiseSources returns resistor thermal noise and diode shot noise at the
// present operating point.
func (c *Circuit) NoiseSources() []NoiseSource {
	c.index()
	x := c.store.Get(solution.Current)
	st := &state{x: x, temp: c.temp}
	kt4 := 4 * consts.BOLTZMANN * c.temp

	var out []NoiseSource
	for _, e := range c.elements {
		switch el := e.(type) {
		case *Resistor:
			nodes := [2]string{el.NodeNames[0], el.NodeNames[1]}
			out = append(out, NoiseSource{Name: el.Name, Nodes: nodes, PSD: kt4 * el.conductance(c.temp)})
		case *Diode:
			nodes := [2]string{el.NodeNames[0], el.NodeNames[1]}
			id, _ := el.current(st.v(el.Nodes[0])-st.v(el.Nodes[1]), c.temp)
			out = append(out, NoiseSource{Name: el.Name, Nodes: nodes, PSD: 2 * consts.CHARGE * math.Abs(id)})
		}
	}
	return out
}
