package analysis

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/edp1096/toy-devsim/pkg/session"
	"github.com/edp1096/toy-devsim/pkg/solution"
)

// Noise computes output and input-referred noise densities with one
// adjoint solve per frequency. The adjoint entry of a node is the transfer
// from a unit current injected there to the output voltage.
type Noise struct {
	BaseAnalysis
	op          *OperatingPoint
	output      string
	source      string
	frequencies []float64
}

func NewNoise(output, source string, fStart, fStop float64, nPoints int, pType string) *Noise {
	return &Noise{
		BaseAnalysis: *NewBaseAnalysis(),
		op:           NewOP(),
		output:       output,
		source:       source,
		frequencies:  FrequencyPoints(fStart, fStop, nPoints, pType),
	}
}

func (n *Noise) Setup(s *session.Session) error {
	n.Session = s
	if s.Circuit() == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSrc, n.source)
	}
	src, ok := s.Circuit().Element(n.source)
	if !ok || (src.GetType() != "V" && src.GetType() != "I") {
		return fmt.Errorf("%w: %s", ErrUnknownSrc, n.source)
	}
	if err := n.op.Setup(s); err != nil {
		return err
	}
	if err := n.op.run(context.Background()); err != nil {
		return fmt.Errorf("operating point analysis error: %w", err)
	}
	return nil
}

func (n *Noise) Execute(ctx context.Context) error {
	if n.Session == nil {
		return ErrNotSetup
	}
	ckt := n.Session.Circuit()
	reName, imName := n.output+"_"+solution.NoiseReal, n.output+"_"+solution.NoiseImag

	for _, freq := range n.frequencies {
		res, err := n.Session.NoiseSolve(ctx, n.output, freq)
		if err != nil {
			return fmt.Errorf("f=%g: %w", freq, err)
		}
		if !res.Converged {
			return fmt.Errorf("f=%g: %w: %s", freq, ErrNotConverged, res.Status)
		}
		adj := ckt.ComplexSolution(reName, imName)

		node := func(name string) complex128 {
			if v, ok := adj["V("+name+")"]; ok {
				return v
			}
			return 0
		}

		var total float64
		for _, ns := range ckt.NoiseSources() {
			g := cmplx.Abs(node(ns.Nodes[0]) - node(ns.Nodes[1]))
			contrib := ns.PSD * g * g
			n.append("ONOISE("+ns.Name+")", math.Sqrt(contrib))
			total += contrib
		}

		gain := n.gain(adj)
		n.append("FREQ", freq)
		n.append("ONOISE", math.Sqrt(total))
		n.append("GAIN", gain)
		inoise := math.Inf(1)
		if gain > 0 {
			inoise = math.Sqrt(total) / gain
		}
		n.append("INOISE", inoise)
	}
	return nil
}

// gain is the magnitude of the transfer from the input source to the
// output. For a voltage source this is the adjoint at its branch row,
// for a current source the adjoint difference across its nodes.
func (n *Noise) gain(adj map[string]complex128) float64 {
	src, _ := n.Session.Circuit().Element(n.source)
	if src.GetType() == "V" {
		return cmplx.Abs(adj["I("+n.source+")"])
	}
	nodes := src.GetNodeNames()
	return cmplx.Abs(adj["V("+nodes[0]+")"] - adj["V("+nodes[1]+")"])
}
