package analysis

import (
	"context"
	"fmt"
	"math"

	"github.com/edp1096/toy-devsim/pkg/session"
	"github.com/edp1096/toy-devsim/pkg/solution"
)

type ACAnalysis struct {
	BaseAnalysis
	op          *OperatingPoint
	frequencies []float64
}

func NewAC(fStart, fStop float64, nPoints int, pType string) *ACAnalysis {
	return &ACAnalysis{
		BaseAnalysis: *NewBaseAnalysis(),
		op:           NewOP(),
		frequencies:  FrequencyPoints(fStart, fStop, nPoints, pType),
	}
}

func (ac *ACAnalysis) Setup(s *session.Session) error {
	ac.Session = s
	if err := ac.op.Setup(s); err != nil {
		return err
	}
	if err := ac.op.run(context.Background()); err != nil {
		return fmt.Errorf("operating point analysis error: %w", err)
	}
	return nil
}

func (ac *ACAnalysis) Execute(ctx context.Context) error {
	if ac.Session == nil {
		return ErrNotSetup
	}
	for _, freq := range ac.frequencies {
		res, err := ac.Session.ACSolve(ctx, freq)
		if err != nil {
			return fmt.Errorf("f=%g: %w", freq, err)
		}
		if !res.Converged {
			return fmt.Errorf("f=%g: %w: %s", freq, ErrNotConverged, res.Status)
		}
		ac.StoreACResult(freq, ac.Session.ComplexSolution(solution.ACReal, solution.ACImag))
	}
	return nil
}

// FrequencyPoints returns the sweep frequencies. DEC and OCT take points
// per decade or octave, LIN the total count.
func FrequencyPoints(fStart, fStop float64, nPoints int, pType string) []float64 {
	if nPoints < 1 || fStart <= 0 || fStop < fStart {
		return nil
	}

	var base float64
	switch pType {
	case "DEC": // Decade
		base = 10
	case "OCT": // Octave
		base = 2
	case "LIN": // Linear
		if nPoints == 1 || fStop == fStart {
			return []float64{fStart}
		}
		out := make([]float64, nPoints)
		step := (fStop - fStart) / float64(nPoints-1)
		for i := range out {
			out[i] = fStart + float64(i)*step
		}
		return out
	default:
		return nil
	}

	span := math.Log(fStop/fStart) / math.Log(base)
	n := int(math.Floor(span*float64(nPoints)+1e-9)) + 1
	out := make([]float64, n)
	for i := range out {
		out[i] = fStart * math.Pow(base, float64(i)/float64(nPoints))
	}
	return out
}
