package analysis

import (
	"context"
	"fmt"
	"math"

	"github.com/edp1096/toy-devsim/pkg/circuit"
	"github.com/edp1096/toy-devsim/pkg/session"
)

type DCSweep struct {
	BaseAnalysis
	op         *OperatingPoint
	sourceName string
	sweepVals  []float64
	source     circuit.Source
	origVal    float64
}

func NewDCSweep(source string, start, stop, increment float64) *DCSweep {
	dc := &DCSweep{
		BaseAnalysis: *NewBaseAnalysis(),
		op:           NewOP(),
		sourceName:   source,
	}

	// Rounded count so 0:0.1:1 ends on 1.
	n := int(math.Floor((stop-start)/increment+1e-9)) + 1
	for i := 0; i < n; i++ {
		dc.sweepVals = append(dc.sweepVals, start+float64(i)*increment)
	}
	return dc
}

func (dc *DCSweep) Setup(s *session.Session) error {
	dc.Session = s
	if s.Circuit() == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSrc, dc.sourceName)
	}
	src, ok := s.Circuit().Sources()[dc.sourceName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSrc, dc.sourceName)
	}
	dc.source = src
	dc.origVal = src.GetValue()
	return dc.op.Setup(s)
}

// Execute solves at each sweep value, starting from the previous point.
// The source keeps its original DC value afterwards.
func (dc *DCSweep) Execute(ctx context.Context) error {
	if dc.source == nil {
		return ErrNotSetup
	}
	defer dc.source.SetValue(dc.origVal)

	for _, v := range dc.sweepVals {
		dc.source.SetValue(v)
		if err := dc.op.run(ctx); err != nil {
			return fmt.Errorf("%s=%g: %w", dc.sourceName, v, err)
		}
		dc.StoreResult("SWEEP", v, dc.Session.Solution())
	}
	return nil
}
