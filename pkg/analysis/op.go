package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/edp1096/toy-devsim/pkg/newton"
	"github.com/edp1096/toy-devsim/pkg/session"
)

type OperatingPoint struct {
	BaseAnalysis
	GminSteps int
}

func NewOP() *OperatingPoint {
	return &OperatingPoint{
		BaseAnalysis: *NewBaseAnalysis(),
		GminSteps:    10,
	}
}

func (op *OperatingPoint) Setup(s *session.Session) error {
	op.Session = s
	return nil
}

// Execute solves once; when that fails and a circuit is present it
// retries with a ground conductance on every node, stepping it down by a
// decade at a time to zero.
func (op *OperatingPoint) Execute(ctx context.Context) error {
	if op.Session == nil {
		return ErrNotSetup
	}
	if err := op.run(ctx); err != nil {
		return err
	}
	op.storeResults()
	return nil
}

func (op *OperatingPoint) run(ctx context.Context) error {
	_, err := op.solve(ctx, newton.TimeParams{})
	var se *SolveError
	if err == nil || !errors.As(err, &se) || op.Session.Circuit() == nil || op.GminSteps == 0 {
		return err
	}

	ckt := op.Session.Circuit()
	logger := op.Session.Logger()
	defer ckt.SetStepGmin(0)

	gmin := float64(ckt.Size()) * 1e-3 * math.Pow(10, float64(op.GminSteps))
	logger.Info("starting gmin stepping", slog.String("status", se.Status.String()), slog.Float64("gmin", gmin))
	for i := 0; i <= op.GminSteps; i++ {
		ckt.SetStepGmin(gmin)
		if _, err := op.solve(ctx, newton.TimeParams{}); err != nil {
			return fmt.Errorf("gmin stepping failed at %g: %w", gmin, err)
		}
		gmin /= 10
	}

	ckt.SetStepGmin(0)
	if _, err := op.solve(ctx, newton.TimeParams{}); err != nil {
		return fmt.Errorf("final solution failed with zero gmin: %w", err)
	}
	return nil
}

func (op *OperatingPoint) storeResults() {
	for name, v := range op.Session.Solution() {
		op.results[name] = []float64{v}
	}
}
