package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/edp1096/toy-devsim/pkg/newton"
	"github.com/edp1096/toy-devsim/pkg/session"
	"github.com/edp1096/toy-devsim/pkg/util"
)

type Transient struct {
	BaseAnalysis
	op        *OperatingPoint
	startTime float64
	stopTime  float64
	timeStep  float64
	maxStep   float64
	minStep   float64
	useUIC    bool

	// Method is used after the first step and after each breakpoint,
	// which are taken with BDF1.
	Method util.IntegrationMethod

	Accepted int
	Rejected int
}

func NewTransient(tStart, tStop, tStep, tMax float64, uic bool) *Transient {
	if tMax == 0 {
		tMax = tStep
	}
	return &Transient{
		BaseAnalysis: *NewBaseAnalysis(),
		op:           NewOP(),
		startTime:    tStart,
		stopTime:     tStop,
		timeStep:     tStep,
		maxStep:      tMax,
		minStep:      tStep / 50.0,
		useUIC:       uic,
		Method:       util.Trapezoidal,
	}
}

func (tr *Transient) Setup(s *session.Session) error {
	tr.Session = s
	if !tr.useUIC {
		if err := tr.op.Setup(s); err != nil {
			return err
		}
		if err := tr.op.run(context.Background()); err != nil {
			return fmt.Errorf("operating point analysis error: %w", err)
		}
	}
	return s.InitializeTransient(0)
}

func (tr *Transient) Execute(ctx context.Context) error {
	if tr.Session == nil {
		return ErrNotSetup
	}
	logger := tr.Session.Logger()
	breaks := tr.Session.Breakpoints(tr.stopTime)

	t, h := 0.0, tr.timeStep
	method := util.BDF1
	if tr.startTime == 0 {
		tr.StoreTimeResult(0, tr.Session.Solution())
	}

	for tr.stopTime-t > tr.minStep*1e-3 {
		if err := ctx.Err(); err != nil {
			return err
		}
		next := math.Min(t+h, tr.stopTime)
		atBreak := false
		for len(breaks) > 0 && breaks[0] <= t+tr.minStep*1e-3 {
			breaks = breaks[1:]
		}
		if len(breaks) > 0 && next >= breaks[0]-tr.minStep*1e-3 {
			next, atBreak = breaks[0], true
		}
		step := next - t

		_, err := tr.solve(ctx, newton.TimeParams{Method: method, Tdelta: step, Time: next})
		if err != nil {
			var se *SolveError
			if !errors.As(err, &se) {
				return err
			}
			tr.Rejected++
			if step/2 < tr.minStep {
				return fmt.Errorf("time step too small at t=%g: %w", t, err)
			}
			h = step / 2
			logger.Debug("step rejected",
				slog.Float64("time", next),
				slog.String("status", se.Status.String()),
				slog.Float64("new_step", h),
			)
			continue
		}

		tr.Accepted++
		t = next
		if t >= tr.startTime {
			tr.StoreTimeResult(t, tr.Session.Solution())
		}

		if atBreak {
			// Restart the history so the step after a corner is a
			// fresh BDF1 step.
			if err := tr.Session.InitializeTransient(t); err != nil {
				return err
			}
			method = util.BDF1
			h = math.Min(h, tr.timeStep)
			continue
		}
		method = tr.Method
		h = math.Min(step*1.2, tr.maxStep)
	}

	logger.Info("transient done",
		slog.Int("accepted", tr.Accepted),
		slog.Int("rejected", tr.Rejected),
	)
	return nil
}
