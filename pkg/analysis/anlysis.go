package analysis

import (
	"context"
	"errors"
	"math"
	"math/cmplx"

	"github.com/edp1096/toy-devsim/pkg/newton"
	"github.com/edp1096/toy-devsim/pkg/session"
	"github.com/edp1096/toy-devsim/pkg/util"
)

var (
	ErrNotConverged = errors.New("analysis: solve did not converge")
	ErrNotSetup     = errors.New("analysis: session not set")
	ErrUnknownSrc   = errors.New("analysis: unknown source")
)

type Analysis interface {
	Setup(s *session.Session) error
	Execute(ctx context.Context) error
	GetResults() map[string][]float64
}

type BaseAnalysis struct {
	Session *session.Session
	results map[string][]float64 // key: variable name, value: result by point
}

func NewBaseAnalysis() *BaseAnalysis {
	return &BaseAnalysis{results: make(map[string][]float64)}
}

// solve runs a DC or transient solve and turns a non-converged result
// into an error carrying its status.
func (a *BaseAnalysis) solve(ctx context.Context, tp newton.TimeParams) (*newton.Result, error) {
	res, err := a.Session.Solve(ctx, tp)
	if err != nil {
		return res, err
	}
	if !res.Converged {
		return res, &SolveError{Status: res.Status, Time: tp.Time, Iterations: res.Iterations}
	}
	return res, nil
}

// SolveError reports a solve that ran but did not converge.
type SolveError struct {
	Status     newton.Status
	Time       float64
	Iterations int
}

func (e *SolveError) Error() string {
	return ErrNotConverged.Error() + ": " + e.Status.String() + " at t=" + util.FormatValueFactor(e.Time, "s")
}

func (e *SolveError) Unwrap() error { return ErrNotConverged }

func (a *BaseAnalysis) append(name string, v float64) {
	a.results[name] = append(a.results[name], v)
}

func (a *BaseAnalysis) StoreResult(axis string, x float64, solution map[string]float64) {
	a.append(axis, x)
	for name, value := range solution {
		a.append(name, value)
	}
}

func (a *BaseAnalysis) StoreTimeResult(time float64, solution map[string]float64) {
	// Ignore same time
	if times := a.results["TIME"]; len(times) > 0 {
		last := times[len(times)-1]
		// Compare rounded string. 1.999999e-05 == 2.000000e-05
		if time == last || util.FormatValueFactor(time, "s") == util.FormatValueFactor(last, "s") {
			return
		}
	}
	a.StoreResult("TIME", time, solution)
}

func (a *BaseAnalysis) StoreACResult(freq float64, solution map[string]complex128) {
	a.append("FREQ", freq)
	for name, value := range solution {
		a.append(name+"_MAG", cmplx.Abs(value))
		a.append(name+"_PHASE", cmplx.Phase(value)*180.0/math.Pi)
	}
}

func (a *BaseAnalysis) GetResults() map[string][]float64 {
	return a.results
}
