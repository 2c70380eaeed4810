package newton

import (
	"github.com/edp1096/toy-devsim/pkg/solver"
)

type Status int

const (
	Running Status = iota
	Converged
	MaxIterations
	Diverged
	ChargeProjection
	LinearFailure
	NumericFailure
	Unsupported
	// Aborted solves stopped on a returned error.
	Aborted
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case MaxIterations:
		return "max_iterations"
	case Diverged:
		return "diverged"
	case ChargeProjection:
		return "charge_projection"
	case LinearFailure:
		return "linear_failure"
	case NumericFailure:
		return "numeric_failure"
	case Unsupported:
		return "unsupported"
	case Aborted:
		return "aborted"
	default:
		return "running"
	}
}

type EntityError struct {
	Name string
	Abs  float64
	Rel  float64
}

// Iteration holds the errors of one Newton pass.
type Iteration struct {
	Entities  []EntityError
	Diverging bool
	Linear    solver.Stats
}

// Result is the per-call accumulator returned by every solve.
type Result struct {
	RunID     string
	Analysis  string
	Status    Status
	Converged bool
	// Iterations is the index of the pass that met the error bounds.
	Iterations  int
	Divergence  int
	History     []Iteration
	ChargeError float64
	Err         error
}

func (r *Result) record(it Iteration) {
	r.History = append(r.History, it)
}

func (r *Result) fail(s Status, err error) {
	r.Status = s
	r.Converged = false
	if err != nil {
		r.Err = err
	}
}

// Map flattens the result for callers that want a generic summary.
func (r *Result) Map() map[string]any {
	m := map[string]any{
		"run":          r.RunID,
		"analysis":     r.Analysis,
		"status":       r.Status.String(),
		"converged":    r.Converged,
		"iterations":   r.Iterations,
		"divergence":   r.Divergence,
		"charge_error": r.ChargeError,
	}
	if r.Err != nil {
		m["error"] = r.Err.Error()
	}

	var its []map[string]any
	for i, it := range r.History {
		devs := make([]map[string]any, 0, len(it.Entities))
		for _, e := range it.Entities {
			devs = append(devs, map[string]any{"name": e.Name, "absolute_error": e.Abs, "relative_error": e.Rel})
		}
		its = append(its, map[string]any{
			"iteration":         i,
			"entities":          devs,
			"diverging":         it.Diverging,
			"linear_iterations": it.Linear.Iterations,
			"linear_residual":   it.Linear.Residual,
		})
	}
	m["history"] = its
	return m
}
