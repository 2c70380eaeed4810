// Package config holds the simulation parameter database. A solve reads a
// validated Parameters snapshot at its start; later changes to the
// database only affect the next solve.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/edp1096/toy-devsim/pkg/precond"
	"github.com/edp1096/toy-devsim/pkg/solver"
)

var (
	ErrUnknownParameter = errors.New("config: unknown parameter")
	ErrInvalidValue     = errors.New("config: invalid parameter value")
	ErrUnknownSolver    = errors.New("config: unknown solver choice")
)

// Parameter names.
const (
	DirectSolver       = "direct_solver"
	LinearSolver       = "linear_solver"
	SolverCallback     = "solver_callback"
	AbsoluteError      = "absolute_error"
	RelativeError      = "relative_error"
	ChargeError        = "charge_error"
	MinError           = "min_error"
	MaximumIterations  = "maximum_iterations"
	MaximumDivergence  = "maximum_divergence"
	GMRESRestart       = "gmres_restart"
	GMRESMaxIterations = "gmres_max_iterations"
	GMRESTolerance     = "gmres_tolerance"
	BlockDropTolerance = "block_drop_tolerance"
	LogDampScale       = "log_damp_scale"
	PositiveFloor      = "positive_floor"
	CircuitGmin        = "circuit_gmin"
	Temperature        = "temperature"
	Threads            = "threads"
	TaskSize           = "task_size"
)

type kind int

const (
	kindString kind = iota
	kindFloat
	kindInt
	kindCallback
)

var schema = map[string]kind{
	DirectSolver:       kindString,
	LinearSolver:       kindString,
	SolverCallback:     kindCallback,
	AbsoluteError:      kindFloat,
	RelativeError:      kindFloat,
	ChargeError:        kindFloat,
	MinError:           kindFloat,
	MaximumIterations:  kindInt,
	MaximumDivergence:  kindInt,
	GMRESRestart:       kindInt,
	GMRESMaxIterations: kindInt,
	GMRESTolerance:     kindFloat,
	BlockDropTolerance: kindFloat,
	LogDampScale:       kindFloat,
	PositiveFloor:      kindFloat,
	CircuitGmin:        kindFloat,
	Temperature:        kindFloat,
	Threads:            kindInt,
	TaskSize:           kindInt,
}

// Parameters is an immutable per-solve view of the database.
type Parameters struct {
	DirectSolver precond.Kind
	LinearSolver solver.Kind
	Callback     precond.ExternalSolver

	AbsError      float64
	RelError      float64
	ChargeError   float64
	MinError      float64
	MaxIterations int
	MaxDivergence int

	GMRES         solver.Options
	DropTolerance float64

	LogDampScale  float64 // multiple of the thermal voltage
	PositiveFloor float64
	CircuitGmin   float64
	Temperature   float64

	// Hints for parallel bulk assembly; the solver core is sequential.
	Threads  int
	TaskSize int
}

func defaults() map[string]any {
	gm := solver.DefaultOptions()
	return map[string]any{
		DirectSolver:       "native",
		LinearSolver:       "direct",
		AbsoluteError:      1e-10,
		RelativeError:      1e-6,
		ChargeError:        1e-2,
		MinError:           1e-10,
		MaximumIterations:  20,
		MaximumDivergence:  5,
		GMRESRestart:       gm.Restart,
		GMRESMaxIterations: gm.MaxIterations,
		GMRESTolerance:     gm.Tolerance,
		BlockDropTolerance: 1e-2,
		LogDampScale:       1.0,
		PositiveFloor:      0.1,
		CircuitGmin:        1e-12,
		Temperature:        300.15,
		Threads:            1,
		TaskSize:           2048,
	}
}

// Database is the named parameter store owned by a session.
type Database struct {
	values map[string]any
}

func NewDatabase() *Database {
	return &Database{values: defaults()}
}

// Set stores value under name after a type check. Numbers may be given as
// strings.
func (db *Database) Set(name string, value any) error {
	k, ok := schema[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}

	v, err := coerce(k, value)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidValue, name, err)
	}
	db.values[name] = v
	return nil
}

func (db *Database) Get(name string) (any, bool) {
	v, ok := db.values[name]
	return v, ok
}

func (db *Database) Names() []string {
	names := make([]string, 0, len(schema))
	for k := range schema {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func coerce(k kind, value any) (any, error) {
	switch k {
	case kindString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("want string, got %T", value)
		}
		return s, nil
	case kindCallback:
		switch cb := value.(type) {
		case precond.ExternalSolver:
			return cb, nil
		case func(precond.ExternalRequest) precond.ExternalResponse:
			return precond.ExternalSolver(cb), nil
		case nil:
			return nil, nil
		}
		return nil, fmt.Errorf("want solver callback, got %T", value)
	case kindInt:
		switch v := value.(type) {
		case int:
			return v, nil
		case float64:
			if v != float64(int(v)) {
				return nil, fmt.Errorf("want integer, got %g", v)
			}
			return int(v), nil
		case string:
			return strconv.Atoi(v)
		}
		return nil, fmt.Errorf("want integer, got %T", value)
	default:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case string:
			return strconv.ParseFloat(v, 64)
		}
		return nil, fmt.Errorf("want number, got %T", value)
	}
}

// Snapshot validates the database and returns the parameters for one solve.
func (db *Database) Snapshot() (Parameters, error) {
	var p Parameters
	var err error

	if p.DirectSolver, err = precond.ParseKind(db.values[DirectSolver].(string)); err != nil || p.DirectSolver == precond.Block {
		return p, fmt.Errorf("%w: %s=%q", ErrUnknownSolver, DirectSolver, db.values[DirectSolver])
	}
	if p.LinearSolver, err = solver.ParseKind(db.values[LinearSolver].(string)); err != nil {
		return p, fmt.Errorf("%w: %s=%q", ErrUnknownSolver, LinearSolver, db.values[LinearSolver])
	}
	if cb, ok := db.values[SolverCallback].(precond.ExternalSolver); ok {
		p.Callback = cb
	}
	if p.DirectSolver == precond.External && p.Callback == nil {
		return p, fmt.Errorf("%w: %s=external requires %s", ErrInvalidValue, DirectSolver, SolverCallback)
	}

	f := func(name string) float64 { return db.values[name].(float64) }
	i := func(name string) int { return db.values[name].(int) }

	p.AbsError = f(AbsoluteError)
	p.RelError = f(RelativeError)
	p.ChargeError = f(ChargeError)
	p.MinError = f(MinError)
	p.MaxIterations = i(MaximumIterations)
	p.MaxDivergence = i(MaximumDivergence)
	p.GMRES = solver.Options{
		Restart:       i(GMRESRestart),
		MaxIterations: i(GMRESMaxIterations),
		Tolerance:     f(GMRESTolerance),
	}
	p.DropTolerance = f(BlockDropTolerance)
	p.LogDampScale = f(LogDampScale)
	p.PositiveFloor = f(PositiveFloor)
	p.CircuitGmin = f(CircuitGmin)
	p.Temperature = f(Temperature)
	p.Threads = i(Threads)
	p.TaskSize = i(TaskSize)

	switch {
	case !(p.AbsError > 0), !(p.RelError > 0), !(p.ChargeError > 0), p.MinError < 0:
		return p, fmt.Errorf("%w: error bounds must be positive", ErrInvalidValue)
	case p.MaxIterations < 1, p.MaxDivergence < 1:
		return p, fmt.Errorf("%w: iteration limits must be at least 1", ErrInvalidValue)
	case p.LinearSolver == solver.Iterative && (p.GMRES.Restart < 1 || p.GMRES.MaxIterations < 1 || !(p.GMRES.Tolerance > 0)):
		return p, fmt.Errorf("%w: invalid GMRES settings", ErrInvalidValue)
	case p.DropTolerance < 0, p.LogDampScale < 0, p.Temperature <= 0:
		return p, fmt.Errorf("%w: negative tolerance, scale or temperature", ErrInvalidValue)
	}
	return p, nil
}
