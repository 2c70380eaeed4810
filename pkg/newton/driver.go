// Package newton drives the damped Newton iteration over all devices and
// the circuit, plus the linear small-signal AC and noise solves.
package newton

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/floats"

	"github.com/edp1096/toy-devsim/internal/consts"
	"github.com/edp1096/toy-devsim/internal/fpe"
	"github.com/edp1096/toy-devsim/pkg/assembly"
	"github.com/edp1096/toy-devsim/pkg/config"
	"github.com/edp1096/toy-devsim/pkg/matrix"
	"github.com/edp1096/toy-devsim/pkg/precond"
	"github.com/edp1096/toy-devsim/pkg/solution"
	"github.com/edp1096/toy-devsim/pkg/solver"
	"github.com/edp1096/toy-devsim/pkg/util"
)

var (
	ErrUnknownAnalysis = errors.New("newton: unknown analysis")
	ErrMissingOutput   = errors.New("newton: noise output not found")
	ErrNoEquations     = errors.New("newton: nothing to solve")
	ErrNoHistory       = errors.New("newton: transient solve without time history")
)

// TimeParams selects DC (zero value) or one transient step ending at Time.
type TimeParams struct {
	Method util.IntegrationMethod
	Tdelta float64
	Time   float64
}

type Options struct {
	Devices []Entity
	Circuit Circuit
	Logger  *slog.Logger
	Tracer  trace.Tracer
}

type matKey struct {
	orient  matrix.Orientation
	complex bool
}

type preKey struct {
	linear  solver.Kind
	direct  precond.Kind
	complex bool
}

// Driver owns the factorization objects and time history; both persist
// across solves while the equation layout does not change.
type Driver struct {
	db        *config.Database
	collector *assembly.Collector
	devices   []Entity
	circuit   Circuit
	logger    *slog.Logger
	tracer    trace.Tracer

	layout  Layout
	history *TimeHistory
	guard   fpe.Guard

	mats map[matKey]*matrix.CompressedMatrix
	pres map[preKey]precond.Preconditioner
}

func New(db *config.Database, collector *assembly.Collector, opts Options) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("newton")
	}
	return &Driver{
		db:        db,
		collector: collector,
		devices:   opts.Devices,
		circuit:   opts.Circuit,
		logger:    logger.With(slog.String("component", "newton")),
		tracer:    tracer,
		history:   NewTimeHistory(0),
		mats:      make(map[matKey]*matrix.CompressedMatrix),
		pres:      make(map[preKey]precond.Preconditioner),
	}
}

func (d *Driver) Layout() Layout                 { return d.layout }
func (d *Driver) History() *TimeHistory          { return d.history }
func (d *Driver) FloatingPointErrors() int       { return d.guard.Count() }
func (d *Driver) Collector() *assembly.Collector { return d.collector }

// prepare numbers the equations and rebuilds the permutation map. Cached
// matrices and factorizers are dropped when the layout changes.
func (d *Driver) prepare() error {
	l := d.number()
	if l.Size == 0 {
		return ErrNoEquations
	}
	if !slices.Equal(l.Spans, d.layout.Spans) {
		clear(d.mats)
		clear(d.pres)
	}
	d.layout = l
	if _, err := d.collector.BuildPermutation(l.Size); err != nil {
		return err
	}
	return nil
}

func (d *Driver) backends(p config.Parameters, kind solver.Kind, complex bool) (solver.LinearSolver, precond.Preconditioner, *matrix.CompressedMatrix, error) {
	opts := p.GMRES
	opts.Logger = d.logger
	ls, err := solver.New(kind, opts)
	if err != nil {
		return nil, nil, nil, err
	}

	key := preKey{kind, p.DirectSolver, complex}
	pre, ok := d.pres[key]
	// The callback is part of the parameter snapshot, so external
	// factorizers are rebuilt on every solve.
	if !ok || p.DirectSolver == precond.External {
		pre, err = solver.Preconditioner(kind, p.DirectSolver, precond.Options{
			Logger:        d.logger,
			Callback:      p.Callback,
			Blocks:        d.blocks(),
			DropTolerance: p.DropTolerance,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		d.pres[key] = pre
	}

	mk := matKey{pre.Orientation(), complex}
	m, ok := d.mats[mk]
	if !ok {
		m = matrix.New(d.layout.Size, mk.orient, complex, d.logger)
		d.mats[mk] = m
	}
	return ls, pre, m, nil
}

func (d *Driver) start(ctx context.Context, name, analysis string, kind solver.Kind) (context.Context, trace.Span, *Result, *slog.Logger) {
	res := &Result{RunID: uuid.NewString(), Analysis: analysis}
	ctx, span := d.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("run", res.RunID),
		attribute.String("analysis", analysis),
		attribute.String("linear_solver", kind.String()),
	))
	return ctx, span, res, d.logger.With(slog.String("run", res.RunID))
}

func finish(span trace.Span, res *Result, err error) (*Result, error) {
	span.SetAttributes(
		attribute.String("status", res.Status.String()),
		attribute.Int("iterations", res.Iterations),
	)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case !res.Converged:
		span.SetStatus(codes.Error, res.Status.String())
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End()
	return res, err
}

func (d *Driver) coefficients(tp TimeParams, logger *slog.Logger) (util.Coefficients, error) {
	switch tp.Method {
	case util.NoIntegration:
		return util.Coefficients{B0: 1}, nil
	case util.BDF1, util.BDF2, util.Trapezoidal:
	default:
		return util.Coefficients{}, fmt.Errorf("%w: integration method %d", ErrUnknownAnalysis, int(tp.Method))
	}

	if !d.history.Valid(TM1) || d.history.Size() != d.layout.Size {
		return util.Coefficients{}, ErrNoHistory
	}
	method, hPrev := tp.Method, d.history.PreviousStep()
	if method == util.BDF2 && hPrev <= 0 {
		logger.Info("no second history point, using BDF1 for this step")
		method = util.BDF1
	}
	c, err := util.GetIntegratorCoeffs(method, tp.Tdelta, hPrev)
	if err != nil {
		return c, fmt.Errorf("newton: %w", err)
	}
	return c, nil
}

// Solve runs one DC or transient Newton solve. Numerical failures leave
// every entity at its pre-solve values and are reported through the
// result; only configuration and user errors are returned as errors.
func (d *Driver) Solve(ctx context.Context, kind solver.Kind, tp TimeParams) (*Result, error) {
	analysis := "dc"
	if tp.Method != util.NoIntegration {
		analysis = "transient"
	}
	ctx, span, res, logger := d.start(ctx, "newton.Solve", analysis, kind)

	params, err := d.db.Snapshot()
	if err != nil {
		return finish(span, res, err)
	}
	if err := d.prepare(); err != nil {
		return finish(span, res, err)
	}
	coeffs, err := d.coefficients(tp, logger)
	if err != nil {
		return finish(span, res, err)
	}
	ls, pre, m, err := d.backends(params, kind, false)
	if err != nil {
		return finish(span, res, err)
	}

	logger.Debug("newton solve",
		slog.String("analysis", analysis),
		slog.String("method", coeffs.Method.String()),
		slog.Float64("time", tp.Time),
		slog.Int("equations", d.layout.Size),
		slog.String("factorizer", pre.Name()),
	)

	d.backup()
	err = d.iterate(ctx, res, params, coeffs, tp.Time, ls, pre, m, logger)
	if err == nil && res.Converged && coeffs.Method != util.NoIntegration {
		err = d.accept(res, params, tp.Time, logger)
	}

	if err != nil || !res.Converged {
		d.restore()
		logger.Warn("solve rolled back",
			slog.String("status", res.Status.String()),
			slog.Int("passes", len(res.History)),
			slog.Any("reason", res.Err),
		)
		return finish(span, res, err)
	}

	res.Status = Converged
	logger.Info("solve converged",
		slog.String("analysis", analysis),
		slog.Int("iterations", res.Iterations),
	)
	return finish(span, res, nil)
}

func (d *Driver) iterate(ctx context.Context, res *Result, p config.Parameters, c util.Coefficients, t float64,
	ls solver.LinearSolver, pre precond.Preconditioner, m *matrix.CompressedMatrix, logger *slog.Logger) error {

	n := d.layout.Size
	rhs := make([]float64, n)
	x := make([]float64, n)
	damper := solution.Damper{
		Reference: p.LogDampScale * consts.ThermalVoltage(p.Temperature),
		Halvings:  10,
		Floor:     p.PositiveFloor,
	}

	var prev []EntityError
	for it := 0; it < p.MaxIterations; it++ {
		if err := ctx.Err(); err != nil {
			res.fail(Aborted, err)
			return err
		}

		m.ClearMatrix()
		clear(rhs)
		d.guard.Begin(fpe.Assemble)
		if err := d.load(m, rhs, c, t); err != nil {
			res.fail(Aborted, err)
			return err
		}
		m.Finalize()
		if err := d.guard.Check(rhs, m.Real()); err != nil {
			res.fail(NumericFailure, err)
			return nil
		}

		clear(x)
		if err := ls.Solve(m, pre, x, rhs); err != nil {
			st := LinearFailure
			if errors.Is(err, fpe.ErrFloatingPoint) {
				st = NumericFailure
			}
			res.fail(st, err)
			return nil
		}

		errs, err := d.update(x, damper, p.MinError)
		if err != nil {
			res.fail(NumericFailure, err)
			return nil
		}

		converged, diverging := true, false
		for k, e := range errs {
			if e.Abs > p.AbsError || e.Rel > p.RelError {
				converged = false
			}
			if prev != nil {
				q := prev[k]
				if (e.Abs > q.Abs && e.Abs > p.AbsError) || (e.Rel > q.Rel && e.Rel > p.RelError) {
					diverging = true
				}
			}
		}
		prev = errs
		res.record(Iteration{Entities: errs, Diverging: diverging, Linear: ls.Stats()})

		if diverging {
			res.Divergence++
		} else {
			res.Divergence = 0
		}

		for _, e := range errs {
			logger.Debug("iteration",
				slog.Int("iteration", it),
				slog.String("entity", e.Name),
				slog.Float64("absolute_error", e.Abs),
				slog.Float64("relative_error", e.Rel),
			)
		}

		if converged {
			res.Converged = true
			res.Iterations = it
			return nil
		}
		if res.Divergence >= p.MaxDivergence {
			res.fail(Diverged, nil)
			return nil
		}
	}
	res.Iterations = p.MaxIterations
	res.fail(MaxIterations, nil)
	return nil
}

// load assembles the residual and Jacobian. For transient steps the TIME
// pass is scaled by A0 and the history terms go to the rhs.
func (d *Driver) load(m *matrix.CompressedMatrix, rhs []float64, c util.Coefficients, t float64) error {
	err := d.collector.Assemble(m, rhs, assembly.Load{What: assembly.MatrixAndRHS, Mode: assembly.DC, Time: t, Scale: c.B0})
	if err != nil || c.Method == util.NoIntegration {
		return err
	}
	err = d.collector.Assemble(m, rhs, assembly.Load{What: assembly.MatrixAndRHS, Mode: assembly.Time, Time: t, Scale: c.A0})
	if err != nil {
		return err
	}

	h := d.history
	for k := range rhs {
		rhs[k] += assembly.ResidualSign * (c.A1*h.Q[TM1][k] + c.A2*h.Q[TM2][k] + c.B1*h.I[TM1][k] + c.B2*h.I[TM2][k])
	}
	return nil
}

func (d *Driver) update(x []float64, damper solution.Damper, minError float64) ([]EntityError, error) {
	entities := d.entities()
	errs := make([]EntityError, 0, len(entities))
	var vals [][]float64

	d.guard.Begin(fpe.Update)
	for _, e := range entities {
		ee := EntityError{Name: e.Name()}
		for _, eq := range e.Equations() {
			for k, row := range eq.Rows {
				nv, applied := damper.Apply(eq.Policy, eq.Values[k], x[row])
				eq.Values[k] = nv
				a := math.Abs(applied)
				ee.Abs = max(ee.Abs, a)
				ee.Rel = max(ee.Rel, a/(math.Abs(nv)+minError))
			}
			vals = append(vals, eq.Values)
		}
		errs = append(errs, ee)
	}
	return errs, d.guard.Check(vals...)
}

// charges assembles Q and I at the live solution without negation.
func (d *Driver) charges(t float64) ([]float64, []float64, error) {
	n := d.layout.Size
	q := make([]float64, n)
	i := make([]float64, n)
	if err := d.collector.Assemble(nil, q, assembly.Load{What: assembly.RHS, Mode: assembly.Time, Time: t, Scale: 1, Raw: true}); err != nil {
		return nil, nil, err
	}
	if err := d.collector.Assemble(nil, i, assembly.Load{What: assembly.RHS, Mode: assembly.DC, Time: t, Scale: 1, Raw: true}); err != nil {
		return nil, nil, err
	}
	return q, i, nil
}

// accept checks the new charge against its linear projection from the two
// previous points and rotates the history when it passes.
func (d *Driver) accept(res *Result, p config.Parameters, t float64, logger *slog.Logger) error {
	q, i, err := d.charges(t)
	if err != nil {
		res.fail(Aborted, err)
		return err
	}

	proj := make([]float64, len(q))
	if d.history.Project(t, proj) {
		scale := floats.Norm(q, math.Inf(1)) + floats.Norm(proj, math.Inf(1)) + p.MinError
		res.ChargeError = floats.Distance(q, proj, math.Inf(1)) / scale
		if res.ChargeError > p.ChargeError {
			logger.Info("charge projection rejected step",
				slog.Float64("time", t),
				slog.Float64("charge_error", res.ChargeError),
				slog.Float64("limit", p.ChargeError),
			)
			res.fail(ChargeProjection, nil)
			return nil
		}
	}
	d.history.Accept(q, i, t)
	return nil
}

// InitializeTransient seeds the time history from the current solution,
// normally a converged DC operating point.
func (d *Driver) InitializeTransient(t float64) error {
	if err := d.prepare(); err != nil {
		return err
	}
	q, i, err := d.charges(t)
	if err != nil {
		return err
	}
	d.history.Initialize(q, i, t)
	return nil
}

func (d *Driver) backup() {
	for _, e := range d.entities() {
		e.Backup(solution.BackupTag)
	}
}

func (d *Driver) restore() {
	for _, e := range d.entities() {
		e.Restore(solution.BackupTag)
	}
}

// ACSolve solves the small-signal system (J + jωC) x = -b at the current
// DC solution and stores x under the AC solution names.
func (d *Driver) ACSolve(ctx context.Context, kind solver.Kind, frequency float64) (*Result, error) {
	ctx, span, res, logger := d.start(ctx, "newton.ACSolve", "ac", kind)
	span.SetAttributes(attribute.Float64("frequency", frequency))

	b, err := d.smallSignal(ctx, res, kind, frequency, func(re, im []float64) error {
		return d.collector.AssembleAC(re, im, 1)
	})
	if err != nil || !res.Converged {
		return finish(span, res, err)
	}

	x := b.x
	if err := b.ls.ACSolve(b.m, b.pre, x, b.rhs); err != nil {
		return d.smallSignalFailure(span, res, err, logger)
	}
	for _, e := range d.entities() {
		e.SaveComplex(solution.ACReal, solution.ACImag, x)
	}
	res.Status = Converged
	logger.Debug("ac solve", slog.Float64("frequency", frequency))
	return finish(span, res, nil)
}

// NoiseSolve solves the transposed small-signal system with a unit
// excitation at the output node. The adjoint is stored per entity under
// "<output>_noise_real" and "<output>_noise_imag".
func (d *Driver) NoiseSolve(ctx context.Context, output string, kind solver.Kind, frequency float64) (*Result, error) {
	ctx, span, res, logger := d.start(ctx, "newton.NoiseSolve", "noise", kind)
	span.SetAttributes(attribute.Float64("frequency", frequency), attribute.String("output", output))

	if d.circuit == nil {
		return finish(span, res, fmt.Errorf("%w: %q (no circuit)", ErrMissingOutput, output))
	}
	if err := d.prepare(); err != nil {
		return finish(span, res, err)
	}
	if _, ok := d.circuit.Row(output); !ok {
		return finish(span, res, fmt.Errorf("%w: %q", ErrMissingOutput, output))
	}

	b, err := d.smallSignal(ctx, res, kind, frequency, func(re, _ []float64) error {
		row, _ := d.circuit.Row(output)
		re[row] = 1
		return nil
	})
	if err != nil || !res.Converged {
		return finish(span, res, err)
	}

	if err := b.ls.NoiseSolve(b.m, b.pre, b.x, b.rhs); err != nil {
		return d.smallSignalFailure(span, res, err, logger)
	}
	realName := output + "_" + solution.NoiseReal
	imagName := output + "_" + solution.NoiseImag
	for _, e := range d.entities() {
		e.SaveComplex(realName, imagName, b.x)
	}
	res.Status = Converged
	logger.Debug("noise solve", slog.String("output", output), slog.Float64("frequency", frequency))
	return finish(span, res, nil)
}

type smallSignalSystem struct {
	ls  solver.LinearSolver
	pre precond.Preconditioner
	m   *matrix.CompressedMatrix
	x   []complex128
	rhs []complex128
}

// smallSignal assembles J + jωC into the complex matrix and fills the rhs.
// res.Converged reports whether the system is ready to solve.
func (d *Driver) smallSignal(ctx context.Context, res *Result, kind solver.Kind, frequency float64,
	excite func(re, im []float64) error) (*smallSignalSystem, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params, err := d.db.Snapshot()
	if err != nil {
		return nil, err
	}
	if kind != solver.Direct {
		res.fail(Unsupported, fmt.Errorf("%w: small-signal solves need a direct solver, got %s", solver.ErrUnsupported, kind))
		d.logger.Error("unsupported linear solver", slog.String("analysis", res.Analysis), slog.String("linear_solver", kind.String()))
		return nil, res.Err
	}
	if err := d.prepare(); err != nil {
		return nil, err
	}
	ls, pre, m, err := d.backends(params, kind, true)
	if err != nil {
		return nil, err
	}

	omega := 2 * math.Pi * frequency
	n := d.layout.Size
	m.ClearMatrix()
	d.guard.Begin(fpe.Assemble)
	if err := d.collector.Assemble(m, nil, assembly.Load{What: assembly.MatrixOnly, Mode: assembly.DC, Scale: 1}); err != nil {
		return nil, err
	}
	if err := d.collector.Assemble(m, nil, assembly.Load{What: assembly.MatrixOnly, Mode: assembly.Time, Scale: omega, Imag: true}); err != nil {
		return nil, err
	}
	re, im := make([]float64, n), make([]float64, n)
	if err := excite(re, im); err != nil {
		return nil, err
	}
	m.Finalize()
	if err := d.guard.Check(re, im, m.Real(), m.Imag()); err != nil {
		res.fail(NumericFailure, err)
		return nil, nil
	}

	rhs := make([]complex128, n)
	for k := range rhs {
		rhs[k] = complex(re[k], im[k])
	}
	res.Converged = true
	return &smallSignalSystem{ls: ls, pre: pre, m: m, x: make([]complex128, n), rhs: rhs}, nil
}

func (d *Driver) smallSignalFailure(span trace.Span, res *Result, err error, logger *slog.Logger) (*Result, error) {
	st := LinearFailure
	if errors.Is(err, fpe.ErrFloatingPoint) {
		st = NumericFailure
	}
	res.fail(st, err)
	logger.Warn("small-signal solve failed", slog.String("analysis", res.Analysis), slog.Any("error", err))
	return finish(span, res, nil)
}
