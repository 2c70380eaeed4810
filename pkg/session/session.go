package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel/trace"

	"github.com/edp1096/toy-devsim/pkg/assembly"
	"github.com/edp1096/toy-devsim/pkg/circuit"
	"github.com/edp1096/toy-devsim/pkg/config"
	"github.com/edp1096/toy-devsim/pkg/device"
	"github.com/edp1096/toy-devsim/pkg/newton"
	"github.com/edp1096/toy-devsim/pkg/solver"
	"github.com/edp1096/toy-devsim/pkg/util"
)

var ErrEmpty = errors.New("session: nothing to solve")

// Session ties the parameter database to the entities of one simulation
// and owns the Newton driver built from them. Adding an entity after the
// first solve rebuilds the driver.
type Session struct {
	db      *config.Database
	logger  *slog.Logger
	tracer  trace.Tracer
	circuit *circuit.Circuit
	devices []*device.Device
	user    []userEquation

	driver *newton.Driver
}

type userEquation struct {
	name string
	fn   assembly.UserEquation
}

type Option func(*Session)

func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.logger = l } }
func WithTracer(t trace.Tracer) Option { return func(s *Session) { s.tracer = t } }
func WithDatabase(db *config.Database) Option {
	return func(s *Session) { s.db = db }
}

func New(opts ...Option) *Session {
	s := &Session{}
	for _, o := range opts {
		o(s)
	}
	if s.db == nil {
		s.db = config.NewDatabase()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func (s *Session) Database() *config.Database { return s.db }
func (s *Session) Logger() *slog.Logger       { return s.logger }
func (s *Session) Circuit() *circuit.Circuit  { return s.circuit }
func (s *Session) Devices() []*device.Device  { return s.devices }

func (s *Session) SetCircuit(c *circuit.Circuit) {
	s.circuit = c
	s.driver = nil
}

func (s *Session) AddDevice(d *device.Device) {
	s.devices = append(s.devices, d)
	s.driver = nil
}

// AddUserEquation registers an externally supplied residual. Rows are
// global.
func (s *Session) AddUserEquation(name string, fn assembly.UserEquation) {
	s.user = append(s.user, userEquation{name, fn})
	s.driver = nil
}

// Driver returns the Newton driver, building it on first use.
func (s *Session) Driver() (*newton.Driver, error) {
	if s.driver != nil {
		return s.driver, nil
	}
	if s.circuit == nil && len(s.devices) == 0 {
		return nil, ErrEmpty
	}

	col := assembly.NewCollector(s.logger)
	opts := newton.Options{Logger: s.logger, Tracer: s.tracer}
	for _, d := range s.devices {
		d.Register(col)
		opts.Devices = append(opts.Devices, d)
	}
	if s.circuit != nil {
		col.SetCircuit(s.circuit)
		opts.Circuit = s.circuit
	}
	for _, u := range s.user {
		col.AddUserEquation(u.name, u.fn)
	}
	s.driver = newton.New(s.db, col, opts)
	return s.driver, nil
}

// prepare pushes circuit parameters and returns the linear solver kind.
func (s *Session) prepare() (*newton.Driver, solver.Kind, error) {
	p, err := s.db.Snapshot()
	if err != nil {
		return nil, 0, err
	}
	if s.circuit != nil {
		s.circuit.SetGmin(p.CircuitGmin)
		s.circuit.SetTemperature(p.Temperature)
	}
	d, err := s.Driver()
	return d, p.LinearSolver, err
}

// Solve runs a DC solve, or one time step when tp carries a method.
func (s *Session) Solve(ctx context.Context, tp newton.TimeParams) (*newton.Result, error) {
	d, kind, err := s.prepare()
	if err != nil {
		return nil, err
	}
	return d.Solve(ctx, kind, tp)
}

func (s *Session) ACSolve(ctx context.Context, frequency float64) (*newton.Result, error) {
	d, kind, err := s.prepare()
	if err != nil {
		return nil, err
	}
	return d.ACSolve(ctx, kind, frequency)
}

func (s *Session) NoiseSolve(ctx context.Context, output string, frequency float64) (*newton.Result, error) {
	d, kind, err := s.prepare()
	if err != nil {
		return nil, err
	}
	return d.NoiseSolve(ctx, output, kind, frequency)
}

// InitializeTransient seeds the charge history from the present solution.
func (s *Session) InitializeTransient(t float64) error {
	d, err := s.Driver()
	if err != nil {
		return err
	}
	return d.InitializeTransient(t)
}

// Step is a transient solve of one step ending at t.
func (s *Session) Step(ctx context.Context, method util.IntegrationMethod, h, t float64) (*newton.Result, error) {
	return s.Solve(ctx, newton.TimeParams{Method: method, Tdelta: h, Time: t})
}

// Solution returns circuit values and contact currents by name.
func (s *Session) Solution() map[string]float64 {
	out := make(map[string]float64)
	if s.circuit != nil {
		for k, v := range s.circuit.Solution() {
			out[k] = v
		}
	}
	for _, d := range s.devices {
		for _, name := range d.ContactNames() {
			c, _ := d.Contact(name)
			out[fmt.Sprintf("I(%s.%s)", d.Name(), name)] = c.Current()
		}
	}
	return out
}

// ComplexSolution returns circuit small-signal values stored under the
// given names.
func (s *Session) ComplexSolution(realName, imagName string) map[string]complex128 {
	if s.circuit == nil {
		return map[string]complex128{}
	}
	return s.circuit.ComplexSolution(realName, imagName)
}

// Breakpoints returns the sorted distinct source breakpoints below stop.
func (s *Session) Breakpoints(stop float64) []float64 {
	if s.circuit == nil {
		return nil
	}
	bp := s.circuit.Breakpoints(stop)
	slices.Sort(bp)
	return slices.Compact(bp)
}
