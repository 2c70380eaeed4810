package circuit

import (
	"context"
	"io"
	"log/slog"
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edp1096/toy-devsim/internal/consts"
	"github.com/edp1096/toy-devsim/pkg/assembly"
	"github.com/edp1096/toy-devsim/pkg/config"
	"github.com/edp1096/toy-devsim/pkg/newton"
	"github.com/edp1096/toy-devsim/pkg/solution"
	"github.com/edp1096/toy-devsim/pkg/solver"
	"github.com/edp1096/toy-devsim/pkg/util"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func build(t *testing.T, elems ...Element) *Circuit {
	t.Helper()
	c := New("test", quiet())
	for _, e := range elems {
		require.NoError(t, c.Add(e))
	}
	return c
}

func driver(c *Circuit, db *config.Database) *newton.Driver {
	col := assembly.NewCollector(quiet())
	col.SetCircuit(c)
	return newton.New(db, col, newton.Options{Circuit: c, Logger: quiet()})
}

func dc(t *testing.T, d *newton.Driver) *newton.Result {
	t.Helper()
	res, err := d.Solve(context.Background(), solver.Direct, newton.TimeParams{})
	require.NoError(t, err)
	require.True(t, res.Converged, res.Status.String())
	return res
}

func TestResistorConvergesInOnePass(t *testing.T) {
	for _, r := range []float64{1e-3, 1, 1e6} {
		c := build(t,
			NewDCVoltageSource("V1", []string{"1", "0"}, 1),
			NewResistor("R1", []string{"1", "0"}, r),
		)
		res := dc(t, driver(c, config.NewDatabase()))
		assert.Equal(t, 1, res.Iterations, "R=%g", r)

		sol := c.Solution()
		assert.InDelta(t, 1.0, sol["V(1)"], 1e-12)
		assert.InDelta(t, 1/r, sol["I(V1)"], 1e-12/r)
		assert.InDelta(t, 1/r, sol["I(R1)"], 1e-12/r)
	}
}

func TestCurrentSourceIntoDivider(t *testing.T) {
	c := build(t,
		NewDCCurrentSource("I1", []string{"1", "0"}, 1e-3),
		NewResistor("R1", []string{"1", "2"}, 1e3),
		NewResistor("R2", []string{"2", "gnd"}, 1e3),
	)
	dc(t, driver(c, config.NewDatabase()))
	sol := c.Solution()
	assert.InDelta(t, 2.0, sol["V(1)"], 1e-12)
	assert.InDelta(t, 1.0, sol["V(2)"], 1e-12)
}

func TestInductorIsShortInDC(t *testing.T) {
	c := build(t,
		NewDCVoltageSource("V1", []string{"1", "0"}, 1),
		NewResistor("R1", []string{"1", "2"}, 1e3),
		NewInductor("L1", []string{"2", "0"}, 1e-3),
	)
	dc(t, driver(c, config.NewDatabase()))
	sol := c.Solution()
	assert.InDelta(t, 0, sol["V(2)"], 1e-12)
	assert.InDelta(t, 1e-3, sol["I(L1)"], 1e-15)
}

func diodeCircuit(t *testing.T) *Circuit {
	return build(t,
		NewACVoltageSource("V1", []string{"1", "0"}, 5, 1, 0),
		NewResistor("R1", []string{"1", "2"}, 1e3),
		NewDiode("D1", []string{"2", "0"}),
	)
}

func TestDiodeOperatingPoint(t *testing.T) {
	c := diodeCircuit(t)
	db := config.NewDatabase()
	require.NoError(t, db.Set(config.MaximumIterations, 50))
	res := dc(t, driver(c, db))
	assert.Greater(t, res.Iterations, 2)

	vd := c.Solution()["V(2)"]
	assert.InDelta(t, 0.69, vd, 0.03)

	// KCL at the anode.
	vt := consts.ThermalVoltage(consts.REFTEMP)
	id := 1e-14*(math.Exp(vd/vt)-1) + 1e-12*vd
	assert.InDelta(t, (5-vd)/1e3, id, 1e-9)
}

func TestDiodeNodesAreLogDamped(t *testing.T) {
	c := diodeCircuit(t)
	c.NumberEquations(0)
	policies := map[string]solution.Policy{}
	for _, eq := range c.Equations() {
		policies[eq.Name] = eq.Policy
	}
	assert.Equal(t, solution.LogDamp, policies["V(2)"])
	assert.Equal(t, solution.Default, policies["V(1)"])
	assert.Equal(t, solution.Default, policies["I(V1)"])

	require.NoError(t, c.SetPolicy("2", solution.Default))
	for _, eq := range c.Equations() {
		assert.Equal(t, solution.Default, eq.Policy, eq.Name)
	}
	assert.ErrorIs(t, c.SetPolicy("9", solution.Default), ErrUnknownNode)
}

func TestACMatchesFiniteDifference(t *testing.T) {
	c := diodeCircuit(t)
	db := config.NewDatabase()
	require.NoError(t, db.Set(config.MaximumIterations, 50))
	d := driver(c, db)
	dc(t, d)
	v0 := c.Solution()["V(2)"]

	res, err := d.ACSolve(context.Background(), solver.Direct, 1e-3)
	require.NoError(t, err)
	require.True(t, res.Converged)
	ac := c.ComplexSolution(solution.ACReal, solution.ACImag)["V(2)"]

	const delta = 1e-6
	src := c.Sources()["V1"]
	src.SetValue(5 + delta)
	dc(t, d)
	fd := (c.Solution()["V(2)"] - v0) / delta

	assert.InEpsilon(t, fd, real(ac), 1e-4)
	assert.InDelta(t, 0, imag(ac), 1e-12)
}

func TestRCCornerFrequency(t *testing.T) {
	const r, cf = 1e3, 1e-6
	c := build(t,
		NewACVoltageSource("V1", []string{"in", "0"}, 0, 1, 0),
		NewResistor("R1", []string{"in", "out"}, r),
		NewCapacitor("C1", []string{"out", "0"}, cf),
	)
	d := driver(c, config.NewDatabase())
	dc(t, d)

	_, err := d.ACSolve(context.Background(), solver.Direct, 1/(2*math.Pi*r*cf))
	require.NoError(t, err)
	got := c.ComplexSolution(solution.ACReal, solution.ACImag)["V(out)"]
	assert.InDelta(t, 0, cmplx.Abs(got-1/complex(1, 1)), 1e-8)
}

func TestNoiseAdjointMatchesAC(t *testing.T) {
	c := diodeCircuit(t)
	require.NoError(t, c.Add(NewCapacitor("C1", []string{"2", "0"}, 1e-9)))
	db := config.NewDatabase()
	require.NoError(t, db.Set(config.MaximumIterations, 50))
	d := driver(c, db)
	dc(t, d)

	const f = 1e5
	_, err := d.ACSolve(context.Background(), solver.Direct, f)
	require.NoError(t, err)
	ac := c.ComplexSolution(solution.ACReal, solution.ACImag)["V(2)"]
	require.NotZero(t, imag(ac))

	res, err := d.NoiseSolve(context.Background(), "2", solver.Direct, f)
	require.NoError(t, err)
	require.True(t, res.Converged)
	adj := c.ComplexSolution("2_"+solution.NoiseReal, "2_"+solution.NoiseImag)["I(V1)"]
	assert.InDelta(t, 0, cmplx.Abs(adj-ac), 1e-12)

	_, err = d.NoiseSolve(context.Background(), "missing", solver.Direct, f)
	assert.ErrorIs(t, err, newton.ErrMissingOutput)
}

func TestRCBackwardEuler(t *testing.T) {
	const r, cf, h = 1e3, 1e-6, 1e-5
	c := build(t,
		NewDCVoltageSource("V1", []string{"in", "0"}, 0),
		NewResistor("R1", []string{"in", "out"}, r),
		NewCapacitor("C1", []string{"out", "0"}, cf),
	)
	d := driver(c, config.NewDatabase())
	dc(t, d)
	require.NoError(t, d.InitializeTransient(0))
	c.Sources()["V1"].SetValue(1)

	ratio := 1 / (1 + h/(r*cf))
	for n := 1; n <= 20; n++ {
		res, err := d.Solve(context.Background(), solver.Direct, newton.TimeParams{Method: util.BDF1, Tdelta: h, Time: float64(n) * h})
		require.NoError(t, err)
		require.True(t, res.Converged, "step %d: %s", n, res.Status)
		assert.InDelta(t, 1-math.Pow(ratio, float64(n)), c.Solution()["V(out)"], 1e-9, "step %d", n)
	}
}

func TestWaveforms(t *testing.T) {
	pulse := Waveform{Type: PULSE, V1: 0, V2: 1, Delay: 1, Rise: 1, Fall: 1, PWidth: 2, Period: 10}
	sin := Waveform{Type: SIN, DC: 1, Amplitude: 2, Freq: 0.25}
	pwl := Waveform{Type: PWL, Times: []float64{0, 1, 3}, Values: []float64{0, 2, -2}}

	tests := []struct {
		name string
		w    Waveform
		t    float64
		want float64
	}{
		{"pulse before delay", pulse, 0.5, 0},
		{"pulse rising", pulse, 1.5, 0.5},
		{"pulse high", pulse, 3, 1},
		{"pulse falling", pulse, 4.5, 0.5},
		{"pulse low", pulse, 6, 0},
		{"pulse next period", pulse, 13, 1},
		{"sin peak", sin, 1, 3},
		{"pwl first", pwl, -1, 0},
		{"pwl interpolated", pwl, 2, 0},
		{"pwl last", pwl, 5, -2},
		{"dc", Waveform{DC: 4}, 7, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.w.At(tt.t), 1e-12)
		})
	}

	assert.Equal(t, []float64{1, 2, 4, 5, 11, 12, 14, 15}, pulse.Breakpoints(16))
	assert.Equal(t, []float64{1}, pwl.Breakpoints(2))
}

func TestAddValidation(t *testing.T) {
	c := New("v", nil)
	require.NoError(t, c.Add(NewResistor("R1", []string{"a", "b"}, 1)))
	assert.ErrorIs(t, c.Add(NewResistor("R1", []string{"a", "c"}, 1)), ErrDuplicateElement)
	assert.ErrorIs(t, c.Add(NewResistor("R2", []string{"a"}, 1)), ErrInvalidElement)
	assert.ErrorIs(t, c.Add(NewResistor("R3", []string{"a", "b"}, 0)), ErrInvalidElement)

	_, err := c.Voltage(solution.Current, "zz")
	assert.ErrorIs(t, err, ErrUnknownNode)
	v, err := c.Voltage(solution.Current, "0")
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestReindexKeepsValues(t *testing.T) {
	c := build(t, NewResistor("R1", []string{"a", "0"}, 1))
	require.NoError(t, c.SetVoltage("a", 0.7))
	require.NoError(t, c.Add(NewDCVoltageSource("V1", []string{"b", "0"}, 1)))
	assert.Equal(t, 3, c.Size())
	v, err := c.Voltage(solution.Current, "a")
	require.NoError(t, err)
	assert.Equal(t, 0.7, v)
}

func TestCoupledInductors(t *testing.T) {
	const l1, l2, k, r1, r2 = 1e-3, 4e-3, 0.8, 10.0, 50.0
	c := build(t,
		NewACVoltageSource("V1", []string{"in", "0"}, 0, 1, 0),
		NewResistor("R1", []string{"in", "a"}, r1),
		NewInductor("L1", []string{"a", "0"}, l1),
		NewInductor("L2", []string{"b", "0"}, l2),
		NewResistor("R2", []string{"b", "0"}, r2),
	)
	m := NewMutual("K1", "L1", "L2", k)
	require.NoError(t, c.Add(m))
	assert.InDelta(t, k*math.Sqrt(l1*l2), m.Inductance(), 1e-15)

	d := driver(c, config.NewDatabase())
	dc(t, d)

	const f = 1e3
	_, err := d.ACSolve(context.Background(), solver.Direct, f)
	require.NoError(t, err)
	ac := c.ComplexSolution(solution.ACReal, solution.ACImag)

	jw := complex(0, 2*math.Pi*f)
	mi := complex(m.Inductance(), 0)
	i1, i2 := ac["I(L1)"], ac["I(L2)"]
	assert.InDelta(t, 0, cmplx.Abs(ac["V(a)"]-jw*(l1*i1+mi*i2)), 1e-9)
	assert.InDelta(t, 0, cmplx.Abs(ac["V(b)"]-jw*(l2*i2+mi*i1)), 1e-9)
	assert.InDelta(t, 0, cmplx.Abs(ac["V(b)"]+r2*i2), 1e-9)
	assert.Greater(t, cmplx.Abs(ac["V(b)"]), 0.1)
}

func TestMutualValidation(t *testing.T) {
	c := build(t,
		NewInductor("L1", []string{"a", "0"}, 1e-3),
		NewResistor("R1", []string{"a", "b"}, 1),
	)
	assert.ErrorIs(t, c.Add(NewMutual("K1", "L1", "R1", 0.5)), ErrUnknownElement)
	assert.ErrorIs(t, c.Add(NewMutual("K2", "L1", "L1", 0.5)), ErrInvalidElement)
	assert.ErrorIs(t, c.Add(NewMutual("K3", "L1", "L9", 1.5)), ErrInvalidElement)
}
