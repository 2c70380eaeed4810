package device

import (
	"context"
	"io"
	"log/slog"
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edp1096/toy-devsim/pkg/assembly"
	"github.com/edp1096/toy-devsim/pkg/circuit"
	"github.com/edp1096/toy-devsim/pkg/config"
	"github.com/edp1096/toy-devsim/pkg/newton"
	"github.com/edp1096/toy-devsim/pkg/solution"
	"github.com/edp1096/toy-devsim/pkg/solver"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func setup(d *Device, c *circuit.Circuit, db *config.Database) (*newton.Driver, *assembly.Collector) {
	col := assembly.NewCollector(quiet())
	d.Register(col)
	opts := newton.Options{Devices: []newton.Entity{d}, Logger: quiet()}
	if c != nil {
		col.SetCircuit(c)
		opts.Circuit = c
	}
	return newton.New(db, col, opts), col
}

func solve(t *testing.T, drv *newton.Driver, kind solver.Kind) *newton.Result {
	t.Helper()
	res, err := drv.Solve(context.Background(), kind, newton.TimeParams{})
	require.NoError(t, err)
	require.True(t, res.Converged, res.Status.String())
	return res
}

func bar(t *testing.T, sat float64) *Device {
	d := New("bar", quiet())
	_, err := d.AddRegion(RegionParams{Name: "si", Nodes: 11, Spacing: 0.1, Conductivity: 2, Saturation: sat})
	require.NoError(t, err)
	_, err = d.AddContact("top", "si", First, 1)
	require.NoError(t, err)
	_, err = d.AddContact("bot", "si", Last, 0)
	require.NoError(t, err)
	return d
}

func TestLinearBar(t *testing.T) {
	d := bar(t, 0)
	drv, _ := setup(d, nil, config.NewDatabase())
	res := solve(t, drv, solver.Direct)
	assert.Equal(t, 1, res.Iterations)

	r, _ := d.Region("si")
	for i, v := range r.Values() {
		assert.InDelta(t, 1-float64(i)*0.1, v, 1e-12, "node %d", i)
	}
	top, _ := d.Contact("top")
	bot, _ := d.Contact("bot")
	assert.InDelta(t, 2, top.Current(), 1e-12)
	assert.InDelta(t, -2, bot.Current(), 1e-12)
}

func TestSaturatedBar(t *testing.T) {
	d := bar(t, 0.1)
	drv, _ := setup(d, nil, config.NewDatabase())
	solve(t, drv, solver.Direct)

	r, _ := d.Region("si")
	assert.InDelta(t, 0.5, r.Values()[5], 1e-9)
	top, _ := d.Contact("top")
	assert.InDelta(t, 2*math.Tanh(1), top.Current(), 1e-9)
}

func TestBiasSweepReusesDriver(t *testing.T) {
	d := bar(t, 0)
	drv, _ := setup(d, nil, config.NewDatabase())
	top, _ := d.Contact("top")
	for _, v := range []float64{0.5, -1, 2} {
		top.SetBias(v)
		solve(t, drv, solver.Direct)
		assert.InDelta(t, 2*v, top.Current(), 1e-12)
	}
}

func twoRegions(t *testing.T) *Device {
	d := New("stack", quiet())
	_, err := d.AddRegion(RegionParams{Name: "a", Nodes: 3, Spacing: 0.5, Conductivity: 1})
	require.NoError(t, err)
	_, err = d.AddRegion(RegionParams{Name: "b", Nodes: 3, Spacing: 0.5, Conductivity: 3})
	require.NoError(t, err)
	_, err = d.AddInterface("a_b", "a", Last, "b", First)
	require.NoError(t, err)
	_, err = d.AddContact("left", "a", First, 1)
	require.NoError(t, err)
	_, err = d.AddContact("right", "b", Last, 0)
	require.NoError(t, err)
	return d
}

func TestInterfaceConservesFlux(t *testing.T) {
	d := twoRegions(t)
	drv, col := setup(d, nil, config.NewDatabase())
	solve(t, drv, solver.Direct)

	a, _ := d.Region("a")
	b, _ := d.Region("b")
	assert.InDelta(t, 0.25, a.Values()[2], 1e-12)
	assert.InDelta(t, 0.25, b.Values()[0], 1e-12)
	left, _ := d.Contact("left")
	assert.InDelta(t, 0.75, left.Current(), 1e-12)
	assert.InDelta(t, 0.75, b.EdgeFlux(0, 1), 1e-12)

	perm := col.Permutation()
	assert.Equal(t, assembly.PermutationEntry{Eliminated: true, Row: -1}, perm[0])
	assert.Equal(t, assembly.PermutationEntry{Eliminated: true, Row: -1}, perm[5])
	assert.Equal(t, assembly.PermutationEntry{Row: 2}, perm[3])
	assert.Len(t, perm, 3)

	spans := drv.Layout().Spans
	require.Len(t, spans, 1)
	assert.Equal(t, 6, spans[0].Count)
}

func TestBiasOnInterfaceNode(t *testing.T) {
	d := New("stack", quiet())
	_, err := d.AddRegion(RegionParams{Name: "a", Nodes: 3, Spacing: 0.5, Conductivity: 1})
	require.NoError(t, err)
	_, err = d.AddRegion(RegionParams{Name: "b", Nodes: 3, Spacing: 0.5, Conductivity: 3})
	require.NoError(t, err)
	_, err = d.AddInterface("a_b", "a", Last, "b", First)
	require.NoError(t, err)
	_, err = d.AddContact("left", "a", First, 0)
	require.NoError(t, err)
	_, err = d.AddContact("mid", "a", Last, 1)
	require.NoError(t, err)
	_, err = d.AddContact("right", "b", Last, 0)
	require.NoError(t, err)

	drv, col := setup(d, nil, config.NewDatabase())
	solve(t, drv, solver.Direct)

	a, _ := d.Region("a")
	b, _ := d.Region("b")
	assert.InDeltaSlice(t, []float64{0, 0.5, 1}, a.Values(), 1e-12)
	assert.InDeltaSlice(t, []float64{1, 0.5, 0}, b.Values(), 1e-12)

	// b's first row follows the interface onto an eliminated contact row.
	perm := col.Permutation()
	assert.Equal(t, []int{0, 2, 3, 5}, perm.Eliminated())
}

func TestIterativeMatchesDirect(t *testing.T) {
	direct := twoRegions(t)
	drv, _ := setup(direct, nil, config.NewDatabase())
	solve(t, drv, solver.Direct)

	iter := twoRegions(t)
	drv, _ = setup(iter, nil, config.NewDatabase())
	solve(t, drv, solver.Iterative)

	for _, name := range []string{"a", "b"} {
		want, _ := direct.Region(name)
		got, _ := iter.Region(name)
		assert.InDeltaSlice(t, want.Values(), got.Values(), 1e-8, name)
	}
	eqs := iter.Equations()
	require.Len(t, eqs, 2)
	assert.Equal(t, "a.Potential", eqs[0].Name)
	assert.Equal(t, []int{3, 4, 5}, eqs[1].Rows)
}

func TestCircuitCoupledBar(t *testing.T) {
	c := circuit.New("ckt", quiet())
	require.NoError(t, c.Add(circuit.NewDCVoltageSource("V1", []string{"in", "0"}, 1)))
	require.NoError(t, c.Add(circuit.NewResistor("R1", []string{"in", "a"}, 1e3)))

	d := New("bar", quiet())
	_, err := d.AddRegion(RegionParams{Name: "si", Nodes: 5, Spacing: 0.25, Conductivity: 1e-3})
	require.NoError(t, err)
	_, err = d.AddCircuitContact("anode", "si", First, c, "a")
	require.NoError(t, err)
	_, err = d.AddCircuitContact("cathode", "si", Last, c, "0")
	require.NoError(t, err)

	drv, col := setup(d, c, config.NewDatabase())
	solve(t, drv, solver.Direct)

	sol := c.Solution()
	assert.InDelta(t, 0.5, sol["V(a)"], 1e-12)
	assert.InDelta(t, 0.5e-3, sol["I(V1)"], 1e-15)
	anode, _ := d.Contact("anode")
	assert.InDelta(t, 0.5e-3, anode.Current(), 1e-15)

	row, ok := c.Row("a")
	require.True(t, ok)
	assert.Equal(t, assembly.PermutationEntry{Row: row}, col.Permutation()[0])
	assert.True(t, col.Permutation()[4].Eliminated)
}

func TestCircuitCoupledAC(t *testing.T) {
	c := circuit.New("ckt", quiet())
	require.NoError(t, c.Add(circuit.NewACVoltageSource("V1", []string{"in", "0"}, 0, 1, 0)))
	require.NoError(t, c.Add(circuit.NewResistor("R1", []string{"in", "a"}, 1e3)))

	d := New("cap", quiet())
	_, err := d.AddRegion(RegionParams{Name: "ox", Nodes: 2, Spacing: 1, Conductivity: 1e-3, Capacitance: 2e-6})
	require.NoError(t, err)
	_, err = d.AddCircuitContact("g", "ox", First, c, "a")
	require.NoError(t, err)
	_, err = d.AddContact("b", "ox", Last, 0)
	require.NoError(t, err)

	drv, _ := setup(d, c, config.NewDatabase())
	solve(t, drv, solver.Direct)

	const omega = 1e3
	res, err := drv.ACSolve(context.Background(), solver.Direct, omega/(2*math.Pi))
	require.NoError(t, err)
	require.True(t, res.Converged)

	got := c.ComplexSolution(solution.ACReal, solution.ACImag)["V(a)"]
	assert.InDelta(t, 0, cmplx.Abs(got-1/complex(2, 1)), 1e-12)

	r, _ := d.Region("ox")
	re, im := r.Store().Get(solution.ACReal), r.Store().Get(solution.ACImag)
	assert.InDelta(t, 0, cmplx.Abs(complex(re[0], im[0])-got), 1e-12)
}

func TestBuildErrors(t *testing.T) {
	d := New("x", nil)
	_, err := d.AddRegion(RegionParams{Name: "r", Nodes: 1, Spacing: 1, Conductivity: 1})
	assert.ErrorIs(t, err, ErrInvalidRegion)
	_, err = d.AddRegion(RegionParams{Name: "r", Nodes: 2, Spacing: 1, Conductivity: 1})
	require.NoError(t, err)
	_, err = d.AddRegion(RegionParams{Name: "r", Nodes: 2, Spacing: 1, Conductivity: 1})
	assert.ErrorIs(t, err, ErrDuplicate)
	_, err = d.AddContact("c", "missing", First, 0)
	assert.ErrorIs(t, err, ErrUnknownRegion)
	_, err = d.AddInterface("i", "r", First, "r", Last)
	assert.ErrorIs(t, err, ErrInvalidRegion)

	c := circuit.New("ckt", nil)
	require.NoError(t, c.Add(circuit.NewResistor("R1", []string{"a", "0"}, 1)))
	_, err = d.AddCircuitContact("c", "r", First, c, "nowhere")
	require.NoError(t, err)
	drv, _ := setup(d, c, config.NewDatabase())
	_, err = drv.Solve(context.Background(), solver.Direct, newton.TimeParams{})
	assert.ErrorIs(t, err, ErrUnknownNode)
}
