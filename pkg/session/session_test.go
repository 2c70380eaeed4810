package session

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edp1096/toy-devsim/pkg/assembly"
	"github.com/edp1096/toy-devsim/pkg/circuit"
	"github.com/edp1096/toy-devsim/pkg/config"
	"github.com/edp1096/toy-devsim/pkg/device"
	"github.com/edp1096/toy-devsim/pkg/newton"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestEmptySession(t *testing.T) {
	s := New()
	_, err := s.Solve(context.Background(), newton.TimeParams{})
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestDeviceAndCircuit(t *testing.T) {
	c := circuit.New("ckt", quiet())
	require.NoError(t, c.Add(circuit.NewPulseVoltageSource("V1", []string{"in", "0"}, 0, 2, 1, 1, 1, 2, 10)))
	require.NoError(t, c.Add(circuit.NewResistor("R1", []string{"in", "a"}, 1e3)))

	d := device.New("res", quiet())
	_, err := d.AddRegion(device.RegionParams{Name: "bulk", Nodes: 3, Spacing: 0.5, Conductivity: 1e-3})
	require.NoError(t, err)
	_, err = d.AddCircuitContact("top", "bulk", device.First, c, "a")
	require.NoError(t, err)
	_, err = d.AddCircuitContact("bot", "bulk", device.Last, c, "0")
	require.NoError(t, err)

	s := New(WithLogger(quiet()))
	s.SetCircuit(c)
	s.AddDevice(d)

	c.Sources()["V1"].SetValue(1)
	res, err := s.Solve(context.Background(), newton.TimeParams{})
	require.NoError(t, err)
	require.True(t, res.Converged)

	sol := s.Solution()
	assert.InDelta(t, 0.5, sol["V(a)"], 1e-12)
	assert.InDelta(t, 0.5e-3, sol["I(res.top)"], 1e-15)
	assert.InDelta(t, -0.5e-3, sol["I(res.bot)"], 1e-15)

	drv, err := s.Driver()
	require.NoError(t, err)
	require.Len(t, drv.Layout().Spans, 2)
	assert.Equal(t, "res", drv.Layout().Spans[0].Name)
	assert.Equal(t, "ckt", drv.Layout().Spans[1].Name)
}

func TestGminFromDatabase(t *testing.T) {
	c := circuit.New("ckt", quiet())
	require.NoError(t, c.Add(circuit.NewDCCurrentSource("I1", []string{"a", "0"}, 1e-3)))
	require.NoError(t, c.Add(circuit.NewCapacitor("C1", []string{"a", "0"}, 1e-9)))

	db := config.NewDatabase()
	require.NoError(t, db.Set(config.CircuitGmin, 1e-3))
	s := New(WithDatabase(db), WithLogger(quiet()))
	s.SetCircuit(c)

	res, err := s.Solve(context.Background(), newton.TimeParams{})
	require.NoError(t, err)
	require.True(t, res.Converged)
	assert.InDelta(t, 1.0, s.Solution()["V(a)"], 1e-9)
}

func TestUserEquationRebuildsDriver(t *testing.T) {
	c := circuit.New("ckt", quiet())
	require.NoError(t, c.Add(circuit.NewResistor("R1", []string{"a", "0"}, 1)))
	s := New(WithLogger(quiet()))
	s.SetCircuit(c)

	first, err := s.Driver()
	require.NoError(t, err)

	// Inject 2 A into node a.
	s.AddUserEquation("inject", func(what assembly.WhatToLoad, mode assembly.TimeMode) ([]float64, []float64, error) {
		if mode != assembly.DC {
			return nil, nil, nil
		}
		return []float64{0, -2}, nil, nil
	})
	second, err := s.Driver()
	require.NoError(t, err)
	assert.NotSame(t, first, second)

	res, err := s.Solve(context.Background(), newton.TimeParams{})
	require.NoError(t, err)
	require.True(t, res.Converged)
	assert.InDelta(t, 2.0, s.Solution()["V(a)"], 1e-12)
}

func TestBreakpointsAreDistinct(t *testing.T) {
	c := circuit.New("ckt", quiet())
	require.NoError(t, c.Add(circuit.NewPulseVoltageSource("V1", []string{"a", "0"}, 0, 1, 1, 1, 1, 2, 10)))
	require.NoError(t, c.Add(circuit.NewPulseVoltageSource("V2", []string{"b", "0"}, 0, 1, 1, 1, 1, 2, 10)))
	s := New()
	s.SetCircuit(c)
	assert.Equal(t, []float64{1, 2, 4, 5}, s.Breakpoints(6))
}
