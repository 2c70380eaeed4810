package analysis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edp1096/toy-devsim/internal/consts"
	"github.com/edp1096/toy-devsim/pkg/circuit"
	"github.com/edp1096/toy-devsim/pkg/config"
	"github.com/edp1096/toy-devsim/pkg/newton"
	"github.com/edp1096/toy-devsim/pkg/session"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newSession(t *testing.T, elems ...circuit.Element) *session.Session {
	t.Helper()
	c := circuit.New("test", quiet())
	for _, e := range elems {
		require.NoError(t, c.Add(e))
	}
	s := session.New(session.WithLogger(quiet()))
	s.SetCircuit(c)
	return s
}

func run(t *testing.T, a Analysis, s *session.Session) map[string][]float64 {
	t.Helper()
	require.NoError(t, a.Setup(s))
	require.NoError(t, a.Execute(context.Background()))
	return a.GetResults()
}

func divider(t *testing.T) *session.Session {
	return newSession(t,
		circuit.NewACVoltageSource("V1", []string{"in", "0"}, 1, 1, 0),
		circuit.NewResistor("R1", []string{"in", "out"}, 1e3),
		circuit.NewResistor("R2", []string{"out", "0"}, 1e3),
	)
}

func TestOperatingPoint(t *testing.T) {
	res := run(t, NewOP(), divider(t))
	assert.InDelta(t, 0.5, res["V(out)"][0], 1e-12)
	assert.InDelta(t, 0.5e-3, res["I(V1)"][0], 1e-15)
}

func TestOperatingPointReportsStatus(t *testing.T) {
	s := newSession(t,
		circuit.NewDCVoltageSource("V1", []string{"1", "0"}, 5),
		circuit.NewResistor("R1", []string{"1", "2"}, 1e3),
		circuit.NewDiode("D1", []string{"2", "0"}),
	)
	require.NoError(t, s.Database().Set(config.MaximumIterations, 2))
	op := NewOP()
	op.GminSteps = 0
	require.NoError(t, op.Setup(s))

	err := op.Execute(context.Background())
	var se *SolveError
	require.True(t, errors.As(err, &se))
	assert.ErrorIs(t, err, ErrNotConverged)
	assert.Equal(t, newton.MaxIterations, se.Status)
}

func TestDiodeOperatingPoint(t *testing.T) {
	s := newSession(t,
		circuit.NewDCVoltageSource("V1", []string{"1", "0"}, 5),
		circuit.NewResistor("R1", []string{"1", "2"}, 1e3),
		circuit.NewDiode("D1", []string{"2", "0"}),
	)
	require.NoError(t, s.Database().Set(config.MaximumIterations, 50))
	res := run(t, NewOP(), s)
	assert.InDelta(t, 0.69, res["V(2)"][0], 0.03)
}

func TestDCSweep(t *testing.T) {
	s := divider(t)
	res := run(t, NewDCSweep("V1", 0, 1, 0.25), s)

	require.Equal(t, []float64{0, 0.25, 0.5, 0.75, 1}, res["SWEEP"])
	for i, v := range res["SWEEP"] {
		assert.InDelta(t, v/2, res["V(out)"][i], 1e-12)
	}
	src, _ := s.Circuit().Element("V1")
	assert.Equal(t, 1.0, src.GetValue())

	err := NewDCSweep("V9", 0, 1, 1).Setup(s)
	assert.ErrorIs(t, err, ErrUnknownSrc)
}

func TestFrequencyPoints(t *testing.T) {
	dec := FrequencyPoints(1, 100, 2, "DEC")
	require.Len(t, dec, 5)
	assert.InDeltaSlice(t, []float64{1, math.Sqrt(10), 10, 10 * math.Sqrt(10), 100}, dec, 1e-9)

	assert.InDeltaSlice(t, []float64{1, 2, 4, 8}, FrequencyPoints(1, 8, 1, "OCT"), 1e-12)
	assert.Equal(t, []float64{10, 20, 30}, FrequencyPoints(10, 30, 3, "LIN"))
	assert.Equal(t, []float64{5}, FrequencyPoints(5, 5, 1, "LIN"))
	assert.Nil(t, FrequencyPoints(1, 10, 3, "LOG"))
}

func TestACLowPass(t *testing.T) {
	const r, cf = 1e3, 1e-6
	s := newSession(t,
		circuit.NewACVoltageSource("V1", []string{"in", "0"}, 0, 1, 0),
		circuit.NewResistor("R1", []string{"in", "out"}, r),
		circuit.NewCapacitor("C1", []string{"out", "0"}, cf),
	)
	res := run(t, NewAC(1, 1e6, 10, "DEC"), s)

	require.Len(t, res["FREQ"], 61)
	fc := 1 / (2 * math.Pi * r * cf)
	for i, f := range res["FREQ"] {
		want := 1 / math.Sqrt(1+(f/fc)*(f/fc))
		assert.InEpsilon(t, want, res["V(out)_MAG"][i], 1e-6, "f=%g", f)
		assert.InDelta(t, -math.Atan(f/fc)*180/math.Pi, res["V(out)_PHASE"][i], 1e-4, "f=%g", f)
	}
}

func TestNoiseDivider(t *testing.T) {
	s := divider(t)
	res := run(t, NewNoise("out", "V1", 1e3, 1e4, 1, "DEC"), s)

	require.Len(t, res["FREQ"], 2)
	kt4 := 4 * consts.BOLTZMANN * 300.15
	for i := range res["FREQ"] {
		assert.InEpsilon(t, math.Sqrt(kt4*500), res["ONOISE"][i], 1e-9)
		assert.InEpsilon(t, 0.5, res["GAIN"][i], 1e-9)
		assert.InEpsilon(t, 2*math.Sqrt(kt4*500), res["INOISE"][i], 1e-9)
		assert.InEpsilon(t, res["ONOISE(R1)"][i], res["ONOISE(R2)"][i], 1e-9)
	}

	assert.ErrorIs(t, NewNoise("out", "R1", 1, 10, 1, "DEC").Setup(s), ErrUnknownSrc)
}

func TestTransientRC(t *testing.T) {
	const r, cf, stop = 1e3, 1e-6, 5e-3
	s := newSession(t,
		circuit.NewPWLVoltageSource("V1", []string{"in", "0"}, []float64{0, 1e-6}, []float64{0, 1}),
		circuit.NewResistor("R1", []string{"in", "out"}, r),
		circuit.NewCapacitor("C1", []string{"out", "0"}, cf),
	)
	tr := NewTransient(0, stop, 1e-4, 0, false)
	res := run(t, tr, s)

	times := res["TIME"]
	require.NotEmpty(t, times)
	assert.Equal(t, 0.0, times[0])
	assert.InDelta(t, stop, times[len(times)-1], 1e-12)
	assert.Contains(t, times, 1e-6)
	assert.Greater(t, tr.Accepted, 50)

	out := res["V(out)"]
	require.Len(t, out, len(times))
	assert.InDelta(t, 1-math.Exp(-stop/(r*cf)), out[len(out)-1], 1e-3)
	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i], out[i-1]-1e-9, "t=%g", times[i])
	}
}

func TestTransientUIC(t *testing.T) {
	s := newSession(t,
		circuit.NewDCVoltageSource("V1", []string{"in", "0"}, 1),
		circuit.NewResistor("R1", []string{"in", "out"}, 1e3),
		circuit.NewCapacitor("C1", []string{"out", "0"}, 1e-6),
	)
	tr := NewTransient(1e-3, 2e-3, 1e-4, 0, true)
	res := run(t, tr, s)

	assert.GreaterOrEqual(t, res["TIME"][0], 1e-3)
	assert.InDelta(t, 1-math.Exp(-2), res["V(out)"][len(res["V(out)"])-1], 2e-2)
}
