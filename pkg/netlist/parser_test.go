package netlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edp1096/toy-devsim/pkg/circuit"
	"github.com/edp1096/toy-devsim/pkg/config"
	"github.com/edp1096/toy-devsim/pkg/solver"
	"github.com/edp1096/toy-devsim/pkg/util"
)

const rcNetlist = `* RC low pass
V1 in 0 DC 0 AC 1 45
R1 in out 1k tc1=1e-3
C1 out 0
+ 1u        * continued value
D1 out 0 dmod
.model dmod D(is=1e-15 n=1.5
+ cjo=2p)
.options reltol=1e-4 maximum_iterations=40
.ac DEC 10 1 1meg
.end
R9 never parsed 1
`

func TestParse(t *testing.T) {
	data, err := Parse(rcNetlist)
	require.NoError(t, err)

	assert.Equal(t, "RC low pass", data.Title)
	require.Len(t, data.Elements, 4)
	assert.Equal(t, AnalysisAC, data.Analysis)
	assert.Equal(t, SweepParam{Sweep: "DEC", Points: 10, FStart: 1, FStop: 1e6}, data.ACParam)
	assert.Equal(t, map[string]string{"reltol": "1e-4", "maximum_iterations": "40"}, data.Options)
	assert.Len(t, data.Nodes, 3)

	c := data.Elements[2]
	assert.Equal(t, "C", c.Type)
	assert.InDelta(t, 1e-6, c.Value, 1e-18)

	v := data.Elements[0]
	assert.Equal(t, "dc", v.Params["type"])
	assert.Equal(t, "1", v.Params["acmag"])
	assert.Equal(t, "45", v.Params["acphase"])

	model := data.Models["dmod"]
	assert.Equal(t, "D", model.Type)
	assert.Equal(t, map[string]float64{"is": 1e-15, "n": 1.5, "cjo": 2e-12}, model.Params)
}

func TestParseAnalyses(t *testing.T) {
	tests := []struct {
		line  string
		check func(t *testing.T, d *NetlistData)
	}{
		{".op", func(t *testing.T, d *NetlistData) { assert.Equal(t, AnalysisOP, d.Analysis) }},
		{".tran 1u 1m", func(t *testing.T, d *NetlistData) {
			assert.Equal(t, AnalysisTRAN, d.Analysis)
			assert.Equal(t, 1e-6, d.TranParam.TStep)
			assert.Equal(t, 1e-6, d.TranParam.TMax)
		}},
		{".tran 1u 1m 0.5m 2u uic", func(t *testing.T, d *NetlistData) {
			assert.Equal(t, 0.5e-3, d.TranParam.TStart)
			assert.Equal(t, 2e-6, d.TranParam.TMax)
			assert.True(t, d.TranParam.UIC)
		}},
		{".dc V1 0 5 0.1", func(t *testing.T, d *NetlistData) {
			assert.Equal(t, AnalysisDC, d.Analysis)
			assert.Equal(t, "V1", d.DCParam.Source)
			assert.Equal(t, 0.1, d.DCParam.Increment)
		}},
		{".noise v(out) V1 oct 4 10 10k", func(t *testing.T, d *NetlistData) {
			assert.Equal(t, AnalysisNoise, d.Analysis)
			assert.Equal(t, "out", d.NoiseParam.Output)
			assert.Equal(t, "V1", d.NoiseParam.Source)
			assert.Equal(t, "OCT", d.NoiseParam.Sweep)
			assert.Equal(t, 1e4, d.NoiseParam.FStop)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			d, err := Parse("title\nR1 a 0 1\n" + tt.line + "\n")
			require.NoError(t, err)
			tt.check(t, d)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"bad value", "t\nR1 a 0 1x2\n", ErrValue},
		{"missing value", "t\nR1 a 0\n", ErrSyntax},
		{"unknown element", "t\nQ1 c b e model\n", ErrUnsupported},
		{"unknown dot", "t\n.four 1k V(out)\n", ErrUnsupported},
		{"bad sweep", "t\n.ac LOG 10 1 1k\n", ErrSyntax},
		{"reversed range", "t\n.ac DEC 10 1k 1\n", ErrValue},
		{"dangling continuation", "t\n+ 1k\n", ErrSyntax},
		{"noise output", "t\n.noise out V1 DEC 1 1 10\n", ErrSyntax},
		{"dc increment", "t\n.dc V1 0 1 -0.1\n", ErrValue},
		{"model type", "t\n.model q1 NPN(bf=100)\n", ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseValue(t *testing.T) {
	tests := map[string]float64{
		"1k":     1e3,
		"2.2meg": 2.2e6,
		"10u":    1e-5,
		"3n":     3e-9,
		"1e-3":   1e-3,
		"-4.7p":  -4.7e-12,
		"5V":     5,
		"2mA":    2e-3,
		"100":    100,
	}
	for in, want := range tests {
		got, err := ParseValue(in)
		require.NoError(t, err, in)
		assert.InEpsilon(t, want, got, 1e-12, in)
	}
	_, err := ParseValue("k1")
	assert.ErrorIs(t, err, ErrValue)
}

func TestBuild(t *testing.T) {
	data, err := Parse(`sources
V1 a 0 PULSE(0 1 1n 1n 1n 5n 20n)
I1 0 b SIN(0 1m 1k) AC 2
V2 c 0 PWL(0 0 1u 1 2u 0)
R1 a b 1k
R2 b c 2k
L1 c 0 1m
D1 b 0 dmod
.model dmod D is=1e-12
`)
	require.NoError(t, err)

	c, err := Build(data, nil)
	require.NoError(t, err)
	assert.Len(t, c.Elements(), 7)

	v1, ok := c.Element("V1")
	require.True(t, ok)
	assert.Equal(t, circuit.PULSE, v1.(*circuit.VoltageSource).Type)

	i1, _ := c.Element("I1")
	assert.Equal(t, circuit.SIN, i1.(*circuit.CurrentSource).Type)

	d1, _ := c.Element("D1")
	assert.Equal(t, 1e-12, d1.(*circuit.Diode).Is)

	assert.InDeltaSlice(t, []float64{1e-9, 2e-9, 7e-9, 8e-9}, c.Breakpoints(10e-9), 1e-18)
}

func TestBuildUndefinedModel(t *testing.T) {
	data, err := Parse("t\nD1 a 0 missing\n")
	require.NoError(t, err)
	_, err = Build(data, nil)
	assert.ErrorIs(t, err, ErrValue)
}

func TestBuildCoupling(t *testing.T) {
	data, err := Parse("transformer\nK1 L1 L2 0.5\nV1 a 0 1\nL1 a 0 1m\nL2 b 0 4m\nR1 b 0 1k\n")
	require.NoError(t, err)
	assert.NotContains(t, data.Nodes, "L1")

	ckt, err := Build(data, nil)
	require.NoError(t, err)
	e, ok := ckt.Element("K1")
	require.True(t, ok)
	k, ok := e.(*circuit.Mutual)
	require.True(t, ok)
	assert.InDelta(t, 1e-3, k.Inductance(), 1e-15)

	data, err = Parse("bad\nK1 L1 R1 0.5\nL1 a 0 1m\nR1 a 0 1\n")
	require.NoError(t, err)
	_, err = Build(data, nil)
	assert.ErrorIs(t, err, circuit.ErrUnknownElement)
}

func TestApplyOptions(t *testing.T) {
	db := config.NewDatabase()
	method, err := ApplyOptions(db, map[string]string{
		"reltol":    "1e-4",
		"itl1":      "40",
		"temp":      "27",
		"gmin":      "1p",
		"method":    "gear",
		"solver":    "iterative",
		"task_size": "512",
	})
	require.NoError(t, err)
	assert.Equal(t, util.BDF2, method)

	p, err := db.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 1e-4, p.RelError)
	assert.Equal(t, 40, p.MaxIterations)
	assert.InDelta(t, 300.15, p.Temperature, 1e-12)
	assert.Equal(t, 1e-12, p.CircuitGmin)
	assert.Equal(t, 512, p.TaskSize)
	assert.Equal(t, solver.Iterative, p.LinearSolver)

	_, err = ApplyOptions(db, map[string]string{"itl1": "2.5"})
	assert.ErrorIs(t, err, config.ErrInvalidValue)
	_, err = ApplyOptions(db, map[string]string{"bogus": "1"})
	assert.ErrorIs(t, err, config.ErrUnknownParameter)
	_, err = ApplyOptions(db, map[string]string{"method": "rk4"})
	assert.ErrorIs(t, err, ErrValue)
}
