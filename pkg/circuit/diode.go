package circuit

import (
	"math"

	"github.com/edp1096/toy-devsim/internal/consts"
	"github.com/edp1096/toy-devsim/pkg/assembly"
)

// expLimit caps the exponent; the current continues linearly beyond it.
const expLimit = 40.0

type Diode struct {
	BaseElement
	// Model parameters
	Is   float64 // Saturation current
	N    float64 // Emission coefficient
	Cj0  float64 // Zero-bias junction capacitance
	M    float64 // Grading coefficient
	Vj   float64 // Built-in potential
	Gmin float64 // Minimum conductance

	// Temperature parameters
	Eg  float64 // Energy gap (eV)
	Xti float64 // Saturation current temperature exponent
	Tt  float64 // Transit time
}

func NewDiode(name string, nodeNames []string) *Diode {
	d := &Diode{BaseElement: newBase(name, nodeNames, 0)}
	d.setDefaultParameters()
	return d
}

func (d *Diode) GetType() string { return "D" }
func (d *Diode) NonLinear() bool { return true }

func (d *Diode) setDefaultParameters() {
	d.Is = 1e-14
	d.N = 1.0
	d.Cj0 = 0.0
	d.M = 0.5
	d.Vj = 1.0
	d.Gmin = 1e-12

	d.Eg = 1.11
	d.Xti = 3.0
	d.Tt = 0.0
}

func (d *Diode) SetModelParameters(params map[string]float64) {
	for k, p := range map[string]*float64{
		"is":  &d.Is,
		"n":   &d.N,
		"cj0": &d.Cj0,
		"cjo": &d.Cj0,
		"m":   &d.M,
		"vj":  &d.Vj,
		"eg":  &d.Eg,
		"xti": &d.Xti,
		"tt":  &d.Tt,
	} {
		if v, ok := params[k]; ok {
			*p = v
		}
	}
}

func (d *Diode) temperatureAdjustedIs(temp float64) float64 {
	vt := consts.ThermalVoltage(temp)
	// is(T2) = is(T1) * (T2/T1)^(XTI/N) * exp(-(Eg/(2*vt))*(T2/T1 - 1))
	ratio := temp / consts.REFTEMP
	egfact := -d.Eg / (2 * vt) * (ratio - 1.0)
	return d.Is * math.Pow(ratio, d.Xti/d.N) * math.Exp(egfact)
}

// current returns the junction current and its derivative, without gmin.
func (d *Diode) current(vd, temp float64) (float64, float64) {
	nvt := d.N * consts.ThermalVoltage(temp)
	is := d.temperatureAdjustedIs(temp)

	if vd <= -3.0*nvt {
		return -is, 0
	}
	arg := vd / nvt
	if arg > expLimit {
		e := math.Exp(expLimit)
		return is * (e*(1+arg-expLimit) - 1), is * e / nvt
	}
	e := math.Exp(arg)
	return is * (e - 1), is * e / nvt
}

// charge returns the depletion plus diffusion charge and its derivative.
func (d *Diode) charge(vd, id, gd float64) (float64, float64) {
	var q, c float64
	if d.Cj0 != 0 {
		if vd < 0 {
			arg := 1 - vd/d.Vj
			if d.M == 1 {
				q = -d.Cj0 * d.Vj * math.Log(arg)
			} else {
				q = d.Cj0 * d.Vj * (1 - math.Pow(arg, 1-d.M)) / (1 - d.M)
			}
			c = d.Cj0 / math.Pow(arg, d.M)
		} else {
			q = d.Cj0 * (vd + d.M*vd*vd/(2*d.Vj))
			c = d.Cj0 * (1 + d.M*vd/d.Vj)
		}
	}
	return q + d.Tt*id, c + d.Tt*gd
}

func (d *Diode) load(s stamp, st *state) {
	n1, n2 := d.Nodes[0], d.Nodes[1]
	vd := st.v(n1) - st.v(n2)
	id, gd := d.current(vd, st.temp)

	switch st.mode {
	case assembly.DC:
		s.flow(n1, n2, id+d.Gmin*vd)
		s.conductance(n1, n2, gd+d.Gmin)
	case assembly.Time:
		q, c := d.charge(vd, id, gd)
		s.flow(n1, n2, q)
		s.conductance(n1, n2, c)
	}
}
