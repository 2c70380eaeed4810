package util

import (
	"fmt"
	"math"
)

type IntegrationMethod int

const (
	NoIntegration IntegrationMethod = iota // DC, no time derivative
	BDF1
	BDF2
	Trapezoidal
)

func (m IntegrationMethod) String() string {
	switch m {
	case BDF1:
		return "BDF1"
	case BDF2:
		return "BDF2"
	case Trapezoidal:
		return "TR"
	default:
		return "DC"
	}
}

func ParseIntegrationMethod(s string) (IntegrationMethod, error) {
	switch s {
	case "bdf1", "BDF1", "be", "euler":
		return BDF1, nil
	case "bdf2", "BDF2", "gear":
		return BDF2, nil
	case "tr", "TR", "trap", "trapezoidal":
		return Trapezoidal, nil
	case "dc", "DC", "":
		return NoIntegration, nil
	}
	return NoIntegration, fmt.Errorf("unknown integration method %q", s)
}

type BackwardDifferentialFormula struct {
	coefficients []float64
	beta         float64
}

// Fixed-step BDF of order 1 and 2.
var BdfCoefficients = [2]BackwardDifferentialFormula{
	{[]float64{1.0}, 1.0},
	{[]float64{4.0 / 3.0, -1.0 / 3.0}, 2.0 / 3.0},
}

// Coefficients weight the charge (A) and resistive current (B) of the
// current and two previous time points:
//
//	A0*Q0 + A1*Q1 + A2*Q2 + B0*I0 + B1*I1 + B2*I2 = 0
type Coefficients struct {
	Method     IntegrationMethod
	Tdelta     float64
	TdeltaPrev float64

	A0, A1, A2 float64
	B0, B1, B2 float64
}

// GetIntegratorCoeffs returns the coefficients for step h with previous
// step hPrev (ignored by BDF1 and TR).
func GetIntegratorCoeffs(method IntegrationMethod, h, hPrev float64) (Coefficients, error) {
	c := Coefficients{Method: method, Tdelta: h, TdeltaPrev: hPrev, B0: 1}
	if method == NoIntegration {
		return c, nil
	}
	if h <= 0 || math.IsNaN(h) || math.IsInf(h, 0) {
		return c, fmt.Errorf("invalid time step %g", h)
	}

	switch method {
	case BDF1:
		coeffs := GetBDFcoeffs(1, h)
		c.A0, c.A1 = coeffs[0], coeffs[1]
	case Trapezoidal:
		c.A0 = GetTrapezoidalCoeffs(h)
		c.A1 = -c.A0
		c.B1 = 1
	case BDF2:
		if hPrev <= 0 {
			return c, fmt.Errorf("BDF2 requires a previous time step, got %g", hPrev)
		}
		if h == hPrev {
			coeffs := GetBDFcoeffs(2, h)
			c.A0, c.A1, c.A2 = coeffs[0], coeffs[1], coeffs[2]
			break
		}
		c.A0 = (2*h + hPrev) / (h * (h + hPrev))
		c.A1 = -(h + hPrev) / (h * hPrev)
		c.A2 = h / (hPrev * (h + hPrev))
	default:
		return c, fmt.Errorf("unknown integration method %d", method)
	}

	return c, nil
}

// GetBDFcoeffs returns the fixed-step derivative weights for Q0..Q(order).
func GetBDFcoeffs(order int, dt float64) []float64 {
	if order < 1 || order > len(BdfCoefficients) {
		order = 1
	}

	bdf := BdfCoefficients[order-1]
	coeffs := make([]float64, order+1)
	scale := 1.0 / (bdf.beta * dt)
	coeffs[0] = scale

	for i := 1; i <= order; i++ {
		coeffs[i] = -bdf.coefficients[i-1] * scale
	}

	return coeffs
}

func GetTrapezoidalCoeffs(dt float64) float64 {
	return 2.0 / dt
}
