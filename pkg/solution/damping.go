package solution

import (
	"fmt"
	"math"
)

type Policy int

const (
	Default Policy = iota
	LogDamp
	Positive
)

func (p Policy) String() string {
	switch p {
	case LogDamp:
		return "log_damp"
	case Positive:
		return "positive"
	default:
		return "default"
	}
}

func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "default", "none":
		return Default, nil
	case "log_damp", "logdamp", "log":
		return LogDamp, nil
	case "positive":
		return Positive, nil
	}
	return Default, fmt.Errorf("unknown update policy %q", s)
}

// Damper applies one update under a policy.
type Damper struct {
	Reference float64 // log damping scale
	Halvings  int     // positivity: update halvings before falling back to Floor
	Floor     float64 // positivity: fraction of the prior value used as last resort
}

func DefaultDamper(reference float64) Damper {
	return Damper{Reference: reference, Halvings: 10, Floor: 0.1}
}

// Apply returns the new value and the update actually applied.
func (d Damper) Apply(p Policy, old, update float64) (float64, float64) {
	switch p {
	case LogDamp:
		update = d.logDamp(update)
	case Positive:
		return d.positive(old, update)
	}
	return old + update, update
}

func (d Damper) logDamp(update float64) float64 {
	ref := d.Reference
	mag := math.Abs(update)
	if ref <= 0 || mag <= ref {
		return update
	}
	return math.Copysign(ref*(1+math.Log(mag/ref)), update)
}

func (d Damper) positive(old, update float64) (float64, float64) {
	if !(old > 0) {
		panic(fmt.Sprintf("solution: positive update policy applied to non-positive value %g", old))
	}

	next := old + update
	for i := 0; next <= 0 && i < d.Halvings; i++ {
		update *= 0.5
		next = old + update
	}
	if next <= 0 {
		floor := d.Floor
		if floor <= 0 || floor >= 1 {
			floor = 0.1
		}
		next = old * floor
	}
	return next, next - old
}
