package device

import (
	"math"

	"github.com/edp1096/toy-devsim/pkg/assembly"
	"github.com/edp1096/toy-devsim/pkg/solution"
)

// RegionParams describes a uniform 1-D region discretized into Nodes
// points.
type RegionParams struct {
	Name         string
	Nodes        int
	Spacing      float64
	Conductivity float64
	// Capacitance per unit length; zero makes the region purely resistive.
	Capacitance float64
	// Saturation limits the edge flux to Conductivity*Saturation/Spacing
	// through a tanh law. Zero keeps the region linear.
	Saturation float64
	Variable   string
	Policy     solution.Policy
}

// Region owns one variable on a line of nodes. Bulk contributions go
// through the permuted loader calls so contacts and interfaces can claim
// the end rows.
type Region struct {
	RegionParams
	store *solution.Store
	base  int
}

func newRegion(p RegionParams) *Region {
	if p.Variable == "" {
		p.Variable = "Potential"
	}
	return &Region{RegionParams: p, store: solution.NewStore(p.Nodes)}
}

func (r *Region) Store() *solution.Store { return r.store }

// Values returns the live values of the region variable.
func (r *Region) Values() []float64 { return r.store.Get(solution.Current) }

// Row returns the global row of node i.
func (r *Region) Row(i int) int { return r.base + i }

func (r *Region) end(e End) int {
	if e == Last {
		return r.Nodes - 1
	}
	return 0
}

func (r *Region) rows() []int {
	out := make([]int, r.Nodes)
	for i := range out {
		out[i] = r.base + i
	}
	return out
}

// flux returns the edge flux for a potential drop and its derivative.
func (r *Region) flux(dv float64) (float64, float64) {
	g := r.Conductivity / r.Spacing
	if r.Saturation <= 0 {
		return g * dv, g
	}
	t := math.Tanh(dv / r.Saturation)
	return g * r.Saturation * t, g * (1 - t*t)
}

func (r *Region) volume(i int) float64 {
	if i == 0 || i == r.Nodes-1 {
		return r.Spacing / 2
	}
	return r.Spacing
}

// EdgeFlux returns the flux leaving node i toward node j.
func (r *Region) EdgeFlux(i, j int) float64 {
	x := r.Values()
	f, _ := r.flux(x[i] - x[j])
	return f
}

func (r *Region) Assemble(l *assembly.Loader) error {
	if l.What() == assembly.PermutationsOnly {
		return nil
	}
	x := r.Values()

	switch l.Mode() {
	case assembly.DC:
		for i := 0; i < r.Nodes-1; i++ {
			f, g := r.flux(x[i] - x[i+1])
			a, b := r.Row(i), r.Row(i+1)
			l.AddPermutedRHS(a, f)
			l.AddPermutedRHS(b, -f)
			l.AddPermutedMatrix(a, a, g)
			l.AddPermutedMatrix(a, b, -g)
			l.AddPermutedMatrix(b, a, -g)
			l.AddPermutedMatrix(b, b, g)
		}
	case assembly.Time:
		if r.Capacitance == 0 {
			return nil
		}
		for i := 0; i < r.Nodes; i++ {
			c := r.Capacitance * r.volume(i)
			l.AddPermutedRHS(r.Row(i), c*x[i])
			l.AddPermutedMatrix(r.Row(i), r.Row(i), c)
		}
	}
	return nil
}
