package solution

// Equation is a view of one variable of an entity: the global rows it
// owns and the live values updated by the Newton driver.
type Equation struct {
	Name   string
	Rows   []int
	Values []float64
	Policy Policy
}

// Span returns the lowest and highest row of the equation, or (-1, -1) if
// it owns no rows.
func (e Equation) Span() (int, int) {
	if len(e.Rows) == 0 {
		return -1, -1
	}
	lo, hi := e.Rows[0], e.Rows[0]
	for _, r := range e.Rows[1:] {
		if r < lo {
			lo = r
		}
		if r > hi {
			hi = r
		}
	}
	return lo, hi
}
