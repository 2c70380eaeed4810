// Package assembly gathers triplet contributions from bulk regions,
// contacts, interfaces, the circuit and user equations into the global
// matrix and residual.
package assembly

import (
	"fmt"
	"sort"
)

type WhatToLoad int

const (
	RHS WhatToLoad = iota
	MatrixOnly
	MatrixAndRHS
	PermutationsOnly
)

func (w WhatToLoad) String() string {
	switch w {
	case RHS:
		return "RHS"
	case MatrixOnly:
		return "MATRIXONLY"
	case MatrixAndRHS:
		return "MATRIXANDRHS"
	case PermutationsOnly:
		return "PERMUTATIONSONLY"
	}
	return fmt.Sprintf("WhatToLoad(%d)", int(w))
}

func (w WhatToLoad) Matrix() bool { return w == MatrixOnly || w == MatrixAndRHS }
func (w WhatToLoad) RHS() bool    { return w == RHS || w == MatrixAndRHS }

type TimeMode int

const (
	DC TimeMode = iota
	Time
)

func (t TimeMode) String() string {
	if t == Time {
		return "TIME"
	}
	return "DC"
}

// ResidualSign converts an assembled residual f into the right-hand side
// of J dx = -f.
const ResidualSign = -1.0

// PermutationEntry tells where contributions to a row go. An eliminated
// row receives nothing.
type PermutationEntry struct {
	Eliminated bool
	Row        int
}

// PermutationMap redirects bulk rows. Rows absent from the map are kept.
type PermutationMap map[int]PermutationEntry

// Target returns the row a permuted contribution to row lands on.
func (p PermutationMap) Target(row int) (int, bool) {
	e, ok := p[row]
	if !ok {
		return row, true
	}
	if e.Eliminated {
		return -1, false
	}
	return e.Row, true
}

// resolve points every redirect at the end of its chain. A chain ending on
// an eliminated row eliminates its source; a cycle is an error.
func (p PermutationMap) resolve() error {
	rows := make([]int, 0, len(p))
	for r := range p {
		rows = append(rows, r)
	}
	sort.Ints(rows)

	for _, r := range rows {
		e := p[r]
		if e.Eliminated {
			continue
		}
		seen := map[int]bool{r: true}
		for {
			next, ok := p[e.Row]
			if !ok {
				break
			}
			if next.Eliminated {
				e = next
				break
			}
			if seen[e.Row] {
				return fmt.Errorf("%w: redirect cycle through row %d", ErrRowRange, r)
			}
			seen[e.Row] = true
			e = next
		}
		p[r] = e
	}
	return nil
}

// Eliminated returns the eliminated rows in ascending order.
func (p PermutationMap) Eliminated() []int {
	var rows []int
	for r, e := range p {
		if e.Eliminated {
			rows = append(rows, r)
		}
	}
	sort.Ints(rows)
	return rows
}

// Equal reports whether both maps hold the same entries.
func (p PermutationMap) Equal(q PermutationMap) bool {
	if len(p) != len(q) {
		return false
	}
	for r, e := range p {
		if f, ok := q[r]; !ok || f != e {
			return false
		}
	}
	return true
}
