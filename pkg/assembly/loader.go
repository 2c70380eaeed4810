package assembly

type Triplet struct {
	Row   int
	Col   int
	Value float64
}

type RHSEntry struct {
	Row   int
	Value float64
}

// Loader is handed to a contribution source. It filters by what is being
// loaded and routes permuted rows through the permutation map, so a
// source never needs to know which rows were claimed elsewhere.
type Loader struct {
	what   WhatToLoad
	mode   TimeMode
	time   float64
	offset int
	perm   PermutationMap

	matrix []Triplet
	rhs    []RHSEntry
	irhs   []RHSEntry
	claims []claim
}

type claim struct {
	row   int
	entry PermutationEntry
}

func newLoader(what WhatToLoad, mode TimeMode, t float64, perm PermutationMap) *Loader {
	return &Loader{what: what, mode: mode, time: t, perm: perm}
}

func (l *Loader) What() WhatToLoad { return l.what }
func (l *Loader) Mode() TimeMode   { return l.mode }
func (l *Loader) Time() float64    { return l.time }

// Offset is added to rows and columns of unpermuted contributions; the
// circuit assembles with local node numbers.
func (l *Loader) Offset() int { return l.offset }

// AddMatrix adds an entry to a row owned by the caller.
func (l *Loader) AddMatrix(row, col int, v float64) {
	if !l.what.Matrix() {
		return
	}
	l.matrix = append(l.matrix, Triplet{row + l.offset, col + l.offset, v})
}

// AddRHS adds a residual entry to a row owned by the caller.
func (l *Loader) AddRHS(row int, v float64) {
	if !l.what.RHS() {
		return
	}
	l.rhs = append(l.rhs, RHSEntry{row + l.offset, v})
}

// AddImagRHS adds to the imaginary part of an AC excitation.
func (l *Loader) AddImagRHS(row int, v float64) {
	if !l.what.RHS() {
		return
	}
	l.irhs = append(l.irhs, RHSEntry{row + l.offset, v})
}

// AddPermutedMatrix adds a bulk entry; the row may be redirected or dropped.
func (l *Loader) AddPermutedMatrix(row, col int, v float64) {
	if !l.what.Matrix() {
		return
	}
	if r, ok := l.perm.Target(row); ok {
		l.matrix = append(l.matrix, Triplet{r, col, v})
	}
}

func (l *Loader) AddPermutedRHS(row int, v float64) {
	if !l.what.RHS() {
		return
	}
	if r, ok := l.perm.Target(row); ok {
		l.rhs = append(l.rhs, RHSEntry{r, v})
	}
}

// Eliminate claims row during the permutation pass.
func (l *Loader) Eliminate(row int) {
	if l.what == PermutationsOnly {
		l.claims = append(l.claims, claim{row, PermutationEntry{Eliminated: true, Row: -1}})
	}
}

// Redirect sends bulk contributions of row to target during the
// permutation pass.
func (l *Loader) Redirect(row, target int) {
	if l.what == PermutationsOnly {
		l.claims = append(l.claims, claim{row, PermutationEntry{Row: target}})
	}
}

func (l *Loader) reset(offset int) {
	l.offset = offset
	l.matrix = l.matrix[:0]
	l.rhs = l.rhs[:0]
	l.irhs = l.irhs[:0]
	l.claims = l.claims[:0]
}
