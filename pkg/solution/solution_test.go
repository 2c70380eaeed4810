package solution

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreBackupRestore(t *testing.T) {
	s := NewStore(3)
	live := s.Get(Current)
	copy(live, []float64{1, 2, 3})
	s.Backup(BackupTag)

	live[1] = 42
	require.NoError(t, s.Set(ACReal, []float64{7, 8, 9}))
	s.Restore(BackupTag)

	assert.Equal(t, []float64{1, 2, 3}, live)
	assert.True(t, s.Has(Current+BackupTag))
	assert.Error(t, s.Set("bad", []float64{1}))
	assert.Error(t, s.Copy("missing", Current))
}

func TestLogDampBound(t *testing.T) {
	d := DefaultDamper(0.0259)
	for _, raw := range []float64{1e-4, 0.0259, 0.1, 1, 10, 1e3, -5, -1e6} {
		_, applied := d.Apply(LogDamp, 0, raw)
		bound := d.Reference * (1 + math.Log(1+math.Abs(raw)/d.Reference))
		assert.LessOrEqual(t, math.Abs(applied), math.Max(bound, math.Abs(raw)), "raw=%g", raw)
		if math.Abs(raw) > d.Reference {
			assert.LessOrEqual(t, math.Abs(applied), bound, "raw=%g", raw)
		} else {
			assert.Equal(t, raw, applied)
		}
		assert.Equal(t, math.Signbit(raw), math.Signbit(applied))
	}
}

func TestPositiveStaysPositive(t *testing.T) {
	d := DefaultDamper(1)
	cases := []struct{ old, upd float64 }{
		{1, -0.5},
		{1, -1},
		{1, -3},
		{1e-20, -1e10},
		{5, math.Inf(-1)},
	}
	for _, tc := range cases {
		v := tc.old
		for i := 0; i < 5; i++ {
			next, applied := d.Apply(Positive, v, tc.upd)
			assert.Greater(t, next, 0.0, "old=%g upd=%g", v, tc.upd)
			assert.InDelta(t, next-v, applied, 1e-12*math.Max(1, v))
			v = next
		}
	}

	next, _ := d.Apply(Positive, 2, 3)
	assert.Equal(t, 5.0, next)
}

func TestPositiveRejectsNonPositiveStart(t *testing.T) {
	d := DefaultDamper(1)
	assert.Panics(t, func() { d.Apply(Positive, 0, 1) })
	assert.Panics(t, func() { d.Apply(Positive, -1, 1) })
}

func TestEquationSpan(t *testing.T) {
	lo, hi := Equation{Rows: []int{4, 2, 9}}.Span()
	assert.Equal(t, 2, lo)
	assert.Equal(t, 9, hi)
	lo, _ = Equation{}.Span()
	assert.Equal(t, -1, lo)
}
