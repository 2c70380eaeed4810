package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edp1096/toy-devsim/pkg/precond"
	"github.com/edp1096/toy-devsim/pkg/solver"
)

func TestDefaults(t *testing.T) {
	p, err := NewDatabase().Snapshot()
	require.NoError(t, err)
	assert.Equal(t, precond.Native, p.DirectSolver)
	assert.Equal(t, solver.Direct, p.LinearSolver)
	assert.Equal(t, 20, p.MaxIterations)
	assert.Equal(t, 5, p.MaxDivergence)
	assert.Equal(t, 30, p.GMRES.Restart)
}

func TestSetCoercesAndValidates(t *testing.T) {
	db := NewDatabase()
	require.NoError(t, db.Set(AbsoluteError, "1e-6"))
	require.NoError(t, db.Set(MaximumIterations, 7.0))
	require.NoError(t, db.Set(RelativeError, 3))

	assert.ErrorIs(t, db.Set("no_such", 1), ErrUnknownParameter)
	assert.ErrorIs(t, db.Set(MaximumIterations, 1.5), ErrInvalidValue)
	assert.ErrorIs(t, db.Set(DirectSolver, 3), ErrInvalidValue)
	assert.ErrorIs(t, db.Set(SolverCallback, "python"), ErrInvalidValue)

	p, err := db.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 1e-6, p.AbsError)
	assert.Equal(t, 3.0, p.RelError)
	assert.Equal(t, 7, p.MaxIterations)
}

func TestSnapshotRejectsUnknownSolver(t *testing.T) {
	db := NewDatabase()
	require.NoError(t, db.Set(DirectSolver, "pardiso"))
	_, err := db.Snapshot()
	assert.ErrorIs(t, err, ErrUnknownSolver)

	db = NewDatabase()
	require.NoError(t, db.Set(LinearSolver, "bicgstab"))
	_, err = db.Snapshot()
	assert.ErrorIs(t, err, ErrUnknownSolver)
}

func TestExternalNeedsCallback(t *testing.T) {
	db := NewDatabase()
	require.NoError(t, db.Set(DirectSolver, "external"))
	_, err := db.Snapshot()
	assert.ErrorIs(t, err, ErrInvalidValue)

	cb := func(precond.ExternalRequest) precond.ExternalResponse { return precond.ExternalResponse{OK: true} }
	require.NoError(t, db.Set(SolverCallback, cb))
	p, err := db.Snapshot()
	require.NoError(t, err)
	assert.NotNil(t, p.Callback)
}

func TestSnapshotIsolation(t *testing.T) {
	db := NewDatabase()
	before, err := db.Snapshot()
	require.NoError(t, err)
	require.NoError(t, db.Set(MaximumIterations, 3))
	assert.Equal(t, 20, before.MaxIterations)
}
