package fields_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ucldas/internal/da/daerr"
	"github.com/banshee-data/ucldas/internal/da/fields"
	"github.com/banshee-data/ucldas/internal/testutil"
)

func TestNewVariables(t *testing.T) {
	t.Parallel()

	v := fields.NewVariables("v", "u", "v", "snow_depth")
	assert.Equal(t, fields.Variables{"snow_depth", "u", "v"}, v)
	assert.True(t, v.Contains("u"))
	assert.False(t, v.Contains("w"))
	assert.True(t, fields.NewVariables("u").SubsetOf(v))
	assert.False(t, fields.NewVariables("u", "w").SubsetOf(v))
	assert.Equal(t, fields.Variables{"w"}, fields.NewVariables("u", "w").Missing(v))
	assert.Equal(t, "[snow_depth, u, v]", v.String())
}

func TestNewIncrementRejectsForeignVariable(t *testing.T) {
	t.Parallel()

	geom := testutil.Geometry(t)
	_, err := fields.NewIncrement(geom, fields.NewVariables("sea_ice_fraction"), testutil.AnalysisTime)
	require.Error(t, err)
	assert.True(t, errors.Is(err, daerr.ErrStateMismatch))

	_, err = fields.NewState(geom, fields.NewVariables("u", "bogus"), testutil.AnalysisTime)
	assert.ErrorIs(t, err, daerr.ErrStateMismatch)
}

func TestFieldLayout(t *testing.T) {
	t.Parallel()

	geom := testutil.Geometry(t)
	dx, err := fields.NewIncrement(geom, fields.NewVariables("soil_temperature"), testutil.AnalysisTime)
	require.NoError(t, err)
	f := dx.Field("soil_temperature")
	require.NotNil(t, f)
	assert.Equal(t, 3, f.Levels)
	assert.Len(t, f.Data, 3*geom.NPoints())

	f.Level(2)[0] = 5
	assert.Equal(t, 5.0, f.Data[2*geom.NPoints()])
}

func TestIncrementAlgebra(t *testing.T) {
	t.Parallel()

	geom := testutil.Geometry(t)
	x := testutil.RandomIncrement(t, geom, testutil.ModelVariables, 1)
	y := testutil.RandomIncrement(t, geom, testutil.ModelVariables, 2)

	xy, err := x.Dot(y)
	require.NoError(t, err)
	yx, err := y.Dot(x)
	require.NoError(t, err)
	assert.InDelta(t, xy, yx, 1e-12)

	xx, err := x.Dot(x)
	require.NoError(t, err)
	assert.InDelta(t, x.Norm()*x.Norm(), xx, 1e-9)

	z := x.Copy()
	require.NoError(t, z.Axpy(-1, x))
	assert.Equal(t, 0.0, z.Norm())

	z = x.Copy()
	z.Scale(2)
	require.NoError(t, z.Axpy(-2, x))
	assert.InDelta(t, 0, z.Norm(), 1e-12)

	w := x.ZeroLike()
	require.NoError(t, w.Assign(y))
	assert.True(t, cmp.Equal(w.Field("u").Data, y.Field("u").Data))

	other := testutil.RandomIncrement(t, geom, fields.NewVariables("u"), 3)
	_, err = x.Dot(other)
	assert.ErrorIs(t, err, daerr.ErrStateMismatch)
	assert.ErrorIs(t, x.Axpy(1, other), daerr.ErrStateMismatch)
}

func TestIncrementRandomIsSeeded(t *testing.T) {
	t.Parallel()

	geom := testutil.Geometry(t)
	a := testutil.RandomIncrement(t, geom, testutil.ModelVariables, 7)
	b := testutil.RandomIncrement(t, geom, testutil.ModelVariables, 7)
	assert.Equal(t, a.Field("soil_moisture").Data, b.Field("soil_moisture").Data)
}

func TestUpdateTime(t *testing.T) {
	t.Parallel()

	geom := testutil.Geometry(t)
	dx := testutil.RandomIncrement(t, geom, testutil.ModelVariables, 1)
	dx.UpdateTime(6 * time.Hour)
	assert.Equal(t, testutil.AnalysisTime.Add(6*time.Hour), dx.ValidTime())
	dx.UpdateTime(-6 * time.Hour)
	assert.Equal(t, testutil.AnalysisTime, dx.ValidTime())
}

func TestStateAddAndDiff(t *testing.T) {
	t.Parallel()

	geom := testutil.Geometry(t)
	a := testutil.State(t, geom, testutil.ModelVariables)
	dx := testutil.RandomIncrement(t, geom, testutil.ModelVariables, 5)

	b := a.Copy()
	require.NoError(t, b.Add(dx))
	got, err := fields.Diff(b, a)
	require.NoError(t, err)

	opt := cmpopts.EquateApprox(0, 1e-12)
	for _, name := range dx.Variables() {
		if diff := cmp.Diff(dx.Field(name).Data, got.Field(name).Data, opt); diff != "" {
			t.Errorf("%s: Diff(a+dx, a) mismatch (-want +got):\n%s", name, diff)
		}
	}
}

func TestStateCopyFrom(t *testing.T) {
	t.Parallel()

	geom := testutil.Geometry(t)
	src := testutil.State(t, geom, testutil.ModelVariables)
	dst, err := fields.NewState(geom, fields.NewVariables("u", "skin_temperature"), testutil.AnalysisTime)
	require.NoError(t, err)
	dst.Field("skin_temperature").Data[0] = 42

	dst.CopyFrom(src)
	assert.Equal(t, src.Field("u").Data, dst.Field("u").Data)
	assert.Equal(t, 42.0, dst.Field("skin_temperature").Data[0])
}

func TestTrajectory(t *testing.T) {
	t.Parallel()

	geom := testutil.Geometry(t)
	s0 := testutil.State(t, geom, testutil.ModelVariables)
	s1 := s0.Copy()

	var tr fields.Trajectory
	require.NoError(t, tr.Append(s0, testutil.AnalysisTime))
	require.NoError(t, tr.Append(s1, testutil.AnalysisTime.Add(time.Hour)))
	assert.Equal(t, 2, tr.Len())

	got, ok := tr.StateAt(testutil.AnalysisTime.Add(time.Hour))
	require.True(t, ok)
	assert.Same(t, s1, got)
	_, ok = tr.StateAt(testutil.AnalysisTime.Add(2 * time.Hour))
	assert.False(t, ok)

	err := tr.Append(s0, testutil.AnalysisTime)
	assert.ErrorIs(t, err, daerr.ErrSequencing)
}
