package varchange

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ucldas/internal/config"
	"github.com/banshee-data/ucldas/internal/da/daerr"
	"github.com/banshee-data/ucldas/internal/da/fields"
	"github.com/banshee-data/ucldas/internal/testutil"
)

func TestAna2ModelRoundTrip(t *testing.T) {
	t.Parallel()

	geom := testutil.Geometry(t)
	a, err := NewAna2Model(geom, ana2ModelConfig())
	require.NoError(t, err)

	x := testutil.State(t, geom, testutil.ModelVariables)
	model, err := fields.NewState(geom, testutil.ModelVariables, testutil.AnalysisTime)
	require.NoError(t, err)
	require.NoError(t, a.ChangeVar(x, model))

	back, err := fields.NewState(geom, testutil.ModelVariables, testutil.AnalysisTime)
	require.NoError(t, err)
	require.NoError(t, a.ChangeVarInverse(model, back))

	opt := cmpopts.EquateApprox(0, 1e-8)
	for _, name := range testutil.ModelVariables {
		if diff := cmp.Diff(x.Field(name).Data, back.Field(name).Data, opt); diff != "" {
			t.Errorf("%s round trip mismatch (-want +got):\n%s", name, diff)
		}
	}
}

func TestAna2ModelTransforms(t *testing.T) {
	t.Parallel()

	geom := testutil.Geometry(t)
	a, err := NewAna2Model(geom, ana2ModelConfig())
	require.NoError(t, err)

	x := testutil.State(t, geom, testutil.ModelVariables)
	out, err := fields.NewState(geom, testutil.ModelVariables, testutil.AnalysisTime)
	require.NoError(t, err)
	require.NoError(t, a.ChangeVar(x, out))

	p := geom.Index(2, 3)
	ang := geom.Angle(p)
	require.NotZero(t, ang)
	u, v := x.Field("u").Data[p], x.Field("v").Data[p]
	assert.InDelta(t, math.Cos(ang)*u+math.Sin(ang)*v, out.Field("u").Data[p], 1e-12)
	assert.InDelta(t, -math.Sin(ang)*u+math.Cos(ang)*v, out.Field("v").Data[p], 1e-12)
	assert.InDelta(t, math.Log(x.Field("snow_depth").Data[p]), out.Field("snow_depth").Data[p], 1e-12)
	assert.Equal(t, x.Field("soil_temperature").Data, out.Field("soil_temperature").Data)
}

func TestAna2ModelErrors(t *testing.T) {
	t.Parallel()

	geom := testutil.Geometry(t)
	a, err := NewAna2Model(geom, ana2ModelConfig())
	require.NoError(t, err)

	t.Run("missing variable", func(t *testing.T) {
		in := testutil.State(t, geom, fields.NewVariables("u", "v"))
		out, err := fields.NewState(geom, fields.NewVariables("u", "snow_depth"), testutil.AnalysisTime)
		require.NoError(t, err)
		err = a.ChangeVar(in, out)
		assert.ErrorIs(t, err, daerr.ErrConfiguration)
		var opErr *daerr.OpError
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, Ana2ModelName, opErr.Operator)
		assert.Equal(t, "ChangeVar", opErr.Op)
	})

	t.Run("half a vector pair", func(t *testing.T) {
		in := testutil.State(t, geom, fields.NewVariables("u"))
		out, err := fields.NewState(geom, fields.NewVariables("u"), testutil.AnalysisTime)
		require.NoError(t, err)
		assert.ErrorIs(t, a.ChangeVar(in, out), daerr.ErrConfiguration)
	})

	t.Run("non-positive log argument", func(t *testing.T) {
		in := testutil.State(t, geom, testutil.ModelVariables)
		in.Field("snow_depth").Data[4] = 0
		out, err := fields.NewState(geom, testutil.ModelVariables, testutil.AnalysisTime)
		require.NoError(t, err)
		assert.ErrorIs(t, a.ChangeVar(in, out), daerr.ErrStateMismatch)
	})

	t.Run("foreign grid", func(t *testing.T) {
		small := testutil.SmallGeometry(t)
		in := testutil.State(t, small, testutil.ModelVariables)
		out, err := fields.NewState(small, testutil.ModelVariables, testutil.AnalysisTime)
		require.NoError(t, err)
		assert.ErrorIs(t, a.ChangeVar(in, out), daerr.ErrStateMismatch)
		assert.ErrorIs(t, a.ChangeVarInverse(in, out), daerr.ErrStateMismatch)
	})
}

func TestNewAna2ModelRejectsBadConfig(t *testing.T) {
	t.Parallel()

	geom := testutil.Geometry(t)
	tests := []struct {
		name string
		cfg  func() *config.Ana2ModelConfig
	}{
		{"unpaired", func() *config.Ana2ModelConfig {
			c := ana2ModelConfig()
			c.Rotate.V = nil
			return c
		}},
		{"unknown rotate var", func() *config.Ana2ModelConfig {
			c := ana2ModelConfig()
			c.Rotate.U = []string{"w"}
			return c
		}},
		{"level mismatch", func() *config.Ana2ModelConfig {
			c := ana2ModelConfig()
			c.Rotate.U = []string{"soil_temperature"}
			return c
		}},
		{"unknown log var", func() *config.Ana2ModelConfig {
			c := ana2ModelConfig()
			c.Log.Var = []string{"salinity"}
			return c
		}},
		{"rotated and logged", func() *config.Ana2ModelConfig {
			c := ana2ModelConfig()
			c.Log.Var = []string{"u"}
			return c
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAna2Model(geom, tt.cfg())
			assert.ErrorIs(t, err, daerr.ErrConfiguration)
		})
	}
}

func TestAna2ModelNilConfigCopies(t *testing.T) {
	t.Parallel()

	geom := testutil.Geometry(t)
	a, err := NewAna2Model(geom, nil)
	require.NoError(t, err)
	x := testutil.State(t, geom, testutil.ModelVariables)
	out, err := fields.NewState(geom, testutil.ModelVariables, testutil.AnalysisTime)
	require.NoError(t, err)
	require.NoError(t, a.ChangeVar(x, out))
	for _, name := range testutil.ModelVariables {
		assert.Equal(t, x.Field(name).Data, out.Field(name).Data, name)
	}
}
