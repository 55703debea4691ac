package linearmodel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ucldas/internal/config"
	"github.com/banshee-data/ucldas/internal/da/daerr"
	"github.com/banshee-data/ucldas/internal/testutil"
)

func newModel(t *testing.T, tstep string) *TlmID {
	t.Helper()
	m, err := New(&config.LinearModelConfig{Tstep: tstep, LMVariables: []string{"u", "soil_temperature"}})
	require.NoError(t, err)
	return m
}

func TestNew(t *testing.T) {
	t.Parallel()

	m := newModel(t, "PT6H")
	assert.Equal(t, 6*time.Hour, m.TimeResolution())
	assert.Equal(t, []string{"soil_temperature", "u"}, []string(m.Variables()))

	m = newModel(t, "90m")
	assert.Equal(t, 90*time.Minute, m.TimeResolution())

	for _, bad := range []string{"", "P1Y", "soon"} {
		_, err := New(&config.LinearModelConfig{Tstep: bad})
		assert.ErrorIs(t, err, daerr.ErrConfiguration, bad)
	}
	_, err := New(nil)
	assert.ErrorIs(t, err, daerr.ErrConfiguration)
}

func TestStepRoundTrip(t *testing.T) {
	t.Parallel()

	m := newModel(t, "PT1H")
	geom := testutil.Geometry(t)
	dx := testutil.RandomIncrement(t, geom, testutil.ModelVariables, 1)
	before := dx.Copy()
	t0 := dx.ValidTime()

	m.SetTrajectory(nil, nil)
	require.NoError(t, m.InitializeTL(dx))
	for i := 0; i < 3; i++ {
		require.NoError(t, m.StepTL(dx))
	}
	require.NoError(t, m.FinalizeTL(dx))
	assert.Equal(t, t0.Add(3*time.Hour), dx.ValidTime())

	require.NoError(t, m.InitializeAD(dx))
	for i := 0; i < 3; i++ {
		require.NoError(t, m.StepAD(dx))
	}
	require.NoError(t, m.FinalizeAD(dx))
	assert.Equal(t, t0, dx.ValidTime())

	for _, v := range dx.Variables() {
		assert.Equal(t, before.Field(v).Data, dx.Field(v).Data, "identity model must not touch %s", v)
	}
}

func TestAnyStepDuration(t *testing.T) {
	t.Parallel()

	geom := testutil.Geometry(t)
	for _, tc := range []struct {
		tstep string
		want  time.Duration
	}{
		{"PT0S", 0},
		{"-PT1H", -time.Hour},
	} {
		m := newModel(t, tc.tstep)
		assert.Equal(t, tc.want, m.TimeResolution(), tc.tstep)

		dx := testutil.RandomIncrement(t, geom, testutil.ModelVariables, 3)
		t0 := dx.ValidTime()
		require.NoError(t, m.InitializeTL(dx))
		require.NoError(t, m.StepTL(dx))
		require.NoError(t, m.FinalizeTL(dx))
		assert.Equal(t, t0.Add(tc.want), dx.ValidTime(), tc.tstep)

		require.NoError(t, m.InitializeAD(dx))
		require.NoError(t, m.StepAD(dx))
		require.NoError(t, m.FinalizeAD(dx))
		assert.Equal(t, t0, dx.ValidTime(), tc.tstep)
	}
}

func TestSequencing(t *testing.T) {
	t.Parallel()

	geom := testutil.Geometry(t)
	dx := testutil.RandomIncrement(t, geom, testutil.ModelVariables, 2)

	m := newModel(t, "PT1H")
	assert.ErrorIs(t, m.StepTL(dx), daerr.ErrSequencing, "step before initialize")
	assert.ErrorIs(t, m.FinalizeTL(dx), daerr.ErrSequencing, "finalize before initialize")
	assert.ErrorIs(t, m.StepAD(dx), daerr.ErrSequencing)

	require.NoError(t, m.InitializeTL(dx))
	assert.ErrorIs(t, m.InitializeTL(dx), daerr.ErrSequencing, "double initialize")
	require.NoError(t, m.FinalizeTL(dx))
	assert.ErrorIs(t, m.StepTL(dx), daerr.ErrSequencing, "step after finalize")

	tl, ad := m.Phases()
	assert.Equal(t, Finalized, tl)
	assert.Equal(t, Idle, ad)

	// A finalized run can be restarted.
	require.NoError(t, m.InitializeTL(dx))
	assert.NoError(t, m.StepTL(dx))
	assert.Equal(t, testutil.AnalysisTime.Add(time.Hour), dx.ValidTime())
}
