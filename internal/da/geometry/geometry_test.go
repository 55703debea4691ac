package geometry

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ucldas/internal/config"
	"github.com/banshee-data/ucldas/internal/da/daerr"
)

func testConfig() config.GeometryConfig {
	rot := 30.0
	maskLat := 32.0
	return config.GeometryConfig{
		NX: 5, NY: 4,
		Lon0: -100, Lat0: 30,
		DLon: 1, DLat: 1,
		Variables:   map[string]int{"soil_temperature": 3, "u": 1, "v": 1},
		RotationDeg: &rot,
		MaskLatMax:  &maskLat,
	}
}

func TestNew(t *testing.T) {
	g, err := New(testConfig())
	require.NoError(t, err)

	assert.Equal(t, 20, g.NPoints())
	assert.Equal(t, []string{"soil_temperature", "u", "v"}, g.Variables())

	lev, ok := g.Levels("soil_temperature")
	assert.True(t, ok)
	assert.Equal(t, 3, lev)
	_, ok = g.Levels("salinity")
	assert.False(t, ok)

	// Angle shrinks with cos(lat).
	assert.InDelta(t, 30*math.Pi/180*math.Cos(30*math.Pi/180), g.Angle(g.Index(0, 0)), 1e-12)

	// Rows up to lat 32 are valid, lat 33 is masked.
	for j := 0; j < g.NY-1; j++ {
		assert.Equal(t, 1.0, g.Mask()[g.Index(2, j)], "row %d", j)
	}
	assert.Equal(t, 0.0, g.Mask()[g.Index(2, g.NY-1)])
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.NX = 1
	_, err := New(cfg)
	assert.True(t, errors.Is(err, daerr.ErrConfiguration))

	cfg = testConfig()
	cfg.Variables = map[string]int{"t": 0}
	_, err = New(cfg)
	assert.True(t, errors.Is(err, daerr.ErrConfiguration))
}

func TestWeights(t *testing.T) {
	g, err := New(testConfig())
	require.NoError(t, err)

	t.Run("grid point", func(t *testing.T) {
		s := g.Weights(31, -98)
		var sum float64
		for k, w := range s.W {
			sum += w
			if s.Idx[k] == g.Index(2, 1) {
				assert.InDelta(t, 1, w, 1e-12)
			}
		}
		assert.InDelta(t, 1, sum, 1e-12)
	})

	t.Run("cell centre", func(t *testing.T) {
		s := g.Weights(31.5, -98.5)
		for _, w := range s.W {
			assert.InDelta(t, 0.25, w, 1e-12)
		}
	})

	t.Run("clamped outside", func(t *testing.T) {
		s := g.Weights(10, -200)
		assert.Equal(t, g.Index(0, 0), s.Idx[0])
		assert.InDelta(t, 1, s.W[0], 1e-12)

		s = g.Weights(80, 50)
		assert.Equal(t, g.Index(g.NX-1, g.NY-1), s.Idx[3])
		assert.InDelta(t, 1, s.W[3], 1e-12)
	})
}
