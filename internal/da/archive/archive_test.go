package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ucldas/internal/da/daerr"
	"github.com/banshee-data/ucldas/internal/da/obs"
)

var t0 = time.Date(2021, 7, 1, 0, 0, 0, 0, time.UTC)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func testLocations() *obs.Locations {
	return obs.NewLocations([]obs.Location{
		{Lat: 30.2, Lon: -99.8, Time: t0},
		{Lat: 30.7, Lon: -99.1, Time: t0.Add(2 * time.Hour)},
		{Lat: 31.1, Lon: -98.4, Time: t0.Add(5 * time.Hour)},
		{Lat: 31.4, Lon: -98.0, Time: t0.Add(9 * time.Hour)},
	})
}

func TestOpenMigrates(t *testing.T) {
	t.Parallel()

	a := openTestArchive(t)
	version, dirty, err := a.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// Re-running is a no-op.
	require.NoError(t, a.MigrateUp())
}

func TestWriteLoadRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := openTestArchive(t)
	locs := testLocations()

	g, err := obs.NewGeoVaLs(locs.Len(), map[string]int{"air_temperature": 2, "surface_pressure": 1})
	require.NoError(t, err)
	g.Random(42)

	runID, err := a.Write(ctx, "land", locs, g)
	require.NoError(t, err)
	runs, err := a.Runs(ctx, "land")
	require.NoError(t, err)
	assert.Equal(t, runID, runs[0])

	out, err := obs.NewGeoVaLs(locs.Len(), map[string]int{"air_temperature": 2, "surface_pressure": 1, "snow_depth": 1})
	require.NoError(t, err)
	found, err := a.Load(ctx, "land", t0, t0.Add(6*time.Hour), out)
	require.NoError(t, err)
	assert.Equal(t, []string{"air_temperature", "surface_pressure"}, found)

	for _, name := range []string{"air_temperature", "surface_pressure"} {
		for lev := 0; lev < g.Levels(name); lev++ {
			for loc := 0; loc < 3; loc++ {
				assert.Equal(t, g.At(name, lev, loc), out.At(name, lev, loc), "%s[%d,%d]", name, lev, loc)
			}
			assert.Zero(t, out.At(name, lev, 3), "location outside the window must stay untouched")
		}
	}
	assert.Equal(t, []float64{0, 0, 0, 0}, out.Values("snow_depth"))
}

func TestWriteReplacesEarlierValues(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := openTestArchive(t)
	locs := testLocations()

	g, err := obs.NewGeoVaLs(locs.Len(), map[string]int{"surface_pressure": 1})
	require.NoError(t, err)
	g.Random(1)
	_, err = a.Write(ctx, "land", locs, g)
	require.NoError(t, err)
	g.Random(2)
	_, err = a.Write(ctx, "land", locs, g)
	require.NoError(t, err)

	out := g.ZeroLike()
	_, err = a.Load(ctx, "land", t0, t0.Add(24*time.Hour), out)
	require.NoError(t, err)
	assert.Equal(t, g.Values("surface_pressure"), out.Values("surface_pressure"))

	runs, err := a.Runs(ctx, "land")
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestLoadSeparatesObsSpaces(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := openTestArchive(t)
	locs := testLocations()
	g, err := obs.NewGeoVaLs(locs.Len(), map[string]int{"surface_pressure": 1})
	require.NoError(t, err)
	g.Random(3)
	_, err = a.Write(ctx, "land", locs, g)
	require.NoError(t, err)

	out := g.ZeroLike()
	found, err := a.Load(ctx, "sea", t0, t0.Add(24*time.Hour), out)
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.Zero(t, out.Norm())
}

func TestLoadRejectsShapeMismatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := openTestArchive(t)
	locs := testLocations()
	g, err := obs.NewGeoVaLs(locs.Len(), map[string]int{"air_temperature": 2})
	require.NoError(t, err)
	_, err = a.Write(ctx, "land", locs, g)
	require.NoError(t, err)

	out, err := obs.NewGeoVaLs(locs.Len(), map[string]int{"air_temperature": 1})
	require.NoError(t, err)
	_, err = a.Load(ctx, "land", t0, t0.Add(24*time.Hour), out)
	assert.ErrorIs(t, err, daerr.ErrStateMismatch)

	short, err := obs.NewGeoVaLs(2, map[string]int{"air_temperature": 2})
	require.NoError(t, err)
	_, err = a.Write(ctx, "land", locs, short)
	assert.ErrorIs(t, err, daerr.ErrStateMismatch)
}
