package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ucldas/internal/config"
	"github.com/banshee-data/ucldas/internal/da/archive"
	"github.com/banshee-data/ucldas/internal/da/daerr"
	"github.com/banshee-data/ucldas/internal/da/fields"
	"github.com/banshee-data/ucldas/internal/da/geometry"
	"github.com/banshee-data/ucldas/internal/da/obs"
)

func loadExample(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig(filepath.Join("testdata", "soil.yaml"))
	require.NoError(t, err)
	return cfg
}

func TestRunExampleConfig(t *testing.T) {
	cfg := loadExample(t)
	dir := t.TempDir()

	var out bytes.Buffer
	err := run(context.Background(), cfg, options{Seed: 7, NLocs: 25, PlotDir: dir}, &out)
	require.NoError(t, err, out.String())

	report := out.String()
	for _, want := range []string{
		"BkgErr", "BkgErrFILT", "Balance", "Model2GeoVaLs", "Ana2Model", "IdTLM",
		"Multiply/MultiplyAD", "MultiplyInverse/MultiplyInverseAD", "Taylor",
		"StepTL/StepAD", "FillGeoVaLsTL/FillGeoVaLsAD", "skipped",
	} {
		assert.Contains(t, report, want)
	}
	assert.NotContains(t, report, "FAIL")

	for _, name := range []string{"adjoint_checks.png", "taylor.png", "BkgErr_adjoint_snow_depth_l00.png"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestRunUnknownOperator(t *testing.T) {
	cfg := loadExample(t)
	cfg.Operators = append(cfg.Operators, config.OperatorConfig{Key: "SpectralCorrelation"})

	var out bytes.Buffer
	err := run(context.Background(), cfg, options{Seed: 1}, &out)
	assert.ErrorIs(t, err, daerr.ErrConfiguration)
}

func TestRunCancelled(t *testing.T) {
	cfg := loadExample(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := run(ctx, cfg, options{Seed: 1}, &out)
	assert.ErrorIs(t, err, context.Canceled)
}

// archiveConfig requests skin_temperature, which no operator can derive
// from the model variables.
func archiveConfig(t *testing.T, path string) *config.Config {
	t.Helper()
	enabled := true
	return &config.Config{
		Geometry: config.GeometryConfig{
			NX: 5, NY: 4, Lon0: 10, Lat0: 45, DLon: 1, DLat: 1,
			Variables: map[string]int{"soil_temperature": 2, "skin_temperature": 1},
		},
		LinearModel: &config.LinearModelConfig{Tstep: "PT3H", LMVariables: []string{"soil_temperature"}},
		GetValues: &config.GetValuesConfig{
			NotOcean: &config.NotOceanConfig{
				Init:      &enabled,
				DateBegin: "2021-07-01T00:00:00Z",
				DateEnd:   "2021-07-01T03:00:00Z",
				ObsSpace:  config.ObsSpaceConfig{Name: "land", Path: path},
			},
		},
	}
}

func TestRunWithArchive(t *testing.T) {
	const nlocs = 6
	path := filepath.Join(t.TempDir(), "archive.db")
	a, err := archive.Open(path)
	require.NoError(t, err)

	locs := make([]obs.Location, nlocs)
	for i := range locs {
		locs[i] = obs.Location{Lat: 46, Lon: 11, Time: analysisTime}
	}
	g, err := obs.NewGeoVaLs(nlocs, map[string]int{"skin_temperature": 1})
	require.NoError(t, err)
	g.Random(3)
	_, err = a.Write(context.Background(), "land", obs.NewLocations(locs), g)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	var out bytes.Buffer
	err = run(context.Background(), archiveConfig(t, path), options{Seed: 2, NLocs: nlocs}, &out)
	require.NoError(t, err, out.String())
	assert.Contains(t, out.String(), "FillGeoVaLs")
}

func TestRunArchiveMissingVariable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.db")

	var out bytes.Buffer
	err := run(context.Background(), archiveConfig(t, path), options{Seed: 2, NLocs: 4}, &out)
	assert.ErrorIs(t, err, daerr.ErrConfiguration)
}

func TestModelVariables(t *testing.T) {
	cfg := loadExample(t)
	geom, err := geometry.New(cfg.Geometry)
	require.NoError(t, err)

	assert.Equal(t, fields.NewVariables("snow_depth", "soil_moisture", "soil_temperature", "u", "v"), modelVariables(cfg, geom))
	assert.True(t, derivedVariables(cfg)["total_soil_moisture"])

	cfg.LinearModel.LMVariables = []string{"u", "v"}
	assert.Equal(t, fields.NewVariables("u", "v"), modelVariables(cfg, geom))
}
