// Package testutil provides shared test utilities and fixtures.
//
// It centralises the standard test grid and the numerical checks every
// linear operator must pass: the adjoint dot-product test, the explicit
// matrix transpose check and the tangent-linear (Taylor) test.
package testutil

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/banshee-data/ucldas/internal/config"
	"github.com/banshee-data/ucldas/internal/da/fields"
	"github.com/banshee-data/ucldas/internal/da/geometry"
)

// AdjointTolerance is the relative dot-product error every adjoint must meet.
const AdjointTolerance = 1e-10

// AnalysisTime is the valid time of the standard fixtures.
var AnalysisTime = time.Date(2021, 7, 1, 0, 0, 0, 0, time.UTC)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// GeometryConfig is the standard test grid: 6x5 points at 0.5 degree
// spacing, rotated 25 degrees, with the northernmost row masked.
func GeometryConfig() config.GeometryConfig {
	rot := 25.0
	maskLat := 31.6
	return config.GeometryConfig{
		NX: 6, NY: 5,
		Lon0: -100, Lat0: 30,
		DLon: 0.5, DLat: 0.5,
		Variables: map[string]int{
			"soil_temperature":    3,
			"soil_moisture":       3,
			"snow_depth":          1,
			"u":                   1,
			"v":                   1,
			"skin_temperature":    1,
			"total_soil_moisture": 1,
		},
		RotationDeg: &rot,
		MaskLatMax:  &maskLat,
	}
}

// SmallGeometry builds a 2x2 grid with the standard variable domain, for
// exercising grid-size checks.
func SmallGeometry(t testing.TB) *geometry.Geometry {
	t.Helper()
	cfg := GeometryConfig()
	cfg.NX, cfg.NY = 2, 2
	g, err := geometry.New(cfg)
	if err != nil {
		t.Fatalf("small geometry: %v", err)
	}
	return g
}

// Geometry builds the standard test grid.
func Geometry(t testing.TB) *geometry.Geometry {
	t.Helper()
	g, err := geometry.New(GeometryConfig())
	AssertNoError(t, err)
	return g
}

// ModelVariables are the prognostic variables of the standard fixtures.
var ModelVariables = fields.NewVariables("soil_temperature", "soil_moisture", "snow_depth", "u", "v")

// PositiveState returns a smooth, strictly positive State on geom valid at
// t, so that log transforms and trajectory-dependent operators are well
// defined.
func PositiveState(geom *geometry.Geometry, vars fields.Variables, t time.Time) (*fields.State, error) {
	s, err := fields.NewState(geom, vars, t)
	if err != nil {
		return nil, err
	}
	n := geom.NPoints()
	for k, name := range s.Variables() {
		f := s.Field(name)
		for lev := 0; lev < f.Levels; lev++ {
			slab := f.Level(lev)
			for p := 0; p < n; p++ {
				slab[p] = 2 + float64(k) + 0.5*math.Sin(float64(p+3*lev+k)) + 0.1*float64(lev)
			}
		}
	}
	return s, nil
}

// State is PositiveState at AnalysisTime.
func State(t testing.TB, geom *geometry.Geometry, vars fields.Variables) *fields.State {
	t.Helper()
	s, err := PositiveState(geom, vars, AnalysisTime)
	AssertNoError(t, err)
	return s
}

// RandomIncrement returns an Increment on the layout of like, filled with
// seeded Gaussian noise.
func RandomIncrement(t testing.TB, geom *geometry.Geometry, vars fields.Variables, seed uint64) *fields.Increment {
	t.Helper()
	dx, err := fields.NewIncrement(geom, vars, AnalysisTime)
	AssertNoError(t, err)
	dx.Random(seed)
	return dx
}

// LinearMap is the slice of a linear operator the checks exercise; the
// forward and adjoint halves are passed separately so that inverse pairs
// can be checked with the same harness.
type LinearMap func(dIn, dOut *fields.Increment) error

// DotProductTest checks <L x, y> == <x, L^T y> for random x (input layout)
// and y (output layout). It returns the relative error
// |<Lx,y> - <x,L^T y>| / (||Lx|| ||y||).
func DotProductTest(t testing.TB, fwd, adj LinearMap, x, y *fields.Increment) float64 {
	t.Helper()
	rel, _, err := DotProduct(fwd, adj, x, y)
	if errors.Is(err, ErrDegenerate) {
		t.Fatalf("dot-product test is %v", err)
	}
	AssertNoError(t, err)
	if rel >= AdjointTolerance {
		t.Errorf("adjoint test failed: rel=%.3g", rel)
	}
	return rel
}
