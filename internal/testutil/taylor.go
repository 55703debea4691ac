package testutil

import (
	"errors"
	"testing"

	"github.com/banshee-data/ucldas/internal/da/fields"
	"github.com/banshee-data/ucldas/internal/da/obs"
)

// NonlinearMap is a nonlinear operator producing a fresh State.
type NonlinearMap func(in *fields.State) (*fields.State, error)

// TaylorSteps are the perturbation amplitudes the Taylor test walks.
var TaylorSteps = []float64{1e-1, 1e-2, 1e-3, 1e-4}

// TaylorTest checks that tl is the derivative of f at x0 along dx: the
// residual ratio ||f(x0+h dx) - f(x0) - h tl(dx)|| / ||h tl(dx)|| must fall
// in proportion to h and end below TaylorTolerance. The ratios are returned
// for logging.
func TaylorTest(t testing.TB, f NonlinearMap, tl LinearMap, x0 *fields.State, dx *fields.Increment) []float64 {
	t.Helper()
	ratios, err := TaylorRatios(f, tl, x0, dx, TaylorSteps)
	if errors.Is(err, ErrDegenerate) {
		t.Fatalf("taylor test is %v", err)
	}
	AssertNoError(t, err)
	if err := CheckTaylor(TaylorSteps, ratios); err != nil {
		t.Errorf("taylor test failed: %v (ratios %v)", err, ratios)
	}
	return ratios
}

// GeoVaLsDotProductTest is the dot-product test for a map from an Increment
// to GeoVaLs: <H x, y> == <x, H^T y>. adj must accumulate into a zero
// Increment.
func GeoVaLsDotProductTest(t testing.TB, fwd GeoVaLsMap, adj GeoVaLsAdjoint, x *fields.Increment, y *obs.GeoVaLs) float64 {
	t.Helper()
	rel, err := GeoVaLsDotProduct(fwd, adj, x, y)
	if errors.Is(err, ErrDegenerate) {
		t.Fatalf("dot-product test is %v", err)
	}
	AssertNoError(t, err)
	if rel >= AdjointTolerance {
		t.Errorf("interpolation adjoint test failed: rel=%.3g", rel)
	}
	return rel
}
