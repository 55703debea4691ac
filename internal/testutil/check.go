package testutil

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/ucldas/internal/da/fields"
	"github.com/banshee-data/ucldas/internal/da/obs"
)

// ErrDegenerate reports a check whose operator image is zero, so no
// relative error can be formed.
var ErrDegenerate = errors.New("degenerate check")

// TaylorTolerance bounds the residual ratio at the smallest step.
const TaylorTolerance = 1e-3

// TaylorNoise is the ratio below which a residual is treated as rounding.
const TaylorNoise = 1e-8

// DotProduct returns |<Lx,y> - <x,L^T y>| / (||Lx|| ||y||) together with
// L^T y. It wraps ErrDegenerate when Lx or y is zero.
func DotProduct(fwd, adj LinearMap, x, y *fields.Increment) (float64, *fields.Increment, error) {
	lx := y.ZeroLike()
	if err := fwd(x, lx); err != nil {
		return 0, nil, err
	}
	lty := x.ZeroLike()
	if err := adj(y, lty); err != nil {
		return 0, nil, err
	}
	lhs, err := lx.Dot(y)
	if err != nil {
		return 0, nil, err
	}
	rhs, err := x.Dot(lty)
	if err != nil {
		return 0, nil, err
	}
	denom := lx.Norm() * y.Norm()
	if denom == 0 {
		return 0, lty, fmt.Errorf("%w: ||Lx||=%g ||y||=%g", ErrDegenerate, lx.Norm(), y.Norm())
	}
	return math.Abs(lhs-rhs) / denom, lty, nil
}

// GeoVaLsMap interpolates an Increment into GeoVaLs.
type GeoVaLsMap func(dx *fields.Increment, out *obs.GeoVaLs) error

// GeoVaLsAdjoint accumulates the adjoint of a GeoVaLsMap into dx.
type GeoVaLsAdjoint func(in *obs.GeoVaLs, dx *fields.Increment) error

// GeoVaLsDotProduct is DotProduct for a map from an Increment to GeoVaLs.
func GeoVaLsDotProduct(fwd GeoVaLsMap, adj GeoVaLsAdjoint, x *fields.Increment, y *obs.GeoVaLs) (float64, error) {
	hx := y.ZeroLike()
	if err := fwd(x, hx); err != nil {
		return 0, err
	}
	hty := x.ZeroLike()
	if err := adj(y, hty); err != nil {
		return 0, err
	}
	lhs, err := hx.Dot(y)
	if err != nil {
		return 0, err
	}
	rhs, err := x.Dot(hty)
	if err != nil {
		return 0, err
	}
	denom := hx.Norm() * y.Norm()
	if denom == 0 {
		return 0, fmt.Errorf("%w: ||Hx||=%g ||y||=%g", ErrDegenerate, hx.Norm(), y.Norm())
	}
	return math.Abs(lhs-rhs) / denom, nil
}

// TaylorRatios returns ||f(x0+h dx) - f(x0) - h tl(dx)|| / ||h tl(dx)|| for
// each h in steps. It wraps ErrDegenerate when tl(dx) is zero.
func TaylorRatios(f NonlinearMap, tl LinearMap, x0 *fields.State, dx *fields.Increment, steps []float64) ([]float64, error) {
	fx0, err := f(x0)
	if err != nil {
		return nil, err
	}
	ldx := fx0.NewIncrement()
	if err := tl(dx, ldx); err != nil {
		return nil, err
	}
	if ldx.Norm() == 0 {
		return nil, fmt.Errorf("%w: tangent-linear image is zero", ErrDegenerate)
	}

	ratios := make([]float64, 0, len(steps))
	for _, h := range steps {
		xh := x0.Copy()
		step := dx.Copy()
		step.Scale(h)
		if err := xh.Add(step); err != nil {
			return nil, err
		}
		fxh, err := f(xh)
		if err != nil {
			return nil, fmt.Errorf("at h=%g: %w", h, err)
		}
		resid, err := fields.Diff(fxh, fx0)
		if err != nil {
			return nil, err
		}
		if err := resid.Axpy(-h, ldx); err != nil {
			return nil, err
		}
		ratios = append(ratios, resid.Norm()/(h*ldx.Norm()))
	}
	return ratios, nil
}

// CheckTaylor verifies first-order convergence of ratios over steps: each
// ratio above TaylorNoise must shrink in proportion to h, within a factor
// of three either way, and the last must fall below TaylorTolerance.
func CheckTaylor(steps, ratios []float64) error {
	if len(steps) != len(ratios) || len(ratios) == 0 {
		return fmt.Errorf("%d ratios for %d steps", len(ratios), len(steps))
	}
	for k := 1; k < len(ratios); k++ {
		if ratios[k] <= TaylorNoise {
			continue
		}
		if ratios[k] >= ratios[k-1] {
			return fmt.Errorf("residual did not decrease: h=%g ratio=%.3g, h=%g ratio=%.3g",
				steps[k-1], ratios[k-1], steps[k], ratios[k])
		}
		want := steps[k] / steps[k-1]
		got := ratios[k] / ratios[k-1]
		if got > 3*want || got < want/3 {
			return fmt.Errorf("residual is not first order: h %g -> %g scaled the ratio by %.3g, want about %.3g",
				steps[k-1], steps[k], got, want)
		}
	}
	if last := ratios[len(ratios)-1]; last >= TaylorTolerance {
		return fmt.Errorf("residual at h=%g is %.3g, want < %g", steps[len(steps)-1], last, TaylorTolerance)
	}
	return nil
}
