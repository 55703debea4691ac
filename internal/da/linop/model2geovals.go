package linop

import (
	"github.com/banshee-data/ucldas/internal/da/daerr"
	"github.com/banshee-data/ucldas/internal/da/fields"
	"github.com/banshee-data/ucldas/internal/da/geometry"
	"github.com/banshee-data/ucldas/internal/da/varchange"
	"github.com/banshee-data/ucldas/internal/monitoring"
)

// LinearModel2GeoVaLsName is the registry key and operator name of
// LinearModel2GeoVaLs.
const LinearModel2GeoVaLsName = "Model2GeoVaLs"

// LinearModel2GeoVaLs is the tangent-linear of varchange.Model2GeoVaLs.
// The nonlinear map is already linear, so the TL reuses its copies and
// weighted sums and the adjoint scatters them back. It is many-to-one and
// has no inverse.
type LinearModel2GeoVaLs struct {
	base
	m *varchange.Model2GeoVaLs
}

// NewLinearModel2GeoVaLs wraps m and linearizes at (bkg, traj).
func NewLinearModel2GeoVaLs(geom *geometry.Geometry, m *varchange.Model2GeoVaLs, bkg, traj *fields.State) (*LinearModel2GeoVaLs, error) {
	if m == nil {
		return nil, daerr.Configf("%s: nil variable change", LinearModel2GeoVaLsName)
	}
	l := &LinearModel2GeoVaLs{base: base{name: LinearModel2GeoVaLsName, geom: geom}, m: m}
	if _, err := l.Relinearize(bkg, traj); err != nil {
		return nil, err
	}
	return l, nil
}

// Relinearize records the new trajectory; the map itself does not depend on it.
func (l *LinearModel2GeoVaLs) Relinearize(bkg, traj *fields.State) (Token, error) {
	if err := l.checkTrajectory(bkg, traj); err != nil {
		return Token{}, daerr.Wrap(l.name, "Relinearize", err)
	}
	return l.install(bkg, traj), nil
}

// Multiply fills every variable of dOut from dIn: copied if dIn carries it,
// otherwise as the configured weighted sum.
func (l *LinearModel2GeoVaLs) Multiply(dIn, dOut *fields.Increment) error {
	return l.apply("Multiply", dIn, dOut, func(*linearization) error {
		for _, name := range dOut.Variables() {
			if !l.m.CanProvide(name, dIn.Variables()) {
				return daerr.Configf("cannot derive %s from %v", name, dIn.Variables())
			}
		}
		dOut.Zero()
		for _, name := range dOut.Variables() {
			dst := dOut.Field(name).Data
			if dIn.Has(name) {
				copy(dst, dIn.Field(name).Data)
				continue
			}
			terms, _ := l.m.Terms(name)
			for _, t := range terms {
				for p, x := range dIn.Field(t.Variable).Level(t.Level) {
					dst[p] += t.Weight * x
				}
			}
		}
		return nil
	})
}

// MultiplyAD overwrites dOut with the transpose applied to dIn: copies flow
// back to the same variable and derived values scatter to their terms.
func (l *LinearModel2GeoVaLs) MultiplyAD(dIn, dOut *fields.Increment) error {
	return l.apply("MultiplyAD", dIn, dOut, func(*linearization) error {
		for _, name := range dIn.Variables() {
			if !l.m.CanProvide(name, dOut.Variables()) {
				return daerr.Configf("cannot scatter %s into %v", name, dOut.Variables())
			}
		}
		dOut.Zero()
		for _, name := range dIn.Variables() {
			src := dIn.Field(name).Data
			if dOut.Has(name) {
				dst := dOut.Field(name).Data
				for i, x := range src {
					dst[i] += x
				}
				continue
			}
			terms, _ := l.m.Terms(name)
			for _, t := range terms {
				dst := dOut.Field(t.Variable).Level(t.Level)
				for p, x := range src {
					dst[p] += t.Weight * x
				}
			}
		}
		return nil
	})
}

// MultiplyInverse is not defined; dOut is left untouched.
func (l *LinearModel2GeoVaLs) MultiplyInverse(dIn, dOut *fields.Increment) error {
	return l.unsupported("MultiplyInverse")
}

// MultiplyInverseAD is not defined; dOut is left untouched.
func (l *LinearModel2GeoVaLs) MultiplyInverseAD(dIn, dOut *fields.Increment) error {
	return l.unsupported("MultiplyInverseAD")
}

func (l *LinearModel2GeoVaLs) unsupported(op string) error {
	err := daerr.Unsupported(l.name, op)
	monitoring.Track(l.name, op)(err)
	opsf("%v", err)
	return err
}
