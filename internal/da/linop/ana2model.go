package linop

import (
	"math"

	"github.com/banshee-data/ucldas/internal/da/daerr"
	"github.com/banshee-data/ucldas/internal/da/fields"
	"github.com/banshee-data/ucldas/internal/da/geometry"
	"github.com/banshee-data/ucldas/internal/da/varchange"
)

// LinearAna2ModelName is the registry key and operator name of
// LinearAna2Model.
const LinearAna2ModelName = "Ana2Model"

// LinearAna2Model is the tangent-linear of varchange.Ana2Model at the
// trajectory: vector pairs rotate by the grid angle and log variables
// scale by 1/traj.
type LinearAna2Model struct {
	base
	a    *varchange.Ana2Model
	logX pointwise // trajectory values of the log variables
}

// NewLinearAna2Model wraps a and linearizes at (bkg, traj).
func NewLinearAna2Model(geom *geometry.Geometry, a *varchange.Ana2Model, bkg, traj *fields.State) (*LinearAna2Model, error) {
	if a == nil {
		return nil, daerr.Configf("%s: nil variable change", LinearAna2ModelName)
	}
	l := &LinearAna2Model{base: base{name: LinearAna2ModelName, geom: geom}, a: a}
	if _, err := l.Relinearize(bkg, traj); err != nil {
		return nil, err
	}
	return l, nil
}

// Relinearize captures the trajectory values of the log variables.
func (l *LinearAna2Model) Relinearize(bkg, traj *fields.State) (Token, error) {
	if err := l.checkTrajectory(bkg, traj); err != nil {
		return Token{}, daerr.Wrap(l.name, "Relinearize", err)
	}
	logX := make(pointwise)
	for _, name := range l.a.LogVariables() {
		if !traj.Has(name) {
			continue
		}
		src := traj.Field(name).Data
		for i, x := range src {
			if x <= 0 {
				return Token{}, daerr.Wrap(l.name, "Relinearize", daerr.Mismatchf("log linearized at non-positive %s=%g (index %d)", name, x, i))
			}
		}
		logX[name] = append([]float64(nil), src...)
	}
	l.logX = logX
	return l.install(bkg, traj), nil
}

// transform sets dOut := dIn, rotates each vector pair by sign*angle and
// divides (scaleDown) or multiplies the log variables by the trajectory.
// dIn and dOut may be the same Increment.
func (l *LinearAna2Model) transform(dIn, dOut *fields.Increment, sign float64, scaleDown bool) error {
	if err := dOut.Assign(dIn); err != nil {
		return err
	}
	n := l.geom.NPoints()
	for _, p := range l.a.Pairs() {
		hasU, hasV := dIn.Has(p.U), dIn.Has(p.V)
		if !hasU && !hasV {
			continue
		}
		if hasU != hasV {
			return daerr.Mismatchf("increment carries only one of (%s, %s)", p.U, p.V)
		}
		u, v := dIn.Field(p.U), dIn.Field(p.V)
		for lev := 0; lev < u.Levels; lev++ {
			us, vs := u.Level(lev), v.Level(lev)
			uo, vo := dOut.Field(p.U).Level(lev), dOut.Field(p.V).Level(lev)
			for pt := 0; pt < n; pt++ {
				s, c := math.Sincos(sign * l.geom.Angle(pt))
				u0, v0 := us[pt], vs[pt]
				uo[pt] = c*u0 + s*v0
				vo[pt] = -s*u0 + c*v0
			}
		}
	}
	for _, name := range l.a.LogVariables() {
		if !dOut.Has(name) {
			continue
		}
		x, ok := l.logX[name]
		if !ok {
			return daerr.Mismatchf("trajectory lacks log variable %s", name)
		}
		d := dOut.Field(name).Data
		for i := range d {
			if scaleDown {
				d[i] /= x[i]
			} else {
				d[i] *= x[i]
			}
		}
	}
	return nil
}

// Multiply applies the tangent-linear transform.
func (l *LinearAna2Model) Multiply(dIn, dOut *fields.Increment) error {
	return l.apply("Multiply", dIn, dOut, func(*linearization) error {
		return l.transform(dIn, dOut, 1, true)
	})
}

// MultiplyInverse applies the inverse tangent-linear transform.
func (l *LinearAna2Model) MultiplyInverse(dIn, dOut *fields.Increment) error {
	return l.apply("MultiplyInverse", dIn, dOut, func(*linearization) error {
		return l.transform(dIn, dOut, -1, false)
	})
}

// MultiplyAD applies the adjoint: the rotation transposes to -angle.
func (l *LinearAna2Model) MultiplyAD(dIn, dOut *fields.Increment) error {
	return l.apply("MultiplyAD", dIn, dOut, func(*linearization) error {
		return l.transform(dIn, dOut, -1, true)
	})
}

// MultiplyInverseAD applies the adjoint of the inverse.
func (l *LinearAna2Model) MultiplyInverseAD(dIn, dOut *fields.Increment) error {
	return l.apply("MultiplyInverseAD", dIn, dOut, func(*linearization) error {
		return l.transform(dIn, dOut, 1, false)
	})
}
