package varchange

import (
	"math"

	"github.com/banshee-data/ucldas/internal/config"
	"github.com/banshee-data/ucldas/internal/da/daerr"
	"github.com/banshee-data/ucldas/internal/da/fields"
	"github.com/banshee-data/ucldas/internal/da/geometry"
	"github.com/banshee-data/ucldas/internal/monitoring"
)

// Ana2ModelName is the operator name used in errors and metrics.
const Ana2ModelName = "Ana2Model"

// VectorPair names the two components of a horizontal vector.
type VectorPair struct {
	U, V string
}

// Ana2Model maps analysis variables to model variables. Each configured
// (u, v) pair is rotated from geographic to grid-relative components by the
// local grid angle, and each log variable is replaced by its natural log.
type Ana2Model struct {
	geom    *geometry.Geometry
	pairs   []VectorPair
	logVars fields.Variables
}

// NewAna2Model builds the transform. A nil cfg gives a pure copy.
func NewAna2Model(geom *geometry.Geometry, cfg *config.Ana2ModelConfig) (*Ana2Model, error) {
	a := &Ana2Model{geom: geom}
	if cfg == nil {
		return a, nil
	}
	if len(cfg.Rotate.U) != len(cfg.Rotate.V) {
		return nil, daerr.Configf("%s: rotate.u has %d entries, rotate.v has %d", Ana2ModelName, len(cfg.Rotate.U), len(cfg.Rotate.V))
	}
	rotated := map[string]bool{}
	for k := range cfg.Rotate.U {
		p := VectorPair{U: cfg.Rotate.U[k], V: cfg.Rotate.V[k]}
		lu, okU := geom.Levels(p.U)
		lv, okV := geom.Levels(p.V)
		if !okU || !okV {
			return nil, daerr.Configf("%s: rotate pair (%s, %s) is outside the variable domain", Ana2ModelName, p.U, p.V)
		}
		if lu != lv {
			return nil, daerr.Configf("%s: rotate pair (%s, %s) has %d and %d levels", Ana2ModelName, p.U, p.V, lu, lv)
		}
		rotated[p.U], rotated[p.V] = true, true
		a.pairs = append(a.pairs, p)
	}
	for _, name := range cfg.Log.Var {
		if _, ok := geom.Levels(name); !ok {
			return nil, daerr.Configf("%s: log variable %s is outside the variable domain", Ana2ModelName, name)
		}
		if rotated[name] {
			return nil, daerr.Configf("%s: %s cannot be both rotated and log-transformed", Ana2ModelName, name)
		}
	}
	a.logVars = fields.NewVariables(cfg.Log.Var...)
	diagf("%s: %d rotated pairs, log vars %v", Ana2ModelName, len(a.pairs), a.logVars)
	return a, nil
}

// Pairs returns the rotated vector pairs.
func (a *Ana2Model) Pairs() []VectorPair { return a.pairs }

// LogVariables returns the log-transformed variables.
func (a *Ana2Model) LogVariables() fields.Variables { return a.logVars }

// ChangeVar applies the analysis-to-model transform.
func (a *Ana2Model) ChangeVar(in, out *fields.State) (err error) {
	done := monitoring.Track(Ana2ModelName, "ChangeVar")
	defer func() { done(err) }()
	return daerr.Wrap(Ana2ModelName, "ChangeVar", a.apply(in, out, 1))
}

// ChangeVarInverse applies the model-to-analysis transform.
func (a *Ana2Model) ChangeVarInverse(in, out *fields.State) (err error) {
	done := monitoring.Track(Ana2ModelName, "ChangeVarInverse")
	defer func() { done(err) }()
	return daerr.Wrap(Ana2ModelName, "ChangeVarInverse", a.apply(in, out, -1))
}

// apply copies every variable out declares from in, then rotates by
// sign*angle and applies ln (sign > 0) or exp (sign < 0).
func (a *Ana2Model) apply(in, out *fields.State, sign float64) error {
	if err := sameGrid(in, out); err != nil {
		return err
	}
	if in.Geometry().NPoints() != a.geom.NPoints() {
		return daerr.Mismatchf("state grid has %d points, operator grid has %d", in.Geometry().NPoints(), a.geom.NPoints())
	}
	if missing := out.Variables().Missing(in.Variables()); len(missing) > 0 {
		return daerr.Configf("cannot derive %v from %v", missing, in.Variables())
	}
	out.CopyFrom(in)
	out.SetValidTime(in.ValidTime())

	for _, p := range a.pairs {
		if !out.Has(p.U) && !out.Has(p.V) {
			continue
		}
		if !in.Has(p.U) || !in.Has(p.V) {
			return daerr.Configf("rotating (%s, %s) needs both components in the input", p.U, p.V)
		}
		u, v := in.Field(p.U), in.Field(p.V)
		n := a.geom.NPoints()
		for lev := 0; lev < u.Levels; lev++ {
			us, vs := u.Level(lev), v.Level(lev)
			for pt := 0; pt < n; pt++ {
				s, c := math.Sincos(sign * a.geom.Angle(pt))
				ur := c*us[pt] + s*vs[pt]
				vr := -s*us[pt] + c*vs[pt]
				if out.Has(p.U) {
					out.Field(p.U).Level(lev)[pt] = ur
				}
				if out.Has(p.V) {
					out.Field(p.V).Level(lev)[pt] = vr
				}
			}
		}
	}

	for _, name := range a.logVars {
		if !out.Has(name) {
			continue
		}
		d := out.Field(name).Data
		for i, x := range d {
			if sign > 0 {
				if x <= 0 {
					opsf("%s: non-positive %s=%g at index %d", Ana2ModelName, name, x, i)
					return daerr.Mismatchf("log of non-positive %s=%g at index %d", name, x, i)
				}
				d[i] = math.Log(x)
			} else {
				d[i] = math.Exp(x)
			}
		}
	}
	tracef("%s: sign=%+g vars=%v", Ana2ModelName, sign, out.Variables())
	return nil
}
