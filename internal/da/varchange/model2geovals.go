package varchange

import (
	"sort"

	"github.com/banshee-data/ucldas/internal/config"
	"github.com/banshee-data/ucldas/internal/da/daerr"
	"github.com/banshee-data/ucldas/internal/da/fields"
	"github.com/banshee-data/ucldas/internal/da/geometry"
	"github.com/banshee-data/ucldas/internal/monitoring"
)

// Model2GeoVaLsName is the operator name used in errors and metrics.
const Model2GeoVaLsName = "Model2GeoVaLs"

// Term is one weighted (variable, level) contribution to a derived variable.
type Term struct {
	Variable string
	Level    int
	Weight   float64
}

// Model2GeoVaLs materialises the variables the interpolator asks for. An
// output variable the input already carries is copied; otherwise it must be
// a configured derived variable, computed as a weighted sum of source
// levels. The map is linear, so the same terms serve its tangent-linear.
type Model2GeoVaLs struct {
	geom    *geometry.Geometry
	derived map[string][]Term
}

// NewModel2GeoVaLs builds the transform. A nil cfg copies only.
func NewModel2GeoVaLs(geom *geometry.Geometry, cfg *config.Model2GeoVaLsConfig) (*Model2GeoVaLs, error) {
	m := &Model2GeoVaLs{geom: geom, derived: map[string][]Term{}}
	if cfg == nil {
		return m, nil
	}
	for _, d := range cfg.Derived {
		lev, ok := geom.Levels(d.Name)
		if !ok {
			return nil, daerr.Configf("%s: derived variable %s is outside the variable domain", Model2GeoVaLsName, d.Name)
		}
		if lev != 1 {
			return nil, daerr.Configf("%s: derived variable %s must be single-level, declared with %d", Model2GeoVaLsName, d.Name, lev)
		}
		if _, dup := m.derived[d.Name]; dup {
			return nil, daerr.Configf("%s: derived variable %s declared twice", Model2GeoVaLsName, d.Name)
		}
		if len(d.Terms) == 0 {
			return nil, daerr.Configf("%s: derived variable %s has no terms", Model2GeoVaLsName, d.Name)
		}
		terms := make([]Term, 0, len(d.Terms))
		for _, t := range d.Terms {
			src, ok := geom.Levels(t.Variable)
			if !ok {
				return nil, daerr.Configf("%s: %s term %s is outside the variable domain", Model2GeoVaLsName, d.Name, t.Variable)
			}
			if t.Variable == d.Name {
				return nil, daerr.Configf("%s: %s cannot be derived from itself", Model2GeoVaLsName, d.Name)
			}
			if t.Level < 0 || t.Level >= src {
				return nil, daerr.Configf("%s: %s term %s level %d out of range [0,%d)", Model2GeoVaLsName, d.Name, t.Variable, t.Level, src)
			}
			terms = append(terms, Term{Variable: t.Variable, Level: t.Level, Weight: t.Weight})
		}
		m.derived[d.Name] = terms
	}
	diagf("%s: derived variables %v", Model2GeoVaLsName, m.DerivedVariables())
	return m, nil
}

// DerivedVariables lists the configured derived variables in sorted order.
func (m *Model2GeoVaLs) DerivedVariables() fields.Variables {
	out := make(fields.Variables, 0, len(m.derived))
	for name := range m.derived {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Terms returns the terms of a derived variable.
func (m *Model2GeoVaLs) Terms(name string) ([]Term, bool) {
	t, ok := m.derived[name]
	return t, ok
}

// Sources returns the variables needed to produce want: the copied ones and
// the term variables of the derived ones. Variables that can be neither
// copied from have nor derived are returned in missing.
func (m *Model2GeoVaLs) Sources(want, have fields.Variables) (sources, missing fields.Variables) {
	var names []string
	for _, name := range want {
		if have.Contains(name) {
			names = append(names, name)
			continue
		}
		terms, ok := m.derived[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		for _, t := range terms {
			names = append(names, t.Variable)
		}
	}
	return fields.NewVariables(names...), missing
}

// CanProvide reports whether name can be produced from have.
func (m *Model2GeoVaLs) CanProvide(name string, have fields.Variables) bool {
	if have.Contains(name) {
		return true
	}
	terms, ok := m.derived[name]
	if !ok {
		return false
	}
	for _, t := range terms {
		if !have.Contains(t.Variable) {
			return false
		}
	}
	return true
}

// ChangeVar fills every variable of out from in.
func (m *Model2GeoVaLs) ChangeVar(in, out *fields.State) (err error) {
	done := monitoring.Track(Model2GeoVaLsName, "ChangeVar")
	defer func() { done(err) }()
	return daerr.Wrap(Model2GeoVaLsName, "ChangeVar", m.changeVar(in, out))
}

func (m *Model2GeoVaLs) changeVar(in, out *fields.State) error {
	if err := sameGrid(in, out); err != nil {
		return err
	}
	for _, name := range out.Variables() {
		if !m.CanProvide(name, in.Variables()) {
			return daerr.Configf("cannot derive %s from %v", name, in.Variables())
		}
	}
	out.SetValidTime(in.ValidTime())
	for _, name := range out.Variables() {
		dst := out.Field(name)
		if in.Has(name) {
			copy(dst.Data, in.Field(name).Data)
			continue
		}
		for i := range dst.Data {
			dst.Data[i] = 0
		}
		for _, t := range m.derived[name] {
			src := in.Field(t.Variable).Level(t.Level)
			for p, x := range src {
				dst.Data[p] += t.Weight * x
			}
		}
	}
	return nil
}

// ChangeVarInverse recovers model variables from an interpolation State.
// Only copied variables can be recovered; a derived variable in the input
// or a requested variable the input lacks is a StateMismatch.
func (m *Model2GeoVaLs) ChangeVarInverse(in, out *fields.State) (err error) {
	done := monitoring.Track(Model2GeoVaLsName, "ChangeVarInverse")
	defer func() { done(err) }()
	return daerr.Wrap(Model2GeoVaLsName, "ChangeVarInverse", m.changeVarInverse(in, out))
}

func (m *Model2GeoVaLs) changeVarInverse(in, out *fields.State) error {
	if err := sameGrid(in, out); err != nil {
		return err
	}
	for _, name := range in.Variables() {
		if _, derived := m.derived[name]; derived && !out.Has(name) {
			return daerr.Mismatchf("derived variable %s has no inverse", name)
		}
	}
	if missing := out.Variables().Missing(in.Variables()); len(missing) > 0 {
		return daerr.Mismatchf("%v cannot be recovered from %v", missing, in.Variables())
	}
	out.CopyFrom(in)
	out.SetValidTime(in.ValidTime())
	return nil
}
