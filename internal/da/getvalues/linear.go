package getvalues

import (
	"fmt"
	"time"

	"github.com/banshee-data/ucldas/internal/da/daerr"
	"github.com/banshee-data/ucldas/internal/da/fields"
	"github.com/banshee-data/ucldas/internal/da/geometry"
	"github.com/banshee-data/ucldas/internal/da/linop"
	"github.com/banshee-data/ucldas/internal/da/obs"
	"github.com/banshee-data/ucldas/internal/monitoring"
)

// LinearGetValuesName is the operator name used in errors and metrics.
const LinearGetValuesName = "LinearGetValues"

type window struct {
	t1, t2 int64
}

func windowOf(t1, t2 time.Time) window { return window{t1.UnixNano(), t2.UnixNano()} }

func (w window) String() string {
	return fmt.Sprintf("[%s, %s]", time.Unix(0, w.t1).UTC().Format(time.RFC3339), time.Unix(0, w.t2).UTC().Format(time.RFC3339))
}

// record is the linearization of one window.
type record struct {
	token linop.Token
	vars  map[string]int // levels per interpolated variable
	idx   []int
	st    []geometry.Stencil
}

// LinearGetValues is the tangent-linear interpolator. SetTrajectory records
// each window's interpolation and returns the token the TL and AD calls for
// that window must present. Re-recording a window invalidates its old token.
type LinearGetValues struct {
	geom    *geometry.Geometry
	locs    *obs.Locations
	records map[window]*record
}

// NewLinear builds the interpolator with no recorded windows.
func NewLinear(geom *geometry.Geometry, locs *obs.Locations) (*LinearGetValues, error) {
	if geom == nil || locs == nil {
		return nil, daerr.Configf("%s: geometry and locations are required", LinearGetValuesName)
	}
	return &LinearGetValues{geom: geom, locs: locs, records: map[window]*record{}}, nil
}

// SetTrajectory interpolates state into out for [t1, t2] and records the
// window's linearization, replacing any earlier record for the same window.
func (l *LinearGetValues) SetTrajectory(state *fields.State, t1, t2 time.Time, out *obs.GeoVaLs) (tok linop.Token, err error) {
	done := monitoring.Track(LinearGetValuesName, "SetTrajectory")
	defer func() { done(err) }()
	if err := l.checkCall(t1, t2, out); err != nil {
		return linop.Token{}, daerr.Wrap(LinearGetValuesName, "SetTrajectory", err)
	}
	if state == nil {
		return linop.Token{}, daerr.Wrap(LinearGetValuesName, "SetTrajectory", daerr.Mismatchf("nil state"))
	}
	if state.Geometry().NPoints() != l.geom.NPoints() {
		return linop.Token{}, daerr.Wrap(LinearGetValuesName, "SetTrajectory",
			daerr.Mismatchf("state grid has %d points, interpolator grid has %d", state.Geometry().NPoints(), l.geom.NPoints()))
	}
	names := out.Variables()
	vars := make(map[string]int, len(names))
	for _, name := range names {
		if err := checkShape(state, name, out); err != nil {
			return linop.Token{}, daerr.Wrap(LinearGetValuesName, "SetTrajectory", err)
		}
		vars[name] = out.Levels(name)
	}
	idx, st := stencils(l.geom, l.locs, t1, t2)
	interpolate(state, names, idx, st, out)

	w := windowOf(t1, t2)
	rec := &record{token: linop.NewToken(), vars: vars, idx: idx, st: st}
	if _, ok := l.records[w]; ok {
		diagf("%s: replacing trajectory for window %s", LinearGetValuesName, w)
	}
	l.records[w] = rec
	diagf("%s: window %s has %d locations (token %s)", LinearGetValuesName, w, len(idx), rec.token)
	return rec.token, nil
}

// FillGeoVaLsTL overwrites out at the window's locations with the
// interpolated increment.
func (l *LinearGetValues) FillGeoVaLsTL(tok linop.Token, incr *fields.Increment, t1, t2 time.Time, out *obs.GeoVaLs) (err error) {
	done := monitoring.Track(LinearGetValuesName, "FillGeoVaLsTL")
	defer func() { done(err) }()
	rec, err := l.lookup(tok, incr, t1, t2, out)
	if err != nil {
		return daerr.Wrap(LinearGetValuesName, "FillGeoVaLsTL", err)
	}
	interpolate(incr, out.Variables(), rec.idx, rec.st, out)
	return nil
}

// FillGeoVaLsAD accumulates the adjoint of the window's interpolation
// applied to in into incr: incr += H^T in.
func (l *LinearGetValues) FillGeoVaLsAD(tok linop.Token, incr *fields.Increment, t1, t2 time.Time, in *obs.GeoVaLs) (err error) {
	done := monitoring.Track(LinearGetValuesName, "FillGeoVaLsAD")
	defer func() { done(err) }()
	rec, err := l.lookup(tok, incr, t1, t2, in)
	if err != nil {
		return daerr.Wrap(LinearGetValuesName, "FillGeoVaLsAD", err)
	}
	scatter(incr, in.Variables(), rec.idx, rec.st, in)
	return nil
}

func (l *LinearGetValues) checkCall(t1, t2 time.Time, g *obs.GeoVaLs) error {
	if g == nil {
		return daerr.Mismatchf("nil geovals")
	}
	if g.NLocs() != l.locs.Len() {
		return daerr.Mismatchf("geovals have %d locations, interpolator has %d", g.NLocs(), l.locs.Len())
	}
	if t2.Before(t1) {
		return daerr.Sequencef("window end %s precedes start %s", t2.Format(time.RFC3339), t1.Format(time.RFC3339))
	}
	return nil
}

// lookup finds the record for [t1, t2] and checks the token and the shapes
// against it.
func (l *LinearGetValues) lookup(tok linop.Token, incr *fields.Increment, t1, t2 time.Time, g *obs.GeoVaLs) (*record, error) {
	if err := l.checkCall(t1, t2, g); err != nil {
		return nil, err
	}
	w := windowOf(t1, t2)
	rec, ok := l.records[w]
	switch {
	case !ok:
		return nil, daerr.Sequencef("no trajectory recorded for window %s", w)
	case tok.IsZero():
		return nil, daerr.Sequencef("missing linearization token for window %s", w)
	case tok != rec.token:
		opsf("%s: stale or foreign token %s for window %s (current %s)", LinearGetValuesName, tok, w, rec.token)
		return nil, daerr.Sequencef("token %s does not match the trajectory recorded for window %s", tok, w)
	}
	if incr == nil {
		return nil, daerr.Mismatchf("nil increment")
	}
	if incr.Geometry().NPoints() != l.geom.NPoints() {
		return nil, daerr.Mismatchf("increment has %d points, interpolator grid has %d", incr.Geometry().NPoints(), l.geom.NPoints())
	}
	for _, name := range g.Variables() {
		lev, ok := rec.vars[name]
		if !ok {
			return nil, daerr.Mismatchf("%s was not part of the trajectory for window %s", name, w)
		}
		if g.Levels(name) != lev {
			return nil, daerr.Mismatchf("%s has %d levels, trajectory recorded %d", name, g.Levels(name), lev)
		}
		if err := checkShape(incr, name, g); err != nil {
			return nil, err
		}
	}
	return rec, nil
}
