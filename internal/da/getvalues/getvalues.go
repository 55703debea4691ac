// Package getvalues interpolates model fields to observation locations:
// GetValues for full States, LinearGetValues for increments and the
// adjoint accumulation back onto the grid.
package getvalues

import (
	"context"
	"time"

	"github.com/banshee-data/ucldas/internal/config"
	"github.com/banshee-data/ucldas/internal/da/daerr"
	"github.com/banshee-data/ucldas/internal/da/fields"
	"github.com/banshee-data/ucldas/internal/da/geometry"
	"github.com/banshee-data/ucldas/internal/da/obs"
	"github.com/banshee-data/ucldas/internal/da/varchange"
	"github.com/banshee-data/ucldas/internal/monitoring"
)

// GetValuesName is the operator name used in errors and metrics.
const GetValuesName = "GetValues"

// Archive supplies GeoVaLs computed outside the model, such as
// atmospheric values over land. It reports which variables it filled.
type Archive interface {
	Load(ctx context.Context, obsSpace string, begin, end time.Time, out *obs.GeoVaLs) ([]string, error)
}

// GetValues interpolates States to a fixed set of Locations. When an archive
// is attached it supplies the requested variables the State cannot provide;
// it never touches variables the State can provide.
type GetValues struct {
	geom *geometry.Geometry
	locs *obs.Locations
	m2g  *varchange.Model2GeoVaLs

	archive  Archive
	obsSpace string
	begin    time.Time
	end      time.Time
}

// New builds the interpolator. cfg may be nil. The archive is consulted only
// when cfg enables notocean.init, and must then be non-nil.
func New(geom *geometry.Geometry, locs *obs.Locations, cfg *config.GetValuesConfig, archive Archive) (*GetValues, error) {
	if geom == nil || locs == nil {
		return nil, daerr.Configf("%s: geometry and locations are required", GetValuesName)
	}
	var m2gCfg *config.Model2GeoVaLsConfig
	if cfg != nil {
		m2gCfg = cfg.Model2GeoVaLs
	}
	m2g, err := varchange.NewModel2GeoVaLs(geom, m2gCfg)
	if err != nil {
		return nil, err
	}
	g := &GetValues{geom: geom, locs: locs, m2g: m2g}

	if cfg != nil && cfg.NotOcean != nil && cfg.NotOcean.GetInit() {
		if archive == nil {
			return nil, daerr.Configf("%s: notocean.init is set but no archive is attached", GetValuesName)
		}
		begin, end, err := cfg.NotOcean.Window()
		if err != nil {
			return nil, daerr.Configf("%s: %v", GetValuesName, err)
		}
		g.archive = archive
		g.obsSpace = cfg.NotOcean.ObsSpace.Name
		g.begin, g.end = begin, end
		diagf("%s: archive %q over [%s, %s]", GetValuesName, g.obsSpace, begin.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return g, nil
}

// Locations returns the observation locations.
func (g *GetValues) Locations() *obs.Locations { return g.locs }

// FillGeoVaLs interpolates state at the locations whose time lies in
// [t1, t2] and writes the values into out.
func (g *GetValues) FillGeoVaLs(ctx context.Context, state *fields.State, t1, t2 time.Time, out *obs.GeoVaLs) (err error) {
	done := monitoring.Track(GetValuesName, "FillGeoVaLs")
	defer func() { done(err) }()
	return daerr.Wrap(GetValuesName, "FillGeoVaLs", g.fill(ctx, state, t1, t2, out))
}

func (g *GetValues) fill(ctx context.Context, state *fields.State, t1, t2 time.Time, out *obs.GeoVaLs) error {
	if state == nil || out == nil {
		return daerr.Mismatchf("state and geovals are required")
	}
	if out.NLocs() != g.locs.Len() {
		return daerr.Mismatchf("geovals have %d locations, interpolator has %d", out.NLocs(), g.locs.Len())
	}
	if t2.Before(t1) {
		return daerr.Sequencef("window end %s precedes start %s", t2.Format(time.RFC3339), t1.Format(time.RFC3339))
	}

	if state.Geometry().NPoints() != g.geom.NPoints() {
		return daerr.Mismatchf("state grid has %d points, interpolator grid has %d", state.Geometry().NPoints(), g.geom.NPoints())
	}

	want := fields.NewVariables(out.Variables()...)
	var provide, rest fields.Variables
	for _, name := range want {
		if g.m2g.CanProvide(name, state.Variables()) {
			provide = append(provide, name)
		} else {
			rest = append(rest, name)
		}
	}

	// The archive only fills what the state cannot provide.
	var archived fields.Variables
	if g.archive != nil && len(rest) > 0 {
		found, err := g.archive.Load(ctx, g.obsSpace, g.begin, g.end, out.Subset(rest...))
		if err != nil {
			return err
		}
		archived = fields.NewVariables(found...)
	}
	if missing := rest.Missing(archived); len(missing) > 0 {
		return daerr.Configf("cannot derive %v from %v", missing, state.Variables())
	}

	src := state
	if !provide.SubsetOf(state.Variables()) {
		derived, err := fields.NewState(g.geom, provide, state.ValidTime())
		if err != nil {
			return err
		}
		if err := g.m2g.ChangeVar(state, derived); err != nil {
			return err
		}
		src = derived
	}
	for _, name := range provide {
		if err := checkShape(src, name, out); err != nil {
			return err
		}
	}

	idx, st := stencils(g.geom, g.locs, t1, t2)
	interpolate(src, provide, idx, st, out)
	tracef("%s: %d locations in window, interpolated %v, archived %v", GetValuesName, len(idx), provide, archived)
	return nil
}
