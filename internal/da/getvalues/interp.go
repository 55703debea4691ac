package getvalues

import (
	"time"

	"github.com/banshee-data/ucldas/internal/da/daerr"
	"github.com/banshee-data/ucldas/internal/da/fields"
	"github.com/banshee-data/ucldas/internal/da/geometry"
	"github.com/banshee-data/ucldas/internal/da/obs"
)

// stencils computes the bilinear footprint of every location in [t1, t2].
func stencils(geom *geometry.Geometry, locs *obs.Locations, t1, t2 time.Time) ([]int, []geometry.Stencil) {
	idx := locs.InWindow(t1, t2)
	st := make([]geometry.Stencil, len(idx))
	for k, i := range idx {
		loc := locs.At(i)
		st[k] = geom.Weights(loc.Lat, loc.Lon)
	}
	return idx, st
}

// field is the read side shared by State and Increment.
type field interface {
	Field(name string) *fields.Field
}

// checkShape verifies that src carries name with the levels out expects.
func checkShape(src field, name string, out *obs.GeoVaLs) error {
	f := src.Field(name)
	if f == nil {
		return daerr.Mismatchf("%s is not available for interpolation", name)
	}
	if f.Levels != out.Levels(name) {
		return daerr.Mismatchf("%s has %d levels, geovals expect %d", name, f.Levels, out.Levels(name))
	}
	return nil
}

// interpolate overwrites out[name] at the window's locations.
func interpolate(src field, names []string, idx []int, st []geometry.Stencil, out *obs.GeoVaLs) {
	for _, name := range names {
		f := src.Field(name)
		for lev := 0; lev < f.Levels; lev++ {
			slab := f.Level(lev)
			for k, loc := range idx {
				s := st[k]
				var v float64
				for c := 0; c < 4; c++ {
					v += s.W[c] * slab[s.Idx[c]]
				}
				out.Set(name, lev, loc, v)
			}
		}
	}
}

// scatter accumulates the transpose of interpolate into dst.
func scatter(dst field, names []string, idx []int, st []geometry.Stencil, in *obs.GeoVaLs) {
	for _, name := range names {
		f := dst.Field(name)
		for lev := 0; lev < f.Levels; lev++ {
			slab := f.Level(lev)
			for k, loc := range idx {
				s := st[k]
				v := in.At(name, lev, loc)
				for c := 0; c < 4; c++ {
					slab[s.Idx[c]] += s.W[c] * v
				}
			}
		}
	}
}
