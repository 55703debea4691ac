// Package obs holds the observation-side containers the interpolators
// read and fill: an immutable set of Locations and the GeoVaLs buffer of
// model values at those locations.
package obs

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/ucldas/internal/da/daerr"
)

// Location is one observation coordinate.
type Location struct {
	Lat  float64
	Lon  float64
	Time time.Time
}

// Locations is an immutable, externally owned set of observation coordinates.
type Locations struct {
	locs []Location
}

// NewLocations copies locs into an immutable set.
func NewLocations(locs []Location) *Locations {
	out := make([]Location, len(locs))
	copy(out, locs)
	return &Locations{locs: out}
}

// Len returns the number of locations.
func (l *Locations) Len() int { return len(l.locs) }

// At returns location i.
func (l *Locations) At(i int) Location { return l.locs[i] }

// InWindow returns the indices of the locations whose time lies in the
// closed window [t1, t2].
func (l *Locations) InWindow(t1, t2 time.Time) []int {
	var idx []int
	for i, loc := range l.locs {
		if !loc.Time.Before(t1) && !loc.Time.After(t2) {
			idx = append(idx, i)
		}
	}
	return idx
}

// GeoVaLs holds, for each requested variable, Levels values at every
// location, indexed lev*NLocs + loc. It is a mutable output buffer filled in
// place by the interpolators.
type GeoVaLs struct {
	nlocs  int
	vars   []string
	levels map[string]int
	values map[string][]float64
}

// NewGeoVaLs allocates a zero buffer for the given variable shapes.
func NewGeoVaLs(nlocs int, shapes map[string]int) (*GeoVaLs, error) {
	if nlocs < 0 {
		return nil, daerr.Mismatchf("negative location count %d", nlocs)
	}
	g := &GeoVaLs{
		nlocs:  nlocs,
		levels: make(map[string]int, len(shapes)),
		values: make(map[string][]float64, len(shapes)),
	}
	for name, lev := range shapes {
		if lev <= 0 {
			return nil, daerr.Mismatchf("geoval %s has %d levels", name, lev)
		}
		g.vars = append(g.vars, name)
		g.levels[name] = lev
		g.values[name] = make([]float64, lev*nlocs)
	}
	sort.Strings(g.vars)
	return g, nil
}

// NLocs returns the number of locations.
func (g *GeoVaLs) NLocs() int { return g.nlocs }

// Variables returns the requested variables in sorted order.
func (g *GeoVaLs) Variables() []string {
	out := make([]string, len(g.vars))
	copy(out, g.vars)
	return out
}

// Has reports whether variable name is requested.
func (g *GeoVaLs) Has(name string) bool { _, ok := g.values[name]; return ok }

// Levels returns the number of levels of variable name.
func (g *GeoVaLs) Levels(name string) int { return g.levels[name] }

// Values returns the backing slice of variable name (nil if absent).
func (g *GeoVaLs) Values(name string) []float64 { return g.values[name] }

// At returns the value of variable name at (lev, loc).
func (g *GeoVaLs) At(name string, lev, loc int) float64 {
	return g.values[name][lev*g.nlocs+loc]
}

// Set stores the value of variable name at (lev, loc).
func (g *GeoVaLs) Set(name string, lev, loc int, v float64) {
	g.values[name][lev*g.nlocs+loc] = v
}

// Subset returns a view of the named variables that shares storage with g.
// Names g does not request are skipped.
func (g *GeoVaLs) Subset(names ...string) *GeoVaLs {
	sub := &GeoVaLs{
		nlocs:  g.nlocs,
		levels: make(map[string]int, len(names)),
		values: make(map[string][]float64, len(names)),
	}
	for _, name := range names {
		v, ok := g.values[name]
		if !ok {
			continue
		}
		if _, dup := sub.values[name]; dup {
			continue
		}
		sub.vars = append(sub.vars, name)
		sub.levels[name] = g.levels[name]
		sub.values[name] = v
	}
	sort.Strings(sub.vars)
	return sub
}

// Zero clears every value.
func (g *GeoVaLs) Zero() {
	for _, v := range g.values {
		for i := range v {
			v[i] = 0
		}
	}
}

// ZeroLike returns a zero buffer with the same shape.
func (g *GeoVaLs) ZeroLike() *GeoVaLs {
	out, _ := NewGeoVaLs(g.nlocs, g.levels)
	return out
}

// Copy returns a deep copy.
func (g *GeoVaLs) Copy() *GeoVaLs {
	out := g.ZeroLike()
	for name, v := range g.values {
		copy(out.values[name], v)
	}
	return out
}

func (g *GeoVaLs) sameShape(other *GeoVaLs) error {
	if g.nlocs != other.nlocs || len(g.vars) != len(other.vars) {
		return daerr.Mismatchf("geovals shapes differ: %d locs %v vs %d locs %v", g.nlocs, g.vars, other.nlocs, other.vars)
	}
	for name, lev := range g.levels {
		if other.levels[name] != lev {
			return daerr.Mismatchf("geoval %s has %d levels vs %d", name, lev, other.levels[name])
		}
	}
	return nil
}

// Dot is the Euclidean inner product over every variable.
func (g *GeoVaLs) Dot(other *GeoVaLs) (float64, error) {
	if err := g.sameShape(other); err != nil {
		return 0, err
	}
	var sum float64
	for _, name := range g.vars {
		sum += floats.Dot(g.values[name], other.values[name])
	}
	return sum, nil
}

// Norm is the Euclidean norm.
func (g *GeoVaLs) Norm() float64 {
	var sum float64
	for _, v := range g.values {
		sum += floats.Dot(v, v)
	}
	return math.Sqrt(sum)
}

// Random fills every value with standard normal draws seeded by seed.
func (g *GeoVaLs) Random(seed uint64) {
	dist := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewPCG(seed, seed^0x94d049bb133111eb)}
	for _, name := range g.vars {
		v := g.values[name]
		for i := range v {
			v[i] = dist.Rand()
		}
	}
}

func (g *GeoVaLs) String() string {
	return fmt.Sprintf("GeoVaLs(%d locs, vars=%v)", g.nlocs, g.vars)
}
