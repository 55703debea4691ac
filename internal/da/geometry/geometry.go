// Package geometry provides the Domain Handle the operators allocate on: a
// regular lon/lat grid, its declared variable domain, the local grid
// rotation and a validity mask, plus the bilinear stencils the
// interpolators consume.
package geometry

import (
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/ucldas/internal/config"
	"github.com/banshee-data/ucldas/internal/da/daerr"
)

// Geometry is immutable after New and shared by reference.
type Geometry struct {
	NX, NY     int
	Lon0, Lat0 float64
	DLon, DLat float64

	levels map[string]int
	names  []string
	angle  []float64 // radians, per point
	mask   []float64 // 1 valid, 0 masked
}

// New builds a Geometry from its configuration.
func New(cfg config.GeometryConfig) (*Geometry, error) {
	if cfg.NX < 2 || cfg.NY < 2 {
		return nil, daerr.Configf("geometry needs at least 2x2 points, got %dx%d", cfg.NX, cfg.NY)
	}
	if cfg.DLon <= 0 || cfg.DLat <= 0 {
		return nil, daerr.Configf("geometry spacing must be positive, got dlon=%g dlat=%g", cfg.DLon, cfg.DLat)
	}
	if len(cfg.Variables) == 0 {
		return nil, daerr.Configf("geometry declares no variables")
	}

	g := &Geometry{
		NX: cfg.NX, NY: cfg.NY,
		Lon0: cfg.Lon0, Lat0: cfg.Lat0,
		DLon: cfg.DLon, DLat: cfg.DLat,
		levels: make(map[string]int, len(cfg.Variables)),
	}
	for name, lev := range cfg.Variables {
		if lev <= 0 {
			return nil, daerr.Configf("variable %s has %d levels", name, lev)
		}
		g.levels[name] = lev
		g.names = append(g.names, name)
	}
	sort.Strings(g.names)

	n := g.NPoints()
	g.angle = make([]float64, n)
	g.mask = make([]float64, n)
	rot := cfg.GetRotationDeg() * math.Pi / 180
	maskLat := cfg.GetMaskLatMax()
	for j := 0; j < g.NY; j++ {
		lat := g.Lat(j)
		for i := 0; i < g.NX; i++ {
			p := g.Index(i, j)
			g.angle[p] = rot * math.Cos(lat*math.Pi/180)
			if math.Abs(lat) <= maskLat {
				g.mask[p] = 1
			}
		}
	}
	return g, nil
}

// NPoints is the number of horizontal grid points.
func (g *Geometry) NPoints() int { return g.NX * g.NY }

// Index flattens grid coordinates: p = j*NX + i.
func (g *Geometry) Index(i, j int) int { return j*g.NX + i }

// Lon returns the longitude of column i.
func (g *Geometry) Lon(i int) float64 { return g.Lon0 + float64(i)*g.DLon }

// Lat returns the latitude of row j.
func (g *Geometry) Lat(j int) float64 { return g.Lat0 + float64(j)*g.DLat }

// Variables returns the declared variable domain in sorted order.
func (g *Geometry) Variables() []string {
	out := make([]string, len(g.names))
	copy(out, g.names)
	return out
}

// Levels reports the number of levels of a declared variable.
func (g *Geometry) Levels(name string) (int, bool) {
	lev, ok := g.levels[name]
	return lev, ok
}

// Angle returns the local grid rotation (radians) at point p.
func (g *Geometry) Angle(p int) float64 { return g.angle[p] }

// Mask returns 1 for valid points and 0 for masked ones. The slice must not
// be modified.
func (g *Geometry) Mask() []float64 { return g.mask }

func (g *Geometry) String() string {
	return fmt.Sprintf("Geometry(%dx%d, lon0=%g lat0=%g, d=%g/%g, vars=%v)",
		g.NX, g.NY, g.Lon0, g.Lat0, g.DLon, g.DLat, g.names)
}

// Stencil is the bilinear interpolation footprint of one location.
type Stencil struct {
	Idx [4]int
	W   [4]float64
}

// Weights returns the bilinear stencil at (lat, lon). Locations outside
// the grid are clamped to the nearest edge.
func (g *Geometry) Weights(lat, lon float64) Stencil {
	i0, fx := cell((lon-g.Lon0)/g.DLon, g.NX)
	j0, fy := cell((lat-g.Lat0)/g.DLat, g.NY)
	return Stencil{
		Idx: [4]int{
			g.Index(i0, j0), g.Index(i0+1, j0),
			g.Index(i0, j0+1), g.Index(i0+1, j0+1),
		},
		W: [4]float64{
			(1 - fx) * (1 - fy), fx * (1 - fy),
			(1 - fx) * fy, fx * fy,
		},
	}
}

// cell splits a fractional grid coordinate into the lower cell index and
// the offset inside that cell, clamping to [0, n-1].
func cell(x float64, n int) (int, float64) {
	if x <= 0 || math.IsNaN(x) {
		return 0, 0
	}
	if x >= float64(n-1) {
		return n - 2, 1
	}
	i := int(math.Floor(x))
	return i, x - float64(i)
}
