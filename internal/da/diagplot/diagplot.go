// Package diagplot renders diagnostic plots of an assimilation run: heat
// maps of increment fields, the relative error of every adjoint check and
// the residual ratios of tangent-linear checks.
package diagplot

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/ucldas/internal/da/fields"
	"github.com/banshee-data/ucldas/internal/da/geometry"
)

// floor keeps exact zeros plottable on a log axis.
const floor = 1e-18

// Check is one recorded adjoint check.
type Check struct {
	Operator string
	Pair     string
	RelErr   float64
}

// Plotter accumulates check results during a run and writes PNG files to
// its output directory.
type Plotter struct {
	mu        sync.Mutex
	outputDir string
	checks    []Check
	taylor    map[string]taylorSeries
}

type taylorSeries struct {
	steps  []float64
	ratios []float64
}

// New creates a plotter writing to outputDir, creating it if needed.
func New(outputDir string) (*Plotter, error) {
	if outputDir == "" {
		return nil, fmt.Errorf("no output directory configured")
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	diagf("writing plots to %s", outputDir)
	return &Plotter{outputDir: outputDir, taylor: map[string]taylorSeries{}}, nil
}

// OutputDir returns the directory plots are written to.
func (p *Plotter) OutputDir() string { return p.outputDir }

// RecordCheck stores the relative error of one adjoint check. pair names
// the checked pair, e.g. "Multiply/MultiplyAD".
func (p *Plotter) RecordCheck(operator, pair string, relErr float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checks = append(p.checks, Check{Operator: operator, Pair: pair, RelErr: relErr})
	tracef("check %s %s rel=%.3g", operator, pair, relErr)
}

// RecordTaylor stores the residual ratios of a tangent-linear check.
func (p *Plotter) RecordTaylor(name string, steps, ratios []float64) error {
	if len(steps) != len(ratios) || len(steps) == 0 {
		return fmt.Errorf("taylor %s: %d steps and %d ratios", name, len(steps), len(ratios))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.taylor[name] = taylorSeries{
		steps:  append([]float64(nil), steps...),
		ratios: append([]float64(nil), ratios...),
	}
	return nil
}

// Checks returns a copy of the recorded adjoint checks.
func (p *Plotter) Checks() []Check {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Check(nil), p.checks...)
}

// levelGrid adapts one level of a field to plotter.GridXYZ.
type levelGrid struct {
	geom *geometry.Geometry
	data []float64
}

func (g levelGrid) Dims() (c, r int)   { return g.geom.NX, g.geom.NY }
func (g levelGrid) Z(c, r int) float64 { return g.data[g.geom.Index(c, r)] }
func (g levelGrid) X(c int) float64    { return g.geom.Lon(c) }
func (g levelGrid) Y(r int) float64    { return g.geom.Lat(r) }

// HeatMap writes a heat map of one level of variable in dx to
// <tag>_<variable>_lNN.png and returns the file path.
func (p *Plotter) HeatMap(tag string, dx *fields.Increment, variable string, level int) (string, error) {
	if !dx.Has(variable) {
		return "", fmt.Errorf("heat map: %s not in %v", variable, dx.Variables())
	}
	f := dx.Field(variable)
	if level < 0 || level >= f.Levels {
		return "", fmt.Errorf("heat map: %s level %d out of range [0,%d)", variable, level, f.Levels)
	}
	grid := levelGrid{geom: dx.Geometry(), data: f.Level(level)}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, z := range grid.data {
		lo, hi = math.Min(lo, z), math.Max(hi, z)
	}
	// symmetric range so zero sits at the diverging palette's midpoint
	m := math.Max(math.Abs(lo), math.Abs(hi))
	if m == 0 {
		m = 1
	}
	cmap := moreland.SmoothBlueRed()
	cmap.SetMin(-m)
	cmap.SetMax(m)

	hm := plotter.NewHeatMap(grid, cmap.Palette(255))
	hm.Min, hm.Max = -m, m

	pl := plot.New()
	pl.Title.Text = fmt.Sprintf("%s: %s level %d (%s)", tag, variable, level, dx.ValidTime().Format("2006-01-02T15:04:05Z"))
	pl.X.Label.Text = "Longitude (deg)"
	pl.Y.Label.Text = "Latitude (deg)"
	pl.Add(hm)

	file := filepath.Join(p.outputDir, fmt.Sprintf("%s_%s_l%02d.png", tag, variable, level))
	if err := pl.Save(8*vg.Inch, 6*vg.Inch, file); err != nil {
		return "", fmt.Errorf("save heat map: %w", err)
	}
	diagf("heat map %s level %d range [%g, %g] -> %s", variable, level, lo, hi, file)
	return file, nil
}

// GeneratePlots writes the adjoint-error and Taylor plots for everything
// recorded so far. It returns the number of files written.
func (p *Plotter) GeneratePlots() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	if len(p.checks) > 0 {
		if err := p.plotChecks(); err != nil {
			return n, err
		}
		n++
	}
	if len(p.taylor) > 0 {
		if err := p.plotTaylor(); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (p *Plotter) plotChecks() error {
	pl := plot.New()
	pl.Title.Text = "Adjoint checks"
	pl.Y.Label.Text = "Relative error"
	pl.Y.Scale = plot.LogScale{}
	pl.Y.Tick.Marker = plot.LogTicks{Prec: -1}

	pts := make(plotter.XYs, len(p.checks))
	names := make([]string, len(p.checks))
	for i, c := range p.checks {
		pts[i] = plotter.XY{X: float64(i), Y: math.Max(c.RelErr, floor)}
		names[i] = c.Operator + " " + c.Pair
	}
	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	sc.Color = plotutil.Color(0)
	pl.Add(sc)
	pl.NominalX(names...)
	pl.X.Tick.Label.Rotation = math.Pi / 4
	pl.X.Tick.Label.XAlign = -1

	file := filepath.Join(p.outputDir, "adjoint_checks.png")
	if err := pl.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
		return fmt.Errorf("save adjoint plot: %w", err)
	}
	return nil
}

func (p *Plotter) plotTaylor() error {
	pl := plot.New()
	pl.Title.Text = "Tangent-linear residual ratio"
	pl.X.Label.Text = "Step"
	pl.Y.Label.Text = "Ratio"
	pl.X.Scale = plot.LogScale{}
	pl.Y.Scale = plot.LogScale{}
	pl.X.Tick.Marker = plot.LogTicks{Prec: -1}
	pl.Y.Tick.Marker = plot.LogTicks{Prec: -1}

	names := make([]string, 0, len(p.taylor))
	for name := range p.taylor {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		s := p.taylor[name]
		pts := make(plotter.XYs, len(s.steps))
		for k := range s.steps {
			pts[k] = plotter.XY{X: s.steps[k], Y: math.Max(s.ratios[k], floor)}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		pl.Add(line)
		pl.Legend.Add(name, line)
	}
	pl.Legend.Top = true
	pl.Legend.Left = true

	file := filepath.Join(p.outputDir, "taylor.png")
	if err := pl.Save(8*vg.Inch, 6*vg.Inch, file); err != nil {
		return fmt.Errorf("save taylor plot: %w", err)
	}
	return nil
}
