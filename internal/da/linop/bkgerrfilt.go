package linop

import (
	"github.com/banshee-data/ucldas/internal/config"
	"github.com/banshee-data/ucldas/internal/da/daerr"
	"github.com/banshee-data/ucldas/internal/da/fields"
	"github.com/banshee-data/ucldas/internal/da/geometry"
)

// BkgErrFiltName is the registry key and operator name of BkgErrFilt.
const BkgErrFiltName = "BkgErrFILT"

// BkgErrFilt is a diagonal filter K = mask * taper(traj) * scale. The taper
// reads level 0 of the filter variable and ramps linearly from 0 at
// threshold_low to 1 at threshold_high. K is symmetric, so MultiplyAD
// equals Multiply; the inverse pair is the identity.
type BkgErrFilt struct {
	base
	cfg *config.BkgErrFiltConfig
	k   pointwise
}

// NewBkgErrFilt builds the filter and linearizes it at (bkg, traj).
func NewBkgErrFilt(geom *geometry.Geometry, cfg *config.BkgErrFiltConfig, bkg, traj *fields.State) (*BkgErrFilt, error) {
	if cfg == nil {
		return nil, daerr.Configf("%s: missing filter configuration", BkgErrFiltName)
	}
	if _, ok := geom.Levels(cfg.Variable); !ok {
		return nil, daerr.Configf("%s: filter variable %s is outside the variable domain", BkgErrFiltName, cfg.Variable)
	}
	if cfg.GetThresholdHigh() <= cfg.GetThresholdLow() {
		return nil, daerr.Configf("%s: threshold_high (%g) must exceed threshold_low (%g)", BkgErrFiltName, cfg.GetThresholdHigh(), cfg.GetThresholdLow())
	}
	for name := range cfg.Scale {
		if _, ok := geom.Levels(name); !ok {
			return nil, daerr.Configf("%s: scale for %s is outside the variable domain", BkgErrFiltName, name)
		}
	}
	f := &BkgErrFilt{base: base{name: BkgErrFiltName, geom: geom}, cfg: cfg}
	if _, err := f.Relinearize(bkg, traj); err != nil {
		return nil, err
	}
	return f, nil
}

// taper ramps from 0 at lo to 1 at hi.
func taper(x, lo, hi float64) float64 {
	switch {
	case x <= lo:
		return 0
	case x >= hi:
		return 1
	default:
		return (x - lo) / (hi - lo)
	}
}

// Relinearize rebuilds K from traj.
func (f *BkgErrFilt) Relinearize(bkg, traj *fields.State) (Token, error) {
	if err := f.checkTrajectory(bkg, traj); err != nil {
		return Token{}, daerr.Wrap(f.name, "Relinearize", err)
	}
	if !traj.Has(f.cfg.Variable) {
		return Token{}, daerr.Wrap(f.name, "Relinearize", daerr.Mismatchf("trajectory lacks filter variable %s", f.cfg.Variable))
	}
	n := f.geom.NPoints()
	mask := f.geom.Mask()
	ref := traj.Field(f.cfg.Variable).Level(0)
	lo, hi := f.cfg.GetThresholdLow(), f.cfg.GetThresholdHigh()

	filt := make([]float64, n)
	var kept int
	for p := 0; p < n; p++ {
		filt[p] = mask[p] * taper(ref[p], lo, hi)
		if filt[p] > 0 {
			kept++
		}
	}

	k := make(pointwise)
	for _, name := range f.geom.Variables() {
		lev, _ := f.geom.Levels(name)
		scale := f.cfg.GetScale(name)
		c := make([]float64, lev*n)
		for l := 0; l < lev; l++ {
			for p := 0; p < n; p++ {
				c[l*n+p] = scale * filt[p]
			}
		}
		k[name] = c
	}
	f.k = k
	if kept == 0 {
		opsf("%s: filter removes every point (variable %s, thresholds %g..%g)", f.name, f.cfg.Variable, lo, hi)
	}
	return f.install(bkg, traj), nil
}

// Multiply computes dOut = K dIn.
func (f *BkgErrFilt) Multiply(dIn, dOut *fields.Increment) error {
	return f.apply("Multiply", dIn, dOut, func(*linearization) error {
		return scaleInto(dIn, dOut, f.k, false)
	})
}

// MultiplyAD computes dOut = K^T dIn = K dIn.
func (f *BkgErrFilt) MultiplyAD(dIn, dOut *fields.Increment) error {
	return f.apply("MultiplyAD", dIn, dOut, func(*linearization) error {
		return scaleInto(dIn, dOut, f.k, false)
	})
}

// MultiplyInverse copies dIn into dOut unchanged.
func (f *BkgErrFilt) MultiplyInverse(dIn, dOut *fields.Increment) error {
	return f.apply("MultiplyInverse", dIn, dOut, func(*linearization) error {
		return dOut.Assign(dIn)
	})
}

// MultiplyInverseAD copies dIn into dOut unchanged.
func (f *BkgErrFilt) MultiplyInverseAD(dIn, dOut *fields.Increment) error {
	return f.apply("MultiplyInverseAD", dIn, dOut, func(*linearization) error {
		return dOut.Assign(dIn)
	})
}
