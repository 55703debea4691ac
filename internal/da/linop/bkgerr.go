package linop

import (
	"math"

	"github.com/banshee-data/ucldas/internal/config"
	"github.com/banshee-data/ucldas/internal/da/daerr"
	"github.com/banshee-data/ucldas/internal/da/fields"
	"github.com/banshee-data/ucldas/internal/da/geometry"
)

// BkgErrName is the registry key and operator name of BkgErr.
const BkgErrName = "BkgErr"

// BkgErr applies diagonal background-error standard deviations derived from
// the trajectory: sigma = clamp(fraction*|traj|, min, max), or min when
// fraction is zero. Variables without a configured sigma pass through.
type BkgErr struct {
	base
	vars  []config.BkgErrVariable
	sigma pointwise
}

// NewBkgErr builds the operator and linearizes it at (bkg, traj).
func NewBkgErr(geom *geometry.Geometry, cfg *config.BkgErrConfig, bkg, traj *fields.State) (*BkgErr, error) {
	if cfg == nil || len(cfg.Variables) == 0 {
		return nil, daerr.Configf("%s: no variables configured", BkgErrName)
	}
	seen := map[string]bool{}
	for _, v := range cfg.Variables {
		if _, ok := geom.Levels(v.Variable); !ok {
			return nil, daerr.Configf("%s: %s is outside the variable domain", BkgErrName, v.Variable)
		}
		if seen[v.Variable] {
			return nil, daerr.Configf("%s: %s configured twice", BkgErrName, v.Variable)
		}
		seen[v.Variable] = true
		if v.GetMin() <= 0 || v.GetMax() < v.GetMin() || v.GetFraction() < 0 {
			return nil, daerr.Configf("%s: %s needs 0 < min <= max and fraction >= 0, got min=%g max=%g fraction=%g",
				BkgErrName, v.Variable, v.GetMin(), v.GetMax(), v.GetFraction())
		}
	}
	b := &BkgErr{base: base{name: BkgErrName, geom: geom}, vars: cfg.Variables}
	if _, err := b.Relinearize(bkg, traj); err != nil {
		return nil, err
	}
	return b, nil
}

// Relinearize recomputes sigma from traj.
func (b *BkgErr) Relinearize(bkg, traj *fields.State) (Token, error) {
	if err := b.checkTrajectory(bkg, traj); err != nil {
		return Token{}, daerr.Wrap(b.name, "Relinearize", err)
	}
	n := b.geom.NPoints()
	sigma := make(pointwise, len(b.vars))
	for _, v := range b.vars {
		lev, _ := b.geom.Levels(v.Variable)
		s := make([]float64, lev*n)
		frac, lo, hi := v.GetFraction(), v.GetMin(), v.GetMax()
		if frac == 0 {
			for i := range s {
				s[i] = lo
			}
		} else {
			if !traj.Has(v.Variable) {
				return Token{}, daerr.Wrap(b.name, "Relinearize", daerr.Mismatchf("trajectory lacks %s", v.Variable))
			}
			if got := len(traj.Field(v.Variable).Data); got != len(s) {
				return Token{}, daerr.Wrap(b.name, "Relinearize", daerr.Mismatchf("trajectory %s has %d values, want %d", v.Variable, got, len(s)))
			}
			for i, x := range traj.Field(v.Variable).Data {
				s[i] = math.Min(math.Max(frac*math.Abs(x), lo), hi)
			}
		}
		sigma[v.Variable] = s
	}
	b.sigma = sigma
	return b.install(bkg, traj), nil
}

// Sigma returns the standard deviations of variable name (nil if it is not
// configured).
func (b *BkgErr) Sigma(name string) []float64 { return b.sigma[name] }

// Multiply computes dOut = sigma * dIn.
func (b *BkgErr) Multiply(dIn, dOut *fields.Increment) error {
	return b.apply("Multiply", dIn, dOut, func(*linearization) error {
		return scaleInto(dIn, dOut, b.sigma, false)
	})
}

// MultiplyInverse computes dOut = dIn / sigma.
func (b *BkgErr) MultiplyInverse(dIn, dOut *fields.Increment) error {
	return b.apply("MultiplyInverse", dIn, dOut, func(*linearization) error {
		return scaleInto(dIn, dOut, b.sigma, true)
	})
}

// MultiplyAD equals Multiply.
func (b *BkgErr) MultiplyAD(dIn, dOut *fields.Increment) error {
	return b.apply("MultiplyAD", dIn, dOut, func(*linearization) error {
		return scaleInto(dIn, dOut, b.sigma, false)
	})
}

// MultiplyInverseAD equals MultiplyInverse.
func (b *BkgErr) MultiplyInverseAD(dIn, dOut *fields.Increment) error {
	return b.apply("MultiplyInverseAD", dIn, dOut, func(*linearization) error {
		return scaleInto(dIn, dOut, b.sigma, true)
	})
}
