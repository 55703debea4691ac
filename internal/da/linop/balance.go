package linop

import (
	"github.com/banshee-data/ucldas/internal/config"
	"github.com/banshee-data/ucldas/internal/da/daerr"
	"github.com/banshee-data/ucldas/internal/da/fields"
	"github.com/banshee-data/ucldas/internal/da/geometry"
)

// BalanceName is the registry key and operator name of Balance.
const BalanceName = "Balance"

// balancePair is one configured coupling with its Jacobian at the trajectory.
type balancePair struct {
	config.BalancePair
	k []float64 // coefficient * traj[reference], levels*npts
}

// Balance is a lower unit-triangular cross-variable balance:
//
//	dOut[balanced] = dIn[balanced] + k * dIn[driver],  k = coefficient * traj[reference]
//
// A driver is never itself balanced, so the inverse subtracts the same term.
type Balance struct {
	base
	pairs []balancePair
}

// NewBalance builds the balance and linearizes it at (bkg, traj).
func NewBalance(geom *geometry.Geometry, cfg *config.BalanceConfig, bkg, traj *fields.State) (*Balance, error) {
	if cfg == nil || len(cfg.Pairs) == 0 {
		return nil, daerr.Configf("%s: no pairs configured", BalanceName)
	}
	balanced := map[string]bool{}
	for _, p := range cfg.Pairs {
		balanced[p.Balanced] = true
	}
	seen := map[string]bool{}
	pairs := make([]balancePair, 0, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		lb, okB := geom.Levels(p.Balanced)
		ld, okD := geom.Levels(p.Driver)
		lr, okR := geom.Levels(p.GetReference())
		switch {
		case !okB || !okD || !okR:
			return nil, daerr.Configf("%s: pair (%s, %s, ref %s) is outside the variable domain", BalanceName, p.Balanced, p.Driver, p.GetReference())
		case p.Balanced == p.Driver:
			return nil, daerr.Configf("%s: %s cannot balance itself", BalanceName, p.Balanced)
		case seen[p.Balanced]:
			return nil, daerr.Configf("%s: %s balanced twice", BalanceName, p.Balanced)
		case balanced[p.Driver]:
			return nil, daerr.Configf("%s: driver %s is itself balanced", BalanceName, p.Driver)
		case lb != ld:
			return nil, daerr.Configf("%s: %s has %d levels, driver %s has %d", BalanceName, p.Balanced, lb, p.Driver, ld)
		case lr != ld && lr != 1:
			return nil, daerr.Configf("%s: reference %s must have %d levels or 1, has %d", BalanceName, p.GetReference(), ld, lr)
		}
		seen[p.Balanced] = true
		pairs = append(pairs, balancePair{BalancePair: p})
	}
	b := &Balance{base: base{name: BalanceName, geom: geom}, pairs: pairs}
	if _, err := b.Relinearize(bkg, traj); err != nil {
		return nil, err
	}
	return b, nil
}

// Relinearize recomputes the Jacobian coefficients from traj.
func (b *Balance) Relinearize(bkg, traj *fields.State) (Token, error) {
	if err := b.checkTrajectory(bkg, traj); err != nil {
		return Token{}, daerr.Wrap(b.name, "Relinearize", err)
	}
	n := b.geom.NPoints()
	pairs := make([]balancePair, len(b.pairs))
	for i, p := range b.pairs {
		ref := p.GetReference()
		if !traj.Has(ref) {
			return Token{}, daerr.Wrap(b.name, "Relinearize", daerr.Mismatchf("trajectory lacks reference %s", ref))
		}
		lev, _ := b.geom.Levels(p.Driver)
		rf := traj.Field(ref)
		k := make([]float64, lev*n)
		for l := 0; l < lev; l++ {
			src := rf.Level(0)
			if rf.Levels > 1 {
				src = rf.Level(l)
			}
			for pt := 0; pt < n; pt++ {
				k[l*n+pt] = p.Coefficient * src[pt]
			}
		}
		pairs[i] = balancePair{BalancePair: p.BalancePair, k: k}
	}
	b.pairs = pairs
	return b.install(bkg, traj), nil
}

// couple sets dOut := dIn, then adds sign*k*dIn[from] into dOut[to] for
// every pair. forward selects (to, from) = (balanced, driver); otherwise the
// transpose (driver, balanced) is applied.
func (b *Balance) couple(dIn, dOut *fields.Increment, sign float64, forward bool) error {
	if err := dOut.Assign(dIn); err != nil {
		return err
	}
	for _, p := range b.pairs {
		to, from := p.Balanced, p.Driver
		if !forward {
			to, from = from, to
		}
		if !dIn.Has(to) || !dIn.Has(from) {
			return daerr.Mismatchf("increment needs both %s and %s", p.Balanced, p.Driver)
		}
		dst, src := dOut.Field(to).Data, dIn.Field(from).Data
		for i, x := range src {
			dst[i] += sign * p.k[i] * x
		}
	}
	return nil
}

// Multiply applies the balance.
func (b *Balance) Multiply(dIn, dOut *fields.Increment) error {
	return b.apply("Multiply", dIn, dOut, func(*linearization) error {
		return b.couple(dIn, dOut, 1, true)
	})
}

// MultiplyInverse removes the balanced part.
func (b *Balance) MultiplyInverse(dIn, dOut *fields.Increment) error {
	return b.apply("MultiplyInverse", dIn, dOut, func(*linearization) error {
		return b.couple(dIn, dOut, -1, true)
	})
}

// MultiplyAD applies the transpose of the balance.
func (b *Balance) MultiplyAD(dIn, dOut *fields.Increment) error {
	return b.apply("MultiplyAD", dIn, dOut, func(*linearization) error {
		return b.couple(dIn, dOut, 1, false)
	})
}

// MultiplyInverseAD applies the transpose of the inverse.
func (b *Balance) MultiplyInverseAD(dIn, dOut *fields.Increment) error {
	return b.apply("MultiplyInverseAD", dIn, dOut, func(*linearization) error {
		return b.couple(dIn, dOut, -1, false)
	})
}
