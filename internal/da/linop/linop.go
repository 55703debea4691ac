// Package linop implements the linear operators an incremental
// minimizer applies to increments: background-error standard deviations,
// the trajectory-dependent background-error filter, a cross-variable
// balance, and the tangent-linear variable changes.
//
// Every operator is an immutable configuration plus a linearization
// handle. Constructors linearize immediately; Relinearize replaces the
// handle wholesale and returns a fresh Token. Operators are not safe for
// concurrent use.
package linop

import (
	"github.com/google/uuid"

	"github.com/banshee-data/ucldas/internal/da/daerr"
	"github.com/banshee-data/ucldas/internal/da/fields"
	"github.com/banshee-data/ucldas/internal/da/geometry"
	"github.com/banshee-data/ucldas/internal/monitoring"
)

// LinearOperator is the four-way contract shared by every linear variable
// change: forward, inverse and the adjoint of each. dOut is overwritten.
type LinearOperator interface {
	Multiply(dIn, dOut *fields.Increment) error
	MultiplyInverse(dIn, dOut *fields.Increment) error
	MultiplyAD(dIn, dOut *fields.Increment) error
	MultiplyInverseAD(dIn, dOut *fields.Increment) error
}

// Linearized is a LinearOperator pinned to a trajectory.
type Linearized interface {
	LinearOperator
	Name() string
	Relinearize(bkg, traj *fields.State) (Token, error)
	Token() Token
}

// Token identifies one linearization. The zero Token matches nothing.
type Token struct {
	id uuid.UUID
}

// NewToken returns a fresh, unique Token.
func NewToken() Token { return Token{id: uuid.New()} }

// IsZero reports whether t was never issued.
func (t Token) IsZero() bool { return t.id == uuid.Nil }

func (t Token) String() string { return t.id.String() }

// linearization is the trajectory-dependent half of an operator. It is
// never mutated after it is built.
type linearization struct {
	token Token
	bkg   *fields.State
	traj  *fields.State
}

// base carries what every operator shares: its name, grid and the current
// linearization.
type base struct {
	name string
	geom *geometry.Geometry
	lin  *linearization
}

// Name returns the operator name used in errors and metrics.
func (b *base) Name() string { return b.name }

// Token returns the current linearization token, zero before the first
// linearization.
func (b *base) Token() Token {
	if b.lin == nil {
		return Token{}
	}
	return b.lin.token
}

// install swaps in a new linearization.
func (b *base) install(bkg, traj *fields.State) Token {
	b.lin = &linearization{token: NewToken(), bkg: bkg, traj: traj}
	diagf("%s: linearized at %s (token %s)", b.name, traj.ValidTime().UTC().Format("2006-01-02T15:04:05Z"), b.lin.token)
	return b.lin.token
}

// checkTrajectory validates the states handed to Relinearize.
func (b *base) checkTrajectory(bkg, traj *fields.State) error {
	if bkg == nil || traj == nil {
		return daerr.Mismatchf("background and trajectory are required")
	}
	if traj.Geometry().NPoints() != b.geom.NPoints() {
		return daerr.Mismatchf("trajectory has %d points, operator grid has %d", traj.Geometry().NPoints(), b.geom.NPoints())
	}
	return nil
}

// apply runs one operation: it checks the linearization and the increments,
// records metrics and tags any error with the operator and operation.
func (b *base) apply(op string, dIn, dOut *fields.Increment, f func(lin *linearization) error) (err error) {
	done := monitoring.Track(b.name, op)
	defer func() { done(err) }()
	if b.lin == nil {
		return daerr.Wrap(b.name, op, daerr.Sequencef("%s called before linearization", op))
	}
	if dIn == nil || dOut == nil {
		return daerr.Wrap(b.name, op, daerr.Mismatchf("nil increment"))
	}
	for _, dx := range []*fields.Increment{dIn, dOut} {
		if dx.Geometry().NPoints() != b.geom.NPoints() {
			return daerr.Wrap(b.name, op, daerr.Mismatchf("increment has %d points, operator grid has %d", dx.Geometry().NPoints(), b.geom.NPoints()))
		}
	}
	tracef("%s.%s %v -> %v", b.name, op, dIn.Variables(), dOut.Variables())
	return daerr.Wrap(b.name, op, f(b.lin))
}

// pointwise holds one per-point (per level) coefficient array per variable.
type pointwise map[string][]float64

// scaleInto sets dOut := dIn then multiplies every variable with a
// coefficient array elementwise (divides when invert is set).
func scaleInto(dIn, dOut *fields.Increment, coef pointwise, invert bool) error {
	if err := dOut.Assign(dIn); err != nil {
		return err
	}
	for name, c := range coef {
		if !dOut.Has(name) {
			continue
		}
		d := dOut.Field(name).Data
		for i := range d {
			if invert {
				d[i] /= c[i]
			} else {
				d[i] *= c[i]
			}
		}
	}
	return nil
}
