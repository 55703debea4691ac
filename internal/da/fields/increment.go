package fields

import (
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/ucldas/internal/da/geometry"
)

// Increment is a perturbation with the same layout as a State. It is created
// zero-valued and mutated in place by forward and adjoint operators.
type Increment struct {
	fieldSet
}

// NewIncrement allocates a zero Increment. Every variable must belong to
// the Geometry's domain.
func NewIncrement(geom *geometry.Geometry, vars Variables, t time.Time) (*Increment, error) {
	fs, err := newFieldSet(geom, vars, t)
	if err != nil {
		return nil, err
	}
	return &Increment{fs}, nil
}

// Diff returns a - b.
func Diff(a, b *State) (*Increment, error) {
	if err := a.sameLayout(&b.fieldSet); err != nil {
		return nil, err
	}
	dx := a.NewIncrement()
	for name, f := range dx.fields {
		floats.SubTo(f.Data, a.fields[name].Data, b.fields[name].Data)
	}
	return dx, nil
}

// Copy returns a deep copy.
func (dx *Increment) Copy() *Increment {
	out := dx.ZeroLike()
	out.copyValues(&dx.fieldSet)
	return out
}

// ZeroLike returns a zero Increment with the same layout and time.
func (dx *Increment) ZeroLike() *Increment {
	fs, _ := newFieldSet(dx.geom, dx.vars, dx.time)
	return &Increment{fs}
}

// Assign overwrites dx with other (dx := other). Layouts must match.
func (dx *Increment) Assign(other *Increment) error {
	if err := dx.sameLayout(&other.fieldSet); err != nil {
		return err
	}
	dx.copyValues(&other.fieldSet)
	return nil
}

// Zero clears every field.
func (dx *Increment) Zero() { dx.Fill(0) }

// Axpy accumulates dx += a*other.
func (dx *Increment) Axpy(a float64, other *Increment) error {
	if err := dx.sameLayout(&other.fieldSet); err != nil {
		return err
	}
	for name, f := range dx.fields {
		floats.AddScaled(f.Data, a, other.fields[name].Data)
	}
	return nil
}

// Scale multiplies every value by a.
func (dx *Increment) Scale(a float64) {
	for _, f := range dx.fields {
		floats.Scale(a, f.Data)
	}
}

// Dot is the Euclidean inner product over every field.
func (dx *Increment) Dot(other *Increment) (float64, error) {
	if err := dx.sameLayout(&other.fieldSet); err != nil {
		return 0, err
	}
	var sum float64
	for _, name := range dx.vars {
		sum += floats.Dot(dx.fields[name].Data, other.fields[name].Data)
	}
	return sum, nil
}

// Norm is the Euclidean norm.
func (dx *Increment) Norm() float64 {
	var sum float64
	for _, f := range dx.fields {
		sum += floats.Dot(f.Data, f.Data)
	}
	return math.Sqrt(sum)
}

// Random fills every field with independent standard normal values drawn
// from a generator seeded with seed.
func (dx *Increment) Random(seed uint64) {
	dist := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}
	for _, name := range dx.vars {
		f := dx.fields[name]
		for i := range f.Data {
			f.Data[i] = dist.Rand()
		}
	}
}

// UpdateTime shifts the valid time by d.
func (dx *Increment) UpdateTime(d time.Duration) { dx.time = dx.time.Add(d) }

func (dx *Increment) String() string { return dx.describe("Increment") }
