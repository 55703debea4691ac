package testutil

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/ucldas/internal/da/fields"
)

// flatten concatenates the fields of dx in variable order.
func flatten(dx *fields.Increment) []float64 {
	var out []float64
	for _, name := range dx.Variables() {
		out = append(out, dx.Field(name).Data...)
	}
	return out
}

// setBasis sets dx to the k-th unit vector of its flattened layout.
func setBasis(dx *fields.Increment, k int) {
	dx.Zero()
	for _, name := range dx.Variables() {
		d := dx.Field(name).Data
		if k < len(d) {
			d[k] = 1
			return
		}
		k -= len(d)
	}
}

// ExplicitMatrix probes op with every unit vector of in's layout and returns
// the dense matrix whose column k is op(e_k) in out's layout. Only suitable
// for small grids.
func ExplicitMatrix(t testing.TB, op LinearMap, in, out *fields.Increment) *mat.Dense {
	t.Helper()
	nIn := len(flatten(in))
	nOut := len(flatten(out))
	m := mat.NewDense(nOut, nIn, nil)
	e := in.ZeroLike()
	col := out.ZeroLike()
	for k := 0; k < nIn; k++ {
		setBasis(e, k)
		col.Zero()
		AssertNoError(t, op(e, col))
		m.SetCol(k, flatten(col))
	}
	return m
}

// TransposeCheck builds the explicit matrices of fwd and adj and verifies
// adj == fwd^T entry by entry.
func TransposeCheck(t testing.TB, fwd, adj LinearMap, in, out *fields.Increment) {
	t.Helper()
	l := ExplicitMatrix(t, fwd, in, out)
	lt := ExplicitMatrix(t, adj, out, in)
	if !mat.EqualApprox(l.T(), lt, AdjointTolerance) {
		t.Errorf("adjoint matrix is not the transpose of the forward matrix:\nL^T=\n%v\nadj=\n%v",
			mat.Formatted(l.T(), mat.Squeeze()), mat.Formatted(lt, mat.Squeeze()))
	}
}
