// Package varchange implements the nonlinear variable changes applied to
// full States: the analysis-to-model transform (vector rotation and log
// transforms) and the model-to-GeoVaLs transform that materialises the
// derived variables the interpolator needs.
package varchange

import (
	"github.com/banshee-data/ucldas/internal/da/daerr"
	"github.com/banshee-data/ucldas/internal/da/fields"
)

// VariableChange maps a State between two variable sets. out is allocated
// by the caller with the variables it wants; both methods overwrite them.
type VariableChange interface {
	ChangeVar(in, out *fields.State) error
	ChangeVarInverse(in, out *fields.State) error
}

// sameGrid checks that in and out live on grids of the same size.
func sameGrid(in, out *fields.State) error {
	if in.Geometry().NPoints() != out.Geometry().NPoints() {
		return daerr.Mismatchf("grid sizes differ: %d vs %d points", in.Geometry().NPoints(), out.Geometry().NPoints())
	}
	return nil
}
