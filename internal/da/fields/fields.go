// Package fields holds the State and Increment containers: named
// multi-level fields on a Geometry with a valid time.
//
// A State is a full nonlinear snapshot; an Increment is a perturbation with
// the same layout that supports linear combination, the Euclidean inner
// product used by adjoint tests, and time shifts.
package fields

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/banshee-data/ucldas/internal/da/daerr"
	"github.com/banshee-data/ucldas/internal/da/geometry"
)

// Field is one variable: Levels stacked horizontal slabs, indexed
// lev*NPoints + p.
type Field struct {
	Name   string
	Levels int
	Data   []float64
}

// Level returns the horizontal slab of level lev (aliasing Data).
func (f *Field) Level(lev int) []float64 {
	n := len(f.Data) / f.Levels
	return f.Data[lev*n : (lev+1)*n]
}

// Variables is an ordered variable-name set.
type Variables []string

// NewVariables returns a sorted, de-duplicated set.
func NewVariables(names ...string) Variables {
	seen := make(map[string]bool, len(names))
	out := make(Variables, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// Contains reports whether name is in the set.
func (v Variables) Contains(name string) bool {
	for _, n := range v {
		if n == name {
			return true
		}
	}
	return false
}

// SubsetOf reports whether every variable of v is in other.
func (v Variables) SubsetOf(other Variables) bool {
	for _, n := range v {
		if !other.Contains(n) {
			return false
		}
	}
	return true
}

// Missing returns the variables of v absent from other.
func (v Variables) Missing(other Variables) Variables {
	var out Variables
	for _, n := range v {
		if !other.Contains(n) {
			out = append(out, n)
		}
	}
	return out
}

func (v Variables) String() string { return "[" + strings.Join(v, ", ") + "]" }

// fieldSet is the layout shared by State and Increment.
type fieldSet struct {
	geom   *geometry.Geometry
	vars   Variables
	fields map[string]*Field
	time   time.Time
}

func newFieldSet(geom *geometry.Geometry, vars Variables, t time.Time) (fieldSet, error) {
	if geom == nil {
		return fieldSet{}, daerr.Mismatchf("nil geometry")
	}
	fs := fieldSet{
		geom:   geom,
		vars:   NewVariables(vars...),
		fields: make(map[string]*Field, len(vars)),
		time:   t,
	}
	n := geom.NPoints()
	for _, name := range fs.vars {
		lev, ok := geom.Levels(name)
		if !ok {
			return fieldSet{}, daerr.Mismatchf("variable %s is outside the geometry's variable domain", name)
		}
		fs.fields[name] = &Field{Name: name, Levels: lev, Data: make([]float64, lev*n)}
	}
	return fs, nil
}

// Geometry returns the Domain Handle the fields live on.
func (f *fieldSet) Geometry() *geometry.Geometry { return f.geom }

// Variables returns the variable set (do not modify).
func (f *fieldSet) Variables() Variables { return f.vars }

// Has reports whether the set holds variable name.
func (f *fieldSet) Has(name string) bool { _, ok := f.fields[name]; return ok }

// Field returns the named field or nil.
func (f *fieldSet) Field(name string) *Field { return f.fields[name] }

// ValidTime returns the valid time.
func (f *fieldSet) ValidTime() time.Time { return f.time }

// SetValidTime overwrites the valid time.
func (f *fieldSet) SetValidTime(t time.Time) { f.time = t }

// Fill sets every value of every field to v.
func (f *fieldSet) Fill(v float64) {
	for _, fld := range f.fields {
		for i := range fld.Data {
			fld.Data[i] = v
		}
	}
}

// sameLayout checks that other carries the same variables with the same
// level counts on the same grid.
func (f *fieldSet) sameLayout(other *fieldSet) error {
	if f.geom.NPoints() != other.geom.NPoints() {
		return daerr.Mismatchf("grid sizes differ: %d vs %d points", f.geom.NPoints(), other.geom.NPoints())
	}
	if len(f.vars) != len(other.vars) {
		return daerr.Mismatchf("variable sets differ: %v vs %v", f.vars, other.vars)
	}
	for _, name := range f.vars {
		o, ok := other.fields[name]
		if !ok {
			return daerr.Mismatchf("variable sets differ: %v vs %v", f.vars, other.vars)
		}
		if o.Levels != f.fields[name].Levels {
			return daerr.Mismatchf("variable %s has %d levels vs %d", name, f.fields[name].Levels, o.Levels)
		}
	}
	return nil
}

// copyValues copies the data of every shared variable from other.
func (f *fieldSet) copyValues(other *fieldSet) {
	for name, fld := range f.fields {
		if o, ok := other.fields[name]; ok && o.Levels == fld.Levels {
			copy(fld.Data, o.Data)
		}
	}
}

func (f *fieldSet) describe(kind string) string {
	return fmt.Sprintf("%s(%s, vars=%v, points=%d)", kind, f.time.UTC().Format(time.RFC3339), f.vars, f.geom.NPoints())
}
