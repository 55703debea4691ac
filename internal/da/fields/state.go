package fields

import (
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/ucldas/internal/da/daerr"
	"github.com/banshee-data/ucldas/internal/da/geometry"
)

// State is a full nonlinear snapshot. Callers own States; operators only
// read them, except for the explicit trajectory back-reference a linear
// operator keeps until it is relinearized.
type State struct {
	fieldSet
}

// NewState allocates a zero State. Every variable must belong to the
// Geometry's domain.
func NewState(geom *geometry.Geometry, vars Variables, t time.Time) (*State, error) {
	fs, err := newFieldSet(geom, vars, t)
	if err != nil {
		return nil, err
	}
	return &State{fs}, nil
}

// Copy returns a deep copy.
func (s *State) Copy() *State {
	fs, _ := newFieldSet(s.geom, s.vars, s.time)
	fs.copyValues(&s.fieldSet)
	return &State{fs}
}

// CopyFrom copies every variable shared with other, leaving the rest untouched.
func (s *State) CopyFrom(other *State) {
	s.copyValues(&other.fieldSet)
}

// Add applies an increment in place: s += dx.
func (s *State) Add(dx *Increment) error {
	if err := s.sameLayout(&dx.fieldSet); err != nil {
		return err
	}
	for name, f := range s.fields {
		floats.Add(f.Data, dx.fields[name].Data)
	}
	return nil
}

// NewIncrement allocates a zero Increment with the State's layout and time.
func (s *State) NewIncrement() *Increment {
	fs, _ := newFieldSet(s.geom, s.vars, s.time)
	return &Increment{fs}
}

func (s *State) String() string { return s.describe("State") }

// TrajectoryPoint pairs a State with the time it is the reference for.
type TrajectoryPoint struct {
	State *State
	Time  time.Time
}

// Trajectory is the ordered nonlinear reference path. It references its
// States; it never copies them.
type Trajectory struct {
	points []TrajectoryPoint
}

// Append adds a point; times must be non-decreasing.
func (tr *Trajectory) Append(s *State, t time.Time) error {
	if n := len(tr.points); n > 0 && t.Before(tr.points[n-1].Time) {
		return daerr.Sequencef("trajectory time %s precedes %s", t.Format(time.RFC3339), tr.points[n-1].Time.Format(time.RFC3339))
	}
	tr.points = append(tr.points, TrajectoryPoint{State: s, Time: t})
	return nil
}

// Len returns the number of points.
func (tr *Trajectory) Len() int { return len(tr.points) }

// At returns point i.
func (tr *Trajectory) At(i int) TrajectoryPoint { return tr.points[i] }

// StateAt returns the State recorded for time t, if any.
func (tr *Trajectory) StateAt(t time.Time) (*State, bool) {
	for _, p := range tr.points {
		if p.Time.Equal(t) {
			return p.State, true
		}
	}
	return nil, false
}
