// Package linearmodel provides the identity tangent-linear model used as
// the reference time-stepping operator: stepping forward only advances
// the increment's valid time, stepping backward rewinds it.
package linearmodel

import (
	"time"

	"github.com/banshee-data/ucldas/internal/config"
	"github.com/banshee-data/ucldas/internal/da/daerr"
	"github.com/banshee-data/ucldas/internal/da/fields"
	"github.com/banshee-data/ucldas/internal/monitoring"
	"github.com/banshee-data/ucldas/internal/timeutil"
)

// IdTLMName is the registry key and operator name of TlmID.
const IdTLMName = "IdTLM"

// Phase is the lifecycle position of one direction of a run.
type Phase int

const (
	// Idle means no run has been initialized.
	Idle Phase = iota
	// Stepping means the run is initialized and accepts steps.
	Stepping
	// Finalized means the run is over; a new Initialize starts another.
	Finalized
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Stepping:
		return "stepping"
	case Finalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// TlmID is the identity tangent-linear model. It tracks the TL and AD
// phases separately; out-of-order calls are SequencingErrors.
type TlmID struct {
	tstep time.Duration
	vars  fields.Variables

	tl Phase
	ad Phase
}

// New builds the model from its configuration.
func New(cfg *config.LinearModelConfig) (*TlmID, error) {
	if cfg == nil {
		return nil, daerr.Configf("%s: missing linear model configuration", IdTLMName)
	}
	tstep, err := cfg.GetTstep()
	if err != nil {
		return nil, daerr.Configf("%s: %v", IdTLMName, err)
	}
	m := &TlmID{tstep: tstep, vars: fields.NewVariables(cfg.LMVariables...)}
	tracef("%s created: tstep=%s vars=%v", IdTLMName, timeutil.FormatISO(tstep), m.vars)
	return m, nil
}

// TimeResolution returns the model time step.
func (m *TlmID) TimeResolution() time.Duration { return m.tstep }

// Variables returns the configured linear-model variables.
func (m *TlmID) Variables() fields.Variables { return m.vars }

// Phases returns the current TL and AD phases.
func (m *TlmID) Phases() (tl, ad Phase) { return m.tl, m.ad }

// SetTrajectory is a no-op: the identity model has no trajectory.
func (m *TlmID) SetTrajectory(x, xtraj *fields.State) {}

// InitializeTL starts a tangent-linear run.
func (m *TlmID) InitializeTL(dx *fields.Increment) error {
	return m.transition("InitializeTL", &m.tl, Stepping, Idle, Finalized)
}

// StepTL advances dx by one time step.
func (m *TlmID) StepTL(dx *fields.Increment) (err error) {
	done := monitoring.Track(IdTLMName, "StepTL")
	defer func() { done(err) }()
	if err := m.require("StepTL", m.tl); err != nil {
		return err
	}
	dx.UpdateTime(m.tstep)
	return nil
}

// FinalizeTL ends the tangent-linear run.
func (m *TlmID) FinalizeTL(dx *fields.Increment) error {
	return m.transition("FinalizeTL", &m.tl, Finalized, Stepping)
}

// InitializeAD starts an adjoint run.
func (m *TlmID) InitializeAD(dx *fields.Increment) error {
	return m.transition("InitializeAD", &m.ad, Stepping, Idle, Finalized)
}

// StepAD rewinds dx by one time step.
func (m *TlmID) StepAD(dx *fields.Increment) (err error) {
	done := monitoring.Track(IdTLMName, "StepAD")
	defer func() { done(err) }()
	if err := m.require("StepAD", m.ad); err != nil {
		return err
	}
	dx.UpdateTime(-m.tstep)
	return nil
}

// FinalizeAD ends the adjoint run.
func (m *TlmID) FinalizeAD(dx *fields.Increment) error {
	if err := m.transition("FinalizeAD", &m.ad, Finalized, Stepping); err != nil {
		return err
	}
	diagf("%s.FinalizeAD %v", IdTLMName, dx)
	return nil
}

func (m *TlmID) require(op string, p Phase) error {
	if p != Stepping {
		return daerr.Wrap(IdTLMName, op, daerr.Sequencef("%s while %s", op, p))
	}
	return nil
}

// transition moves *p to next if it is currently one of from.
func (m *TlmID) transition(op string, p *Phase, next Phase, from ...Phase) error {
	for _, f := range from {
		if *p == f {
			*p = next
			return nil
		}
	}
	return daerr.Wrap(IdTLMName, op, daerr.Sequencef("%s while %s", op, *p))
}

func (m *TlmID) String() string { return IdTLMName }
