// Package registry resolves configuration keys to operator builders. A
// Registry is constructed explicitly; Default returns one holding every
// operator this module provides.
package registry

import (
	"sort"
	"time"

	"github.com/banshee-data/ucldas/internal/config"
	"github.com/banshee-data/ucldas/internal/da/daerr"
	"github.com/banshee-data/ucldas/internal/da/fields"
	"github.com/banshee-data/ucldas/internal/da/geometry"
	"github.com/banshee-data/ucldas/internal/da/linearmodel"
	"github.com/banshee-data/ucldas/internal/da/linop"
	"github.com/banshee-data/ucldas/internal/da/varchange"
	"github.com/banshee-data/ucldas/internal/monitoring"
)

// Kind is a registry key as it appears in configuration.
type Kind string

const (
	BkgErr        Kind = linop.BkgErrName
	BkgErrFilt    Kind = linop.BkgErrFiltName
	Balance       Kind = linop.BalanceName
	Model2GeoVaLs Kind = varchange.Model2GeoVaLsName
	Ana2Model     Kind = varchange.Ana2ModelName
	IdTLM         Kind = linearmodel.IdTLMName
)

// LinearModel is the time-stepping contract of a tangent-linear model.
type LinearModel interface {
	TimeResolution() time.Duration
	Variables() fields.Variables
	SetTrajectory(x, xtraj *fields.State)
	InitializeTL(dx *fields.Increment) error
	StepTL(dx *fields.Increment) error
	FinalizeTL(dx *fields.Increment) error
	InitializeAD(dx *fields.Increment) error
	StepAD(dx *fields.Increment) error
	FinalizeAD(dx *fields.Increment) error
}

// LinearBuilder builds a linear operator linearized at (bkg, traj).
type LinearBuilder func(geom *geometry.Geometry, cfg config.OperatorConfig, bkg, traj *fields.State) (linop.Linearized, error)

// VariableChangeBuilder builds a nonlinear variable change.
type VariableChangeBuilder func(geom *geometry.Geometry, cfg config.OperatorConfig) (varchange.VariableChange, error)

// LinearModelBuilder builds a tangent-linear model.
type LinearModelBuilder func(cfg *config.LinearModelConfig) (LinearModel, error)

// Registry maps keys to builders, one namespace per operator family.
type Registry struct {
	linear map[Kind]LinearBuilder
	change map[Kind]VariableChangeBuilder
	models map[Kind]LinearModelBuilder
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		linear: map[Kind]LinearBuilder{},
		change: map[Kind]VariableChangeBuilder{},
		models: map[Kind]LinearModelBuilder{},
	}
}

// Default returns a Registry holding every built-in operator.
func Default() *Registry {
	r := New()
	r.mustRegisterLinear(BkgErr, func(geom *geometry.Geometry, cfg config.OperatorConfig, bkg, traj *fields.State) (linop.Linearized, error) {
		return linear(linop.NewBkgErr(geom, cfg.BkgErr, bkg, traj))
	})
	r.mustRegisterLinear(BkgErrFilt, func(geom *geometry.Geometry, cfg config.OperatorConfig, bkg, traj *fields.State) (linop.Linearized, error) {
		return linear(linop.NewBkgErrFilt(geom, cfg.BkgErrFilt, bkg, traj))
	})
	r.mustRegisterLinear(Balance, func(geom *geometry.Geometry, cfg config.OperatorConfig, bkg, traj *fields.State) (linop.Linearized, error) {
		return linear(linop.NewBalance(geom, cfg.Balance, bkg, traj))
	})
	r.mustRegisterLinear(Model2GeoVaLs, func(geom *geometry.Geometry, cfg config.OperatorConfig, bkg, traj *fields.State) (linop.Linearized, error) {
		m, err := varchange.NewModel2GeoVaLs(geom, cfg.Model2GeoVaLs)
		if err != nil {
			return nil, err
		}
		return linear(linop.NewLinearModel2GeoVaLs(geom, m, bkg, traj))
	})
	r.mustRegisterLinear(Ana2Model, func(geom *geometry.Geometry, cfg config.OperatorConfig, bkg, traj *fields.State) (linop.Linearized, error) {
		a, err := varchange.NewAna2Model(geom, cfg.Ana2Model)
		if err != nil {
			return nil, err
		}
		return linear(linop.NewLinearAna2Model(geom, a, bkg, traj))
	})

	r.mustRegisterVariableChange(Ana2Model, func(geom *geometry.Geometry, cfg config.OperatorConfig) (varchange.VariableChange, error) {
		return change(varchange.NewAna2Model(geom, cfg.Ana2Model))
	})
	r.mustRegisterVariableChange(Model2GeoVaLs, func(geom *geometry.Geometry, cfg config.OperatorConfig) (varchange.VariableChange, error) {
		return change(varchange.NewModel2GeoVaLs(geom, cfg.Model2GeoVaLs))
	})

	r.mustRegisterLinearModel(IdTLM, func(cfg *config.LinearModelConfig) (LinearModel, error) {
		m, err := linearmodel.New(cfg)
		if err != nil {
			return nil, err
		}
		return m, nil
	})
	return r
}

// linear and change drop the concrete type so a failed build yields a nil
// interface rather than a typed nil.
func linear[T linop.Linearized](op T, err error) (linop.Linearized, error) {
	if err != nil {
		return nil, err
	}
	return op, nil
}

func change[T varchange.VariableChange](vc T, err error) (varchange.VariableChange, error) {
	if err != nil {
		return nil, err
	}
	return vc, nil
}

// RegisterLinear adds a linear operator builder. Keys are unique.
func (r *Registry) RegisterLinear(k Kind, b LinearBuilder) error {
	if _, dup := r.linear[k]; dup {
		return daerr.Configf("linear operator %q registered twice", k)
	}
	r.linear[k] = b
	return nil
}

// RegisterVariableChange adds a variable change builder. Keys are unique.
func (r *Registry) RegisterVariableChange(k Kind, b VariableChangeBuilder) error {
	if _, dup := r.change[k]; dup {
		return daerr.Configf("variable change %q registered twice", k)
	}
	r.change[k] = b
	return nil
}

// RegisterLinearModel adds a linear model builder. Keys are unique.
func (r *Registry) RegisterLinearModel(k Kind, b LinearModelBuilder) error {
	if _, dup := r.models[k]; dup {
		return daerr.Configf("linear model %q registered twice", k)
	}
	r.models[k] = b
	return nil
}

func (r *Registry) mustRegisterLinear(k Kind, b LinearBuilder) {
	if err := r.RegisterLinear(k, b); err != nil {
		panic(err)
	}
}

func (r *Registry) mustRegisterVariableChange(k Kind, b VariableChangeBuilder) {
	if err := r.RegisterVariableChange(k, b); err != nil {
		panic(err)
	}
}

func (r *Registry) mustRegisterLinearModel(k Kind, b LinearModelBuilder) {
	if err := r.RegisterLinearModel(k, b); err != nil {
		panic(err)
	}
}

// Linear builds the linear operator selected by cfg.Key.
func (r *Registry) Linear(geom *geometry.Geometry, cfg config.OperatorConfig, bkg, traj *fields.State) (linop.Linearized, error) {
	b, ok := r.linear[Kind(cfg.Key)]
	if !ok {
		return nil, daerr.Configf("unknown linear operator %q (known: %v)", cfg.Key, sortedKeys(r.linear))
	}
	op, err := b(geom, cfg, bkg, traj)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("registry: linearized %s (token %s)", cfg.Key, op.Token())
	return op, nil
}

// VariableChange builds the nonlinear variable change selected by cfg.Key.
func (r *Registry) VariableChange(geom *geometry.Geometry, cfg config.OperatorConfig) (varchange.VariableChange, error) {
	b, ok := r.change[Kind(cfg.Key)]
	if !ok {
		return nil, daerr.Configf("unknown variable change %q (known: %v)", cfg.Key, sortedKeys(r.change))
	}
	return b(geom, cfg)
}

// LinearModel builds the linear model named by cfg.Name, IdTLM when empty.
func (r *Registry) LinearModel(cfg *config.LinearModelConfig) (LinearModel, error) {
	if cfg == nil {
		return nil, daerr.Configf("missing linear model configuration")
	}
	k := Kind(cfg.Name)
	if k == "" {
		k = IdTLM
	}
	b, ok := r.models[k]
	if !ok {
		return nil, daerr.Configf("unknown linear model %q (known: %v)", k, sortedKeys(r.models))
	}
	return b(cfg)
}

// LinearKinds lists the registered linear operator keys.
func (r *Registry) LinearKinds() []Kind { return sortedKeys(r.linear) }

// VariableChangeKinds lists the registered variable change keys.
func (r *Registry) VariableChangeKinds() []Kind { return sortedKeys(r.change) }

// LinearModelKinds lists the registered linear model keys.
func (r *Registry) LinearModelKinds() []Kind { return sortedKeys(r.models) }

func sortedKeys[V any](m map[Kind]V) []Kind {
	out := make([]Kind, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
