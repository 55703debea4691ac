package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/ucldas/internal/da/daerr"
	"github.com/banshee-data/ucldas/internal/timeutil"
)

// Config is the root configuration of an analysis window: the grid the
// operators allocate on, the operators to build, the tangent-linear model
// and the optional auxiliary archive used by the interpolator.
type Config struct {
	Geometry    GeometryConfig     `json:"geometry" yaml:"geometry"`
	Operators   []OperatorConfig   `json:"operators,omitempty" yaml:"operators,omitempty" validate:"dive"`
	LinearModel *LinearModelConfig `json:"linear_model,omitempty" yaml:"linear model,omitempty"`
	GetValues   *GetValuesConfig   `json:"get_values,omitempty" yaml:"get values,omitempty"`
}

// GeometryConfig describes a regular lon/lat grid and its variable domain.
type GeometryConfig struct {
	NX   int     `json:"nx" yaml:"nx" validate:"gt=1"`
	NY   int     `json:"ny" yaml:"ny" validate:"gt=1"`
	Lon0 float64 `json:"lon0" yaml:"lon0"`
	Lat0 float64 `json:"lat0" yaml:"lat0"`
	DLon float64 `json:"dlon" yaml:"dlon" validate:"gt=0"`
	DLat float64 `json:"dlat" yaml:"dlat" validate:"gt=0"`

	// Variables maps each variable of the domain to its number of levels.
	Variables map[string]int `json:"variables" yaml:"variables" validate:"required,min=1,dive,gt=0"`

	// RotationDeg is the grid rotation at the equator; the local angle
	// scales with cos(lat).
	RotationDeg *float64 `json:"rotation_deg,omitempty" yaml:"rotation_deg,omitempty"`

	// MaskLatMax masks every point poleward of the given latitude.
	MaskLatMax *float64 `json:"mask_lat_max,omitempty" yaml:"mask_lat_max,omitempty"`
}

// OperatorConfig selects one registered operator by key and carries the
// sub-configuration that variant reads. Only the block matching Key is
// consulted.
type OperatorConfig struct {
	Key           string               `json:"key" yaml:"key" validate:"required"`
	Ana2Model     *Ana2ModelConfig     `json:"ana2model,omitempty" yaml:"ana2model,omitempty"`
	Model2GeoVaLs *Model2GeoVaLsConfig `json:"model2geovals,omitempty" yaml:"model2geovals,omitempty"`
	BkgErr        *BkgErrConfig        `json:"bkgerr,omitempty" yaml:"bkgerr,omitempty"`
	BkgErrFilt    *BkgErrFiltConfig    `json:"bkgerrfilt,omitempty" yaml:"bkgerrfilt,omitempty"`
	Balance       *BalanceConfig       `json:"balance,omitempty" yaml:"balance,omitempty"`
}

// Ana2ModelConfig lists vector pairs to rotate and variables to log-transform.
type Ana2ModelConfig struct {
	Rotate struct {
		U []string `json:"u" yaml:"u"`
		V []string `json:"v" yaml:"v"`
	} `json:"rotate" yaml:"rotate"`
	Log struct {
		Var []string `json:"var" yaml:"var"`
	} `json:"log" yaml:"log"`
}

// Model2GeoVaLsConfig lists the variables derived for interpolation.
type Model2GeoVaLsConfig struct {
	Derived []DerivedVariable `json:"derived,omitempty" yaml:"derived,omitempty" validate:"dive"`
}

// DerivedVariable is a single-level weighted sum of (variable, level) terms.
type DerivedVariable struct {
	Name  string        `json:"name" yaml:"name" validate:"required"`
	Terms []DerivedTerm `json:"terms" yaml:"terms" validate:"required,min=1,dive"`
}

// DerivedTerm contributes Weight * Variable[Level].
type DerivedTerm struct {
	Variable string  `json:"variable" yaml:"variable" validate:"required"`
	Level    int     `json:"level" yaml:"level" validate:"gte=0"`
	Weight   float64 `json:"weight" yaml:"weight"`
}

// BkgErrConfig holds the per-variable standard deviation bounds.
type BkgErrConfig struct {
	Variables []BkgErrVariable `json:"variables" yaml:"variables" validate:"required,min=1,dive"`
}

// BkgErrVariable derives sigma = clamp(Fraction*|traj|, Min, Max). With a
// nil or zero Fraction sigma is the constant Min.
type BkgErrVariable struct {
	Variable string   `json:"variable" yaml:"variable" validate:"required"`
	Fraction *float64 `json:"fraction,omitempty" yaml:"fraction,omitempty"`
	Min      *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max      *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// BkgErrFiltConfig configures the trajectory-dependent filter.
type BkgErrFiltConfig struct {
	// Variable is the trajectory field the taper reads.
	Variable      string             `json:"variable" yaml:"variable" validate:"required"`
	ThresholdLow  *float64           `json:"threshold_low,omitempty" yaml:"threshold_low,omitempty"`
	ThresholdHigh *float64           `json:"threshold_high,omitempty" yaml:"threshold_high,omitempty"`
	Scale         map[string]float64 `json:"scale,omitempty" yaml:"scale,omitempty"`
}

// BalanceConfig lists the balanced/driver pairs of the balance operator.
type BalanceConfig struct {
	Pairs []BalancePair `json:"pairs" yaml:"pairs" validate:"required,min=1,dive"`
}

// BalancePair adds Coefficient*traj[Reference]*d[Driver] to d[Balanced].
// Reference defaults to Driver.
type BalancePair struct {
	Balanced    string  `json:"balanced" yaml:"balanced" validate:"required"`
	Driver      string  `json:"driver" yaml:"driver" validate:"required,nefield=Balanced"`
	Reference   string  `json:"reference,omitempty" yaml:"reference,omitempty"`
	Coefficient float64 `json:"coefficient" yaml:"coefficient"`
}

// LinearModelConfig configures the identity tangent-linear model.
type LinearModelConfig struct {
	Name        string   `json:"name,omitempty" yaml:"name,omitempty"`
	Tstep       string   `json:"tstep" yaml:"tstep" validate:"required"`
	LMVariables []string `json:"lm_variables" yaml:"lm variables"`
}

// GetValuesConfig configures the nonlinear interpolator.
type GetValuesConfig struct {
	Model2GeoVaLs *Model2GeoVaLsConfig `json:"model2geovals,omitempty" yaml:"model2geovals,omitempty"`
	NotOcean      *NotOceanConfig      `json:"notocean,omitempty" yaml:"notocean,omitempty"`
}

// NotOceanConfig describes the auxiliary reference-data source.
type NotOceanConfig struct {
	Init      *bool          `json:"init,omitempty" yaml:"init,omitempty"`
	DateBegin string         `json:"date_begin" yaml:"date_begin"`
	DateEnd   string         `json:"date_end" yaml:"date_end"`
	ObsSpace  ObsSpaceConfig `json:"obs_space" yaml:"obs space"`
}

// ObsSpaceConfig names the archived observation space and its store.
type ObsSpaceConfig struct {
	Name string `json:"name" yaml:"name"`
	Path string `json:"path" yaml:"path"`
}

var validate = validator.New()

// configErr marks err as a configuration failure.
func configErr(err error) error {
	if err == nil || errors.Is(err, daerr.ErrConfiguration) {
		return err
	}
	return fmt.Errorf("%w: %w", daerr.ErrConfiguration, err)
}

// LoadConfig loads a Config from a .json, .yaml or .yml file.
// The file must be under the max file size and is validated before return.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, configErr(fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext))
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, configErr(fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize))
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	format := "json"
	if ext != ".json" {
		format = "yaml"
	}
	return Parse(data, format)
}

// Parse decodes and validates a Config from JSON or YAML bytes.
func Parse(data []byte, format string) (*Config, error) {
	cfg := &Config{}
	switch format {
	case "json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, configErr(fmt.Errorf("failed to parse config JSON: %w", err))
		}
	case "yaml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, configErr(fmt.Errorf("failed to parse config YAML: %w", err))
		}
	default:
		return nil, configErr(fmt.Errorf("unknown config format %q", format))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the struct tags and the cross-field rules tags cannot
// express. Failures match daerr.ErrConfiguration.
func (c *Config) Validate() error {
	return configErr(c.validate())
}

func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	for i := range c.Operators {
		if err := c.Operators[i].validate(); err != nil {
			return fmt.Errorf("operators[%d]: %w", i, err)
		}
	}
	if c.LinearModel != nil {
		if _, err := c.LinearModel.GetTstep(); err != nil {
			return err
		}
	}
	if c.GetValues != nil && c.GetValues.NotOcean != nil && c.GetValues.NotOcean.GetInit() {
		if _, _, err := c.GetValues.NotOcean.Window(); err != nil {
			return err
		}
		if c.GetValues.NotOcean.ObsSpace.Path == "" {
			return fmt.Errorf("notocean.obs space.path is required when notocean.init is set")
		}
	}
	return nil
}

// Validate checks the operator-specific rules. Failures match
// daerr.ErrConfiguration.
func (o *OperatorConfig) Validate() error {
	return configErr(o.validate())
}

func (o *OperatorConfig) validate() error {
	if a := o.Ana2Model; a != nil && len(a.Rotate.U) != len(a.Rotate.V) {
		return fmt.Errorf("rotate.u and rotate.v must pair up, got %d and %d", len(a.Rotate.U), len(a.Rotate.V))
	}
	if f := o.BkgErrFilt; f != nil && f.GetThresholdHigh() <= f.GetThresholdLow() {
		return fmt.Errorf("threshold_high (%g) must exceed threshold_low (%g)", f.GetThresholdHigh(), f.GetThresholdLow())
	}
	if b := o.BkgErr; b != nil {
		for _, v := range b.Variables {
			if v.GetMin() <= 0 {
				return fmt.Errorf("bkgerr %s: min must be positive, got %g", v.Variable, v.GetMin())
			}
			if v.GetMax() < v.GetMin() {
				return fmt.Errorf("bkgerr %s: max (%g) below min (%g)", v.Variable, v.GetMax(), v.GetMin())
			}
		}
	}
	return nil
}

// GetTstep parses the time step (ISO-8601 or Go syntax).
func (c *LinearModelConfig) GetTstep() (time.Duration, error) {
	d, err := timeutil.ParseDuration(c.Tstep)
	if err != nil {
		return 0, fmt.Errorf("invalid tstep %q: %w", c.Tstep, err)
	}
	return d, nil
}

// GetRotationDeg returns the rotation_deg value or the default.
func (c *GeometryConfig) GetRotationDeg() float64 {
	if c.RotationDeg == nil {
		return 0
	}
	return *c.RotationDeg
}

// GetMaskLatMax returns the mask_lat_max value or the default.
func (c *GeometryConfig) GetMaskLatMax() float64 {
	if c.MaskLatMax == nil {
		return 90 // default: nothing masked
	}
	return *c.MaskLatMax
}

// GetFraction returns the fraction value or the default.
func (v BkgErrVariable) GetFraction() float64 {
	if v.Fraction == nil {
		return 0
	}
	return *v.Fraction
}

// GetMin returns the min value or the default.
func (v BkgErrVariable) GetMin() float64 {
	if v.Min == nil {
		return 1
	}
	return *v.Min
}

// GetMax returns the max value or the default.
func (v BkgErrVariable) GetMax() float64 {
	if v.Max == nil {
		return v.GetMin()
	}
	return *v.Max
}

// GetThresholdLow returns the threshold_low value or the default.
func (c *BkgErrFiltConfig) GetThresholdLow() float64 {
	if c.ThresholdLow == nil {
		return 0
	}
	return *c.ThresholdLow
}

// GetThresholdHigh returns the threshold_high value or the default.
func (c *BkgErrFiltConfig) GetThresholdHigh() float64 {
	if c.ThresholdHigh == nil {
		return 1
	}
	return *c.ThresholdHigh
}

// GetScale returns the scale for variable, defaulting to 1.
func (c *BkgErrFiltConfig) GetScale(variable string) float64 {
	if s, ok := c.Scale[variable]; ok {
		return s
	}
	return 1
}

// GetReference returns the trajectory variable of the Jacobian.
func (p BalancePair) GetReference() string {
	if p.Reference == "" {
		return p.Driver
	}
	return p.Reference
}

// GetInit returns the init value or the default.
func (c *NotOceanConfig) GetInit() bool {
	if c.Init == nil {
		return false
	}
	return *c.Init
}

// Window parses the archive's begin and end timestamps (RFC 3339).
func (c *NotOceanConfig) Window() (time.Time, time.Time, error) {
	begin, err := time.Parse(time.RFC3339, c.DateBegin)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid notocean.date_begin %q: %w", c.DateBegin, err)
	}
	end, err := time.Parse(time.RFC3339, c.DateEnd)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid notocean.date_end %q: %w", c.DateEnd, err)
	}
	if end.Before(begin) {
		return time.Time{}, time.Time{}, fmt.Errorf("notocean.date_end %s before date_begin %s", c.DateEnd, c.DateBegin)
	}
	return begin, end, nil
}

// Operator returns the first operator config registered under key.
func (c *Config) Operator(key string) (OperatorConfig, bool) {
	for _, o := range c.Operators {
		if o.Key == key {
			return o, true
		}
	}
	return OperatorConfig{}, false
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
