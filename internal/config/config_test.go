package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/ucldas/internal/da/daerr"
)

const testYAML = `
geometry:
  nx: 8
  ny: 6
  lon0: -100
  lat0: 30
  dlon: 0.5
  dlat: 0.5
  variables:
    soil_temperature: 3
    soil_moisture: 3
    u: 1
    v: 1
  rotation_deg: 15
operators:
  - key: BkgErr
    bkgerr:
      variables:
        - variable: soil_temperature
          fraction: 0.1
          min: 0.5
          max: 2
  - key: Ana2Model
    ana2model:
      rotate:
        u: [u]
        v: [v]
      log:
        var: [soil_moisture]
linear model:
  name: IdTLM
  tstep: PT6H
  lm variables: [soil_temperature, soil_moisture]
get values:
  notocean:
    init: true
    date_begin: "2021-07-01T00:00:00Z"
    date_end: "2021-07-01T06:00:00Z"
    obs space:
      name: atm
      path: /tmp/atm.db
`

func TestParseYAML(t *testing.T) {
	cfg, err := Parse([]byte(testYAML), "yaml")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Geometry.NX != 8 || cfg.Geometry.NY != 6 {
		t.Errorf("grid = %dx%d, want 8x6", cfg.Geometry.NX, cfg.Geometry.NY)
	}
	if cfg.Geometry.Variables["soil_moisture"] != 3 {
		t.Errorf("soil_moisture levels = %d, want 3", cfg.Geometry.Variables["soil_moisture"])
	}
	if cfg.Geometry.GetRotationDeg() != 15 {
		t.Errorf("GetRotationDeg() = %f, want 15", cfg.Geometry.GetRotationDeg())
	}
	if cfg.Geometry.GetMaskLatMax() != 90 {
		t.Errorf("GetMaskLatMax() = %f, want default 90", cfg.Geometry.GetMaskLatMax())
	}

	op, ok := cfg.Operator("Ana2Model")
	if !ok {
		t.Fatal("Ana2Model operator missing")
	}
	if len(op.Ana2Model.Rotate.U) != 1 || op.Ana2Model.Log.Var[0] != "soil_moisture" {
		t.Errorf("unexpected ana2model config: %+v", op.Ana2Model)
	}

	tstep, err := cfg.LinearModel.GetTstep()
	if err != nil || tstep != 6*time.Hour {
		t.Errorf("GetTstep() = %v, %v; want 6h", tstep, err)
	}
	if got := cfg.LinearModel.LMVariables; len(got) != 2 {
		t.Errorf("lm variables = %v", got)
	}

	no := cfg.GetValues.NotOcean
	if !no.GetInit() {
		t.Error("notocean.init should be true")
	}
	begin, end, err := no.Window()
	if err != nil {
		t.Fatalf("Window() error: %v", err)
	}
	if end.Sub(begin) != 6*time.Hour {
		t.Errorf("window length = %v, want 6h", end.Sub(begin))
	}
}

func TestLoadConfigJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "das.json")

	testJSON := `{
  "geometry": {"nx": 4, "ny": 4, "dlon": 1, "dlat": 1, "variables": {"t": 1}},
  "linear_model": {"tstep": "1h", "lm_variables": ["t"]}
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if d, _ := cfg.LinearModel.GetTstep(); d != time.Hour {
		t.Errorf("tstep = %v, want 1h", d)
	}
}

func TestLoadConfigMissing(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/to/config.yaml")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadConfigRejectsExtension(t *testing.T) {
	_, err := LoadConfig("config.toml")
	if err == nil || !strings.Contains(err.Error(), "extension") {
		t.Errorf("expected extension error, got %v", err)
	}
}

func TestLoadConfigRejectsLargeFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "large.json")
	if err := os.WriteFile(configPath, make([]byte, 2*1024*1024), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	_, err := LoadConfig(configPath)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{Geometry: GeometryConfig{
			NX: 4, NY: 4, DLon: 1, DLat: 1,
			Variables: map[string]int{"t": 1, "s": 1},
		}}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(*Config) {}, false},
		{"degenerate grid", func(c *Config) { c.Geometry.NX = 1 }, true},
		{"no variables", func(c *Config) { c.Geometry.Variables = nil }, true},
		{"zero levels", func(c *Config) { c.Geometry.Variables["t"] = 0 }, true},
		{"operator without key", func(c *Config) { c.Operators = []OperatorConfig{{}} }, true},
		{"unpaired rotation", func(c *Config) {
			a := &Ana2ModelConfig{}
			a.Rotate.U = []string{"u"}
			c.Operators = []OperatorConfig{{Key: "Ana2Model", Ana2Model: a}}
		}, true},
		{"inverted filter thresholds", func(c *Config) {
			c.Operators = []OperatorConfig{{Key: "BkgErrFILT", BkgErrFilt: &BkgErrFiltConfig{
				Variable: "t", ThresholdLow: ptrFloat64(5), ThresholdHigh: ptrFloat64(1),
			}}}
		}, true},
		{"non-positive sigma", func(c *Config) {
			c.Operators = []OperatorConfig{{Key: "BkgErr", BkgErr: &BkgErrConfig{
				Variables: []BkgErrVariable{{Variable: "t", Min: ptrFloat64(0)}},
			}}}
		}, true},
		{"balance driver equals balanced", func(c *Config) {
			c.Operators = []OperatorConfig{{Key: "Balance", Balance: &BalanceConfig{
				Pairs: []BalancePair{{Balanced: "t", Driver: "t"}},
			}}}
		}, true},
		{"bad tstep", func(c *Config) { c.LinearModel = &LinearModelConfig{Tstep: "P1M"} }, true},
		{"archive without path", func(c *Config) {
			c.GetValues = &GetValuesConfig{NotOcean: &NotOceanConfig{
				Init:      ptrBool(true),
				DateBegin: "2021-07-01T00:00:00Z",
				DateEnd:   "2021-07-01T06:00:00Z",
			}}
		}, true},
		{"archive disabled ignores window", func(c *Config) {
			c.GetValues = &GetValuesConfig{NotOcean: &NotOceanConfig{DateBegin: "garbage"}}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, daerr.ErrConfiguration) {
				t.Errorf("Validate() error %v does not match daerr.ErrConfiguration", err)
			}
		})
	}
}

func TestLoadErrorsAreConfiguration(t *testing.T) {
	cases := map[string]func() error{
		"bad yaml": func() error { _, err := Parse([]byte("geometry: [1, 2"), "yaml"); return err },
		"bad json": func() error { _, err := Parse([]byte("{"), "json"); return err },
		"format":   func() error { _, err := Parse([]byte("{}"), "toml"); return err },
		"invalid":  func() error { _, err := Parse([]byte(`{"geometry": {"nx": 1}}`), "json"); return err },
		"extension": func() error {
			_, err := LoadConfig(filepath.Join(t.TempDir(), "config.toml"))
			return err
		},
		"operator": func() error {
			a := &Ana2ModelConfig{}
			a.Rotate.U = []string{"u"}
			return (&OperatorConfig{Key: "Ana2Model", Ana2Model: a}).Validate()
		},
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			err := f()
			if !errors.Is(err, daerr.ErrConfiguration) {
				t.Errorf("error %v does not match daerr.ErrConfiguration", err)
			}
		})
	}
}

func TestGetterDefaults(t *testing.T) {
	v := BkgErrVariable{Variable: "t"}
	if v.GetFraction() != 0 || v.GetMin() != 1 || v.GetMax() != 1 {
		t.Errorf("BkgErrVariable defaults = (%g, %g, %g), want (0, 1, 1)", v.GetFraction(), v.GetMin(), v.GetMax())
	}

	f := &BkgErrFiltConfig{Variable: "depth", Scale: map[string]float64{"t": 0.5}}
	if f.GetThresholdLow() != 0 || f.GetThresholdHigh() != 1 {
		t.Errorf("threshold defaults = (%g, %g), want (0, 1)", f.GetThresholdLow(), f.GetThresholdHigh())
	}
	if f.GetScale("t") != 0.5 || f.GetScale("s") != 1 {
		t.Errorf("GetScale = (%g, %g), want (0.5, 1)", f.GetScale("t"), f.GetScale("s"))
	}

	p := BalancePair{Balanced: "s", Driver: "t"}
	if p.GetReference() != "t" {
		t.Errorf("GetReference() = %q, want driver", p.GetReference())
	}

	no := &NotOceanConfig{}
	if no.GetInit() {
		t.Error("GetInit() default should be false")
	}
}
