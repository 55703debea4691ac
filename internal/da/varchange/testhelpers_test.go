package varchange

import (
	"github.com/banshee-data/ucldas/internal/config"
)

func ana2ModelConfig() *config.Ana2ModelConfig {
	cfg := &config.Ana2ModelConfig{}
	cfg.Rotate.U = []string{"u"}
	cfg.Rotate.V = []string{"v"}
	cfg.Log.Var = []string{"soil_moisture", "snow_depth"}
	return cfg
}

func model2GeoVaLsConfig() *config.Model2GeoVaLsConfig {
	return &config.Model2GeoVaLsConfig{
		Derived: []config.DerivedVariable{
			{Name: "skin_temperature", Terms: []config.DerivedTerm{{Variable: "soil_temperature", Level: 0, Weight: 1}}},
			{Name: "total_soil_moisture", Terms: []config.DerivedTerm{
				{Variable: "soil_moisture", Level: 0, Weight: 0.1},
				{Variable: "soil_moisture", Level: 1, Weight: 0.3},
				{Variable: "soil_moisture", Level: 2, Weight: 0.6},
			}},
		},
	}
}
