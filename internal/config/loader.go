package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

// LoadConfig reads a yaml config file and applies defaults.
func LoadConfig(file string) (*Config, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)

	return cfg, nil
}

// ApplyDefaults fills in zero-valued config fields.
func ApplyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":7420"
	}

	if cfg.Weather.UpdateIntervalSeconds == 0 {
		cfg.Weather.UpdateIntervalSeconds = 300 // 5 minutes between pushed refreshes
	}
	if len(cfg.Weather.Cities) == 0 {
		cfg.Weather.Cities = []string{"Seattle", "Portland", "San Francisco"}
	}

	if cfg.Upstream.TimeoutSeconds == 0 {
		cfg.Upstream.TimeoutSeconds = 10
	}
}
