package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	yaml "gopkg.in/yaml.v2"
)

// prefix for environment overrides, e.g. TRACKER_SERVER_REDIS_HOST
const envPrefix = "tracker"

func readFile(path string, cfg *Configuration) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("cannot decode %s: %w", path, err)
	}
	return nil
}

func readEnv(cfg *Configuration) error {
	return envconfig.Process(envPrefix, cfg)
}

// Load reads the YAML file (a missing file is not an error), applies the
// environment on top and fills in defaults.
func Load(path string) (Configuration, error) {
	var cfg Configuration
	if path != "" {
		err := readFile(path, &cfg)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Configuration{}, err
		}
	}
	if err := readEnv(&cfg); err != nil {
		return Configuration{}, fmt.Errorf("cannot read environment: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// reading config error is fatal for the server
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	Config = cfg
	return nil
}
