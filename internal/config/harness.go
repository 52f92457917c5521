package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// HarnessFile is the optional per-root settings file.
const HarnessFile = ".ecotest.yaml"

// HarnessConfig carries operator preferences that do not affect run
// comparability. CLI flags override it.
type HarnessConfig struct {
	// Workers bounds the resolver pool. 0 means twice the available
	// hardware parallelism.
	Workers int `yaml:"workers"`
	// Exclude extends the built-in list of pathological packages that are
	// removed from every plan.
	Exclude []string `yaml:"exclude"`
}

// LoadHarnessConfig reads .ecotest.yaml from the root directory. A missing
// file yields the zero config; a malformed file is an error.
func LoadHarnessConfig(root string) (HarnessConfig, error) {
	var c HarnessConfig
	data, err := os.ReadFile(filepath.Join(root, HarnessFile))
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return c, fmt.Errorf("read %s: %w", HarnessFile, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse %s: %w", HarnessFile, err)
	}
	return c, nil
}
