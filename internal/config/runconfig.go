package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ParametersFile is the name of the persisted RunConfig inside a run
// directory.
const ParametersFile = "parameters.json"

// RunConfig is the set of parameters a run was executed under. It is written
// once at run start and never modified; two runs are only comparable when
// their RunConfig values are equal.
type RunConfig struct {
	Mode   Mode   `json:"mode"`
	Python string `json:"python"`
	Latest bool   `json:"latest"`
	// UnsafeExecution permits arbitrary build-backend code execution while
	// resolving. The JSON key doubles as a reminder to only enable it inside
	// a disposable container.
	UnsafeExecution bool `json:"i_am_in_docker"`
}

// Write persists the config as parameters.json in outputDir.
func (c RunConfig) Write(outputDir string) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal run config: %w", err)
	}
	path := filepath.Join(outputDir, ParametersFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write run config: %w", err)
	}
	return nil
}

// ReadRunConfig loads and validates the parameters.json of a run directory.
func ReadRunConfig(outputDir string) (RunConfig, error) {
	path := filepath.Join(outputDir, ParametersFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return RunConfig{}, fmt.Errorf("read run config: %w", err)
	}
	var c RunConfig
	if err := json.Unmarshal(data, &c); err != nil {
		return RunConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return RunConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}
