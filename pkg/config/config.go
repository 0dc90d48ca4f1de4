// Package config loads engine configuration from a YAML file. Grounded on
// pkg/config/receiver_config.go from the wider example corpus.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tksoft/flowforge-engine/pkg/scheduler"
)

// EngineConfig is the on-disk shape of an engine.yaml file.
type EngineConfig struct {
	AcceptableEngineVersions []string      `yaml:"acceptable_engine_versions"`
	BlocksPath               string        `yaml:"blocks_path"`
	ProcessingDelay          time.Duration `yaml:"processing_delay"`
	RemoveDuplicateDeps      bool          `yaml:"remove_duplicate_dependencies"`
}

// Load reads and parses path into an EngineConfig, applying defaults for
// any field left zero.
func Load(path string) (EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg EngineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return EngineConfig{}, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applyDefaults(&cfg)

	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to DefaultEngineConfig
// when path does not exist or cannot be parsed.
func LoadOrDefault(path string) EngineConfig {
	cfg, err := Load(path)
	if err != nil {
		return DefaultEngineConfig()
	}
	return cfg
}

// DefaultEngineConfig is the configuration used when no file is provided.
func DefaultEngineConfig() EngineConfig {
	cfg := EngineConfig{}
	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *EngineConfig) {
	if len(cfg.AcceptableEngineVersions) == 0 {
		cfg.AcceptableEngineVersions = []string{"1.0"}
	}
	if cfg.BlocksPath == "" {
		cfg.BlocksPath = "./blocks"
	}
	if cfg.ProcessingDelay <= 0 {
		cfg.ProcessingDelay = scheduler.DefaultProcessingDelay
	}
}

// Validate checks the semantic preconditions Load's YAML unmarshaling
// can't enforce on its own.
func Validate(cfg EngineConfig) error {
	if len(cfg.AcceptableEngineVersions) == 0 {
		return fmt.Errorf("config: acceptable_engine_versions is required")
	}
	if cfg.BlocksPath == "" {
		return fmt.Errorf("config: blocks_path is required")
	}
	if cfg.ProcessingDelay <= 0 {
		return fmt.Errorf("config: processing_delay must be positive")
	}
	return nil
}
