// Package config loads a run's RunnerOptions and MultiChainProviderConfig
// from a YAML file, falling back to types.DefaultRunnerOptions when no
// file is present.
//
// Grounded on internal/config/services.go's LoadX / LoadXFromPath /
// LoadXOrDefault / DefaultX naming and read-then-unmarshal-then-validate
// shape, retargeted from plugin.ServicesConfig to types.RunnerOptions.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/w3f-runner/types"
)

// RunConfig is the on-disk shape of a run's options file: runner options
// plus the multi-chain RPC providers available to the guest.
type RunConfig struct {
	Options   types.RunnerOptions             `yaml:",inline"`
	Providers types.MultiChainProviderConfig  `yaml:"multiChainProviderConfig"`
}

// LoadRunConfig loads a run configuration from ./config/runner.yaml.
func LoadRunConfig() (*RunConfig, error) {
	return LoadRunConfigFromPath(filepath.Join("config", "runner.yaml"))
}

// LoadRunConfigFromPath loads and validates a run configuration from path.
func LoadRunConfigFromPath(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read run config: %w", err)
	}

	cfg := RunConfig{Options: types.DefaultRunnerOptions()}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse run config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadRunConfigOrDefault loads ./config/runner.yaml, or falls back to
// DefaultRunConfig if the file cannot be read.
func LoadRunConfigOrDefault() *RunConfig {
	cfg, err := LoadRunConfig()
	if err != nil {
		return DefaultRunConfig()
	}
	return cfg
}

// DefaultRunConfig returns the default run configuration: no providers
// configured, runner options from types.DefaultRunnerOptions.
func DefaultRunConfig() *RunConfig {
	return &RunConfig{
		Options:   types.DefaultRunnerOptions(),
		Providers: types.MultiChainProviderConfig{},
	}
}

func validate(cfg *RunConfig) error {
	if cfg.Options.Memory <= 0 {
		return fmt.Errorf("config: memory must be positive")
	}
	if cfg.Options.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be positive")
	}
	for chainID, provider := range cfg.Providers {
		if provider.RPCURL == "" {
			return fmt.Errorf("config: provider %s: rpcUrl is required", chainID)
		}
	}
	return nil
}
