// Package config resolves the engine's on-disk layout and user settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CheckpointPolicy controls automatic checkpoint behavior. It lives in the
// settings file and may be reloaded at runtime.
type CheckpointPolicy struct {
	// AutoSave enables interval-based auto-checkpoints.
	AutoSave bool `yaml:"autoSave"`
	// Interval is the number of new messages between auto-checkpoints.
	Interval int `yaml:"interval"`
	// MaxPerChat caps checkpoints per chat; oldest auto-saves beyond the
	// cap are pruned. Zero disables pruning.
	MaxPerChat int `yaml:"maxPerChat"`
}

// DefaultCheckpointPolicy returns the policy used when no settings file
// exists.
func DefaultCheckpointPolicy() CheckpointPolicy {
	return CheckpointPolicy{
		AutoSave:   false,
		Interval:   10,
		MaxPerChat: 50,
	}
}

// Config holds resolved paths and settings.
type Config struct {
	HomeDir      string
	DataDir      string
	DatabasePath string
	SettingsPath string
	Checkpoints  CheckpointPolicy
}

// Load resolves the default ~/.forgepad layout, creates it if needed, and
// overlays the settings file when present.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	cfg, err := LoadFrom(filepath.Join(home, ".forgepad"))
	if err != nil {
		return nil, err
	}
	cfg.HomeDir = home
	return cfg, nil
}

// LoadFrom resolves the layout under an explicit data directory.
func LoadFrom(dataDir string) (*Config, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:      dataDir,
		DatabasePath: filepath.Join(dataDir, "forgepad.db"),
		SettingsPath: filepath.Join(dataDir, "settings.yaml"),
		Checkpoints:  DefaultCheckpointPolicy(),
	}

	policy, err := ReadPolicy(cfg.SettingsPath)
	if err != nil {
		return nil, err
	}
	if policy != nil {
		cfg.Checkpoints = *policy
	}
	return cfg, nil
}

// settings is the YAML-visible part of the configuration.
type settings struct {
	Checkpoints CheckpointPolicy `yaml:"checkpoints"`
}

// ReadPolicy parses the checkpoint policy from a settings file. A missing
// file is not an error; it returns nil.
func ReadPolicy(path string) (*CheckpointPolicy, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	s := settings{Checkpoints: DefaultCheckpointPolicy()}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	return &s.Checkpoints, nil
}

// WritePolicy persists the checkpoint policy to a settings file.
func WritePolicy(path string, policy CheckpointPolicy) error {
	data, err := yaml.Marshal(settings{Checkpoints: policy})
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
