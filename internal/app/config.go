package app

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DataRoot        string `yaml:"data_root"`
	DefaultModel    string `yaml:"model"`
	DefaultProvider string `yaml:"provider"`
	// KeepRecentTurns is how many trailing turn groups stay fully expanded;
	// older groups are marked for compression.
	KeepRecentTurns int `yaml:"keep_recent_turns"`
}

func DefaultConfig() Config {
	return Config{
		DataRoot:        DefaultDataRoot(),
		DefaultModel:    "claude-sonnet-4",
		DefaultProvider: "anthropic",
		KeepRecentTurns: 3,
	}
}

func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = filepath.Join(DefaultDataRoot(), "config.yaml")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.DataRoot == "" {
		cfg.DataRoot = DefaultDataRoot()
	}
	if cfg.KeepRecentTurns < 0 {
		cfg.KeepRecentTurns = 0
	}
	return cfg, nil
}

func SaveConfig(path string, cfg Config) error {
	if path == "" {
		path = filepath.Join(DefaultDataRoot(), "config.yaml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
