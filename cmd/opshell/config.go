package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the opshell.yaml file: which extensions to preload and how the
// op driver is sized. Every field has a working default, so running without
// a config file is fine.
type Config struct {
	// Extensions lists the built-in extensions to register, by name.
	Extensions []string `yaml:"extensions"`

	// ArenaCapacity sizes the pending-op slab. Zero keeps the driver
	// default.
	ArenaCapacity int `yaml:"arena_capacity"`

	// DeferredBatch caps deferred completions delivered per tick. Zero
	// keeps the driver default.
	DeferredBatch int `yaml:"deferred_batch"`

	// LogLevel is a zap level name: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

func defaultConfig() Config {
	return Config{
		Extensions: builtinOrder,
		LogLevel:   "info",
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = builtinOrder
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}
