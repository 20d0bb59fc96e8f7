// Package config resolves the gateway's runtime configuration from a YAML
// file merged with environment variable overrides. Env always wins over
// the file, matching the precedence rule the rest of this codebase uses
// for layered settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds everything needed to start the gateway daemon.
type Config struct {
	BinDir         string  `yaml:"bin_dir,omitempty"`
	TrackedProcDir string  `yaml:"tracked_proc_dir,omitempty"`
	Port           int     `yaml:"port,omitempty"`
	PerProcMemFract float64 `yaml:"per_proc_mem_fract,omitempty"`
	RunLocalServer bool    `yaml:"run_local_server,omitempty"`
	LogLevel       string  `yaml:"log_level,omitempty"`
}

// Default returns the baseline configuration before file/env overrides.
func Default() *Config {
	return &Config{
		Port:            9050,
		PerProcMemFract: 0.40,
		RunLocalServer:  true,
		LogLevel:        "info",
	}
}

// Load reads the YAML file at path (if it exists), then applies the
// OLIANA_BIN_DIR, OLIANA_TRACKED_PROC_DIR, PORT, PER_PROC_MEM_FRACT,
// RUN_LOCAL_SERVER and OLIANA_LOG_LEVEL environment variables on top,
// skipping any that are empty. A missing file is not
// an error — the defaults (possibly overridden by env) are used as-is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("OLIANA_BIN_DIR"); v != "" {
		cfg.BinDir = v
	}
	if v := os.Getenv("OLIANA_TRACKED_PROC_DIR"); v != "" {
		cfg.TrackedProcDir = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("PER_PROC_MEM_FRACT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.PerProcMemFract = f
		}
	}
	if v := os.Getenv("RUN_LOCAL_SERVER"); v != "" {
		cfg.RunLocalServer = !isFalsy(v)
	}
	if v := os.Getenv("OLIANA_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// isFalsy mirrors the gateway's historical env-var convention: "f", "F",
// and "0" all mean false; anything else (including "") means true.
func isFalsy(v string) bool {
	switch strings.TrimSpace(v) {
	case "f", "F", "0":
		return true
	default:
		return false
	}
}
