// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// LoaderOptions configures the configuration loader
type LoaderOptions struct {
	// ConfigDir is the directory containing config files (default: ./config)
	ConfigDir string
	// Environment overrides automatic environment detection
	Environment string
	// SkipEnvSubstitution disables environment variable substitution
	SkipEnvSubstitution bool
	// SkipValidation disables configuration validation
	SkipValidation bool
}

// DefaultLoaderOptions returns default loader options
func DefaultLoaderOptions() LoaderOptions {
	return LoaderOptions{
		ConfigDir:           "config",
		Environment:         "",
		SkipEnvSubstitution: false,
		SkipValidation:      false,
	}
}

// Load loads configuration with automatic environment detection
func Load(opts ...LoaderOptions) (*Config, error) {
	options := DefaultLoaderOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	env := options.Environment
	if env == "" {
		env = GetEnvironment()
	}

	envConfigPath := filepath.Join(options.ConfigDir, fmt.Sprintf("%s.yaml", env))
	cfg, err := loadConfigFile(envConfigPath)
	if err != nil {
		defaultConfigPath := filepath.Join(options.ConfigDir, "default.yaml")
		cfg, err = loadConfigFile(defaultConfigPath)
		if err != nil {
			configPath := filepath.Join(options.ConfigDir, "config.yaml")
			cfg, err = loadConfigFile(configPath)
			if err != nil {
				cfg = &Config{Environment: env}
				setDefaults(cfg)
			}
		}
	}

	if cfg.Environment == "" {
		cfg.Environment = env
	}

	if !options.SkipEnvSubstitution {
		SubstituteEnvVarsInConfig(cfg)
	}

	applyEnvironmentOverrides(cfg)

	if !options.SkipValidation {
		for _, issue := range Validate(cfg) {
			if issue.Level == "error" {
				return nil, fmt.Errorf("configuration validation failed: %s - %s", issue.Field, issue.Message)
			}
		}
	}

	return cfg, nil
}

func loadConfigFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	return LoadFromFile(path)
}

// applyEnvironmentOverrides overrides config with environment variables,
// the highest-priority source after the file and ${VAR} substitution.
func applyEnvironmentOverrides(cfg *Config) {
	if addr := os.Getenv("GATEWAY_LISTEN_ADDR"); addr != "" {
		cfg.Transport.ListenAddr = addr
	}
	if cidr := os.Getenv("GATEWAY_IP_POOL_CIDR"); cidr != "" {
		cfg.IPPool.CIDR = cidr
	}
	if seed := os.Getenv("GATEWAY_SERVER_KEY_SEED"); seed != "" {
		cfg.Auth.ServerKeySeed = seed
	}
	if logLevel := os.Getenv("GATEWAY_LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat := os.Getenv("GATEWAY_LOG_FORMAT"); logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if os.Getenv("GATEWAY_METRICS_ENABLED") == "true" {
		cfg.Metrics.Enabled = true
	}
	if os.Getenv("GATEWAY_METRICS_ENABLED") == "false" {
		cfg.Metrics.Enabled = false
	}
}

// LoadForEnvironment loads configuration for a specific environment
func LoadForEnvironment(environment string) (*Config, error) {
	return Load(LoaderOptions{
		ConfigDir:   "config",
		Environment: environment,
	})
}

// MustLoad loads configuration or panics on error
func MustLoad(opts ...LoaderOptions) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// ValidationIssue is one field-level configuration problem. Level "error"
// fails Load; any other level is advisory only.
type ValidationIssue struct {
	Field   string
	Message string
	Level   string
}

// Validate checks cfg for settings the gateway cannot safely start with.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Transport.ListenAddr == "" {
		issues = append(issues, ValidationIssue{"transport.listen_addr", "listen address is required", "error"})
	}
	if _, _, err := net.ParseCIDR(cfg.IPPool.CIDR); err != nil {
		issues = append(issues, ValidationIssue{"ip_pool.cidr", fmt.Sprintf("invalid cidr %q: %v", cfg.IPPool.CIDR, err), "error"})
	}
	if cfg.Handshake.Timeout <= 0 {
		issues = append(issues, ValidationIssue{"handshake.timeout", "must be positive", "error"})
	}
	if cfg.Handshake.HeartbeatInterval <= 0 {
		issues = append(issues, ValidationIssue{"handshake.heartbeat_interval", "must be positive", "error"})
	}
	if cfg.Handshake.RotationThreshold <= 0 {
		issues = append(issues, ValidationIssue{"handshake.rotation_threshold", "must be positive", "error"})
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		issues = append(issues, ValidationIssue{"logging.level", fmt.Sprintf("unknown level %q", cfg.Logging.Level), "warn"})
	}

	return issues
}
