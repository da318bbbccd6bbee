// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package config loads and validates the gateway's runtime settings: the
// WebSocket listener, the handshake/heartbeat/rotation timers, the IP
// pool's address range, the ACL default, and the ambient logging and
// metrics settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the gateway's full runtime configuration.
type Config struct {
	Environment string          `yaml:"environment" json:"environment"`
	Transport   TransportConfig `yaml:"transport" json:"transport"`
	Handshake   HandshakeConfig `yaml:"handshake" json:"handshake"`
	IPPool      IPPoolConfig    `yaml:"ip_pool" json:"ip_pool"`
	Auth        AuthConfig      `yaml:"auth" json:"auth"`
	Logging     LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics     MetricsConfig   `yaml:"metrics" json:"metrics"`
}

// TransportConfig configures the TLS+WebSocket listener.
type TransportConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
	Path       string `yaml:"path" json:"path"`
	CertFile   string `yaml:"cert_file" json:"cert_file"`
	KeyFile    string `yaml:"key_file" json:"key_file"`
}

// HandshakeConfig configures the per-session state machine's timers.
type HandshakeConfig struct {
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	RotationInterval  time.Duration `yaml:"rotation_interval" json:"rotation_interval"`
	RotationThreshold time.Duration `yaml:"rotation_threshold" json:"rotation_threshold"`
}

// IPPoolConfig configures the tunnel address range handed out at
// establishment.
type IPPoolConfig struct {
	CIDR          string        `yaml:"cidr" json:"cidr"`
	LeaseDuration time.Duration `yaml:"lease_duration" json:"lease_duration"`
}

// AuthConfig configures challenge issuance and the access-control
// decision taken once a signature verifies.
type AuthConfig struct {
	ChallengeTTL    time.Duration `yaml:"challenge_ttl" json:"challenge_ttl"`
	ACLDefaultAllow bool          `yaml:"acl_default_allow" json:"acl_default_allow"`
	ServerKeySeed   string        `yaml:"server_key_seed,omitempty" json:"server_key_seed,omitempty"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json, text
	Output string `yaml:"output" json:"output"` // stdout, stderr, file path
}

// MetricsConfig configures the Prometheus HTTP endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
	Path       string `yaml:"path" json:"path"`
}

// LoadFromFile parses a YAML (falling back to JSON) config file and
// applies defaults to any field left zero.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("parse config file (tried yaml and json): %w", err)
		}
	}

	setDefaults(cfg)
	return cfg, nil
}

// SaveToFile writes cfg as YAML, or JSON if path ends in .json.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error
	if len(path) >= 5 && path[len(path)-5:] == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Transport.ListenAddr == "" {
		cfg.Transport.ListenAddr = ":8443"
	}
	if cfg.Transport.Path == "" {
		cfg.Transport.Path = "/ws"
	}
	if cfg.Handshake.Timeout == 0 {
		cfg.Handshake.Timeout = 30 * time.Second
	}
	if cfg.Handshake.HeartbeatInterval == 0 {
		cfg.Handshake.HeartbeatInterval = 30 * time.Second
	}
	if cfg.Handshake.RotationInterval == 0 {
		cfg.Handshake.RotationInterval = 60 * time.Second
	}
	if cfg.Handshake.RotationThreshold == 0 {
		cfg.Handshake.RotationThreshold = time.Hour
	}
	if cfg.IPPool.CIDR == "" {
		cfg.IPPool.CIDR = "10.7.0.0/24"
	}
	if cfg.IPPool.LeaseDuration == 0 {
		cfg.IPPool.LeaseDuration = time.Hour
	}
	if cfg.Auth.ChallengeTTL == 0 {
		cfg.Auth.ChallengeTTL = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}
