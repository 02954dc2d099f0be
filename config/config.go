// vcardbook - A vCard contact book with SIP addresses.
// Copyright (C) 2024 The vcardbook Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig []byte

type DatabaseConfig struct {
	Type string `yaml:"type"`
	URI  string `yaml:"uri"`
}

type AvatarConfig struct {
	Path       string `yaml:"path"`
	ProviderID string `yaml:"provider_id"`
	Scheme     string `yaml:"scheme"`
}

type APIConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Listen       string `yaml:"listen"`
	SharedSecret string `yaml:"shared_secret"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type Config struct {
	Database DatabaseConfig    `yaml:"database"`
	Avatars  AvatarConfig      `yaml:"avatars"`
	API      APIConfig         `yaml:"api"`
	Metrics  MetricsConfig     `yaml:"metrics"`
	Logging  zeroconfig.Config `yaml:"logging"`
}

// Default returns the configuration from the embedded example config.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal(ExampleConfig, &cfg); err != nil {
		panic(fmt.Errorf("embedded example config is invalid: %w", err))
	}
	return &cfg
}

// Parse reads a YAML config on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Load reads the config file at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		return cfg, cfg.Validate()
	} else if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

func (cfg *Config) Validate() error {
	switch cfg.Database.Type {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported database type %q", cfg.Database.Type)
	}
	if cfg.Database.URI == "" {
		return errors.New("database.uri is not set")
	} else if cfg.Avatars.Path == "" {
		return errors.New("avatars.path is not set")
	} else if cfg.API.Enabled && cfg.API.Listen == "" {
		return errors.New("api.listen is not set")
	} else if cfg.API.Enabled && cfg.API.SharedSecret == "" {
		return errors.New("api.shared_secret must be set when the api is enabled")
	} else if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return errors.New("metrics.listen is not set")
	}
	return nil
}
