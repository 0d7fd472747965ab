// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the YAML layout of the optional config file.
type fileConfig struct {
	Listen   string `yaml:"listen"`
	Upstream string `yaml:"upstream"`
	LogLevel string `yaml:"log_level"`

	Auth struct {
		Mode      string `yaml:"mode"`
		APIKey    string `yaml:"api_key"`
		APISecret string `yaml:"api_secret"`
		OIDC      struct {
			Issuer       string   `yaml:"issuer"`
			ClientID     string   `yaml:"client_id"`
			ClientSecret string   `yaml:"client_secret"`
			RedirectURL  string   `yaml:"redirect_url"`
			Scopes       []string `yaml:"scopes"`
		} `yaml:"oidc"`
		Bearer struct {
			Issuer   string `yaml:"issuer"`
			Audience string `yaml:"audience"`
		} `yaml:"bearer"`
	} `yaml:"auth"`

	Session struct {
		Backend     string        `yaml:"backend"`
		TTL         time.Duration `yaml:"ttl"`
		Cookie      string        `yaml:"cookie"`
		RedisURL    string        `yaml:"redis_url"`
		RedisPrefix string        `yaml:"redis_prefix"`
		SQLitePath  string        `yaml:"sqlite_path"`
	} `yaml:"session"`
}

// loadFile reads the YAML config at path. An empty path skips the file; a
// missing file at the default location is not an error.
func loadFile(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}
