// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultServerURL is where a local relay listens.
	DefaultServerURL = "http://localhost:12210"

	// DefaultCitationsURLTemplate builds citation download links.
	DefaultCitationsURLTemplate = "{server}/api/citations/{filename}"

	configDirName  = ".ella"
	configFileName = "ella.yaml"
)

// ClientConfig is the CLI's settings file.
type ClientConfig struct {
	ServerURL            string `yaml:"server_url"`
	WindowSize           int    `yaml:"window_size"`
	CitationsURLTemplate string `yaml:"citations_url_template"`
	Personality          string `yaml:"personality,omitempty"`
}

// DefaultClientConfig returns the settings written on first run.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ServerURL:            DefaultServerURL,
		WindowSize:           DefaultWindowSize,
		CitationsURLTemplate: DefaultCitationsURLTemplate,
	}
}

// Normalize fills unset fields with defaults.
func (c ClientConfig) Normalize() ClientConfig {
	d := DefaultClientConfig()
	if c.ServerURL == "" {
		c.ServerURL = d.ServerURL
	}
	if c.WindowSize < 1 {
		c.WindowSize = d.WindowSize
	}
	if c.CitationsURLTemplate == "" {
		c.CitationsURLTemplate = d.CitationsURLTemplate
	}
	return c
}

// Validate checks that the server URL is absolute http(s).
func (c ClientConfig) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("server_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server_url %q must use http or https", c.ServerURL)
	}
	if u.Host == "" {
		return fmt.Errorf("server_url %q has no host", c.ServerURL)
	}
	return nil
}

// ConfigDir returns ~/.ella.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, configDirName), nil
}

// DefaultConfigPath returns ~/.ella/ella.yaml.
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// LoadClientConfig reads the settings file at path, or ~/.ella/ella.yaml
// when path is empty. A missing file is created with defaults.
func LoadClientConfig(path string) (ClientConfig, error) {
	if path == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return ClientConfig{}, err
		}
		path = p
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		slog.Info("first run, creating config", "path", path)
		if err := writeDefaultConfig(path); err != nil {
			return ClientConfig{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func writeDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultClientConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
