// Copyright 2026 The Parlor Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the bridge's YAML configuration file. There is
// no discovery chain: the path comes from the --config flag or the
// PARLOR_CONFIG environment variable, and unknown keys are rejected so
// typos fail loudly at startup.
package config

import (
	"bytes"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultHistoryLimit is the room history replay size when the
	// file doesn't set one.
	DefaultHistoryLimit = 50

	// DefaultQueueSize is the per-viewer delivery queue capacity when
	// the file doesn't set one.
	DefaultQueueSize = 16

	defaultHost = "127.0.0.1"
	defaultPort = 8080
)

// Config is the bridge configuration.
type Config struct {
	// Homeserver is the base URL of the Matrix homeserver, e.g.
	// "https://matrix.example.org".
	Homeserver string `yaml:"homeserver"`

	// Username is the localpart or full user ID to log in as. The
	// password is never configured here; it lives in the vault.
	Username string `yaml:"username"`

	// Room is the single watched room: an ID ("!...") or alias
	// ("#...").
	Room string `yaml:"room"`

	// VaultPath is where the encrypted credential record is stored.
	VaultPath string `yaml:"vault_path"`

	// HistoryLimit is how many recent messages to keep and replay.
	HistoryLimit int `yaml:"history_limit"`

	// QueueSize is the per-viewer delivery queue capacity. A viewer
	// that falls this far behind is disconnected.
	QueueSize int `yaml:"queue_size"`

	Web WebConfig `yaml:"web"`
}

// WebConfig configures the browser-facing HTTP server.
type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AuthHeader and AuthValue enable reverse-proxy header
	// authentication: requests must carry the named header with
	// exactly this value. Both must be set together; leaving them
	// empty disables the check.
	AuthHeader string `yaml:"auth_header"`
	AuthValue  string `yaml:"auth_value"`
}

// ListenAddr returns the host:port the web server binds.
func (w WebConfig) ListenAddr() string {
	return net.JoinHostPort(w.Host, strconv.Itoa(w.Port))
}

// Load reads, parses, and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates raw YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	config := &Config{
		HistoryLimit: DefaultHistoryLimit,
		QueueSize:    DefaultQueueSize,
		Web: WebConfig{
			Host: defaultHost,
			Port: defaultPort,
		},
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("config: parsing: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration for errors that would otherwise
// only surface deep inside a connect attempt.
func (c *Config) Validate() error {
	if c.Homeserver == "" {
		return fmt.Errorf("config: homeserver is required")
	}
	parsed, err := url.Parse(c.Homeserver)
	if err != nil {
		return fmt.Errorf("config: homeserver %q: %w", c.Homeserver, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("config: homeserver %q: scheme must be http or https", c.Homeserver)
	}
	if parsed.Host == "" {
		return fmt.Errorf("config: homeserver %q: missing host", c.Homeserver)
	}

	if c.Username == "" {
		return fmt.Errorf("config: username is required")
	}

	if c.Room == "" {
		return fmt.Errorf("config: room is required")
	}
	if !strings.HasPrefix(c.Room, "!") && !strings.HasPrefix(c.Room, "#") {
		return fmt.Errorf("config: room %q must be a room ID (!...) or alias (#...)", c.Room)
	}

	if c.VaultPath == "" {
		return fmt.Errorf("config: vault_path is required")
	}

	if c.HistoryLimit <= 0 {
		return fmt.Errorf("config: history_limit must be positive, got %d", c.HistoryLimit)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("config: queue_size must be positive, got %d", c.QueueSize)
	}

	if c.Web.Port < 1 || c.Web.Port > 65535 {
		return fmt.Errorf("config: web port %d out of range", c.Web.Port)
	}
	if (c.Web.AuthHeader == "") != (c.Web.AuthValue == "") {
		return fmt.Errorf("config: web auth_header and auth_value must be set together")
	}

	return nil
}
