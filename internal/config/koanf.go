// Soundkeep - Listening History Sync and Archive Ingestion
// Copyright 2026 Soundkeep contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundkeep/soundkeep

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/soundkeep/config.yaml",
	"/etc/soundkeep/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all defaults filled in. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:      "/data/soundkeep.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = runtime.NumCPU()
		},
		Spotify: SpotifyConfig{
			ClientID:       "",
			ClientSecret:   "",
			BaseURL:        "https://api.spotify.com/v1",
			TokenURL:       "https://accounts.spotify.com/api/token",
			Timeout:        30 * time.Second,
			MaxConcurrent:  4,
			RetryAttempts:  5,
			RetryBaseDelay: 1 * time.Second,
			RatePerSecond:  5,
		},
		Sync: SyncConfig{
			Enabled:        true,
			InitialEnabled: true,
			Interval:       5 * time.Minute,
			Concurrency:    4,
			MaxRequests:    40,
			LookbackDays:   0, // unlimited
			PageSize:       50,
		},
		Import: ImportConfig{
			Enabled:     true,
			Interval:    30 * time.Second,
			BatchSize:   500,
			MaxRecords:  1_000_000,
			MaxFileSize: 2 << 30, // 2GB
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8480,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: optional config file
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names to koanf config paths.
//
// Examples:
//   - SPOTIFY_CLIENT_ID -> spotify.client_id
//   - SYNC_INTERVAL -> sync.interval
//   - DATABASE_PATH -> database.path
//   - IMPORT_MAX_FILE_SIZE -> import.max_file_size
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	sections := []string{"database", "spotify", "sync", "import", "server", "logging"}
	for _, section := range sections {
		prefix := section + "_"
		if strings.HasPrefix(key, prefix) {
			return section + "." + strings.TrimPrefix(key, prefix)
		}
	}

	// Unrelated environment variables are dropped so they cannot collide
	// with config paths.
	return ""
}
