// Soundkeep - Listening History Sync and Archive Ingestion
// Copyright 2026 Soundkeep contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundkeep/soundkeep

// Package config loads and validates application configuration.
//
// Configuration is layered with Koanf v2 (highest priority wins):
//
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables
//
// The configuration is read once at process start and never re-read
// mid-run.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root application configuration.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Spotify  SpotifyConfig  `koanf:"spotify"`
	Sync     SyncConfig     `koanf:"sync"`
	Import   ImportConfig   `koanf:"import"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// DatabaseConfig controls the DuckDB store.
type DatabaseConfig struct {
	// Path is the database file location. ":memory:" is accepted for tests.
	Path string `koanf:"path" validate:"required"`

	// MaxMemory caps DuckDB memory usage, e.g. "1GB".
	MaxMemory string `koanf:"max_memory"`

	// Threads sets DuckDB worker threads. 0 = runtime.NumCPU().
	Threads int `koanf:"threads" validate:"gte=0"`
}

// SpotifyConfig controls the external history API client.
type SpotifyConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`

	// BaseURL and TokenURL are overridable for tests.
	BaseURL  string `koanf:"base_url" validate:"required"`
	TokenURL string `koanf:"token_url" validate:"required"`

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration `koanf:"timeout"`

	// MaxConcurrent bounds in-flight outbound API calls across all users.
	MaxConcurrent int `koanf:"max_concurrent" validate:"gte=1"`

	// RetryAttempts is the retry ceiling for 429/5xx responses.
	RetryAttempts int `koanf:"retry_attempts" validate:"gte=0"`

	// RetryBaseDelay is the exponential backoff base (base * 2^attempt).
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`

	// RatePerSecond paces outbound requests client-side. 0 disables pacing.
	RatePerSecond float64 `koanf:"rate_per_second" validate:"gte=0"`
}

// SyncConfig controls the run loop and the per-user sync engines.
type SyncConfig struct {
	// Enabled turns the periodic sync loop on.
	Enabled bool `koanf:"enabled"`

	// InitialEnabled allows historical backfill for users that have not
	// completed it yet. When false, all eligible users are polled only.
	InitialEnabled bool `koanf:"initial_enabled"`

	// Interval between sync cycles.
	Interval time.Duration `koanf:"interval"`

	// Concurrency bounds concurrent per-user tasks within one cycle.
	Concurrency int `koanf:"concurrency" validate:"gte=1"`

	// MaxRequests caps API page fetches within one initial-sync invocation.
	MaxRequests int `koanf:"max_requests" validate:"gte=1"`

	// LookbackDays caps how far back initial sync pages. 0 = unlimited.
	LookbackDays int `koanf:"lookback_days" validate:"gte=0"`

	// PageSize is the history page size. The API caps this at 50.
	PageSize int `koanf:"page_size" validate:"gte=1,lte=50"`
}

// ImportConfig controls the archive import engine.
type ImportConfig struct {
	// Enabled turns the periodic pending-job scan on.
	Enabled bool `koanf:"enabled"`

	// Interval between pending-job scans.
	Interval time.Duration `koanf:"interval"`

	// BatchSize is the number of normalized records per upsert transaction.
	BatchSize int `koanf:"batch_size" validate:"gte=1"`

	// MaxRecords is a hard cap on records parsed from one archive.
	MaxRecords int `koanf:"max_records" validate:"gte=1"`

	// MaxFileSize is the archive size ceiling in bytes.
	MaxFileSize int64 `koanf:"max_file_size" validate:"gte=1"`
}

// ServerConfig controls the HTTP observability listener.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"gte=1,lte=65535"`
	Timeout time.Duration `koanf:"timeout"`
}

// LoggingConfig controls the zerolog global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Sync.Enabled && c.Spotify.ClientID == "" {
		return fmt.Errorf("sync.enabled requires spotify.client_id")
	}
	if c.Sync.Enabled && c.Spotify.ClientSecret == "" {
		return fmt.Errorf("sync.enabled requires spotify.client_secret")
	}
	return nil
}
