// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads perfscope's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/perfscope/pkg/logging"
	"github.com/AleutianAI/perfscope/services/perfscope/event"
	"github.com/AleutianAI/perfscope/services/perfscope/handlers"
	"github.com/AleutianAI/perfscope/services/perfscope/lantern"
	pbadger "github.com/AleutianAI/perfscope/services/perfscope/storage/badger"
	"github.com/AleutianAI/perfscope/services/perfscope/telemetry"
)

// ErrInvalidConfig wraps validation failures.
var ErrInvalidConfig = errors.New("invalid configuration")

// Environment variables that override file values.
const (
	EnvStoragePath   = "PERFSCOPE_STORAGE_PATH"
	EnvLogLevel      = "PERFSCOPE_LOG_LEVEL"
	EnvServerAddress = "PERFSCOPE_SERVER_ADDRESS"
	EnvChunkSize     = "PERFSCOPE_CHUNK_SIZE"
)

var validate = validator.New()

// Config is the root of perfscope.yaml.
type Config struct {
	Engine    EngineConfig        `yaml:"engine"`
	Lantern   lantern.Settings    `yaml:"lantern"`
	Handlers  handlers.UserConfig `yaml:"handlers"`
	Storage   StorageConfig       `yaml:"storage"`
	Telemetry telemetry.Config    `yaml:"telemetry"`
	Logging   LoggingConfig       `yaml:"logging"`
	Server    ServerConfig        `yaml:"server"`
}

// EngineConfig tunes parsing and insights.
type EngineConfig struct {
	// ChunkSize is the number of events between progress notifications.
	ChunkSize int `yaml:"chunk_size" validate:"gte=1"`

	// SignificanceThresholdMs is how long the pre-navigation window must be
	// to get its own insight set.
	SignificanceThresholdMs float64 `yaml:"significance_threshold_ms" validate:"gte=0"`

	// CacheMaxEntries bounds the computed-artifact cache. Zero uses the cache default.
	CacheMaxEntries int `yaml:"cache_max_entries" validate:"gte=0"`
}

// StorageConfig configures the session store.
type StorageConfig struct {
	Path       string        `yaml:"path" validate:"required_without=InMemory"`
	InMemory   bool          `yaml:"in_memory"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// ServerConfig configures perfscope serve.
type ServerConfig struct {
	Address string `yaml:"address" validate:"required"`

	// MaxUploadBytes bounds POSTed trace bodies.
	MaxUploadBytes int64 `yaml:"max_upload_bytes" validate:"gte=1"`

	// UploadsPerMinute limits trace uploads. Zero is unlimited.
	UploadsPerMinute float64 `yaml:"uploads_per_minute" validate:"gte=0"`
	UploadBurst      int     `yaml:"upload_burst" validate:"gte=0"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Engine: EngineConfig{
			ChunkSize:               50_000,
			SignificanceThresholdMs: 50,
			CacheMaxEntries:         1024,
		},
		Lantern: lantern.DefaultSettings(),
		Handlers: handlers.UserConfig{
			LongTaskThresholdMs: handlers.DefaultLongTaskThreshold.Milli(),
		},
		Storage: StorageConfig{
			Path:       filepath.Join(home, ".perfscope", "sessions"),
			SyncWrites: true,
			GCInterval: 5 * time.Minute,
		},
		Telemetry: telemetry.DefaultConfig(),
		Logging: LoggingConfig{
			Level: "info",
			Dir:   filepath.Join(home, ".perfscope", "logs"),
		},
		Server: ServerConfig{
			Address:          "127.0.0.1:12250",
			MaxUploadBytes:   512 << 20,
			UploadsPerMinute: 30,
			UploadBurst:      5,
		},
	}
}

// DefaultPath returns ~/.perfscope/perfscope.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".perfscope", "perfscope.yaml"), nil
}

// Load reads the configuration at path, creating it with defaults on first
// run. An empty path means DefaultPath. Keys missing from the file keep
// their defaults. Environment overrides are applied before validation.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		slog.Info("first run detected, creating the config", slog.String("path", path))
		if err := createDefault(path); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvStoragePath); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvServerAddress); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv(EnvChunkSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, EnvChunkSize, v)
		}
		c.Engine.ChunkSize = n
	}
	return nil
}

// Validate checks every section's constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// SignificanceThreshold returns the pre-navigation window threshold.
func (c *Config) SignificanceThreshold() event.Micro {
	return event.FromMilli(c.Engine.SignificanceThresholdMs)
}

// LogLevel returns the configured logging level.
func (c *Config) LogLevel() logging.Level {
	return logging.ParseLevel(c.Logging.Level)
}

// BadgerConfig returns the store configuration.
func (c *Config) BadgerConfig(logger *slog.Logger) pbadger.Config {
	cfg := pbadger.InMemoryConfig()
	if !c.Storage.InMemory {
		cfg = pbadger.DefaultConfig(c.Storage.Path)
		cfg.SyncWrites = c.Storage.SyncWrites
		cfg.GCInterval = c.Storage.GCInterval
	}
	cfg.Logger = logger
	return cfg
}
