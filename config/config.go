/*
config.go - Server configuration

PURPOSE:
  Holds every tunable of the registry server. Values come from, in
  increasing priority:
  1. Default()
  2. an optional YAML file (Load)
  3. command-line flags bound in cmd/server

FILE FORMAT:
  port: 8080
  db: ban.db
  catalog: cog.json
  queue_path: queue.json
  queue_capacity: 100000
  recovery_interval: 5m
  tile_cache_ttl: 30s
  log_level: info
  allowed_origins: ["http://localhost:5173"]
  reconcile_workers: 8

  Durations use time.ParseDuration syntax. Unknown keys are rejected so
  typos surface at startup.

SEE ALSO:
  - cmd/server/main.go: flag overrides
*/
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the server configuration.
type Config struct {
	Port             int           `yaml:"port"`
	DB               string        `yaml:"db"`
	Catalog          string        `yaml:"catalog"`
	QueuePath        string        `yaml:"queue_path"`
	QueueCapacity    int           `yaml:"queue_capacity"`
	RecoveryInterval time.Duration `yaml:"recovery_interval"`
	TileCacheTTL     time.Duration `yaml:"tile_cache_ttl"`
	LogLevel         string        `yaml:"log_level"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
	ReconcileWorkers int           `yaml:"reconcile_workers"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Port:             8080,
		DB:               "ban.db",
		QueueCapacity:    100_000,
		RecoveryInterval: 5 * time.Minute,
		TileCacheTTL:     30 * time.Second,
		LogLevel:         "info",
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		ReconcileWorkers: 8,
	}
}

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Load reads path over the defaults. An empty path returns Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.DB == "" {
		return errors.New("db must be set")
	}
	if c.QueueCapacity < 0 {
		return fmt.Errorf("queue_capacity must not be negative, got %d", c.QueueCapacity)
	}
	if c.RecoveryInterval < 0 || c.TileCacheTTL < 0 {
		return errors.New("durations must not be negative")
	}
	if c.ReconcileWorkers < 0 {
		return fmt.Errorf("reconcile_workers must not be negative, got %d", c.ReconcileWorkers)
	}
	for _, l := range validLogLevels {
		if l == c.LogLevel {
			return nil
		}
	}
	return fmt.Errorf("invalid log_level %q: must be one of %v", c.LogLevel, validLogLevels)
}
