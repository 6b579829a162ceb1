// Package config loads the YAML configuration of a qsync server.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen        string `yaml:"listen" validate:"required,hostname_port"`
	MetricsListen string `yaml:"metrics_listen" validate:"omitempty,hostname_port"`

	SyncPath   string `yaml:"sync_path" validate:"required,startswith=/"`
	StreamPath string `yaml:"stream_path" validate:"required,startswith=/,nefield=SyncPath"`

	CharacterEncoding string        `yaml:"character_encoding" validate:"required"`
	DebugMessages     bool          `yaml:"debug_messages"`
	SessionTimeout    time.Duration `yaml:"session_timeout" validate:"gt=0"`
	MaxMessageBytes   int64         `yaml:"max_message_bytes" validate:"gt=0"`

	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogJSON  bool   `yaml:"log_json"`
}

var validate = validator.New()

func Default() Config {
	return Config{
		Listen:            "localhost:8080",
		SyncPath:          "/sync",
		StreamPath:        "/stream",
		CharacterEncoding: "UTF-8",
		SessionTimeout:    30 * time.Minute,
		MaxMessageBytes:   1 << 20,
		LogLevel:          "info",
	}
}

// Load reads the configuration file at path. Fields missing from the file
// keep their defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	return Parse(data)
}

// Parse is like Load, for configuration that has already been read.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse the config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewLogger returns a logger writing to stderr in the configured format.
func (c Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
