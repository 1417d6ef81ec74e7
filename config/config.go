// Package config loads server configuration from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Transport names accepted by Config.Transport.
const (
	TransportStdIO = "stdio"
	TransportWS    = "ws"
	TransportSSE   = "sse"
)

// Duration wraps time.Duration so YAML and environment values can use the
// "10s" notation.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds the server configuration. Environment variables override
// values from the YAML file.
type Config struct {
	// Transport selects how clients connect: stdio, ws or sse.
	Transport string `yaml:"transport" env:"RUST_MCP_TRANSPORT"`
	// Listen is the address for the ws and sse transports.
	Listen string `yaml:"listen" env:"RUST_MCP_LISTEN"`
	// AnalyzerPath is the path to the external analyzer binary.
	AnalyzerPath string `yaml:"analyzer_path" env:"RUST_MCP_ANALYZER_PATH"`
	// AnalyzerTimeout bounds one analysis run.
	AnalyzerTimeout Duration `yaml:"analyzer_timeout" env:"RUST_MCP_ANALYZER_TIMEOUT"`
	// HistorySize bounds the in-memory analysis history.
	HistorySize int `yaml:"history_size" env:"RUST_MCP_HISTORY_SIZE"`
	// LogLevel is one of debug, info, warn or error.
	LogLevel string `yaml:"log_level" env:"RUST_MCP_LOG_LEVEL"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		Transport:       TransportStdIO,
		Listen:          "localhost:8080",
		AnalyzerTimeout: Duration(10 * time.Second),
		HistorySize:     100,
		LogLevel:        "info",
	}
}

// Load reads the YAML file at path when path is non-empty, then applies
// environment overrides, then validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Transport {
	case TransportStdIO, TransportWS, TransportSSE:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.Transport != TransportStdIO && c.Listen == "" {
		return fmt.Errorf("transport %s requires a listen address", c.Transport)
	}
	if c.AnalyzerTimeout < 0 {
		return fmt.Errorf("analyzer_timeout must not be negative")
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
