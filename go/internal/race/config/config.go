// Package config loads practice tree settings from a yaml file with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/practicetree/go/internal/race/publisher"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath   = "practicetree.yaml"
	MaxClients    = 3
	defaultDialMs = 10000
)

type Config struct {
	LogLevel string      `yaml:"log_level"`
	Racer    RacerConfig `yaml:"racer"`
	Host     HostConfig  `yaml:"host"`
	Join     JoinConfig  `yaml:"join"`
	NATS     NATSConfig  `yaml:"nats"`
}

// RacerConfig holds the settings a racer keeps between runs.
type RacerConfig struct {
	Name      string `yaml:"name"`
	DialInMs  int    `yaml:"dial_in_ms"`
	RolloutMs int    `yaml:"rollout_ms"`
}

type HostConfig struct {
	Name          string `yaml:"name"`
	Port          int    `yaml:"port"`
	Clients       int    `yaml:"clients"`
	SettleDelayMs int    `yaml:"settle_delay_ms"`
}

type JoinConfig struct {
	ServerURL string `yaml:"server_url"`
}

// NATSConfig enables the race event relay when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url"`
	Stream        string `yaml:"stream"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

func Default() Config {
	js := publisher.DefaultJetStreamConfig()
	return Config{
		LogLevel: "info",
		Racer: RacerConfig{
			Name:     "Default",
			DialInMs: defaultDialMs,
		},
		Host: HostConfig{
			Name:          "practice-tree",
			Port:          8080,
			Clients:       MaxClients,
			SettleDelayMs: 1500,
		},
		Join: JoinConfig{
			ServerURL: "http://localhost:8080",
		},
		NATS: NATSConfig{
			Stream:        js.StreamName,
			SubjectPrefix: js.SubjectPrefix,
		},
	}
}

// Path returns the settings file named by PRACTICETREE_CONFIG.
func Path() string {
	return getEnv("PRACTICETREE_CONFIG", DefaultPath)
}

// Load reads path over the defaults, applies environment overrides and validates the
// result. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg to path.
func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.Racer.Name = getEnv("RACER_NAME", c.Racer.Name)
	c.Racer.DialInMs = getEnvAsInt("DIAL_IN_MS", c.Racer.DialInMs)
	c.Racer.RolloutMs = getEnvAsInt("ROLLOUT_MS", c.Racer.RolloutMs)

	c.Host.Name = getEnv("HOST_NAME", c.Host.Name)
	c.Host.Port = getEnvAsInt("PORT", c.Host.Port)
	c.Host.Clients = getEnvAsInt("CLIENTS", c.Host.Clients)
	c.Host.SettleDelayMs = getEnvAsInt("SETTLE_DELAY_MS", c.Host.SettleDelayMs)

	c.Join.ServerURL = getEnv("SERVER_URL", c.Join.ServerURL)

	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.Stream = getEnv("NATS_STREAM", c.NATS.Stream)
	c.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", c.NATS.SubjectPrefix)
}

func (c Config) Validate() error {
	var errs []error
	if c.Racer.Name == "" {
		errs = append(errs, errors.New("racer name is empty"))
	}
	if c.Racer.DialInMs <= 0 {
		errs = append(errs, fmt.Errorf("dial_in_ms must be positive, got %d", c.Racer.DialInMs))
	}
	if c.Host.Clients < 1 || c.Host.Clients > MaxClients {
		errs = append(errs, fmt.Errorf("clients must be between 1 and %d, got %d", MaxClients, c.Host.Clients))
	}
	if c.Host.SettleDelayMs <= 0 {
		errs = append(errs, fmt.Errorf("settle_delay_ms must be positive, got %d", c.Host.SettleDelayMs))
	}
	if c.Host.Port <= 0 || c.Host.Port > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %d", c.Host.Port))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	return errors.Join(errs...)
}

// Level returns the configured zerolog level.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func (r RacerConfig) DialIn() time.Duration  { return time.Duration(r.DialInMs) * time.Millisecond }
func (r RacerConfig) Rollout() time.Duration { return time.Duration(r.RolloutMs) * time.Millisecond }

func (h HostConfig) SettleDelay() time.Duration {
	return time.Duration(h.SettleDelayMs) * time.Millisecond
}

func (n NATSConfig) Enabled() bool { return n.URL != "" }

// JetStream returns publisher settings for this NATS config.
func (n NATSConfig) JetStream() publisher.JetStreamConfig {
	js := publisher.DefaultJetStreamConfig()
	js.URL = n.URL
	if n.Stream != "" {
		js.StreamName = n.Stream
	}
	if n.SubjectPrefix != "" {
		js.SubjectPrefix = n.SubjectPrefix
	}
	return js
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
