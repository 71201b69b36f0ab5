package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 10*time.Second, cfg.Racer.DialIn())
	assert.Equal(t, 1500*time.Millisecond, cfg.Host.SettleDelay())
	assert.False(t, cfg.NATS.Enabled())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "practicetree.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
racer:
  name: Sam
  dial_in_ms: 10250
  rollout_ms: 12
host:
  clients: 2
nats:
  url: nats://broker:4222
`), 0o644))
	t.Setenv("CLIENTS", "1")
	t.Setenv("ROLLOUT_MS", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Sam", cfg.Racer.Name)
	assert.Equal(t, 10250*time.Millisecond, cfg.Racer.DialIn())
	assert.Equal(t, 12*time.Millisecond, cfg.Racer.Rollout())
	assert.Equal(t, 1, cfg.Host.Clients)
	assert.Equal(t, 8080, cfg.Host.Port)
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())

	js := cfg.NATS.JetStream()
	assert.True(t, cfg.NATS.Enabled())
	assert.Equal(t, "nats://broker:4222", js.URL)
	assert.Equal(t, "RACE_EVENTS", js.StreamName)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no clients", func(c *Config) { c.Host.Clients = 0 }, "clients"},
		{"too many clients", func(c *Config) { c.Host.Clients = 4 }, "clients"},
		{"zero dial-in", func(c *Config) { c.Racer.DialInMs = 0 }, "dial_in_ms"},
		{"zero settle delay", func(c *Config) { c.Host.SettleDelayMs = 0 }, "settle_delay_ms"},
		{"empty name", func(c *Config) { c.Racer.Name = "" }, "name"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestNegativeRolloutIsValid(t *testing.T) {
	cfg := Default()
	cfg.Racer.RolloutMs = -25
	require.NoError(t, cfg.Validate())
	assert.Equal(t, -25*time.Millisecond, cfg.Racer.Rollout())
}

func TestSaveKeepsRacerSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "practicetree.yaml")
	cfg := Default()
	cfg.Racer.Name = "Lee"
	cfg.Racer.DialInMs = 9870
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Racer, loaded.Racer)

	cfg.Racer.DialInMs = -5
	assert.Error(t, Save(path, cfg))
}
