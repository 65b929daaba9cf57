package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/sightings/internal/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Minute, cfg.Session.Timeout.Std())
	assert.Equal(t, 5, cfg.Matcher.MaxCandidates)
	assert.True(t, cfg.Matcher.ExpandShortForm)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := writeFile(t, "sightings.yaml", `
log:
  level: debug
  format: json
nats:
  embedded: true
  prefix: fisker
session:
  timeout: 10m
  cleanup_schedule: "*/5 * * * *"
matcher:
  fisker_only: true
  registry_timeout: 500ms
queue:
  workers: 8
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.NATS.Embedded)
	assert.Equal(t, "fisker", cfg.NATS.Prefix)
	assert.Equal(t, 10*time.Minute, cfg.Session.Timeout.Std())
	assert.Equal(t, "*/5 * * * *", cfg.Session.CleanupSchedule)
	assert.True(t, cfg.Matcher.FiskerOnly)
	assert.Equal(t, 500*time.Millisecond, cfg.Matcher.RegistryTimeout.Std())
	assert.Equal(t, 8, cfg.Queue.Workers)
	// Untouched keys keep defaults.
	assert.Equal(t, 5, cfg.Queue.Burst)
	assert.Equal(t, 20, cfg.Session.DedupWindow)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeFile(t, "bad.yaml", "session:\n  timeout: soon\n")
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bad level", func(c *config.Config) { c.Log.Level = "verbose" }},
		{"bad format", func(c *config.Config) { c.Log.Format = "xml" }},
		{"no nats url", func(c *config.Config) { c.NATS.URL = "" }},
		{"wildcard prefix", func(c *config.Config) { c.NATS.Prefix = "a.*" }},
		{"no storage", func(c *config.Config) { c.Storage.Path = "" }},
		{"zero timeout", func(c *config.Config) { c.Session.Timeout = 0 }},
		{"bad schedule", func(c *config.Config) { c.Session.CleanupSchedule = "every minute" }},
		{"zero candidates", func(c *config.Config) { c.Matcher.MaxCandidates = 0 }},
		{"zero workers", func(c *config.Config) { c.Queue.Workers = 0 }},
		{"zero rate", func(c *config.Config) { c.Queue.Rate = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, config.ErrInvalidConfig)
		})
	}
}

func TestEmbeddedNATSNeedsNoURL(t *testing.T) {
	cfg := config.Default()
	cfg.NATS.URL = ""
	cfg.NATS.Embedded = true
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SIGHTINGS_LOG_LEVEL":              "warn",
		"SIGHTINGS_NATS_EMBEDDED":          "true",
		"SIGHTINGS_QUEUE_RATE":             "2.5",
		"SIGHTINGS_QUEUE_WORKERS":          "2",
		"SIGHTINGS_SESSION_TIMEOUT":        "1h",
		"SIGHTINGS_MATCHER_ACTIVE_ONLY":    "1",
		"SIGHTINGS_ADMIN_TOKEN":            "secret",
		"SIGHTINGS_MATCHER_MAX_CANDIDATES": "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := config.Default()
	require.NoError(t, config.ApplyEnv(&cfg, lookup))

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.NATS.Embedded)
	assert.InDelta(t, 2.5, cfg.Queue.Rate, 0.0001)
	assert.Equal(t, 2, cfg.Queue.Workers)
	assert.Equal(t, time.Hour, cfg.Session.Timeout.Std())
	assert.True(t, cfg.Matcher.ActiveOnly)
	assert.Equal(t, "secret", cfg.Admin.Token)
	assert.Equal(t, 5, cfg.Matcher.MaxCandidates)
}

func TestApplyEnvRejectsGarbage(t *testing.T) {
	lookup := func(k string) (string, bool) {
		if k == "SIGHTINGS_QUEUE_WORKERS" {
			return "many", true
		}
		return "", false
	}
	cfg := config.Default()
	err := config.ApplyEnv(&cfg, lookup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SIGHTINGS_QUEUE_WORKERS")
}

func TestLoadEffective(t *testing.T) {
	path := writeFile(t, "sightings.yaml", "storage:\n  path: /tmp/from-file\nqueue:\n  workers: 3\n")
	envFile := writeFile(t, ".env", "SIGHTINGS_QUEUE_WORKERS=6\n")
	t.Setenv("SIGHTINGS_QUEUE_WORKERS", "")
	require.NoError(t, os.Unsetenv("SIGHTINGS_QUEUE_WORKERS"))

	cfg, err := config.LoadEffective(path, envFile)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-file", cfg.Storage.Path)
	assert.Equal(t, 6, cfg.Queue.Workers)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := config.LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"k":"v"`)
}
