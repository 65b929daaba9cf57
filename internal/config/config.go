// Package config loads runtime settings from a YAML file, a .env file, and
// SIGHTINGS_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Duration is a time.Duration that reads from YAML strings like "30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// NATSConfig configures the message transport. Host and Port apply only to
// the embedded server.
type NATSConfig struct {
	URL      string `yaml:"url"`
	Prefix   string `yaml:"prefix"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Embedded bool   `yaml:"embedded"`
}

// StorageConfig locates the Pebble database.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// SessionConfig controls session lifetime.
type SessionConfig struct {
	CleanupSchedule string   `yaml:"cleanup_schedule"`
	Timeout         Duration `yaml:"timeout"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
	DedupWindow     int      `yaml:"dedup_window"`
}

// MatcherConfig controls plate resolution.
type MatcherConfig struct {
	RegistryTimeout Duration `yaml:"registry_timeout"`
	MaxCandidates   int      `yaml:"max_candidates"`
	FiskerOnly      bool     `yaml:"fisker_only"`
	ActiveOnly      bool     `yaml:"active_only"`
	ExpandShortForm bool     `yaml:"expand_short_form"`
}

// QueueConfig sizes the worker pool and per-identity rate limits.
type QueueConfig struct {
	Workers int     `yaml:"workers"`
	Rate    float64 `yaml:"rate"`
	Burst   int     `yaml:"burst"`
}

// AdminConfig configures the operator HTTP surface.
type AdminConfig struct {
	Addr  string `yaml:"addr"`
	Token string `yaml:"token"`
}

// Config is the full runtime configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	NATS    NATSConfig    `yaml:"nats"`
	Storage StorageConfig `yaml:"storage"`
	Session SessionConfig `yaml:"session"`
	Matcher MatcherConfig `yaml:"matcher"`
	Queue   QueueConfig   `yaml:"queue"`
	Admin   AdminConfig   `yaml:"admin"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		NATS: NATSConfig{
			URL:    "nats://127.0.0.1:4222",
			Prefix: "sightings",
			Host:   "127.0.0.1",
			Port:   4222,
		},
		Storage: StorageConfig{Path: "./.sightings"},
		Session: SessionConfig{
			Timeout:         Duration(30 * time.Minute),
			CleanupInterval: Duration(5 * time.Minute),
			DedupWindow:     20,
		},
		Matcher: MatcherConfig{
			RegistryTimeout: Duration(2 * time.Second),
			MaxCandidates:   5,
			ExpandShortForm: true,
		},
		Queue: QueueConfig{Workers: 4, Rate: 1, Burst: 5},
		Admin: AdminConfig{Addr: "127.0.0.1:8080"},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that every setting is usable.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	check(c.Log.Format == "text" || c.Log.Format == "json", "log.format %q must be text or json", c.Log.Format)
	check(c.NATS.Embedded || c.NATS.URL != "", "nats.url is required unless nats.embedded is set")
	check(!c.NATS.Embedded || c.NATS.Port == -1 || (c.NATS.Port > 0 && c.NATS.Port < 65536), "nats.port %d is out of range", c.NATS.Port)
	check(c.NATS.Prefix != "" && !strings.ContainsAny(c.NATS.Prefix, " *>"), "nats.prefix %q is not a valid subject token", c.NATS.Prefix)
	check(c.Storage.Path != "", "storage.path is required")
	check(c.Session.Timeout > 0, "session.timeout must be positive")
	check(c.Session.DedupWindow > 0, "session.dedup_window must be positive")
	if c.Session.CleanupSchedule != "" {
		check(gronx.IsValid(c.Session.CleanupSchedule), "session.cleanup_schedule %q is not a valid cron expression", c.Session.CleanupSchedule)
	} else {
		check(c.Session.CleanupInterval > 0, "session.cleanup_interval must be positive")
	}
	check(c.Matcher.MaxCandidates > 0, "matcher.max_candidates must be positive")
	check(c.Matcher.RegistryTimeout > 0, "matcher.registry_timeout must be positive")
	check(c.Queue.Workers > 0, "queue.workers must be positive")
	check(c.Queue.Rate > 0, "queue.rate must be positive")
	check(c.Queue.Burst > 0, "queue.burst must be positive")

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
