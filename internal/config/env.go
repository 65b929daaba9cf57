package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SIGHTINGS_"

// LoadEffective loads the .env file when present, then the YAML file at
// path, then applies environment overrides and validates the result.
func LoadEffective(path, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from SIGHTINGS_* variables read through lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = b
		return nil
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
		return nil
	}
	duration := func(key string, dst *Duration) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = Duration(d)
		return nil
	}

	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("NATS_URL", &cfg.NATS.URL)
	str("NATS_PREFIX", &cfg.NATS.Prefix)
	str("STORAGE_PATH", &cfg.Storage.Path)
	str("SESSION_CLEANUP_SCHEDULE", &cfg.Session.CleanupSchedule)
	str("ADMIN_ADDR", &cfg.Admin.Addr)
	str("ADMIN_TOKEN", &cfg.Admin.Token)

	if v, ok := lookup(EnvPrefix + "QUEUE_RATE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sQUEUE_RATE: %w", EnvPrefix, err)
		}
		cfg.Queue.Rate = f
	}

	for _, apply := range []func() error{
		func() error { return boolean("NATS_EMBEDDED", &cfg.NATS.Embedded) },
		func() error { return boolean("MATCHER_FISKER_ONLY", &cfg.Matcher.FiskerOnly) },
		func() error { return boolean("MATCHER_ACTIVE_ONLY", &cfg.Matcher.ActiveOnly) },
		func() error { return boolean("MATCHER_EXPAND_SHORT_FORM", &cfg.Matcher.ExpandShortForm) },
		func() error { return integer("MATCHER_MAX_CANDIDATES", &cfg.Matcher.MaxCandidates) },
		func() error { return integer("SESSION_DEDUP_WINDOW", &cfg.Session.DedupWindow) },
		func() error { return integer("QUEUE_WORKERS", &cfg.Queue.Workers) },
		func() error { return integer("QUEUE_BURST", &cfg.Queue.Burst) },
		func() error { return duration("SESSION_TIMEOUT", &cfg.Session.Timeout) },
		func() error { return duration("SESSION_CLEANUP_INTERVAL", &cfg.Session.CleanupInterval) },
		func() error { return duration("MATCHER_REGISTRY_TIMEOUT", &cfg.Matcher.RegistryTimeout) },
	} {
		if err := apply(); err != nil {
			return err
		}
	}
	return nil
}
