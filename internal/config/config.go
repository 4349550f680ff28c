// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides typed configuration for the TableVine client core.
//
// Supports TOML and JSON formats with sensible defaults, environment
// variable overrides, and clamped validation: out-of-range values are pulled
// back to the nearest valid bound with a logged warning rather than
// rejecting the file.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/tablevine/tablevine-core/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete client-core configuration.
type Config struct {
	Cache    CacheConfig    `toml:"cache" json:"cache"`
	Session  SessionConfig  `toml:"session" json:"session"`
	Security SecurityConfig `toml:"security" json:"security"`
	API      APIConfig      `toml:"api" json:"api"`
	Storage  StorageConfig  `toml:"storage" json:"storage"`
}

// CacheConfig tunes the in-memory data cache.
type CacheConfig struct {
	// MaxEntries is the eviction ceiling. Clamped to 10-10000.
	MaxEntries int `toml:"max_entries" json:"max_entries"`
	// DefaultTTLSecs is the default entry lifetime in seconds.
	DefaultTTLSecs int `toml:"default_ttl_secs" json:"default_ttl_secs"`
}

// SessionConfig tunes the session lifecycle.
type SessionConfig struct {
	// InactivityTimeoutSecs logs the user out after this much idle time.
	// Clamped to 60-7200 seconds (1-120 minutes).
	InactivityTimeoutSecs int `toml:"inactivity_timeout_secs" json:"inactivity_timeout_secs"`
	// WarningSecs is how long before logout the warning fires.
	WarningSecs int `toml:"warning_secs" json:"warning_secs"`
	// CheckIntervalSecs is the idle evaluation period.
	CheckIntervalSecs int `toml:"check_interval_secs" json:"check_interval_secs"`
	// RefreshIntervalSecs is the token refresh period.
	RefreshIntervalSecs int `toml:"refresh_interval_secs" json:"refresh_interval_secs"`
	// AutoLogout arms the inactivity machine.
	AutoLogout bool `toml:"auto_logout" json:"auto_logout"`
	// AutoRefresh starts the periodic token refresher.
	AutoRefresh bool `toml:"auto_refresh" json:"auto_refresh"`
}

// SecurityConfig tunes session security and auditing.
type SecurityConfig struct {
	// SessionMaxAgeHours expires session records older than this.
	SessionMaxAgeHours int `toml:"session_max_age_hours" json:"session_max_age_hours"`
	// AuditCapacity is the audit ring buffer size. Clamped to 10-1000.
	AuditCapacity int `toml:"audit_capacity" json:"audit_capacity"`
	// IPLookupURL is the public-IP echo endpoint ("" disables lookup).
	IPLookupURL string `toml:"ip_lookup_url" json:"ip_lookup_url"`
}

// APIConfig tunes the backend HTTP client.
type APIConfig struct {
	// BaseURL is the backend root, e.g. "https://api.tablevine.io".
	BaseURL string `toml:"base_url" json:"base_url"`
	// Token is a static bearer token ("" = unauthenticated).
	Token string `toml:"token" json:"token"`
	// TimeoutMs bounds each request attempt. Clamped to 100-60000.
	TimeoutMs int `toml:"timeout_ms" json:"timeout_ms"`
	// Retries after the first attempt. Clamped to 0-5.
	Retries int `toml:"retries" json:"retries"`
	// RetryDelayMs is the fixed pause between attempts.
	RetryDelayMs int `toml:"retry_delay_ms" json:"retry_delay_ms"`
	// FallbackToDemo serves demo-mode responses when the backend is down.
	FallbackToDemo bool `toml:"fallback_to_demo" json:"fallback_to_demo"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is "memory", "file", or "sqlite".
	Backend string `toml:"backend" json:"backend"`
	// Path is the file or database path (file and sqlite backends).
	Path string `toml:"path" json:"path"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			MaxEntries:     100,
			DefaultTTLSecs: 300,
		},
		Session: SessionConfig{
			InactivityTimeoutSecs: 1800,
			WarningSecs:           300,
			CheckIntervalSecs:     60,
			RefreshIntervalSecs:   2700,
			AutoLogout:            true,
			AutoRefresh:           true,
		},
		Security: SecurityConfig{
			SessionMaxAgeHours: 24,
			AuditCapacity:      100,
			IPLookupURL:        "https://api.ipify.org?format=json",
		},
		API: APIConfig{
			BaseURL:        "https://api.tablevine.io",
			TimeoutMs:      3000,
			Retries:        1,
			RetryDelayMs:   500,
			FallbackToDemo: true,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
	}
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads configuration from path (TOML, or JSON for .json files) over
// the defaults, applies environment overrides, and validates. A missing file
// yields defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if strings.HasSuffix(path, ".json") {
				if err := loadJSON(cfg, path); err != nil {
					return nil, fmt.Errorf("loading JSON config %s: %w", path, err)
				}
			} else {
				if err := loadTOML(cfg, path); err != nil {
					return nil, fmt.Errorf("loading TOML config %s: %w", path, err)
				}
			}
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("decoding TOML: %w", err)
	}
	return nil
}

func loadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("decoding JSON: %w", err)
	}
	return nil
}

// Save writes the configuration to path (TOML, or JSON for .json files).
// Written atomically with owner-only permissions.
func Save(cfg *Config, path string) error {
	var data []byte
	if strings.HasSuffix(path, ".json") {
		var err error
		data, err = json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
	} else {
		var buf strings.Builder
		buf.WriteString("# TableVine client configuration\n\n")
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		data = []byte(buf.String())
	}

	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// ApplyEnvOverrides applies TABLEVINE_* environment variables over the
// loaded values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("TABLEVINE_API_BASE_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("TABLEVINE_API_TOKEN"); v != "" {
		c.API.Token = v
	}
	if v := os.Getenv("TABLEVINE_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("TABLEVINE_SESSION_TIMEOUT_SECS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.Session.InactivityTimeoutSecs = secs
		} else {
			log.Printf("CONFIG_WARN: ignoring non-numeric TABLEVINE_SESSION_TIMEOUT_SECS=%q", v)
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// clampInt pulls *v into [lo, hi], logging a warning when it moves.
func clampInt(field string, v *int, lo, hi int) {
	switch {
	case *v < lo:
		log.Printf("CONFIG_WARN: %s=%d below minimum, clamped to %d", field, *v, lo)
		*v = lo
	case *v > hi:
		log.Printf("CONFIG_WARN: %s=%d above maximum, clamped to %d", field, *v, hi)
		*v = hi
	}
}

// Validate clamps numeric fields into their valid ranges and rejects values
// that cannot be repaired (bad URLs, unknown backends).
func (c *Config) Validate() error {
	clampInt("cache.max_entries", &c.Cache.MaxEntries, 10, 10000)
	clampInt("cache.default_ttl_secs", &c.Cache.DefaultTTLSecs, 5, 86400)

	clampInt("session.inactivity_timeout_secs", &c.Session.InactivityTimeoutSecs, 60, 7200)
	clampInt("session.check_interval_secs", &c.Session.CheckIntervalSecs, 5, 600)
	clampInt("session.refresh_interval_secs", &c.Session.RefreshIntervalSecs, 60, 86400)
	// The warning window must fit inside the timeout.
	clampInt("session.warning_secs", &c.Session.WarningSecs, 30, c.Session.InactivityTimeoutSecs-30)

	clampInt("security.session_max_age_hours", &c.Security.SessionMaxAgeHours, 1, 720)
	clampInt("security.audit_capacity", &c.Security.AuditCapacity, 10, 1000)

	clampInt("api.timeout_ms", &c.API.TimeoutMs, 100, 60000)
	clampInt("api.retries", &c.API.Retries, 0, 5)
	clampInt("api.retry_delay_ms", &c.API.RetryDelayMs, 0, 10000)

	if c.API.BaseURL != "" {
		u, err := url.Parse(c.API.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("api.base_url: %q is not a valid http(s) URL", c.API.BaseURL)
		}
	}

	switch c.Storage.Backend {
	case "", "memory":
		c.Storage.Backend = "memory"
	case "file", "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path: required for backend %q", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("storage.backend: %q is not one of memory, file, sqlite", c.Storage.Backend)
	}

	return nil
}
