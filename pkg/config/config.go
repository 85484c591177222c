// Package config loads bridge configuration from the environment and the
// config directory. All tunables have built-in defaults so the server runs
// with an empty environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the top-level bridge configuration.
type Config struct {
	// Port is the HTTP listen port (BRIDGE_PORT).
	Port int

	// TrustProxy controls gin's trusted-proxy handling (TRUST_PROXY):
	// "true", "false", an integer hop count, or a comma-separated CIDR list.
	TrustProxy string

	// Production is true when NODE_ENV=production.
	Production bool

	// LogLevel is the slog level (LOG_LEVEL: debug/info/warn/error).
	LogLevel slog.Level

	// TLS holds the optional HTTPS wiring.
	TLS TLSConfig

	// Queue holds queue manager tunables.
	Queue QueueConfig

	// Scheduler holds pipeline cadence tunables.
	Scheduler SchedulerConfig

	// ActionLeaseTTL enables the pending-action watchdog when > 0.
	// Zero (the default) means leases never expire automatically.
	ActionLeaseTTL time.Duration

	// Prompts are the opaque prompt strings loaded at process start.
	Prompts Prompts
}

// TLSConfig wires optional HTTPS (BRIDGE_USE_HTTPS + BRIDGE_SSL_*).
// If HTTPS is requested but key/cert are missing, the server logs a warning
// and falls back to HTTP.
type TLSConfig struct {
	Enabled    bool
	KeyPath    string
	CertPath   string
	CAPath     string
	Passphrase string
}

// Usable reports whether the TLS config is complete enough to serve HTTPS.
func (t TLSConfig) Usable() bool {
	return t.Enabled && t.KeyPath != "" && t.CertPath != ""
}

// QueueConfig contains queue manager tunables.
type QueueConfig struct {
	// LeaseTTL is how long a pulled item stays invisible before the sweep
	// reclaims it (QUEUE_LEASE_TTL).
	LeaseTTL time.Duration

	// MaxAttempts is the retry budget before an item is marked failed
	// (QUEUE_MAX_ATTEMPTS).
	MaxAttempts int

	// SweepInterval is how often expired leases are reclaimed.
	SweepInterval time.Duration
}

// SchedulerConfig contains pipeline cadence tunables.
type SchedulerConfig struct {
	// Cadence is the tick interval (SCHEDULER_CADENCE_MS).
	Cadence time.Duration

	// MaxPerTick caps how many items each stage may advance per tick.
	PlannerMaxPerTick  int
	ExecutorMaxPerTick int
	AuditorMaxPerTick  int
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:       3001,
		TrustProxy: "false",
		LogLevel:   slog.LevelDebug,
		Queue: QueueConfig{
			LeaseTTL:      30 * time.Second,
			MaxAttempts:   3,
			SweepInterval: 5 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Cadence:            250 * time.Millisecond,
			PlannerMaxPerTick:  1,
			ExecutorMaxPerTick: 2,
			AuditorMaxPerTick:  2,
		},
	}
}

// LoadFromEnv builds a Config from the environment, starting from defaults.
// configDir is where prompt files are looked up; it may be empty.
func LoadFromEnv(configDir string) (*Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("BRIDGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Port = port
		} else {
			slog.Warn("Invalid BRIDGE_PORT, using default", "value", v, "default", cfg.Port)
		}
	}
	if v := os.Getenv("TRUST_PROXY"); v != "" {
		cfg.TrustProxy = v
	}

	cfg.Production = os.Getenv("NODE_ENV") == "production"
	cfg.LogLevel = parseLogLevel(os.Getenv("LOG_LEVEL"), cfg.Production)

	cfg.TLS = TLSConfig{
		Enabled:    os.Getenv("BRIDGE_USE_HTTPS") == "true",
		KeyPath:    os.Getenv("BRIDGE_SSL_KEY_PATH"),
		CertPath:   os.Getenv("BRIDGE_SSL_CERT_PATH"),
		CAPath:     os.Getenv("BRIDGE_SSL_CA_PATH"),
		Passphrase: os.Getenv("BRIDGE_SSL_PASSPHRASE"),
	}

	if d, ok := envDuration("QUEUE_LEASE_TTL"); ok {
		cfg.Queue.LeaseTTL = d
	}
	if v := os.Getenv("QUEUE_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Queue.MaxAttempts = n
		}
	}
	if v := os.Getenv("SCHEDULER_CADENCE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Scheduler.Cadence = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("PLANNER_MAX_PER_TICK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Scheduler.PlannerMaxPerTick = n
		}
	}
	if v := os.Getenv("EXECUTOR_MAX_PER_TICK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Scheduler.ExecutorMaxPerTick = n
		}
	}
	if v := os.Getenv("AUDITOR_MAX_PER_TICK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Scheduler.AuditorMaxPerTick = n
		}
	}
	if d, ok := envDuration("ACTION_LEASE_TTL"); ok {
		cfg.ActionLeaseTTL = d
	}

	prompts, err := LoadPrompts(configDir)
	if err != nil {
		return nil, err
	}
	cfg.Prompts = prompts

	return cfg, nil
}

// TrustedProxies converts the TRUST_PROXY value into the proxy list gin
// expects: nil means trust all, an empty slice means trust none.
func (c *Config) TrustedProxies() []string {
	switch strings.TrimSpace(c.TrustProxy) {
	case "", "false", "0":
		return []string{}
	case "true":
		return nil
	}
	if n, err := strconv.Atoi(c.TrustProxy); err == nil && n > 0 {
		// Hop counts are an upstream-proxy convention; gin has no direct
		// equivalent, so a positive count trusts the local ranges.
		return []string{"127.0.0.1", "::1"}
	}
	parts := strings.Split(c.TrustProxy, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLogLevel(raw string, production bool) slog.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	if production {
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, true
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	slog.Warn("Invalid duration value", "key", key, "value", v)
	return 0, false
}
