/*
Package config resolves runtime configuration for the point engine.

RESOLUTION ORDER:
  defaults -> YAML file -> environment. File and environment are both
  optional so the server starts with zero configuration for local runs.

SEE ALSO:
  - cmd/server/main.go: flag handling and wiring
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/warp/point-engine/point"
	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration.
type Config struct {
	Port   int
	DBPath string

	// RedisURL selects the shared KV backend. Empty means in-process
	// memory, which is only safe for a single instance.
	RedisURL string

	LockMaxAttempts int
	LockWaitPerTry  time.Duration
	LockLease       time.Duration

	IdempotencyInflightTTL time.Duration
	IdempotencyResultTTL   time.Duration

	BalanceCacheTTL time.Duration

	Earn point.EarnPolicy
}

// configFile mirrors the YAML schema. Separate from Config so zero values
// can mean "not set".
type configFile struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Lock struct {
		MaxAttempts  int `yaml:"max_attempts"`
		WaitPerTryMS int `yaml:"wait_per_try_ms"`
		LeaseMS      int `yaml:"lease_ms"`
	} `yaml:"lock"`
	Idempotency struct {
		InflightTTLSeconds int `yaml:"inflight_ttl_seconds"`
		ResultTTLHours     int `yaml:"result_ttl_hours"`
	} `yaml:"idempotency"`
	Cache struct {
		BalanceTTLSeconds int `yaml:"balance_ttl_seconds"`
	} `yaml:"cache"`
	Earn struct {
		MinAmount             int64 `yaml:"min_amount"`
		MaxAmount             int64 `yaml:"max_amount"`
		MaxBalance            int64 `yaml:"max_balance"`
		DefaultExpirationDays int   `yaml:"default_expiration_days"`
		MinExpirationDays     int   `yaml:"min_expiration_days"`
		MaxExpirationDays     int   `yaml:"max_expiration_days"`
	} `yaml:"earn"`
}

// Load resolves configuration. An empty path skips the file layer; a named
// but missing file is an error.
func Load(path string) (Config, error) {
	cfg := Config{
		Port:                   8080,
		DBPath:                 "point.db",
		LockMaxAttempts:        4,
		LockWaitPerTry:         3 * time.Second,
		LockLease:              5 * time.Second,
		IdempotencyInflightTTL: 30 * time.Second,
		IdempotencyResultTTL:   24 * time.Hour,
		BalanceCacheTTL:        30 * time.Second,
		Earn:                   point.DefaultEarnPolicy(),
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		var f configFile
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
		applyFile(&cfg, f)
	}

	cfg.Port = envInt("PORT", cfg.Port)
	cfg.DBPath = envOrDefault("DB_PATH", cfg.DBPath)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, f configFile) {
	if f.Server.Port > 0 {
		cfg.Port = f.Server.Port
	}
	if f.Database.Path != "" {
		cfg.DBPath = f.Database.Path
	}
	if f.Redis.URL != "" {
		cfg.RedisURL = f.Redis.URL
	}
	if f.Lock.MaxAttempts > 0 {
		cfg.LockMaxAttempts = f.Lock.MaxAttempts
	}
	if f.Lock.WaitPerTryMS > 0 {
		cfg.LockWaitPerTry = time.Duration(f.Lock.WaitPerTryMS) * time.Millisecond
	}
	if f.Lock.LeaseMS > 0 {
		cfg.LockLease = time.Duration(f.Lock.LeaseMS) * time.Millisecond
	}
	if f.Idempotency.InflightTTLSeconds > 0 {
		cfg.IdempotencyInflightTTL = time.Duration(f.Idempotency.InflightTTLSeconds) * time.Second
	}
	if f.Idempotency.ResultTTLHours > 0 {
		cfg.IdempotencyResultTTL = time.Duration(f.Idempotency.ResultTTLHours) * time.Hour
	}
	if f.Cache.BalanceTTLSeconds > 0 {
		cfg.BalanceCacheTTL = time.Duration(f.Cache.BalanceTTLSeconds) * time.Second
	}
	if f.Earn.MinAmount > 0 {
		cfg.Earn.MinAmount = point.Amount(f.Earn.MinAmount)
	}
	if f.Earn.MaxAmount > 0 {
		cfg.Earn.MaxAmount = point.Amount(f.Earn.MaxAmount)
	}
	if f.Earn.MaxBalance > 0 {
		cfg.Earn.MaxBalance = point.Amount(f.Earn.MaxBalance)
	}
	if f.Earn.DefaultExpirationDays > 0 {
		cfg.Earn.DefaultExpirationDays = f.Earn.DefaultExpirationDays
	}
	if f.Earn.MinExpirationDays > 0 {
		cfg.Earn.MinExpirationDays = f.Earn.MinExpirationDays
	}
	if f.Earn.MaxExpirationDays > 0 {
		cfg.Earn.MaxExpirationDays = f.Earn.MaxExpirationDays
	}
}

func validate(cfg Config) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Earn.MinAmount > cfg.Earn.MaxAmount {
		return fmt.Errorf("earn min_amount %d exceeds max_amount %d", cfg.Earn.MinAmount, cfg.Earn.MaxAmount)
	}
	if cfg.Earn.MinExpirationDays > cfg.Earn.MaxExpirationDays {
		return fmt.Errorf("earn min_expiration_days %d exceeds max_expiration_days %d", cfg.Earn.MinExpirationDays, cfg.Earn.MaxExpirationDays)
	}
	if cfg.Earn.DefaultExpirationDays < cfg.Earn.MinExpirationDays || cfg.Earn.DefaultExpirationDays > cfg.Earn.MaxExpirationDays {
		return fmt.Errorf("earn default_expiration_days %d outside [%d, %d]",
			cfg.Earn.DefaultExpirationDays, cfg.Earn.MinExpirationDays, cfg.Earn.MaxExpirationDays)
	}
	return nil
}

// envOrDefault returns an env var when present, otherwise the fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
