package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ThomasRohde/strands-cli-sub000/internal/scheduler"
	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// Session store backends.
const (
	storeMemory = "memory"
	storeFile   = "file"
	storeLibSQL = "libsql"
	storeRedis  = "redis"
)

// Config holds all strands CLI configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	SessionStore  string `json:"session_store"`
	SessionsDir   string `json:"sessions_dir"`
	DBPath        string `json:"db_path"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	LogLevel      string `json:"log_level"`
	MaxParallel   int    `json:"max_parallel"`
	MetricsAddr   string `json:"metrics_addr"`
	SweepSchedule string `json:"sweep_schedule"`
}

func defaultConfig(home string) Config {
	return Config{
		SessionStore:  storeFile,
		SessionsDir:   filepath.Join(home, "sessions"),
		DBPath:        filepath.Join(home, "strands.db"),
		RedisAddr:     "localhost:6379",
		LogLevel:      "warn",
		MetricsAddr:   ":9464",
		SweepSchedule: scheduler.DefaultSchedule,
	}
}

func strandsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".strands"
	}
	return filepath.Join(home, ".strands")
}

func settingsPath(home string) string {
	return filepath.Join(home, "settings.json")
}

// loadConfig layers defaults, settings.json and STRANDS_* variables.
// getenv is os.Getenv outside tests.
func loadConfig(home string, getenv func(string) string) (Config, error) {
	cfg := defaultConfig(home)

	// Layer 2: settings.json (ignore if missing).
	data, err := os.ReadFile(settingsPath(home))
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, schema.NewErrorf(schema.ErrCodeConfiguration, "parse %s: %s", settingsPath(home), err.Error()).WithCause(err)
		}
	case !os.IsNotExist(err):
		return cfg, schema.NewErrorf(schema.ErrCodeConfiguration, "read %s: %s", settingsPath(home), err.Error()).WithCause(err)
	}

	// Layer 3: env vars override.
	if v := getenv("STRANDS_SESSION_STORE"); v != "" {
		cfg.SessionStore = v
	}
	if v := getenv("STRANDS_SESSIONS_DIR"); v != "" {
		cfg.SessionsDir = v
	}
	if v := getenv("STRANDS_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("STRANDS_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := getenv("STRANDS_REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := getenv("STRANDS_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = n
		}
	}
	if v := getenv("STRANDS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("STRANDS_MAX_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxParallel = n
		}
	}
	if v := getenv("STRANDS_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := getenv("STRANDS_SWEEP_SCHEDULE"); v != "" {
		cfg.SweepSchedule = v
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch strings.ToLower(c.SessionStore) {
	case storeMemory, storeFile, storeLibSQL, storeRedis:
	default:
		return schema.NewErrorf(schema.ErrCodeConfiguration,
			"session_store %q: want one of memory, file, libsql, redis", c.SessionStore)
	}
	if c.MaxParallel < 0 {
		return schema.NewError(schema.ErrCodeConfiguration, "max_parallel must be >= 0")
	}
	return nil
}

// String renders the effective configuration for `strands config`.
func (c Config) String() string {
	if c.RedisPassword != "" {
		c.RedisPassword = "********"
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", c)
	}
	return string(data)
}
