package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
)

// Config holds all dynaflow configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath   string `json:"db_path"`
	LogLevel string `json:"log_level"`
	Strict   bool   `json:"strict"` // fail runs on unresolved placeholders
}

func defaultConfig() Config {
	return Config{
		DBPath:   filepath.Join(dynaflowDir(), "dynaflow.db"),
		LogLevel: "info",
	}
}

func dynaflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dynaflow"
	}
	return filepath.Join(home, ".dynaflow")
}

func settingsPath() string {
	return filepath.Join(dynaflowDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("DYNAFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("DYNAFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DYNAFLOW_STRICT"); v != "" {
		cfg.Strict = v == "true" || v == "1"
	}

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch s {
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
