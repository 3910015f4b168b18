package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the collector's runtime settings, sourced from environment
// variables (a .env file is loaded by the caller before Load runs).
type Config struct {
	ListenAddr string // HTTP/WebSocket listen address
	StorageDir string // base directory for exported session bundles
	RulesFile  string // optional YAML rule table override, "" = built-ins only

	MaxCursorPoints int // per-tab retained cursor samples
	MaxImages       int // per-tab retained captured images
	ActivatedSlots  int // concurrently activated tabs
}

// Load reads configuration from the environment, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:      getEnv("CAPTRACE_ADDR", ":8089"),
		StorageDir:      getEnv("CAPTRACE_STORAGE_DIR", "./storage/sessions"),
		RulesFile:       os.Getenv("CAPTRACE_RULES_FILE"),
		MaxCursorPoints: 5000,
		MaxImages:       50,
		ActivatedSlots:  32,
	}

	var err error
	if cfg.MaxCursorPoints, err = getEnvInt("CAPTRACE_MAX_CURSOR_POINTS", cfg.MaxCursorPoints); err != nil {
		return Config{}, err
	}
	if cfg.MaxImages, err = getEnvInt("CAPTRACE_MAX_IMAGES", cfg.MaxImages); err != nil {
		return Config{}, err
	}
	if cfg.ActivatedSlots, err = getEnvInt("CAPTRACE_ACTIVATED_SLOTS", cfg.ActivatedSlots); err != nil {
		return Config{}, err
	}

	if cfg.MaxCursorPoints <= 0 || cfg.MaxImages <= 0 || cfg.ActivatedSlots <= 0 {
		return Config{}, fmt.Errorf("caps and slots must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
