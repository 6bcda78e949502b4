package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	envStartURL        = "PILOT_START_URL"
	envAllowedDomains  = "PILOT_ALLOWED_DOMAINS"
	envConfirmKeywords = "PILOT_CONFIRM_KEYWORDS"
	envHeadless        = "PILOT_HEADLESS"
	envViewportWidth   = "PILOT_VIEWPORT_WIDTH"
	envViewportHeight  = "PILOT_VIEWPORT_HEIGHT"
	envPort            = "PILOT_PORT"
	envDBPath          = "PILOT_DB_PATH"
	envArtifactsDir    = "PILOT_ARTIFACTS_DIR"
	envMaxSteps        = "PILOT_MAX_STEPS"
	envMaxScrolls      = "PILOT_MAX_SCROLLS"
)

var defaultConfirmKeywords = []string{"submit", "enroll", "pay", "send", "delete", "remove"}

// Config holds all environment-driven settings for the server process.
type Config struct {
	StartURL        string
	AllowedDomains  []string
	ConfirmKeywords []string
	Headless        bool
	ViewportWidth   int
	ViewportHeight  int
	Port            int
	DBPath          string
	ArtifactsDir    string
	MaxSteps        int
	MaxScrolls      int
}

// Load reads configuration from the environment. Call godotenv.Load first
// if a .env file should participate.
func Load() (Config, error) {
	cfg := Config{
		StartURL:        stringEnv(envStartURL, "https://www.google.com"),
		AllowedDomains:  csvEnv(envAllowedDomains),
		ConfirmKeywords: csvEnv(envConfirmKeywords),
		Headless:        boolEnv(envHeadless, true),
		ViewportWidth:   intEnv(envViewportWidth, 1280),
		ViewportHeight:  intEnv(envViewportHeight, 800),
		Port:            intEnv(envPort, 8700),
		DBPath:          stringEnv(envDBPath, "pilot.db"),
		ArtifactsDir:    stringEnv(envArtifactsDir, "artifacts"),
		MaxSteps:        intEnv(envMaxSteps, 50),
		MaxScrolls:      intEnv(envMaxScrolls, 5),
	}
	if len(cfg.ConfirmKeywords) == 0 {
		cfg.ConfirmKeywords = append([]string(nil), defaultConfirmKeywords...)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		return fmt.Errorf("invalid viewport %dx%d", c.ViewportWidth, c.ViewportHeight)
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max steps must be positive")
	}
	if err := os.MkdirAll(c.ArtifactsDir, 0o755); err != nil {
		return fmt.Errorf("create artifacts dir: %w", err)
	}
	if dir := filepath.Dir(c.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create db dir: %w", err)
		}
	}
	return nil
}

func stringEnv(name, def string) string {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return def
	}
	return val
}

func boolEnv(name string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func intEnv(name string, def int) int {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}

func csvEnv(name string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.ToLower(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
