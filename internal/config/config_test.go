package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setWorkDirs(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PILOT_ARTIFACTS_DIR", filepath.Join(dir, "artifacts"))
	t.Setenv("PILOT_DB_PATH", filepath.Join(dir, "db", "pilot.db"))
}

func TestLoadDefaults(t *testing.T) {
	setWorkDirs(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://www.google.com", cfg.StartURL)
	assert.Equal(t, 8700, cfg.Port)
	assert.Equal(t, 50, cfg.MaxSteps)
	assert.Equal(t, 5, cfg.MaxScrolls)
	assert.True(t, cfg.Headless)
	assert.Equal(t, []string{"submit", "enroll", "pay", "send", "delete", "remove"}, cfg.ConfirmKeywords)
	assert.Empty(t, cfg.AllowedDomains)
}

func TestLoadOverrides(t *testing.T) {
	setWorkDirs(t)
	t.Setenv("PILOT_START_URL", "https://example.com")
	t.Setenv("PILOT_ALLOWED_DOMAINS", "Example.com, shop.example.com")
	t.Setenv("PILOT_CONFIRM_KEYWORDS", "purchase,confirm")
	t.Setenv("PILOT_HEADLESS", "false")
	t.Setenv("PILOT_PORT", "9000")
	t.Setenv("PILOT_MAX_STEPS", "12")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", cfg.StartURL)
	assert.Equal(t, []string{"example.com", "shop.example.com"}, cfg.AllowedDomains)
	assert.Equal(t, []string{"purchase", "confirm"}, cfg.ConfirmKeywords)
	assert.False(t, cfg.Headless)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 12, cfg.MaxSteps)
}

func TestLoadRejectsBadValues(t *testing.T) {
	setWorkDirs(t)
	t.Setenv("PILOT_PORT", "70000")
	_, err := Load()
	assert.Error(t, err)
}

func TestBoolEnvParsing(t *testing.T) {
	t.Setenv("X_FLAG", "yes")
	assert.True(t, boolEnv("X_FLAG", false))
	t.Setenv("X_FLAG", "off")
	assert.False(t, boolEnv("X_FLAG", true))
	t.Setenv("X_FLAG", "banana")
	assert.True(t, boolEnv("X_FLAG", true))
}

func TestIntEnvFallsBackOnGarbage(t *testing.T) {
	t.Setenv("X_NUM", "not a number")
	assert.Equal(t, 7, intEnv("X_NUM", 7))
}
