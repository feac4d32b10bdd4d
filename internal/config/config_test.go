package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
oanda:
  practice:
    api_token: tok-123
    account_id: "001-004-1234567-001"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "practice", cfg.OANDA.Environment)
	assert.Equal(t, "https://api-fxpractice.oanda.com", cfg.OANDA.BaseURLPractice)
	assert.Equal(t, 5000, cfg.Fetch.PageLimit)
	assert.Equal(t, 50.0, cfg.Fetch.RateLimitPerSec)
	assert.Equal(t, 500, cfg.Fetch.InstrumentPauseMs)
	assert.Equal(t, 10000.0, cfg.Backtest.InitialBalance)
	assert.Equal(t, ":9991", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.App.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
app:
  log_level: debug
oanda:
  environment: live
  timeout_seconds: 10
  live:
    api_token: tok-live
    account_id: "001-001-7654321-001"
fetch:
  page_limit: 1000
  rate_limit_per_sec: 10
storage:
  root: /tmp/fx-data
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "live", cfg.OANDA.Environment)
	assert.Equal(t, 1000, cfg.Fetch.PageLimit)
	assert.Equal(t, 10.0, cfg.Fetch.RateLimitPerSec)
	assert.Equal(t, "/tmp/fx-data", cfg.Storage.Root)

	creds, base := cfg.OANDA.ActiveCredentials()
	assert.Equal(t, "tok-live", creds.APIToken)
	assert.Equal(t, "https://api-fxtrade.oanda.com", base)
}

func TestLoadRejectsBadEnvironment(t *testing.T) {
	path := writeConfig(t, `
oanda:
  environment: staging
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "practice or live")
}

func TestLoadRejectsOversizedPageLimit(t *testing.T) {
	path := writeConfig(t, `
fetch:
  page_limit: 6000
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server cap")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestIsPlaceholder(t *testing.T) {
	assert.True(t, IsPlaceholder(""))
	assert.True(t, IsPlaceholder("   "))
	assert.True(t, IsPlaceholder("YOUR_API_TOKEN"))
	assert.True(t, IsPlaceholder("abc-YOUR_TOKEN-def"))
	assert.False(t, IsPlaceholder("8f3a2b-real-token"))
}
