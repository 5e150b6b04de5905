package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "./badger_data", cfg.BadgerDBPath)
	assert.Equal(t, "./perch.db", cfg.SQLitePath)
	assert.Equal(t, ":8001", cfg.HTTPAddr)
	assert.Equal(t, "http://localhost:8001", cfg.ProxyBaseURL, "proxy defaults to the public base")
	assert.Equal(t, CloudNone, cfg.CloudBackend)
	assert.Equal(t, ScraperOEmbed, cfg.ScraperBackend)
	assert.Equal(t, "@every 30m", cfg.SyncSchedule)
	assert.True(t, cfg.DetectLanguage)
	assert.Empty(t, cfg.TelegramBotToken)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(
		"HTTP_ADDR: \":9000\"\nLOG_LEVEL: debug\nPROXY_BASE_URL: https://relay.example\n"), 0o600))

	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("DETECT_LANGUAGE", "false")
	t.Setenv("CLOUD_BACKEND", "JSONBin")
	t.Setenv("JSONBIN_MASTER_KEY", "master")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "https://relay.example", cfg.ProxyBaseURL)
	assert.False(t, cfg.DetectLanguage)
	assert.Equal(t, CloudJSONBin, cfg.CloudBackend)
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown cloud", map[string]string{"CLOUD_BACKEND": "dropbox"}},
		{"jsonbin without key", map[string]string{"CLOUD_BACKEND": "jsonbin"}},
		{"couchbase without bucket", map[string]string{"CLOUD_BACKEND": "couchbase", "COUCHBASE_ENDPOINT": "localhost"}},
		{"unknown scraper", map[string]string{"SCRAPER_BACKEND": "curl"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig(t.TempDir())
			assert.Error(t, err)
		})
	}
}
