package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "test_config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))
	return configFile
}

func TestLoad(t *testing.T) {
	configFile := writeConfig(t, `
server:
  port: 9999
  upstream_timeout: "10s"
cache:
  ttl: "30m"
  db_path: "./test_cache/responses.db"
api:
  base_url: "http://localhost:8081"
assets:
  origin: "http://localhost:8081"
  folder: "./test_cache/assets"
  cache_prefix: "fintrack-cache-"
  version: "v18"
  shell: ["/", "/index.html", "/styles.css?v=10"]
`)

	config, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 9999, config.Server.Port)
	assert.Equal(t, "30m", config.Cache.TTL)
	assert.Equal(t, "http://localhost:8081", config.API.BaseURL)
	assert.Equal(t, "fintrack-cache-v18", config.Assets.CacheName())
	assert.Equal(t, []string{"/", "/index.html", "/styles.css?v=10"}, config.Assets.Shell)

	// untouched keys keep their defaults
	assert.Equal(t, "info", config.Log.Level)
	assert.Equal(t, []string{".js", ".css", ".html", ".svg", ".ico"}, config.Assets.Extensions)

	require.NoError(t, config.Validate())
}

func TestLoadDefaults(t *testing.T) {
	config, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, config.Server.Port)
	ttl, err := config.GetCacheTTL()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, ttl)
	require.NoError(t, config.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	configFile := writeConfig(t, `
cache:
  ttl: "30m"
assets:
  version: "v1"
`)
	t.Setenv("OFFLINE_CACHE_TTL", "2m")
	t.Setenv("OFFLINE_SERVER_PORT", "7070")
	t.Setenv("OFFLINE_ASSETS_VERSION", "v2")
	t.Setenv("OFFLINE_ASSETS_SHELL", "/,/app.js")

	config, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, "2m", config.Cache.TTL)
	assert.Equal(t, 7070, config.Server.Port)
	assert.Equal(t, "offline-cache-v2", config.Assets.CacheName())
	assert.Equal(t, []string{"/", "/app.js"}, config.Assets.Shell)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return *Default()
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = -1 }, wantErr: true},
		{name: "invalid TTL", mutate: func(c *Config) { c.Cache.TTL = "invalid" }, wantErr: true},
		{name: "zero TTL", mutate: func(c *Config) { c.Cache.TTL = "0s" }, wantErr: true},
		{name: "missing db path", mutate: func(c *Config) { c.Cache.DBPath = "" }, wantErr: true},
		{name: "invalid log format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: true},
		{name: "invalid upstream timeout", mutate: func(c *Config) { c.Server.UpstreamTimeout = "soon" }, wantErr: true},
		{name: "relative api base url", mutate: func(c *Config) { c.API.BaseURL = "/api" }, wantErr: true},
		{name: "valid origin", mutate: func(c *Config) { c.Assets.Origin = "https://app.example.com" }},
		{name: "origin without scheme", mutate: func(c *Config) { c.Assets.Origin = "app.example.com" }, wantErr: true},
		{
			name: "missing version",
			mutate: func(c *Config) {
				c.Assets.Origin = "https://app.example.com"
				c.Assets.Version = ""
			},
			wantErr: true,
		},
		{
			name: "relative shell path",
			mutate: func(c *Config) {
				c.Assets.Origin = "https://app.example.com"
				c.Assets.Shell = []string{"index.html"}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(&config)
			err := config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGetCacheTTL(t *testing.T) {
	config := Config{
		Cache: CacheConfig{TTL: "1h30m"},
	}

	ttl, err := config.GetCacheTTL()
	require.NoError(t, err)
	assert.Equal(t, time.Hour+30*time.Minute, ttl)
}

func TestGetUpstreamTimeoutUnset(t *testing.T) {
	config := Config{}

	timeout, err := config.GetUpstreamTimeout()
	require.NoError(t, err)
	assert.Zero(t, timeout)
}
