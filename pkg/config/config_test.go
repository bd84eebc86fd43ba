package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadJSONDefaults(t *testing.T) {
	path := writeFile(t, "sprezz.json", `{"site": {"url": "https://example.com/"}}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com", cfg.Site.URL)
	assert.Equal(t, DefaultCallbackPath, cfg.Site.CallbackPath)
	assert.Equal(t, DefaultRegisterPolicy, cfg.Site.RegisterPolicy)
	assert.Equal(t, DefaultAccessPolicy, cfg.Site.AccessPolicy)
	assert.Equal(t, DefaultDirectoryMode, cfg.Site.DirectoryMode)
	assert.Equal(t, DefaultServerAddress, cfg.Server.Address)
	assert.Equal(t, DefaultNetworkTimeout, cfg.Network.Timeout.Std())
	assert.Equal(t, DefaultQueueTTL, cfg.Queue.TTL.Std())
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, QueueMemory, cfg.Queue.Driver)
	assert.Equal(t, DefaultKeyBits, cfg.Keys.Bits)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "sprezz.yaml", `
site:
  url: http://localhost:8080
  callback_path: zot
  admin_email: admin@example.com
network:
  timeout: 5s
queue:
  driver: redis
  redis_addr: localhost:6379
  ttl: 3600
store:
  driver: postgres
  dsn: postgres://localhost/sprezz
log:
  level: debug
  json: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/zot", cfg.Site.CallbackPath)
	assert.Equal(t, "admin@example.com", cfg.Site.AdminEmail)
	assert.Equal(t, 5*time.Second, cfg.Network.Timeout.Std())
	assert.Equal(t, time.Hour, cfg.Queue.TTL.Std())
	assert.Equal(t, QueueRedis, cfg.Queue.Driver)
	assert.Equal(t, StorePostgres, cfg.Store.Driver)
	assert.True(t, cfg.Log.JSON)
}

func TestEnvOverrides(t *testing.T) {
	path := writeFile(t, "sprezz.json", `{"site": {"url": "https://example.com"}, "log": {"level": "info"}}`)
	t.Setenv("SPREZZ_SITE_URL", "https://override.example.com")
	t.Setenv("SPREZZ_LOG_LEVEL", "warn")
	t.Setenv("SPREZZ_NETWORK_TIMEOUT", "10s")
	t.Setenv("SPREZZ_KEY_BITS", "2048")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://override.example.com", cfg.Site.URL)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 10*time.Second, cfg.Network.Timeout.Std())
	assert.Equal(t, 2048, cfg.Keys.Bits)

	t.Setenv("SPREZZ_NETWORK_TIMEOUT", "soon")
	_, err = Load(path)
	assert.Error(t, err)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("SPREZZ_SITE_URL", "https://env.example.com")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.Site.URL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing url", `{}`},
		{"bad scheme", `{"site": {"url": "ftp://example.com"}}`},
		{"no host", `{"site": {"url": "https://"}}`},
		{"postgres without dsn", `{"site": {"url": "https://example.com"}, "store": {"driver": "postgres"}}`},
		{"unknown store", `{"site": {"url": "https://example.com"}, "store": {"driver": "bolt"}}`},
		{"redis without addr", `{"site": {"url": "https://example.com"}, "queue": {"driver": "redis"}}`},
		{"half tls", `{"site": {"url": "https://example.com"}, "server": {"tls_cert": "cert.pem"}}`},
		{"small keys", `{"site": {"url": "https://example.com"}, "keys": {"bits": 1024}}`},
		{"bad duration", `{"site": {"url": "https://example.com"}, "network": {"timeout": "fast"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "sprezz.json", tt.content)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
