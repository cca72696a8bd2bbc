package offline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gamenotes/internal/bootstrap"
	"gamenotes/internal/store"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "gamenotes.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadConfigDefaults(t *testing.T) {
	p := writeConfig(t, `
server:
  origin: https://example.github.io/
proxy:
  version: cache-v1.2
`)
	cfg, err := LoadConfig(p)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://example.github.io", cfg.Server.Origin)
	assert.Equal(t, "gamenotes-cache-v1.2", cfg.GenerationName())
	assert.Equal(t, PolicyStoreFirst, cfg.policy)
	assert.Equal(t, 30*time.Second, cfg.networkTimeout)
	assert.Equal(t, "/_offline", cfg.Proxy.AdminPrefix)
	assert.Equal(t, "index.html", cfg.Manifest.RootDocument)
	assert.Equal(t, "", cfg.BasePrefix())
	assert.Equal(t, bootstrap.Abort, cfg.bootstrapMode)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, store.Options{Driver: store.DriverLevelDB, Path: "./data/leveldb"}, cfg.StoreOptions())
}

func TestLoadConfigFull(t *testing.T) {
	p := writeConfig(t, `
server:
  port: 9090
  origin: http://127.0.0.1:8000
  publicURL: https://someone.github.io/gamenotes/
proxy:
  cachePrefix: gn-
  version: v3
  policy: network-first
  skipWaiting: true
  networkTimeout: 5s
  adminPrefix: /admin/
manifest:
  entries: ["./", "./index.html", "src/main.js"]
  refreshEvery: 10m
storage:
  driver: sqlite
  ram:
    max: 1.5m
rules:
  - match: PathPrefix(/b)
    priority: 2
    bypass: true
  - match: PathPrefix(/a) | PathPrefix(/c)
    priority: 1
    bypassWhenCookies: [session]
bootstrap:
  modules: ["./src/main.js"]
  onFailure: continue
logging:
  level: debug
  statsEvery: 1m
`)
	cfg, err := LoadConfig(p)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "gn-v3", cfg.GenerationName())
	assert.Equal(t, PolicyNetworkFirst, cfg.policy)
	assert.True(t, cfg.Proxy.SkipWaiting)
	assert.Equal(t, 5*time.Second, cfg.networkTimeout)
	assert.Equal(t, "/admin", cfg.Proxy.AdminPrefix)
	assert.Equal(t, "/gamenotes", cfg.BasePrefix())
	assert.Equal(t, 10*time.Minute, cfg.refreshEvery)
	assert.Equal(t, time.Minute, cfg.statsEvery)
	assert.Equal(t, store.Options{Driver: store.DriverSQLite, Path: "./data/cache.db", RAMMegabytes: 1}, cfg.StoreOptions())
	assert.Equal(t, bootstrap.Continue, cfg.bootstrapMode)

	require.Len(t, cfg.Rules, 2)
	assert.Equal(t, "PathPrefix(/a) | PathPrefix(/c)", cfg.Rules[0].Match)
	assert.True(t, cfg.Rules[0].Matches("/c/x"))
	assert.False(t, cfg.Rules[0].Matches("/b"))
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	p := writeConfig(t, `
server:
  origin: http://127.0.0.1:8000
proxy:
  version: v1
`)
	t.Setenv("GAMENOTES_PROXY_VERSION", "v9")
	t.Setenv("GAMENOTES_PROXY_POLICY", "network-first")
	t.Setenv("GAMENOTES_SERVER_PORT", "7000")
	t.Setenv("GAMENOTES_MANIFEST_ENTRIES", "./,./index.html")
	t.Setenv("GAMENOTES_STORAGE_DRIVER", "memory")

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, "gamenotes-v9", cfg.GenerationName())
	assert.Equal(t, PolicyNetworkFirst, cfg.policy)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, []string{"./", "./index.html"}, cfg.Manifest.Entries)
	assert.Equal(t, store.DriverMemory, cfg.Storage.Driver)
}

func TestValidateErrors(t *testing.T) {
	tests := map[string]func(*Config){
		"missing origin":   func(c *Config) { c.Server.Origin = "" },
		"relative origin":  func(c *Config) { c.Server.Origin = "/site" },
		"missing version":  func(c *Config) { c.Proxy.Version = "" },
		"unknown policy":   func(c *Config) { c.Proxy.Policy = "cache-only" },
		"bad timeout":      func(c *Config) { c.Proxy.NetworkTimeout = "soon" },
		"root admin":       func(c *Config) { c.Proxy.AdminPrefix = "/" },
		"bad base mode":    func(c *Config) { c.BasePath.Mode = "subdomain" },
		"bad ram size":     func(c *Config) { c.Storage.RAM.Max = "lots" },
		"bad rule":         func(c *Config) { c.Rules = []Rule{{Match: "Host(x)"}} },
		"bad failure mode": func(c *Config) { c.Bootstrap.OnFailure = "retry" },
		"nul in version":   func(c *Config) { c.Proxy.Version = "v\x001" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			var cfg Config
			cfg.Server.Origin = "http://127.0.0.1:8000"
			cfg.Proxy.Version = "v1"
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyStoreFirst, p)

	p, err = ParsePolicy("Network-First")
	require.NoError(t, err)
	assert.Equal(t, PolicyNetworkFirst, p)
}

func TestParseBytes(t *testing.T) {
	tests := map[string]int64{
		"512":   512,
		"64kb":  64 * 1024,
		"1.5m":  1024 * 1024 * 3 / 2,
		"2GB":   2 * 1024 * 1024 * 1024,
		" 10 k": 10 * 1024,
	}
	for in, want := range tests {
		got, err := parseBytes(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "b", "-1", "ten"} {
		_, err := parseBytes(in)
		assert.Error(t, err, in)
	}
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "900b", formatBytes(900))
	assert.Equal(t, "2kb", formatBytes(2048))
	assert.Equal(t, "1.5mb", formatBytes(1024*1024*3/2))
	assert.Equal(t, "3gb", formatBytes(3*1024*1024*1024))
}
