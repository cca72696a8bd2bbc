package offline

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"gamenotes/internal/basepath"
	"gamenotes/internal/bootstrap"
	"gamenotes/internal/store"
)

// EnvPrefix prefixes every environment override, e.g. GAMENOTES_SERVER_ORIGIN.
const EnvPrefix = "GAMENOTES_"

type Config struct {
	Server struct {
		Port   int    `yaml:"port" env:"PORT"`
		Origin string `yaml:"origin" env:"ORIGIN"`
		// PublicURL is where browsers reach the site; used for base path
		// detection and same-origin checks.
		PublicURL string `yaml:"publicURL" env:"PUBLIC_URL"`
	} `yaml:"server" envPrefix:"SERVER_"`

	Proxy struct {
		CachePrefix    string `yaml:"cachePrefix" env:"CACHE_PREFIX"`
		Version        string `yaml:"version" env:"VERSION"`
		Policy         string `yaml:"policy" env:"POLICY"`
		SkipWaiting    bool   `yaml:"skipWaiting" env:"SKIP_WAITING"`
		NetworkTimeout string `yaml:"networkTimeout" env:"NETWORK_TIMEOUT"`
		AdminPrefix    string `yaml:"adminPrefix" env:"ADMIN_PREFIX"`
	} `yaml:"proxy" envPrefix:"PROXY_"`

	BasePath struct {
		Mode   string `yaml:"mode" env:"MODE"`
		Prefix string `yaml:"prefix" env:"PREFIX"`
	} `yaml:"basePath" envPrefix:"BASE_PATH_"`

	Manifest struct {
		RootDocument string   `yaml:"rootDocument" env:"ROOT_DOCUMENT"`
		Entries      []string `yaml:"entries" env:"ENTRIES" envSeparator:","`
		URL          string   `yaml:"url" env:"URL"`
		RefreshEvery string   `yaml:"refreshEvery" env:"REFRESH_EVERY"`
	} `yaml:"manifest" envPrefix:"MANIFEST_"`

	Storage struct {
		Driver string `yaml:"driver" env:"DRIVER"`
		Path   string `yaml:"path" env:"PATH"`
		RAM    struct {
			Max string `yaml:"max" env:"MAX"`
		} `yaml:"ram" envPrefix:"RAM_"`
	} `yaml:"storage" envPrefix:"STORAGE_"`

	Rules []Rule `yaml:"rules"`

	Bootstrap struct {
		Modules   []string `yaml:"modules" env:"MODULES" envSeparator:","`
		OnFailure string   `yaml:"onFailure" env:"ON_FAILURE"`
	} `yaml:"bootstrap" envPrefix:"BOOTSTRAP_"`

	Logging struct {
		Level      string `yaml:"level" env:"LEVEL"`
		StatsEvery string `yaml:"statsEvery" env:"STATS_EVERY"`
	} `yaml:"logging" envPrefix:"LOGGING_"`

	// compiled
	policy         Policy
	networkTimeout time.Duration
	refreshEvery   time.Duration
	statsEvery     time.Duration
	ramBytes       int64
	basePrefix     string
	originURL      *url.URL
	publicURL      *url.URL
	bootstrapMode  bootstrap.FailureMode
	validated      bool
}

type Rule struct {
	Match             string   `yaml:"match"`
	Priority          int      `yaml:"priority"`
	Bypass            bool     `yaml:"bypass"`
	BypassWhenCookies []string `yaml:"bypassWhenCookies"`

	// compiled
	matchers []pathPrefixMatcher
}

type pathPrefixMatcher struct{ Prefix string }

func (m pathPrefixMatcher) Match(path string) bool { return strings.HasPrefix(path, m.Prefix) }

// LoadConfig reads the YAML file at path, applies GAMENOTES_* environment
// overrides and validates the result.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate applies defaults and compiles durations, rules and the base path.
// Configs built in code must be validated before use.
func (c *Config) Validate() error {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Origin == "" {
		return fmt.Errorf("server.origin is required")
	}
	c.Server.Origin = strings.TrimRight(c.Server.Origin, "/")
	origin, err := url.Parse(c.Server.Origin)
	if err != nil || origin.Host == "" {
		return fmt.Errorf("server.origin: invalid url %q", c.Server.Origin)
	}
	c.originURL = origin
	c.publicURL = nil
	if c.Server.PublicURL != "" {
		pub, err := url.Parse(c.Server.PublicURL)
		if err != nil {
			return fmt.Errorf("server.publicURL: %w", err)
		}
		c.publicURL = pub
	}

	if c.Proxy.CachePrefix == "" {
		c.Proxy.CachePrefix = "gamenotes-"
	}
	if c.Proxy.Version == "" {
		return fmt.Errorf("proxy.version is required")
	}
	if strings.Contains(c.Proxy.CachePrefix+c.Proxy.Version, "\x00") {
		return fmt.Errorf("proxy.version: %w", store.ErrInvalidName)
	}
	c.policy, err = ParsePolicy(c.Proxy.Policy)
	if err != nil {
		return fmt.Errorf("proxy.policy: %w", err)
	}
	c.Proxy.Policy = string(c.policy)
	if c.Proxy.NetworkTimeout == "" {
		c.Proxy.NetworkTimeout = "30s"
	}
	if c.networkTimeout, err = parseDuration(c.Proxy.NetworkTimeout); err != nil {
		return fmt.Errorf("proxy.networkTimeout: %w", err)
	}
	if c.Proxy.AdminPrefix == "" {
		c.Proxy.AdminPrefix = "/_offline"
	}
	c.Proxy.AdminPrefix = basepath.Normalize(c.Proxy.AdminPrefix)
	if c.Proxy.AdminPrefix == "" {
		return fmt.Errorf("proxy.adminPrefix must not be the site root")
	}

	resolver, err := basepath.ForMode(c.BasePath.Mode, c.BasePath.Prefix)
	if err != nil {
		return fmt.Errorf("basePath.mode: %w", err)
	}
	if c.basePrefix, err = basepath.FromURL(resolver, c.Server.PublicURL); err != nil {
		return err
	}

	if c.Manifest.RootDocument == "" {
		c.Manifest.RootDocument = "index.html"
	}
	if c.refreshEvery, err = parseDuration(c.Manifest.RefreshEvery); err != nil {
		return fmt.Errorf("manifest.refreshEvery: %w", err)
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = store.DriverLevelDB
	}
	if c.Storage.Path == "" {
		switch c.Storage.Driver {
		case store.DriverSQLite:
			c.Storage.Path = "./data/cache.db"
		default:
			c.Storage.Path = "./data/leveldb"
		}
	}
	c.ramBytes = 0
	if strings.TrimSpace(c.Storage.RAM.Max) != "" {
		if c.ramBytes, err = parseBytes(c.Storage.RAM.Max); err != nil {
			return fmt.Errorf("storage.ram.max: %w", err)
		}
	}

	for i := range c.Rules {
		r := &c.Rules[i]
		ms, err := parseMatch(r.Match)
		if err != nil {
			return fmt.Errorf("rules[%d].match: %w", i, err)
		}
		r.matchers = ms
	}
	sort.SliceStable(c.Rules, func(i, j int) bool {
		return c.Rules[i].Priority < c.Rules[j].Priority
	})

	if c.bootstrapMode, err = bootstrap.ParseFailureMode(c.Bootstrap.OnFailure); err != nil {
		return fmt.Errorf("bootstrap.onFailure: %w", err)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.statsEvery, err = parseDuration(c.Logging.StatsEvery); err != nil {
		return fmt.Errorf("logging.statsEvery: %w", err)
	}

	c.validated = true
	return nil
}

// GenerationName is the store generation owned by this version.
func (c Config) GenerationName() string { return c.Proxy.CachePrefix + c.Proxy.Version }

// BasePrefix is the resolved deployment prefix ("" or "/<segment>").
func (c Config) BasePrefix() string { return c.basePrefix }

// StoreOptions describes the store the command should open.
func (c Config) StoreOptions() store.Options {
	mb := int(c.ramBytes / (1024 * 1024))
	if c.ramBytes > 0 && mb == 0 {
		mb = 1
	}
	return store.Options{Driver: c.Storage.Driver, Path: c.Storage.Path, RAMMegabytes: mb}
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

func parseMatch(expr string) ([]pathPrefixMatcher, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty match")
	}

	parts := strings.Split(expr, "|")
	out := make([]pathPrefixMatcher, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "PathPrefix(") || !strings.HasSuffix(p, ")") {
			return nil, fmt.Errorf("only PathPrefix(...) supported, got %q", p)
		}
		inside := strings.TrimSuffix(strings.TrimPrefix(p, "PathPrefix("), ")")
		inside = strings.TrimSpace(inside)
		if inside == "" || !strings.HasPrefix(inside, "/") {
			return nil, fmt.Errorf("invalid prefix %q", inside)
		}
		out = append(out, pathPrefixMatcher{Prefix: inside})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no valid matchers")
	}
	return out, nil
}

func (r *Rule) Matches(path string) bool {
	for _, m := range r.matchers {
		if m.Match(path) {
			return true
		}
	}
	return false
}
