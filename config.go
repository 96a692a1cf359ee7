package seocontrol

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
)

// Config holds all configuration for an seocontrol App.
type Config struct {
	SiteName string `toml:"site_name"` // Site name used in homepage defaults (default "Site")
	Tagline  string `toml:"tagline"`   // Site tagline used in homepage defaults
	URL      string `toml:"url"`       // Canonical site URL (default "http://localhost:3000")

	Addr         string `toml:"addr"`          // Listen address for standalone mode (default ":3000")
	DatabasePath string `toml:"database_path"` // SQLite path (default "data/seocontrol.db")
	CategoryBase string `toml:"category_base"` // Category URL segment (default "category")
	ServeSite    bool   `toml:"serve_site"`    // Serve the bundled content tables as a site

	AdminPassword string `toml:"-"` // Required for the bundled login: set by CLI/env
	SessionSecret string `toml:"-"` // Required: session encryption secret
	CookieSecure  bool   `toml:"cookie_secure"`

	LogLevel string `toml:"log_level"` // trace|debug|info|warn|error (default "info")

	OverrideCacheTTL time.Duration `toml:"override_cache_ttl"` // default 5m
	PageCacheTTL     time.Duration `toml:"page_cache_ttl"`     // 0 disables the page cache

	PurgeURLs           []string      `toml:"purge_urls"`           // Reverse-proxy URLs sent PURGE on save
	InvalidationWorkers int           `toml:"invalidation_workers"` // default 4
	InvalidationTimeout time.Duration `toml:"invalidation_timeout"` // default 10s
}

func (c *Config) setDefaults() {
	if c.SiteName == "" {
		c.SiteName = "Site"
	}
	if c.URL == "" {
		c.URL = "http://localhost:3000"
	}
	if c.Addr == "" {
		c.Addr = ":3000"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "data/seocontrol.db"
	}
	if c.CategoryBase == "" {
		c.CategoryBase = "category"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.OverrideCacheTTL == 0 {
		c.OverrideCacheTTL = 5 * time.Minute
	}
	if c.InvalidationWorkers <= 0 {
		c.InvalidationWorkers = 4
	}
	if c.InvalidationTimeout == 0 {
		c.InvalidationTimeout = 10 * time.Second
	}
}

// LoadConfig loads the configuration from a TOML file. Secrets are not read
// from the file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Option configures additional App behavior.
type Option func(*App)

// WithCustomRoutes registers additional routes on the Echo instance.
// The callback receives the App after the built-in routes are mounted.
func WithCustomRoutes(fn func(*App)) Option {
	return func(a *App) {
		a.customRoutes = append(a.customRoutes, fn)
	}
}

// WithAuthorizer replaces the session based authorizer.
func WithAuthorizer(az Authorizer) Option {
	return func(a *App) {
		a.authorizer = az
	}
}

// WithContentSource makes the admin service and the rewriter read host
// content from src instead of the bundled tables.
func WithContentSource(src ContentSource) Option {
	return func(a *App) {
		a.content = src
	}
}

// WithInvalidators adds cache invalidation targets run after every save.
func WithInvalidators(inv ...Invalidator) Option {
	return func(a *App) {
		a.extraInvalidators = append(a.extraInvalidators, inv...)
	}
}

// WithClock overrides the time source used for updatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(a *App) {
		a.now = now
	}
}

// WithLogger replaces the logger built from Config.LogLevel.
func WithLogger(l *logrus.Logger) Option {
	return func(a *App) {
		a.Log = l
	}
}
