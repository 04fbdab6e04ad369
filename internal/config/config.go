package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"calcore/internal/alias"
	appLog "calcore/internal/log"
)

// CalendarConfig describes one iCalendar source. Exactly one of Path and
// URL must be set.
type CalendarConfig struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	URL  string `yaml:"url,omitempty" json:"url,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// CacheConfig selects the alias visibility cache.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend string `yaml:"backend" json:"backend"`
	// Size bounds the memory cache.
	Size int `yaml:"size" json:"size"`
	// TTL is how long a visibility record may be served, e.g. "30s".
	TTL string `yaml:"ttl" json:"ttl"`
	// RedisAddr is host:port of the redis server.
	RedisAddr string `yaml:"redis_addr,omitempty" json:"redis_addr,omitempty"`
	// RedisPrefix namespaces cache keys.
	RedisPrefix string `yaml:"redis_prefix,omitempty" json:"redis_prefix,omitempty"`
}

// TTLDuration parses TTL. Normalize guarantees it parses.
func (c CacheConfig) TTLDuration() time.Duration {
	d, err := time.ParseDuration(c.TTL)
	if err != nil {
		return defaultCacheTTL
	}
	return d
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used when a request has no frame of its own.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron is the standard 5-field cron schedule for reloading
	// calendars (e.g. "*/15 * * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays is the default number of days to expand.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// MaxOccurrences caps expansion per recurring master.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`

	// CacheDir holds revalidation copies of remote calendars.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	Calendars []CalendarConfig `yaml:"calendars" json:"calendars"`

	// Collections is the alias directory: real collections and the alias
	// collections that point at them.
	Collections []alias.Collection `yaml:"collections" json:"collections"`

	Cache CacheConfig `yaml:"cache" json:"cache"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen         = "127.0.0.1:8080"
	defaultTimezone       = "UTC"
	defaultLogLevel       = "info"
	defaultRefresh        = "*/15 * * * *"
	defaultHorizonDays    = 7
	defaultMaxOccurrences = 5000
	defaultCacheDir       = "./var/ics-cache"
	defaultCacheSize      = 4096
	defaultCacheTTL       = 30 * time.Second
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:         defaultListen,
		Timezone:       defaultTimezone,
		LogLevel:       defaultLogLevel,
		RefreshCron:    defaultRefresh,
		HorizonDays:    defaultHorizonDays,
		MaxOccurrences: defaultMaxOccurrences,
		CacheDir:       defaultCacheDir,
		Calendars:      []CalendarConfig{},
		Collections:    []alias.Collection{},
		Cache: CacheConfig{
			Backend: "memory",
			Size:    defaultCacheSize,
			TTL:     defaultCacheTTL.String(),
		},
	}
}

// Normalize fills in missing or unusable values with defaults so that
// partially-filled configs still behave. Bad values are logged and
// replaced.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug", "info", "warn", "warning", "error":
	case "":
		c.LogLevel = defaultLogLevel
	default:
		appLog.Warn("config: unknown log_level, using default", "value", c.LogLevel)
		c.LogLevel = defaultLogLevel
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefresh
	} else if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		appLog.Warn("config: invalid refresh schedule, using default", "value", c.RefreshCron, "err", err)
		c.RefreshCron = defaultRefresh
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = defaultMaxOccurrences
	}
	if c.Calendars == nil {
		c.Calendars = []CalendarConfig{}
	}
	if c.Collections == nil {
		c.Collections = []alias.Collection{}
	}

	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		c.Cache.Backend = "memory"
	}
	if c.Cache.Size <= 0 {
		c.Cache.Size = defaultCacheSize
	}
	if d, err := time.ParseDuration(c.Cache.TTL); err != nil || d <= 0 {
		c.Cache.TTL = defaultCacheTTL.String()
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		c.Cache.RedisAddr = "127.0.0.1:6379"
	}
}

// Validate reports problems Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool)
	for i, cal := range c.Calendars {
		if cal.ID == "" {
			errs = append(errs, fmt.Errorf("calendars[%d]: id is required", i))
		} else if seen[cal.ID] {
			errs = append(errs, fmt.Errorf("calendars[%d]: duplicate id %q", i, cal.ID))
		}
		seen[cal.ID] = true
		if (cal.Path == "") == (cal.URL == "") {
			errs = append(errs, fmt.Errorf("calendars[%d]: exactly one of path and url is required", i))
		}
	}
	paths := make(map[string]bool)
	for i, col := range c.Collections {
		if col.Path == "" {
			errs = append(errs, fmt.Errorf("collections[%d]: path is required", i))
			continue
		}
		if paths[col.Path] {
			errs = append(errs, fmt.Errorf("collections[%d]: duplicate path %q", i, col.Path))
		}
		paths[col.Path] = true
	}
	return errors.Join(errs...)
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist, a default config is written with 0600 perms
// (creating the parent directory) and returned. Otherwise the YAML is read
// and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			appLog.Info("config: wrote default config", "path", path)
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file in the same directory,
// then rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calcore-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
