package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calcore/internal/alias"
)

func cfgCollection(path string) alias.Collection {
	return alias.Collection{Path: path, OwnerHref: "/principals/test"}
}

func TestLoadWritesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "calcore.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calcore.yaml")
	yaml := `
listen: ":9090"
log_level: chatty
refresh: "every now and then"
horizon_days: -1
calendars:
  - id: team
    name: Team
    path: /srv/team.ics
collections:
  - path: /alice/work
    owner: /principals/alice
    notifications: true
  - path: /bob/alice-work
    owner: /principals/bob
    alias_of: /alice/work
cache:
  backend: Redis
  ttl: nonsense
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "*/15 * * * *", cfg.RefreshCron)
	assert.Equal(t, 7, cfg.HorizonDays)
	assert.Equal(t, 5000, cfg.MaxOccurrences)

	require.Len(t, cfg.Collections, 2)
	assert.True(t, cfg.Collections[0].NotificationsEnabled)
	assert.Equal(t, "/alice/work", cfg.Collections[1].AliasOf)
	assert.True(t, cfg.Collections[1].IsAlias())

	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "127.0.0.1:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTLDuration())
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unterminated"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Calendars = []CalendarConfig{
		{ID: "a", Path: "/a.ics"},
		{ID: "a", URL: "https://example.com/a.ics"},
		{ID: "", Path: "/x.ics", URL: "https://example.com/x.ics"},
	}
	cfg.Collections = append(cfg.Collections, cfgCollection("/c"), cfgCollection("/c"), cfgCollection(""))

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `duplicate id "a"`)
	assert.Contains(t, msg, "calendars[2]: id is required")
	assert.Contains(t, msg, "calendars[2]: exactly one of path and url")
	assert.Contains(t, msg, `duplicate path "/c"`)
	assert.Contains(t, msg, "collections[2]: path is required")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calcore.yaml")
	cfg := DefaultConfig()
	cfg.BasicAuth = &BasicAuthConfig{Username: "admin", Password: "secret"}
	cfg.Calendars = append(cfg.Calendars, CalendarConfig{ID: "team", URL: "https://example.com/team.ics"})
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}
