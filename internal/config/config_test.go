package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvBotToken, EnvKeyMaterial, EnvBaseURL, EnvRedisURL, EnvPort, EnvUnixSocket} {
		t.Setenv(k, "")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `{
		"discord": {"token": "abc"},
		"juxtapose": {"keyMaterial": "secret", "baseUrl": "https://view.example"},
		"cache": {"backend": "memory"},
		"preview": {"enabled": false}
	}`)

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", cfg.Discord.Token)
	assert.Equal(t, defaultIntents, cfg.Discord.Intents)
	assert.Equal(t, "https://view.example", cfg.Juxtapose.BaseURL)
	assert.Equal(t, BackendMemory, cfg.Cache.Backend)
	assert.Equal(t, defaultRedisURL, cfg.Cache.RedisURL)
	assert.False(t, cfg.Preview.Enabled)
	assert.Equal(t, defaultPreviewMaxLinks, cfg.Preview.MaxLinks)
	assert.Equal(t, []string{"*"}, cfg.HTTP.AllowOrigins)
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `{"discord": {"tokn": "x"}, "extra": 1}`)
	_, err := LoadFrom(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord.tokn")
	assert.Contains(t, err.Error(), "extra")
}

func TestLoadRejectsBadJSON(t *testing.T) {
	clearEnv(t)
	_, err := LoadFrom(writeConfig(t, `{`))
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvBotToken, "env-token")
	t.Setenv(EnvKeyMaterial, "env-key")
	t.Setenv(EnvBaseURL, "https://env.example/j")
	t.Setenv(EnvRedisURL, "redis://cache:6379/2")
	t.Setenv(EnvPort, "9000")
	t.Setenv(EnvUnixSocket, "/run/utilbot.sock")

	cfg, err := LoadFrom(writeConfig(t, `{"discord": {"token": "file-token"}}`))
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Discord.Token)
	assert.Equal(t, "env-key", cfg.Juxtapose.KeyMaterial)
	assert.Equal(t, "https://env.example/j", cfg.Juxtapose.BaseURL)
	assert.Equal(t, "redis://cache:6379/2", cfg.Cache.RedisURL)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, "/run/utilbot.sock", cfg.HTTP.UnixSocket)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Juxtapose.BaseURL = "/relative"
	cfg.Cache.Backend = "memcached"
	cfg.Timeouts.LookupSeconds = -1
	cfg.Log.Level = "loud"

	errs := cfg.validate()
	assert.Len(t, errs, 6)
	assert.Contains(t, errs, "discord.token is required (or set BOT_TOKEN)")
	assert.Contains(t, errs, "juxtapose.keyMaterial is required (or set BLAKE3_KEY_MATERIAL)")
	assert.Contains(t, errs, "juxtapose.baseUrl must be an absolute URL")
	assert.Contains(t, errs, `cache.backend must be "redis" or "memory"`)
	assert.Contains(t, errs, "timeouts.lookupSeconds must be non-negative")
	assert.Contains(t, errs, "log.level must be one of debug, info, warn, error")

	assert.ErrorContains(t, cfg.Validate(), "config validation failed")
}

func TestSaveAndUpgrade(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	// An old file without newer sections keeps its values after upgrade.
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(`{"discord":{"token":"abc"},"log":{"level":"debug","color":false}}`), 0o600))

	cfg, err := Upgrade(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", cfg.Discord.Token)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Log.Color)
	assert.Equal(t, defaultLookupTimeout, cfg.Timeouts.LookupSeconds)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Empty(t, CheckUnknownFields(raw))
	assert.Contains(t, raw, "preview")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reloaded, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, reloaded)
}

func TestIsAllowed(t *testing.T) {
	cfg := DefaultConfig().Discord
	assert.True(t, cfg.IsAllowed("anyone"))

	cfg.AllowFrom = []string{"1", "2"}
	assert.True(t, cfg.IsAllowed("2"))
	assert.False(t, cfg.IsAllowed("3"))
}

func TestDeepMerge(t *testing.T) {
	got := deepMerge(
		map[string]any{"a": map[string]any{"x": 1, "y": 2}, "b": 1},
		map[string]any{"a": map[string]any{"y": 3}, "c": 4},
	)
	assert.Equal(t, map[string]any{"a": map[string]any{"x": 1, "y": 3}, "b": 1, "c": 4}, got)
}
