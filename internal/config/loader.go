package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables that override the file. Deployments usually keep
// secrets out of the config file.
const (
	EnvBotToken    = "BOT_TOKEN"
	EnvKeyMaterial = "BLAKE3_KEY_MATERIAL"
	EnvBaseURL     = "JUXTAPOSE_BASE_URL"
	EnvRedisURL    = "REDIS_URL"
	EnvPort        = "PORT"
	EnvUnixSocket  = "UNIX_SOCKET"
)

// ConfigPath returns the default config file path.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.json")
}

// DataDir returns the utilbot data directory.
func DataDir() string {
	return expandHome("~/.utilbot")
}

// Load reads configuration from the default path.
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads configuration from path, falling back to defaults when the
// file does not exist, then applies environment overrides. Unknown keys are
// an error so typos do not silently fall back to defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(expandHome(path))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
		if unknown := CheckUnknownFields(raw); len(unknown) > 0 {
			return cfg, fmt.Errorf("unknown config fields: %s", strings.Join(unknown, ", "))
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return cfg, fmt.Errorf("apply config: %w", err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv(os.LookupEnv)
	return cfg, nil
}

// applyDefaults fills zero values left by a partial file.
func (c *Config) applyDefaults() {
	if c.Discord.Intents == 0 {
		c.Discord.Intents = defaultIntents
	}
	if c.Juxtapose.BaseURL == "" {
		c.Juxtapose.BaseURL = defaultBaseURL
	}
	if c.Juxtapose.FetchTimeoutSeconds == 0 {
		c.Juxtapose.FetchTimeoutSeconds = defaultFetchTimeout
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = defaultAddr
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = BackendRedis
	}
	if c.Cache.RedisURL == "" {
		c.Cache.RedisURL = defaultRedisURL
	}
	if c.Cache.TimeoutSeconds == 0 {
		c.Cache.TimeoutSeconds = defaultCacheTimeout
	}
	if c.Preview.MaxLinks == 0 {
		c.Preview.MaxLinks = defaultPreviewMaxLinks
	}
	if c.Preview.MaxFileBytes == 0 {
		c.Preview.MaxFileBytes = defaultPreviewFileBytes
	}
	if c.Preview.RawBaseURL == "" {
		c.Preview.RawBaseURL = defaultRawBaseURL
	}
	if c.Preview.TimeoutSeconds == 0 {
		c.Preview.TimeoutSeconds = defaultPreviewTimeout
	}
	if c.Timeouts.LookupSeconds == 0 {
		c.Timeouts.LookupSeconds = defaultLookupTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvBotToken); ok && v != "" {
		c.Discord.Token = v
	}
	if v, ok := lookup(EnvKeyMaterial); ok && v != "" {
		c.Juxtapose.KeyMaterial = v
	}
	if v, ok := lookup(EnvBaseURL); ok && v != "" {
		c.Juxtapose.BaseURL = v
	}
	if v, ok := lookup(EnvRedisURL); ok && v != "" {
		c.Cache.RedisURL = v
	}
	if v, ok := lookup(EnvPort); ok && v != "" {
		c.HTTP.Addr = ":" + v
	}
	if v, ok := lookup(EnvUnixSocket); ok && v != "" {
		c.HTTP.UnixSocket = v
	}
}

// Save writes configuration to the default path.
func Save(cfg *Config) error {
	return SaveTo(cfg, ConfigPath())
}

// SaveTo writes configuration to path. The file holds secrets, so it is only
// readable by its owner.
func SaveTo(cfg *Config, path string) error {
	path = expandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(out, '\n'), 0o600)
}

// Upgrade reads the config file at path, deep-merges it on top of
// DefaultConfig (local values win), and saves the result.
// New fields from defaults are added; existing user values are preserved.
func Upgrade(path string) (*Config, error) {
	path = expandHome(path)
	defaultData, err := json.Marshal(DefaultConfig())
	if err != nil {
		return nil, err
	}
	var defaultMap map[string]any
	if err := json.Unmarshal(defaultData, &defaultMap); err != nil {
		return nil, err
	}

	localData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var localMap map[string]any
	if err := json.Unmarshal(localData, &localMap); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	merged := deepMerge(defaultMap, localMap)

	// Re-serialize through the struct to drop stale keys and normalize.
	cfg := DefaultConfig()
	reData, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(reData, cfg); err != nil {
		return nil, fmt.Errorf("apply merged config: %w", err)
	}
	cfg.applyDefaults()

	if err := SaveTo(cfg, path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// deepMerge recursively merges src into dst. Values from src take priority.
// For nested maps, merge recursively. For all other types, src wins.
func deepMerge(dst, src map[string]any) map[string]any {
	result := make(map[string]any, len(dst))
	for k, v := range dst {
		result[k] = v
	}
	for k, srcVal := range src {
		dstVal, exists := result[k]
		if !exists {
			result[k] = srcVal
			continue
		}
		dstMap, dstOK := dstVal.(map[string]any)
		srcMap, srcOK := srcVal.(map[string]any)
		if dstOK && srcOK {
			result[k] = deepMerge(dstMap, srcMap)
		} else {
			result[k] = srcVal
		}
	}
	return result
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return home
}
