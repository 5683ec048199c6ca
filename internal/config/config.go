package config

import (
	"path/filepath"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Config is the root configuration for utilbot.
type Config struct {
	Discord   DiscordConfig   `json:"discord"`
	Juxtapose JuxtaposeConfig `json:"juxtapose"`
	HTTP      HTTPConfig      `json:"http"`
	Cache     CacheConfig     `json:"cache"`
	Preview   PreviewConfig   `json:"preview"`
	Timeouts  TimeoutsConfig  `json:"timeouts"`
	Log       LogConfig       `json:"log"`
}

// DiscordConfig holds bot credentials and gateway settings.
type DiscordConfig struct {
	Token string `json:"token"`
	// AllowFrom limits file previews to these user IDs. Empty allows everyone.
	AllowFrom []string `json:"allowFrom"`
	Intents   int      `json:"intents"`
}

// JuxtaposeConfig holds link signing settings.
type JuxtaposeConfig struct {
	// BaseURL is the viewer page the redeemable links point at.
	BaseURL string `json:"baseUrl"`
	// KeyMaterial is the secret the MAC key is derived from.
	KeyMaterial         string `json:"keyMaterial"`
	FetchTimeoutSeconds int    `json:"fetchTimeoutSeconds"`
}

// HTTPConfig holds the redemption endpoint listener.
type HTTPConfig struct {
	Addr string `json:"addr"`
	// UnixSocket, when set, replaces Addr.
	UnixSocket   string   `json:"unixSocket,omitempty"`
	AllowOrigins []string `json:"allowOrigins"`
}

// CacheConfig selects the resolution cache backend.
type CacheConfig struct {
	// Backend is "redis" or "memory".
	Backend        string `json:"backend"`
	RedisURL       string `json:"redisUrl"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// PreviewConfig holds file preview settings.
type PreviewConfig struct {
	Enabled        bool   `json:"enabled"`
	MaxLinks       int    `json:"maxLinks"`
	MaxFileBytes   int64  `json:"maxFileBytes"`
	RawBaseURL     string `json:"rawBaseUrl"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// TimeoutsConfig bounds external calls made while serving a request.
type TimeoutsConfig struct {
	LookupSeconds int `json:"lookupSeconds"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level string `json:"level"`
	Color bool   `json:"color"`
}

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

const (
	defaultIntents = int(discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent)

	defaultAddr             = ":8080"
	defaultBaseURL          = "http://localhost"
	defaultRedisURL         = "redis://localhost:6379/0"
	defaultCacheTimeout     = 5
	defaultLookupTimeout    = 10
	defaultFetchTimeout     = 30
	defaultPreviewTimeout   = 15
	defaultPreviewMaxLinks  = 3
	defaultPreviewFileBytes = 4 * 1024 * 1024
	defaultRawBaseURL       = "https://raw.githubusercontent.com"
	defaultLogLevel         = "info"
)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Discord: DiscordConfig{
			Intents: defaultIntents,
		},
		Juxtapose: JuxtaposeConfig{
			BaseURL:             defaultBaseURL,
			FetchTimeoutSeconds: defaultFetchTimeout,
		},
		HTTP: HTTPConfig{
			Addr:         defaultAddr,
			AllowOrigins: []string{"*"},
		},
		Cache: CacheConfig{
			Backend:        BackendRedis,
			RedisURL:       defaultRedisURL,
			TimeoutSeconds: defaultCacheTimeout,
		},
		Preview: PreviewConfig{
			Enabled:        true,
			MaxLinks:       defaultPreviewMaxLinks,
			MaxFileBytes:   defaultPreviewFileBytes,
			RawBaseURL:     defaultRawBaseURL,
			TimeoutSeconds: defaultPreviewTimeout,
		},
		Timeouts: TimeoutsConfig{
			LookupSeconds: defaultLookupTimeout,
		},
		Log: LogConfig{
			Level: defaultLogLevel,
			Color: true,
		},
	}
}

// LookupTimeout bounds the external calls of one token resolution.
func (c *Config) LookupTimeout() time.Duration {
	return time.Duration(c.Timeouts.LookupSeconds) * time.Second
}

// CacheTimeout is the Redis dial/read/write timeout.
func (c *Config) CacheTimeout() time.Duration {
	return time.Duration(c.Cache.TimeoutSeconds) * time.Second
}

// FetchTimeout bounds one image download.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Juxtapose.FetchTimeoutSeconds) * time.Second
}

// PreviewTimeout bounds one raw file download.
func (c *Config) PreviewTimeout() time.Duration {
	return time.Duration(c.Preview.TimeoutSeconds) * time.Second
}

// IsAllowed reports whether messages from senderID are handed to file
// previews. An empty allow list admits everyone.
func (c DiscordConfig) IsAllowed(senderID string) bool {
	if len(c.AllowFrom) == 0 {
		return true
	}
	for _, id := range c.AllowFrom {
		if id == senderID {
			return true
		}
	}
	return false
}

func expandHome(path string) string {
	if len(path) > 1 && path[:2] == "~/" {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}
