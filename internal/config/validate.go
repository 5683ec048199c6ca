package config

import (
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strings"
)

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks the configuration for invalid or missing values.
func (c *Config) Validate() error {
	if errs := c.validate(); len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validate() []string {
	var errs []string

	// discord
	if c.Discord.Token == "" {
		errs = append(errs, "discord.token is required (or set "+EnvBotToken+")")
	}
	if c.Discord.Intents < 0 {
		errs = append(errs, "discord.intents must be non-negative")
	}

	// juxtapose
	j := c.Juxtapose
	if j.KeyMaterial == "" {
		errs = append(errs, "juxtapose.keyMaterial is required (or set "+EnvKeyMaterial+")")
	}
	if u, err := url.Parse(j.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "juxtapose.baseUrl must be an absolute URL")
	}
	if j.FetchTimeoutSeconds < 0 {
		errs = append(errs, "juxtapose.fetchTimeoutSeconds must be non-negative")
	}

	// http
	if c.HTTP.Addr == "" && c.HTTP.UnixSocket == "" {
		errs = append(errs, "http.addr or http.unixSocket is required")
	}

	// cache
	switch c.Cache.Backend {
	case BackendRedis:
		if _, err := url.Parse(c.Cache.RedisURL); err != nil || c.Cache.RedisURL == "" {
			errs = append(errs, "cache.redisUrl must be a redis:// URL")
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Sprintf("cache.backend must be %q or %q", BackendRedis, BackendMemory))
	}
	if c.Cache.TimeoutSeconds < 0 {
		errs = append(errs, "cache.timeoutSeconds must be non-negative")
	}

	// preview
	p := c.Preview
	if p.MaxLinks < 0 {
		errs = append(errs, "preview.maxLinks must be non-negative")
	}
	if p.MaxFileBytes < 0 {
		errs = append(errs, "preview.maxFileBytes must be non-negative")
	}
	if p.TimeoutSeconds < 0 {
		errs = append(errs, "preview.timeoutSeconds must be non-negative")
	}

	// timeouts
	if c.Timeouts.LookupSeconds < 0 {
		errs = append(errs, "timeouts.lookupSeconds must be non-negative")
	}

	// log
	if !logLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, "log.level must be one of debug, info, warn, error")
	}

	return errs
}

// CheckUnknownFields walks the raw config map and returns paths of any keys
// that do not correspond to known Config struct fields.
func CheckUnknownFields(raw map[string]any) []string {
	result := checkUnknownFields(raw, reflect.TypeOf(Config{}), "")
	sort.Strings(result)
	return result
}

func checkUnknownFields(data map[string]any, t reflect.Type, prefix string) []string {
	t = derefType(t)
	if t.Kind() != reflect.Struct {
		return nil
	}

	known := jsonFieldMap(t)
	var unknown []string
	for key, val := range data {
		ft, ok := known[key]
		if !ok {
			unknown = append(unknown, joinPath(prefix, key))
			continue
		}
		if nested, ok := val.(map[string]any); ok {
			unknown = append(unknown, checkUnknownFields(nested, ft, joinPath(prefix, key))...)
		}
	}
	return unknown
}

func jsonFieldMap(t reflect.Type) map[string]reflect.Type {
	m := make(map[string]reflect.Type, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "" || tag == "-" {
			continue
		}
		name := strings.Split(tag, ",")[0]
		if name != "" {
			m[name] = f.Type
		}
	}
	return m
}

func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
