// Package config reads the dotted-key YAML configuration used by microauth.
//
// A file may list other files under "includes"; they are resolved relative
// to the including file (or its config/ subdirectory) and merged over it in
// order. Values not set anywhere fall back to Defaults. Environment
// variables of the form MICROAUTH__SESSION__TIMEOUT=600 override single
// keys after the files are loaded.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix starts environment variables that override config keys.
const EnvPrefix = "MICROAUTH__"

// Config is a nested key/value tree addressed with dotted keys.
type Config struct {
	mu   sync.RWMutex
	data map[string]any
}

// Defaults returns the built-in configuration tree.
func Defaults() map[string]any {
	return map[string]any{
		"app": map[string]any{
			"name":  "MicroAuth App",
			"debug": false,
			"url":   "",
		},
		"session": map[string]any{
			"timeout":     3600,
			"secure":      true,
			"httponly":    true,
			"cookie_name": "microauth_session",
		},
		"login": map[string]any{
			"methods": []any{"email"},
			"google": map[string]any{
				"enabled":       false,
				"client_id":     "",
				"client_secret": "",
				"redirect_url":  "",
			},
			"auth0": map[string]any{
				"enabled":                false,
				"domain":                 "",
				"client_id":              "",
				"client_secret":          "",
				"redirect_url":           "",
				"require_verified_email": true,
			},
			"unique_url": map[string]any{
				"enabled": false,
				"expiry":  86400,
			},
			"redirect": map[string]any{
				"success": "/",
				"failure": "/login",
			},
		},
		"security": map[string]any{
			"csrf_token_expiry": 3600,
			"password_algo":     "argon2id",
			"bcrypt_cost":       10,
			"argon2": map[string]any{
				"memory":  65536,
				"time":    4,
				"threads": 1,
			},
			"state_secret": "",
		},
	}
}

// New returns a config holding only the defaults.
func New() *Config {
	return &Config{data: Defaults()}
}

// FromMap returns a config with values merged over the defaults.
func FromMap(values map[string]any) *Config {
	c := New()
	merge(c.data, values)
	return c
}

// Load reads path and its includes over the defaults. A missing file is
// not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	c := New()
	if path == "" {
		return c, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return c, nil
	}
	tree, err := readTree(path, 0)
	if err != nil {
		return nil, err
	}
	merge(c.data, tree)
	return c, nil
}

// LoadOrInit loads path, writing the defaults there first when the file
// does not exist. A file that fails to parse is logged and the defaults
// are used.
func LoadOrInit(path string) *Config {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		c := New()
		if err := c.Save(path); err != nil {
			slog.Error("Failed to save default config", "path", path, "error", err)
		}
		return c
	}
	c, err := Load(path)
	if err != nil {
		slog.Error("Error parsing config file", "path", path, "error", err)
		return New()
	}
	return c
}

const maxIncludeDepth = 8

func readTree(path string, depth int) (map[string]any, error) {
	if depth > maxIncludeDepth {
		return nil, fmt.Errorf("config includes nested too deeply at %s", path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tree := map[string]any{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	includes, _ := tree["includes"].([]any)
	delete(tree, "includes")
	dir := filepath.Dir(path)
	for _, inc := range includes {
		name, ok := inc.(string)
		if !ok || name == "" {
			continue
		}
		incPath := resolveInclude(dir, name)
		if incPath == "" {
			slog.Warn("Config include file missing", "include", name, "from", path)
			continue
		}
		sub, err := readTree(incPath, depth+1)
		if err != nil {
			return nil, err
		}
		merge(tree, sub)
	}
	return tree, nil
}

func resolveInclude(dir, name string) string {
	candidates := []string{name}
	if !filepath.IsAbs(name) {
		candidates = []string{filepath.Join(dir, name), filepath.Join(dir, "config", name)}
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// merge copies src into dst, descending into nested maps.
func merge(dst, src map[string]any) {
	for k, v := range src {
		if sm, ok := asMap(v); ok {
			if dm, ok := asMap(dst[k]); ok {
				merge(dm, sm)
				dst[k] = dm
				continue
			}
			cp := map[string]any{}
			merge(cp, sm)
			dst[k] = cp
			continue
		}
		dst[k] = v
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

// ApplyEnv overrides keys from environment entries ("KEY=value") that start
// with EnvPrefix. Double underscores separate key segments. Values are
// parsed as YAML scalars, so "true" and "600" keep their types.
func (c *Config) ApplyEnv(environ []string) int {
	applied := 0
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		key := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(name, EnvPrefix), "__", "."))
		if key == "" {
			continue
		}
		var parsed any = value
		if err := yaml.Unmarshal([]byte(value), &parsed); err != nil || parsed == nil {
			parsed = value
		}
		c.Set(key, parsed)
		applied++
	}
	return applied
}

// Get returns the value at key, or def when any segment is missing.
func (c *Config) Get(key string, def any) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var cur any = c.data
	for _, part := range strings.Split(key, ".") {
		m, ok := asMap(cur)
		if !ok {
			return def
		}
		if cur, ok = m[part]; !ok || cur == nil {
			return def
		}
	}
	return cur
}

// Set stores value at key, creating intermediate maps.
func (c *Config) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	parts := strings.Split(key, ".")
	m := c.data
	for _, part := range parts[:len(parts)-1] {
		next, ok := m[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[part] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
}

// Save writes the tree as YAML.
func (c *Config) Save(path string) error {
	c.mu.RLock()
	out, err := yaml.Marshal(c.data)
	c.mu.RUnlock()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, out, 0600)
}

func (c *Config) String(key, def string) string {
	return AsString(c.Get(key, def), def)
}

func (c *Config) Bool(key string, def bool) bool {
	return AsBool(c.Get(key, def), def)
}

func (c *Config) Int(key string, def int) int {
	return int(AsInt64(c.Get(key, def), int64(def)))
}

// Duration reads an integer number of seconds.
func (c *Config) Duration(key string, def time.Duration) time.Duration {
	return time.Duration(c.Int(key, int(def/time.Second))) * time.Second
}

func (c *Config) Strings(key string, def []string) []string {
	return AsStrings(c.Get(key, def), def)
}
