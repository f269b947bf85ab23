// Package config handles configuration loading and hot-reloading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/johan-st/dbconsole/internal/access"
	"github.com/johan-st/dbconsole/internal/backend"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// nested keys: DBCONSOLE_BACKEND__BASE_URL sets backend.base_url.
const EnvPrefix = "DBCONSOLE_"

// DefaultFile is the config file looked up when none is given.
const DefaultFile = "dbconsole.yaml"

// Config represents the application configuration.
type Config struct {
	Name    string `koanf:"name" yaml:"name"`
	DataDir string `koanf:"data_dir" yaml:"data_dir"`

	Backend BackendConfig `koanf:"backend" yaml:"backend"`

	// How often the table registry is reloaded; 0 disables.
	RefreshInterval time.Duration `koanf:"refresh_interval" yaml:"refresh_interval"`

	Routing RoutingConfig `koanf:"routing" yaml:"routing"`
	Sync    SyncConfig    `koanf:"sync" yaml:"sync"`
	Log     LogConfig     `koanf:"log" yaml:"log"`
	Server  ServerConfig  `koanf:"server" yaml:"server"`
	Proxy   ProxyConfig   `koanf:"proxy" yaml:"proxy"`

	// Anonymous access level (none, read-only, read-write)
	AnonymousAccess string `koanf:"anonymous_access" yaml:"anonymous_access"`

	// Allow keyless SSH connections
	AllowKeyless bool `koanf:"allow_keyless" yaml:"allow_keyless"`

	// Users and their access rules
	Users []User `koanf:"users" yaml:"users"`

	// Public databases (accessible without auth)
	Public []AccessRule `koanf:"public" yaml:"public"`

	// Internal: path to the config file, empty when none was found
	path string

	// Internal: flags re-applied on reload
	flags *pflag.FlagSet

	mu sync.RWMutex
}

// BackendConfig locates the backend services.
type BackendConfig struct {
	BaseURL  string         `koanf:"base_url" yaml:"base_url"`
	Timeout  time.Duration  `koanf:"timeout" yaml:"timeout"`
	Services ServicesConfig `koanf:"services" yaml:"services"`
}

// ServicesConfig overrides the base URL per backend service.
type ServicesConfig struct {
	DBManager string `koanf:"db_manager" yaml:"db_manager"`
	AADSyncer string `koanf:"aad_syncer" yaml:"aad_syncer"`
	UserSync  string `koanf:"user_sync" yaml:"user_sync"`
	Jiali     string `koanf:"jiali" yaml:"jiali"`
}

// RoutingConfig tunes the query router.
type RoutingConfig struct {
	PreferCurrent bool `koanf:"prefer_current" yaml:"prefer_current"`
}

// SyncConfig tunes sync jobs.
type SyncConfig struct {
	PollInterval time.Duration `koanf:"poll_interval" yaml:"poll_interval"`
	CorpID       string        `koanf:"corp_id" yaml:"corp_id"`
}

// LogConfig configures the log file.
type LogConfig struct {
	Level string `koanf:"level" yaml:"level"`
	Path  string `koanf:"path" yaml:"path"`
}

// ServerConfig contains server-related configuration.
type ServerConfig struct {
	SSH SSHConfig `koanf:"ssh" yaml:"ssh"`
}

// SSHConfig contains SSH server configuration.
type SSHConfig struct {
	Enabled     bool   `koanf:"enabled" yaml:"enabled"`
	Listen      string `koanf:"listen" yaml:"listen"`
	HostKeyPath string `koanf:"host_key_path" yaml:"host_key_path"`
	IdleTimeout string `koanf:"idle_timeout" yaml:"idle_timeout"`
	MaxTimeout  string `koanf:"max_timeout" yaml:"max_timeout"`
}

// ProxyConfig configures the reverse proxy.
type ProxyConfig struct {
	Listen string `koanf:"listen" yaml:"listen"`
	// Directory with a built web console served for unmatched paths.
	StaticDir string `koanf:"static_dir" yaml:"static_dir"`
}

// defaults are the lowest-priority layer.
func defaults() map[string]any {
	return map[string]any{
		"name":                     "dbconsole",
		"data_dir":                 ".dbconsole",
		"backend.base_url":         "http://localhost:8080",
		"backend.timeout":          "60s",
		"refresh_interval":         "0s",
		"routing.prefer_current":   false,
		"sync.poll_interval":       "2s",
		"sync.corp_id":             "",
		"log.level":                "info",
		"log.path":                 "",
		"server.ssh.enabled":       true,
		"server.ssh.listen":        ":2222",
		"server.ssh.host_key_path": "",
		"server.ssh.idle_timeout":  "30m",
		"server.ssh.max_timeout":   "24h",
		"proxy.listen":             ":5173",
		"proxy.static_dir":         "",
		"anonymous_access":         "none",
		"allow_keyless":            false,
	}
}

// flagKeys maps flag names to config keys where they differ.
var flagKeys = map[string]string{
	"backend":        "backend.base_url",
	"timeout":        "backend.timeout",
	"log-level":      "log.level",
	"log-file":       "log.path",
	"prefer-current": "routing.prefer_current",
	"poll-interval":  "sync.poll_interval",
	"corp-id":        "sync.corp_id",
	"listen":         "server.ssh.listen",
	"host-key":       "server.ssh.host_key_path",
	"proxy-listen":   "proxy.listen",
	"static-dir":     "proxy.static_dir",
}

// configFlags are flags that map onto config keys by name.
var configFlags = map[string]bool{
	"data-dir":         true,
	"refresh-interval": true,
	"allow-keyless":    true,
}

// DefaultConfig returns a configuration with the default values.
func DefaultConfig() *Config {
	k := koanf.New(".")
	_ = k.Load(confmap.Provider(defaults(), "."), nil)
	cfg := &Config{}
	_ = k.Unmarshal("", cfg)
	return cfg
}

// Load reads configuration from defaults, the YAML file at path, the
// environment and explicitly set flags, in increasing priority. An empty
// path looks for dbconsole.yaml in the working directory; a missing default
// file is not an error.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}

	var absPath string
	if path != "" {
		p, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path: %w", err)
		}
		absPath = p
	}

	cfg, err := load(absPath, flags)
	if err != nil {
		return nil, err
	}

	cfg.path = absPath
	cfg.flags = flags

	return cfg, nil
}

func load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			// Only load flags that were explicitly set
			if !f.Changed {
				return "", nil
			}
			if key, ok := flagKeys[f.Name]; ok {
				return key, posflag.FlagVal(flags, f)
			}
			if configFlags[f.Name] {
				return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
			}
			return "", nil
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Backend.BaseURL) == "" && (c.Backend.Services == ServicesConfig{}) {
		return fmt.Errorf("invalid config: backend.base_url is required")
	}
	if c.Sync.PollInterval <= 0 {
		return fmt.Errorf("invalid config: sync.poll_interval must be positive, got %s", c.Sync.PollInterval)
	}
	if c.RefreshInterval < 0 {
		return fmt.Errorf("invalid config: refresh_interval must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid config: unknown log.level %q", c.Log.Level)
	}
	return c.validateAccess()
}

// Path returns the path to the config file.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// Reload reloads the configuration from all sources.
func (c *Config) Reload() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	newCfg, err := load(c.path, c.flags)
	if err != nil {
		return err
	}

	// Update fields
	c.Name = newCfg.Name
	c.DataDir = newCfg.DataDir
	c.Backend = newCfg.Backend
	c.RefreshInterval = newCfg.RefreshInterval
	c.Routing = newCfg.Routing
	c.Sync = newCfg.Sync
	c.Log = newCfg.Log
	c.Server = newCfg.Server
	c.Proxy = newCfg.Proxy
	c.AnonymousAccess = newCfg.AnonymousAccess
	c.AllowKeyless = newCfg.AllowKeyless
	c.Users = newCfg.Users
	c.Public = newCfg.Public

	return nil
}

// Services returns the backend service base URLs, each falling back to
// backend.base_url.
func (c *Config) Services() backend.Services {
	c.mu.RLock()
	defer c.mu.RUnlock()

	base := strings.TrimRight(c.Backend.BaseURL, "/")
	pick := func(s string) string {
		if s = strings.TrimRight(strings.TrimSpace(s), "/"); s != "" {
			return s
		}
		return base
	}
	return backend.Services{
		DBManager: pick(c.Backend.Services.DBManager),
		AADSyncer: pick(c.Backend.Services.AADSyncer),
		UserSync:  pick(c.Backend.Services.UserSync),
		Jiali:     pick(c.Backend.Services.Jiali),
	}
}

// BackendTimeout returns the HTTP timeout for backend calls.
func (c *Config) BackendTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Backend.Timeout <= 0 {
		return 60 * time.Second
	}
	return c.Backend.Timeout
}

// PreferCurrent reports whether routing ties go to the current database.
func (c *Config) PreferCurrent() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Routing.PreferCurrent
}

// PollInterval returns the pending-sync polling interval.
func (c *Config) PollInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Sync.PollInterval
}

// CorpID returns the default corp id for user sync.
func (c *Config) CorpID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Sync.CorpID
}

// FindUserByPublicKey finds a user by their SSH public key.
func (c *Config) FindUserByPublicKey(keyFingerprint string) *User {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := range c.Users {
		for _, key := range c.Users[i].PublicKeys {
			if key == keyFingerprint {
				return &c.Users[i]
			}
		}
	}
	return nil
}

// SSHListen returns the SSH listen address.
func (c *Config) SSHListen() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server.SSH.Listen
}

// ProxySettings returns the reverse proxy configuration.
func (c *Config) ProxySettings() ProxyConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Proxy
}

// UserList returns a copy of the configured users.
func (c *Config) UserList() []User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.Users)
}

// AnonymousLogins reports whether keyless logins are allowed and whether
// unknown keys may log in anonymously.
func (c *Config) AnonymousLogins() (keyless, unknownKeys bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.AllowKeyless, c.AllowKeyless || access.ParseLevel(c.AnonymousAccess) != access.None
}

// GetIdleTimeout parses and returns the idle timeout duration.
func (c *Config) GetIdleTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, err := time.ParseDuration(c.Server.SSH.IdleTimeout)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// GetMaxTimeout parses and returns the max timeout duration.
func (c *Config) GetMaxTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, err := time.ParseDuration(c.Server.SSH.MaxTimeout)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// GetDataDir returns the data directory path (for history, keys, logs).
func (c *Config) GetDataDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.DataDir == "" {
		return ".dbconsole"
	}
	return c.DataDir
}

// GetHostKeyPath returns the SSH host key path, defaulting into the data directory.
func (c *Config) GetHostKeyPath() string {
	c.mu.RLock()
	p := c.Server.SSH.HostKeyPath
	c.mu.RUnlock()
	if p != "" {
		return p
	}
	return filepath.Join(c.GetDataDir(), "host_key")
}

// GetLogPath returns the log file path, defaulting into the data directory.
func (c *Config) GetLogPath() string {
	c.mu.RLock()
	p := c.Log.Path
	c.mu.RUnlock()
	if p != "" {
		return p
	}
	return filepath.Join(c.GetDataDir(), "dbconsole.log")
}
