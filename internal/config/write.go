package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const fileHeader = `# dbconsole configuration
#
# Values can be overridden with DBCONSOLE_* environment variables, using a
# double underscore for nesting (DBCONSOLE_BACKEND__BASE_URL), and with flags.
#
# Access levels: none, read-only, read-write, admin.

`

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// SampleConfig returns the defaults plus an example user and public rule.
func SampleConfig() *Config {
	cfg := DefaultConfig()
	cfg.Users = []User{
		{
			Name:       "admin",
			Admin:      true,
			PublicKeys: []string{"SHA256:replace-with-your-key-fingerprint"},
		},
		{
			Name:   "analyst",
			Access: []AccessRule{{Pattern: "*", Level: "read-only"}},
		},
	}
	cfg.Public = []AccessRule{{Pattern: "demo_*", Level: "read-only"}}
	return cfg
}

// WriteDefault writes the sample configuration to path. An existing file is
// only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}

	data, err := SampleConfig().Marshal()
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, append([]byte(fileHeader), data...), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
