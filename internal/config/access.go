package config

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/johan-st/dbconsole/internal/access"
)

// AccessRule grants a level on the databases whose name matches Pattern.
type AccessRule struct {
	Pattern string `koanf:"pattern" yaml:"pattern"`
	Level   string `koanf:"level" yaml:"level"`
}

// User represents a user in the config file.
type User struct {
	Name       string       `koanf:"name" yaml:"name"`
	Admin      bool         `koanf:"admin" yaml:"admin"`
	PublicKeys []string     `koanf:"public_keys" yaml:"public_keys"`
	Access     []AccessRule `koanf:"access" yaml:"access"`
}

// validLevel reports whether s names an access level. ParseLevel maps
// anything unknown to none, so a typo would silently deny access.
func validLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "no-access", "read-only", "readonly", "ro", "read-write", "readwrite", "rw", "admin":
		return true
	}
	return false
}

func (r AccessRule) validate(where string) error {
	if !doublestar.ValidatePattern(r.Pattern) {
		return fmt.Errorf("invalid config: %s: bad pattern %q", where, r.Pattern)
	}
	if !validLevel(r.Level) {
		return fmt.Errorf("invalid config: %s: unknown level %q", where, r.Level)
	}
	return nil
}

func (c *Config) validateAccess() error {
	if c.AnonymousAccess != "" && !validLevel(c.AnonymousAccess) {
		return fmt.Errorf("invalid config: unknown anonymous_access %q", c.AnonymousAccess)
	}
	for i, r := range c.Public {
		if err := r.validate(fmt.Sprintf("public[%d]", i)); err != nil {
			return err
		}
	}
	seen := make(map[string]bool, len(c.Users))
	for i, u := range c.Users {
		if strings.TrimSpace(u.Name) == "" {
			return fmt.Errorf("invalid config: users[%d] has no name", i)
		}
		if seen[u.Name] {
			return fmt.Errorf("invalid config: duplicate user %q", u.Name)
		}
		seen[u.Name] = true
		for j, r := range u.Access {
			if err := r.validate(fmt.Sprintf("users[%d].access[%d]", i, j)); err != nil {
				return err
			}
		}
	}
	return nil
}

// BuildResolver creates an access.Resolver from the configuration.
func (c *Config) BuildResolver() *access.Resolver {
	c.mu.RLock()
	defer c.mu.RUnlock()

	resolver := access.NewResolver()
	resolver.SetAnonymousAccess(access.ParseLevel(c.AnonymousAccess))

	for _, r := range c.Public {
		resolver.AddPublicRule(r.Pattern, access.ParseLevel(r.Level))
	}
	for _, user := range c.Users {
		if user.Admin {
			resolver.AddAdmin(user.Name)
		}
		for _, r := range user.Access {
			resolver.AddUserRule(user.Name, r.Pattern, access.ParseLevel(r.Level))
		}
	}
	return resolver
}
