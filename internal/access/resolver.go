package access

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Rule represents an access rule for a database name pattern.
type Rule struct {
	Pattern string
	Level   Level
}

// Resolver resolves access levels for users and databases.
type Resolver struct {
	// Default access level for anonymous users
	AnonymousAccess Level

	// Public database rules (accessible without auth)
	PublicRules []Rule

	// User-specific rules (keyed by username)
	UserRules map[string][]Rule

	// Admin usernames (have full access to everything)
	Admins map[string]bool
}

// NewResolver creates a new access resolver.
func NewResolver() *Resolver {
	return &Resolver{
		AnonymousAccess: None,
		PublicRules:     make([]Rule, 0),
		UserRules:       make(map[string][]Rule),
		Admins:          make(map[string]bool),
	}
}

// SetAnonymousAccess sets the default access level for anonymous users.
func (r *Resolver) SetAnonymousAccess(level Level) {
	r.AnonymousAccess = level
}

// AddAdmin marks a user as admin.
func (r *Resolver) AddAdmin(username string) {
	r.Admins[username] = true
}

// AddPublicRule adds a public database rule.
func (r *Resolver) AddPublicRule(pattern string, level Level) {
	r.PublicRules = append(r.PublicRules, Rule{Pattern: pattern, Level: level})
}

// AddUserRule adds an access rule for a specific user.
func (r *Resolver) AddUserRule(username, pattern string, level Level) {
	r.UserRules[username] = append(r.UserRules[username], Rule{Pattern: pattern, Level: level})
}

// Resolve determines the access level for a user to a backend database.
func (r *Resolver) Resolve(user *UserInfo, database string) Level {
	// 1. If user is admin (either via flag or in admin list), they have full access
	if user != nil && user.IsAdmin {
		return Admin
	}
	if user != nil && !user.IsAnonymous && r.Admins[user.Name] {
		return Admin
	}

	// 2. Check user-specific rules
	if user != nil && !user.IsAnonymous {
		if level, ok := matchRules(r.UserRules[user.Name], database); ok {
			return level
		}
	}

	// 3. Check public rules; an explicit none denies
	if level, ok := matchRules(r.PublicRules, database); ok {
		return level
	}

	// 4. Fall back to anonymous access level
	return r.AnonymousAccess
}

// ResolveGlobal returns the level for actions not tied to one database, such
// as sync jobs. Admins get Admin. A user's rules are matched against the
// literal name "*", so only a "*" or "**" pattern grants a global level;
// narrower patterns such as "crm*" fall through to the anonymous default.
func (r *Resolver) ResolveGlobal(user *UserInfo) Level {
	if user != nil && (user.IsAdmin || (!user.IsAnonymous && r.Admins[user.Name])) {
		return Admin
	}
	if user != nil && !user.IsAnonymous {
		if level, ok := matchRules(r.UserRules[user.Name], "*"); ok {
			return level
		}
	}
	return r.AnonymousAccess
}

// matchRules finds the first matching rule.
func matchRules(rules []Rule, database string) (Level, bool) {
	for _, rule := range rules {
		if matchPattern(rule.Pattern, database) {
			return rule.Level, true
		}
	}
	return None, false
}

// matchPattern checks if a pattern matches a database name.
func matchPattern(pattern, database string) bool {
	pattern = strings.TrimSpace(pattern)
	database = strings.TrimSpace(database)
	if pattern == "" {
		return false
	}

	if strings.EqualFold(pattern, database) {
		return true
	}

	matched, _ := doublestar.Match(pattern, database)
	return matched
}

// CanAccess returns true if the user has at least read access to the database.
func (r *Resolver) CanAccess(user *UserInfo, database string) bool {
	return r.Resolve(user, database).CanRead()
}

