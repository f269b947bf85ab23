package history

import (
	"time"

	"github.com/johan-st/dbconsole/internal/access"
)

// Session represents a user session.
type Session struct {
	ID                   string
	UserName             string // Authenticated username or empty
	PublicKeyFingerprint string // SSH key fingerprint or empty
	AnonymousName        string // Generated name for anonymous users
	RemoteAddr           string
	CreatedAt            time.Time
	LastActiveAt         time.Time
	IsActive             bool
}

// AuditRecord represents an audit log entry.
type AuditRecord struct {
	ID        int64
	SessionID string
	Actor     string
	Action    string
	Database  string
	Table     string
	Details   string // JSON with specifics
	CreatedAt time.Time
}

// NewSession creates a new session from user info.
func NewSession(id string, user *access.UserInfo, remoteAddr string) *Session {
	s := &Session{
		ID:           id,
		RemoteAddr:   remoteAddr,
		CreatedAt:    time.Now(),
		LastActiveAt: time.Now(),
		IsActive:     true,
	}

	if user != nil {
		if user.IsAnonymous {
			s.AnonymousName = user.AnonymousName
		} else {
			s.UserName = user.Name
			s.PublicKeyFingerprint = user.PublicKeyFP
		}
	}

	return s
}

// DisplayName returns the display name for the session.
func (s *Session) DisplayName() string {
	if s.UserName != "" {
		return s.UserName
	}
	if s.AnonymousName != "" {
		return s.AnonymousName
	}
	return "unknown"
}

// LocalNamespace is the key-value namespace used outside of SSH sessions.
const LocalNamespace = "local"

const anonymousPrefix = "anon:"

// Namespace returns the key-value namespace holding a user's query log.
// Anonymous users get a namespace per generated name.
func Namespace(user *access.UserInfo) string {
	switch {
	case user == nil:
		return LocalNamespace
	case user.IsAnonymous:
		return anonymousPrefix + user.AnonymousName
	case user.Name != "":
		return "user:" + user.Name
	default:
		return LocalNamespace
	}
}

// Actor returns the name recorded in the audit log for user.
func Actor(user *access.UserInfo) string {
	switch {
	case user == nil:
		return "local"
	case user.IsAnonymous:
		return user.AnonymousName
	default:
		return user.Name
	}
}

// AuditAction constants
const (
	ActionExecute     = "execute"
	ActionDeleteRow   = "delete_row"
	ActionSyncAAD     = "sync_aad"
	ActionSyncUsers   = "sync_users"
	ActionSyncDept    = "sync_departments"
	ActionInitUsers   = "init_users"
	ActionSFEFetch    = "sfe_fetch"
	ActionSFEExecute  = "sfe_execute"
	ActionExport      = "export"
	ActionDeniedQuery = "denied_query"
)
