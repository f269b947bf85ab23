package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/johan-st/dbconsole/internal/access"
	"github.com/johan-st/dbconsole/internal/history"
)

// Session represents an active SSH session.
type Session struct {
	ID           string
	User         *access.UserInfo
	RemoteAddr   string
	StartTime    time.Time
	LastActivity time.Time
	mu           sync.RWMutex
	manager      *SessionManager
}

// NewSession creates a new session.
func NewSession(user *access.UserInfo, remoteAddr string) *Session {
	now := time.Now()
	return &Session{
		ID:           uuid.New().String(),
		User:         user,
		RemoteAddr:   remoteAddr,
		StartTime:    now,
		LastActivity: now,
	}
}

// Touch updates the last activity time, persisting it when the session is
// managed.
func (s *Session) Touch() {
	s.mu.Lock()
	s.LastActivity = time.Now()
	s.mu.Unlock()

	if s.manager != nil {
		s.manager.persistActivity(s.ID)
	}
}

// Duration returns how long the session has been active.
func (s *Session) Duration() time.Duration {
	return time.Since(s.StartTime)
}

// ToHistorySession converts to a history.Session for storage.
func (s *Session) ToHistorySession() *history.Session {
	return history.NewSession(s.ID, s.User, s.RemoteAddr)
}

// SessionStore persists session lifecycles.
type SessionStore interface {
	CreateSession(session *history.Session) error
	UpdateSessionActivity(sessionID string) error
	EndSession(sessionID string) error
}

// SessionManager manages active sessions.
type SessionManager struct {
	sessions map[string]*Session
	store    SessionStore
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewSessionManager creates a new session manager. store may be nil.
func NewSessionManager(store SessionStore, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		sessions: make(map[string]*Session),
		store:    store,
		logger:   logger,
	}
}

// CreateSession creates and registers a new session. Persistence failures
// are logged and do not prevent the session.
func (sm *SessionManager) CreateSession(user *access.UserInfo, remoteAddr string) *Session {
	session := NewSession(user, remoteAddr)
	session.manager = sm

	sm.mu.Lock()
	sm.sessions[session.ID] = session
	sm.mu.Unlock()

	if sm.store != nil {
		if err := sm.store.CreateSession(session.ToHistorySession()); err != nil {
			sm.logger.Warn("failed to persist session", "session", session.ID, "error", err)
		}
	}
	return session
}

// EndSession ends a session.
func (sm *SessionManager) EndSession(id string) {
	sm.mu.Lock()
	delete(sm.sessions, id)
	sm.mu.Unlock()

	if sm.store != nil {
		if err := sm.store.EndSession(id); err != nil {
			sm.logger.Warn("failed to end session", "session", id, "error", err)
		}
	}
}

// Count returns the number of active sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

func (sm *SessionManager) persistActivity(id string) {
	if sm.store == nil {
		return
	}
	if err := sm.store.UpdateSessionActivity(id); err != nil {
		sm.logger.Warn("failed to update session activity", "session", id, "error", err)
	}
}
