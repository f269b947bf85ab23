package server

import (
	"log/slog"
	"time"

	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/johan-st/dbconsole/internal/access"
)

// Context keys for middleware values
type ctxKey string

const (
	ctxKeySession ctxKey = "session"
	ctxKeyUser    ctxKey = "user"
)

// SessionMiddleware creates sessions for each connection.
func SessionMiddleware(sessionMgr *SessionManager, logger *slog.Logger) wish.Middleware {
	return func(next ssh.Handler) ssh.Handler {
		return func(s ssh.Session) {
			user := GetUserFromContext(s.Context())
			if user == nil {
				user = &access.UserInfo{
					IsAnonymous:   true,
					AnonymousName: "unknown",
					RemoteAddr:    s.RemoteAddr().String(),
				}
				s.Context().SetValue(ctxKeyUser, user)
			}

			session := sessionMgr.CreateSession(user, s.RemoteAddr().String())
			s.Context().SetValue(ctxKeySession, session)
			defer func() {
				sessionMgr.EndSession(session.ID)
				logger.Debug("session ended", "session", session.ID, "duration", session.Duration().Round(time.Second))
			}()

			next(s)
		}
	}
}

// LoggingMiddleware logs connections.
func LoggingMiddleware(logger *slog.Logger) wish.Middleware {
	return func(next ssh.Handler) ssh.Handler {
		return func(s ssh.Session) {
			user := GetUserFromContext(s.Context())
			start := time.Now()

			logger.Info("connection",
				"remote", s.RemoteAddr().String(),
				"user", user.DisplayName(),
				"command", s.Command())

			next(s)

			logger.Info("disconnected",
				"remote", s.RemoteAddr().String(),
				"user", user.DisplayName(),
				"duration", time.Since(start).Round(time.Millisecond))
		}
	}
}

// GetSessionFromSSH retrieves the session from the SSH session context.
func GetSessionFromSSH(s ssh.Session) *Session {
	if session, ok := s.Context().Value(ctxKeySession).(*Session); ok {
		return session
	}
	return nil
}
