package console

import (
	"log/slog"

	"github.com/johan-st/dbconsole/internal/access"
	"github.com/johan-st/dbconsole/internal/history"
)

// Env holds the collaborators shared by every console of a process.
type Env struct {
	Backend Backend
	Catalog Registry
	Policy  *Policy
	// Store persists query logs and the audit log. Without it query logs
	// live in memory and nothing is audited.
	Store  *history.Store
	Logger *slog.Logger
}

// Open creates a console for user with the user's query log loaded.
func (e *Env) Open(user *access.UserInfo, sessionID string) *Console {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var kv history.KV = history.NewMemoryKV()
	var audit Auditor
	if e.Store != nil {
		kv = e.Store.KV(history.Namespace(user))
		audit = e.Store
	}

	log := history.NewQueryLog(kv, history.WithLogger(logger))
	log.Load()

	return New(Options{
		Backend:   e.Backend,
		Catalog:   e.Catalog,
		Policy:    e.Policy,
		Log:       log,
		Audit:     audit,
		User:      user,
		SessionID: sessionID,
		Logger:    logger,
	})
}
