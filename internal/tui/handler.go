package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish/bubbletea"
	"github.com/johan-st/dbconsole/internal/console"
	"github.com/johan-st/dbconsole/internal/server"
)

// Handler returns a bubbletea middleware handler for SSH sessions. Each
// session gets its own console; opts supplies everything else.
func Handler(env *console.Env, opts Options) bubbletea.Handler {
	return func(s ssh.Session) (tea.Model, []tea.ProgramOption) {
		pty, _, ok := s.Pty()
		if !ok {
			// This shouldn't happen as routing middleware checks for PTY
			return nil, nil
		}

		o := opts
		var sessionID string
		if session := server.GetSessionFromSSH(s); session != nil {
			sessionID = session.ID
			o.Activity = session.Touch
		}

		o.Console = env.Open(server.GetUserFromContext(s.Context()), sessionID)
		o.Context = s.Context()
		o.Width, o.Height = pty.Window.Width, pty.Window.Height

		return NewApp(o), []tea.ProgramOption{
			tea.WithAltScreen(),
			tea.WithMouseCellMotion(),
		}
	}
}
