package tui

import (
	"log/slog"

	"github.com/charmbracelet/lipgloss"
	"github.com/johan-st/dbconsole/internal/access"
)

// Palette
var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	secondaryColor = lipgloss.Color("#10B981") // Green
	accentColor    = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#EF4444") // Red
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	textColor      = lipgloss.Color("#F3F4F6") // Light gray
	barColor       = lipgloss.Color("#1F2937")
	rowColor       = lipgloss.Color("#374151")
)

func fg(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

func bold(c lipgloss.Color) lipgloss.Style {
	return fg(c).Bold(true)
}

var (
	paneHeaderStyle         = bold(textColor)
	borderTitleStyle        = fg(mutedColor)
	focusedBorderTitleStyle = bold(primaryColor)
	titleStyle              = bold(primaryColor)

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 2)

	selectedItemStyle = bold(primaryColor)
	normalItemStyle   = fg(textColor)
	dimItemStyle      = fg(mutedColor)
	favoriteMarkStyle = fg(accentColor)

	queryPromptStyle = bold(primaryColor)
	queryInputStyle  = fg(textColor)

	helpKeyStyle  = bold(accentColor)
	helpDescStyle = fg(mutedColor)

	errorStyle   = bold(errorColor)
	successStyle = fg(secondaryColor)
)

// Data table
var (
	tableHeaderStyle = bold(textColor).
				BorderBottom(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderForeground(mutedColor)

	tableCellStyle = fg(textColor).PaddingRight(2)

	tableSelectedRowStyle = fg(textColor).Background(rowColor)
)

// Status bar
var (
	statusBarStyle = fg(textColor).
			Background(barColor).
			Padding(0, 1)

	statusKeyStyle   = bold(accentColor)
	statusValueStyle = fg(textColor)
	pendingStyle     = fg(accentColor)
	warnCountStyle   = bold(accentColor)
	errorCountStyle  = bold(errorColor)
)

type badge struct {
	label string
	style lipgloss.Style
}

func newBadge(label string, bg, text lipgloss.Color) badge {
	return badge{label: label, style: fg(text).Background(bg).Padding(0, 1)}
}

var levelBadges = map[access.Level]badge{
	access.Admin:     newBadge("ADMIN", primaryColor, "#FFF"),
	access.ReadWrite: newBadge("RW", secondaryColor, "#FFF"),
	access.ReadOnly:  newBadge("RO", accentColor, "#000"),
	access.None:      newBadge("NO", errorColor, "#FFF"),
}

// levelBadge renders the user's access level for the status bar.
func levelBadge(level access.Level) string {
	b, ok := levelBadges[level]
	if !ok {
		b = levelBadges[access.None]
	}
	return b.style.Render(b.label)
}

// logStyle colors a captured log line by severity.
func logStyle(level slog.Level) lipgloss.Style {
	switch {
	case level >= slog.LevelError:
		return errorStyle
	case level >= slog.LevelWarn:
		return fg(accentColor)
	default:
		return normalItemStyle
	}
}
