package tui

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2/quick"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// historyView is the state of the history and favorites overlay.
type historyView struct {
	favorites bool
	search    string
	cursor    int
}

// historyItem is one row of the overlay.
type historyItem struct {
	SQL      string
	Database string
	When     time.Time
	Success  bool
	Favorite bool
}

func (a *App) openHistory(favorites bool) {
	a.overlay = overlayHistory
	a.history = historyView{favorites: favorites}
}

// historyItems returns the entries matching the search term.
func (a *App) historyItems() []historyItem {
	log := a.console.Log()
	var items []historyItem
	if a.history.favorites {
		needle := strings.ToLower(a.history.search)
		for _, f := range log.Favorites() {
			if strings.Contains(strings.ToLower(f.SQL), needle) {
				items = append(items, historyItem{SQL: f.SQL, When: f.Timestamp, Success: true, Favorite: true})
			}
		}
		return items
	}
	for e := range log.Search(a.history.search) {
		items = append(items, historyItem{
			SQL:      e.SQL,
			Database: e.Database,
			When:     e.Timestamp,
			Success:  e.Success,
			Favorite: log.IsFavorite(e.SQL),
		})
	}
	return items
}

func (a *App) handleHistoryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	items := a.historyItems()

	switch msg.Type {
	case tea.KeyEsc:
		a.overlay = overlayNone
		return a, nil

	case tea.KeyTab, tea.KeyShiftTab:
		a.history.favorites = !a.history.favorites
		a.history.cursor = 0
		return a, nil

	case tea.KeyUp:
		a.history.cursor = clamp(a.history.cursor-1, len(items))
		return a, nil

	case tea.KeyDown:
		a.history.cursor = clamp(a.history.cursor+1, len(items))
		return a, nil

	case tea.KeyEnter:
		if a.history.cursor < len(items) {
			a.overlay = overlayNone
			return a, a.startQuery(items[a.history.cursor].SQL)
		}
		return a, nil

	case tea.KeyCtrlF:
		if a.history.cursor < len(items) {
			a.console.Log().ToggleFavorite(items[a.history.cursor].SQL)
			a.history.cursor = clamp(a.history.cursor, len(a.historyItems()))
		}
		return a, nil

	case tea.KeyBackspace:
		if r := []rune(a.history.search); len(r) > 0 {
			a.history.search = string(r[:len(r)-1])
			a.history.cursor = 0
		}
		return a, nil

	case tea.KeyRunes:
		a.history.search += string(msg.Runes)
		a.history.cursor = 0
		return a, nil

	case tea.KeySpace:
		a.history.search += " "
		a.history.cursor = 0
		return a, nil
	}
	return a, nil
}

func (a *App) renderHistory() string {
	width := max(min(a.width-8, 110), 30)
	visible := max(a.height-12, 3)
	items := a.historyItems()

	var b strings.Builder

	tabs := []string{"History", "Favorites"}
	for i, tab := range tabs {
		if (i == 1) == a.history.favorites {
			b.WriteString(selectedItemStyle.Render("[" + tab + "]"))
		} else {
			b.WriteString(dimItemStyle.Render(" " + tab + " "))
		}
		b.WriteString(" ")
	}
	b.WriteString("\n")
	b.WriteString(queryPromptStyle.Render("Search: "))
	b.WriteString(queryInputStyle.Render(a.history.search + "█"))
	b.WriteString("\n\n")

	if len(items) == 0 {
		if a.history.favorites {
			b.WriteString(dimItemStyle.Render("No favorites"))
		} else {
			b.WriteString(dimItemStyle.Render("No query history"))
		}
	}

	offset := max(a.history.cursor-visible+1, 0)
	end := min(offset+visible, len(items))
	for i := offset; i < end; i++ {
		item := items[i]
		mark := "  "
		if item.Favorite {
			mark = favoriteMarkStyle.Render("★ ")
		}
		status := successStyle.Render("✓")
		if !item.Success {
			status = errorStyle.Render("✗")
		}
		meta := humanize.Time(item.When)
		if item.Database != "" {
			meta = fmt.Sprintf("%s, %s", item.Database, meta)
		}
		meta = dimItemStyle.Render(" (" + meta + ")")
		sql := truncateString(oneLine(item.SQL), width-lipgloss.Width(meta)-6)

		line := mark + status + " " + sql
		if i == a.history.cursor {
			line = mark + status + " " + selectedItemStyle.Render(sql)
		}
		b.WriteString(line + meta)
		if i < end-1 {
			b.WriteString("\n")
		}
	}

	if a.history.cursor < len(items) {
		b.WriteString("\n\n")
		b.WriteString(highlightSQL(items[a.history.cursor].SQL))
	}

	b.WriteString("\n\n")
	b.WriteString(dimItemStyle.Render("enter: use  ctrl+f: favorite  tab: switch  esc: close"))

	title := "Query History"
	if a.history.favorites {
		title = "Favorites"
	}
	modal := modalStyle.Width(width).Render(titleStyle.Render(title) + "\n\n" + b.String())
	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, modal)
}

// highlightSQL colors sql for the terminal, falling back to plain text.
func highlightSQL(sql string) string {
	var buf bytes.Buffer
	if err := quick.Highlight(&buf, sql, "sql", "terminal256", "monokai"); err != nil {
		return sql
	}
	return strings.TrimRight(buf.String(), "\n")
}

// oneLine collapses whitespace so a statement fits on one line.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
