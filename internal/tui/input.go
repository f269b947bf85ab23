package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		a.console.Cancel()
		a.jobPanel.stop()
		return a, tea.Quit
	}

	// Handle query input mode
	if a.queryActive {
		return a.handleQueryInput(msg)
	}

	switch a.overlay {
	case overlayHistory:
		return a.handleHistoryKey(msg)
	case overlayJobs:
		return a.handleJobsKey(msg)
	case overlayHelp, overlayStructure, overlayLogs:
		if key.Matches(msg, a.keys.Back) || key.Matches(msg, a.keys.Help) || key.Matches(msg, a.keys.Quit) {
			if a.overlay == overlayLogs && a.logs != nil {
				a.logs.ClearCounts()
			}
			a.overlay = overlayNone
		}
		return a, nil
	}

	if a.confirmDelete != "" {
		return a.handleDeleteConfirm(msg)
	}

	switch {
	case key.Matches(msg, a.keys.Quit):
		a.console.Cancel()
		a.jobPanel.stop()
		return a, tea.Quit

	case key.Matches(msg, a.keys.Help):
		a.overlay = overlayHelp
		return a, nil

	case key.Matches(msg, a.keys.Query):
		return a, a.startQuery("")

	case key.Matches(msg, a.keys.History):
		a.openHistory(false)
		return a, nil

	case key.Matches(msg, a.keys.Jobs):
		if a.jobs == nil {
			a.notice = "Sync jobs are not configured"
			return a, nil
		}
		a.overlay = overlayJobs
		return a, nil

	case key.Matches(msg, a.keys.Logs):
		a.overlay = overlayLogs
		return a, nil

	case key.Matches(msg, a.keys.Back):
		if a.queryRunning {
			a.console.Cancel()
			a.queryRunning = false
			a.queryNotice = "cancelled"
		}
		a.err = nil
		a.notice = ""
		return a, nil

	case key.Matches(msg, a.keys.Refresh):
		a.notice = "Refreshing..."
		return a, a.refreshRegistry

	case key.Matches(msg, a.keys.NextPane):
		a.focus = (a.focus + 1) % 3
		a.updateFocus()
		return a, nil

	case key.Matches(msg, a.keys.PrevPane):
		a.focus = (a.focus + 2) % 3
		a.updateFocus()
		return a, nil

	case key.Matches(msg, a.keys.Left):
		if a.focus == FocusData {
			// Scroll columns left, or move to Tables panel if at leftmost
			if a.colOffset > 0 {
				a.colOffset--
				a.updateDataTable()
				a.updateTableHeight()
			} else {
				a.focus = FocusTables
				a.updateFocus()
			}
		} else if a.focus > 0 {
			a.focus--
			a.updateFocus()
		}
		return a, nil

	case key.Matches(msg, a.keys.Right):
		if a.focus == FocusData {
			if a.colOffset < len(a.dataColumns)-1 {
				a.colOffset++
				a.updateDataTable()
				a.updateTableHeight()
			}
		} else if a.focus < FocusData {
			a.focus++
			a.updateFocus()
		}
		return a, nil

	case key.Matches(msg, a.keys.Up):
		return a.moveCursor(-1)

	case key.Matches(msg, a.keys.Down):
		return a.moveCursor(1)

	case key.Matches(msg, a.keys.PageUp):
		return a.moveCursor(-10)

	case key.Matches(msg, a.keys.PageDown):
		return a.moveCursor(10)

	case key.Matches(msg, a.keys.Home):
		return a.moveCursor(-len(a.dataRows) - len(a.tables) - len(a.databases))

	case key.Matches(msg, a.keys.End):
		return a.moveCursor(len(a.dataRows) + len(a.tables) + len(a.databases))

	case key.Matches(msg, a.keys.NextPage):
		if !a.showsResult && a.page < a.pages {
			return a, a.loadPage(a.page + 1)
		}
		return a, nil

	case key.Matches(msg, a.keys.PrevPage):
		if !a.showsResult && a.page > 1 {
			return a, a.loadPage(a.page - 1)
		}
		return a, nil

	case key.Matches(msg, a.keys.Select):
		return a.handleSelect()

	case key.Matches(msg, a.keys.Structure):
		if a.currentTable() != "" {
			a.overlay = overlayStructure
			a.structure = nil
			return a, a.loadStructure
		}
		return a, nil

	case key.Matches(msg, a.keys.Delete):
		if a.focus != FocusData {
			return a, nil
		}
		if !a.console.Level(a.currentDB()).CanWrite() {
			a.notice = "Delete requires write access"
			return a, nil
		}
		if id, ok := a.selectedRowID(); ok {
			a.confirmDelete = id
			a.updateTableHeight()
		}
		return a, nil
	}

	return a, nil
}

func (a *App) handleDeleteConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	id := a.confirmDelete
	a.confirmDelete = ""
	a.updateTableHeight()
	if msg.String() == "y" {
		return a, a.deleteRow(id)
	}
	a.notice = "Delete cancelled"
	return a, nil
}

func (a *App) updateFocus() {
	a.dataTable.Blur()
	if a.focus == FocusData {
		a.dataTable.Focus()
	}
}

// moveCursor moves the cursor of the focused pane by delta, clamped.
func (a *App) moveCursor(delta int) (tea.Model, tea.Cmd) {
	switch a.focus {
	case FocusDatabases:
		next := clamp(a.selectedDB+delta, len(a.databases))
		if next == a.selectedDB {
			return a, nil
		}
		a.selectedDB = next
		return a, a.selectDatabase()

	case FocusTables:
		next := clamp(a.selectedTable+delta, len(a.tables))
		if next == a.selectedTable {
			return a, nil
		}
		a.selectedTable = next
		return a, a.loadPage(1)

	case FocusData:
		a.selectedRow = clamp(a.selectedRow+delta, len(a.dataRows))
		a.dataTable.SetCursor(a.selectedRow)
		a.updateTableHeight()
	}
	return a, nil
}

func (a *App) handleSelect() (tea.Model, tea.Cmd) {
	switch a.focus {
	case FocusDatabases:
		a.focus = FocusTables
		a.updateFocus()
		return a, nil
	case FocusTables:
		a.focus = FocusData
		a.updateFocus()
		if a.showsResult {
			return a, a.loadPage(1)
		}
	}
	return a, nil
}

// startQuery focuses the query bar, replacing its text unless sql is empty.
func (a *App) startQuery(sql string) tea.Cmd {
	a.queryActive = true
	a.queryHistoryIdx = -1
	a.queryHistoryDraft = ""
	if sql != "" {
		a.setQueryText(sql)
	}
	return a.queryInput.Focus()
}

func (a *App) setQueryText(sql string) {
	a.queryInput.SetValue(sql)
	a.queryInput.CursorEnd()
}

func (a *App) handleQueryInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.Favorite):
		sql := a.queryInput.Value()
		if strings.TrimSpace(sql) == "" {
			return a, nil
		}
		if a.console.Log().ToggleFavorite(sql) {
			a.notice = "Added to favorites"
		} else {
			a.notice = "Removed from favorites"
		}
		return a, nil

	case msg.Type == tea.KeyCtrlR:
		a.queryActive = false
		a.queryInput.Blur()
		a.openHistory(false)
		return a, nil
	}

	switch msg.Type {
	case tea.KeyEsc:
		a.queryActive = false
		a.queryHistoryIdx = -1
		a.queryInput.Blur()
		return a, nil

	case tea.KeyEnter:
		sql := strings.TrimSpace(a.queryInput.Value())
		a.queryActive = false
		a.queryHistoryIdx = -1
		a.queryInput.Blur()
		if sql == "" {
			return a, nil
		}
		a.queryRunning = true
		a.queryError = nil
		a.queryNotice = ""
		a.notice = ""
		return a, tea.Batch(a.executeQuery(sql), a.spinner.Tick)

	case tea.KeyUp:
		// Navigate to older query in history
		history := a.console.Log().History()
		if a.queryHistoryIdx < len(history)-1 {
			if a.queryHistoryIdx == -1 {
				a.queryHistoryDraft = a.queryInput.Value()
			}
			a.queryHistoryIdx++
			a.setQueryText(history[a.queryHistoryIdx].SQL)
		}
		return a, nil

	case tea.KeyDown:
		// Navigate to newer query in history
		if a.queryHistoryIdx > -1 {
			a.queryHistoryIdx--
			if a.queryHistoryIdx == -1 {
				a.setQueryText(a.queryHistoryDraft)
			} else if history := a.console.Log().History(); a.queryHistoryIdx < len(history) {
				a.setQueryText(history[a.queryHistoryIdx].SQL)
			}
		}
		return a, nil
	}

	var cmd tea.Cmd
	a.queryInput, cmd = a.queryInput.Update(msg)
	return a, cmd
}

// clamp limits i to [0, n).
func clamp(i, n int) int {
	if n <= 0 || i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
