package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/johan-st/dbconsole/internal/backend"
	"github.com/johan-st/dbconsole/internal/logger"
)

// View implements tea.Model.
func (a *App) View() string {
	if a.width < 40 || a.height < 10 {
		return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center,
			errorStyle.Render("Terminal too small\nMin: 40x10"))
	}

	switch a.overlay {
	case overlayHelp:
		return a.renderHelp()
	case overlayStructure:
		return a.renderStructure()
	case overlayHistory:
		return a.renderHistory()
	case overlayJobs:
		return a.renderJobs()
	case overlayLogs:
		return a.renderLogs()
	}

	dbWidth, tableWidth, dataWidth := a.paneWidths()
	contentHeight := a.height - 2 // query (1) + status (1)

	var b strings.Builder

	content := lipgloss.JoinHorizontal(lipgloss.Top,
		a.renderDBPane(dbWidth, contentHeight),
		a.renderTablePane(tableWidth, contentHeight),
		a.renderDataPane(dataWidth, contentHeight),
	)
	b.WriteString(content)
	b.WriteString("\n")
	b.WriteString(a.renderQueryBar())
	b.WriteString("\n")
	b.WriteString(a.renderStatusBar())

	return b.String()
}

// renderList renders a scrolling list with the selected item highlighted.
func renderList(items []string, selected, width, height int, empty string) string {
	if len(items) == 0 {
		return dimItemStyle.Render(" " + empty)
	}

	visible := max(height-2, 1) // borders
	offset := max(selected-visible+1, 0)

	var lines []string
	if offset > 0 {
		lines = append(lines, dimItemStyle.Render(" ↑ more"))
		visible = max(visible-1, 1)
		offset = max(selected-visible+1, 0)
	}
	end := min(offset+visible, len(items))
	for i := offset; i < end; i++ {
		item := truncateString(items[i], width-6)
		if i == selected {
			lines = append(lines, selectedItemStyle.Render("> "+item))
		} else {
			lines = append(lines, normalItemStyle.Render("  "+item))
		}
	}
	if end < len(items) {
		lines = append(lines, dimItemStyle.Render(" ↓ more"))
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderDBPane(width, height int) string {
	content := renderList(a.databases, a.selectedDB, width, height, "No databases")
	return a.renderPaneWithTitle(content, width, height, "Databases", a.focus == FocusDatabases)
}

func (a *App) renderTablePane(width, height int) string {
	names := make([]string, len(a.tables))
	for i, t := range a.tables {
		names[i] = t.Name
		if t.RowCount != nil {
			if label := fmt.Sprintf("%s ~%s", t.Name, humanize.Comma(*t.RowCount)); len(label) <= width-6 {
				names[i] = label
			}
		}
	}
	content := renderList(names, a.selectedTable, width, height, "No tables")
	return a.renderPaneWithTitle(content, width, height, "Tables", a.focus == FocusTables)
}

func (a *App) renderDataPane(width, height int) string {
	focused := a.focus == FocusData
	title := "Data"
	if a.dataTitle != "" {
		title = a.dataTitle
	}

	if len(a.dataColumns) == 0 {
		empty := "No data"
		if a.showsResult {
			empty = "Statement returned no rows"
		}
		return a.renderPaneWithTitle(dimItemStyle.Render(empty), width, height, title, focused)
	}

	var content strings.Builder

	// Column scroll indicator (header)
	totalCols := len(a.dataColumns)
	endCol := min(a.colOffset+a.visibleCols, totalCols)
	if a.colOffset > 0 || endCol < totalCols {
		leftArrow, rightArrow := "", ""
		if a.colOffset > 0 {
			leftArrow = fmt.Sprintf("← %d ", a.colOffset)
		}
		if endCol < totalCols {
			rightArrow = fmt.Sprintf(" %d →", totalCols-endCol)
		}
		content.WriteString(dimItemStyle.Render(fmt.Sprintf("%scols %d-%d/%d%s", leftArrow, a.colOffset+1, endCol, totalCols, rightArrow)))
		content.WriteString("\n")
	}

	content.WriteString(a.dataTable.View())

	switch {
	case a.confirmDelete != "":
		content.WriteString("\n")
		content.WriteString(errorStyle.Render(fmt.Sprintf("Delete row id=%s from %s? (y/n)", a.confirmDelete, a.currentTable())))
	case a.pages > 1:
		content.WriteString("\n")
		content.WriteString(dimItemStyle.Render(fmt.Sprintf("Page %d of %d (%s rows)  [ / ] to page", a.page, a.pages, humanize.Comma(a.totalRows))))
	}

	return a.renderPaneWithTitle(content.String(), width, height, title, focused)
}

// buildBorderTitle builds a top border line with an embedded title
// width is the total width including border characters
func (a *App) buildBorderTitle(width int, title string, focused bool) string {
	border := lipgloss.RoundedBorder()
	borderColor, style := mutedColor, borderTitleStyle
	if focused {
		borderColor, style = primaryColor, focusedBorderTitleStyle
	}
	borderStyle := lipgloss.NewStyle().Foreground(borderColor)

	// ╭─ Title ───────╮
	titleRendered := style.Render(truncateString(title, max(width-6, 1)))
	remaining := max(width-5-lipgloss.Width(titleRendered), 0)

	var b strings.Builder
	b.WriteString(borderStyle.Render(border.TopLeft + border.Top))
	b.WriteString(" ")
	b.WriteString(titleRendered)
	b.WriteString(" ")
	b.WriteString(borderStyle.Render(strings.Repeat(border.Top, remaining) + border.TopRight))
	return b.String()
}

// renderPaneWithTitle renders content in a pane with a title in the top border
func (a *App) renderPaneWithTitle(content string, width, height int, title string, focused bool) string {
	border := lipgloss.RoundedBorder()
	borderColor := mutedColor
	if focused {
		borderColor = primaryColor
	}
	borderStyle := lipgloss.NewStyle().Foreground(borderColor)

	innerWidth := max(width-2, 1)
	innerHeight := max(height-2, 1)

	lines := strings.Split(content, "\n")
	for len(lines) < innerHeight {
		lines = append(lines, "")
	}
	lines = lines[:innerHeight]

	var result strings.Builder
	result.WriteString(a.buildBorderTitle(width, title, focused))
	result.WriteString("\n")

	for _, line := range lines {
		padded := " " + line // left padding
		if w := lipgloss.Width(padded); w < innerWidth {
			padded += strings.Repeat(" ", innerWidth-w)
		}
		result.WriteString(borderStyle.Render(border.Left))
		result.WriteString(padded)
		result.WriteString(borderStyle.Render(border.Right))
		result.WriteString("\n")
	}

	result.WriteString(borderStyle.Render(border.BottomLeft + strings.Repeat(border.Bottom, innerWidth) + border.BottomRight))
	return result.String()
}

func (a *App) renderQueryBar() string {
	prompt := queryPromptStyle.Render("SQL> ")
	switch {
	case a.queryActive:
		fav := ""
		if a.console.Log().IsFavorite(a.queryInput.Value()) {
			fav = favoriteMarkStyle.Render(" ★")
		}
		return prompt + a.queryInput.View() + fav
	case a.queryRunning:
		return prompt + a.spinner.View() + dimItemStyle.Render(" running... (esc to cancel)")
	case a.queryError != nil:
		msg := errorStyle.Render(a.queryError.Error())
		if a.queryNotice != "" {
			msg = dimItemStyle.Render(a.queryNotice+" ") + msg
		}
		return prompt + msg
	case a.err != nil:
		return prompt + errorStyle.Render(a.err.Error())
	case a.notice != "":
		return prompt + successStyle.Render(a.notice)
	case a.queryNotice != "":
		return prompt + dimItemStyle.Render(a.queryNotice)
	}
	return prompt + dimItemStyle.Render("Press / to query, H for history")
}

func (a *App) renderStatusBar() string {
	var leftParts, rightParts []string

	leftParts = append(leftParts, titleStyle.Render("dbconsole"))
	leftParts = append(leftParts, dimItemStyle.Render(a.console.User().DisplayName()))

	if a.logs != nil {
		if warn, errs := a.logs.Counts(); warn+errs > 0 {
			if errs > 0 {
				leftParts = append(leftParts, errorCountStyle.Render(fmt.Sprintf("E:%d", errs)))
			}
			if warn > 0 {
				leftParts = append(leftParts, warnCountStyle.Render(fmt.Sprintf("W:%d", warn)))
			}
		}
	}

	if pending, ok := a.pendingSync(); ok {
		rightParts = append(rightParts, pendingStyle.Render(fmt.Sprintf("pending %d", pending)))
	}
	if a.jobPanel.running {
		rightParts = append(rightParts, a.spinner.View()+statusKeyStyle.Render(a.jobPanel.selected().Title()))
	}

	if db := a.currentDB(); db != "" {
		rightParts = append(rightParts, statusKeyStyle.Render(db))
	}
	if tbl := a.currentTable(); tbl != "" {
		rightParts = append(rightParts, statusValueStyle.Render("> "+tbl))
	}

	if len(a.dataRows) > 0 {
		rightParts = append(rightParts, dimItemStyle.Render(fmt.Sprintf("| row %d/%d", a.selectedRow+1, len(a.dataRows))))
	}

	if db := a.currentDB(); db != "" {
		rightParts = append(rightParts, levelBadge(a.console.Level(db)))
	}

	rightParts = append(rightParts, dimItemStyle.Render("| ?:help q:quit"))

	left := strings.Join(leftParts, " ")
	right := strings.Join(rightParts, " ")
	padding := max(a.width-lipgloss.Width(left)-lipgloss.Width(right)-2, 1) // -2 for statusBar padding

	return statusBarStyle.Width(a.width).Render(left + strings.Repeat(" ", padding) + right)
}

// pendingSync returns the latest pending sync count seen by a job or a
// statement.
func (a *App) pendingSync() (int64, bool) {
	if a.jobPanel.pending != nil {
		return *a.jobPanel.pending, true
	}
	return a.console.PendingSync()
}

func (a *App) renderHelp() string {
	var b strings.Builder

	for i, group := range a.keys.helpGroups() {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(paneHeaderStyle.Render(group.title))
		b.WriteString("\n")
		for _, binding := range group.bindings {
			h := binding.Help()
			b.WriteString(helpKeyStyle.Render(fmt.Sprintf("%-12s", h.Key)))
			b.WriteString(helpDescStyle.Render(h.Desc))
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")
	b.WriteString(helpDescStyle.Render("In the query bar: ↑/↓ history, ctrl+f favorite, ctrl+r search history"))
	b.WriteString("\n\n")
	b.WriteString(dimItemStyle.Render("Press ? or Esc to close"))

	modal := modalStyle.Render(titleStyle.Render("Help") + "\n\n" + b.String())
	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, modal)
}

func (a *App) renderStructure() string {
	var b strings.Builder

	if a.structure == nil {
		b.WriteString(dimItemStyle.Render("Loading..."))
	} else {
		b.WriteString(paneHeaderStyle.Render(a.structureTable))
		b.WriteString("\n\n")
		b.WriteString(renderResultText(a.structure, a.width-12))
	}

	b.WriteString("\n\n")
	b.WriteString(dimItemStyle.Render("Press Esc to close"))

	modal := modalStyle.Render(titleStyle.Render("Structure") + "\n\n" + b.String())
	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, modal)
}

func (a *App) renderLogs() string {
	var b strings.Builder

	var entries []logger.Entry
	if a.logs != nil {
		entries = a.logs.Recent()
	}
	if len(entries) == 0 {
		b.WriteString(dimItemStyle.Render("No warnings or errors"))
	}
	visible := max(a.height-10, 3)
	entries = entries[max(len(entries)-visible, 0):]
	for i, e := range entries {
		b.WriteString(logStyle(e.Level).Render(truncateString(e.Format(), a.width-12)))
		if i < len(entries)-1 {
			b.WriteString("\n")
		}
	}

	b.WriteString("\n\n")
	b.WriteString(dimItemStyle.Render("Press Esc to close"))

	modal := modalStyle.Render(titleStyle.Render("Logs") + "\n\n" + b.String())
	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, modal)
}

// renderResultText renders a result as aligned plain columns.
func renderResultText(res *backend.Result, maxWidth int) string {
	if res.RowCount() == 0 {
		return dimItemStyle.Render("(no columns)")
	}
	widths := make([]int, len(res.Columns))
	for j, col := range res.Columns {
		widths[j] = len(col)
	}
	for i := range res.RowCount() {
		for j, v := range res.Values(i) {
			widths[j] = max(widths[j], len(backend.FormatValue(v)))
		}
	}

	var b strings.Builder
	header := make([]string, len(res.Columns))
	for j, col := range res.Columns {
		header[j] = fmt.Sprintf("%-*s", widths[j], col)
	}
	b.WriteString(tableHeaderStyle.Render(truncateString(strings.Join(header, "  "), maxWidth)))
	for i := range res.RowCount() {
		cells := make([]string, len(res.Columns))
		for j, v := range res.Values(i) {
			cells[j] = fmt.Sprintf("%-*s", widths[j], backend.FormatValue(v))
		}
		b.WriteString("\n")
		b.WriteString(truncateString(strings.Join(cells, "  "), maxWidth))
	}
	return b.String()
}

// truncateString truncates a string to maxLen runes, adding ellipsis if needed
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-1]) + "…"
}

// calculateDBPaneWidth returns the width needed for the database panel
// based on the longest database name, plus space for "> " prefix and borders
func (a *App) calculateDBPaneWidth() int {
	maxLen := len("Databases")
	for _, db := range a.databases {
		maxLen = max(maxLen, len(db))
	}
	return maxLen + 7
}

// calculateTablePaneWidth returns the width needed for the tables panel
func (a *App) calculateTablePaneWidth() int {
	maxLen := len("Tables")
	for _, t := range a.tables {
		maxLen = max(maxLen, len(t.Name))
	}
	return maxLen + 7
}
