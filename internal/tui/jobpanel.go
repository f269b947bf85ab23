package tui

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/johan-st/dbconsole/internal/backend"
	"github.com/johan-st/dbconsole/internal/jobs"
)

const maxJobLines = 200

// jobField is the focused input of the job panel.
type jobField int

const (
	jobFieldList jobField = iota
	jobFieldCorpID
	jobFieldIDs
)

// jobPanel runs one job at a time and keeps its progress lines.
type jobPanel struct {
	cursor  int
	field   jobField
	corpID  string
	aadIDs  string
	running bool
	lines   []string
	pending *int64
	report  *jobs.Report
	msgs    chan tea.Msg
	cancel  context.CancelFunc
}

func (p *jobPanel) selected() jobs.Kind {
	return jobs.Kinds[clamp(p.cursor, len(jobs.Kinds))]
}

func (p *jobPanel) addEvent(ev jobs.Event) {
	line := fmt.Sprintf("[%s] %s", ev.Time.Format("15:04:05"), ev.Message)
	p.lines = append(p.lines, line)
	if len(p.lines) > maxJobLines {
		p.lines = p.lines[len(p.lines)-maxJobLines:]
	}
	if ev.Pending != nil {
		n := *ev.Pending
		p.pending = &n
	}
}

func (p *jobPanel) finish(report *jobs.Report, err error) {
	p.running = false
	p.report = report
	p.msgs = nil
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	if report == nil {
		return
	}
	switch {
	case report.SFE != nil:
		p.lines = append(p.lines, fmt.Sprintf("Departments: %d, employees: %d", len(report.SFE.Departments), len(report.SFE.Employees)))
	case len(report.Rows) > 0:
		for _, row := range report.Rows[:min(len(report.Rows), 10)] {
			p.lines = append(p.lines, "  "+formatRow(row))
		}
		if len(report.Rows) > 10 {
			p.lines = append(p.lines, fmt.Sprintf("  ... %d more", len(report.Rows)-10))
		}
	}
}

// wait returns a command delivering the next message of the running job.
func (p *jobPanel) wait() tea.Cmd {
	ch := p.msgs
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func (p *jobPanel) stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

// startJob runs the selected job in the background, streaming its events.
func (a *App) startJob() tea.Cmd {
	p := &a.jobPanel
	if p.running {
		return nil
	}
	req := jobs.Request{
		Job:      p.selected(),
		Database: a.currentDB(),
		CorpID:   p.corpID,
		AADIDs:   jobs.ParseAADIDs(p.aadIDs),
	}

	ctx, cancel := context.WithCancel(a.ctx)
	msgs := make(chan tea.Msg, 16)
	p.running = true
	p.cancel = cancel
	p.msgs = msgs
	p.report = nil
	p.pending = nil
	p.lines = nil

	runner := jobs.NewRunner(a.jobs, a.console, a.pollInterval, a.logger)
	go func() {
		defer close(msgs)
		send := func(msg tea.Msg) {
			select {
			case msgs <- msg:
			case <-ctx.Done():
			}
		}
		report, err := runner.Run(ctx, req, func(ev jobs.Event) {
			send(JobEventMsg{Event: ev})
		})
		// Delivered even when the run was cancelled, until the session ends.
		select {
		case msgs <- JobFinishedMsg{Report: report, Error: err}:
		case <-a.ctx.Done():
		}
	}()

	return tea.Batch(p.wait(), a.spinner.Tick)
}

func (a *App) handleJobsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	p := &a.jobPanel

	switch msg.Type {
	case tea.KeyEsc:
		if p.field != jobFieldList {
			p.field = jobFieldList
			return a, nil
		}
		a.overlay = overlayNone
		return a, nil

	case tea.KeyTab:
		p.field = (p.field + 1) % 3
		return a, nil

	case tea.KeyShiftTab:
		p.field = (p.field + 2) % 3
		return a, nil

	case tea.KeyEnter:
		return a, a.startJob()
	}

	if p.field == jobFieldList {
		switch {
		case msg.Type == tea.KeyUp || msg.String() == "k":
			p.cursor = clamp(p.cursor-1, len(jobs.Kinds))
		case msg.Type == tea.KeyDown || msg.String() == "j":
			p.cursor = clamp(p.cursor+1, len(jobs.Kinds))
		case msg.String() == "x":
			p.stop()
		}
		return a, nil
	}

	target := &p.corpID
	if p.field == jobFieldIDs {
		target = &p.aadIDs
	}
	switch msg.Type {
	case tea.KeyBackspace:
		if r := []rune(*target); len(r) > 0 {
			*target = string(r[:len(r)-1])
		}
	case tea.KeyRunes:
		*target += string(msg.Runes)
	case tea.KeySpace:
		*target += " "
	}
	return a, nil
}

func (a *App) renderJobs() string {
	p := &a.jobPanel
	width := max(min(a.width-8, 100), 40)

	var b strings.Builder
	for i, kind := range jobs.Kinds {
		name := fmt.Sprintf("%-18s", kind.Title())
		if i == p.cursor {
			style := normalItemStyle
			if p.field == jobFieldList {
				style = selectedItemStyle
			}
			b.WriteString(style.Render("> " + name))
		} else {
			b.WriteString(dimItemStyle.Render("  " + name))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(renderField("Corp ID", p.corpID, p.field == jobFieldCorpID))
	b.WriteString("\n")
	b.WriteString(renderField("AAD IDs", p.aadIDs, p.field == jobFieldIDs))
	b.WriteString("\n")
	if db := a.currentDB(); db != "" {
		b.WriteString(dimItemStyle.Render("Pending count polled on " + db))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if p.running {
		b.WriteString(a.spinner.View() + " " + statusKeyStyle.Render(p.selected().Title()+" running"))
		b.WriteString("\n")
	}

	visible := max(a.height-len(jobs.Kinds)-20, 3)
	lines := p.lines[max(len(p.lines)-visible, 0):]
	for _, line := range lines {
		switch {
		case strings.Contains(line, "Error:"):
			b.WriteString(errorStyle.Render(truncateString(line, width-4)))
		case strings.HasSuffix(line, "successfully!"):
			b.WriteString(successStyle.Render(truncateString(line, width-4)))
		default:
			b.WriteString(normalItemStyle.Render(truncateString(line, width-4)))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(dimItemStyle.Render("enter: run  tab: next field  x: cancel  esc: close"))

	modal := modalStyle.Width(width).Render(titleStyle.Render("Sync Jobs") + "\n\n" + b.String())
	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, modal)
}

func renderField(label, value string, focused bool) string {
	prompt := dimItemStyle.Render(fmt.Sprintf("%-8s ", label+":"))
	if focused {
		return queryPromptStyle.Render(fmt.Sprintf("%-8s ", label+":")) + queryInputStyle.Render(value+"█")
	}
	return prompt + normalItemStyle.Render(value)
}

func formatRow(row backend.Row) string {
	parts := make([]string, 0, len(row))
	for _, k := range slices.Sorted(maps.Keys(row)) {
		parts = append(parts, k+"="+backend.FormatValue(row[k]))
	}
	return strings.Join(parts, " ")
}
