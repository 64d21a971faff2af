// Package tui provides an interactive dashboard: per-resource cursors, run
// history, and one-key sync triggering.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/johndauphine/restsync/internal/config"
	"github.com/johndauphine/restsync/internal/orchestrator"
)

// TickMsg refreshes the dashboard periodically.
type TickMsg time.Time

// statusMsg carries a fresh status snapshot.
type statusMsg struct {
	statuses []orchestrator.ResourceStatus
	err      error
}

// syncDoneMsg signals that a triggered sync finished.
type syncDoneMsg struct {
	report *orchestrator.RunReport
	err    error
}

// Model is the dashboard TUI model.
type Model struct {
	cfg   *config.Config
	orch  *orchestrator.Orchestrator
	ctx   context.Context
	spin  spinner.Model
	width int

	statuses []orchestrator.ResourceStatus
	syncing  bool
	lastSync *orchestrator.RunReport
	err      error
	quitting bool
}

// New creates the dashboard model.
func New(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{cfg: cfg, orch: orch, ctx: ctx, spin: sp}
}

// Run starts the dashboard and blocks until the user quits.
func Run(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator) error {
	p := tea.NewProgram(New(ctx, cfg, orch), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refreshStatus(), m.tick(), m.spin.Tick)
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) refreshStatus() tea.Cmd {
	orch := m.orch
	return func() tea.Msg {
		statuses, err := orch.Status()
		return statusMsg{statuses: statuses, err: err}
	}
}

func (m Model) startSync() tea.Cmd {
	orch := m.orch
	ctx := m.ctx
	return func() tea.Msg {
		report, err := orch.SyncAll(ctx)
		return syncDoneMsg{report: report, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "s", "r":
			if !m.syncing {
				m.syncing = true
				m.err = nil
				return m, tea.Batch(m.startSync(), m.spin.Tick)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case TickMsg:
		return m, tea.Batch(m.refreshStatus(), m.tick())

	case statusMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.statuses = msg.statuses
		}

	case syncDoneMsg:
		m.syncing = false
		m.lastSync = msg.report
		m.err = msg.err
		return m, m.refreshStatus()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(styleTitle.Render("restsync dashboard"))
	b.WriteString("\n")
	b.WriteString(styleDim.Render(fmt.Sprintf("source: %s   target: %s", m.cfg.API.BaseURL, m.cfg.Target.Type)))
	b.WriteString("\n\n")

	b.WriteString(m.renderResources())
	b.WriteString("\n")

	if m.syncing {
		b.WriteString(fmt.Sprintf("%s syncing...\n", m.spin.View()))
	} else if m.lastSync != nil {
		st := outcomeStyle(m.lastSync.Outcome)
		b.WriteString(fmt.Sprintf("last sync %s: %s, %d rows in %.1fs\n",
			m.lastSync.SyncID, st.Render(m.lastSync.Outcome),
			m.lastSync.RowsWritten, m.lastSync.DurationSeconds))
	}
	if m.err != nil {
		b.WriteString(styleError.Render(fmt.Sprintf("error: %v", m.err)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(styleHelp.Render("s: sync now   q: quit"))
	return b.String()
}

func (m Model) renderResources() string {
	var rows []string
	rows = append(rows, styleHeader.Render(fmt.Sprintf("%-20s %-26s %-9s %12s  %s",
		"RESOURCE", "CURSOR", "OUTCOME", "ROWS", "LAST RUN")))

	if len(m.statuses) == 0 {
		rows = append(rows, styleDim.Render("loading..."))
	}
	for _, st := range m.statuses {
		cursor := st.Cursor
		if cursor == "" {
			cursor = "(backfill pending)"
		}
		outcome := st.LastOutcome
		if outcome == "" {
			outcome = "never"
		}
		lastRun := ""
		if st.LastRunAt != nil {
			lastRun = st.LastRunAt.Local().Format("2006-01-02 15:04:05")
		}
		line := fmt.Sprintf("%-20s %-26s %-9s %12d  %s",
			truncate(st.Resource, 20), truncate(cursor, 26),
			outcome, st.RowsWritten, lastRun)
		rows = append(rows, outcomeStyle(st.LastOutcome).Render("")+line)
		if st.LastError != "" {
			rows = append(rows, styleError.Render("  "+truncate(st.LastError, 76)))
		}
	}

	return styleBox.Render(strings.Join(rows, "\n"))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
