package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kelsos/taskwatch/internal/models"
	"github.com/kelsos/taskwatch/internal/subscription"
	"github.com/kelsos/taskwatch/internal/utils"
)

// TaskRow is one watched task as shown by the monitor.
type TaskRow struct {
	ID        models.TaskID
	Status    models.TaskStatus
	Tracking  string
	FirstSeen time.Time
	UpdatedAt time.Time
}

type Model struct {
	tasks       map[models.TaskID]*TaskRow
	connection  subscription.ConnectionState
	logs        []string
	spinner     spinner.Model
	progress    progress.Model
	width       int
	height      int
	quit        bool
	doneCount   int
	failedCount int
	now         func() time.Time
}

// SnapshotMsg carries the manager state.
type SnapshotMsg struct {
	Snapshot subscription.Snapshot
}

// StatusMsg is a status update delivered by the manager.
type StatusMsg struct {
	TaskID models.TaskID
	Status models.TaskStatus
}

type LogMessage struct {
	Message string
}

func NewModel() Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	pr := progress.New(progress.WithDefaultGradient())

	return Model{
		tasks:    make(map[models.TaskID]*TaskRow),
		logs:     []string{},
		spinner:  sp,
		progress: pr,
		width:    80,
		height:   24,
		now:      time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.handleKeyMsg(msg) {
			m.quit = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m = m.handleWindowSizeMsg(msg)

	case SnapshotMsg:
		m = m.handleSnapshot(msg)

	case StatusMsg:
		m = m.handleStatus(msg)

	case LogMessage:
		m = m.handleLogMessage(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		if progressModel, ok := progressModel.(progress.Model); ok {
			m.progress = progressModel
		}
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m Model) handleKeyMsg(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "q", "ctrl+c":
		return true
	}
	return false
}

func (m Model) handleWindowSizeMsg(msg tea.WindowSizeMsg) Model {
	m.width = msg.Width
	m.height = msg.Height
	m.progress.Width = msg.Width - 40
	return m
}

func (m Model) row(id models.TaskID) *TaskRow {
	row, ok := m.tasks[id]
	if !ok {
		now := m.now()
		row = &TaskRow{ID: id, FirstSeen: now, UpdatedAt: now}
		m.tasks[id] = row
	}
	return row
}

// handleSnapshot marks tracked tasks. Rows of tasks no longer tracked are
// kept so finished tasks stay visible.
func (m Model) handleSnapshot(msg SnapshotMsg) Model {
	m.connection = msg.Snapshot.State

	tracked := make(map[models.TaskID]string)
	for _, id := range msg.Snapshot.Pending {
		tracked[id] = "pending"
	}
	for _, id := range msg.Snapshot.Subscribed {
		tracked[id] = "subscribed"
	}

	for id, state := range tracked {
		m.row(id).Tracking = state
	}
	for id, row := range m.tasks {
		if _, ok := tracked[id]; !ok {
			row.Tracking = ""
		}
	}
	return m
}

func (m Model) handleStatus(msg StatusMsg) Model {
	row := m.row(msg.TaskID)
	if row.Status == msg.Status {
		return m
	}

	row.Status = msg.Status
	row.UpdatedAt = m.now()

	switch msg.Status {
	case models.TaskStatusDone:
		m.doneCount++
		m = m.handleLogMessage(LogMessage{Message: fmt.Sprintf("✅ Task %s finished", msg.TaskID)})
	case models.TaskStatusFailed:
		m.failedCount++
		m = m.handleLogMessage(LogMessage{Message: fmt.Sprintf("❌ Task %s failed", msg.TaskID)})
	}
	return m
}

func (m Model) handleLogMessage(msg LogMessage) Model {
	m.logs = append(m.logs, fmt.Sprintf("[%s] %s",
		m.now().Format("15:04:05"), msg.Message))
	if len(m.logs) > 10 {
		m.logs = m.logs[len(m.logs)-10:]
	}
	return m
}

// finishedRatio is the share of known tasks that reached a terminal status.
func (m Model) finishedRatio() float64 {
	if len(m.tasks) == 0 {
		return 0
	}
	return float64(m.doneCount+m.failedCount) / float64(len(m.tasks))
}

func (m Model) sortedRows() []*TaskRow {
	rows := make([]*TaskRow, 0, len(m.tasks))
	for _, row := range m.tasks {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].FirstSeen.Equal(rows[j].FirstSeen) {
			return rows[i].FirstSeen.Before(rows[j].FirstSeen)
		}
		return rows[i].ID < rows[j].ID
	})
	return rows
}

func (m Model) View() string {
	if m.quit {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Header
	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("39")).
		MarginBottom(1)

	s.WriteString(headerStyle.Render("🎬 Task Watch Monitor"))
	s.WriteString("\n\n")

	// Summary
	summaryStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	connStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(getConnectionColor(m.connection)))
	summary := fmt.Sprintf("Tasks: %d | ✅ Done: %d | ❌ Failed: %d | Channel: ",
		len(m.tasks), m.doneCount, m.failedCount)
	s.WriteString(summaryStyle.Render(summary) + connStyle.Render(m.connection.String()))
	s.WriteString("\n")
	s.WriteString(m.progress.ViewAs(m.finishedRatio()))
	s.WriteString("\n\n")

	// Task table
	taskSectionStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1).
		Width(m.width - 2)

	var taskTable strings.Builder
	taskTable.WriteString("📊 Tasks\n")
	taskTable.WriteString(strings.Repeat("─", 60) + "\n")

	now := m.now()
	for _, row := range m.sortedRows() {
		indicator := getStatusIcon(row.Status)
		if !row.Status.Terminal() {
			indicator = m.spinner.View()
		}

		line := fmt.Sprintf("%s %-24s %-11s %-11s %s",
			indicator,
			truncate(string(row.ID), 24),
			displayStatus(row.Status),
			row.Tracking,
			utils.FormatElapsed(now.Sub(row.UpdatedAt)))

		statusStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(getStatusColor(row.Status)))
		taskTable.WriteString(statusStyle.Render(line) + "\n")
	}

	s.WriteString(taskSectionStyle.Render(taskTable.String()))
	s.WriteString("\n\n")

	// Logs section
	logSectionStyle := lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1).
		Width(m.width - 2).
		Height(8)

	var logSection strings.Builder
	logSection.WriteString("📝 Recent Logs\n")
	for _, log := range m.logs {
		logSection.WriteString(log + "\n")
	}

	s.WriteString(logSectionStyle.Render(logSection.String()))
	s.WriteString("\n\n")

	// Footer
	footerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	footer := "Press 'q' to quit | Logs: logs/taskwatch_*.log"
	s.WriteString(footerStyle.Render(footer))

	return s.String()
}

func displayStatus(status models.TaskStatus) string {
	if status == "" {
		return "waiting"
	}
	return string(status)
}

func getStatusIcon(status models.TaskStatus) string {
	switch status {
	case models.TaskStatusDone:
		return "✅"
	case models.TaskStatusFailed:
		return "❌"
	case models.TaskStatusGenerating:
		return "🎞"
	case models.TaskStatusPending:
		return "⏳"
	default:
		return "❓"
	}
}

func getStatusColor(status models.TaskStatus) string {
	switch status {
	case models.TaskStatusDone:
		return "82"
	case models.TaskStatusFailed:
		return "196"
	case "":
		return "244"
	default:
		return "39"
	}
}

func getConnectionColor(state subscription.ConnectionState) string {
	switch state {
	case subscription.Connected:
		return "82"
	case subscription.Connecting, subscription.Reconnecting:
		return "214"
	default:
		return "244"
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
