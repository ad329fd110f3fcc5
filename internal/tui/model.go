// Package tui is the terminal dashboard behind `odooctl task watch`: one row
// per tracked task with live poller state, and the notification tray
// stacked underneath as toasts.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/odooctl/internal/event"
	"github.com/Iron-Ham/odooctl/internal/history"
	"github.com/Iron-Ham/odooctl/internal/poller"
	"github.com/Iron-Ham/odooctl/internal/task"
	"github.com/Iron-Ham/odooctl/internal/tracker"
	"github.com/Iron-Ham/odooctl/internal/tui/styles"
	"github.com/Iron-Ham/odooctl/internal/util"
)

// Toasts is the notification source shown under the task list.
// *event.Tray satisfies it.
type Toasts interface {
	Active() []event.Notification
	DismissNewest() bool
}

// TrackFunc returns a command that follows taskID to its end and yields a
// FinishedMsg.
type TrackFunc func(taskID string) tea.Cmd

// Messages

// SnapshotMsg carries a poller state change.
type SnapshotMsg poller.Snapshot

// FinishedMsg reports that tracking of a task ended.
type FinishedMsg struct {
	TaskID  string
	Outcome tracker.Outcome
	Err     error
}

// toastsChangedMsg tells the model to re-read the tray.
type toastsChangedMsg struct{}

// Result is how one watched task ended.
type Result struct {
	TaskID  string
	Done    bool
	Outcome tracker.Outcome
	Err     error
}

type row struct {
	taskID  string
	snap    poller.Snapshot
	done    bool
	outcome tracker.Outcome
	err     error
}

// retryable reports whether tracking ended without learning the task's
// outcome, so re-attaching makes sense.
func (r *row) retryable() bool {
	if !r.done {
		return false
	}
	switch r.outcome.Recorded {
	case history.OutcomeTimedOut, history.OutcomeExhausted, history.OutcomeCanceled, history.OutcomeSignedOut:
		return true
	}
	return false
}

// Options configures a Model.
type Options struct {
	// Spinner is one of "dot", "line", "points", "minidot".
	Spinner string
	Toasts  Toasts
	Track   TrackFunc
	// ExitWhenDone quits once every task has finished.
	ExitWhenDone bool
}

// Model is the bubbletea model of the dashboard.
type Model struct {
	rows         []*row
	selected     int
	spinner      spinner.Model
	toasts       Toasts
	active       []event.Notification
	track        TrackFunc
	exitWhenDone bool
	width        int
	quitting     bool
}

// NewModel creates a dashboard watching taskIDs.
func NewModel(taskIDs []string, opts Options) Model {
	rows := make([]*row, 0, len(taskIDs))
	for _, id := range taskIDs {
		rows = append(rows, &row{taskID: id, snap: poller.Snapshot{TaskID: id, IsPolling: true}})
	}
	return Model{
		rows:         rows,
		spinner:      spinner.New(spinner.WithSpinner(spinnerFor(opts.Spinner)), spinner.WithStyle(styles.Primary)),
		toasts:       opts.Toasts,
		track:        opts.Track,
		exitWhenDone: opts.ExitWhenDone,
	}
}

func spinnerFor(name string) spinner.Spinner {
	switch name {
	case "line":
		return spinner.Line
	case "points":
		return spinner.Points
	case "minidot":
		return spinner.MiniDot
	default:
		return spinner.Dot
	}
}

// Init starts the spinner and tracking of every task.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick}
	if m.track != nil {
		for _, r := range m.rows {
			cmds = append(cmds, m.track(r.taskID))
		}
	}
	return tea.Batch(cmds...)
}

// Update handles a message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case SnapshotMsg:
		if r := m.find(msg.TaskID); r != nil && !r.done {
			r.snap = poller.Snapshot(msg)
		}
		return m, nil

	case FinishedMsg:
		r := m.find(msg.TaskID)
		if r == nil {
			return m, nil
		}
		r.done = true
		r.outcome = msg.Outcome
		r.snap = msg.Outcome.Snapshot
		r.err = msg.Err
		if m.exitWhenDone && m.allDone() {
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case toastsChangedMsg:
		m.refreshToasts()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit

	case "d":
		if m.toasts != nil && m.toasts.DismissNewest() {
			m.refreshToasts()
		}
		return m, nil

	case "r":
		if len(m.rows) == 0 || m.track == nil {
			return m, nil
		}
		r := m.rows[m.selected]
		if !r.retryable() {
			return m, nil
		}
		*r = row{taskID: r.taskID, snap: poller.Snapshot{TaskID: r.taskID, IsPolling: true, Task: r.snap.Task}}
		return m, m.track(r.taskID)

	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
		return m, nil

	case "down", "j":
		if m.selected < len(m.rows)-1 {
			m.selected++
		}
		return m, nil
	}
	return m, nil
}

func (m *Model) refreshToasts() {
	if m.toasts == nil {
		m.active = nil
		return
	}
	m.active = m.toasts.Active()
}

func (m Model) find(taskID string) *row {
	for _, r := range m.rows {
		if r.taskID == taskID {
			return r
		}
	}
	return nil
}

func (m Model) allDone() bool {
	for _, r := range m.rows {
		if !r.done {
			return false
		}
	}
	return true
}

// Results reports how each task ended, in watch order.
func (m Model) Results() []Result {
	out := make([]Result, len(m.rows))
	for i, r := range m.rows {
		out[i] = Result{TaskID: r.taskID, Done: r.done, Outcome: r.outcome, Err: r.err}
	}
	return out
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder

	running := 0
	for _, r := range m.rows {
		if !r.done {
			running++
		}
	}
	b.WriteString(styles.Header.Render(fmt.Sprintf("odooctl · %d task(s), %d tracking", len(m.rows), running)))
	b.WriteString("\n")

	for i, r := range m.rows {
		line := m.renderRow(r)
		if i == m.selected && len(m.rows) > 1 {
			line = styles.Selected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if len(m.active) > 0 {
		b.WriteString("\n")
		for _, n := range m.active {
			b.WriteString(m.renderToast(n))
			b.WriteString("\n")
		}
	}

	b.WriteString(m.renderHelp())
	return b.String()
}

func (m Model) renderRow(r *row) string {
	tk := r.snap.Task
	label := "Task"
	target := ""
	status := task.StatusPending
	if tk != nil {
		label = tk.Type.Label()
		target = tk.Target()
		status = tk.Status
	}

	icon := m.spinner.View()
	var detail string
	switch {
	case !r.done:
		detail = fmt.Sprintf("attempt %d · next in %s", r.snap.Attempts, r.snap.Interval.Round(100*time.Millisecond))
		if r.snap.ConsecutiveErrors > 0 {
			detail += styles.Warning.Render(fmt.Sprintf(" · %d failed lookup(s)", r.snap.ConsecutiveErrors))
		}
	case r.outcome.Recorded == history.OutcomeSucceeded:
		icon = styles.Secondary.Render("✓")
		if tk != nil && tk.Duration() > 0 {
			detail = "took " + tk.Duration().Round(100*time.Millisecond).String()
		}
	case r.outcome.Recorded == history.OutcomeFailed:
		icon = styles.Error.Render("✗")
		detail = styles.Error.Render(r.outcome.Result.Summary())
	default:
		icon = styles.Warning.Render("!")
		if r.err != nil {
			detail = styles.Warning.Render(r.err.Error())
		}
		detail += styles.Muted.Render("  (r to retry)")
	}

	badge := lipgloss.NewStyle().Foreground(styles.StatusColor(status)).Render(fmt.Sprintf("%-8s", status))
	name := label
	if target != "" {
		name = fmt.Sprintf("%s · %s", label, target)
	}
	line := fmt.Sprintf(" %s %-40s %s %s  %s", icon, util.Truncate(name, 40), badge, styles.Muted.Render(util.ShortID(r.taskID)), detail)
	if m.width > 0 {
		line = util.TruncateANSI(line, m.width)
	}
	return line
}

func (m Model) renderToast(n event.Notification) string {
	style := styles.ToastFor(n.Severity)
	if m.width > 4 {
		style = style.MaxWidth(m.width - 2)
	}
	return style.Render(lipgloss.NewStyle().Foreground(styles.SeverityColor(n.Severity)).Render(n.Message))
}

func (m Model) renderHelp() string {
	keys := []struct{ key, desc string }{
		{"q", "quit"},
		{"d", "dismiss"},
		{"r", "retry"},
		{"↑/↓", "select"},
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = styles.HelpKey.Render(k.key) + " " + k.desc
	}
	return styles.HelpBar.Render(strings.Join(parts, "  "))
}

