package tui

import (
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/odooctl/internal/errors"
	"github.com/Iron-Ham/odooctl/internal/event"
	"github.com/Iron-Ham/odooctl/internal/history"
	"github.com/Iron-Ham/odooctl/internal/poller"
	"github.com/Iron-Ham/odooctl/internal/task"
	"github.com/Iron-Ham/odooctl/internal/tracker"
)

type trackRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (tr *trackRecorder) track(taskID string) tea.Cmd {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.calls = append(tr.calls, taskID)
	return func() tea.Msg { return nil }
}

func (tr *trackRecorder) count() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.calls)
}

func key(s string) tea.KeyMsg {
	switch s {
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func backupTask(status task.Status, result string) *task.Task {
	target := 7
	kind := "instance"
	tk := &task.Task{TaskID: "abc12345-6789", Type: task.KindRunBackup, Status: status, TargetID: &target, TargetType: &kind}
	if result != "" {
		tk.Result = &result
	}
	return tk
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	if !ok {
		t.Fatalf("Expected Model, got %T", next)
	}
	return nm, cmd
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestNewModel_TracksEveryTask(t *testing.T) {
	rec := &trackRecorder{}
	m := NewModel([]string{"a", "b", "c"}, Options{Track: rec.track})

	if cmd := m.Init(); cmd == nil {
		t.Fatal("Expected Init to return a command")
	}
	if rec.count() != 3 {
		t.Errorf("Expected 3 tracking commands, got %d", rec.count())
	}
	results := m.Results()
	if len(results) != 3 || results[1].TaskID != "b" || results[1].Done {
		t.Errorf("Unexpected initial results %+v", results)
	}
}

func TestModel_SnapshotUpdatesRow(t *testing.T) {
	m := NewModel([]string{"abc12345-6789"}, Options{})
	m, _ = update(t, m, SnapshotMsg(poller.Snapshot{
		TaskID:            "abc12345-6789",
		Task:              backupTask(task.StatusRunning, ""),
		IsPolling:         true,
		Attempts:          2,
		ConsecutiveErrors: 1,
		Interval:          1500 * time.Millisecond,
	}))

	view := m.View()
	for _, want := range []string{"Backup · instance #7", "running", "attempt 2", "next in 1.5s", "1 failed lookup(s)", "abc12345"} {
		if !strings.Contains(view, want) {
			t.Errorf("Expected %q in view:\n%s", want, view)
		}
	}

	// Snapshots for unknown tasks are ignored.
	m, _ = update(t, m, SnapshotMsg(poller.Snapshot{TaskID: "other", Attempts: 9}))
	if strings.Contains(m.View(), "attempt 9") {
		t.Error("Expected snapshot of unknown task to be ignored")
	}
}

func TestModel_Finished(t *testing.T) {
	tests := []struct {
		name    string
		outcome tracker.Outcome
		err     error
		want    []string
	}{
		{
			name: "success",
			outcome: tracker.Outcome{
				Recorded: history.OutcomeSucceeded,
				Snapshot: poller.Snapshot{Task: backupTask(task.StatusSuccess, `{"message": "done"}`)},
			},
			want: []string{"✓", "success"},
		},
		{
			name: "failed",
			outcome: tracker.Outcome{
				Recorded: history.OutcomeFailed,
				Snapshot: poller.Snapshot{Task: backupTask(task.StatusFailed, `{"error": "disk full"}`)},
				Result:   task.ParseResult(`{"error": "disk full"}`),
			},
			err:  errors.NewTaskFailedError("abc", "run_backup", "disk full"),
			want: []string{"✗", "disk full"},
		},
		{
			name: "gave up",
			outcome: tracker.Outcome{
				Recorded: history.OutcomeExhausted,
				Snapshot: poller.Snapshot{Task: backupTask(task.StatusRunning, "")},
			},
			err:  errors.NewPollExhaustedError("abc", 10, errors.New("connection refused")),
			want: []string{"!", "Task polling failed after 10 attempts", "r to retry"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewModel([]string{"abc"}, Options{})
			m, cmd := update(t, m, FinishedMsg{TaskID: "abc", Outcome: tt.outcome, Err: tt.err})
			if cmd != nil {
				t.Error("Expected no command without ExitWhenDone")
			}
			view := m.View()
			for _, want := range tt.want {
				if !strings.Contains(view, want) {
					t.Errorf("Expected %q in view:\n%s", want, view)
				}
			}
			r := m.Results()[0]
			if !r.Done || r.Outcome.Recorded != tt.outcome.Recorded || r.Err != tt.err {
				t.Errorf("Unexpected result %+v", r)
			}
		})
	}
}

func TestModel_ExitWhenDone(t *testing.T) {
	m := NewModel([]string{"a", "b"}, Options{ExitWhenDone: true})
	done := tracker.Outcome{Recorded: history.OutcomeSucceeded}

	m, cmd := update(t, m, FinishedMsg{TaskID: "a", Outcome: done})
	if isQuit(cmd) {
		t.Fatal("Expected to keep running while b is tracking")
	}
	m, cmd = update(t, m, FinishedMsg{TaskID: "b", Outcome: done})
	if !isQuit(cmd) {
		t.Error("Expected quit once every task finished")
	}
	if m.View() != "" {
		t.Error("Expected empty view after quitting")
	}
}

func TestModel_QuitKeys(t *testing.T) {
	for _, k := range []string{"q", "ctrl+c"} {
		t.Run(k, func(t *testing.T) {
			m := NewModel([]string{"a"}, Options{})
			_, cmd := update(t, m, key(k))
			if !isQuit(cmd) {
				t.Errorf("Expected %s to quit", k)
			}
		})
	}
}

func TestModel_Toasts(t *testing.T) {
	tray := event.NewTray()
	defer tray.Close()
	now := time.Now()
	tray.Add(event.Notification{ID: "1", Severity: event.SeverityError, Message: "Backup for instance #7 failed: disk full", Duration: time.Minute, CreatedAt: now})
	tray.Add(event.Notification{ID: "2", Severity: event.SeveritySuccess, Message: "Instance restart completed", Duration: time.Minute, CreatedAt: now})

	m := NewModel([]string{"a"}, Options{Toasts: tray})
	m, _ = update(t, m, toastsChangedMsg{})
	view := m.View()
	if !strings.Contains(view, "disk full") || !strings.Contains(view, "Instance restart completed") {
		t.Fatalf("Expected both toasts in view:\n%s", view)
	}

	m, _ = update(t, m, key("d"))
	view = m.View()
	if strings.Contains(view, "Instance restart completed") {
		t.Error("Expected d to dismiss the newest toast")
	}
	if !strings.Contains(view, "disk full") {
		t.Error("Expected older toast to remain")
	}
	if tray.Len() != 1 {
		t.Errorf("Expected 1 notification left in tray, got %d", tray.Len())
	}

	m, _ = update(t, m, key("d"))
	m, _ = update(t, m, key("d"))
	if len(m.active) != 0 {
		t.Errorf("Expected no toasts, got %d", len(m.active))
	}
}

func TestModel_Retry(t *testing.T) {
	rec := &trackRecorder{}
	m := NewModel([]string{"ok", "stuck"}, Options{Track: rec.track})

	m, _ = update(t, m, FinishedMsg{TaskID: "ok", Outcome: tracker.Outcome{Recorded: history.OutcomeSucceeded}})
	m, _ = update(t, m, FinishedMsg{
		TaskID:  "stuck",
		Outcome: tracker.Outcome{Recorded: history.OutcomeTimedOut},
		Err:     errors.NewPollTimeoutError("stuck", 5*time.Minute),
	})

	// The first row succeeded, so r does nothing there.
	m, cmd := update(t, m, key("r"))
	if cmd != nil || rec.count() != 0 {
		t.Fatal("Expected no retry for a finished task")
	}

	m, _ = update(t, m, key("down"))
	m, _ = update(t, m, key("down"))
	if m.selected != 1 {
		t.Fatalf("Expected selection clamped at 1, got %d", m.selected)
	}

	m, cmd = update(t, m, key("r"))
	if cmd == nil || rec.count() != 1 || rec.calls[0] != "stuck" {
		t.Fatalf("Expected re-tracking of stuck, got %v", rec.calls)
	}
	if m.Results()[1].Done {
		t.Error("Expected retried row to be tracking again")
	}

	// A second r while tracking again is ignored.
	_, _ = update(t, m, key("r"))
	if rec.count() != 1 {
		t.Errorf("Expected one retry, got %d", rec.count())
	}

	m, _ = update(t, m, key("up"))
	m, _ = update(t, m, key("up"))
	if m.selected != 0 {
		t.Errorf("Expected selection clamped at 0, got %d", m.selected)
	}
}

func TestSpinnerFor(t *testing.T) {
	for _, name := range []string{"dot", "line", "points", "minidot", "unknown", ""} {
		if frames := spinnerFor(name).Frames; len(frames) == 0 {
			t.Errorf("Expected frames for %q", name)
		}
	}
}
