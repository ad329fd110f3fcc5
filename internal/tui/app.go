package tui

import (
	"context"
	"errors"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/odooctl/internal/config"
	"github.com/Iron-Ham/odooctl/internal/event"
	"github.com/Iron-Ham/odooctl/internal/poller"
	"github.com/Iron-Ham/odooctl/internal/tracker"
)

// Tracker follows a task by id. *tracker.Tracker satisfies it.
type Tracker interface {
	Track(ctx context.Context, taskID string) (tracker.Outcome, error)
}

// App wraps the Bubbletea program
type App struct {
	tracker Tracker
	bus     *event.Bus
	cfg     config.TUIConfig

	// ExitWhenDone quits the dashboard once every task has finished.
	ExitWhenDone bool
	// ProgramOptions are appended to the defaults (alt screen, context).
	ProgramOptions []tea.ProgramOption

	mu      sync.Mutex
	program *tea.Program
}

// New creates the dashboard. Build the tracker with
// tracker.WithProgress(app.Progress) so the rows update live.
func New(tr Tracker, bus *event.Bus, cfg config.TUIConfig) *App {
	return &App{tracker: tr, bus: bus, cfg: cfg}
}

// SetTracker replaces the tracker. It exists for the construction cycle
// between the app and a tracker reporting progress to it.
func (a *App) SetTracker(tr Tracker) {
	a.tracker = tr
}

// Progress forwards a poller state change to the running program. It is
// a no-op when the dashboard is not running.
func (a *App) Progress(s poller.Snapshot) {
	a.send(SnapshotMsg(s))
}

func (a *App) send(msg tea.Msg) {
	a.mu.Lock()
	p := a.program
	a.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// Run shows the dashboard until the user quits or ctx ends, and returns
// how each task ended.
func (a *App) Run(ctx context.Context, taskIDs []string) ([]Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tray := event.NewTray(
		event.WithMaxItems(a.cfg.MaxToasts),
		// The tray may change from inside Update (dismiss), where a
		// synchronous Send would block the event loop.
		event.WithOnChange(func() { go a.send(toastsChangedMsg{}) }),
	)
	defer tray.Close()
	if a.bus != nil {
		detach := tray.Attach(a.bus)
		defer detach()
	}

	model := NewModel(taskIDs, Options{
		Spinner:      a.cfg.Spinner,
		Toasts:       tray,
		ExitWhenDone: a.ExitWhenDone,
		Track: func(taskID string) tea.Cmd {
			return func() tea.Msg {
				out, err := a.tracker.Track(ctx, taskID)
				return FinishedMsg{TaskID: taskID, Outcome: out, Err: err}
			}
		},
	})

	opts := append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, a.ProgramOptions...)
	p := tea.NewProgram(model, opts...)
	a.mu.Lock()
	a.program = p
	a.mu.Unlock()

	final, err := p.Run()

	a.mu.Lock()
	a.program = nil
	a.mu.Unlock()

	results := model.Results()
	if m, ok := final.(Model); ok {
		results = m.Results()
	}
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return results, ctx.Err()
	}
	return results, err
}
