package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Iron-Ham/odooctl/internal/errors"
	"github.com/Iron-Ham/odooctl/internal/logging"
	"github.com/Iron-Ham/odooctl/internal/task"
)

// Lookup fetches the current state of a task. *api.Client satisfies it.
type Lookup interface {
	GetTask(ctx context.Context, taskID string) (*task.Task, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, taskID string) (*task.Task, error)

// GetTask calls f.
func (f LookupFunc) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	return f(ctx, taskID)
}

// Clock is the time source used for scheduling and the timeout budget.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Snapshot is a point-in-time view of a Poller.
type Snapshot struct {
	// Task is the last successfully fetched record, nil before the first one.
	Task *task.Task
	// IsPolling is true while lookups are still scheduled.
	IsPolling bool
	// Err is set when polling gave up (timeout, exhausted error budget) or
	// its context ended. A task that finished with status failed is not an
	// error here; check Task.Status.
	Err error
	// TaskID is the id being tracked, "" when idle.
	TaskID string
	// Interval is the delay that will precede the next lookup.
	Interval time.Duration
	// ConsecutiveErrors counts failed lookups since the last successful one.
	ConsecutiveErrors int
	// Attempts counts lookups whose outcome was applied.
	Attempts int
	// StartedAt is when tracking began.
	StartedAt time.Time
}

// Finished reports whether the tracked task reached a terminal status.
func (s Snapshot) Finished() bool {
	return s.Task != nil && s.Task.Status.IsTerminal()
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

// Poller tracks one task at a time. Starting a new task replaces the
// current one.
type Poller struct {
	lookup Lookup
	opts   Options
	clock  Clock
	logger *logging.Logger

	mu         sync.Mutex
	state      Snapshot
	current    *session
	onComplete []func(task.Task)
	onChange   []func(Snapshot)
}

// session is one Start call. It is owned by a single run goroutine; the
// cancelled flag is only read and written under Poller.mu.
type session struct {
	taskID    string
	cancel    context.CancelFunc
	cancelled bool
	done      chan struct{}
	closeOnce sync.Once
}

func (s *session) finish() {
	s.closeOnce.Do(func() { close(s.done) })
}

// New creates an idle Poller. Zero fields in opts use the defaults.
func New(lookup Lookup, opts Options, options ...Option) *Poller {
	p := &Poller{
		lookup: lookup,
		opts:   opts.withDefaults(),
		clock:  realClock{},
	}
	for _, o := range options {
		o(p)
	}
	p.logger = logging.OrNop(p.logger).WithComponent("poller")
	return p
}

// Options returns the effective schedule.
func (p *Poller) Options() Options {
	return p.opts
}

// OnComplete registers a callback invoked once per Start when the task
// reaches success or failed. It is never invoked for timeouts, exhausted
// error budgets or resets.
func (p *Poller) OnComplete(fn func(task.Task)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onComplete = append(p.onComplete, fn)
}

// OnChange registers a callback invoked after every state change.
func (p *Poller) OnChange(fn func(Snapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = append(p.onChange, fn)
}

// Start begins tracking taskID, replacing any task already being tracked.
// The first lookup happens immediately. Polling stops when ctx ends.
func (p *Poller) Start(ctx context.Context, taskID string) {
	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		taskID: taskID,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	p.mu.Lock()
	p.cancelLocked()
	p.current = s
	p.state = Snapshot{
		IsPolling: true,
		TaskID:    taskID,
		Interval:  p.opts.InitialInterval,
		StartedAt: p.clock.Now(),
	}
	snap := p.state
	handlers := p.changeHandlersLocked()
	p.mu.Unlock()

	p.logger.Debug("polling started", "task_id", taskID)
	notify(handlers, snap)
	go p.run(sctx, s)
}

// Reset stops tracking and returns to idle. A lookup already in flight is
// discarded when it returns.
func (p *Poller) Reset() {
	p.mu.Lock()
	if p.current == nil && !p.state.IsPolling && p.state.TaskID == "" {
		p.mu.Unlock()
		return
	}
	p.cancelLocked()
	p.current = nil
	p.state = Snapshot{Interval: p.opts.InitialInterval}
	snap := p.state
	handlers := p.changeHandlersLocked()
	p.mu.Unlock()

	notify(handlers, snap)
}

// cancelLocked marks the current session cancelled and releases its
// waiters. Must be called with p.mu held.
func (p *Poller) cancelLocked() {
	s := p.current
	if s == nil {
		return
	}
	s.cancelled = true
	s.cancel()
	s.finish()
}

// Snapshot returns the current state.
func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Done returns a channel closed when the current session ends. It is
// already closed when the poller is idle.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return p.current.done
}

// Wait blocks until the current session ends or ctx is done. It returns the
// final snapshot and its error; a session ended by Reset yields
// errors.ErrCanceled.
func (p *Poller) Wait(ctx context.Context) (Snapshot, error) {
	p.mu.Lock()
	s := p.current
	p.mu.Unlock()
	if s == nil {
		snap := p.Snapshot()
		return snap, snap.Err
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		return p.Snapshot(), ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if s.cancelled {
		return p.state, errors.ErrCanceled
	}
	return p.state, p.state.Err
}

func (p *Poller) run(ctx context.Context, s *session) {
	defer s.finish()
	logger := p.logger.WithTask(s.taskID)

	for {
		wait, ok := p.checkBudget(s)
		if !ok {
			return
		}

		t, err := p.lookup.GetTask(ctx, s.taskID)
		if ctx.Err() != nil {
			p.abandon(s, ctx.Err())
			return
		}
		if err == nil && t == nil {
			err = fmt.Errorf("lookup of task %s returned nothing", s.taskID)
		}
		if err != nil {
			logger.Debug("task lookup failed", "error", err)
		}

		next, ok := p.apply(s, t, err)
		if !ok {
			return
		}
		if next < wait {
			wait = next
		}

		select {
		case <-ctx.Done():
			p.abandon(s, ctx.Err())
			return
		case <-p.clock.After(wait):
		}
	}
}

// checkBudget enforces the timeout before a lookup. It returns the longest
// wait that still fits in the remaining budget.
func (p *Poller) checkBudget(s *session) (time.Duration, bool) {
	p.mu.Lock()
	if s.cancelled {
		p.mu.Unlock()
		return 0, false
	}
	elapsed := p.clock.Now().Sub(p.state.StartedAt)
	if elapsed < p.opts.Timeout {
		p.mu.Unlock()
		return p.opts.Timeout - elapsed, true
	}

	p.state.IsPolling = false
	p.state.Err = errors.NewPollTimeoutError(s.taskID, p.opts.Timeout)
	snap := p.state
	handlers := p.changeHandlersLocked()
	p.mu.Unlock()

	p.logger.Warn("task polling timed out", "task_id", s.taskID, "attempts", snap.Attempts)
	notify(handlers, snap)
	return 0, false
}

// apply records a lookup outcome. It returns the delay before the next
// lookup, or false when polling is over.
func (p *Poller) apply(s *session, t *task.Task, lookupErr error) (time.Duration, bool) {
	p.mu.Lock()
	if s.cancelled {
		p.mu.Unlock()
		return 0, false
	}

	p.state.Attempts++
	var (
		complete []func(task.Task)
		finished task.Task
		polling  = true
	)

	if lookupErr != nil {
		p.state.ConsecutiveErrors++
		switch {
		case errors.Is(lookupErr, errors.ErrLoginRequired):
			// Every further lookup is refused until the user logs in again.
			p.state.IsPolling = false
			p.state.Err = errors.NewPollSignedOutError(s.taskID, p.state.Attempts, lookupErr)
			polling = false
		case p.state.ConsecutiveErrors >= p.opts.MaxErrors:
			p.state.IsPolling = false
			p.state.Err = errors.NewPollExhaustedError(s.taskID, p.state.ConsecutiveErrors, lookupErr)
			polling = false
		default:
			p.state.Interval = p.opts.NextInterval(p.state.Interval, "", lookupErr)
		}
	} else {
		p.state.ConsecutiveErrors = 0
		copied := *t
		p.state.Task = &copied
		if t.Status.IsTerminal() {
			p.state.IsPolling = false
			polling = false
			finished = copied
			complete = make([]func(task.Task), len(p.onComplete))
			copy(complete, p.onComplete)
		} else {
			p.state.Interval = p.opts.NextInterval(p.state.Interval, t.Status, nil)
		}
	}

	snap := p.state
	handlers := p.changeHandlersLocked()
	p.mu.Unlock()

	switch {
	case snap.Err != nil:
		p.logger.Warn("task polling gave up", "task_id", s.taskID, "error", snap.Err)
	case !polling:
		p.logger.Info("task finished", "task_id", s.taskID, "status", string(finished.Status), "attempts", snap.Attempts)
	}

	notify(handlers, snap)
	for _, fn := range complete {
		fn(finished)
	}
	return snap.Interval, polling
}

// abandon ends a session whose context was cancelled from outside.
func (p *Poller) abandon(s *session, cause error) {
	p.mu.Lock()
	if s.cancelled {
		p.mu.Unlock()
		return
	}
	s.cancelled = true
	p.state.IsPolling = false
	p.state.Err = fmt.Errorf("%w: %w", errors.ErrCanceled, cause)
	snap := p.state
	handlers := p.changeHandlersLocked()
	p.mu.Unlock()

	notify(handlers, snap)
}

func (p *Poller) changeHandlersLocked() []func(Snapshot) {
	if len(p.onChange) == 0 {
		return nil
	}
	handlers := make([]func(Snapshot), len(p.onChange))
	copy(handlers, p.onChange)
	return handlers
}

func notify(handlers []func(Snapshot), snap Snapshot) {
	for _, h := range handlers {
		h(snap)
	}
}
