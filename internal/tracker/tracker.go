// Package tracker follows a triggered task to its end and tells the user how
// it went. It is the glue the CLI, dashboard, scheduler and MCP server share:
// it runs a poller, publishes the outcome to the notification bus and
// records it in the local history and metrics.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Iron-Ham/odooctl/internal/errors"
	"github.com/Iron-Ham/odooctl/internal/event"
	"github.com/Iron-Ham/odooctl/internal/history"
	"github.com/Iron-Ham/odooctl/internal/logging"
	"github.com/Iron-Ham/odooctl/internal/metrics"
	"github.com/Iron-Ham/odooctl/internal/poller"
	"github.com/Iron-Ham/odooctl/internal/task"
)

// Notification lifetimes for tracking outcomes.
const (
	SuccessDuration   = event.DefaultDuration
	FailureDuration   = 8 * time.Second
	GaveUpDuration    = 8 * time.Second
	TimedOutDuration  = 6 * time.Second
	historyWriteLimit = 5 * time.Second
)

// Outcome is what a tracking run observed.
type Outcome struct {
	TaskID   string
	Trigger  *task.Trigger
	Snapshot poller.Snapshot
	// Result is the unwrapped payload of the final task, zero when none.
	Result task.Result
	// Recorded is how the run was written to history.
	Recorded history.Outcome
}

// Task returns the last observed task record, nil when none was seen.
func (o Outcome) Task() *task.Task {
	return o.Snapshot.Task
}

// Succeeded reports whether the task finished with status success.
func (o Outcome) Succeeded() bool {
	return o.Snapshot.Task != nil && o.Snapshot.Task.Status == task.StatusSuccess
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithHistory records every run in h.
func WithHistory(h *history.History) Option {
	return func(t *Tracker) { t.history = h }
}

// WithMetrics counts lookups and outcomes in r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(t *Tracker) { t.metrics = r }
}

// WithPollerOptions sets the polling schedule.
func WithPollerOptions(o poller.Options) Option {
	return func(t *Tracker) { t.pollOpts = o }
}

// WithClock replaces the wall clock used by pollers.
func WithClock(c poller.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithProgress registers a callback for every poller state change.
func WithProgress(fn func(poller.Snapshot)) Option {
	return func(t *Tracker) { t.progress = fn }
}

// Tracker runs one poller per tracked task. It is safe for concurrent use;
// runs share nothing but the bus, history and metrics.
type Tracker struct {
	lookup   poller.Lookup
	bus      *event.Bus
	history  *history.History
	metrics  *metrics.Recorder
	pollOpts poller.Options
	clock    poller.Clock
	logger   *logging.Logger
	progress func(poller.Snapshot)
}

// New creates a Tracker that looks tasks up through lookup and publishes
// outcomes to bus. bus may be nil.
func New(lookup poller.Lookup, bus *event.Bus, opts ...Option) *Tracker {
	t := &Tracker{
		lookup:   lookup,
		bus:      bus,
		pollOpts: poller.DefaultOptions(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = logging.OrNop(t.logger).WithComponent("tracker")
	return t
}

// NewPoller builds a poller configured like the ones Run uses, for callers
// that drive it themselves.
func (t *Tracker) NewPoller() *poller.Poller {
	opts := []poller.Option{poller.WithLogger(t.logger)}
	if t.clock != nil {
		opts = append(opts, poller.WithClock(t.clock))
	}
	return poller.New(t.countingLookup(), t.pollOpts, opts...)
}

// Run follows the task a trigger endpoint just enqueued.
func (t *Tracker) Run(ctx context.Context, trig *task.Trigger) (Outcome, error) {
	if trig == nil || trig.TaskID == "" {
		return Outcome{}, errors.NewValidationError("trigger carried no task id").WithField("task_id")
	}
	return t.track(ctx, trig.TaskID, trig)
}

// Track re-attaches to a task known by id.
func (t *Tracker) Track(ctx context.Context, taskID string) (Outcome, error) {
	if taskID == "" {
		return Outcome{}, errors.NewValidationError("task id is required").WithField("task_id")
	}
	return t.track(ctx, taskID, nil)
}

func (t *Tracker) track(ctx context.Context, taskID string, trig *task.Trigger) (Outcome, error) {
	logger := t.logger.WithTask(taskID)
	out := Outcome{TaskID: taskID, Trigger: trig}

	message := ""
	if trig != nil {
		message = trig.Message
	}
	t.recordBegin(ctx, history.Entry{TaskID: taskID, TriggerMessage: message})
	if t.metrics != nil {
		t.metrics.TrackingStarted()
	}

	p := t.NewPoller()
	var describeOnce sync.Once
	p.OnChange(func(s poller.Snapshot) {
		if s.Task != nil {
			describeOnce.Do(func() { t.recordDescribe(ctx, taskID, s.Task) })
		}
		if t.progress != nil {
			t.progress(s)
		}
	})

	p.Start(ctx, taskID)
	snap, waitErr := p.Wait(ctx)
	out.Snapshot = snap
	if snap.Task != nil {
		out.Result = snap.Task.ParsedResult()
	}

	err := t.conclude(&out, waitErr)
	logger.Info("tracking finished", "outcome", string(out.Recorded), "attempts", snap.Attempts)

	t.recordFinish(out)
	if t.metrics != nil {
		var d time.Duration
		var kind task.Kind
		if snap.Task != nil {
			d = snap.Task.Duration()
			kind = snap.Task.Type
		}
		t.metrics.TrackingEnded(kind, string(out.Recorded), d)
	}
	return out, err
}

// conclude classifies the run, publishes its notification and returns the
// error the caller should see.
func (t *Tracker) conclude(out *Outcome, waitErr error) error {
	snap := out.Snapshot
	switch {
	case snap.Finished() && snap.Task.Status == task.StatusSuccess:
		out.Recorded = history.OutcomeSucceeded
		t.publish(event.SeveritySuccess, completedMessage(snap.Task), SuccessDuration)
		return nil

	case snap.Finished():
		out.Recorded = history.OutcomeFailed
		summary := out.Result.Summary()
		t.publish(event.SeverityError, failedMessage(snap.Task, summary), FailureDuration)
		return errors.NewTaskFailedError(out.TaskID, string(snap.Task.Type), summary)

	case errors.Is(waitErr, errors.ErrPollTimeout):
		out.Recorded = history.OutcomeTimedOut
		t.publish(event.SeverityWarning, waitErr.Error(), TimedOutDuration)
		return waitErr

	case errors.Is(waitErr, errors.ErrLoginRequired):
		// The client already told the user to log in again.
		out.Recorded = history.OutcomeSignedOut
		return waitErr

	case errors.Is(waitErr, errors.ErrPollExhausted):
		out.Recorded = history.OutcomeExhausted
		t.publish(event.SeverityError, waitErr.Error(), GaveUpDuration)
		return waitErr

	case waitErr != nil:
		out.Recorded = history.OutcomeCanceled
		return waitErr
	}
	// Wait only returns without a terminal task or an error if the
	// session was replaced, which Run never does.
	out.Recorded = history.OutcomeCanceled
	return errors.ErrCanceled
}

func (t *Tracker) publish(sev event.Severity, message string, d time.Duration) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(sev, message, d)
}

func completedMessage(tk *task.Task) string {
	if target := tk.Target(); target != "" {
		return fmt.Sprintf("%s completed for %s", tk.Type.Label(), target)
	}
	return tk.Type.Label() + " completed"
}

func failedMessage(tk *task.Task, summary string) string {
	name := tk.Type.Label()
	if target := tk.Target(); target != "" {
		name = fmt.Sprintf("%s for %s", name, target)
	}
	if summary == "" {
		return name + " failed"
	}
	return fmt.Sprintf("%s failed: %s", name, summary)
}

// History writes are best effort and never fail a run.

func (t *Tracker) recordBegin(ctx context.Context, e history.Entry) {
	if t.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteLimit)
	defer cancel()
	if err := t.history.Begin(ctx, e); err != nil {
		t.logger.Warn("failed to record task start", "task_id", e.TaskID, "error", err)
	}
}

func (t *Tracker) recordDescribe(ctx context.Context, taskID string, tk *task.Task) {
	if t.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteLimit)
	defer cancel()
	if err := t.history.Describe(ctx, taskID, tk.Type, tk.Target()); err != nil {
		t.logger.Warn("failed to describe task", "task_id", taskID, "error", err)
	}
}

func (t *Tracker) recordFinish(out Outcome) {
	if t.history == nil {
		return
	}
	e := history.Entry{
		TaskID:   out.TaskID,
		Outcome:  out.Recorded,
		Attempts: out.Snapshot.Attempts,
		Status:   task.StatusPending,
	}
	if tk := out.Snapshot.Task; tk != nil {
		e.Status = tk.Status
		if tk.Status.IsTerminal() {
			e.Summary = out.Result.Summary()
		}
	}
	if out.Snapshot.Err != nil && e.Summary == "" {
		e.Summary = out.Snapshot.Err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteLimit)
	defer cancel()
	if err := t.history.Finish(ctx, e); err != nil {
		t.logger.Warn("failed to record task outcome", "task_id", out.TaskID, "error", err)
	}
}

// countingLookup reports every lookup to the metrics recorder.
func (t *Tracker) countingLookup() poller.Lookup {
	if t.metrics == nil {
		return t.lookup
	}
	return poller.LookupFunc(func(ctx context.Context, taskID string) (*task.Task, error) {
		tk, err := t.lookup.GetTask(ctx, taskID)
		if err != nil {
			t.metrics.ObserveLookup(metrics.LookupError)
		} else {
			t.metrics.ObserveLookup(metrics.LookupOK)
		}
		return tk, err
	})
}
