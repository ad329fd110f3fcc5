// Package schedule fires configured triggers on cron schedules and follows
// each resulting task through the tracker.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Iron-Ham/odooctl/internal/api"
	"github.com/Iron-Ham/odooctl/internal/config"
	"github.com/Iron-Ham/odooctl/internal/errors"
	"github.com/Iron-Ham/odooctl/internal/logging"
	"github.com/Iron-Ham/odooctl/internal/metrics"
	"github.com/Iron-Ham/odooctl/internal/task"
	"github.com/Iron-Ham/odooctl/internal/tracker"
)

// Results recorded for each firing.
const (
	ResultSucceeded    = "succeeded"
	ResultFailed       = "failed"
	ResultTriggerError = "trigger_error"
	ResultSkipped      = "skipped"
)

// Triggerer starts a remote action. *api.Client satisfies it.
type Triggerer interface {
	Trigger(ctx context.Context, action api.Action, id int) (*task.Trigger, error)
}

// Runner follows a triggered task. *tracker.Tracker satisfies it.
type Runner interface {
	Run(ctx context.Context, trig *task.Trigger) (tracker.Outcome, error)
}

// Job is one recurring trigger.
type Job struct {
	Name     string
	Cron     string
	Action   api.Action
	TargetID int
}

// JobsFromConfig converts the schedule section into jobs, rejecting unknown
// actions and bad expressions.
func JobsFromConfig(cfg config.ScheduleConfig) ([]Job, error) {
	jobs := make([]Job, 0, len(cfg.Jobs))
	seen := make(map[string]bool)
	for i, jc := range cfg.Jobs {
		name := strings.TrimSpace(jc.Name)
		if name == "" {
			name = fmt.Sprintf("%s-%d", jc.Action, jc.TargetID)
		}
		if seen[name] {
			return nil, fmt.Errorf("schedule.jobs[%d]: duplicate job name %q", i, name)
		}
		seen[name] = true

		job := Job{Name: name, Cron: jc.Cron, Action: api.Action(jc.Action), TargetID: jc.TargetID}
		if err := job.Validate(); err != nil {
			return nil, fmt.Errorf("schedule.jobs[%d]: %w", i, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Validate checks the job can be scheduled.
func (j Job) Validate() error {
	if !j.Action.IsKnown() {
		return errors.NewValidationError(fmt.Sprintf("unknown action %q", j.Action)).WithField("action")
	}
	if j.TargetID <= 0 {
		return errors.NewValidationError("target_id must be positive").WithField("target_id")
	}
	if _, err := config.CronParser.Parse(j.Cron); err != nil {
		return errors.NewValidationError(fmt.Sprintf("invalid cron expression: %v", err)).WithField("cron")
	}
	return nil
}

// Preview returns the next n firing times of expr after from.
func Preview(expr string, from time.Time, n int) ([]time.Time, error) {
	sched, err := config.CronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	times := make([]time.Time, 0, n)
	next := from
	for i := 0; i < n; i++ {
		next = sched.Next(next)
		if next.IsZero() {
			break
		}
		times = append(times, next)
	}
	return times, nil
}

// EntryInfo describes a scheduled job.
type EntryInfo struct {
	Job     Job       `json:"job"`
	Next    time.Time `json:"next"`
	Prev    time.Time `json:"prev,omitempty"`
	Running bool      `json:"running"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocation interprets cron expressions in loc.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.location = loc }
}

// WithMetrics counts firings.
func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Scheduler) { s.metrics = r }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler fires jobs. A job still being tracked when its next firing
// comes round is skipped.
type Scheduler struct {
	triggerer Triggerer
	runner    Runner
	metrics   *metrics.Recorder
	logger    *logging.Logger
	location  *time.Location

	cron    *cron.Cron
	mu      sync.Mutex
	jobs    map[string]Job
	entries map[string]cron.EntryID
	running map[string]bool
	wg      sync.WaitGroup
	ctx     context.Context
}

// New creates a stopped scheduler.
func New(triggerer Triggerer, runner Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		triggerer: triggerer,
		runner:    runner,
		location:  time.Local,
		jobs:      make(map[string]Job),
		entries:   make(map[string]cron.EntryID),
		running:   make(map[string]bool),
		ctx:       context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger).WithComponent("schedule")
	s.cron = cron.New(
		cron.WithParser(config.CronParser),
		cron.WithLocation(s.location),
	)
	return s
}

// Add schedules job, replacing any job with the same name.
func (s *Scheduler) Add(job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	sched, err := config.CronParser.Parse(job.Cron)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[job.Name]; ok {
		s.cron.Remove(id)
	}
	name := job.Name
	s.jobs[name] = job
	s.entries[name] = s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(name) }))
	s.logger.Info("job scheduled", "job", name, "cron", job.Cron, "action", string(job.Action), "target_id", job.TargetID)
	return nil
}

// Remove unschedules a job. It reports whether the job existed.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[name]
	if !ok {
		return false
	}
	s.cron.Remove(id)
	delete(s.entries, name)
	delete(s.jobs, name)
	return true
}

// Start begins firing jobs. ctx bounds the triggers and tracking they start.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// Stop stops firing and waits for in-flight firings, or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	<-s.cron.Stop().Done()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries lists scheduled jobs by name.
func (s *Scheduler) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntryInfo, 0, len(s.entries))
	for name, id := range s.entries {
		e := s.cron.Entry(id)
		out = append(out, EntryInfo{Job: s.jobs[name], Next: e.Next, Prev: e.Prev, Running: s.running[name]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job.Name < out[j].Job.Name })
	return out
}

// RunNow fires a job immediately and waits for its task to finish.
func (s *Scheduler) RunNow(ctx context.Context, name string) (tracker.Outcome, error) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return tracker.Outcome{}, errors.NewNotFoundError("job", name)
	}
	if !s.claim(name) {
		s.record(name, ResultSkipped)
		return tracker.Outcome{}, fmt.Errorf("job %s is already running", name)
	}
	s.wg.Add(1)
	defer s.wg.Done()
	defer s.release(name)
	return s.execute(ctx, job)
}

func (s *Scheduler) fire(name string) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	ctx := s.ctx
	s.mu.Unlock()
	if !ok {
		return
	}
	if !s.claim(name) {
		s.logger.Info("skipping firing because the previous one is still tracking", "job", name)
		s.record(name, ResultSkipped)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(name)
		_, _ = s.execute(ctx, job)
	}()
}

func (s *Scheduler) execute(ctx context.Context, job Job) (tracker.Outcome, error) {
	logger := s.logger.With("job", job.Name)
	trig, err := s.triggerer.Trigger(ctx, job.Action, job.TargetID)
	if err != nil {
		logger.Error("trigger failed", "error", err)
		s.record(job.Name, ResultTriggerError)
		return tracker.Outcome{}, err
	}
	logger.Info("job triggered", "task_id", trig.TaskID, "message", trig.Message)

	out, err := s.runner.Run(ctx, trig)
	if err != nil {
		logger.Warn("job did not succeed", "task_id", trig.TaskID, "error", err)
		s.record(job.Name, ResultFailed)
		return out, err
	}
	s.record(job.Name, ResultSucceeded)
	return out, nil
}

func (s *Scheduler) claim(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[name] {
		return false
	}
	s.running[name] = true
	return true
}

func (s *Scheduler) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, name)
}

func (s *Scheduler) record(name, result string) {
	if s.metrics != nil {
		s.metrics.ObserveScheduledRun(name, result)
	}
}
