package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Iron-Ham/odooctl/internal/api"
	"github.com/Iron-Ham/odooctl/internal/config"
	"github.com/Iron-Ham/odooctl/internal/errors"
	"github.com/Iron-Ham/odooctl/internal/metrics"
	"github.com/Iron-Ham/odooctl/internal/task"
	"github.com/Iron-Ham/odooctl/internal/testutil"
	"github.com/Iron-Ham/odooctl/internal/tracker"
)

type fakeTriggerer struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeTriggerer) Trigger(_ context.Context, action api.Action, id int) (*task.Trigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("%s:%d", action, id))
	if f.err != nil {
		return nil, f.err
	}
	return &task.Trigger{TaskID: fmt.Sprintf("task-%d", len(f.calls)), Message: "queued"}, nil
}

func (f *fakeTriggerer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeRunner struct {
	mu      sync.Mutex
	tracked []string
	err     error
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, trig *task.Trigger) (tracker.Outcome, error) {
	f.mu.Lock()
	f.tracked = append(f.tracked, trig.TaskID)
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return tracker.Outcome{TaskID: trig.TaskID}, ctx.Err()
		}
	}
	return tracker.Outcome{TaskID: trig.TaskID, Trigger: trig}, f.err
}

type testRecorder struct {
	*metrics.Recorder
	reg *prometheus.Registry
}

func newRecorder() testRecorder {
	reg := prometheus.NewRegistry()
	return testRecorder{Recorder: metrics.New(reg, reg), reg: reg}
}

func nightly() Job {
	return Job{Name: "nightly-backup", Cron: "0 3 * * *", Action: api.ActionBackup, TargetID: 7}
}

func TestJob_Validate(t *testing.T) {
	tests := []struct {
		name  string
		job   Job
		field string
	}{
		{"valid", nightly(), ""},
		{"descriptor", Job{Name: "h", Cron: "@hourly", Action: api.ActionRestart, TargetID: 1}, ""},
		{"unknown action", Job{Name: "x", Cron: "@daily", Action: "reboot", TargetID: 1}, "action"},
		{"zero target", Job{Name: "x", Cron: "@daily", Action: api.ActionBackup}, "target_id"},
		{"seconds field rejected", Job{Name: "x", Cron: "0 0 3 * * *", Action: api.ActionBackup, TargetID: 1}, "cron"},
		{"garbage cron", Job{Name: "x", Cron: "every day", Action: api.ActionBackup, TargetID: 1}, "cron"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Expected no error, got %v", err)
				}
				return
			}
			var verr *errors.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Expected field %q, got %q", tt.field, verr.Field)
			}
		})
	}
}

func TestJobsFromConfig(t *testing.T) {
	cfg := config.ScheduleConfig{Jobs: []config.JobConfig{
		{Name: "nightly-backup", Cron: "0 3 * * *", Action: "backup", TargetID: 7},
		{Cron: "@weekly", Action: "issue-ssl", TargetID: 2},
	}}
	jobs, err := JobsFromConfig(cfg)
	if err != nil {
		t.Fatalf("JobsFromConfig failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(jobs))
	}
	if jobs[1].Name != "issue-ssl-2" {
		t.Errorf("Expected derived name issue-ssl-2, got %q", jobs[1].Name)
	}
	if jobs[0].Action != api.ActionBackup {
		t.Errorf("Expected backup action, got %q", jobs[0].Action)
	}

	t.Run("duplicate names", func(t *testing.T) {
		dup := config.ScheduleConfig{Jobs: []config.JobConfig{
			{Name: "a", Cron: "@daily", Action: "backup", TargetID: 1},
			{Name: "a", Cron: "@daily", Action: "restart", TargetID: 1},
		}}
		if _, err := JobsFromConfig(dup); err == nil || !strings.Contains(err.Error(), "duplicate") {
			t.Errorf("Expected duplicate name error, got %v", err)
		}
	})

	t.Run("error names the index", func(t *testing.T) {
		bad := config.ScheduleConfig{Jobs: []config.JobConfig{
			{Name: "a", Cron: "@daily", Action: "backup", TargetID: 1},
			{Name: "b", Cron: "@daily", Action: "explode", TargetID: 1},
		}}
		_, err := JobsFromConfig(bad)
		if err == nil || !strings.Contains(err.Error(), "schedule.jobs[1]") {
			t.Errorf("Expected error for schedule.jobs[1], got %v", err)
		}
	})
}

func TestPreview(t *testing.T) {
	from := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		expr string
		want []time.Time
	}{
		{"0 3 * * *", []time.Time{
			time.Date(2026, 3, 15, 3, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 16, 3, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 17, 3, 0, 0, 0, time.UTC),
		}},
		{"@hourly", []time.Time{
			time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 14, 13, 0, 0, 0, time.UTC),
		}},
		{"*/15 * * * *", []time.Time{
			time.Date(2026, 3, 14, 10, 45, 0, 0, time.UTC),
			time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 14, 11, 15, 0, 0, time.UTC),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Preview(tt.expr, from, 3)
			if err != nil {
				t.Fatalf("Preview failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d times, got %d", len(tt.want), len(got))
			}
			for i := range got {
				if !got[i].Equal(tt.want[i]) {
					t.Errorf("Expected time %d to be %v, got %v", i, tt.want[i], got[i])
				}
			}
		})
	}

	if _, err := Preview("not a cron", from, 3); err == nil {
		t.Error("Expected error for invalid expression")
	}
}

func TestScheduler_AddRemoveEntries(t *testing.T) {
	s := New(&fakeTriggerer{}, &fakeRunner{}, WithLocation(time.UTC))
	if err := s.Add(nightly()); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := s.Add(Job{Name: "hourly-restart", Cron: "@hourly", Action: api.ActionRestart, TargetID: 3}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	// Re-adding replaces rather than duplicates.
	if err := s.Add(nightly()); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	entries := s.Entries()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Job.Name != "hourly-restart" || entries[1].Job.Name != "nightly-backup" {
		t.Errorf("Expected entries sorted by name, got %s, %s", entries[0].Job.Name, entries[1].Job.Name)
	}

	if err := s.Add(Job{Name: "bad", Cron: "@daily", Action: "nope", TargetID: 1}); err == nil {
		t.Error("Expected Add to reject unknown action")
	}

	if !s.Remove("hourly-restart") {
		t.Error("Expected Remove to report the job existed")
	}
	if s.Remove("hourly-restart") {
		t.Error("Expected second Remove to report false")
	}
	if got := len(s.Entries()); got != 1 {
		t.Errorf("Expected 1 entry after remove, got %d", got)
	}
}

func TestScheduler_EntriesReportNextAfterStart(t *testing.T) {
	s := New(&fakeTriggerer{}, &fakeRunner{}, WithLocation(time.UTC))
	if err := s.Add(nightly()); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	s.Start(context.Background())
	defer func() { _ = s.Stop(context.Background()) }()

	testutil.Eventually(t, func() bool {
		return !s.Entries()[0].Next.IsZero()
	}, "next firing was never computed")
	next := s.Entries()[0].Next.UTC()
	if next.Hour() != 3 || next.Minute() != 0 {
		t.Errorf("Expected next firing at 03:00, got %v", next)
	}
}

func TestScheduler_RunNow(t *testing.T) {
	t.Run("succeeded", func(t *testing.T) {
		trig := &fakeTriggerer{}
		runner := &fakeRunner{}
		rec := newRecorder()
		s := New(trig, runner, WithMetrics(rec.Recorder))
		if err := s.Add(nightly()); err != nil {
			t.Fatalf("Add failed: %v", err)
		}

		out, err := s.RunNow(context.Background(), "nightly-backup")
		if err != nil {
			t.Fatalf("RunNow failed: %v", err)
		}
		if out.TaskID != "task-1" {
			t.Errorf("Expected task-1, got %q", out.TaskID)
		}
		if trig.calls[0] != "backup:7" {
			t.Errorf("Expected backup:7 trigger, got %q", trig.calls[0])
		}
		if got := scheduledRuns(t, rec, "nightly-backup", ResultSucceeded); got != 1 {
			t.Errorf("Expected 1 succeeded run, got %v", got)
		}
	})

	t.Run("trigger error", func(t *testing.T) {
		trig := &fakeTriggerer{err: errors.NewAPIError("POST", "/backup/instances/7/backup-now", 503, "busy")}
		runner := &fakeRunner{}
		rec := newRecorder()
		s := New(trig, runner, WithMetrics(rec.Recorder))
		_ = s.Add(nightly())

		if _, err := s.RunNow(context.Background(), "nightly-backup"); err == nil {
			t.Fatal("Expected error from trigger")
		}
		if len(runner.tracked) != 0 {
			t.Errorf("Expected nothing tracked, got %v", runner.tracked)
		}
		if got := scheduledRuns(t, rec, "nightly-backup", ResultTriggerError); got != 1 {
			t.Errorf("Expected 1 trigger error, got %v", got)
		}
	})

	t.Run("task failed", func(t *testing.T) {
		runner := &fakeRunner{err: errors.NewTaskFailedError("task-1", "run_backup", "disk full")}
		rec := newRecorder()
		s := New(&fakeTriggerer{}, runner, WithMetrics(rec.Recorder))
		_ = s.Add(nightly())

		_, err := s.RunNow(context.Background(), "nightly-backup")
		if !errors.Is(err, errors.ErrTaskFailed) {
			t.Errorf("Expected task failed error, got %v", err)
		}
		if got := scheduledRuns(t, rec, "nightly-backup", ResultFailed); got != 1 {
			t.Errorf("Expected 1 failed run, got %v", got)
		}
	})

	t.Run("unknown job", func(t *testing.T) {
		s := New(&fakeTriggerer{}, &fakeRunner{})
		_, err := s.RunNow(context.Background(), "missing")
		var nf *errors.NotFoundError
		if !errors.As(err, &nf) {
			t.Errorf("Expected not found error, got %v", err)
		}
	})
}

func TestScheduler_SkipsOverlappingRun(t *testing.T) {
	trig := &fakeTriggerer{}
	runner := &fakeRunner{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	rec := newRecorder()
	s := New(trig, runner, WithMetrics(rec.Recorder))
	_ = s.Add(nightly())

	// First firing blocks in the runner until the gate opens.
	s.fire("nightly-backup")
	<-runner.entered

	if !s.Entries()[0].Running {
		t.Error("Expected job to be reported as running")
	}

	s.fire("nightly-backup")
	if _, err := s.RunNow(context.Background(), "nightly-backup"); err == nil {
		t.Error("Expected RunNow to refuse while the job is running")
	}
	if got := trig.count(); got != 1 {
		t.Errorf("Expected one trigger while running, got %d", got)
	}
	if got := scheduledRuns(t, rec, "nightly-backup", ResultSkipped); got != 2 {
		t.Errorf("Expected 2 skipped firings, got %v", got)
	}

	close(runner.gate)
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if s.Entries()[0].Running {
		t.Error("Expected job to be idle after stop")
	}

	runner.gate = nil
	runner.entered = nil
	s.fire("nightly-backup")
	_ = s.Stop(context.Background())
	if got := trig.count(); got != 2 {
		t.Errorf("Expected a new firing once idle, got %d triggers", got)
	}
}

func TestScheduler_StopHonorsContext(t *testing.T) {
	runner := &fakeRunner{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := New(&fakeTriggerer{}, runner)
	_ = s.Add(nightly())
	s.fire("nightly-backup")
	<-runner.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded while run is in flight, got %v", err)
	}
	close(runner.gate)
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Expected clean stop after run finished, got %v", err)
	}
}

func TestStatusServer(t *testing.T) {
	rec := newRecorder()
	s := New(&fakeTriggerer{}, &fakeRunner{}, WithMetrics(rec.Recorder))
	_ = s.Add(nightly())
	_, _ = s.RunNow(context.Background(), "nightly-backup")

	srv := httptest.NewServer(NewStatusServer(s, rec.Recorder, nil).Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Status != "ok" || len(body.Jobs) != 1 || body.Jobs[0].Job.Name != "nightly-backup" {
		t.Errorf("Unexpected health body: %+v", body)
	}

	metricsResp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer func() { _ = metricsResp.Body.Close() }()
	if metricsResp.StatusCode != http.StatusOK {
		t.Errorf("Expected metrics 200, got %d", metricsResp.StatusCode)
	}

	t.Run("no metrics without recorder", func(t *testing.T) {
		bare := httptest.NewServer(NewStatusServer(s, nil, nil).Handler())
		defer bare.Close()
		resp, err := bare.Client().Get(bare.URL + "/metrics")
		if err != nil {
			t.Fatalf("GET failed: %v", err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", resp.StatusCode)
		}
	})
}

// scheduledRuns reads odooctl_scheduled_runs_total{job,result} from the
// recorder's registry.
func scheduledRuns(t *testing.T, rec testRecorder, job, result string) float64 {
	t.Helper()
	families, err := rec.reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "odooctl_scheduled_runs_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["job"] == job && labels["result"] == result {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
