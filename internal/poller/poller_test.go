package poller

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/odooctl/internal/errors"
	"github.com/Iron-Ham/odooctl/internal/task"
	"github.com/Iron-Ham/odooctl/internal/testutil"
)

// step is one scripted lookup outcome. A nil gate returns immediately.
type step struct {
	status task.Status
	err    error
	gate   chan struct{}
}

type scriptedLookup struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func script(steps ...step) *scriptedLookup {
	return &scriptedLookup{steps: steps}
}

func ok(status task.Status) step { return step{status: status} }

func fail() step { return step{err: fmt.Errorf("dial tcp: connection refused")} }

// GetTask replays the script, repeating the final step once it runs out.
func (s *scriptedLookup) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	s.mu.Lock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	st := s.steps[i]
	s.calls++
	s.mu.Unlock()

	if st.gate != nil {
		<-st.gate
	}
	if st.err != nil {
		return nil, st.err
	}
	return &task.Task{TaskID: taskID, Type: task.KindRunBackup, Status: st.status}, nil
}

func (s *scriptedLookup) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestPoller(lookup Lookup, opts Options) (*Poller, *testutil.FakeClock) {
	clock := testutil.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(lookup, opts, WithClock(clock)), clock
}

// drive advances the fake clock through every scheduled wait until the
// poller's session ends.
func drive(t *testing.T, p *Poller, clock *testutil.FakeClock) Snapshot {
	t.Helper()
	done := p.Done()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-done:
			return p.Snapshot()
		case <-deadline:
			t.Fatalf("poller did not finish, snapshot: %+v", p.Snapshot())
		default:
		}
		if !clock.AdvanceToNext() {
			time.Sleep(time.Millisecond)
		}
	}
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestNextInterval(t *testing.T) {
	o := DefaultOptions()

	tests := []struct {
		name    string
		current time.Duration
		status  task.Status
		err     error
		want    time.Duration
	}{
		{"pending unchanged", ms(2250), task.StatusPending, nil, ms(2250)},
		{"running tightens", ms(2250), task.StatusRunning, nil, ms(1800)},
		{"running floors at initial", ms(1000), task.StatusRunning, nil, ms(1000)},
		{"running floors from just above", ms(1100), task.StatusRunning, nil, ms(1000)},
		{"failure backs off", ms(1000), "", fmt.Errorf("boom"), ms(1500)},
		{"failure backs off again", ms(1500), "", fmt.Errorf("boom"), ms(2250)},
		{"failure capped", ms(8000), "", fmt.Errorf("boom"), ms(10000)},
		{"failure at cap", ms(10000), "", fmt.Errorf("boom"), ms(10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := o.NextInterval(tt.current, tt.status, tt.err)
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestNextInterval_Bounds(t *testing.T) {
	o := DefaultOptions()
	current := o.InitialInterval
	for i := 0; i < 50; i++ {
		current = o.NextInterval(current, "", fmt.Errorf("boom"))
		if current > o.MaxInterval {
			t.Fatalf("Expected interval <= %v after failure, got %v", o.MaxInterval, current)
		}
	}
	for i := 0; i < 50; i++ {
		current = o.NextInterval(current, task.StatusRunning, nil)
		if current < o.InitialInterval {
			t.Fatalf("Expected interval >= %v after running, got %v", o.InitialInterval, current)
		}
	}
}

func TestOptions_Defaults(t *testing.T) {
	o := Options{}.withDefaults()
	if !reflect.DeepEqual(o, DefaultOptions()) {
		t.Errorf("Expected zero options to become defaults, got %+v", o)
	}
	if err := o.Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}

	bad := DefaultOptions()
	bad.MaxInterval = ms(500)
	if err := bad.Validate(); err == nil {
		t.Error("Expected error when max interval is below initial interval")
	}
	bad = DefaultOptions()
	bad.BackoffFactor = 0.5
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for shrinking backoff factor")
	}
}

func TestScenario_PendingRunningSuccess(t *testing.T) {
	lookup := script(
		ok(task.StatusPending),
		ok(task.StatusPending),
		ok(task.StatusRunning),
		ok(task.StatusRunning),
		ok(task.StatusSuccess),
	)
	p, clock := newTestPoller(lookup, DefaultOptions())

	var completions []task.Task
	var mu sync.Mutex
	p.OnComplete(func(tk task.Task) {
		mu.Lock()
		defer mu.Unlock()
		completions = append(completions, tk)
	})

	p.Start(context.Background(), "t-1")
	snap := drive(t, p, clock)

	if snap.IsPolling {
		t.Error("Expected polling to stop")
	}
	if snap.Err != nil {
		t.Errorf("Expected no error, got %v", snap.Err)
	}
	if snap.Interval != ms(1000) {
		t.Errorf("Expected interval 1000ms after two running lookups, got %v", snap.Interval)
	}
	want := []time.Duration{ms(1000), ms(1000), ms(1000), ms(1000)}
	if got := clock.Requested(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected waits %v, got %v", want, got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(completions) != 1 {
		t.Fatalf("Expected onComplete once, got %d", len(completions))
	}
	if completions[0].Status != task.StatusSuccess {
		t.Errorf("Expected success task, got %s", completions[0].Status)
	}
	if lookup.Calls() != 5 {
		t.Errorf("Expected 5 lookups, got %d", lookup.Calls())
	}
}

func TestScenario_FailuresBackOffThenSuccessResets(t *testing.T) {
	lookup := script(fail(), fail(), fail(), ok(task.StatusPending), ok(task.StatusSuccess))
	p, clock := newTestPoller(lookup, DefaultOptions())

	var seen []Snapshot
	var mu sync.Mutex
	p.OnChange(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})

	p.Start(context.Background(), "t-2")
	drive(t, p, clock)

	// Waits after each failure grow by the backoff factor; the pending
	// lookup that follows leaves the interval where the failures put it.
	want := []time.Duration{ms(1500), ms(2250), ms(3375), ms(3375)}
	if got := clock.Requested(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected waits %v, got %v", want, got)
	}

	mu.Lock()
	defer mu.Unlock()
	// seen[0] is the Start notification; lookups follow.
	if len(seen) < 5 {
		t.Fatalf("Expected at least 5 snapshots, got %d", len(seen))
	}
	intervals := []time.Duration{seen[0].Interval, seen[1].Interval, seen[2].Interval}
	if !reflect.DeepEqual(intervals, []time.Duration{ms(1000), ms(1500), ms(2250)}) {
		t.Errorf("Expected intervals 1000 -> 1500 -> 2250, got %v", intervals)
	}
	if seen[3].ConsecutiveErrors != 3 {
		t.Errorf("Expected 3 consecutive errors after third failure, got %d", seen[3].ConsecutiveErrors)
	}
	if seen[4].ConsecutiveErrors != 0 {
		t.Errorf("Expected error count reset after success, got %d", seen[4].ConsecutiveErrors)
	}
	if seen[4].Interval != seen[3].Interval {
		t.Errorf("Expected pending lookup to keep interval %v, got %v", seen[3].Interval, seen[4].Interval)
	}
}

func TestScenario_ErrorBudgetExhausted(t *testing.T) {
	steps := []step{ok(task.StatusPending)}
	for i := 0; i < 10; i++ {
		steps = append(steps, fail())
	}
	lookup := script(steps...)
	p, clock := newTestPoller(lookup, DefaultOptions())

	completed := false
	p.OnComplete(func(task.Task) { completed = true })

	p.Start(context.Background(), "t-3")
	snap := drive(t, p, clock)

	if snap.IsPolling {
		t.Error("Expected polling to stop")
	}
	if snap.Err == nil {
		t.Fatal("Expected an error")
	}
	if snap.Err.Error() != "Task polling failed after 10 attempts" {
		t.Errorf("Expected exhaustion message, got %q", snap.Err.Error())
	}
	if !errors.Is(snap.Err, errors.ErrPollExhausted) {
		t.Error("Expected ErrPollExhausted")
	}
	if snap.Task == nil || snap.Task.Status != task.StatusPending {
		t.Errorf("Expected task to keep its last pending value, got %+v", snap.Task)
	}
	if completed {
		t.Error("Expected onComplete not to fire on exhaustion")
	}
	if lookup.Calls() != 11 {
		t.Errorf("Expected 11 lookups, got %d", lookup.Calls())
	}
	for _, d := range clock.Requested() {
		if d > DefaultMaxInterval {
			t.Errorf("Expected waits capped at %v, got %v", DefaultMaxInterval, d)
		}
	}
}

func TestSignedOutLookupStopsPolling(t *testing.T) {
	signedOut := step{err: errors.NewAuthError("no refresh token stored", errors.ErrNoRefreshToken)}
	lookup := script(ok(task.StatusRunning), fail(), signedOut, ok(task.StatusSuccess))
	p, clock := newTestPoller(lookup, DefaultOptions())

	completed := false
	p.OnComplete(func(task.Task) { completed = true })

	p.Start(context.Background(), "t-auth")
	snap := drive(t, p, clock)

	if snap.IsPolling {
		t.Error("Expected polling to stop")
	}
	if !errors.Is(snap.Err, errors.ErrLoginRequired) {
		t.Fatalf("Expected a login-required error, got %v", snap.Err)
	}
	if errors.Is(snap.Err, errors.ErrPollExhausted) {
		t.Error("Expected the error budget to be left unspent")
	}
	if lookup.Calls() != 3 {
		t.Errorf("Expected polling to stop at the refused lookup, got %d lookups", lookup.Calls())
	}
	if completed {
		t.Error("Expected onComplete not to fire")
	}
}

func TestScenario_ResetDuringPendingDelay(t *testing.T) {
	lookup := script(ok(task.StatusPending), ok(task.StatusSuccess))
	p, clock := newTestPoller(lookup, DefaultOptions())

	var completions atomic.Int32
	p.OnComplete(func(task.Task) { completions.Add(1) })

	p.Start(context.Background(), "t-6")
	clock.WaitForWaiters(t, 1)

	clock.Advance(ms(50))
	p.Reset()
	clock.Advance(ms(2000))

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("Expected Done to be closed after reset")
	}

	snap := p.Snapshot()
	if snap.IsPolling || snap.TaskID != "" || snap.Task != nil {
		t.Errorf("Expected idle snapshot after reset, got %+v", snap)
	}
	if lookup.Calls() != 1 {
		t.Errorf("Expected the scheduled lookup never to run, got %d calls", lookup.Calls())
	}
	if completions.Load() != 0 {
		t.Errorf("Expected no completion, got %d", completions.Load())
	}
}

func TestReset_DiscardsInFlightLookup(t *testing.T) {
	gate := make(chan struct{})
	lookup := script(step{status: task.StatusSuccess, gate: gate})
	p, _ := newTestPoller(lookup, DefaultOptions())

	var completions atomic.Int32
	p.OnComplete(func(task.Task) { completions.Add(1) })

	p.Start(context.Background(), "t-7")
	testutil.Eventually(t, func() bool { return lookup.Calls() == 1 }, "lookup never started")

	p.Reset()
	close(gate)

	// Give the released lookup a chance to (wrongly) apply its result.
	time.Sleep(20 * time.Millisecond)

	if completions.Load() != 0 {
		t.Errorf("Expected in-flight result to be discarded, got %d completions", completions.Load())
	}
	if snap := p.Snapshot(); snap.Task != nil || snap.Attempts != 0 {
		t.Errorf("Expected untouched idle state, got %+v", snap)
	}
}

func TestTimeout_CheckedBeforeLookup(t *testing.T) {
	lookup := script(ok(task.StatusPending))
	opts := DefaultOptions()
	opts.Timeout = 5 * time.Second
	p, clock := newTestPoller(lookup, opts)

	p.Start(context.Background(), "t-8")
	snap := drive(t, p, clock)

	if !errors.Is(snap.Err, errors.ErrPollTimeout) {
		t.Fatalf("Expected timeout error, got %v", snap.Err)
	}
	if lookup.Calls() != 5 {
		t.Errorf("Expected 5 lookups within a 5s budget, got %d", lookup.Calls())
	}
	elapsed := clock.Now().Sub(snap.StartedAt)
	if elapsed > opts.Timeout {
		t.Errorf("Expected polling to stop within %v, took %v", opts.Timeout, elapsed)
	}
}

func TestTimeout_WaitClampedToRemainingBudget(t *testing.T) {
	lookup := script(fail())
	opts := DefaultOptions()
	opts.Timeout = 4 * time.Second
	p, clock := newTestPoller(lookup, opts)

	p.Start(context.Background(), "t-9")
	snap := drive(t, p, clock)

	if !errors.Is(snap.Err, errors.ErrPollTimeout) {
		t.Fatalf("Expected timeout error, got %v", snap.Err)
	}
	// 1.5s + 2.25s leaves 250ms of the 4s budget.
	want := []time.Duration{ms(1500), ms(2250), ms(250)}
	if got := clock.Requested(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected waits %v, got %v", want, got)
	}
}

func TestFailedTask_CompletesWithoutError(t *testing.T) {
	lookup := script(ok(task.StatusRunning), ok(task.StatusFailed))
	p, clock := newTestPoller(lookup, DefaultOptions())

	var got task.Status
	p.OnComplete(func(tk task.Task) { got = tk.Status })

	p.Start(context.Background(), "t-10")
	snap := drive(t, p, clock)

	if snap.Err != nil {
		t.Errorf("Expected a failed task not to be a poller error, got %v", snap.Err)
	}
	if !snap.Finished() {
		t.Error("Expected snapshot to report finished")
	}
	if got != task.StatusFailed {
		t.Errorf("Expected completion with failed status, got %q", got)
	}
}

func TestStart_ReplacesPreviousSession(t *testing.T) {
	lookup := script(ok(task.StatusPending))
	p, clock := newTestPoller(lookup, DefaultOptions())

	p.Start(context.Background(), "first")
	clock.WaitForWaiters(t, 1)
	firstDone := p.Done()

	p.Start(context.Background(), "second")
	select {
	case <-firstDone:
	case <-time.After(time.Second):
		t.Fatal("Expected first session to end when a new one starts")
	}
	if snap := p.Snapshot(); snap.TaskID != "second" {
		t.Errorf("Expected second task to be tracked, got %q", snap.TaskID)
	}
	p.Reset()
}

func TestWait(t *testing.T) {
	t.Run("returns final snapshot", func(t *testing.T) {
		p, clock := newTestPoller(script(ok(task.StatusRunning), ok(task.StatusSuccess)), DefaultOptions())
		p.Start(context.Background(), "w-1")
		done := p.Done()
		go func() {
			for {
				select {
				case <-done:
					return
				default:
				}
				if !clock.AdvanceToNext() {
					time.Sleep(time.Millisecond)
				}
			}
		}()

		snap, err := p.Wait(context.Background())
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if snap.Task == nil || snap.Task.Status != task.StatusSuccess {
			t.Errorf("Expected success snapshot, got %+v", snap)
		}
	})

	t.Run("reset yields canceled", func(t *testing.T) {
		p, clock := newTestPoller(script(ok(task.StatusPending)), DefaultOptions())
		p.Start(context.Background(), "w-2")
		clock.WaitForWaiters(t, 1)

		errCh := make(chan error, 1)
		go func() {
			_, err := p.Wait(context.Background())
			errCh <- err
		}()
		time.Sleep(10 * time.Millisecond)
		p.Reset()

		if err := <-errCh; !errors.Is(err, errors.ErrCanceled) {
			t.Errorf("Expected ErrCanceled, got %v", err)
		}
	})

	t.Run("context cancel stops polling", func(t *testing.T) {
		p, clock := newTestPoller(script(ok(task.StatusPending)), DefaultOptions())
		ctx, cancel := context.WithCancel(context.Background())
		p.Start(ctx, "w-3")
		clock.WaitForWaiters(t, 1)

		cancel()
		<-p.Done()
		testutil.Eventually(t, func() bool { return !p.Snapshot().IsPolling }, "poller kept polling after cancel")
		if !errors.Is(p.Snapshot().Err, errors.ErrCanceled) {
			t.Errorf("Expected ErrCanceled in snapshot, got %v", p.Snapshot().Err)
		}
	})

	t.Run("idle poller returns immediately", func(t *testing.T) {
		p, _ := newTestPoller(script(ok(task.StatusPending)), DefaultOptions())
		snap, err := p.Wait(context.Background())
		if err != nil || snap.IsPolling {
			t.Errorf("Expected idle snapshot, got %+v, %v", snap, err)
		}
	})
}
