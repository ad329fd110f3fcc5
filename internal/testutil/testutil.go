// Package testutil provides shared helpers for odooctl tests.
package testutil

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"
)

// FakeClock is a manually advanced clock. It satisfies the Clock interfaces
// of the poller and the notification tray, and records every delay it was
// asked to wait for.
type FakeClock struct {
	mu        sync.Mutex
	now       time.Time
	waiters   []*fakeWaiter
	requested []time.Duration
}

type fakeWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewFakeClock creates a clock reading start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that receives once the clock has been advanced by
// at least d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requested = append(c.requested, d)
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, &fakeWaiter{deadline: c.now.Add(d), ch: ch})
	return ch
}

// Advance moves the clock forward and fires every waiter that is due.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.fireLocked()
}

// AdvanceToNext moves the clock to the earliest pending deadline and fires
// it. It returns false when nothing is waiting.
func (c *FakeClock) AdvanceToNext() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.waiters) == 0 {
		return false
	}
	sort.Slice(c.waiters, func(i, j int) bool {
		return c.waiters[i].deadline.Before(c.waiters[j].deadline)
	})
	if next := c.waiters[0].deadline; next.After(c.now) {
		c.now = next
	}
	c.fireLocked()
	return true
}

func (c *FakeClock) fireLocked() {
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if w.deadline.After(c.now) {
			kept = append(kept, w)
			continue
		}
		w.ch <- c.now
	}
	c.waiters = kept
}

// Waiters returns how many After channels have not fired yet.
func (c *FakeClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Requested returns every delay passed to After, in call order.
func (c *FakeClock) Requested() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.requested))
	copy(out, c.requested)
	return out
}

// WaitForWaiters blocks until at least n After channels are pending, failing
// the test after a few seconds.
func (c *FakeClock) WaitForWaiters(t testing.TB, n int) {
	t.Helper()
	Eventually(t, func() bool { return c.Waiters() >= n }, "clock never had %d waiters", n)
}

// Eventually polls cond until it holds, failing the test after a few
// seconds.
func Eventually(t testing.TB, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf(format, args...)
		}
		time.Sleep(time.Millisecond)
	}
}

// StateDir points XDG_STATE_HOME and XDG_CONFIG_HOME at temporary
// directories for the duration of the test and returns the resulting
// odooctl state directory, already created.
func StateDir(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	t.Setenv("XDG_STATE_HOME", filepath.Join(root, "state"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(root, "config"))
	dir := filepath.Join(root, "state", "odooctl")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("failed to create state dir: %v", err)
	}
	return dir
}
