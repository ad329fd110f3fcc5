package event

import (
	"sync"
	"time"
)

// scheduleFunc arms a one-shot timer and returns a function that disarms it.
type scheduleFunc func(d time.Duration, f func()) (stop func() bool)

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

type trayEntry struct {
	n    Notification
	stop func() bool
}

// Tray holds the notifications currently on screen. Each notification leaves
// the tray exactly once: when its duration elapses, when it is dismissed, or
// when a newer one evicts it because the tray is full.
type Tray struct {
	mu       sync.Mutex
	entries  []*trayEntry // publish order
	max      int
	schedule scheduleFunc
	onRemove func(Notification, RemoveReason)
	onChange func()
	closed   bool
}

// TrayOption configures a Tray.
type TrayOption func(*Tray)

// WithMaxItems bounds the tray; the oldest entry is evicted on overflow.
// Zero means unbounded.
func WithMaxItems(n int) TrayOption {
	return func(t *Tray) { t.max = n }
}

// WithOnRemove registers a hook called once per removed notification.
func WithOnRemove(fn func(Notification, RemoveReason)) TrayOption {
	return func(t *Tray) { t.onRemove = fn }
}

// WithOnChange registers a hook called after every add or removal.
func WithOnChange(fn func()) TrayOption {
	return func(t *Tray) { t.onChange = fn }
}

func withScheduler(s scheduleFunc) TrayOption {
	return func(t *Tray) { t.schedule = s }
}

// NewTray creates an empty tray.
func NewTray(opts ...TrayOption) *Tray {
	t := &Tray{schedule: afterFunc}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Attach subscribes the tray to bus and returns the unsubscribe function.
func (t *Tray) Attach(bus *Bus) func() {
	return bus.Subscribe(t.Add)
}

// Add places n in the tray and arms its expiry timer.
func (t *Tray) Add(n Notification) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	e := &trayEntry{n: n}
	t.entries = append(t.entries, e)

	var evicted []Notification
	for t.max > 0 && len(t.entries) > t.max {
		old := t.entries[0]
		t.entries = t.entries[1:]
		if old.stop != nil {
			old.stop()
		}
		evicted = append(evicted, old.n)
	}

	id := n.ID
	e.stop = t.schedule(n.Duration, func() { t.remove(id, RemovedExpired) })
	t.mu.Unlock()

	for _, old := range evicted {
		t.notifyRemoved(old, RemovedEvicted)
	}
	t.notifyChange()
}

// Dismiss removes the notification with the given id. It returns false if
// the notification already expired or was dismissed.
func (t *Tray) Dismiss(id string) bool {
	return t.remove(id, RemovedDismissed)
}

// DismissNewest removes the most recently added notification.
func (t *Tray) DismissNewest() bool {
	t.mu.Lock()
	if len(t.entries) == 0 {
		t.mu.Unlock()
		return false
	}
	id := t.entries[len(t.entries)-1].n.ID
	t.mu.Unlock()
	return t.Dismiss(id)
}

func (t *Tray) remove(id string, reason RemoveReason) bool {
	t.mu.Lock()
	idx := -1
	for i, e := range t.entries {
		if e.n.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.mu.Unlock()
		return false
	}
	e := t.entries[idx]
	t.entries = append(t.entries[:idx:idx], t.entries[idx+1:]...)
	if reason != RemovedExpired && e.stop != nil {
		e.stop()
	}
	t.mu.Unlock()

	t.notifyRemoved(e.n, reason)
	t.notifyChange()
	return true
}

func (t *Tray) notifyRemoved(n Notification, reason RemoveReason) {
	if t.onRemove != nil {
		t.onRemove(n, reason)
	}
}

func (t *Tray) notifyChange() {
	if t.onChange != nil {
		t.onChange()
	}
}

// Active returns the notifications in the tray, oldest first.
func (t *Tray) Active() []Notification {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Notification, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.n
	}
	return out
}

// Len returns the number of notifications in the tray.
func (t *Tray) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Close disarms every timer and empties the tray without firing hooks.
// Notifications added afterwards are ignored.
func (t *Tray) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.stop != nil {
			e.stop()
		}
	}
	t.entries = nil
	t.closed = true
}
