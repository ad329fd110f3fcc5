package event

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/odooctl/internal/logging"
)

// Listener receives published notifications.
type Listener func(Notification)

// subscription represents a registered listener.
type subscription struct {
	id       uint64
	listener Listener
}

// Bus is a synchronous publish/subscribe channel for notifications.
// Delivery happens on the publisher's goroutine in subscription order.
type Bus struct {
	mu              sync.RWMutex
	subscriptions   []subscription
	nextID          atomic.Uint64
	defaultDuration time.Duration
	logger          *logging.Logger
	now             func() time.Time
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithDefaultDuration overrides DefaultDuration for notifications published
// without a duration.
func WithDefaultDuration(d time.Duration) BusOption {
	return func(b *Bus) {
		if d > 0 {
			b.defaultDuration = d
		}
	}
}

// WithLogger sets the logger used to report panicking listeners.
func WithLogger(l *logging.Logger) BusOption {
	return func(b *Bus) { b.logger = l }
}

// NewBus creates a new notification bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		defaultDuration: DefaultDuration,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = logging.OrNop(b.logger).WithComponent("event")
	return b
}

// Subscribe registers a listener and returns a function that removes it.
// The returned function may be called more than once and from inside a
// listener.
func (b *Bus) Subscribe(listener Listener) (unsubscribe func()) {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.subscriptions = append(b.subscriptions, subscription{id: id, listener: listener})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscriptions {
		if sub.id == id {
			// Copy instead of re-slicing in place: Publish may be iterating
			// over a snapshot that shares the backing array.
			next := make([]subscription, 0, len(b.subscriptions)-1)
			next = append(next, b.subscriptions[:i]...)
			b.subscriptions = append(next, b.subscriptions[i+1:]...)
			return
		}
	}
}

// Publish builds a Notification and delivers it to every listener that was
// subscribed when Publish was called. A duration <= 0 selects the bus default.
// If a listener panics, the panic is logged, recovered, and delivery
// continues to remaining listeners.
func (b *Bus) Publish(severity Severity, message string, duration time.Duration) Notification {
	if duration <= 0 {
		duration = b.defaultDuration
	}
	n := Notification{
		ID:        uuid.NewString(),
		Severity:  severity,
		Message:   message,
		Duration:  duration,
		CreatedAt: b.now(),
	}

	b.mu.RLock()
	subs := b.subscriptions
	b.mu.RUnlock()

	for _, sub := range subs {
		b.safeCall(sub.listener, n)
	}
	return n
}

// Success, Error, Warning and Info publish with the default duration.
func (b *Bus) Success(message string) Notification { return b.Publish(SeveritySuccess, message, 0) }
func (b *Bus) Error(message string) Notification   { return b.Publish(SeverityError, message, 0) }
func (b *Bus) Warning(message string) Notification { return b.Publish(SeverityWarning, message, 0) }
func (b *Bus) Info(message string) Notification    { return b.Publish(SeverityInfo, message, 0) }

func (b *Bus) safeCall(listener Listener, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("notification listener panicked",
				"severity", string(n.Severity),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	listener(n)
}

// Clear removes all subscriptions.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = nil
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}
