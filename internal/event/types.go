package event

import "time"

// Severity classifies a notification for presentation.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// DefaultDuration is how long a notification stays visible when the
// publisher does not say otherwise.
const DefaultDuration = 5 * time.Second

// IsValid reports whether s is one of the known severities.
func (s Severity) IsValid() bool {
	switch s {
	case SeveritySuccess, SeverityError, SeverityWarning, SeverityInfo:
		return true
	}
	return false
}

// Notification is a user-visible message with a bounded lifetime.
type Notification struct {
	ID        string        `json:"id"`
	Severity  Severity      `json:"severity"`
	Message   string        `json:"message"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// ExpiresAt returns the instant the notification should disappear.
func (n Notification) ExpiresAt() time.Time {
	return n.CreatedAt.Add(n.Duration)
}

// RemoveReason records why a notification left the Tray.
type RemoveReason string

const (
	RemovedExpired   RemoveReason = "expired"
	RemovedDismissed RemoveReason = "dismissed"
	RemovedEvicted   RemoveReason = "evicted"
)
