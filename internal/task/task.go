// Package task defines the remote task record that long-running backend
// operations report their progress through.
package task

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a remote task. It only moves forward:
// pending -> running -> success|failed, and pending may jump straight to a
// terminal state.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// rank orders statuses for monotonicity checks.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusRunning:
		return 1
	case StatusSuccess, StatusFailed:
		return 2
	}
	return -1
}

// CanTransition reports whether a task observed in s may next be observed
// in next.
func (s Status) CanTransition(next Status) bool {
	if s.IsTerminal() {
		return s == next
	}
	return next.rank() >= s.rank()
}

// Task is the backend's record of an asynchronous operation.
type Task struct {
	ID          int        `json:"id"`
	TaskID      string     `json:"celery_task_id"`
	Type        Kind       `json:"task_type"`
	TargetID    *int       `json:"target_id"`
	TargetType  *string    `json:"target_type"`
	Status      Status     `json:"status"`
	Result      *string    `json:"result"`
	StartedAt   *Timestamp `json:"started_at"`
	CompletedAt *Timestamp `json:"completed_at"`
	CreatedAt   Timestamp  `json:"created_at"`
}

// RawResult returns the result payload or "" when absent.
func (t Task) RawResult() string {
	if t.Result == nil {
		return ""
	}
	return *t.Result
}

// ParsedResult unwraps the result payload.
func (t Task) ParsedResult() Result {
	return ParseResult(t.RawResult())
}

// Target renders the target as "instance #3", or "" when unknown.
func (t Task) Target() string {
	if t.TargetID == nil {
		return ""
	}
	kind := "target"
	if t.TargetType != nil && *t.TargetType != "" {
		kind = *t.TargetType
	}
	return fmt.Sprintf("%s #%d", kind, *t.TargetID)
}

// Duration is the time between start and completion, or zero when either
// is missing.
func (t Task) Duration() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(t.StartedAt.Time)
}

// Trigger is what an operation endpoint returns after enqueueing work.
type Trigger struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

// Timestamp decodes ISO-8601 times with or without a zone. Times without a
// zone are taken as UTC, matching how the backend stores them.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses s with the layouts the backend is known to emit.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("timestamp must be a string, got %s", b)
	}
	parsed, err := ParseTimestamp(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*ts = parsed
	return nil
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + ts.UTC().Format(time.RFC3339Nano) + `"`), nil
}
