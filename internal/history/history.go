// Package history keeps a local log of the tasks this client tracked, so
// recent work can be listed without asking the backend.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/odooctl/internal/errors"
	"github.com/Iron-Ham/odooctl/internal/store"
	"github.com/Iron-Ham/odooctl/internal/task"
)

// DefaultListLimit is used when a list call does not set one.
const DefaultListLimit = 20

// Outcome is how tracking of a task ended, as seen by this client.
type Outcome string

const (
	OutcomeTracking  Outcome = "tracking"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeCanceled  Outcome = "canceled"
	OutcomeSignedOut Outcome = "signed_out"
)

// Entry is one tracked task.
type Entry struct {
	TaskID         string
	Kind           task.Kind
	Target         string
	TriggerMessage string
	Status         task.Status
	Outcome        Outcome
	Summary        string
	Attempts       int
	StartedAt      time.Time
	FinishedAt     *time.Time
}

// Duration is how long tracking took, or zero while still tracking.
func (e Entry) Duration() time.Duration {
	if e.FinishedAt == nil {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// Filter narrows List.
type Filter struct {
	Kind    task.Kind
	Outcome Outcome
	Limit   int
	Offset  int
}

// History reads and writes the task_history table.
type History struct {
	db *store.DB
}

// New wraps an open database.
func New(db *store.DB) *History {
	return &History{db: db}
}

// Begin records that tracking of e.TaskID started. Tracking the same task
// again replaces the earlier entry.
func (h *History) Begin(ctx context.Context, e Entry) error {
	if e.TaskID == "" {
		return errors.NewValidationError("task id is required").WithField("task_id")
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}
	if e.Status == "" {
		e.Status = task.StatusPending
	}
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO task_history (task_id, kind, target, trigger_message, status, outcome, summary, attempts, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, '', 0, ?, NULL)
		ON CONFLICT(task_id) DO UPDATE SET
			kind = CASE WHEN excluded.kind != '' THEN excluded.kind ELSE task_history.kind END,
			target = CASE WHEN excluded.target != '' THEN excluded.target ELSE task_history.target END,
			trigger_message = CASE WHEN excluded.trigger_message != '' THEN excluded.trigger_message ELSE task_history.trigger_message END,
			status = excluded.status,
			outcome = excluded.outcome,
			summary = '',
			attempts = 0,
			started_at = excluded.started_at,
			finished_at = NULL
	`, e.TaskID, string(e.Kind), e.Target, e.TriggerMessage, string(e.Status), string(OutcomeTracking),
		formatTime(e.StartedAt))
	if err != nil {
		return fmt.Errorf("begin history entry: %w", err)
	}
	return nil
}

// Describe fills in kind and target once the first lookup reveals them.
// Empty values leave the stored ones alone.
func (h *History) Describe(ctx context.Context, taskID string, kind task.Kind, target string) error {
	_, err := h.db.ExecContext(ctx, `
		UPDATE task_history
		SET kind = CASE WHEN ? != '' THEN ? ELSE kind END,
		    target = CASE WHEN ? != '' THEN ? ELSE target END
		WHERE task_id = ?
	`, string(kind), string(kind), target, target, taskID)
	if err != nil {
		return fmt.Errorf("describe history entry: %w", err)
	}
	return nil
}

// Finish records how tracking ended.
func (h *History) Finish(ctx context.Context, e Entry) error {
	finished := time.Now()
	if e.FinishedAt != nil {
		finished = *e.FinishedAt
	}
	res, err := h.db.ExecContext(ctx, `
		UPDATE task_history
		SET status = ?, outcome = ?, summary = ?, attempts = ?, finished_at = ?
		WHERE task_id = ?
	`, string(e.Status), string(e.Outcome), e.Summary, e.Attempts, formatTime(finished), e.TaskID)
	if err != nil {
		return fmt.Errorf("finish history entry: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.NewNotFoundError("history entry", e.TaskID)
	}
	return nil
}

// Get returns one entry.
func (h *History) Get(ctx context.Context, taskID string) (*Entry, error) {
	row := h.db.QueryRowContext(ctx, selectColumns+` WHERE task_id = ?`, taskID)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("history entry", taskID)
		}
		return nil, err
	}
	return e, nil
}

// List returns entries newest first.
func (h *History) List(ctx context.Context, f Filter) ([]*Entry, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(f.Outcome))
	}
	query := selectColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Prune deletes all but the newest keep entries and returns how many went.
func (h *History) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := h.db.ExecContext(ctx, `
		DELETE FROM task_history
		WHERE task_id IN (
			SELECT task_id FROM task_history
			ORDER BY started_at DESC
			LIMIT -1 OFFSET ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}

const selectColumns = `
	SELECT task_id, kind, target, trigger_message, status, outcome, summary, attempts, started_at, finished_at
	FROM task_history`

func scanEntry(scanner interface {
	Scan(dest ...any) error
}) (*Entry, error) {
	var (
		e          Entry
		kind       string
		status     string
		outcome    string
		startedAt  string
		finishedAt sql.NullString
	)
	if err := scanner.Scan(&e.TaskID, &kind, &e.Target, &e.TriggerMessage, &status, &outcome,
		&e.Summary, &e.Attempts, &startedAt, &finishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan history entry: %w", err)
	}
	e.Kind = task.Kind(kind)
	e.Status = task.Status(status)
	e.Outcome = Outcome(outcome)

	var err error
	if e.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return nil, err
		}
		e.FinishedAt = &t
	}
	return &e, nil
}

// timeLayout is fixed width so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored time %q: %w", value, err)
	}
	return t, nil
}
