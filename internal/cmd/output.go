package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/odooctl/internal/errors"
	"github.com/Iron-Ham/odooctl/internal/poller"
	"github.com/Iron-Ham/odooctl/internal/task"
	"github.com/Iron-Ham/odooctl/internal/tracker"
)

// Exit codes
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitGaveUp   = 2
	ExitCanceled = 130
)

// ExitError carries the exit status of a command whose failure may already
// have been shown as a notification.
type ExitError struct {
	Code int
	Err  error
	// Reported is true when the user has already seen the failure.
	Reported bool
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode prints err to w unless it was already shown and returns the
// process exit status for it.
func ExitCode(err error, w io.Writer) int {
	if err == nil {
		return ExitOK
	}
	code := ExitFailure
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.Code
		if exitErr.Reported {
			return code
		}
	}
	_, _ = fmt.Fprintf(w, "Error: %s\n", message(err))
	return code
}

// message is what the user sees for err: the extracted server message for
// API failures, err's own text otherwise.
func message(err error) string {
	var apiErr *errors.APIError
	var authErr *errors.AuthError
	if errors.As(err, &apiErr) || errors.As(err, &authErr) {
		return errors.UserMessage(err)
	}
	return err.Error()
}

// exitCodeFor maps a tracking error to an exit status.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, errors.ErrCanceled), errors.Is(err, context.Canceled):
		return ExitCanceled
	case errors.Is(err, errors.ErrPollTimeout), errors.Is(err, errors.ErrPollExhausted):
		return ExitGaveUp
	default:
		return ExitFailure
	}
}

// printTask writes what the user asked for: the task record as JSON, or the
// unwrapped result as text.
func printTask(w io.Writer, tk *task.Task, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(tk)
	}
	if tk.Result == nil || !tk.Status.IsTerminal() {
		_, err := fmt.Fprintf(w, "%s %s: %s\n", tk.TaskID, tk.Type.Label(), tk.Status)
		return err
	}
	return printResult(w, tk.ParsedResult())
}

// printResult writes the result summary, any extra fields and the logs.
func printResult(w io.Writer, r task.Result) error {
	var b strings.Builder
	if s := r.Summary(); s != "" && r.Logs == "" {
		b.WriteString(s + "\n")
	}
	for _, line := range r.Details() {
		b.WriteString(line + "\n")
	}
	if r.Logs != "" {
		b.WriteString(strings.TrimRight(r.Logs, "\n") + "\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// progressPrinter returns a tracker progress callback writing one line to w
// whenever a task's status changes.
func progressPrinter(w io.Writer) func(poller.Snapshot) {
	var mu sync.Mutex
	last := make(map[string]task.Status)
	return func(s poller.Snapshot) {
		if s.Task == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if last[s.TaskID] == s.Task.Status {
			return
		}
		last[s.TaskID] = s.Task.Status
		label := s.Task.Type.Label()
		if target := s.Task.Target(); target != "" {
			label += " · " + target
		}
		_, _ = fmt.Fprintf(w, "… %s: %s\n", label, s.Task.Status)
	}
}

// conclude prints a tracking outcome and turns its error into an ExitError.
func (rt *runtime) conclude(stdout io.Writer, out tracker.Outcome, err error, asJSON bool) error {
	if tk := out.Task(); tk != nil && tk.Status.IsTerminal() {
		if perr := printTask(stdout, tk, asJSON); perr != nil {
			return perr
		}
	}
	if err == nil {
		return nil
	}
	code := exitCodeFor(err)
	// The tracker publishes a notification for every end but cancellation.
	reported := rt.printing() && code != ExitCanceled
	return &ExitError{Code: code, Err: err, Reported: reported}
}

// failed wraps an error returned by a pipeline call. The pipeline has
// already published a notification for failed responses and for a session
// that could not be renewed, but not for client-side validation failures.
func (rt *runtime) failed(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *errors.APIError
	reported := false
	switch {
	case errors.Is(err, errors.ErrNoRefreshToken), errors.Is(err, errors.ErrRefreshFailed):
		reported = true
	case errors.As(err, &apiErr):
		reported = apiErr.Status != http.StatusUnauthorized
	}
	return &ExitError{Code: ExitFailure, Err: err, Reported: reported && rt.printing()}
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(100 * time.Millisecond).String()
}
