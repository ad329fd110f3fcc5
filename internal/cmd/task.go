package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/Iron-Ham/odooctl/internal/errors"
	"github.com/Iron-Ham/odooctl/internal/history"
	"github.com/Iron-Ham/odooctl/internal/task"
	"github.com/Iron-Ham/odooctl/internal/tracker"
	"github.com/Iron-Ham/odooctl/internal/tui"
	"github.com/Iron-Ham/odooctl/internal/util"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect and follow remote tasks",
}

var taskGetCmd = &cobra.Command{
	Use:   "get <task-id>",
	Short: "Look up a task once",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskGet,
}

var taskWatchCmd = &cobra.Command{
	Use:   "watch <task-id>...",
	Short: "Follow tasks until they finish",
	Long: `Follow one or more tasks until each reaches a final status.

On a terminal the interactive dashboard is shown:
  q      quit
  d      dismiss the newest notification
  r      retry tracking the selected task after polling gave up
  ↑/↓    select a task

Use --plain to print progress lines instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTaskWatch,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks tracked from this machine",
	RunE:  runTaskList,
}

var taskPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Forget all but the most recent tracked tasks",
	RunE:  runTaskPrune,
}

var (
	taskGetJSON     bool
	taskWatchPlain  bool
	taskWatchExit   bool
	taskListKind    string
	taskListOutcome string
	taskListLimit   int
	taskPruneKeep   int
)

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskGetCmd, taskWatchCmd, taskListCmd, taskPruneCmd)

	taskGetCmd.Flags().BoolVar(&taskGetJSON, "json", false, "print the task record as JSON")

	taskWatchCmd.Flags().BoolVar(&taskWatchPlain, "plain", false, "print progress lines instead of the dashboard")
	taskWatchCmd.Flags().BoolVar(&taskWatchExit, "exit", true, "close the dashboard once every task has finished")

	taskListCmd.Flags().StringVar(&taskListKind, "kind", "", "only tasks of this type, e.g. run_backup")
	taskListCmd.Flags().StringVar(&taskListOutcome, "outcome", "", "only tasks that ended this way (succeeded, failed, timed_out, exhausted, canceled, signed_out, tracking)")
	taskListCmd.Flags().IntVarP(&taskListLimit, "limit", "n", history.DefaultListLimit, "maximum number of tasks")

	taskPruneCmd.Flags().IntVar(&taskPruneKeep, "keep", 100, "number of most recent tasks to keep")
}

func runTaskGet(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	tk, err := rt.client.GetTask(cmd.Context(), args[0])
	if err != nil {
		return rt.failed(err)
	}
	if taskGetJSON {
		return printTask(cmd.OutOrStdout(), tk, true)
	}
	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(w, "Task:     %s\n", tk.TaskID)
	_, _ = fmt.Fprintf(w, "Type:     %s (%s)\n", tk.Type.Label(), tk.Type)
	if target := tk.Target(); target != "" {
		_, _ = fmt.Fprintf(w, "Target:   %s\n", target)
	}
	_, _ = fmt.Fprintf(w, "Status:   %s\n", tk.Status)
	if d := tk.Duration(); d > 0 {
		_, _ = fmt.Fprintf(w, "Duration: %s\n", formatDuration(d))
	}
	if tk.Status.IsTerminal() && tk.Result != nil {
		_, _ = fmt.Fprintln(w)
		return printResult(w, tk.ParsedResult())
	}
	return nil
}

func runTaskWatch(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	if taskWatchPlain || !term.IsTerminal(int(os.Stdout.Fd())) {
		return watchPlain(cmd, rt, args)
	}
	return watchDashboard(cmd, rt, args, taskWatchExit)
}

// watchPlain follows every task concurrently, printing progress to stderr
// and each result to stdout in argument order.
func watchPlain(cmd *cobra.Command, rt *runtime, taskIDs []string) error {
	ctx := cmd.Context()
	var opts []tracker.Option
	if rt.printing() {
		opts = append(opts, tracker.WithProgress(progressPrinter(cmd.ErrOrStderr())))
	}
	tr := rt.tracker(opts...)

	outcomes := make([]tracker.Outcome, len(taskIDs))
	errs := make([]error, len(taskIDs))
	var g errgroup.Group
	for i, id := range taskIDs {
		g.Go(func() error {
			outcomes[i], errs[i] = tr.Track(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	var worst error
	for i := range taskIDs {
		if len(taskIDs) > 1 {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "== %s\n", taskIDs[i])
		}
		if err := rt.conclude(cmd.OutOrStdout(), outcomes[i], errs[i], false); err != nil {
			worst = worseOf(worst, err)
		}
	}
	return worst
}

// watchDashboard runs the interactive dashboard over taskIDs. With
// exitWhenDone the dashboard closes once every task has finished.
func watchDashboard(cmd *cobra.Command, rt *runtime, taskIDs []string, exitWhenDone bool) error {
	ctx := cmd.Context()
	// The dashboard owns the terminal; notifications become toasts.
	rt.detachPrinter()
	if err := rt.session.Watch(ctx); err != nil {
		rt.logger.Warn("cannot watch credentials", "error", err)
	}

	app := tui.New(nil, rt.bus, rt.cfg.TUI)
	app.SetTracker(rt.tracker(tracker.WithProgress(app.Progress)))
	app.ExitWhenDone = exitWhenDone

	results, err := app.Run(ctx, taskIDs)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	var worst error
	for _, r := range results {
		if !r.Done {
			_, _ = fmt.Fprintf(w, "%s: still %s, stopped watching\n", r.TaskID, statusOf(r.Outcome))
			continue
		}
		_, _ = fmt.Fprintf(w, "%s: %s\n", r.TaskID, r.Outcome.Recorded)
		// The printer is detached, so failures are not marked as reported
		// and get printed once the dashboard is gone.
		if err := rt.conclude(w, r.Outcome, r.Err, false); err != nil {
			worst = worseOf(worst, err)
		}
	}
	return worst
}

func statusOf(out tracker.Outcome) task.Status {
	if tk := out.Task(); tk != nil {
		return tk.Status
	}
	return task.StatusPending
}

// worseOf keeps the error with the higher exit code.
func worseOf(a, b error) error {
	if a == nil {
		return b
	}
	if codeOf(b) > codeOf(a) {
		return b
	}
	return a
}

func codeOf(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

func runTaskList(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	filter := history.Filter{
		Kind:    task.Kind(taskListKind),
		Outcome: history.Outcome(taskListOutcome),
		Limit:   taskListLimit,
	}
	entries, err := rt.history.List(cmd.Context(), filter)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(w, "No tracked tasks.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "STARTED\tTASK\tTYPE\tTARGET\tOUTCOME\tDURATION\tSUMMARY")
	for _, e := range entries {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.StartedAt.Local().Format(time.DateTime),
			util.ShortID(e.TaskID),
			e.Kind.Label(),
			orDash(e.Target),
			e.Outcome,
			formatDuration(e.Duration()),
			orDash(util.Truncate(e.Summary, 60)),
		)
	}
	return tw.Flush()
}

func runTaskPrune(cmd *cobra.Command, args []string) error {
	if taskPruneKeep < 0 {
		return errors.NewValidationError("--keep must not be negative").WithField("keep")
	}
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	n, err := rt.history.Prune(cmd.Context(), taskPruneKeep)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %d task(s) from history\n", n)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
