package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/odooctl/internal/config"
	"github.com/Iron-Ham/odooctl/internal/errors"
	"github.com/Iron-Ham/odooctl/internal/schedule"
	"github.com/Iron-Ham/odooctl/internal/tracker"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run configured operations on cron schedules",
	Long: `Run operations such as nightly backups on cron schedules.

Jobs are configured under schedule.jobs in the config file:

  schedule:
    timezone: Europe/Brussels
    jobs:
      - name: nightly-backup
        cron: "0 2 * * *"
        action: backup
        target_id: 7

Expressions use five fields (minute hour day-of-month month day-of-week)
or a descriptor such as @daily or @every 30m.`,
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Fire scheduled jobs until interrupted",
	Long: `Fire scheduled jobs until interrupted. A job whose previous run is still
being tracked is skipped.

When metrics.enabled is true, /healthz, /jobs and /metrics are served on
metrics.listen while the scheduler runs.`,
	Args: cobra.NoArgs,
	RunE: runScheduleRun,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured jobs and their next run",
	Args:  cobra.NoArgs,
	RunE:  runScheduleList,
}

var schedulePreviewCmd = &cobra.Command{
	Use:   "preview <cron-expression>",
	Short: "Show when an expression would fire next",
	Example: `  odooctl schedule preview "30 3 * * 1-5"
  odooctl schedule preview @hourly -n 3`,
	Args: cobra.ExactArgs(1),
	RunE: runSchedulePreview,
}

var scheduleRunNowCmd = &cobra.Command{
	Use:   "run-now <job-name>",
	Short: "Fire one configured job immediately and follow its task",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleRunNow,
}

var (
	schedulePreviewCount int
	scheduleStopTimeout  time.Duration
)

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleRunCmd, scheduleListCmd, schedulePreviewCmd, scheduleRunNowCmd)

	schedulePreviewCmd.Flags().IntVarP(&schedulePreviewCount, "count", "n", 5, "number of firings to show")
	scheduleRunCmd.Flags().DurationVar(&scheduleStopTimeout, "stop-timeout", 30*time.Second,
		"how long to wait for tracked tasks when stopping")
}

// scheduleLocation resolves schedule.timezone.
func scheduleLocation(cfg config.ScheduleConfig) (*time.Location, error) {
	if cfg.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule.timezone %q: %w", cfg.Timezone, err)
	}
	return loc, nil
}

// newScheduler builds a scheduler holding every configured job.
func newScheduler(rt *runtime, opts ...tracker.Option) (*schedule.Scheduler, error) {
	jobs, err := schedule.JobsFromConfig(rt.cfg.Schedule)
	if err != nil {
		return nil, err
	}
	loc, err := scheduleLocation(rt.cfg.Schedule)
	if err != nil {
		return nil, err
	}
	sched := schedule.New(rt.client, rt.tracker(opts...),
		schedule.WithLocation(loc),
		schedule.WithMetrics(rt.metrics),
		schedule.WithLogger(rt.logger),
	)
	for _, job := range jobs {
		if err := sched.Add(job); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

func runScheduleRun(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	sched, err := newScheduler(rt)
	if err != nil {
		return err
	}
	entries := sched.Entries()
	if len(entries) == 0 {
		return errors.NewValidationError("no jobs configured under schedule.jobs").WithField("schedule.jobs")
	}

	ctx := cmd.Context()
	// Tokens renewed by another odooctl process are picked up.
	if err := rt.session.Watch(ctx); err != nil {
		rt.logger.Warn("cannot watch credentials", "error", err)
	}

	sched.Start(ctx)
	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(w, "Scheduler running %d job(s). Press Ctrl+C to stop.\n", len(entries))
	for _, e := range sched.Entries() {
		_, _ = fmt.Fprintf(w, "  %-24s %-18s next %s\n", e.Job.Name, e.Job.Cron, e.Next.Format(time.DateTime))
	}

	serveErr := make(chan error, 1)
	if rt.cfg.Metrics.Enabled {
		status := schedule.NewStatusServer(sched, rt.metrics, rt.logger)
		_, _ = fmt.Fprintf(w, "Status on http://%s (/healthz, /jobs, /metrics)\n", rt.cfg.Metrics.Listen)
		go func() { serveErr <- status.ListenAndServe(ctx, rt.cfg.Metrics.Listen) }()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("status server: %w", err)
		}
	}

	_, _ = fmt.Fprintln(w, "Stopping scheduler...")
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), scheduleStopTimeout)
	defer cancel()
	if err := sched.Stop(stopCtx); err != nil {
		rt.logger.Warn("scheduler did not stop cleanly", "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("jobs still running after %s: %w", scheduleStopTimeout, err)
		}
	}
	return runErr
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	jobs, err := schedule.JobsFromConfig(cfg.Schedule)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(w, "No jobs configured. Add them under schedule.jobs in the config file.")
		return nil
	}
	loc, err := scheduleLocation(cfg.Schedule)
	if err != nil {
		return err
	}

	now := time.Now().In(loc)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tCRON\tACTION\tTARGET\tNEXT RUN")
	for _, job := range jobs {
		next := "-"
		if times, err := schedule.Preview(job.Cron, now, 1); err == nil && len(times) > 0 {
			next = times[0].Format(time.DateTime + " MST")
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", job.Name, job.Cron, job.Action, job.TargetID, next)
	}
	return tw.Flush()
}

func runSchedulePreview(cmd *cobra.Command, args []string) error {
	if schedulePreviewCount <= 0 {
		return errors.NewValidationError("--count must be positive").WithField("count")
	}
	times, err := schedule.Preview(args[0], time.Now(), schedulePreviewCount)
	if err != nil {
		return err
	}
	for _, t := range times {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), t.Format(time.DateTime+" MST (Mon)"))
	}
	return nil
}

func runScheduleRunNow(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	var opts []tracker.Option
	if rt.printing() {
		opts = append(opts, tracker.WithProgress(progressPrinter(cmd.ErrOrStderr())))
	}
	sched, err := newScheduler(rt, opts...)
	if err != nil {
		return err
	}
	out, err := sched.RunNow(cmd.Context(), args[0])
	var notFound *errors.NotFoundError
	if errors.As(err, &notFound) {
		return fmt.Errorf("no job named %q in schedule.jobs", args[0])
	}
	if err != nil && out.TaskID == "" {
		// The trigger itself failed.
		return rt.failed(err)
	}
	return rt.conclude(cmd.OutOrStdout(), out, err, false)
}
