package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/odooctl/internal/config"
	"github.com/Iron-Ham/odooctl/internal/errors"
	"github.com/Iron-Ham/odooctl/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View odooctl logs",
	Long: `View and filter odooctl.log in the state directory.

Examples:
  # Show the last 50 entries
  odooctl logs

  # Everything logged while following one task
  odooctl logs --task 42 -n 0

  # Follow logs in real-time
  odooctl logs -f

  # Warnings from the API client in the last hour
  odooctl logs --level warn --component api --since 1h`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsTail      int
	logsFollow    bool
	logsLevel     string
	logsSince     string
	logsTask      string
	logsComponent string
	logsGrep      string
	logsJSON      bool
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsTask, "task", "", "Only entries about this task id")
	logsCmd.Flags().StringVar(&logsComponent, "component", "", "Only entries from this component (api, tracker, poller, ...)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Only entries whose message contains this text")
	logsCmd.Flags().BoolVar(&logsJSON, "json", false, "Print entries as JSON")
}

// logsQuery builds the entry filter from the flags.
func logsQuery(now time.Time) (logging.Query, error) {
	q := logging.Query{
		TaskID:          logsTask,
		Component:       logsComponent,
		MessageContains: logsGrep,
	}
	if logsLevel != "" {
		q.Level = logging.ParseLevel(logsLevel)
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil || d <= 0 {
			return logging.Query{}, errors.NewValidationError(fmt.Sprintf("invalid --since %q: expected a duration like 30m or 2h", logsSince)).WithField("since")
		}
		q.Since = now.Add(-d)
	}
	return q, nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	query, err := logsQuery(time.Now())
	if err != nil {
		return err
	}
	format := "text"
	if logsJSON {
		format = "json"
	}

	w := cmd.OutOrStdout()
	logPath := filepath.Join(cfg.Paths.ResolveStateDir(), logging.FileName)
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		_, _ = fmt.Fprintln(w, "No logs yet.")
		_, _ = fmt.Fprintln(w, "Logs are stored at:", logPath)
		if !cfg.Logging.Enabled {
			_, _ = fmt.Fprintln(w, "Logging is disabled; enable it with `odooctl config set logging.enabled true`.")
		}
		return nil
	}

	if logsFollow {
		return followLogs(cmd, logPath, query)
	}

	entries, err := logging.ReadEntries(logPath)
	if err != nil {
		return err
	}
	entries = query.Filter(entries)
	if logsTail > 0 && len(entries) > logsTail {
		entries = entries[len(entries)-logsTail:]
	}
	if len(entries) == 0 && !logsJSON {
		_, _ = fmt.Fprintln(w, "No matching log entries found.")
		return nil
	}
	return logging.WriteEntries(w, entries, format)
}

// followLogs prints entries appended to the log file until the command's
// context ends. A rotation truncates the file and restarts reading from the
// top.
func followLogs(cmd *cobra.Command, logPath string, query logging.Query) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to watch log file: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	// Watch the directory so rotation, which renames the file, is seen.
	if err := watcher.Add(filepath.Dir(logPath)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(logPath), err)
	}

	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Following %s... (Ctrl+C to stop)\n\n", logPath)

	drain := func() error {
		info, err := os.Stat(logPath)
		if err != nil {
			return nil
		}
		if info.Size() < offset || !sameFile(file, info) {
			// Rotated: reopen the new file from the start.
			_ = file.Close()
			if file, err = os.Open(logPath); err != nil {
				return fmt.Errorf("failed to reopen log file: %w", err)
			}
			offset = 0
		}
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek log file: %w", err)
		}
		reader := bufio.NewReader(file)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				// A partial line is read again once it is complete.
				return nil
			}
			offset += int64(len(line))
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			entry, err := logging.ParseEntry(line)
			if err != nil || !query.Match(entry) {
				continue
			}
			format := "text"
			if logsJSON {
				format = "json"
			}
			if err := logging.WriteEntries(w, []logging.Entry{entry}, format); err != nil {
				return err
			}
		}
	}

	ctx := cmd.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != logging.FileName {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := drain(); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watching log file: %w", err)
		}
	}
}

func sameFile(f *os.File, info os.FileInfo) bool {
	current, err := f.Stat()
	if err != nil {
		return false
	}
	return os.SameFile(current, info)
}
