package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/odooctl/internal/errors"
	"github.com/Iron-Ham/odooctl/internal/fakeapi"
	"github.com/Iron-Ham/odooctl/internal/logging"
	"github.com/Iron-Ham/odooctl/internal/task"
)

var devServerCmd = &cobra.Command{
	Use:   "dev-server",
	Short: "Run an in-memory backend for local demos",
	Long: `Run an in-memory stand-in for the ops backend. It implements the
authentication flow and every trigger endpoint; tasks go pending, running,
then success after a few lookups.

Point odooctl at it with:
  odooctl --api http://127.0.0.1:8000/api/v1 login --email admin@example.com`,
	Example: `  odooctl dev-server --user admin@example.com:secret
  odooctl dev-server --fail run_backup="No space left on device" --latency 300ms`,
	Args: cobra.NoArgs,
	RunE: runDevServer,
}

var (
	devListen     string
	devUsers      []string
	devFailures   []string
	devLatency    time.Duration
	devAccessTTL  time.Duration
	devRefreshTTL time.Duration
)

func init() {
	rootCmd.AddCommand(devServerCmd)

	devServerCmd.Flags().StringVar(&devListen, "listen", "127.0.0.1:8000", "address to listen on")
	devServerCmd.Flags().StringArrayVar(&devUsers, "user", nil, "seed an account as email:password (repeatable)")
	devServerCmd.Flags().StringArrayVar(&devFailures, "fail", nil, "make every task of a type fail, as type=message (repeatable)")
	devServerCmd.Flags().DurationVar(&devLatency, "latency", 0, "delay every response")
	devServerCmd.Flags().DurationVar(&devAccessTTL, "access-ttl", 30*time.Minute, "access token lifetime")
	devServerCmd.Flags().DurationVar(&devRefreshTTL, "refresh-ttl", 7*24*time.Hour, "refresh token lifetime")
}

// devServerOptions turns the flags into fakeapi options.
func devServerOptions(logger *logging.Logger) ([]fakeapi.Option, map[task.Kind]string, error) {
	opts := []fakeapi.Option{
		fakeapi.WithLatency(devLatency),
		fakeapi.WithTokenTTL(devAccessTTL, devRefreshTTL),
		fakeapi.WithLogger(logger),
	}
	for _, u := range devUsers {
		email, password, ok := strings.Cut(u, ":")
		if !ok || email == "" || password == "" {
			return nil, nil, errors.NewValidationError(fmt.Sprintf("invalid --user %q: expected email:password", u)).WithField("user")
		}
		opts = append(opts, fakeapi.WithUser(email, password))
	}

	failures := make(map[task.Kind]string)
	for _, f := range devFailures {
		kind, msg, ok := strings.Cut(f, "=")
		if !ok || !task.Kind(kind).IsKnown() {
			return nil, nil, errors.NewValidationError(fmt.Sprintf("invalid --fail %q: expected task_type=message", f)).WithField("fail")
		}
		failures[task.Kind(kind)] = msg
	}
	return opts, failures, nil
}

func runDevServer(cmd *cobra.Command, args []string) error {
	logger := logging.NewLoggerTo(cmd.ErrOrStderr(), logging.LevelInfo)
	opts, failures, err := devServerOptions(logger)
	if err != nil {
		return err
	}
	backend := fakeapi.New(opts...)
	for kind, msg := range failures {
		backend.SetScript(kind, fakeapi.Fails(msg)...)
	}

	ln, err := net.Listen("tcp", devListen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", devListen, err)
	}
	srv := &http.Server{Handler: backend.Handler(), ReadHeaderTimeout: 5 * time.Second}

	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(w, "Fake backend on http://%s%s\n", ln.Addr(), fakeapi.Prefix)
	if len(devUsers) == 0 {
		_, _ = fmt.Fprintln(w, "No accounts yet: run `odooctl setup` against it to create the first one.")
	}
	_, _ = fmt.Fprintln(w, "Press Ctrl+C to stop.")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	ctx := cmd.Context()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
