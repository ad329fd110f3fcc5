package cmd

import (
	"fmt"
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/odooctl/internal/api"
	"github.com/Iron-Ham/odooctl/internal/config"
	"github.com/Iron-Ham/odooctl/internal/credentials"
	"github.com/Iron-Ham/odooctl/internal/event"
	"github.com/Iron-Ham/odooctl/internal/history"
	"github.com/Iron-Ham/odooctl/internal/logging"
	"github.com/Iron-Ham/odooctl/internal/metrics"
	"github.com/Iron-Ham/odooctl/internal/poller"
	"github.com/Iron-Ham/odooctl/internal/store"
	"github.com/Iron-Ham/odooctl/internal/tracker"
)

// runtime is everything a command needs to talk to the backend: the
// credential session, the request pipeline, the notification bus and the
// local history database.
type runtime struct {
	cfg      *config.Config
	stateDir string
	logger   *logging.Logger
	bus      *event.Bus
	session  *credentials.Session
	client   *api.Client
	db       *store.DB
	history  *history.History
	registry *prometheus.Registry
	metrics  *metrics.Recorder

	// stopPrinting detaches the stderr notification printer; nil when
	// notifications are not printed.
	stopPrinting func()

	closers []func() error
}

// newRuntime loads the configuration and wires the components together.
// Callers must Close the runtime.
func newRuntime(cmd *cobra.Command) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	rt := &runtime{cfg: cfg, stateDir: cfg.Paths.ResolveStateDir()}
	ok := false
	defer func() {
		if !ok {
			_ = rt.Close()
		}
	}()

	if err := rt.openLogger(cmd); err != nil {
		return nil, err
	}

	rt.bus = event.NewBus(
		event.WithDefaultDuration(cfg.Notifications.DefaultDuration()),
		event.WithLogger(rt.logger),
	)

	rt.registry = prometheus.NewRegistry()
	rt.metrics = metrics.New(rt.registry, rt.registry)
	stopCounting := rt.metrics.CountNotifications(rt.bus)
	rt.addCloser(func() error { stopCounting(); return nil })

	ctx := cmd.Context()
	credStore, closeStore, err := credentials.Open(ctx, cfg.Auth.Store, cfg.Auth.Path, rt.stateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	rt.addCloser(closeStore)

	rt.session, err = credentials.NewSession(credStore, credentials.WithSessionLogger(rt.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	opts := []api.Option{
		api.WithReporter(event.NewBridge(rt.bus)),
		api.WithObserver(rt.metrics),
		api.WithUserAgent(fmt.Sprintf("%s/%s", cfg.API.UserAgent, Version)),
		api.WithLogger(rt.logger),
		api.WithLoginRedirect(func() {
			rt.bus.Warning("Your session has ended. Run `odooctl login` to sign in again.")
		}),
	}
	if d := cfg.API.RequestTimeout(); d > 0 {
		opts = append(opts, api.WithTimeout(d))
	}
	rt.client, err = api.New(cfg.API.BaseURL, rt.session, opts...)
	if err != nil {
		return nil, err
	}

	rt.db, err = store.OpenInStateDir(ctx, rt.stateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	rt.addCloser(rt.db.Close)
	rt.history = history.New(rt.db)

	if !cfg.Notifications.Quiet {
		rt.stopPrinting = rt.printNotifications(cmd.ErrOrStderr())
		rt.addCloser(func() error { rt.detachPrinter(); return nil })
	}

	ok = true
	return rt, nil
}

func (rt *runtime) openLogger(cmd *cobra.Command) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	switch {
	case verbose:
		rt.logger = logging.NewLoggerTo(cmd.ErrOrStderr(), logging.LevelDebug)
	case rt.cfg.Logging.Enabled:
		l, err := logging.NewLoggerWithRotation(rt.stateDir, rt.cfg.Logging.Level, logging.RotationConfig{
			MaxSizeMB:  rt.cfg.Logging.MaxSizeMB,
			MaxBackups: rt.cfg.Logging.MaxBackups,
			Compress:   rt.cfg.Logging.Compress,
		})
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		rt.logger = l
	default:
		rt.logger = logging.NopLogger()
	}
	rt.addCloser(rt.logger.Close)
	rt.logger = rt.logger.With("command", cmd.CommandPath())
	return nil
}

// tracker builds a tracker over the runtime's pipeline, history and metrics.
func (rt *runtime) tracker(extra ...tracker.Option) *tracker.Tracker {
	opts := []tracker.Option{
		tracker.WithHistory(rt.history),
		tracker.WithMetrics(rt.metrics),
		tracker.WithPollerOptions(poller.OptionsFromConfig(rt.cfg.Poller)),
		tracker.WithLogger(rt.logger),
	}
	return tracker.New(rt.client, rt.bus, append(opts, extra...)...)
}

// printNotifications echoes every notification to w until the returned
// function is called.
func (rt *runtime) printNotifications(w io.Writer) func() {
	var mu sync.Mutex
	return rt.bus.Subscribe(func(n event.Notification) {
		mu.Lock()
		defer mu.Unlock()
		_, _ = fmt.Fprintf(w, "%s %s\n", severityIcon(n.Severity), n.Message)
	})
}

// detachPrinter stops echoing notifications, e.g. while the dashboard owns
// the terminal.
func (rt *runtime) detachPrinter() {
	if rt.stopPrinting != nil {
		rt.stopPrinting()
		rt.stopPrinting = nil
	}
}

// printing reports whether notifications reach the user on stderr.
func (rt *runtime) printing() bool {
	return rt.stopPrinting != nil
}

func severityIcon(s event.Severity) string {
	switch s {
	case event.SeveritySuccess:
		return "✓"
	case event.SeverityError:
		return "✗"
	case event.SeverityWarning:
		return "!"
	default:
		return "·"
	}
}

func (rt *runtime) addCloser(fn func() error) {
	rt.closers = append(rt.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() error {
	var first error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	rt.closers = nil
	return first
}
