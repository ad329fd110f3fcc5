package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Iron-Ham/odooctl/internal/logging"
	"github.com/Iron-Ham/odooctl/internal/metrics"
)

// StatusServer exposes scheduler health and metrics over HTTP while
// `odooctl schedule run` is up.
type StatusServer struct {
	sched   *Scheduler
	metrics *metrics.Recorder
	logger  *logging.Logger
	started time.Time
	srv     *http.Server
}

// NewStatusServer builds a server for sched. rec may be nil, in which case
// /metrics is not mounted.
func NewStatusServer(sched *Scheduler, rec *metrics.Recorder, logger *logging.Logger) *StatusServer {
	return &StatusServer{
		sched:   sched,
		metrics: rec,
		logger:  logging.OrNop(logger).WithComponent("schedule-http"),
		started: time.Now(),
	}
}

type healthResponse struct {
	Status string      `json:"status"`
	Uptime string      `json:"uptime"`
	Jobs   []EntryInfo `json:"jobs"`
}

// Handler returns the router.
func (s *StatusServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{
			Status: "ok",
			Uptime: time.Since(s.started).Truncate(time.Second).String(),
			Jobs:   s.sched.Entries(),
		})
	})
	r.Get("/jobs", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.sched.Entries())
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	return r
}

// ListenAndServe serves on addr until ctx ends.
func (s *StatusServer) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends.
func (s *StatusServer) Serve(ctx context.Context, ln net.Listener) error {
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("status server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
