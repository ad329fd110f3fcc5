// Package fakeapi is an in-memory stand-in for the Odoo ops backend. It
// speaks the same contract as the real service: JWT access/refresh auth,
// trigger endpoints answering {task_id, message} and a task lookup whose
// status advances one scripted step per lookup. Tests and `odooctl
// dev-server` use it; faults can be injected per route.
package fakeapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Iron-Ham/odooctl/internal/logging"
)

// Prefix is the path under which the API is mounted.
const Prefix = "/api/v1"

// Server is the fake backend. All methods are safe for concurrent use.
type Server struct {
	mu sync.Mutex

	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	latency    time.Duration
	logger     *logging.Logger

	users      map[string]*user
	nextUserID int
	// Tokens minted before a revocation carry an older version.
	accessVersion  int
	refreshVersion int

	tasks      map[string]*fakeTask
	nextTaskID int
	scripts    map[string][]Step
	nextScript []Step

	faults   map[string][]fault
	requests map[string]int
}

type fault struct {
	status int
	detail string
}

// Option configures a Server.
type Option func(*Server)

// WithSecret sets the HMAC signing secret.
func WithSecret(secret string) Option {
	return func(s *Server) {
		s.secret = []byte(secret)
	}
}

// WithTokenTTL sets access and refresh token lifetimes.
func WithTokenTTL(access, refresh time.Duration) Option {
	return func(s *Server) {
		s.accessTTL = access
		s.refreshTTL = refresh
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// WithLatency delays every response, making demos look like real work.
func WithLatency(d time.Duration) Option {
	return func(s *Server) {
		s.latency = d
	}
}

// WithLogger sets the server's logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithUser seeds an account.
func WithUser(email, password string) Option {
	return func(s *Server) {
		s.addUserLocked(email, password)
	}
}

// New creates an empty backend (setup required until a user exists).
func New(opts ...Option) *Server {
	s := &Server{
		secret:     []byte("fakeapi-development-secret-please-change"),
		accessTTL:  30 * time.Minute,
		refreshTTL: 7 * 24 * time.Hour,
		now:        time.Now,
		users:      make(map[string]*user),
		tasks:      make(map[string]*fakeTask),
		scripts:    make(map[string][]Step),
		faults:     make(map[string][]fault),
		requests:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger).WithComponent("fakeapi")
	return s
}

// Handler returns the router serving the API under Prefix.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route(Prefix, func(r chi.Router) {
		s.route(r, http.MethodGet, "/auth/setup", s.handleSetupStatus)
		s.route(r, http.MethodPost, "/auth/setup", s.handleSetup)
		s.route(r, http.MethodPost, "/auth/login", s.handleLogin)
		s.route(r, http.MethodPost, "/auth/register", s.handleRegister)
		s.route(r, http.MethodPost, "/auth/refresh", s.handleRefresh)

		s.route(r, http.MethodGet, "/users/me", s.authenticate(s.handleMe))
		s.route(r, http.MethodGet, "/tasks/{taskID}", s.authenticate(s.handleGetTask))
		for _, t := range triggers {
			s.route(r, t.method, t.pattern, s.authenticate(s.triggerHandler(t)))
		}
	})
	return r
}

// route registers fn behind request counting and fault injection. The key
// for both is "METHOD pattern", e.g. "GET /tasks/{taskID}".
func (s *Server) route(r chi.Router, method, pattern string, fn http.HandlerFunc) {
	key := method + " " + pattern
	r.Method(method, pattern, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if s.latency > 0 {
			select {
			case <-time.After(s.latency):
			case <-req.Context().Done():
				return
			}
		}

		s.mu.Lock()
		s.requests[key]++
		var f *fault
		if queue := s.faults[key]; len(queue) > 0 {
			f = &queue[0]
			s.faults[key] = queue[1:]
		}
		s.mu.Unlock()

		if f != nil {
			s.logger.Debug("injected fault", "route", key, "status", f.status)
			writeDetail(w, f.status, f.detail)
			return
		}
		fn(w, req)
	}))
}

// FailNext makes the next times calls to route answer status with detail.
// Faults are answered before authentication is checked.
func (s *Server) FailNext(route string, status int, detail string, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for range times {
		s.faults[route] = append(s.faults[route], fault{status: status, detail: detail})
	}
}

// Requests returns how many calls route received, including faulted and
// unauthorized ones.
func (s *Server) Requests(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[route]
}

// Start serves the backend on a random local port. The returned base URL
// includes Prefix.
func (s *Server) Start() (baseURL string, stop func()) {
	ts := httptest.NewServer(s.Handler())
	return ts.URL + Prefix, ts.Close
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

func writeValidation(w http.ResponseWriter, fields []fieldError) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"detail": "Validation error",
		"errors": fields,
	})
}
