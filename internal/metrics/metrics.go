// Package metrics provides Prometheus metrics for odooctl: API traffic,
// credential refreshes, task polling and notifications.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Iron-Ham/odooctl/internal/event"
	"github.com/Iron-Ham/odooctl/internal/task"
)

const namespace = "odooctl"

// Lookup outcomes passed to ObserveLookup.
const (
	LookupOK    = "ok"
	LookupError = "error"
)

// Recorder owns one set of collectors. The process-wide set is returned by
// Default; tests build their own against a private registry.
type Recorder struct {
	gatherer prometheus.Gatherer

	apiRequests    *prometheus.CounterVec
	apiLatency     *prometheus.HistogramVec
	tokenRefreshes *prometheus.CounterVec
	pollLookups    *prometheus.CounterVec
	tasksActive    prometheus.Gauge
	tasksFinished  *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	notifications  *prometheus.CounterVec
	scheduledRuns  *prometheus.CounterVec
}

// New registers a fresh set of collectors with reg.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		gatherer: gatherer,

		// ─── API ─────────────────────────────────────────────────────────
		apiRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "HTTP exchanges with the backend by method and status (0 when no response arrived).",
		}, []string{"method", "status"}),
		apiLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "HTTP exchange duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		tokenRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "Credential refresh attempts by outcome.",
		}, []string{"outcome"}),

		// ─── Tasks ───────────────────────────────────────────────────────
		pollLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_lookups_total",
			Help:      "Task status lookups by outcome.",
		}, []string{"outcome"}),
		tasksActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_tracking",
			Help:      "Tasks currently being polled.",
		}),
		tasksFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Tracked tasks by kind and how tracking ended.",
		}, []string{"kind", "outcome"}),
		taskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Time from trigger to terminal status.",
			Buckets:   []float64{1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"kind"}),

		// ─── Notifications & schedule ────────────────────────────────────
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications published by severity.",
		}, []string{"severity"}),
		scheduledRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_runs_total",
			Help:      "Scheduled job firings by job and result.",
		}, []string{"job", "result"}),
	}
}

var (
	defaultOnce     sync.Once
	defaultRecorder *Recorder
)

// Default returns the recorder registered with the default Prometheus
// registry.
func Default() *Recorder {
	defaultOnce.Do(func() {
		defaultRecorder = New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	})
	return defaultRecorder
}

// Handler serves the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// ObserveRequest counts one HTTP exchange.
func (r *Recorder) ObserveRequest(method string, status int, elapsed time.Duration) {
	r.apiRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	r.apiLatency.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ObserveRefresh counts one refresh attempt.
func (r *Recorder) ObserveRefresh(outcome string) {
	r.tokenRefreshes.WithLabelValues(outcome).Inc()
}

// ObserveLookup counts one task status lookup.
func (r *Recorder) ObserveLookup(outcome string) {
	r.pollLookups.WithLabelValues(outcome).Inc()
}

// TrackingStarted marks a task as being polled.
func (r *Recorder) TrackingStarted() {
	r.tasksActive.Inc()
}

// TrackingEnded records how tracking of a task ended. d is only observed
// when positive.
func (r *Recorder) TrackingEnded(kind task.Kind, outcome string, d time.Duration) {
	r.tasksActive.Dec()
	label := string(kind)
	if label == "" {
		label = "unknown"
	}
	r.tasksFinished.WithLabelValues(label, outcome).Inc()
	if d > 0 {
		r.taskDuration.WithLabelValues(label).Observe(d.Seconds())
	}
}

// ObserveScheduledRun counts one firing of a scheduled job.
func (r *Recorder) ObserveScheduledRun(job, result string) {
	r.scheduledRuns.WithLabelValues(job, result).Inc()
}

// CountNotifications subscribes to bus and counts every notification by
// severity. The returned function unsubscribes.
func (r *Recorder) CountNotifications(bus *event.Bus) func() {
	return bus.Subscribe(func(n event.Notification) {
		r.notifications.WithLabelValues(string(n.Severity)).Inc()
	})
}
