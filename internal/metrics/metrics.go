// Package metrics provides Prometheus instrumentation for the request
// coordinator. Every process registers these at package init time via
// promauto; cmd/coordinator exposes them at GET /metrics (cmd/worker has
// no HTTP surface).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ── Gauges ──────────────────────────────────────────────────────────────

// ControllerClients is the number of clients this instance currently
// holds the controller role for.
var ControllerClients = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "coordinator_controller_clients",
	Help: "Number of clients for which this instance is controller.",
})

// QueueDepth tracks the controller-side queue length per client.
var QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "coordinator_queue_depth",
	Help: "Number of requests currently queued for a controller client.",
}, []string{"client"})

// Frozen reports whether a client is currently in its freeze window
// (1) or not (0), per §4.5.
var Frozen = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "coordinator_client_frozen",
	Help: "1 while a client is frozen after a retried response, 0 otherwise.",
}, []string{"client"})

// ── Counters ────────────────────────────────────────────────────────────

// RequestsAdmitted counts requests that passed policy admission.
var RequestsAdmitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "coordinator_requests_admitted_total",
	Help: "Requests admitted by a rate-limit policy.",
}, []string{"client"})

// RequestsCompleted counts terminal outcomes by status class.
var RequestsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "coordinator_requests_completed_total",
	Help: "Requests that reached a terminal outcome.",
}, []string{"client", "outcome"})

// Retries counts retry attempts by classification reason.
var Retries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "coordinator_retries_total",
	Help: "Retry attempts scheduled, by reason.",
}, []string{"client", "reason"})

// ControllerTransitions counts role flips observed by ownership.Engine.
var ControllerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "coordinator_controller_transitions_total",
	Help: "Controller role transitions, by client and new role.",
}, []string{"client", "role"})

// Freezes counts freeze windows entered, split by whether the triggering
// response was explicitly rate-limited (429) or a generic wait hint.
var Freezes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "coordinator_freezes_total",
	Help: "Freeze windows entered, by trigger.",
}, []string{"client", "trigger"})

// ── Histograms ────────────────────────────────────────────────────────────

// RequestDuration tracks end-to-end HandleRequest latency, enqueue
// through terminal outcome.
var RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "coordinator_request_duration_seconds",
	Help:    "Time from HandleRequest call to terminal outcome.",
	Buckets: prometheus.DefBuckets,
}, []string{"client"})

// BackoffWait tracks the computed backoff duration actually applied
// between retry attempts.
var BackoffWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "coordinator_backoff_wait_seconds",
	Help:    "Backoff duration applied before a retry attempt.",
	Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
}, []string{"client"})

// Handler returns the Prometheus scrape handler, mounted at GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
