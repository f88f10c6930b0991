// Package metrics defines the Prometheus collectors exported by the server
// and recorded by the client transport.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "studydeck"

// Server holds the collectors of the auth server.
type Server struct {
	requests   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	authEvents *prometheus.CounterVec
}

// NewServer creates the server collectors and registers them on reg.
func NewServer(reg prometheus.Registerer) *Server {
	m := &Server{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled, by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "events_total",
			Help:      "Authentication events, by event and outcome.",
		}, []string{"event", "outcome"}),
	}
	reg.MustRegister(m.requests, m.duration, m.authEvents)
	return m
}

// ObserveRequest records one handled HTTP request.
func (m *Server) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// AuthEvent records the outcome ("ok" or an error code) of an auth event
// such as login or refresh.
func (m *Server) AuthEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.authEvents.WithLabelValues(event, outcome).Inc()
}

// Client holds the collectors of the authenticated client transport.
type Client struct {
	refreshes *prometheus.CounterVec
	queued    prometheus.Counter
	replays   *prometheus.CounterVec
}

// NewClient creates the client collectors and registers them on reg.
func NewClient(reg prometheus.Registerer) *Client {
	m := &Client{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "token_refreshes_total",
			Help:      "Calls to the credential renewal endpoint, by outcome.",
		}, []string{"outcome"}),
		queued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "requests_queued_total",
			Help:      "Requests that waited for an in-flight token refresh.",
		}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "request_replays_total",
			Help:      "Requests replayed with a renewed token, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.refreshes, m.queued, m.replays)
	return m
}

// Refresh records a refresh call outcome.
func (m *Client) Refresh(ok bool) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome(ok)).Inc()
}

// Queued records a request deferred behind an in-flight refresh.
func (m *Client) Queued() {
	if m == nil {
		return
	}
	m.queued.Inc()
}

// Replay records the outcome of a replayed request.
func (m *Client) Replay(ok bool) {
	if m == nil {
		return
	}
	m.replays.WithLabelValues(outcome(ok)).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
