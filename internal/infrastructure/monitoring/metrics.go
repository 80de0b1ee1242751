package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GriffinCanCode/fuzzpriv/internal/harness"
)

const namespace = "fuzzpriv"

// Metrics holds all Prometheus metrics. Each instance owns its registry.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Channel metrics
	CommandsTotal   *prometheus.CounterVec
	UnknownCommands prometheus.Counter
	CacheLookups    *prometheus.CounterVec
	QuitsTotal      *prometheus.CounterVec
	LeakFindings    *prometheus.GaugeVec

	// Harness metrics
	RoundsTotal     *prometheus.CounterVec
	RoundDuration   prometheus.Histogram
	LaunchFailures  prometheus.Counter
	RemovalFailures prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSDropped     *prometheus.CounterVec

	startTime time.Time

	// Snapshot for the JSON health endpoint
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current values for the JSON API.
type Snapshot struct {
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	Commands          int64   `json:"commands"`
	UnknownCommands   int64   `json:"unknown_commands"`
	Rounds            int64   `json:"rounds"`
	ActiveConnections int64   `json:"active_connections"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector with its own registry, including
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_size_bytes",
				Help:      "HTTP request size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		// Channel metrics
		CommandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Commands received from content, by command",
			},
			[]string{"cmd"},
		),
		UnknownCommands: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unknown_commands_total",
				Help:      "Messages from content with no handler",
			},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "cacheGet answers, by result",
			},
			[]string{"result"},
		),
		QuitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quits_total",
				Help:      "Executed quits, by reason",
			},
			[]string{"reason"},
		),
		LeakFindings: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "leak_findings",
				Help:      "Findings of the last leak check, by kind",
			},
			[]string{"kind"},
		),

		// Harness metrics
		RoundsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "harness_rounds_total",
				Help:      "Completed harness rounds, by outcome",
			},
			[]string{"outcome"},
		),
		RoundDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "harness_round_duration_seconds",
				Help:      "Wall time from launch to round end",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30, 60},
			},
		),
		LaunchFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "harness_launch_failures_total",
				Help:      "Test cases the host failed to open",
			},
		),
		RemovalFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "harness_removal_failures_total",
				Help:      "Test cases the host failed to close",
			},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_connections",
				Help:      "Number of open channel connections",
			},
		),
		WSDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_dropped_frames_total",
				Help:      "Inbound frames dropped, by reason",
			},
			[]string{"reason"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry is the registry every metric of m is registered with.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// CommandReceived counts a dispatched command.
func (m *Metrics) CommandReceived(cmd string) {
	m.CommandsTotal.WithLabelValues(cmd).Inc()
	m.mu.Lock()
	m.snapshot.Commands++
	m.mu.Unlock()
}

func (m *Metrics) UnknownCommand() {
	m.UnknownCommands.Inc()
	m.mu.Lock()
	m.snapshot.UnknownCommands++
	m.mu.Unlock()
}

func (m *Metrics) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) QuitExecuted(reason string) {
	m.QuitsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) LeaksReported(leaked, odd int) {
	m.LeakFindings.WithLabelValues("leaked").Set(float64(leaked))
	m.LeakFindings.WithLabelValues("odd").Set(float64(odd))
}

// RoundCompleted records a harness round outcome.
func (m *Metrics) RoundCompleted(outcome harness.State, seconds float64) {
	m.RoundsTotal.WithLabelValues(outcome.String()).Inc()
	m.RoundDuration.Observe(seconds)
	m.mu.Lock()
	m.snapshot.Rounds++
	m.mu.Unlock()
}

func (m *Metrics) LaunchFailed()  { m.LaunchFailures.Inc() }
func (m *Metrics) RemovalFailed() { m.RemovalFailures.Inc() }

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// WSFrameDropped counts an inbound frame the port discarded.
func (m *Metrics) WSFrameDropped(reason string) {
	m.WSDropped.WithLabelValues(reason).Inc()
}

// Snapshot returns the current values.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	s := m.snapshot
	m.mu.RUnlock()
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
