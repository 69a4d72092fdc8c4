package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
)

const namespace = "appmgr"

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Contract operation metrics
	OperationCalls    *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// gRPC metrics
	GRPCCalls    *prometheus.CounterVec
	GRPCDuration *prometheus.HistogramVec

	// Observer metrics
	ObserversActive  prometheus.Gauge
	EventsDispatched *prometheus.CounterVec

	// Process table metrics
	Processes *prometheus.GaugeVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time

	mu       sync.RWMutex
	snapshot Snapshot
}

// Snapshot holds current values for the JSON status endpoint.
type Snapshot struct {
	TotalRequests   int64            `json:"totalRequests"`
	TotalErrors     int64            `json:"totalErrors"`
	ActiveObservers int64            `json:"activeObservers"`
	Processes       map[string]int64 `json:"processes"`
	UptimeSeconds   float64          `json:"uptimeSeconds"`
}

// NewMetrics registers all collectors with reg. Tests pass a fresh
// prometheus.NewRegistry(); the server passes prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		startTime: time.Now(),

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
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),

		OperationCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operation_calls_total",
				Help:      "Application manager operations by result code (0 is success)",
			},
			[]string{"operation", "code"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Application manager operation duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"operation"},
		),

		GRPCCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "grpc_calls_total",
				Help:      "Total number of gRPC calls",
			},
			[]string{"method", "status"},
		),
		GRPCDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "grpc_duration_seconds",
				Help:      "gRPC call duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method"},
		),

		ObserversActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "observers_active",
				Help:      "Number of registered state observers",
			},
		),
		EventsDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dispatched_total",
				Help:      "Lifecycle events delivered to observers",
			},
			[]string{"kind"},
		),

		Processes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "processes",
				Help:      "Processes in the table by state",
			},
			[]string{"state"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_connections",
				Help:      "Number of active WebSocket observer streams",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_messages_total",
				Help:      "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	m.snapshot.Processes = make(map[string]int64)
	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status >= 400 {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordOperation records one contract operation and its result code.
func (m *Metrics) RecordOperation(op string, err error, duration time.Duration) {
	code := strconv.Itoa(int(appmanager.CodeOf(err)))
	m.OperationCalls.WithLabelValues(op, code).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordGRPCCall records a gRPC call
func (m *Metrics) RecordGRPCCall(method, status string, duration time.Duration) {
	m.GRPCCalls.WithLabelValues(method, status).Inc()
	m.GRPCDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}

// ObserverRegistered implements observer.Metrics.
func (m *Metrics) ObserverRegistered() {
	m.ObserversActive.Inc()
	m.mu.Lock()
	m.snapshot.ActiveObservers++
	m.mu.Unlock()
}

// ObserverUnregistered implements observer.Metrics.
func (m *Metrics) ObserverUnregistered() {
	m.ObserversActive.Dec()
	m.mu.Lock()
	m.snapshot.ActiveObservers--
	m.mu.Unlock()
}

// EventDispatched implements observer.Metrics.
func (m *Metrics) EventDispatched(kind string) {
	m.EventsDispatched.WithLabelValues(kind).Inc()
}

// SetProcessStates implements process.Metrics.
func (m *Metrics) SetProcessStates(counts map[appmanager.ProcessState]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range appmanager.ProcessStates() {
		if s == appmanager.StateDestroy {
			continue
		}
		n := counts[s]
		m.Processes.WithLabelValues(s.String()).Set(float64(n))
		m.snapshot.Processes[s.String()] = int64(n)
	}
}

// Snapshot returns a copy of the current values.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	s.Processes = make(map[string]int64, len(m.snapshot.Processes))
	for k, v := range m.snapshot.Processes {
		s.Processes[k] = v
	}
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
