package observability

import "sync"

// Metrics provides counter and gauge recording primitives.
type Metrics interface {
	IncCounter(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

var defaultMetrics Metrics = noopMetrics{}

// SetMetrics overrides the global metrics implementation used by the system.
func SetMetrics(metrics Metrics) {
	if metrics == nil {
		defaultMetrics = noopMetrics{}
		return
	}
	defaultMetrics = metrics
}

// Telemetry returns the current global metrics collector.
func Telemetry() Metrics {
	return defaultMetrics
}

type noopMetrics struct{}

func (noopMetrics) IncCounter(string, float64, map[string]string) {}
func (noopMetrics) SetGauge(string, float64, map[string]string)   {}

// ConnectionMetricsSnapshot captures connection-manager runtime counters.
type ConnectionMetricsSnapshot struct {
	FramesRouted   int64 `json:"frames_routed"`
	FramesDropped  int64 `json:"frames_dropped"`
	RequestTimeout int64 `json:"request_timeouts"`
	Reconnects     int64 `json:"reconnects"`
}

// ConnectionMetrics accumulates connection counters in-memory for periodic export.
type ConnectionMetrics struct {
	mu       sync.Mutex
	snapshot ConnectionMetricsSnapshot
}

// NewConnectionMetrics constructs an empty accumulator.
func NewConnectionMetrics() *ConnectionMetrics {
	return new(ConnectionMetrics)
}

// AddFramesRouted increments the routed-frame counter.
func (m *ConnectionMetrics) AddFramesRouted(n int64) {
	m.mu.Lock()
	m.snapshot.FramesRouted += n
	m.mu.Unlock()
}

// AddFramesDropped increments the dropped-frame counter.
func (m *ConnectionMetrics) AddFramesDropped(n int64) {
	m.mu.Lock()
	m.snapshot.FramesDropped += n
	m.mu.Unlock()
}

// AddRequestTimeouts increments the request-timeout counter.
func (m *ConnectionMetrics) AddRequestTimeouts(n int64) {
	m.mu.Lock()
	m.snapshot.RequestTimeout += n
	m.mu.Unlock()
}

// AddReconnects increments the reconnect counter.
func (m *ConnectionMetrics) AddReconnects(n int64) {
	m.mu.Lock()
	m.snapshot.Reconnects += n
	m.mu.Unlock()
}

// Snapshot returns a copy of the accumulated counters.
func (m *ConnectionMetrics) Snapshot() ConnectionMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}
