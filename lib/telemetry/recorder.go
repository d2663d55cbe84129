package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/finbrook/tradewire/internal/observability"
)

// Recorder adapts an OpenTelemetry meter to the observability.Metrics sink.
// Instruments are created once per name and cached.
type Recorder struct {
	meter metric.Meter

	mu       sync.Mutex
	counters map[string]metric.Float64Counter
	gauges   map[string]metric.Float64Gauge
}

// NewRecorder builds a Recorder on the given meter provider.
func NewRecorder(providers Providers, scope string) *Recorder {
	return &Recorder{
		meter:    providers.MeterProvider.Meter(scope),
		counters: make(map[string]metric.Float64Counter),
		gauges:   make(map[string]metric.Float64Gauge),
	}
}

// IncCounter adds value to the named counter with the given labels.
func (r *Recorder) IncCounter(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	counter, ok := r.counters[name]
	if !ok {
		created, err := r.meter.Float64Counter(name)
		if err != nil {
			r.mu.Unlock()
			observability.Log().Warn("counter creation failed",
				observability.F("name", name),
				observability.F("error", err))
			return
		}
		counter = created
		r.counters[name] = counter
	}
	r.mu.Unlock()
	counter.Add(context.Background(), value, metric.WithAttributes(attrs(labels)...))
}

// SetGauge records the named gauge value with the given labels.
func (r *Recorder) SetGauge(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	gauge, ok := r.gauges[name]
	if !ok {
		created, err := r.meter.Float64Gauge(name)
		if err != nil {
			r.mu.Unlock()
			observability.Log().Warn("gauge creation failed",
				observability.F("name", name),
				observability.F("error", err))
			return
		}
		gauge = created
		r.gauges[name] = gauge
	}
	r.mu.Unlock()
	gauge.Record(context.Background(), value, metric.WithAttributes(attrs(labels)...))
}

func attrs(labels map[string]string) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		out = append(out, attribute.String(k, v))
	}
	return out
}
