package observability

import (
	"context"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	meter metric.Meter

	// HTTP metrics
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Job metrics
	JobsSubmitted metric.Int64Counter
	JobsRevoked   metric.Int64Counter
	JobsActive    metric.Int64UpDownCounter
	JobDuration   metric.Float64Histogram
	JobsFinished  metric.Int64Counter

	// Event bus and relay metrics
	EventsPublished metric.Int64Counter
	EventsRelayed   metric.Int64Counter
	RelayReconnects metric.Int64Counter
	RelayState      metric.Int64Gauge

	// Push metrics
	PushConnections metric.Int64UpDownCounter
	PushDelivered   metric.Int64Counter
	PushEvicted     metric.Int64Counter
}

// NewMetrics creates and registers all metrics with a Prometheus exporter
// on a registry of its own, together with the Go runtime and process
// collectors.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m := &Metrics{meter: provider.Meter("modeltrainer")}
	b := builder{meter: m.meter}

	m.HTTPRequestDuration = b.histogram("http_request_duration_seconds",
		"HTTP request latency in seconds",
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10)
	m.HTTPRequestsTotal = b.counter("http_requests_total", "Total number of HTTP requests")
	m.HTTPErrorsTotal = b.counter("http_errors_total", "Total number of HTTP errors (4xx and 5xx)")

	m.JobsSubmitted = b.counter("jobs_submitted_total", "Total number of training jobs submitted")
	m.JobsRevoked = b.counter("jobs_revoked_total", "Total number of training jobs cancelled by clients")
	m.JobsActive = b.upDown("jobs_active", "Number of training jobs currently running")
	m.JobDuration = b.histogram("job_duration_seconds",
		"Training job duration in seconds",
		1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600)
	m.JobsFinished = b.counter("jobs_finished_total", "Total number of training jobs finished, by state")

	m.EventsPublished = b.counter("events_published_total", "Total number of job events published")
	m.EventsRelayed = b.counter("events_relayed_total", "Total number of job events relayed to the push layer")
	m.RelayReconnects = b.counter("relay_reconnects_total", "Total number of successful relay resubscriptions")
	m.RelayState = b.gauge("relay_state", "Relay state: 0 connecting, 1 listening, 2 backoff, 3 failed")

	m.PushConnections = b.upDown("push_connections", "Number of open push connections")
	m.PushDelivered = b.counter("push_delivered_total", "Total number of frames queued to push connections")
	m.PushEvicted = b.counter("push_evicted_total", "Total number of push connections evicted for a full buffer")

	if b.err != nil {
		return nil, nil, b.err
	}
	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// builder keeps the first instrument creation error
type builder struct {
	meter metric.Meter
	err   error
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.keep(err)
	return c
}

func (b *builder) upDown(name, desc string) metric.Int64UpDownCounter {
	c, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.keep(err)
	return c
}

func (b *builder) gauge(name, desc string) metric.Int64Gauge {
	g, err := b.meter.Int64Gauge(name, metric.WithDescription(desc))
	b.keep(err)
	return g
}

func (b *builder) histogram(name, desc string, bounds ...float64) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(bounds...),
	)
	b.keep(err)
	return h
}

func (b *builder) keep(err error) {
	if b.err == nil {
		b.err = err
	}
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		methodAttr(method),
		routeAttr(route),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordJobSubmitted(ctx context.Context) {
	if m == nil {
		return
	}
	m.JobsSubmitted.Add(ctx, 1)
}

func (m *Metrics) RecordJobRevoked(ctx context.Context) {
	if m == nil {
		return
	}
	m.JobsRevoked.Add(ctx, 1)
}

func (m *Metrics) RecordJobStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.JobsActive.Add(ctx, 1)
}

// RecordJobFinished records a job leaving the worker in state
func (m *Metrics) RecordJobFinished(ctx context.Context, state string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(stateAttr(state))
	m.JobsActive.Add(ctx, -1)
	m.JobsFinished.Add(ctx, 1, attrs)
	m.JobDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *Metrics) RecordEventPublished(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.Add(ctx, 1, metric.WithAttributes(eventTypeAttr(eventType)))
}

func (m *Metrics) RecordEventRelayed(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.EventsRelayed.Add(ctx, 1, metric.WithAttributes(eventTypeAttr(eventType)))
}

func (m *Metrics) RecordRelayReconnect(ctx context.Context) {
	if m == nil {
		return
	}
	m.RelayReconnects.Add(ctx, 1)
}

// RecordRelayState records the relay state as a gauge value
func (m *Metrics) RecordRelayState(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.RelayState.Record(ctx, relayStateValue(state))
}

func (m *Metrics) RecordPushConnections(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.PushConnections.Add(ctx, delta)
}

func (m *Metrics) RecordPushDelivered(ctx context.Context) {
	if m == nil {
		return
	}
	m.PushDelivered.Add(ctx, 1)
}

func (m *Metrics) RecordPushEvicted(ctx context.Context) {
	if m == nil {
		return
	}
	m.PushEvicted.Add(ctx, 1)
}

func relayStateValue(state string) int64 {
	switch state {
	case "listening":
		return 1
	case "backoff":
		return 2
	case "failed":
		return 3
	}
	return 0
}
