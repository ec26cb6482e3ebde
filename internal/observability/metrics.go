package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector manages the service metrics. A zero collector is valid and
// records nothing, which is what disabled metrics produce.
type MetricsCollector struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider
	registry *promclient.Registry

	// Context cache metrics
	cacheRequests metric.Int64Counter

	// Context pipeline metrics
	contextGenerations metric.Int64Counter
	contextLatency     metric.Float64Histogram
	bulkRefreshes      metric.Int64Counter

	// Event stream metrics
	subscriptionsActive metric.Int64UpDownCounter
	eventsPublished     metric.Int64Counter

	// Chat metrics
	chatRequests metric.Int64Counter
	chatLatency  metric.Float64Histogram
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// NewMetricsCollector creates a new metrics collector backed by a private
// Prometheus registry so several collectors can coexist in one process.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("cragcoach")

	collector := &MetricsCollector{meter: meter, provider: provider, registry: registry}

	if collector.cacheRequests, err = meter.Int64Counter(
		"cragcoach.cache.requests",
		metric.WithDescription("Context cache lookups by result"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cache_requests counter: %w", err)
	}

	if collector.contextGenerations, err = meter.Int64Counter(
		"cragcoach.context.generations",
		metric.WithDescription("Context document generations by trigger and status"),
		metric.WithUnit("{generation}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create context_generations counter: %w", err)
	}

	if collector.contextLatency, err = meter.Float64Histogram(
		"cragcoach.context.latency",
		metric.WithDescription("Context generation latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create context_latency histogram: %w", err)
	}

	if collector.bulkRefreshes, err = meter.Int64Counter(
		"cragcoach.context.bulk_refresh",
		metric.WithDescription("Per-user bulk refresh outcomes"),
		metric.WithUnit("{user}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create bulk_refresh counter: %w", err)
	}

	if collector.subscriptionsActive, err = meter.Int64UpDownCounter(
		"cragcoach.events.subscriptions.active",
		metric.WithDescription("Number of live event stream subscriptions"),
		metric.WithUnit("{subscription}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create subscriptions_active gauge: %w", err)
	}

	if collector.eventsPublished, err = meter.Int64Counter(
		"cragcoach.events.published",
		metric.WithDescription("Events queued for delivery by type"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create events_published counter: %w", err)
	}

	if collector.chatRequests, err = meter.Int64Counter(
		"cragcoach.chat.requests",
		metric.WithDescription("Chat requests by status"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create chat_requests counter: %w", err)
	}

	if collector.chatLatency, err = meter.Float64Histogram(
		"cragcoach.chat.latency",
		metric.WithDescription("Chat processing latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create chat_latency histogram: %w", err)
	}

	return collector, nil
}

// Handler serves the Prometheus exposition format for this collector.
func (m *MetricsCollector) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordCacheLookup records a cache lookup result: hit, miss or error.
func (m *MetricsCollector) RecordCacheLookup(ctx context.Context, result string) {
	if m == nil || m.cacheRequests == nil {
		return
	}
	m.cacheRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordContextGeneration records one context generation.
func (m *MetricsCollector) RecordContextGeneration(ctx context.Context, trigger, status string, latency time.Duration) {
	if m == nil || m.contextGenerations == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("status", status),
	)
	m.contextGenerations.Add(ctx, 1, attrs)
	m.contextLatency.Record(ctx, latency.Seconds(), attrs)
}

// RecordBulkRefresh records the outcome of one user inside a bulk refresh.
func (m *MetricsCollector) RecordBulkRefresh(ctx context.Context, ok bool) {
	if m == nil || m.bulkRefreshes == nil {
		return
	}
	m.bulkRefreshes.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", ok)))
}

// IncrementSubscriptions increments the live subscription gauge.
func (m *MetricsCollector) IncrementSubscriptions(ctx context.Context) {
	if m == nil || m.subscriptionsActive == nil {
		return
	}
	m.subscriptionsActive.Add(ctx, 1)
}

// DecrementSubscriptions decrements the live subscription gauge.
func (m *MetricsCollector) DecrementSubscriptions(ctx context.Context) {
	if m == nil || m.subscriptionsActive == nil {
		return
	}
	m.subscriptionsActive.Add(ctx, -1)
}

// RecordEventPublished records an event queued for a subscriber.
func (m *MetricsCollector) RecordEventPublished(ctx context.Context, eventType string) {
	if m == nil || m.eventsPublished == nil {
		return
	}
	m.eventsPublished.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// RecordChatRequest records a processed chat request.
func (m *MetricsCollector) RecordChatRequest(ctx context.Context, status string, latency time.Duration) {
	if m == nil || m.chatRequests == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.chatRequests.Add(ctx, 1, attrs)
	m.chatLatency.Record(ctx, latency.Seconds(), attrs)
}
