package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const exportInterval = 10 * time.Second

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics holds the credit and generation instruments. A nil *Metrics records nothing.
type Metrics struct {
	generations      metric.Int64Counter
	creditsCharged   metric.Int64Counter
	ledgerEntries    metric.Int64Counter
	settlements      metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
	providerDuration metric.Float64Histogram
}

// NewProvider installs the global meter provider. With metrics disabled it is a no-op.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		p := noop.NewMeterProvider()
		otel.SetMeterProvider(p)
		return p, nil
	}

	exp, err := exporterFor(cfg)
	if err != nil {
		return nil, err
	}
	p := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(exportInterval))),
	)
	otel.SetMeterProvider(p)

	if lc != nil {
		lc.Append(fx.Hook{OnStop: p.Shutdown})
	}
	if log != nil {
		log.Info("otlp metrics exporter ready",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}
	return p, nil
}

func exporterFor(cfg Config) (sdkmetric.Exporter, error) {
	ctx := context.Background()
	endpoint := strings.TrimSpace(cfg.ExporterEndpoint)

	switch proto := strings.ToLower(strings.TrimSpace(cfg.ExporterProtocol)); proto {
	case "", "grpc", "grpc/protobuf":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	case "http", "http/protobuf":
		var opts []otlpmetrichttp.Option
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("metrics: unsupported otlp protocol %q", proto)
	}
}

// New creates the instruments on the provider's meter.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	scope := strings.TrimSpace(cfg.ServiceName)
	if scope == "" {
		scope = "pixelcredit"
	}
	meter := provider.Meter(scope)

	m := &Metrics{}
	counters := []struct {
		name string
		desc string
		dst  *metric.Int64Counter
	}{
		{"pixelcredit_generations_total", "Finished generation requests by variant and status.", &m.generations},
		{"pixelcredit_credits_charged_total", "Credits committed for successful generations.", &m.creditsCharged},
		{"pixelcredit_ledger_entries_total", "Ledger entries appended by reason.", &m.ledgerEntries},
		{"pixelcredit_reservation_settlements_total", "Reservations settled by outcome.", &m.settlements},
		{"pixelcredit_rate_limit_denied_total", "Requests rejected by the rate limiter.", &m.rateLimitDenied},
	}
	for _, c := range counters {
		inst, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("metrics: %s: %w", c.name, err)
		}
		*c.dst = inst
	}

	hist, err := meter.Float64Histogram("pixelcredit_provider_duration_seconds",
		metric.WithUnit("s"),
		metric.WithDescription("Latency of image provider calls."),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: provider duration: %w", err)
	}
	m.providerDuration = hist
	return m, nil
}

// NewNoop returns instruments on a no-op provider, for tests and CLI commands.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

func labels(kv ...attribute.KeyValue) metric.MeasurementOption {
	return metric.WithAttributes(FilterAttributes(kv...)...)
}

func label(key, value string) attribute.KeyValue {
	return attribute.String(key, strings.TrimSpace(value))
}

func (m *Metrics) RecordGeneration(ctx context.Context, variant, status string) {
	if m == nil {
		return
	}
	m.generations.Add(ctx, 1, labels(label("variant", variant), label("status", status)))
}

// RecordCreditsCharged ignores non-positive amounts.
func (m *Metrics) RecordCreditsCharged(ctx context.Context, variant string, credits int64) {
	if m == nil || credits <= 0 {
		return
	}
	m.creditsCharged.Add(ctx, credits, labels(label("variant", variant)))
}

func (m *Metrics) RecordLedgerEntry(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.ledgerEntries.Add(ctx, 1, labels(label("reason", reason)))
}

func (m *Metrics) RecordSettlement(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.settlements.Add(ctx, 1, labels(label("outcome", outcome)))
}

func (m *Metrics) ObserveProviderCall(ctx context.Context, provider, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.providerDuration.Record(ctx, elapsed.Seconds(), labels(label("provider", provider), label("status", status)))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, labels(label("endpoint", endpoint), label("reason", reason)))
}

// Labels outside this set are dropped. User and request ids must never become series.
var allowedLabelKeys = map[attribute.Key]bool{
	"variant":     true,
	"status":      true,
	"reason":      true,
	"outcome":     true,
	"provider":    true,
	"endpoint":    true,
	"status_code": true,
}

// FilterAttributes keeps only low-cardinality labels.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := attrs[:0:0]
	for _, a := range attrs {
		if allowedLabelKeys[a.Key] {
			out = append(out, a)
		}
	}
	return out
}
