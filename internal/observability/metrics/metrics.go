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

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	generations        metric.Int64Counter
	creditsDeducted    metric.Int64Counter
	webhookEvents      metric.Int64Counter
	providerPolls      metric.Int64Counter
	rateLimitDenied    metric.Int64Counter
	stalePredictions   metric.Int64Counter
	generationDuration metric.Float64Histogram
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "bluefx"
	}
	meter := provider.Meter(name)

	generations, err := meter.Int64Counter("bluefx_generations_total")
	if err != nil {
		return nil, err
	}
	creditsDeducted, err := meter.Int64Counter("bluefx_credits_deducted_total")
	if err != nil {
		return nil, err
	}
	webhookEvents, err := meter.Int64Counter("bluefx_webhook_events_total")
	if err != nil {
		return nil, err
	}
	providerPolls, err := meter.Int64Counter("bluefx_provider_polls_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("bluefx_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}
	stalePredictions, err := meter.Int64Counter("bluefx_stale_predictions_total")
	if err != nil {
		return nil, err
	}
	generationDuration, err := meter.Float64Histogram("bluefx_generation_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		generations:        generations,
		creditsDeducted:    creditsDeducted,
		webhookEvents:      webhookEvents,
		providerPolls:      providerPolls,
		rateLimitDenied:    rateLimitDenied,
		stalePredictions:   stalePredictions,
		generationDuration: generationDuration,
	}, nil
}

// RecordGeneration increments generation counts per tool and terminal status.
func (m *Metrics) RecordGeneration(ctx context.Context, toolID, status string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("tool_id", strings.TrimSpace(toolID)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.generations.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.generationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		FilterAttributes(attribute.String("tool_id", strings.TrimSpace(toolID)))...,
	))
}

// RecordCreditsDeducted accumulates deducted credits per tool.
func (m *Metrics) RecordCreditsDeducted(ctx context.Context, toolID string, amount int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("tool_id", strings.TrimSpace(toolID)))
	m.creditsDeducted.Add(ctx, amount, metric.WithAttributes(attrs...))
}

// RecordWebhookEvent increments webhook ingest counts.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordProviderPoll increments provider poll counts.
func (m *Metrics) RecordProviderPoll(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("provider", strings.TrimSpace(provider)))
	m.providerPolls.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordStalePrediction increments stale reconciliation counts per outcome.
func (m *Metrics) RecordStalePrediction(ctx context.Context, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(status)))
	m.stalePredictions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"tool_id":     {},
	"status":      {},
	"status_code": {},
	"endpoint":    {},
	"provider":    {},
	"route":       {},
	"method":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
