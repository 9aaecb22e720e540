package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	promreg "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/usagedeck/usagedeck/internal/config"
)

type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *metric.MeterProvider
	promExporter   *prometheus.Exporter
	promHandler    http.Handler
	shutdownFuncs  []func(context.Context) error

	gatewayRequestCounter *promreg.CounterVec
	gatewayRequestLatency *promreg.HistogramVec
	gatewayRetryCounter   *promreg.CounterVec
	cacheLookupCounter    *promreg.CounterVec
	exportCounter         *promreg.CounterVec
}

func Setup(ctx context.Context, cfg config.ObservabilityConfig) (*Provider, error) {
	if !cfg.EnableOTLP && !cfg.EnableMetrics {
		return nil, nil
	}

	provider := &Provider{}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("usagedeck"),
		),
	)
	if err != nil {
		return nil, err
	}

	if cfg.EnableOTLP {
		rawEndpoint := strings.TrimSpace(cfg.OTLPEndpoint)
		endpoint := rawEndpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		opts := []otlptracegrpc.Option{}
		switch {
		case strings.HasPrefix(endpoint, "http://"):
			endpoint = strings.TrimPrefix(endpoint, "http://")
			opts = append(opts, otlptracegrpc.WithInsecure())
		case strings.HasPrefix(endpoint, "https://"):
			endpoint = strings.TrimPrefix(endpoint, "https://")
		default:
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))

		client := otlptracegrpc.NewClient(opts...)
		exporter, err := otlptrace.New(ctx, client)
		if err != nil {
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		provider.tracerProvider = tp
		provider.shutdownFuncs = append(provider.shutdownFuncs, tp.Shutdown)
	}

	if cfg.EnableMetrics {
		registry := promreg.NewRegistry()
		promExporter, err := prometheus.New(prometheus.WithRegisterer(registry))
		if err != nil {
			return nil, err
		}
		mp := metric.NewMeterProvider(
			metric.WithReader(promExporter),
			metric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		provider.meterProvider = mp
		provider.promExporter = promExporter
		provider.promHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
		provider.shutdownFuncs = append(provider.shutdownFuncs, mp.Shutdown)

		gatewayRequests := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: "usagedeck",
				Name:      "gateway_requests_total",
				Help:      "Total number of admin gateway requests issued.",
			},
			[]string{"endpoint", "status"},
		)
		latencyBuckets := []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10}
		gatewayLatency := promreg.NewHistogramVec(
			promreg.HistogramOpts{
				Namespace: "usagedeck",
				Name:      "gateway_request_duration_seconds",
				Help:      "Duration of admin gateway requests in seconds.",
				Buckets:   latencyBuckets,
			},
			[]string{"endpoint", "status"},
		)
		gatewayRetries := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: "usagedeck",
				Name:      "gateway_retries_total",
				Help:      "Total number of retried gateway requests.",
			},
			[]string{"endpoint"},
		)
		cacheLookups := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: "usagedeck",
				Name:      "query_cache_lookups_total",
				Help:      "Query cache lookups by outcome.",
			},
			[]string{"store", "outcome"},
		)
		exports := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: "usagedeck",
				Name:      "exports_total",
				Help:      "Completed usage exports by format and destination.",
			},
			[]string{"format", "storage"},
		)
		if err := registry.Register(gatewayRequests); err != nil {
			return nil, err
		}
		if err := registry.Register(gatewayLatency); err != nil {
			return nil, err
		}
		if err := registry.Register(gatewayRetries); err != nil {
			return nil, err
		}
		if err := registry.Register(cacheLookups); err != nil {
			return nil, err
		}
		if err := registry.Register(exports); err != nil {
			return nil, err
		}
		provider.gatewayRequestCounter = gatewayRequests
		provider.gatewayRequestLatency = gatewayLatency
		provider.gatewayRetryCounter = gatewayRetries
		provider.cacheLookupCounter = cacheLookups
		provider.exportCounter = exports
	}

	return provider, nil
}

func (p *Provider) PrometheusHandler() http.Handler {
	if p == nil || p.promHandler == nil {
		return nil
	}
	return p.promHandler
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) TracerProvider() *sdktrace.TracerProvider {
	if p == nil {
		return nil
	}
	return p.tracerProvider
}

func (p *Provider) RecordGatewayRequest(_ context.Context, endpoint string, status int, duration time.Duration) {
	if p == nil {
		return
	}

	statusLabel := strconv.Itoa(status)

	if p.gatewayRequestCounter != nil {
		p.gatewayRequestCounter.WithLabelValues(endpoint, statusLabel).Inc()
	}

	if p.gatewayRequestLatency != nil {
		p.gatewayRequestLatency.WithLabelValues(endpoint, statusLabel).Observe(duration.Seconds())
	}
}

func (p *Provider) RecordRetry(endpoint string) {
	if p == nil || p.gatewayRetryCounter == nil {
		return
	}
	p.gatewayRetryCounter.WithLabelValues(endpoint).Inc()
}

// RecordCacheLookup tallies one query cache lookup. Outcome is one of
// "fresh", "stale", or "miss".
func (p *Provider) RecordCacheLookup(store, outcome string) {
	if p == nil || p.cacheLookupCounter == nil {
		return
	}
	p.cacheLookupCounter.WithLabelValues(store, outcome).Inc()
}

func (p *Provider) RecordExport(format, storage string) {
	if p == nil || p.exportCounter == nil {
		return
	}
	p.exportCounter.WithLabelValues(format, storage).Inc()
}
