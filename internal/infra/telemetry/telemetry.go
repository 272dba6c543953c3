package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-profiles/internal/infra/config"
)

// Provider owns the metrics registry, the domain collectors and the optional tracer.
type Provider struct {
	registry  *prometheus.Registry
	saga      *SagaMetrics
	scheduler *SchedulerMetrics
	tracer    *TracerProvider
}

// Attach builds the metrics registry and, when enabled, the OTLP tracer provider.
func Attach(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	saga, err := NewSagaMetrics(registry)
	if err != nil {
		return nil, err
	}
	scheduler, err := NewSchedulerMetrics(registry)
	if err != nil {
		return nil, err
	}

	provider := &Provider{registry: registry, saga: saga, scheduler: scheduler}
	if cfg.Telemetry.TracingEnabled {
		tracer, err := NewTracerProvider(ctx, cfg.Telemetry, logger, WithEnvironment(cfg.App.Env))
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		provider.tracer = tracer
	}
	return provider, nil
}

// Registerer is where transport collectors register.
func (p *Provider) Registerer() prometheus.Registerer {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Saga returns the saga collectors.
func (p *Provider) Saga() *SagaMetrics {
	return p.saga
}

// Scheduler returns the assignment scheduler collectors.
func (p *Provider) Scheduler() *SchedulerMetrics {
	return p.scheduler
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tracer == nil {
		return nil
	}
	return p.tracer.Shutdown(ctx)
}
