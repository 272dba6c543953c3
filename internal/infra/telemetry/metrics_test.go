package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/usecase"
)

var (
	_ usecase.SagaMetrics      = (*SagaMetrics)(nil)
	_ usecase.SchedulerMetrics = (*SchedulerMetrics)(nil)
)

func TestSagaMetricsRecordsLifecycle(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics, err := NewSagaMetrics(registry)
	if err != nil {
		t.Fatalf("failed to create saga metrics: %v", err)
	}

	metrics.ObserveTransition(domain.SagaSubmitted, domain.SagaInternalValidated)
	metrics.ObserveTransition(domain.SagaSubmitted, domain.SagaInternalValidated)
	metrics.ObserveFinalized(domain.SagaSuccess, 2*time.Second)
	metrics.ObservePublishWait(10 * time.Millisecond)
	metrics.IncDiscarded("projection_success")

	if got := testutil.ToFloat64(metrics.transitions.WithLabelValues(domain.SagaSubmitted.String(), domain.SagaInternalValidated.String())); got != 2 {
		t.Fatalf("expected 2 transitions, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.finalized.WithLabelValues(domain.SagaSuccess.String())); got != 1 {
		t.Fatalf("expected 1 finalized saga, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.discarded.WithLabelValues("projection_success")); got != 1 {
		t.Fatalf("expected 1 discarded message, got %f", got)
	}
	if samples := testutil.CollectAndCount(metrics.duration); samples == 0 {
		t.Fatalf("expected duration histogram to be collected")
	}
}

func TestSagaMetricsReusesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first, err := NewSagaMetrics(registry)
	if err != nil {
		t.Fatalf("failed to create saga metrics: %v", err)
	}
	second, err := NewSagaMetrics(registry)
	if err != nil {
		t.Fatalf("second registration failed: %v", err)
	}

	first.IncDiscarded("validation_response")
	if got := testutil.ToFloat64(second.discarded.WithLabelValues("validation_response")); got != 1 {
		t.Fatalf("expected shared collector, got %f", got)
	}
}

func TestSchedulerMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics, err := NewSchedulerMetrics(registry)
	if err != nil {
		t.Fatalf("failed to create scheduler metrics: %v", err)
	}

	metrics.ObserveSweep("ok", 50*time.Millisecond)
	metrics.ObserveSweep("partial", 70*time.Millisecond)
	metrics.AddAssignmentEvents(4)
	metrics.AddAssignmentEvents(0)
	metrics.IncAssignmentError()

	if got := testutil.ToFloat64(metrics.sweeps.WithLabelValues("partial")); got != 1 {
		t.Fatalf("expected 1 partial sweep, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.events); got != 4 {
		t.Fatalf("expected 4 events, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.errors); got != 1 {
		t.Fatalf("expected 1 error, got %f", got)
	}
}
