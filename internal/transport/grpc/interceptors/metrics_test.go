package interceptors

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestGRPCMetricsUnaryInterceptorRecordsMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics, err := NewGRPCMetrics(GRPCMetricsOptions{Registerer: registry})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	interceptor := metrics.UnaryServerInterceptor()

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		time.Sleep(5 * time.Millisecond)
		return "ok", nil
	}

	info := &grpc.UnaryServerInfo{FullMethod: "/profiles.v1.CommandService/SubmitCommand"}

	if _, err := interceptor(context.Background(), struct{}{}, info, handler); err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}

	labels := prometheus.Labels{"service": "profiles.v1.CommandService", "method": "SubmitCommand", "code": codes.OK.String()}

	if got := testutil.ToFloat64(metrics.requests.With(labels)); got != 1 {
		t.Fatalf("expected request counter 1, got %f", got)
	}

	if inflight := testutil.ToFloat64(metrics.inFlight.WithLabelValues("profiles.v1.CommandService")); inflight != 0 {
		t.Fatalf("expected in-flight gauge 0, got %f", inflight)
	}

	if samples := testutil.CollectAndCount(metrics.duration); samples == 0 {
		t.Fatalf("expected histogram to record observations")
	}
}

func TestGRPCMetricsUnaryInterceptorRecordsErrorCodes(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics, err := NewGRPCMetrics(GRPCMetricsOptions{Registerer: registry})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	interceptor := metrics.UnaryServerInterceptor()

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "saga not found")
	}

	info := &grpc.UnaryServerInfo{FullMethod: "/profiles.v1.CommandService/GetSaga"}

	if _, err := interceptor(context.Background(), struct{}{}, info, handler); status.Code(err) != codes.NotFound {
		t.Fatalf("expected not found, got %v", err)
	}

	labels := prometheus.Labels{"service": "profiles.v1.CommandService", "method": "GetSaga", "code": codes.NotFound.String()}
	if got := testutil.ToFloat64(metrics.requests.With(labels)); got != 1 {
		t.Fatalf("expected request counter 1 for missing saga, got %f", got)
	}
}

func TestGRPCMetricsStreamInterceptorRecordsMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics, err := NewGRPCMetrics(GRPCMetricsOptions{Registerer: registry})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	info := &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch", IsServerStream: true}
	err = metrics.StreamServerInterceptor()(nil, &mockServerStream{ctx: context.Background()}, info, func(interface{}, grpc.ServerStream) error {
		return status.Error(codes.Canceled, "client went away")
	})
	if status.Code(err) != codes.Canceled {
		t.Fatalf("expected canceled, got %v", err)
	}

	labels := prometheus.Labels{"service": "grpc.health.v1.Health", "method": "Watch", "code": codes.Canceled.String()}
	if got := testutil.ToFloat64(metrics.requests.With(labels)); got != 1 {
		t.Fatalf("expected request counter 1, got %f", got)
	}
}

func TestGRPCMetricsReusesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first, err := NewGRPCMetrics(GRPCMetricsOptions{Registerer: registry})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	second, err := NewGRPCMetrics(GRPCMetricsOptions{Registerer: registry})
	if err != nil {
		t.Fatalf("second registration failed: %v", err)
	}
	if first.requests != second.requests {
		t.Fatalf("expected collectors to be shared")
	}
}

func TestSplitFullMethod(t *testing.T) {
	tests := map[string][2]string{
		"/profiles.v1.CommandService/GetSaga": {"profiles.v1.CommandService", "GetSaga"},
		"":                                    {"unknown", "unknown"},
		"/broken":                             {"broken", "unknown"},
		"/svc/":                               {"svc", "unknown"},
	}
	for input, want := range tests {
		service, method := splitFullMethod(input)
		if service != want[0] || method != want[1] {
			t.Fatalf("splitFullMethod(%q) = %q, %q; want %q, %q", input, service, method, want[0], want[1])
		}
	}
}
