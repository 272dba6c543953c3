package routes_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/core/port"
	"github.com/arklim/social-platform-profiles/internal/infra/config"
	"github.com/arklim/social-platform-profiles/internal/transport/http/handlers"
	"github.com/arklim/social-platform-profiles/internal/transport/http/middleware"
	httproutes "github.com/arklim/social-platform-profiles/internal/transport/http/routes"
)

type stubCommands struct{}

func (stubCommands) Submit(context.Context, domain.SubmitCommand) (string, error) { return "cmd-1", nil }
func (stubCommands) HandleValidationResponse(context.Context, domain.ValidationCompositeResponse) error {
	return nil
}
func (stubCommands) HandleProjectionSuccess(context.Context, domain.CommandProjectionSuccess) error {
	return nil
}
func (stubCommands) HandleProjectionFailure(context.Context, domain.CommandProjectionFailure) error {
	return nil
}
func (stubCommands) ListSagas(context.Context, port.SagaQuery) (int, []domain.SagaInstance, error) {
	return 0, nil, nil
}
func (stubCommands) GetSaga(context.Context, string) (*domain.SagaInstance, error) {
	return nil, errors.New("not implemented")
}

func newEngine(t *testing.T, cfg *config.AppConfig, checks map[string]handlers.ReadinessCheck) (*gin.Engine, *prometheus.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	metrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: registry})
	if err != nil {
		t.Fatalf("failed to create http metrics: %v", err)
	}
	return httproutes.Register(httproutes.Dependencies{
		Config:         cfg,
		Logger:         zaptest.NewLogger(t),
		Commands:       stubCommands{},
		Metrics:        metrics,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Checks:         checks,
	}), registry
}

func TestHealthEndpoint(t *testing.T) {
	cfg := &config.AppConfig{App: config.AppSettings{Env: "test"}}
	r, _ := newEngine(t, cfg, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/healthz", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a request id header")
	}
}

func TestReadinessUsesChecks(t *testing.T) {
	cfg := &config.AppConfig{App: config.AppSettings{Env: "test"}}
	r, _ := newEngine(t, cfg, map[string]handlers.ReadinessCheck{
		"postgres": func(context.Context) error { return errors.New("down") },
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/readyz", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", w.Code)
	}
}

func TestCommandsRequireTokenWhenConfigured(t *testing.T) {
	cfg := &config.AppConfig{
		App:  config.AppSettings{Env: "test"},
		Auth: config.AuthSettings{JWTSecret: "secret", Required: true},
	}
	r, _ := newEngine(t, cfg, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/commands", strings.NewReader(`{"command":"CreateUser","data":{}}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", w.Code)
	}

	// health endpoints stay open
	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/healthz", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestMetricsEndpointExposesRequests(t *testing.T) {
	cfg := &config.AppConfig{App: config.AppSettings{Env: "test"}}
	r, _ := newEngine(t, cfg, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/commands", strings.NewReader(`{"command":"CreateUser","data":{}}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), "profiles_http_requests_total") {
		t.Fatalf("expected http request metrics in exposition")
	}
}
