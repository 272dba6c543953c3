package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/infra/config"
)

func TestAttachExposesDomainMetrics(t *testing.T) {
	provider, err := Attach(context.Background(), &config.AppConfig{}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Attach returned error: %v", err)
	}
	provider.Saga().ObserveTransition(domain.SagaSubmitted, domain.SagaRejected)
	provider.Scheduler().ObserveSweep("ok", 0)

	rr := httptest.NewRecorder()
	provider.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	for _, name := range []string{"profiles_saga_transitions_total", "profiles_assignment_sweeps_total", "go_goroutines"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("expected %s in exposition", name)
		}
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown without tracing returned error: %v", err)
	}
}

func TestAttachRequiresConfig(t *testing.T) {
	if _, err := Attach(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}
