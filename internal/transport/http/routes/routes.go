package routes

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-profiles/internal/infra/config"
	"github.com/arklim/social-platform-profiles/internal/transport/http/handlers"
	"github.com/arklim/social-platform-profiles/internal/transport/http/middleware"
)

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config   *config.AppConfig
	Logger   *zap.Logger
	Commands handlers.CommandService
	Sweeper  handlers.AssignmentSweeper
	Metrics  *middleware.HTTPMetrics
	// MetricsHandler serves /metrics; the default registry is used when nil.
	MetricsHandler http.Handler
	Checks         map[string]handlers.ReadinessCheck
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	if deps.Config.Telemetry.TracingEnabled {
		r.Use(otelgin.Middleware(deps.Config.Telemetry.ServiceName))
	}
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(deps.Metrics.Handler())
	if len(deps.Config.App.CORSOrigins) > 0 {
		r.Use(middleware.CORS(deps.Config.App.CORSOrigins))
	}

	healthOptions := make([]handlers.HealthOption, 0, len(deps.Checks))
	for name, check := range deps.Checks {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck(name, check))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.GET("/metrics", gin.WrapH(metricsHandler))

	api := r.Group("/api/v1")
	api.Use(middleware.NewInitiatorAuth(deps.Config.Auth).Handler())
	{
		if deps.Commands != nil {
			handlers.NewCommandHandler(deps.Commands).RegisterRoutes(api)
		}
		if deps.Sweeper != nil {
			handlers.NewAssignmentHandler(deps.Sweeper).RegisterRoutes(api)
		}
	}

	handlers.RegisterSwagger(r)

	return r
}

// DatabaseCheck adapts a pool to a readiness check.
func DatabaseCheck(db DatabaseChecker) handlers.ReadinessCheck {
	return db.Ping
}

// CacheCheck adapts a cache client to a readiness check.
func CacheCheck(cache CacheChecker) handlers.ReadinessCheck {
	return cache.HealthCheck
}
