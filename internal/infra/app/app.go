package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/core/port"
	"github.com/arklim/social-platform-profiles/internal/infra/config"
	"github.com/arklim/social-platform-profiles/internal/infra/database"
	"github.com/arklim/social-platform-profiles/internal/infra/eventbus"
	kafkainfra "github.com/arklim/social-platform-profiles/internal/infra/kafka"
	"github.com/arklim/social-platform-profiles/internal/infra/logger"
	redisinfra "github.com/arklim/social-platform-profiles/internal/infra/redis"
	"github.com/arklim/social-platform-profiles/internal/infra/security"
	"github.com/arklim/social-platform-profiles/internal/infra/telemetry"
	"github.com/arklim/social-platform-profiles/internal/repository/memory"
	postgresrepo "github.com/arklim/social-platform-profiles/internal/repository/postgres"
	transportgrpc "github.com/arklim/social-platform-profiles/internal/transport/grpc"
	grpcinterceptors "github.com/arklim/social-platform-profiles/internal/transport/grpc/interceptors"
	"github.com/arklim/social-platform-profiles/internal/transport/http/handlers"
	"github.com/arklim/social-platform-profiles/internal/transport/http/middleware"
	"github.com/arklim/social-platform-profiles/internal/transport/http/routes"
	"github.com/arklim/social-platform-profiles/internal/transport/messaging"
	"github.com/arklim/social-platform-profiles/internal/usecase"
)

type Application struct {
	cfg       *config.AppConfig
	engine    *gin.Engine
	logger    *zap.Logger
	telemetry *telemetry.Provider

	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
	consumer *kafkainfra.ConsumerGroup
	bus      *eventbus.Bus

	processor *usecase.CommandProcessor
	scheduler *usecase.AssignmentScheduler

	grpcServer *transportgrpc.Server
	grpcAddr   string
}

// storage bundles the persistence backends selected by storage.driver.
type storage struct {
	sagas    port.SagaRepository
	profiles port.ProfileStore
	events   interface {
		port.EventPublisher
		port.EventBatchExecutor
	}
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &Application{cfg: cfg, logger: log, grpcAddr: fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)}
	if err := a.init(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *Application) init(ctx context.Context) error {
	cfg, log := a.cfg, a.logger

	provider, err := telemetry.Attach(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.telemetry = provider

	store, err := a.openStorage(ctx)
	if err != nil {
		return err
	}

	checks := map[string]handlers.ReadinessCheck{}
	if a.pool != nil {
		checks["database"] = routes.DatabaseCheck(a.pool)
	}

	var fingerprints port.FingerprintStore = memory.NewFingerprintStore()
	if cfg.Redis.Enabled {
		a.redis, err = redisinfra.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		fingerprints = a.redis.Fingerprints(cfg.Saga.FingerprintTTL)
		checks["cache"] = routes.CacheCheck(a.redis)
	}

	a.bus = eventbus.New(0, log.Named("eventbus"))

	var (
		notifier  port.NotificationPublisher
		published port.EventPublisher
		batches   port.EventBatchExecutor
	)
	if cfg.Kafka.Enabled {
		a.producer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			return fmt.Errorf("init kafka producer: %w", err)
		}
		notifier = kafkainfra.NewNotificationPublisher(a.producer, cfg.App, log)
		published = usecase.FanoutPublisher{store.events, kafkainfra.NewEventStreamPublisher(a.producer, cfg.App, log)}
		batches = usecase.FanoutBatchExecutor{store.events, kafkainfra.NewBatchPublisher(a.producer, cfg.App, log)}
		log.Info("kafka publishers initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	} else {
		log.Info("kafka disabled, events are projected in process")
		notifier = kafkainfra.NewStubPublisher(log)
		published = usecase.FanoutPublisher{store.events, a.bus}
		batches = store.events
	}

	registry := usecase.NewCommandRegistry()
	if err := (usecase.BuiltinCommands{Profiles: store.profiles}).Register(registry); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}

	external := usecase.ExternalValidation{}
	for _, kind := range cfg.Validation.ExternalCommands {
		external[domain.CommandKind(kind)] = true
	}

	machine := usecase.NewSagaMachine(registry, external).WithLogger(log.Named("saga"))
	a.processor = usecase.NewCommandProcessor(
		store.sagas,
		machine,
		usecase.NewPublisherRegistry(published),
		notifier,
		fingerprints,
		usecase.NewPublishGate(),
		usecase.CommandProcessorOptions{
			RelayBatchSize: cfg.Saga.RelayBatchSize,
			RelayMinAge:    cfg.Saga.RelayMinAge,
			PublishLease:   cfg.Saga.PublishLease,
		},
	).WithLogger(log.Named("saga")).WithMetrics(provider.Saga())

	resolver := usecase.NewRelatedEventResolver().WithLogger(log.Named("resolver"))
	projector := usecase.NewFirstLevelProjector(store.profiles, resolver, batches, a.processor).WithLogger(log.Named("projector"))
	a.scheduler = usecase.NewAssignmentScheduler(store.profiles, resolver, batches).
		WithLogger(log.Named("scheduler")).
		WithMetrics(provider.Scheduler())

	router := messaging.NewRouter(cfg.Kafka.TopicPrefix, a.processor, projector, messaging.RetryPolicy{
		Attempts: uint(cfg.Saga.RetryAttempts),
		Interval: cfg.Saga.RetryInterval,
	}).WithLogger(log.Named("messaging"))
	if cfg.Kafka.Enabled {
		a.consumer, err = kafkainfra.NewConsumerGroup(cfg.Kafka, messaging.Topics(true), router, log)
		if err != nil {
			return fmt.Errorf("init kafka consumer: %w", err)
		}
	} else {
		a.bus.SubscribeAll(router.ProjectEvent)
	}

	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: provider.Registerer()})
	if err != nil {
		return fmt.Errorf("init http metrics: %w", err)
	}
	a.engine = routes.Register(routes.Dependencies{
		Config:         cfg,
		Logger:         log,
		Commands:       a.processor,
		Sweeper:        a.scheduler,
		Metrics:        httpMetrics,
		MetricsHandler: provider.Handler(),
		Checks:         checks,
	})

	grpcMetrics, err := grpcinterceptors.NewGRPCMetrics(grpcinterceptors.GRPCMetricsOptions{Registerer: provider.Registerer()})
	if err != nil {
		return fmt.Errorf("init grpc metrics: %w", err)
	}
	var tracing *grpcinterceptors.TracingOptions
	if cfg.Telemetry.TracingEnabled {
		tracing = &grpcinterceptors.TracingOptions{SkipMethods: []string{"/grpc.health.v1.Health/Check", "/grpc.health.v1.Health/Watch"}}
	}
	grpcChecks := make(map[string]transportgrpc.ReadinessCheck, len(checks))
	for name, check := range checks {
		grpcChecks[name] = transportgrpc.ReadinessCheck(check)
	}
	a.grpcServer, err = transportgrpc.NewServer(transportgrpc.ServerDependencies{
		Commands:     a.processor,
		Tokens:       security.NewInitiatorTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		AuthRequired: cfg.Auth.Required,
		Metrics:      grpcMetrics,
		Tracing:      tracing,
		Checks:       grpcChecks,
		Logger:       log.Named("grpc"),
	})
	if err != nil {
		return fmt.Errorf("init grpc server: %w", err)
	}
	return nil
}

func (a *Application) openStorage(ctx context.Context) (storage, error) {
	mode := port.ConcurrencyMode(a.cfg.Saga.ConcurrencyMode)

	if a.cfg.Storage.Driver == config.DriverMemory {
		a.logger.Warn("using in-memory storage, state is lost on restart")
		return storage{
			sagas:    memory.NewSagaStore(mode),
			profiles: memory.NewProfileStore(),
			events:   memory.NewEventLog(),
		}, nil
	}

	pool, err := database.NewPostgresPool(ctx, a.cfg.Postgres, a.logger)
	if err != nil {
		return storage{}, fmt.Errorf("init postgres: %w", err)
	}
	a.pool = pool
	if err := postgresrepo.EnsureSchema(ctx, pool); err != nil {
		return storage{}, fmt.Errorf("ensure schema: %w", err)
	}
	return storage{
		sagas:    postgresrepo.NewSagaRepository(pool, mode),
		profiles: postgresrepo.NewProfileStore(pool),
		events:   postgresrepo.NewEventStore(pool),
	}, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer a.close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.bus.Run(ctx)
		return nil
	})
	g.Go(func() error {
		a.processor.RunRelay(ctx, a.cfg.Saga.RelayInterval)
		return nil
	})
	if a.cfg.Scheduler.Enabled {
		g.Go(func() error {
			a.scheduler.Run(ctx, a.cfg.Scheduler.Interval)
			return nil
		})
	}
	if a.consumer != nil {
		g.Go(func() error {
			return a.consumer.Run(ctx)
		})
	}

	lis, err := net.Listen("tcp", a.grpcAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	g.Go(func() error {
		a.grpcServer.WatchHealth(ctx)
		return nil
	})
	g.Go(func() error {
		a.logger.Info("starting gRPC server", zap.String("address", a.grpcAddr))
		if err := a.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("run grpc server: %w", err)
		}
		return nil
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	a.logger.Info("starting profile service",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
		zap.String("storage", a.cfg.Storage.Driver),
		zap.Bool("kafka", a.cfg.Kafka.Enabled),
	)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("run server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.grpcServer.Shutdown()
		a.bus.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func (a *Application) close() {
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.logger.Warn("close kafka consumer", zap.Error(err))
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
