package main

import (
	"context"
	"log"
	"time"

	goRedis "github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	apiHandler "github.com/fastygo/journal/api/handler"
	"github.com/fastygo/journal/domain"
	"github.com/fastygo/journal/internal/config"
	"github.com/fastygo/journal/internal/infrastructure/buffer"
	"github.com/fastygo/journal/internal/infrastructure/kafka"
	"github.com/fastygo/journal/internal/infrastructure/monitor"
	pgInfra "github.com/fastygo/journal/internal/infrastructure/postgres"
	redisInfra "github.com/fastygo/journal/internal/infrastructure/redis"
	"github.com/fastygo/journal/internal/metrics"
	"github.com/fastygo/journal/internal/middleware"
	"github.com/fastygo/journal/internal/router"
	"github.com/fastygo/journal/internal/services"
	"github.com/fastygo/journal/internal/services/lifecycle"
	"github.com/fastygo/journal/pkg/httpcontext"
	"github.com/fastygo/journal/pkg/logger"
	"github.com/fastygo/journal/repository"
	"github.com/fastygo/journal/repository/postgres"
	redisRepo "github.com/fastygo/journal/repository/redis"
	"github.com/fastygo/journal/usecase"
	checksumUC "github.com/fastygo/journal/usecase/checksum"
	identityUC "github.com/fastygo/journal/usecase/identity"
	journalUC "github.com/fastygo/journal/usecase/journal"
	reconcileUC "github.com/fastygo/journal/usecase/reconcile"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{
		Level:    cfg.Logger.Level,
		Encoding: cfg.Logger.Encoding,
	})
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer zapLogger.Sync()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := lifecycle.New(cfg.Context.ShutdownTimeout, zapLogger)
	manager.Listen(cancel)

	registry := domain.DefaultRegistry()
	if cfg.Journal.SchemaFile != "" {
		if err := registry.LoadFile(cfg.Journal.SchemaFile); err != nil {
			zapLogger.Fatal("schema file rejected", zap.String("path", cfg.Journal.SchemaFile), zap.Error(err))
		}
	}
	zapLogger.Info("journable kinds registered", zap.Strings("kinds", registry.Kinds()))

	retention, err := journalUC.ParseRetentionPolicy(cfg.Journal.RetentionPolicy)
	if err != nil {
		zapLogger.Fatal("invalid retention policy", zap.Error(err))
	}

	if err := pgInfra.RunMigrations(cfg, zapLogger); err != nil {
		zapLogger.Fatal("migrations failed", zap.Error(err))
	}

	pool, err := pgInfra.NewPool(appCtx, cfg.Database, zapLogger)
	if err != nil {
		zapLogger.Fatal("postgres connection failed", zap.Error(err))
	}
	manager.Register("postgres", func(ctx context.Context) error {
		pgInfra.Close(pool, zapLogger)
		return nil
	})

	var (
		redisClient *goRedis.Client
		cache       repository.RepresentationCache
	)
	redisClient, err = redisInfra.NewClient(appCtx, cfg.Redis, zapLogger)
	if err != nil {
		zapLogger.Warn("redis unavailable, representation cache disabled", zap.Error(err))
		redisClient = nil
	} else {
		cache = redisRepo.NewRepresentationCache(redisClient, cfg.Journal.RepresentationTTL)
		manager.RegisterCloser("redis", redisClient)
	}

	outbox, err := buffer.Open(cfg.Buffer.Path, "outbox", cfg.Buffer.MaxSize)
	if err != nil {
		zapLogger.Fatal("failed to open outbox", zap.Error(err))
	}
	manager.RegisterCloser("outbox", outbox)

	var (
		producer *kafka.Producer
		broker   monitor.Pinger
	)
	if cfg.Kafka.Enabled {
		producer, err = kafka.NewProducer(cfg.Kafka, zapLogger)
		if err != nil {
			zapLogger.Fatal("kafka producer setup failed", zap.Error(err))
		}
		broker = producer
		manager.RegisterCloser("kafka_producer", producer)
	}

	mon := monitor.New(pool, redisClient, broker, outbox, 10*time.Second, zapLogger)
	mon.Start()
	manager.Register("monitor", func(ctx context.Context) error {
		mon.Stop()
		return nil
	})

	tx := postgres.NewTransactor(pool, zapLogger)
	journalRepo := postgres.NewJournalRepository(pool, registry)
	stateReader := postgres.NewStateReader(pool)

	var publisher usecase.EventPublisher
	if producer != nil {
		processor := services.NewOutboxProcessor(outbox, mon, producer, zapLogger, services.ProcessorConfig{
			Interval:   cfg.Buffer.SyncInterval,
			BatchSize:  50,
			MaxRetries: cfg.Buffer.MaxRetry,
			Retention:  time.Duration(cfg.Buffer.RetentionHours) * time.Hour,
		})
		processor.Start()
		manager.Register("outbox_processor", func(ctx context.Context) error {
			processor.Stop(ctx)
			return nil
		})
		publisher = services.NewOutboxBridge(processor)
	}

	journalStore := journalUC.NewStore(journalRepo, tx, registry, zapLogger, journalUC.StoreConfig{
		RetryBackoff:     cfg.Journal.AppendRetryBackoff,
		TombstoneActorID: cfg.Journal.TombstoneActorID,
	})
	changeManager := journalUC.NewManager(journalStore, publisher, zapLogger, retention).WithStateReader(stateReader)
	reconciler := reconcileUC.NewService(journalRepo, tx, stateReader, registry, zapLogger, cfg.Journal.TombstoneActorID)
	rewriter := identityUC.NewRewriter(journalRepo, tx, cfg.Journal.TombstoneActorID, zapLogger)
	checksums := checksumUC.NewService(postgres.NewChecksumRepository(pool), journalRepo, registry, zapLogger)

	if cfg.Kafka.Enabled {
		consumer, err := kafka.NewConsumer(cfg.Kafka, rewriter, zapLogger)
		if err != nil {
			zapLogger.Fatal("kafka consumer setup failed", zap.Error(err))
		}
		consumer.Start(appCtx)
		manager.Register("kafka_consumer", func(ctx context.Context) error {
			return consumer.Stop()
		})
	}

	ctxAdapter := httpcontext.NewAdapter(cfg.Context.RequestTimeout)

	handlers := router.Handlers{
		Journal:  apiHandler.NewJournalHandler(journalStore, checksums, cache, cfg.Journal.RepresentationTTL, ctxAdapter, zapLogger),
		Record:   apiHandler.NewRecordHandler(changeManager, cfg.Journal.SendNotifications, ctxAdapter, zapLogger),
		Checksum: apiHandler.NewChecksumHandler(checksums, ctxAdapter, zapLogger),
		Admin:    apiHandler.NewAdminHandler(reconciler, rewriter, cache, cfg.Journal.TombstoneActorID, ctxAdapter, zapLogger),
		Health:   apiHandler.NewHealthHandler(mon, ctxAdapter, zapLogger),
	}

	authMiddleware := middleware.JWTAuth(cfg.JWT.Secret, cfg.JWT.Issuer, zapLogger)
	var metricsHandler fasthttp.RequestHandler
	if cfg.HTTP.EnableMetrics {
		metricsHandler = metrics.Handler()
	}
	r := router.New(handlers, authMiddleware, metricsHandler)

	server := &fasthttp.Server{
		Handler:      r.Handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		Concurrency:  cfg.HTTP.MaxConn,
		Name:         cfg.AppName,
	}

	go func() {
		zapLogger.Info("server started", zap.String("address", cfg.Address()))
		if err := server.ListenAndServe(cfg.Address()); err != nil {
			zapLogger.Fatal("server crashed", zap.Error(err))
		}
	}()

	manager.Register("http_server", func(ctx context.Context) error {
		return server.ShutdownWithContext(ctx)
	})

	<-appCtx.Done()

	if err := manager.Shutdown(context.Background()); err != nil {
		zapLogger.Error("graceful shutdown error", zap.Error(err))
	}
}
