package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"academyjudge/internal/common/cache"
	"academyjudge/internal/common/db"
	commonmw "academyjudge/internal/common/http/middleware"
	"academyjudge/internal/common/mq"
	"academyjudge/internal/common/storage"
	"academyjudge/internal/grader/archive"
	"academyjudge/internal/grader/controller"
	"academyjudge/internal/grader/event"
	"academyjudge/internal/grader/language"
	"academyjudge/internal/grader/observer"
	"academyjudge/internal/grader/repository"
	"academyjudge/internal/grader/service"
	"academyjudge/internal/grader/supervisor"
	"academyjudge/internal/grader/worker"
	"academyjudge/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultConfigPath = "configs/grader_service.yaml"
	defaultEnvFile    = ".env"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	envFile := flag.String("env", defaultEnvFile, "Path to optional .env file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "grader service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()
	gin.SetMode(gin.ReleaseMode)

	sqlDB, err := db.Open(ctx, appCfg.Database.Config)
	if err != nil {
		return fmt.Errorf("init database failed: %w", err)
	}
	defer func() {
		_ = sqlDB.Close()
	}()
	if appCfg.Database.AutoMigrate {
		if err := repository.EnsureSchema(ctx, sqlDB, appCfg.Database.Driver); err != nil {
			return err
		}
	}

	healthChecks := map[string]controller.HealthCheck{
		"database": sqlDB.PingContext,
	}

	var testCases repository.TestCaseRepository = repository.NewTestCaseRepository(sqlDB)
	var rateLimit gin.HandlerFunc
	if appCfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
		if err != nil {
			return fmt.Errorf("init redis failed: %w", err)
		}
		defer func() {
			_ = redisCache.Close()
		}()
		healthChecks["redis"] = redisCache.Ping
		testCases = repository.NewCachedTestCaseRepository(testCases, redisCache, appCfg.Cache.TestCaseTTL, appCfg.Cache.TestCaseEmptyTTL)
		limiter := commonmw.NewRateLimiter(redisCache, appCfg.RateLimit.Window, 0)
		rateLimit = commonmw.RateLimitMiddleware(limiter, appCfg.RateLimit)
	} else {
		logger.Warn(ctx, "redis not configured; test case cache and rate limiting disabled")
	}

	registry := language.DefaultRegistry()
	if len(appCfg.Languages) > 0 {
		registry, err = language.FromSpecs(appCfg.Languages)
		if err != nil {
			return fmt.Errorf("load languages failed: %w", err)
		}
	}
	metrics := observer.LogMetricsRecorder{}
	sup := supervisor.New(registry, appCfg.Supervisor.toSupervisorConfig(), supervisor.WithMetrics(metrics))

	var publisher event.Publisher = event.NoopPublisher{}
	var mqClient *mq.KafkaQueue
	if len(appCfg.Kafka.Brokers) > 0 {
		mqClient, err = mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
		if err != nil {
			return fmt.Errorf("init kafka failed: %w", err)
		}
		defer func() {
			_ = mqClient.Close()
		}()
		healthChecks["kafka"] = mqClient.Ping
		publisher = event.NewMQPublisher(mqClient, appCfg.Events.Topic)
	}

	var submissionArchive service.Archive
	if appCfg.Archive.Enabled {
		objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			return fmt.Errorf("init minio failed: %w", err)
		}
		if err := objStorage.EnsureBucket(ctx, appCfg.Archive.Bucket); err != nil {
			logger.Warn(ctx, "ensure archive bucket failed", zap.String("bucket", appCfg.Archive.Bucket), zap.Error(err))
		}
		submissionArchive = archive.NewArchiver(objStorage, appCfg.Archive.Bucket)
	}

	graderService := service.NewGraderService(service.Config{
		Executor:    sup,
		TestCases:   testCases,
		Questions:   repository.NewQuestionRepository(sqlDB),
		Publisher:   publisher,
		Archive:     submissionArchive,
		Metrics:     metrics,
		Parallelism: appCfg.Evaluator.Parallelism,
	})

	if appCfg.Worker.Enabled {
		if mqClient == nil {
			return errors.New("worker requires kafka brokers")
		}
		consumer := worker.NewConsumer(mqClient, graderService, appCfg.Worker.toWorkerOptions())
		if err := consumer.Subscribe(ctx); err != nil {
			return fmt.Errorf("subscribe grade requests failed: %w", err)
		}
		if err := mqClient.Start(); err != nil {
			return fmt.Errorf("start kafka consumer failed: %w", err)
		}
		defer func() {
			_ = mqClient.Stop()
		}()
	}

	httpServer := buildHTTPServer(appCfg.Server, controller.RouterConfig{
		Grader:       graderService,
		HealthChecks: healthChecks,
		RateLimit:    rateLimit,
		CORSOrigins:  appCfg.Server.CORSOrigins,
	})
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "grader http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.Strings("languages", sup.Languages()),
			zap.Duration("exec_timeout", sup.Timeout()),
		)
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server stopped: %w", err)
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	return nil
}

func buildHTTPServer(cfg ServerConfig, routes controller.RouterConfig) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      controller.NewRouter(routes),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
