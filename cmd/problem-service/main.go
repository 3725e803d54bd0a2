package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"solveq/internal/common/auth"
	"solveq/internal/common/cache"
	"solveq/internal/common/db"
	commonmw "solveq/internal/common/http/middleware"
	"solveq/internal/common/metrics"
	"solveq/internal/common/mq"
	"solveq/internal/common/storage"
	"solveq/internal/problem/controller"
	"solveq/internal/problem/repository"
	"solveq/internal/problem/service"
	userrepo "solveq/internal/user/repository"
	userservice "solveq/internal/user/service"
	"solveq/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultConfigPath = "configs/problem_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
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
		logger.Error(context.Background(), "problem service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	database, err := db.Open(ctx, appCfg.Database)
	if err != nil {
		return fmt.Errorf("init database failed: %w", err)
	}
	defer func() {
		_ = database.Close()
	}()

	// Redis is optional: without it the projection and model cache are local only.
	var (
		modelCache cache.BasicOps
		blockSets  cache.SetOps
	)
	if appCfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCache(ctx, appCfg.Redis)
		if err != nil {
			return fmt.Errorf("init redis failed: %w", err)
		}
		defer func() {
			_ = redisCache.Close()
		}()
		modelCache = redisCache
		blockSets = redisCache
	} else {
		logger.Warn(ctx, "redis not configured, block projection is process local")
	}

	payloads, err := openPayloadStore(ctx, appCfg)
	if err != nil {
		return err
	}

	bus, err := openBus(appCfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = bus.Close()
	}()

	collector := metrics.NewCollector("problem-service")
	users := userrepo.NewUserRepository(database)
	blockCache := userrepo.NewBlockCacheRepository(
		cache.NewLRUCache(appCfg.Projection.LocalSize, appCfg.Projection.LocalTTL),
		blockSets,
		appCfg.Projection.LocalTTL,
		appCfg.Projection.RedisTimeout,
	)
	projection := userservice.NewBlockProjection(blockCache, users)

	problemService := service.NewProblemService(service.Dependencies{
		DB:                database,
		Problems:          repository.NewProblemRepository(database),
		Inputs:            repository.NewInputRepository(database),
		Results:           repository.NewResultRepository(database),
		Models:            repository.NewModelRepositoryWithTTL(database, modelCache, appCfg.ModelCache.TTL, appCfg.ModelCache.EmptyTTL),
		Users:             users,
		BlockWriter:       userservice.NewBlockService(users, projection, bus, appCfg.Topics.BlockUser),
		BlockReader:       projection,
		Payloads:          payloads,
		Producer:          bus,
		Metrics:           collector,
		Topics:            appCfg.Topics,
		EmptyResultPolicy: appCfg.emptyResultPolicy,
	})

	if err := service.NewSolverConsumer(bus, problemService, appCfg.Bus.ConsumerGroup, appCfg.Bus.HandlerTimeout).Subscribe(ctx); err != nil {
		return fmt.Errorf("subscribe solver topics failed: %w", err)
	}
	// Every instance keeps its own projection, so each one needs its own group.
	projectionGroup := appCfg.Bus.ConsumerGroup + "-block-" + hostname()
	if err := userservice.NewBlockEventConsumer(bus, projection).Subscribe(ctx, appCfg.Topics.BlockUser, projectionGroup); err != nil {
		return fmt.Errorf("subscribe block-user failed: %w", err)
	}
	if err := bus.Start(); err != nil {
		return fmt.Errorf("start message consumers failed: %w", err)
	}

	verifier := auth.NewVerifier(appCfg.Auth)
	httpServer := buildHTTPServer(appCfg.Server, verifier, problemService, collector, database, bus)

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(shutdownCtx)
	group.Go(func() error {
		logger.Info(ctx, "problem http server started", zap.String("addr", appCfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info(ctx, "shutting down problem service")
		shutdown, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdown); err != nil {
			logger.Error(ctx, "http server shutdown failed", zap.Error(err))
		}
		return bus.Stop()
	})
	return group.Wait()
}

func openBus(appCfg *AppConfig) (mq.MessageQueue, error) {
	if appCfg.Bus.Driver == busMemory {
		logger.Warn(context.Background(), "using in-process message bus, solver messages will not arrive")
		return mq.NewMemoryQueue(), nil
	}
	queue, err := mq.NewKafkaQueue(appCfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("init kafka failed: %w", err)
	}
	return queue, nil
}

func openPayloadStore(ctx context.Context, appCfg *AppConfig) (*storage.CompressedStore, error) {
	if appCfg.MinIO.Endpoint == "" {
		logger.Warn(ctx, "minio not configured, result payloads are kept in memory")
		return storage.NewCompressedStore(storage.NewMemoryStorage(), appCfg.MinIO.Bucket), nil
	}
	objects, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		return nil, fmt.Errorf("init minio failed: %w", err)
	}
	bucketCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := objects.EnsureBucket(bucketCtx, appCfg.MinIO.Bucket, appCfg.MinIO.Region); err != nil {
		return nil, err
	}
	return storage.NewCompressedStore(objects, appCfg.MinIO.Bucket), nil
}

func buildHTTPServer(cfg ServerConfig, verifier *auth.Verifier, problemService *service.ProblemService, collector *metrics.Collector, database db.Database, bus mq.MessageQueue) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	router.GET("/metrics", gin.WrapH(collector.Handler()))
	router.GET("/healthz", healthHandler(database, bus))

	api := router.Group("/api/v1/problems", auth.Middleware(verifier))
	controller.NewProblemController(problemService).RegisterRoutes(api)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func healthHandler(database db.Database, bus mq.MessageQueue) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		status := gin.H{"database": "ok", "bus": "ok"}
		code := http.StatusOK
		if err := database.Ping(ctx); err != nil {
			status["database"] = err.Error()
			code = http.StatusServiceUnavailable
		}
		if err := bus.Ping(ctx); err != nil {
			status["bus"] = err.Error()
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "local"
	}
	return name
}
