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
	"solveq/internal/credit/controller"
	"solveq/internal/credit/repository"
	"solveq/internal/credit/service"
	userrepo "solveq/internal/user/repository"
	"solveq/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultConfigPath = "configs/credit_service.yaml"

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
		logger.Error(context.Background(), "credit service stopped", zap.Error(err))
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

	redisCache, err := cache.NewRedisCache(ctx, appCfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis failed: %w", err)
	}
	defer func() {
		_ = redisCache.Close()
	}()

	bus, err := mq.NewKafkaQueue(appCfg.Kafka)
	if err != nil {
		return fmt.Errorf("init kafka failed: %w", err)
	}
	defer func() {
		_ = bus.Close()
	}()

	collector := metrics.NewCollector("credit-service")
	creditService := service.NewCreditService(service.Dependencies{
		DB:           database,
		Users:        userrepo.NewUserRepository(database),
		Transactions: repository.NewTransactionRepository(database),
		Dedupe:       repository.NewChargeDedupe(redisCache, appCfg.Consumer.DedupeTTL),
		Producer:     bus,
		Metrics:      collector,
		Topics:       appCfg.Topics,
	})

	consumer := service.NewCreditConsumer(bus, creditService, appCfg.Consumer.Group, appCfg.Consumer.HandlerTimeout)
	if err := consumer.Subscribe(ctx); err != nil {
		return fmt.Errorf("subscribe credit topics failed: %w", err)
	}
	if err := bus.Start(); err != nil {
		return fmt.Errorf("start message consumers failed: %w", err)
	}

	verifier := auth.NewVerifier(appCfg.Auth)
	httpServer := buildHTTPServer(appCfg.Server, verifier, creditService, collector, database)

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(shutdownCtx)
	group.Go(func() error {
		logger.Info(ctx, "credit http server started", zap.String("addr", appCfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info(ctx, "shutting down credit service")
		shutdown, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdown); err != nil {
			logger.Error(ctx, "http server shutdown failed", zap.Error(err))
		}
		return bus.Stop()
	})
	return group.Wait()
}

func buildHTTPServer(cfg ServerConfig, verifier *auth.Verifier, creditService *service.CreditService, collector *metrics.Collector, database db.Database) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	router.GET("/metrics", gin.WrapH(collector.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := database.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"database": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"database": "ok"})
	})

	api := router.Group("/api/v1/credits", auth.Middleware(verifier))
	controller.NewCreditController(creditService).RegisterRoutes(api)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
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
