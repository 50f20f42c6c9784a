package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/duynhne/registration-service/config"
	database "github.com/duynhne/registration-service/internal/core"
	"github.com/duynhne/registration-service/internal/core/cache"
	"github.com/duynhne/registration-service/internal/core/domain"
	"github.com/duynhne/registration-service/internal/core/events"
	"github.com/duynhne/registration-service/internal/core/repository/memory"
	"github.com/duynhne/registration-service/internal/core/repository/psql"
	"github.com/duynhne/registration-service/internal/core/validation"
	logicv1 "github.com/duynhne/registration-service/internal/logic/v1"
	webv1 "github.com/duynhne/registration-service/internal/web/v1"
	"github.com/duynhne/registration-service/middleware"
)

func main() {
	// Load configuration from environment variables (with .env file support for local dev)
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		panic("Configuration validation failed: " + err.Error())
	}

	logger, err := middleware.NewLogger(cfg.Logging)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	logger.Info("Service starting",
		zap.String("service", cfg.Service.Name),
		zap.String("version", cfg.Service.Version),
		zap.String("env", cfg.Service.Env),
		zap.String("port", cfg.Service.Port),
	)

	// Initialize OpenTelemetry tracing
	if cfg.Tracing.Enabled {
		if _, err := middleware.InitTracing(cfg); err != nil {
			logger.Warn("Failed to initialize tracing", zap.Error(err))
		} else {
			logger.Info("Tracing initialized",
				zap.String("endpoint", cfg.Tracing.Endpoint),
				zap.Float64("sample_rate", cfg.Tracing.SampleRate),
			)
		}
	} else {
		logger.Info("Tracing disabled (TRACING_ENABLED=false)")
	}

	// Initialize Pyroscope profiling
	if cfg.Profiling.Enabled {
		if err := middleware.InitProfiling(cfg.Profiling); err != nil {
			logger.Warn("Failed to initialize profiling", zap.Error(err))
		} else {
			logger.Info("Profiling initialized", zap.String("endpoint", cfg.Profiling.Endpoint))
			defer middleware.StopProfiling()
		}
	} else {
		logger.Info("Profiling disabled (PROFILING_ENABLED=false)")
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	// Storage: PostgreSQL when DB_HOST is set, in-memory otherwise (local development)
	var (
		pool *pgxpool.Pool
		repo domain.CustomerRepository
	)
	if cfg.Database.Host != "" {
		pool, err = database.Connect(startupCtx, cfg.Database)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		if err := database.EnsureSchema(startupCtx, pool); err != nil {
			logger.Fatal("Failed to prepare database schema", zap.Error(err))
		}
		repo = psql.NewCustomerRepository(pool)
		logger.Info("Database connection pool established")
	} else {
		repo = memory.NewCustomerRepository()
		logger.Warn("DB_HOST not set, using in-memory customer storage")
	}

	// Lookup cache (optional)
	var lookupCache domain.LookupCache
	redisClient, err := cache.NewClient(startupCtx, cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, lookup cache disabled", zap.Error(err))
	} else if redisClient != nil {
		lookupCache = cache.NewLookupCache(redisClient, cfg.Redis.TTL)
		logger.Info("Lookup cache enabled", zap.Duration("ttl", cfg.Redis.TTL))
	}

	// Registration events (optional)
	var publisher domain.EventPublisher = events.NopPublisher{}
	var rabbit *events.Publisher
	if cfg.Events.RabbitMQURL != "" {
		rabbit, err = events.NewPublisher(cfg.Events, logger)
		if err != nil {
			logger.Warn("RabbitMQ unavailable, registration events disabled", zap.Error(err))
		} else {
			publisher = rabbit
			logger.Info("Registration events enabled", zap.String("exchange", cfg.Events.Exchange))
		}
	}

	rules := validation.New()
	directory := logicv1.NewDirectory(repo, lookupCache, logger, cfg.Registration.PhoneLookupTimeout)
	service := logicv1.NewRegistrationService(rules, repo, directory, publisher, logger,
		logicv1.WithBcryptCost(cfg.Registration.BcryptCost),
		logicv1.WithSubmitTimeout(cfg.Registration.SubmitTimeout),
	)
	sessions := logicv1.NewSessionStore(directory, service,
		cfg.Registration.PhoneLookupTimeout, cfg.Registration.SessionIdleTTL, logger)

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	var sweeper sync.WaitGroup
	sweeper.Go(func() { sessions.Run(sweepCtx) })

	r := gin.New()
	r.Use(gin.Recovery())

	var isShuttingDown atomic.Bool

	// Tracing middleware (must be first for context propagation)
	r.Use(middleware.TracingMiddleware())

	// Logging middleware (must be before Prometheus middleware)
	r.Use(middleware.LoggingMiddleware(logger))

	r.Use(middleware.PrometheusMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Returns 503 once shutdown has started, to drain traffic before HTTP shutdown.
	r.GET("/ready", func(c *gin.Context) {
		if isShuttingDown.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "shutting_down"})
			return
		}
		if pool != nil {
			if err := pool.Ping(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database_unavailable"})
				return
			}
		}
		// A lost broker is reported but does not fail readiness.
		if rabbit != nil && !rabbit.Ready() {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "events": "reconnecting"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	apiV1 := r.Group("/api/v1")
	webv1.NewCustomerHandler(service, directory, rules).RegisterRoutes(apiV1)
	webv1.NewSessionHandler(sessions).RegisterRoutes(apiV1)

	srv := &http.Server{
		Addr:              ":" + cfg.Service.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting registration service", zap.String("port", cfg.Service.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	// Fail readiness first and wait for propagation.
	isShuttingDown.Store(true)
	if drainDelay := cfg.GetReadinessDrainDelayDuration(); drainDelay > 0 {
		logger.Info("Readiness drain delay started", zap.Duration("delay", drainDelay))
		time.Sleep(drainDelay)
	}

	shutdownTimeout := cfg.GetShutdownTimeoutDuration()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("Shutting down server...", zap.Duration("timeout", shutdownTimeout))

	// Cleanup order: form sessions → HTTP server → broker → cache → database → tracer.
	// Closing sessions first ends open event streams so Shutdown does not wait on them.
	stopSweeper()
	sweeper.Wait()
	logger.Info("Form sessions closed")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		logger.Info("HTTP server shutdown complete")
	}

	if rabbit != nil {
		rabbit.Close()
		logger.Info("RabbitMQ publisher closed")
	}

	closeRedis(redisClient, logger)

	if pool != nil {
		pool.Close()
		logger.Info("Database pool closed")
	}

	if err := middleware.Shutdown(shutdownCtx); err != nil {
		logger.Error("Tracer shutdown error", zap.Error(err))
	}

	logger.Info("Graceful shutdown complete")
}

func closeRedis(client *redis.Client, logger *zap.Logger) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		logger.Error("Redis close error", zap.Error(err))
		return
	}
	logger.Info("Redis client closed")
}
