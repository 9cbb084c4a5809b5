package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/audio-processing-be/internal/api/handler"
	"github.com/cuongbtq/audio-processing-be/internal/api/router"
	"github.com/cuongbtq/audio-processing-be/internal/backend"
	"github.com/cuongbtq/audio-processing-be/internal/config"
	"github.com/cuongbtq/audio-processing-be/internal/jobstore"
	"github.com/cuongbtq/audio-processing-be/internal/progress"
	"github.com/cuongbtq/audio-processing-be/internal/queue"
	"github.com/cuongbtq/audio-processing-be/internal/scheduler"
	"github.com/cuongbtq/audio-processing-be/internal/worker"
	"github.com/cuongbtq/audio-processing-be/shared/logger"
	"github.com/cuongbtq/audio-processing-be/shared/postgresql"
	"github.com/cuongbtq/audio-processing-be/shared/rabbitmq"
	"github.com/cuongbtq/audio-processing-be/shared/redis"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("PROCESSING_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/processing-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting processing service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client and job store
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	store := jobstore.NewPostgresStore(dbClient, appLogger.Logger)

	// Initialize dispatch queue
	var (
		dispatchQueue queue.Queue
		rabbitClient  *rabbitmq.Client
	)
	switch cfg.Queue.Driver {
	case config.QueueDriverRabbitMQ:
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		appLogger.Info("RabbitMQ connection established")
		dispatchQueue = queue.NewRabbitQueue(rabbitClient, appLogger.Logger)
	default:
		dispatchQueue = queue.NewMemoryQueue()
	}

	// Initialize progress cache
	var (
		cache       progress.Cache
		redisClient *redis.Client
	)
	switch cfg.ProgressCache.Driver {
	case config.CacheDriverRedis:
		redisClient, err = initRedis(&cfg.Redis, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize Redis: %w", err)
		}
		defer redisClient.Close()

		appLogger.Info("Redis connection established")
		cache = progress.NewRedisCache(redisClient, cfg.ProgressCache.TTL)
	default:
		cache = progress.NewMemoryCache(cfg.ProgressCache.TTL)
	}

	registry := progress.NewSubscriptionRegistry(appLogger.Logger)
	bus := progress.NewBus(cache, registry, appLogger.Logger)

	// Initialize scheduler
	manager := scheduler.NewManager(&scheduler.Config{
		Logger:       appLogger.Logger,
		Store:        store,
		Queue:        dispatchQueue,
		Bus:          bus,
		MaxRetries:   cfg.Scheduler.MaxRetries,
		EnqueueRate:  cfg.Scheduler.EnqueueRate,
		EnqueueBurst: cfg.Scheduler.EnqueueBurst,
	})

	// Initialize worker pool
	backends := backend.NewLocalRegistry(cfg.Worker.StepDuration, appLogger.Logger)
	pool := worker.NewPool(&worker.Config{
		Logger:      appLogger.Logger,
		Store:       store,
		Queue:       dispatchQueue,
		Bus:         bus,
		Backends:    backends,
		Readmitter:  manager,
		Concurrency: cfg.Worker.Concurrency,
		SoftTimeout: cfg.Worker.SoftTimeout,
		HardTimeout: cfg.Worker.HardTimeout,
	})
	manager.AttachPool(pool)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Re-admit or fail jobs left mid-flight by a previous run
	if err := manager.Recover(rootCtx); err != nil {
		appLogger.Warn("Queue recovery incomplete", slog.Any("error", err))
	}

	pool.Start(rootCtx)

	appLogger.Info("Worker pool started",
		slog.Int("concurrency", cfg.Worker.Concurrency),
		slog.String("queue_driver", cfg.Queue.Driver),
		slog.String("progress_cache_driver", cfg.ProgressCache.Driver),
	)

	// Initialize router
	r := initRouter(cfg.App.Environment, appLogger.Logger, manager, store, bus)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("Processing service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
	}

	// Interrupt in-flight jobs, then wait for workers to exit. Interrupted
	// jobs keep their queue entries and are re-admitted on the next start.
	rootCancel()
	pool.Stop()

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRedis initializes the Redis client
func initRedis(cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	redisConfig := &redis.Config{
		Host:         cfg.Host,
		Port:         cfg.Port,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}

	return redis.NewClient(redisConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, logger *slog.Logger, manager *scheduler.Manager, store jobstore.Store, bus *progress.Bus) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize handler dependencies
	handlerDeps := &handler.Dependencies{
		Logger:    logger,
		Scheduler: manager,
		Store:     store,
		Bus:       bus,
	}

	// Setup router
	return router.SetupRouter(handlerDeps)
}
