package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/videostore/rental-service/internal/api"
	"github.com/videostore/rental-service/internal/config"
	"github.com/videostore/rental-service/internal/creditcheck"
	"github.com/videostore/rental-service/internal/domain"
	"github.com/videostore/rental-service/internal/events"
	"github.com/videostore/rental-service/internal/repository"
	"github.com/videostore/rental-service/internal/scheduler"
	"github.com/videostore/rental-service/internal/security"
	"github.com/videostore/rental-service/internal/service"
	"github.com/videostore/rental-service/internal/tracing"
)

func main() {
	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		bootLogger, _ := zap.NewProduction()
		bootLogger.Fatal("Failed to load config", zap.Error(err))
	}

	// 2. Initialize Logger
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 3. Tracing
	_, shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, logger)
	if err != nil {
		logger.Fatal("Failed to set up tracing", zap.Error(err))
	}

	// 4. Setup Database
	var cipher repository.FieldCipher
	if cfg.Encryption.EncryptionKeysBase64 != "" {
		enc, err := security.NewFieldEncryptor(cfg.Encryption)
		if err != nil {
			logger.Fatal("Failed to set up encryption", zap.Error(err))
		}
		cipher = enc
	} else {
		logger.Warn("No encryption keys configured, customer names stored in plaintext")
	}

	repo, err := repository.NewPostgresRepository(ctx, cfg.Database, cipher)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer repo.Close()

	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Fatal("Failed to create schema", zap.Error(err))
	}

	// 5. Setup Credit Check
	redisClient, err := creditcheck.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	denylist := creditcheck.NewRedisDenylist(
		redisClient,
		cfg.Redis.DenylistKey,
		cfg.Resilience.CreditCheckTimeout,
		newBreaker("credit-check", cfg.Resilience, logger),
		logger,
	)

	// 6. Setup Kafka Producer
	topics := events.TopicConfig{
		OverdueNoticeTopic:  cfg.Kafka.OverdueNoticeTopic,
		RentalReturnedTopic: cfg.Kafka.RentalReturnedTopic,
	}
	producer, err := events.NewProducer(events.ProducerConfig{
		Brokers:          cfg.Kafka.Brokers,
		TopicConfig:      topics,
		BufferSize:       100,
		RequireAcks:      -1, // WaitForAll
		EnableIdempotent: cfg.Kafka.EnableIdempotent,
		MaxRetries:       cfg.Kafka.MaxRetries,
		RetryBackoff:     100 * time.Millisecond,
	}, newBreaker("kafka-producer", cfg.Resilience, logger), logger)
	if err != nil {
		logger.Fatal("Failed to create producer", zap.Error(err))
	}
	defer producer.Close()

	// 7. Setup Service
	restDay, _ := cfg.Rental.RestWeekday()
	loc, err := cfg.Rental.Location()
	if err != nil {
		logger.Fatal("Invalid rental timezone", zap.Error(err))
	}
	clock := service.NewSystemClock(loc)

	svc := service.NewRentalService(repo, denylist, producer, logger,
		service.WithClock(clock),
		service.WithRestDay(restDay),
		service.WithPricing(domain.NewTieredPricing(cfg.Rental.Multipliers())),
	)

	// 8. Setup Kafka Consumer for the returns feed
	consumer, err := events.NewConsumer(events.ConsumerConfig{
		Brokers:       cfg.Kafka.Brokers,
		GroupID:       cfg.Kafka.ConsumerGroupID,
		Topics:        []string{cfg.Kafka.RentalReturnedTopic},
		InitialOffset: sarama.OffsetOldest,
	}, repo, newBreaker("kafka-consumer", cfg.Resilience, logger), logger)
	if err != nil {
		logger.Fatal("Failed to create consumer", zap.Error(err))
	}
	go func() {
		if err := consumer.Start(); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Consumer stopped", zap.Error(err))
		}
	}()

	// 9. Setup Scheduler
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(scheduler.Config{
			NotifyOverdue: cfg.Scheduler.NotifyOverdue,
			RetryEvents:   cfg.Scheduler.RetryEvents,
			JobTimeout:    cfg.Scheduler.JobTimeout,
			Location:      loc,
		}, svc, producer, logger)
		if err != nil {
			logger.Fatal("Failed to create scheduler", zap.Error(err))
		}
		sched.Start()
	}

	// 10. Setup HTTP Server
	handler := api.NewHandler(svc, denylist, producer, logger, api.WithClock(clock))

	var authMiddleware []echo.MiddlewareFunc
	if cfg.Auth.Enabled {
		key, err := api.LoadPublicKey(cfg.Auth.JWTPublicKeyPath)
		if err != nil {
			logger.Fatal("Failed to load JWT key", zap.Error(err))
		}
		authMiddleware = append(authMiddleware, api.JWTAuth(key, cfg.Auth.Issuer))
	}

	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
			)
			return nil
		},
	}))

	api.RegisterRoutes(e, handler, authMiddleware...)

	// 11. Start Server (Graceful Shutdown)
	go func() {
		if err := e.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Shutting down the server", zap.Error(err))
		}
	}()
	logger.Info("Server started", zap.String("addr", cfg.Server.Addr()))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if sched != nil {
		<-sched.Stop().Done()
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := consumer.Stop(); err != nil {
		logger.Error("Failed to stop consumer", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("Failed to flush traces", zap.Error(err))
	}

	logger.Info("Server exiting")
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func newBreaker(name string, cfg config.ResilienceConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.CircuitBreakerMaxRequests,
		Interval:    cfg.CircuitBreakerInterval,
		Timeout:     cfg.CircuitBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && ratio >= cfg.CircuitBreakerFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}
