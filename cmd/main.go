/**
 * @description
 * This is the main entry point for the payment service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, the Solana RPC client, message broker, repository, the core
 * application service, and the HTTP server. It wires everything together and
 * starts the service.
 *
 * The database is required: without it the replay guard cannot hold and a
 * signature could be redeemed more than once. Redis and RabbitMQ are optional;
 * the service degrades to unthrottled verification and log-only events.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client for rate limiting.
 * - go.uber.org/zap: Structured logging.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages.
 * - pkg/rabbitmq, pkg/solanaclient: Clients for external services.
 */

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/SimpleFlex/boost-era-payments/internal/api"
	"github.com/SimpleFlex/boost-era-payments/internal/app"
	"github.com/SimpleFlex/boost-era-payments/internal/config"
	"github.com/SimpleFlex/boost-era-payments/internal/metrics"
	"github.com/SimpleFlex/boost-era-payments/internal/store"
	"github.com/SimpleFlex/boost-era-payments/pkg/rabbitmq"
	"github.com/SimpleFlex/boost-era-payments/pkg/solanaclient"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	if strings.TrimSpace(cfg.MerchantWallet) == "" {
		logger.Fatal("merchant wallet must be configured", zap.String("env", "MERCHANT_WALLET"))
	}
	merchant, err := solana.PublicKeyFromBase58(cfg.MerchantWallet)
	if err != nil {
		logger.Fatal("merchant wallet is not a valid Solana address", zap.Error(err))
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Fatal("database url must be configured", zap.String("env", "DATABASE_URL"))
	}

	logger.Info("starting payment service",
		zap.String("port", cfg.ServerPort),
		zap.String("rpc_url", cfg.SolanaRPCURL),
		zap.String("merchant", merchant.String()),
	)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database url parse failed", zap.Error(err))
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer dbpool.Close()
	logger.Info("database connected")

	// Initialize the RabbitMQ producer to publish acceptance events. A broker
	// outage must not block payment verification, so failures fall back to a
	// log-only publisher.
	var eventProducer rabbitmq.Publisher
	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warn("rabbitmq producer unavailable; events will be logged only", zap.Error(err))
		eventProducer = rabbitmq.NewFallbackPublisher(logger)
	} else {
		defer producer.Close()
		eventProducer = producer
		logger.Info("rabbitmq producer connected")
	}

	// Redis backs the verify rate limiter. Missing or unreachable Redis
	// disables throttling rather than failing boot.
	var redisClient *redis.Client
	if cfg.VerifyRateLimitPerMinute > 0 {
		if cfg.RedisURL == "" {
			logger.Warn("redis url missing; verify rate limiting disabled", zap.String("env", "REDIS_URL"))
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				logger.Warn("redis url parse failed; verify rate limiting disabled", zap.Error(parseErr))
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					logger.Warn("redis ping failed; verify rate limiting disabled", zap.Error(pingErr))
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					logger.Info("redis connected")
				}
			}
		}
	}

	chain := solanaclient.New(cfg.SolanaRPCURL)
	repository := store.NewPostgresRepository(dbpool)
	recorder := metrics.NewPrometheusRecorder()

	paymentService := app.NewService(
		chain,
		repository,
		eventProducer,
		cfg.PaymentEventExchange,
		recorder,
		logger,
		merchant,
	)
	if redisClient != nil {
		paymentService.SetVerifyRateLimiter(
			app.NewRedisVerifyRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			cfg.VerifyRateLimitPerMinute,
		)
	}

	handlers := api.NewPaymentHandlers(paymentService, logger)
	router := api.NewRouter(handlers)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server stopped unexpectedly", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
}

func newLogger(level string) *zap.Logger {
	var lvl zapcore.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
