package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Kilat-Pet-Delivery/service-coupon/internal/application"
	"github.com/Kilat-Pet-Delivery/service-coupon/internal/cache"
	"github.com/Kilat-Pet-Delivery/service-coupon/internal/config"
	couponDomain "github.com/Kilat-Pet-Delivery/service-coupon/internal/domain/coupon"
	couponEvents "github.com/Kilat-Pet-Delivery/service-coupon/internal/events"
	"github.com/Kilat-Pet-Delivery/service-coupon/internal/handler"
	"github.com/Kilat-Pet-Delivery/service-coupon/internal/metrics"
	"github.com/Kilat-Pet-Delivery/service-coupon/internal/repository"
	"github.com/Kilat-Pet-Delivery/service-coupon/internal/tracing"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/auth"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/database"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/health"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/kafka"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/logger"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const serviceName = "service-coupon"

type historyStore interface {
	couponDomain.OrderHistory
	couponEvents.OrderHistoryRecorder
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Initialize logger
	zapLogger, err := logger.NewNamed(cfg.AppEnv, serviceName)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("starting service-coupon",
		zap.String("port", cfg.Port),
		zap.String("storage", cfg.StorageDriver),
	)

	shutdownTracing, err := tracing.InitTracerProvider(serviceName, cfg.JaegerEndpoint, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to initialize tracing", zap.Error(err))
	}

	// Storage
	var (
		db      *gorm.DB
		repo    couponDomain.Repository
		history historyStore
	)
	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		repo = repository.NewMemoryCouponRepository()
		history = repository.NewMemoryOrderHistory()
		zapLogger.Warn("using in-memory storage, data is not persisted")
	default:
		db = connectPostgres(cfg, zapLogger)
		repo = repository.NewGormCouponRepository(db)
		history = repository.NewGormOrderHistoryRepository(db)
	}

	// Evaluate cache
	var couponCache application.CouponCache
	if cfg.RedisConfig.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Addr,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		defer redisClient.Close()

		c := cache.NewCouponCache(redisClient, cfg.RedisConfig.TTL, zapLogger)
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := c.Ping(pingCtx); err != nil {
			zapLogger.Warn("redis unavailable, evaluate will fall back to the store", zap.Error(err))
		}
		cancel()
		couponCache = c
	}

	// Initialize JWT manager
	jwtManager := auth.NewJWTManager(cfg.JWTConfig.Secret, 15*time.Minute)

	// Initialize Kafka producer
	kafkaProducer := kafka.NewProducer(cfg.KafkaConfig.Brokers, zapLogger)
	defer kafkaProducer.Close()
	publisher := couponEvents.NewCouponEventPublisher(kafkaProducer)

	m := metrics.New(prometheus.DefaultRegisterer)

	// Initialize application services
	evaluator := couponDomain.NewEvaluator(history)
	couponService := application.NewCouponService(repo, evaluator, couponCache, publisher, m, cfg.RedeemTimeout, zapLogger)
	referralService := application.NewReferralService(repo, publisher, cfg.ReferralPolicy, m, zapLogger)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RecoveryMiddleware(zapLogger))
	router.Use(middleware.LoggerMiddleware(zapLogger))
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())

	health.NewHandler(db, serviceName).RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiV1 := router.Group("/api/v1")
	handler.NewCouponHandler(couponService).RegisterRoutes(apiV1, jwtManager)
	handler.NewReferralHandler(referralService).RegisterRoutes(apiV1, jwtManager)
	handler.NewAdminCouponHandler(couponService).RegisterRoutes(apiV1, jwtManager)

	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zapLogger.Info("HTTP server starting", zap.String("addr", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.ConsumeBookings && len(cfg.KafkaConfig.Brokers) > 0 {
		bookingConsumer := couponEvents.NewBookingEventConsumer(
			cfg.KafkaConfig.Brokers,
			cfg.KafkaConfig.GroupPrefix+"coupon-service",
			couponService,
			history,
			zapLogger,
		)
		defer bookingConsumer.Close()

		g.Go(func() error {
			zapLogger.Info("starting booking event consumer")
			if err := bookingConsumer.Start(gctx); err != nil && gctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		zapLogger.Info("shutting down service-coupon...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zapLogger.Error("server forced to shutdown", zap.Error(err))
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			zapLogger.Warn("failed to flush traces", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		zapLogger.Error("service-coupon exited with error", zap.Error(err))
		os.Exit(1)
	}
	zapLogger.Info("service-coupon stopped")
}

func connectPostgres(cfg *config.ServiceConfig, zapLogger *zap.Logger) *gorm.DB {
	dbConfig := database.PostgresConfig{
		Host:     cfg.DBConfig.Host,
		Port:     cfg.DBConfig.Port,
		User:     cfg.DBConfig.User,
		Password: cfg.DBConfig.Password,
		DBName:   cfg.DBConfig.DBName,
		SSLMode:  cfg.DBConfig.SSLMode,
	}

	db, err := database.Connect(dbConfig, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	if cfg.AppEnv == "development" {
		if err := repository.AutoMigrate(db); err != nil {
			zapLogger.Fatal("failed to auto-migrate", zap.Error(err))
		}
		zapLogger.Info("database migration completed (dev auto-migrate)")
		return db
	}

	if err := database.RunMigrations(dbConfig.DatabaseURL(), cfg.MigrationsDir, zapLogger); err != nil {
		zapLogger.Fatal("failed to run migrations", zap.Error(err))
	}
	return db
}
