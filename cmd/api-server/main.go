package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/caremesh/scheduling/internal/api"
	"github.com/caremesh/scheduling/internal/availability"
	"github.com/caremesh/scheduling/internal/booking"
	"github.com/caremesh/scheduling/internal/clock"
	"github.com/caremesh/scheduling/internal/config"
	"github.com/caremesh/scheduling/internal/db"
	"github.com/caremesh/scheduling/internal/logger"
	"github.com/caremesh/scheduling/internal/notify"
	redisclient "github.com/caremesh/scheduling/internal/redis"
	"github.com/caremesh/scheduling/internal/schedule"
	"github.com/caremesh/scheduling/internal/slotlock"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zlog, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	zlog.Info("api-server starting up", zap.String("env", cfg.Env), zap.String("http_port", cfg.HTTPPort))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PGMaxConns)
	cancelPg()
	if err != nil {
		zlog.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	zlog.Info("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.RedisPoolSize)
	if err != nil {
		zlog.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			zlog.Warn("error closing redis", zap.Error(err))
		}
	}()
	zlog.Info("connected to Redis")

	// Notification collaborator: AMQP when configured, log-only otherwise.
	var notifier notify.Notifier = notify.NewLogNotifier(zlog)
	if cfg.AMQPURL != "" {
		conn, err := amqp091.Dial(cfg.AMQPURL)
		if err != nil {
			zlog.Fatal("amqp connection error", zap.Error(err))
		}
		defer func() { _ = conn.Close() }()

		notifier, err = notify.NewAMQPNotifier(conn, cfg.NotifyExchange, zlog)
		if err != nil {
			zlog.Fatal("amqp notifier error", zap.Error(err))
		}
		zlog.Info("connected to RabbitMQ", zap.String("exchange", cfg.NotifyExchange))
	}

	clk := clock.System()

	scheduleRepo := schedule.NewPgRepository(pgPool)
	bookingRepo := booking.NewPgRepository(pgPool)
	lockStore := slotlock.NewPgStore(pgPool)

	mutex := redisclient.NewPractitionerMutex(rdb, cfg.AcquireMutexTTL)
	locks := slotlock.NewManager(lockStore, mutex, bookingRepo, clk, zlog, cfg.LockTTL, cfg.LockExtension)

	calc := availability.NewCalculator(scheduleRepo, scheduleRepo, bookingRepo, lockStore, clk)

	scheduleSvc := schedule.NewService(scheduleRepo, zlog)
	bookingSvc := booking.NewService(bookingRepo, locks, scheduleRepo, scheduleRepo, notifier, clk, zlog, cfg.CancelLeadTime)
	assigner := booking.NewAutoAssigner(bookingRepo, locks, calc, notifier, clk, zlog)

	router := api.NewRouter(api.RouterConfig{
		Bookings:   bookingSvc,
		Assigner:   assigner,
		Calculator: calc,
		Schedules:  scheduleSvc,
		PgPool:     pgPool,
		Redis:      rdb,
		Logger:     zlog,
		Env:        cfg.Env,
		Version:    version,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		zlog.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("http server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	zlog.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("graceful shutdown failed", zap.Error(err))
	}
}
