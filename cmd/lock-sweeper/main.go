package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/caremesh/scheduling/internal/booking"
	"github.com/caremesh/scheduling/internal/clock"
	"github.com/caremesh/scheduling/internal/config"
	"github.com/caremesh/scheduling/internal/db"
	"github.com/caremesh/scheduling/internal/logger"
	redisclient "github.com/caremesh/scheduling/internal/redis"
	"github.com/caremesh/scheduling/internal/slotlock"
)

// Locks self-expire on read, but stale rows still take up table space
// and slow the overlap scans; this worker deletes them on a timer.
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

	zlog.Info("lock-sweeper starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.SweepInterval),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PGMaxConns)
	cancelPg()
	if err != nil {
		zlog.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	zlog.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.RedisPoolSize)
	if err != nil {
		zlog.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			zlog.Warn("error closing redis", zap.Error(err))
		}
	}()

	lockStore := slotlock.NewPgStore(pgPool)
	bookingRepo := booking.NewPgRepository(pgPool)
	mutex := redisclient.NewPractitionerMutex(rdb, cfg.AcquireMutexTTL)
	locks := slotlock.NewManager(lockStore, mutex, bookingRepo, clock.System(), zlog, cfg.LockTTL, cfg.LockExtension)

	// Run once at startup
	runOnce(rootCtx, locks, zlog)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			zlog.Info("shutdown signal received, stopping lock sweeper")
			return
		case <-ticker.C:
			runOnce(rootCtx, locks, zlog)
		}
	}
}

func runOnce(ctx context.Context, locks *slotlock.Manager, zlog *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	count, err := locks.Sweep(runCtx)
	if err != nil {
		zlog.Error("sweep run error", zap.Error(err))
		return
	}
	zlog.Info("sweep run complete",
		zap.Int64("deleted", count),
		zap.Duration("elapsed", time.Since(start)),
	)
}
