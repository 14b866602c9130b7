package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	"github.com/hackgods/clinic-appointment-scheduling/internal/logger"
	"github.com/hackgods/clinic-appointment-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-appointment-scheduling/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log := logger.Must(cfg.Env)
	defer func() { _ = log.Sync() }()

	log.Info("no-show-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Duration("grace", cfg.NoShowGrace),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	// The worker never books, so slot locks stay in process.
	repo := appointment.NewPgRepository(pgPool)
	locker := redisclient.NewLocalSlotLocker(cfg.LockTTL, cfg.LockWait)
	svc := appointment.NewService(repo, locker, notify.NewLogPublisher(log), cfg, log)

	// Run once at startup
	runOnce(rootCtx, svc, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping no-show worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, log)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, log *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	marked, err := svc.MarkNoShows(runCtx)
	if err != nil {
		log.Error("noshow run error", zap.Error(err))
		return
	}
	log.Info("noshow run complete",
		zap.Int("marked", marked),
		zap.Duration("took", time.Since(start)),
	)
}
