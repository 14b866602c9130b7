package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hackgods/clinic-appointment-scheduling/internal/api"
	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
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

	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("timezone", cfg.Timezone),
		zap.String("lock_backend", cfg.LockBackend),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	migrator, err := db.NewMigrator(pgPool)
	if err != nil {
		log.Fatal("migrator init error", zap.Error(err))
	}
	if err := migrator.Up(rootCtx); err != nil {
		log.Fatal("migration error", zap.Error(err))
	}
	_ = migrator.Close()

	checks := []api.DependencyCheck{{Name: "postgres", Pinger: pgPool, Critical: true}}

	// Slot locks
	var locker redisclient.Locker
	switch cfg.LockBackend {
	case "redis":
		rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			log.Fatal("redis connection error", zap.Error(err))
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn("error closing redis", zap.Error(err))
			}
		}()
		log.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))
		locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL, cfg.LockWait)
		checks = append(checks, api.DependencyCheck{Name: "redis", Pinger: redisclient.Pinger{Client: rdb}})
	default:
		log.Warn("using in-process slot locks, run a single instance only")
		locker = redisclient.NewLocalSlotLocker(cfg.LockTTL, cfg.LockWait)
	}

	// Notifications
	var publisher notify.Publisher = notify.NewLogPublisher(log)
	if cfg.AMQPURL != "" {
		conn, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			log.Fatal("amqp connection error", zap.Error(err))
		}
		defer conn.Close()

		ch, err := conn.Channel()
		if err != nil {
			log.Fatal("amqp channel error", zap.Error(err))
		}
		defer ch.Close()

		if _, err := notify.DeclareQueue(ch, cfg.NotifyQueue); err != nil {
			log.Fatal("declare queue error", zap.Error(err))
		}
		publisher = notify.NewAMQPPublisher(ch, cfg.NotifyQueue, cfg.PublishTimeout)
		log.Info("publishing notifications", zap.String("queue", cfg.NotifyQueue))
	}

	repo := appointment.NewPgRepository(pgPool)
	svc := appointment.NewService(repo, locker, publisher, cfg, log)

	router := api.NewRouter(api.RouterConfig{
		Service:   svc,
		Tokens:    auth.NewTokenManager(cfg.JWTSecret, cfg.JWTExpiration),
		Logger:    log,
		Checks:    checks,
		Env:       cfg.Env,
		Version:   cfg.Version,
		RateLimit: rate.Limit(cfg.RateLimitRPS),
		RateBurst: cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
