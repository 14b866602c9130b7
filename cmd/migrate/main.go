package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	"github.com/hackgods/clinic-appointment-scheduling/internal/logger"
)

const usage = "usage: migrate up|down|status|version"

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.LoadDB()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log := logger.Must(cfg.Env)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	m, err := db.NewMigrator(pool)
	if err != nil {
		log.Fatal("init migrator", zap.Error(err))
	}
	defer m.Close()

	switch cmd := os.Args[1]; cmd {
	case "up":
		err = m.Up(ctx)
	case "down":
		err = m.Down(ctx)
	case "status":
		err = m.Status(ctx)
	case "version":
		var v int64
		if v, err = m.Version(ctx); err == nil {
			log.Info("schema version", zap.Int64("version", v))
		}
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal("migrate "+os.Args[1], zap.Error(err))
	}
	log.Info("migrate done", zap.String("command", os.Args[1]))
}
