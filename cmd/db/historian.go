// cmd/db/historian.go is an asynchronous historian service that pops lobby activity from a
// Redis queue and persists it to a PostgreSQL database.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/QuincyvanDeursen/diceonline/internal/cache"
	"github.com/QuincyvanDeursen/diceonline/internal/config"
	"github.com/QuincyvanDeursen/diceonline/internal/database"
	"github.com/QuincyvanDeursen/diceonline/internal/historian"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	logCfg, err := config.LoadLog()
	if err != nil {
		logrus.WithError(err).Fatal("invalid logging config")
	}
	logger := config.NewLogger(logCfg)

	cfg, err := config.LoadHistorian()
	if err != nil {
		logger.WithError(err).Fatal("invalid historian config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("historian exited")
	}
	logger.Info("historian shutdown complete")
}

func run(ctx context.Context, cfg config.HistorianConfig, logger *logrus.Logger) error {
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := database.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer rdb.Close()

	queue := cache.NewActivityQueue(rdb, cfg.ActivityQueue)
	svc := historian.New(queue, database.NewActivityLog(pool), historian.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		Inactivity:    cfg.Inactivity,
	}, logger.WithField("queue", queue.Name()))

	return svc.Run(ctx)
}
