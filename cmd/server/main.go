// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/QuincyvanDeursen/diceonline/internal/cache"
	"github.com/QuincyvanDeursen/diceonline/internal/config"
	"github.com/QuincyvanDeursen/diceonline/internal/dice"
	"github.com/QuincyvanDeursen/diceonline/internal/handlers"
	"github.com/QuincyvanDeursen/diceonline/internal/hub"
	"github.com/QuincyvanDeursen/diceonline/internal/lobby"
	"github.com/QuincyvanDeursen/diceonline/internal/metrics"
	"github.com/QuincyvanDeursen/diceonline/internal/store"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logCfg, err := config.LoadLog()
	if err != nil {
		logrus.WithError(err).Fatal("invalid logging config")
	}
	logger := config.NewLogger(logCfg)

	cfg, err := config.LoadServer()
	if err != nil {
		logger.WithError(err).Fatal("invalid server config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg config.ServerConfig, logger *logrus.Logger) error {
	m := metrics.New()
	g, gctx := errgroup.WithContext(ctx)

	st, closeStore, err := openStore(gctx, g, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	h := hub.New(hub.Options{
		OriginPatterns: cfg.AllowedOrigins,
		Connections:    m.Connections(),
		Logger:         logger.WithField("component", "hub"),
	})

	reg := lobby.NewRegistry(st, lobby.RegistryConfig{
		TTL:          cfg.LobbyTTL,
		CodeAttempts: cfg.CodeAttempts,
		WriteTimeout: cfg.WriteTimeout,
		KeepEmpty:    !cfg.DeleteEmptyLobbies,
		Logger:       logger.WithField("component", "registry"),
	})
	svcCfg := lobby.ServiceConfig{
		Roller:            dice.NewRoller(),
		Recorder:          m,
		Location:          lobby.LoadLocation(cfg.Timezone),
		DisconnectTimeout: cfg.DisconnectTimeout,
		Logger:            logger.WithField("component", "lobby"),
	}
	if q, closeQueue := openActivityQueue(ctx, cfg, logger); q != nil {
		defer closeQueue()
		svcCfg.Activity = q
	}
	svc := lobby.NewService(reg, lobby.NewDirectory(),
		lobby.NewBroadcaster(h, m, logger.WithField("component", "broadcaster")), svcCfg)
	h.SetOnClose(svc.OnDisconnect)

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: handlers.NewRouter(handlers.RouterConfig{
			Service:        svc,
			Hub:            h,
			Metrics:        m,
			Logger:         logger,
			AllowedOrigins: cfg.AllowedOrigins,
			RequestTimeout: cfg.RequestTimeout,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		svc.RunSweeper(gctx, cfg.SweepInterval)
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", srv.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		// srv.Shutdown does not wait for hijacked websocket connections. Their close
		// callbacks still write to the store, which is closed once run returns.
		if herr := h.Shutdown(shutdownCtx); herr != nil {
			logger.WithError(herr).Warn("websocket connections did not drain")
		}
		return err
	})
	return g.Wait()
}

// openStore returns the configured lobby store and a func releasing its resources.
func openStore(ctx context.Context, g *errgroup.Group, cfg config.ServerConfig, logger *logrus.Logger) (store.LobbyStore, func(), error) {
	if cfg.LobbyStore == "memory" {
		mem := store.NewMemoryStore(cfg.LobbyTTL, time.Now, logger.WithField("component", "store"))
		g.Go(func() error {
			mem.Run(ctx, cfg.SweepInterval)
			return nil
		})
		logger.Warn("using in-memory lobby store; lobbies are lost on restart")
		return mem, func() {}, nil
	}

	client, err := store.ConnectMongo(ctx, store.MongoConfig{
		URI:        cfg.MongoURI,
		Database:   cfg.MongoDatabase,
		Collection: cfg.MongoCollection,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(dctx); err != nil {
			logger.WithError(err).Warn("mongo disconnect failed")
		}
	}

	ms := store.NewMongoStore(client.Database(cfg.MongoDatabase).Collection(cfg.MongoCollection), cfg.LobbyTTL, time.Now)
	if err := ms.EnsureIndexes(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}
	return ms, closeFn, nil
}

// openActivityQueue connects the optional activity feed. The server runs without it when
// Redis is not configured or not reachable.
func openActivityQueue(ctx context.Context, cfg config.ServerConfig, logger *logrus.Logger) (*cache.ActivityQueue, func()) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.WithError(err).Warn("activity feed disabled")
		return nil, nil
	}
	q := cache.NewActivityQueue(rdb, cfg.ActivityQueue)
	logger.WithField("queue", q.Name()).Info("activity feed enabled")
	return q, func() { _ = rdb.Close() }
}
