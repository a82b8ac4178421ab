package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/fidelio/fidelio/internal/config"
	"github.com/fidelio/fidelio/internal/events"
	"github.com/fidelio/fidelio/internal/federation"
	"github.com/fidelio/fidelio/internal/infra"
	"github.com/fidelio/fidelio/internal/logging"
	"github.com/fidelio/fidelio/internal/notification"
	"github.com/fidelio/fidelio/internal/routes"
	"github.com/fidelio/fidelio/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.AppName)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	deps := routes.Deps{Cfg: cfg, Logger: logger}

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.AppName, int32(cfg.DBMaxConns))
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if cfg.AutoMigrate {
			if err := infra.EnsureSchema(ctx, db); err != nil {
				logger.Error("apply schema", "error", err)
				os.Exit(1)
			}
		}
		deps.DB = db
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory storage")
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
		deps.Cache = cache
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("close kafka writer", "error", err)
			}
		}()
		deps.Publisher = publisher
	}

	if cfg.TwilioEnabled() {
		deps.Notifier = notification.NewTwilioNotifier(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFrom, logger)
	} else {
		deps.Notifier = notification.NewLoggerNotifier(logger)
	}
	if cfg.GoogleEnabled() {
		deps.Provider = federation.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL, logger)
	}

	srv, err := server.New(deps)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	if cfg.BootstrapAdminPhone != "" {
		admin, err := srv.Services().Accounts.EnsureAdmin(ctx, cfg.BootstrapAdminPhone)
		if err != nil {
			logger.Error("bootstrap admin", "error", err)
			os.Exit(1)
		}
		logger.Info("admin account ready", slog.String("account_id", admin.ID))
	}

	go srv.Sweeper().Run(ctx)

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
