// Command server runs the user service: authentication, account security
// and the tiered rate limiter in front of the user API.
//
// @title        User Service API
// @version      1.0
// @description  Authentication, account management and rate limiting.
// @BasePath     /
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/ecommerce-platform/user-service/docs"
	"github.com/ecommerce-platform/user-service/internal/api"
	"github.com/ecommerce-platform/user-service/internal/config"
	mongodb "github.com/ecommerce-platform/user-service/internal/infrastructure/db/mongo"
	redisdb "github.com/ecommerce-platform/user-service/internal/infrastructure/db/redis"
	"github.com/ecommerce-platform/user-service/internal/infrastructure/notify"
	"github.com/ecommerce-platform/user-service/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.Init(logger.Options{
		Level:  cfg.LogLevel,
		Pretty: cfg.Env == "development",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, db, err := mongodb.Connect(ctx, mongodb.Config{
		URI:      cfg.Mongo.URI,
		Database: cfg.Mongo.Database,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("mongo connection failed")
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = client.Disconnect(disconnectCtx)
	}()

	if err := mongodb.NewUserRepository(db).EnsureIndexes(ctx); err != nil {
		log.Fatal().Err(err).Msg("index creation failed")
	}

	rdb, err := redisdb.Connect(ctx, redisdb.Config{
		Addr: cfg.Redis.Addr,
		DB:   cfg.Redis.DB,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	defer rdb.Close()

	notifier := notify.NewHTTPNotifier(cfg.Notifier.URL, cfg.Notifier.Timeout)
	mailer := notify.NewDispatcher(cfg.Notifier.Workers, notifier, log)
	mailer.Start(ctx)

	e := api.NewRouter(db, rdb, notifier, mailer, cfg, log)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()
	log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("user service started")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("user service stopped")
}
