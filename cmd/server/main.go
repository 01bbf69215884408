package main

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"hostingspace/app/internal/auth"
	"hostingspace/app/internal/config"
	appdb "hostingspace/app/internal/db"
	apphttp "hostingspace/app/internal/http"
	"hostingspace/app/internal/jobs"
	"hostingspace/app/internal/kvstore"
	"hostingspace/app/internal/llm"
	applog "hostingspace/app/internal/log"
	"hostingspace/app/internal/sites"
	"hostingspace/app/internal/telemetry"
	"hostingspace/app/internal/vault"
)

const serviceName = "hostingspace"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return eris.Wrap(err, "failure loading configuration")
	}

	logger, err := applog.NewLogger(cfg.LogLevel)
	if err != nil {
		return eris.Wrap(err, "failure initialising logger")
	}

	sentryHub, flush, err := applog.InitSentry(logger, applog.SentrySettings{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
	})
	if err != nil {
		return eris.Wrap(err, "failure initialising sentry")
	}
	defer flush()

	shutdownTracing, err := telemetry.InitTracer(telemetry.Settings{
		Enabled:     cfg.TracingEnabled,
		ServiceName: serviceName,
		Environment: cfg.Environment,
	}, logger)
	if err != nil {
		return eris.Wrap(err, "failure initialising tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.WithError(err).Error("flushing traces")
		}
	}()

	dbConn, err := appdb.Open(appdb.Options{
		Driver: cfg.DBDriver,
		Path:   cfg.DBPath,
		DSN:    cfg.DatabaseURL,
	})
	if err != nil {
		return eris.Wrap(err, "opening database")
	}
	defer func() {
		if closeErr := appdb.Close(dbConn); closeErr != nil {
			logger.WithError(closeErr).Error("closing database")
		}
	}()

	if err := sites.Migrate(ctx, dbConn, logger); err != nil {
		return eris.Wrap(err, "running migrations")
	}

	credentials, err := vault.New(cfg.EncryptionKey)
	if err != nil {
		return eris.Wrap(err, "initialising credential vault")
	}

	store, err := kvstore.New(kvstore.Options{
		Addr:      cfg.Redis.Addr,
		Username:  cfg.Redis.Username,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
		Logger:    logger,
	})
	if err != nil {
		return eris.Wrap(err, "creating site store")
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.WithError(closeErr).Error("closing site store")
		}
	}()

	if err := store.Connect(ctx); err != nil {
		return eris.Wrap(err, "connecting to site store")
	}

	client, err := llm.NewClient(llm.ClientOptions{
		APIKey:  cfg.LLMAPIKey,
		BaseURL: cfg.LLMEndpoint,
		Logger:  logger,
	})
	if err != nil {
		return eris.Wrap(err, "creating llm client")
	}

	generator, err := llm.NewGenerator(llm.GeneratorOptions{
		Client: client,
		Model:  cfg.LLMModel,
	})
	if err != nil {
		return eris.Wrap(err, "initialising generator")
	}

	repository, err := sites.NewRepository(dbConn, logger)
	if err != nil {
		return eris.Wrap(err, "building sites repository")
	}

	sitesService, err := sites.NewService(sites.ServiceOptions{
		Repository:  repository,
		Publisher:   store,
		Generator:   generator,
		Credentials: credentials,
		Logger:      logger,
		SentryHub:   sentryHub,
	})
	if err != nil {
		return eris.Wrap(err, "creating sites service")
	}

	verifier, err := auth.NewVerifier(cfg.AuthJWTSecret)
	if err != nil {
		return eris.Wrap(err, "creating token verifier")
	}

	transport, err := apphttp.NewServer(apphttp.Options{
		Service:   sitesService,
		Verifier:  verifier,
		Database:  dbConn,
		Store:     store,
		Logger:    logger,
		SentryHub: sentryHub,
		RateLimiter: apphttp.RateLimiterSettings{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			ClientTTL:         cfg.RateLimit.ClientTTL,
		},
	})
	if err != nil {
		return eris.Wrap(err, "initialising http transport")
	}
	defer transport.Close()

	sweeper, err := jobs.NewSweeper(store, repository, logger)
	if err != nil {
		return eris.Wrap(err, "creating orphan sweeper")
	}
	if _, err := sweeper.Schedule(ctx, cfg.SweepSchedule); err != nil {
		return eris.Wrap(err, "scheduling orphan sweep")
	}

	var handler stdhttp.Handler = transport.Handler()
	if cfg.TracingEnabled {
		handler = telemetry.WrapHandler(handler, serviceName)
	}

	httpServer := &stdhttp.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", cfg.ServerPort),
		Handler: handler,
	}

	logger.WithFields(logrus.Fields{
		"addr":      httpServer.Addr,
		"db_driver": cfg.DBDriver,
	}).Info("starting http server")

	serverErrCh := make(chan error, 1)
	go func() {
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErrCh <- err
		} else {
			serverErrCh <- nil
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErrCh:
		if err != nil {
			return eris.Wrap(err, "http server error")
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "shutting down http server")
	}

	logger.Info("http server shut down cleanly")
	return nil
}
