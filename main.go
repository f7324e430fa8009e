package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"link-redirect-service/config"
	"link-redirect-service/db"
	"link-redirect-service/db/migrations"
	"link-redirect-service/edge"
	"link-redirect-service/events"
	"link-redirect-service/handlers"
	"link-redirect-service/links"
	"link-redirect-service/middleware"
	"link-redirect-service/resolver"
	"link-redirect-service/utils"
	"link-redirect-service/workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := config.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MigrateOnStart {
		m, err := migrations.New(cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		err = m.Up()
		m.Close()
		if err != nil {
			return err
		}
	}

	pgDB, err := db.NewPostgresDB(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pgDB.Close()
	logger.Info("connected to PostgreSQL")

	redisDB := db.OpenRedisDB(cfg.RedisURL, cfg.Cache.TTL, cfg.Cache.Timeout)
	defer redisDB.Close()
	if err := redisDB.Ping(ctx); err != nil {
		logger.Warn("Redis unreachable, serving from the database until it returns", "error", err)
	} else {
		logger.Info("connected to Redis")
	}

	lookup := workers.NewLookup(redisDB, pgDB, cfg.Tracking.LookupTTL)

	// Mutations evict the edge copy and this node's code lookup entry.
	localEdge := edge.Chain{lookup}
	if cfg.Edge.PurgeURL != "" {
		localEdge = append(localEdge, edge.NewHTTPPurger(cfg.Edge.PurgeURL, cfg.Edge.PurgeTimeout))
	}

	// With a bus, invalidations fan out to every node and each one purges
	// the edge in front of it.
	var purger edge.Purger = localEdge
	if cfg.NatsURL != "" {
		bus, err := events.Connect(cfg.NatsURL, logger)
		if err != nil {
			return err
		}
		defer bus.Close()
		if _, err := bus.RelayToPurger(localEdge, cfg.Edge.PurgeTimeout); err != nil {
			return fmt.Errorf("failed to subscribe to invalidations: %w", err)
		}
		purger = events.BroadcastPurger{Bus: bus}
		logger.Info("connected to NATS", "subject", events.SubjectInvalidate)
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	dispatcher := workers.NewDispatcher(pgDB, workers.DispatcherConfig{
		QueueSize:     cfg.Clicks.QueueSize,
		Workers:       cfg.Clicks.Workers,
		BatchSize:     cfg.Clicks.BatchSize,
		FlushInterval: cfg.Clicks.FlushInterval,
	}, logger.With("component", "clicks"))
	dispatcher.Start(workerCtx)

	res := resolver.New(redisDB, pgDB, dispatcher, logger.With("component", "resolver"))
	gate, err := resolver.NewPasswordGate(pgDB, dispatcher, resolver.PasswordGateConfig{
		MinDuration: cfg.Password.MinDuration,
		BcryptCost:  cfg.Password.BcryptCost,
	}, logger.With("component", "password"))
	if err != nil {
		return err
	}
	svc := links.NewService(pgDB, redisDB, purger, utils.NewCodeGenerator(cfg.Codes.Length), links.Config{
		MaxAttempts: cfg.Codes.MaxAttempts,
		BcryptCost:  cfg.Password.BcryptCost,
	}, logger.With("component", "links"))

	deps := handlers.RouterDeps{
		Resolver:        res,
		Gate:            gate,
		Links:           svc,
		Cache:           redisDB,
		PasswordLimiter: middleware.NewRateLimiter(redisDB, "password", cfg.Password.RateLimit, cfg.Password.RateWindow, cfg.API.TrustProxyHeaders, logger),
		APILimiter:      middleware.NewRateLimiter(redisDB, "api", cfg.API.RateLimit, cfg.API.RateWindow, cfg.API.TrustProxyHeaders, logger),
		Ready:           map[string]handlers.Pinger{"database": pgDB, "redis": redisDB},
		Metrics:         handlers.MetricsSources{Resolver: res, Dispatcher: dispatcher},
		BaseURL:         cfg.BaseURL,
		FrontendURL:     cfg.FrontendURL,
		Production:      cfg.IsProduction(),
		Logger:          logger,
	}

	var wg sync.WaitGroup
	switch cfg.Tracking.Mode {
	case config.TrackingLog:
		reconciler := workers.NewReconciler(workers.ReconcilerConfig{
			LogPath:      cfg.Tracking.AccessLogPath,
			PollInterval: cfg.Tracking.PollInterval,
			BatchSize:    cfg.Clicks.BatchSize,
		}, workers.NewFileOffsetStore(cfg.Tracking.OffsetPath), lookup, pgDB, logger.With("component", "reconciler"))
		deps.Metrics.Reconciler = reconciler

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reconciler.Run(workerCtx); err != nil {
				logger.Error("reconciler exited", "error", err)
			}
		}()
	case config.TrackingHook:
		deps.TrackHook = &handlers.TrackHookDeps{IDs: lookup, Clicks: dispatcher}
	}
	logger.Info("edge click tracking", "mode", cfg.Tracking.Mode)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
	case err := <-serveErr:
		if err != nil {
			cancelWorkers()
			dispatcher.Stop()
			wg.Wait()
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// The server is closed, so no new clicks arrive; flush what is queued.
	cancelWorkers()
	dispatcher.Stop()
	wg.Wait()

	logger.Info("server stopped")
	return nil
}
