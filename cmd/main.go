package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/app"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/config"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/infrastructure/rabbitmq"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/pkg/logger"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/presort"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/tracing"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/transport/rest"
)

const serviceName = "feed-ranker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}
	if cfg.LogFormat != "" {
		_ = os.Setenv("LOG_FORMAT", cfg.LogFormat)
	}

	logger.Init()
	log := logger.Logger.With().Str("env", cfg.AppEnv).Logger()

	// Root ctx with signal cancellation
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Tracing ----
	tp, err := tracing.InitTracing(rootCtx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: cfg.AlgorithmVersion,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("tracing init failed (continuing)")
	}

	// ---- Dependencies + pipeline ----
	a, err := app.New(rootCtx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	// ---- Background workers ----
	var workers sync.WaitGroup
	if a.Trigger != nil {
		a.Trigger.Start(rootCtx)
	}

	handler := a.MessageHandler()
	for i := 0; i < cfg.ConsumerCount; i++ {
		c := rabbitmq.NewConsumer(cfg.RabbitURL, rabbitmq.ConsumerOptions{
			Exchange: cfg.RabbitExchange,
			Queue:    cfg.PresortQueue,
			Prefetch: 1,
		}, handler, log)
		workers.Add(1)
		go func() {
			defer workers.Done()
			c.Run(rootCtx)
		}()
	}
	log.Info().Int("consumers", cfg.ConsumerCount).Str("queue", cfg.PresortQueue).Msg("presort consumers started")

	if cfg.PresortEnabled {
		sched := presort.NewScheduler(a.Job, a.Repo, cfg.PresortInterval, log)
		workers.Add(1)
		go func() {
			defer workers.Done()
			sched.Run(rootCtx)
		}()
	}

	// ---- Router ----
	checks := map[string]rest.HealthCheck{
		"postgres": a.Repo.Ping,
		"redis":    a.Cache.Ping,
	}
	if a.Publisher != nil {
		checks["rabbitmq"] = func(context.Context) error {
			if !a.Publisher.Healthy() {
				return errors.New("channel closed")
			}
			return nil
		}
	}
	h := rest.NewHandler(a.Feed, rest.HandlerOptions{
		MaxTake:      cfg.MaxTake,
		DebugEnabled: cfg.DebugEnabled,
		HealthChecks: checks,
	})
	httpHandler := rest.NewRouter(rest.RouterDeps{
		Handler:   h,
		RLEnabled: cfg.RLEnabled,
		RLLimit:   cfg.RLLimit,
		RLWindow:  cfg.RLWindow,
	})

	// ---- HTTP server ----
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server crash
	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server crashed")
		stop()
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	if a.Trigger != nil {
		a.Trigger.Stop()
	}
	workers.Wait()

	if tp != nil {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}
	log.Info().Msg("shutdown complete")
}
