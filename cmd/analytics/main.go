// The analytics binary serves cached task statistics and derived metrics,
// refreshing counters from the task service through a read-through,
// single-flight cache backed by sqlite.
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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/taskfleet/taskfleet/internal/analytics"
	"github.com/taskfleet/taskfleet/internal/auth"
	"github.com/taskfleet/taskfleet/internal/config"
	"github.com/taskfleet/taskfleet/internal/monitoring"
	"github.com/taskfleet/taskfleet/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	st, err := store.Open(cfg.Cache.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Cache.DBPath).Msg("failed to open stats store")
	}
	defer func() { _ = st.Close() }()

	source := analytics.NewTaskServiceClient(cfg.Services.TaskServiceURL, cfg.Auth.ServiceToken, cfg.Cache.FetchTimeout)
	metrics := monitoring.NewMetricsCollector()
	cache := analytics.NewStatsCache(st, source, cfg.Cache.UserStatsTTL, cfg.Cache.SystemSummaryTTL, metrics)
	resolver := auth.NewResolver(cfg.Auth.JWTSecret, cfg.Auth.ServiceToken)
	handler := analytics.NewHandler(cache, resolver, metrics)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.AnalyticsPort),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Info().
		Int("port", cfg.Server.AnalyticsPort).
		Str("task_service", cfg.Services.TaskServiceURL).
		Str("db_path", cfg.Cache.DBPath).
		Dur("user_stats_ttl", cfg.Cache.UserStatsTTL).
		Dur("system_summary_ttl", cfg.Cache.SystemSummaryTTL).
		Msg("analytics service starting")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("shutdown error")
		}
	}
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
