// The gateway binary runs the task tracker's public edge: it authenticates
// every inbound request, rate-limits by client IP, and forwards to the
// user, task, and analytics services.
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

	"github.com/taskfleet/taskfleet/internal/auth"
	"github.com/taskfleet/taskfleet/internal/config"
	"github.com/taskfleet/taskfleet/internal/gateway"
	"github.com/taskfleet/taskfleet/internal/monitoring"
	"github.com/taskfleet/taskfleet/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	resolver := auth.NewResolver(cfg.Auth.JWTSecret, cfg.Auth.ServiceToken)
	metrics := monitoring.NewMetricsCollector()
	gw := gateway.New(cfg, resolver, metrics)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.GatewayPort),
		Handler:      gw.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Info().
		Int("port", cfg.Server.GatewayPort).
		Str("user_service", cfg.Services.UserServiceURL).
		Str("task_service", cfg.Services.TaskServiceURL).
		Str("analytics_service", cfg.Services.AnalyticsServiceURL).
		Str("service_token", utils.MaskKey(cfg.Auth.ServiceToken)).
		Msg("API gateway starting")

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
