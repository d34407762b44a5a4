package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"support-agent/internal/app"
	"support-agent/internal/config"
	"support-agent/internal/server"
	logx "support-agent/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Configuration ----
	cfg, err := config.Load(".env")
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to load config")
	}
	logx.Init(logx.LoggerOpts{Environment: logx.ParseEnvironment(cfg.Environment)})

	// ---- Components ----
	a, err := app.Build(ctx, cfg)
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to build service")
	}
	defer a.Close()

	h, err := server.NewHandler(a.Engine, a.Knowledge, server.Options{
		Analytics: a.Tally,
		Gatherer:  a.Registry,
	})
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to create handler")
	}
	e := server.New(h)
	e.Server.ReadTimeout = cfg.HTTP.ReadTimeout
	e.Server.WriteTimeout = cfg.HTTP.WriteTimeout

	// ---- Run ----
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logx.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server listening")
		if err := e.Start(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		a.Sweep(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logx.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logx.Error().Err(err).Msg("Server stopped with error")
		a.Close()
		os.Exit(1)
	}
	logx.Info().Msg("Server stopped")
}
