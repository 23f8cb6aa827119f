package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"genstudio/internal/bootstrap"
	"genstudio/internal/events"
	"genstudio/internal/http/handlers"
	httpapi "genstudio/internal/http/httpapi"
	"genstudio/internal/infra"
	"genstudio/internal/infra/geoip"
	"genstudio/internal/middleware"
	"genstudio/internal/realtime"
	"genstudio/internal/service"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: bootstrap failed")
	}
	defer rt.Close()

	uploader, fileUploader, err := rt.Uploader()
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure uploads")
	}
	manager := rt.Manager(rt.Processor(uploader).Handle, cfg.WorkerPolicy)

	// Realtime: queue lifecycle events -> bridge -> hub -> websocket clients.
	hub := realtime.NewHub(infra.Component(logger, "realtime"))
	sub, err := rt.Queue.Subscribe(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: subscribe to queue events failed")
	}
	bridge := events.NewBridge(rt.Queue, rt.Jobs, hub, infra.Component(logger, "bridge"))
	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		// Runs until the subscription closes so completions from draining
		// jobs still reach clients during shutdown.
		bridge.Run(context.WithoutCancel(ctx), sub.Events())
	}()

	if cfg.AlwaysOn() {
		if err := manager.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("api: worker start failed")
		}
	} else if counts, err := rt.Queue.Counts(ctx); err == nil && !counts.Idle() {
		// Drain deliveries left from a previous run.
		if err := manager.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("api: worker start failed")
		}
	}

	jobs := service.NewJobService(rt.Jobs, rt.Queue, manager, service.Options{
		Logger:      infra.Component(logger, "service"),
		WorkerState: func() string { return manager.State().String() },
	})

	resolver, err := geoip.Open(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("api: geoip disabled")
	}
	defer resolver.Close()

	var references handlers.ReferenceStore
	routerOpts := httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		AllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		DefaultLocale:   cfg.DefaultLocale,
		Realtime: realtime.NewHandler(hub, realtime.HandlerOptions{
			JWTSecret:      cfg.JWTSecret,
			AllowedOrigins: cfg.CORSAllowedOrigins,
			Logger:         infra.Component(logger, "realtime"),
		}),
		Logger: logger,
	}
	if resolver != nil {
		routerOpts.CountryLookup = middleware.CountryLookup(resolver.Lookup)
	}
	if fileUploader != nil {
		references = fileUploader
		routerOpts.StaticDir = fileUploader.Dir()
	}
	app := handlers.NewApp(jobs, references, infra.Component(logger, "http"))
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, routerOpts))

	go func() {
		logger.Info().Str("addr", server.Addr()).Str("worker_policy", cfg.WorkerPolicy).Msg("api: listening")
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("api: http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: http shutdown failed")
	}
	if err := manager.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: worker stop failed")
	}
	if err := sub.Close(); err != nil {
		logger.Warn().Err(err).Msg("api: close event subscription")
	}
	<-bridgeDone
	logger.Info().Msg("api: stopped")
}
