// Command server starts the swissql gateway HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ai "github.com/kamusis/swissql-sub000/internal/adapter/ai"
	"github.com/kamusis/swissql-sub000/internal/adapter/ai/portkey"
	"github.com/kamusis/swissql-sub000/internal/adapter/ai/tokencount"
	"github.com/kamusis/swissql-sub000/internal/adapter/database"
	httpserver "github.com/kamusis/swissql-sub000/internal/adapter/httpserver"
	"github.com/kamusis/swissql-sub000/internal/adapter/observability"
	"github.com/kamusis/swissql-sub000/internal/app"
	"github.com/kamusis/swissql-sub000/internal/config"
	"github.com/kamusis/swissql-sub000/internal/service/aicontext"
	"github.com/kamusis/swissql-sub000/internal/service/collector"
	"github.com/kamusis/swissql-sub000/internal/service/registry"
	"github.com/kamusis/swissql-sub000/internal/service/sampler"
	"github.com/kamusis/swissql-sub000/internal/service/session"
	"github.com/kamusis/swissql-sub000/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so that /metrics
	// exposes HTTP, session, collector, sampler, and AI instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	// ctx cancellation stops the sweeper and the pack watcher.
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Collector packs. A failed load is not fatal: the gateway still serves
	// sessions and ad-hoc SQL, and /readyz reports the missing packs.
	packs := registry.New(logger, cfg.DriversRoot)
	if _, err := packs.Reload(); err != nil {
		slog.Warn("collector pack load failed", slog.String("root", cfg.DriversRoot), slog.Any("error", err))
	}
	if cfg.WatchDrivers {
		go func() {
			if err := packs.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("collector pack watcher stopped", slog.Any("error", err))
			}
		}()
	}

	// Connection pools and execution
	poolMgr := database.NewManager(logger, cfg.DefaultConnectTimeout)
	exec := database.NewExecutor(logger)
	meta := database.NewMeta(exec, logger)
	runner := collector.NewRunner(logger, packs, exec)

	// Sessions and samplers. The sampler manager needs the pool lookup and
	// the session manager needs the sampler stopper, so the stopper is
	// installed after both exist.
	sessions := session.NewManager(logger, poolMgr, nil)
	samplers := sampler.NewManager(logger, poolMgr, runner)
	sessions.SetSamplerStopper(samplers)
	if err := samplers.LoadDefaults(cfg.SamplersFile); err != nil {
		slog.Warn("sampler defaults load failed", slog.String("file", cfg.SamplersFile), slog.Any("error", err))
	}
	go sessions.RunSweeper(ctx, 0)

	// AI gateway
	aiClient := portkey.New(cfg)
	genCache := ai.NewGenerationCache(cfg.AIGenCacheSize)
	tokens := tokencount.NewCounter()
	contexts := aicontext.NewBuffer()
	if aiClient.Enabled() {
		slog.Info("ai gateway configured", slog.String("model", cfg.PortkeyModel))
	} else {
		slog.Info("ai gateway disabled; /v1/ai/generate answers 503")
	}

	// Usecases
	sessionSvc := usecase.NewSessionService(logger, sessions, poolMgr, contexts)
	execSvc := usecase.NewExecuteService(logger, sessions, poolMgr, exec, contexts)
	metaSvc := usecase.NewMetaService(logger, sessions, poolMgr, meta, packs)
	collectorSvc := usecase.NewCollectorService(logger, sessions, poolMgr, runner)
	samplerSvc := usecase.NewSamplerService(logger, sessions, samplers)
	generateSvc := usecase.NewGenerateService(logger, aiClient, sessions, contexts, genCache, tokens, cfg.AISchemaContextTokens)

	// Readiness checks
	regCheck, sessCheck, aiCheck := app.BuildReadinessChecks(packs, sessions, aiClient)

	// HTTP server
	srv := httpserver.NewServer(cfg, sessionSvc, execSvc, metaSvc, collectorSvc, samplerSvc, generateSvc, regCheck, sessCheck, aiCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)

	// Teardown order: samplers first so no tick borrows from a closing pool,
	// then sessions (which close their pools), then any pools left behind by
	// swept sessions.
	samplers.Shutdown(shutdownCtx)
	sessions.CloseAll(shutdownCtx)
	poolMgr.CloseAll()
}
