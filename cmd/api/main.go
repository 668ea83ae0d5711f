package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/fieldhand/cmd/mainconfig"
	"github.com/wolfman30/fieldhand/internal/api/router"
	"github.com/wolfman30/fieldhand/internal/app/bootstrap"
	"github.com/wolfman30/fieldhand/internal/channels/whatsapp"
	appconfig "github.com/wolfman30/fieldhand/internal/config"
	"github.com/wolfman30/fieldhand/internal/dispatch"
	"github.com/wolfman30/fieldhand/internal/http/handlers"
	"github.com/wolfman30/fieldhand/internal/identity"
	httpmiddleware "github.com/wolfman30/fieldhand/internal/http/middleware"
	"github.com/wolfman30/fieldhand/internal/observability/metrics"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting fieldhand API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"memory_queue", cfg.UseMemoryQueue,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg, metricsHandler, pipelineMetrics := setupMetrics()

	infra, closeInfra, err := mainconfig.OpenInfra(ctx, cfg, logger, pipelineMetrics)
	if err != nil {
		logger.Error("failed to open infrastructure", "error", err)
		os.Exit(1)
	}
	defer closeInfra()

	rt, err := bootstrap.Build(ctx, infra)
	if err != nil {
		logger.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}
	defer func() { _ = rt.Close() }()

	// With the in-memory queue the API process is also the worker.
	if cfg.UseMemoryQueue {
		w := rt.NewWorker()
		w.Start(ctx)
		defer w.Wait()
		go rt.Purger.Run(ctx)
		logger.Info("inline intake worker started", "workers", cfg.WorkerCount)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      buildRouter(cfg, rt, infra, reg, metricsHandler, pipelineMetrics, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// setupMetrics registers the pipeline metrics on a private registry along
// with the Go runtime collectors.
func setupMetrics() (*prometheus.Registry, http.Handler, *metrics.PipelineMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewPipelineMetrics(reg)
	return reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), m
}

func buildRouter(cfg *appconfig.Config, rt *bootstrap.Runtime, infra bootstrap.Infra, reg prometheus.Gatherer, metricsHandler http.Handler, m *metrics.PipelineMetrics, logger *logging.Logger) http.Handler {
	enqueue := func(ctx context.Context, msg dispatch.InboundMessage) error {
		_, err := rt.Publisher.Enqueue(ctx, msg)
		return err
	}

	checks := map[string]handlers.Pinger{}
	if infra.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return infra.Redis.Ping(ctx).Err() }
	}
	if infra.Pool != nil {
		checks["postgres"] = infra.Pool.Ping
	}

	routerCfg := &router.Config{
		Logger:             logger,
		Health:             handlers.NewHealthHandler(checks),
		MetricsHandler:     metricsHandler,
		WhatsApp:           whatsapp.NewWebhookHandler(cfg.WhatsAppVerifyToken, cfg.WhatsAppAppSecret, enqueue, logger).WithMetrics(m),
		Webchat:            rt.Webchat,
		ConsoleToken:       cfg.ConsoleToken,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		AdminSessions:      handlers.NewAdminSessionsHandler(rt.Sessions, rt.Locker, directoryInvalidator(rt.Directory), logger),
		AdminStats:         handlers.NewAdminStatsHandler(reg),
	}
	if rt.Failures != nil {
		routerCfg.AdminFailures = handlers.NewAdminFailuresHandler(rt.Failures, logger)
	}
	if cfg.ConsoleRatePerSec > 0 {
		routerCfg.ConsoleRateLimiter = httpmiddleware.NewRateLimiter(cfg.ConsoleRatePerSec, cfg.ConsoleBurst)
	}
	return router.New(routerCfg)
}

// directoryInvalidator returns the cache-evicting side of the directory, or
// nil when the directory does not cache.
func directoryInvalidator(dir identity.Directory) identity.Invalidator {
	if inv, ok := dir.(identity.Invalidator); ok {
		return inv
	}
	return nil
}
