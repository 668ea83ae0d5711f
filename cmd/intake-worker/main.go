package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/fieldhand/cmd/mainconfig"
	"github.com/wolfman30/fieldhand/internal/app/bootstrap"
	appconfig "github.com/wolfman30/fieldhand/internal/config"
	"github.com/wolfman30/fieldhand/internal/observability/metrics"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.UseMemoryQueue {
		logger.Error("intake worker consumes SQS; unset USE_MEMORY_QUEUE and run cmd/api for in-memory mode")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	pipelineMetrics := metrics.NewPipelineMetrics(reg)

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

	w := rt.NewWorker()
	w.Start(ctx)
	go rt.Purger.Run(ctx)

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics listener stopped", "error", err)
		}
	}()
	logger.Info("intake worker started", "workers", cfg.WorkerCount, "queue", cfg.IntakeQueueURL)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down intake worker...")
	cancel()
	_ = metricsSrv.Close()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		w.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("intake worker stopped")
	case <-doneCtx.Done():
		logger.Error("intake worker shutdown timed out", "error", doneCtx.Err())
	}
}
