package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/leadstitch/cmd/mainconfig"
	"github.com/wolfman30/leadstitch/internal/app/bootstrap"
	appconfig "github.com/wolfman30/leadstitch/internal/config"
	"github.com/wolfman30/leadstitch/internal/inbound"
	"github.com/wolfman30/leadstitch/internal/observability/metrics"
	"github.com/wolfman30/leadstitch/pkg/logging"
)

func main() {
	mainconfig.LoadEnv(nil)
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.UseMemoryQueue {
		logger.Error("inbound worker needs SQS; the API runs the worker inline with USE_MEMORY_QUEUE")
		os.Exit(1)
	}

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	sqsClient := mainconfig.NewSQSClient(awsConfig, cfg)

	db, err := bootstrap.BuildDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if db == nil {
		logger.Error("DATABASE_URL is required for the inbound worker")
		os.Exit(1)
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	attributionMetrics := metrics.NewAttributionMetrics(reg)
	metricsSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	engine, err := bootstrap.BuildEngine(cfg, bootstrap.Deps{
		DB:      db,
		Redis:   bootstrap.BuildRedisClient(ctx, cfg, logger, true),
		Dynamo:  mainconfig.NewDynamoClient(awsConfig, cfg),
		Metrics: attributionMetrics,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to build attribution engine", "error", err)
		os.Exit(1)
	}

	queue, err := bootstrap.BuildInboundQueue(cfg, sqsClient)
	if err != nil {
		logger.Error("failed to build inbound queue", "error", err)
		os.Exit(1)
	}

	worker := inbound.NewWorker(engine.Processor, queue, logger.Component("inbound-worker"),
		inbound.WithWorkerCount(cfg.WorkerCount),
	)
	worker.Start(ctx)
	go engine.Sweeper.Run(ctx)
	logger.Info("inbound worker started", "workers", cfg.WorkerCount, "queue", cfg.InboundQueueURL)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down inbound worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("inbound worker stopped")
	case <-doneCtx.Done():
		logger.Error("inbound worker shutdown timed out", "error", doneCtx.Err())
	}
	_ = metricsSrv.Shutdown(doneCtx)
}
