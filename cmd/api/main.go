package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/leadstitch/cmd/mainconfig"
	"github.com/wolfman30/leadstitch/internal/api/router"
	"github.com/wolfman30/leadstitch/internal/app/bootstrap"
	"github.com/wolfman30/leadstitch/internal/campaigns"
	appconfig "github.com/wolfman30/leadstitch/internal/config"
	"github.com/wolfman30/leadstitch/internal/events"
	"github.com/wolfman30/leadstitch/internal/http/handlers"
	"github.com/wolfman30/leadstitch/internal/inbound"
	"github.com/wolfman30/leadstitch/internal/leads"
	"github.com/wolfman30/leadstitch/internal/live"
	"github.com/wolfman30/leadstitch/internal/observability/metrics"
	"github.com/wolfman30/leadstitch/pkg/logging"
)

func main() {
	mainconfig.LoadEnv(nil)
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting leadstitch API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"memory_queue", cfg.UseMemoryQueue,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsHandler, attributionMetrics := setupMetrics()

	db, err := bootstrap.BuildDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)

	sqsClient, dynamoClient := setupAWS(ctx, cfg, logger)

	hub := live.NewHub(logger.Component("live"), cfg.CORSAllowedOrigins...)
	delivery := bootstrap.BuildEventDelivery(cfg, sqsClient, hub)

	engine, err := bootstrap.BuildEngine(cfg, bootstrap.Deps{
		DB:       db,
		Redis:    redisClient,
		Dynamo:   dynamoClient,
		Metrics:  attributionMetrics,
		Logger:   logger,
		Delivery: delivery,
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
	worker := setupInlineWorker(ctx, cfg, engine, queue, logger)

	if engine.Outbox != nil && delivery != nil {
		deliverer := events.NewDeliverer(engine.Outbox, delivery, logger.Component("outbox")).
			WithInterval(cfg.OutboxPollInterval)
		go deliverer.Start(ctx)
	}

	r := router.New(&router.Config{
		Logger: logger,
		Tracking: handlers.NewTrackingHandler(handlers.TrackingConfig{
			Pending:      engine.Attribution,
			Clicks:       engine.Clicks,
			Fingerprints: engine.Attribution,
			Metrics:      attributionMetrics,
			Logger:       logger.Component("tracking"),
		}),
		WhatsApp: handlers.NewWhatsAppWebhookHandler(handlers.WhatsAppWebhookConfig{
			Publisher:   inbound.NewPublisher(queue, logger),
			VerifyToken: cfg.WebhookVerifyToken,
			Metrics:     attributionMetrics,
			Logger:      logger.Component("whatsapp"),
		}),
		LeadsHandler:       leads.NewHandler(engine.Leads, engine.History, logger),
		CampaignHandler:    campaigns.NewHandler(engine.Campaigns, logger),
		LiveHub:            hub,
		MetricsHandler:     metricsHandler,
		AdminToken:         cfg.AdminToken,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		TrackingRateLimit:  cfg.TrackingRateLimit,
		TrackingRateBurst:  cfg.TrackingRateBurst,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
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
	if worker != nil {
		worker.Wait()
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// setupMetrics registers the attribution collectors on a private registry.
func setupMetrics() (http.Handler, *metrics.AttributionMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewAttributionMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}), m
}

// setupAWS returns nil clients when nothing in the config needs AWS.
func setupAWS(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*sqs.Client, *dynamodb.Client) {
	needsAWS := !cfg.UseMemoryQueue || cfg.LeadEventsQueueURL != "" || cfg.ClickTracesTable != ""
	if !needsAWS {
		return nil, nil
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	return mainconfig.NewSQSClient(awsCfg, cfg), mainconfig.NewDynamoClient(awsCfg, cfg)
}

// setupInlineWorker runs the engine in-process when the memory queue is
// used; otherwise the inbound-worker binary consumes SQS.
func setupInlineWorker(ctx context.Context, cfg *appconfig.Config, engine *bootstrap.Engine, queue inbound.Queue, logger *logging.Logger) *inbound.Worker {
	if !cfg.UseMemoryQueue || engine == nil {
		return nil
	}
	worker := inbound.NewWorker(engine.Processor, queue, logger.Component("inbound-worker"),
		inbound.WithWorkerCount(cfg.WorkerCount),
		inbound.WithReceiveWaitSeconds(1),
	)
	worker.Start(ctx)
	go engine.Sweeper.Run(ctx)
	logger.Info("inline inbound worker started", "workers", cfg.WorkerCount)
	return worker
}
