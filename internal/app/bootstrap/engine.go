package bootstrap

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/leadstitch/internal/attribution"
	"github.com/wolfman30/leadstitch/internal/campaigns"
	"github.com/wolfman30/leadstitch/internal/chathistory"
	"github.com/wolfman30/leadstitch/internal/classifier"
	appconfig "github.com/wolfman30/leadstitch/internal/config"
	"github.com/wolfman30/leadstitch/internal/conversion"
	"github.com/wolfman30/leadstitch/internal/correlation"
	"github.com/wolfman30/leadstitch/internal/events"
	"github.com/wolfman30/leadstitch/internal/inbound"
	"github.com/wolfman30/leadstitch/internal/leads"
	"github.com/wolfman30/leadstitch/internal/observability/metrics"
	"github.com/wolfman30/leadstitch/internal/phone"
	"github.com/wolfman30/leadstitch/pkg/logging"
)

// processedStore is satisfied by both processed-event stores.
type processedStore interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// Deps are the infrastructure handles an Engine is built from. Every field
// is optional; missing handles select the in-memory implementation.
type Deps struct {
	DB      *Database
	Redis   *redis.Client
	Dynamo  *dynamodb.Client
	Metrics *metrics.AttributionMetrics
	Logger  *logging.Logger

	// Delivery receives events directly when there is no outbox.
	Delivery events.DeliveryHandler
}

// Engine is the wired attribution pipeline shared by the API and the worker.
type Engine struct {
	Normalizer  phone.Normalizer
	Attribution attribution.Store
	Clicks      attribution.ClickStore
	Leads       leads.Repository
	History     *chathistory.History
	Campaigns   campaigns.Registry
	Publisher   events.Publisher
	Outbox      *events.OutboxStore
	Processed   processedStore

	Orchestrator *correlation.Orchestrator
	Converter    *conversion.Converter
	Classifier   *classifier.Service
	Processor    *inbound.Processor
	Sweeper      *attribution.Sweeper
}

// BuildEngine wires stores, correlation, conversion and classification.
func BuildEngine(cfg *appconfig.Config, deps Deps) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	tieBreak, err := classifier.ParseTieBreak(cfg.KeywordTieBreak)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	e := &Engine{Normalizer: phone.NewNormalizer(cfg.PhoneCountryCode)}

	var historyStore chathistory.Store
	var campaignStore campaigns.Registry
	if deps.DB != nil {
		e.Attribution = attribution.NewPostgresStore(deps.DB.Pool, e.Normalizer)
		e.Leads = leads.NewPostgresRepository(deps.DB.Pool)
		e.Outbox = events.NewOutboxStore(deps.DB.Pool)
		e.Publisher = events.NewOutboxPublisher(e.Outbox)
		e.Processed = events.NewProcessedStore(deps.DB.Pool)
		historyStore = chathistory.NewSQLStore(deps.DB.SQL)
		campaignStore = campaigns.NewSQLStore(deps.DB.SQL)
	} else {
		logger.Warn("no database configured; using in-memory stores")
		e.Attribution = attribution.NewMemoryStore(e.Normalizer)
		e.Leads = leads.NewInMemoryRepository()
		e.Publisher = events.NewMemoryPublisher(deps.Delivery, logger)
		e.Processed = events.NewMemoryProcessedStore()
		historyStore = chathistory.NewMemoryStore()
		campaignStore = campaigns.NewMemoryStore()
	}

	e.Clicks = e.Attribution
	if deps.Dynamo != nil && cfg.ClickTracesTable != "" {
		e.Clicks = attribution.NewDynamoClickStore(deps.Dynamo, cfg.ClickTracesTable, cfg.ClickTraceTTL)
		logger.Info("ad click traces stored in dynamodb", "table", cfg.ClickTracesTable)
	}

	var transcript *chathistory.Transcript
	if deps.Redis != nil {
		transcript = chathistory.NewTranscript(deps.Redis, cfg.TranscriptTTL)
	}
	e.History = chathistory.NewHistory(historyStore, transcript, logger)
	e.Campaigns = campaigns.NewCachedRegistry(campaignStore, deps.Redis, cfg.CampaignCacheTTL, logger)

	windows := correlation.Windows{Default: cfg.CorrelationWindow, AdClick: cfg.AdClickCorrelationWindow}
	e.Orchestrator = correlation.NewOrchestrator(
		correlation.RankedStrategies(e.Attribution, e.Clicks, windows, logger.Component("correlation")),
		e.Normalizer,
		logger.Component("correlation"),
		deps.Metrics,
	)

	convOpts := []conversion.Option{
		conversion.WithCampaigns(e.Campaigns),
		conversion.WithMetrics(deps.Metrics),
		conversion.WithNormalizer(e.Normalizer),
	}
	if cfg.DirectLeadEnabled {
		if cfg.DefaultCampaignID == "" {
			return nil, fmt.Errorf("bootstrap: DIRECT_LEAD_ENABLED requires DEFAULT_CAMPAIGN_ID")
		}
		convOpts = append(convOpts, conversion.WithDefaultCampaign(cfg.DefaultCampaignID))
	}
	e.Converter = conversion.NewConverter(e.Leads, e.Attribution, e.Publisher, logger.Component("conversion"), convOpts...)

	e.Classifier = classifier.NewService(e.Leads, e.History, e.Publisher, logger.Component("classifier"),
		classifier.WithCampaigns(e.Campaigns),
		classifier.WithTieBreak(tieBreak),
		classifier.WithMetrics(deps.Metrics),
	)

	e.Processor = inbound.NewProcessor(e.Orchestrator, e.Converter, e.Classifier, e.Leads, logger.Component("inbound"),
		inbound.WithProcessedStore(e.Processed),
		inbound.WithEventPublisher(e.Publisher),
		inbound.WithProcessorMetrics(deps.Metrics),
		inbound.WithPhoneNormalizer(e.Normalizer),
	)

	e.Sweeper = attribution.NewSweeper(e.Attribution, cfg.PendingExpiry, logger.Component("sweeper")).
		WithInterval(cfg.ExpirySweepInterval).
		WithMetrics(deps.Metrics)

	return e, nil
}

// BuildInboundQueue selects the in-memory queue or SQS.
func BuildInboundQueue(cfg *appconfig.Config, sqsClient *sqs.Client) (inbound.Queue, error) {
	if cfg.UseMemoryQueue {
		return inbound.NewMemoryQueue(1024), nil
	}
	if sqsClient == nil || cfg.InboundQueueURL == "" {
		return nil, fmt.Errorf("bootstrap: INBOUND_QUEUE_URL is required unless USE_MEMORY_QUEUE is set")
	}
	return inbound.NewSQSQueue(sqsClient, cfg.InboundQueueURL), nil
}

// BuildEventDelivery fans lead events out to SQS and any extra handlers.
func BuildEventDelivery(cfg *appconfig.Config, sqsClient *sqs.Client, extra ...events.DeliveryHandler) events.DeliveryHandler {
	var handlers events.FanOut
	if sqsClient != nil && cfg.LeadEventsQueueURL != "" {
		handlers = append(handlers, events.NewSQSDelivery(sqsClient, cfg.LeadEventsQueueURL))
	}
	for _, h := range extra {
		if h != nil {
			handlers = append(handlers, h)
		}
	}
	if len(handlers) == 0 {
		return nil
	}
	return handlers
}
