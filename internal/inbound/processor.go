package inbound

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/leadstitch/internal/chathistory"
	"github.com/wolfman30/leadstitch/internal/classifier"
	"github.com/wolfman30/leadstitch/internal/conversion"
	"github.com/wolfman30/leadstitch/internal/correlation"
	"github.com/wolfman30/leadstitch/internal/events"
	"github.com/wolfman30/leadstitch/internal/leads"
	"github.com/wolfman30/leadstitch/internal/observability/metrics"
	"github.com/wolfman30/leadstitch/internal/phone"
	"github.com/wolfman30/leadstitch/pkg/logging"
)

type resolver interface {
	Resolve(ctx context.Context, in correlation.Inbound) (correlation.MatchResult, error)
}

type converter interface {
	Convert(ctx context.Context, match correlation.MatchResult, req conversion.Request) (conversion.Outcome, error)
	CreateDirect(ctx context.Context, req conversion.Request) (conversion.Outcome, error)
	DirectEnabled() bool
}

type messageClassifier interface {
	Apply(ctx context.Context, lead *leads.Lead, msg classifier.Message) (*leads.Lead, classifier.StatusTransition, error)
	Record(ctx context.Context, lead *leads.Lead, msg classifier.Message) (bool, error)
}

type leadFinder interface {
	FindByPhones(ctx context.Context, phones []string) (*leads.Lead, error)
}

type processedEventStore interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// Processor routes one inbound or outbound message through correlation,
// conversion and classification.
type Processor struct {
	resolver   resolver
	converter  converter
	classifier messageClassifier
	leads      leadFinder
	processed  processedEventStore
	publisher  events.Publisher
	normalizer phone.Normalizer
	metrics    *metrics.AttributionMetrics
	logger     *logging.Logger
}

// ProcessorOption customizes a Processor.
type ProcessorOption func(*Processor)

// WithProcessedStore skips messages whose id was already handled.
func WithProcessedStore(store processedEventStore) ProcessorOption {
	return func(p *Processor) {
		p.processed = store
	}
}

// WithEventPublisher records unattributed messages.
func WithEventPublisher(publisher events.Publisher) ProcessorOption {
	return func(p *Processor) {
		p.publisher = publisher
	}
}

func WithProcessorMetrics(m *metrics.AttributionMetrics) ProcessorOption {
	return func(p *Processor) {
		p.metrics = m
	}
}

func WithPhoneNormalizer(n phone.Normalizer) ProcessorOption {
	return func(p *Processor) {
		p.normalizer = n
	}
}

func NewProcessor(r resolver, conv converter, cls messageClassifier, finder leadFinder, logger *logging.Logger, opts ...ProcessorOption) *Processor {
	if r == nil || conv == nil || cls == nil || finder == nil {
		panic("inbound: resolver, converter, classifier and lead finder are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	p := &Processor{
		resolver:   r,
		converter:  conv,
		classifier: cls,
		leads:      finder,
		normalizer: phone.NewNormalizer(""),
		logger:     logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Handle processes msg once. A returned error other than ErrInvalidMessage
// means the message was not processed and may be redelivered.
func (p *Processor) Handle(ctx context.Context, msg Message) error {
	if err := msg.Normalize(); err != nil {
		return err
	}
	start := time.Now()
	defer func() {
		p.metrics.ObserveLatency("process", time.Since(start).Seconds())
	}()

	if p.processed != nil {
		done, err := p.processed.AlreadyProcessed(ctx, Provider, msg.ID)
		if err != nil {
			return fmt.Errorf("inbound: check processed: %w", err)
		}
		if done {
			p.logger.Info("skipping already processed message", "message_id", msg.ID)
			return nil
		}
	}

	var err error
	if msg.Direction == chathistory.DirectionOutbound {
		err = p.handleOutbound(ctx, msg)
	} else {
		err = p.handleInbound(ctx, msg)
	}
	if err != nil {
		return err
	}

	if p.processed != nil {
		if _, err := p.processed.MarkProcessed(ctx, Provider, msg.ID); err != nil {
			p.logger.Warn("failed to mark message processed", "message_id", msg.ID, "error", err)
		}
	}
	return nil
}

func (p *Processor) handleInbound(ctx context.Context, msg Message) error {
	match, err := p.resolver.Resolve(ctx, correlation.Inbound{
		Phone:       msg.Phone,
		Text:        msg.Text,
		MessageID:   msg.ID,
		Timestamp:   msg.Timestamp,
		ContactName: msg.ContactName,
		ClickID:     msg.ClickID,
	})
	if err != nil {
		return fmt.Errorf("inbound: resolve %s: %w", msg.ID, err)
	}

	req := conversion.Request{
		Phone:       msg.Phone,
		Text:        msg.Text,
		MessageID:   msg.ID,
		Timestamp:   msg.Timestamp,
		ContactName: msg.ContactName,
		ClickID:     msg.ClickID,
		SourceURL:   msg.SourceURL,
		SourceID:    msg.SourceID,
	}

	if match.Resolved {
		out, err := p.converter.Convert(ctx, match, req)
		if err != nil {
			return fmt.Errorf("inbound: convert %s: %w", msg.ID, err)
		}
		return p.record(ctx, out.Lead, msg)
	}

	lead, err := p.findLead(ctx, msg.Phone)
	if err != nil {
		return err
	}
	if lead != nil {
		if _, _, err := p.classifier.Apply(ctx, lead, classifierMessage(msg)); err != nil {
			return fmt.Errorf("inbound: classify %s: %w", msg.ID, err)
		}
		return nil
	}

	if p.converter.DirectEnabled() {
		out, err := p.converter.CreateDirect(ctx, req)
		if err != nil {
			return fmt.Errorf("inbound: direct lead %s: %w", msg.ID, err)
		}
		return p.record(ctx, out.Lead, msg)
	}

	p.metrics.ObserveConversion("unattributed")
	p.logger.Info("inbound message left unattributed", "phone", msg.Phone, "message_id", msg.ID)
	if p.publisher != nil {
		if _, err := p.publisher.Publish(ctx, "phone:"+msg.Phone, msg.ID, events.UnattributedMessageV1{
			Phone:      msg.Phone,
			MessageID:  msg.ID,
			Body:       msg.Text,
			ReceivedAt: msg.Timestamp,
		}); err != nil {
			p.logger.Error("failed to publish unattributed message", "message_id", msg.ID, "error", err)
		}
	}
	return nil
}

func (p *Processor) handleOutbound(ctx context.Context, msg Message) error {
	lead, err := p.findLead(ctx, msg.Phone)
	if err != nil {
		return err
	}
	if lead == nil {
		p.logger.Info("outbound message for unknown lead ignored", "phone", msg.Phone, "message_id", msg.ID)
		return nil
	}
	if _, _, err := p.classifier.Apply(ctx, lead, classifierMessage(msg)); err != nil {
		return fmt.Errorf("inbound: classify %s: %w", msg.ID, err)
	}
	return nil
}

func (p *Processor) findLead(ctx context.Context, rawPhone string) (*leads.Lead, error) {
	lead, err := p.leads.FindByPhones(ctx, p.normalizer.Variations(rawPhone))
	if errors.Is(err, leads.ErrLeadNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("inbound: find lead: %w", err)
	}
	return lead, nil
}

func (p *Processor) record(ctx context.Context, lead *leads.Lead, msg Message) error {
	if lead == nil {
		return nil
	}
	if _, err := p.classifier.Record(ctx, lead, classifierMessage(msg)); err != nil {
		return fmt.Errorf("inbound: record %s: %w", msg.ID, err)
	}
	return nil
}

func classifierMessage(msg Message) classifier.Message {
	return classifier.Message{ID: msg.ID, Text: msg.Text, At: msg.Timestamp, Direction: msg.Direction}
}
