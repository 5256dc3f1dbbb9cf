package events

import (
	"context"
	"sync"

	"github.com/wolfman30/leadstitch/pkg/logging"
)

// Publisher records domain events for downstream delivery.
type Publisher interface {
	Publish(ctx context.Context, aggregate, correlationID string, evt CanonicalEvent, opts ...EnvelopeOption) (Envelope, error)
}

// OutboxPublisher appends events to the Postgres outbox; a Deliverer ships them later.
type OutboxPublisher struct {
	store *OutboxStore
}

func NewOutboxPublisher(store *OutboxStore) *OutboxPublisher {
	if store == nil {
		panic("events: outbox store required")
	}
	return &OutboxPublisher{store: store}
}

func (p *OutboxPublisher) Publish(ctx context.Context, aggregate, correlationID string, evt CanonicalEvent, opts ...EnvelopeOption) (Envelope, error) {
	return p.store.Insert(ctx, aggregate, correlationID, evt, opts...)
}

// MemoryPublisher keeps envelopes in process and hands each one to an
// optional handler right away. Used when no database is configured.
type MemoryPublisher struct {
	mu        sync.Mutex
	envelopes []Envelope
	handler   DeliveryHandler
	logger    *logging.Logger
	limit     int
}

func NewMemoryPublisher(handler DeliveryHandler, logger *logging.Logger) *MemoryPublisher {
	if logger == nil {
		logger = logging.Default()
	}
	return &MemoryPublisher{handler: handler, logger: logger, limit: 1000}
}

func (p *MemoryPublisher) Publish(ctx context.Context, aggregate, correlationID string, evt CanonicalEvent, opts ...EnvelopeOption) (Envelope, error) {
	env, err := newEnvelope(aggregate, correlationID, evt, opts...)
	if err != nil {
		return Envelope{}, err
	}
	p.mu.Lock()
	p.envelopes = append(p.envelopes, env)
	if len(p.envelopes) > p.limit {
		p.envelopes = p.envelopes[len(p.envelopes)-p.limit:]
	}
	p.mu.Unlock()

	if p.handler != nil {
		entry := OutboxEntry{
			ID:        env.EventID,
			Aggregate: env.Aggregate,
			EventType: env.EventType,
			Envelope:  env,
			CreatedAt: nowFunc().UTC(),
		}
		if err := p.handler.Handle(ctx, entry); err != nil {
			p.logger.Warn("in-memory event delivery failed", "error", err, "type", env.EventType)
		}
	}
	return env, nil
}

// Envelopes returns the retained envelopes, optionally filtered by type.
func (p *MemoryPublisher) Envelopes(eventType string) []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Envelope, 0, len(p.envelopes))
	for _, env := range p.envelopes {
		if eventType == "" || env.EventType == eventType {
			out = append(out, env)
		}
	}
	return out
}
