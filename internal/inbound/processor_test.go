package inbound

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/leadstitch/internal/attribution"
	"github.com/wolfman30/leadstitch/internal/campaigns"
	"github.com/wolfman30/leadstitch/internal/chathistory"
	"github.com/wolfman30/leadstitch/internal/classifier"
	"github.com/wolfman30/leadstitch/internal/conversion"
	"github.com/wolfman30/leadstitch/internal/correlation"
	"github.com/wolfman30/leadstitch/internal/events"
	"github.com/wolfman30/leadstitch/internal/leads"
	"github.com/wolfman30/leadstitch/internal/phone"
)

var t0 = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

type engine struct {
	store     *attribution.MemoryStore
	repo      *leads.InMemoryRepository
	history   *chathistory.MemoryStore
	publisher *events.MemoryPublisher
	processed *events.MemoryProcessedStore
	processor *Processor
}

func newEngine(t *testing.T, store attribution.Store, convOpts ...conversion.Option) *engine {
	t.Helper()
	normalizer := phone.NewNormalizer("55")
	mem := attribution.NewMemoryStore(normalizer)
	if store == nil {
		store = mem
	}
	registry := campaigns.NewMemoryStore()
	require.NoError(t, registry.Put(context.Background(), &campaigns.Campaign{
		ID:                   "c1",
		UserID:               "user-1",
		ConversionKeywords:   []string{"pedido confirmado"},
		CancellationKeywords: []string{"cancelado"},
	}))

	e := &engine{
		store:     mem,
		repo:      leads.NewInMemoryRepository(),
		history:   chathistory.NewMemoryStore(),
		publisher: events.NewMemoryPublisher(nil, nil),
		processed: events.NewMemoryProcessedStore(),
	}
	orch := correlation.NewOrchestrator(correlation.RankedStrategies(store, nil, correlation.Windows{}, nil), normalizer, nil, nil)
	convOpts = append([]conversion.Option{conversion.WithCampaigns(registry), conversion.WithNormalizer(normalizer)}, convOpts...)
	conv := conversion.NewConverter(e.repo, store, e.publisher, nil, convOpts...)
	cls := classifier.NewService(e.repo, e.history, e.publisher, nil, classifier.WithCampaigns(registry))
	e.processor = NewProcessor(orch, conv, cls, e.repo, nil,
		WithProcessedStore(e.processed),
		WithEventPublisher(e.publisher),
		WithPhoneNormalizer(normalizer),
	)
	return e
}

func (e *engine) allLeads(t *testing.T) []*leads.Lead {
	t.Helper()
	all, err := e.repo.List(context.Background(), leads.ListFilter{})
	require.NoError(t, err)
	return all
}

func TestProcessorPlaceholderScenario(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()
	require.NoError(t, e.store.CreatePending(ctx, &attribution.PendingAttribution{Phone: phone.Sentinel, CampaignID: "c1", CreatedAt: t0}))

	err := e.processor.Handle(ctx, Message{ID: "wamid-1", Phone: "+55 85 99999-8888", Text: "Oi!", Timestamp: t0.Add(time.Minute), ContactName: "Ana"})
	require.NoError(t, err)

	all := e.allLeads(t)
	require.Len(t, all, 1)
	lead := all[0]
	assert.Equal(t, "c1", lead.CampaignID)
	assert.Equal(t, "placeholder_temporal", lead.Correlation.Strategy)
	assert.Equal(t, "Oi!", lead.InitialMessage)

	msgs, err := e.history.List(ctx, lead.ID, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	done, err := e.processed.AlreadyProcessed(ctx, Provider, "wamid-1")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestProcessorRedeliveryIsIdempotent(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()
	require.NoError(t, e.store.CreatePending(ctx, &attribution.PendingAttribution{Phone: "5585999998888", CampaignID: "c1", CreatedAt: t0}))

	msg := Message{ID: "wamid-1", Phone: "5585999998888", Text: "Oi", Timestamp: t0.Add(time.Minute)}
	require.NoError(t, e.processor.Handle(ctx, msg))
	require.NoError(t, e.processor.Handle(ctx, msg))

	// Without the processed store the lead and history must still dedupe.
	e.processor.processed = nil
	require.NoError(t, e.processor.Handle(ctx, msg))

	all := e.allLeads(t)
	require.Len(t, all, 1)
	msgs, err := e.history.List(ctx, all[0].ID, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Len(t, e.publisher.Envelopes(events.LeadCreatedV1{}.EventType()), 1)
	assert.Len(t, e.publisher.Envelopes(events.ChatMessageAppendedV1{}.EventType()), 1)
}

func TestProcessorOutboundCancellation(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()
	require.NoError(t, e.store.CreatePending(ctx, &attribution.PendingAttribution{Phone: "5585999998888", CampaignID: "c1", CreatedAt: t0}))
	require.NoError(t, e.processor.Handle(ctx, Message{ID: "in-1", Phone: "5585999998888", Text: "Oi", Timestamp: t0.Add(time.Minute)}))

	err := e.processor.Handle(ctx, Message{ID: "out-1", Phone: "85999998888", Text: "Seu pedido foi CANCELADO", Timestamp: t0.Add(time.Hour), Direction: chathistory.DirectionOutbound})
	require.NoError(t, err)

	lead := e.allLeads(t)[0]
	assert.Equal(t, leads.StatusCancelled, lead.Status)
	assert.Equal(t, "Oi", lead.InitialMessage)
	assert.Len(t, e.publisher.Envelopes(events.LeadStatusChangedV1{}.EventType()), 1)
}

func TestProcessorOutboundReplayDoesNotRegressStatus(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()
	require.NoError(t, e.store.CreatePending(ctx, &attribution.PendingAttribution{Phone: "5585999998888", CampaignID: "c1", CreatedAt: t0}))
	require.NoError(t, e.processor.Handle(ctx, Message{ID: "in-1", Phone: "5585999998888", Text: "Oi", Timestamp: t0.Add(time.Minute)}))

	cancel := Message{ID: "out-1", Phone: "5585999998888", Text: "pedido cancelado", Timestamp: t0.Add(time.Hour), Direction: chathistory.DirectionOutbound}
	require.NoError(t, e.processor.Handle(ctx, cancel))
	require.NoError(t, e.processor.Handle(ctx, Message{ID: "out-2", Phone: "5585999998888", Text: "pedido confirmado", Timestamp: t0.Add(2 * time.Hour), Direction: chathistory.DirectionOutbound}))

	// The processed store can miss a duplicate; history must still catch it.
	e.processor.processed = nil
	require.NoError(t, e.processor.Handle(ctx, cancel))

	lead := e.allLeads(t)[0]
	assert.Equal(t, leads.StatusConverted, lead.Status)
	assert.Equal(t, "pedido confirmado", lead.LastMessage)
	assert.Len(t, e.publisher.Envelopes(events.LeadStatusChangedV1{}.EventType()), 2)
	msgs, err := e.history.List(ctx, lead.ID, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestProcessorOutboundUnknownLead(t *testing.T) {
	e := newEngine(t, nil)
	err := e.processor.Handle(context.Background(), Message{ID: "out-1", Phone: "5585999998888", Text: "pedido confirmado", Direction: chathistory.DirectionOutbound})
	require.NoError(t, err)
	assert.Empty(t, e.allLeads(t))
}

func TestProcessorUnresolvedWithoutDirectPath(t *testing.T) {
	e := newEngine(t, nil)
	err := e.processor.Handle(context.Background(), Message{ID: "m1", Phone: "5585999998888", Text: "hello", Timestamp: t0})
	require.NoError(t, err)
	assert.Empty(t, e.allLeads(t))
	assert.Len(t, e.publisher.Envelopes(events.UnattributedMessageV1{}.EventType()), 1)
}

func TestProcessorUnresolvedDirectLead(t *testing.T) {
	e := newEngine(t, nil, conversion.WithDefaultCampaign("c1"))
	err := e.processor.Handle(context.Background(), Message{ID: "m1", Phone: "5585999998888", Text: "hello", Timestamp: t0})
	require.NoError(t, err)

	all := e.allLeads(t)
	require.Len(t, all, 1)
	assert.Equal(t, "organic", all[0].Correlation.Strategy)
	assert.Empty(t, e.publisher.Envelopes(events.UnattributedMessageV1{}.EventType()))
}

func TestProcessorUnresolvedExistingLeadIsClassified(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()
	require.NoError(t, e.store.CreatePending(ctx, &attribution.PendingAttribution{Phone: "5585999998888", CampaignID: "c1", CreatedAt: t0}))
	require.NoError(t, e.processor.Handle(ctx, Message{ID: "m1", Phone: "5585999998888", Text: "first", Timestamp: t0.Add(time.Minute)}))

	require.NoError(t, e.processor.Handle(ctx, Message{ID: "m2", Phone: "5585999998888", Text: "second", Timestamp: t0.Add(3 * time.Hour)}))

	all := e.allLeads(t)
	require.Len(t, all, 1)
	assert.Equal(t, "first", all[0].InitialMessage)
	assert.Equal(t, "second", all[0].LastMessage)
	assert.Equal(t, t0.Add(3*time.Hour), all[0].LastContactDate)
	msgs, err := e.history.List(ctx, all[0].ID, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

type brokenStore struct {
	*attribution.MemoryStore
}

func (b brokenStore) FindPending(context.Context, attribution.PendingQuery) (*attribution.PendingAttribution, error) {
	return nil, errors.New("db down")
}

func TestProcessorLookupFailureIsRetryable(t *testing.T) {
	store := brokenStore{MemoryStore: attribution.NewMemoryStore(phone.NewNormalizer("55"))}
	e := newEngine(t, store)
	ctx := context.Background()

	err := e.processor.Handle(ctx, Message{ID: "m1", Phone: "5585999998888", Text: "hi", Timestamp: t0})
	require.Error(t, err)
	var lookupErr *correlation.LookupError
	assert.ErrorAs(t, err, &lookupErr)

	done, err := e.processed.AlreadyProcessed(ctx, Provider, "m1")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestProcessorRejectsInvalidMessage(t *testing.T) {
	e := newEngine(t, nil)
	err := e.processor.Handle(context.Background(), Message{Phone: "5585999998888"})
	assert.ErrorIs(t, err, ErrInvalidMessage)
}
