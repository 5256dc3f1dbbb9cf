package classifier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/leadstitch/internal/campaigns"
	"github.com/wolfman30/leadstitch/internal/chathistory"
	"github.com/wolfman30/leadstitch/internal/events"
	"github.com/wolfman30/leadstitch/internal/leads"
)

var t0 = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func basePolicy(tb TieBreak) Policy {
	return Policy{
		ConversionKeywords:   []string{"pedido confirmado", "pagamento recebido"},
		CancellationKeywords: []string{"cancelado", "desistiu"},
		TieBreak:             tb,
	}
}

func TestClassifyInboundKeepsInitialMessage(t *testing.T) {
	lead := &leads.Lead{Status: leads.StatusLead, InitialMessage: "first", LastContactDate: t0}
	tr := Classify(lead, Message{ID: "m2", Text: "pedido confirmado?", At: t0.Add(time.Hour), Direction: chathistory.DirectionInbound}, basePolicy(""))

	assert.False(t, tr.Changed)
	assert.Equal(t, ReasonInbound, tr.Reason)
	assert.Equal(t, leads.StatusLead, lead.Status)
	assert.Equal(t, "first", lead.InitialMessage)
	assert.Equal(t, "pedido confirmado?", lead.LastMessage)
	assert.Equal(t, t0.Add(time.Hour), lead.LastContactDate)
}

func TestClassifyInboundSetsMissingInitialMessage(t *testing.T) {
	lead := &leads.Lead{Status: leads.StatusNew}
	Classify(lead, Message{Text: "olá", At: t0}, basePolicy(""))
	assert.Equal(t, "olá", lead.InitialMessage)
}

func TestClassifyOutbound(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		tb      TieBreak
		want    leads.Status
		keyword string
		changed bool
	}{
		{"conversion", "Seu PEDIDO CONFIRMADO, obrigado!", TieBreakLastMatch, leads.StatusConverted, "pedido confirmado", true},
		{"cancellation", "O cliente desistiu da compra", TieBreakLastMatch, leads.StatusCancelled, "desistiu", true},
		{"no keyword", "Bom dia, tudo bem?", TieBreakLastMatch, leads.StatusLead, "", false},
		{"both last match", "pagamento recebido mas pedido cancelado", TieBreakLastMatch, leads.StatusCancelled, "cancelado", true},
		{"both conversion wins", "cancelado e depois pedido confirmado", TieBreakConversion, leads.StatusConverted, "pedido confirmado", true},
		{"both cancellation wins", "pedido confirmado, cancelado", TieBreakCancellation, leads.StatusCancelled, "cancelado", true},
		{"text position conversion later", "cancelado antes, agora pedido confirmado", TieBreakTextPosition, leads.StatusConverted, "pedido confirmado", true},
		{"text position cancellation later", "pedido confirmado mas cancelado", TieBreakTextPosition, leads.StatusCancelled, "cancelado", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lead := &leads.Lead{Status: leads.StatusLead, InitialMessage: "hi"}
			tr := Classify(lead, Message{ID: "o1", Text: tc.text, At: t0, Direction: chathistory.DirectionOutbound}, basePolicy(tc.tb))
			assert.Equal(t, tc.want, tr.To)
			assert.Equal(t, tc.want, lead.Status)
			assert.Equal(t, tc.keyword, tr.Keyword)
			assert.Equal(t, tc.changed, tr.Changed)
			assert.Equal(t, leads.StatusLead, tr.From)
			assert.Equal(t, "hi", lead.InitialMessage)
		})
	}
}

func TestClassifyOutboundNeverSetsInitialMessage(t *testing.T) {
	lead := &leads.Lead{Status: leads.StatusLead}
	Classify(lead, Message{Text: "Olá, aqui é a equipe", At: t0, Direction: chathistory.DirectionOutbound}, basePolicy(""))
	assert.Empty(t, lead.InitialMessage)
	assert.Equal(t, "Olá, aqui é a equipe", lead.LastMessage)
}

func TestClassifySameStatusIsNotAChange(t *testing.T) {
	lead := &leads.Lead{Status: leads.StatusConverted}
	tr := Classify(lead, Message{Text: "pagamento recebido", At: t0, Direction: chathistory.DirectionOutbound}, basePolicy(""))
	assert.False(t, tr.Changed)
	assert.Equal(t, ReasonConversion, tr.Reason)
}

func TestParseTieBreak(t *testing.T) {
	tb, err := ParseTieBreak("")
	require.NoError(t, err)
	assert.Equal(t, TieBreakLastMatch, tb)

	tb, err = ParseTieBreak(" Text_Position ")
	require.NoError(t, err)
	assert.Equal(t, TieBreakTextPosition, tb)

	_, err = ParseTieBreak("random")
	assert.Error(t, err)
}

func TestPolicyForNilCampaign(t *testing.T) {
	p := PolicyFor(nil, TieBreakConversion)
	target, _ := p.match("pedido confirmado")
	assert.Empty(t, target)
}

func newService(t *testing.T) (*Service, *leads.InMemoryRepository, *chathistory.MemoryStore, *events.MemoryPublisher) {
	t.Helper()
	repo := leads.NewInMemoryRepository()
	history := chathistory.NewMemoryStore()
	publisher := events.NewMemoryPublisher(nil, nil)
	registry := campaigns.NewMemoryStore()
	require.NoError(t, registry.Put(context.Background(), &campaigns.Campaign{
		ID:                   "c1",
		UserID:               "user-1",
		ConversionKeywords:   []string{"pedido confirmado"},
		CancellationKeywords: []string{"cancelado"},
	}))
	return NewService(repo, history, publisher, nil, WithCampaigns(registry)), repo, history, publisher
}

func seedLead(t *testing.T, repo *leads.InMemoryRepository) *leads.Lead {
	t.Helper()
	lead, err := repo.CreateIfAbsent(context.Background(), &leads.Lead{
		Phone: "5585999998888", PhoneKey: "5585999998888", CampaignID: "c1", UserID: "user-1", Status: leads.StatusLead, InitialMessage: "oi",
	})
	require.NoError(t, err)
	return lead
}

func TestServiceApplyCancellation(t *testing.T) {
	svc, repo, history, publisher := newService(t)
	lead := seedLead(t, repo)
	ctx := context.Background()

	updated, tr, err := svc.Apply(ctx, lead, Message{ID: "o1", Text: "Pedido CANCELADO pelo cliente", At: t0, Direction: chathistory.DirectionOutbound})
	require.NoError(t, err)
	assert.True(t, tr.Changed)
	assert.Equal(t, leads.StatusCancelled, updated.Status)

	stored, err := repo.GetByID(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, leads.StatusCancelled, stored.Status)
	assert.Equal(t, "oi", stored.InitialMessage)

	msgs, err := history.List(ctx, lead.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, chathistory.DirectionOutbound, msgs[0].Direction)

	changed := publisher.Envelopes(events.LeadStatusChangedV1{}.EventType())
	require.Len(t, changed, 1)
	assert.Equal(t, "user-1", changed[0].UserID)
	var payload events.LeadStatusChangedV1
	require.NoError(t, changed[0].Decode(&payload))
	assert.Equal(t, "lead", payload.From)
	assert.Equal(t, "cancelled", payload.To)
	assert.Equal(t, "cancelado", payload.Keyword)
	assert.Len(t, publisher.Envelopes(events.ChatMessageAppendedV1{}.EventType()), 1)
}

func TestServiceRecordIsIdempotent(t *testing.T) {
	svc, repo, history, publisher := newService(t)
	lead := seedLead(t, repo)
	ctx := context.Background()
	msg := Message{ID: "wamid-1", Text: "quero comprar", At: t0}

	_, _, err := svc.Apply(ctx, lead, msg)
	require.NoError(t, err)
	_, _, err = svc.Apply(ctx, lead, msg)
	require.NoError(t, err)

	msgs, err := history.List(ctx, lead.ID, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Len(t, publisher.Envelopes(events.ChatMessageAppendedV1{}.EventType()), 1)
	assert.Empty(t, publisher.Envelopes(events.LeadStatusChangedV1{}.EventType()))
}

func TestServiceApplyReplayKeepsNewerStatus(t *testing.T) {
	svc, repo, _, publisher := newService(t)
	lead := seedLead(t, repo)
	ctx := context.Background()
	cancel := Message{ID: "o1", Text: "pedido cancelado", At: t0, Direction: chathistory.DirectionOutbound}

	_, _, err := svc.Apply(ctx, lead, cancel)
	require.NoError(t, err)
	current, err := repo.GetByID(ctx, lead.ID)
	require.NoError(t, err)
	current.Status = leads.StatusConverted
	current.LastMessage = "pedido confirmado"
	require.NoError(t, repo.Update(ctx, current))

	got, tr, err := svc.Apply(ctx, current, cancel)
	require.NoError(t, err)
	assert.False(t, tr.Changed)
	assert.Equal(t, leads.StatusConverted, got.Status)

	stored, err := repo.GetByID(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, leads.StatusConverted, stored.Status)
	assert.Equal(t, "pedido confirmado", stored.LastMessage)
	assert.Len(t, publisher.Envelopes(events.LeadStatusChangedV1{}.EventType()), 1)
}

func TestServiceApplyMissingLead(t *testing.T) {
	svc, _, _, _ := newService(t)
	_, _, err := svc.Apply(context.Background(), &leads.Lead{ID: "ghost"}, Message{ID: "m", Text: "x", At: t0})
	assert.ErrorIs(t, err, leads.ErrLeadNotFound)
}
