package classifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/leadstitch/internal/campaigns"
	"github.com/wolfman30/leadstitch/internal/chathistory"
	"github.com/wolfman30/leadstitch/internal/events"
	"github.com/wolfman30/leadstitch/internal/leads"
	"github.com/wolfman30/leadstitch/internal/observability/metrics"
	"github.com/wolfman30/leadstitch/pkg/logging"
)

// HistoryAppender records chat messages. Append reports false for replays.
type HistoryAppender interface {
	Append(ctx context.Context, msg chathistory.Message) (bool, error)
}

// Option configures a Service.
type Option func(*Service)

func WithCampaigns(registry campaigns.Registry) Option {
	return func(s *Service) {
		s.campaigns = registry
	}
}

func WithTieBreak(tb TieBreak) Option {
	return func(s *Service) {
		if tb != "" {
			s.tieBreak = tb
		}
	}
}

func WithMetrics(m *metrics.AttributionMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// Service persists classified messages and emits the matching events.
type Service struct {
	leads     leads.Repository
	history   HistoryAppender
	publisher events.Publisher
	campaigns campaigns.Registry
	tieBreak  TieBreak
	metrics   *metrics.AttributionMetrics
	logger    *logging.Logger
}

func NewService(repo leads.Repository, history HistoryAppender, publisher events.Publisher, logger *logging.Logger, opts ...Option) *Service {
	if repo == nil {
		panic("classifier: leads repository required")
	}
	if history == nil {
		panic("classifier: history appender required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		leads:     repo,
		history:   history,
		publisher: publisher,
		tieBreak:  TieBreakLastMatch,
		logger:    logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Apply records msg and, unless it is a replay, classifies it against lead
// and saves the lead. The returned lead is the saved copy; replays return
// lead untouched with an unchanged transition.
func (s *Service) Apply(ctx context.Context, lead *leads.Lead, msg Message) (*leads.Lead, StatusTransition, error) {
	if lead == nil {
		return nil, StatusTransition{}, leads.ErrLeadNotFound
	}
	appended, err := s.append(ctx, lead, msg)
	if err != nil {
		return nil, StatusTransition{}, err
	}
	if !appended {
		return lead, StatusTransition{From: lead.Status, To: lead.Status}, nil
	}

	policy := Policy{TieBreak: s.tieBreak}
	if msg.Direction == chathistory.DirectionOutbound {
		policy = PolicyFor(s.campaign(ctx, lead.CampaignID), s.tieBreak)
	}

	updated := lead.Clone()
	tr := Classify(updated, msg, policy)
	if err := s.leads.Update(ctx, updated); err != nil {
		return nil, tr, fmt.Errorf("classifier: update lead %s: %w", lead.ID, err)
	}

	if tr.Changed {
		s.metrics.ObserveTransition(string(tr.From), string(tr.To))
		s.logger.Info("lead status changed",
			"lead_id", updated.ID,
			"from", tr.From,
			"to", tr.To,
			"keyword", tr.Keyword,
			"message_id", msg.ID,
		)
		s.publish(ctx, updated, msg.ID, events.LeadStatusChangedV1{
			LeadID:    updated.ID,
			UserID:    updated.UserID,
			From:      string(tr.From),
			To:        string(tr.To),
			Keyword:   tr.Keyword,
			Reason:    tr.Reason,
			MessageID: msg.ID,
			ChangedAt: updated.LastContactDate,
		})
	}
	s.announce(ctx, updated, msg)
	return updated, tr, nil
}

// Record appends msg to the lead's chat history and announces it. Replays
// of the same message id are reported as false and not announced.
func (s *Service) Record(ctx context.Context, lead *leads.Lead, msg Message) (bool, error) {
	appended, err := s.append(ctx, lead, msg)
	if err != nil || !appended {
		return false, err
	}
	s.announce(ctx, lead, msg)
	return true, nil
}

func (s *Service) append(ctx context.Context, lead *leads.Lead, msg Message) (bool, error) {
	entry := chathistory.Message{
		LeadID:    lead.ID,
		MessageID: msg.ID,
		Direction: msg.Direction,
		Body:      msg.Text,
		SentAt:    msg.At,
	}
	appended, err := s.history.Append(ctx, entry)
	if err != nil {
		return false, fmt.Errorf("classifier: append history for lead %s: %w", lead.ID, err)
	}
	if !appended {
		s.logger.Debug("chat message already recorded", "lead_id", lead.ID, "message_id", msg.ID)
	}
	return appended, nil
}

func (s *Service) announce(ctx context.Context, lead *leads.Lead, msg Message) {
	direction := msg.Direction
	if direction == "" {
		direction = chathistory.DirectionInbound
	}
	s.publish(ctx, lead, msg.ID, events.ChatMessageAppendedV1{
		LeadID:    lead.ID,
		UserID:    lead.UserID,
		MessageID: msg.ID,
		Direction: string(direction),
		Body:      msg.Text,
		SentAt:    msg.At,
	})
}

func (s *Service) campaign(ctx context.Context, id string) *campaigns.Campaign {
	if s.campaigns == nil || id == "" {
		return nil
	}
	c, err := s.campaigns.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, campaigns.ErrNotFound) {
			s.logger.Warn("campaign lookup failed; keywords skipped", "campaign_id", id, "error", err)
		}
		return nil
	}
	return c
}

func (s *Service) publish(ctx context.Context, lead *leads.Lead, correlationID string, evt events.CanonicalEvent) {
	if s.publisher == nil {
		return
	}
	if _, err := s.publisher.Publish(ctx, events.LeadAggregate(lead.ID), correlationID, evt, events.WithUserID(lead.UserID)); err != nil {
		s.logger.Error("failed to publish lead event", "lead_id", lead.ID, "type", evt.EventType(), "error", err)
	}
}
