// Package conversion turns a correlation match into a lead and consumes the
// pending attribution that produced it.
package conversion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/leadstitch/internal/attribution"
	"github.com/wolfman30/leadstitch/internal/campaigns"
	"github.com/wolfman30/leadstitch/internal/correlation"
	"github.com/wolfman30/leadstitch/internal/events"
	"github.com/wolfman30/leadstitch/internal/leads"
	"github.com/wolfman30/leadstitch/internal/observability/metrics"
	"github.com/wolfman30/leadstitch/internal/phone"
	"github.com/wolfman30/leadstitch/pkg/logging"
)

var (
	// ErrUnresolved is returned when Convert is handed an unresolved match.
	ErrUnresolved = errors.New("conversion: match is unresolved")
	// ErrDirectDisabled is returned by CreateDirect when no default campaign is configured.
	ErrDirectDisabled = errors.New("conversion: direct lead path disabled")
)

// Outcome labels used for logs and metrics.
const (
	OutcomeCreated   = "created"
	OutcomeUpdated   = "updated"
	OutcomeDuplicate = "duplicate"
	OutcomeOrganic   = "organic"
)

// Request carries the inbound message fields the conversion needs.
type Request struct {
	Phone       string
	Text        string
	MessageID   string
	Timestamp   time.Time
	Status      leads.Status
	ContactName string

	// Referral fields carried by the message itself; used only when the
	// match left them empty.
	ClickID   string
	SourceURL string
	SourceID  string
}

// Outcome describes what Convert did to the lead store.
type Outcome struct {
	Lead      *leads.Lead
	Result    string
	Finalized bool
}

// Created reports whether the lead was inserted by this call.
func (o Outcome) Created() bool { return o.Result == OutcomeCreated || o.Result == OutcomeOrganic }

// Option configures a Converter.
type Option func(*Converter)

// WithCampaigns resolves the owning user of each campaign.
func WithCampaigns(registry campaigns.Registry) Option {
	return func(c *Converter) {
		c.campaigns = registry
	}
}

// WithMetrics records conversion outcomes.
func WithMetrics(m *metrics.AttributionMetrics) Option {
	return func(c *Converter) {
		c.metrics = m
	}
}

// WithNormalizer overrides the phone normalizer used for lead keys.
func WithNormalizer(n phone.Normalizer) Option {
	return func(c *Converter) {
		c.normalizer = n
	}
}

// WithDefaultCampaign enables CreateDirect for unattributed contacts.
func WithDefaultCampaign(campaignID string) Option {
	return func(c *Converter) {
		c.defaultCampaign = strings.TrimSpace(campaignID)
	}
}

// Converter applies resolved matches to the lead store.
type Converter struct {
	leads           leads.Repository
	pending         attribution.PendingStore
	publisher       events.Publisher
	campaigns       campaigns.Registry
	normalizer      phone.Normalizer
	metrics         *metrics.AttributionMetrics
	logger          *logging.Logger
	defaultCampaign string
	now             func() time.Time
}

func NewConverter(repo leads.Repository, pending attribution.PendingStore, publisher events.Publisher, logger *logging.Logger, opts ...Option) *Converter {
	if repo == nil {
		panic("conversion: leads repository required")
	}
	if pending == nil {
		panic("conversion: pending store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	c := &Converter{
		leads:      repo,
		pending:    pending,
		publisher:  publisher,
		normalizer: phone.NewNormalizer(""),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// DirectEnabled reports whether unattributed contacts may become leads.
func (c *Converter) DirectEnabled() bool {
	return c.defaultCampaign != ""
}

// Convert creates or updates the lead for a resolved match and finalizes the
// consumed pending record. Replaying the same message id is a no-op apart
// from re-finalizing the pending record.
func (c *Converter) Convert(ctx context.Context, match correlation.MatchResult, req Request) (Outcome, error) {
	if !match.Resolved {
		return Outcome{}, ErrUnresolved
	}
	canonical := phone.Normalize(req.Phone)
	if canonical == "" {
		return Outcome{}, leads.ErrMissingPhone
	}
	ts := req.Timestamp
	if ts.IsZero() {
		ts = c.now()
	}
	req.Timestamp = ts

	campaignID := match.CampaignID()
	userID := c.lookupUser(ctx, campaignID)
	corr := leads.Correlation{
		Strategy:   string(match.Strategy),
		DelayMs:    match.Delay(ts).Milliseconds(),
		PendingID:  pendingID(match),
		ClickID:    clickID(match),
		MessageID:  req.MessageID,
		ResolvedAt: c.now(),
	}
	attr := attributionFrom(match)
	attr.Merge(leads.Attribution{CtwaClid: req.ClickID, AdSourceURL: req.SourceURL, AdSourceID: req.SourceID})

	existing, err := c.leads.FindByPhones(ctx, c.normalizer.Variations(canonical))
	switch {
	case errors.Is(err, leads.ErrLeadNotFound):
		lead := &leads.Lead{
			Phone:            canonical,
			PhoneKey:         c.normalizer.Key(canonical),
			Name:             preferredName(match, req.ContactName),
			CampaignID:       campaignID,
			UserID:           userID,
			Status:           leads.StatusNew.Engage(req.Status),
			Attribution:      attr,
			Correlation:      corr,
			InitialMessage:   req.Text,
			LastMessage:      req.Text,
			FirstContactDate: ts,
			LastContactDate:  ts,
		}
		created, err := c.leads.CreateIfAbsent(ctx, lead)
		if err == nil {
			return c.finish(ctx, match, created, OutcomeCreated, false, req)
		}
		if !errors.Is(err, leads.ErrLeadExists) {
			return Outcome{}, fmt.Errorf("conversion: create lead: %w", err)
		}
		// Lost the create race; the winner's row takes the update path.
		existing, err = c.leads.FindByPhones(ctx, c.normalizer.Variations(canonical))
		if err != nil {
			return Outcome{}, fmt.Errorf("conversion: reload lead after conflict: %w", err)
		}
	case err != nil:
		return Outcome{}, fmt.Errorf("conversion: find lead: %w", err)
	}

	if req.MessageID != "" && existing.Correlation.MessageID == req.MessageID {
		return c.finish(ctx, match, existing, OutcomeDuplicate, false, req)
	}

	lead := existing.Clone()
	lead.Status = lead.Status.Engage(req.Status)
	lead.LastMessage = req.Text
	if ts.After(lead.LastContactDate) {
		lead.LastContactDate = ts
	}
	if lead.InitialMessage == "" {
		lead.InitialMessage = req.Text
	}
	if lead.Name == "" {
		lead.Name = preferredName(match, req.ContactName)
	}
	if lead.CampaignID == "" {
		lead.CampaignID = campaignID
	}
	if lead.UserID == "" {
		lead.UserID = userID
	}
	attrChanged := lead.Attribution.Merge(attr)
	lead.Correlation = corr
	if err := c.leads.Update(ctx, lead); err != nil {
		return Outcome{}, fmt.Errorf("conversion: update lead: %w", err)
	}
	return c.finish(ctx, match, lead, OutcomeUpdated, attrChanged, req)
}

func (c *Converter) finish(ctx context.Context, match correlation.MatchResult, lead *leads.Lead, result string, attrChanged bool, req Request) (Outcome, error) {
	out := Outcome{Lead: lead, Result: result}
	if match.Pending != nil {
		ok, err := c.pending.FinalizePending(ctx, match.Pending.ID, attribution.Finalization{
			Status:     match.Strategy.PendingStatus(),
			LeadID:     lead.ID,
			ResolvedBy: string(match.Strategy),
			Delay:      match.Delay(req.Timestamp),
			At:         c.now(),
		})
		if err != nil {
			return Outcome{}, fmt.Errorf("conversion: finalize pending %s: %w", match.Pending.ID, err)
		}
		out.Finalized = ok
	}

	c.metrics.ObserveConversion(result)
	c.logger.Info("lead conversion applied",
		"lead_id", lead.ID,
		"result", result,
		"strategy", match.Strategy,
		"pending_id", pendingID(match),
		"message_id", req.MessageID,
		"finalized", out.Finalized,
	)

	switch result {
	case OutcomeCreated:
		c.publish(ctx, lead, createdEvent(lead))
	case OutcomeUpdated:
		c.publish(ctx, lead, events.LeadUpdatedV1{
			LeadID:             lead.ID,
			UserID:             lead.UserID,
			CampaignID:         lead.CampaignID,
			Status:             string(lead.Status),
			Strategy:           lead.Correlation.Strategy,
			AttributionChanged: attrChanged,
			MessageID:          req.MessageID,
			UpdatedAt:          lead.UpdatedAt,
		})
	}
	return out, nil
}

// CreateDirect creates an explicitly unattributed lead under the default
// campaign. An existing lead for the phone is returned untouched.
func (c *Converter) CreateDirect(ctx context.Context, req Request) (Outcome, error) {
	if !c.DirectEnabled() {
		return Outcome{}, ErrDirectDisabled
	}
	canonical := phone.Normalize(req.Phone)
	if canonical == "" {
		return Outcome{}, leads.ErrMissingPhone
	}
	ts := req.Timestamp
	if ts.IsZero() {
		ts = c.now()
	}

	lead := &leads.Lead{
		Phone:      canonical,
		PhoneKey:   c.normalizer.Key(canonical),
		Name:       strings.TrimSpace(req.ContactName),
		CampaignID: c.defaultCampaign,
		UserID:     c.lookupUser(ctx, c.defaultCampaign),
		Status:     leads.StatusNew.Engage(req.Status),
		Correlation: leads.Correlation{
			Strategy:   string(correlation.StrategyOrganic),
			MessageID:  req.MessageID,
			ResolvedAt: c.now(),
		},
		InitialMessage:   req.Text,
		LastMessage:      req.Text,
		FirstContactDate: ts,
		LastContactDate:  ts,
	}
	created, err := c.leads.CreateIfAbsent(ctx, lead)
	if errors.Is(err, leads.ErrLeadExists) {
		existing, ferr := c.leads.FindByPhones(ctx, c.normalizer.Variations(canonical))
		if ferr != nil {
			return Outcome{}, fmt.Errorf("conversion: reload lead after conflict: %w", ferr)
		}
		return Outcome{Lead: existing, Result: OutcomeDuplicate}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("conversion: create direct lead: %w", err)
	}

	c.metrics.ObserveConversion(OutcomeOrganic)
	c.logger.Warn("unattributed lead created on default campaign",
		"lead_id", created.ID,
		"campaign_id", created.CampaignID,
		"message_id", req.MessageID,
	)
	c.publish(ctx, created, createdEvent(created))
	return Outcome{Lead: created, Result: OutcomeOrganic}, nil
}

func (c *Converter) publish(ctx context.Context, lead *leads.Lead, evt events.CanonicalEvent) {
	if c.publisher == nil {
		return
	}
	if _, err := c.publisher.Publish(ctx, events.LeadAggregate(lead.ID), lead.Correlation.MessageID, evt, events.WithUserID(lead.UserID)); err != nil {
		c.logger.Error("failed to publish lead event", "lead_id", lead.ID, "type", evt.EventType(), "error", err)
	}
}

// lookupUser is best effort; a missing campaign leaves the lead unowned.
func (c *Converter) lookupUser(ctx context.Context, campaignID string) string {
	if c.campaigns == nil || campaignID == "" {
		return ""
	}
	campaign, err := c.campaigns.Get(ctx, campaignID)
	if err != nil {
		if !errors.Is(err, campaigns.ErrNotFound) {
			c.logger.Warn("campaign lookup failed", "campaign_id", campaignID, "error", err)
		}
		return ""
	}
	return campaign.UserID
}

func createdEvent(lead *leads.Lead) events.LeadCreatedV1 {
	return events.LeadCreatedV1{
		LeadID:      lead.ID,
		UserID:      lead.UserID,
		CampaignID:  lead.CampaignID,
		Phone:       lead.Phone,
		Name:        lead.Name,
		Status:      string(lead.Status),
		Strategy:    lead.Correlation.Strategy,
		PendingID:   lead.Correlation.PendingID,
		ClickID:     lead.Correlation.ClickID,
		DelayMs:     lead.Correlation.DelayMs,
		UTMSource:   lead.Attribution.UTMSource,
		UTMCampaign: lead.Attribution.UTMCampaign,
		MessageID:   lead.Correlation.MessageID,
		CreatedAt:   lead.CreatedAt,
	}
}

// preferredName favours the name typed into the original form over the
// messaging contact card.
func preferredName(match correlation.MatchResult, contactName string) string {
	if match.Pending != nil {
		if name := strings.TrimSpace(match.Pending.Name); name != "" {
			return name
		}
	}
	return strings.TrimSpace(contactName)
}

func pendingID(m correlation.MatchResult) string {
	if m.Pending == nil {
		return ""
	}
	return m.Pending.ID
}

func clickID(m correlation.MatchResult) string {
	if m.Trace != nil {
		return m.Trace.ClickID
	}
	if m.Pending != nil {
		return m.Pending.ClickMetadata.CtwaClid
	}
	return ""
}
