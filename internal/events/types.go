package events

import "time"

// LeadCreatedV1 is emitted once per lead, when the first message creates it.
type LeadCreatedV1 struct {
	LeadID      string    `json:"lead_id"`
	UserID      string    `json:"user_id,omitempty"`
	CampaignID  string    `json:"campaign_id,omitempty"`
	Phone       string    `json:"phone"`
	Name        string    `json:"name,omitempty"`
	Status      string    `json:"status"`
	Strategy    string    `json:"strategy,omitempty"`
	PendingID   string    `json:"pending_id,omitempty"`
	ClickID     string    `json:"click_id,omitempty"`
	DelayMs     int64     `json:"delay_ms,omitempty"`
	UTMSource   string    `json:"utm_source,omitempty"`
	UTMCampaign string    `json:"utm_campaign,omitempty"`
	MessageID   string    `json:"message_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (LeadCreatedV1) EventType() string { return "leads.lead.created.v1" }

// LeadUpdatedV1 is emitted when an existing lead absorbs a new contact or attribution.
type LeadUpdatedV1 struct {
	LeadID             string    `json:"lead_id"`
	UserID             string    `json:"user_id,omitempty"`
	CampaignID         string    `json:"campaign_id,omitempty"`
	Status             string    `json:"status"`
	Strategy           string    `json:"strategy,omitempty"`
	AttributionChanged bool      `json:"attribution_changed"`
	MessageID          string    `json:"message_id,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (LeadUpdatedV1) EventType() string { return "leads.lead.updated.v1" }

// LeadStatusChangedV1 is emitted when a lead moves through the funnel.
type LeadStatusChangedV1 struct {
	LeadID    string    `json:"lead_id"`
	UserID    string    `json:"user_id,omitempty"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Keyword   string    `json:"keyword,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

func (LeadStatusChangedV1) EventType() string { return "leads.lead.status_changed.v1" }

// ChatMessageAppendedV1 is emitted for every message added to a lead's history.
type ChatMessageAppendedV1 struct {
	LeadID    string    `json:"lead_id"`
	UserID    string    `json:"user_id,omitempty"`
	MessageID string    `json:"message_id"`
	Direction string    `json:"direction"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sent_at"`
}

func (ChatMessageAppendedV1) EventType() string { return "leads.chat.message_appended.v1" }

// UnattributedMessageV1 records an inbound message that produced no lead.
type UnattributedMessageV1 struct {
	Phone      string    `json:"phone"`
	MessageID  string    `json:"message_id"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

func (UnattributedMessageV1) EventType() string { return "leads.message.unattributed.v1" }
