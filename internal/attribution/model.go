// Package attribution stores the pre-contact records that inbound messages are
// later stitched to: pending attributions created at redirect time, ad click
// traces and device fingerprints.
package attribution

import (
	"strings"
	"time"

	"github.com/wolfman30/leadstitch/internal/phone"
)

// Status is the lifecycle state of a PendingAttribution.
type Status string

const (
	StatusPending                 Status = "pending"
	StatusConverted               Status = "converted"
	StatusConvertedViaCorrelation Status = "converted_via_correlation"
	StatusExpired                 Status = "expired"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusConverted || s == StatusConvertedViaCorrelation || s == StatusExpired
}

// UTM holds the optional campaign tagging parameters.
type UTM struct {
	Source   string `json:"utm_source,omitempty"`
	Medium   string `json:"utm_medium,omitempty"`
	Campaign string `json:"utm_campaign,omitempty"`
	Content  string `json:"utm_content,omitempty"`
	Term     string `json:"utm_term,omitempty"`
}

// ClickMetadata is the free-form payload captured at redirect time.
type ClickMetadata struct {
	CtwaClid                 string            `json:"ctwa_clid,omitempty"`
	Fbclid                   string            `json:"fbclid,omitempty"`
	Gclid                    string            `json:"gclid,omitempty"`
	UserAgent                string            `json:"user_agent,omitempty"`
	ScreenResolution         string            `json:"screen_resolution,omitempty"`
	Timezone                 string            `json:"timezone,omitempty"`
	Language                 string            `json:"language,omitempty"`
	IPAddress                string            `json:"ip_address,omitempty"`
	CorrelationWindowSeconds int               `json:"correlation_window_seconds,omitempty"`
	DeviceSessionID          string            `json:"device_session_id,omitempty"`
	Extra                    map[string]string `json:"extra,omitempty"`
}

// PendingAttribution is the unconfirmed attribution created before any message exists.
type PendingAttribution struct {
	ID            string        `json:"id"`
	Phone         string        `json:"phone"`
	CampaignID    string        `json:"campaign_id"`
	CampaignName  string        `json:"campaign_name,omitempty"`
	Name          string        `json:"name,omitempty"`
	UTM           UTM           `json:"utm"`
	ClickMetadata ClickMetadata `json:"click_metadata"`
	Status        Status        `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	ConvertedAt   *time.Time    `json:"converted_at,omitempty"`
	LeadID        string        `json:"lead_id,omitempty"`
	ResolvedBy    string        `json:"resolved_by,omitempty"`
	DelayMs       int64         `json:"delay_ms,omitempty"`
}

// IsPlaceholder reports whether the real phone is still unknown.
func (p *PendingAttribution) IsPlaceholder() bool {
	return p != nil && phone.IsSentinel(p.Phone)
}

// Window returns the effective correlation window for the record, never
// wider than limit.
func (p *PendingAttribution) Window(limit time.Duration) time.Duration {
	if p == nil || p.ClickMetadata.CorrelationWindowSeconds <= 0 {
		return limit
	}
	own := time.Duration(p.ClickMetadata.CorrelationWindowSeconds) * time.Second
	if own < limit {
		return own
	}
	return limit
}

// Within reports whether a message at ts falls inside the record's window.
func (p *PendingAttribution) Within(ts time.Time, limit time.Duration) bool {
	if p == nil {
		return false
	}
	if p.CreatedAt.After(ts) {
		return false
	}
	return ts.Sub(p.CreatedAt) <= p.Window(limit)
}

// AdClickTrace is written once when an ad-platform click happens.
type AdClickTrace struct {
	ClickID           string    `json:"click_id"`
	CampaignID        string    `json:"campaign_id"`
	DeviceFingerprint string    `json:"device_fingerprint,omitempty"`
	IPAddress         string    `json:"ip_address,omitempty"`
	SourceURL         string    `json:"source_url,omitempty"`
	SourceID          string    `json:"source_id,omitempty"`
	ClickedAt         time.Time `json:"clicked_at"`
}

// DeviceFingerprint narrows candidates when phone matching fails.
type DeviceFingerprint struct {
	ID               string    `json:"id"`
	Phone            string    `json:"phone,omitempty"`
	CampaignID       string    `json:"campaign_id,omitempty"`
	DeviceSessionID  string    `json:"device_session_id,omitempty"`
	Browser          string    `json:"browser,omitempty"`
	OS               string    `json:"os,omitempty"`
	DeviceType       string    `json:"device_type,omitempty"`
	City             string    `json:"city,omitempty"`
	Region           string    `json:"region,omitempty"`
	Country          string    `json:"country,omitempty"`
	ScreenResolution string    `json:"screen_resolution,omitempty"`
	Timezone         string    `json:"timezone,omitempty"`
	Language         string    `json:"language,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Finalization describes how a pending record was consumed.
type Finalization struct {
	Status     Status
	LeadID     string
	ResolvedBy string
	Delay      time.Duration
	At         time.Time
}

// PendingQuery selects pending candidates inside a time window.
type PendingQuery struct {
	Phones          []string
	Placeholder     bool
	CampaignID      string
	DeviceSessionID string
	ClickID         string
	RequireClickID  bool
	Since           time.Time
	Until           time.Time
}

func (q PendingQuery) matches(p *PendingAttribution) bool {
	if p.Status != StatusPending {
		return false
	}
	if !p.Within(q.Until, q.Until.Sub(q.Since)) {
		return false
	}
	if q.Placeholder {
		if !p.IsPlaceholder() {
			return false
		}
	} else if len(q.Phones) > 0 && !containsString(q.Phones, p.Phone) {
		return false
	}
	if q.CampaignID != "" && p.CampaignID != q.CampaignID {
		return false
	}
	if q.DeviceSessionID != "" && p.ClickMetadata.DeviceSessionID != q.DeviceSessionID {
		return false
	}
	if q.ClickID != "" && p.ClickMetadata.CtwaClid != q.ClickID {
		return false
	}
	if q.RequireClickID && strings.TrimSpace(p.ClickMetadata.CtwaClid) == "" {
		return false
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
