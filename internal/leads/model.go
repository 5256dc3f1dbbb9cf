package leads

import (
	"strings"
	"time"
)

// Status is a lead's position in the sales funnel.
type Status string

const (
	StatusNew         Status = "new"
	StatusLead        Status = "lead"
	StatusQualified   Status = "qualified"
	StatusNegotiating Status = "negotiating"
	StatusConverted   Status = "converted"
	StatusCancelled   Status = "cancelled"
)

var funnelRank = map[Status]int{
	StatusNew:         0,
	StatusLead:        1,
	StatusQualified:   2,
	StatusNegotiating: 3,
	StatusConverted:   4,
	StatusCancelled:   4,
}

// Valid reports whether s is a known funnel status.
func (s Status) Valid() bool {
	_, ok := funnelRank[s]
	return ok
}

// Engage returns the status a lead should hold after new inbound activity.
// Only "new" is promoted; later funnel stages are never downgraded.
func (s Status) Engage(target Status) Status {
	if target == "" {
		target = StatusLead
	}
	if s == "" || s == StatusNew {
		return target
	}
	return s
}

// Attribution is the marketing-source data stitched onto a lead.
type Attribution struct {
	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMContent  string `json:"utm_content,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty"`

	CtwaClid    string `json:"ctwa_clid,omitempty"`
	Fbclid      string `json:"fbclid,omitempty"`
	Gclid       string `json:"gclid,omitempty"`
	AdSourceURL string `json:"ad_source_url,omitempty"`
	AdSourceID  string `json:"ad_source_id,omitempty"`

	DeviceSessionID  string `json:"device_session_id,omitempty"`
	Browser          string `json:"browser,omitempty"`
	OS               string `json:"os,omitempty"`
	DeviceType       string `json:"device_type,omitempty"`
	ScreenResolution string `json:"screen_resolution,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
	Language         string `json:"language,omitempty"`
	City             string `json:"city,omitempty"`
	Region           string `json:"region,omitempty"`
	Country          string `json:"country,omitempty"`
	IPAddress        string `json:"ip_address,omitempty"`
}

// Merge copies every non-empty field of src into empty fields of a.
// Fields that already hold a value are kept. It reports whether anything changed.
func (a *Attribution) Merge(src Attribution) bool {
	changed := false
	set := func(dst *string, v string) {
		if *dst == "" && strings.TrimSpace(v) != "" {
			*dst = v
			changed = true
		}
	}
	set(&a.UTMSource, src.UTMSource)
	set(&a.UTMMedium, src.UTMMedium)
	set(&a.UTMCampaign, src.UTMCampaign)
	set(&a.UTMContent, src.UTMContent)
	set(&a.UTMTerm, src.UTMTerm)
	set(&a.CtwaClid, src.CtwaClid)
	set(&a.Fbclid, src.Fbclid)
	set(&a.Gclid, src.Gclid)
	set(&a.AdSourceURL, src.AdSourceURL)
	set(&a.AdSourceID, src.AdSourceID)
	set(&a.DeviceSessionID, src.DeviceSessionID)
	set(&a.Browser, src.Browser)
	set(&a.OS, src.OS)
	set(&a.DeviceType, src.DeviceType)
	set(&a.ScreenResolution, src.ScreenResolution)
	set(&a.Timezone, src.Timezone)
	set(&a.Language, src.Language)
	set(&a.City, src.City)
	set(&a.Region, src.Region)
	set(&a.Country, src.Country)
	set(&a.IPAddress, src.IPAddress)
	return changed
}

// Correlation records how the lead was stitched to its attribution.
type Correlation struct {
	Strategy   string    `json:"strategy,omitempty"`
	DelayMs    int64     `json:"delay_ms,omitempty"`
	PendingID  string    `json:"pending_id,omitempty"`
	ClickID    string    `json:"click_id,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
}

// Lead is the CRM record for a contact, unique per phone key.
type Lead struct {
	ID               string      `json:"id"`
	Phone            string      `json:"phone"`
	PhoneKey         string      `json:"-"`
	Name             string      `json:"name,omitempty"`
	CampaignID       string      `json:"campaign_id,omitempty"`
	UserID           string      `json:"user_id,omitempty"`
	Status           Status      `json:"status"`
	Attribution      Attribution `json:"attribution"`
	Correlation      Correlation `json:"correlation"`
	InitialMessage   string      `json:"initial_message,omitempty"`
	LastMessage      string      `json:"last_message,omitempty"`
	FirstContactDate time.Time   `json:"first_contact_date"`
	LastContactDate  time.Time   `json:"last_contact_date"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Clone returns a copy safe to mutate.
func (l *Lead) Clone() *Lead {
	if l == nil {
		return nil
	}
	cp := *l
	return &cp
}

// ListFilter narrows List results.
type ListFilter struct {
	CampaignID string
	UserID     string
	Status     Status
	Limit      int
	Offset     int
}
