// Package correlation resolves an inbound message to the pending attribution
// or ad click that produced it, using a ranked list of strategies.
package correlation

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/leadstitch/internal/attribution"
)

// StrategyName identifies how a match was produced.
type StrategyName string

const (
	StrategyAdClickID   StrategyName = "ad_click_id"
	StrategyExactPhone  StrategyName = "exact_phone"
	StrategyPlaceholder StrategyName = "placeholder_temporal"
	StrategyFingerprint StrategyName = "device_fingerprint"

	// StrategyOrganic marks leads created by the unattributed direct path.
	StrategyOrganic StrategyName = "organic"
	// StrategyNone labels an unresolved outcome in logs and metrics.
	StrategyNone StrategyName = "unresolved"
)

// PendingStatus returns the terminal status a pending record takes when
// consumed by this strategy.
func (s StrategyName) PendingStatus() attribution.Status {
	switch s {
	case StrategyPlaceholder, StrategyFingerprint:
		return attribution.StatusConvertedViaCorrelation
	default:
		return attribution.StatusConverted
	}
}

// Request is the normalized view of an inbound message the strategies work on.
type Request struct {
	Phone       string
	Variations  []string
	Text        string
	MessageID   string
	Timestamp   time.Time
	ContactName string
	ClickID     string
}

// MatchResult is either resolved, carrying the winning records, or unresolved.
type MatchResult struct {
	Resolved    bool
	Strategy    StrategyName
	Pending     *attribution.PendingAttribution
	Trace       *attribution.AdClickTrace
	Fingerprint *attribution.DeviceFingerprint
}

func Unresolved() MatchResult {
	return MatchResult{Strategy: StrategyNone}
}

// CampaignID prefers the pending record's campaign over the click trace's.
func (m MatchResult) CampaignID() string {
	if m.Pending != nil && m.Pending.CampaignID != "" {
		return m.Pending.CampaignID
	}
	if m.Trace != nil {
		return m.Trace.CampaignID
	}
	return ""
}

// Anchor is the time of the originating click or form event.
func (m MatchResult) Anchor() time.Time {
	if m.Pending != nil {
		return m.Pending.CreatedAt
	}
	if m.Trace != nil {
		return m.Trace.ClickedAt
	}
	return time.Time{}
}

// Delay is the elapsed time between the originating event and at, never negative.
func (m MatchResult) Delay(at time.Time) time.Duration {
	anchor := m.Anchor()
	if anchor.IsZero() || at.Before(anchor) {
		return 0
	}
	return at.Sub(anchor)
}

// Strategy attempts to resolve one request. ok is false on a miss; a non-nil
// error means the store could not be consulted.
type Strategy interface {
	Name() StrategyName
	Match(ctx context.Context, req Request) (MatchResult, bool, error)
}

// LookupError wraps a store failure raised while a strategy was running.
type LookupError struct {
	Strategy StrategyName
	Err      error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("correlation: %s lookup failed: %v", e.Strategy, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }
