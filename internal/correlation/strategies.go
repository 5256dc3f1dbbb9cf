package correlation

import (
	"context"
	"errors"
	"time"

	"github.com/wolfman30/leadstitch/internal/attribution"
	"github.com/wolfman30/leadstitch/pkg/logging"
)

func windowQuery(req Request, window time.Duration) attribution.PendingQuery {
	return attribution.PendingQuery{Since: req.Timestamp.Add(-window), Until: req.Timestamp}
}

// find maps ErrNotFound to a miss.
func find(ctx context.Context, store attribution.PendingStore, q attribution.PendingQuery) (*attribution.PendingAttribution, error) {
	p, err := store.FindPending(ctx, q)
	if errors.Is(err, attribution.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// AdClickStrategy matches on the ad platform click id carried by the
// message or by a recent pending record.
type AdClickStrategy struct {
	pending attribution.PendingStore
	clicks  attribution.ClickStore
	window  time.Duration
}

func NewAdClickStrategy(pending attribution.PendingStore, clicks attribution.ClickStore, window time.Duration) *AdClickStrategy {
	return &AdClickStrategy{pending: pending, clicks: clicks, window: window}
}

func (s *AdClickStrategy) Name() StrategyName { return StrategyAdClickID }

func (s *AdClickStrategy) Match(ctx context.Context, req Request) (MatchResult, bool, error) {
	type candidate struct {
		clickID string
		pending *attribution.PendingAttribution
	}
	var candidates []candidate

	// A click id on the message pins the match to that click; pending
	// metadata is only consulted when the message carries none.
	if req.ClickID != "" {
		q := windowQuery(req, s.window)
		q.ClickID = req.ClickID
		p, err := find(ctx, s.pending, q)
		if err != nil {
			return MatchResult{}, false, err
		}
		candidates = append(candidates, candidate{clickID: req.ClickID, pending: p})
	} else {
		p, err := s.recentWithClickID(ctx, req)
		if err != nil {
			return MatchResult{}, false, err
		}
		if p != nil {
			candidates = append(candidates, candidate{clickID: p.ClickMetadata.CtwaClid, pending: p})
		}
	}

	for _, c := range candidates {
		trace, err := s.clicks.GetClick(ctx, c.clickID)
		if errors.Is(err, attribution.ErrNotFound) {
			continue
		}
		if err != nil {
			return MatchResult{}, false, err
		}
		return MatchResult{Resolved: true, Strategy: StrategyAdClickID, Pending: c.pending, Trace: trace}, true, nil
	}
	return MatchResult{}, false, nil
}

// recentWithClickID looks for a pending record carrying a click id, first for
// the sender's phone and then among placeholders.
func (s *AdClickStrategy) recentWithClickID(ctx context.Context, req Request) (*attribution.PendingAttribution, error) {
	if len(req.Variations) > 0 {
		q := windowQuery(req, s.window)
		q.Phones = req.Variations
		q.RequireClickID = true
		p, err := find(ctx, s.pending, q)
		if err != nil || p != nil {
			return p, err
		}
	}
	q := windowQuery(req, s.window)
	q.Placeholder = true
	q.RequireClickID = true
	return find(ctx, s.pending, q)
}

// ExactPhoneStrategy matches pending records stored under any variation of the sender's phone.
type ExactPhoneStrategy struct {
	pending attribution.PendingStore
	window  time.Duration
}

func NewExactPhoneStrategy(pending attribution.PendingStore, window time.Duration) *ExactPhoneStrategy {
	return &ExactPhoneStrategy{pending: pending, window: window}
}

func (s *ExactPhoneStrategy) Name() StrategyName { return StrategyExactPhone }

func (s *ExactPhoneStrategy) Match(ctx context.Context, req Request) (MatchResult, bool, error) {
	if len(req.Variations) == 0 {
		return MatchResult{}, false, nil
	}
	q := windowQuery(req, s.window)
	q.Phones = req.Variations
	p, err := find(ctx, s.pending, q)
	if err != nil || p == nil {
		return MatchResult{}, false, err
	}
	return MatchResult{Resolved: true, Strategy: StrategyExactPhone, Pending: p}, true, nil
}

// PlaceholderStrategy matches the most recent pending record whose phone is still unknown.
type PlaceholderStrategy struct {
	pending attribution.PendingStore
	window  time.Duration
}

func NewPlaceholderStrategy(pending attribution.PendingStore, window time.Duration) *PlaceholderStrategy {
	return &PlaceholderStrategy{pending: pending, window: window}
}

func (s *PlaceholderStrategy) Name() StrategyName { return StrategyPlaceholder }

func (s *PlaceholderStrategy) Match(ctx context.Context, req Request) (MatchResult, bool, error) {
	q := windowQuery(req, s.window)
	q.Placeholder = true
	p, err := find(ctx, s.pending, q)
	if err != nil || p == nil {
		return MatchResult{}, false, err
	}
	return MatchResult{Resolved: true, Strategy: StrategyPlaceholder, Pending: p}, true, nil
}

// FingerprintStrategy narrows candidates through the last device fingerprint
// seen for the sender's phone. Fingerprint lookups are best effort.
type FingerprintStrategy struct {
	pending      attribution.PendingStore
	fingerprints attribution.FingerprintStore
	window       time.Duration
	logger       *logging.Logger
}

func NewFingerprintStrategy(pending attribution.PendingStore, fingerprints attribution.FingerprintStore, window time.Duration, logger *logging.Logger) *FingerprintStrategy {
	if logger == nil {
		logger = logging.Default()
	}
	return &FingerprintStrategy{pending: pending, fingerprints: fingerprints, window: window, logger: logger}
}

func (s *FingerprintStrategy) Name() StrategyName { return StrategyFingerprint }

func (s *FingerprintStrategy) Match(ctx context.Context, req Request) (MatchResult, bool, error) {
	if len(req.Variations) == 0 {
		return MatchResult{}, false, nil
	}
	fp, err := s.fingerprints.LatestFingerprint(ctx, req.Variations)
	if err != nil {
		if !errors.Is(err, attribution.ErrNotFound) {
			s.logger.Warn("fingerprint lookup failed", "phone", req.Phone, "error", err)
		}
		return MatchResult{}, false, nil
	}
	if fp.CampaignID == "" && fp.DeviceSessionID == "" {
		return MatchResult{}, false, nil
	}

	q := windowQuery(req, s.window)
	q.CampaignID = fp.CampaignID
	if fp.DeviceSessionID != "" {
		sq := q
		sq.DeviceSessionID = fp.DeviceSessionID
		p, err := find(ctx, s.pending, sq)
		if err != nil {
			return MatchResult{}, false, err
		}
		if p != nil {
			return MatchResult{Resolved: true, Strategy: StrategyFingerprint, Pending: p, Fingerprint: fp}, true, nil
		}
	}
	if q.CampaignID == "" {
		return MatchResult{}, false, nil
	}
	p, err := find(ctx, s.pending, q)
	if err != nil || p == nil {
		return MatchResult{}, false, err
	}
	return MatchResult{Resolved: true, Strategy: StrategyFingerprint, Pending: p, Fingerprint: fp}, true, nil
}
