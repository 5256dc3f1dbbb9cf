package attribution

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/leadstitch/internal/phone"
)

var (
	// ErrNotFound is returned when no record matches a lookup.
	ErrNotFound = errors.New("attribution: not found")

	// ErrMissingCampaign is returned when a pending record has no campaign.
	ErrMissingCampaign = errors.New("attribution: campaign id is required")

	// ErrMissingClickID is returned when an ad click has no identifier.
	ErrMissingClickID = errors.New("attribution: click id is required")
)

// PendingStore persists pending attributions.
type PendingStore interface {
	// CreatePending inserts p and supersedes older pending records for the same phone.
	CreatePending(ctx context.Context, p *PendingAttribution) error
	// FindPending returns the most recent pending record matching q or ErrNotFound.
	FindPending(ctx context.Context, q PendingQuery) (*PendingAttribution, error)
	// FinalizePending moves a pending record to a terminal state. It reports
	// false when the record was already consumed.
	FinalizePending(ctx context.Context, id string, f Finalization) (bool, error)
	// ExpirePending marks pending records created before cutoff as expired.
	ExpirePending(ctx context.Context, cutoff time.Time) (int64, error)
}

// ClickStore persists write-once ad click traces.
type ClickStore interface {
	RecordClick(ctx context.Context, c *AdClickTrace) error
	GetClick(ctx context.Context, clickID string) (*AdClickTrace, error)
}

// FingerprintStore persists device fingerprints.
type FingerprintStore interface {
	RecordFingerprint(ctx context.Context, fp *DeviceFingerprint) error
	LatestFingerprint(ctx context.Context, phones []string) (*DeviceFingerprint, error)
}

// Store bundles every attribution store.
type Store interface {
	PendingStore
	ClickStore
	FingerprintStore
}

// preparePending validates p and fills defaults shared by all stores.
func preparePending(p *PendingAttribution, now time.Time) error {
	if p == nil {
		return errors.New("attribution: pending record required")
	}
	p.CampaignID = strings.TrimSpace(p.CampaignID)
	if p.CampaignID == "" {
		return ErrMissingCampaign
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if strings.TrimSpace(p.Phone) == "" || phone.IsSentinel(p.Phone) {
		p.Phone = phone.Sentinel
	} else {
		p.Phone = phone.Normalize(p.Phone)
		if p.Phone == "" {
			p.Phone = phone.Sentinel
		}
	}
	if p.ClickMetadata.DeviceSessionID == "" {
		p.ClickMetadata.DeviceSessionID = uuid.NewString()
	}
	p.Status = StatusPending
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	return nil
}

// MemoryStore is an in-process Store used by tests and local runs.
type MemoryStore struct {
	mu           sync.RWMutex
	normalizer   phone.Normalizer
	pending      map[string]*PendingAttribution
	clicks       map[string]*AdClickTrace
	fingerprints []*DeviceFingerprint
	now          func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(normalizer phone.Normalizer) *MemoryStore {
	return &MemoryStore{
		normalizer: normalizer,
		pending:    make(map[string]*PendingAttribution),
		clicks:     make(map[string]*AdClickTrace),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) CreatePending(ctx context.Context, p *PendingAttribution) error {
	if err := preparePending(p, s.now()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !p.IsPlaceholder() {
		vars := s.normalizer.Variations(p.Phone)
		for _, existing := range s.pending {
			if existing.Status == StatusPending && containsString(vars, existing.Phone) {
				existing.Status = StatusExpired
			}
		}
	}
	cp := *p
	s.pending[p.ID] = &cp
	return nil
}

func (s *MemoryStore) FindPending(ctx context.Context, q PendingQuery) (*PendingAttribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var candidates []*PendingAttribution
	for _, p := range s.pending {
		if q.matches(p) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNotFound
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].ID > candidates[j].ID
		}
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	cp := *candidates[0]
	return &cp, nil
}

func (s *MemoryStore) FinalizePending(ctx context.Context, id string, f Finalization) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	if !ok {
		return false, ErrNotFound
	}
	if p.Status != StatusPending {
		return false, nil
	}
	at := f.At
	if at.IsZero() {
		at = s.now()
	}
	p.Status = f.Status
	p.ConvertedAt = &at
	p.LeadID = f.LeadID
	p.ResolvedBy = f.ResolvedBy
	p.DelayMs = f.Delay.Milliseconds()
	return true, nil
}

func (s *MemoryStore) ExpirePending(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range s.pending {
		if p.Status == StatusPending && p.CreatedAt.Before(cutoff) {
			p.Status = StatusExpired
			n++
		}
	}
	return n, nil
}

// Pending returns a copy of the record with id, for inspection.
func (s *MemoryStore) Pending(id string) (*PendingAttribution, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pending[id]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

func (s *MemoryStore) RecordClick(ctx context.Context, c *AdClickTrace) error {
	if err := prepareClick(c, s.now()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.clicks[c.ClickID]; exists {
		return nil
	}
	cp := *c
	s.clicks[c.ClickID] = &cp
	return nil
}

func (s *MemoryStore) GetClick(ctx context.Context, clickID string) (*AdClickTrace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clicks[strings.TrimSpace(clickID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) RecordFingerprint(ctx context.Context, fp *DeviceFingerprint) error {
	if err := prepareFingerprint(fp, s.now()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *fp
	s.fingerprints = append(s.fingerprints, &cp)
	return nil
}

func (s *MemoryStore) LatestFingerprint(ctx context.Context, phones []string) (*DeviceFingerprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *DeviceFingerprint
	for _, fp := range s.fingerprints {
		if fp.Phone == "" || !containsString(phones, fp.Phone) {
			continue
		}
		if latest == nil || fp.CreatedAt.After(latest.CreatedAt) {
			latest = fp
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func prepareClick(c *AdClickTrace, now time.Time) error {
	if c == nil {
		return errors.New("attribution: click trace required")
	}
	c.ClickID = strings.TrimSpace(c.ClickID)
	if c.ClickID == "" {
		return ErrMissingClickID
	}
	if c.ClickedAt.IsZero() {
		c.ClickedAt = now
	}
	return nil
}

func prepareFingerprint(fp *DeviceFingerprint, now time.Time) error {
	if fp == nil {
		return errors.New("attribution: fingerprint required")
	}
	if fp.ID == "" {
		fp.ID = uuid.NewString()
	}
	fp.Phone = phone.Normalize(fp.Phone)
	if fp.CreatedAt.IsZero() {
		fp.CreatedAt = now
	}
	return nil
}
