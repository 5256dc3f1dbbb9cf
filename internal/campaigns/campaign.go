// Package campaigns holds the campaign registry: ownership and the keyword
// lists that drive outbound message classification.
package campaigns

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound  = errors.New("campaigns: campaign not found")
	ErrInvalidID = errors.New("campaigns: campaign id required")
)

// Campaign is a marketing campaign and its owning user.
type Campaign struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"user_id"`
	Name                 string    `json:"name"`
	ConversionKeywords   []string  `json:"conversion_keywords"`
	CancellationKeywords []string  `json:"cancellation_keywords"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Registry resolves campaigns by id.
type Registry interface {
	Get(ctx context.Context, id string) (*Campaign, error)
	Put(ctx context.Context, c *Campaign) error
}

func normalize(c *Campaign, now time.Time) error {
	c.ID = strings.TrimSpace(c.ID)
	if c.ID == "" {
		return ErrInvalidID
	}
	c.ConversionKeywords = cleanKeywords(c.ConversionKeywords)
	c.CancellationKeywords = cleanKeywords(c.CancellationKeywords)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	return nil
}

func cleanKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, kw := range in {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// MemoryStore is an in-process Registry.
type MemoryStore struct {
	mu        sync.RWMutex
	campaigns map[string]Campaign
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{campaigns: make(map[string]Campaign)}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *MemoryStore) Put(ctx context.Context, c *Campaign) error {
	if err := normalize(c, time.Now().UTC()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.campaigns[c.ID]; ok {
		c.CreatedAt = existing.CreatedAt
	}
	s.campaigns[c.ID] = *c
	return nil
}
