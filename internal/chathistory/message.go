// Package chathistory keeps the per-lead message log.
package chathistory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Direction tells who sent a message.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Message is one chat entry attached to a lead.
type Message struct {
	LeadID    string    `json:"lead_id"`
	MessageID string    `json:"message_id"`
	Direction Direction `json:"direction"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sent_at"`
}

var ErrInvalidMessage = errors.New("chathistory: lead id and message id required")

// Store persists chat messages. Append reports false when the
// (lead, message id) pair was already recorded.
type Store interface {
	Append(ctx context.Context, msg Message) (bool, error)
	List(ctx context.Context, leadID string, limit int) ([]Message, error)
}

func validate(msg *Message) error {
	if msg.LeadID == "" || msg.MessageID == "" {
		return ErrInvalidMessage
	}
	if msg.Direction == "" {
		msg.Direction = DirectionInbound
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	return nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	msgs map[string][]Message
	seen map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		msgs: make(map[string][]Message),
		seen: make(map[string]struct{}),
	}
}

func (s *MemoryStore) Append(ctx context.Context, msg Message) (bool, error) {
	if err := validate(&msg); err != nil {
		return false, err
	}
	key := msg.LeadID + "|" + msg.MessageID
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[key]; dup {
		return false, nil
	}
	s.seen[key] = struct{}{}
	s.msgs[msg.LeadID] = append(s.msgs[msg.LeadID], msg)
	return true, nil
}

// List returns the newest limit messages in chronological order.
func (s *MemoryStore) List(ctx context.Context, leadID string, limit int) ([]Message, error) {
	s.mu.RLock()
	out := append([]Message(nil), s.msgs[leadID]...)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	if out == nil {
		out = []Message{}
	}
	return out, nil
}
