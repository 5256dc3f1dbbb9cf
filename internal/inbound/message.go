// Package inbound carries normalized WhatsApp messages from the webhook to
// the attribution engine through a queue.
package inbound

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/leadstitch/internal/chathistory"
	"github.com/wolfman30/leadstitch/internal/phone"
)

// ErrInvalidMessage marks a message that can never be processed.
var ErrInvalidMessage = errors.New("inbound: phone and message id required")

// Provider is the idempotency namespace of inbound messages.
const Provider = "whatsapp"

// Message is the transport-neutral view of one chat message.
type Message struct {
	ID          string                `json:"id"`
	Phone       string                `json:"phone"`
	Text        string                `json:"text"`
	Timestamp   time.Time             `json:"timestamp"`
	ContactName string                `json:"contact_name,omitempty"`
	Direction   chathistory.Direction `json:"direction"`
	ClickID     string                `json:"click_id,omitempty"`
	SourceURL   string                `json:"source_url,omitempty"`
	SourceID    string                `json:"source_id,omitempty"`
}

// Normalize trims fields, canonicalizes the phone and fills defaults.
func (m *Message) Normalize() error {
	m.ID = strings.TrimSpace(m.ID)
	m.Phone = phone.Normalize(m.Phone)
	m.ContactName = strings.TrimSpace(m.ContactName)
	m.ClickID = strings.TrimSpace(m.ClickID)
	if m.ID == "" || m.Phone == "" {
		return ErrInvalidMessage
	}
	if m.Direction != chathistory.DirectionOutbound {
		m.Direction = chathistory.DirectionInbound
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	return nil
}

func encodeMessage(msg Message) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("inbound: failed to encode message: %w", err)
	}
	return string(body), nil
}

func decodeMessage(body string) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return Message{}, fmt.Errorf("inbound: failed to decode message: %w", err)
	}
	return msg, nil
}
