package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/leadstitch/internal/chathistory"
	"github.com/wolfman30/leadstitch/internal/inbound"
)

var errUnknownPayload = errors.New("handlers: unrecognized whatsapp payload")

type cloudWebhook struct {
	Object string       `json:"object"`
	Entry  []cloudEntry `json:"entry"`
}

type cloudEntry struct {
	ID      string        `json:"id"`
	Changes []cloudChange `json:"changes"`
}

type cloudChange struct {
	Field string     `json:"field"`
	Value cloudValue `json:"value"`
}

type cloudValue struct {
	Contacts      []cloudContact `json:"contacts"`
	Messages      []cloudMessage `json:"messages"`
	MessageEchoes []cloudMessage `json:"message_echoes"`
}

type cloudContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type cloudMessage struct {
	From      string `json:"from"`
	To        string `json:"to"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Button *struct {
		Text string `json:"text"`
	} `json:"button,omitempty"`
	Interactive *struct {
		ButtonReply *struct {
			Title string `json:"title"`
		} `json:"button_reply,omitempty"`
		ListReply *struct {
			Title string `json:"title"`
		} `json:"list_reply,omitempty"`
	} `json:"interactive,omitempty"`
	Image    *mediaCaption  `json:"image,omitempty"`
	Video    *mediaCaption  `json:"video,omitempty"`
	Document *mediaCaption  `json:"document,omitempty"`
	Referral *cloudReferral `json:"referral,omitempty"`
}

type mediaCaption struct {
	Caption string `json:"caption"`
}

type cloudReferral struct {
	SourceURL string `json:"source_url"`
	SourceID  string `json:"source_id"`
	CtwaClid  string `json:"ctwa_clid"`
}

func (m cloudMessage) body() string {
	switch {
	case m.Text != nil:
		return m.Text.Body
	case m.Button != nil:
		return m.Button.Text
	case m.Interactive != nil && m.Interactive.ButtonReply != nil:
		return m.Interactive.ButtonReply.Title
	case m.Interactive != nil && m.Interactive.ListReply != nil:
		return m.Interactive.ListReply.Title
	case m.Image != nil && m.Image.Caption != "":
		return m.Image.Caption
	case m.Video != nil && m.Video.Caption != "":
		return m.Video.Caption
	case m.Document != nil && m.Document.Caption != "":
		return m.Document.Caption
	case m.Type != "":
		return "[" + m.Type + "]"
	}
	return ""
}

// flatWebhook is the simplified shape relayed by WhatsApp gateway providers.
type flatWebhook struct {
	RemotePhone string          `json:"remotePhone"`
	MessageText string          `json:"messageText"`
	MessageID   string          `json:"messageId"`
	Timestamp   json.RawMessage `json:"timestamp"`
	ContactName string          `json:"contactName"`
	FromMe      bool            `json:"fromMe"`
	CtwaClid    string          `json:"ctwaClid"`
	SourceURL   string          `json:"sourceUrl"`
	SourceID    string          `json:"sourceId"`
}

// parseWhatsAppPayload converts either payload shape into inbound messages.
// Status callbacks produce no messages.
func parseWhatsAppPayload(body []byte) ([]inbound.Message, error) {
	var cloud cloudWebhook
	if err := json.Unmarshal(body, &cloud); err != nil {
		return nil, err
	}
	if cloud.Object != "" || len(cloud.Entry) > 0 {
		return cloud.messages(), nil
	}

	var flat flatWebhook
	if err := json.Unmarshal(body, &flat); err != nil {
		return nil, err
	}
	if flat.MessageID == "" && flat.RemotePhone == "" {
		return nil, errUnknownPayload
	}
	msg := inbound.Message{
		ID:          flat.MessageID,
		Phone:       flat.RemotePhone,
		Text:        flat.MessageText,
		Timestamp:   parseTimestamp(flat.Timestamp),
		ContactName: flat.ContactName,
		Direction:   chathistory.DirectionInbound,
		ClickID:     flat.CtwaClid,
		SourceURL:   flat.SourceURL,
		SourceID:    flat.SourceID,
	}
	if flat.FromMe {
		msg.Direction = chathistory.DirectionOutbound
	}
	return []inbound.Message{msg}, nil
}

func (w cloudWebhook) messages() []inbound.Message {
	var out []inbound.Message
	for _, entry := range w.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range change.Value.Messages {
				msg := inbound.Message{
					ID:          m.ID,
					Phone:       m.From,
					Text:        m.body(),
					Timestamp:   parseTimestamp(json.RawMessage(strconv.Quote(m.Timestamp))),
					ContactName: names[m.From],
					Direction:   chathistory.DirectionInbound,
				}
				if ref := m.Referral; ref != nil {
					msg.ClickID = ref.CtwaClid
					msg.SourceURL = ref.SourceURL
					msg.SourceID = ref.SourceID
				}
				out = append(out, msg)
			}
			for _, m := range change.Value.MessageEchoes {
				out = append(out, inbound.Message{
					ID:        m.ID,
					Phone:     m.To,
					Text:      m.body(),
					Timestamp: parseTimestamp(json.RawMessage(strconv.Quote(m.Timestamp))),
					Direction: chathistory.DirectionOutbound,
				})
			}
		}
	}
	return out
}

// parseTimestamp accepts unix seconds or milliseconds, as a number or a
// string, and RFC3339 strings. Unparseable values yield the zero time.
func parseTimestamp(raw json.RawMessage) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}
	}
	value := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &value); err != nil {
			return time.Time{}
		}
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC()
		}
		return time.Unix(n, 0).UTC()
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC()
	}
	return time.Time{}
}
