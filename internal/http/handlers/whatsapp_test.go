package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/leadstitch/internal/chathistory"
	"github.com/wolfman30/leadstitch/internal/inbound"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []inbound.Message
	err  error
}

func (p *recordingPublisher) Enqueue(_ context.Context, msg inbound.Message) error {
	if p.err != nil {
		return p.err
	}
	if err := msg.Normalize(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

const cloudPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "contacts": [{"wa_id": "5585999998888", "profile": {"name": "Ana"}}],
        "messages": [{
          "from": "5585999998888",
          "id": "wamid.ABC",
          "timestamp": "1773151200",
          "type": "text",
          "text": {"body": "Oi, vi o anúncio"},
          "referral": {"source_url": "https://fb.me/x", "source_id": "ad-1", "ctwa_clid": "clid-1"}
        }],
        "message_echoes": [{
          "from": "5585000000000",
          "to": "5585999998888",
          "id": "wamid.ECHO",
          "timestamp": "1773151260",
          "type": "text",
          "text": {"body": "Pedido confirmado!"}
        }]
      }
    }]
  }]
}`

func TestWhatsAppReceiveCloudPayload(t *testing.T) {
	pub := &recordingPublisher{}
	h := NewWhatsAppWebhookHandler(WhatsAppWebhookConfig{Publisher: pub, VerifyToken: "tok"})

	rec := httptest.NewRecorder()
	h.Receive(rec, httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(cloudPayload)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, pub.msgs, 2)

	in := pub.msgs[0]
	assert.Equal(t, "wamid.ABC", in.ID)
	assert.Equal(t, "5585999998888", in.Phone)
	assert.Equal(t, "Ana", in.ContactName)
	assert.Equal(t, "Oi, vi o anúncio", in.Text)
	assert.Equal(t, "clid-1", in.ClickID)
	assert.Equal(t, "ad-1", in.SourceID)
	assert.Equal(t, chathistory.DirectionInbound, in.Direction)
	assert.Equal(t, time.Unix(1773151200, 0).UTC(), in.Timestamp)

	out := pub.msgs[1]
	assert.Equal(t, "5585999998888", out.Phone)
	assert.Equal(t, chathistory.DirectionOutbound, out.Direction)
}

func TestWhatsAppReceiveFlatPayload(t *testing.T) {
	pub := &recordingPublisher{}
	h := NewWhatsAppWebhookHandler(WhatsAppWebhookConfig{Publisher: pub})

	body := `{"remotePhone":"85 99999-8888","messageText":"cancelado","messageId":"m1","timestamp":1773151200000,"fromMe":true}`
	rec := httptest.NewRecorder()
	h.Receive(rec, httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "85999998888", pub.msgs[0].Phone)
	assert.Equal(t, chathistory.DirectionOutbound, pub.msgs[0].Direction)
	assert.Equal(t, time.UnixMilli(1773151200000).UTC(), pub.msgs[0].Timestamp)
}

func TestWhatsAppReceiveErrors(t *testing.T) {
	h := NewWhatsAppWebhookHandler(WhatsAppWebhookConfig{Publisher: &recordingPublisher{}})
	rec := httptest.NewRecorder()
	h.Receive(rec, httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(`{"foo":"bar"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	failing := NewWhatsAppWebhookHandler(WhatsAppWebhookConfig{Publisher: &recordingPublisher{err: errors.New("sqs down")}})
	rec = httptest.NewRecorder()
	failing.Receive(rec, httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(`{"remotePhone":"5585999998888","messageId":"m1"}`)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// Messages without an id are skipped, not retried.
	pub := &recordingPublisher{}
	skipping := NewWhatsAppWebhookHandler(WhatsAppWebhookConfig{Publisher: pub})
	rec = httptest.NewRecorder()
	skipping.Receive(rec, httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(`{"remotePhone":"5585999998888"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, pub.msgs)
}

func TestWhatsAppVerify(t *testing.T) {
	h := NewWhatsAppWebhookHandler(WhatsAppWebhookConfig{Publisher: &recordingPublisher{}, VerifyToken: "secret"})

	rec := httptest.NewRecorder()
	h.Verify(rec, httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=secret&hub.challenge=42", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", rec.Body.String())

	rec = httptest.NewRecorder()
	h.Verify(rec, httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=42", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestParseTimestamp(t *testing.T) {
	assert.True(t, parseTimestamp(nil).IsZero())
	assert.True(t, parseTimestamp([]byte(`"garbage"`)).IsZero())
	assert.Equal(t, time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC), parseTimestamp([]byte(`"2026-03-10T11:00:00-03:00"`)))
	assert.Equal(t, time.Unix(1773151200, 0).UTC(), parseTimestamp([]byte(`1773151200`)))
}
