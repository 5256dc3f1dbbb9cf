package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/wolfman30/leadstitch/internal/inbound"
	observemetrics "github.com/wolfman30/leadstitch/internal/observability/metrics"
	"github.com/wolfman30/leadstitch/pkg/logging"
)

const maxWebhookBody = 1 << 20

type inboundPublisher interface {
	Enqueue(ctx context.Context, msg inbound.Message) error
}

// WhatsAppWebhookHandler accepts WhatsApp message webhooks and queues them
// for the inbound worker.
type WhatsAppWebhookHandler struct {
	publisher   inboundPublisher
	verifyToken string
	metrics     *observemetrics.AttributionMetrics
	logger      *logging.Logger
}

type WhatsAppWebhookConfig struct {
	Publisher   inboundPublisher
	VerifyToken string
	Metrics     *observemetrics.AttributionMetrics
	Logger      *logging.Logger
}

func NewWhatsAppWebhookHandler(cfg WhatsAppWebhookConfig) *WhatsAppWebhookHandler {
	if cfg.Publisher == nil {
		panic("handlers: inbound publisher required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &WhatsAppWebhookHandler{
		publisher:   cfg.Publisher,
		verifyToken: cfg.VerifyToken,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}
}

// Verify answers the subscription handshake.
func (h *WhatsAppWebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if h.verifyToken == "" || q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != h.verifyToken {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

// Receive parses the webhook and enqueues every message it carries. Any
// enqueue failure answers 500 so the provider redelivers.
func (h *WhatsAppWebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	messages, err := parseWhatsAppPayload(body)
	if err != nil {
		h.metrics.ObserveWebhook("unknown", "invalid")
		h.logger.Warn("invalid whatsapp payload", "error", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	for _, msg := range messages {
		if err := h.publisher.Enqueue(r.Context(), msg); err != nil {
			if errors.Is(err, inbound.ErrInvalidMessage) {
				h.metrics.ObserveWebhook(string(msg.Direction), "skipped")
				h.logger.Warn("skipping whatsapp message without id or phone", "message_id", msg.ID)
				continue
			}
			h.metrics.ObserveWebhook(string(msg.Direction), "error")
			h.logger.Error("failed to enqueue whatsapp message", "message_id", msg.ID, "error", err)
			http.Error(w, "processing error", http.StatusInternalServerError)
			return
		}
		h.metrics.ObserveWebhook(string(msg.Direction), "accepted")
	}
	h.metrics.ObserveLatency("webhook", time.Since(start).Seconds())
	w.WriteHeader(http.StatusOK)
}
