package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/leadstitch/internal/attribution"
	observemetrics "github.com/wolfman30/leadstitch/internal/observability/metrics"
	"github.com/wolfman30/leadstitch/pkg/logging"
)

const maxTrackingBody = 64 << 10

type pendingWriter interface {
	CreatePending(ctx context.Context, p *attribution.PendingAttribution) error
}

type clickWriter interface {
	RecordClick(ctx context.Context, c *attribution.AdClickTrace) error
}

type fingerprintWriter interface {
	RecordFingerprint(ctx context.Context, fp *attribution.DeviceFingerprint) error
}

// TrackingHandler ingests redirect, ad click and device fingerprint events.
type TrackingHandler struct {
	pending      pendingWriter
	clicks       clickWriter
	fingerprints fingerprintWriter
	metrics      *observemetrics.AttributionMetrics
	logger       *logging.Logger
}

type TrackingConfig struct {
	Pending      pendingWriter
	Clicks       clickWriter
	Fingerprints fingerprintWriter
	Metrics      *observemetrics.AttributionMetrics
	Logger       *logging.Logger
}

func NewTrackingHandler(cfg TrackingConfig) *TrackingHandler {
	if cfg.Pending == nil || cfg.Clicks == nil || cfg.Fingerprints == nil {
		panic("handlers: tracking stores required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &TrackingHandler{
		pending:      cfg.Pending,
		clicks:       cfg.Clicks,
		fingerprints: cfg.Fingerprints,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
	}
}

// RedirectRequest is the body of POST /track/redirect.
type RedirectRequest struct {
	CampaignID    string                    `json:"campaign_id"`
	CampaignName  string                    `json:"campaign_name,omitempty"`
	Phone         string                    `json:"phone,omitempty"`
	Name          string                    `json:"name,omitempty"`
	UTMSource     string                    `json:"utm_source,omitempty"`
	UTMMedium     string                    `json:"utm_medium,omitempty"`
	UTMCampaign   string                    `json:"utm_campaign,omitempty"`
	UTMContent    string                    `json:"utm_content,omitempty"`
	UTMTerm       string                    `json:"utm_term,omitempty"`
	ClickMetadata attribution.ClickMetadata `json:"click_metadata"`
}

type redirectResponse struct {
	ID              string    `json:"id"`
	Phone           string    `json:"phone"`
	Status          string    `json:"status"`
	DeviceSessionID string    `json:"device_session_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// Redirect records a PendingAttribution. A missing phone stores the
// placeholder sentinel.
func (h *TrackingHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req RedirectRequest
	if err := decodeBody(w, r, &req); err != nil {
		jsonError(w, "invalid payload", http.StatusBadRequest)
		return
	}
	meta := req.ClickMetadata
	if meta.IPAddress == "" {
		meta.IPAddress = clientIP(r)
	}
	if meta.UserAgent == "" {
		meta.UserAgent = r.UserAgent()
	}
	p := &attribution.PendingAttribution{
		Phone:        req.Phone,
		CampaignID:   req.CampaignID,
		CampaignName: strings.TrimSpace(req.CampaignName),
		Name:         strings.TrimSpace(req.Name),
		UTM: attribution.UTM{
			Source:   req.UTMSource,
			Medium:   req.UTMMedium,
			Campaign: req.UTMCampaign,
			Content:  req.UTMContent,
			Term:     req.UTMTerm,
		},
		ClickMetadata: meta,
	}
	if err := h.pending.CreatePending(r.Context(), p); err != nil {
		if errors.Is(err, attribution.ErrMissingCampaign) {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to record pending attribution", "campaign_id", req.CampaignID, "error", err)
		jsonError(w, "server error", http.StatusInternalServerError)
		return
	}
	h.metrics.ObserveLatency("track_redirect", time.Since(start).Seconds())
	h.logger.Info("pending attribution recorded",
		"pending_id", p.ID,
		"campaign_id", p.CampaignID,
		"placeholder", p.IsPlaceholder(),
		"has_click_id", p.ClickMetadata.CtwaClid != "",
	)
	writeJSON(w, http.StatusCreated, redirectResponse{
		ID:              p.ID,
		Phone:           p.Phone,
		Status:          string(p.Status),
		DeviceSessionID: p.ClickMetadata.DeviceSessionID,
		CreatedAt:       p.CreatedAt,
	})
}

// Click records a write-once AdClickTrace.
func (h *TrackingHandler) Click(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var trace attribution.AdClickTrace
	if err := decodeBody(w, r, &trace); err != nil {
		jsonError(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if trace.IPAddress == "" {
		trace.IPAddress = clientIP(r)
	}
	if err := h.clicks.RecordClick(r.Context(), &trace); err != nil {
		if errors.Is(err, attribution.ErrMissingClickID) {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to record ad click", "click_id", trace.ClickID, "error", err)
		jsonError(w, "server error", http.StatusInternalServerError)
		return
	}
	h.metrics.ObserveLatency("track_click", time.Since(start).Seconds())
	writeJSON(w, http.StatusCreated, map[string]string{"click_id": trace.ClickID})
}

// Fingerprint records a DeviceFingerprint.
func (h *TrackingHandler) Fingerprint(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var fp attribution.DeviceFingerprint
	if err := decodeBody(w, r, &fp); err != nil {
		jsonError(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if fp.Phone == "" && fp.DeviceSessionID == "" {
		jsonError(w, "phone or device_session_id required", http.StatusBadRequest)
		return
	}
	if err := h.fingerprints.RecordFingerprint(r.Context(), &fp); err != nil {
		h.logger.Error("failed to record fingerprint", "error", err)
		jsonError(w, "server error", http.StatusInternalServerError)
		return
	}
	h.metrics.ObserveLatency("track_fingerprint", time.Since(start).Seconds())
	writeJSON(w, http.StatusCreated, map[string]string{"id": fp.ID})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTrackingBody))
	return dec.Decode(v)
}
