package campaigns

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/leadstitch/pkg/logging"
)

// Handler provides HTTP endpoints for campaign management.
type Handler struct {
	registry Registry
	logger   *logging.Logger
}

func NewHandler(registry Registry, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{registry: registry, logger: logger}
}

// Routes returns a chi router with campaign routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{campaignID}", h.GetCampaign)
	r.Put("/{campaignID}", h.PutCampaign)
	return r
}

// GetCampaign handles GET /campaigns/{campaignID}
func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignID")
	c, err := h.registry.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, `{"error": "campaign not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to get campaign", "campaign_id", id, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(c); err != nil {
		h.logger.Error("failed to encode campaign", "campaign_id", id, "error", err)
	}
}

// PutCampaignRequest is the body accepted by PUT /campaigns/{campaignID}.
type PutCampaignRequest struct {
	UserID               string   `json:"user_id"`
	Name                 string   `json:"name"`
	ConversionKeywords   []string `json:"conversion_keywords"`
	CancellationKeywords []string `json:"cancellation_keywords"`
}

// PutCampaign creates or replaces a campaign.
func (h *Handler) PutCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignID")
	var req PutCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	c := &Campaign{
		ID:                   id,
		UserID:               req.UserID,
		Name:                 req.Name,
		ConversionKeywords:   req.ConversionKeywords,
		CancellationKeywords: req.CancellationKeywords,
	}
	if err := h.registry.Put(r.Context(), c); err != nil {
		if errors.Is(err, ErrInvalidID) {
			http.Error(w, `{"error": "campaign id required"}`, http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to save campaign", "campaign_id", id, "error", err)
		http.Error(w, `{"error": "failed to save campaign"}`, http.StatusInternalServerError)
		return
	}

	h.logger.Info("campaign saved", "campaign_id", c.ID, "user_id", c.UserID)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(c); err != nil {
		h.logger.Error("failed to encode campaign", "campaign_id", id, "error", err)
	}
}
