package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/leadstitch/internal/campaigns"
	"github.com/wolfman30/leadstitch/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/leadstitch/internal/http/middleware"
	"github.com/wolfman30/leadstitch/internal/leads"
	"github.com/wolfman30/leadstitch/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger          *logging.Logger
	Tracking        *handlers.TrackingHandler
	WhatsApp        *handlers.WhatsAppWebhookHandler
	LeadsHandler    *leads.Handler
	CampaignHandler *campaigns.Handler
	LiveHub         http.Handler
	MetricsHandler  http.Handler
	AdminToken      string

	CORSAllowedOrigins []string

	// Per-IP budget for the tracking endpoints. Zero disables limiting.
	TrackingRateLimit float64
	TrackingRateBurst int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}

	r.Get("/health", healthCheck)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.Tracking != nil {
		r.Route("/track", func(track chi.Router) {
			if cfg.TrackingRateLimit > 0 {
				track.Use(httpmiddleware.RateLimit(cfg.TrackingRateLimit, cfg.TrackingRateBurst))
			}
			track.Post("/redirect", cfg.Tracking.Redirect)
			track.Post("/click", cfg.Tracking.Click)
			track.Post("/fingerprint", cfg.Tracking.Fingerprint)
		})
	}

	if cfg.WhatsApp != nil {
		r.Route("/webhooks/whatsapp", func(wh chi.Router) {
			wh.Get("/", cfg.WhatsApp.Verify)
			wh.Post("/", cfg.WhatsApp.Receive)
		})
	}

	r.Group(func(admin chi.Router) {
		admin.Use(requireAdminToken(cfg.AdminToken))
		if cfg.LeadsHandler != nil {
			admin.Route("/leads", func(lr chi.Router) {
				lr.Get("/", cfg.LeadsHandler.ListLeads)
				lr.Get("/{leadID}", cfg.LeadsHandler.GetLead)
				lr.Get("/{leadID}/messages", cfg.LeadsHandler.ListMessages)
			})
		}
		if cfg.CampaignHandler != nil {
			admin.Mount("/campaigns", cfg.CampaignHandler.Routes())
		}
	})

	if cfg.LiveHub != nil {
		r.With(requireSocketToken(cfg.AdminToken)).Handle("/ws", cfg.LiveHub)
	}

	return r
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
