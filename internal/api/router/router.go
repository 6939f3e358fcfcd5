package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wattlehealth/platform/internal/booking"
	"github.com/wattlehealth/platform/internal/halaxy"
	httpmiddleware "github.com/wattlehealth/platform/internal/http/middleware"
	"github.com/wattlehealth/platform/internal/sync"
	"github.com/wattlehealth/platform/pkg/logging"
)

// HalaxyStatus reports upstream connectivity for the health endpoint.
type HalaxyStatus interface {
	HasCredentials() bool
	TokenStatus() halaxy.TokenStatus
}

// Config holds router configuration
type Config struct {
	Logger *logging.Logger

	BookingHandler *booking.Handler
	SyncHandler    *sync.Handler
	HalaxyWebhook  *sync.WebhookHandler
	Halaxy         HalaxyStatus

	MetricsHandler http.Handler

	AdminJWTSecret     string
	CORSAllowedOrigins []string

	// Per-IP rate limit for the public booking endpoints. Zero disables it.
	PublicRequestsPerSecond float64
	PublicBurst             int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", healthHandler(cfg.Halaxy))

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.HalaxyWebhook != nil {
		r.Post("/webhooks/halaxy", cfg.HalaxyWebhook.Handle)
	}

	// Public booking endpoints.
	if cfg.BookingHandler != nil {
		r.Group(func(public chi.Router) {
			if cfg.PublicRequestsPerSecond > 0 {
				burst := cfg.PublicBurst
				if burst <= 0 {
					burst = 10
				}
				public.Use(httpmiddleware.RateLimit(cfg.PublicRequestsPerSecond, burst))
			}
			public.Get("/practitioners", cfg.BookingHandler.Practitioners)
			public.Get("/availability", cfg.BookingHandler.Availability)
			public.Post("/bookings", cfg.BookingHandler.Create)
		})
	}

	// Admin routes (protected by HMAC-signed JWT).
	if cfg.AdminJWTSecret != "" && cfg.SyncHandler != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminJWTSecret))
			admin.Post("/sync", cfg.SyncHandler.TriggerSync)
			admin.Get("/sync/status", cfg.SyncHandler.Status)
		})
	}

	return r
}

func healthHandler(upstream HalaxyStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ok"}
		if upstream != nil {
			halaxyInfo := map[string]any{
				"configured": upstream.HasCredentials(),
			}
			token := upstream.TokenStatus()
			halaxyInfo["hasToken"] = token.HasToken
			if token.HasToken {
				halaxyInfo["tokenExpired"] = token.IsExpired
			}
			body["halaxy"] = halaxyInfo
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(body)
	}
}
