package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/fieldhand/internal/channels/webchat"
	"github.com/wolfman30/fieldhand/internal/channels/whatsapp"
	"github.com/wolfman30/fieldhand/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/fieldhand/internal/http/middleware"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

// Config holds router configuration. Nil handlers leave their routes out.
type Config struct {
	Logger         *logging.Logger
	Health         http.Handler
	MetricsHandler http.Handler
	WhatsApp       *whatsapp.WebhookHandler

	Webchat            *webchat.Handler
	ConsoleToken       string
	ConsoleRateLimiter *httpmiddleware.RateLimiter
	CORSAllowedOrigins []string

	AdminAuthSecret string
	AdminSessions   *handlers.AdminSessionsHandler
	AdminFailures   *handlers.AdminFailuresHandler
	AdminStats      *handlers.AdminStatsHandler
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}

	health := cfg.Health
	if health == nil {
		health = handlers.NewHealthHandler(nil)
	}
	r.Method(http.MethodGet, "/health", health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.WhatsApp != nil {
		r.Get("/webhooks/whatsapp", cfg.WhatsApp.HandleVerification)
		r.Post("/webhooks/whatsapp", cfg.WhatsApp.HandleInbound)
	}

	if cfg.Webchat != nil {
		r.Route("/webchat", func(console chi.Router) {
			console.Use(requireConsoleToken(cfg.ConsoleToken))
			if cfg.ConsoleRateLimiter != nil {
				console.Use(httpmiddleware.RateLimit(cfg.ConsoleRateLimiter, httpmiddleware.ClientIP))
			}
			console.Get("/ws", cfg.Webchat.HandleWebSocket)
			console.With(middleware.AllowContentType("application/json")).Post("/message", cfg.Webchat.HandleMessage)
		})
	}

	if cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			if cfg.AdminStats != nil {
				admin.Get("/stats", cfg.AdminStats.GetStats)
			}
			if cfg.AdminFailures != nil {
				admin.Get("/failures", cfg.AdminFailures.ListFailures)
			}
			if cfg.AdminSessions != nil {
				admin.Get("/sessions/{phone}", cfg.AdminSessions.GetSession)
				admin.With(httpmiddleware.RequireWrite).Delete("/sessions/{phone}", cfg.AdminSessions.ResetSession)
			}
		})
	}

	return r
}
