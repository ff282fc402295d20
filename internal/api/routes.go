package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ignite/messaging/internal/auth"
	"github.com/ignite/messaging/internal/config"
	"github.com/ignite/messaging/internal/pkg/logger"
)

var log = logger.Named("api")

// SetupRoutes configures all API routes.
func SetupRoutes(cfg config.ServerConfig, h *Handlers, gate auth.Gate, sessions *auth.SessionGate) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	// Credentials are allowed for the session cookie, so origins are explicit.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderIdempotencyKey},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if h.Health != nil {
		r.Get("/health", h.Health.HandleHealth)
		r.Get("/health/live", h.Health.HandleLiveness)
		r.Get("/health/ready", h.Health.HandleReadiness)
	}
	r.Handle("/metrics", promhttp.Handler())

	if sessions != nil {
		r.Get("/auth/login", sessions.HandleLogin)
		r.Get("/auth/callback", sessions.HandleCallback)
		r.Post("/auth/logout", sessions.HandleLogout)
	}

	throttle := NewThrottle(cfg.RequestsPerSecond, cfg.RequestBurst)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(gate))
		r.Use(throttle.Middleware)

		r.Post("/messages", h.SendMessage)
		r.Get("/messages/inbox", h.Inbox)
		r.Get("/messages/sent", h.Sent)
		r.Post("/messages/bulk-delete", h.BulkDelete)
		r.Route("/messages/{id}", func(r chi.Router) {
			r.Get("/", h.GetMessage)
			r.Delete("/", h.DeleteMessage)
			r.Post("/replies", h.Reply)
			r.Get("/thread", h.Thread)
			r.Post("/read", h.MarkRead)
			r.Patch("/flags", h.SetFlags)
			r.Get("/attachments", h.ListAttachments)
			r.Post("/attachments", h.UploadAttachment)
			r.Get("/links", h.ListLinks)
			r.Post("/links", h.AddLink)
		})

		r.Post("/attachments", h.UploadLibraryFile)
		r.Get("/attachments/library", h.Library)
		r.Get("/attachments/{id}", h.DownloadAttachment)
		r.Delete("/attachments/{id}", h.DetachAttachment)

		r.Delete("/links/{id}", h.RemoveLink)

		r.Get("/blocks/check", h.CheckBlock)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/messages/bulk", h.BulkTransition)
			r.Post("/messages/{id}/recall", h.Recall)
			r.Post("/messages/{id}/read-all", h.MarkReadForAll)
			r.Put("/messaging/enabled", h.SetMessagingEnabled)
			r.Post("/orphans/reconcile", h.ReconcileOrphans)
		})
	})

	return r
}
