package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"invoicing-backend/internal/handlers"
	"invoicing-backend/internal/middleware"
)

type Limits struct {
	Auth     *middleware.RateLimiter
	Tracking *middleware.RateLimiter
}

func New(
	jwtAuth *middleware.JWTAuth,
	authHandler *handlers.AuthHandler,
	invoiceHandler *handlers.InvoiceHandler,
	trackingHandler *handlers.TrackingHandler,
	wsHandler http.HandlerFunc,
	limits Limits,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.PanicHandler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{frontendURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Auth Routes ────
		r.Route("/auth", func(r chi.Router) {
			r.With(limits.Auth.Middleware).Post("/login", authHandler.Login)

			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Post("/logout", authHandler.Logout)
			})
		})

		r.Route("/user", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/me", authHandler.Me)
		})

		// ──── Invoice Routes ────
		r.Route("/invoices", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/", invoiceHandler.List)
			r.Post("/", invoiceHandler.Create)
			r.Get("/{id}", invoiceHandler.Get)
			r.Put("/{id}", invoiceHandler.Update)
			r.Delete("/{id}", invoiceHandler.Delete)
			r.Post("/{id}/toggle-done", invoiceHandler.ToggleDone)
		})

		// ──── Tracking Routes ────
		r.Route("/track", func(r chi.Router) {
			r.Use(limits.Tracking.Middleware)
			r.Use(chimiddleware.Timeout(15 * time.Second))

			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Post("/session/start", trackingHandler.SessionStart)
				r.Post("/ping", trackingHandler.Ping)
				r.Post("/event/start", trackingHandler.EventStart)
				r.Get("/sessions", trackingHandler.ListSessions)
				r.Get("/sessions/{sessionID}/events", trackingHandler.ListPageEvents)
			})

			// Sent from pagehide via sendBeacon, which cannot set headers.
			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.BeaconMiddleware)
				r.Post("/session/end", trackingHandler.SessionEnd)
				r.Post("/event/end", trackingHandler.EventEnd)
			})
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHandler)
	})

	return r
}
