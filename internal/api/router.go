/**
 * @description
 * This file sets up the HTTP router for the crowdfund-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies the
 * authentication middleware.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the settings the campaign routes need.
type RouterConfig struct {
	JWTSecret                string
	AllowedOrigins           []string
	PublicRateLimitPerMinute int
}

// CampaignRoutes creates and returns a new router for the campaign.
func CampaignRoutes(h *CampaignHandlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"https://*", "http://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Anyone may read the campaign or trigger resolution after the deadline.
	r.Get("/", h.GetStatusHandler)
	r.With(RateLimitMiddleware(cfg.PublicRateLimitPerMinute)).Post("/finalize", h.FinalizeHandler)

	r.Group(func(r chi.Router) {
		r.Use(ContributorAuthMiddleware(cfg.JWTSecret))

		r.Post("/contributions", h.ContributeHandler)
		r.Get("/contributions/me", h.GetMyPledgeHandler)
		r.Post("/refunds", h.RefundHandler)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAPIKeyMiddleware(h.internalAPIKey))
		r.Post("/refund-sweep", h.RefundSweepHandler)
		r.Get("/transfers", h.ListPendingTransfersHandler)
		r.Post("/transfers/{reference}/settle", h.SettleTransferHandler)
	})

	return r
}
