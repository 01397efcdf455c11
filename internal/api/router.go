/**
 * @description
 * This file sets up the HTTP router for the payout-service. Payout routes are served
 * under /pawaPayBusiness/v1 and at the root for older clients.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/transfa/payout-service/internal/app"
)

const APIPrefix = "/pawaPayBusiness/v1"

// RouterOptions configures the optional middleware.
type RouterOptions struct {
	// JWTSecret enables bearer authentication when non-empty.
	JWTSecret      string
	AllowedOrigins []string
	RateLimiter    app.SubmitRateLimiter
}

// PayoutRoutes creates and returns a new router for the payout service.
func PayoutRoutes(h *PayoutHandlers, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	payoutRoutes := func(r chi.Router) {
		if opts.JWTSecret != "" {
			r.Use(APIAuthMiddleware(opts.JWTSecret))
		}
		r.With(SubmitRateLimitMiddleware(opts.RateLimiter)).Post("/payouts", h.SubmitPayoutHandler)
		r.Get("/payouts/{payoutId}", h.GetPayoutHandler)
		r.Get("/payouts/{payoutId}/history", h.GetPayoutHistoryHandler)
	}

	r.Route(APIPrefix, payoutRoutes)
	r.Group(payoutRoutes)

	return r
}
