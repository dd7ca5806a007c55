package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (h *Handler) Routes(m *Middleware, corsOrigins []string, rateLimitRPM int, metricsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(middleware.Heartbeat("/ping"))

	// CORS and rate limiting - configured from main
	r.Use(m.CORS(corsOrigins))

	// Health endpoints
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		// Live updates stay outside the timeout and compression wrappers,
		// which would hide the flusher and hijacker.
		r.Get("/stream", h.HandleSSE)
		r.Get("/ws", h.HandleWebSocket)
		r.Get("/markets/{id}/stream", h.HandleMarketStream)

		r.Group(func(r chi.Router) {
			r.Use(m.RateLimit(rateLimitRPM))
			r.Use(m.Compress)
			r.Use(m.Timeout(15 * time.Second))

			r.Get("/config", h.GetConfig)
			r.Get("/status", h.GetStatus)

			r.Route("/markets", func(r chi.Router) {
				r.Get("/", h.ListMarkets)
				r.Post("/", h.CreateMarket)
				r.Get("/{id}", h.GetMarket)
				r.Post("/{id}/bets", h.PlaceBet)
				r.Post("/{id}/close", h.CloseMarket)
				r.Post("/{id}/resolve", h.ResolveMarket)
			})

			r.Route("/bets", func(r chi.Router) {
				r.Get("/", h.GetHistory)
				r.Delete("/", h.ClearHistory)
			})

			r.Get("/submission", h.GetSubmission)
			r.Get("/ledger/user-bets", h.GetLedgerUserBets)
		})
	})

	return r
}
