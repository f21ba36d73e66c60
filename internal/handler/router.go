package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	custommiddleware "github.com/neo1415/salvage-management-system-sub002/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware аукционного сервиса.
// Кросс-доменные запросы разрешены только с allowedOrigins; без них CORS не включается.
func (h *Handler) SetupRouter(allowedOrigins ...string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(custommiddleware.Tracing)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(chimiddleware.Recoverer)
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(custommiddleware.GzipMiddleware)

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/auctions/{auctionID}", h.GetAuction)
		r.Post("/webhooks/{provider}", h.Webhook)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Group(func(r chi.Router) {
				r.Use(custommiddleware.RequireRole(custommiddleware.RoleVendor))

				r.Post("/auctions/{auctionID}/bids", h.PlaceBid)
				r.Post("/payments", h.InitiatePayment)
			})

			r.Group(func(r chi.Router) {
				r.Use(custommiddleware.RequireRole(custommiddleware.RoleAdmin))

				r.Post("/auctions/{auctionID}/close", h.CloseAuction)
				r.Post("/payments/{paymentID}/verify", h.VerifyPayment)
				r.Post("/admin/sweeps/{kind}", h.RunSweep)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
